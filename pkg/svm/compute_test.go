package svm

import (
	"errors"
	"fmt"
	"testing"
)

func TestComputeMeter(t *testing.T) {
	cm := NewComputeMeter(1000)

	if err := cm.Consume(400); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if cm.Remaining() != 600 || cm.Consumed() != 400 {
		t.Errorf("after 400: remaining %d consumed %d", cm.Remaining(), cm.Consumed())
	}

	if err := cm.Consume(700); !errors.Is(err, ErrComputeExceeded) {
		t.Fatalf("Consume over limit: got %v, want ErrComputeExceeded", err)
	}
	if !cm.IsExhausted() {
		t.Error("meter should be exhausted")
	}
	if cm.Consumed() != 1000 {
		t.Errorf("consumed after exhaustion: got %d, want 1000", cm.Consumed())
	}

	if err := cm.Consume(0); err != nil {
		t.Errorf("zero cost on an exhausted meter: %v", err)
	}
}

func TestComputeMeterClampsLimit(t *testing.T) {
	cm := NewComputeMeter(CUMax * 2)
	if cm.Limit() != CUMax {
		t.Errorf("limit: got %d, want %d", cm.Limit(), CUMax)
	}
}

func TestComputeMeterExactLimit(t *testing.T) {
	cm := NewComputeMeter(CULogBase * 3)
	for i := 0; i < 3; i++ {
		if err := cm.Consume(CULogBase); err != nil {
			t.Fatalf("log %d: %v", i, err)
		}
	}
	if !cm.IsExhausted() || cm.Remaining() != 0 {
		t.Errorf("meter should be exactly drained, %d remaining", cm.Remaining())
	}
	if err := cm.Consume(1); !errors.Is(err, ErrComputeExceeded) {
		t.Errorf("one more unit: got %v", err)
	}
}

type codedError struct{ code uint32 }

func (e *codedError) Error() string     { return "coded" }
func (e *codedError) ErrorCode() uint32 { return e.code }

func TestErrorCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &codedError{code: 0x30})
	if got := ErrorCode(err); got != 0x30 {
		t.Errorf("ErrorCode: got %#x, want 0x30", got)
	}
	if got := ErrorCode(errors.New("plain")); got != 0 {
		t.Errorf("ErrorCode of plain error: got %d, want 0", got)
	}
}
