package svm

import "errors"

// Compute unit costs and limits.
const (
	CUDefault    = uint64(200_000)   // per-instruction limit when none is configured
	CUMax        = uint64(1_400_000) // upper bound on any configured limit
	CUInvokeBase = uint64(1_000)     // each cross-program invocation
	CULogBase    = uint64(100)       // each program log line
)

// CPIDepthMax bounds cross-program invocation nesting.
const CPIDepthMax = 4

// ErrComputeExceeded is returned when compute units are exhausted.
var ErrComputeExceeded = errors.New("compute budget exceeded")

// ComputeMeter tracks compute units for one instruction, including the
// programs it invokes. It is not safe for concurrent use; the runtime
// executes one instruction at a time.
type ComputeMeter struct {
	limit    uint64
	consumed uint64
}

// NewComputeMeter creates a meter with limit units, clamped to CUMax.
func NewComputeMeter(limit uint64) *ComputeMeter {
	if limit > CUMax {
		limit = CUMax
	}
	return &ComputeMeter{limit: limit}
}

// Consume charges cost units. When fewer remain, the meter is drained and
// ErrComputeExceeded is returned.
func (cm *ComputeMeter) Consume(cost uint64) error {
	if cost > cm.Remaining() {
		cm.consumed = cm.limit
		return ErrComputeExceeded
	}
	cm.consumed += cost
	return nil
}

// Remaining returns the units left.
func (cm *ComputeMeter) Remaining() uint64 {
	return cm.limit - cm.consumed
}

// Consumed returns the units charged so far.
func (cm *ComputeMeter) Consumed() uint64 {
	return cm.consumed
}

// Limit returns the meter's limit.
func (cm *ComputeMeter) Limit() uint64 {
	return cm.limit
}

// IsExhausted reports whether no units remain.
func (cm *ComputeMeter) IsExhausted() bool {
	return cm.consumed == cm.limit
}
