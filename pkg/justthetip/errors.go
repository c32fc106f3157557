package justthetip

// Kind classifies program errors.
type Kind uint8

const (
	KindDecode Kind = iota + 1
	KindAuthorization
	KindAccountMismatch
	KindInsufficientFunds
	KindArithmeticOverflow
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "DecodeError"
	case KindAuthorization:
		return "AuthorizationError"
	case KindAccountMismatch:
		return "AccountMismatch"
	case KindInsufficientFunds:
		return "InsufficientFunds"
	case KindArithmeticOverflow:
		return "ArithmeticOverflow"
	case KindInvalidArgument:
		return "InvalidArgument"
	default:
		return "Unknown"
	}
}

// Error is a program error with a stable numeric code. The runtime reports
// the code on failed transactions.
type Error struct {
	Code uint32
	Kind Kind
	msg  string
}

func (e *Error) Error() string {
	return e.msg
}

// ErrorCode implements svm.Coder.
func (e *Error) ErrorCode() uint32 {
	return e.Code
}

func newError(code uint32, kind Kind, msg string) *Error {
	return &Error{Code: code, Kind: kind, msg: msg}
}

// Program errors.
var (
	ErrInvalidInstruction = newError(0x1, KindDecode, "invalid instruction data")
	ErrTooManyRecipients  = newError(0x2, KindDecode, "too many airdrop recipients")

	ErrMissingRequiredSignature = newError(0x10, KindAuthorization, "missing required signature")

	ErrAccountMismatch      = newError(0x20, KindAccountMismatch, "account mismatch")
	ErrUninitializedAccount = newError(0x21, KindAccountMismatch, "account not initialized by program")
	ErrNotEnoughAccountKeys = newError(0x22, KindAccountMismatch, "not enough account keys")
	ErrInvalidAccountData   = newError(0x23, KindAccountMismatch, "invalid account data")

	ErrInsufficientFunds = newError(0x30, KindInsufficientFunds, "insufficient funds")

	ErrArithmeticOverflow = newError(0x40, KindArithmeticOverflow, "arithmetic overflow")

	ErrInvalidAmount = newError(0x50, KindInvalidArgument, "amount must be greater than zero")
)
