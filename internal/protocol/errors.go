package protocol

import "errors"

// Errors shared between the client and the network surface. The first
// five travel on the wire as error codes, the rest are client-side only.
var (
	ErrPermissionDenied    = errors.New("permission denied")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNoSuchData          = errors.New("no such data")
	ErrInvalidOperation    = errors.New("invalid operation")
	ErrNoSuchEntry         = errors.New("no such entry")

	ErrNetwork            = errors.New("network error")
	ErrUnexpectedResponse = errors.New("unexpected response")
	ErrValidationTimeout  = errors.New("validation timed out")
)

// Wire error codes.
const (
	codePermissionDenied    = 0x01
	codeInsufficientBalance = 0x02
	codeNoSuchData          = 0x03
	codeInvalidOperation    = 0x04
	codeNoSuchEntry         = 0x05
)

// ErrorCode maps an error to its wire code, or 0 if it has none.
func ErrorCode(err error) byte {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return codePermissionDenied
	case errors.Is(err, ErrInsufficientBalance):
		return codeInsufficientBalance
	case errors.Is(err, ErrNoSuchData):
		return codeNoSuchData
	case errors.Is(err, ErrInvalidOperation):
		return codeInvalidOperation
	case errors.Is(err, ErrNoSuchEntry):
		return codeNoSuchEntry
	default:
		return 0
	}
}

// ErrorFromCode maps a wire code back to its sentinel error.
func ErrorFromCode(code byte) error {
	switch code {
	case codePermissionDenied:
		return ErrPermissionDenied
	case codeInsufficientBalance:
		return ErrInsufficientBalance
	case codeNoSuchData:
		return ErrNoSuchData
	case codeInvalidOperation:
		return ErrInvalidOperation
	case codeNoSuchEntry:
		return ErrNoSuchEntry
	default:
		return ErrNetwork
	}
}
