// ABOUTME: Sentinel errors for dispatch preconditions and remote status codes.
// ABOUTME: StatusError carries a failed response and unwraps to its code's sentinel.

package rpc

import (
	"errors"
	"fmt"

	"github.com/2389/coven-rpc/internal/transport"
)

var (
	ErrDirectAddressingRequired     = errors.New("batched requests require direct addressing")
	ErrResultProcessingRequired     = errors.New("cannot bypass result processing for batched requests")
	ErrFilterlessBroadcastForbidden = errors.New("attempted a filterless custom request without direct addressing enabled")
	ErrInvalidCallerID              = errors.New("caller ID from the security provider is not valid")
	ErrInvalidBatchSize             = errors.New("batch size must not be negative")
)

// Errors reported by agents through status codes 2 to 5.
var (
	ErrUnknownAction = errors.New("unknown action")
	ErrMissingData   = errors.New("missing request data")
	ErrInvalidData   = errors.New("invalid request data")
	ErrUnknownError  = errors.New("unknown error")
)

// StatusError is a response whose status code means the action did not run.
type StatusError struct {
	Sender  string
	Code    transport.StatusCode
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Sender, e.Code, e.Message)
}

// Unwrap returns the sentinel for the status code.
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case transport.UnknownAction:
		return ErrUnknownAction
	case transport.MissingData:
		return ErrMissingData
	case transport.InvalidData:
		return ErrInvalidData
	default:
		return ErrUnknownError
	}
}
