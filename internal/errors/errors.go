// Package errors wraps pkg/errors and adds error codes, the display marker
// used for operator-facing failures, and the remote protocol error carrying
// the HTTP status returned by a shard daemon, shard agent or shard proxy.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is an error code which can be used to check against a given error. See
// Is.
type Code string

const (
	ErrUncoded Code = "Uncoded"

	// Internal marks transport level failures and anything else unexpected.
	ErrInternal Code = "Internal"
	ErrNotFound Code = "NotFound"

	ErrAlreadyLocked     Code = "AlreadyLocked"
	ErrHostDown          Code = "HostDown"
	ErrNotOffline        Code = "NotOffline"
	ErrNoProxyConfigured Code = "NoProxyConfigured"
	ErrProxyDown         Code = "ProxyDown"
	ErrNoAllocation      Code = "NoAllocation"
	ErrInstalling        Code = "Installing"
	ErrNoShardAvailable  Code = "NoShardAvailable"

	ErrNetworkSetupFailed Code = "NetworkSetupFailed"
	ErrMountFailed        Code = "MountFailed"
)

// displayCodes are recoverable, expected conditions whose message is shown
// to the operator verbatim.
var displayCodes = map[Code]bool{
	ErrAlreadyLocked:     true,
	ErrHostDown:          true,
	ErrNotOffline:        true,
	ErrNoProxyConfigured: true,
	ErrProxyDown:         true,
	ErrNoAllocation:      true,
	ErrInstalling:        true,
	ErrNoShardAvailable:  true,
}

func New(code Code, message string) error {
	return errors.WithStack(&codedError{
		Code:    code,
		Message: message,
	})
}

func Newf(code Code, format string, args ...interface{}) error {
	return New(code, fmt.Sprintf(format, args...))
}

// WrapCode returns a coded error whose cause is err. The cause stays
// reachable through As, so a RemoteError below a coded failure keeps its
// status code.
func WrapCode(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&codedError{
		Code:    code,
		Message: message,
		cause:   err,
	})
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func Cause(err error) error {
	return errors.Cause(err)
}

func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Is reports whether any error in err's chain carries the target code.
func Is(err error, target Code) bool {
	return errors.Is(err, &codedError{Code: target})
}

// CodeOf returns the outermost code found in err's chain, or "" if err is
// not coded.
func CodeOf(err error) Code {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsDisplay reports whether err should be surfaced to the operator as is.
func IsDisplay(err error) bool {
	return displayCodes[CodeOf(err)]
}

// Message returns the operator-facing message of a coded error, falling back
// to err.Error().
func Message(err error) string {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.Message
	}
	return err.Error()
}

func Unwrap(err error) error {
	return errors.Unwrap(err)
}

func WithMessage(err error, message string) error {
	return errors.WithMessage(err, message)
}

func WithMessagef(err error, format string, args ...interface{}) error {
	return errors.WithMessagef(err, format, args...)
}

func WithStack(err error) error {
	return errors.WithStack(err)
}

func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// codedError is the fundamental type used by this package to provide coded
// errors.
type codedError struct {
	Code    Code
	Message string
	cause   error
}

func (ce *codedError) Error() string {
	if ce.cause != nil {
		return ce.Message + ": " + ce.cause.Error()
	}
	return ce.Message
}

func (ce *codedError) Unwrap() error {
	return ce.cause
}

func (ce *codedError) Is(err error) bool {
	if e, ok := err.(*codedError); ok && ce.Code == e.Code {
		return true
	}
	return false
}
