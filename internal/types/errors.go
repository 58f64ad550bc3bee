package types

import (
	"errors"
	"fmt"
)

const (
	CodeConfigValidation   = "CONFIG_VALIDATION"
	CodeCaptureStart       = "CAPTURE_START"
	CodeCaptureStopTimeout = "CAPTURE_STOP_TIMEOUT"
	CodeCaptureWorker      = "CAPTURE_WORKER"
	CodeStimulus           = "STIMULUS"
	CodeCanceled           = "CANCELED"
	CodeNotFound           = "NOT_FOUND"
)

// CodedError is a typed error used for stable outcome mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// NewError builds a *CodedError.
func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// Is matches any CodedError carrying the same code, so errors.Is finds codes anywhere
// in a wrapped or joined error tree.
func (e *CodedError) Is(target error) bool {
	t, ok := target.(*CodedError)
	return ok && t.Code == e.Code
}

// IsCode reports whether any error in err's tree is a CodedError with the given code.
func IsCode(err error, code string) bool {
	return errors.Is(err, &CodedError{Code: code})
}
