package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorType represents different categories of watchdog errors
type ErrorType string

const (
	// Fatal to supervision, never retried
	ErrorTypeConfiguration      ErrorType = "configuration"
	ErrorTypeLaunchVerification ErrorType = "launch_verification"
	ErrorTypeLaunch             ErrorType = "launch"

	// Logged and swallowed by the scheduler
	ErrorTypeTick ErrorType = "tick"

	ErrorTypeKill       ErrorType = "kill"
	ErrorTypeProbe      ErrorType = "probe"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypePermission ErrorType = "permission"
	ErrorTypeCancelled  ErrorType = "cancelled"
	ErrorTypeInternal   ErrorType = "internal"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches any DomainError of the same type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewConfigurationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConfiguration, message, cause)
}

func NewLaunchVerificationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeLaunchVerification, message, cause)
}

func NewLaunchError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeLaunch, message, cause)
}

func NewTickError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTick, message, cause)
}

func NewKillError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeKill, message, cause)
}

func NewProbeError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProbe, message, cause)
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewPermissionError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePermission, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func isType(err error, errorType ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == errorType
}

func IsConfigurationError(err error) bool {
	return isType(err, ErrorTypeConfiguration)
}

func IsLaunchVerificationError(err error) bool {
	return isType(err, ErrorTypeLaunchVerification)
}

func IsLaunchError(err error) bool {
	return isType(err, ErrorTypeLaunch)
}

func IsTickError(err error) bool {
	return isType(err, ErrorTypeTick)
}

func IsKillError(err error) bool {
	return isType(err, ErrorTypeKill)
}

func IsProbeError(err error) bool {
	return isType(err, ErrorTypeProbe)
}

func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

func IsIOError(err error) bool {
	return isType(err, ErrorTypeIO)
}

func IsPermissionError(err error) bool {
	return isType(err, ErrorTypePermission)
}

// IsCancelledError reports both DomainError cancellations and context
// cancellation/deadline errors.
func IsCancelledError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return isType(err, ErrorTypeCancelled)
}

func IsInternalError(err error) bool {
	return isType(err, ErrorTypeInternal)
}

// ErrorCollection aggregates errors from bulk operations such as kill-by-name
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors[0])
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
