package utils

import (
	"errors"
	"fmt"

	"github.com/dl-alexandre/gsyncfs/internal/types"
)

// Exit codes
const (
	ExitSuccess = 0
	// Auth errors (10-19)
	ExitAuthFailed = 10
	// Remote object errors (20-29)
	ExitNotFound         = 20
	ExitPermissionDenied = 21
	ExitQuotaExceeded    = 22
	ExitAmbiguousResult  = 23
	// Transport errors (30-39)
	ExitTransportFailed = 30
	ExitRateLimited     = 32
	// Validation errors (40-49)
	ExitInvalidArgument = 40
	ExitOutOfScope      = 41
	// Unknown
	ExitUnknown = 99
)

// Error codes (tool-owned, stable)
const (
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAmbiguousResult  = "AMBIGUOUS_RESULT"
	ErrCodeAuthFailed       = "AUTH_FAILED"
	ErrCodeTransportFailed  = "TRANSPORT_FAILED"
	ErrCodeOutOfScope       = "OUT_OF_SCOPE"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeQuotaExceeded    = "QUOTA_EXCEEDED"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInvalidArgument  = "INVALID_ARGUMENT"
	ErrCodeCancelled        = "CANCELLED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeUnknown          = "UNKNOWN"
)

// ContextKeyOffline marks a transport failure that never reached the server
const ContextKeyOffline = "offline"

// CLIErrorBuilder helps construct CLIError instances
type CLIErrorBuilder struct {
	err types.CLIError
}

// NewCLIError creates a new error builder
func NewCLIError(code, message string) *CLIErrorBuilder {
	return &CLIErrorBuilder{
		err: types.CLIError{
			Code:    code,
			Message: message,
		},
	}
}

func (b *CLIErrorBuilder) WithHTTPStatus(status int) *CLIErrorBuilder {
	b.err.HTTPStatus = status
	return b
}

func (b *CLIErrorBuilder) WithDriveReason(reason string) *CLIErrorBuilder {
	b.err.DriveReason = reason
	return b
}

func (b *CLIErrorBuilder) WithRetryable(retryable bool) *CLIErrorBuilder {
	b.err.Retryable = retryable
	return b
}

func (b *CLIErrorBuilder) WithContext(key string, value interface{}) *CLIErrorBuilder {
	if b.err.Context == nil {
		b.err.Context = make(map[string]interface{})
	}
	b.err.Context[key] = value
	return b
}

func (b *CLIErrorBuilder) Build() types.CLIError {
	return b.err
}

// Err builds the error and wraps it as an AppError
func (b *CLIErrorBuilder) Err() *AppError {
	return NewAppError(b.err)
}

// GetExitCode returns the exit code for an error code
func GetExitCode(errorCode string) int {
	mapping := map[string]int{
		ErrCodeAuthFailed:       ExitAuthFailed,
		ErrCodeNotFound:         ExitNotFound,
		ErrCodePermissionDenied: ExitPermissionDenied,
		ErrCodeQuotaExceeded:    ExitQuotaExceeded,
		ErrCodeAmbiguousResult:  ExitAmbiguousResult,
		ErrCodeTransportFailed:  ExitTransportFailed,
		ErrCodeRateLimited:      ExitRateLimited,
		ErrCodeInvalidArgument:  ExitInvalidArgument,
		ErrCodeOutOfScope:       ExitOutOfScope,
	}
	if code, ok := mapping[errorCode]; ok {
		return code
	}
	return ExitUnknown
}

// AppError is a custom error type that carries CLI error info
type AppError struct {
	CLIError types.CLIError
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.CLIError.Code, e.CLIError.Message)
}

// NewAppError creates an AppError from a CLIError
func NewAppError(cliErr types.CLIError) *AppError {
	return &AppError{CLIError: cliErr}
}

// ErrorCode returns the code of the first AppError in err's chain, or ""
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.CLIError.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code
func IsCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// IsNotFound reports whether err is a NOT_FOUND error
func IsNotFound(err error) bool {
	return IsCode(err, ErrCodeNotFound)
}

// IsOffline reports whether err is a transport failure that never got a
// response from the server.
func IsOffline(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	if appErr.CLIError.Code != ErrCodeTransportFailed || appErr.CLIError.HTTPStatus != 0 {
		return false
	}
	offline, _ := appErr.CLIError.Context[ContextKeyOffline].(bool)
	return offline
}

// IsRetryable reports whether the error was classified as retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.CLIError.Retryable
	}
	return false
}
