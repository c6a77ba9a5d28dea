package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Device/media errors
	ErrCodePermissionDenied  ErrorCode = "PERMISSION_DENIED"
	ErrCodeDeviceUnavailable ErrorCode = "DEVICE_UNAVAILABLE"

	// Call lifecycle errors
	ErrCodeBusy           ErrorCode = "BUSY"
	ErrCodeInvalidState   ErrorCode = "INVALID_STATE"
	ErrCodeCallNotFound   ErrorCode = "CALL_NOT_FOUND"
	ErrCodeConnectionLost ErrorCode = "CONNECTION_LOST"

	// Signaling errors
	ErrCodeSignalingUnreachable ErrorCode = "SIGNALING_UNREACHABLE"

	// Attachment errors
	ErrCodeUploadFailed          ErrorCode = "UPLOAD_FAILED"
	ErrCodeUnsupportedAttachment ErrorCode = "UNSUPPORTED_ATTACHMENT"
	ErrCodeTooLarge              ErrorCode = "TOO_LARGE"
	ErrCodeTooManyFiles          ErrorCode = "TOO_MANY_FILES"

	// Validation errors
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// Authentication errors
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"

	// Not found errors
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// Internal errors
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase       ErrorCode = "DATABASE_ERROR"
	ErrCodeStorage        ErrorCode = "STORAGE_ERROR"
	ErrCodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError represents a structured application error with code, message, and HTTP status
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Details    any       `json:"details,omitempty"`
	Err        error     `json:"-"`
}

// Error implements the error interface, returning a formatted error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given code and message
// The status code defaults to 500 Internal Server Error
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// NewWithStatus creates a new AppError with a specific HTTP status code
func NewWithStatus(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an existing error with an AppError, preserving the original error
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// WrapWithStatus wraps an existing error with an AppError and specific status code
func WrapWithStatus(code ErrorCode, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// WithDetails adds additional details to an AppError for debugging
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// Device/media errors
func PermissionDeniedError(device string) *AppError {
	return NewWithStatus(ErrCodePermissionDenied, fmt.Sprintf("Access to %s was refused", device), http.StatusForbidden)
}

func DeviceUnavailableError(device string) *AppError {
	return NewWithStatus(ErrCodeDeviceUnavailable, fmt.Sprintf("No usable %s device found", device), http.StatusConflict)
}

// Call lifecycle errors
func BusyError() *AppError {
	return NewWithStatus(ErrCodeBusy, "Another call is already active", http.StatusConflict)
}

func InvalidStateError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidState, message, http.StatusConflict)
}

func CallNotFoundError() *AppError {
	return NewWithStatus(ErrCodeCallNotFound, "Call not found", http.StatusNotFound)
}

func ConnectionLostError() *AppError {
	return NewWithStatus(ErrCodeConnectionLost, "Call transport lost connection", http.StatusBadGateway)
}

// Signaling errors
func SignalingUnreachableError(err error) *AppError {
	return WrapWithStatus(ErrCodeSignalingUnreachable, "Signaling bus unreachable", http.StatusBadGateway, err)
}

// Attachment errors
func UploadFailedError(err error) *AppError {
	return WrapWithStatus(ErrCodeUploadFailed, "Attachment upload failed", http.StatusBadGateway, err)
}

func UnsupportedAttachmentError(contentType string) *AppError {
	return NewWithStatus(ErrCodeUnsupportedAttachment, fmt.Sprintf("Unsupported attachment type: %s", contentType), http.StatusUnsupportedMediaType)
}

func TooLargeError(size, limit int64) *AppError {
	return NewWithStatus(ErrCodeTooLarge, fmt.Sprintf("File of %d bytes exceeds the %d byte limit", size, limit), http.StatusRequestEntityTooLarge)
}

func TooManyFilesError(limit int) *AppError {
	return NewWithStatus(ErrCodeTooManyFiles, fmt.Sprintf("At most %d attachments per message", limit), http.StatusBadRequest)
}

// Validation errors
func ValidationError(message string) *AppError {
	return NewWithStatus(ErrCodeValidation, message, http.StatusBadRequest)
}

func InvalidInputError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

// Authentication errors
func UnauthorizedError(message string) *AppError {
	return NewWithStatus(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidTokenError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidToken, message, http.StatusUnauthorized)
}

// Not found errors
func NotFoundError(resource string) *AppError {
	return NewWithStatus(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// Internal errors
func InternalError(message string) *AppError {
	return NewWithStatus(ErrCodeInternal, message, http.StatusInternalServerError)
}

func DatabaseError(err error) *AppError {
	return WrapWithStatus(ErrCodeDatabase, "Database error", http.StatusInternalServerError, err)
}

func StorageError(err error) *AppError {
	return WrapWithStatus(ErrCodeStorage, "Storage error", http.StatusInternalServerError, err)
}

func ServiceUnavailableError(message string) *AppError {
	return NewWithStatus(ErrCodeServiceUnavail, message, http.StatusServiceUnavailable)
}

// IsAppError checks if an error is an AppError type
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts AppError from an error, wrapping non-AppErrors as InternalError
func GetAppError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return InternalError(err.Error())
}

// IsCode reports whether err is an AppError carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Code == code
}
