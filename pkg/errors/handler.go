package errors

import (
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// Exit codes used by command line front ends
const (
	ExitOK             = 0
	ExitInternal       = 1
	ExitValidation     = 2
	ExitNotFound       = 3
	ExitConflict       = 4
	ExitTreeIntegrity  = 5
	ExitClassification = 6
	ExitPersistence    = 7
)

// ErrorReport is the machine-readable rendering of a failure
type ErrorReport struct {
	Error   bool                   `json:"error"`
	Type    string                 `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorHandler logs errors and renders them for an operator
type ErrorHandler struct {
	logger *zap.Logger
	debug  bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *zap.Logger, debug bool) *ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorHandler{
		logger: logger,
		debug:  debug,
	}
}

// Handle logs err, writes a JSON report to w and returns the exit code to use
func (h *ErrorHandler) Handle(w io.Writer, err error) int {
	if err == nil {
		return ExitOK
	}

	report := ErrorReport{
		Error:   true,
		Type:    string(ErrorTypeInternal),
		Message: "an internal error occurred",
	}

	appErr := GetAppError(err)
	if appErr != nil {
		report.Type = string(appErr.Type)
		report.Message = appErr.Message
		report.Code = appErr.Code
		report.Details = appErr.Details
		h.logError(appErr)

		if h.debug && appErr.StackTrace != "" {
			if report.Details == nil {
				report.Details = make(map[string]interface{})
			}
			report.Details["stack_trace"] = appErr.StackTrace
		}
	} else {
		h.logger.Error("Unhandled error", zap.Error(err))
		if h.debug {
			report.Message = err.Error()
		}
	}

	if encErr := json.NewEncoder(w).Encode(report); encErr != nil {
		h.logger.Error("Failed to encode error report", zap.Error(encErr))
	}

	return ExitCode(err)
}

// ExitCode maps an error to a process exit code
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	appErr := GetAppError(err)
	if appErr == nil {
		return ExitInternal
	}
	switch appErr.Type {
	case ErrorTypeValidation:
		return ExitValidation
	case ErrorTypeNotFound:
		return ExitNotFound
	case ErrorTypeConflict:
		return ExitConflict
	case ErrorTypeTreeIntegrity:
		return ExitTreeIntegrity
	case ErrorTypeClassification:
		return ExitClassification
	case ErrorTypePersistence:
		return ExitPersistence
	default:
		return ExitInternal
	}
}

// logError logs an application error with a level matching its type
func (h *ErrorHandler) logError(err *AppError) {
	fields := []zap.Field{
		zap.String("error_type", string(err.Type)),
	}

	if err.Code != "" {
		fields = append(fields, zap.String("error_code", err.Code))
	}

	if err.Cause != nil {
		fields = append(fields, zap.Error(err.Cause))
	}

	if err.Details != nil {
		fields = append(fields, zap.Any("details", err.Details))
	}

	switch err.Type {
	case ErrorTypeValidation, ErrorTypeNotFound, ErrorTypeConflict:
		h.logger.Warn(err.Message, fields...)
	default:
		h.logger.Error(err.Message, fields...)
	}
}

// Recover converts a panic in fn into an internal error
func Recover(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = NewInternalError(fmt.Sprintf("panic: %v", rec))
		}
	}()
	return fn()
}
