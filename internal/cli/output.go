package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/ledger"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation refused (invalid policy, overpayment, not found, etc.)
	ExitCommandError = 2 // Command error (bad config, database unreachable, etc.)
)

// Error codes reported in CLIError.Code.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeConfig       = "E002" // Config could not be loaded
	ErrCodeUnavailable  = "E003" // Store unreachable
	ErrCodeNotFound     = "E004" // Row missing or not visible
	ErrCodeUnauthorized = "E005" // Credential missing or expired
	ErrCodeInvalid      = "E006" // Input rejected before the store
	ErrCodeWriteFailed  = "E007" // File write error
	ErrCodeConstraint   = "E008" // Store constraint violated
	ErrCodeOverpayment  = "E009" // Payment exceeds the remaining amount
	ErrCodePolicy       = "E010" // Catalog or policy validation failed
	ErrCodeConflict     = "E011" // Row changed under a conditional write
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status  string      `json:"status"`            // "ok" or "error"
	Data    interface{} `json:"data,omitempty"`    // success payload
	Error   *CLIError   `json:"error,omitempty"`   // error details
	TraceID string      `json:"trace_id,omitempty"` // optional trace correlation
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string      `json:"code"`              // "E001", "E002", etc.
	Message string      `json:"message"`           // human-readable message
	Details interface{} `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// codeFor maps an adapter error to its CLI error code and exit code.
func codeFor(err error) (string, int) {
	if errors.Is(err, ledger.ErrWrongPIN) {
		return ErrCodeUnauthorized, ExitFailure
	}
	switch backend.KindOf(err) {
	case backend.KindNotFound, backend.KindForbidden:
		return ErrCodeNotFound, ExitFailure
	case backend.KindUnauthorized:
		return ErrCodeUnauthorized, ExitCommandError
	case backend.KindUnavailable:
		return ErrCodeUnavailable, ExitCommandError
	case backend.KindConstraint:
		return ErrCodeConstraint, ExitFailure
	case backend.KindOverpayment:
		return ErrCodeOverpayment, ExitFailure
	case backend.KindInvalidInput:
		return ErrCodeInvalid, ExitFailure
	case backend.KindConflict:
		return ErrCodeConflict, ExitFailure
	}
	return ErrCodeGeneric, ExitFailure
}

// fail reports err through f and returns the matching ExitError.
func fail(f *OutputFormatter, message string, err error) error {
	code, exit := codeFor(err)
	var ee *ExitError
	if errors.As(err, &ee) {
		exit = ee.Code
		if code == ErrCodeGeneric && exit == ExitCommandError {
			code = ErrCodeConfig
		}
	}
	_ = f.Error(code, fmt.Sprintf("%s: %v", message, err), nil)
	return WrapExitError(exit, message, err)
}
