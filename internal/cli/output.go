package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/kvq/internal/kverr"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The store answered with an error or an unreadable body
	ExitCommandError = 2 // Bad arguments, configuration or local files
	ExitConflict     = 3 // Causality token rejected or index type mismatch
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code
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

// exitCodeFor maps a client error to an exit code.
func exitCodeFor(err error) int {
	switch kverr.CodeOf(err) {
	case kverr.CodeConflict:
		return ExitConflict
	case kverr.CodeValidation:
		return ExitCommandError
	default:
		return ExitFailure
	}
}

// operationError wraps a failed client operation for the command's RunE.
func operationError(message string, err error) *ExitError {
	return WrapExitError(exitCodeFor(err), message, err)
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // kvq error code, or "USAGE"
	Message string `json:"message"`           // human-readable message
	Status  int    `json:"status,omitempty"`  // HTTP status, when the store answered
	Details any    `json:"details,omitempty"` // additional context
}

// textWriter is implemented by results with their own text rendering.
type textWriter interface {
	WriteText(w io.Writer, verbose bool) error
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(CLIResponse{Status: "ok", Data: data})
	}

	if tw, ok := data.(textWriter); ok {
		return tw.WriteText(f.Writer, f.Verbose)
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Failure outputs err, classified by its kvq error code. Store response
// bodies are shown as details.
func (f *OutputFormatter) Failure(err error) error {
	code := string(kverr.CodeOf(err))
	if code == "" {
		code = "USAGE"
	}

	var kerr *kverr.Error
	if f.Format == "json" {
		cliErr := &CLIError{Code: code, Message: err.Error()}
		if errors.As(err, &kerr) {
			cliErr.Status = kerr.Status
			if len(kerr.Body) > 0 {
				cliErr.Details = string(kerr.Body)
			}
		}
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "error", Error: cliErr})
	}

	var details any
	if errors.As(err, &kerr) && len(kerr.Body) > 0 {
		details = string(kerr.Body)
	}
	return f.Error(code, err.Error(), details)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// In JSON mode it goes to ErrWriter so stdout stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
