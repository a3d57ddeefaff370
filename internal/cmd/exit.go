package cmd

import (
	"errors"

	"github.com/3leaps/verscan/internal/config"
	"github.com/3leaps/verscan/pkg/provider/s3"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitConfig  = 2
)

// ExitError carries a process exit code to main.
type ExitError struct {
	Code    int
	Message string
	Err     error

	// Reported is set when the failure was already written to the output
	// stream and should not be printed again.
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// reportedError is exitError for failures already rendered by an output writer.
func reportedError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err, Reported: true}
}

// ExitCode maps an Execute error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var cfgErr *config.ConfigError
	var s3CfgErr *s3.ConfigError
	if errors.As(err, &cfgErr) || errors.As(err, &s3CfgErr) {
		return ExitConfig
	}
	return ExitFailure
}
