package sel4

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the session lifecycle layer.
var (
	// ErrSessionClosed is returned by any operation on a session that has
	// already transitioned to StateClosed.
	ErrSessionClosed = errors.New("session is closed")

	// ErrQuarantined is returned when a session acquisition is refused
	// because the driver spec has been quarantined for the rest of the run.
	ErrQuarantined = errors.New("driver spec is quarantined")

	// ErrBudgetExhausted is returned when the retry budget for a driver spec
	// has been used up and no further recovery attempts are permitted.
	ErrBudgetExhausted = errors.New("retry budget exhausted")
)

// ConfigError indicates a malformed or unrecognized configuration option.
// It is surfaced before any session is created and is never retried.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config option %q: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config: %s", e.Reason)
}

// LaunchError indicates a process-level failure while starting a driver:
// the binary exited early, the port could not be bound, or the WebDriver
// session handshake was rejected.
type LaunchError struct {
	Browser string
	Cause   error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launching %s driver: %v", e.Browser, e.Cause)
}

func (e *LaunchError) Unwrap() error { return e.Cause }

// LaunchTimeout indicates the driver process started but did not report
// ready within the configured launch timeout.
type LaunchTimeout struct {
	Browser string
	Addr    string
}

func (e *LaunchTimeout) Error() string {
	return fmt.Sprintf("%s driver at %s did not report ready in time", e.Browser, e.Addr)
}

// AlreadyBound indicates a test identity attempted to acquire a second
// concurrent session. This is an internal-consistency fault in the harness
// lifecycle and is always fatal.
type AlreadyBound struct {
	TestID string
}

func (e *AlreadyBound) Error() string {
	return fmt.Sprintf("test %q already holds an active session", e.TestID)
}
