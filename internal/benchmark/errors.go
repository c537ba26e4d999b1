package benchmark

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyFilter means the filter builder was called with no cases.
	// The controller never does this; seeing it indicates a bug.
	ErrEmptyFilter = errors.New("filter requested for an empty case set")

	// ErrNoBenchmarks is returned when the first batch reports no cases.
	ErrNoBenchmarks = errors.New("no benchmarks matched")

	// ErrInvalidSample rejects negative or non-finite timings.
	ErrInvalidSample = errors.New("invalid sample value")
)

// ConfigError reports invalid run parameters.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UnitError reports a time unit that cannot be normalized to nanoseconds.
type UnitError struct {
	Case string
	Unit string
}

func (e *UnitError) Error() string {
	if e.Case == "" {
		return fmt.Sprintf("unknown time unit %q", e.Unit)
	}
	return fmt.Sprintf("unknown time unit %q for case %q", e.Unit, e.Case)
}

// FailureKind classifies a measurement failure.
type FailureKind int

const (
	KindLaunch FailureKind = iota
	KindExitStatus
	KindTimeout
	KindMalformedOutput
)

func (k FailureKind) String() string {
	switch k {
	case KindLaunch:
		return "launch"
	case KindExitStatus:
		return "exit_status"
	case KindTimeout:
		return "timeout"
	case KindMalformedOutput:
		return "malformed_output"
	default:
		return "unknown"
	}
}

// MeasurementError is returned when an invocation of the measurement
// program cannot produce trusted samples.
type MeasurementError struct {
	Kind     FailureKind
	Command  []string
	ExitCode int
	Stderr   string
	Stdout   string
	Err      error
}

func (e *MeasurementError) Error() string {
	var msg string
	switch e.Kind {
	case KindExitStatus:
		msg = fmt.Sprintf("benchmark failed (code %d)", e.ExitCode)
	case KindTimeout:
		msg = "benchmark timed out"
	case KindMalformedOutput:
		msg = "invalid JSON output from benchmark"
	default:
		msg = "failed to execute benchmark"
	}

	parts := []string{msg}
	if len(e.Command) > 0 {
		parts = append(parts, "command: "+strings.Join(e.Command, " "))
	}
	if e.Err != nil {
		parts = append(parts, "error: "+e.Err.Error())
	}
	if e.Stderr != "" {
		parts = append(parts, "stderr: "+e.Stderr)
	}
	if e.Stdout != "" {
		parts = append(parts, "stdout: "+e.Stdout)
	}
	return strings.Join(parts, "\n")
}

func (e *MeasurementError) Unwrap() error {
	return e.Err
}

// NewMeasurementError creates a MeasurementError of the given kind.
func NewMeasurementError(kind FailureKind, command []string, err error) *MeasurementError {
	return &MeasurementError{
		Kind:    kind,
		Command: command,
		Err:     err,
	}
}
