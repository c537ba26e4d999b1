package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ValidationError lists every configuration problem found. It unwraps to
// the individual errors, so errors.As still finds a *benchmark.ConfigError.
type ValidationError struct {
	Problems []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	return "configuration validation failed:\n  - " + strings.Join(msgs, "\n  - ")
}

func (e *ValidationError) Unwrap() []error {
	return e.Problems
}

// Validate checks every field and reports all problems at once.
func (c *RunConfig) Validate() error {
	var errs []error

	if c.Exe == "" {
		errs = append(errs, errors.New("exe is required"))
	}

	if err := c.Params.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.MinTime <= 0 {
		errs = append(errs, fmt.Errorf("min_time must be positive, got: %v", c.MinTime))
	}
	if c.Warmup < 0 {
		errs = append(errs, fmt.Errorf("warmup must not be negative, got: %v", c.Warmup))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got: %v", c.Timeout))
	}

	if c.Output == "" {
		errs = append(errs, errors.New("output must not be empty"))
	}

	if c.PinCore < -1 {
		errs = append(errs, fmt.Errorf("pin_core must be -1 (off) or a core index, got: %d", c.PinCore))
	}

	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			errs = append(errs, fmt.Errorf("metrics_addr must be host:port, got: %q", c.MetricsAddr))
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Problems: errs}
	}
	return nil
}
