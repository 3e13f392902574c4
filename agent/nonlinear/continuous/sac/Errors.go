package sac

import (
	"errors"
	"fmt"
)

// ErrInsufficientData is returned when training is requested while the
// experience replay buffer holds fewer transitions than required
var ErrInsufficientData = errors.New("insufficient data")

// ConfigurationError describes an invalid configuration detected while
// constructing a SAC agent
type ConfigurationError struct {
	Field  string
	Reason string
}

func (c *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %v: %v", c.Field, c.Reason)
}

// configErr returns a new ConfigurationError
func configErr(field, format string, args ...interface{}) error {
	return &ConfigurationError{
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
	}
}
