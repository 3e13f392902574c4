// Package envconfig provides configuration structs for configuring
// environments. Environment configurations in this package are JSON
// and YAML serializable.
package envconfig

import (
	"fmt"

	env "github.com/samuelfneumann/gosac/environment"
	"github.com/samuelfneumann/gosac/environment/synthetic"
	ts "github.com/samuelfneumann/gosac/timestep"
)

// EnvName stores the name of environments that can be configured with
// this package
type EnvName string

// Environments available for configuration
const (
	Tracking EnvName = "Tracking"
)

// Config implements a specific configuration of a specific environment
type Config struct {
	Environment   EnvName   `json:"environment" yaml:"environment"`
	Weights       []float64 `json:"weights" yaml:"weights"`
	EpisodeCutoff uint      `json:"episode_cutoff" yaml:"episode_cutoff"`
	Discount      float64   `json:"discount" yaml:"discount"`

	// TerminalBound makes episodes end in a terminal state whenever a
	// feature leaves [-TerminalBound, TerminalBound]. Zero disables
	// terminal states.
	TerminalBound float64 `json:"terminal_bound,omitempty" yaml:"terminal_bound,omitempty"`
}

// NewConfig returns a new environment Config
func NewConfig(envName EnvName, weights []float64, episodeCutoff uint,
	discount float64) Config {
	return Config{
		Environment:   envName,
		Weights:       weights,
		EpisodeCutoff: episodeCutoff,
		Discount:      discount,
	}
}

// Create returns the environment described by the Config as well as
// the first timestep of the environment.
func (c Config) Create(seed uint64) (env.Environment, ts.TimeStep, error) {
	switch c.Environment {
	case Tracking, "":
		var opts []synthetic.Option
		if c.TerminalBound != 0 {
			opts = append(opts, synthetic.WithTerminalBound(c.TerminalBound))
		}
		e, step, err := synthetic.New(c.Weights, int(c.EpisodeCutoff),
			c.Discount, seed, opts...)
		if err != nil {
			return nil, ts.TimeStep{}, fmt.Errorf("create: %w", err)
		}
		return e, step, nil
	}

	return nil, ts.TimeStep{}, fmt.Errorf("create: cannot create "+
		"environment %v, no such environment", c.Environment)
}
