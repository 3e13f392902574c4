// Package expreplay implements a bounded experience replay buffer
package expreplay

import (
	"fmt"

	"github.com/samuelfneumann/gosac/timestep"
)

// orderedSampler implements an experience replay buffer that can return
// its underlying indices to sample from and insertion order of these
// indices
type orderedSampler interface {
	ExperienceReplayer
	sampleFrom() []int

	// insertOrder returns the first n indices that were added to the
	// buffer, oldest first
	insertOrder(n int) []int
}

// Config implements a specific configuration of an ExperienceReplayer
type Config struct {
	// MaxReplayCapacity is the number of transitions stored before the
	// oldest is evicted
	MaxReplayCapacity int `json:"max_replay_capacity" yaml:"max_replay_capacity"`

	// MinReplayCapacity is the number of transitions needed before the
	// buffer can be sampled
	MinReplayCapacity int `json:"min_replay_capacity" yaml:"min_replay_capacity"`

	BatchSize int `json:"batch_size" yaml:"batch_size"`
}

// Validate returns an error if the Config is invalid
func (c Config) Validate() error {
	if c.MinReplayCapacity <= 0 {
		return fmt.Errorf("validate: min capacity must be > 0")
	}
	if c.MaxReplayCapacity < c.MinReplayCapacity {
		return fmt.Errorf("validate: max capacity (%v) < min capacity (%v)",
			c.MaxReplayCapacity, c.MinReplayCapacity)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("validate: batch size must be > 0")
	}
	return nil
}

// Create creates and returns the ExperienceReplayer with the specified
// Config.
func (c Config) Create(featureSize, actionSize int,
	seed uint64) (ExperienceReplayer, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}
	sampler := NewUniformSelector(c.BatchSize, seed)

	return New(sampler, c.MinReplayCapacity, c.MaxReplayCapacity,
		featureSize, actionSize)
}

// Batch is a batch of transitions sampled from an ExperienceReplayer.
// States, actions, and next states are stored row-major so that row
// i holds the data of the ith transition sampled.
type Batch struct {
	State     []float64
	Action    []float64
	Reward    []float64
	NextState []float64
	Done      []float64
}

// Size returns the number of transitions in the Batch
func (b Batch) Size() int {
	return len(b.Reward)
}

// ExperienceReplayer implements an experience replay buffer
type ExperienceReplayer interface {
	// Add adds a transition to the buffer
	Add(t timestep.Transition) error

	// Sample samples a batch of experience from the buffer
	Sample() (Batch, error)

	// Capacity returns the current number of samples in the buffer
	Capacity() int

	// MaxCapacity returns the maximum allowable samples in the buffer
	MaxCapacity() int

	// MinCapacity returns the number of samples required to be in
	// the buffer before the buffer can be sampled
	MinCapacity() int

	// BatchSize returns the number of samples returned by Sample()
	BatchSize() int

	FeatureSize() int
	ActionSize() int
}

// New creates and returns a new ExperienceReplayer. The sampler
// parameter is a Selector which determines how data is sampled from the
// replay buffer. The featureSize and actionSize parameters define the
// size of the state and action vectors. When full, the buffer evicts
// its oldest transition on each insertion.
func New(sampler Selector, minCapacity, maxCapacity, featureSize,
	actionSize int) (ExperienceReplayer, error) {
	if minCapacity <= 0 {
		return nil, fmt.Errorf("new: minCapacity must be > 0")
	}
	if maxCapacity < minCapacity {
		return nil, fmt.Errorf("new: maxCapacity (%v) must be >= "+
			"minCapacity (%v)", maxCapacity, minCapacity)
	}
	if featureSize <= 0 || actionSize <= 0 {
		return nil, fmt.Errorf("new: feature size (%v) and action size "+
			"(%v) must be positive", featureSize, actionSize)
	}

	return newDefaultCache(sampler, minCapacity, maxCapacity, featureSize,
		actionSize), nil
}
