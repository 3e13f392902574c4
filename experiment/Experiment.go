// Package experiment implements functionality for running an experiment
package experiment

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/samuelfneumann/gosac/agent"
	"github.com/samuelfneumann/gosac/environment/envconfig"
	"github.com/samuelfneumann/gosac/experiment/checkpointer"
	"github.com/samuelfneumann/gosac/experiment/tracker"
)

// Experiment outlines structs that can run experiments.
// Experiments send each environment TimeStep to their Trackers, which
// cache the data in RAM to be later saved to disk with Save(). The
// Run() method runs episodes until the maximum timestep limit is
// reached or the context is cancelled. The RunEpisode() method runs a
// single episode.
type Experiment interface {
	Run(ctx context.Context) error

	// RunEpisode returns whether or not the step limit was reached
	RunEpisode(ctx context.Context) (bool, error)

	// Save all tracked data to disk
	Save() error

	// Adds a new tracker.Tracker to the (possibly already running)
	// experiment. Useful if you want to track data only after a
	// specified event.
	Register(t tracker.Tracker)
}

// Type is a type of experiment
type Type string

const (
	OnlineExp Type = "OnlineExperiment"
)

// TrainMode determines when an agent is trained during an experiment
type TrainMode string

const (
	// TrainOnline trains the agent after every environment step
	TrainOnline TrainMode = "online"

	// TrainOffline trains the agent once at the end of each episode
	TrainOffline TrainMode = "offline"
)

// Config represents a configuration of an experiment.
type Config struct {
	Type      Type              `json:"type" yaml:"type"`
	Seed      uint64            `json:"seed" yaml:"seed"`
	MaxSteps  uint              `json:"max_steps" yaml:"max_steps"`
	TrainMode TrainMode         `json:"train_mode" yaml:"train_mode"`
	EnvConf   envconfig.Config  `json:"environment" yaml:"environment"`
	AgentConf agent.TypedConfig `json:"agent" yaml:"agent"`

	// DataDir is the directory episodic returns and lengths are saved
	// to. If empty, no data is saved.
	DataDir string `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`

	// CheckpointInterval is the number of environment steps between
	// agent checkpoints, which are saved to CheckpointDir. Zero
	// disables checkpointing.
	CheckpointInterval int    `json:"checkpoint_interval,omitempty" yaml:"checkpoint_interval,omitempty"`
	CheckpointDir      string `json:"checkpoint_dir,omitempty" yaml:"checkpoint_dir,omitempty"`
}

// LoadConfig reads an experiment Config from a .json, .yaml, or .yml
// file
func LoadConfig(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("loadConfig: %w", err)
	}

	var c Config
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".json":
		err = json.Unmarshal(data, &c)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &c)
	default:
		return Config{}, fmt.Errorf("loadConfig: unknown config file "+
			"extension %q", ext)
	}
	if err != nil {
		return Config{}, fmt.Errorf("loadConfig: could not decode %v: %w",
			filename, err)
	}

	return c, c.Validate()
}

// Validate returns an error if the Config is invalid
func (c Config) Validate() error {
	if c.Type != OnlineExp && c.Type != "" {
		return fmt.Errorf("validate: no such experiment type %v", c.Type)
	}
	if c.MaxSteps == 0 {
		return fmt.Errorf("validate: max steps must be positive")
	}
	if c.TrainMode != TrainOnline && c.TrainMode != TrainOffline &&
		c.TrainMode != "" {
		return fmt.Errorf("validate: unknown train mode %q", c.TrainMode)
	}
	if c.AgentConf.Config == nil {
		return fmt.Errorf("validate: missing agent config")
	}
	if err := c.AgentConf.Validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if c.CheckpointInterval < 0 {
		return fmt.Errorf("validate: checkpoint interval must be "+
			"non-negative, got %v", c.CheckpointInterval)
	}
	if c.CheckpointInterval > 0 && c.CheckpointDir == "" {
		return fmt.Errorf("validate: checkpointing needs a checkpoint " +
			"directory")
	}
	return nil
}

// CreateExp creates the experiment described by the Config. The
// environment and agent are seeded with the Config's seed. Trackers
// are created for DataDir and a checkpointer for CheckpointDir if
// they are set. Any extra Options are applied after these.
func (c Config) CreateExp(opts ...Option) (Experiment, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("createExp: %w", err)
	}

	e, _, err := c.EnvConf.Create(c.Seed)
	if err != nil {
		return nil, fmt.Errorf("createExp: could not create "+
			"environment: %w", err)
	}
	a, err := c.AgentConf.CreateAgent(e, c.Seed)
	if err != nil {
		return nil, fmt.Errorf("createExp: could not create agent: %w", err)
	}

	configured := []Option{}
	if c.TrainMode != "" {
		configured = append(configured, WithTrainMode(c.TrainMode))
	}

	if c.DataDir != "" {
		if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("createExp: %w", err)
		}
		configured = append(configured, WithTrackers(
			tracker.NewReturn(filepath.Join(c.DataDir, "returns.bin")),
			tracker.NewEpisodeLength(filepath.Join(c.DataDir,
				"episode_lengths.bin")),
		))
	}

	if c.CheckpointInterval > 0 {
		object, ok := a.(checkpointer.Serializable)
		if !ok {
			return nil, fmt.Errorf("createExp: agent %T cannot be "+
				"checkpointed", a)
		}
		if err := os.MkdirAll(c.CheckpointDir, 0o755); err != nil {
			return nil, fmt.Errorf("createExp: %w", err)
		}
		check, err := checkpointer.NewNStep(c.CheckpointInterval, object,
			checkpointer.FilenameEnumerator(0,
				filepath.Join(c.CheckpointDir, "agent"), "bin"))
		if err != nil {
			return nil, fmt.Errorf("createExp: %w", err)
		}
		configured = append(configured, WithCheckpointers(check))
	}

	return NewOnline(e, a, c.MaxSteps, c.Seed, append(configured, opts...)...)
}
