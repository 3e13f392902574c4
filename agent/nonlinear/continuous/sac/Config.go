package sac

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/gosac/agent"
	"github.com/samuelfneumann/gosac/agent/nonlinear/continuous/critic"
	"github.com/samuelfneumann/gosac/agent/nonlinear/continuous/policy"
	"github.com/samuelfneumann/gosac/environment"
	"github.com/samuelfneumann/gosac/expreplay"
	"github.com/samuelfneumann/gosac/initwfn"
	"github.com/samuelfneumann/gosac/network"
	"github.com/samuelfneumann/gosac/solver"
)

// Type is the agent.Type of SAC configurations
const Type agent.Type = "SAC"

func init() {
	agent.Register(Type, Config{})
}

// Variant determines how the bootstrap target of the critics is
// computed
type Variant string

const (
	// ValueNetwork bootstraps critics off a separate state value
	// function, which is itself regressed onto the soft value of the
	// current policy:
	//
	//	y = r + ℽ(1 - done) * V_target(s')
	ValueNetwork Variant = "ValueNetwork"

	// TwinTarget bootstraps critics off target copies of both critics,
	// evaluated at a fresh action from the current policy:
	//
	//	y = r + ℽ(1 - done) * [min Q_target(s', ã') - α log π(ã'|s')]
	TwinTarget Variant = "TwinTarget"
)

// PolicyArchitecture describes the tree MLP parameterizing the squashed
// Gaussian policy. There must be exactly two leaf networks, the first
// predicting the mean and the second the log standard deviation. See
// network.TreeMLP for details.
type PolicyArchitecture struct {
	RootLayers      []int                 `json:"root_layers" yaml:"root_layers"`
	RootBiases      []bool                `json:"root_biases" yaml:"root_biases"`
	RootActivations []*network.Activation `json:"root_activations" yaml:"root_activations"`

	LeafLayers      [][]int                 `json:"leaf_layers" yaml:"leaf_layers"`
	LeafBiases      [][]bool                `json:"leaf_biases" yaml:"leaf_biases"`
	LeafActivations [][]*network.Activation `json:"leaf_activations" yaml:"leaf_activations"`
}

// Config implements a configuration of a SAC agent. A Config is
// immutable once an agent has been created from it.
type Config struct {
	Variant Variant `json:"variant" yaml:"variant"`

	Policy PolicyArchitecture `json:"policy" yaml:"policy"`

	// Critic is the architecture of both critics and, for the
	// ValueNetwork variant, of the state value function
	Critic critic.Architecture `json:"critic" yaml:"critic"`

	// Weight init function for all neural nets
	InitWFn *initwfn.InitWFn `json:"init_wfn" yaml:"init_wfn"`

	PolicySolver *solver.Solver `json:"policy_solver" yaml:"policy_solver"`
	CriticSolver *solver.Solver `json:"critic_solver" yaml:"critic_solver"`
	ValueSolver  *solver.Solver `json:"value_solver,omitempty" yaml:"value_solver,omitempty"`
	AlphaSolver  *solver.Solver `json:"alpha_solver,omitempty" yaml:"alpha_solver,omitempty"`

	// Bounds of the policy's log standard deviation
	MinLogStd float64 `json:"min_log_std" yaml:"min_log_std"`
	MaxLogStd float64 `json:"max_log_std" yaml:"max_log_std"`

	Discount float64 `json:"discount" yaml:"discount"`
	Tau      float64 `json:"tau" yaml:"tau"`

	InitialAlpha float64 `json:"initial_alpha" yaml:"initial_alpha"`
	LearnAlpha   bool    `json:"learn_alpha" yaml:"learn_alpha"`

	// TargetEntropy defaults to the negative number of action
	// dimensions when nil
	TargetEntropy *float64 `json:"target_entropy,omitempty" yaml:"target_entropy,omitempty"`

	RewardScale float64 `json:"reward_scale" yaml:"reward_scale"`

	// TrainingSteps is the number of gradient steps taken per call to
	// Step once the replay buffer holds enough transitions
	TrainingSteps int `json:"training_steps" yaml:"training_steps"`

	ExpReplay expreplay.Config `json:"exp_replay" yaml:"exp_replay"`
}

// DefaultConfig returns a Config with the hyperparameters commonly used
// for SAC on continuous control tasks
func DefaultConfig(v Variant) Config {
	initWFn, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		panic(fmt.Sprintf("defaultConfig: %v", err))
	}
	adam := func() *solver.Solver {
		s, err := solver.NewDefaultAdam(3e-4, 1)
		if err != nil {
			panic(fmt.Sprintf("defaultConfig: %v", err))
		}
		return s
	}

	c := Config{
		Variant: v,
		Policy: PolicyArchitecture{
			RootLayers:      []int{256, 256},
			RootBiases:      []bool{true, true},
			RootActivations: []*network.Activation{network.ReLU(), network.ReLU()},
			LeafLayers:      [][]int{{}, {}},
			LeafBiases:      [][]bool{{}, {}},
			LeafActivations: [][]*network.Activation{{}, {}},
		},
		Critic: critic.Architecture{
			Layers:      []int{256, 256},
			Biases:      []bool{true, true},
			Activations: []*network.Activation{network.ReLU(), network.ReLU()},
		},
		InitWFn:       initWFn,
		PolicySolver:  adam(),
		CriticSolver:  adam(),
		MinLogStd:     policy.DefaultMinLogStd,
		MaxLogStd:     policy.DefaultMaxLogStd,
		Discount:      0.99,
		Tau:           0.005,
		InitialAlpha:  1.0,
		RewardScale:   1.0,
		TrainingSteps: 1,
		ExpReplay: expreplay.Config{
			MaxReplayCapacity: 1_000_000,
			MinReplayCapacity: 256,
			BatchSize:         256,
		},
	}

	switch v {
	case ValueNetwork:
		c.ValueSolver = adam()
	case TwinTarget:
		c.LearnAlpha = true
		c.AlphaSolver = adam()
	}
	return c
}

// BatchSize gets the batch size used for gradient updates
func (c Config) BatchSize() int {
	return c.ExpReplay.BatchSize
}

// Validate checks a Config to ensure it is a valid configuration. If
// the Config is invalid, a *ConfigurationError is returned.
func (c Config) Validate() error {
	switch c.Variant {
	case ValueNetwork:
		if c.ValueSolver == nil {
			return configErr("ValueSolver", "value network variant requires "+
				"a value function solver")
		}
	case TwinTarget:
	default:
		return configErr("Variant", "unknown variant %q", c.Variant)
	}

	if len(c.Policy.LeafLayers) != 2 {
		return configErr("Policy", "policy requires exactly 2 leaf "+
			"networks but got %v", len(c.Policy.LeafLayers))
	}
	if c.InitWFn == nil {
		return configErr("InitWFn", "missing weight initializer")
	}
	if c.PolicySolver == nil {
		return configErr("PolicySolver", "missing policy solver")
	}
	if c.CriticSolver == nil {
		return configErr("CriticSolver", "missing critic solver")
	}
	if c.LearnAlpha && c.AlphaSolver == nil {
		return configErr("AlphaSolver", "learning the temperature "+
			"requires a temperature solver")
	}

	if !finite(c.MinLogStd) || !finite(c.MaxLogStd) ||
		c.MinLogStd >= c.MaxLogStd {
		return configErr("MinLogStd", "min log std (%v) must be < max log "+
			"std (%v) and both must be finite", c.MinLogStd, c.MaxLogStd)
	}
	if !(c.Discount >= 0 && c.Discount <= 1) {
		return configErr("Discount", "discount must be in [0, 1] but got %v",
			c.Discount)
	}
	if !(c.Tau >= 0 && c.Tau <= 1) {
		return configErr("Tau", "tau must be in [0, 1] but got %v", c.Tau)
	}
	if !finite(c.InitialAlpha) || c.InitialAlpha <= 0 {
		return configErr("InitialAlpha", "initial temperature must be "+
			"finite and > 0 but got %v", c.InitialAlpha)
	}
	if !finite(c.RewardScale) || c.RewardScale <= 0 {
		return configErr("RewardScale", "reward scale must be finite and "+
			"> 0 but got %v", c.RewardScale)
	}
	if c.TargetEntropy != nil && !finite(*c.TargetEntropy) {
		return configErr("TargetEntropy", "target entropy must be finite "+
			"but got %v", *c.TargetEntropy)
	}
	if c.TrainingSteps <= 0 {
		return configErr("TrainingSteps", "training steps must be > 0 but "+
			"got %v", c.TrainingSteps)
	}
	if err := c.ExpReplay.Validate(); err != nil {
		return configErr("ExpReplay", "%v", err)
	}

	return nil
}

// finite returns whether v is neither NaN nor infinite
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ValidAgent returns true if the argument agent can be constructed
// from the Config and false otherwise.
func (c Config) ValidAgent(a agent.Agent) bool {
	_, ok := a.(*SAC)
	return ok
}

// Type returns the type of agent constructed by the Config
func (c Config) Type() agent.Type {
	return Type
}

// CreateAgent creates and returns the agent determined by the
// configuration
func (c Config) CreateAgent(e environment.Environment,
	seed uint64) (agent.Agent, error) {
	return New(e, c, seed)
}
