// Package synthetic implements a stationary continuous-action task
// whose optimal policy is known in closed form.
package synthetic

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"

	"github.com/samuelfneumann/gosac/environment"
	"github.com/samuelfneumann/gosac/timestep"
	"github.com/samuelfneumann/gosac/utils/floatutils"
)

// Bounds of the state and action spaces in each dimension
const (
	MinFeature float64 = -1.0
	MaxFeature float64 = 1.0
	MinAction  float64 = -1.0
	MaxAction  float64 = 1.0
)

// Tracking is a stationary task. States are sampled uniformly at
// random from [-1, 1]^n on every step regardless of the action taken,
// and the reward for action a in state s is -||a - w⊙s||². The optimal
// deterministic policy is therefore a = w⊙s.
//
// Tracking implements the environment.Environment interface
type Tracking struct {
	environment.Starter
	environment.Ender
	weights  *mat.VecDense
	discount float64
	lastStep timestep.TimeStep
}

// Option configures a Tracking environment
type Option func(*options)

type options struct {
	terminalBound float64
	terminal      bool
}

// WithTerminalBound makes episodes end in a terminal state whenever any
// feature of the next state leaves [-bound, bound]. Bounds in (0, 1)
// make terminal states reachable.
func WithTerminalBound(bound float64) Option {
	return func(o *options) {
		o.terminalBound = bound
		o.terminal = true
	}
}

// New returns a new Tracking environment with len(weights) state and
// action dimensions. Episodes are cut off after episodeSteps steps.
// Each weight should be in [-1, 1] so that the optimal action is
// inside the action bounds.
func New(weights []float64, episodeSteps int, discount float64,
	seed uint64, opts ...Option) (*Tracking, timestep.TimeStep, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.terminal && o.terminalBound <= 0 {
		return nil, timestep.TimeStep{}, fmt.Errorf("new: terminal bound "+
			"must be positive but got %v", o.terminalBound)
	}

	if len(weights) == 0 {
		return nil, timestep.TimeStep{}, fmt.Errorf("new: at least one " +
			"weight is needed")
	}
	if episodeSteps <= 0 {
		return nil, timestep.TimeStep{}, fmt.Errorf("new: episode steps "+
			"must be positive but got %v", episodeSteps)
	}
	for i, w := range weights {
		if w < MinAction || w > MaxAction {
			return nil, timestep.TimeStep{}, fmt.Errorf("new: weight %v "+
				"at index %v outside of action bounds", w, i)
		}
	}

	bounds := make([]r1.Interval, len(weights))
	for i := range bounds {
		bounds[i] = r1.Interval{Min: MinFeature, Max: MaxFeature}
	}
	starter := environment.NewUniformStarter(bounds, seed)
	var ender environment.Ender = environment.NewStepLimit(episodeSteps)
	if o.terminal {
		limits := make([]r1.Interval, len(weights))
		indices := make([]int, len(weights))
		for i := range limits {
			limits[i] = r1.Interval{Min: -o.terminalBound, Max: o.terminalBound}
			indices[i] = i
		}
		terminal, err := environment.NewIntervalLimit(limits, indices,
			timestep.TerminalStateReached)
		if err != nil {
			return nil, timestep.TimeStep{}, fmt.Errorf("new: %w", err)
		}
		ender = environment.Enders{terminal, ender}
	}

	w := make([]float64, len(weights))
	copy(w, weights)

	t := &Tracking{
		Starter:  starter,
		Ender:    ender,
		weights:  mat.NewVecDense(len(w), w),
		discount: discount,
	}
	step, err := t.Reset()
	return t, step, err
}

// GetReward returns the reward for taking action in state
func (t *Tracking) GetReward(state, action, _ mat.Vector) float64 {
	target := mat.NewVecDense(t.weights.Len(), nil)
	target.MulElemVec(t.weights, state)
	target.SubVec(action, target)

	return -mat.Dot(target, target)
}

// Optimal returns the optimal action in state
func (t *Tracking) Optimal(state mat.Vector) *mat.VecDense {
	a := mat.NewVecDense(t.weights.Len(), nil)
	a.MulElemVec(t.weights, state)
	return a
}

// Reset resets the environment and returns the first step of a new
// episode
func (t *Tracking) Reset() (timestep.TimeStep, error) {
	state := t.Start()
	t.lastStep = timestep.New(timestep.First, 0, t.discount, state, 0)
	return t.lastStep, nil
}

// Step takes one environmental step given some action. Actions outside
// of [MinAction, MaxAction] are clipped.
func (t *Tracking) Step(action *mat.VecDense) (timestep.TimeStep, bool,
	error) {
	if action.Len() != t.weights.Len() {
		return timestep.TimeStep{}, false, fmt.Errorf("step: action "+
			"dimensions %v != %v", action.Len(), t.weights.Len())
	}
	clipped := make([]float64, action.Len())
	for i := range clipped {
		clipped[i] = action.AtVec(i)
	}
	a := mat.NewVecDense(len(clipped),
		floatutils.ClipSlice(clipped, MinAction, MaxAction))

	state := t.lastStep.Observation
	nextState := t.Start()
	reward := t.GetReward(state, a, nextState)

	nextStep := timestep.New(timestep.Mid, reward, t.discount, nextState,
		t.lastStep.Number+1)
	t.End(&nextStep)

	t.lastStep = nextStep
	return nextStep, nextStep.Last(), nil
}

// DiscountSpec returns the discount specification of the environment
func (t *Tracking) DiscountSpec() environment.Spec {
	return t.spec(environment.Discount, 1, t.discount, t.discount)
}

// ObservationSpec returns the observation specification of the
// environment
func (t *Tracking) ObservationSpec() environment.Spec {
	return t.spec(environment.Observation, t.weights.Len(), MinFeature,
		MaxFeature)
}

// ActionSpec returns the action specification of the environment
func (t *Tracking) ActionSpec() environment.Spec {
	return t.spec(environment.Action, t.weights.Len(), MinAction, MaxAction)
}

func (t *Tracking) spec(st environment.SpecType, n int, low,
	high float64) environment.Spec {
	lower := make([]float64, n)
	upper := make([]float64, n)
	for i := 0; i < n; i++ {
		lower[i] = low
		upper[i] = high
	}

	s, err := environment.NewSpec(mat.NewVecDense(n, nil), st,
		mat.NewVecDense(n, lower), mat.NewVecDense(n, upper),
		environment.Continuous)
	if err != nil {
		panic(fmt.Sprintf("spec: %v", err))
	}
	return s
}

func (t *Tracking) String() string {
	return fmt.Sprintf("Tracking  |  weights: %v  |  step: %v",
		mat.Formatted(t.weights.T()), t.lastStep.Number)
}
