package timestep

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Transition is a single (S, A, R, S', done) tuple. Once a Transition
// has been handed to an experience replay buffer it is copied and never
// mutated.
type Transition struct {
	State     *mat.VecDense
	Action    *mat.VecDense
	Reward    float64
	NextState *mat.VecDense
	Done      bool
}

// NewTransition creates the Transition of taking action in step and
// ending up in nextStep. The transition is done only if nextStep
// reached a terminal state, episodes cut off by a timeout are not.
func NewTransition(step TimeStep, action *mat.VecDense,
	nextStep TimeStep) Transition {
	return Transition{
		State:     step.Observation,
		Action:    action,
		Reward:    nextStep.Reward,
		NextState: nextStep.Observation,
		Done:      nextStep.Terminal(),
	}
}

// DoneFloat returns 1.0 if the transition is done and 0.0 otherwise
func (t Transition) DoneFloat() float64 {
	if t.Done {
		return 1.0
	}
	return 0.0
}

func (t Transition) String() string {
	return fmt.Sprintf("Transition | S: %v  |  A: %v  |  R: %.2f  |  "+
		"S': %v  |  Done: %v", mat.Formatted(t.State.T()),
		mat.Formatted(t.Action.T()), t.Reward, mat.Formatted(t.NextState.T()),
		t.Done)
}
