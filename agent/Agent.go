// Package agent defines an agent interface
package agent

import (
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gosac/network"
	"github.com/samuelfneumann/gosac/timestep"
)

// Agent determines the implementation details of an agent or algorithm
//
// An Agent is composed of a Learner, which learns weights, and a Policy
// which chooses actions in each state. The Policy chooses which actions
// are taken, and the Learner uses these actions to update the Policy.
type Agent interface {
	Learner
	Policy
}

// A Closer is an agent that must be closed after it is done learning
type Closer interface {
	Agent
	Close() error
}

// Learner implements a learning algorithm that defines how weights are
// updated.
type Learner interface {
	// Step performs a single update to the learner
	Step() error

	// Observe records that an action lead to some timestep
	Observe(action mat.Vector, nextObs timestep.TimeStep) error

	// ObserveFirst records the first timestep in an episode
	ObserveFirst(timestep.TimeStep) error

	// EndEpisode performs cleanup at the end of an episode
	EndEpisode()
}

// Policy represents a policy that an agent can have.
//
// Policies determine how agents select actions. In evaluation mode a
// stochastic policy acts greedily, and in exploration mode it samples
// actions from its distribution.
type Policy interface {
	SelectAction(t timestep.TimeStep) *mat.VecDense
	Eval()        // Set policy to evaluation mode
	Explore()     // Set policy to exploration mode
	IsEval() bool // Indicates if in evaluation mode
}

// NNPolicy represents a policy that uses neural network function
// approximation.
//
// Policies implemented by neural networks satsify a different interface
// from Policy, since a VM is needed to run the policy.
type NNPolicy interface {
	Policy
	Network() network.NeuralNet
	Close() error
}

// Approximator is a function approximator that is trained by
// regression onto externally computed targets. Inputs are given in
// row major order, one row per sample in the batch.
type Approximator interface {
	// Network returns the network being trained
	Network() network.NeuralNet

	// Predict returns the current predictions on inputs
	Predict(inputs []float64) ([]float64, error)

	// Step takes one gradient step on the regression loss and returns
	// the loss before the step
	Step(inputs, targets []float64) (float64, error)

	Close() error
}
