package critic

import (
	"fmt"

	G "gorgonia.org/gorgonia"

	"github.com/samuelfneumann/gosac/network"
)

// Architecture describes the hidden layers of a value function network.
// A final linear layer predicting a single value is always added.
type Architecture struct {
	Layers      []int                 `json:"layers" yaml:"layers"`
	Biases      []bool                `json:"biases" yaml:"biases"`
	Activations []*network.Activation `json:"activations" yaml:"activations"`
}

// ValueFunction implements a state value function v(s) trained by
// regression. Training and prediction use separate graphs so that
// predictions can be made on batches of any size.
type ValueFunction struct {
	*Regression
	predictor *Predictor
	features  int
}

// NewValueFunction returns a new ValueFunction for states with the
// given number of features. The batch parameter determines the number
// of states in each training batch. The loss is scaled by lossScale and
// minimized with solver. All nodes are named with prefix.
func NewValueFunction(features, batch int, arch Architecture,
	init G.InitWFn, solver G.Solver, lossScale float64,
	prefix string) (*ValueFunction, error) {
	reg, predictor, err := newApproximator(features, batch, arch, init,
		solver, lossScale, prefix)
	if err != nil {
		return nil, fmt.Errorf("newValueFunction: %w", err)
	}

	return &ValueFunction{
		Regression: reg,
		predictor:  predictor,
		features:   features,
	}, nil
}

// newApproximator creates the training Regression and a prediction
// network with the same weights
func newApproximator(features, batch int, arch Architecture,
	init G.InitWFn, solver G.Solver, lossScale float64,
	prefix string) (*Regression, *Predictor, error) {
	net, err := network.NewMultiHeadMLP(features, batch, 1, G.NewGraph(),
		arch.Layers, arch.Biases, init, arch.Activations, prefix)
	if err != nil {
		return nil, nil, err
	}

	predictionNet, err := net.Clone()
	if err != nil {
		return nil, nil, err
	}

	reg, err := NewRegression(net, lossScale, solver, prefix)
	if err != nil {
		return nil, nil, err
	}

	return reg, NewPredictor(predictionNet), nil
}

// Features returns the number of features in a single input
func (v *ValueFunction) Features() int {
	return v.features
}

// Predict returns the value of each state in states, given in row major
// order. The number of states must equal the training batch size.
func (v *ValueFunction) Predict(states []float64) ([]float64, error) {
	if err := network.Set(v.predictor.Network(), v.Network()); err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	return v.predictor.Predict(states)
}

// Target returns a new target network tracking the value function
func (v *ValueFunction) Target() (*Target, error) {
	return NewTarget(v.Network())
}

// Close closes all VMs of the value function
func (v *ValueFunction) Close() error {
	if err := v.predictor.Close(); err != nil {
		return err
	}
	return v.Regression.Close()
}
