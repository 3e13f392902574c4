// Package critic implements neural network state and state-action
// value functions trained by regression onto bootstrapped targets
package critic

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/gosac/network"
)

// Regression trains a single-output neural network to predict a vector
// of targets. The loss is
//
//	L = scale * mean((ŷ - y)²)
//
// where the mean is taken over the batch. The network's graph must not
// be used by any other VM, since a Regression adds its loss and
// gradient to the graph.
type Regression struct {
	net    network.NeuralNet
	vm     G.VM
	solver G.Solver

	targets *G.Node
	loss    *G.Node
	lossVal G.Value
	predVal G.Value
}

// NewRegression adds a regression loss scaled by scale to the graph of
// net and returns a Regression which takes gradient steps with solver.
// All nodes added to the graph are named with prefix.
func NewRegression(net network.NeuralNet, scale float64, solver G.Solver,
	prefix string) (*Regression, error) {
	if len(net.Prediction()) != 1 {
		return nil, fmt.Errorf("newRegression: network must have a single "+
			"output layer \n\twant(1) \n\thave(%v)", len(net.Prediction()))
	}
	if outputs := net.Outputs()[0]; outputs != 1 {
		return nil, fmt.Errorf("newRegression: network must predict a "+
			"single value \n\twant(1) \n\thave(%v)", outputs)
	}
	if scale <= 0 {
		return nil, fmt.Errorf("newRegression: loss scale must be > 0")
	}

	g := net.Graph()
	batch := net.BatchSize()

	targets := G.NewVector(
		g,
		tensor.Float64,
		G.WithName(prefix+"Target"),
		G.WithShape(batch),
		G.WithInit(G.Zeroes()),
	)

	pred, err := G.Reshape(net.Prediction()[0], tensor.Shape{batch})
	if err != nil {
		return nil, fmt.Errorf("newRegression: could not flatten "+
			"prediction: %w", err)
	}

	loss := G.Must(G.Sub(pred, targets))
	loss = G.Must(G.Square(loss))
	loss = G.Must(G.Mean(loss))
	if scale != 1.0 {
		loss = G.Must(G.Mul(G.NewConstant(scale), loss))
	}

	if _, err := G.Grad(loss, net.Learnables()...); err != nil {
		return nil, fmt.Errorf("newRegression: could not compute "+
			"gradient: %w", err)
	}

	r := &Regression{
		net:     net,
		solver:  solver,
		targets: targets,
		loss:    loss,
	}
	G.Read(loss, &r.lossVal)
	G.Read(pred, &r.predVal)
	r.vm = G.NewTapeMachine(g, G.BindDualValues(net.Learnables()...))

	return r, nil
}

// Network returns the network being trained
func (r *Regression) Network() network.NeuralNet {
	return r.net
}

// Step takes a single gradient step on inputs and targets and returns
// the loss computed before the step.
func (r *Regression) Step(inputs, targets []float64) (float64, error) {
	if len(targets) != r.targets.Shape()[0] {
		return 0, fmt.Errorf("step: invalid number of targets \n\twant(%v) "+
			"\n\thave(%v)", r.targets.Shape()[0], len(targets))
	}
	if err := r.net.SetInput(inputs); err != nil {
		return 0, fmt.Errorf("step: %w", err)
	}

	targetTensor := tensor.NewDense(
		tensor.Float64,
		r.targets.Shape(),
		tensor.WithBacking(append([]float64{}, targets...)),
	)
	if err := G.Let(r.targets, targetTensor); err != nil {
		return 0, fmt.Errorf("step: could not set targets: %w", err)
	}

	if err := r.vm.RunAll(); err != nil {
		return 0, fmt.Errorf("step: could not run VM: %w", err)
	}
	defer r.vm.Reset()

	loss := r.lossVal.Data().(float64)
	if err := r.solver.Step(r.net.Model()); err != nil {
		return 0, fmt.Errorf("step: could not step solver: %w", err)
	}

	return loss, nil
}

// Predictions returns the predictions made during the last Step,
// before the weights were updated
func (r *Regression) Predictions() []float64 {
	if r.predVal == nil {
		return nil
	}
	return append([]float64{}, r.predVal.Data().([]float64)...)
}

// Close closes the Regression's VM
func (r *Regression) Close() error {
	return r.vm.Close()
}
