package critic

import (
	"fmt"

	G "gorgonia.org/gorgonia"

	"github.com/samuelfneumann/gosac/network"
)

// Predictor runs the forward pass of a network on its own VM. The
// graph of the network must hold only the network's forward pass.
type Predictor struct {
	net network.NeuralNet
	vm  G.VM
}

// NewPredictor returns a new Predictor for net
func NewPredictor(net network.NeuralNet) *Predictor {
	return &Predictor{
		net: net,
		vm:  G.NewTapeMachine(net.Graph()),
	}
}

// Network returns the network of the Predictor
func (p *Predictor) Network() network.NeuralNet {
	return p.net
}

// Predict returns the predictions of the network on inputs, given in
// row major order
func (p *Predictor) Predict(inputs []float64) ([]float64, error) {
	if err := p.net.SetInput(inputs); err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	if err := p.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("predict: could not run VM: %w", err)
	}
	defer p.vm.Reset()

	return append([]float64{}, p.net.Output()[0].Data().([]float64)...), nil
}

// Close closes the Predictor's VM
func (p *Predictor) Close() error {
	return p.vm.Close()
}

// Target is a Predictor whose network slowly tracks the weights of
// another, structurally identical network.
type Target struct {
	*Predictor
	source network.NeuralNet
}

// NewTarget returns a Target tracking source. The target network starts
// with the same weights as source.
func NewTarget(source network.NeuralNet) (*Target, error) {
	net, err := source.CloneWithBatch(source.BatchSize())
	if err != nil {
		return nil, fmt.Errorf("newTarget: could not clone source: %w", err)
	}
	return &Target{Predictor: NewPredictor(net), source: source}, nil
}

// Update moves the weights of the target network toward the weights of
// the source network:
//
//	θ_target ← tau * θ_source + (1 - tau) * θ_target
func (t *Target) Update(tau float64) error {
	if err := network.Polyak(t.net, t.source, tau); err != nil {
		return fmt.Errorf("update: %w", err)
	}
	return nil
}
