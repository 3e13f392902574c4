// Package network implements feed forward neural networks built on
// gorgonia computational graphs
package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// NeuralNet implements a neural network on a gorgonia computational
// graph. Networks built by the same constructor with the same
// architecture are structurally identical and can be Set or Polyak
// averaged against each other.
type NeuralNet interface {
	Graph() *G.ExprGraph
	Clone() (NeuralNet, error)
	CloneWithBatch(int) (NeuralNet, error)

	// CloneWithInputTo clones the network to graph g, using inputs as
	// the input to the cloned network. Multiple inputs are first
	// concatenated along axis. The cloned weights are new nodes holding
	// copies of the weight values.
	CloneWithInputTo(axis int, inputs []*G.Node, g *G.ExprGraph) (NeuralNet,
		error)

	BatchSize() int
	Features() []int
	Outputs() []int
	OutputLayers() int
	Input() *G.Node
	SetInput([]float64) error
	Set(NeuralNet) error
	Polyak(NeuralNet, float64) error
	Learnables() G.Nodes
	Model() []G.ValueGrad
	Output() []G.Value
	Prediction() []*G.Node
}

// Set sets the weights of dest to be equal to the weights of source.
// The networks must be structurally identical.
func Set(dest, source NeuralNet) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	if len(sourceNodes) != len(nodes) {
		return fmt.Errorf("set: incompatible networks \n\twant(%v learnables)"+
			"\n\thave(%v learnables)", len(nodes), len(sourceNodes))
	}

	for i, destLearnable := range nodes {
		sourceWeights, ok := sourceNodes[i].Value().(*tensor.Dense)
		if !ok {
			return fmt.Errorf("set: learnable %v has no dense value", i)
		}
		err := G.Let(destLearnable, sourceWeights.Clone().(*tensor.Dense))
		if err != nil {
			return fmt.Errorf("set: %w", err)
		}
	}
	return nil
}

// Polyak sets the weights of dest to be a polyak average between its
// existing weights and the weights of source:
//
//	dest ← tau * source + (1 - tau) * dest
//
// A tau of 0 leaves dest unchanged and a tau of 1 copies source into
// dest exactly.
func Polyak(dest, source NeuralNet, tau float64) error {
	if tau < 0 || tau > 1 {
		return fmt.Errorf("polyak: tau must be in [0, 1] but got %v", tau)
	}
	if tau == 0 {
		return nil
	}
	if tau == 1 {
		return Set(dest, source)
	}

	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	if len(sourceNodes) != len(nodes) {
		return fmt.Errorf("polyak: incompatible networks \n\twant(%v "+
			"learnables) \n\thave(%v learnables)", len(nodes),
			len(sourceNodes))
	}

	for i := range nodes {
		weights := nodes[i].Value().(*tensor.Dense)
		sourceWeights := sourceNodes[i].Value().(*tensor.Dense)

		weights, err := weights.MulScalar(1-tau, true)
		if err != nil {
			return fmt.Errorf("polyak: %w", err)
		}

		sourceWeights, err = sourceWeights.MulScalar(tau, true)
		if err != nil {
			return fmt.Errorf("polyak: %w", err)
		}

		var newWeights *tensor.Dense
		newWeights, err = weights.Add(sourceWeights)
		if err != nil {
			return fmt.Errorf("polyak: %w", err)
		}

		if err := G.Let(nodes[i], newWeights); err != nil {
			return fmt.Errorf("polyak: %w", err)
		}
	}
	return nil
}

// concatInputs checks that all inputs are in graph g and concatenates
// them along axis if there is more than one
func concatInputs(axis int, inputs []*G.Node, g *G.ExprGraph) (*G.Node,
	error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs given")
	}
	for _, input := range inputs {
		if input.Graph() != g {
			return nil, fmt.Errorf("not all inputs have the same graph")
		}
	}

	var input *G.Node
	if len(inputs) > 1 {
		var err error
		input, err = G.Concat(axis, inputs...)
		if err != nil {
			return nil, err
		}
	} else {
		input = inputs[0]
	}

	if !input.IsMatrix() {
		return nil, fmt.Errorf("input must be a matrix node")
	}
	return input, nil
}

// newInput returns a new input matrix node to a network
func newInput(g *G.ExprGraph, batch, features int, prefix string) *G.Node {
	return G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName(prefix+"Input"), G.WithInit(G.Zeroes()))
}

// setInput sets the value of an input node
func setInput(input *G.Node, data []float64) error {
	size := input.Shape()[0] * input.Shape()[1]
	if len(data) != size {
		return fmt.Errorf("setInput: invalid number of inputs\n\twant(%v)"+
			"\n\thave(%v)", size, len(data))
	}
	inputTensor := tensor.New(
		tensor.WithBacking(data),
		tensor.WithShape(input.Shape()...),
	)
	return G.Let(input, inputTensor)
}
