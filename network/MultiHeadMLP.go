package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// multiHeadMLP implements a multi-layered perceptron with multiple
// output nodes, one for each value that should be predicted.
type multiHeadMLP struct {
	g          *G.ExprGraph
	prefix     string
	layers     []Layer
	input      *G.Node
	numOutputs int
	numInputs  int
	batchSize  int

	learnables G.Nodes
	model      []G.ValueGrad

	prediction *G.Node
	predVal    G.Value
}

// NewMultiHeadMLPFromInputs returns a new multi-head output MLP that
// has specific nodes as its input. If multiple input nodes are given,
// they are first concatenated along the feature (column) dimension.
//
// Unlike NewMultiHeadMLP, no final layer is added, so the last entry
// of hiddenSizes must equal outputs. All nodes added to the graph are
// named with the given prefix and suffix.
func NewMultiHeadMLPFromInputs(inputs []*G.Node, outputs int,
	g *G.ExprGraph, hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation, prefix, suffix string) (NeuralNet, error) {
	return newMultiHeadMLPFromInput(inputs, outputs, g, hiddenSizes, biases,
		init, activations, prefix, suffix, false)
}

// newMultiHeadMLPFromInput returns a new multi-head output MLP that
// has a specific node as its input node. If multiple input nodes are
// given, they are first concatenated along the feature (column)
// dimension.
func newMultiHeadMLPFromInput(inputs []*G.Node, outputs int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation, prefix, suffix string,
	addFinalLayer bool) (NeuralNet, error) {
	// Ensure we have one activation per layer
	if len(hiddenSizes) != len(activations) {
		msg := "newmultiheadmlp: invalid number of activations" +
			"\n\twant(%d)\n\thave(%d)"
		return nil, fmt.Errorf(msg, len(hiddenSizes), len(activations))
	}

	// Ensure one bias bool per layer
	if len(hiddenSizes) != len(biases) {
		msg := "newmultiheadmlp: invalid number of biases\n\twant(%d)" +
			"\n\thave(%d)"
		return nil, fmt.Errorf(msg, len(hiddenSizes), len(biases))
	}

	if outputs <= 0 {
		return nil, fmt.Errorf("newmultiheadmlp: outputs must be > 0")
	}

	input, err := concatInputs(1, inputs, g)
	if err != nil {
		return nil, fmt.Errorf("newmultiheadmlp: %v", err)
	}

	batch := input.Shape()[0]
	features := input.Shape()[1]

	// Copy so that appending a final layer never aliases the caller's
	// configuration
	hiddenSizes = append([]int{}, hiddenSizes...)
	biases = append([]bool{}, biases...)
	activations = append([]*Activation{}, activations...)

	// If required, add a final linear layer with no activation to ensure
	// outputs heads are predicted by the network
	if addFinalLayer {
		hiddenSizes = append(hiddenSizes, outputs)
		biases = append(biases, true)
		activations = append(activations, Identity())
	} else if len(hiddenSizes) == 0 ||
		outputs != hiddenSizes[len(hiddenSizes)-1] {
		msg := "newmultiheadmlp: claimed output is of size %v but " +
			"final network layer has a different size"
		return nil, fmt.Errorf(msg, outputs)
	}

	layers := addfcLayers(g, hiddenSizes, biases, activations, init, features,
		prefix, suffix)

	// Create the network and run the forward pass on the input node
	network := multiHeadMLP{
		g:          g,
		prefix:     prefix,
		layers:     layers,
		input:      input,
		numOutputs: outputs,
		numInputs:  features,
		batchSize:  batch,
		learnables: nil,
		model:      nil,
	}
	_, err = network.fwd(input)
	if err != nil {
		msg := "newmultiheadmlp: could not compute forward pass: %v"
		return nil, fmt.Errorf(msg, err)
	}

	return &network, nil
}

// NewMultiHeadMLP creates and returns a new multi-layered perceptron
// that has multiple output nodes, The number of outputs nodes is equal
// to outputs. The graph parameter g is populated with the MLP, and each
// node added to g is named with prefix so that many networks can share
// a single graph.
//
// The MLP has number of layers equal to len(hiddenSizes) + 1. A final
// layer is always added such that given any input, the output will
// be outputs. The final layer also contains a bias unit, and bias units
// for each additional hidden layer is specified by biases. The final
// layer will contain no activations, and the activations of additional
// hidden layers is specified by activations. The parameter init
// determines the weight initialization scheme.
//
// The function works such that for index i, hiddenSizes[i] is the
// number of nodes in hidden layer i; biases[i] is true if the
// hidden layer will contain a bias unit and false otherwise; and
// activations[i] is the activation function for hidden layer i.
func NewMultiHeadMLP(features, batch, outputs int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation, prefix string) (NeuralNet, error) {
	if features <= 0 || batch <= 0 {
		return nil, fmt.Errorf("newmultiheadmlp: features (%v) and batch "+
			"(%v) must be positive", features, batch)
	}
	input := newInput(g, batch, features, prefix)

	return newMultiHeadMLPFromInput([]*G.Node{input}, outputs, g, hiddenSizes,
		biases, init, activations, prefix, "", true)
}

// Graph returns the computational graph of the multiHeadMLP.
func (e *multiHeadMLP) Graph() *G.ExprGraph {
	return e.g
}

// Clone clones a multiHeadMLP
func (e *multiHeadMLP) Clone() (NeuralNet, error) {
	return e.CloneWithBatch(e.batchSize)
}

// CloneWithInputTo clones a NeuralNet to a specific computational graph
// with a specified input node. If multiple input nodes are given, then
// they are first concatenated along the specified axis.
func (e *multiHeadMLP) CloneWithInputTo(axis int, inputs []*G.Node,
	graph *G.ExprGraph) (NeuralNet, error) {
	input, err := concatInputs(axis, inputs, graph)
	if err != nil {
		return nil, fmt.Errorf("clonewithinputto: %v", err)
	}

	// Copy fully connected layers
	l := make([]Layer, len(e.layers))
	for i := range e.layers {
		l[i] = e.layers[i].CloneTo(graph)
	}

	// Create the network and run the forward pass on the input node
	network := multiHeadMLP{
		g:          graph,
		prefix:     e.prefix,
		layers:     l,
		input:      input,
		numOutputs: e.numOutputs,
		numInputs:  e.numInputs,
		batchSize:  input.Shape()[0],
	}
	_, err = network.fwd(input)
	if err != nil {
		return nil, fmt.Errorf("clonewithinputto: could not clone: %v", err)
	}

	return &network, nil
}

// CloneWithBatch clones a multiHeadMLP with a new input batch
// size.
func (e *multiHeadMLP) CloneWithBatch(batchSize int) (NeuralNet, error) {
	graph := G.NewGraph()
	input := newInput(graph, batchSize, e.numInputs, e.prefix)

	return e.CloneWithInputTo(-1, []*G.Node{input}, graph)
}

// BatchSize returns the batch size of inputs to the network
func (e *multiHeadMLP) BatchSize() int {
	return e.batchSize
}

// Features returns the number of features in a single input vector
func (e *multiHeadMLP) Features() []int {
	return []int{e.numInputs}
}

// Outputs returns the number of outputs from the network
func (e *multiHeadMLP) Outputs() []int {
	return []int{e.numOutputs}
}

// OutputLayers returns the number of layers that will produce Outputs()
// values as predictions. For example, in a TreeMLP there may be many
// output layers, each producing Outputs() predictions.
func (e *multiHeadMLP) OutputLayers() int {
	return len(e.Prediction())
}

// Input returns the input node of the network
func (e *multiHeadMLP) Input() *G.Node {
	return e.input
}

// SetInput sets the value of the input node before running the forward
// pass.
func (e *multiHeadMLP) SetInput(input []float64) error {
	return setInput(e.input, input)
}

// Set sets the weights of a multiHeadMLP to be equal to the
// weights of another multiHeadMLP
func (e *multiHeadMLP) Set(source NeuralNet) error {
	return Set(e, source)
}

// Polyak sets the weights of a multiHeadMLP to be a polyak
// average between its existing weights and the weights of another
// multiHeadMLP
func (e *multiHeadMLP) Polyak(source NeuralNet, tau float64) error {
	return Polyak(e, source, tau)
}

// Learnables returns the learnable nodes in a multiHeadMLP
func (e *multiHeadMLP) Learnables() G.Nodes {
	// Lazy instantiation
	if e.learnables == nil {
		e.learnables = e.computeLearnables()
	}
	return e.learnables
}

// computeLearnables computes all the learnables for the network
func (e *multiHeadMLP) computeLearnables() G.Nodes {
	learnables := make([]*G.Node, 0, 2*len(e.layers))

	for i := range e.layers {
		learnables = append(learnables, e.layers[i].Weights())
		if bias := e.layers[i].Bias(); bias != nil {
			learnables = append(learnables, bias)
		}
	}
	return G.Nodes(learnables)
}

// Model returns the learnables nodes with their gradients.
func (e *multiHeadMLP) Model() []G.ValueGrad {
	// Lazy instantiation
	if e.model == nil {
		e.model = e.computeModel()
	}
	return e.model
}

// computeModel computes the model for the network
func (e *multiHeadMLP) computeModel() []G.ValueGrad {
	model := make([]G.ValueGrad, 0, 2*len(e.layers))
	for _, node := range e.Learnables() {
		model = append(model, node)
	}
	return model
}

// fwd performs the forward pass of the multiHeadMLP on the input
// node
func (e *multiHeadMLP) fwd(input *G.Node) (*G.Node, error) {
	inputShape := input.Shape()[len(input.Shape())-1]
	if inputShape != e.numInputs {
		return nil, fmt.Errorf("fwd: invalid shape for input to neural net:"+
			" \n\twant(%v) \n\thave(%v)", e.numInputs, inputShape)
	}

	pred := input
	var err error
	for i, l := range e.layers {
		if pred, err = l.fwd(pred); err != nil {
			msg := "fwd: could not compute forward pass of layer %v: %v"
			return nil, fmt.Errorf(msg, i, err)
		}
	}

	e.prediction = pred

	G.Read(e.prediction, &e.predVal)

	return pred, nil
}

// Output returns the output of the multiHeadMLP.
func (e *multiHeadMLP) Output() []G.Value {
	return []G.Value{e.predVal}
}

// Prediction returns the node of the computational graph the stores
// the output of the multiHeadMLP
func (e *multiHeadMLP) Prediction() []*G.Node {
	return []*G.Node{e.prediction}
}
