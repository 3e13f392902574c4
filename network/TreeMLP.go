package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// TreeMLP implements a multi-layered perceptron with a base observation
// netowrk and multiple leaf networks that use the output of the root
// observation network as their own inputs. A diagram of a tree MLP:
//
//	                  ╭─→ Leaf Network 1       ─→ Output
//	                  ├─→ Leaf Network 2       ─→ Output
//	Input ─→ Root Net ─┼─→ ...                 ─→  ...
//	                  ╰─→ Leaf Network N       ─→ Output
//
// A Gaussian policy uses two leaf networks, one predicting the mean and
// one predicting the log standard deviation of the action distribution.
type TreeMLP struct {
	g            *G.ExprGraph
	prefix       string
	rootNetwork  NeuralNet   // Observation network
	leafNetworks []NeuralNet // Leaf networks
	input        *G.Node     // Input to observation network

	numOutputs []int // Number of outputs per leaf layer
	numInputs  int   // Features input for observation network
	batchSize  int

	// Store learnables and model so that they don't need to be computed
	// each time a gradient step is taken
	learnables G.Nodes
	model      []G.ValueGrad

	prediction []*G.Node // Nodes holding the predictions
}

// validateTreeMLP validates the arguments of NewTreeMLP() to ensure
// they are legal.
func validateTreeMLP(numOutputs int, rootHiddenSizes []int, rootBiases []bool,
	rootActivations []*Activation, leafHiddenSizes [][]int,
	leafBiases [][]bool, leafActivations [][]*Activation) error {
	// Validate observation/root network
	if len(rootHiddenSizes) == 0 {
		return fmt.Errorf("root network must have at least one hidden layer")
	}

	if len(rootHiddenSizes) != len(rootActivations) {
		msg := "invalid number of root activations" +
			"\n\twant(%d)\n\thave(%d)"
		return fmt.Errorf(msg, len(rootHiddenSizes),
			len(rootActivations))
	}

	if len(rootHiddenSizes) != len(rootBiases) {
		msg := "invalid number of root biases" +
			"\n\twant(%d)\n\thave(%d)"
		return fmt.Errorf(msg, len(rootHiddenSizes), len(rootBiases))
	}

	// Validate number of leaf networks
	if len(leafHiddenSizes) <= 0 || len(leafBiases) <= 0 ||
		len(leafActivations) <= 0 {
		return fmt.Errorf("there must be at least one leaf network specified")
	}

	if numOutputs <= 0 {
		return fmt.Errorf("there must be more than 0 outputs per leaf network")
	}

	if len(leafHiddenSizes) != len(leafActivations) {
		msg := "invalid number of leaf network activations " +
			"\n\twant(%v) \n\thave(%v)"
		return fmt.Errorf(msg, len(leafHiddenSizes), len(leafActivations))
	}

	if len(leafHiddenSizes) != len(leafBiases) {
		msg := "invalid number of leaf network biases " +
			"\n\twant(%v) \n\thave(%v)"
		return fmt.Errorf(msg, len(leafHiddenSizes), len(leafBiases))
	}

	// Validate architecture of leaf networks
	for i := 0; i < len(leafHiddenSizes); i++ {
		if len(leafHiddenSizes[i]) != len(leafActivations[i]) {
			msg := "invalid number of activations for leaf " +
				"network %v \n\twant(%v) \n\thave(%v)"
			return fmt.Errorf(msg, i, len(leafHiddenSizes[i]),
				len(leafActivations[i]))
		}

		if len(leafHiddenSizes[i]) != len(leafBiases[i]) {
			msg := "invalid number of biases for leaf " +
				"network %v \n\twant(%v) \n\thave(%v)"
			return fmt.Errorf(msg, i, len(leafHiddenSizes[i]),
				len(leafBiases[i]))
		}
	}

	return nil
}

// NewTreeMLP returns a new NeuralNet with a tree MLP architecture.
// All nodes added to g are named with prefix.
//
// The observation network has number of layers equal to
// len(rootHiddenSizes). For index i, rootHiddenSizes[i] determines the
// number of hidden units in that layer, rootBiases[i] determines if a
// bias unit is added to the hidden layer, and rootActivations[i]
// determines the activation function to apply to that hidden layer.
//
// The number of leaf networks is defined by len(leafHiddenSizes).
// For indices i and j, leafHiddenSizes[i][j], leafBiases[i][j], and
// leafActivations[i][j] determine the number of hidden units of layer
// j in leaf network i, whether a bias is added to layer j of leaf
// network i, and the activation of layer j of leaf network i
// respectively. For all leaf networks, a final linear layer with a
// bias and no activations is added to ensure the output of each
// leaf network has the shape outputs.
//
// To create a network with only a single linear layer per leaf network,
// set leafHiddenSize = [][]int{{}, {}, ..., {}} (similarly for
// leafBiases and leafActivations).
func NewTreeMLP(features, batch, outputs int, g *G.ExprGraph,
	rootHiddenSizes []int, rootBiases []bool, rootActivations []*Activation,
	leafHiddenSizes [][]int, leafBiases [][]bool,
	leafActivations [][]*Activation, init G.InitWFn,
	prefix string) (NeuralNet, error) {

	err := validateTreeMLP(outputs, rootHiddenSizes, rootBiases, rootActivations,
		leafHiddenSizes, leafBiases, leafActivations)
	if err != nil {
		return nil, fmt.Errorf("newtreemlp: %v", err)
	}
	if features <= 0 || batch <= 0 {
		return nil, fmt.Errorf("newtreemlp: features (%v) and batch "+
			"(%v) must be positive", features, batch)
	}

	input := newInput(g, batch, features, prefix)

	// Create root/observation network and run its forward pass
	observationOutputs := rootHiddenSizes[len(rootHiddenSizes)-1]
	rootNetwork, err := newMultiHeadMLPFromInput([]*G.Node{input},
		observationOutputs, g, rootHiddenSizes, rootBiases, init,
		rootActivations, prefix+"Root", "", false)
	if err != nil {
		return nil, fmt.Errorf("newtreemlp: could not construct root "+
			"network: %v", err)
	}

	// Create leaf networks and run each of their forward passes
	rootOutput := rootNetwork.Prediction()
	numOutputs := make([]int, len(leafHiddenSizes))
	leafNetworks := make([]NeuralNet, len(leafHiddenSizes))
	for i := 0; i < len(leafHiddenSizes); i++ {
		leafPrefix := fmt.Sprintf("%sLeaf%d", prefix, i)

		leafNetworks[i], err = newMultiHeadMLPFromInput(rootOutput, outputs, g,
			leafHiddenSizes[i], leafBiases[i], init, leafActivations[i],
			leafPrefix, "", true)

		if err != nil {
			return nil, fmt.Errorf("newtreemlp: could not construct leaf "+
				"network %v: %v", i, err)
		}
		numOutputs[i] = outputs
	}

	net := &TreeMLP{
		g:            g,
		prefix:       prefix,
		rootNetwork:  rootNetwork,
		leafNetworks: leafNetworks,
		input:        input,
		numOutputs:   numOutputs,
		numInputs:    features,
		batchSize:    batch,
	}
	net.fwd()

	return net, nil
}

// Input returns the input node of the network
func (t *TreeMLP) Input() *G.Node {
	return t.input
}

// SetInput sets the value of the input node before running the forward
// pass.
func (t *TreeMLP) SetInput(input []float64) error {
	return setInput(t.input, input)
}

// Set sets the weights of the TreeMLP to be equal to the weights of
// another TreeMLP
func (t *TreeMLP) Set(source NeuralNet) error {
	return Set(t, source)
}

// Polyak sets the weights of the TreeMLP to be a polyak average between
// its existing weights and the weights of another TreeMLP
func (t *TreeMLP) Polyak(source NeuralNet, tau float64) error {
	return Polyak(t, source, tau)
}

// Outputs returns the number of outputs per leaf network
func (t *TreeMLP) Outputs() []int {
	return t.numOutputs
}

// OutputLayers returns the number of output layers in the network.
// There is one output layer per leaf network.
func (t *TreeMLP) OutputLayers() int {
	return len(t.Prediction())
}

// Graph returns the computational graph of the network
func (t *TreeMLP) Graph() *G.ExprGraph {
	return t.g
}

// Features returns the number of input features
func (t *TreeMLP) Features() []int {
	return []int{t.numInputs}
}

// Clone returns a clone of the TreeMLP.
func (t *TreeMLP) Clone() (NeuralNet, error) {
	return t.CloneWithBatch(t.batchSize)
}

// CloneWithBatch returns a clone of the TreeMLP with a new input
// batch size.
func (t *TreeMLP) CloneWithBatch(batchSize int) (NeuralNet, error) {
	graph := G.NewGraph()
	input := newInput(graph, batchSize, t.numInputs, t.prefix)

	return t.CloneWithInputTo(-1, []*G.Node{input}, graph)
}

// CloneWithInputTo clones the TreeMLP to a new graph with a given
// input node. If multiple input nodes are given, then
// they are first concatenated along the specified axis.
func (t *TreeMLP) CloneWithInputTo(axis int, inputs []*G.Node,
	graph *G.ExprGraph) (NeuralNet, error) {
	input, err := concatInputs(axis, inputs, graph)
	if err != nil {
		return nil, fmt.Errorf("clonewithinputto: %v", err)
	}

	rootClone, err := t.rootNetwork.CloneWithInputTo(-1, []*G.Node{input},
		graph)
	if err != nil {
		return nil, fmt.Errorf("clonewithinputto: could not clone root "+
			"network: %v", err)
	}

	rootOutput := rootClone.Prediction()

	leafClones := make([]NeuralNet, len(t.leafNetworks))
	for i := 0; i < len(leafClones); i++ {
		leafClones[i], err = t.leafNetworks[i].CloneWithInputTo(1,
			rootOutput, graph)
		if err != nil {
			msg := "clonewithinputto: could not clone leaf network %v: %v"
			return nil, fmt.Errorf(msg, i, err)
		}
	}

	net := &TreeMLP{
		g:            graph,
		prefix:       t.prefix,
		rootNetwork:  rootClone,
		leafNetworks: leafClones,
		input:        input,
		numOutputs:   t.numOutputs,
		numInputs:    t.numInputs,
		batchSize:    input.Shape()[0],
	}
	net.fwd()

	return net, nil
}

// BatchSize returns the batch size for inputs to the network
func (t *TreeMLP) BatchSize() int {
	return t.batchSize
}

// fwd collects the predictions of the leaf networks. Because of the
// way TreeMLPs are constructed, each sub-network has already computed
// its own forward pass.
func (t *TreeMLP) fwd() {
	leafPredictions := make([]*G.Node, 0, len(t.leafNetworks))
	for _, leafNet := range t.leafNetworks {
		leafPredictions = append(leafPredictions, leafNet.Prediction()...)
	}
	t.prediction = leafPredictions
}

// Output returns the output of the TreeMLP, one value per leaf
// network.
func (t *TreeMLP) Output() []G.Value {
	values := make([]G.Value, 0, len(t.leafNetworks))
	for _, leafNet := range t.leafNetworks {
		values = append(values, leafNet.Output()...)
	}
	return values
}

// Prediction returns the nodes of the computational graph the store
// the outputs of each leaf network
func (t *TreeMLP) Prediction() []*G.Node {
	return t.prediction
}

// Model returns the learnable nodes with their gradients.
func (t *TreeMLP) Model() []G.ValueGrad {
	// Lazy instantiation of model
	if t.model == nil {
		t.model = t.computeModel()
	}
	return t.model
}

// computeModel gets and returns all learnables of the network with
// their gradients
func (t *TreeMLP) computeModel() []G.ValueGrad {
	var model []G.ValueGrad
	for _, learnable := range t.Learnables() {
		model = append(model, learnable)
	}
	return model
}

// Learnables returns the learnable nodes in a TreeMLP
func (t *TreeMLP) Learnables() G.Nodes {
	// Lazy instantiation of learnables
	if t.learnables == nil {
		t.learnables = t.computeLearnables()
	}
	return t.learnables
}

// computeLearnables gets and returns all learnables of the network
func (t *TreeMLP) computeLearnables() G.Nodes {
	learnables := make([]*G.Node, 0)
	learnables = append(learnables, t.rootNetwork.Learnables()...)
	for _, leafNet := range t.leafNetworks {
		learnables = append(learnables, leafNet.Learnables()...)
	}

	return G.Nodes(learnables)
}
