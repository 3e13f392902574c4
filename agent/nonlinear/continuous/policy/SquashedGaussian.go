// Package policy implements neural network policies for continuous
// actions
package policy

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/gosac/network"
	"github.com/samuelfneumann/gosac/timestep"
	"github.com/samuelfneumann/gosac/utils/op"
)

// SquashEpsilon is added inside the log of the tanh Jacobian so that
// the log probability of saturated actions stays finite
const SquashEpsilon float64 = 1e-6

// Default bounds of the log standard deviation
const (
	DefaultMinLogStd float64 = -20.0
	DefaultMaxLogStd float64 = 2.0
)

// SquashedGaussian implements a Gaussian policy whose samples are
// squashed through tanh. The policy is parameterized by a tree MLP
// with a single root network and two leaf networks. One leaf predicts
// the mean μ and the other the log standard deviation log(σ) of the
// Gaussian, which is clipped to [minLogStd, maxLogStd]. See the
// network.TreeMLP struct for more details.
//
// Actions are selected with the reparameterization trick. Given noise
// ɛ ~ N(0, I), the policy computes u := μ + σ * ɛ and the action
// a := tanh(u), which is always in [-1, 1]. The log probability of a
// is
//
//	log π(a|s) = Σ_d [log N(u_d; μ_d, σ_d) - log(1 - tanh(u_d)² + ϵ)]
//
// and is differentiable with respect to the weights of the policy
// through both μ and σ. The noise ɛ is an input node of the graph so
// that the action and its log probability can be used to construct
// a loss in the policy's graph.
//
// In evaluation mode the noise is zero and actions are tanh(μ).
type SquashedGaussian struct {
	vm  G.VM // Lazily created, only for forward passes
	net network.NeuralNet

	eps     *G.Node
	actions *G.Node
	logProb *G.Node

	actionsVal G.Value
	logProbVal G.Value

	normal     distmv.Rander
	prefix     string
	actionDims int
	minLogStd  float64
	maxLogStd  float64
	seed       uint64
	eval       bool
}

// NewSquashedGaussian returns a new SquashedGaussian policy on graph g
// for states with features features and actions with actionDims
// dimensions. The neural network parameterization of the policy is
// defined by rootHiddenSizes, rootBiases, rootActivations,
// leafHiddenSizes, leafBiases, and leafActivations. See the
// network.TreeMLP struct for details on what each of these parameters
// defines. There must be exactly two leaf networks.
//
// The batch parameter determines the number of states the policy acts
// in simultaneously. All nodes added to g are named with prefix. The
// init parameter determines the weight initialization scheme for the
// neural net and the seed parameter determines the seed of the
// policy's noise sampler.
func NewSquashedGaussian(features, actionDims, batch int, g *G.ExprGraph,
	rootHiddenSizes []int, rootBiases []bool,
	rootActivations []*network.Activation, leafHiddenSizes [][]int,
	leafBiases [][]bool, leafActivations [][]*network.Activation,
	init G.InitWFn, minLogStd, maxLogStd float64, seed uint64,
	prefix string) (*SquashedGaussian, error) {
	if len(leafHiddenSizes) != 2 {
		return nil, fmt.Errorf("newSquashedGaussian: gaussian policy "+
			"requires exactly 2 leaf networks \n\twant(2) \n\thave(%v)",
			len(leafHiddenSizes))
	}

	net, err := network.NewTreeMLP(
		features,
		batch,
		actionDims,
		g,
		rootHiddenSizes,
		rootBiases,
		rootActivations,
		leafHiddenSizes,
		leafBiases,
		leafActivations,
		init,
		prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("newSquashedGaussian: %w", err)
	}

	return newFromNetwork(net, prefix, minLogStd, maxLogStd, seed)
}

// newFromNetwork adds the nodes needed to sample actions and compute
// their log probabilities to the graph of net
func newFromNetwork(net network.NeuralNet, prefix string, minLogStd,
	maxLogStd float64, seed uint64) (*SquashedGaussian, error) {
	if minLogStd >= maxLogStd {
		return nil, fmt.Errorf("newSquashedGaussian: min log std (%v) "+
			"must be < max log std (%v)", minLogStd, maxLogStd)
	}
	if net.OutputLayers() != 2 {
		return nil, fmt.Errorf("newSquashedGaussian: network must have " +
			"a mean and log standard deviation output")
	}

	g := net.Graph()
	batch := net.BatchSize()
	actionDims := net.Outputs()[0]

	mean := net.Prediction()[0]
	logStd, err := op.Clip(net.Prediction()[1], minLogStd, maxLogStd)
	if err != nil {
		return nil, fmt.Errorf("newSquashedGaussian: could not clip log "+
			"std: %w", err)
	}
	std := G.Must(G.Exp(logStd))

	eps := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithName(prefix+"Epsilon"),
		G.WithShape(batch, actionDims),
		G.WithInit(G.Zeroes()),
	)

	// u = μ + σ * ɛ, a = tanh(u)
	u := G.Must(G.Add(mean, G.Must(G.HadamardProd(std, eps))))
	actions := G.Must(G.Tanh(u))

	logProb := logProbOf(actions, logStd, eps)

	// Create standard normal for noise sampling
	means := make([]float64, actionDims)
	stds := make([]float64, actionDims)
	for i := range stds {
		stds[i] = 1.0
	}
	source := rand.NewSource(seed)
	normal, ok := distmv.NewNormal(means, mat.NewDiagDense(actionDims, stds),
		source)
	if !ok {
		return nil, fmt.Errorf("newSquashedGaussian: could not create " +
			"standard normal for action selection")
	}

	pol := &SquashedGaussian{
		net: net,

		eps:     eps,
		actions: actions,
		logProb: logProb,

		normal:     normal,
		prefix:     prefix,
		actionDims: actionDims,
		minLogStd:  minLogStd,
		maxLogStd:  maxLogStd,
		seed:       seed,
	}

	// Record values of Gorgonia nodes
	G.Read(pol.actions, &pol.actionsVal)
	G.Read(pol.logProb, &pol.logProbVal)

	return pol, nil
}

// logProbOf adds nodes to the graph of actions computing the log
// probability of each row of actions, where actions = tanh(μ + σ * ɛ).
// Since (u - μ) / σ = ɛ, the Gaussian log density of u is computed
// from ɛ directly.
func logProbOf(actions, logStd, eps *G.Node) *G.Node {
	negativeHalf := G.NewConstant(-0.5)
	logSqrt2Pi := G.NewConstant(0.5 * math.Log(2*math.Pi))

	// log N(u; μ, σ) = -ɛ²/2 - log(σ) - log(2π)/2
	gaussian := G.Must(G.HadamardProd(negativeHalf, G.Must(G.Square(eps))))
	gaussian = G.Must(G.Sub(gaussian, logStd))
	gaussian = G.Must(G.Sub(gaussian, logSqrt2Pi))

	// log(1 - tanh(u)² + ϵ)
	onePlusEps := G.NewConstant(1.0 + SquashEpsilon)
	correction := G.Must(G.Sub(onePlusEps, G.Must(G.Square(actions))))
	correction = G.Must(G.Log(correction))

	logProb := G.Must(G.Sub(gaussian, correction))
	return G.Must(G.Sum(logProb, 1))
}

// SquashCorrection returns the log of the Jacobian term subtracted from
// the Gaussian log density for a pre-squash value u:
//
//	log(1 - tanh(u)² + SquashEpsilon)
//
// The result is finite for all u and is bounded below by
// log(SquashEpsilon).
func SquashCorrection(u float64) float64 {
	a := math.Tanh(u)
	return math.Log(1 - a*a + SquashEpsilon)
}

// CloneWithBatch clones the policy to a new graph with a new batch
// size. The clone has its own noise sampler seeded with seed.
func (s *SquashedGaussian) CloneWithBatch(batch int,
	seed uint64) (*SquashedGaussian, error) {
	net, err := s.net.CloneWithBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("cloneWithBatch: %w", err)
	}

	pol, err := newFromNetwork(net, s.prefix, s.minLogStd, s.maxLogStd, seed)
	if err != nil {
		return nil, fmt.Errorf("cloneWithBatch: %w", err)
	}
	pol.eval = s.eval
	return pol, nil
}

// Network returns the network of the policy
func (s *SquashedGaussian) Network() network.NeuralNet {
	return s.net
}

// ActionDims returns the dimensionality of actions
func (s *SquashedGaussian) ActionDims() int {
	return s.actionDims
}

// ActionsNode returns the node holding the squashed actions sampled
// in each state of the batch
func (s *SquashedGaussian) ActionsNode() *G.Node {
	return s.actions
}

// LogProbNode returns the node holding the log probability of the
// actions held by ActionsNode
func (s *SquashedGaussian) LogProbNode() *G.Node {
	return s.logProb
}

// SampleNoise sets the noise input of the policy. In evaluation mode
// the noise is zero, otherwise it is sampled from a standard normal
// for each state in the batch.
func (s *SquashedGaussian) SampleNoise() error {
	batch := s.net.BatchSize()
	noise := make([]float64, batch*s.actionDims)
	if !s.eval {
		for i := 0; i < batch; i++ {
			s.normal.Rand(noise[i*s.actionDims : (i+1)*s.actionDims])
		}
	}
	return s.SetNoise(noise)
}

// SetNoise sets the noise input ɛ of the policy explicitly. Noise is
// given in row major order.
func (s *SquashedGaussian) SetNoise(noise []float64) error {
	if len(noise) != s.eps.Shape().TotalSize() {
		return fmt.Errorf("setNoise: invalid noise size \n\twant(%v) "+
			"\n\thave(%v)", s.eps.Shape().TotalSize(), len(noise))
	}
	noiseTensor := tensor.New(
		tensor.WithBacking(noise),
		tensor.WithShape(s.eps.Shape()...),
	)
	return G.Let(s.eps, noiseTensor)
}

// Forward samples actions in each of the argument states, given in row
// major order, and returns the actions and their log probabilities.
// Forward uses the policy's own VM and cannot be used once the
// policy's graph has been extended with a loss.
func (s *SquashedGaussian) Forward(states []float64) ([]float64, []float64,
	error) {
	if s.vm == nil {
		s.vm = G.NewTapeMachine(s.net.Graph())
	}

	if err := s.net.SetInput(states); err != nil {
		return nil, nil, fmt.Errorf("forward: cannot set input: %w", err)
	}
	if err := s.SampleNoise(); err != nil {
		return nil, nil, fmt.Errorf("forward: cannot set noise: %w", err)
	}

	if err := s.vm.RunAll(); err != nil {
		return nil, nil, fmt.Errorf("forward: could not run policy VM: %w",
			err)
	}
	defer s.vm.Reset()

	actions := append([]float64{}, s.actionsVal.Data().([]float64)...)
	logProb := append([]float64{}, s.logProbVal.Data().([]float64)...)
	return actions, logProb, nil
}

// Actions returns the actions held by the actions node after the
// policy's graph has been run
func (s *SquashedGaussian) Actions() []float64 {
	return append([]float64{}, s.actionsVal.Data().([]float64)...)
}

// LogProb returns the log probabilities held by the log probability
// node after the policy's graph has been run
func (s *SquashedGaussian) LogProb() []float64 {
	return append([]float64{}, s.logProbVal.Data().([]float64)...)
}

// SelectAction selects and returns an action at the argument timestep
// t. Action selection can only be done with a policy of batch size 1.
func (s *SquashedGaussian) SelectAction(t timestep.TimeStep) *mat.VecDense {
	if size := s.net.BatchSize(); size != 1 {
		panic(fmt.Sprintf("selectAction: action selection can only be done "+
			"with a policy with batch size 1 \n\twant(1) \n\thave(%v)", size))
	}

	obs := make([]float64, t.Observation.Len())
	for i := range obs {
		obs[i] = t.Observation.AtVec(i)
	}

	actions, _, err := s.Forward(obs)
	if err != nil {
		panic(fmt.Sprintf("selectAction: %v", err))
	}
	return mat.NewVecDense(s.actionDims, actions)
}

// Eval sets the policy to evaluation mode, where actions are tanh(μ)
func (s *SquashedGaussian) Eval() { s.eval = true }

// Explore sets the policy to exploration mode, where actions are
// sampled
func (s *SquashedGaussian) Explore() { s.eval = false }

// IsEval returns whether the policy is in evaluation mode
func (s *SquashedGaussian) IsEval() bool { return s.eval }

// Close closes the policy's VM
func (s *SquashedGaussian) Close() error {
	if s.vm == nil {
		return nil
	}
	return s.vm.Close()
}
