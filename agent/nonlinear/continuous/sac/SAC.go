// Package sac implements the Soft Actor-Critic algorithm with either a
// state value function or twin target critics for bootstrapping
package sac

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/gosac/agent/nonlinear/continuous/critic"
	"github.com/samuelfneumann/gosac/agent/nonlinear/continuous/policy"
	env "github.com/samuelfneumann/gosac/environment"
	"github.com/samuelfneumann/gosac/expreplay"
	"github.com/samuelfneumann/gosac/network"
	ts "github.com/samuelfneumann/gosac/timestep"
	"github.com/samuelfneumann/gosac/utils/op"
)

// Losses holds the losses of the last training step. Value is only
// set for the ValueNetwork variant and Alpha only when the temperature
// is learned.
type Losses struct {
	Critic1 float64
	Critic2 float64
	Value   float64
	Actor   float64
	Alpha   float64
}

// Map returns the losses keyed by name
func (l Losses) Map() map[string]float64 {
	return map[string]float64{
		"critic1": l.Critic1,
		"critic2": l.Critic2,
		"value":   l.Value,
		"actor":   l.Actor,
		"alpha":   l.Alpha,
	}
}

// Option configures optional components of a SAC agent
type Option func(*SAC)

// WithReplay sets the experience replay buffer of the agent instead of
// creating one from the Config. The buffer must store states and
// actions of the environment's size and sample batches of the
// configured batch size.
func WithReplay(r expreplay.ExperienceReplayer) Option {
	return func(s *SAC) {
		s.replay = r
	}
}

// SAC implements the Soft Actor-Critic algorithm. Each training step
// proceeds in a fixed order:
//
//  1. Sample a batch of transitions
//  2. Compute the bootstrap target of the critics
//  3. Update both critics toward the target
//  4. Update the state value function (ValueNetwork variant only)
//  5. Update the policy using the just-updated critics
//  6. Update the temperature using the just-updated policy
//  7. Move all target networks toward their online networks
//
// Three copies of the policy are kept. The train policy lives in the
// graph of the policy loss, together with copies of both critics
// reading the train policy's actions. The sample policy has the same
// batch size and is used for forward passes during training, and the
// behaviour policy selects actions in single states. Both copies are
// set to the weights of the train policy after each policy update.
type SAC struct {
	variant Variant

	// Policy
	behaviour    *policy.SquashedGaussian
	samplePolicy *policy.SquashedGaussian
	trainPolicy  *policy.SquashedGaussian
	actorVM      G.VM
	actorSolver  G.Solver
	alphaNode    *G.Node
	actorLossVal G.Value

	// Copies of the critics in the policy loss graph
	q1View network.NeuralNet
	q2View network.NeuralNet

	q1       *critic.QFunction
	q2       *critic.QFunction
	q1Target *critic.Target // TwinTarget only
	q2Target *critic.Target // TwinTarget only

	v       *critic.ValueFunction // ValueNetwork only
	vTarget *critic.Target        // ValueNetwork only

	temperature *Temperature

	replay   expreplay.ExperienceReplayer
	prevStep ts.TimeStep

	features      int
	actionDims    int
	batchSize     int
	discount      float64
	tau           float64
	rewardScale   float64
	trainingSteps int

	losses  Losses
	updates int
}

// New creates a new SAC agent acting in environment e. Construction
// fails with a *ConfigurationError if the configuration is invalid or
// does not match e.
func New(e env.Environment, c Config, seed uint64,
	opts ...Option) (*SAC, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}

	features := e.ObservationSpec().Len()
	actionDims := e.ActionSpec().Len()
	batch := c.BatchSize()

	targetEntropy := -float64(actionDims)
	if c.TargetEntropy != nil {
		targetEntropy = *c.TargetEntropy
	}
	maxEntropy := float64(actionDims) * math.Ln2
	if targetEntropy >= maxEntropy {
		return nil, fmt.Errorf("new: %w", configErr("TargetEntropy",
			"target entropy %v must be < %v, the entropy of a uniform "+
				"distribution over the action space", targetEntropy,
			maxEntropy))
	}

	s := &SAC{
		variant:       c.Variant,
		features:      features,
		actionDims:    actionDims,
		batchSize:     batch,
		discount:      c.Discount,
		tau:           c.Tau,
		rewardScale:   c.RewardScale,
		trainingSteps: c.TrainingSteps,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Create the experience replay buffer
	if s.replay == nil {
		replay, err := c.ExpReplay.Create(features, actionDims, seed)
		if err != nil {
			return nil, fmt.Errorf("new: could not construct experience "+
				"replay buffer: %w", err)
		}
		s.replay = replay
	} else if err := validateReplay(s.replay, features, actionDims,
		batch); err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}

	var alphaSolver G.Solver
	if c.LearnAlpha {
		alphaSolver = c.AlphaSolver.Create()
	}
	temperature, err := NewTemperature(c.InitialAlpha, targetEntropy,
		c.LearnAlpha, alphaSolver)
	if err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}
	s.temperature = temperature

	// Create the critics, variant A minimizes half the mean squared
	// error
	initWFn := c.InitWFn.InitWFn()
	lossScale := 1.0
	if c.Variant == ValueNetwork {
		lossScale = 0.5
	}
	s.q1, err = critic.NewQFunction(features, actionDims, batch, c.Critic,
		initWFn, c.CriticSolver.Create(), lossScale, "Q1")
	if err != nil {
		return nil, fmt.Errorf("new: could not create critic 1: %w", err)
	}
	s.q2, err = critic.NewQFunction(features, actionDims, batch, c.Critic,
		initWFn, c.CriticSolver.Create(), lossScale, "Q2")
	if err != nil {
		return nil, fmt.Errorf("new: could not create critic 2: %w", err)
	}

	switch c.Variant {
	case ValueNetwork:
		s.v, err = critic.NewValueFunction(features, batch, c.Critic, initWFn,
			c.ValueSolver.Create(), lossScale, "V")
		if err != nil {
			return nil, fmt.Errorf("new: could not create value "+
				"function: %w", err)
		}
		if s.vTarget, err = s.v.Target(); err != nil {
			return nil, fmt.Errorf("new: %w", err)
		}

	case TwinTarget:
		if s.q1Target, err = s.q1.Target(); err != nil {
			return nil, fmt.Errorf("new: %w", err)
		}
		if s.q2Target, err = s.q2.Target(); err != nil {
			return nil, fmt.Errorf("new: %w", err)
		}
	}

	if err := s.buildActor(c, seed); err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}

	return s, nil
}

// validateReplay checks that an injected replay buffer matches the
// environment and configuration
func validateReplay(r expreplay.ExperienceReplayer, features, actionDims,
	batch int) error {
	if r.FeatureSize() != features {
		return configErr("ExpReplay", "buffer feature size %v does not "+
			"match observation size %v", r.FeatureSize(), features)
	}
	if r.ActionSize() != actionDims {
		return configErr("ExpReplay", "buffer action size %v does not "+
			"match action size %v", r.ActionSize(), actionDims)
	}
	if r.BatchSize() != batch {
		return configErr("ExpReplay", "buffer batch size %v does not "+
			"match batch size %v", r.BatchSize(), batch)
	}
	return nil
}

// buildActor creates the three policies and the policy loss
//
//	L(θ) = mean(α log π(ã|s) - min(Q1(s, ã), Q2(s, ã))),  ã ~ π(⋅|s)
//
// where the gradient flows through ã into the policy.
func (s *SAC) buildActor(c Config, seed uint64) error {
	g := G.NewGraph()
	arch := c.Policy

	var err error
	s.trainPolicy, err = policy.NewSquashedGaussian(s.features, s.actionDims,
		s.batchSize, g, arch.RootLayers, arch.RootBiases,
		arch.RootActivations, arch.LeafLayers, arch.LeafBiases,
		arch.LeafActivations, c.InitWFn.InitWFn(), c.MinLogStd, c.MaxLogStd,
		seed, "Policy")
	if err != nil {
		return fmt.Errorf("buildActor: %w", err)
	}

	s.samplePolicy, err = s.trainPolicy.CloneWithBatch(s.batchSize, seed+1)
	if err != nil {
		return fmt.Errorf("buildActor: %w", err)
	}
	s.behaviour, err = s.trainPolicy.CloneWithBatch(1, seed+2)
	if err != nil {
		return fmt.Errorf("buildActor: %w", err)
	}

	// Evaluate copies of the critics on the sampled actions
	inputs := []*G.Node{
		s.trainPolicy.Network().Input(),
		s.trainPolicy.ActionsNode(),
	}
	s.q1View, err = s.q1.Network().CloneWithInputTo(1, inputs, g)
	if err != nil {
		return fmt.Errorf("buildActor: could not copy critic 1: %w", err)
	}
	s.q2View, err = s.q2.Network().CloneWithInputTo(1, inputs, g)
	if err != nil {
		return fmt.Errorf("buildActor: could not copy critic 2: %w", err)
	}

	minQ, err := op.Min(s.q1View.Prediction()[0], s.q2View.Prediction()[0])
	if err != nil {
		return fmt.Errorf("buildActor: %w", err)
	}
	minQ = G.Must(G.Reshape(minQ, tensor.Shape{s.batchSize}))

	s.alphaNode = G.NewScalar(
		g,
		tensor.Float64,
		G.WithName("Alpha"),
		G.WithValue(s.temperature.Alpha()),
	)

	loss := G.Must(G.Mul(s.alphaNode, s.trainPolicy.LogProbNode()))
	loss = G.Must(G.Sub(loss, minQ))
	loss = G.Must(G.Mean(loss))
	G.Read(loss, &s.actorLossVal)

	learnables := s.trainPolicy.Network().Learnables()
	if _, err := G.Grad(loss, learnables...); err != nil {
		return fmt.Errorf("buildActor: could not compute policy "+
			"gradient: %w", err)
	}

	s.actorVM = G.NewTapeMachine(g, G.BindDualValues(learnables...))
	s.actorSolver = c.PolicySolver.Create()
	return nil
}

// GetAction samples an action in state. In evaluation mode the action
// is the squashed mean of the policy.
func (s *SAC) GetAction(state mat.Vector) (*mat.VecDense, error) {
	if state.Len() != s.features {
		return nil, fmt.Errorf("getAction: invalid state size \n\twant(%v) "+
			"\n\thave(%v)", s.features, state.Len())
	}
	obs := make([]float64, state.Len())
	for i := range obs {
		obs[i] = state.AtVec(i)
	}

	action, _, err := s.behaviour.Forward(obs)
	if err != nil {
		return nil, fmt.Errorf("getAction: %w", err)
	}
	return mat.NewVecDense(s.actionDims, action), nil
}

// SelectAction selects an action at timestep t
func (s *SAC) SelectAction(t ts.TimeStep) *mat.VecDense {
	return s.behaviour.SelectAction(t)
}

// Eval sets the agent to evaluation mode, where actions are selected
// deterministically
func (s *SAC) Eval() { s.behaviour.Eval() }

// Explore sets the agent to exploration mode, where actions are
// sampled from the policy
func (s *SAC) Explore() { s.behaviour.Explore() }

// IsEval returns whether the agent is in evaluation mode
func (s *SAC) IsEval() bool { return s.behaviour.IsEval() }

// ObserveFirst records the first timestep of an episode
func (s *SAC) ObserveFirst(t ts.TimeStep) error {
	if !t.First() {
		fmt.Fprintf(os.Stderr, "Warning: ObserveFirst() should only be "+
			"called on the first timestep (current timestep = %d)\n",
			t.Number)
	}
	s.prevStep = t
	return nil
}

// Observe records that taking action in the previously observed
// timestep led to nextStep, adding the transition to the replay buffer
func (s *SAC) Observe(action mat.Vector, nextStep ts.TimeStep) error {
	if !nextStep.First() {
		transition := ts.NewTransition(s.prevStep, mat.VecDenseCopyOf(action),
			nextStep)
		if err := s.replay.Add(transition); err != nil {
			return fmt.Errorf("observe: could not add to replay buffer: %w",
				err)
		}
	}
	s.prevStep = nextStep
	return nil
}

// Add adds a single transition to the replay buffer
func (s *SAC) Add(state, action mat.Vector, reward float64,
	nextState mat.Vector, done bool) error {
	t := ts.Transition{
		State:     mat.VecDenseCopyOf(state),
		Action:    mat.VecDenseCopyOf(action),
		Reward:    reward,
		NextState: mat.VecDenseCopyOf(nextState),
		Done:      done,
	}
	if err := s.replay.Add(t); err != nil {
		return fmt.Errorf("add: %w", err)
	}
	return nil
}

// EndEpisode performs cleanup at the end of an episode
func (s *SAC) EndEpisode() {}

// Step trains the agent for the configured number of training steps.
// Training is deferred until the replay buffer holds its minimum
// number of transitions.
func (s *SAC) Step() error {
	if s.replay.Capacity() < s.replay.MinCapacity() {
		return nil
	}
	if err := s.Train(s.trainingSteps); err != nil {
		return fmt.Errorf("step: %w", err)
	}
	return nil
}

// Train takes n complete training steps. If the replay buffer holds
// too few transitions, an error wrapping ErrInsufficientData is
// returned.
func (s *SAC) Train(n int) error {
	for i := 0; i < n; i++ {
		if err := s.trainStep(); err != nil {
			return fmt.Errorf("train: %w", err)
		}
	}
	return nil
}

// trainStep takes a single training step
func (s *SAC) trainStep() error {
	batch, err := s.replay.Sample()
	if expreplay.IsEmptyBuffer(err) || expreplay.IsInsufficientSamples(err) {
		return fmt.Errorf("%w: %w", ErrInsufficientData, err)
	} else if err != nil {
		return err
	}
	alpha := s.temperature.Alpha()

	// Critic bootstrap targets use the targets before this step's update
	target, err := s.criticTarget(batch, alpha)
	if err != nil {
		return fmt.Errorf("could not compute critic target: %w", err)
	}

	// Update critics
	stateActions, err := s.q1.Concat(batch.State, batch.Action)
	if err != nil {
		return err
	}
	if s.losses.Critic1, err = s.q1.Step(stateActions, target); err != nil {
		return fmt.Errorf("could not update critic 1: %w", err)
	}
	if s.losses.Critic2, err = s.q2.Step(stateActions, target); err != nil {
		return fmt.Errorf("could not update critic 2: %w", err)
	}

	// Update the state value function toward the soft value of the
	// current policy under the updated critics
	if s.variant == ValueNetwork {
		actions, logProb, err := s.samplePolicy.Forward(batch.State)
		if err != nil {
			return err
		}
		vTarget, err := s.softValue(s.q1, s.q2, batch.State, actions,
			logProb, alpha)
		if err != nil {
			return fmt.Errorf("could not compute value target: %w", err)
		}
		if s.losses.Value, err = s.v.Step(batch.State, vTarget); err != nil {
			return fmt.Errorf("could not update value function: %w", err)
		}
	}

	if err := s.updateActor(batch.State, alpha); err != nil {
		return err
	}

	// Update the temperature with the log probabilities of the updated
	// policy
	if s.temperature.Learning() {
		_, logProb, err := s.samplePolicy.Forward(batch.State)
		if err != nil {
			return err
		}
		if s.losses.Alpha, err = s.temperature.Update(logProb); err != nil {
			return fmt.Errorf("could not update temperature: %w", err)
		}
	}

	if err := s.updateTargets(); err != nil {
		return err
	}

	s.updates++
	return nil
}

// criticTarget computes the bootstrap target of the critics
func (s *SAC) criticTarget(batch expreplay.Batch,
	alpha float64) ([]float64, error) {
	var next []float64
	switch s.variant {
	case ValueNetwork:
		var err error
		if next, err = s.vTarget.Predict(batch.NextState); err != nil {
			return nil, err
		}

	case TwinTarget:
		// Actions are sampled from the current policy in the stored
		// next states
		actions, logProb, err := s.samplePolicy.Forward(batch.NextState)
		if err != nil {
			return nil, err
		}
		next, err = s.softValue(s.q1Target, s.q2Target, batch.NextState,
			actions, logProb, alpha)
		if err != nil {
			return nil, err
		}
	}

	// y = scale * r + ℽ(1 - done) * next
	target := make([]float64, batch.Size())
	for i := range target {
		target[i] = s.rewardScale*batch.Reward[i] +
			s.discount*(1-batch.Done[i])*next[i]
	}
	return target, nil
}

// predictor predicts state-action values
type predictor interface {
	Predict([]float64) ([]float64, error)
}

// softValue returns min(q1(s, a), q2(s, a)) - α log π(a|s) for each
// state s and action a
func (s *SAC) softValue(q1, q2 predictor, states, actions,
	logProb []float64, alpha float64) ([]float64, error) {
	inputs, err := critic.Concat(states, actions, s.features, s.actionDims)
	if err != nil {
		return nil, err
	}

	q1Values, err := q1.Predict(inputs)
	if err != nil {
		return nil, err
	}
	q2Values, err := q2.Predict(inputs)
	if err != nil {
		return nil, err
	}

	value := make([]float64, len(q1Values))
	for i := range value {
		value[i] = math.Min(q1Values[i], q2Values[i])
	}
	floats.AddScaled(value, -alpha, logProb)
	return value, nil
}

// updateActor takes a single gradient step on the policy loss in states
// and sets the sample and behaviour policies to the updated weights
func (s *SAC) updateActor(states []float64, alpha float64) error {
	if err := network.Set(s.q1View, s.q1.Network()); err != nil {
		return fmt.Errorf("updateActor: %w", err)
	}
	if err := network.Set(s.q2View, s.q2.Network()); err != nil {
		return fmt.Errorf("updateActor: %w", err)
	}
	if err := G.Let(s.alphaNode, G.NewF64(alpha)); err != nil {
		return fmt.Errorf("updateActor: could not set alpha: %w", err)
	}

	if err := s.trainPolicy.Network().SetInput(states); err != nil {
		return fmt.Errorf("updateActor: %w", err)
	}
	if err := s.trainPolicy.SampleNoise(); err != nil {
		return fmt.Errorf("updateActor: %w", err)
	}

	if err := s.actorVM.RunAll(); err != nil {
		return fmt.Errorf("updateActor: could not run VM: %w", err)
	}
	s.losses.Actor = s.actorLossVal.Data().(float64)
	err := s.actorSolver.Step(s.trainPolicy.Network().Model())
	s.actorVM.Reset()
	if err != nil {
		return fmt.Errorf("updateActor: could not step solver: %w", err)
	}

	if err := network.Set(s.samplePolicy.Network(),
		s.trainPolicy.Network()); err != nil {
		return fmt.Errorf("updateActor: %w", err)
	}
	if err := network.Set(s.behaviour.Network(),
		s.trainPolicy.Network()); err != nil {
		return fmt.Errorf("updateActor: %w", err)
	}
	return nil
}

// updateTargets moves all target networks toward their online networks
func (s *SAC) updateTargets() error {
	var targets []*critic.Target
	switch s.variant {
	case ValueNetwork:
		targets = []*critic.Target{s.vTarget}
	case TwinTarget:
		targets = []*critic.Target{s.q1Target, s.q2Target}
	}

	for _, target := range targets {
		if err := target.Update(s.tau); err != nil {
			return fmt.Errorf("updateTargets: %w", err)
		}
	}
	return nil
}

// Alpha returns the current temperature
func (s *SAC) Alpha() float64 {
	return s.temperature.Alpha()
}

// Losses returns the losses of the last training step
func (s *SAC) Losses() Losses {
	return s.losses
}

// Updates returns the number of training steps taken
func (s *SAC) Updates() int {
	return s.updates
}

// Variant returns the bootstrap variant of the agent
func (s *SAC) Variant() Variant {
	return s.variant
}

// Replay returns the experience replay buffer of the agent
func (s *SAC) Replay() expreplay.ExperienceReplayer {
	return s.replay
}

// Networks returns the online and target networks of the agent by name
func (s *SAC) Networks() map[string]network.NeuralNet {
	nets := map[string]network.NeuralNet{
		"Actor":   s.trainPolicy.Network(),
		"Critic1": s.q1.Network(),
		"Critic2": s.q2.Network(),
	}
	switch s.variant {
	case ValueNetwork:
		nets["V_network"] = s.v.Network()
		nets["Target_V_network"] = s.vTarget.Network()
	case TwinTarget:
		nets["Target_Critic1"] = s.q1Target.Network()
		nets["Target_Critic2"] = s.q2Target.Network()
	}
	return nets
}

// Close closes all VMs of the agent
func (s *SAC) Close() error {
	closers := []interface{ Close() error }{
		s.behaviour, s.samplePolicy, s.q1, s.q2, s.temperature,
	}
	switch s.variant {
	case ValueNetwork:
		closers = append(closers, s.v, s.vTarget)
	case TwinTarget:
		closers = append(closers, s.q1Target, s.q2Target)
	}

	var errs []error
	if s.actorVM != nil {
		errs = append(errs, s.actorVM.Close())
	}
	for _, c := range closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
