package sac

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"github.com/samuelfneumann/gosac/agent"
	"github.com/samuelfneumann/gosac/agent/nonlinear/continuous/critic"
	"github.com/samuelfneumann/gosac/environment/synthetic"
	"github.com/samuelfneumann/gosac/expreplay"
	"github.com/samuelfneumann/gosac/network"
	"github.com/samuelfneumann/gosac/solver"
)

var _ agent.Agent = &SAC{}

func testConfig(t testing.TB, v Variant) Config {
	t.Helper()
	adam, err := solver.NewDefaultAdam(1e-3, 1)
	require.NoError(t, err)

	c := DefaultConfig(v)
	c.Policy = PolicyArchitecture{
		RootLayers:      []int{16},
		RootBiases:      []bool{true},
		RootActivations: []*network.Activation{network.ReLU()},
		LeafLayers:      [][]int{{}, {}},
		LeafBiases:      [][]bool{{}, {}},
		LeafActivations: [][]*network.Activation{{}, {}},
	}
	c.Critic = critic.Architecture{
		Layers:      []int{32},
		Biases:      []bool{true},
		Activations: []*network.Activation{network.ReLU()},
	}
	c.PolicySolver = adam
	c.CriticSolver = adam
	if c.ValueSolver != nil {
		c.ValueSolver = adam
	}
	if c.AlphaSolver != nil {
		c.AlphaSolver = adam
	}
	c.ExpReplay = expreplay.Config{
		MaxReplayCapacity: 1000,
		MinReplayCapacity: 4,
		BatchSize:         4,
	}
	return c
}

func newTestAgent(t testing.TB, c Config, seed uint64) (*SAC,
	*synthetic.Tracking) {
	t.Helper()
	e, _, err := synthetic.New([]float64{0.5}, 10, 0.99, seed)
	require.NoError(t, err)

	s, err := New(e, c, seed)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, e
}

// fill adds n transitions with uniformly random states and actions to
// the replay buffer of s
func fill(t testing.TB, s *SAC, e *synthetic.Tracking, n int, done bool,
	seed uint64) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < n; i++ {
		state := mat.NewVecDense(1, []float64{2*rng.Float64() - 1})
		action := mat.NewVecDense(1, []float64{2*rng.Float64() - 1})
		next := mat.NewVecDense(1, []float64{2*rng.Float64() - 1})
		r := e.GetReward(state, action, next)
		require.NoError(t, s.Add(state, action, r, next, done))
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		field  string
		modify func(*Config)
	}{
		{"Variant", func(c *Config) { c.Variant = "SAC3" }},
		{"ValueSolver", func(c *Config) {
			c.Variant = ValueNetwork
			c.ValueSolver = nil
		}},
		{"Policy", func(c *Config) { c.Policy.LeafLayers = [][]int{{}} }},
		{"InitWFn", func(c *Config) { c.InitWFn = nil }},
		{"AlphaSolver", func(c *Config) { c.AlphaSolver = nil }},
		{"MinLogStd", func(c *Config) { c.MinLogStd = 3 }},
		{"Discount", func(c *Config) { c.Discount = 1.5 }},
		{"Tau", func(c *Config) { c.Tau = -0.1 }},
		{"InitialAlpha", func(c *Config) { c.InitialAlpha = 0 }},
		{"RewardScale", func(c *Config) { c.RewardScale = -1 }},
		{"TrainingSteps", func(c *Config) { c.TrainingSteps = 0 }},
		{"ExpReplay", func(c *Config) { c.ExpReplay.BatchSize = 0 }},

		// NaN fails every comparison, so it must be rejected explicitly
		{"MinLogStd", func(c *Config) { c.MinLogStd = math.NaN() }},
		{"MinLogStd", func(c *Config) { c.MaxLogStd = math.NaN() }},
		{"MinLogStd", func(c *Config) { c.MaxLogStd = math.Inf(1) }},
		{"Discount", func(c *Config) { c.Discount = math.NaN() }},
		{"Tau", func(c *Config) { c.Tau = math.NaN() }},
		{"InitialAlpha", func(c *Config) { c.InitialAlpha = math.NaN() }},
		{"InitialAlpha", func(c *Config) { c.InitialAlpha = math.Inf(1) }},
		{"RewardScale", func(c *Config) { c.RewardScale = math.NaN() }},
		{"RewardScale", func(c *Config) { c.RewardScale = math.Inf(1) }},
		{"TargetEntropy", func(c *Config) {
			h := math.NaN()
			c.TargetEntropy = &h
		}},
	}

	require.NoError(t, testConfig(t, TwinTarget).Validate())
	require.NoError(t, testConfig(t, ValueNetwork).Validate())

	for _, test := range tests {
		t.Run(test.field, func(t *testing.T) {
			c := testConfig(t, TwinTarget)
			test.modify(&c)

			var cfgErr *ConfigurationError
			err := c.Validate()
			require.True(t, errors.As(err, &cfgErr), "error: %v", err)
			assert.Equal(t, test.field, cfgErr.Field)
		})
	}
}

func TestNewConfigurationErrors(t *testing.T) {
	e, _, err := synthetic.New([]float64{0.5}, 10, 0.99, 1)
	require.NoError(t, err)
	var cfgErr *ConfigurationError

	// One action dimension has a maximum entropy of log(2)
	c := testConfig(t, TwinTarget)
	entropy := 0.7
	c.TargetEntropy = &entropy
	_, err = New(e, c, 1)
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "TargetEntropy", cfgErr.Field)

	nan := math.NaN()
	c.TargetEntropy = &nan
	_, err = New(e, c, 1)
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "TargetEntropy", cfgErr.Field)

	// A NaN tau would poison every target network on the first update
	c = testConfig(t, TwinTarget)
	c.Tau = math.NaN()
	s, err := New(e, c, 1)
	assert.Nil(t, s)
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "Tau", cfgErr.Field)

	// Injected replay buffers must match the environment
	c = testConfig(t, TwinTarget)
	replay, err := expreplay.New(expreplay.NewUniformSelector(4, 1), 4, 100,
		3, 1)
	require.NoError(t, err)
	_, err = New(e, c, 1, WithReplay(replay))
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "ExpReplay", cfgErr.Field)

	replay, err = expreplay.New(expreplay.NewUniformSelector(8, 1), 4, 100,
		1, 1)
	require.NoError(t, err)
	_, err = New(e, c, 1, WithReplay(replay))
	require.True(t, errors.As(err, &cfgErr))
}

func TestInsufficientData(t *testing.T) {
	s, e := newTestAgent(t, testConfig(t, TwinTarget), 1)

	err := s.Train(1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientData))
	assert.True(t, expreplay.IsEmptyBuffer(err))

	fill(t, s, e, 2, false, 1)
	err = s.Train(1)
	assert.True(t, errors.Is(err, ErrInsufficientData))
	assert.True(t, expreplay.IsInsufficientSamples(err))

	// Step defers training until the buffer is ready
	require.NoError(t, s.Step())
	assert.Equal(t, 0, s.Updates())

	fill(t, s, e, 2, false, 2)
	require.NoError(t, s.Step())
	assert.Equal(t, 1, s.Updates())
}

func TestGetActionBounded(t *testing.T) {
	s, _ := newTestAgent(t, testConfig(t, TwinTarget), 2)

	for _, x := range []float64{0, 1, -1, 1e3, -1e3, 1e8, -1e8} {
		action, err := s.GetAction(mat.NewVecDense(1, []float64{x}))
		require.NoError(t, err)
		require.Equal(t, 1, action.Len())
		assert.GreaterOrEqual(t, action.AtVec(0), -1.0)
		assert.LessOrEqual(t, action.AtVec(0), 1.0)
	}

	_, err := s.GetAction(mat.NewVecDense(2, nil))
	assert.Error(t, err)
}

func TestEvalMode(t *testing.T) {
	s, _ := newTestAgent(t, testConfig(t, TwinTarget), 3)
	state := mat.NewVecDense(1, []float64{0.4})

	s.Eval()
	require.True(t, s.IsEval())
	a1, err := s.GetAction(state)
	require.NoError(t, err)
	a2, err := s.GetAction(state)
	require.NoError(t, err)
	assert.Equal(t, a1.AtVec(0), a2.AtVec(0))

	s.Explore()
	assert.False(t, s.IsEval())
}

func TestObserve(t *testing.T) {
	s, e := newTestAgent(t, testConfig(t, ValueNetwork), 4)

	step, err := e.Reset()
	require.NoError(t, err)
	require.NoError(t, s.ObserveFirst(step))

	for !step.Last() {
		action := s.SelectAction(step)
		step, _, err = e.Step(action)
		require.NoError(t, err)
		require.NoError(t, s.Observe(action, step))
		require.NoError(t, s.Step())
	}
	s.EndEpisode()

	// 10 steps per episode, training starts after the 4th transition
	assert.Equal(t, 10, s.Replay().Capacity())
	assert.Equal(t, 7, s.Updates())

	// Episodes cut off by the step limit keep bootstrapping
	batch, err := s.Replay().Sample()
	require.NoError(t, err)
	for _, d := range batch.Done {
		assert.Equal(t, 0.0, d)
	}
}

func TestVariants(t *testing.T) {
	for _, v := range []Variant{ValueNetwork, TwinTarget} {
		t.Run(string(v), func(t *testing.T) {
			c := testConfig(t, v)
			c.LearnAlpha = true
			adam, err := solver.NewDefaultAdam(1e-3, 1)
			require.NoError(t, err)
			c.AlphaSolver = adam

			s, e := newTestAgent(t, c, 5)
			fill(t, s, e, 50, false, 5)

			alpha := s.Alpha()
			require.NoError(t, s.Train(20))
			assert.Equal(t, 20, s.Updates())
			assert.NotEqual(t, alpha, s.Alpha())
			assert.Greater(t, s.Alpha(), 0.0)

			losses := s.Losses()
			for _, l := range []float64{losses.Critic1, losses.Critic2,
				losses.Actor, losses.Alpha, losses.Value} {
				assert.False(t, math.IsNaN(l) || math.IsInf(l, 0))
			}

			nets := s.Networks()
			assert.Contains(t, nets, "Actor")
			assert.Contains(t, nets, "Critic1")
			assert.Contains(t, nets, "Critic2")
			if v == ValueNetwork {
				assert.NotEqual(t, 0.0, losses.Value)
				assert.Contains(t, nets, "V_network")
				assert.Contains(t, nets, "Target_V_network")
				assert.NotContains(t, nets, "Target_Critic1")
			} else {
				assert.Equal(t, 0.0, losses.Value)
				assert.Contains(t, nets, "Target_Critic1")
				assert.Contains(t, nets, "Target_Critic2")
				assert.NotContains(t, nets, "V_network")
			}
		})
	}
}

func TestSoftTargetUpdate(t *testing.T) {
	weights := func(n network.NeuralNet) [][]float64 {
		var w [][]float64
		for _, l := range n.Learnables() {
			w = append(w, append([]float64{}, l.Value().Data().([]float64)...))
		}
		return w
	}

	// A tau of 0 never moves the targets
	c := testConfig(t, TwinTarget)
	c.Tau = 0
	s, e := newTestAgent(t, c, 6)
	fill(t, s, e, 20, false, 6)

	before := weights(s.q1Target.Network())
	require.NoError(t, s.Train(5))
	assert.Equal(t, before, weights(s.q1Target.Network()))
	assert.NotEqual(t, before, weights(s.q1.Network()))

	// A tau of 1 copies the online networks
	c.Tau = 1
	s, e = newTestAgent(t, c, 7)
	fill(t, s, e, 20, false, 7)
	require.NoError(t, s.Train(5))
	assert.Equal(t, weights(s.q1.Network()), weights(s.q1Target.Network()))
	assert.Equal(t, weights(s.q2.Network()), weights(s.q2Target.Network()))

	// Intermediate tau moves the target toward the online network
	c = testConfig(t, ValueNetwork)
	c.Tau = 0.5
	s, e = newTestAgent(t, c, 8)
	fill(t, s, e, 20, false, 8)
	require.NoError(t, s.Train(1))
	assert.NotEqual(t, weights(s.v.Network()), weights(s.vTarget.Network()))
}

func TestPoliciesStayInSync(t *testing.T) {
	s, e := newTestAgent(t, testConfig(t, TwinTarget), 9)
	fill(t, s, e, 20, false, 9)
	require.NoError(t, s.Train(3))

	train := s.trainPolicy.Network().Learnables()
	for i, l := range s.behaviour.Network().Learnables() {
		assert.Equal(t, train[i].Value().Data(), l.Value().Data())
	}
	for i, l := range s.samplePolicy.Network().Learnables() {
		assert.Equal(t, train[i].Value().Data(), l.Value().Data())
	}
}

// TestCriticLossTrend trains on a fixed set of terminal transitions so
// that the critic target is the stationary reward function
func TestCriticLossTrend(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping long training run")
	}

	for _, v := range []Variant{ValueNetwork, TwinTarget} {
		t.Run(string(v), func(t *testing.T) {
			s, e := newTestAgent(t, testConfig(t, v), 10)
			fill(t, s, e, 200, true, 10)

			const steps = 1000
			const window = 100
			losses := make([]float64, steps)
			for i := range losses {
				require.NoError(t, s.Train(1))
				losses[i] = s.Losses().Critic1
			}

			first := stat.Mean(losses[:window], nil)
			last := stat.Mean(losses[steps-window:], nil)
			assert.Less(t, last, first)

			firstHalf := stat.Mean(losses[:steps/2], nil)
			secondHalf := stat.Mean(losses[steps/2:], nil)
			assert.LessOrEqual(t, secondHalf, firstHalf)
		})
	}
}

const typedConfigJSON = `{
	"Type": "SAC",
	"Config": {
		"variant": "TwinTarget",
		"policy": {
			"root_layers": [8],
			"root_biases": [true],
			"root_activations": ["relu"],
			"leaf_layers": [[], []],
			"leaf_biases": [[], []],
			"leaf_activations": [[], []]
		},
		"critic": {
			"layers": [8],
			"biases": [true],
			"activations": ["tanh"]
		},
		"init_wfn": {"Type": "GlorotU", "Config": {"Gain": 1.0}},
		"policy_solver": {"Type": "Adam", "Config": {"StepSize": 0.001,
			"Epsilon": 1e-8, "Beta1": 0.9, "Beta2": 0.999, "Batch": 1}},
		"critic_solver": {"Type": "Adam", "Config": {"StepSize": 0.001,
			"Epsilon": 1e-8, "Beta1": 0.9, "Beta2": 0.999, "Batch": 1}},
		"alpha_solver": {"Type": "Vanilla", "Config": {"StepSize": 0.01}},
		"min_log_std": -20,
		"max_log_std": 2,
		"discount": 0.99,
		"tau": 0.005,
		"initial_alpha": 0.2,
		"learn_alpha": true,
		"target_entropy": -2,
		"reward_scale": 5,
		"training_steps": 2,
		"exp_replay": {
			"max_replay_capacity": 100,
			"min_replay_capacity": 4,
			"batch_size": 4
		}
	}
}`

const typedConfigYAML = `
Type: SAC
Config:
  variant: ValueNetwork
  policy:
    root_layers: [8]
    root_biases: [true]
    root_activations: [relu]
    leaf_layers: [[], []]
    leaf_biases: [[], []]
    leaf_activations: [[], []]
  critic:
    layers: [8]
    biases: [true]
    activations: [relu]
  init_wfn:
    Type: HeU
    Config:
      Gain: 1.0
  policy_solver:
    Type: Adam
    Config: {StepSize: 0.001, Epsilon: 1.0e-8, Beta1: 0.9, Beta2: 0.999, Batch: 1}
  critic_solver:
    Type: RMSProp
    Config: {StepSize: 0.001, Epsilon: 1.0e-8, Rho: 0.9, Batch: 1}
  value_solver:
    Type: Vanilla
    Config: {StepSize: 0.01}
  min_log_std: -5
  max_log_std: 2
  discount: 0.9
  tau: 0.01
  initial_alpha: 0.1
  learn_alpha: false
  reward_scale: 1
  training_steps: 1
  exp_replay:
    max_replay_capacity: 100
    min_replay_capacity: 4
    batch_size: 4
`

func TestTypedConfigJSON(t *testing.T) {
	var typed agent.TypedConfig
	require.NoError(t, json.Unmarshal([]byte(typedConfigJSON), &typed))
	assert.Equal(t, Type, typed.Type)

	c, ok := typed.Config.(Config)
	require.True(t, ok)
	require.NoError(t, c.Validate())
	assert.Equal(t, TwinTarget, c.Variant)
	assert.Equal(t, "tanh", c.Critic.Activations[0].String())
	require.NotNil(t, c.TargetEntropy)
	assert.Equal(t, -2.0, *c.TargetEntropy)
	assert.Equal(t, solver.Vanilla, c.AlphaSolver.Type)
	assert.Equal(t, 5.0, c.RewardScale)
	assert.Equal(t, 4, c.BatchSize())

	e, _, err := synthetic.New([]float64{0.5, -0.5}, 10, 0.99, 1)
	require.NoError(t, err)
	a, err := c.CreateAgent(e, 1)
	require.NoError(t, err)
	assert.True(t, c.ValidAgent(a))
	require.NoError(t, a.(*SAC).Close())
}

func TestTypedConfigYAML(t *testing.T) {
	var typed agent.TypedConfig
	require.NoError(t, yaml.Unmarshal([]byte(typedConfigYAML), &typed))
	assert.Equal(t, Type, typed.Type)

	c, ok := typed.Config.(Config)
	require.True(t, ok)
	require.NoError(t, c.Validate())
	assert.Equal(t, ValueNetwork, c.Variant)
	assert.Nil(t, c.TargetEntropy)
	assert.Equal(t, solver.RMSProp, c.CriticSolver.Type)
	assert.Equal(t, -5.0, c.MinLogStd)
	assert.False(t, c.LearnAlpha)

	e, _, err := synthetic.New([]float64{0.5}, 10, 0.99, 1)
	require.NoError(t, err)
	s, err := New(e, c, 1)
	require.NoError(t, err)
	defer s.Close()
	assert.InDelta(t, 0.1, s.Alpha(), 1e-12)
}

func BenchmarkTrain(b *testing.B) {
	for _, v := range []Variant{ValueNetwork, TwinTarget} {
		b.Run(string(v), func(b *testing.B) {
			c := testConfig(b, v)
			c.ExpReplay.BatchSize = 64
			c.ExpReplay.MinReplayCapacity = 64
			s, e := newTestAgent(b, c, 11)
			fill(b, s, e, 256, false, 11)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := s.Train(1); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func TestCheckpoint(t *testing.T) {
	filename := t.TempDir() + "/sac.bin"

	c := testConfig(t, TwinTarget)
	s, e := newTestAgent(t, c, 12)
	fill(t, s, e, 20, false, 12)
	require.NoError(t, s.Train(5))
	require.NoError(t, s.Save(filename))

	restored, _ := newTestAgent(t, c, 13)
	require.NoError(t, restored.Load(filename))
	assert.Equal(t, s.Alpha(), restored.Alpha())

	restored.Eval()
	s.Eval()
	state := mat.NewVecDense(1, []float64{0.3})
	want, err := s.GetAction(state)
	require.NoError(t, err)
	got, err := restored.GetAction(state)
	require.NoError(t, err)
	assert.Equal(t, want.AtVec(0), got.AtVec(0))

	v, _ := newTestAgent(t, testConfig(t, ValueNetwork), 14)
	assert.Error(t, v.Load(filename))
}

// targetBatch returns a batch of 4 transitions, two of which end in a
// terminal state
func targetBatch() expreplay.Batch {
	return expreplay.Batch{
		State:     []float64{0.1, -0.2, 0.3, -0.4},
		Action:    []float64{0.5, -0.5, 0.25, 0.0},
		Reward:    []float64{-0.5, 1.0, 0.25, -2.0},
		NextState: []float64{0.7, -0.6, 0.05, 0.9},
		Done:      []float64{0, 1, 0, 1},
	}
}

func TestCriticTargetTwinTarget(t *testing.T) {
	c := testConfig(t, TwinTarget)
	c.Discount = 0.9
	c.RewardScale = 2.5
	s, _ := newTestAgent(t, c, 15)

	// Deterministic next actions so the target can be recomputed
	s.samplePolicy.Eval()
	batch := targetBatch()
	alpha := 0.3

	got, err := s.criticTarget(batch, alpha)
	require.NoError(t, err)

	nextActions, logProb, err := s.samplePolicy.Forward(batch.NextState)
	require.NoError(t, err)
	inputs, err := critic.Concat(batch.NextState, nextActions, 1, 1)
	require.NoError(t, err)
	q1, err := s.q1Target.Predict(inputs)
	require.NoError(t, err)
	q2, err := s.q2Target.Predict(inputs)
	require.NoError(t, err)

	require.Len(t, got, batch.Size())
	for i := range got {
		soft := math.Min(q1[i], q2[i]) - alpha*logProb[i]
		want := 2.5*batch.Reward[i] + 0.9*(1-batch.Done[i])*soft
		assert.InDelta(t, want, got[i], 1e-9, "row %v", i)

		if batch.Done[i] == 1 {
			assert.Equal(t, 2.5*batch.Reward[i], got[i],
				"terminal transitions must not bootstrap")
		}
	}
}

func TestCriticTargetValueNetwork(t *testing.T) {
	c := testConfig(t, ValueNetwork)
	c.Discount = 0.8
	c.RewardScale = 0.5
	s, _ := newTestAgent(t, c, 16)
	batch := targetBatch()

	got, err := s.criticTarget(batch, s.Alpha())
	require.NoError(t, err)

	next, err := s.vTarget.Predict(batch.NextState)
	require.NoError(t, err)

	require.Len(t, got, batch.Size())
	for i := range got {
		want := 0.5*batch.Reward[i] + 0.8*(1-batch.Done[i])*next[i]
		assert.InDelta(t, want, got[i], 1e-9, "row %v", i)
	}
}

// TestActorFollowsCritics checks that with a temperature of zero the
// policy still learns, which requires the gradient of the critics with
// respect to the sampled actions
func TestActorFollowsCritics(t *testing.T) {
	s, _ := newTestAgent(t, testConfig(t, TwinTarget), 17)

	weights := func(n network.NeuralNet) [][]float64 {
		var w [][]float64
		for _, l := range n.Learnables() {
			w = append(w, append([]float64{}, l.Value().Data().([]float64)...))
		}
		return w
	}
	policyBefore := weights(s.trainPolicy.Network())
	q1Before := weights(s.q1.Network())
	q2Before := weights(s.q2.Network())

	states := []float64{0.9, -0.7, 0.4, -0.2}
	require.NoError(t, s.updateActor(states, 0))

	assert.NotEqual(t, policyBefore, weights(s.trainPolicy.Network()))
	assert.Equal(t, weights(s.trainPolicy.Network()),
		weights(s.behaviour.Network()))

	// The critics are only read by the policy loss
	assert.Equal(t, q1Before, weights(s.q1.Network()))
	assert.Equal(t, q2Before, weights(s.q2.Network()))
}
