package experiment

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gosac/environment/synthetic"
	"github.com/samuelfneumann/gosac/experiment/tracker"
	"github.com/samuelfneumann/gosac/expreplay"
	ts "github.com/samuelfneumann/gosac/timestep"
)

// fakeAgent records how the experiment drives it
type fakeAgent struct {
	replay   expreplay.ExperienceReplayer
	last     ts.TimeStep
	actions  []*mat.VecDense
	selected int
	steps    int
	episodes int
	eval     bool
}

func newFakeAgent(t *testing.T, minCapacity int) *fakeAgent {
	t.Helper()
	c := expreplay.Config{
		MaxReplayCapacity: 100,
		MinReplayCapacity: minCapacity,
		BatchSize:         1,
	}
	replay, err := c.Create(1, 1, 1)
	require.NoError(t, err)
	return &fakeAgent{replay: replay}
}

func (f *fakeAgent) Replay() expreplay.ExperienceReplayer { return f.replay }

func (f *fakeAgent) SelectAction(ts.TimeStep) *mat.VecDense {
	f.selected++
	return mat.NewVecDense(1, []float64{0.25})
}

func (f *fakeAgent) ObserveFirst(t ts.TimeStep) error {
	f.last = t
	return nil
}

func (f *fakeAgent) Observe(action mat.Vector, next ts.TimeStep) error {
	a := mat.VecDenseCopyOf(action)
	f.actions = append(f.actions, a)
	err := f.replay.Add(ts.NewTransition(f.last, a, next))
	f.last = next
	return err
}

func (f *fakeAgent) Step() error  { f.steps++; return nil }
func (f *fakeAgent) EndEpisode()  { f.episodes++ }
func (f *fakeAgent) Eval()        { f.eval = true }
func (f *fakeAgent) Explore()     { f.eval = false }
func (f *fakeAgent) IsEval() bool { return f.eval }

func TestWarmup(t *testing.T) {
	e, _, err := synthetic.New([]float64{0.5}, 10, 0.99, 1)
	require.NoError(t, err)
	a := newFakeAgent(t, 5)

	o, err := NewOnline(e, a, 10, 1)
	require.NoError(t, err)
	require.NoError(t, o.Run(context.Background()))

	assert.Equal(t, uint(10), o.Steps())
	assert.Equal(t, 1, o.Episodes())
	assert.Equal(t, 5, a.selected, "agent should act once warm-up is over")
	require.Len(t, a.actions, 10)
	for i, action := range a.actions[:5] {
		assert.GreaterOrEqual(t, action.AtVec(0), -1.0, "action %v", i)
		assert.LessOrEqual(t, action.AtVec(0), 1.0, "action %v", i)
	}
	for _, action := range a.actions[5:] {
		assert.Equal(t, 0.25, action.AtVec(0))
	}
}

func TestTrainModes(t *testing.T) {
	for _, test := range []struct {
		mode      TrainMode
		wantSteps int
	}{
		{TrainOnline, 25},
		{TrainOffline, 2},
	} {
		t.Run(string(test.mode), func(t *testing.T) {
			e, _, err := synthetic.New([]float64{0.5}, 10, 0.99, 1)
			require.NoError(t, err)
			a := newFakeAgent(t, 1)

			o, err := NewOnline(e, a, 25, 1, WithTrainMode(test.mode))
			require.NoError(t, err)
			require.NoError(t, o.Run(context.Background()))

			// The third episode is cut off by the step budget and never
			// finishes, so it is not trained on offline
			assert.Equal(t, test.wantSteps, a.steps)
			assert.Equal(t, 3, a.episodes)
			assert.Equal(t, 3, o.Episodes())
		})
	}

	e, _, err := synthetic.New([]float64{0.5}, 10, 0.99, 1)
	require.NoError(t, err)
	_, err = NewOnline(e, newFakeAgent(t, 1), 25, 1, WithTrainMode("batch"))
	assert.Error(t, err)
}

func TestRunCancelled(t *testing.T) {
	e, _, err := synthetic.New([]float64{0.5}, 10, 0.99, 1)
	require.NoError(t, err)

	o, err := NewOnline(e, newFakeAgent(t, 1), 100, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = o.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint(0), o.Steps())
}

func TestTrackersAndProgress(t *testing.T) {
	e, _, err := synthetic.New([]float64{0.5}, 5, 0.99, 1)
	require.NoError(t, err)

	var out bytes.Buffer
	dir := t.TempDir()
	returns := tracker.NewReturn(filepath.Join(dir, "returns.bin"))
	lengths := tracker.NewEpisodeLength(filepath.Join(dir, "lengths.bin"))

	o, err := NewOnline(e, newFakeAgent(t, 1), 15, 1,
		WithTrackers(returns), WithProgress(&out))
	require.NoError(t, err)
	o.Register(lengths)

	require.NoError(t, o.Run(context.Background()))
	require.NoError(t, o.Save())

	assert.Equal(t, []int{5, 5, 5}, lengths.Lengths())
	require.Len(t, returns.Returns(), 3)
	for _, r := range returns.Returns() {
		assert.LessOrEqual(t, r, 0.0)
	}
	assert.Contains(t, out.String(), "100.00%")

	data, err := tracker.LoadData(filepath.Join(dir, "returns.bin"))
	require.NoError(t, err)
	assert.Equal(t, returns.Returns(), data)
}

func TestNewOnlineInvalid(t *testing.T) {
	e, _, err := synthetic.New([]float64{0.5}, 5, 0.99, 1)
	require.NoError(t, err)

	_, err = NewOnline(e, newFakeAgent(t, 1), 0, 1)
	assert.Error(t, err)

	_, err = NewOnline(nil, newFakeAgent(t, 1), 10, 1)
	assert.Error(t, err)
}

const experimentYAML = `
type: OnlineExperiment
seed: 3
max_steps: 40
train_mode: online
environment:
  environment: Tracking
  weights: [0.5]
  episode_cutoff: 10
  discount: 0.99
agent:
  Type: SAC
  Config:
    variant: TwinTarget
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
      Type: GlorotU
      Config:
        Gain: 1.0
    policy_solver:
      Type: Adam
      Config: {StepSize: 0.001, Epsilon: 1.0e-8, Beta1: 0.9, Beta2: 0.999, Batch: 1}
    critic_solver:
      Type: Adam
      Config: {StepSize: 0.001, Epsilon: 1.0e-8, Beta1: 0.9, Beta2: 0.999, Batch: 1}
    alpha_solver:
      Type: Adam
      Config: {StepSize: 0.001, Epsilon: 1.0e-8, Beta1: 0.9, Beta2: 0.999, Batch: 1}
    min_log_std: -20
    max_log_std: 2
    discount: 0.99
    tau: 0.005
    initial_alpha: 1
    learn_alpha: true
    reward_scale: 1
    training_steps: 1
    exp_replay:
      max_replay_capacity: 100
      min_replay_capacity: 8
      batch_size: 4
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(filename, []byte(content), 0o644))
	return filename
}

func TestLoadConfig(t *testing.T) {
	c, err := LoadConfig(writeConfig(t, "exp.yaml", experimentYAML))
	require.NoError(t, err)
	assert.Equal(t, OnlineExp, c.Type)
	assert.Equal(t, uint64(3), c.Seed)
	assert.Equal(t, uint(40), c.MaxSteps)
	assert.Equal(t, TrainOnline, c.TrainMode)
	assert.Equal(t, []float64{0.5}, c.EnvConf.Weights)
	assert.Equal(t, "SAC", string(c.AgentConf.Type))

	jsonConf := `{"type": "OnlineExperiment", "seed": 1, "max_steps": 0,
		"environment": {"weights": [0.5], "episode_cutoff": 5, "discount": 0.9},
		"agent": {"Type": "SAC", "Config": {}}}`
	_, err = LoadConfig(writeConfig(t, "exp.json", jsonConf))
	assert.Error(t, err, "zero max steps should be rejected")

	_, err = LoadConfig(writeConfig(t, "exp.toml", "seed = 1"))
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCreateExpSAC(t *testing.T) {
	c, err := LoadConfig(writeConfig(t, "exp.yml", experimentYAML))
	require.NoError(t, err)

	c.DataDir = filepath.Join(t.TempDir(), "data")
	c.CheckpointInterval = 20
	c.CheckpointDir = filepath.Join(t.TempDir(), "checkpoints")

	reg := prometheus.NewRegistry()
	metrics, err := tracker.NewMetrics(reg, "sac")
	require.NoError(t, err)

	exp, err := c.CreateExp(WithMetrics(metrics))
	require.NoError(t, err)
	require.NoError(t, exp.Run(context.Background()))
	require.NoError(t, exp.Save())

	lengths, err := tracker.LoadLengths(filepath.Join(c.DataDir,
		"episode_lengths.bin"))
	require.NoError(t, err)
	assert.Equal(t, []int{10, 10, 10, 10}, lengths)

	checkpoints, err := os.ReadDir(c.CheckpointDir)
	require.NoError(t, err)
	var names []string
	for _, entry := range checkpoints {
		names = append(names, entry.Name())
	}
	assert.ElementsMatch(t, []string{"agent1.bin", "agent2.bin"}, names)

	// Training starts once 8 transitions are stored
	assert.Equal(t, 40.0, testutil.ToFloat64(metrics.Steps()))
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.Episodes()))
	assert.Equal(t, 33.0, testutil.ToFloat64(metrics.Updates()))

	n, err := testutil.GatherAndCount(reg, "sac_loss")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestMetricsCountTrainingSteps(t *testing.T) {
	conf := strings.Replace(experimentYAML, "training_steps: 1",
		"training_steps: 2", 1)
	c, err := LoadConfig(writeConfig(t, "exp.yaml", conf))
	require.NoError(t, err)

	metrics, err := tracker.NewMetrics(prometheus.NewRegistry(), "sac")
	require.NoError(t, err)

	exp, err := c.CreateExp(WithMetrics(metrics))
	require.NoError(t, err)
	require.NoError(t, exp.Run(context.Background()))

	// Each of the 33 training calls takes two steps
	assert.Equal(t, 66.0, testutil.ToFloat64(metrics.Updates()))
	assert.Equal(t, 66, exp.(*Online).Agent().(trainer).Updates())
}

func TestCreateExpInvalid(t *testing.T) {
	c, err := LoadConfig(writeConfig(t, "exp.yaml", experimentYAML))
	require.NoError(t, err)

	c.CheckpointInterval = 5
	_, err = c.CreateExp()
	assert.Error(t, err, "checkpointing without a directory")

	c.CheckpointInterval = 0
	c.EnvConf.Weights = nil
	_, err = c.CreateExp()
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "exp.yaml",
		strings.Replace(experimentYAML, "train_mode: online",
			"train_mode: sometimes", 1)))
	assert.Error(t, err)
}
