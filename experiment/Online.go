package experiment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gosac/agent"
	"github.com/samuelfneumann/gosac/agent/nonlinear/continuous/sac"
	env "github.com/samuelfneumann/gosac/environment"
	"github.com/samuelfneumann/gosac/experiment/checkpointer"
	"github.com/samuelfneumann/gosac/experiment/tracker"
	"github.com/samuelfneumann/gosac/expreplay"
	ts "github.com/samuelfneumann/gosac/timestep"
	"github.com/samuelfneumann/gosac/utils/progressbar"
)

// replayer is an agent which learns from an experience replay buffer.
// Until the buffer holds its minimum number of transitions, the
// experiment selects uniformly random actions for such agents.
type replayer interface {
	Replay() expreplay.ExperienceReplayer
}

// trainer is an agent which reports statistics of its last update
type trainer interface {
	Updates() int
	Alpha() float64
	Losses() sac.Losses
}

// Option configures an Online experiment
type Option func(*Online)

// WithLogger sets the logger episodes are logged to. By default
// slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Online) {
		o.logger = logger
	}
}

// WithProgress displays a progress bar on out
func WithProgress(out io.Writer) Option {
	return func(o *Online) {
		o.progress = progressbar.NewManualProgressBar(out, 50,
			int(o.maxSteps))
	}
}

// WithTrainMode sets when the agent is trained, by default it is
// trained online
func WithTrainMode(mode TrainMode) Option {
	return func(o *Online) {
		o.mode = mode
	}
}

// WithTrackers registers trackers with the experiment
func WithTrackers(t ...tracker.Tracker) Option {
	return func(o *Online) {
		o.trackers = append(o.trackers, t...)
	}
}

// WithCheckpointers registers checkpointers with the experiment
func WithCheckpointers(c ...checkpointer.Checkpointer) Option {
	return func(o *Online) {
		o.checkpointers = append(o.checkpointers, c...)
	}
}

// WithMetrics exports the experiment's progress and the agent's
// training statistics to m
func WithMetrics(m *tracker.Metrics) Option {
	return func(o *Online) {
		o.metrics = m
		o.trackers = append(o.trackers, m)
	}
}

// Online is an Experiment that runs an agent online only. No offline
// evaluation is performed.
type Online struct {
	environment  env.Environment
	agent        agent.Agent
	maxSteps     uint
	currentSteps uint
	episodes     int
	mode         TrainMode
	rng          *rand.Rand

	trackers      []tracker.Tracker
	checkpointers []checkpointer.Checkpointer
	metrics       *tracker.Metrics
	logger        *slog.Logger
	progress      *progressbar.ManualProgressBar
	lastUpdates   int
}

// NewOnline creates and returns a new online experiment on a given
// environment with a given agent. The steps parameter determines how
// many timesteps the experiment is run for. The seed seeds the warm-up
// actions taken before the agent starts learning.
func NewOnline(e env.Environment, a agent.Agent, steps uint, seed uint64,
	opts ...Option) (*Online, error) {
	if e == nil || a == nil {
		return nil, fmt.Errorf("newOnline: environment and agent must be " +
			"non-nil")
	}
	if steps == 0 {
		return nil, fmt.Errorf("newOnline: steps must be positive")
	}

	o := &Online{
		environment: e,
		agent:       a,
		maxSteps:    steps,
		mode:        TrainOnline,
		rng:         rand.New(rand.NewSource(seed)),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.mode != TrainOnline && o.mode != TrainOffline {
		return nil, fmt.Errorf("newOnline: unknown train mode %q", o.mode)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o, nil
}

// Register registers a tracker.Tracker with an Experiment so that data
// generated during the experiment can be tracked and saved
func (o *Online) Register(t tracker.Tracker) {
	o.trackers = append(o.trackers, t)
}

// Agent returns the agent run in the experiment
func (o *Online) Agent() agent.Agent {
	return o.agent
}

// Steps returns the number of environment steps taken so far
func (o *Online) Steps() uint {
	return o.currentSteps
}

// Episodes returns the number of episodes started so far
func (o *Online) Episodes() int {
	return o.episodes
}

// RunEpisode runs a single episode of the experiment
func (o *Online) RunEpisode(ctx context.Context) (bool, error) {
	step, err := o.environment.Reset()
	if err != nil {
		return false, fmt.Errorf("runEpisode: could not reset "+
			"environment: %w", err)
	}
	if err := o.agent.ObserveFirst(step); err != nil {
		return false, fmt.Errorf("runEpisode: %w", err)
	}
	o.episodes++
	o.track(step)

	episodeReturn := 0.0
	actionSpec := o.environment.ActionSpec()

	// Run the next timestep
	for !step.Last() && o.currentSteps < o.maxSteps {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		o.currentSteps++

		// Select action, step in environment
		action := o.selectAction(step, actionSpec.Len())
		next, _, err := o.environment.Step(actionSpec.Rescale(action))
		if err != nil {
			return false, fmt.Errorf("runEpisode: could not step "+
				"environment: %w", err)
		}
		episodeReturn += next.Reward

		// Cache the environment step in each Tracker
		o.track(next)

		// Observe the timestep and step the agent
		if err := o.agent.Observe(action, next); err != nil {
			return false, fmt.Errorf("runEpisode: %w", err)
		}
		if o.mode == TrainOnline {
			if err := o.train(); err != nil {
				return false, fmt.Errorf("runEpisode: %w", err)
			}
		}

		if err := o.checkpoint(next); err != nil {
			return false, fmt.Errorf("runEpisode: %w", err)
		}
		if o.progress != nil {
			o.progress.Increment()
			o.progress.Display()
		}

		step = next
	}

	if o.mode == TrainOffline && step.Last() {
		if err := o.train(); err != nil {
			return false, fmt.Errorf("runEpisode: %w", err)
		}
	}
	o.agent.EndEpisode()

	o.logger.Info("episode finished",
		slog.Int("episode", o.episodes),
		slog.Int("length", step.Number),
		slog.Float64("return", episodeReturn),
		slog.Uint64("total_steps", uint64(o.currentSteps)),
		slog.Bool("terminal", step.Terminal()),
	)

	// Return whether or not the max timestep limit has been reached
	return o.currentSteps >= o.maxSteps, nil
}

// Run runs the entire experiment for all timesteps
func (o *Online) Run(ctx context.Context) error {
	if o.progress != nil {
		defer o.progress.Close()
	}

	for ended := false; !ended; {
		var err error
		if ended, err = o.RunEpisode(ctx); err != nil {
			return fmt.Errorf("run: %w", err)
		}
	}
	return nil
}

// Save saves all the data cached by the Trackers to disk
func (o *Online) Save() error {
	var errs []error
	for _, t := range o.trackers {
		if err := t.Save(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

// selectAction selects a uniformly random action in [-1, 1] until the
// agent's replay buffer can be sampled, and the agent's action
// afterwards
func (o *Online) selectAction(t ts.TimeStep, actionDims int) *mat.VecDense {
	if r, ok := o.agent.(replayer); ok {
		buffer := r.Replay()
		if buffer.Capacity() < buffer.MinCapacity() {
			action := mat.NewVecDense(actionDims, nil)
			for i := 0; i < actionDims; i++ {
				action.SetVec(i, o.rng.Float64()*2.0-1.0)
			}
			return action
		}
	}
	return o.agent.SelectAction(t)
}

// train steps the agent and reports its training statistics if it
// updated
func (o *Online) train() error {
	if err := o.agent.Step(); err != nil {
		return err
	}

	t, ok := o.agent.(trainer)
	if !ok || t.Updates() == o.lastUpdates {
		return nil
	}
	taken := t.Updates() - o.lastUpdates
	o.lastUpdates = t.Updates()

	losses := t.Losses().Map()
	if o.metrics != nil {
		o.metrics.ObserveTraining(losses, t.Alpha(), taken)
	}
	o.logger.Debug("trained",
		slog.Int("updates", o.lastUpdates),
		slog.Float64("alpha", t.Alpha()),
		slog.Any("losses", losses),
	)
	return nil
}

// track tracks the current timestep by caching its data in each Tracker
func (o *Online) track(t ts.TimeStep) {
	for _, tr := range o.trackers {
		tr.Track(t)
	}
}

// checkpoint checkpoints the agent with each checkpointer
func (o *Online) checkpoint(t ts.TimeStep) error {
	for _, c := range o.checkpointers {
		if err := c.Checkpoint(t); err != nil {
			return err
		}
	}
	return nil
}
