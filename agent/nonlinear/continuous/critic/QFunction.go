package critic

import (
	"fmt"

	G "gorgonia.org/gorgonia"

	"github.com/samuelfneumann/gosac/network"
)

// QFunction implements a state-action value function q(s, a). The
// network input is the concatenation of a state and an action, see
// Concat.
type QFunction struct {
	*Regression
	predictor  *Predictor
	features   int
	actionDims int
}

// NewQFunction returns a new QFunction for states with features
// features and actions with actionDims dimensions. The batch parameter
// determines the number of state-action pairs in each training batch.
// The loss is scaled by lossScale and minimized with solver. All nodes
// are named with prefix.
func NewQFunction(features, actionDims, batch int, arch Architecture,
	init G.InitWFn, solver G.Solver, lossScale float64,
	prefix string) (*QFunction, error) {
	if actionDims <= 0 {
		return nil, fmt.Errorf("newQFunction: action dimensions must be > 0")
	}

	reg, predictor, err := newApproximator(features+actionDims, batch, arch,
		init, solver, lossScale, prefix)
	if err != nil {
		return nil, fmt.Errorf("newQFunction: %w", err)
	}

	return &QFunction{
		Regression: reg,
		predictor:  predictor,
		features:   features,
		actionDims: actionDims,
	}, nil
}

// Features returns the number of state features
func (q *QFunction) Features() int {
	return q.features
}

// ActionDims returns the number of action dimensions
func (q *QFunction) ActionDims() int {
	return q.actionDims
}

// Predict returns the predicted value of each state-action pair in
// inputs, constructed with Concat
func (q *QFunction) Predict(inputs []float64) ([]float64, error) {
	if err := network.Set(q.predictor.Network(), q.Network()); err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	return q.predictor.Predict(inputs)
}

// Target returns a new target network tracking the QFunction
func (q *QFunction) Target() (*Target, error) {
	return NewTarget(q.Network())
}

// Concat returns the QFunction input for the row major states and
// actions
func (q *QFunction) Concat(states, actions []float64) ([]float64, error) {
	return Concat(states, actions, q.features, q.actionDims)
}

// Close closes all VMs of the QFunction
func (q *QFunction) Close() error {
	if err := q.predictor.Close(); err != nil {
		return err
	}
	return q.Regression.Close()
}

// Concat concatenates row major states and actions so that row i of the
// result is state i followed by action i.
func Concat(states, actions []float64, features,
	actionDims int) ([]float64, error) {
	if len(states)%features != 0 || len(actions)%actionDims != 0 {
		return nil, fmt.Errorf("concat: invalid state or action size")
	}
	rows := len(states) / features
	if rows != len(actions)/actionDims {
		return nil, fmt.Errorf("concat: mismatched number of states (%v) "+
			"and actions (%v)", rows, len(actions)/actionDims)
	}

	cols := features + actionDims
	out := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		copy(out[i*cols:], states[i*features:(i+1)*features])
		copy(out[i*cols+features:], actions[i*actionDims:(i+1)*actionDims])
	}
	return out, nil
}
