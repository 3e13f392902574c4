package timestep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestNewTransitionDone(t *testing.T) {
	obs := mat.NewVecDense(1, []float64{0.5})
	next := mat.NewVecDense(1, []float64{0.25})
	action := mat.NewVecDense(1, []float64{-0.1})

	first := New(First, 0, 0.99, obs, 0)

	mid := New(Mid, 1.5, 0.99, next, 1)
	tr := NewTransition(first, action, mid)
	assert.False(t, tr.Done)
	assert.Equal(t, 1.5, tr.Reward)
	assert.Equal(t, 0.0, tr.DoneFloat())

	terminal := New(Mid, 2.0, 0.99, next, 1)
	terminal.SetEnd(TerminalStateReached)
	tr = NewTransition(first, action, terminal)
	assert.True(t, terminal.Last())
	assert.True(t, tr.Done)
	assert.Equal(t, 1.0, tr.DoneFloat())

	timeout := New(Mid, 2.0, 0.99, next, 1)
	timeout.SetEnd(Timeout)
	tr = NewTransition(first, action, timeout)
	assert.True(t, timeout.Last())
	assert.False(t, tr.Done, "timeouts must keep bootstrapping")
}

func TestStepTypeString(t *testing.T) {
	assert.Equal(t, "First", First.String())
	assert.Equal(t, "Mid", Mid.String())
	assert.Equal(t, "Last", Last.String())
	assert.Equal(t, "Timeout", Timeout.String())
}
