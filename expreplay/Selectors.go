package expreplay

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Selector implements functionality for choosing how data should be
// sampled from an experience replay buffer
type Selector interface {
	// choose selects the indices at which data should be sampled from
	// the experience replay buffer
	choose(c orderedSampler) []int

	// BatchSize returns the number of elements that will be selected
	BatchSize() int
}

// uniformSelector is a Selector which selects data from an experience
// replay buffer uniformly randomly with replacement
type uniformSelector struct {
	samples int
	rng     *rand.Rand
}

// NewUniformSelector returns a new Selector which selects data uniformly
// randomly from an experience replay buffer
func NewUniformSelector(samples int, seed uint64) Selector {
	source := rand.NewSource(seed)
	rng := rand.New(source)

	return &uniformSelector{samples: samples, rng: rng}
}

// BatchSize gets the number of samples in a batch drawn from the buffer
func (u *uniformSelector) BatchSize() int {
	return u.samples
}

// choose selects a number of indices at which to draw data from the
// buffer
func (u *uniformSelector) choose(c orderedSampler) []int {
	selected := make([]int, u.BatchSize())
	keys := c.sampleFrom()

	for i := 0; i < u.BatchSize(); i++ {
		selected[i] = keys[u.rng.Intn(len(keys))]
	}

	return selected
}

// fifoSelector is a Selector which selects the oldest data from an
// experience replay buffer
type fifoSelector struct {
	samples int
}

// NewFifoSelector returns a new Selector which draws the oldest data
// from an experience replay buffer
func NewFifoSelector(samples int) Selector {
	return &fifoSelector{samples: samples}
}

// BatchSize gets the number of samples in a batch drawn from the buffer
func (f *fifoSelector) BatchSize() int {
	return f.samples
}

// choose selects a number of indices at which to draw data from the
// buffer
func (f *fifoSelector) choose(c orderedSampler) []int {
	return c.insertOrder(f.BatchSize())
}

// copyVec copies the data of v into dst
func copyVec(dst []float64, v mat.Vector) {
	for i := range dst {
		dst[i] = v.AtVec(i)
	}
}
