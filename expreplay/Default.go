package expreplay

import (
	"fmt"

	"github.com/samuelfneumann/gosac/timestep"
)

// defaultCache implements a concrete ExperienceReplayer where elements
// are stored in a ring and removed from the buffer in a FiFo manner,
// one element at a time. Once full, each Add overwrites the oldest
// transition in the buffer.
type defaultCache struct {
	stateCache     []float64
	actionCache    []float64
	rewardCache    []float64
	doneCache      []float64
	nextStateCache []float64

	indices         []int
	currentInUsePos int
	isFull          bool

	// Outlines how data is sampled
	sampler Selector

	minCapacity int
	maxCapacity int
	featureSize int
	actionSize  int
}

// newDefaultCache returns a new defaultCache. The sampler
// parameter is a Selector which determines how data is sampled
// from the replay buffer. The featureSize and actionSize
// parameters define the size of the feature and action vectors.
// The minCapacity parameter determines the minimum number of samples
// that should be in the buffer before sampling is allowed.
// The maxCapacity parameter determines the maximum number of samples
// allowed in the buffer at any given time.
func newDefaultCache(sampler Selector, minCapacity, maxCapacity,
	featureSize, actionSize int) *defaultCache {
	indices := make([]int, maxCapacity)
	for i := 0; i < maxCapacity; i++ {
		indices[i] = i
	}

	return &defaultCache{
		stateCache:     make([]float64, maxCapacity*featureSize),
		actionCache:    make([]float64, maxCapacity*actionSize),
		rewardCache:    make([]float64, maxCapacity),
		doneCache:      make([]float64, maxCapacity),
		nextStateCache: make([]float64, maxCapacity*featureSize),

		indices:         indices,
		currentInUsePos: 0,
		isFull:          false,

		sampler: sampler,

		minCapacity: minCapacity,
		maxCapacity: maxCapacity,
		featureSize: featureSize,
		actionSize:  actionSize,
	}
}

// String returns the string representation of the defaultCache
func (d *defaultCache) String() string {
	baseStr := "Indices Used: %v \nStates: %v \nActions: %v \nRewards: %v" +
		" \nDone: %v \nNext States: %v"
	return fmt.Sprintf(baseStr, d.sampleFrom(), d.stateCache, d.actionCache,
		d.rewardCache, d.doneCache, d.nextStateCache)
}

// BatchSize returns the number of samples sampled using Sample() -
// a.k.a the batch size
func (d *defaultCache) BatchSize() int {
	return d.sampler.BatchSize()
}

// FeatureSize returns the length of stored state vectors
func (d *defaultCache) FeatureSize() int {
	return d.featureSize
}

// ActionSize returns the length of stored action vectors
func (d *defaultCache) ActionSize() int {
	return d.actionSize
}

// insertOrder returns at most n indices of the buffer in the order
// that their data was inserted, oldest first
func (d *defaultCache) insertOrder(n int) []int {
	var order []int
	if !d.isFull {
		order = d.indices[:d.currentInUsePos]
	} else {
		// currentInUsePos points to the oldest element once full
		order = make([]int, d.maxCapacity)
		copy(order, d.indices[d.currentInUsePos:])
		copy(order[d.maxCapacity-d.currentInUsePos:],
			d.indices[:d.currentInUsePos])
	}

	if n < len(order) {
		return order[:n]
	}
	return order
}

// sampleFrom returns the slice of indices to sample from
func (d *defaultCache) sampleFrom() []int {
	if !d.isFull {
		return d.indices[:d.currentInUsePos]
	}
	return d.indices
}

// Sample samples and returns a batch of transitions from the replay
// buffer
func (d *defaultCache) Sample() (Batch, error) {
	if d.Capacity() == 0 {
		err := &ExpReplayError{
			Op:  "sample",
			Err: errEmptyCache,
		}
		return Batch{}, err
	}
	if d.Capacity() < d.MinCapacity() {
		err := &ExpReplayError{
			Op:  "sample",
			Err: errInsufficientSamples,
		}
		return Batch{}, err
	}

	indices := d.sampler.choose(d)
	batch := Batch{
		State:     make([]float64, len(indices)*d.featureSize),
		Action:    make([]float64, len(indices)*d.actionSize),
		Reward:    make([]float64, len(indices)),
		NextState: make([]float64, len(indices)*d.featureSize),
		Done:      make([]float64, len(indices)),
	}

	for i, index := range indices {
		batchStartInd := i * d.featureSize
		expStartInd := index * d.featureSize
		copy(batch.State[batchStartInd:batchStartInd+d.featureSize],
			d.stateCache[expStartInd:expStartInd+d.featureSize])
		copy(batch.NextState[batchStartInd:batchStartInd+d.featureSize],
			d.nextStateCache[expStartInd:expStartInd+d.featureSize])

		batchStartInd = i * d.actionSize
		expStartInd = index * d.actionSize
		copy(batch.Action[batchStartInd:batchStartInd+d.actionSize],
			d.actionCache[expStartInd:expStartInd+d.actionSize])

		batch.Reward[i] = d.rewardCache[index]
		batch.Done[i] = d.doneCache[index]
	}

	return batch, nil
}

// Capacity returns the current number of elements in the defaultCache that
// are available for sampling
func (d *defaultCache) Capacity() int {
	if d.isFull {
		return d.MaxCapacity()
	}
	return d.currentInUsePos
}

// MaxCapacity returns the maximum number of elements that are allowed
// in the defaultCache
func (d *defaultCache) MaxCapacity() int {
	return d.maxCapacity
}

// MinCapacity returns the minimum number of elements required in the
// defaultCache before sampling is allowed
func (d *defaultCache) MinCapacity() int {
	return d.minCapacity
}

// Add adds a transition to the defaultCache. The transition's data is
// copied into the buffer.
func (d *defaultCache) Add(t timestep.Transition) error {
	if t.State.Len() != d.featureSize || t.NextState.Len() != d.featureSize {
		return fmt.Errorf("add: invalid feature size \n\twant(%v)\n\thave(%v)",
			d.featureSize, t.State.Len())
	}
	if t.Action.Len() != d.actionSize {
		return fmt.Errorf("add: invalid action size \n\twant(%v)\n\thave(%v)",
			d.actionSize, t.Action.Len())
	}

	index := d.currentInUsePos

	stateInd := index * d.featureSize
	copyVec(d.stateCache[stateInd:stateInd+d.featureSize], t.State)
	copyVec(d.nextStateCache[stateInd:stateInd+d.featureSize], t.NextState)

	actionInd := index * d.actionSize
	copyVec(d.actionCache[actionInd:actionInd+d.actionSize], t.Action)

	d.rewardCache[index] = t.Reward
	d.doneCache[index] = t.DoneFloat()

	if !d.isFull && index+1 == d.MaxCapacity() {
		d.isFull = true
	}
	d.currentInUsePos = (d.currentInUsePos + 1) % d.MaxCapacity()
	return nil
}
