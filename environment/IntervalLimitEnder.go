package environment

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r1"

	"github.com/samuelfneumann/gosac/timestep"
)

// IntervalLimit implements the Ender interface to end episodes
// whenever a single feature in a feature vector leaves some interval
type IntervalLimit struct {
	intervals []r1.Interval
	indices   []int
	endType   timestep.EndType
}

// NewIntervalLimit creates and returns a new inteval limit. The endType
// argument determines what the episode end should be considered as.
func NewIntervalLimit(limits []r1.Interval, obsIndices []int,
	endType timestep.EndType) (*IntervalLimit, error) {
	if len(limits) != len(obsIndices) {
		return nil, fmt.Errorf("newIntervalLimit: limits should have same "+
			"length as observation indices (%v != %v)", len(limits),
			len(obsIndices))
	}

	return &IntervalLimit{limits, obsIndices, endType}, nil
}

// End determines whether or not the current episode should be ended,
// returning a boolean to indicate episode temrination. If the episode
// should be ended End() will modify the timestep so that it is the
// last step of the episode with the appropriate end type.
func (i *IntervalLimit) End(t *timestep.TimeStep) bool {
	for index := range i.indices {

		featureIndex := i.indices[index]
		interval := i.intervals[index]

		if t.Observation.AtVec(featureIndex) > interval.Max ||
			t.Observation.AtVec(featureIndex) < interval.Min {
			t.SetEnd(i.endType)
			return true
		}
	}
	return false
}

// Enders ends an episode when any of its Enders does. Enders are
// checked in order, so the first one to end the episode determines its
// end type.
type Enders []Ender

// End implements the Ender interface
func (e Enders) End(t *timestep.TimeStep) bool {
	for _, ender := range e {
		if ender.End(t) {
			return true
		}
	}
	return false
}
