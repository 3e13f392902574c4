package environment

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// SpecType determines what kind of specification a Spec is. A Spec can
// specify the layout of an acion, an observation, a discount, or a reward
type SpecType int

const (
	Action SpecType = iota
	Observation
	Discount
	Reward
)

// Cardinality determines the cardinality of a number (discrete or continuous)
type Cardinality string

const (
	Continuous Cardinality = "Continuous"
	Discrete   Cardinality = "Discrete"
)

// Spec implements an environment specification, which tells the type,
// shape, and bounds of an action, observation, discount, or reward in
// an environment
type Spec struct {
	Shape      *mat.VecDense
	Type       SpecType
	LowerBound *mat.VecDense
	UpperBound *mat.VecDense
	Cardinality
}

// NewSpec constructs a new environment specification
// The shape argument outlines the shape of the data described by the
// specification. The argument t outlines what the specification is
// describing (e.g. actions, observations, etc.). The cardinality
// arguments describes whether the values that the spec describes are
// continuous or discrete.
func NewSpec(shape *mat.VecDense, t SpecType, lowerBound,
	upperBound *mat.VecDense, cardinality Cardinality) (Spec, error) {
	if shape.Len() != lowerBound.Len() {
		return Spec{}, fmt.Errorf("newSpec: shape length %v must match "+
			"lower bounds length %v", shape.Len(), lowerBound.Len())
	}
	if shape.Len() != upperBound.Len() {
		return Spec{}, fmt.Errorf("newSpec: shape length %v must match "+
			"upper bounds length %v", shape.Len(), upperBound.Len())
	}
	for i := 0; i < lowerBound.Len(); i++ {
		if lowerBound.AtVec(i) > upperBound.AtVec(i) {
			return Spec{}, fmt.Errorf("newSpec: lower bound %v > upper "+
				"bound %v at index %v", lowerBound.AtVec(i),
				upperBound.AtVec(i), i)
		}
	}
	return Spec{shape, t, lowerBound, upperBound, cardinality}, nil
}

// Len returns the number of dimensions the Spec describes
func (s Spec) Len() int {
	return s.Shape.Len()
}

// Rescale maps a vector with elements in [-1, 1] to the bounds of the
// Spec, element-wise. The argument is not modified.
func (s Spec) Rescale(v *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(v.Len(), nil)
	for i := 0; i < v.Len(); i++ {
		low, high := s.LowerBound.AtVec(i), s.UpperBound.AtVec(i)
		out.SetVec(i, low+(v.AtVec(i)+1.0)*0.5*(high-low))
	}
	return out
}
