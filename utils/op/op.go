// Package op provides extended Gorgonia graph operations.
//
// Adapted from aunum/gold on GitHub
package op

import (
	G "gorgonia.org/gorgonia"
)

// Clip clips the value of a node to [min, max] element-wise. The
// gradient of the output with respect to value is 1 where value is
// inside [min, max] and 0 where it was clipped.
func Clip(value *G.Node, min, max float64) (retVal *G.Node, err error) {
	// Constants are deduplicated by the graph, so Clip may be used many
	// times in one graph
	minNode := G.NewConstant(min)
	maxNode := G.NewConstant(max)

	// Check if its the min value
	minMask, err := G.Lt(value, minNode, true)
	if err != nil {
		return nil, err
	}
	minVal, err := G.HadamardProd(minNode, minMask)
	if err != nil {
		return nil, err
	}

	// Check if its the given value
	isMaskGte, err := G.Gte(value, minNode, true)
	if err != nil {
		return nil, err
	}
	isMaskLte, err := G.Lte(value, maxNode, true)
	if err != nil {
		return nil, err
	}
	isMask, err := G.HadamardProd(isMaskGte, isMaskLte)
	if err != nil {
		return nil, err
	}
	isVal, err := G.HadamardProd(value, isMask)
	if err != nil {
		return nil, err
	}

	// Check if its the max value
	maxMask, err := G.Gt(value, maxNode, true)
	if err != nil {
		return nil, err
	}
	maxVal, err := G.HadamardProd(maxNode, maxMask)
	if err != nil {
		return nil, err
	}
	return G.ReduceAdd(G.Nodes{minVal, isVal, maxVal})
}

// Min returns the element-wise min value between the nodes. If values
// are equal the first value is returned. Gradients flow only into the
// selected element of each pair.
func Min(a *G.Node, b *G.Node) (retVal *G.Node, err error) {
	aMask, err := G.Lte(a, b, true)
	if err != nil {
		return nil, err
	}
	aVal, err := G.HadamardProd(a, aMask)
	if err != nil {
		return nil, err
	}

	bMask, err := G.Lt(b, a, true)
	if err != nil {
		return nil, err
	}
	bVal, err := G.HadamardProd(b, bMask)
	if err != nil {
		return nil, err
	}
	return G.Add(aVal, bVal)
}
