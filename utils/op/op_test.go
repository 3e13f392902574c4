package op

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func matrix(g *G.ExprGraph, name string, data []float64) *G.Node {
	backing := append([]float64{}, data...)
	return G.NewMatrix(g, tensor.Float64, G.WithShape(len(data), 1),
		G.WithName(name), G.WithValue(tensor.New(
			tensor.WithShape(len(data), 1),
			tensor.WithBacking(backing),
		)))
}

func run(t *testing.T, g *G.ExprGraph, out *G.Node) []float64 {
	t.Helper()
	var val G.Value
	G.Read(out, &val)

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())

	return append([]float64{}, val.Data().([]float64)...)
}

func TestMin(t *testing.T) {
	q1 := []float64{1.0, -2.0, 3.5, 0.0, -7.25}
	q2 := []float64{2.0, -3.0, 3.5, -0.5, 4.0}

	g := G.NewGraph()
	min, err := Min(matrix(g, "q1", q1), matrix(g, "q2", q2))
	require.NoError(t, err)

	out := run(t, g, min)
	for i := range q1 {
		assert.LessOrEqual(t, out[i], q1[i])
		assert.LessOrEqual(t, out[i], q2[i])
		assert.True(t, out[i] == q1[i] || out[i] == q2[i])
		if q1[i] != q2[i] {
			assert.False(t, out[i] == q1[i] && out[i] == q2[i])
		}
	}
	assert.Equal(t, []float64{1.0, -3.0, 3.5, -0.5, -7.25}, out)
}

func TestMinGradient(t *testing.T) {
	g := G.NewGraph()
	a := matrix(g, "a", []float64{1.0, 5.0})
	b := matrix(g, "b", []float64{2.0, 3.0})
	min, err := Min(a, b)
	require.NoError(t, err)

	cost, err := G.Sum(min)
	require.NoError(t, err)
	_, err = G.Grad(cost, a, b)
	require.NoError(t, err)

	vm := G.NewTapeMachine(g, G.BindDualValues(a, b))
	defer vm.Close()
	require.NoError(t, vm.RunAll())

	aGrad, err := a.Grad()
	require.NoError(t, err)
	bGrad, err := b.Grad()
	require.NoError(t, err)
	assert.Equal(t, []float64{1.0, 0.0}, aGrad.Data())
	assert.Equal(t, []float64{0.0, 1.0}, bGrad.Data())
}

func TestClip(t *testing.T) {
	g := G.NewGraph()
	clipped, err := Clip(matrix(g, "x", []float64{-30, -20, 0.5, 2, 9}),
		-20, 2)
	require.NoError(t, err)

	out := run(t, g, clipped)
	assert.Equal(t, []float64{-20, -20, 0.5, 2, 2}, out)
}
