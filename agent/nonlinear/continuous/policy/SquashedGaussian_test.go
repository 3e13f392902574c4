package policy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"

	"github.com/samuelfneumann/gosac/network"
	"github.com/samuelfneumann/gosac/timestep"
)

func newTestPolicy(t *testing.T, features, actionDims, batch int,
	init G.InitWFn) *SquashedGaussian {
	t.Helper()
	pol, err := NewSquashedGaussian(features, actionDims, batch, G.NewGraph(),
		[]int{16}, []bool{true}, []*network.Activation{network.ReLU()},
		[][]int{{}, {}}, [][]bool{{}, {}}, [][]*network.Activation{{}, {}},
		init, DefaultMinLogStd, DefaultMaxLogStd, 1, "Policy")
	require.NoError(t, err)
	t.Cleanup(func() { pol.Close() })
	return pol
}

func TestSquashCorrectionFinite(t *testing.T) {
	inputs := []float64{0, 1e-3, 0.5, 1, 5, 19, 20, 50, 1e3, 1e300,
		math.MaxFloat64, math.Inf(1)}
	for _, u := range inputs {
		for _, x := range []float64{u, -u} {
			c := SquashCorrection(x)
			assert.False(t, math.IsNaN(c) || math.IsInf(c, 0),
				"correction at %v = %v", x, c)
			assert.GreaterOrEqual(t, c, math.Log(SquashEpsilon))
		}
	}
}

func TestSquashCorrectionGrowsTowardSaturation(t *testing.T) {
	prev := SquashCorrection(0)
	for u := 0.25; u <= 30; u += 0.25 {
		c := SquashCorrection(u)
		assert.LessOrEqual(t, c, prev, "u = %v", u)
		assert.Equal(t, c, SquashCorrection(-u))
		prev = c
	}
	assert.InDelta(t, math.Log(SquashEpsilon), SquashCorrection(30), 1e-9)
}

func TestActionsBounded(t *testing.T) {
	pol := newTestPolicy(t, 2, 3, 1, G.GlorotU(10.0))

	states := [][]float64{{0, 0}, {1e6, -1e6}, {-1e6, 1e6}, {3.5, 0.25},
		{-1e3, -1e3}}
	for _, s := range states {
		step := timestep.New(timestep.First, 0, 1, mat.NewVecDense(2, s), 0)
		for i := 0; i < 5; i++ {
			action := pol.SelectAction(step)
			require.Equal(t, 3, action.Len())
			for j := 0; j < action.Len(); j++ {
				assert.GreaterOrEqual(t, action.AtVec(j), -1.0)
				assert.LessOrEqual(t, action.AtVec(j), 1.0)
			}
		}
	}
}

func TestLogProb(t *testing.T) {
	// With zero weights, μ = 0 and log(σ) = 0 in every state
	pol := newTestPolicy(t, 1, 2, 2, G.Zeroes())

	vm := G.NewTapeMachine(pol.Network().Graph())
	defer vm.Close()

	noise := []float64{0.5, -1.0, 2.0, 0.0}
	require.NoError(t, pol.Network().SetInput([]float64{0.3, -0.7}))
	require.NoError(t, pol.SetNoise(noise))
	require.NoError(t, vm.RunAll())

	actions := pol.Actions()
	logProb := pol.LogProb()
	require.Len(t, logProb, 2)

	for i := 0; i < 2; i++ {
		want := 0.0
		for j := 0; j < 2; j++ {
			eps := noise[i*2+j]
			assert.InDelta(t, math.Tanh(eps), actions[i*2+j], 1e-12)

			want += -0.5*eps*eps - 0.5*math.Log(2*math.Pi) -
				SquashCorrection(eps)
		}
		assert.InDelta(t, want, logProb[i], 1e-9)
	}
}

func TestEvalIsDeterministic(t *testing.T) {
	pol := newTestPolicy(t, 2, 1, 1, G.GlorotU(1.0))
	step := timestep.New(timestep.First, 0, 1,
		mat.NewVecDense(2, []float64{0.1, 0.2}), 0)

	pol.Eval()
	assert.True(t, pol.IsEval())
	first := pol.SelectAction(step)
	second := pol.SelectAction(step)
	assert.Equal(t, first.RawVector().Data, second.RawVector().Data)

	pol.Explore()
	assert.False(t, pol.IsEval())
	third := pol.SelectAction(step)
	assert.NotEqual(t, first.RawVector().Data, third.RawVector().Data)
}

func TestForwardBatch(t *testing.T) {
	pol := newTestPolicy(t, 2, 2, 4, G.GlorotU(1.0))

	actions, logProb, err := pol.Forward(make([]float64, 8))
	require.NoError(t, err)
	assert.Len(t, actions, 8)
	assert.Len(t, logProb, 4)
	for _, lp := range logProb {
		assert.False(t, math.IsNaN(lp))
	}

	_, _, err = pol.Forward(make([]float64, 3))
	assert.Error(t, err)
}

func TestCloneWithBatch(t *testing.T) {
	pol := newTestPolicy(t, 2, 1, 4, G.GlorotU(1.0))
	clone, err := pol.CloneWithBatch(1, 2)
	require.NoError(t, err)
	defer clone.Close()

	assert.Equal(t, 1, clone.Network().BatchSize())
	for i, l := range pol.Network().Learnables() {
		assert.Equal(t, l.Value().Data(),
			clone.Network().Learnables()[i].Value().Data())
	}
}

func TestInvalidPolicy(t *testing.T) {
	_, err := NewSquashedGaussian(2, 1, 1, G.NewGraph(), []int{4},
		[]bool{true}, []*network.Activation{network.ReLU()},
		[][]int{{}}, [][]bool{{}}, [][]*network.Activation{{}},
		G.GlorotU(1.0), -20, 2, 1, "")
	assert.Error(t, err)

	_, err = NewSquashedGaussian(2, 1, 1, G.NewGraph(), []int{4},
		[]bool{true}, []*network.Activation{network.ReLU()},
		[][]int{{}, {}}, [][]bool{{}, {}}, [][]*network.Activation{{}, {}},
		G.GlorotU(1.0), 2, -20, 1, "")
	assert.Error(t, err)
}
