package sac

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Temperature implements the entropy temperature α of SAC. The
// temperature is stored as log(α) so that α = exp(log(α)) is always
// positive. When learned, log(α) is adjusted by dual gradient descent
// on
//
//	L(log(α)) = -α * mean(log π(a|s) + H̄)
//
// where H̄ is the target entropy. The log probabilities are constants
// in this loss.
type Temperature struct {
	g        *G.ExprGraph
	logAlpha *G.Node
	gap      *G.Node
	lossVal  G.Value
	vm       G.VM
	solver   G.Solver

	targetEntropy float64
	learn         bool
}

// NewTemperature returns a new Temperature with initial value
// initialAlpha. If learn is false the temperature stays fixed and
// solver may be nil.
func NewTemperature(initialAlpha, targetEntropy float64, learn bool,
	solver G.Solver) (*Temperature, error) {
	if initialAlpha <= 0 || math.IsInf(initialAlpha, 0) ||
		math.IsNaN(initialAlpha) {
		return nil, configErr("InitialAlpha", "initial temperature must "+
			"be positive and finite but got %v", initialAlpha)
	}
	if math.IsInf(targetEntropy, 0) || math.IsNaN(targetEntropy) {
		return nil, configErr("TargetEntropy", "target entropy must be "+
			"finite but got %v", targetEntropy)
	}
	if learn && solver == nil {
		return nil, configErr("AlphaSolver", "learning the temperature "+
			"requires a solver")
	}

	g := G.NewGraph()
	logAlpha := G.NewVector(
		g,
		tensor.Float64,
		G.WithName("LogAlpha"),
		G.WithShape(1),
		G.WithInit(G.ValuesOf(math.Log(initialAlpha))),
	)
	t := &Temperature{
		g:             g,
		logAlpha:      logAlpha,
		solver:        solver,
		targetEntropy: targetEntropy,
		learn:         learn,
	}

	if !learn {
		return t, nil
	}

	// The gap log π + H̄ is computed outside the graph
	gap := G.NewVector(
		g,
		tensor.Float64,
		G.WithName("EntropyGap"),
		G.WithShape(1),
		G.WithInit(G.Zeroes()),
	)
	alpha := G.Must(G.Exp(logAlpha))
	loss := G.Must(G.HadamardProd(alpha, gap))
	loss = G.Must(G.Neg(G.Must(G.Sum(loss))))
	G.Read(loss, &t.lossVal)

	if _, err := G.Grad(loss, logAlpha); err != nil {
		return nil, fmt.Errorf("newTemperature: could not compute "+
			"gradient: %w", err)
	}

	t.gap = gap
	t.vm = G.NewTapeMachine(g, G.BindDualValues(logAlpha))
	return t, nil
}

// LogAlpha returns the current value of log(α)
func (t *Temperature) LogAlpha() float64 {
	return t.logAlpha.Value().Data().([]float64)[0]
}

// Alpha returns the current temperature α. Underflow of exp(log(α))
// is clamped to the smallest positive float so that α stays strictly
// positive.
func (t *Temperature) Alpha() float64 {
	alpha := math.Exp(t.LogAlpha())
	if alpha <= 0 {
		return math.SmallestNonzeroFloat64
	}
	return alpha
}

// TargetEntropy returns the target entropy H̄
func (t *Temperature) TargetEntropy() float64 {
	return t.targetEntropy
}

// Learning returns whether the temperature is learned
func (t *Temperature) Learning() bool {
	return t.learn
}

// Update takes a single gradient step on log(α) using the log
// probabilities of actions sampled from the current policy and returns
// the loss before the step. If the temperature is fixed, Update does
// nothing.
func (t *Temperature) Update(logProb []float64) (float64, error) {
	if !t.learn {
		return 0, nil
	}
	if len(logProb) == 0 {
		return 0, fmt.Errorf("update: no log probabilities given")
	}

	gap := stat.Mean(logProb, nil) + t.targetEntropy
	gapTensor := tensor.NewDense(
		tensor.Float64,
		t.gap.Shape(),
		tensor.WithBacking([]float64{gap}),
	)
	if err := G.Let(t.gap, gapTensor); err != nil {
		return 0, fmt.Errorf("update: could not set entropy gap: %w", err)
	}

	if err := t.vm.RunAll(); err != nil {
		return 0, fmt.Errorf("update: could not run VM: %w", err)
	}
	defer t.vm.Reset()

	loss := t.lossVal.Data().(float64)
	if err := t.solver.Step(G.NodesToValueGrads(G.Nodes{t.logAlpha})); err != nil {
		return 0, fmt.Errorf("update: could not step solver: %w", err)
	}
	return loss, nil
}

// Close closes the VM of the Temperature
func (t *Temperature) Close() error {
	if t.vm == nil {
		return nil
	}
	return t.vm.Close()
}
