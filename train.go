package zonation

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// TrainInput is the data and seed handed to Train.
type TrainInput struct {
	Counts       *mat.Dense // cells×genes
	Coordinate   []float64  // initial per-cell ordering
	Coefficients *mat.Dense // genes×2: intercept, slope
	// Optional per-gene dispersion seeds. Missing or invalid entries use
	// Options.InitialDispersion.
	Dispersion []float64
	Totals     []float64  // total count per cell
	Design     *mat.Dense // cells×samples
	Clamp      int
}

// Result is the materialised outcome of Train.
type Result struct {
	X          []float64
	Dispersion []float64
	A0         *mat.Dense
	// Effective slopes; the clamp gene's entry is exactly 1.
	A1 []float64
	// Loss of every step, in order. Non-finite values are kept as observed.
	Losses []float64
	// Steps whose update was dropped under SkipStep.
	Skipped int
}

// adam keeps first and second moments for a list of flat parameters.
type adam struct {
	lr, beta1, beta2, eps float64
	m, v                  [][]float64
	t                     int
}

func newAdam(params [][]float64, opt Options) *adam {
	a := &adam{lr: opt.LearningRate, beta1: opt.Beta1, beta2: opt.Beta2, eps: opt.Epsilon}
	for _, p := range params {
		a.m = append(a.m, make([]float64, len(p)))
		a.v = append(a.v, make([]float64, len(p)))
	}
	return a
}

func (a *adam) step(params, grads [][]float64) {
	a.t++
	b1t := 1.0 - math.Pow(a.beta1, float64(a.t))
	b2t := 1.0 - math.Pow(a.beta2, float64(a.t))
	for i, p := range params {
		m, v, g := a.m[i], a.v[i], grads[i]
		for j := range p {
			m[j] = a.beta1*m[j] + (1.0-a.beta1)*g[j]
			v[j] = a.beta2*v[j] + (1.0-a.beta2)*g[j]*g[j]
			mhat := m[j] / b1t
			vhat := v[j] / b2t
			p[j] -= a.lr * mhat / (math.Sqrt(vhat) + a.eps)
		}
	}
}

func validateOptions(opt Options, cells int) error {
	if opt.Iterations < 0 {
		return fmt.Errorf("iterations %d: %w", opt.Iterations, ErrShapeMismatch)
	}
	if opt.BatchSize < 0 || opt.BatchSize > cells {
		return fmt.Errorf("batch size %d for %d cells: %w", opt.BatchSize, cells, ErrBatchSize)
	}
	if !(opt.LearningRate > 0) {
		return fmt.Errorf("learning rate %g must be positive: %w", opt.LearningRate, ErrShapeMismatch)
	}
	return nil
}

// Seed turns per-gene fits into starting parameters. Slopes are divided by
// the clamp gene's slope and the coordinate multiplied by it, so the clamp
// slope starts at exactly 1 and x*a1 is unchanged. Intercepts are repeated
// for every sample under SampleIntercepts.
func Seed(in TrainInput, aux *Aux, opt Options) (*Params, error) {
	cells, genes := aux.Cells(), aux.Genes()
	if in.Coefficients == nil {
		return nil, fmt.Errorf("initial coefficients are nil: %w", ErrEmptyInput)
	}
	if r, c := in.Coefficients.Dims(); r != genes || c != 2 {
		return nil, fmt.Errorf("coefficients %dx%d, want %dx2: %w", r, c, genes, ErrShapeMismatch)
	}
	if len(in.Coordinate) != cells {
		return nil, fmt.Errorf("%d coordinates for %d cells: %w", len(in.Coordinate), cells, ErrShapeMismatch)
	}
	if in.Dispersion != nil && len(in.Dispersion) != genes {
		return nil, fmt.Errorf("%d dispersions for %d genes: %w", len(in.Dispersion), genes, ErrShapeMismatch)
	}

	scale := in.Coefficients.At(aux.Clamp, 1)
	if scale == 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, fmt.Errorf("clamp gene %d has slope %g: %w", aux.Clamp, scale, ErrClampSlope)
	}

	p := &Params{
		X:             make([]float64, cells),
		A1:            make([]float64, genes),
		LogDispersion: make([]float64, genes),
	}
	for c, x := range in.Coordinate {
		p.X[c] = x * scale
	}
	for g := range genes {
		p.A1[g] = in.Coefficients.At(g, 1) / scale
		alpha := opt.InitialDispersion
		if in.Dispersion != nil && in.Dispersion[g] > 0 && !math.IsInf(in.Dispersion[g], 0) {
			alpha = in.Dispersion[g]
		}
		if !(alpha > 0) {
			alpha = defaultDispersion
		}
		p.LogDispersion[g] = math.Log(alpha)
	}
	p.A1[aux.Clamp] = aux.Fixed

	rows := aux.Samples()
	if opt.Intercepts == GlobalIntercepts {
		rows = 1
	}
	p.A0 = mat.NewDense(rows, genes, nil)
	for s := range rows {
		for g := range genes {
			p.A0.Set(s, g, in.Coefficients.At(g, 0))
		}
	}
	return p, nil
}

// Train fits the coordinate, intercepts, slopes and dispersions jointly with
// Adam for exactly opt.Iterations steps. Each step draws a batch of
// opt.BatchSize cells without replacement, or uses every cell when BatchSize
// is 0. ctx is checked between steps; on cancellation or under AbortTraining
// the partial result is returned together with the error.
func Train(ctx context.Context, in TrainInput, opt Options) (*Result, error) {
	if in.Counts == nil {
		return nil, fmt.Errorf("count matrix is nil: %w", ErrEmptyInput)
	}
	cells, genes := in.Counts.Dims()
	aux, err := NewAux(in.Design, in.Totals, genes, in.Clamp, opt.Cutoff)
	if err != nil {
		return nil, err
	}
	obj, err := NewObjective(in.Counts, aux, opt.Noise, opt.Intercepts)
	if err != nil {
		return nil, err
	}
	if err := validateOptions(opt, cells); err != nil {
		return nil, err
	}
	p, err := Seed(in, aux, opt)
	if err != nil {
		return nil, err
	}

	log := opt.logger()
	batchSize := opt.BatchSize
	if batchSize == 0 {
		batchSize = cells
	}
	rng := rand.New(rand.NewPCG(opt.Seed, opt.Seed^0x9e3779b97f4a7c15))
	a0 := p.A0.RawMatrix().Data
	params := [][]float64{p.X, a0, p.A1, p.LogDispersion}
	opti := newAdam(params, opt)
	losses := make([]float64, 0, opt.Iterations)
	skipped := 0

	log.Info("training", "cells", cells, "genes", genes, "samples", aux.Samples(),
		"iterations", opt.Iterations, "batch", batchSize, "noise", opt.Noise)

	for it := 1; it <= opt.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return materialise(p, aux, losses, skipped), err
		}

		var idx []int
		if batchSize < cells {
			idx = rng.Perm(cells)[:batchSize]
		}
		loss, grads, err := obj.LossAndGrad(p, idx)
		if err != nil {
			return materialise(p, aux, losses, skipped), err
		}
		losses = append(losses, loss)

		gradList := [][]float64{grads.X, grads.A0, grads.A1, grads.LogDispersion}
		if math.IsNaN(loss) || math.IsInf(loss, 0) || !finiteAll(gradList) {
			if opt.NonFinite == AbortTraining {
				return materialise(p, aux, losses, skipped), fmt.Errorf("step %d: loss %g: %w", it, loss, ErrNonFiniteLoss)
			}
			skipped++
			log.Warn("skipping step with non-finite loss or gradient", "iter", it, "loss", loss)
			continue
		}
		opti.step(params, gradList)

		if it == 1 || it == opt.Iterations || (opt.LogEvery > 0 && it%opt.LogEvery == 0) {
			log.Info("train", "iter", it, "of", opt.Iterations, "loss", loss)
		}
	}
	return materialise(p, aux, losses, skipped), nil
}

func finiteAll(vals [][]float64) bool {
	for _, v := range vals {
		if !allFinite(v) {
			return false
		}
	}
	return true
}

func materialise(p *Params, aux *Aux, losses []float64, skipped int) *Result {
	disp := make([]float64, len(p.LogDispersion))
	for g, l := range p.LogDispersion {
		disp[g] = math.Exp(l)
	}
	return &Result{
		X:          append([]float64(nil), p.X...),
		Dispersion: disp,
		A0:         mat.DenseCopyOf(p.A0),
		A1:         aux.EffectiveSlopes(p.A1),
		Losses:     losses,
		Skipped:    skipped,
	}
}
