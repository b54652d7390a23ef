package zonation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ============ REPARAMETRISATION ============
//
// None of these change x*a1 + a0 for any cell, so the fitted likelihood is
// untouched. They run after training only.

// ScaleParameters maps x onto [0,1] and compensates the intercepts (one row
// per sample) and slopes.
func ScaleParameters(x []float64, a0 *mat.Dense, a1 []float64) ([]float64, *mat.Dense, []float64, error) {
	if len(x) == 0 {
		return nil, nil, nil, fmt.Errorf("scale: no cells: %w", ErrEmptyInput)
	}
	return ScaleParametersTo(x, a0, a1, floats.Min(x), floats.Max(x))
}

// ScaleParametersTo maps xMin to 0 and xMax to 1.
func ScaleParametersTo(x []float64, a0 *mat.Dense, a1 []float64, xMin, xMax float64) ([]float64, *mat.Dense, []float64, error) {
	span := xMax - xMin
	if span == 0 || math.IsNaN(span) || math.IsInf(span, 0) {
		return nil, nil, nil, fmt.Errorf("scale: range [%g, %g]: %w", xMin, xMax, ErrDegenerate)
	}
	rows, genes := a0.Dims()
	if genes != len(a1) {
		return nil, nil, nil, fmt.Errorf("scale: a0 has %d genes, a1 %d: %w", genes, len(a1), ErrShapeMismatch)
	}

	xs := make([]float64, len(x))
	for i, v := range x {
		xs[i] = (v - xMin) / span
	}
	a0s := mat.NewDense(rows, genes, nil)
	a1s := make([]float64, genes)
	for g := range genes {
		a1s[g] = a1[g] * span
		for s := range rows {
			a0s.Set(s, g, a0.At(s, g)+a1[g]*xMin)
		}
	}
	return xs, a0s, a1s, nil
}

// ShiftSamples removes the per-sample offset ambiguity of the coordinate.
// For every sample s it picks the shift d[s] that brings the central genes'
// intercepts a0[s,g] - a1[g]*d[s] closest, in least squares, to their mean
// over samples, then moves the sample's cells by +d[s]. sampleOf gives the
// sample of every cell. The shifted copy and d are returned.
func ShiftSamples(res *Result, sampleOf []int, central []int) (*Result, []float64, error) {
	if len(sampleOf) != len(res.X) {
		return nil, nil, fmt.Errorf("shift: %d labels for %d cells: %w", len(sampleOf), len(res.X), ErrShapeMismatch)
	}
	if len(central) == 0 {
		return nil, nil, fmt.Errorf("shift: no central genes: %w", ErrEmptyInput)
	}
	samples, genes := res.A0.Dims()
	for _, g := range central {
		if g < 0 || g >= genes {
			return nil, nil, fmt.Errorf("shift: central gene %d of %d: %w", g, genes, ErrShapeMismatch)
		}
	}
	for c, s := range sampleOf {
		if s < 0 || s >= samples {
			return nil, nil, fmt.Errorf("shift: cell %d in sample %d of %d: %w", c, s, samples, ErrDesignMatrix)
		}
	}

	ref := make([]float64, len(central))
	for i, g := range central {
		ref[i] = floats.Sum(mat.Col(nil, g, res.A0)) / float64(samples)
	}
	den := 0.0
	for _, g := range central {
		den += res.A1[g] * res.A1[g]
	}

	shifts := make([]float64, samples)
	if den > 0 {
		for s := range samples {
			num := 0.0
			for i, g := range central {
				num += res.A1[g] * (res.A0.At(s, g) - ref[i])
			}
			shifts[s] = num / den
		}
	}

	out := &Result{
		X:          make([]float64, len(res.X)),
		Dispersion: append([]float64(nil), res.Dispersion...),
		A0:         mat.NewDense(samples, genes, nil),
		A1:         append([]float64(nil), res.A1...),
		Losses:     append([]float64(nil), res.Losses...),
		Skipped:    res.Skipped,
	}
	for c, x := range res.X {
		out.X[c] = x + shifts[sampleOf[c]]
	}
	for s := range samples {
		for g := range genes {
			out.A0.Set(s, g, res.A0.At(s, g)-res.A1[g]*shifts[s])
		}
	}
	return out, shifts, nil
}

// Predict returns the per-cell mean profile exp(x*a1 + design·a0) without
// the total-count offset.
func Predict(x []float64, a0 *mat.Dense, a1 []float64, design mat.Matrix) *mat.Dense {
	cells := len(x)
	genes := len(a1)
	var base mat.Dense
	base.Mul(design, a0)
	out := mat.NewDense(cells, genes, nil)
	out.Apply(func(c, g int, _ float64) float64 {
		return math.Exp(x[c]*a1[g] + base.At(c, g))
	}, out)
	return out
}
