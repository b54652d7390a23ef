package zonation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Params is the trainable bundle. A1 holds the raw slopes; the clamp
// gene's entry is ignored by the loss and replaced by Aux.Fixed.
type Params struct {
	X             []float64  // per cell
	A0            *mat.Dense // samples×genes, or 1×genes for GlobalIntercepts
	A1            []float64  // per gene
	LogDispersion []float64  // per gene; dispersion is exp of this
}

// Clone returns a deep copy of p.
func (p *Params) Clone() *Params {
	return &Params{
		X:             append([]float64(nil), p.X...),
		A0:            mat.DenseCopyOf(p.A0),
		A1:            append([]float64(nil), p.A1...),
		LogDispersion: append([]float64(nil), p.LogDispersion...),
	}
}

// Aux holds the fixed tensors the loss needs besides the counts.
type Aux struct {
	// Identity except a zero at (Clamp, Clamp).
	Mask      *mat.Dense
	Clamp     int
	Fixed     float64
	Design    *mat.Dense // cells×samples
	LogOffset []float64  // log total count per cell
	Cutoff    float64
}

// NewAux validates the design matrix, totals and clamp index and builds the
// identifiability mask for genes genes. The clamp gene's slope is fixed to 1.
func NewAux(design *mat.Dense, totals []float64, genes, clamp int, cutoff float64) (*Aux, error) {
	if design == nil {
		return nil, fmt.Errorf("design matrix is nil: %w", ErrEmptyInput)
	}
	if genes <= 0 {
		return nil, fmt.Errorf("no genes: %w", ErrEmptyInput)
	}
	if clamp < 0 || clamp >= genes {
		return nil, fmt.Errorf("clamp %d with %d genes: %w", clamp, genes, ErrClampGene)
	}
	if !(cutoff > 0) || math.IsInf(cutoff, 0) {
		return nil, fmt.Errorf("cutoff %g must be positive and finite: %w", cutoff, ErrShapeMismatch)
	}
	cells, _ := design.Dims()
	if _, err := SampleOf(design); err != nil {
		return nil, err
	}
	if err := validateTotals(totals, cells); err != nil {
		return nil, err
	}

	mask := mat.NewDense(genes, genes, nil)
	for g := range genes {
		mask.Set(g, g, 1)
	}
	mask.Set(clamp, clamp, 0)

	return &Aux{
		Mask:      mask,
		Clamp:     clamp,
		Fixed:     1.0,
		Design:    design,
		LogOffset: logTotals(totals),
		Cutoff:    cutoff,
	}, nil
}

// Cells returns the number of cells covered by a.
func (a *Aux) Cells() int {
	r, _ := a.Design.Dims()
	return r
}

// Samples returns the number of design matrix columns.
func (a *Aux) Samples() int {
	_, c := a.Design.Dims()
	return c
}

// Genes returns the number of genes covered by the mask.
func (a *Aux) Genes() int {
	r, _ := a.Mask.Dims()
	return r
}

// EffectiveSlopes returns mask·a1 with the clamp entry overwritten by Fixed.
func (a *Aux) EffectiveSlopes(a1 []float64) []float64 {
	out := make([]float64, len(a1))
	mat.NewVecDense(len(out), out).MulVec(a.Mask, mat.NewVecDense(len(a1), a1))
	out[a.Clamp] = a.Fixed
	return out
}
