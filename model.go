package zonation

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Model runs the whole inference for one data set: per-gene initial fits
// against the initial ordering, then joint training.
type Model struct {
	Counts     *mat.Dense // cells×genes
	Totals     []float64
	Design     *mat.Dense
	Coordinate []float64
	Clamp      int

	GeneFits []GeneFit
	Result   *Result
}

func NewModel(counts *mat.Dense, totals []float64, design *mat.Dense, coordinate []float64, clamp int) *Model {
	return &Model{
		Counts:     counts,
		Totals:     totals,
		Design:     design,
		Coordinate: coordinate,
		Clamp:      clamp,
	}
}

// Fit fills GeneFits and Result. A failed clamp gene fit is fatal since it
// sets the scale of every other slope.
func (m *Model) Fit(ctx context.Context, opt Options) error {
	fits, err := FitGenes(ctx, m.Counts, m.Coordinate, m.Totals, opt)
	if err != nil {
		return err
	}
	m.GeneFits = fits
	if m.Clamp < 0 || m.Clamp >= len(fits) {
		return fmt.Errorf("clamp %d with %d genes: %w", m.Clamp, len(fits), ErrClampGene)
	}
	if f := fits[m.Clamp]; !f.OK {
		return fmt.Errorf("clamp gene initial fit: %w", f.Err)
	}

	res, err := Train(ctx, TrainInput{
		Counts:       m.Counts,
		Coordinate:   m.Coordinate,
		Coefficients: Coefficients(fits),
		Dispersion:   Dispersions(fits),
		Totals:       m.Totals,
		Design:       m.Design,
		Clamp:        m.Clamp,
	}, opt)
	m.Result = res
	return err
}

// FailedGenes lists the genes whose initial fit diverged.
func (m *Model) FailedGenes() []int {
	var out []int
	for g, f := range m.GeneFits {
		if !f.OK {
			out = append(out, g)
		}
	}
	return out
}
