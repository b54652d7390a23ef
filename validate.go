package zonation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

func validCount(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && v == math.Trunc(v)
}

func validateCounts(counts mat.Matrix) error {
	rows, cols := counts.Dims()
	if rows == 0 || cols == 0 {
		return fmt.Errorf("count matrix is %dx%d: %w", rows, cols, ErrEmptyInput)
	}
	for c := range rows {
		for g := range cols {
			if v := counts.At(c, g); !validCount(v) {
				return fmt.Errorf("count[%d,%d] = %g: %w", c, g, v, ErrInvalidCounts)
			}
		}
	}
	return nil
}

func validateTotals(totals []float64, cells int) error {
	if len(totals) != cells {
		return fmt.Errorf("%d totals for %d cells: %w", len(totals), cells, ErrShapeMismatch)
	}
	for c, n := range totals {
		if !(n > 0) || math.IsInf(n, 0) {
			return fmt.Errorf("total[%d] = %g: %w", c, n, ErrInvalidTotals)
		}
	}
	return nil
}

func logTotals(totals []float64) []float64 {
	out := make([]float64, len(totals))
	for i, n := range totals {
		out[i] = math.Log(n)
	}
	return out
}

func allFinite(vals []float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
