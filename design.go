package zonation

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// DesignMatrix one-hot encodes per-cell sample labels. Column s belongs to
// the s-th distinct label in order of first appearance; the labels are
// returned in that order.
func DesignMatrix[T comparable](ids []T) (*mat.Dense, []T, error) {
	if len(ids) == 0 {
		return nil, nil, fmt.Errorf("design matrix: no cells: %w", ErrEmptyInput)
	}
	column := make(map[T]int)
	var labels []T
	for _, id := range ids {
		if _, ok := column[id]; !ok {
			column[id] = len(labels)
			labels = append(labels, id)
		}
	}
	dm := mat.NewDense(len(ids), len(labels), nil)
	for c, id := range ids {
		dm.Set(c, column[id], 1)
	}
	return dm, labels, nil
}

// SampleOf returns the sample column of every row of a design matrix and
// fails unless each row is one-hot.
func SampleOf(design mat.Matrix) ([]int, error) {
	rows, cols := design.Dims()
	out := make([]int, rows)
	for c := range rows {
		out[c] = -1
		for s := range cols {
			switch v := design.At(c, s); v {
			case 0:
			case 1:
				if out[c] >= 0 {
					return nil, fmt.Errorf("row %d has several samples: %w", c, ErrDesignMatrix)
				}
				out[c] = s
			default:
				return nil, fmt.Errorf("row %d holds %g: %w", c, v, ErrDesignMatrix)
			}
		}
		if out[c] < 0 {
			return nil, fmt.Errorf("row %d has no sample: %w", c, ErrDesignMatrix)
		}
	}
	return out, nil
}
