package utils

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var ErrPCA = errors.New("utils: principal component analysis failed")

// InitialCoordinate orders cells along principal component pc of the
// standardised fraction matrix (cells×genes). The component is centred and
// scaled to unit variance. Genes with zero variance do not contribute.
func InitialCoordinate(fractions mat.Matrix, pc int) ([]float64, error) {
	cells, genes := fractions.Dims()
	if pc < 0 || pc >= min(cells, genes) {
		return nil, fmt.Errorf("component %d of a %dx%d matrix: %w", pc, cells, genes, ErrPCA)
	}

	z := mat.DenseCopyOf(fractions)
	col := make([]float64, cells)
	for g := range genes {
		mat.Col(col, g, z)
		mean, std := stat.PopMeanStdDev(col, nil)
		for c := range col {
			if std > 0 {
				col[c] = (col[c] - mean) / std
			} else {
				col[c] = 0
			}
		}
		z.SetCol(g, col)
	}

	var pca stat.PC
	if ok := pca.PrincipalComponents(z, nil); !ok {
		return nil, ErrPCA
	}
	var vecs mat.Dense
	pca.VectorsTo(&vecs)

	var proj mat.Dense
	proj.Mul(z, vecs.Slice(0, genes, pc, pc+1))
	x := mat.Col(nil, 0, &proj)

	mean, std := stat.PopMeanStdDev(x, nil)
	if !(std > 0) {
		return nil, fmt.Errorf("component %d has zero variance: %w", pc, ErrPCA)
	}
	for c := range x {
		x[c] = (x[c] - mean) / std
	}
	return x, nil
}

// Orient flips x in place when it anticorrelates with ref, e.g. the summed
// fractions of the portal markers, so larger values point the same way on
// every run.
func Orient(x, ref []float64) []float64 {
	if r := stat.Correlation(x, ref, nil); r < 0 && !math.IsNaN(r) {
		for i := range x {
			x[i] = -x[i]
		}
	}
	return x
}
