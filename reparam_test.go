package zonation_test

import (
	"math"
	"testing"

	"github.com/setanarut/zonation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func assertSamePrediction(t *testing.T, want, got *mat.Dense) {
	t.Helper()
	r, c := want.Dims()
	for i := range r {
		for j := range c {
			w := want.At(i, j)
			assert.InDelta(t, w, got.At(i, j), 1e-9*math.Max(1, w), "cell %d gene %d", i, j)
		}
	}
}

func TestScaleParametersKeepsPredictor(t *testing.T) {
	s := newSynthetic(t, 50, []float64{1, -0.7, 0.3}, 0.1, 31)
	x := make([]float64, 50)
	for c := range x {
		x[c] = 3*s.x[c] - 1.5
	}

	xs, a0s, a1s, err := zonation.ScaleParameters(x, s.a0, s.a1)
	require.NoError(t, err)

	assert.Equal(t, 0.0, floats.Min(xs))
	assert.InDelta(t, 1.0, floats.Max(xs), 1e-12)
	assertSamePrediction(t,
		zonation.Predict(x, s.a0, s.a1, s.design),
		zonation.Predict(xs, a0s, a1s, s.design))

	// The inputs are left alone.
	assert.Equal(t, []float64{1, -0.7, 0.3}, s.a1)
}

func TestScaleParametersToFixedRange(t *testing.T) {
	x := []float64{2, 4, 6}
	a0 := mat.NewDense(1, 2, []float64{0, 1})
	a1 := []float64{1, -2}

	xs, a0s, a1s, err := zonation.ScaleParametersTo(x, a0, a1, 0, 8)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25, 0.5, 0.75}, xs)
	assert.Equal(t, []float64{8, -16}, a1s)
	assert.Equal(t, []float64{0, 1}, mat.Row(nil, 0, a0s))
}

func TestScaleParametersRejectsDegenerate(t *testing.T) {
	a0 := mat.NewDense(1, 1, []float64{0})
	_, _, _, err := zonation.ScaleParameters([]float64{3, 3, 3}, a0, []float64{1})
	assert.ErrorIs(t, err, zonation.ErrDegenerate)

	_, _, _, err = zonation.ScaleParameters(nil, a0, []float64{1})
	assert.ErrorIs(t, err, zonation.ErrEmptyInput)

	_, _, _, err = zonation.ScaleParameters([]float64{0, 1}, a0, []float64{1, 2})
	assert.ErrorIs(t, err, zonation.ErrShapeMismatch)
}

func TestShiftSamplesAlignsIntercepts(t *testing.T) {
	s := newSynthetic(t, 40, []float64{1, -0.5, 0.8}, 0.1, 32)
	// Same biology in both samples, but sample 1's coordinate is offset by
	// -0.5 and its intercepts compensate.
	a0 := mat.NewDense(2, 3, nil)
	x := make([]float64, 40)
	for g := range 3 {
		a0.Set(0, g, s.a0.At(0, g))
		a0.Set(1, g, s.a0.At(0, g)+0.5*s.a1[g])
	}
	for c := range x {
		x[c] = s.x[c]
		if s.samples[c] == 1 {
			x[c] -= 0.5
		}
	}
	res := &zonation.Result{X: x, A0: a0, A1: s.a1, Dispersion: []float64{0.1, 0.1, 0.1}}

	shifted, shifts, err := zonation.ShiftSamples(res, s.samples, []int{0, 1, 2})
	require.NoError(t, err)
	require.Len(t, shifts, 2)
	assert.InDelta(t, 0.5, shifts[1]-shifts[0], 1e-12)

	for g := range 3 {
		assert.InDelta(t, shifted.A0.At(0, g), shifted.A0.At(1, g), 1e-12, "gene %d", g)
	}
	assertSamePrediction(t,
		zonation.Predict(res.X, res.A0, res.A1, s.design),
		zonation.Predict(shifted.X, shifted.A0, shifted.A1, s.design))

	// Cells at the same true position end up at the same coordinate.
	for c := 1; c < 40; c++ {
		assert.InDelta(t, shifted.X[c]-shifted.X[0], s.x[c]-s.x[0], 1e-12)
	}
}

func TestShiftSamplesPreconditions(t *testing.T) {
	res := &zonation.Result{
		X:  []float64{0, 1, 2},
		A0: mat.NewDense(2, 2, nil),
		A1: []float64{1, 2},
	}
	_, _, err := zonation.ShiftSamples(res, []int{0, 1}, []int{0})
	assert.ErrorIs(t, err, zonation.ErrShapeMismatch)
	_, _, err = zonation.ShiftSamples(res, []int{0, 1, 1}, nil)
	assert.ErrorIs(t, err, zonation.ErrEmptyInput)
	_, _, err = zonation.ShiftSamples(res, []int{0, 1, 1}, []int{5})
	assert.ErrorIs(t, err, zonation.ErrShapeMismatch)
	_, _, err = zonation.ShiftSamples(res, []int{0, 2, 1}, []int{0})
	assert.ErrorIs(t, err, zonation.ErrDesignMatrix)
}
