package zonation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/optimize"
)

func TestFinishFitKeepsCoefficientsOnOptimizerError(t *testing.T) {
	fallback := GeneFit{Intercept: -3, Dispersion: defaultDispersion}
	res := &optimize.Result{
		Location: optimize.Location{X: []float64{-2.5, 0.6, math.Log(0.2)}},
		Stats:    optimize.Stats{MajorIterations: 7},
		Status:   optimize.Failure,
	}

	fit := finishFit(res, optimize.ErrLinesearcherFailure, true, fallback)
	assert.True(t, fit.OK)
	assert.Equal(t, -2.5, fit.Intercept)
	assert.Equal(t, 0.6, fit.Slope)
	assert.InDelta(t, 0.2, fit.Dispersion, 1e-12)
	assert.Equal(t, 7, fit.Iterations)
	assert.ErrorIs(t, fit.Err, optimize.ErrLinesearcherFailure)

	clean := finishFit(res, nil, true, fallback)
	assert.True(t, clean.OK)
	assert.NoError(t, clean.Err)
}

func TestFinishFitFallsBackOnNonFiniteCoefficients(t *testing.T) {
	fallback := GeneFit{Intercept: -3, Dispersion: defaultDispersion}
	res := &optimize.Result{Location: optimize.Location{X: []float64{math.NaN(), 0.1, 0}}}

	fit := finishFit(res, optimize.ErrLinesearcherFailure, true, fallback)
	assert.False(t, fit.OK)
	assert.Equal(t, -3.0, fit.Intercept)
	assert.Equal(t, defaultDispersion, fit.Dispersion)
	assert.ErrorIs(t, fit.Err, ErrGeneFit)

	fit = finishFit(nil, nil, false, GeneFit{Intercept: -1})
	assert.False(t, fit.OK)
	assert.ErrorIs(t, fit.Err, ErrGeneFit)
}
