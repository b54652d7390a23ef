package zonation_test

import (
	"context"
	"testing"

	"github.com/setanarut/zonation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestModelFit(t *testing.T) {
	s := newSynthetic(t, 60, []float64{1, 0.5, -0.4}, 0.05, 41)
	m := zonation.NewModel(s.counts, s.totals, s.design, s.initialX, 0)

	opt := zonation.DefaultOptions()
	opt.Iterations = 50
	require.NoError(t, m.Fit(context.Background(), opt))

	require.Len(t, m.GeneFits, 3)
	assert.Empty(t, m.FailedGenes())
	require.NotNil(t, m.Result)
	assert.Len(t, m.Result.Losses, 50)
	assert.Len(t, m.Result.X, 60)
}

func TestModelFitNeedsClampGene(t *testing.T) {
	s := newSynthetic(t, 40, []float64{1, 0.5}, 0.05, 42)
	counts := mat.DenseCopyOf(s.counts)
	for c := range 40 {
		counts.Set(c, 1, 0)
	}

	m := zonation.NewModel(counts, s.totals, s.design, s.initialX, 1)
	err := m.Fit(context.Background(), zonation.DefaultOptions())
	assert.ErrorIs(t, err, zonation.ErrGeneFit)
	assert.Equal(t, []int{1}, m.FailedGenes())
	assert.Nil(t, m.Result)

	m = zonation.NewModel(s.counts, s.totals, s.design, s.initialX, 5)
	err = m.Fit(context.Background(), zonation.DefaultOptions())
	assert.ErrorIs(t, err, zonation.ErrClampGene)
}
