package zonation_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/setanarut/zonation"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// synthetic is a data set drawn from the joint model with known parameters.
type synthetic struct {
	counts   *mat.Dense
	totals   []float64
	samples  []int
	design   *mat.Dense
	x        []float64 // true coordinate
	a0       *mat.Dense
	a1       []float64
	alpha    float64
	initialX []float64 // noisy, standardised copy of x
}

// newSynthetic draws cells cells split over two interleaved samples.
// Counts follow NB(mean exp(x*a1 + a0[s] + log n), alpha) sampled as a
// Gamma-Poisson mixture.
func newSynthetic(t *testing.T, cells int, a1 []float64, alpha float64, seed uint64) *synthetic {
	t.Helper()
	src := rand.NewPCG(seed, seed+1)
	rng := rand.New(src)
	genes := len(a1)
	baseRate := []float64{0.02, 0.05, 0.03, 0.01, 0.04, 0.02, 0.03, 0.05}

	s := &synthetic{
		counts:   mat.NewDense(cells, genes, nil),
		totals:   make([]float64, cells),
		samples:  make([]int, cells),
		x:        make([]float64, cells),
		a0:       mat.NewDense(2, genes, nil),
		a1:       a1,
		alpha:    alpha,
		initialX: make([]float64, cells),
	}
	for g := range genes {
		base := math.Log(baseRate[g%len(baseRate)])
		s.a0.Set(0, g, base)
		s.a0.Set(1, g, base+0.2)
	}
	perm := rng.Perm(cells)
	for c := range cells {
		s.x[c] = -2 + 4*float64(perm[c])/float64(cells-1)
		s.samples[c] = c % 2
		s.totals[c] = 5000 + 5000*rng.Float64()
	}

	r := 1 / alpha
	for c := range cells {
		for g := range genes {
			mean := math.Exp(s.x[c]*a1[g] + s.a0.At(s.samples[c], g) + math.Log(s.totals[c]))
			lambda := distuv.Gamma{Alpha: r, Beta: r / mean, Src: src}.Rand()
			s.counts.Set(c, g, distuv.Poisson{Lambda: lambda, Src: src}.Rand())
		}
	}

	for c := range cells {
		s.initialX[c] = s.x[c] + 0.1*rng.NormFloat64()
	}
	mean, std := stat.MeanStdDev(s.initialX, nil)
	for c := range s.initialX {
		s.initialX[c] = (s.initialX[c] - mean) / std
	}

	dm, _, err := zonation.DesignMatrix(s.samples)
	require.NoError(t, err)
	s.design = dm
	return s
}

func (s *synthetic) cells() int {
	r, _ := s.counts.Dims()
	return r
}

func (s *synthetic) genes() int {
	_, c := s.counts.Dims()
	return c
}

// params returns the true parameters with the given dispersion.
func (s *synthetic) params() *zonation.Params {
	logA := make([]float64, s.genes())
	for g := range logA {
		logA[g] = math.Log(s.alpha)
	}
	return &zonation.Params{
		X:             append([]float64(nil), s.x...),
		A0:            mat.DenseCopyOf(s.a0),
		A1:            append([]float64(nil), s.a1...),
		LogDispersion: logA,
	}
}

func (s *synthetic) objective(t *testing.T, clamp int, noise zonation.NoiseKind, mode zonation.InterceptMode) *zonation.Objective {
	t.Helper()
	return s.objectiveWithCutoff(t, clamp, noise, mode, 50)
}

func (s *synthetic) objectiveWithCutoff(t *testing.T, clamp int, noise zonation.NoiseKind, mode zonation.InterceptMode, cutoff float64) *zonation.Objective {
	t.Helper()
	aux, err := zonation.NewAux(s.design, s.totals, s.genes(), clamp, cutoff)
	require.NoError(t, err)
	obj, err := zonation.NewObjective(s.counts, aux, noise, mode)
	require.NoError(t, err)
	return obj
}
