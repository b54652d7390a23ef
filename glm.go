package zonation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/setanarut/zonation/autodiff"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/optimize"
)

// GeneFit is the result of one per-gene initial regression. When OK is
// false the fit diverged, Err says why, and the coefficients hold defaults:
// finite fitted coefficients are kept, anything else falls back to the
// gene's mean rate with zero slope and the default dispersion.
type GeneFit struct {
	Intercept  float64
	Slope      float64
	Dispersion float64 // 0 for Poisson fits
	Iterations int
	OK         bool
	Err        error
}

const (
	defaultDispersion = 0.3
	minDispersion     = 1e-8
	maxDispersion     = 1e6
)

// glmProblem is the negative log-likelihood of one gene's counts under
// mean exp(D·beta + offset). theta is beta followed, for NB, by log dispersion.
// The lgamma(k+1) term is constant and left out.
type glmProblem struct {
	counts []float64
	d      mat.Matrix
	offset []float64
	nb     bool
}

func (p *glmProblem) linear(theta []float64, c int) float64 {
	return theta[0]*p.d.At(c, 0) + theta[1]*p.d.At(c, 1) + p.offset[c]
}

func (p *glmProblem) Func(theta []float64) float64 {
	ll := 0.0
	for c, k := range p.counts {
		lin := p.linear(theta, c)
		if !p.nb {
			ll += k*lin - math.Exp(lin)
			continue
		}
		r := math.Exp(-theta[2])
		eta := theta[2] + lin
		sp := autodiff.Softplus(eta)
		lgkr, _ := math.Lgamma(k + r)
		lgr, _ := math.Lgamma(r)
		ll += lgkr - lgr - r*sp + k*(eta-sp)
	}
	return -ll
}

func (p *glmProblem) Grad(grad, theta []float64) {
	for i := range grad {
		grad[i] = 0
	}
	for c, k := range p.counts {
		lin := p.linear(theta, c)
		var dlin float64
		if p.nb {
			r := math.Exp(-theta[2])
			eta := theta[2] + lin
			dlin = k - (k+r)*autodiff.Sigmoid(eta)
			dr := mathext.Digamma(k+r) - mathext.Digamma(r) - autodiff.Softplus(eta)
			grad[2] -= dlin - r*dr
		} else {
			dlin = k - math.Exp(lin)
		}
		grad[0] -= dlin * p.d.At(c, 0)
		grad[1] -= dlin * p.d.At(c, 1)
	}
}

// FitGene regresses one gene's counts on covariates (columns: ones, initial
// coordinate) with a log link and per-cell log offsets, for at most
// iterations quasi-Newton steps. Malformed input is returned as an error;
// divergence is reported through GeneFit.OK and GeneFit.Err. A fit that stops
// early with usable coefficients stays OK and carries the optimizer error.
func FitGene(counts []float64, covariates mat.Matrix, logOffset []float64, noise NoiseKind, iterations int) (GeneFit, error) {
	n, p := covariates.Dims()
	if n == 0 {
		return GeneFit{}, fmt.Errorf("gene fit: no cells: %w", ErrEmptyInput)
	}
	if p != 2 || len(counts) != n || len(logOffset) != n {
		return GeneFit{}, fmt.Errorf("gene fit: %d counts, %dx%d covariates, %d offsets: %w",
			len(counts), n, p, len(logOffset), ErrShapeMismatch)
	}
	for c, k := range counts {
		if !validCount(k) {
			return GeneFit{}, fmt.Errorf("gene fit: count[%d] = %g: %w", c, k, ErrInvalidCounts)
		}
	}
	if !allFinite(logOffset) {
		return GeneFit{}, fmt.Errorf("gene fit: non-finite offset: %w", ErrInvalidTotals)
	}
	if iterations <= 0 {
		iterations = DefaultOptions().GeneFitIterations
	}

	exposure := 0.0
	for _, o := range logOffset {
		exposure += math.Exp(o)
	}
	total := floats.Sum(counts)
	fallback := GeneFit{Intercept: math.Log(total / exposure), Dispersion: defaultDispersion}
	if noise == NoisePoisson {
		fallback.Dispersion = 0
	}
	if total == 0 {
		fallback.Intercept = math.Log(0.5 / exposure)
		fallback.Err = fmt.Errorf("gene has no counts: %w", ErrGeneFit)
		return fallback, nil
	}

	prob := &glmProblem{counts: counts, d: covariates, offset: logOffset, nb: noise == NoiseNB}
	theta := []float64{fallback.Intercept, 0}
	if prob.nb {
		theta = append(theta, math.Log(defaultDispersion))
	}
	res, err := optimize.Minimize(
		optimize.Problem{Func: prob.Func, Grad: prob.Grad},
		theta,
		&optimize.Settings{MajorIterations: iterations},
		&optimize.BFGS{},
	)
	return finishFit(res, err, prob.nb, fallback), nil
}

// finishFit turns an optimizer result into a GeneFit. Non-finite coefficients
// fall back to the defaults; an optimizer error with usable coefficients
// keeps them and is recorded in Err.
func finishFit(res *optimize.Result, err error, nb bool, fallback GeneFit) GeneFit {
	if res == nil || !allFinite(res.X) {
		if err == nil {
			err = errors.New("non-finite coefficients")
		}
		fallback.Err = fmt.Errorf("%w: %v", ErrGeneFit, err)
		return fallback
	}

	fit := GeneFit{
		Intercept:  res.X[0],
		Slope:      res.X[1],
		Iterations: res.Stats.MajorIterations,
		OK:         true,
	}
	if err != nil {
		fit.Err = fmt.Errorf("not converged after %d iterations: %w", fit.Iterations, err)
	}
	if nb {
		fit.Dispersion = math.Exp(res.X[2])
		if fit.Dispersion < minDispersion || fit.Dispersion > maxDispersion {
			fit.Err = fmt.Errorf("dispersion %g outside [%g, %g]: %w", fit.Dispersion, minDispersion, maxDispersion, ErrGeneFit)
			fit.Dispersion = defaultDispersion
			fit.OK = false
		}
	}
	return fit
}

// FitGenes runs FitGene for every gene of counts (cells×genes) against the
// initial coordinate, concurrently. A diverging gene is logged and flagged in
// its GeneFit; only malformed input or cancellation fail the call.
func FitGenes(ctx context.Context, counts *mat.Dense, coordinate, totals []float64, opt Options) ([]GeneFit, error) {
	if err := validateCounts(counts); err != nil {
		return nil, err
	}
	cells, genes := counts.Dims()
	if len(coordinate) != cells {
		return nil, fmt.Errorf("%d coordinates for %d cells: %w", len(coordinate), cells, ErrShapeMismatch)
	}
	if !allFinite(coordinate) {
		return nil, fmt.Errorf("initial coordinate is not finite: %w", ErrShapeMismatch)
	}
	if err := validateTotals(totals, cells); err != nil {
		return nil, err
	}

	d := mat.NewDense(cells, 2, nil)
	for c, x := range coordinate {
		d.Set(c, 0, 1)
		d.Set(c, 1, x)
	}
	logN := logTotals(totals)

	type result struct {
		gene int
		fit  GeneFit
		err  error
	}
	jobs := make(chan int)
	results := make(chan result, genes)

	workerCount := opt.Workers
	if workerCount <= 0 {
		workerCount = runtime.GOMAXPROCS(0)
	}
	workerCount = min(workerCount, genes)

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for range workerCount {
		go func() {
			defer wg.Done()
			for g := range jobs {
				if err := ctx.Err(); err != nil {
					results <- result{gene: g, err: err}
					continue
				}
				fit, err := FitGene(mat.Col(nil, g, counts), d, logN, opt.Noise, opt.GeneFitIterations)
				results <- result{gene: g, fit: fit, err: err}
			}
		}()
	}
	for g := range genes {
		jobs <- g
	}
	close(jobs)
	wg.Wait()
	close(results)

	log := opt.logger()
	fits := make([]GeneFit, genes)
	var firstErr error
	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		fits[res.gene] = res.fit
		switch {
		case !res.fit.OK:
			log.Warn("gene fit failed", "gene", res.gene, "err", res.fit.Err)
		case res.fit.Err != nil:
			log.Warn("gene fit kept", "gene", res.gene, "err", res.fit.Err)
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return fits, nil
}

// Coefficients stacks (intercept, slope) of every fit into a genes×2 matrix.
func Coefficients(fits []GeneFit) *mat.Dense {
	if len(fits) == 0 {
		return nil
	}
	out := mat.NewDense(len(fits), 2, nil)
	for g, f := range fits {
		out.Set(g, 0, f.Intercept)
		out.Set(g, 1, f.Slope)
	}
	return out
}

// Dispersions returns the fitted dispersion of every gene.
func Dispersions(fits []GeneFit) []float64 {
	out := make([]float64, len(fits))
	for g, f := range fits {
		out[g] = f.Dispersion
	}
	return out
}
