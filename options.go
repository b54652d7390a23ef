package zonation

import "log/slog"

// NoiseKind selects the observation model.
type NoiseKind int

const (
	NoiseNB NoiseKind = iota
	NoisePoisson
)

func (k NoiseKind) String() string {
	switch k {
	case NoisePoisson:
		return "Poisson"
	default:
		return "NB"
	}
}

// InterceptMode selects how intercepts enter the linear predictor.
type InterceptMode int

const (
	// SampleIntercepts gives every (sample, gene) pair its own intercept,
	// assembled as design matrix · a0 with a0 of shape samples×genes.
	SampleIntercepts InterceptMode = iota
	// GlobalIntercepts shares one intercept per gene; a0 is 1×genes.
	GlobalIntercepts
)

// NonFinitePolicy decides what a training step does with a NaN or Inf loss
// or gradient.
type NonFinitePolicy int

const (
	// SkipStep leaves parameters and optimizer state untouched, logs a
	// warning and records the loss value as observed.
	SkipStep NonFinitePolicy = iota
	// AbortTraining stops and returns ErrNonFiniteLoss with the partial result.
	AbortTraining
)

type Options struct {
	// Bound of the saturating link, y -> Cutoff*tanh(y/Cutoff).
	// Large enough that the saturation is inactive for realistic predictors.
	Cutoff float64
	// Adam step size.
	LearningRate float64
	// Fixed number of optimisation steps. There is no early stopping.
	Iterations int
	// Cells per step. 0 means full batch.
	BatchSize int
	Noise     NoiseKind
	// Intercept assembly used by training. Per-gene initial fits always use a
	// single intercept.
	Intercepts InterceptMode
	NonFinite  NonFinitePolicy
	// Iteration budget of each per-gene initial fit.
	GeneFitIterations int
	// Concurrent per-gene fits. <= 0 uses GOMAXPROCS.
	Workers int
	// Dispersion seed for genes without a usable initial fit.
	InitialDispersion float64
	// Adam moments.
	Beta1, Beta2, Epsilon float64
	// Seed of the batch sampler.
	Seed uint64
	// Progress is logged on the first, last and every LogEvery-th step.
	LogEvery int
	// Nil discards log output.
	Logger *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		Cutoff:            50,
		LearningRate:      0.001,
		Iterations:        1000,
		BatchSize:         0,
		Noise:             NoiseNB,
		Intercepts:        SampleIntercepts,
		NonFinite:         SkipStep,
		GeneFitIterations: 50,
		Workers:           0,
		InitialDispersion: 0.3,
		Beta1:             0.9,
		Beta2:             0.999,
		Epsilon:           1e-8,
		Seed:              1,
		LogEvery:          100,
	}
}

// OptionsForCells derives options from the number of cells: small data sets
// train full batch, larger ones switch to mini-batches of 128 cells.
func OptionsForCells(cells int) Options {
	opt := DefaultOptions()
	if cells <= 0 {
		return opt
	}
	if cells > 5000 {
		opt.BatchSize = 128
		// Keep roughly the same number of passes over the data.
		opt.Iterations = max(opt.Iterations, 20*cells/opt.BatchSize)
	}
	return opt
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}
