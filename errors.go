package zonation

import "errors"

// Precondition failures are reported before any optimisation step runs.
var (
	ErrEmptyInput    = errors.New("zonation: empty input")
	ErrShapeMismatch = errors.New("zonation: shape mismatch")
	ErrInvalidCounts = errors.New("zonation: counts must be finite non-negative integers")
	ErrInvalidTotals = errors.New("zonation: cell totals must be positive and finite")
	ErrDesignMatrix  = errors.New("zonation: design matrix rows must be one-hot")
	ErrClampGene     = errors.New("zonation: clamp gene index out of range")
	ErrClampSlope    = errors.New("zonation: clamp gene slope is zero or not finite")
	ErrBatchSize     = errors.New("zonation: batch size out of range")
	ErrBatchIndices  = errors.New("zonation: batch indices out of range or repeated")
	ErrDegenerate    = errors.New("zonation: coordinate has zero range")
)

var (
	// ErrGeneFit marks a per-gene initial fit that diverged. It is carried in
	// GeneFit.Err and never aborts the other genes.
	ErrGeneFit = errors.New("zonation: gene fit diverged")

	// ErrNonFiniteLoss is returned by Train under AbortTraining.
	ErrNonFiniteLoss = errors.New("zonation: non-finite loss")
)
