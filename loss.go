package zonation

import (
	"fmt"
	"math"

	"github.com/setanarut/zonation/autodiff"
	"gonum.org/v1/gonum/mat"
)

// Objective evaluates the negative log-likelihood of the counts under the
// joint model
//
//	y[c,g] = x[c]*a1eff[g] + logN[c] + intercept[c,g]
//	y      = cutoff*tanh(y/cutoff)
//	count[c,g] ~ NB(mean exp(y), dispersion exp(logDispersion[g]))
//
// The tanh step bounds the predictor before exponentiation: a bounded-link
// approximation that keeps exp finite, not part of the statistical model.
// For Poisson noise the dispersion is unused.
type Objective struct {
	aux    *Aux
	counts *mat.Dense
	noise  NoiseKind
	mode   InterceptMode
	// lgamma(count+1) summed per cell.
	lgk1 []float64
}

// NewObjective validates counts (cells×genes) against aux.
func NewObjective(counts *mat.Dense, aux *Aux, noise NoiseKind, mode InterceptMode) (*Objective, error) {
	if counts == nil {
		return nil, fmt.Errorf("count matrix is nil: %w", ErrEmptyInput)
	}
	if err := validateCounts(counts); err != nil {
		return nil, err
	}
	cells, genes := counts.Dims()
	if cells != aux.Cells() || genes != aux.Genes() {
		return nil, fmt.Errorf("counts %dx%d, aux %d cells %d genes: %w",
			cells, genes, aux.Cells(), aux.Genes(), ErrShapeMismatch)
	}
	lgk1 := make([]float64, cells)
	for c := range cells {
		for g := range genes {
			v, _ := math.Lgamma(counts.At(c, g) + 1)
			lgk1[c] += v
		}
	}
	return &Objective{aux: aux, counts: counts, noise: noise, mode: mode, lgk1: lgk1}, nil
}

// Cells returns the number of cells in the data set.
func (o *Objective) Cells() int { return o.aux.Cells() }

// Grads mirrors Params with the gradient of the loss.
type Grads struct {
	X             []float64
	A0            []float64 // row-major, shape of Params.A0
	A1            []float64
	LogDispersion []float64
}

// Loss returns the negative log-likelihood over the cells in idx, rescaled
// by cells/len(idx). A nil idx means every cell.
func (o *Objective) Loss(p *Params, idx []int) (float64, error) {
	loss, _, err := o.eval(p, idx, false)
	return loss, err
}

// LossAndGrad is Loss plus the gradient with respect to every trainable
// parameter.
func (o *Objective) LossAndGrad(p *Params, idx []int) (float64, *Grads, error) {
	return o.eval(p, idx, true)
}

func (o *Objective) checkParams(p *Params) error {
	cells, genes := o.counts.Dims()
	if len(p.X) != cells || len(p.A1) != genes || len(p.LogDispersion) != genes || p.A0 == nil {
		return fmt.Errorf("params do not match %d cells, %d genes: %w", cells, genes, ErrShapeMismatch)
	}
	rows, cols := p.A0.Dims()
	want := o.aux.Samples()
	if o.mode == GlobalIntercepts {
		want = 1
	}
	if rows != want || cols != genes {
		return fmt.Errorf("a0 is %dx%d, want %dx%d: %w", rows, cols, want, genes, ErrShapeMismatch)
	}
	return nil
}

func (o *Objective) batch(idx []int) ([]int, error) {
	cells := o.Cells()
	if idx == nil {
		idx = make([]int, cells)
		for i := range idx {
			idx[i] = i
		}
		return idx, nil
	}
	if len(idx) == 0 || len(idx) > cells {
		return nil, fmt.Errorf("batch of %d cells out of %d: %w", len(idx), cells, ErrBatchSize)
	}
	seen := make([]bool, cells)
	for _, c := range idx {
		if c < 0 || c >= cells || seen[c] {
			return nil, fmt.Errorf("cell index %d: %w", c, ErrBatchIndices)
		}
		seen[c] = true
	}
	return idx, nil
}

func (o *Objective) eval(p *Params, idx []int, withGrad bool) (float64, *Grads, error) {
	if err := o.checkParams(p); err != nil {
		return 0, nil, err
	}
	idx, err := o.batch(idx)
	if err != nil {
		return 0, nil, err
	}
	cells, genes := o.counts.Dims()
	b := len(idx)
	scale := float64(cells) / float64(b)

	a0raw := p.A0.RawMatrix()
	a0data := a0raw.Data
	if a0raw.Stride != a0raw.Cols {
		a0data = mat.DenseCopyOf(p.A0).RawMatrix().Data
	}

	tp := autodiff.NewTape()
	x := tp.Leaf(p.X, cells, 1)
	a0 := tp.Leaf(a0data, a0raw.Rows, genes)
	a1 := tp.Leaf(p.A1, 1, genes)
	logA := tp.Leaf(p.LogDispersion, 1, genes)

	// mask is symmetric, so a1·mask is the row form of mask·a1.
	mask := tp.Const(o.aux.Mask.RawMatrix().Data, genes, genes)
	a1eff := tp.SetEntry(tp.MatMul(a1, mask), o.aux.Clamp, o.aux.Fixed)

	offsets := make([]float64, b)
	k := make([]float64, b*genes)
	lgk1 := 0.0
	for i, c := range idx {
		offsets[i] = o.aux.LogOffset[c]
		mat.Row(k[i*genes:(i+1)*genes], c, o.counts)
		lgk1 += o.lgk1[c]
	}

	y := tp.Add(tp.Mul(tp.GatherRows(x, idx), a1eff), tp.Const(offsets, b, 1))
	switch o.mode {
	case GlobalIntercepts:
		y = tp.Add(y, a0)
	default:
		samples := o.aux.Samples()
		dm := make([]float64, b*samples)
		for i, c := range idx {
			mat.Row(dm[i*samples:(i+1)*samples], c, o.aux.Design)
		}
		y = tp.Add(y, tp.MatMul(tp.Const(dm, b, samples), a0))
	}
	cutoff := o.aux.Cutoff
	y = tp.Scale(tp.Tanh(tp.Scale(y, 1/cutoff)), cutoff)

	kn := tp.Const(k, b, genes)
	var ll *autodiff.Node
	switch o.noise {
	case NoisePoisson:
		ll = tp.Sub(tp.Mul(kn, y), tp.Exp(y))
	default:
		// NB(r = 1/alpha, p = alpha*lambda/(1+alpha*lambda)) in logit form,
		// eta = log(alpha*lambda) = logit(p).
		eta := tp.Add(y, logA)
		sp := tp.Softplus(eta)
		r := tp.Exp(tp.Neg(logA))
		ll = tp.Sub(tp.Lgamma(tp.Add(kn, r)), tp.Lgamma(r))
		ll = tp.Sub(ll, tp.Mul(r, sp))
		ll = tp.Add(ll, tp.Mul(kn, tp.Sub(eta, sp)))
	}
	lossNode := tp.Scale(tp.Sum(ll), -scale)
	loss := lossNode.Scalar() + scale*lgk1

	if !withGrad {
		return loss, nil, nil
	}
	tp.Backward(lossNode)
	return loss, &Grads{
		X:             x.Grad,
		A0:            a0.Grad,
		A1:            a1.Grad,
		LogDispersion: logA.Grad,
	}, nil
}
