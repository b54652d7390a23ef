// Package autodiff records matrix operations on a tape and replays them in
// reverse to accumulate gradients.
//
// Values are row-major float64 matrices. Binary elementwise operations
// broadcast any dimension of size 1, and their backward pass sums the
// incoming gradient back onto the broadcast shape.
package autodiff

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext"
)

// Node is one recorded value. Leaves alias the slice they were created from,
// so an optimizer can update them in place between tapes.
type Node struct {
	Rows, Cols int
	Value      []float64
	Grad       []float64 // nil unless a trainable leaf feeds this node

	backward func()
}

// Len returns Rows*Cols.
func (n *Node) Len() int { return n.Rows * n.Cols }

// Scalar returns the value of a 1×1 node.
func (n *Node) Scalar() float64 {
	if n.Len() != 1 {
		panic(fmt.Sprintf("autodiff: Scalar on %dx%d node", n.Rows, n.Cols))
	}
	return n.Value[0]
}

func (n *Node) requiresGrad() bool { return n.Grad != nil }

// Tape holds nodes in creation order, which is a valid topological order.
type Tape struct {
	nodes []*Node
}

func NewTape() *Tape {
	return &Tape{nodes: make([]*Node, 0, 64)}
}

func checkLen(value []float64, rows, cols int) {
	if rows <= 0 || cols <= 0 || len(value) != rows*cols {
		panic(fmt.Sprintf("autodiff: %d values for %dx%d node", len(value), rows, cols))
	}
}

// Leaf records a trainable value. The node aliases value.
func (t *Tape) Leaf(value []float64, rows, cols int) *Node {
	checkLen(value, rows, cols)
	n := &Node{Rows: rows, Cols: cols, Value: value, Grad: make([]float64, rows*cols)}
	t.nodes = append(t.nodes, n)
	return n
}

// Const records a value that receives no gradient.
func (t *Tape) Const(value []float64, rows, cols int) *Node {
	checkLen(value, rows, cols)
	n := &Node{Rows: rows, Cols: cols, Value: value}
	t.nodes = append(t.nodes, n)
	return n
}

func (t *Tape) result(rows, cols int, grad bool) *Node {
	n := &Node{Rows: rows, Cols: cols, Value: make([]float64, rows*cols)}
	if grad {
		n.Grad = make([]float64, rows*cols)
	}
	t.nodes = append(t.nodes, n)
	return n
}

// Backward seeds the scalar root with 1 and propagates gradients to every
// node recorded before it.
func (t *Tape) Backward(root *Node) {
	if root.Len() != 1 {
		panic(fmt.Sprintf("autodiff: Backward from %dx%d node", root.Rows, root.Cols))
	}
	if !root.requiresGrad() {
		return
	}
	root.Grad[0] = 1
	for i := len(t.nodes) - 1; i >= 0; i-- {
		if n := t.nodes[i]; n.backward != nil && n.requiresGrad() {
			n.backward()
		}
	}
}

// ============ LINEAR ALGEBRA ============

// MatMul returns a·b.
func (t *Tape) MatMul(a, b *Node) *Node {
	if a.Cols != b.Rows {
		panic(fmt.Sprintf("autodiff: MatMul %dx%d by %dx%d", a.Rows, a.Cols, b.Rows, b.Cols))
	}
	out := t.result(a.Rows, b.Cols, a.requiresGrad() || b.requiresGrad())
	am := mat.NewDense(a.Rows, a.Cols, a.Value)
	bm := mat.NewDense(b.Rows, b.Cols, b.Value)
	mat.NewDense(out.Rows, out.Cols, out.Value).Mul(am, bm)

	out.backward = func() {
		g := mat.NewDense(out.Rows, out.Cols, out.Grad)
		if a.requiresGrad() {
			var ga mat.Dense
			ga.Mul(g, bm.T())
			addRaw(a.Grad, &ga)
		}
		if b.requiresGrad() {
			var gb mat.Dense
			gb.Mul(am.T(), g)
			addRaw(b.Grad, &gb)
		}
	}
	return out
}

func addRaw(dst []float64, m *mat.Dense) {
	r, c := m.Dims()
	for i := range r {
		for j := range c {
			dst[i*c+j] += m.At(i, j)
		}
	}
}

// GatherRows returns the rows of a selected by idx, in idx order.
func (t *Tape) GatherRows(a *Node, idx []int) *Node {
	out := t.result(len(idx), a.Cols, a.requiresGrad())
	for i, r := range idx {
		copy(out.Value[i*a.Cols:(i+1)*a.Cols], a.Value[r*a.Cols:(r+1)*a.Cols])
	}
	out.backward = func() {
		for i, r := range idx {
			for j := range a.Cols {
				a.Grad[r*a.Cols+j] += out.Grad[i*a.Cols+j]
			}
		}
	}
	return out
}

// SetEntry returns a copy of a whose flat entry k is overwritten by v.
// No gradient flows back through entry k.
func (t *Tape) SetEntry(a *Node, k int, v float64) *Node {
	if k < 0 || k >= a.Len() {
		panic(fmt.Sprintf("autodiff: SetEntry index %d on %dx%d node", k, a.Rows, a.Cols))
	}
	out := t.result(a.Rows, a.Cols, a.requiresGrad())
	copy(out.Value, a.Value)
	out.Value[k] = v
	out.backward = func() {
		for i, g := range out.Grad {
			if i != k {
				a.Grad[i] += g
			}
		}
	}
	return out
}

// Sum reduces a to a 1×1 node.
func (t *Tape) Sum(a *Node) *Node {
	out := t.result(1, 1, a.requiresGrad())
	s := 0.0
	for _, v := range a.Value {
		s += v
	}
	out.Value[0] = s
	out.backward = func() {
		g := out.Grad[0]
		for i := range a.Grad {
			a.Grad[i] += g
		}
	}
	return out
}

// ============ BROADCASTING BINARY OPS ============

func broadcastDim(p, q int) (int, bool) {
	switch {
	case p == q:
		return p, true
	case p == 1:
		return q, true
	case q == 1:
		return p, true
	}
	return 0, false
}

// at maps an (i, j) position of the broadcast result onto n's flat index.
func at(n *Node, i, j int) int {
	if n.Rows == 1 {
		i = 0
	}
	if n.Cols == 1 {
		j = 0
	}
	return i*n.Cols + j
}

// binary evaluates f over the broadcast shape of a and b. df returns the
// partial derivatives of f with respect to its two arguments.
func (t *Tape) binary(name string, a, b *Node, f func(x, y float64) float64, df func(x, y float64) (float64, float64)) *Node {
	rows, okR := broadcastDim(a.Rows, b.Rows)
	cols, okC := broadcastDim(a.Cols, b.Cols)
	if !okR || !okC {
		panic(fmt.Sprintf("autodiff: %s %dx%d with %dx%d", name, a.Rows, a.Cols, b.Rows, b.Cols))
	}
	out := t.result(rows, cols, a.requiresGrad() || b.requiresGrad())
	for i := range rows {
		for j := range cols {
			out.Value[i*cols+j] = f(a.Value[at(a, i, j)], b.Value[at(b, i, j)])
		}
	}
	out.backward = func() {
		for i := range rows {
			for j := range cols {
				g := out.Grad[i*cols+j]
				if g == 0 {
					continue
				}
				ia, ib := at(a, i, j), at(b, i, j)
				da, db := df(a.Value[ia], b.Value[ib])
				if a.requiresGrad() {
					a.Grad[ia] += g * da
				}
				if b.requiresGrad() {
					b.Grad[ib] += g * db
				}
			}
		}
	}
	return out
}

func (t *Tape) Add(a, b *Node) *Node {
	return t.binary("Add", a, b,
		func(x, y float64) float64 { return x + y },
		func(_, _ float64) (float64, float64) { return 1, 1 })
}

func (t *Tape) Sub(a, b *Node) *Node {
	return t.binary("Sub", a, b,
		func(x, y float64) float64 { return x - y },
		func(_, _ float64) (float64, float64) { return 1, -1 })
}

func (t *Tape) Mul(a, b *Node) *Node {
	return t.binary("Mul", a, b,
		func(x, y float64) float64 { return x * y },
		func(x, y float64) (float64, float64) { return y, x })
}

// ============ ELEMENTWISE UNARY OPS ============

// unary evaluates f elementwise; df receives the input and the output value.
func (t *Tape) unary(a *Node, f func(x float64) float64, df func(x, y float64) float64) *Node {
	out := t.result(a.Rows, a.Cols, a.requiresGrad())
	for i, v := range a.Value {
		out.Value[i] = f(v)
	}
	out.backward = func() {
		for i, g := range out.Grad {
			if g != 0 {
				a.Grad[i] += g * df(a.Value[i], out.Value[i])
			}
		}
	}
	return out
}

func (t *Tape) Scale(a *Node, c float64) *Node {
	return t.unary(a,
		func(x float64) float64 { return c * x },
		func(_, _ float64) float64 { return c })
}

func (t *Tape) Neg(a *Node) *Node { return t.Scale(a, -1) }

func (t *Tape) Tanh(a *Node) *Node {
	return t.unary(a, math.Tanh, func(_, y float64) float64 { return 1 - y*y })
}

func (t *Tape) Exp(a *Node) *Node {
	return t.unary(a, math.Exp, func(_, y float64) float64 { return y })
}

// Softplus returns log(1+exp(a)) without overflowing for large inputs.
func (t *Tape) Softplus(a *Node) *Node {
	return t.unary(a, Softplus, func(x, _ float64) float64 { return Sigmoid(x) })
}

// Lgamma returns log|Γ(a)|; its derivative is the digamma function.
func (t *Tape) Lgamma(a *Node) *Node {
	return t.unary(a,
		func(x float64) float64 {
			v, _ := math.Lgamma(x)
			return v
		},
		func(x, _ float64) float64 { return mathext.Digamma(x) })
}

// Softplus is log(1+exp(x)).
func Softplus(x float64) float64 {
	return math.Max(x, 0) + math.Log1p(math.Exp(-math.Abs(x)))
}

// Sigmoid is 1/(1+exp(-x)).
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
