package utils

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrFormat      = errors.New("utils: malformed count table")
	ErrUnknownGene = errors.New("utils: unknown gene")
)

// CountTable is a cells×genes table of raw UMI counts with the sample of
// every cell.
type CountTable struct {
	Cells   []string
	Samples []string
	Genes   []string
	Counts  *mat.Dense
}

// ReadCounts parses a tab separated table. The header is
// "cell<TAB>sample<TAB>gene..." and every following row holds one cell.
func ReadCounts(r io.Reader) (*CountTable, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.Comment = '#'
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 3 {
		return nil, fmt.Errorf("header has %d columns, want cell, sample and at least one gene: %w", len(header), ErrFormat)
	}
	t := &CountTable{Genes: slices.Clone(header[2:])}
	genes := len(t.Genes)

	var data []float64
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) != genes+2 {
			return nil, fmt.Errorf("line %d has %d columns, want %d: %w", line, len(rec), genes+2, ErrFormat)
		}
		t.Cells = append(t.Cells, rec[0])
		t.Samples = append(t.Samples, rec[1])
		for j, field := range rec[2:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil || v < 0 || v != math.Trunc(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("line %d gene %s: count %q: %w", line, t.Genes[j], field, ErrFormat)
			}
			data = append(data, v)
		}
	}
	if len(t.Cells) == 0 {
		return nil, fmt.Errorf("no cells: %w", ErrFormat)
	}
	t.Counts = mat.NewDense(len(t.Cells), genes, data)
	return t, nil
}

func ReadCountsFile(path string) (*CountTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCounts(f)
}

// GeneIndex returns the column of every named gene.
func (t *CountTable) GeneIndex(names ...string) ([]int, error) {
	out := make([]int, len(names))
	for i, name := range names {
		j := slices.Index(t.Genes, name)
		if j < 0 {
			return nil, fmt.Errorf("%s: %w", name, ErrUnknownGene)
		}
		out[i] = j
	}
	return out, nil
}

// SelectGenes returns a table restricted to the given gene columns, in that
// order. Counts is nil when the result has no cells or no genes.
func (t *CountTable) SelectGenes(idx []int) *CountTable {
	cells := len(t.Cells)
	out := &CountTable{
		Cells:   t.Cells,
		Samples: t.Samples,
		Genes:   make([]string, len(idx)),
	}
	for j, g := range idx {
		out.Genes[j] = t.Genes[g]
	}
	if cells == 0 || len(idx) == 0 || t.Counts == nil {
		return out
	}
	out.Counts = mat.NewDense(cells, len(idx), nil)
	for j, g := range idx {
		out.Counts.SetCol(j, mat.Col(nil, g, t.Counts))
	}
	return out
}

// DropGenes removes every gene whose name starts with one of prefixes,
// e.g. "mt-" for mitochondrial genes.
func (t *CountTable) DropGenes(prefixes ...string) *CountTable {
	var keep []int
	for g, name := range t.Genes {
		if !slices.ContainsFunc(prefixes, func(p string) bool { return strings.HasPrefix(name, p) }) {
			keep = append(keep, g)
		}
	}
	return t.SelectGenes(keep)
}

// FilterCells keeps the cells for which keep returns true. Counts is nil
// when no cell or no gene is left.
func (t *CountTable) FilterCells(keep func(c int) bool) *CountTable {
	out := &CountTable{Genes: t.Genes}
	var data []float64
	for c := range t.Cells {
		if !keep(c) {
			continue
		}
		out.Cells = append(out.Cells, t.Cells[c])
		out.Samples = append(out.Samples, t.Samples[c])
		if t.Counts != nil {
			data = append(data, t.Counts.RawRowView(c)...)
		}
	}
	if len(out.Cells) > 0 && len(t.Genes) > 0 && t.Counts != nil {
		out.Counts = mat.NewDense(len(out.Cells), len(t.Genes), data)
	}
	return out
}

// Empty reports whether the table has no cells or no genes.
func (t *CountTable) Empty() bool {
	return len(t.Cells) == 0 || len(t.Genes) == 0
}

// DropSamples removes every cell of the named samples.
func (t *CountTable) DropSamples(names ...string) *CountTable {
	return t.FilterCells(func(c int) bool { return !slices.Contains(names, t.Samples[c]) })
}

// CellTotals sums every row of counts.
func CellTotals(counts mat.Matrix) []float64 {
	rows, cols := counts.Dims()
	out := make([]float64, rows)
	for c := range rows {
		for g := range cols {
			out[c] += counts.At(c, g)
		}
	}
	return out
}

// Fractions divides every row of counts by the matching total.
func Fractions(counts mat.Matrix, totals []float64) *mat.Dense {
	rows, cols := counts.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Apply(func(c, g int, _ float64) float64 {
		if totals[c] == 0 {
			return 0
		}
		return counts.At(c, g) / totals[c]
	}, out)
	return out
}

// SampleIndex groups cell indices by sample; sampleOf holds the sample of
// every cell.
func SampleIndex(sampleOf []int, samples int) [][]int {
	out := make([][]int, samples)
	for c, s := range sampleOf {
		out[s] = append(out[s], c)
	}
	return out
}
