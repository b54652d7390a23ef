package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/setanarut/zonation"
	"gonum.org/v1/gonum/mat"
)

// Store persists training runs.
type Store interface {
	Init(ctx context.Context) error
	SaveFit(ctx context.Context, fit FitRecord) error
	GetFit(ctx context.Context, id string) (FitRecord, bool, error)
	// ListFits returns run ids, oldest first.
	ListFits(ctx context.Context) ([]string, error)
}

// FitRecord is one training run with everything needed to redraw its
// plots: labels, fitted parameters, loss trace and per-gene initial fits.
type FitRecord struct {
	SchemaVersion int       `json:"schema_version"`
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	CreatedAt     time.Time `json:"created_at"`

	Cells   []string `json:"cells"`
	Samples []string `json:"samples"`
	Genes   []string `json:"genes"`
	Clamp   string   `json:"clamp"`

	X          Floats   `json:"x"`
	A0         []Floats `json:"a0"` // samples×genes
	A1         Floats   `json:"a1"`
	Dispersion Floats   `json:"dispersion"`
	Shifts     Floats   `json:"shifts,omitempty"`
	Losses     Floats   `json:"losses"`
	Skipped    int      `json:"skipped"`

	GeneFits []GeneFitRecord `json:"gene_fits,omitempty"`
}

type GeneFitRecord struct {
	Gene       string  `json:"gene"`
	Intercept  float64 `json:"intercept"`
	Slope      float64 `json:"slope"`
	Dispersion float64 `json:"dispersion"`
	OK         bool    `json:"ok"`
	Err        string  `json:"err,omitempty"`
}

// NewFitRecord snapshots res under a fresh run id.
func NewFitRecord(name string, res *zonation.Result, genes, samples, cells []string, clamp int) FitRecord {
	rows, _ := res.A0.Dims()
	a0 := make([]Floats, rows)
	for s := range rows {
		a0[s] = mat.Row(nil, s, res.A0)
	}
	rec := FitRecord{
		SchemaVersion: CurrentSchemaVersion,
		ID:            uuid.NewString(),
		Name:          name,
		CreatedAt:     time.Now().UTC(),
		Cells:         cells,
		Samples:       samples,
		Genes:         genes,
		X:             append(Floats(nil), res.X...),
		A0:            a0,
		A1:            append(Floats(nil), res.A1...),
		Dispersion:    append(Floats(nil), res.Dispersion...),
		Losses:        append(Floats(nil), res.Losses...),
		Skipped:       res.Skipped,
	}
	if clamp >= 0 && clamp < len(genes) {
		rec.Clamp = genes[clamp]
	}
	return rec
}

// WithGeneFits attaches the per-gene initial fits, in gene order.
func (r FitRecord) WithGeneFits(fits []zonation.GeneFit) FitRecord {
	r.GeneFits = make([]GeneFitRecord, len(fits))
	for g, f := range fits {
		gr := GeneFitRecord{
			Intercept:  f.Intercept,
			Slope:      f.Slope,
			Dispersion: f.Dispersion,
			OK:         f.OK,
		}
		if g < len(r.Genes) {
			gr.Gene = r.Genes[g]
		}
		if f.Err != nil {
			gr.Err = f.Err.Error()
		}
		r.GeneFits[g] = gr
	}
	return r
}

// Result rebuilds the fitted parameters.
func (r FitRecord) Result() *zonation.Result {
	res := &zonation.Result{
		X:          append([]float64(nil), r.X...),
		A1:         append([]float64(nil), r.A1...),
		Dispersion: append([]float64(nil), r.Dispersion...),
		Losses:     append([]float64(nil), r.Losses...),
		Skipped:    r.Skipped,
	}
	if len(r.A0) > 0 {
		res.A0 = mat.NewDense(len(r.A0), len(r.A0[0]), nil)
		for s, row := range r.A0 {
			res.A0.SetRow(s, row)
		}
	}
	return res
}
