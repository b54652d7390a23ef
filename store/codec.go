package store

import (
	"encoding/json"
	"errors"
	"math"
)

const CurrentSchemaVersion = 1

var ErrVersionMismatch = errors.New("record version mismatch")

// Floats encodes NaN and ±Inf as null so that loss traces with skipped
// steps survive JSON. null decodes to NaN.
type Floats []float64

func (f Floats) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("null"), nil
	}
	vals := make([]*float64, len(f))
	for i := range f {
		if !math.IsNaN(f[i]) && !math.IsInf(f[i], 0) {
			vals[i] = &f[i]
		}
	}
	return json.Marshal(vals)
}

func (f *Floats) UnmarshalJSON(data []byte) error {
	var vals []*float64
	if err := json.Unmarshal(data, &vals); err != nil {
		return err
	}
	if vals == nil {
		*f = nil
		return nil
	}
	out := make(Floats, len(vals))
	for i, v := range vals {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	*f = out
	return nil
}

func EncodeFit(r FitRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeFit(data []byte) (FitRecord, error) {
	var rec FitRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return FitRecord{}, err
	}
	if rec.SchemaVersion != CurrentSchemaVersion {
		return FitRecord{}, ErrVersionMismatch
	}
	return rec, nil
}
