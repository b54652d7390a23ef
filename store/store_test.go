package store_test

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/setanarut/zonation"
	"github.com/setanarut/zonation/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func sampleRecord(name string) store.FitRecord {
	res := &zonation.Result{
		X:          []float64{0, 0.5, 1},
		Dispersion: []float64{0.1, 0.2},
		A0:         mat.NewDense(2, 2, []float64{-4, -3, -4.2, -3.1}),
		A1:         []float64{1, -0.5},
		Losses:     []float64{120, math.NaN(), 110, math.Inf(1)},
		Skipped:    2,
	}
	rec := store.NewFitRecord(name, res, []string{"Cyp2e1", "Cyp2f2"}, []string{"m1", "m2"}, []string{"c1", "c2", "c3"}, 0)
	return rec.WithGeneFits([]zonation.GeneFit{
		{Intercept: -4, Slope: 0.7, Dispersion: 0.1, OK: true},
		{Intercept: -9, Dispersion: 0.3, Err: errors.New("gene has no counts")},
	})
}

func checkRecord(t *testing.T, want, got store.FitRecord) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Name, got.Name)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, "Cyp2e1", got.Clamp)
	assert.Equal(t, want.X, got.X)
	assert.Equal(t, want.A0, got.A0)
	assert.Equal(t, want.GeneFits, got.GeneFits)

	require.Len(t, got.Losses, 4)
	assert.Equal(t, 120.0, got.Losses[0])
	assert.True(t, math.IsNaN(got.Losses[1]))
	assert.Equal(t, 110.0, got.Losses[2])
	assert.True(t, math.IsNaN(got.Losses[3]))

	res := got.Result()
	assert.Equal(t, -3.1, res.A0.At(1, 1))
	assert.Equal(t, []float64{1, -0.5}, res.A1)
	assert.Equal(t, 2, res.Skipped)
}

func exerciseStore(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Init(ctx))

	first := sampleRecord("first_run")
	second := sampleRecord("second_run")
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	require.NotEqual(t, first.ID, second.ID)

	require.NoError(t, s.SaveFit(ctx, first))
	require.NoError(t, s.SaveFit(ctx, second))

	got, ok, err := s.GetFit(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, ok)
	checkRecord(t, first, got)

	_, ok, err = s.GetFit(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	ids, err := s.ListFits(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, second.ID}, ids)

	// Saving again replaces the record in place.
	first.Name = "renamed"
	require.NoError(t, s.SaveFit(ctx, first))
	got, _, err = s.GetFit(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	ids, err = s.ListFits(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, store.NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s := store.NewSQLiteStore(filepath.Join(t.TempDir(), "zonation.db"))
	t.Cleanup(func() {
		_ = s.Close()
	})
	exerciseStore(t, s)
}

func TestSQLiteStorePersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "zonation.db")

	s := store.NewSQLiteStore(path)
	require.NoError(t, s.Init(ctx))
	rec := sampleRecord("first_run")
	require.NoError(t, s.SaveFit(ctx, rec))
	require.NoError(t, s.Close())

	reopened := store.NewSQLiteStore(path)
	require.NoError(t, reopened.Init(ctx))
	t.Cleanup(func() {
		_ = reopened.Close()
	})
	got, ok, err := reopened.GetFit(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, ok)
	checkRecord(t, rec, got)
}

func TestStoresRequireInit(t *testing.T) {
	ctx := context.Background()
	rec := sampleRecord("run")

	assert.Error(t, store.NewMemoryStore().SaveFit(ctx, rec))

	s := store.NewSQLiteStore(filepath.Join(t.TempDir(), "zonation.db"))
	assert.Error(t, s.SaveFit(ctx, rec))
	_, _, err := s.GetFit(ctx, rec.ID)
	assert.Error(t, err)
	_, err = s.ListFits(ctx)
	assert.Error(t, err)

	assert.Error(t, store.NewSQLiteStore("").Init(ctx))
}

func TestNewStore(t *testing.T) {
	for _, kind := range []string{"", "memory"} {
		s, err := store.NewStore(kind, "")
		require.NoError(t, err)
		assert.IsType(t, &store.MemoryStore{}, s)
		assert.NoError(t, store.CloseIfSupported(s))
	}

	s, err := store.NewStore("sqlite", filepath.Join(t.TempDir(), "zonation.db"))
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))
	assert.NoError(t, store.CloseIfSupported(s))

	_, err = store.NewStore("postgres", "")
	assert.Error(t, err)
}

func TestDecodeFitChecksVersion(t *testing.T) {
	rec := sampleRecord("run")
	rec.SchemaVersion = 99
	payload, err := store.EncodeFit(rec)
	require.NoError(t, err)
	_, err = store.DecodeFit(payload)
	assert.ErrorIs(t, err, store.ErrVersionMismatch)

	_, err = store.DecodeFit([]byte("{"))
	assert.Error(t, err)
}
