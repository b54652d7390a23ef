package store

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	fits        map[string][]byte
	created     map[string]time.Time
	order       []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.fits = make(map[string][]byte)
	s.created = make(map[string]time.Time)
	s.order = nil
	return nil
}

// SaveFit keeps an encoded copy so later changes to fit are not visible.
func (s *MemoryStore) SaveFit(_ context.Context, fit FitRecord) error {
	payload, err := EncodeFit(fit)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("store is not initialized")
	}
	if _, ok := s.fits[fit.ID]; !ok {
		s.order = append(s.order, fit.ID)
	}
	s.fits[fit.ID] = payload
	s.created[fit.ID] = fit.CreatedAt
	return nil
}

func (s *MemoryStore) GetFit(_ context.Context, id string) (FitRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payload, ok := s.fits[id]
	if !ok {
		return FitRecord{}, false, nil
	}
	fit, err := DecodeFit(payload)
	if err != nil {
		return FitRecord{}, false, err
	}
	return fit, true, nil
}

func (s *MemoryStore) ListFits(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := slices.Clone(s.order)
	slices.SortStableFunc(ids, func(a, b string) int {
		return s.created[a].Compare(s.created[b])
	})
	return ids, nil
}
