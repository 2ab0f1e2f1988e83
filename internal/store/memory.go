// Package store provides persistence for hedge and spot position records
package store

import (
	"context"
	"sync"

	"fx_hedger/internal/core"
	apperrors "fx_hedger/pkg/errors"
)

type hedgeKey struct {
	account core.AccountID
	bucket  core.BucketKey
}

type spotKey struct {
	account core.AccountID
	pair    core.CurrencyPair
	bucket  core.BucketKey
}

// MemoryStore is an in-memory core.RecordStore. Records are append-only; the
// latest record per key wins on read.
type MemoryStore struct {
	mu     sync.RWMutex
	closed bool
	hedges map[hedgeKey][]*core.HedgeRecord
	spots  map[spotKey][]*core.SpotPositionRecord
}

// NewMemoryStore returns an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hedges: make(map[hedgeKey][]*core.HedgeRecord),
		spots:  make(map[spotKey][]*core.SpotPositionRecord),
	}
}

func (s *MemoryStore) SaveHedgeRecord(_ context.Context, rec *core.HedgeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperrors.ErrStoreClosed
	}
	cp := *rec
	k := hedgeKey{account: rec.Account, bucket: rec.Bucket}
	s.hedges[k] = append(s.hedges[k], &cp)
	return nil
}

func (s *MemoryStore) LatestHedgeRecord(_ context.Context, account core.AccountID, bucket core.BucketKey) (*core.HedgeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, apperrors.ErrStoreClosed
	}
	recs := s.hedges[hedgeKey{account: account, bucket: bucket}]
	if len(recs) == 0 {
		return nil, nil
	}
	cp := *recs[len(recs)-1]
	return &cp, nil
}

func (s *MemoryStore) SaveSpotPosition(_ context.Context, rec *core.SpotPositionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperrors.ErrStoreClosed
	}
	cp := *rec
	k := spotKey{account: rec.Account, pair: rec.Pair, bucket: rec.Bucket}
	s.spots[k] = append(s.spots[k], &cp)
	return nil
}

func (s *MemoryStore) LatestSpotPosition(_ context.Context, account core.AccountID, pair core.CurrencyPair, bucket core.BucketKey) (*core.SpotPositionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, apperrors.ErrStoreClosed
	}
	recs := s.spots[spotKey{account: account, pair: pair, bucket: bucket}]
	if len(recs) == 0 {
		return nil, nil
	}
	cp := *recs[len(recs)-1]
	return &cp, nil
}

// Close marks the store closed; subsequent calls fail
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
