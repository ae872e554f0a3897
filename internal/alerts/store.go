// Package alerts keeps a bounded, in-memory window of the most recently
// detected timeline events for the status endpoints.
package alerts

import (
	"sync"
	"time"

	"merchantrisk/internal/model"
)

type Store struct {
	mu    sync.RWMutex
	buf   []model.TimelineEvent
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(events ...model.TimelineEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		if len(s.buf) < s.limit {
			s.buf = append(s.buf, ev)
			continue
		}
		copy(s.buf, s.buf[1:])
		s.buf[len(s.buf)-1] = ev
	}
}

// List returns up to limit of the newest events, oldest first.
func (s *Store) List(limit int) []model.TimelineEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.TimelineEvent, 0, limit)
	out = append(out, s.buf[len(s.buf)-limit:]...)
	return out
}

func (s *Store) Since(ts time.Time) []model.TimelineEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.TimelineEvent, 0)
	for _, ev := range s.buf {
		if !ev.Timestamp.Before(ts) {
			out = append(out, ev)
		}
	}
	return out
}

func (s *Store) ForMerchant(merchantID string, limit int) []model.TimelineEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.TimelineEvent, 0)
	for i := len(s.buf) - 1; i >= 0; i-- {
		if s.buf[i].MerchantID != merchantID {
			continue
		}
		out = append(out, s.buf[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
