package metrics

import (
	"sync"
	"time"

	"merchantrisk/internal/model"
)

// Store keeps the latest risk metrics per merchant, evicting the merchant
// updated longest ago once the limit is exceeded.
type Store struct {
	mu         sync.RWMutex
	byMerchant map[string]model.RiskMetrics
	updatedAt  map[string]time.Time
	limit      int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		byMerchant: make(map[string]model.RiskMetrics),
		updatedAt:  make(map[string]time.Time),
		limit:      limit,
	}
}

func (s *Store) Update(rm model.RiskMetrics) {
	if rm.MerchantID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.byMerchant[rm.MerchantID]; ok && prev.Timestamp.After(rm.Timestamp) {
		return
	}
	s.byMerchant[rm.MerchantID] = rm
	s.updatedAt[rm.MerchantID] = time.Now().UTC()
	if len(s.byMerchant) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(merchantID string) (model.RiskMetrics, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rm, ok := s.byMerchant[merchantID]
	if !ok {
		return model.RiskMetrics{}, time.Time{}, false
	}
	return rm, s.updatedAt[merchantID], true
}

func (s *Store) GetAll() map[string]model.RiskMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.RiskMetrics, len(s.byMerchant))
	for id, rm := range s.byMerchant {
		out[id] = rm
	}
	return out
}

func (s *Store) evictOldest() {
	var oldestID string
	var oldest time.Time
	for id, ts := range s.updatedAt {
		if oldestID == "" || ts.Before(oldest) {
			oldestID = id
			oldest = ts
		}
	}
	if oldestID != "" {
		delete(s.byMerchant, oldestID)
		delete(s.updatedAt, oldestID)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byMerchant = make(map[string]model.RiskMetrics)
	s.updatedAt = make(map[string]time.Time)
}
