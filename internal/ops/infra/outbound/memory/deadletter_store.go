package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tomarrohitt/e-commerce-sub000/internal/ops/domain"
)

// DeadLetterStore es el archivo cuando no hay MongoDB configurado. Se pierde al reiniciar.
type DeadLetterStore struct {
	mu      sync.RWMutex
	records map[string]domain.DeadLetterRecord
}

func NewDeadLetterStore() *DeadLetterStore {
	return &DeadLetterStore{records: make(map[string]domain.DeadLetterRecord)}
}

func (s *DeadLetterStore) Insert(ctx context.Context, rec domain.DeadLetterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

func matches(rec domain.DeadLetterRecord, f domain.DeadLetterFilter) bool {
	if f.Queue != "" && rec.Queue != f.Queue {
		return false
	}
	if f.EventType != "" && rec.EventType != f.EventType {
		return false
	}
	if f.Replayed != nil && (rec.ReplayedAt != nil) != *f.Replayed {
		return false
	}
	return true
}

func (s *DeadLetterStore) List(ctx context.Context, f domain.DeadLetterFilter, offset, limit int) ([]domain.DeadLetterRecord, int, error) {
	s.mu.RLock()
	all := make([]domain.DeadLetterRecord, 0, len(s.records))
	for _, rec := range s.records {
		if matches(rec, f) {
			all = append(all, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ArchivedAt.After(all[j].ArchivedAt) })
	total := len(all)
	if offset >= total {
		return []domain.DeadLetterRecord{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

func (s *DeadLetterStore) Get(ctx context.Context, id string) (*domain.DeadLetterRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, domain.ErrDeadLetterNotFound
	}
	return &rec, nil
}

func (s *DeadLetterStore) MarkReplayed(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.ErrDeadLetterNotFound
	}
	rec.ReplayedAt = &at
	rec.ReplayCount++
	s.records[id] = rec
	return nil
}

var _ domain.DeadLetterStore = (*DeadLetterStore)(nil)
