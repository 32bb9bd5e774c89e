package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/fleet-rental-holds/internal/domain"
)

// Store keeps reservations in a map. UpdateStatus checks and writes the status
// under the same lock, which is what makes it a compare-and-swap.
type Store struct {
	mu           sync.RWMutex
	reservations map[string]domain.Reservation
}

func NewStore() *Store {
	return &Store{reservations: make(map[string]domain.Reservation)}
}

func (s *Store) Create(_ context.Context, r domain.Reservation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reservations[r.ID]; exists {
		return "", errors.Wrapf(domain.ErrDuplicateID, "reservation %s", r.ID)
	}
	s.reservations[r.ID] = clone(r)
	return r.ID, nil
}

func (s *Store) Get(_ context.Context, id string) (domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrNotFound
	}
	return clone(r), nil
}

func (s *Store) FindExpiredReserved(_ context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Reservation
	for _, r := range s.reservations {
		if limit > 0 && len(out) >= limit {
			break
		}
		if r.IsExpired(now) {
			out = append(out, clone(r))
		}
	}
	return out, nil
}

func (s *Store) UpdateStatus(_ context.Context, id string, t domain.Transition) (domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrNotFound
	}
	if r.Status != t.From {
		return domain.Reservation{}, errors.Wrapf(domain.ErrConflict, "reservation %s is %s", id, r.Status)
	}
	r = r.Apply(t)
	s.reservations[id] = r
	return clone(r), nil
}

func (s *Store) ListByHolder(_ context.Context, holderID string) ([]domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Reservation
	for _, r := range s.reservations {
		if r.HolderID == holderID {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) CountHolding(_ context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, r := range s.reservations {
		if r.Status == domain.StatusReserved || r.Status == domain.StatusPaid {
			counts[r.VehicleID]++
		}
	}
	return counts, nil
}

func clone(r domain.Reservation) domain.Reservation {
	if r.ExpiresAt != nil {
		exp := *r.ExpiresAt
		r.ExpiresAt = &exp
	}
	if r.Times != nil {
		times := *r.Times
		r.Times = &times
	}
	return r
}
