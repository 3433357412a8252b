// Package memory provides an in-process Store used by tests and local runs.
// A single mutex serializes instructions the way the original runtime
// serialized account access: one writer at a time, all-or-nothing commits.
package memory

import (
	"context"
	"sync"

	"github.com/moltlabs/dispenser/pkg/dispenser"
)

type Store struct {
	mu            sync.Mutex
	state         *dispenser.State
	distributions map[string]*dispenser.Distribution
	// insertion order, oldest first, for listing
	order []string
}

func New() *Store {
	return &Store{
		distributions: make(map[string]*dispenser.Distribution),
	}
}

// tx stages writes against the locked store and applies them on commit only.
type tx struct {
	store   *Store
	state   *dispenser.State
	created []*dispenser.Distribution
	saved   []*dispenser.Distribution
}

func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, tx dispenser.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{store: s}
	if err := fn(ctx, t); err != nil {
		return err
	}

	// Commit.
	if t.state != nil {
		s.state = t.state.Clone()
	}
	for _, d := range t.created {
		s.distributions[d.ContributionID] = d.Clone()
		s.order = append(s.order, d.ContributionID)
	}
	for _, d := range t.saved {
		s.distributions[d.ContributionID] = d.Clone()
	}
	return nil
}

func (t *tx) State(ctx context.Context) (*dispenser.State, error) {
	if t.state != nil {
		return t.state, nil
	}
	if t.store.state == nil {
		return nil, dispenser.ErrStateNotFound
	}
	return t.store.state.Clone(), nil
}

func (t *tx) CreateState(ctx context.Context, s *dispenser.State) error {
	if t.store.state != nil || t.state != nil {
		return dispenser.ErrStateExists
	}
	t.state = s
	return nil
}

func (t *tx) SaveState(ctx context.Context, s *dispenser.State) error {
	if t.store.state == nil && t.state == nil {
		return dispenser.ErrStateNotFound
	}
	t.state = s
	return nil
}

func (t *tx) Distribution(ctx context.Context, contributionID string) (*dispenser.Distribution, error) {
	for _, d := range t.saved {
		if d.ContributionID == contributionID {
			return d, nil
		}
	}
	for _, d := range t.created {
		if d.ContributionID == contributionID {
			return d, nil
		}
	}
	d, ok := t.store.distributions[contributionID]
	if !ok {
		return nil, dispenser.ErrDistributionNotFound
	}
	return d.Clone(), nil
}

func (t *tx) CreateDistribution(ctx context.Context, d *dispenser.Distribution) error {
	if _, ok := t.store.distributions[d.ContributionID]; ok {
		return dispenser.ErrDistributionExists
	}
	for _, staged := range t.created {
		if staged.ContributionID == d.ContributionID {
			return dispenser.ErrDistributionExists
		}
	}
	t.created = append(t.created, d)
	return nil
}

func (t *tx) SaveDistribution(ctx context.Context, d *dispenser.Distribution) error {
	if _, ok := t.store.distributions[d.ContributionID]; !ok {
		return dispenser.ErrDistributionNotFound
	}
	t.saved = append(t.saved, d)
	return nil
}

func (s *Store) GetState(ctx context.Context) (*dispenser.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, dispenser.ErrStateNotFound
	}
	return s.state.Clone(), nil
}

func (s *Store) GetDistribution(ctx context.Context, contributionID string) (*dispenser.Distribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.distributions[contributionID]
	if !ok {
		return nil, dispenser.ErrDistributionNotFound
	}
	return d.Clone(), nil
}

func (s *Store) ListDistributions(ctx context.Context, limit int) ([]*dispenser.Distribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*dispenser.Distribution, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.distributions[s.order[i]].Clone())
	}
	return out, nil
}
