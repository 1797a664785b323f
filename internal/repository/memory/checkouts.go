package memory

import (
	"context"
	"sync"

	"github.com/iliyamo/event-seat-booking/internal/model"
)

// Checkouts is the in-memory checkout store.
type Checkouts struct {
	mu   sync.RWMutex
	byID map[string]model.Checkout
}

func NewCheckouts() *Checkouts {
	return &Checkouts{byID: make(map[string]model.Checkout)}
}

// Save stores c.  A checkout that reached a terminal state only accepts
// writes of that same state; anything else is model.ErrHoldAlreadyTerminal.
func (s *Checkouts) Save(_ context.Context, c model.Checkout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.byID[c.HoldID]; ok && cur.State.Terminal() && cur.State != c.State {
		return model.ErrHoldAlreadyTerminal
	}
	s.byID[c.HoldID] = c
	return nil
}

func (s *Checkouts) Get(_ context.Context, holdID string) (model.Checkout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[holdID]
	if !ok {
		return model.Checkout{}, model.ErrHoldNotFound
	}
	return c, nil
}
