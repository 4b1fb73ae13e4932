// Package notify fans domain events out to pluggable subscribers.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	EventBountyWon     = "bounty_won"
	EventBountyFunded  = "bounty_funded"
	EventBountyPaid    = "bounty_paid"
	EventBountyExpired = "bounty_expired"
)

type Event struct {
	Type     string         `json:"type"`
	UserID   uuid.UUID      `json:"user_id,omitempty"`
	BountyID int64          `json:"bounty_id"`
	Payload  map[string]any `json:"payload,omitempty"`
	At       time.Time      `json:"at"`
}

// Notifier receives events. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Bus delivers each event to every subscriber. A failing subscriber does not
// stop delivery to the others; all errors are joined.
type Bus struct {
	mu   sync.RWMutex
	subs []Notifier
}

func NewBus(subs ...Notifier) *Bus {
	return &Bus{subs: subs}
}

func (b *Bus) Subscribe(n Notifier) {
	b.mu.Lock()
	b.subs = append(b.subs, n)
	b.mu.Unlock()
}

func (b *Bus) Notify(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.RLock()
	subs := append([]Notifier(nil), b.subs...)
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if err := s.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
