package restriction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iliyamo/event-ticket-reservation/internal/model"
	"github.com/iliyamo/event-ticket-reservation/internal/quota"
)

// Target describes the unit a rule is evaluated against.
type Target struct {
	EventIdentity     string
	ItemIdentity      string
	VariationIdentity *string
	Now               time.Time
}

// Evaluator decides whether a target is currently reservable under one
// configured rule.
type Evaluator interface {
	Reservable(target Target) (bool, error)
}

// Factory builds an Evaluator from a rule's configuration document.
type Factory func(config []byte) (Evaluator, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a restriction kind available under the given name.
// Registering the same kind twice panics; kinds are wired at startup
// and a duplicate is a programming error.
func Register(kind string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[kind]; dup {
		panic("restriction: kind registered twice: " + kind)
	}
	registry[kind] = factory
}

// New builds an Evaluator for a kind.  The second return value is
// false when no factory is registered for the kind; rows of kinds
// whose plugin is not loaded are skipped by the checker.
func New(kind string, config []byte) (Evaluator, bool, error) {
	registryMu.RLock()
	factory, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	ev, err := factory(config)
	if err != nil {
		return nil, true, fmt.Errorf("restriction: bad %s config: %w", kind, err)
	}
	return ev, true, nil
}

// Source lists the current restriction rows of an event.
type Source interface {
	ListByEvent(ctx context.Context, eventIdentity string) ([]model.Restriction, error)
}

// Checker evaluates every matching restriction of an event against a
// reservation target.  All matching rules must allow the unit; the
// first one that does not stops the reservation.  It plugs into the
// ledger as its eligibility hook.
type Checker struct {
	source Source
}

// NewChecker returns a Checker reading rules from the given source.
func NewChecker(source Source) *Checker {
	return &Checker{source: source}
}

// CheckReservable implements the ledger's eligibility interface.
func (c *Checker) CheckReservable(ctx context.Context, eventIdentity, itemIdentity string, variationIdentity *string, now time.Time) error {
	rules, err := c.source.ListByEvent(ctx, eventIdentity)
	if err != nil {
		return err
	}
	target := Target{
		EventIdentity:     eventIdentity,
		ItemIdentity:      itemIdentity,
		VariationIdentity: variationIdentity,
		Now:               now,
	}
	for i := range rules {
		r := &rules[i]
		if !r.AppliesTo(itemIdentity, variationIdentity) {
			continue
		}
		ev, known, err := New(r.Kind, r.Config)
		if err != nil {
			return err
		}
		if !known {
			continue
		}
		ok, err := ev.Reservable(target)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: blocked by %s restriction", quota.ErrNotEligible, r.Kind)
		}
	}
	return nil
}
