package variation

import (
	"context"
	"sync"

	"github.com/iliyamo/event-ticket-reservation/internal/model"
)

// Loader supplies the inputs of an enumeration: the item's properties
// with their values and the override records attached to the item.
type Loader interface {
	Properties(ctx context.Context, itemIdentity string) ([]model.Property, error)
	Variations(ctx context.Context, itemIdentity string) ([]model.ItemVariation, error)
}

// Engine enumerates item combinations with per-item memoization.  The
// memo holds fully computed binding slices; callers must treat the
// returned slice as read-only.
type Engine struct {
	loader Loader

	mu   sync.Mutex
	memo map[string][]Binding
}

// NewEngine returns an Engine backed by the given loader.
func NewEngine(loader Loader) *Engine {
	return &Engine{loader: loader, memo: make(map[string][]Binding)}
}

// Enumerate returns all combinations of an item.  When useCache is
// true a memoized result is served if present; a fresh computation is
// memoized either way so later cached calls benefit.
func (e *Engine) Enumerate(ctx context.Context, itemIdentity string, useCache bool) ([]Binding, error) {
	if useCache {
		e.mu.Lock()
		cached, ok := e.memo[itemIdentity]
		e.mu.Unlock()
		if ok {
			return cached, nil
		}
	}
	props, err := e.loader.Properties(ctx, itemIdentity)
	if err != nil {
		return nil, err
	}
	overrides, err := e.loader.Variations(ctx, itemIdentity)
	if err != nil {
		return nil, err
	}
	bindings := Enumerate(props, overrides)
	e.mu.Lock()
	e.memo[itemIdentity] = bindings
	e.mu.Unlock()
	return bindings, nil
}

// Invalidate drops the memoized result of one item.
func (e *Engine) Invalidate(itemIdentity string) {
	e.mu.Lock()
	delete(e.memo, itemIdentity)
	e.mu.Unlock()
}

// Reset drops all memoized results.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.memo = make(map[string][]Binding)
	e.mu.Unlock()
}
