package variation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-ticket-reservation/internal/model"
)

func prop(identity, name string, valueIdentities ...string) model.Property {
	p := model.Property{
		Versioned: model.Versioned{ID: identity, Identity: identity, VersionStart: time.Now()},
		Name:      name,
	}
	for i, v := range valueIdentities {
		p.Values = append(p.Values, model.PropertyValue{
			Versioned:        model.Versioned{ID: v, Identity: v, VersionStart: time.Now()},
			PropertyIdentity: identity,
			Value:            v,
			Position:         int32(i),
		})
	}
	return p
}

func override(itemIdentity string, active bool, price *int64, values ...model.PropertyValue) model.ItemVariation {
	id := "var-" + values[0].Identity
	return model.ItemVariation{
		Versioned:         model.Versioned{ID: id, Identity: id, VersionStart: time.Now()},
		ItemIdentity:      itemIdentity,
		Active:            active,
		DefaultPriceCents: price,
		Values:            values,
	}
}

func TestEnumerateCartesianOrder(t *testing.T) {
	size := prop("size", "Size", "s", "m")
	color := prop("color", "Color", "red", "blue")

	bindings := Enumerate([]model.Property{size, color}, nil)
	require.Len(t, bindings, 4)

	// The first property varies slowest.
	got := make([][2]string, len(bindings))
	for i, b := range bindings {
		got[i] = [2]string{b.Values[0].Identity, b.Values[1].Identity}
	}
	assert.Equal(t, [][2]string{
		{"s", "red"}, {"s", "blue"}, {"m", "red"}, {"m", "blue"},
	}, got)

	// Enumeration is deterministic across runs.
	again := Enumerate([]model.Property{size, color}, nil)
	for i := range bindings {
		assert.Equal(t, bindings[i].Signature(), again[i].Signature())
	}
}

func TestEnumerateZeroProperties(t *testing.T) {
	bindings := Enumerate(nil, nil)
	require.Len(t, bindings, 1, "an item without properties has exactly one combination")
	assert.Empty(t, bindings[0].Values)
	assert.True(t, bindings[0].Active())
}

func TestEnumerateEmptyProperty(t *testing.T) {
	size := prop("size", "Size") // no values yet
	assert.Empty(t, Enumerate([]model.Property{size}, nil),
		"a valueless property empties the product")
}

func TestEnumerateAttachesOverrides(t *testing.T) {
	size := prop("size", "Size", "s", "m")
	price := int64(2500)
	ov := override("ticket", false, &price, size.Values[1])

	bindings := Enumerate([]model.Property{size}, []model.ItemVariation{ov})
	require.Len(t, bindings, 2)

	assert.Nil(t, bindings[0].Variation, "combinations exist without override records")
	assert.True(t, bindings[0].Active())

	require.NotNil(t, bindings[1].Variation)
	assert.False(t, bindings[1].Active(), "an inactive override excludes its combination")
	assert.Equal(t, &price, bindings[1].PriceCents(nil))
}

func TestBindingPriceFallsBackToItemDefault(t *testing.T) {
	size := prop("size", "Size", "s")
	itemDefault := int64(1000)

	bindings := Enumerate([]model.Property{size}, nil)
	require.Len(t, bindings, 1)
	assert.Equal(t, &itemDefault, bindings[0].PriceCents(&itemDefault))

	ovPrice := int64(1500)
	ov := override("ticket", true, &ovPrice, size.Values[0])
	bindings = Enumerate([]model.Property{size}, []model.ItemVariation{ov})
	assert.Equal(t, &ovPrice, bindings[0].PriceCents(&itemDefault), "override price wins")
}

type staticLoader struct {
	props     []model.Property
	overrides []model.ItemVariation
	loads     int
}

func (l *staticLoader) Properties(ctx context.Context, itemIdentity string) ([]model.Property, error) {
	l.loads++
	return l.props, nil
}

func (l *staticLoader) Variations(ctx context.Context, itemIdentity string) ([]model.ItemVariation, error) {
	return l.overrides, nil
}

func TestEngineMemoizesAndInvalidates(t *testing.T) {
	loader := &staticLoader{props: []model.Property{prop("size", "Size", "s", "m")}}
	engine := NewEngine(loader)
	ctx := context.Background()

	first, err := engine.Enumerate(ctx, "ticket", true)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, 1, loader.loads)

	_, err = engine.Enumerate(ctx, "ticket", true)
	require.NoError(t, err)
	assert.Equal(t, 1, loader.loads, "cached call must not hit the loader")

	_, err = engine.Enumerate(ctx, "ticket", false)
	require.NoError(t, err)
	assert.Equal(t, 2, loader.loads, "use_cache=false bypasses the memo")

	engine.Invalidate("ticket")
	_, err = engine.Enumerate(ctx, "ticket", true)
	require.NoError(t, err)
	assert.Equal(t, 3, loader.loads, "invalidation forces a reload")
}

func TestValueWriteWidensEnumerationAfterInvalidate(t *testing.T) {
	loader := &staticLoader{props: []model.Property{prop("size", "Size", "s")}}
	engine := NewEngine(loader)
	ctx := context.Background()

	first, err := engine.Enumerate(ctx, "ticket", true)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A new value lands in the store.  The memo alone cannot see it, so
	// cached reads stay on the old product until the write path
	// invalidates every item carrying the property.
	loader.props = []model.Property{prop("size", "Size", "s", "m")}
	stale, err := engine.Enumerate(ctx, "ticket", true)
	require.NoError(t, err)
	assert.Len(t, stale, 1, "the memo serves the old product until invalidated")

	engine.Invalidate("ticket")
	fresh, err := engine.Enumerate(ctx, "ticket", true)
	require.NoError(t, err)
	assert.Len(t, fresh, 2, "invalidation exposes the widened product")
}
