package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVersionedStartsAsHead(t *testing.T) {
	now := time.Now()
	v := NewVersioned(now)

	require.NotEmpty(t, v.ID)
	assert.Equal(t, v.ID, v.Identity, "a fresh entity keys its head row by its identity")
	assert.True(t, v.IsHead())
	assert.False(t, v.IsHistorical())
}

func TestCoversAt(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	closed := Versioned{ID: "a", Identity: "b", VersionStart: start, VersionEnd: &end}

	assert.True(t, closed.CoversAt(start), "interval start is inclusive")
	assert.True(t, closed.CoversAt(start.Add(time.Hour)))
	assert.False(t, closed.CoversAt(end), "interval end is exclusive")
	assert.False(t, closed.CoversAt(start.Add(-time.Second)))

	head := Versioned{ID: "c", Identity: "c", VersionStart: start}
	assert.True(t, head.CoversAt(end.Add(time.Hour)), "open interval covers everything after its start")
}

func TestSignatureIsOrderIndependent(t *testing.T) {
	a := Signature([]ValuePair{
		{PropertyIdentity: "size", ValueIdentity: "m"},
		{PropertyIdentity: "color", ValueIdentity: "red"},
	})
	b := Signature([]ValuePair{
		{PropertyIdentity: "color", ValueIdentity: "red"},
		{PropertyIdentity: "size", ValueIdentity: "m"},
	})
	assert.Equal(t, a, b)
	assert.Equal(t, "color=red|size=m", a)
	assert.Empty(t, Signature(nil))
}

func TestOrderStatus(t *testing.T) {
	for _, s := range []OrderStatus{OrderStatusPending, OrderStatusPaid, OrderStatusExpired, OrderStatusCancelled} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, OrderStatus("unknown").Valid())

	assert.True(t, OrderStatusPending.ConsumesQuota())
	assert.True(t, OrderStatusPaid.ConsumesQuota())
	assert.False(t, OrderStatusExpired.ConsumesQuota())
	assert.False(t, OrderStatusCancelled.ConsumesQuota())
}

func TestQuotaCovers(t *testing.T) {
	vip := "vip-variation"
	other := "other-variation"

	itemScoped := Quota{ItemIdentities: []string{"ticket"}}
	assert.True(t, itemScoped.Covers("ticket", nil))
	assert.True(t, itemScoped.Covers("ticket", &vip), "item scope covers every variation of the item")
	assert.False(t, itemScoped.Covers("poster", nil))

	variationScoped := Quota{
		ItemIdentities:      []string{"ticket"},
		VariationIdentities: []string{vip},
	}
	assert.True(t, variationScoped.Covers("ticket", &vip))
	assert.False(t, variationScoped.Covers("ticket", &other), "variation scope narrows the item list")
	assert.False(t, variationScoped.Covers("ticket", nil), "variation scope never covers the bare item")
}

func TestRestrictionAppliesTo(t *testing.T) {
	item := "ticket"
	vip := "vip-variation"
	other := "other-variation"

	eventWide := Restriction{}
	assert.True(t, eventWide.AppliesTo("anything", nil))

	itemOnly := Restriction{ItemIdentity: &item}
	assert.True(t, itemOnly.AppliesTo("ticket", &vip))
	assert.False(t, itemOnly.AppliesTo("poster", nil))

	narrowed := Restriction{ItemIdentity: &item, VariationIdentities: []string{vip}}
	assert.True(t, narrowed.AppliesTo("ticket", &vip))
	assert.False(t, narrowed.AppliesTo("ticket", &other))
	assert.False(t, narrowed.AppliesTo("ticket", nil))
}

func TestCartPositionExpiredAt(t *testing.T) {
	now := time.Now()
	p := CartPosition{Expires: now.Add(time.Minute)}
	assert.False(t, p.ExpiredAt(now))
	assert.True(t, p.ExpiredAt(now.Add(time.Minute)), "expiry instant itself no longer counts")
	assert.True(t, p.ExpiredAt(now.Add(2*time.Minute)))
}
