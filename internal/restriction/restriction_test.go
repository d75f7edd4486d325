package restriction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-ticket-reservation/internal/model"
	"github.com/iliyamo/event-ticket-reservation/internal/quota"
)

func TestTimeframeWindow(t *testing.T) {
	from := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)

	ev, err := newTimeframe([]byte(`{"available_from":"2026-09-01T00:00:00Z","available_until":"2026-09-30T00:00:00Z"}`))
	require.NoError(t, err)

	cases := []struct {
		now  time.Time
		want bool
	}{
		{from.Add(-time.Second), false},
		{from, true},
		{from.Add(12 * time.Hour), true},
		{until.Add(-time.Second), true},
		{until, false},
	}
	for _, tc := range cases {
		ok, err := ev.Reservable(Target{Now: tc.now})
		require.NoError(t, err)
		assert.Equal(t, tc.want, ok, tc.now.String())
	}
}

func TestTimeframeOpenBounds(t *testing.T) {
	ev, err := newTimeframe([]byte(`{}`))
	require.NoError(t, err)
	ok, err := ev.Reservable(Target{Now: time.Now()})
	require.NoError(t, err)
	assert.True(t, ok, "a window without bounds allows everything")

	_, err = newTimeframe([]byte(`{"available_from":`))
	assert.Error(t, err, "broken config documents are rejected")
}

type staticSource struct {
	rules []model.Restriction
}

func (s staticSource) ListByEvent(ctx context.Context, eventIdentity string) ([]model.Restriction, error) {
	return s.rules, nil
}

func rule(kind string, config string, itemIdentity *string, variations ...string) model.Restriction {
	return model.Restriction{
		Versioned:           model.Versioned{ID: "r", Identity: "r", VersionStart: time.Now()},
		EventIdentity:       "concert",
		ItemIdentity:        itemIdentity,
		Kind:                kind,
		Config:              []byte(config),
		VariationIdentities: variations,
	}
}

func TestCheckerBlocksOutsideWindow(t *testing.T) {
	item := "ticket"
	checker := NewChecker(staticSource{rules: []model.Restriction{
		rule(KindTimeframe, `{"available_until":"2026-01-01T00:00:00Z"}`, &item),
	}})

	past := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	assert.NoError(t, checker.CheckReservable(context.Background(), "concert", "ticket", nil, past))

	late := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	err := checker.CheckReservable(context.Background(), "concert", "ticket", nil, late)
	assert.ErrorIs(t, err, quota.ErrNotEligible)
}

func TestCheckerScopeAndUnknownKinds(t *testing.T) {
	item := "ticket"
	vip := "vip"
	checker := NewChecker(staticSource{rules: []model.Restriction{
		// Applies only to the vip variation of ticket.
		rule(KindTimeframe, `{"available_until":"2026-01-01T00:00:00Z"}`, &item, vip),
		// A kind whose plugin is not loaded is skipped, not fatal.
		rule("members_only", `{}`, &item),
	}})
	late := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	assert.NoError(t, checker.CheckReservable(context.Background(), "concert", "ticket", nil, late),
		"the bare item is outside the variation-scoped rule")
	err := checker.CheckReservable(context.Background(), "concert", "ticket", &vip, late)
	assert.ErrorIs(t, err, quota.ErrNotEligible)
	assert.NoError(t, checker.CheckReservable(context.Background(), "concert", "poster", nil, late))
}
