package repository

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/event-ticket-reservation/internal/model"
)

func TestQueryBuilders(t *testing.T) {
	spec := versionedSpec{table: "organizers", columns: []string{"name", "slug"}}

	assert.Equal(t,
		"SELECT id, identity, version_start, version_end, name, slug"+
			" FROM organizers WHERE identity = ? AND version_end IS NULL",
		spec.selectHead())

	assert.Equal(t,
		"SELECT id, identity, version_start, version_end, name, slug"+
			" FROM organizers WHERE identity = ? AND version_start <= ? AND (version_end IS NULL OR version_end > ?)",
		spec.selectAsOf())

	assert.Equal(t,
		"INSERT INTO organizers (id, identity, version_start, version_end, name, slug) VALUES (?, ?, ?, NULL, ?, ?)",
		spec.insertHead())
}

func TestNotFoundErr(t *testing.T) {
	assert.ErrorIs(t, notFoundErr(sql.ErrNoRows), ErrNotFound)
	assert.NoError(t, notFoundErr(nil))
	assert.ErrorIs(t, notFoundErr(sql.ErrConnDone), sql.ErrConnDone,
		"only row misses map onto the sentinel")
}

func TestInClause(t *testing.T) {
	clause, args := inClause("item_identity", []string{"a", "b"})
	assert.Equal(t, "item_identity IN (?, ?)", clause)
	assert.Equal(t, []interface{}{"a", "b"}, args)

	clause, args = inClause("item_identity", nil)
	assert.Equal(t, "1 = 0", clause, "an empty scope matches nothing")
	assert.Nil(t, args)
}

func TestScopeClause(t *testing.T) {
	itemScoped := model.Quota{ItemIdentities: []string{"ticket"}}
	clause, args := scopeClause(&itemScoped, "op.item_identity", "op.variation_identity")
	assert.Equal(t, "op.item_identity IN (?)", clause)
	assert.Equal(t, []interface{}{"ticket"}, args)

	variationScoped := model.Quota{
		ItemIdentities:      []string{"ticket"},
		VariationIdentities: []string{"vip", "front"},
	}
	clause, args = scopeClause(&variationScoped, "op.item_identity", "op.variation_identity")
	assert.Equal(t, "op.variation_identity IN (?, ?)", clause,
		"naming variations narrows the scope to exactly those")
	assert.Equal(t, []interface{}{"vip", "front"}, args)
}
