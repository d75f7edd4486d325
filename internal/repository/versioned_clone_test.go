package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-ticket-reservation/internal/cache"
	"github.com/iliyamo/event-ticket-reservation/internal/config"
	"github.com/iliyamo/event-ticket-reservation/internal/model"
)

// scriptState scripts the answers a fake database connection gives, so
// the clone machinery's control flow can run without a MySQL server.
// Every executed statement is recorded in order.
type scriptState struct {
	mu sync.Mutex

	headStart      *time.Time // head row's version_start; nil means no head row
	historyRows    int        // COUNT(*) over all versions of the identity
	insertAffected int64      // rows affected by the snapshot INSERT ... SELECT
	eventIdentity  string     // owning event returned by back-reference walks

	// signatureRows scripts the taken-signatures query.
	signatureRows [][]driver.Value

	ops []string
}

func (s *scriptState) record(q string) {
	s.mu.Lock()
	s.ops = append(s.ops, q)
	s.mu.Unlock()
}

// opIndex returns the position of the first recorded statement
// containing the fragment, or -1.
func (s *scriptState) opIndex(fragment string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, op := range s.ops {
		if strings.Contains(op, fragment) {
			return i
		}
	}
	return -1
}

func (s *scriptState) db() *sql.DB {
	return sql.OpenDB(scriptConnector{s: s})
}

type scriptConnector struct{ s *scriptState }

func (c scriptConnector) Connect(context.Context) (driver.Conn, error) {
	return &scriptConn{s: c.s}, nil
}
func (c scriptConnector) Driver() driver.Driver { return scriptDriver{} }

type scriptDriver struct{}

func (scriptDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("open through the connector")
}

type scriptConn struct{ s *scriptState }

func (c *scriptConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepared statements are not scripted")
}
func (c *scriptConn) Close() error              { return nil }
func (c *scriptConn) Begin() (driver.Tx, error) { return scriptTx{}, nil }

type scriptTx struct{}

func (scriptTx) Commit() error   { return nil }
func (scriptTx) Rollback() error { return nil }

func (c *scriptConn) QueryContext(ctx context.Context, q string, args []driver.NamedValue) (driver.Rows, error) {
	c.s.record(q)
	switch {
	case strings.Contains(q, "SELECT version_start"):
		if c.s.headStart == nil {
			return rowsOf([]string{"version_start"}), nil
		}
		return rowsOf([]string{"version_start"}, []driver.Value{*c.s.headStart}), nil
	case strings.Contains(q, "SELECT COUNT(*)"):
		return rowsOf([]string{"n"}, []driver.Value{int64(c.s.historyRows)}), nil
	case strings.Contains(q, "SELECT event_identity"):
		if c.s.eventIdentity == "" {
			return rowsOf([]string{"event_identity"}), nil
		}
		return rowsOf([]string{"event_identity"}, []driver.Value{c.s.eventIdentity}), nil
	case strings.Contains(q, "pv.property_identity, vv.value_identity"):
		return rowsOf([]string{"identity", "property_identity", "value_identity"}, c.s.signatureRows...), nil
	case strings.Contains(q, "SELECT property_identity FROM item_properties"):
		return rowsOf([]string{"property_identity"}), nil
	}
	return nil, fmt.Errorf("unscripted query: %s", q)
}

func (c *scriptConn) ExecContext(ctx context.Context, q string, args []driver.NamedValue) (driver.Result, error) {
	c.s.record(q)
	// The snapshot copy is the only statement whose outcome the clone
	// inspects; everything else just succeeds.
	if strings.Contains(q, "SELECT ?, identity, version_start") {
		return driver.RowsAffected(c.s.insertAffected), nil
	}
	return driver.RowsAffected(1), nil
}

type scriptRows struct {
	cols []string
	rows [][]driver.Value
	i    int
}

func rowsOf(cols []string, rows ...[]driver.Value) driver.Rows {
	return &scriptRows{cols: cols, rows: rows}
}

func (r *scriptRows) Columns() []string { return r.cols }
func (r *scriptRows) Close() error      { return nil }
func (r *scriptRows) Next(dest []driver.Value) error {
	if r.i >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.i])
	r.i++
	return nil
}

func beginScripted(t *testing.T, s *scriptState) *sql.Tx {
	t.Helper()
	tx, err := s.db().BeginTx(context.Background(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })
	return tx
}

func TestCloneRejectsUnsavedEntity(t *testing.T) {
	tx := beginScripted(t, &scriptState{})
	_, err := itemSpec.cloneTx(context.Background(), tx, "", time.Now(), true)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCloneUnknownIdentity(t *testing.T) {
	tx := beginScripted(t, &scriptState{historyRows: 0})
	_, err := itemSpec.cloneTx(context.Background(), tx, "ticket", time.Now(), true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloneRejectsHistoricalRow(t *testing.T) {
	// No open interval exists, but older versions do.
	tx := beginScripted(t, &scriptState{historyRows: 3})
	_, err := itemSpec.cloneTx(context.Background(), tx, "ticket", time.Now(), true)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestCloneRejectsTimestampOutsideInterval(t *testing.T) {
	start := time.Now().Add(-time.Hour).UTC()
	state := &scriptState{headStart: &start, insertAffected: 1}

	tx := beginScripted(t, state)
	_, err := itemSpec.cloneTx(context.Background(), tx, "ticket", start.Add(-time.Minute), true)
	assert.ErrorIs(t, err, ErrInvalidState, "before the head's version_start")

	tx = beginScripted(t, state)
	_, err = itemSpec.cloneTx(context.Background(), tx, "ticket", time.Now().Add(time.Hour), true)
	assert.ErrorIs(t, err, ErrInvalidState, "in the future")
}

func TestCloneLostRaceSurfacesAsInvalidState(t *testing.T) {
	start := time.Now().Add(-time.Hour).UTC()
	state := &scriptState{headStart: &start, insertAffected: 0}

	tx := beginScripted(t, state)
	_, err := itemSpec.cloneTx(context.Background(), tx, "ticket", time.Now(), true)
	assert.ErrorIs(t, err, ErrInvalidState,
		"a concurrent clone closing the interval first must not create a second snapshot")
}

func TestCloneSnapshotsAndAdvancesHead(t *testing.T) {
	start := time.Now().Add(-time.Hour).UTC()
	state := &scriptState{headStart: &start, insertAffected: 1}

	tx := beginScripted(t, state)
	histID, err := itemSpec.cloneTx(context.Background(), tx, "ticket", time.Now(), false)
	require.NoError(t, err)
	assert.NotEmpty(t, histID)
	assert.NotEqual(t, "ticket", histID, "the snapshot gets a fresh surrogate key")

	lock := state.opIndex("FOR UPDATE")
	snapshot := state.opIndex("SELECT ?, identity, version_start")
	advance := state.opIndex("SET version_start = ?")
	require.GreaterOrEqual(t, lock, 0)
	assert.Less(t, lock, snapshot, "the head is locked before the snapshot copy")
	assert.Less(t, snapshot, advance, "the snapshot is written before the head moves")

	assert.GreaterOrEqual(t, state.opIndex("INSERT INTO item_properties"), 0,
		"a full clone pins the property links onto the snapshot")
	assert.GreaterOrEqual(t, state.opIndex("INSERT INTO item_questions"), 0)
}

func TestCloneShallowSkipsLinkRewrite(t *testing.T) {
	start := time.Now().Add(-time.Hour).UTC()
	state := &scriptState{headStart: &start, insertAffected: 1}

	tx := beginScripted(t, state)
	_, err := itemSpec.cloneTx(context.Background(), tx, "ticket", time.Now(), true)
	require.NoError(t, err)
	assert.Equal(t, -1, state.opIndex("INSERT INTO item_properties"))
	assert.Equal(t, -1, state.opIndex("INSERT INTO item_questions"))
}

func TestSoftDeleteKeepsRowAndClearsCacheOnce(t *testing.T) {
	start := time.Now().Add(-time.Hour).UTC()
	state := &scriptState{headStart: &start, insertAffected: 1, eventIdentity: "concert"}
	caches := cache.New(config.CacheConfig{Enabled: true, TTL: time.Minute, Prefix: "t"}, nil)
	repo := NewItemRepo(state.db(), caches)
	ctx := context.Background()

	require.NoError(t, repo.SoftDelete(ctx, "ticket"))

	assert.GreaterOrEqual(t, state.opIndex("SET deleted = TRUE, active = FALSE"), 0,
		"deletion flips flags instead of removing the row")
	assert.Equal(t, -1, state.opIndex("DELETE FROM items"))
	assert.Equal(t, uint64(1), caches.ForEvent("concert").Generation(ctx),
		"exactly one cache clear on the owning event")
}

func TestVariationCreateChecksSignatureUnderItemLock(t *testing.T) {
	state := &scriptState{eventIdentity: "concert"}
	repo := NewVariationRepo(state.db(), nil)

	v := &model.ItemVariation{ItemIdentity: "ticket", Active: true}
	require.NoError(t, repo.Create(context.Background(), v, nil))

	lock := state.opIndex("FOR UPDATE")
	check := state.opIndex("pv.property_identity, vv.value_identity")
	insert := state.opIndex("INSERT INTO item_variations")
	require.GreaterOrEqual(t, lock, 0, "the item head row is locked")
	assert.Less(t, lock, check, "the uniqueness check runs under the lock")
	assert.Less(t, check, insert, "the insert happens only after the check passed")
}

func TestVariationCreateConflictDetectedUnderLock(t *testing.T) {
	state := &scriptState{
		eventIdentity: "concert",
		// One committed variation without value links already owns the
		// empty combination.
		signatureRows: [][]driver.Value{{"v-existing", nil, nil}},
	}
	repo := NewVariationRepo(state.db(), nil)

	v := &model.ItemVariation{ItemIdentity: "ticket", Active: true}
	err := repo.Create(context.Background(), v, nil)
	assert.ErrorIs(t, err, ErrSignatureConflict)
	assert.Equal(t, -1, state.opIndex("INSERT INTO item_variations"),
		"no row is written once the conflict is seen")
}

func TestGroupSignatures(t *testing.T) {
	links := []variationValueLink{
		{variationID: "v1", propertyIdentity: "size", valueIdentity: "s"},
		{variationID: "v1", propertyIdentity: "color", valueIdentity: "red"},
		{variationID: "v2", propertyIdentity: "color", valueIdentity: "blue"},
		{variationID: "v2", propertyIdentity: "size", valueIdentity: "s"},
	}
	taken := groupSignatures(links)
	require.Len(t, taken, 2)
	assert.True(t, taken[model.Signature([]model.ValuePair{
		{PropertyIdentity: "size", ValueIdentity: "s"},
		{PropertyIdentity: "color", ValueIdentity: "red"},
	})])
	assert.True(t, taken[model.Signature([]model.ValuePair{
		{PropertyIdentity: "color", ValueIdentity: "blue"},
		{PropertyIdentity: "size", ValueIdentity: "s"},
	})], "pair order within a variation is irrelevant")
}

func TestGroupSignaturesEmptyCombination(t *testing.T) {
	taken := groupSignatures([]variationValueLink{{variationID: "v1"}})
	assert.True(t, taken[""],
		"a variation without value links owns the empty combination")
}
