package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/event-ticket-reservation/internal/cache"
	"github.com/iliyamo/event-ticket-reservation/internal/model"
)

var categorySpec = versionedSpec{
	table:   "item_categories",
	columns: []string{"event_identity", "name", "position"},
}

var questionSpec = versionedSpec{
	table:   "questions",
	columns: []string{"event_identity", "question", "type", "required"},
}

// CategoryRepo provides data access to item categories and questions,
// the two lightweight display entities attached to items.
type CategoryRepo struct {
	db     *sql.DB
	caches *cache.Cache
}

// NewCategoryRepo returns a new CategoryRepo.  caches may be nil in tests.
func NewCategoryRepo(db *sql.DB, caches *cache.Cache) *CategoryRepo {
	return &CategoryRepo{db: db, caches: caches}
}

func (r *CategoryRepo) clearCache(ctx context.Context, eventIdentity string) {
	if r.caches != nil {
		_ = r.caches.ForEvent(eventIdentity).Clear(ctx)
	}
}

// CreateCategory persists a new category and clears the event cache.
func (r *CategoryRepo) CreateCategory(ctx context.Context, cat *model.ItemCategory) error {
	cat.Versioned = model.NewVersioned(time.Now())
	_, err := r.db.ExecContext(ctx, categorySpec.insertHead(),
		cat.ID, cat.Identity, cat.VersionStart, cat.EventIdentity, cat.Name, cat.Position)
	if err != nil {
		return err
	}
	r.clearCache(ctx, cat.EventIdentity)
	return nil
}

// UpdateCategory snapshots the current version and applies the name
// and position to the head row.
func (r *CategoryRepo) UpdateCategory(ctx context.Context, cat *model.ItemCategory) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := categorySpec.cloneTx(ctx, tx, cat.Identity, time.Now(), true); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE item_categories SET name = ?, position = ? WHERE identity = ? AND version_end IS NULL`,
		cat.Name, cat.Position, cat.Identity); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	r.clearCache(ctx, cat.EventIdentity)
	return nil
}

// ListCategories returns the current versions of an event's categories
// ordered by their configured position.
func (r *CategoryRepo) ListCategories(ctx context.Context, eventIdentity string) ([]model.ItemCategory, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+versionCols+", "+strings.Join(categorySpec.columns, ", ")+
			" FROM item_categories WHERE event_identity = ? AND version_end IS NULL ORDER BY position, name",
		eventIdentity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ItemCategory
	for rows.Next() {
		var v versionRow
		var cat model.ItemCategory
		if err := rows.Scan(&v.id, &v.identity, &v.start, &v.end,
			&cat.EventIdentity, &cat.Name, &cat.Position); err != nil {
			return nil, err
		}
		cat.Versioned = model.Versioned{ID: v.id, Identity: v.identity, VersionStart: v.start, VersionEnd: v.endPtr()}
		out = append(out, cat)
	}
	return out, rows.Err()
}

// CreateQuestion persists a new question and clears the event cache.
func (r *CategoryRepo) CreateQuestion(ctx context.Context, q *model.Question) error {
	q.Versioned = model.NewVersioned(time.Now())
	_, err := r.db.ExecContext(ctx, questionSpec.insertHead(),
		q.ID, q.Identity, q.VersionStart, q.EventIdentity, q.Question, q.Type, q.Required)
	if err != nil {
		return err
	}
	r.clearCache(ctx, q.EventIdentity)
	return nil
}

// SaveCartAnswers replaces the answers recorded against a cart
// position.  The position and every answered question must exist as
// head rows; anything else is ErrNotFound.  Re-submitting overwrites
// the previous answers wholesale, matching how buyers correct a form.
func (r *CategoryRepo) SaveCartAnswers(ctx context.Context, cartPositionID string, answers []model.QuestionAnswer) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cart_positions WHERE id = ?`, cartPositionID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM question_answers WHERE cart_position_id = ?`, cartPositionID); err != nil {
		return err
	}
	for i := range answers {
		a := &answers[i]
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM questions WHERE identity = ? AND version_end IS NULL`,
			a.QuestionIdentity).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		a.ID = uuid.NewString()
		a.CartPositionID = &cartPositionID
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO question_answers (id, cart_position_id, order_position_id, question_identity, answer)
			 VALUES (?, ?, NULL, ?, ?)`,
			a.ID, cartPositionID, a.QuestionIdentity, a.Answer); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// AnswersByOrderPosition returns the answers that were carried onto an
// order position when its cart converted.
func (r *CategoryRepo) AnswersByOrderPosition(ctx context.Context, orderPositionID string) ([]model.QuestionAnswer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, cart_position_id, order_position_id, question_identity, answer
		 FROM question_answers WHERE order_position_id = ? ORDER BY question_identity`,
		orderPositionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.QuestionAnswer
	for rows.Next() {
		var a model.QuestionAnswer
		var cart, order sql.NullString
		if err := rows.Scan(&a.ID, &cart, &order, &a.QuestionIdentity, &a.Answer); err != nil {
			return nil, err
		}
		if cart.Valid {
			s := cart.String
			a.CartPositionID = &s
		}
		if order.Valid {
			s := order.String
			a.OrderPositionID = &s
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// QuestionsByItem returns the current versions of the questions
// attached to an item.
func (r *CategoryRepo) QuestionsByItem(ctx context.Context, itemIdentity string) ([]model.Question, error) {
	const query = `SELECT q.id, q.identity, q.version_start, q.version_end, q.event_identity, q.question, q.type, q.required
	               FROM item_questions iq
	               JOIN questions q ON q.identity = iq.question_identity AND q.version_end IS NULL
	               WHERE iq.item_id = ?
	               ORDER BY q.question`
	rows, err := r.db.QueryContext(ctx, query, itemIdentity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Question
	for rows.Next() {
		var v versionRow
		var q model.Question
		if err := rows.Scan(&v.id, &v.identity, &v.start, &v.end,
			&q.EventIdentity, &q.Question, &q.Type, &q.Required); err != nil {
			return nil, err
		}
		q.Versioned = model.Versioned{ID: v.id, Identity: v.identity, VersionStart: v.start, VersionEnd: v.endPtr()}
		out = append(out, q)
	}
	return out, rows.Err()
}
