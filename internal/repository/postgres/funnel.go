package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/funnel-studio/internal/domain"
	"github.com/ignite/funnel-studio/internal/service/funnel"
	"github.com/lib/pq"
)

// FunnelRepo implements funnel.Repository against PostgreSQL.
type FunnelRepo struct{ db *sql.DB }

// NewFunnelRepo creates a Postgres-backed funnel repository.
func NewFunnelRepo(db *sql.DB) *FunnelRepo { return &FunnelRepo{db: db} }

const funnelColumns = `id, COALESCE(slug,''), name, status, global_config, style_categories,
		       published_at, created_at, updated_at`

func scanFunnel(row interface{ Scan(...any) error }) (*domain.Funnel, error) {
	f := &domain.Funnel{}
	var global, styles []byte
	var publishedAt sql.NullTime
	if err := row.Scan(&f.ID, &f.Slug, &f.Name, &f.Status, &global, &styles,
		&publishedAt, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(global, &f.GlobalConfig); err != nil {
		return nil, fmt.Errorf("decode global_config: %w", err)
	}
	if err := unmarshalJSON(styles, &f.StyleCategories); err != nil {
		return nil, fmt.Errorf("decode style_categories: %w", err)
	}
	if f.GlobalConfig == nil {
		f.GlobalConfig = map[string]any{}
	}
	if f.StyleCategories == nil {
		f.StyleCategories = []domain.StyleCategory{}
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		f.PublishedAt = &t
	}
	return f, nil
}

func (r *FunnelRepo) GetFunnel(ctx context.Context, id string) (*domain.Funnel, error) {
	f, err := scanFunnel(r.db.QueryRowContext(ctx, `
		SELECT `+funnelColumns+`
		FROM funnels
		WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, funnel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get funnel: %w", err)
	}
	return f, nil
}

func (r *FunnelRepo) CreateFunnel(ctx context.Context, f *domain.Funnel) error {
	global, err := marshalJSON(f.GlobalConfig, "{}")
	if err != nil {
		return err
	}
	styles, err := marshalJSON(f.StyleCategories, "[]")
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO funnels
			(id, slug, name, status, global_config, style_categories, created_at, updated_at)
		VALUES ($1, NULLIF($2,''), $3, $4, $5, $6, $7, $8)
	`, f.ID, f.Slug, f.Name, f.Status, global, styles, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create funnel: %w", err)
	}
	return nil
}

func (r *FunnelRepo) UpdateFunnel(ctx context.Context, id string, u funnel.FunnelUpdate) error {
	sets := []string{}
	args := []interface{}{}
	idx := 1
	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Slug != nil {
		sets = append(sets, fmt.Sprintf("slug = NULLIF($%d,'')", idx))
		args = append(args, *u.Slug)
		idx++
	}
	if u.GlobalConfig != nil {
		b, err := marshalJSON(u.GlobalConfig, "{}")
		if err != nil {
			return err
		}
		add("global_config", b)
	}
	if u.StyleCategories != nil {
		b, err := marshalJSON(u.StyleCategories, "[]")
		if err != nil {
			return err
		}
		add("style_categories", b)
	}

	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = NOW()")
	q := fmt.Sprintf("UPDATE funnels SET %s WHERE id = $%d", strings.Join(sets, ", "), idx)
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update funnel: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return funnel.ErrNotFound
	}
	return nil
}

func (r *FunnelRepo) UpdateFunnelStatus(ctx context.Context, id string, status domain.FunnelStatus, publishedAt *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE funnels SET status = $1, published_at = $2, updated_at = NOW()
		WHERE id = $3
	`, status, publishedAt, id)
	if err != nil {
		return fmt.Errorf("update funnel status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return funnel.ErrNotFound
	}
	return nil
}

func (r *FunnelRepo) SlugTaken(ctx context.Context, slug, exceptID string) (bool, error) {
	var taken bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM funnels WHERE slug = $1 AND id::text <> $2)
	`, slug, exceptID).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return taken, nil
}

const stageColumns = `id, funnel_id, type, title, order_index, is_enabled, config, created_at, updated_at`

func scanStage(row interface{ Scan(...any) error }) (domain.Stage, error) {
	var st domain.Stage
	var cfg []byte
	if err := row.Scan(&st.ID, &st.FunnelID, &st.Type, &st.Title, &st.OrderIndex,
		&st.IsEnabled, &cfg, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return st, err
	}
	if err := unmarshalJSON(cfg, &st.Config); err != nil {
		return st, fmt.Errorf("decode stage config: %w", err)
	}
	if st.Config == nil {
		st.Config = map[string]any{}
	}
	return st, nil
}

func (r *FunnelRepo) ListStages(ctx context.Context, funnelID string) ([]domain.Stage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+stageColumns+`
		FROM funnel_stages
		WHERE funnel_id = $1
		ORDER BY order_index
	`, funnelID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	var out []domain.Stage
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (r *FunnelRepo) GetStage(ctx context.Context, id string) (*domain.Stage, error) {
	st, err := scanStage(r.db.QueryRowContext(ctx, `
		SELECT `+stageColumns+`
		FROM funnel_stages
		WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, funnel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get stage: %w", err)
	}
	return &st, nil
}

func (r *FunnelRepo) CreateStage(ctx context.Context, st *domain.Stage) error {
	cfg, err := marshalJSON(st.Config, "{}")
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO funnel_stages
			(id, funnel_id, type, title, order_index, is_enabled, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, st.ID, st.FunnelID, st.Type, st.Title, st.OrderIndex, st.IsEnabled, cfg, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %d", funnel.ErrDuplicateOrder, st.OrderIndex)
		}
		return fmt.Errorf("create stage: %w", err)
	}
	return nil
}

func (r *FunnelRepo) UpdateStage(ctx context.Context, id string, p funnel.StagePatch) error {
	sets := []string{}
	args := []interface{}{}
	idx := 1
	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if p.Type != nil {
		add("type", *p.Type)
	}
	if p.Title != nil {
		add("title", *p.Title)
	}
	if p.OrderIndex != nil {
		add("order_index", *p.OrderIndex)
	}
	if p.IsEnabled != nil {
		add("is_enabled", *p.IsEnabled)
	}
	if p.Config != nil {
		b, err := marshalJSON(p.Config, "{}")
		if err != nil {
			return err
		}
		add("config", b)
	}

	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = NOW()")
	q := fmt.Sprintf("UPDATE funnel_stages SET %s WHERE id = $%d", strings.Join(sets, ", "), idx)
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return funnel.ErrDuplicateOrder
		}
		return fmt.Errorf("update stage: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return funnel.ErrNotFound
	}
	return nil
}

func (r *FunnelRepo) DeleteStage(ctx context.Context, id string) error {
	// funnel_options cascades.
	res, err := r.db.ExecContext(ctx, `DELETE FROM funnel_stages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete stage: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return funnel.ErrNotFound
	}
	return nil
}

// ReorderStages first moves every stage of the funnel to a negative index so
// the unique (funnel_id, order_index) constraint holds between updates.
func (r *FunnelRepo) ReorderStages(ctx context.Context, funnelID string, updates []domain.OrderUpdate) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE funnel_stages SET order_index = -order_index - 1
		WHERE funnel_id = $1
	`, funnelID); err != nil {
		return fmt.Errorf("park stages: %w", err)
	}
	for _, u := range updates {
		res, err := tx.ExecContext(ctx, `
			UPDATE funnel_stages SET order_index = $1, updated_at = NOW()
			WHERE id = $2 AND funnel_id = $3
		`, u.OrderIndex, u.ID, funnelID)
		if err != nil {
			return fmt.Errorf("reorder stage %s: %w", u.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return funnel.ErrNotFound
		}
	}
	return tx.Commit()
}

const optionColumns = `id, stage_id, text, order_index, points, style_category, image_url`

func scanOption(row interface{ Scan(...any) error }) (domain.Option, error) {
	var o domain.Option
	var style, image sql.NullString
	if err := row.Scan(&o.ID, &o.StageID, &o.Text, &o.OrderIndex, &o.Points, &style, &image); err != nil {
		return o, err
	}
	if style.Valid {
		o.StyleCategory = &style.String
	}
	if image.Valid {
		o.ImageURL = &image.String
	}
	return o, nil
}

func (r *FunnelRepo) ListOptions(ctx context.Context, stageID string) ([]domain.Option, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+optionColumns+`
		FROM funnel_options
		WHERE stage_id = $1
		ORDER BY order_index
	`, stageID)
	if err != nil {
		return nil, fmt.Errorf("list options: %w", err)
	}
	defer rows.Close()

	var out []domain.Option
	for rows.Next() {
		o, err := scanOption(rows)
		if err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *FunnelRepo) ListOptionsByFunnel(ctx context.Context, funnelID string) (map[string][]domain.Option, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT o.id, o.stage_id, o.text, o.order_index, o.points, o.style_category, o.image_url
		FROM funnel_options o
		JOIN funnel_stages s ON s.id = o.stage_id
		WHERE s.funnel_id = $1
		ORDER BY o.stage_id, o.order_index
	`, funnelID)
	if err != nil {
		return nil, fmt.Errorf("list funnel options: %w", err)
	}
	defer rows.Close()

	out := map[string][]domain.Option{}
	for rows.Next() {
		o, err := scanOption(rows)
		if err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		out[o.StageID] = append(out[o.StageID], o)
	}
	return out, rows.Err()
}

func (r *FunnelRepo) SyncOptions(ctx context.Context, stageID string, options []domain.Option) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin option sync: %w", err)
	}
	defer tx.Rollback()

	ids := make([]string, len(options))
	for i, o := range options {
		ids[i] = o.ID
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM funnel_options
		WHERE stage_id = $1 AND NOT (id = ANY($2))
	`, stageID, pq.Array(ids)); err != nil {
		return fmt.Errorf("delete stale options: %w", err)
	}

	for _, o := range options {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO funnel_options
				(id, stage_id, text, order_index, points, style_category, image_url)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				text = EXCLUDED.text,
				order_index = EXCLUDED.order_index,
				points = EXCLUDED.points,
				style_category = EXCLUDED.style_category,
				image_url = EXCLUDED.image_url
			WHERE funnel_options.stage_id = EXCLUDED.stage_id
		`, o.ID, stageID, o.Text, o.OrderIndex, o.Points, nullString(o.StyleCategory), nullString(o.ImageURL))
		if err != nil {
			return fmt.Errorf("upsert option %s: %w", o.ID, err)
		}
		// The conflict branch writes nothing when the id is another stage's row.
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("upsert option %s: %w", o.ID, funnel.ErrOptionOwned)
		}
	}
	return tx.Commit()
}

func (r *FunnelRepo) ReorderOptions(ctx context.Context, stageID string, updates []domain.OrderUpdate) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin option reorder: %w", err)
	}
	defer tx.Rollback()

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, `
			UPDATE funnel_options SET order_index = $1
			WHERE id = $2 AND stage_id = $3
		`, u.OrderIndex, u.ID, stageID); err != nil {
			return fmt.Errorf("reorder option %s: %w", u.ID, err)
		}
	}
	return tx.Commit()
}

func marshalJSON(v any, empty string) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	if string(b) == "null" {
		return []byte(empty), nil
	}
	return b, nil
}

func unmarshalJSON(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
