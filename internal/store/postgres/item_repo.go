package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"classagenda/internal/model"
	"classagenda/internal/store"
)

// ItemRepository stores calendar items in a calendar_items table:
//
//	CREATE TABLE calendar_items (
//	    id             TEXT PRIMARY KEY,
//	    kind           TEXT NOT NULL,
//	    title          TEXT NOT NULL DEFAULT '',
//	    description    TEXT NOT NULL DEFAULT '',
//	    links          TEXT[] NOT NULL DEFAULT '{}',
//	    start_at       TIMESTAMPTZ NOT NULL,
//	    end_at         TIMESTAMPTZ NOT NULL,
//	    institution_id TEXT NOT NULL DEFAULT '',
//	    class_id       TEXT NOT NULL DEFAULT '',
//	    ref_kind       TEXT,
//	    ref_id         TEXT,
//	    source         TEXT NOT NULL DEFAULT 'app',
//	    updated_at     TIMESTAMPTZ NOT NULL
//	);
type ItemRepository struct {
	DB *sql.DB
}

func NewItemRepository(db *sql.DB) *ItemRepository {
	return &ItemRepository{DB: db}
}

// Open connects with lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres: empty DSN")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}

func (r *ItemRepository) List(ctx context.Context) (store.Listing, error) {
	query := `
		SELECT id, kind, title, description, links, start_at, end_at,
		       institution_id, class_id, ref_kind, ref_id, source, updated_at
		FROM calendar_items
		ORDER BY start_at, id
	`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return store.Listing{}, fmt.Errorf("postgres: list: %w", err)
	}
	defer rows.Close()

	items := make([]model.CalendarItem, 0)
	for rows.Next() {
		var (
			it             model.CalendarItem
			links          pq.StringArray
			refKind, refID sql.NullString
		)
		if err := rows.Scan(&it.ID, &it.Kind, &it.Title, &it.Description, &links,
			&it.Start, &it.End, &it.InstitutionID, &it.ClassID,
			&refKind, &refID, &it.Source, &it.UpdatedAt); err != nil {
			return store.Listing{}, fmt.Errorf("postgres: list: scan: %w", err)
		}
		if len(links) > 0 {
			it.Links = []string(links)
		}
		if refKind.Valid && refID.Valid {
			it.Ref = &model.EntityRef{Kind: refKind.String, ID: refID.String}
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return store.Listing{}, fmt.Errorf("postgres: list: %w", err)
	}
	return store.Listing{Items: items}, nil
}

func (r *ItemRepository) Upsert(ctx context.Context, item model.CalendarItem) error {
	if err := store.Validate(item); err != nil {
		return err
	}
	if item.Source == "" {
		item.Source = model.SourceApp
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now().UTC()
	}

	var refKind, refID sql.NullString
	if item.Ref != nil {
		refKind = sql.NullString{String: item.Ref.Kind, Valid: true}
		refID = sql.NullString{String: item.Ref.ID, Valid: true}
	}

	query := `
		INSERT INTO calendar_items (id, kind, title, description, links, start_at, end_at,
		                            institution_id, class_id, ref_kind, ref_id, source, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE
		SET kind = EXCLUDED.kind, title = EXCLUDED.title, description = EXCLUDED.description,
		    links = EXCLUDED.links, start_at = EXCLUDED.start_at, end_at = EXCLUDED.end_at,
		    institution_id = EXCLUDED.institution_id, class_id = EXCLUDED.class_id,
		    ref_kind = EXCLUDED.ref_kind, ref_id = EXCLUDED.ref_id,
		    source = EXCLUDED.source, updated_at = EXCLUDED.updated_at
	`
	_, err := r.DB.ExecContext(ctx, query, item.ID, item.Kind, item.Title, item.Description,
		pq.Array(item.Links), item.Start, item.End, item.InstitutionID, item.ClassID,
		refKind, refID, item.Source, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert %s: %w", item.ID, err)
	}
	return nil
}

func (r *ItemRepository) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM calendar_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: delete %s: %w", id, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
