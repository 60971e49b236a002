package view

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var collectionName = regexp.MustCompile(`^[a-z][a-z_]*$`)

// PostgresStore persists one collection as a table of JSONB documents with
// the filterable fields lifted into indexed columns.
type PostgresStore[T Document] struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore binds a collection to the table view_<collection>.
func NewPostgresStore[T Document](pool *pgxpool.Pool, collection string) (*PostgresStore[T], error) {
	if !collectionName.MatchString(collection) {
		return nil, fmt.Errorf("invalid collection name %q", collection)
	}
	return &PostgresStore[T]{pool: pool, table: "view_" + collection}, nil
}

// EnsureSchema creates the collection table. Safe to run multiple times.
func (s *PostgresStore[T]) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			external_id TEXT PRIMARY KEY,
			active      BOOLEAN     NOT NULL,
			visible_to  TEXT[]      NOT NULL DEFAULT '{}',
			attrs       JSONB       NOT NULL DEFAULT '{}'::jsonb,
			doc         JSONB       NOT NULL,
			written_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS %[1]s_visible_to_idx ON %[1]s USING GIN (visible_to);
		CREATE INDEX IF NOT EXISTS %[1]s_attrs_idx ON %[1]s USING GIN (attrs);
	`, s.table))
	return err
}

func (s *PostgresStore[T]) Get(ctx context.Context, key string) (T, error) {
	var (
		zero T
		raw  []byte
	)
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT doc FROM %s WHERE external_id = $1`, s.table), key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return zero, fmt.Errorf("get %s from %s: %w", key, s.table, err)
	}
	return decode[T](raw)
}

// Put replaces the whole record in one statement.
func (s *PostgresStore[T]) Put(ctx context.Context, doc T) error {
	if doc.Key() == "" {
		return fmt.Errorf("put record: empty key")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", doc.Key(), err)
	}
	attrs, err := json.Marshal(doc.Attrs())
	if err != nil {
		return fmt.Errorf("encode attrs %s: %w", doc.Key(), err)
	}
	viewers := doc.Viewers()
	if viewers == nil {
		viewers = []string{}
	}

	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (external_id, active, visible_to, attrs, doc, written_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (external_id) DO UPDATE SET
			active     = EXCLUDED.active,
			visible_to = EXCLUDED.visible_to,
			attrs      = EXCLUDED.attrs,
			doc        = EXCLUDED.doc,
			written_at = EXCLUDED.written_at
	`, s.table), doc.Key(), doc.IsActive(), viewers, attrs, raw)
	if err != nil {
		return fmt.Errorf("put %s into %s: %w", doc.Key(), s.table, err)
	}
	return nil
}

func (s *PostgresStore[T]) List(ctx context.Context, q Query) ([]T, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT doc FROM %s
		WHERE ($1::text = '' OR $1::text = ANY(visible_to))
		  AND (NOT $2::boolean OR active)
		  AND ($3::text = '' OR attrs->>$3::text = $4::text)
		ORDER BY external_id
	`, s.table), q.VisibleTo, q.ActiveOnly, q.Attr, q.Equals)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.table, err)
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.table, err)
		}
		doc, err := decode[T](raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore[T]) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`TRUNCATE %s`, s.table))
	return err
}
