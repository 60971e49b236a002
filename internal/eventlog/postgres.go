package eventlog

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PratikDhanave/salesview/internal/event"
)

// schemaSQL is embedded so the service can self-bootstrap its event table.
//
//go:embed schema.sql
var schemaSQL string

const (
	uniqueViolation        = "23505"
	aggregateVersionUnique = "events_aggregate_version_key"
)

// PostgresLog is the durable Log backed by a single append-only table.
type PostgresLog struct {
	pool    *pgxpool.Pool
	nowFunc func() time.Time
}

// NewPostgresLog wraps an existing pool. The pool is owned by the caller.
func NewPostgresLog(pool *pgxpool.Pool) *PostgresLog {
	return &PostgresLog{pool: pool, nowFunc: time.Now}
}

// Connect creates a connection pool and fails fast if the database is unreachable.
func Connect(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresLog) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schemaSQL)
	return err
}

// Ping is used by the readiness endpoint.
func (p *PostgresLog) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Append inserts the event only when its version directly follows the
// aggregate's last version. Two writers racing past the check are stopped
// by the (aggregate_type, aggregate_id, version) unique constraint.
func (p *PostgresLog) Append(ctx context.Context, evt event.Event) (string, error) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	meta, err := json.Marshal(evt.Metadata)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	payload := evt.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	ts := normalizeTimestamp(evt.Timestamp, p.nowFunc)

	var seq int64
	err = p.pool.QueryRow(ctx, `
		INSERT INTO events(id, event_type, aggregate_type, aggregate_id, version, payload, metadata, ts)
		SELECT $1::text, $2::text, $3::text, $4::text, $5::bigint, $6::jsonb, $7::jsonb, $8::timestamptz
		WHERE (
			SELECT COALESCE(MAX(version), 0) FROM events
			WHERE aggregate_type = $3 AND aggregate_id = $4
		) = $5::bigint - 1
		RETURNING seq
	`, evt.ID, string(evt.Type), string(evt.AggregateType), evt.AggregateID, evt.Version, []byte(payload), meta, ts).Scan(&seq)
	if err == nil {
		return evt.ID, nil
	}

	var pgErr *pgconn.PgError
	conflict := errors.Is(err, pgx.ErrNoRows) ||
		(errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == aggregateVersionUnique)
	if !conflict {
		return "", fmt.Errorf("append event: %w", err)
	}

	var current int64
	if err := p.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM events
		WHERE aggregate_type = $1 AND aggregate_id = $2
	`, string(evt.AggregateType), evt.AggregateID).Scan(&current); err != nil {
		return "", fmt.Errorf("read current version: %w", err)
	}
	return "", &event.VersionConflictError{
		AggregateType: evt.AggregateType,
		AggregateID:   evt.AggregateID,
		Current:       current,
		Supplied:      evt.Version,
	}
}

const selectEvents = `
	SELECT seq, id, event_type, aggregate_type, aggregate_id, version, payload, metadata, ts, delivered_to
	FROM events
`

func (p *PostgresLog) EventsForAggregate(ctx context.Context, aggType event.AggregateType, aggID string) ([]event.Event, error) {
	rows, err := p.pool.Query(ctx, selectEvents+`
		WHERE aggregate_type = $1 AND aggregate_id = $2
		ORDER BY version
	`, string(aggType), aggID)
	if err != nil {
		return nil, fmt.Errorf("query aggregate events: %w", err)
	}
	return collectEvents(rows)
}

func (p *PostgresLog) EventsSince(ctx context.Context, since time.Time) ([]event.Event, error) {
	rows, err := p.pool.Query(ctx, selectEvents+`
		WHERE ts >= $1
		ORDER BY ts, seq
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query events since: %w", err)
	}
	return collectEvents(rows)
}

func (p *PostgresLog) MarkDelivered(ctx context.Context, eventID, projection string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE events
		SET delivered_to = array_append(delivered_to, $2::text)
		WHERE id = $1 AND NOT ($2::text = ANY(delivered_to))
	`, eventID, projection)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM events WHERE id = $1)`, eventID).Scan(&exists); err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	if !exists {
		return fmt.Errorf("mark %s delivered to %s: %w", eventID, projection, ErrEventNotFound)
	}
	return nil
}

func collectEvents(rows pgx.Rows) ([]event.Event, error) {
	defer rows.Close()

	out := make([]event.Event, 0)
	for rows.Next() {
		var (
			evt      event.Event
			typ      string
			aggType  string
			payload  []byte
			metadata []byte
		)
		if err := rows.Scan(&evt.Seq, &evt.ID, &typ, &aggType, &evt.AggregateID, &evt.Version,
			&payload, &metadata, &evt.Timestamp, &evt.DeliveredTo); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Type = event.Type(typ)
		evt.AggregateType = event.AggregateType(aggType)
		evt.Payload = payload
		evt.Timestamp = evt.Timestamp.UTC()
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &evt.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of %s: %w", evt.ID, err)
			}
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
