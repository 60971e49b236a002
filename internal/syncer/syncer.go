// Package syncer drives one synchronization cycle end to end: normalized
// records from the upstream connector are appended to the event log as sync
// events, published to the projections, and the batch's id set is reconciled
// against the materialized views.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/PratikDhanave/salesview/internal/bus"
	"github.com/PratikDhanave/salesview/internal/event"
	"github.com/PratikDhanave/salesview/internal/eventlog"
	"github.com/PratikDhanave/salesview/internal/reconcile"
)

// DefaultSource stamps event metadata when no source is configured.
const DefaultSource = "crm-sync"

// Batch is one entity type's worth of normalized records from the connector.
type Batch struct {
	EntityType event.AggregateType `json:"entity_type"`
	// Records are payloads shaped like event.UserSynced, event.OpportunitySynced
	// or event.ActivitySynced, matching EntityType.
	Records []json.RawMessage `json:"records"`
	// ExternalIDs is the full set of ids present upstream. When nil the ids
	// of Records are used.
	ExternalIDs []string `json:"external_ids,omitempty"`
	// SkipReconcile marks a partial batch that must not deactivate anything.
	SkipReconcile bool `json:"skip_reconcile,omitempty"`
}

// EntityReport counts the outcome of one batch.
type EntityReport struct {
	EntityType      event.AggregateType `json:"entity_type"`
	Received        int                 `json:"received"`
	Appended        int                 `json:"appended"`
	Failed          int                 `json:"failed"`
	Deactivated     int                 `json:"deactivated"`
	ReconcileFailed int                 `json:"reconcile_failed"`
}

// Report is the outcome of one cycle, per entity type and per projection.
type Report struct {
	CorrelationID string         `json:"correlation_id"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	Entities      []EntityReport `json:"entities"`
	Projections   bus.Tally      `json:"projections"`
}

// OK reports whether every record was appended, reconciled and applied by
// every projection.
func (r Report) OK() bool {
	for _, e := range r.Entities {
		if e.Failed > 0 || e.ReconcileFailed > 0 {
			return false
		}
	}
	for _, c := range r.Projections {
		if c.Failed > 0 {
			return false
		}
	}
	return true
}

// Syncer runs synchronization cycles.
type Syncer struct {
	log        eventlog.Log
	bus        *bus.Bus
	sources    map[event.AggregateType]reconcile.ActiveSource
	source     string
	maxRetries int
	now        func() time.Time
	logger     *slog.Logger
}

// Config configures a Syncer.
type Config struct {
	// Sources lists active records per entity type for reconciliation.
	Sources map[event.AggregateType]reconcile.ActiveSource
	// Source stamps event metadata; defaults to DefaultSource.
	Source string
	// MaxRetries bounds retries after a version conflict.
	MaxRetries int
	Now        func() time.Time
	Logger     *slog.Logger
}

// New creates a Syncer.
func New(log eventlog.Log, b *bus.Bus, cfg Config) *Syncer {
	if cfg.Source == "" {
		cfg.Source = DefaultSource
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Syncer{
		log:        log,
		bus:        b,
		sources:    cfg.Sources,
		source:     cfg.Source,
		maxRetries: cfg.MaxRetries,
		now:        cfg.Now,
		logger:     cfg.Logger.With(slog.String("component", "syncer")),
	}
}

// Run processes batches in the order given; callers pass users before
// opportunities before activities so parents are projected before children.
// actorID is stamped into event metadata when a human triggered the cycle.
// Per-record failures are counted in the report; only cancellation aborts.
func (s *Syncer) Run(ctx context.Context, actorID string, batches ...Batch) (Report, error) {
	report := Report{
		CorrelationID: uuid.NewString(),
		StartedAt:     s.now().UTC(),
		Projections:   bus.Tally{},
	}
	logger := s.logger.With(slog.String("correlation_id", report.CorrelationID))
	emitter := &Emitter{
		log:        s.log,
		bus:        s.bus,
		meta:       event.Metadata{Source: s.source, CorrelationID: report.CorrelationID, ActorID: actorID},
		maxRetries: s.maxRetries,
		now:        s.now,
		logger:     logger,
	}
	reconciler := reconcile.New(emitter, s.sources, logger)

	for _, b := range batches {
		er, err := s.runBatch(ctx, emitter, reconciler, b, report.Projections, logger)
		report.Entities = append(report.Entities, er)
		if err != nil {
			report.FinishedAt = s.now().UTC()
			return report, err
		}
	}

	report.FinishedAt = s.now().UTC()
	logger.Info("sync cycle finished",
		slog.Bool("ok", report.OK()),
		slog.Duration("took", report.FinishedAt.Sub(report.StartedAt)))
	return report, nil
}

func (s *Syncer) runBatch(ctx context.Context, emitter *Emitter, reconciler *reconcile.Reconciler, b Batch, tally bus.Tally, logger *slog.Logger) (EntityReport, error) {
	er := EntityReport{EntityType: b.EntityType, Received: len(b.Records)}
	if _, err := event.ParseAggregateType(string(b.EntityType)); err != nil {
		er.Failed = len(b.Records)
		logger.Error("batch rejected", slog.Any("error", err))
		return er, nil
	}

	seen := make([]string, 0, len(b.Records))
	for _, raw := range b.Records {
		if err := ctx.Err(); err != nil {
			return er, err
		}
		rec, err := decodeRecord(b.EntityType, raw)
		if err != nil {
			er.Failed++
			logger.Error("record rejected",
				slog.String("entity_type", string(b.EntityType)),
				slog.Any("error", err))
			continue
		}
		seen = append(seen, rec.externalID)

		evt, err := emitter.append(ctx, b.EntityType, rec.externalID, b.EntityType.SyncedType(),
			func(history []event.Event) (any, error) {
				return rec.withInternalID(internalID(history, rec.suppliedInternalID)), nil
			})
		if err != nil {
			er.Failed++
			logger.Error("append failed",
				slog.String("entity_type", string(b.EntityType)),
				slog.String("external_id", rec.externalID),
				slog.Any("error", err))
			continue
		}
		tally.Add(s.bus.Publish(ctx, evt))
		er.Appended++
	}

	if b.SkipReconcile {
		return er, nil
	}
	ids := b.ExternalIDs
	if ids == nil {
		ids = seen
	}
	res, err := reconciler.Run(ctx, b.EntityType, ids)
	tally.Merge(res.Projections)
	er.Deactivated = len(res.Deactivated)
	er.ReconcileFailed = len(res.Failed)
	if err != nil {
		if ctx.Err() != nil {
			return er, ctx.Err()
		}
		if len(res.Failed) == 0 {
			er.ReconcileFailed++
		}
		logger.Error("reconciliation failed",
			slog.String("entity_type", string(b.EntityType)),
			slog.Any("error", err))
	}
	return er, nil
}

type record struct {
	externalID         string
	suppliedInternalID string
	withInternalID     func(id string) any
}

func decodeRecord(t event.AggregateType, raw json.RawMessage) (record, error) {
	var rec record
	switch t {
	case event.AggregateUser:
		var p event.UserSynced
		if err := json.Unmarshal(raw, &p); err != nil {
			return rec, fmt.Errorf("decode user: %w", err)
		}
		rec = record{p.ExternalID, p.InternalID, func(id string) any { p.InternalID = id; return p }}
	case event.AggregateOpportunity:
		var p event.OpportunitySynced
		if err := json.Unmarshal(raw, &p); err != nil {
			return rec, fmt.Errorf("decode opportunity: %w", err)
		}
		rec = record{p.ExternalID, p.InternalID, func(id string) any { p.InternalID = id; return p }}
	case event.AggregateActivity:
		var p event.ActivitySynced
		if err := json.Unmarshal(raw, &p); err != nil {
			return rec, fmt.Errorf("decode activity: %w", err)
		}
		rec = record{p.ExternalID, p.InternalID, func(id string) any { p.InternalID = id; return p }}
	default:
		return rec, fmt.Errorf("unknown aggregate type %q", t)
	}
	if rec.externalID == "" {
		return rec, fmt.Errorf("%s record without external_id", t)
	}
	return rec, nil
}
