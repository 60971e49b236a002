// Package reconcile marks materialized records inactive when their external
// id disappears from a fresh synchronization batch.
//
// Nothing is ever physically removed. Each vanished record gets a
// record.deactivated event appended to the log and published, so the inactive
// state and its deletion timestamp survive a rebuild from the log. A record
// that reappears in a later batch is reactivated by its own sync event.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/PratikDhanave/salesview/internal/bus"
	"github.com/PratikDhanave/salesview/internal/event"
)

// ActiveSource lists the external ids of the active records of one entity type.
type ActiveSource func(ctx context.Context) ([]string, error)

// Emitter appends an event for an aggregate at its next version and publishes it.
type Emitter interface {
	Emit(ctx context.Context, aggType event.AggregateType, aggID string, typ event.Type, payload any) (event.Event, bus.Results, error)
}

// Result summarizes one reconciliation run.
type Result struct {
	EntityType  event.AggregateType `json:"entity_type"`
	Checked     int                 `json:"checked"`
	Deactivated []string            `json:"deactivated"`
	Failed      []string            `json:"failed,omitempty"`
	Projections bus.Tally           `json:"projections"`
}

// Reconciler compares batches against the active records of each entity type.
type Reconciler struct {
	sources map[event.AggregateType]ActiveSource
	emitter Emitter
	logger  *slog.Logger
}

// New creates a reconciler. A nil logger defaults to slog.Default().
func New(emitter Emitter, sources map[event.AggregateType]ActiveSource, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		sources: sources,
		emitter: emitter,
		logger:  logger.With(slog.String("component", "reconcile")),
	}
}

// Vanished returns the active ids that are absent from batch, sorted.
func Vanished(active, batch []string) []string {
	present := make(map[string]struct{}, len(batch))
	for _, id := range batch {
		present[id] = struct{}{}
	}
	var out []string
	for _, id := range active {
		if _, ok := present[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Run deactivates every active record of entityType whose external id is not
// in batch. A failure on one record does not stop the others.
func (r *Reconciler) Run(ctx context.Context, entityType event.AggregateType, batch []string) (Result, error) {
	res := Result{EntityType: entityType, Deactivated: []string{}, Projections: bus.Tally{}}
	source, ok := r.sources[entityType]
	if !ok {
		return res, fmt.Errorf("no reconciliation source for %s", entityType)
	}

	active, err := source(ctx)
	if err != nil {
		return res, fmt.Errorf("list active %s records: %w", entityType, err)
	}
	res.Checked = len(active)

	var errs []error
	for _, id := range Vanished(active, batch) {
		_, results, err := r.emitter.Emit(ctx, entityType, id, event.TypeRecordDeactivated,
			event.RecordDeactivated{EntityType: entityType, ExternalID: id})
		if err != nil {
			res.Failed = append(res.Failed, id)
			errs = append(errs, err)
			r.logger.Error("deactivation failed",
				slog.String("entity_type", string(entityType)),
				slog.String("external_id", id),
				slog.Any("error", err))
			continue
		}
		res.Projections.Add(results)
		res.Deactivated = append(res.Deactivated, id)
	}

	r.logger.Info("reconciled",
		slog.String("entity_type", string(entityType)),
		slog.Int("checked", res.Checked),
		slog.Int("batch", len(batch)),
		slog.Int("deactivated", len(res.Deactivated)),
		slog.Int("failed", len(res.Failed)))
	return res, errors.Join(errs...)
}
