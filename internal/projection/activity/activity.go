// Package activity projects activity sync events into activity views that
// inherit their parent opportunity's visible-to set verbatim. The projection
// follows the opportunity projection, so a parent's later visibility or
// summary change is copied onto its existing children.
//
// An activity whose parent opportunity is not in the opportunity view is
// withheld entirely: it is neither created nor updated, so it can never be
// visible under a default or empty visibility set.
package activity

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/PratikDhanave/salesview/internal/event"
	"github.com/PratikDhanave/salesview/internal/projection"
	"github.com/PratikDhanave/salesview/internal/projection/opportunity"
	"github.com/PratikDhanave/salesview/internal/view"
)

// Name is the projection name recorded in delivered-to sets.
const Name = "activity"

// Projection maintains the activity view.
type Projection struct {
	mu            sync.Mutex
	store         view.Store[view.Activity]
	opportunities view.Reader[view.Opportunity]
	logger        *slog.Logger
}

// New creates the activity projection. opportunities is the read-only view
// owned by the opportunity projection.
func New(store view.Store[view.Activity], opportunities view.Reader[view.Opportunity], logger *slog.Logger) *Projection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projection{
		store:         store,
		opportunities: opportunities,
		logger:        logger.With(slog.String("projection", Name)),
	}
}

func (p *Projection) Name() string { return Name }

func (p *Projection) SubscribesTo() []event.Type {
	return []event.Type{event.TypeActivitySynced, event.TypeRecordDeactivated}
}

func (p *Projection) Reset(ctx context.Context) error { return p.store.Reset(ctx) }

func (p *Projection) Handle(ctx context.Context, evt event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch evt.Type {
	case event.TypeActivitySynced:
		var payload event.ActivitySynced
		if err := evt.Decode(&payload); err != nil {
			return err
		}
		return p.applySynced(ctx, evt, payload)
	case event.TypeRecordDeactivated:
		var payload event.RecordDeactivated
		if err := evt.Decode(&payload); err != nil {
			return err
		}
		if payload.EntityType != event.AggregateActivity {
			return nil
		}
		return p.applyDeactivated(ctx, evt, payload.ExternalID)
	default:
		return nil
	}
}

func (p *Projection) applySynced(ctx context.Context, evt event.Event, payload event.ActivitySynced) error {
	key := evt.AggregateID
	parent, ok, err := view.Lookup[view.Opportunity](ctx, p.opportunities, payload.OpportunityExternalID)
	if err != nil {
		return err
	}
	if !ok {
		p.logger.Warn("parent opportunity not found, activity withheld",
			slog.String("external_id", key),
			slog.String("opportunity_external_id", payload.OpportunityExternalID),
			slog.String("event_id", evt.ID))
		return nil
	}

	prev, found, err := view.Lookup[view.Activity](ctx, p.store, key)
	if err != nil {
		return err
	}
	if found && prev.Stale(evt.Version) {
		return nil
	}

	rec := view.Activity{
		Meta: view.Meta{
			ExternalID: key,
			InternalID: payload.InternalID,
			VisibleTo:  slices.Clone(parent.VisibleTo),
			Version:    evt.Version,
			UpdatedAt:  projection.Timestamp(evt),
		},
		Subject:               payload.Subject,
		Kind:                  payload.Kind,
		OccurredAt:            projection.OptionalTime(payload.OccurredAt),
		OpportunityExternalID: payload.OpportunityExternalID,
		Opportunity:           parent.Ref(),
	}
	if rec.VisibleTo == nil {
		rec.VisibleTo = []string{}
	}
	rec.Activate()
	return p.store.Put(ctx, rec)
}

func (p *Projection) applyDeactivated(ctx context.Context, evt event.Event, key string) error {
	rec, found, err := view.Lookup[view.Activity](ctx, p.store, key)
	if err != nil || !found {
		return err
	}
	if rec.Stale(evt.Version) {
		return nil
	}
	rec.Deactivate(projection.Timestamp(evt))
	rec.Version = evt.Version
	rec.UpdatedAt = projection.Timestamp(evt)
	return p.store.Put(ctx, rec)
}

// OpportunitiesChanged copies each changed parent's visible-to set and summary
// onto its children. The activity's own version is kept.
func (p *Projection) OpportunitiesChanged(ctx context.Context, at time.Time, changes []opportunity.Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range changes {
		parent := c.Opportunity
		children, err := p.store.List(ctx, view.Query{Attr: view.AttrOpportunity, Equals: parent.ExternalID})
		if err != nil {
			return err
		}
		ref := parent.Ref()
		for _, rec := range children {
			if slices.Equal(rec.VisibleTo, parent.VisibleTo) && rec.Opportunity == ref {
				continue
			}
			rec.VisibleTo = slices.Clone(parent.VisibleTo)
			if rec.VisibleTo == nil {
				rec.VisibleTo = []string{}
			}
			rec.Opportunity = ref
			rec.UpdatedAt = at.UTC()
			if err := p.store.Put(ctx, rec); err != nil {
				return err
			}
		}
	}
	return nil
}
