// Package opportunity projects opportunity sync events into denormalized
// opportunity views with the owner and account embedded inline and the
// visible-to set taken from the owner's access grant.
//
// The projection follows the access projection: whenever an owner's grant is
// recomputed, every opportunity of that owner is re-derived in the same
// delivery. Views derived from opportunities register as a Dependent.
package opportunity

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/PratikDhanave/salesview/internal/event"
	"github.com/PratikDhanave/salesview/internal/projection"
	"github.com/PratikDhanave/salesview/internal/projection/access"
	"github.com/PratikDhanave/salesview/internal/view"
)

// Name is the projection name recorded in delivered-to sets.
const Name = "opportunity"

// Change is an opportunity as written, with the visible-to set it had before.
type Change struct {
	Opportunity view.Opportunity
	// PreviousVisibleTo is nil for a record seen for the first time.
	PreviousVisibleTo []string
}

// Dependent is a view derived from opportunities.
type Dependent interface {
	OpportunitiesChanged(ctx context.Context, at time.Time, changes []Change) error
}

// Projection maintains the opportunity view.
type Projection struct {
	// mu serializes writes from event delivery and from grant changes.
	mu         sync.Mutex
	store      view.Store[view.Opportunity]
	people     view.Reader[view.UserProfile]
	grants     view.Reader[view.AccessGrant]
	admins     []string
	dependents []Dependent
	logger     *slog.Logger
}

// New creates the opportunity projection. people and grants are read-only
// views owned by the identity and access projections.
func New(store view.Store[view.Opportunity], people view.Reader[view.UserProfile], grants view.Reader[view.AccessGrant], admins []string, logger *slog.Logger) *Projection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projection{
		store:  store,
		people: people,
		grants: grants,
		admins: view.SubjectSet(admins...),
		logger: logger.With(slog.String("projection", Name)),
	}
}

// AddDependent registers d to follow opportunity changes. Call it before the
// projection receives events.
func (p *Projection) AddDependent(d Dependent) {
	p.dependents = append(p.dependents, d)
}

func (p *Projection) Name() string { return Name }

func (p *Projection) SubscribesTo() []event.Type {
	return []event.Type{event.TypeOpportunitySynced, event.TypeRecordDeactivated}
}

func (p *Projection) Reset(ctx context.Context) error { return p.store.Reset(ctx) }

func (p *Projection) Handle(ctx context.Context, evt event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch evt.Type {
	case event.TypeOpportunitySynced:
		var payload event.OpportunitySynced
		if err := evt.Decode(&payload); err != nil {
			return err
		}
		return p.applySynced(ctx, evt, payload)
	case event.TypeRecordDeactivated:
		var payload event.RecordDeactivated
		if err := evt.Decode(&payload); err != nil {
			return err
		}
		if payload.EntityType != event.AggregateOpportunity {
			return nil
		}
		return p.applyDeactivated(ctx, evt, payload.ExternalID)
	default:
		return nil
	}
}

func (p *Projection) applySynced(ctx context.Context, evt event.Event, payload event.OpportunitySynced) error {
	key := evt.AggregateID
	prev, found, err := view.Lookup[view.Opportunity](ctx, p.store, key)
	if err != nil {
		return err
	}
	if found && prev.Stale(evt.Version) {
		return nil
	}

	visible, resolved, err := access.VisibleTo(ctx, p.grants, p.admins, payload.OwnerExternalID)
	if err != nil {
		return err
	}
	if !resolved {
		p.logger.Warn("owner has no access grant, restricting to administrators",
			slog.String("external_id", key),
			slog.String("owner_external_id", payload.OwnerExternalID))
	}

	rec := view.Opportunity{
		Meta: view.Meta{
			ExternalID: key,
			InternalID: payload.InternalID,
			VisibleTo:  visible,
			Version:    evt.Version,
			UpdatedAt:  projection.Timestamp(evt),
		},
		Name:            payload.Name,
		Stage:           payload.Stage,
		Amount:          payload.Amount,
		CloseDate:       projection.OptionalTime(payload.CloseDate),
		OwnerExternalID: payload.OwnerExternalID,
		Account: view.AccountRef{
			ExternalID: payload.AccountExternalID,
			Name:       payload.AccountName,
		},
	}
	rec.Activate()

	if payload.OwnerExternalID != "" {
		owner, ok, err := view.Lookup[view.UserProfile](ctx, p.people, payload.OwnerExternalID)
		if err != nil {
			return err
		}
		if ok {
			ref := owner.Ref()
			rec.Owner = &ref
		}
	}
	if err := p.store.Put(ctx, rec); err != nil {
		return err
	}
	change := Change{Opportunity: rec}
	if found {
		change.PreviousVisibleTo = prev.VisibleTo
	}
	return p.notify(ctx, rec.UpdatedAt, []Change{change})
}

func (p *Projection) applyDeactivated(ctx context.Context, evt event.Event, key string) error {
	rec, found, err := view.Lookup[view.Opportunity](ctx, p.store, key)
	if err != nil || !found {
		return err
	}
	if rec.Stale(evt.Version) {
		return nil
	}
	rec.Deactivate(projection.Timestamp(evt))
	rec.Version = evt.Version
	rec.UpdatedAt = projection.Timestamp(evt)
	if err := p.store.Put(ctx, rec); err != nil {
		return err
	}
	return p.notify(ctx, rec.UpdatedAt, []Change{{Opportunity: rec, PreviousVisibleTo: rec.VisibleTo}})
}

// GrantsChanged re-derives the visible-to set of every opportunity owned by a
// subject whose grant was recomputed. Records whose set is unchanged are not
// rewritten. The aggregate version is kept: it tracks the opportunity's own
// events only.
func (p *Projection) GrantsChanged(ctx context.Context, at time.Time, grants []view.AccessGrant) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var changes []Change
	for _, grant := range grants {
		owned, err := p.store.List(ctx, view.Query{Attr: view.AttrOwner, Equals: grant.ExternalID})
		if err != nil {
			return err
		}
		visible := access.GrantVisibility(grant, p.admins)
		for _, rec := range owned {
			if slices.Equal(rec.VisibleTo, visible) {
				continue
			}
			change := Change{PreviousVisibleTo: rec.VisibleTo}
			rec.VisibleTo = visible
			rec.UpdatedAt = at.UTC()
			if err := p.store.Put(ctx, rec); err != nil {
				return err
			}
			change.Opportunity = rec
			changes = append(changes, change)
		}
	}
	if len(changes) > 0 {
		p.logger.Debug("visibility re-derived from grants", slog.Int("opportunities", len(changes)))
	}
	return p.notify(ctx, at.UTC(), changes)
}

func (p *Projection) notify(ctx context.Context, at time.Time, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	for _, d := range p.dependents {
		if err := d.OpportunitiesChanged(ctx, at, changes); err != nil {
			return err
		}
	}
	return nil
}
