// Package identity projects user sync events into profile records that embed
// their direct superior and direct subordinates.
//
// Subordinate lists are never edited incrementally: every time a profile
// changes, the lists of the profile itself and of its old and new superior
// are recomputed from the superior references stored in the view.
package identity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/PratikDhanave/salesview/internal/event"
	"github.com/PratikDhanave/salesview/internal/projection"
	"github.com/PratikDhanave/salesview/internal/view"
)

// Name is the projection name recorded in delivered-to sets.
const Name = "identity"

// Projection maintains the user profile view.
type Projection struct {
	store  view.Store[view.UserProfile]
	logger *slog.Logger
}

// New creates the identity projection. A nil logger defaults to slog.Default().
func New(store view.Store[view.UserProfile], logger *slog.Logger) *Projection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projection{store: store, logger: logger.With(slog.String("projection", Name))}
}

func (p *Projection) Name() string { return Name }

func (p *Projection) SubscribesTo() []event.Type {
	return []event.Type{event.TypeUserSynced, event.TypeRecordDeactivated}
}

func (p *Projection) Reset(ctx context.Context) error { return p.store.Reset(ctx) }

func (p *Projection) Handle(ctx context.Context, evt event.Event) error {
	switch evt.Type {
	case event.TypeUserSynced:
		var payload event.UserSynced
		if err := evt.Decode(&payload); err != nil {
			return err
		}
		return p.applySynced(ctx, evt, payload)
	case event.TypeRecordDeactivated:
		var payload event.RecordDeactivated
		if err := evt.Decode(&payload); err != nil {
			return err
		}
		if payload.EntityType != event.AggregateUser {
			return nil
		}
		return p.applyDeactivated(ctx, evt, payload.ExternalID)
	default:
		return nil
	}
}

func (p *Projection) applySynced(ctx context.Context, evt event.Event, payload event.UserSynced) error {
	key := evt.AggregateID
	prev, found, err := view.Lookup[view.UserProfile](ctx, p.store, key)
	if err != nil {
		return err
	}
	if found && prev.Stale(evt.Version) {
		return nil
	}

	rec := view.UserProfile{
		Meta: view.Meta{
			ExternalID: key,
			InternalID: payload.InternalID,
			VisibleTo:  view.SubjectSet(payload.InternalID),
			Version:    evt.Version,
			UpdatedAt:  projection.Timestamp(evt),
		},
		Name:               payload.Name,
		Email:              payload.Email,
		Title:              payload.Title,
		SuperiorExternalID: payload.SuperiorExternalID,
	}
	rec.Activate()

	if rec.SuperiorExternalID != "" {
		sup, ok, err := view.Lookup[view.UserProfile](ctx, p.store, rec.SuperiorExternalID)
		if err != nil {
			return err
		}
		if ok {
			ref := sup.Ref()
			rec.Superior = &ref
		} else {
			p.logger.Debug("superior not yet synced",
				slog.String("external_id", key),
				slog.String("superior_external_id", rec.SuperiorExternalID))
		}
	}

	subs, err := p.subordinatesOf(ctx, key)
	if err != nil {
		return err
	}
	rec.Subordinates = subs

	if err := p.store.Put(ctx, rec); err != nil {
		return err
	}

	if rec.SuperiorExternalID != "" && rec.SuperiorExternalID != key {
		if err := p.refreshSubordinates(ctx, rec.SuperiorExternalID); err != nil {
			return err
		}
	}
	if found && prev.SuperiorExternalID != "" && prev.SuperiorExternalID != rec.SuperiorExternalID {
		if err := p.refreshSubordinates(ctx, prev.SuperiorExternalID); err != nil {
			return err
		}
	}
	return p.refreshSuperiorSnapshots(ctx, rec)
}

func (p *Projection) applyDeactivated(ctx context.Context, evt event.Event, key string) error {
	rec, found, err := view.Lookup[view.UserProfile](ctx, p.store, key)
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

// subordinatesOf lists every profile whose superior reference is key.
func (p *Projection) subordinatesOf(ctx context.Context, key string) ([]view.PersonRef, error) {
	docs, err := p.store.List(ctx, view.Query{Attr: view.AttrSuperior, Equals: key})
	if err != nil {
		return nil, fmt.Errorf("list subordinates of %s: %w", key, err)
	}
	refs := make([]view.PersonRef, 0, len(docs))
	for _, doc := range docs {
		if doc.ExternalID == key {
			continue
		}
		refs = append(refs, doc.Ref())
	}
	return refs, nil
}

// refreshSubordinates recomputes the subordinate list of an existing profile.
// A superior that has not been synced yet is left alone; its list is built
// when its own event arrives.
func (p *Projection) refreshSubordinates(ctx context.Context, key string) error {
	rec, found, err := view.Lookup[view.UserProfile](ctx, p.store, key)
	if err != nil || !found {
		return err
	}
	subs, err := p.subordinatesOf(ctx, key)
	if err != nil {
		return err
	}
	rec.Subordinates = subs
	return p.store.Put(ctx, rec)
}

// refreshSuperiorSnapshots resolves the embedded superior of every direct
// subordinate of rec, which links subordinates synced before their superior.
func (p *Projection) refreshSuperiorSnapshots(ctx context.Context, rec view.UserProfile) error {
	ref := rec.Ref()
	for _, sub := range rec.Subordinates {
		doc, found, err := view.Lookup[view.UserProfile](ctx, p.store, sub.ExternalID)
		if err != nil {
			return err
		}
		if !found || (doc.Superior != nil && *doc.Superior == ref) {
			continue
		}
		doc.Superior = &ref
		if err := p.store.Put(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}
