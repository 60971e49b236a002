// Package access computes, for every subject, the visible-to set of the
// records that subject owns: the subject itself, every ancestor in its
// superior chain at any depth, and the global-access administrators.
//
// The projection keeps its own copy of the superior links in its grants so a
// closure walk never depends on another projection's progress. Views whose
// visibility derives from a grant register as a Dependent and are handed every
// grant the projection rewrites, in the same delivery.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/PratikDhanave/salesview/internal/event"
	"github.com/PratikDhanave/salesview/internal/projection"
	"github.com/PratikDhanave/salesview/internal/view"
)

// Name is the projection name recorded in delivered-to sets.
const Name = "access"

// Dependent is a view whose visible-to sets are derived from grants.
type Dependent interface {
	// GrantsChanged receives the grants recomputed while applying one event,
	// stamped with that event's timestamp.
	GrantsChanged(ctx context.Context, at time.Time, grants []view.AccessGrant) error
}

// Projection maintains the access grant view.
type Projection struct {
	grants     view.Store[view.AccessGrant]
	admins     []string
	dependents []Dependent
	logger     *slog.Logger
}

// New creates the access projection. admins are internal ids granted
// visibility of every record.
func New(grants view.Store[view.AccessGrant], admins []string, logger *slog.Logger) *Projection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projection{
		grants: grants,
		admins: view.SubjectSet(admins...),
		logger: logger.With(slog.String("projection", Name)),
	}
}

func (p *Projection) Name() string { return Name }

func (p *Projection) SubscribesTo() []event.Type {
	return []event.Type{event.TypeUserSynced, event.TypeRecordDeactivated}
}

func (p *Projection) Reset(ctx context.Context) error { return p.grants.Reset(ctx) }

// AddDependent registers d to follow grant changes. Call it before the
// projection receives events.
func (p *Projection) AddDependent(d Dependent) {
	p.dependents = append(p.dependents, d)
}

// Admins returns the global-access subjects.
func (p *Projection) Admins() []string { return slices.Clone(p.admins) }

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
	grant, found, err := view.Lookup[view.AccessGrant](ctx, p.grants, key)
	if err != nil {
		return err
	}
	if found && grant.Stale(evt.Version) {
		return nil
	}

	grant.ExternalID = key
	grant.InternalID = payload.InternalID
	grant.SuperiorExternalID = payload.SuperiorExternalID
	grant.Version = evt.Version
	grant.UpdatedAt = projection.Timestamp(evt)
	grant.Activate()
	if !found {
		grant.VisibleTo = view.SubjectSet(append([]string{grant.InternalID}, p.admins...)...)
		grant.Ancestors = []string{}
	}
	if err := p.grants.Put(ctx, grant); err != nil {
		return err
	}
	return p.recomputeSubtree(ctx, key, projection.Timestamp(evt))
}

func (p *Projection) applyDeactivated(ctx context.Context, evt event.Event, key string) error {
	grant, found, err := view.Lookup[view.AccessGrant](ctx, p.grants, key)
	if err != nil || !found {
		return err
	}
	if grant.Stale(evt.Version) {
		return nil
	}
	grant.Deactivate(projection.Timestamp(evt))
	grant.Version = evt.Version
	grant.UpdatedAt = projection.Timestamp(evt)
	if err := p.grants.Put(ctx, grant); err != nil {
		return err
	}
	// Descendants must stop granting the deactivated subject.
	return p.recomputeSubtree(ctx, key, projection.Timestamp(evt))
}

// recomputeSubtree recomputes the closure of root and of every descendant of
// root, then hands the resulting grants to the dependents. A cycle halts only
// the affected subjects; the rest are still recomputed and the cycle errors
// are returned joined.
func (p *Projection) recomputeSubtree(ctx context.Context, root string, at time.Time) error {
	var errs []error
	visited := map[string]bool{}
	var order []string
	queue := []string{root}
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		if visited[key] {
			continue
		}
		visited[key] = true
		order = append(order, key)

		if err := p.recompute(ctx, key); err != nil {
			if !errors.Is(err, ErrHierarchyCycle) {
				return err
			}
			errs = append(errs, err)
		}

		children, err := p.grants.List(ctx, view.Query{Attr: view.AttrSuperior, Equals: key})
		if err != nil {
			return fmt.Errorf("list subordinates of %s: %w", key, err)
		}
		for _, child := range children {
			if !visited[child.ExternalID] {
				queue = append(queue, child.ExternalID)
			}
		}
	}
	if err := p.notify(ctx, at, order); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (p *Projection) notify(ctx context.Context, at time.Time, keys []string) error {
	if len(p.dependents) == 0 {
		return nil
	}
	grants := make([]view.AccessGrant, 0, len(keys))
	for _, key := range keys {
		grant, found, err := view.Lookup[view.AccessGrant](ctx, p.grants, key)
		if err != nil {
			return err
		}
		if found {
			grants = append(grants, grant)
		}
	}
	for _, d := range p.dependents {
		if err := d.GrantsChanged(ctx, at, grants); err != nil {
			return fmt.Errorf("propagate grants: %w", err)
		}
	}
	return nil
}

// recompute refreshes one grant. On a cycle the previous visible-to set is
// kept and the error is recorded on the grant.
func (p *Projection) recompute(ctx context.Context, key string) error {
	grant, found, err := view.Lookup[view.AccessGrant](ctx, p.grants, key)
	if err != nil || !found {
		return err
	}

	ancestors, err := Ancestors(ctx, p.grants, grant)
	if err != nil {
		var cycle *CycleError
		if !errors.As(err, &cycle) {
			return err
		}
		p.logger.Error("visibility recomputation halted",
			slog.String("external_id", key),
			slog.Any("path", cycle.Path),
			slog.Any("error", err))
		if grant.CycleError == err.Error() {
			return err
		}
		grant.CycleError = err.Error()
		if putErr := p.grants.Put(ctx, grant); putErr != nil {
			return putErr
		}
		return err
	}

	visible := make([]string, 0, 1+len(ancestors)+len(p.admins))
	visible = append(visible, grant.InternalID)
	visible = append(visible, ancestors...)
	visible = append(visible, p.admins...)

	grant.Ancestors = ancestors
	grant.VisibleTo = view.SubjectSet(visible...)
	grant.CycleError = ""
	return p.grants.Put(ctx, grant)
}

// VisibleTo returns the visible-to set for records owned by the subject with
// the given external id. An unknown owner yields only the administrators, so
// unresolved ownership never widens visibility.
func VisibleTo(ctx context.Context, grants view.Reader[view.AccessGrant], admins []string, owner string) ([]string, bool, error) {
	if owner == "" {
		return view.SubjectSet(admins...), false, nil
	}
	grant, found, err := view.Lookup[view.AccessGrant](ctx, grants, owner)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return view.SubjectSet(admins...), false, nil
	}
	return GrantVisibility(grant, admins), true, nil
}

// GrantVisibility is the visible-to set of records owned by the grant's subject.
func GrantVisibility(grant view.AccessGrant, admins []string) []string {
	set := append([]string{grant.InternalID}, grant.VisibleTo...)
	return view.SubjectSet(append(set, admins...)...)
}
