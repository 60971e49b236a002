// Package view holds the materialized, query-optimized records produced by
// projections and the document-store contract they are persisted through.
//
// Every record is keyed by its upstream external id, embeds related entities
// inline, and carries the set of internal subject ids allowed to read it.
// Records are never removed: vanished records are marked inactive.
package view

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("record not found")

// Document is what a Store persists.
type Document interface {
	// Key is the external id the record is upserted by.
	Key() string
	// Viewers is the visible-to set.
	Viewers() []string
	IsActive() bool
	// Attrs exposes the reference fields stores can filter on.
	Attrs() map[string]string
}

// Query filters a List call. Zero values match everything.
type Query struct {
	// VisibleTo keeps records whose visible-to set contains this subject.
	VisibleTo string
	// ActiveOnly drops records marked inactive.
	ActiveOnly bool
	// Attr and Equals keep records whose Attrs()[Attr] == Equals.
	Attr   string
	Equals string
}

func (q Query) matches(doc Document) bool {
	if q.ActiveOnly && !doc.IsActive() {
		return false
	}
	if q.VisibleTo != "" && !slices.Contains(doc.Viewers(), q.VisibleTo) {
		return false
	}
	if q.Attr != "" && doc.Attrs()[q.Attr] != q.Equals {
		return false
	}
	return true
}

// Reader is the read-only side of a Store, handed to projections that read
// another projection's view and to query layers.
type Reader[T Document] interface {
	Get(ctx context.Context, key string) (T, error)
	List(ctx context.Context, q Query) ([]T, error)
}

// Store is an upsert-by-key document collection owned by one projection.
// Each Put replaces one record atomically.
type Store[T Document] interface {
	Reader[T]
	Put(ctx context.Context, doc T) error
	// Reset drops every record; used before a full rebuild.
	Reset(ctx context.Context) error
}

// Lookup is Get with not-found folded into the boolean.
func Lookup[T Document](ctx context.Context, r Reader[T], key string) (T, bool, error) {
	doc, err := r.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return doc, false, nil
	}
	if err != nil {
		return doc, false, err
	}
	return doc, true, nil
}

// ActiveKeys returns the external ids of every active record in r.
func ActiveKeys[T Document](ctx context.Context, r Reader[T]) ([]string, error) {
	docs, err := r.List(ctx, Query{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(docs))
	for _, doc := range docs {
		keys = append(keys, doc.Key())
	}
	return keys, nil
}

// Meta is embedded by every materialized record.
type Meta struct {
	ExternalID string     `json:"external_id"`
	InternalID string     `json:"internal_id"`
	VisibleTo  []string   `json:"visible_to"`
	Active     bool       `json:"active"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	// Version is the aggregate version of the last applied event.
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (m Meta) Key() string       { return m.ExternalID }
func (m Meta) Viewers() []string { return m.VisibleTo }
func (m Meta) IsActive() bool    { return m.Active }

// Stale reports whether an event of the given aggregate version is older than
// what this record already reflects.
func (m Meta) Stale(version int64) bool {
	return version < m.Version
}

// Activate clears any deletion mark.
func (m *Meta) Activate() {
	m.Active = true
	m.DeletedAt = nil
}

// Deactivate marks the record as vanished upstream at the given time.
func (m *Meta) Deactivate(at time.Time) {
	at = at.UTC()
	m.Active = false
	m.DeletedAt = &at
}

// SubjectSet builds a sorted, de-duplicated visible-to set, dropping empty ids.
func SubjectSet(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
