// Package metrics maintains per-subject pipeline aggregates computed from the
// active opportunity views visible to each subject.
//
// Aggregates are recomputed when an opportunity event touches a subject, when
// the opportunity projection re-derives a record's visible-to set, and on read
// once the cached value is older than the freshness window. Reads may
// therefore be stale by up to that window.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PratikDhanave/salesview/internal/event"
	"github.com/PratikDhanave/salesview/internal/projection/opportunity"
	"github.com/PratikDhanave/salesview/internal/view"
)

// Name is the projection name recorded in delivered-to sets.
const Name = "metrics"

// DefaultFreshness is used when no freshness window is configured.
const DefaultFreshness = 5 * time.Minute

// SubjectMetrics is the aggregate view for one subject.
type SubjectMetrics struct {
	SubjectID string `json:"subject_id"`
	// PipelineValue sums the amounts of open opportunities.
	PipelineValue float64 `json:"pipeline_value"`
	WonValue      float64 `json:"won_value"`
	OpenCount     int     `json:"open_count"`
	TotalCount    int     `json:"total_count"`
	// CountByStage counts active opportunities per stage name.
	CountByStage map[string]int `json:"count_by_stage"`
	ComputedAt   time.Time      `json:"computed_at"`
}

// Cache stores computed aggregates keyed by subject.
type Cache interface {
	Get(ctx context.Context, subject string) (SubjectMetrics, bool, error)
	Set(ctx context.Context, m SubjectMetrics) error
	Reset(ctx context.Context) error
}

// Projection maintains the metrics cache.
type Projection struct {
	opportunities view.Reader[view.Opportunity]
	cache         Cache
	freshness     time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// Option configures a Projection.
type Option func(*Projection)

// WithFreshness sets how old a cached aggregate may be before a read recomputes it.
func WithFreshness(d time.Duration) Option {
	return func(p *Projection) {
		if d > 0 {
			p.freshness = d
		}
	}
}

// WithClock overrides the clock used to stamp and age aggregates.
func WithClock(now func() time.Time) Option {
	return func(p *Projection) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Projection) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates the metrics projection over the opportunity view.
func New(opportunities view.Reader[view.Opportunity], cache Cache, opts ...Option) *Projection {
	p := &Projection{
		opportunities: opportunities,
		cache:         cache,
		freshness:     DefaultFreshness,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("projection", Name))
	return p
}

func (p *Projection) Name() string { return Name }

func (p *Projection) SubscribesTo() []event.Type {
	return []event.Type{event.TypeOpportunitySynced, event.TypeRecordDeactivated}
}

func (p *Projection) Reset(ctx context.Context) error { return p.cache.Reset(ctx) }

func (p *Projection) Handle(ctx context.Context, evt event.Event) error {
	switch evt.Type {
	case event.TypeOpportunitySynced:
		return p.refreshFor(ctx, evt.AggregateID)
	case event.TypeRecordDeactivated:
		var payload event.RecordDeactivated
		if err := evt.Decode(&payload); err != nil {
			return err
		}
		if payload.EntityType != event.AggregateOpportunity {
			return nil
		}
		return p.refreshFor(ctx, payload.ExternalID)
	default:
		return nil
	}
}

// refreshFor recomputes the aggregates of every subject that can see the
// opportunity. If the opportunity view has not caught up yet the read path
// picks the change up once the cached value ages out.
func (p *Projection) refreshFor(ctx context.Context, externalID string) error {
	opp, found, err := view.Lookup[view.Opportunity](ctx, p.opportunities, externalID)
	if err != nil || !found {
		return err
	}
	for _, subject := range opp.VisibleTo {
		if _, err := p.recompute(ctx, subject); err != nil {
			return err
		}
	}
	return nil
}

// OpportunitiesChanged recomputes every subject that could see a changed
// opportunity before or after the change.
func (p *Projection) OpportunitiesChanged(ctx context.Context, _ time.Time, changes []opportunity.Change) error {
	var subjects []string
	for _, c := range changes {
		subjects = append(subjects, c.PreviousVisibleTo...)
		subjects = append(subjects, c.Opportunity.VisibleTo...)
	}
	for _, subject := range view.SubjectSet(subjects...) {
		if _, err := p.recompute(ctx, subject); err != nil {
			return err
		}
	}
	return nil
}

// For returns the aggregates for a subject, recomputing them when the cached
// value is missing or older than the freshness window.
func (p *Projection) For(ctx context.Context, subject string) (SubjectMetrics, error) {
	cached, ok, err := p.cache.Get(ctx, subject)
	if err != nil {
		p.logger.Warn("metrics cache read failed, recomputing",
			slog.String("subject_id", subject),
			slog.Any("error", err))
	}
	if ok && p.now().Sub(cached.ComputedAt) <= p.freshness {
		return cached, nil
	}
	return p.recompute(ctx, subject)
}

func (p *Projection) recompute(ctx context.Context, subject string) (SubjectMetrics, error) {
	m, err := Compute(ctx, p.opportunities, subject, p.now())
	if err != nil {
		return SubjectMetrics{}, err
	}
	if err := p.cache.Set(ctx, m); err != nil {
		return m, fmt.Errorf("cache metrics for %s: %w", subject, err)
	}
	return m, nil
}

// Compute aggregates the active opportunities visible to subject.
func Compute(ctx context.Context, opportunities view.Reader[view.Opportunity], subject string, at time.Time) (SubjectMetrics, error) {
	opps, err := opportunities.List(ctx, view.Query{VisibleTo: subject, ActiveOnly: true})
	if err != nil {
		return SubjectMetrics{}, fmt.Errorf("list opportunities visible to %s: %w", subject, err)
	}

	m := SubjectMetrics{
		SubjectID:    subject,
		CountByStage: make(map[string]int),
		ComputedAt:   at.UTC(),
	}
	for _, opp := range opps {
		m.TotalCount++
		m.CountByStage[opp.Stage]++
		switch {
		case isWon(opp.Stage):
			m.WonValue += opp.Amount
		case isClosed(opp.Stage):
		default:
			m.OpenCount++
			m.PipelineValue += opp.Amount
		}
	}
	return m, nil
}

func isWon(stage string) bool {
	return strings.EqualFold(strings.TrimSpace(stage), "closed won")
}

func isClosed(stage string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(stage)), "closed")
}
