package opportunity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/salesview/internal/event"
	"github.com/PratikDhanave/salesview/internal/projection/access"
	"github.com/PratikDhanave/salesview/internal/projection/identity"
	pt "github.com/PratikDhanave/salesview/internal/projection/projectiontest"
	"github.com/PratikDhanave/salesview/internal/view"
)

const admin = "admin-1"

type fixture struct {
	people *view.MemoryStore[view.UserProfile]
	grants *view.MemoryStore[view.AccessGrant]
	opps   *view.MemoryStore[view.Opportunity]

	identity *identity.Projection
	access   *access.Projection
	opp      *Projection
}

func newFixture() *fixture {
	f := &fixture{
		people: view.NewMemoryStore[view.UserProfile](),
		grants: view.NewMemoryStore[view.AccessGrant](),
		opps:   view.NewMemoryStore[view.Opportunity](),
	}
	f.identity = identity.New(f.people, nil)
	f.access = access.New(f.grants, []string{admin}, nil)
	f.opp = New(f.opps, f.people, f.grants, []string{admin}, nil)
	f.access.AddDependent(f.opp)
	return f
}

func (f *fixture) apply(t *testing.T, events ...event.Event) {
	t.Helper()
	ctx := context.Background()
	for _, evt := range events {
		switch evt.Type {
		case event.TypeUserSynced:
			require.NoError(t, f.identity.Handle(ctx, evt))
			require.NoError(t, f.access.Handle(ctx, evt))
		case event.TypeRecordDeactivated:
			require.NoError(t, f.identity.Handle(ctx, evt))
			require.NoError(t, f.access.Handle(ctx, evt))
			require.NoError(t, f.opp.Handle(ctx, evt))
		default:
			require.NoError(t, f.opp.Handle(ctx, evt))
		}
	}
}

func (f *fixture) get(t *testing.T, ext string) view.Opportunity {
	t.Helper()
	o, err := f.opps.Get(context.Background(), ext)
	require.NoError(t, err)
	return o
}

func TestOpportunityVisibleToOwnerChain(t *testing.T) {
	f := newFixture()
	f.apply(t,
		pt.User(t, "vinsha", "", 1),
		pt.User(t, "zakariya", "vinsha", 1),
		pt.Opportunity(t, "deal-1", "zakariya", "Prospecting", 1000, 1),
	)

	o := f.get(t, "deal-1")
	assert.Equal(t, []string{admin, "u-vinsha", "u-zakariya"}, o.VisibleTo)
	require.NotNil(t, o.Owner)
	assert.Equal(t, "u-zakariya", o.Owner.InternalID)
	assert.Equal(t, view.AccountRef{ExternalID: "acc-1", Name: "Acme"}, o.Account)
	assert.Equal(t, "o-deal-1", o.InternalID)
	assert.True(t, o.Active)
}

func TestUnknownOwnerRestrictsToAdmins(t *testing.T) {
	f := newFixture()
	f.apply(t, pt.Opportunity(t, "deal-1", "ghost", "Prospecting", 1000, 1))

	o := f.get(t, "deal-1")
	assert.Equal(t, []string{admin}, o.VisibleTo)
	assert.Nil(t, o.Owner)

	// The next sync after the owner appears embeds the owner snapshot.
	f.apply(t,
		pt.User(t, "ghost", "", 1),
		pt.Opportunity(t, "deal-1", "ghost", "Prospecting", 1000, 2),
	)
	o = f.get(t, "deal-1")
	assert.Equal(t, []string{admin, "u-ghost"}, o.VisibleTo)
	require.NotNil(t, o.Owner)
}

func TestOwnerSyncedAfterOpportunityWidensVisibility(t *testing.T) {
	f := newFixture()
	f.apply(t,
		pt.User(t, "vinsha", "", 1),
		pt.Opportunity(t, "deal-1", "zakariya", "Prospecting", 1000, 1),
	)
	assert.Equal(t, []string{admin}, f.get(t, "deal-1").VisibleTo)

	f.apply(t, pt.User(t, "zakariya", "vinsha", 1))
	o := f.get(t, "deal-1")
	assert.Equal(t, []string{admin, "u-vinsha", "u-zakariya"}, o.VisibleTo)
	assert.Equal(t, int64(1), o.Version)
}

func TestHierarchyChangeReachesOwnedOpportunities(t *testing.T) {
	f := newFixture()
	f.apply(t,
		pt.User(t, "boss", "", 1),
		pt.User(t, "vinsha", "", 1),
		pt.User(t, "zakariya", "", 1),
		pt.Opportunity(t, "deal-6", "zakariya", "Prospecting", 1000, 1),
		pt.Opportunity(t, "deal-7", "vinsha", "Prospecting", 500, 1),
	)
	assert.Equal(t, []string{admin, "u-zakariya"}, f.get(t, "deal-6").VisibleTo)

	f.apply(t, pt.User(t, "zakariya", "vinsha", 2))
	o := f.get(t, "deal-6")
	assert.Equal(t, []string{admin, "u-vinsha", "u-zakariya"}, o.VisibleTo)
	assert.Equal(t, int64(1), o.Version)
	assert.True(t, o.UpdatedAt.Equal(pt.Epoch.Add(2*time.Second)))

	// A change two levels up reaches every owned record below it.
	f.apply(t, pt.User(t, "vinsha", "boss", 2))
	assert.Equal(t, []string{admin, "u-boss", "u-vinsha", "u-zakariya"}, f.get(t, "deal-6").VisibleTo)
	assert.Equal(t, []string{admin, "u-boss", "u-vinsha"}, f.get(t, "deal-7").VisibleTo)

	// Deactivating a manager removes it from the chain below.
	f.apply(t, pt.Deactivated(t, event.AggregateUser, "vinsha", 3))
	assert.Equal(t, []string{admin, "u-boss", "u-zakariya"}, f.get(t, "deal-6").VisibleTo)

	docs, err := f.opps.List(context.Background(), view.Query{VisibleTo: "u-vinsha"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "deal-7", docs[0].ExternalID)
}

type recordingDependent struct {
	at      []time.Time
	changes []Change
}

func (r *recordingDependent) OpportunitiesChanged(_ context.Context, at time.Time, changes []Change) error {
	r.at = append(r.at, at)
	r.changes = append(r.changes, changes...)
	return nil
}

func TestDependentsSeeEveryWrite(t *testing.T) {
	f := newFixture()
	dep := &recordingDependent{}
	f.opp.AddDependent(dep)

	f.apply(t,
		pt.User(t, "alice", "", 1),
		pt.User(t, "bob", "", 1),
		pt.Opportunity(t, "deal-1", "alice", "Prospecting", 1000, 1),
	)
	require.Len(t, dep.changes, 1)
	assert.Nil(t, dep.changes[0].PreviousVisibleTo)
	assert.Equal(t, []string{admin, "u-alice"}, dep.changes[0].Opportunity.VisibleTo)

	f.apply(t, pt.User(t, "alice", "bob", 2))
	require.Len(t, dep.changes, 2)
	assert.Equal(t, []string{admin, "u-alice"}, dep.changes[1].PreviousVisibleTo)
	assert.Equal(t, []string{admin, "u-alice", "u-bob"}, dep.changes[1].Opportunity.VisibleTo)
	assert.True(t, dep.at[1].Equal(pt.Epoch.Add(2*time.Second)))

	// Re-applying the same user event changes nothing and notifies nobody.
	f.apply(t, pt.User(t, "alice", "bob", 2))
	assert.Len(t, dep.changes, 2)
}

func TestOwnerChangeMovesVisibility(t *testing.T) {
	f := newFixture()
	f.apply(t,
		pt.User(t, "alice", "", 1),
		pt.User(t, "bob", "", 1),
		pt.Opportunity(t, "deal-1", "alice", "Prospecting", 1000, 1),
		pt.Opportunity(t, "deal-1", "bob", "Negotiation", 1500, 2),
	)
	o := f.get(t, "deal-1")
	assert.Equal(t, []string{admin, "u-bob"}, o.VisibleTo)
	assert.Equal(t, "Negotiation", o.Stage)
	assert.InDelta(t, 1500, o.Amount, 0.001)
}

func TestStaleOpportunityEventIgnored(t *testing.T) {
	f := newFixture()
	f.apply(t,
		pt.User(t, "alice", "", 1),
		pt.Opportunity(t, "deal-1", "alice", "Closed Won", 1000, 2),
		pt.Opportunity(t, "deal-1", "alice", "Prospecting", 1000, 1),
	)
	assert.Equal(t, "Closed Won", f.get(t, "deal-1").Stage)
}

func TestOpportunityDeactivation(t *testing.T) {
	f := newFixture()
	f.apply(t,
		pt.User(t, "alice", "", 1),
		pt.Opportunity(t, "deal-1", "alice", "Prospecting", 1000, 1),
		pt.Deactivated(t, event.AggregateOpportunity, "deal-1", 2),
	)
	o := f.get(t, "deal-1")
	assert.False(t, o.Active)
	assert.NotNil(t, o.DeletedAt)
	assert.Equal(t, []string{admin, "u-alice"}, o.VisibleTo)

	f.apply(t, pt.Opportunity(t, "deal-1", "alice", "Prospecting", 1000, 3))
	assert.True(t, f.get(t, "deal-1").Active)
}
