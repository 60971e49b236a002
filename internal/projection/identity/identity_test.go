package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/salesview/internal/event"
	pt "github.com/PratikDhanave/salesview/internal/projection/projectiontest"
	"github.com/PratikDhanave/salesview/internal/view"
)

func setup(t *testing.T, events ...event.Event) *view.MemoryStore[view.UserProfile] {
	t.Helper()
	store := view.NewMemoryStore[view.UserProfile]()
	p := New(store, nil)
	for _, evt := range events {
		require.NoError(t, p.Handle(context.Background(), evt))
	}
	return store
}

func profile(t *testing.T, store view.Reader[view.UserProfile], ext string) view.UserProfile {
	t.Helper()
	u, err := store.Get(context.Background(), ext)
	require.NoError(t, err)
	return u
}

func subordinateIDs(u view.UserProfile) []string {
	out := []string{}
	for _, s := range u.Subordinates {
		out = append(out, s.ExternalID)
	}
	return out
}

func TestProfileEmbedsSuperiorAndSubordinates(t *testing.T) {
	store := setup(t,
		pt.User(t, "vinsha", "", 1),
		pt.User(t, "zakariya", "vinsha", 1),
		pt.User(t, "amal", "vinsha", 1),
	)

	z := profile(t, store, "zakariya")
	require.NotNil(t, z.Superior)
	assert.Equal(t, "u-vinsha", z.Superior.InternalID)
	assert.Equal(t, "vinsha@example.com", z.Superior.Email)
	assert.Equal(t, []string{"u-zakariya"}, z.VisibleTo)
	assert.True(t, z.Active)
	assert.True(t, pt.Epoch.Add(time.Second).Equal(z.UpdatedAt))

	v := profile(t, store, "vinsha")
	assert.Nil(t, v.Superior)
	assert.Equal(t, []string{"amal", "zakariya"}, subordinateIDs(v))
}

func TestDanglingSuperiorResolvedLater(t *testing.T) {
	store := setup(t,
		pt.User(t, "rep", "manager", 1),
	)
	rep := profile(t, store, "rep")
	assert.Equal(t, "manager", rep.SuperiorExternalID)
	assert.Nil(t, rep.Superior)

	p := New(store, nil)
	require.NoError(t, p.Handle(context.Background(), pt.User(t, "manager", "", 1)))

	rep = profile(t, store, "rep")
	require.NotNil(t, rep.Superior)
	assert.Equal(t, "manager", rep.Superior.ExternalID)
	assert.Equal(t, []string{"rep"}, subordinateIDs(profile(t, store, "manager")))
}

func TestSuperiorChangeUpdatesBothSides(t *testing.T) {
	store := setup(t,
		pt.User(t, "east", "", 1),
		pt.User(t, "west", "", 1),
		pt.User(t, "rep", "east", 1),
		pt.User(t, "rep", "west", 2),
	)

	assert.Empty(t, subordinateIDs(profile(t, store, "east")))
	assert.Equal(t, []string{"rep"}, subordinateIDs(profile(t, store, "west")))
	assert.Equal(t, "west", profile(t, store, "rep").Superior.ExternalID)
}

// Every subordinate lists its superior and every superior lists its subordinate.
func TestHierarchyLinksAreSymmetric(t *testing.T) {
	store := setup(t,
		pt.User(t, "c", "b", 1),
		pt.User(t, "d", "b", 1),
		pt.User(t, "b", "a", 1),
		pt.User(t, "a", "", 1),
		pt.User(t, "e", "a", 1),
	)
	all, err := store.List(context.Background(), view.Query{})
	require.NoError(t, err)

	for _, u := range all {
		if u.SuperiorExternalID != "" {
			require.NotNil(t, u.Superior, u.ExternalID)
			assert.Contains(t, subordinateIDs(profile(t, store, u.SuperiorExternalID)), u.ExternalID)
		}
		for _, sub := range u.Subordinates {
			assert.Equal(t, u.ExternalID, profile(t, store, sub.ExternalID).SuperiorExternalID)
		}
	}
}

func TestRenamedSuperiorRefreshesSnapshots(t *testing.T) {
	store := setup(t,
		pt.User(t, "boss", "", 1),
		pt.User(t, "rep", "boss", 1),
	)
	p := New(store, nil)
	renamed := pt.User(t, "boss", "", 2)
	renamed.Payload = []byte(`{"external_id":"boss","internal_id":"u-boss","name":"The Boss"}`)
	require.NoError(t, p.Handle(context.Background(), renamed))

	assert.Equal(t, "The Boss", profile(t, store, "rep").Superior.Name)
	assert.Equal(t, []string{"rep"}, subordinateIDs(profile(t, store, "boss")))
}

func TestDeactivationAndReactivation(t *testing.T) {
	store := setup(t,
		pt.User(t, "rep", "", 1),
		pt.Deactivated(t, event.AggregateUser, "rep", 2),
	)
	rep := profile(t, store, "rep")
	assert.False(t, rep.Active)
	require.NotNil(t, rep.DeletedAt)
	assert.True(t, pt.Epoch.Add(2*time.Second).Equal(*rep.DeletedAt))

	p := New(store, nil)
	require.NoError(t, p.Handle(context.Background(), pt.User(t, "rep", "", 3)))
	rep = profile(t, store, "rep")
	assert.True(t, rep.Active)
	assert.Nil(t, rep.DeletedAt)
}

func TestIdempotentAndStaleSafe(t *testing.T) {
	v1 := pt.User(t, "rep", "", 1)
	v2 := pt.User(t, "rep", "boss", 2)
	once := setup(t, pt.User(t, "boss", "", 1), v1, v2)
	twice := setup(t, pt.User(t, "boss", "", 1), v1, v2, v2, v1)

	assert.Equal(t, profile(t, once, "rep"), profile(t, twice, "rep"))
	assert.Equal(t, profile(t, once, "boss"), profile(t, twice, "boss"))
}

func TestDeactivationOfUnknownUserIsNoop(t *testing.T) {
	store := setup(t, pt.Deactivated(t, event.AggregateUser, "ghost", 1))
	_, err := store.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, view.ErrNotFound)
}
