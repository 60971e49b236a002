package access

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/salesview/internal/view"
)

func grant(ext, superior string, active bool) view.AccessGrant {
	return view.AccessGrant{
		Meta:               view.Meta{ExternalID: ext, InternalID: "u-" + ext, Active: active},
		SuperiorExternalID: superior,
	}
}

func TestAncestorsStopsAtDanglingSuperior(t *testing.T) {
	ctx := context.Background()
	store := view.NewMemoryStore[view.AccessGrant]()
	require.NoError(t, store.Put(ctx, grant("mid", "missing", true)))

	got, err := Ancestors(ctx, store, grant("leaf", "mid", true))
	require.NoError(t, err)
	assert.Equal(t, []string{"u-mid"}, got)
}

// Chains generated from a parent array where parent[i] < i are acyclic, so
// every walk must succeed and return exactly the chain up to the root.
func TestAncestorsOfAcyclicHierarchies(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("closure of a forest is the path to its root", prop.ForAll(
		func(picks []int) bool {
			ctx := context.Background()
			store := view.NewMemoryStore[view.AccessGrant]()
			parent := make([]int, len(picks)+1)
			parent[0] = -1
			for i, pick := range picks {
				node := i + 1
				parent[node] = pick%(node+1) - 1 // -1 means root
				sup := ""
				if parent[node] >= 0 {
					sup = fmt.Sprintf("n%d", parent[node])
				}
				if err := store.Put(ctx, grant(fmt.Sprintf("n%d", node), sup, true)); err != nil {
					return false
				}
			}
			if err := store.Put(ctx, grant("n0", "", true)); err != nil {
				return false
			}

			for node := range parent {
				g, err := store.Get(ctx, fmt.Sprintf("n%d", node))
				if err != nil {
					return false
				}
				got, err := Ancestors(ctx, store, g)
				if err != nil {
					return false
				}
				var want []string
				for p := parent[node]; p >= 0; p = parent[p] {
					want = append(want, fmt.Sprintf("u-n%d", p))
				}
				if len(got) != len(want) {
					return false
				}
				for i := range want {
					if got[i] != want[i] {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOfN(20, gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}

// Closing any chain into a ring must be detected for every member.
func TestAncestorsDetectsRings(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("every member of a ring reports a cycle", prop.ForAll(
		func(size int) bool {
			ctx := context.Background()
			store := view.NewMemoryStore[view.AccessGrant]()
			for i := 0; i < size; i++ {
				sup := fmt.Sprintf("r%d", (i+1)%size)
				if err := store.Put(ctx, grant(fmt.Sprintf("r%d", i), sup, true)); err != nil {
					return false
				}
			}
			for i := 0; i < size; i++ {
				g, _ := store.Get(ctx, fmt.Sprintf("r%d", i))
				_, err := Ancestors(ctx, store, g)
				var cycle *CycleError
				if !assert.ErrorAs(t, err, &cycle) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 30),
	))

	properties.TestingRun(t)
}
