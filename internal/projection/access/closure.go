package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PratikDhanave/salesview/internal/view"
)

// ErrHierarchyCycle indicates the superior chain of a subject loops back on itself.
var ErrHierarchyCycle = errors.New("hierarchy cycle detected")

// maxChainDepth bounds a closure walk even if the visited guard were bypassed
// by inconsistent reads.
const maxChainDepth = 10_000

// CycleError carries the external ids walked until the repeat, ending with
// the repeated id.
type CycleError struct {
	Subject string
	Path    []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s for %s: %s", ErrHierarchyCycle, e.Subject, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrHierarchyCycle }

// Ancestors walks the superior chain of start iteratively and returns the
// internal ids of every active ancestor, nearest first. Inactive ancestors are
// walked through but not granted. The walk stops at the first superior that
// has no grant yet (a dangling reference) and fails with a CycleError if the
// chain revisits a subject.
func Ancestors(ctx context.Context, grants view.Reader[view.AccessGrant], start view.AccessGrant) ([]string, error) {
	visited := map[string]bool{start.ExternalID: true}
	path := []string{start.ExternalID}
	ancestors := make([]string, 0)

	next := start.SuperiorExternalID
	for depth := 0; next != ""; depth++ {
		if depth >= maxChainDepth {
			return nil, &CycleError{Subject: start.ExternalID, Path: path}
		}
		if visited[next] {
			return nil, &CycleError{Subject: start.ExternalID, Path: append(path, next)}
		}
		visited[next] = true
		path = append(path, next)

		sup, found, err := view.Lookup[view.AccessGrant](ctx, grants, next)
		if err != nil {
			return nil, err
		}
		if !found {
			break
		}
		if sup.Active && sup.InternalID != "" {
			ancestors = append(ancestors, sup.InternalID)
		}
		next = sup.SuperiorExternalID
	}
	return ancestors, nil
}
