package catalog

import (
	"context"
	"fmt"
)

// Resolver fetches clip metadata from wherever the catalog lives.
type Resolver interface {
	// ResolveAll returns the full browsable catalog.
	ResolveAll(ctx context.Context) ([]Clip, error)

	// ResolveByIDs returns the clips known for ids. Unknown ids are omitted.
	ResolveByIDs(ctx context.Context, ids []string) (map[string]Clip, error)
}

// ResolutionError wraps a failed catalog fetch. It never leaves cached or
// session state modified and the caller may retry.
type ResolutionError struct {
	Op  string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("catalog %s: %v", e.Op, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Retryable is always true; resolution failures are transient by contract.
func (e *ResolutionError) Retryable() bool { return true }
