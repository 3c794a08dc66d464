// Package identity resolves token subjects to account snapshots.
package identity

import (
	"context"

	"github.com/orchestra-mcp/realtime/src/types"
)

// Resolver confirms that a subject still denotes an existing, enabled account.
// Implementations may block on external storage; they must be safe for
// concurrent use.
type Resolver interface {
	Resolve(ctx context.Context, subjectID string) (types.Account, bool, error)
}

// Record is an account as persisted by a store.
type Record struct {
	ID          string `json:"id" validate:"required"`
	DisplayName string `json:"display_name" validate:"required"`
	Active      bool   `json:"active"`
}

// Snapshot returns the part of the record a connection keeps.
func (r Record) Snapshot() types.Account {
	return types.Account{ID: r.ID, DisplayName: r.DisplayName}
}

// StaticResolver resolves from a fixed set of records.
type StaticResolver struct {
	records map[string]Record
}

// NewStaticResolver creates a resolver over records, keyed by ID.
func NewStaticResolver(records ...Record) *StaticResolver {
	m := make(map[string]Record, len(records))
	for _, r := range records {
		m[r.ID] = r
	}
	return &StaticResolver{records: m}
}

// Resolve implements Resolver.
func (s *StaticResolver) Resolve(ctx context.Context, subjectID string) (types.Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return types.Account{}, false, err
	}
	r, ok := s.records[subjectID]
	if !ok || !r.Active {
		return types.Account{}, false, nil
	}
	return r.Snapshot(), true, nil
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, subjectID string) (types.Account, bool, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, subjectID string) (types.Account, bool, error) {
	return f(ctx, subjectID)
}
