package terminology

import "context"

// ResourceStore is the read-only source of code systems and value sets.
//
// Implementations return every stored version for a canonical URL; version
// selection happens in the Finder. A missing resource is an empty result, not
// an error, except for GetValueSet/GetCodeSystem which return ErrNotFound.
// Results must be treated as immutable snapshots.
type ResourceStore interface {
	FindCodeSystems(ctx context.Context, url string) ([]*CodeSystem, error)
	FindValueSets(ctx context.Context, url string) ([]*ValueSet, error)
	GetCodeSystem(ctx context.Context, id string) (*CodeSystem, error)
	GetValueSet(ctx context.Context, id string) (*ValueSet, error)
	FindSupplements(ctx context.Context, systemURL string) ([]*CodeSystem, error)
}
