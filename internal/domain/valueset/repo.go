package valueset

import (
	"context"
)

type ValueSetRepository interface {
	Upsert(ctx context.Context, vs *ValueSet) error
	GetByFHIRID(ctx context.Context, fhirID string) (*ValueSet, error)
	FindByURL(ctx context.Context, url string) ([]*ValueSet, error)
	Delete(ctx context.Context, fhirID string) error
	List(ctx context.Context, limit, offset int) ([]*ValueSet, int, error)
}
