package codesystem

import (
	"context"
)

type CodeSystemRepository interface {
	Upsert(ctx context.Context, cs *CodeSystem) error
	GetByFHIRID(ctx context.Context, fhirID string) (*CodeSystem, error)
	FindByURL(ctx context.Context, url string) ([]*CodeSystem, error)
	FindSupplements(ctx context.Context, systemURL string) ([]*CodeSystem, error)
	Delete(ctx context.Context, fhirID string) error
	List(ctx context.Context, limit, offset int) ([]*CodeSystem, int, error)
}
