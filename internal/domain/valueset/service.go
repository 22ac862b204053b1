package valueset

import (
	"context"
	"fmt"
)

type Service struct {
	repo ValueSetRepository
}

func NewService(repo ValueSetRepository) *Service {
	return &Service{repo: repo}
}

var validValueSetStatuses = map[string]bool{
	"draft": true, "active": true, "retired": true, "unknown": true,
}

func validate(vs *ValueSet) error {
	if vs.URL == "" {
		return fmt.Errorf("url is required")
	}
	if vs.Status == "" {
		vs.Status = "draft"
	}
	if !validValueSetStatuses[vs.Status] {
		return fmt.Errorf("invalid status: %s", vs.Status)
	}
	return nil
}

// Import validates and stores a ValueSet resource body. A non-empty id
// overrides the id in the body.
func (s *Service) Import(ctx context.Context, raw []byte, id string) (*ValueSet, error) {
	vs, err := FromResource(raw)
	if err != nil {
		return nil, err
	}
	if id != "" {
		vs.FHIRID = id
	}
	if err := validate(vs); err != nil {
		return nil, err
	}
	if err := s.repo.Upsert(ctx, vs); err != nil {
		return nil, err
	}
	return vs, nil
}

func (s *Service) GetValueSetByFHIRID(ctx context.Context, fhirID string) (*ValueSet, error) {
	return s.repo.GetByFHIRID(ctx, fhirID)
}

func (s *Service) FindByURL(ctx context.Context, url string) ([]*ValueSet, error) {
	return s.repo.FindByURL(ctx, url)
}

func (s *Service) DeleteValueSet(ctx context.Context, fhirID string) error {
	return s.repo.Delete(ctx, fhirID)
}

func (s *Service) ListValueSets(ctx context.Context, limit, offset int) ([]*ValueSet, int, error) {
	return s.repo.List(ctx, limit, offset)
}
