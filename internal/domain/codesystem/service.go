package codesystem

import (
	"context"
	"fmt"
)

type Service struct {
	repo CodeSystemRepository
}

func NewService(repo CodeSystemRepository) *Service {
	return &Service{repo: repo}
}

var validCodeSystemStatuses = map[string]bool{
	"draft": true, "active": true, "retired": true, "unknown": true,
}

var validContentValues = map[string]bool{
	"not-present": true, "example": true, "fragment": true, "complete": true, "supplement": true,
}

func validate(cs *CodeSystem) error {
	if cs.URL == "" {
		return fmt.Errorf("url is required")
	}
	if cs.Content == "" {
		return fmt.Errorf("content is required")
	}
	if !validContentValues[cs.Content] {
		return fmt.Errorf("invalid content: %s", cs.Content)
	}
	if cs.Content == "supplement" && cs.Supplements == "" {
		return fmt.Errorf("supplements is required when content is supplement")
	}
	if cs.Status == "" {
		cs.Status = "draft"
	}
	if !validCodeSystemStatuses[cs.Status] {
		return fmt.Errorf("invalid status: %s", cs.Status)
	}
	return nil
}

// Import validates and stores a CodeSystem resource body. A non-empty id
// overrides the id in the body.
func (s *Service) Import(ctx context.Context, raw []byte, id string) (*CodeSystem, error) {
	cs, err := FromResource(raw)
	if err != nil {
		return nil, err
	}
	if id != "" {
		cs.FHIRID = id
	}
	if err := validate(cs); err != nil {
		return nil, err
	}
	if err := s.repo.Upsert(ctx, cs); err != nil {
		return nil, err
	}
	return cs, nil
}

func (s *Service) GetCodeSystemByFHIRID(ctx context.Context, fhirID string) (*CodeSystem, error) {
	return s.repo.GetByFHIRID(ctx, fhirID)
}

func (s *Service) FindByURL(ctx context.Context, url string) ([]*CodeSystem, error) {
	return s.repo.FindByURL(ctx, url)
}

func (s *Service) FindSupplements(ctx context.Context, systemURL string) ([]*CodeSystem, error) {
	return s.repo.FindSupplements(ctx, systemURL)
}

func (s *Service) DeleteCodeSystem(ctx context.Context, fhirID string) error {
	return s.repo.Delete(ctx, fhirID)
}

func (s *Service) ListCodeSystems(ctx context.Context, limit, offset int) ([]*CodeSystem, int, error) {
	return s.repo.List(ctx, limit, offset)
}
