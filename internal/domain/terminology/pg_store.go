package terminology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ehr/txserver/internal/domain/codesystem"
	"github.com/ehr/txserver/internal/domain/valueset"
)

// PGStore serves terminology resources persisted through the codesystem and
// valueset repositories.
type PGStore struct {
	codeSystems codesystem.CodeSystemRepository
	valueSets   valueset.ValueSetRepository
}

// NewPGStore creates a store over the given repositories.
func NewPGStore(codeSystems codesystem.CodeSystemRepository, valueSets valueset.ValueSetRepository) *PGStore {
	return &PGStore{codeSystems: codeSystems, valueSets: valueSets}
}

func decodeCodeSystem(row *codesystem.CodeSystem) (*CodeSystem, error) {
	body, err := row.Body()
	if err != nil {
		return nil, err
	}
	cs := &CodeSystem{}
	if err := json.Unmarshal(body, cs); err != nil {
		return nil, fmt.Errorf("decode code system %s: %w", row.FHIRID, err)
	}
	return cs, nil
}

func decodeValueSet(row *valueset.ValueSet) (*ValueSet, error) {
	body, err := row.Body()
	if err != nil {
		return nil, err
	}
	vs := &ValueSet{}
	if err := json.Unmarshal(body, vs); err != nil {
		return nil, fmt.Errorf("decode value set %s: %w", row.FHIRID, err)
	}
	return vs, nil
}

func decodeCodeSystems(rows []*codesystem.CodeSystem) ([]*CodeSystem, error) {
	out := make([]*CodeSystem, 0, len(rows))
	for _, row := range rows {
		cs, err := decodeCodeSystem(row)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, nil
}

func (s *PGStore) FindCodeSystems(ctx context.Context, url string) ([]*CodeSystem, error) {
	rows, err := s.codeSystems.FindByURL(ctx, url)
	if err != nil {
		return nil, err
	}
	return decodeCodeSystems(rows)
}

func (s *PGStore) FindValueSets(ctx context.Context, url string) ([]*ValueSet, error) {
	rows, err := s.valueSets.FindByURL(ctx, url)
	if err != nil {
		return nil, err
	}
	out := make([]*ValueSet, 0, len(rows))
	for _, row := range rows {
		vs, err := decodeValueSet(row)
		if err != nil {
			return nil, err
		}
		out = append(out, vs)
	}
	return out, nil
}

func (s *PGStore) GetCodeSystem(ctx context.Context, id string) (*CodeSystem, error) {
	row, err := s.codeSystems.GetByFHIRID(ctx, id)
	if errors.Is(err, codesystem.ErrNotFound) {
		return nil, notFound("code system %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return decodeCodeSystem(row)
}

func (s *PGStore) GetValueSet(ctx context.Context, id string) (*ValueSet, error) {
	row, err := s.valueSets.GetByFHIRID(ctx, id)
	if errors.Is(err, valueset.ErrNotFound) {
		return nil, notFound("value set %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return decodeValueSet(row)
}

func (s *PGStore) FindSupplements(ctx context.Context, systemURL string) ([]*CodeSystem, error) {
	rows, err := s.codeSystems.FindSupplements(ctx, systemURL)
	if err != nil {
		return nil, err
	}
	return decodeCodeSystems(rows)
}
