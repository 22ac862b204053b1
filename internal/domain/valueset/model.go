package valueset

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ehr/txserver/internal/platform/fhir"
	"github.com/google/uuid"
)

// ErrNotFound is returned when no value set row matches.
var ErrNotFound = errors.New("value set not found")

// ValueSet maps to the value_set table.
type ValueSet struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	FHIRID    string          `db:"fhir_id" json:"fhir_id"`
	URL       string          `db:"url" json:"url"`
	Version   string          `db:"version" json:"version,omitempty"`
	Name      string          `db:"name" json:"name,omitempty"`
	Status    string          `db:"status" json:"status"`
	Resource  json.RawMessage `db:"resource" json:"resource"`
	VersionID int             `db:"version_id" json:"version_id"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

type resourceHeader struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id"`
	URL          string `json:"url"`
	Version      string `json:"version"`
	Name         string `json:"name"`
	Status       string `json:"status"`
}

// FromResource builds a row from a ValueSet resource body.
func FromResource(raw []byte) (*ValueSet, error) {
	var h resourceHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("invalid ValueSet JSON: %w", err)
	}
	if h.ResourceType != "ValueSet" {
		return nil, fmt.Errorf("expected resourceType ValueSet, got %q", h.ResourceType)
	}
	return &ValueSet{
		FHIRID:   h.ID,
		URL:      h.URL,
		Version:  h.Version,
		Name:     h.Name,
		Status:   h.Status,
		Resource: json.RawMessage(raw),
	}, nil
}

func (vs *ValueSet) ToFHIR() map[string]interface{} {
	result := map[string]interface{}{}
	_ = json.Unmarshal(vs.Resource, &result)
	result["resourceType"] = "ValueSet"
	result["id"] = vs.FHIRID
	result["meta"] = fhir.Meta{
		VersionID:   strconv.Itoa(vs.VersionID),
		LastUpdated: vs.UpdatedAt,
	}
	return result
}

func (vs *ValueSet) Body() ([]byte, error) {
	return json.Marshal(vs.ToFHIR())
}
