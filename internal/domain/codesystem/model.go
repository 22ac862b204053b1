package codesystem

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ehr/txserver/internal/platform/fhir"
	"github.com/google/uuid"
)

// ErrNotFound is returned when no code system row matches.
var ErrNotFound = errors.New("code system not found")

// CodeSystem maps to the code_system table. The full FHIR resource is kept
// in Resource; the other columns are copied out of it for lookups.
type CodeSystem struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	FHIRID      string          `db:"fhir_id" json:"fhir_id"`
	URL         string          `db:"url" json:"url"`
	Version     string          `db:"version" json:"version,omitempty"`
	Status      string          `db:"status" json:"status"`
	Content     string          `db:"content" json:"content"`
	Supplements string          `db:"supplements" json:"supplements,omitempty"`
	Resource    json.RawMessage `db:"resource" json:"resource"`
	VersionID   int             `db:"version_id" json:"version_id"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

type resourceHeader struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id"`
	URL          string `json:"url"`
	Version      string `json:"version"`
	Status       string `json:"status"`
	Content      string `json:"content"`
	Supplements  string `json:"supplements"`
}

// FromResource builds a row from a CodeSystem resource body.
func FromResource(raw []byte) (*CodeSystem, error) {
	var h resourceHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("invalid CodeSystem JSON: %w", err)
	}
	if h.ResourceType != "CodeSystem" {
		return nil, fmt.Errorf("expected resourceType CodeSystem, got %q", h.ResourceType)
	}
	return &CodeSystem{
		FHIRID:      h.ID,
		URL:         h.URL,
		Version:     h.Version,
		Status:      h.Status,
		Content:     h.Content,
		Supplements: h.Supplements,
		Resource:    json.RawMessage(raw),
	}, nil
}

// ToFHIR returns the stored resource with id and meta set from the row.
func (cs *CodeSystem) ToFHIR() map[string]interface{} {
	result := map[string]interface{}{}
	_ = json.Unmarshal(cs.Resource, &result)
	result["resourceType"] = "CodeSystem"
	result["id"] = cs.FHIRID
	result["meta"] = fhir.Meta{
		VersionID:   strconv.Itoa(cs.VersionID),
		LastUpdated: cs.UpdatedAt,
	}
	return result
}

// Body returns the resource JSON with the stored id applied.
func (cs *CodeSystem) Body() ([]byte, error) {
	return json.Marshal(cs.ToFHIR())
}
