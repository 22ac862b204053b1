package fhir

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// SearchParam describes a supported search parameter.
type SearchParam struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// OperationCapability describes a supported operation.
type OperationCapability struct {
	Name       string
	Definition string
}

type resourceEntry struct {
	interactions []string
	searchParams []SearchParam
	operations   []OperationCapability
}

// CapabilityBuilder accumulates resource registrations during startup and
// builds the CapabilityStatement served at /fhir/metadata.
type CapabilityBuilder struct {
	mu        sync.RWMutex
	resources map[string]*resourceEntry

	ServerName    string
	ServerVersion string
	BaseURL       string
	now           func() time.Time
}

// NewCapabilityBuilder creates a new builder. The baseURL is the FHIR server
// base URL (e.g., "http://localhost:8000/fhir").
func NewCapabilityBuilder(baseURL, version string) *CapabilityBuilder {
	return &CapabilityBuilder{
		resources:     make(map[string]*resourceEntry),
		ServerName:    "Terminology Server",
		ServerVersion: version,
		BaseURL:       baseURL,
		now:           time.Now,
	}
}

func (b *CapabilityBuilder) entry(resourceType string) *resourceEntry {
	e, ok := b.resources[resourceType]
	if !ok {
		e = &resourceEntry{}
		b.resources[resourceType] = e
	}
	return e
}

// AddResource registers a resource type. Repeated registrations merge
// interactions and search parameters.
func (b *CapabilityBuilder) AddResource(resourceType string, interactions []string, searchParams []SearchParam) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entry(resourceType)
	existing := make(map[string]bool, len(e.interactions))
	for _, i := range e.interactions {
		existing[i] = true
	}
	for _, i := range interactions {
		if !existing[i] {
			e.interactions = append(e.interactions, i)
			existing[i] = true
		}
	}

	existingParams := make(map[string]bool, len(e.searchParams))
	for _, p := range e.searchParams {
		existingParams[p.Name] = true
	}
	for _, p := range searchParams {
		if !existingParams[p.Name] {
			e.searchParams = append(e.searchParams, p)
			existingParams[p.Name] = true
		}
	}
}

// AddOperation registers an operation on a resource type.
func (b *CapabilityBuilder) AddOperation(resourceType string, op OperationCapability) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entry(resourceType)
	for _, existing := range e.operations {
		if existing.Name == op.Name {
			return
		}
	}
	e.operations = append(e.operations, op)
}

// DefaultInteractions returns the interactions of a resource with full CRUD.
func DefaultInteractions() []string {
	return []string{"read", "create", "update", "delete", "search-type"}
}

// Build returns the CapabilityStatement. Resource types are sorted for
// deterministic output.
func (b *CapabilityBuilder) Build() map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()

	types := make([]string, 0, len(b.resources))
	for rt := range b.resources {
		types = append(types, rt)
	}
	sort.Strings(types)

	resources := make([]map[string]interface{}, 0, len(types))
	for _, rt := range types {
		e := b.resources[rt]
		res := map[string]interface{}{"type": rt}

		if len(e.interactions) > 0 {
			ia := make([]map[string]string, len(e.interactions))
			for i, code := range e.interactions {
				ia[i] = map[string]string{"code": code}
			}
			res["interaction"] = ia
		}
		if len(e.searchParams) > 0 {
			res["searchParam"] = e.searchParams
		}
		if len(e.operations) > 0 {
			ops := make([]map[string]string, len(e.operations))
			for i, op := range e.operations {
				ops[i] = map[string]string{"name": op.Name, "definition": op.Definition}
			}
			res["operation"] = ops
		}
		resources = append(resources, res)
	}

	return map[string]interface{}{
		"resourceType": "CapabilityStatement",
		"status":       "active",
		"date":         b.now().UTC().Format("2006-01-02"),
		"kind":         "instance",
		"fhirVersion":  "4.0.1",
		"format":       []string{"application/fhir+json"},
		"instantiates": []string{"http://hl7.org/fhir/CapabilityStatement/terminology-server"},
		"software": map[string]string{
			"name":    b.ServerName,
			"version": b.ServerVersion,
		},
		"implementation": map[string]string{
			"description": b.ServerName,
			"url":         b.BaseURL,
		},
		"rest": []map[string]interface{}{
			{"mode": "server", "resource": resources},
		},
	}
}

// CapabilityHandler serves the CapabilityStatement.
type CapabilityHandler struct {
	builder *CapabilityBuilder
}

func NewCapabilityHandler(builder *CapabilityBuilder) *CapabilityHandler {
	return &CapabilityHandler{builder: builder}
}

func (h *CapabilityHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/metadata", h.GetMetadata)
}

// GetMetadata returns the full CapabilityStatement.
func (h *CapabilityHandler) GetMetadata(c echo.Context) error {
	return c.JSON(http.StatusOK, h.builder.Build())
}
