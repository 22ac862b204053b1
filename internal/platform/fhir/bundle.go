package fhir

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bundle represents a FHIR Bundle resource. Entries keep their resource as
// raw JSON so the same type decodes bundles of any content.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Search   *BundleSearch   `json:"search,omitempty"`
}

type BundleSearch struct {
	Mode string `json:"mode,omitempty"`
}

// SearchBundleParams holds pagination and link information for a search bundle.
type SearchBundleParams struct {
	BaseURL string
	Count   int
	Offset  int
	Total   int
}

func searchEntries(resources []interface{}) []BundleEntry {
	entries := make([]BundleEntry, len(resources))
	for i, r := range resources {
		raw, _ := json.Marshal(r)
		entries[i] = BundleEntry{
			FullURL:  extractFullURL(raw),
			Resource: raw,
			Search:   &BundleSearch{Mode: "match"},
		}
	}
	return entries
}

// NewSearchBundle creates an unpaged searchset Bundle from a list of resources.
func NewSearchBundle(resources []interface{}, total int, baseURL string) *Bundle {
	now := time.Now().UTC()
	return &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Total:        &total,
		Timestamp:    &now,
		Link:         []BundleLink{{Relation: "self", URL: baseURL}},
		Entry:        searchEntries(resources),
	}
}

// NewSearchBundleWithLinks creates a searchset Bundle with self, next and
// previous links.
func NewSearchBundleWithLinks(resources []interface{}, params SearchBundleParams) *Bundle {
	b := NewSearchBundle(resources, params.Total, params.BaseURL)
	b.Link = buildPaginationLinks(params)
	return b
}

// extractFullURL builds ResourceType/id from an encoded resource.
func extractFullURL(raw json.RawMessage) string {
	var head struct {
		ResourceType string `json:"resourceType"`
		ID           string `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return ""
	}
	if head.ResourceType != "" && head.ID != "" {
		return fmt.Sprintf("%s/%s", head.ResourceType, head.ID)
	}
	return ""
}

func pageURL(base string, count, offset int) string {
	return fmt.Sprintf("%s?_count=%d&_offset=%d", base, count, offset)
}

func buildPaginationLinks(params SearchBundleParams) []BundleLink {
	links := []BundleLink{
		{Relation: "self", URL: pageURL(params.BaseURL, params.Count, params.Offset)},
	}
	if next := params.Offset + params.Count; next < params.Total {
		links = append(links, BundleLink{Relation: "next", URL: pageURL(params.BaseURL, params.Count, next)})
	}
	if params.Offset > 0 {
		prev := params.Offset - params.Count
		if prev < 0 {
			prev = 0
		}
		links = append(links, BundleLink{Relation: "previous", URL: pageURL(params.BaseURL, params.Count, prev)})
	}
	return links
}
