package terminology

import (
	"strconv"
	"strings"
	"sync"
)

// Well-known URLs used by the expansion engine.
const (
	DesignationUsageSystem = "http://terminology.hl7.org/CodeSystem/designation-usage"
	BCP47System            = "urn:ietf:bcp:47"
	ConceptPropertiesBase  = "http://hl7.org/fhir/concept-properties#"

	ExtStandardsStatus    = "http://hl7.org/fhir/StructureDefinition/structuredefinition-standards-status"
	ExtValueSetLabel      = "http://hl7.org/fhir/StructureDefinition/valueset-label"
	ExtValueSetOrder      = "http://hl7.org/fhir/StructureDefinition/valueset-conceptOrder"
	ExtItemWeight         = "http://hl7.org/fhir/StructureDefinition/itemWeight"
	ExtExpansionProperty  = "http://hl7.org/fhir/5.0/StructureDefinition/extension-ValueSet.expansion.property"
	ExtContainsProperty   = "http://hl7.org/fhir/5.0/StructureDefinition/extension-ValueSet.expansion.contains.property"
	notSelectableProperty = "notSelectable"
)

// Coding is a code/system pair.
type Coding struct {
	System  string `json:"system,omitempty"`
	Version string `json:"version,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// TypedValue holds the value[x] choice shared by properties, parameters and extensions.
// At most one field is set.
type TypedValue struct {
	ValueCode      *string  `json:"valueCode,omitempty"`
	ValueString    *string  `json:"valueString,omitempty"`
	ValueBoolean   *bool    `json:"valueBoolean,omitempty"`
	ValueInteger   *int     `json:"valueInteger,omitempty"`
	ValueDecimal   *float64 `json:"valueDecimal,omitempty"`
	ValueURI       *string  `json:"valueUri,omitempty"`
	ValueCanonical *string  `json:"valueCanonical,omitempty"`
	ValueDateTime  *string  `json:"valueDateTime,omitempty"`
	ValueCoding    *Coding  `json:"valueCoding,omitempty"`
}

// IsEmpty reports whether no value is set.
func (v TypedValue) IsEmpty() bool {
	return v.ValueCode == nil && v.ValueString == nil && v.ValueBoolean == nil &&
		v.ValueInteger == nil && v.ValueDecimal == nil && v.ValueURI == nil &&
		v.ValueCanonical == nil && v.ValueDateTime == nil && v.ValueCoding == nil
}

// String renders the value the way filters compare it.
func (v TypedValue) String() string {
	switch {
	case v.ValueCode != nil:
		return *v.ValueCode
	case v.ValueString != nil:
		return *v.ValueString
	case v.ValueBoolean != nil:
		return strconv.FormatBool(*v.ValueBoolean)
	case v.ValueInteger != nil:
		return strconv.Itoa(*v.ValueInteger)
	case v.ValueDecimal != nil:
		return strconv.FormatFloat(*v.ValueDecimal, 'f', -1, 64)
	case v.ValueURI != nil:
		return *v.ValueURI
	case v.ValueCanonical != nil:
		return *v.ValueCanonical
	case v.ValueDateTime != nil:
		return *v.ValueDateTime
	case v.ValueCoding != nil:
		return v.ValueCoding.Code
	}
	return ""
}

// Extension is a FHIR extension, possibly complex.
type Extension struct {
	URL       string      `json:"url"`
	Extension []Extension `json:"extension,omitempty"`
	TypedValue
}

// PropertyDefinition declares a concept property on a code system.
type PropertyDefinition struct {
	Code        string `json:"code"`
	URI         string `json:"uri,omitempty"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
}

// ConceptProperty is a code/value pair on a concept.
type ConceptProperty struct {
	Code string `json:"code"`
	TypedValue
}

// Designation is an alternate display for a concept.
type Designation struct {
	Language string  `json:"language,omitempty"`
	Use      *Coding `json:"use,omitempty"`
	Value    string  `json:"value"`
}

// Concept is a node in a code system's concept tree.
type Concept struct {
	Code        string            `json:"code"`
	Display     string            `json:"display,omitempty"`
	Definition  string            `json:"definition,omitempty"`
	Designation []Designation     `json:"designation,omitempty"`
	Property    []ConceptProperty `json:"property,omitempty"`
	Concept     []*Concept        `json:"concept,omitempty"`
}

// PropertyValues returns the values of every property with the given code.
func (c *Concept) PropertyValues(code string) []TypedValue {
	var out []TypedValue
	for _, p := range c.Property {
		if p.Code == code {
			out = append(out, p.TypedValue)
		}
	}
	return out
}

// CodeSystem is a versioned concept tree. It is treated as immutable once loaded.
type CodeSystem struct {
	ResourceType string               `json:"resourceType"`
	ID           string               `json:"id,omitempty"`
	URL          string               `json:"url,omitempty"`
	Version      string               `json:"version,omitempty"`
	Name         string               `json:"name,omitempty"`
	Title        string               `json:"title,omitempty"`
	Status       string               `json:"status,omitempty"`
	Experimental *bool                `json:"experimental,omitempty"`
	Language     string               `json:"language,omitempty"`
	Content      string               `json:"content,omitempty"`
	Supplements  string               `json:"supplements,omitempty"`
	Extension    []Extension          `json:"extension,omitempty"`
	Property     []PropertyDefinition `json:"property,omitempty"`
	Concept      []*Concept           `json:"concept,omitempty"`

	indexOnce sync.Once
	index     map[string]*Concept
}

// Canonical returns url|version (or just url when unversioned).
func (cs *CodeSystem) Canonical() string {
	return canonical(cs.URL, cs.Version)
}

// FindConcept returns the concept with the given code anywhere in the tree.
func (cs *CodeSystem) FindConcept(code string) *Concept {
	cs.indexOnce.Do(func() {
		cs.index = make(map[string]*Concept)
		var walk func([]*Concept)
		walk = func(concepts []*Concept) {
			for _, c := range concepts {
				if _, dup := cs.index[c.Code]; !dup {
					cs.index[c.Code] = c
				}
				walk(c.Concept)
			}
		}
		walk(cs.Concept)
	})
	return cs.index[code]
}

// PropertyURI returns the declared URI for a property code, if any.
func (cs *CodeSystem) PropertyURI(code string) (string, bool) {
	for _, p := range cs.Property {
		if p.Code == code {
			return p.URI, true
		}
	}
	return "", false
}

// notSelectableCode returns the property code the system uses to mark abstract concepts.
func (cs *CodeSystem) notSelectableCode() string {
	for _, p := range cs.Property {
		if p.URI == ConceptPropertiesBase+notSelectableProperty {
			return p.Code
		}
	}
	return notSelectableProperty
}

// ConceptReference lists a concept explicitly in an include or exclude rule.
type ConceptReference struct {
	Code        string        `json:"code"`
	Display     string        `json:"display,omitempty"`
	Designation []Designation `json:"designation,omitempty"`
	Extension   []Extension   `json:"extension,omitempty"`
}

// Filter is a property filter on an include or exclude rule.
type Filter struct {
	Property string `json:"property"`
	Op       string `json:"op"`
	Value    string `json:"value,omitempty"`
}

// ConceptSet is one include or exclude rule.
type ConceptSet struct {
	System   string             `json:"system,omitempty"`
	Version  string             `json:"version,omitempty"`
	Concept  []ConceptReference `json:"concept,omitempty"`
	Filter   []Filter           `json:"filter,omitempty"`
	ValueSet []string           `json:"valueSet,omitempty"`
}

// Compose is the composition of a value set.
type Compose struct {
	Inactive *bool        `json:"inactive,omitempty"`
	Include  []ConceptSet `json:"include,omitempty"`
	Exclude  []ConceptSet `json:"exclude,omitempty"`
}

// Parameter is an expansion parameter.
type Parameter struct {
	Name string `json:"name"`
	TypedValue
}

// Contains is one entry of an expansion.
type Contains struct {
	System      string        `json:"system,omitempty"`
	Version     string        `json:"version,omitempty"`
	Code        string        `json:"code,omitempty"`
	Display     string        `json:"display,omitempty"`
	Abstract    *bool         `json:"abstract,omitempty"`
	Inactive    *bool         `json:"inactive,omitempty"`
	Designation []Designation `json:"designation,omitempty"`
	Extension   []Extension   `json:"extension,omitempty"`
	Contains    []*Contains   `json:"contains,omitempty"`
}

func (c *Contains) key() string {
	return c.System + "|" + c.Code
}

// Expansion is the materialised result of a value set.
type Expansion struct {
	Identifier string      `json:"identifier"`
	Timestamp  string      `json:"timestamp"`
	Total      int         `json:"total"`
	Offset     int         `json:"offset"`
	Parameter  []Parameter `json:"parameter,omitempty"`
	Extension  []Extension `json:"extension,omitempty"`
	Contains   []*Contains `json:"contains,omitempty"`
}

// ValueSet is a versioned selection rule over code systems and other value sets.
type ValueSet struct {
	ResourceType string      `json:"resourceType"`
	ID           string      `json:"id,omitempty"`
	URL          string      `json:"url,omitempty"`
	Version      string      `json:"version,omitempty"`
	Name         string      `json:"name,omitempty"`
	Title        string      `json:"title,omitempty"`
	Status       string      `json:"status,omitempty"`
	Experimental *bool       `json:"experimental,omitempty"`
	Language     string      `json:"language,omitempty"`
	Extension    []Extension `json:"extension,omitempty"`
	Compose      *Compose    `json:"compose,omitempty"`
	Expansion    *Expansion  `json:"expansion,omitempty"`
}

// Canonical returns url|version (or just url when unversioned).
func (vs *ValueSet) Canonical() string {
	return canonical(vs.URL, vs.Version)
}

func (vs *ValueSet) chainKey() string {
	if vs.URL == "" {
		return "ValueSet/" + vs.ID + "|" + vs.Version
	}
	return vs.URL + "|" + vs.Version
}

func canonical(url, version string) string {
	if version == "" {
		return url
	}
	return url + "|" + version
}

// SplitCanonical splits "url|version" into its parts.
func SplitCanonical(ref string) (url, version string) {
	if i := strings.LastIndex(ref, "|"); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

// standardsStatus returns the value of the standards-status extension.
func standardsStatus(exts []Extension) string {
	for _, e := range exts {
		if e.URL == ExtStandardsStatus && e.ValueCode != nil {
			return *e.ValueCode
		}
	}
	return ""
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool     { return &b }
func intPtr(i int) *int        { return &i }
