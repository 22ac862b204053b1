package terminology

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Request parameters echoed back, in output order.
var echoOrder = []string{
	"excludeNested",
	"includeDesignations",
	"includeDefinition",
	"activeOnly",
	"displayLanguage",
	"exclude-system",
	"system-version",
	"check-system-version",
	"force-system-version",
	"count",
	"offset",
	"property",
	"designation",
	"filter",
	"date",
	"url",
}

// Parameters produced while collecting, in output order.
var generatedOrder = []string{
	"used-codesystem",
	"used-supplement",
	"version",
	"warning-draft",
	"warning-experimental",
	"warning-withdrawn",
}

var wellKnownProperties = map[string]string{
	"status":     ConceptPropertiesBase + "status",
	"inactive":   ConceptPropertiesBase + "inactive",
	"definition": ConceptPropertiesBase + "definition",
	"label":      ConceptPropertiesBase + "label",
	"order":      ConceptPropertiesBase + "order",
	"weight":     ConceptPropertiesBase + "itemWeight",
	"parent":     ConceptPropertiesBase + "parent",
	"child":      ConceptPropertiesBase + "child",
}

func parameterRank(name string) int {
	for i, n := range echoOrder {
		if n == name {
			return i
		}
	}
	for i, n := range generatedOrder {
		if n == name {
			return len(echoOrder) + i
		}
	}
	return len(echoOrder) + len(generatedOrder)
}

// sortParameters orders parameters by tier, keeping relative order within a name.
func sortParameters(params []Parameter) {
	sort.SliceStable(params, func(i, j int) bool {
		return parameterRank(params[i].Name) < parameterRank(params[j].Name)
	})
}

func boolParam(name string, b *bool) []Parameter {
	if b == nil {
		return nil
	}
	return []Parameter{{Name: name, TypedValue: TypedValue{ValueBoolean: boolPtr(*b)}}}
}

func intParam(name string, i *int) []Parameter {
	if i == nil {
		return nil
	}
	return []Parameter{{Name: name, TypedValue: TypedValue{ValueInteger: intPtr(*i)}}}
}

func stringParams(name string, values []string, wrap func(string) TypedValue) []Parameter {
	var out []Parameter
	for _, v := range values {
		out = append(out, Parameter{Name: name, TypedValue: wrap(v)})
	}
	return out
}

func asString(v string) TypedValue    { return TypedValue{ValueString: strPtr(v)} }
func asCode(v string) TypedValue      { return TypedValue{ValueCode: strPtr(v)} }
func asURI(v string) TypedValue       { return TypedValue{ValueURI: strPtr(v)} }
func asCanonical(v string) TypedValue { return TypedValue{ValueCanonical: strPtr(v)} }

// echoParameters returns the request parameters that are reported back.
// system-version entries are reported only when they decided a version that
// was used; check-system-version is never reported.
func (ec *expansionContext) echoParameters() []Parameter {
	req := ec.req
	var out []Parameter
	out = append(out, boolParam("excludeNested", req.ExcludeNested)...)
	out = append(out, boolParam("includeDesignations", req.IncludeDesignations)...)
	out = append(out, boolParam("includeDefinition", req.IncludeDefinition)...)
	out = append(out, boolParam("activeOnly", req.ActiveOnly)...)
	if req.DisplayLanguage != "" {
		out = append(out, Parameter{Name: "displayLanguage", TypedValue: asCode(req.DisplayLanguage)})
	}
	out = append(out, stringParams("exclude-system", req.ExcludeSystem, asCanonical)...)
	for _, sv := range req.SystemVersion {
		if ec.usedOverrides[sv] {
			out = append(out, Parameter{Name: "system-version", TypedValue: asCanonical(sv)})
		}
	}
	out = append(out, stringParams("force-system-version", req.ForceSystemVersion, asCanonical)...)
	out = append(out, intParam("count", req.Count)...)
	out = append(out, intParam("offset", req.Offset)...)
	out = append(out, stringParams("property", req.Properties, asString)...)
	out = append(out, stringParams("designation", req.Designations, asString)...)
	if req.Filter != "" {
		out = append(out, Parameter{Name: "filter", TypedValue: asString(req.Filter)})
	}
	if req.Date != "" {
		out = append(out, Parameter{Name: "date", TypedValue: TypedValue{ValueDateTime: strPtr(req.Date)}})
	}
	if req.URL != "" {
		out = append(out, Parameter{Name: "url", TypedValue: asURI(canonical(req.URL, req.ValueSetVersion))})
	}
	out = append(out, boolParam("excludeNotForUI", req.ExcludeNotForUI)...)
	out = append(out, stringParams("default-valueset-version", req.DefaultValueSetVersion, asCanonical)...)
	return out
}

// assembleParameters merges echoed and generated parameters into output order.
func (ec *expansionContext) assembleParameters() []Parameter {
	params := ec.echoParameters()
	params = append(params, ec.parameters...)
	sortParameters(params)
	return params
}

// propertyURI resolves the URI declared for a property code.
func (ec *expansionContext) propertyURI(code string) string {
	for _, cs := range ec.usedSystems {
		if uri, ok := cs.PropertyURI(code); ok && uri != "" {
			return uri
		}
	}
	if uri, ok := wellKnownProperties[code]; ok {
		return uri
	}
	if len(ec.usedSystems) > 0 {
		return ec.usedSystems[0].URL + "#" + code
	}
	return ConceptPropertiesBase + code
}

// propertyDeclarations declares every requested property, then any property
// code found on the returned entries that is not yet declared.
func (ec *expansionContext) propertyDeclarations(entries []*Contains) []Extension {
	declared := make(map[string]bool)
	var out []Extension
	declare := func(code string) {
		if code == "" || declared[code] {
			return
		}
		declared[code] = true
		out = append(out, Extension{
			URL: ExtExpansionProperty,
			Extension: []Extension{
				{URL: "code", TypedValue: asCode(code)},
				{URL: "uri", TypedValue: asURI(ec.propertyURI(code))},
			},
		})
	}
	for _, code := range ec.req.requestedProperties() {
		declare(code)
	}
	var walk func([]*Contains)
	walk = func(list []*Contains) {
		for _, e := range list {
			for _, ext := range e.Extension {
				if ext.URL != ExtContainsProperty {
					continue
				}
				for _, sub := range ext.Extension {
					if sub.URL == "code" {
						declare(sub.String())
					}
				}
			}
			walk(e.Contains)
		}
	}
	walk(entries)
	return out
}

// paginate returns the [offset, offset+count) window. A count of zero or
// less means no page size: the whole list is returned from offset, since the
// expansion reports offset back to the client and must match what it holds.
func paginate(entries []*Contains, offset, count int) ([]*Contains, error) {
	if offset < 0 {
		return nil, invalidRequest("offset must not be negative, got %d", offset)
	}
	if offset >= len(entries) {
		if offset == 0 {
			return entries, nil
		}
		return []*Contains{}, nil
	}
	end := len(entries)
	if count > 0 && count < end-offset {
		end = offset + count
	}
	return entries[offset:end], nil
}

// assemble builds the expanded value set from the collected entries.
func (ec *expansionContext) assemble(vs *ValueSet, entries []*Contains, now time.Time) (*ValueSet, error) {
	offset, count := 0, 0
	if ec.req.Offset != nil {
		offset = *ec.req.Offset
	}
	if ec.req.Count != nil {
		count = *ec.req.Count
	}
	page, err := paginate(entries, offset, count)
	if err != nil {
		return nil, err
	}

	return &ValueSet{
		ResourceType: "ValueSet",
		ID:           vs.ID,
		URL:          vs.URL,
		Version:      vs.Version,
		Name:         vs.Name,
		Title:        vs.Title,
		Status:       vs.Status,
		Experimental: vs.Experimental,
		Language:     vs.Language,
		Extension:    vs.Extension,
		Compose:      vs.Compose,
		Expansion: &Expansion{
			Identifier: "urn:uuid:" + uuid.New().String(),
			Timestamp:  now.UTC().Format(time.RFC3339),
			Total:      len(entries),
			Offset:     offset,
			Parameter:  ec.assembleParameters(),
			Extension:  ec.propertyDeclarations(page),
			Contains:   page,
		},
	}, nil
}
