package terminology

import (
	"context"
	"strings"
)

const defaultSystemLanguage = "en"

// mergeSupplements returns a copy of c with the designations and properties
// of every supplement concept sharing its code. Designations are appended;
// a supplement property replaces the first property with the same code.
func mergeSupplements(c *Concept, supplements []*CodeSystem) *Concept {
	merged := &Concept{
		Code:        c.Code,
		Display:     c.Display,
		Definition:  c.Definition,
		Designation: append([]Designation(nil), c.Designation...),
		Property:    append([]ConceptProperty(nil), c.Property...),
		Concept:     c.Concept,
	}
	for _, supp := range supplements {
		sc := supp.FindConcept(c.Code)
		if sc == nil {
			continue
		}
		merged.Designation = append(merged.Designation, sc.Designation...)
		for _, sp := range sc.Property {
			replaced := false
			for i := range merged.Property {
				if merged.Property[i].Code == sp.Code {
					merged.Property[i] = sp
					replaced = true
					break
				}
			}
			if !replaced {
				merged.Property = append(merged.Property, sp)
			}
		}
	}
	return merged
}

func systemLanguage(cs *CodeSystem) string {
	if cs.Language != "" {
		return cs.Language
	}
	return defaultSystemLanguage
}

// negotiateDisplay picks the display for c under the request's language
// preferences. When the display changes, the original is returned as a
// designation in the system's language so it is not lost.
func (ec *expansionContext) negotiateDisplay(cs *CodeSystem, c *Concept) (string, *Designation) {
	prefs := ec.languagePreferences()
	if len(prefs) == 0 {
		return c.Display, nil
	}
	sysLang := systemLanguage(cs)
	top := prefs[0]
	if top.IsWildcard() || strings.EqualFold(top.Tag, sysLang) {
		return c.Display, nil
	}
	demoted := func() *Designation {
		if c.Display == "" {
			return nil
		}
		return &Designation{
			Language: sysLang,
			Use:      &Coding{System: DesignationUsageSystem, Code: "display"},
			Value:    c.Display,
		}
	}
	for _, p := range prefs {
		if p.IsWildcard() || p.Quality == 0 {
			continue
		}
		if matchLanguage(p.Tag, sysLang) == matchExact {
			return c.Display, nil
		}
		if i, ok := findDesignation(c.Designation, p.Tag); ok {
			return c.Designation[i].Value, demoted()
		}
	}
	if suppressesFallback(prefs) {
		return "", demoted()
	}
	return c.Display, nil
}

// designationMatches applies one designation filter: a language code, a
// "urn:ietf:bcp:47|lang" pair, a use code, or a use "system|code".
func designationMatches(d Designation, filter string) bool {
	if sys, val := SplitCanonical(filter); strings.Contains(filter, "|") {
		if sys == BCP47System {
			return strings.EqualFold(d.Language, val)
		}
		return d.Use != nil && d.Use.System == sys && d.Use.Code == val
	}
	if d.Language != "" && strings.EqualFold(d.Language, filter) {
		return true
	}
	return d.Use != nil && d.Use.Code == filter
}

func (ec *expansionContext) filterDesignations(designations []Designation) []Designation {
	if len(ec.req.Designations) == 0 {
		return designations
	}
	var out []Designation
	for _, d := range designations {
		for _, f := range ec.req.Designations {
			if designationMatches(d, f) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

func propertyExtension(code string, v TypedValue) Extension {
	return Extension{
		URL: ExtContainsProperty,
		Extension: []Extension{
			{URL: "code", TypedValue: TypedValue{ValueCode: strPtr(code)}},
			{URL: "value", TypedValue: v},
		},
	}
}

// buildComponent turns a merged concept into an output entry. display and
// demoted come from negotiateDisplay; extra carries value-set supplied
// properties (label, order, weight) which are always emitted.
func (ec *expansionContext) buildComponent(cs *CodeSystem, c *Concept, display string, demoted *Designation, extra []ConceptProperty) *Contains {
	entry := &Contains{
		System:  cs.URL,
		Version: cs.Version,
		Code:    c.Code,
		Display: display,
	}
	if isConceptAbstract(cs, c) {
		entry.Abstract = boolPtr(true)
	}
	if isConceptInactive(c) {
		entry.Inactive = boolPtr(true)
	}

	if demoted != nil {
		entry.Designation = append(entry.Designation, *demoted)
	}
	if ec.req.includeDesignations() {
		for _, d := range ec.filterDesignations(c.Designation) {
			if d.Value == display && demoted != nil {
				continue
			}
			entry.Designation = append(entry.Designation, d)
		}
	}

	for _, code := range ec.req.requestedProperties() {
		if code == "definition" {
			if c.Definition != "" {
				entry.Extension = append(entry.Extension, propertyExtension(code, TypedValue{ValueString: strPtr(c.Definition)}))
			}
			continue
		}
		for _, v := range c.PropertyValues(code) {
			entry.Extension = append(entry.Extension, propertyExtension(code, v))
		}
	}
	for _, p := range extra {
		entry.Extension = append(entry.Extension, propertyExtension(p.Code, p.TypedValue))
	}
	return entry
}

// component runs the full per-concept pipeline: supplement merge, display
// negotiation, the request gate and entry construction. It returns nil when
// the concept is filtered out.
func (ec *expansionContext) component(ctx context.Context, vs *ValueSet, cs *CodeSystem, c *Concept, ref *ConceptReference) *Contains {
	merged := mergeSupplements(c, ec.supplementsFor(ctx, cs.URL))
	var extra []ConceptProperty
	if ref != nil {
		if ref.Display != "" {
			merged.Display = ref.Display
		}
		merged.Designation = append(merged.Designation, ref.Designation...)
		extra = referenceProperties(ref.Extension)
	}
	display, demoted := ec.negotiateDisplay(cs, merged)
	if !shouldIncludeConcept(vs, cs, merged, display, ec.req) {
		return nil
	}
	return ec.buildComponent(cs, merged, display, demoted, extra)
}

// referenceProperties maps concept-reference extensions to output properties.
func referenceProperties(exts []Extension) []ConceptProperty {
	var out []ConceptProperty
	for _, e := range exts {
		if e.IsEmpty() {
			continue
		}
		switch e.URL {
		case ExtValueSetLabel:
			out = append(out, ConceptProperty{Code: "label", TypedValue: e.TypedValue})
		case ExtValueSetOrder:
			out = append(out, ConceptProperty{Code: "order", TypedValue: e.TypedValue})
		case ExtItemWeight:
			out = append(out, ConceptProperty{Code: "weight", TypedValue: e.TypedValue})
		}
	}
	return out
}
