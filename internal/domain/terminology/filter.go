package terminology

import (
	"regexp"
	"strconv"
	"strings"
)

// FilterOperator is the closed set of filter operators the engine evaluates.
type FilterOperator int

const (
	OpEqual FilterOperator = iota + 1
	OpRegex
	OpIn
	OpNotIn
	OpExists
	OpIsA
	OpIsNotA
	OpDescendantOf
	OpGeneralizes
)

var filterOperators = map[string]FilterOperator{
	"=":             OpEqual,
	"equal":         OpEqual,
	"regex":         OpRegex,
	"in":            OpIn,
	"not-in":        OpNotIn,
	"exists":        OpExists,
	"is-a":          OpIsA,
	"is-not-a":      OpIsNotA,
	"descendent-of": OpDescendantOf,
	"descendant-of": OpDescendantOf,
	"generalizes":   OpGeneralizes,
}

// ParseFilterOperator maps a wire operator to its enum value.
func ParseFilterOperator(op string) (FilterOperator, bool) {
	o, ok := filterOperators[op]
	return o, ok
}

func (op FilterOperator) String() string {
	switch op {
	case OpEqual:
		return "="
	case OpRegex:
		return "regex"
	case OpIn:
		return "in"
	case OpNotIn:
		return "not-in"
	case OpExists:
		return "exists"
	case OpIsA:
		return "is-a"
	case OpIsNotA:
		return "is-not-a"
	case OpDescendantOf:
		return "descendent-of"
	case OpGeneralizes:
		return "generalizes"
	}
	return "unknown"
}

// IsHierarchy reports whether the operator selects by position in the concept
// tree rather than by property value.
func (op FilterOperator) IsHierarchy() bool {
	switch op {
	case OpIsA, OpIsNotA, OpDescendantOf, OpGeneralizes:
		return true
	}
	return false
}

// conceptFilter is a validated filter ready for evaluation.
type conceptFilter struct {
	Property string
	Op       FilterOperator
	Value    string

	re     *regexp.Regexp
	set    map[string]bool
	exists bool
}

// compileFilters validates the filters of one rule. where names the rule
// ("http://x/vs include[0]") for error messages.
func compileFilters(filters []Filter, where string) ([]conceptFilter, error) {
	out := make([]conceptFilter, 0, len(filters))
	for i, f := range filters {
		op, ok := ParseFilterOperator(f.Op)
		if !ok {
			return nil, invalidFilter("%s filter[%d]: unsupported operator %q", where, i, f.Op)
		}
		if f.Value == "" {
			return nil, invalidFilter("%s filter[%d]: property %q with operator %q requires a value", where, i, f.Property, f.Op)
		}
		cf := conceptFilter{Property: f.Property, Op: op, Value: f.Value}
		switch op {
		case OpRegex:
			re, err := regexp.Compile("^(?:" + f.Value + ")$")
			if err != nil {
				return nil, invalidFilter("%s filter[%d]: invalid regex %q: %v", where, i, f.Value, err)
			}
			cf.re = re
		case OpIn, OpNotIn:
			cf.set = make(map[string]bool)
			for _, v := range trimAll(strings.Split(f.Value, ",")) {
				cf.set[v] = true
			}
		case OpExists:
			b, err := strconv.ParseBool(f.Value)
			if err != nil {
				return nil, invalidFilter("%s filter[%d]: exists requires true or false, got %q", where, i, f.Value)
			}
			cf.exists = b
		}
		out = append(out, cf)
	}
	return out, nil
}

// propertyValues returns the values a filter tests for a concept.
func propertyValues(c *Concept, property string) []string {
	switch property {
	case "code", "concept":
		return []string{c.Code}
	case "display":
		if c.Display == "" {
			return nil
		}
		return []string{c.Display}
	case "definition":
		if c.Definition == "" {
			return nil
		}
		return []string{c.Definition}
	}
	var out []string
	for _, v := range c.PropertyValues(property) {
		out = append(out, v.String())
	}
	return out
}

// matches tests a value filter. Hierarchy operators are resolved by
// traversal and always match here.
func (f conceptFilter) matches(c *Concept) bool {
	if f.Op.IsHierarchy() {
		return true
	}
	values := propertyValues(c, f.Property)
	switch f.Op {
	case OpExists:
		return (len(values) > 0) == f.exists
	case OpEqual:
		for _, v := range values {
			if v == f.Value {
				return true
			}
		}
		return false
	case OpRegex:
		for _, v := range values {
			if f.re.MatchString(v) {
				return true
			}
		}
		return false
	case OpIn:
		for _, v := range values {
			if f.set[v] {
				return true
			}
		}
		return false
	case OpNotIn:
		for _, v := range values {
			if f.set[v] {
				return false
			}
		}
		return true
	}
	return true
}

// matchesAllFilters reports whether a concept satisfies every non-hierarchy filter.
func matchesAllFilters(c *Concept, filters []conceptFilter) bool {
	for _, f := range filters {
		if !f.matches(c) {
			return false
		}
	}
	return true
}

// isConceptInactive reports an inactive=true property or a non-active status.
func isConceptInactive(c *Concept) bool {
	for _, p := range c.Property {
		switch p.Code {
		case "inactive":
			if p.ValueBoolean != nil && *p.ValueBoolean {
				return true
			}
		case "status":
			if s := p.String(); s != "" && !strings.EqualFold(s, "active") {
				return true
			}
		}
	}
	return false
}

// isConceptAbstract reports whether the concept is marked not selectable.
func isConceptAbstract(cs *CodeSystem, c *Concept) bool {
	code := notSelectableProperty
	if cs != nil {
		code = cs.notSelectableCode()
	}
	for _, v := range c.PropertyValues(code) {
		if v.ValueBoolean != nil && *v.ValueBoolean {
			return true
		}
		if v.ValueCode != nil && *v.ValueCode == "true" {
			return true
		}
	}
	return false
}

// shouldIncludeConcept applies the request-level gates: text filter, active
// only and not-for-UI. display is the concept's display as it will be emitted.
func shouldIncludeConcept(vs *ValueSet, cs *CodeSystem, c *Concept, display string, req *ExpandRequest) bool {
	if text := strings.ToLower(strings.TrimSpace(req.Filter)); text != "" {
		if !strings.Contains(strings.ToLower(c.Code), text) && !strings.Contains(strings.ToLower(display), text) {
			return false
		}
	}
	activeOnly := req.activeOnly()
	if vs != nil && vs.Compose != nil && vs.Compose.Inactive != nil && !*vs.Compose.Inactive {
		activeOnly = true
	}
	if activeOnly && isConceptInactive(c) {
		return false
	}
	if req.excludeNotForUI() && isConceptAbstract(cs, c) {
		return false
	}
	return true
}
