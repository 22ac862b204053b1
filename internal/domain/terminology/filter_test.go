package terminology

import (
	"errors"
	"testing"
)

func TestParseFilterOperator(t *testing.T) {
	for _, op := range []string{"=", "equal", "regex", "in", "not-in", "exists", "is-a", "is-not-a", "descendent-of", "descendant-of", "generalizes"} {
		if _, ok := ParseFilterOperator(op); !ok {
			t.Errorf("expected %q to parse", op)
		}
	}
	if _, ok := ParseFilterOperator("child-of"); ok {
		t.Error("expected child-of to be rejected")
	}
	if op, _ := ParseFilterOperator("descendant-of"); op.String() != "descendent-of" || !op.IsHierarchy() {
		t.Errorf("unexpected operator %v", op)
	}
}

func TestCompileFilters_Errors(t *testing.T) {
	_, err := compileFilters([]Filter{
		{Property: "code", Op: "=", Value: "a"},
		{Property: "code", Op: "regex", Value: "[a-"},
	}, "value set x include[2]")
	if !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("expected invalid filter, got %v", err)
	}
	want := `value set x include[2] filter[1]: invalid regex "[a-"`
	if got := err.Error(); len(got) < len(want) || got[:len(want)] != want {
		t.Errorf("unexpected message %q", got)
	}
}

func TestConceptFilterMatches(t *testing.T) {
	c := &Concept{
		Code:       "dog",
		Display:    "Dog",
		Definition: "A canine.",
		Property: []ConceptProperty{
			intProp("legs", 4),
			codeProp("colour", "brown"),
			codeProp("colour", "white"),
		},
	}
	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"equal code", Filter{Property: "code", Op: "=", Value: "dog"}, true},
		{"equal second value", Filter{Property: "colour", Op: "=", Value: "white"}, true},
		{"equal miss", Filter{Property: "colour", Op: "=", Value: "black"}, false},
		{"regex definition", Filter{Property: "definition", Op: "regex", Value: "A .*"}, true},
		{"in", Filter{Property: "colour", Op: "in", Value: "black,brown"}, true},
		{"not-in", Filter{Property: "colour", Op: "not-in", Value: "black,brown"}, false},
		{"not-in absent property", Filter{Property: "size", Op: "not-in", Value: "big"}, true},
		{"exists", Filter{Property: "legs", Op: "exists", Value: "true"}, true},
		{"not exists", Filter{Property: "size", Op: "exists", Value: "true"}, false},
		{"hierarchy always matches", Filter{Property: "concept", Op: "is-a", Value: "cat"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := compileFilters([]Filter{tt.filter}, "test")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := compiled[0].matches(c); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestConceptStatus(t *testing.T) {
	tests := []struct {
		name     string
		props    []ConceptProperty
		inactive bool
		abstract bool
	}{
		{"plain", nil, false, false},
		{"inactive flag", []ConceptProperty{boolProp("inactive", true)}, true, false},
		{"inactive false", []ConceptProperty{boolProp("inactive", false)}, false, false},
		{"retired status", []ConceptProperty{codeProp("status", "retired")}, true, false},
		{"active status", []ConceptProperty{codeProp("status", "Active")}, false, false},
		{"not selectable", []ConceptProperty{boolProp("notSelectable", true)}, false, true},
		{"not selectable code", []ConceptProperty{codeProp("notSelectable", "true")}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Concept{Code: "x", Property: tt.props}
			if got := isConceptInactive(c); got != tt.inactive {
				t.Errorf("inactive: expected %v, got %v", tt.inactive, got)
			}
			if got := isConceptAbstract(nil, c); got != tt.abstract {
				t.Errorf("abstract: expected %v, got %v", tt.abstract, got)
			}
		})
	}
}

func TestIsConceptAbstract_DeclaredProperty(t *testing.T) {
	cs := &CodeSystem{Property: []PropertyDefinition{{Code: "abstract", URI: ConceptPropertiesBase + "notSelectable"}}}
	c := &Concept{Code: "x", Property: []ConceptProperty{boolProp("abstract", true)}}
	if !isConceptAbstract(cs, c) {
		t.Error("expected the declared not-selectable property to be honoured")
	}
}
