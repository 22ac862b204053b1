package terminology

import (
	"time"

	"github.com/rs/zerolog"
)

const (
	animalsURL   = "http://example.org/cs/animals"
	versionedURL = "http://example.org/cs/versioned"

	vsAllURL       = "http://example.org/vs/all"
	vsMammalsURL   = "http://example.org/vs/mammals"
	vsNestedURL    = "http://example.org/vs/nested"
	vsCycleAURL    = "http://example.org/vs/cycle-a"
	vsCycleBURL    = "http://example.org/vs/cycle-b"
	vsVersionedURL = "http://example.org/vs/versioned"
	vsPickedURL    = "http://example.org/vs/picked"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func boolProp(code string, b bool) ConceptProperty {
	return ConceptProperty{Code: code, TypedValue: TypedValue{ValueBoolean: boolPtr(b)}}
}

func codeProp(code, v string) ConceptProperty {
	return ConceptProperty{Code: code, TypedValue: TypedValue{ValueCode: strPtr(v)}}
}

func intProp(code string, i int) ConceptProperty {
	return ConceptProperty{Code: code, TypedValue: TypedValue{ValueInteger: intPtr(i)}}
}

// animalsCodeSystem is a small tree:
//
//	animal (abstract)
//	  mammal
//	    dog
//	    cat (retired)
//	  bird
//	    eagle
func animalsCodeSystem() *CodeSystem {
	return &CodeSystem{
		ResourceType: "CodeSystem",
		ID:           "animals",
		URL:          animalsURL,
		Version:      "1.0.0",
		Name:         "Animals",
		Status:       "active",
		Content:      "complete",
		Language:     "en",
		Property: []PropertyDefinition{
			{Code: "notSelectable", URI: ConceptPropertiesBase + "notSelectable", Type: "boolean"},
			{Code: "status", URI: ConceptPropertiesBase + "status", Type: "code"},
			{Code: "legs", Type: "integer"},
		},
		Concept: []*Concept{
			{
				Code:     "animal",
				Display:  "Animal",
				Property: []ConceptProperty{boolProp("notSelectable", true)},
				Concept: []*Concept{
					{
						Code:        "mammal",
						Display:     "Mammal",
						Designation: []Designation{{Language: "de", Value: "Säugetier"}},
						Concept: []*Concept{
							{
								Code:       "dog",
								Display:    "Dog",
								Definition: "A domesticated canine.",
								Designation: []Designation{
									{Language: "de", Value: "Hund"},
									{Language: "fr-CA", Value: "Chien"},
								},
								Property: []ConceptProperty{intProp("legs", 4)},
							},
							{
								Code:     "cat",
								Display:  "Cat",
								Property: []ConceptProperty{codeProp("status", "retired"), intProp("legs", 4)},
							},
						},
					},
					{
						Code:    "bird",
						Display: "Bird",
						Concept: []*Concept{
							{Code: "eagle", Display: "Eagle", Property: []ConceptProperty{intProp("legs", 2)}},
						},
					},
				},
			},
		},
	}
}

func versionedCodeSystems() []*CodeSystem {
	return []*CodeSystem{
		{
			ResourceType: "CodeSystem",
			ID:           "versioned-1",
			URL:          versionedURL,
			Version:      "1.0.0",
			Status:       "active",
			Content:      "complete",
			Concept:      []*Concept{{Code: "a", Display: "A"}},
		},
		{
			ResourceType: "CodeSystem",
			ID:           "versioned-2",
			URL:          versionedURL,
			Version:      "2.0.0",
			Status:       "draft",
			Content:      "complete",
			Concept:      []*Concept{{Code: "a", Display: "A"}, {Code: "b", Display: "B"}},
		},
	}
}

func animalsSupplement() *CodeSystem {
	return &CodeSystem{
		ResourceType: "CodeSystem",
		ID:           "animals-es",
		URL:          "http://example.org/cs/animals-es",
		Version:      "1",
		Status:       "active",
		Content:      "supplement",
		Supplements:  animalsURL + "|1.0.0",
		Concept: []*Concept{
			{
				Code:        "dog",
				Designation: []Designation{{Language: "es", Value: "Perro"}},
				Property:    []ConceptProperty{intProp("legs", 3)},
			},
		},
	}
}

func valueSet(id, url string, compose *Compose) *ValueSet {
	return &ValueSet{
		ResourceType: "ValueSet",
		ID:           id,
		URL:          url,
		Version:      "1",
		Status:       "active",
		Compose:      compose,
	}
}

func newTestStore() *MemoryStore {
	s := NewMemoryStore()
	s.AddCodeSystem(animalsCodeSystem())
	for _, cs := range versionedCodeSystems() {
		s.AddCodeSystem(cs)
	}
	s.AddValueSet(valueSet("all", vsAllURL, &Compose{
		Include: []ConceptSet{{System: animalsURL}},
	}))
	s.AddValueSet(valueSet("mammals", vsMammalsURL, &Compose{
		Include: []ConceptSet{{
			System: animalsURL,
			Filter: []Filter{{Property: "concept", Op: "is-a", Value: "mammal"}},
		}},
	}))
	s.AddValueSet(valueSet("nested", vsNestedURL, &Compose{
		Include: []ConceptSet{{ValueSet: []string{vsMammalsURL}}},
		Exclude: []ConceptSet{{System: animalsURL, Concept: []ConceptReference{{Code: "cat"}}}},
	}))
	s.AddValueSet(valueSet("cycle-a", vsCycleAURL, &Compose{
		Include: []ConceptSet{{ValueSet: []string{vsCycleBURL}}},
	}))
	s.AddValueSet(valueSet("cycle-b", vsCycleBURL, &Compose{
		Include: []ConceptSet{{ValueSet: []string{vsCycleAURL}}},
	}))
	s.AddValueSet(valueSet("versioned", vsVersionedURL, &Compose{
		Include: []ConceptSet{{System: versionedURL}},
	}))
	s.AddValueSet(valueSet("picked", vsPickedURL, &Compose{
		Include: []ConceptSet{{
			System: animalsURL,
			Concept: []ConceptReference{
				{Code: "eagle"},
				{
					Code:    "dog",
					Display: "Good Dog",
					Extension: []Extension{
						{URL: ExtValueSetLabel, TypedValue: TypedValue{ValueString: strPtr("a)")}},
					},
				},
				{Code: "unicorn"},
			},
		}},
	}))
	return s
}

func newTestService(opts ...Option) *Service {
	return newTestServiceWithStore(newTestStore(), opts...)
}

func newTestServiceWithStore(store ResourceStore, opts ...Option) *Service {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewService(store, zerolog.Nop(), opts...)
}

func codes(vs *ValueSet) []string {
	var out []string
	for _, c := range vs.Expansion.Contains {
		out = append(out, c.Code)
	}
	return out
}

func paramNames(vs *ValueSet) []string {
	var out []string
	for _, p := range vs.Expansion.Parameter {
		out = append(out, p.Name)
	}
	return out
}

func paramValues(vs *ValueSet, name string) []string {
	var out []string
	for _, p := range vs.Expansion.Parameter {
		if p.Name == name {
			out = append(out, p.String())
		}
	}
	return out
}

func entry(vs *ValueSet, code string) *Contains {
	for _, c := range vs.Expansion.Contains {
		if c.Code == code {
			return c
		}
	}
	return nil
}

func propertyCodes(c *Contains) []string {
	var out []string
	for _, ext := range c.Extension {
		if ext.URL != ExtContainsProperty {
			continue
		}
		for _, sub := range ext.Extension {
			if sub.URL == "code" {
				out = append(out, sub.String())
			}
		}
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
