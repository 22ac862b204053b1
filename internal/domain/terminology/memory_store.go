package terminology

import (
	"context"
	"path"
	"sync"
)

// MemoryStore is an in-process ResourceStore. It is also the cache behind
// the file and remote loaders.
type MemoryStore struct {
	mu          sync.RWMutex
	codeSystems map[string][]*CodeSystem
	valueSets   map[string][]*ValueSet
	csByID      map[string]*CodeSystem
	vsByID      map[string]*ValueSet
	supplements map[string][]*CodeSystem
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		codeSystems: make(map[string][]*CodeSystem),
		valueSets:   make(map[string][]*ValueSet),
		csByID:      make(map[string]*CodeSystem),
		vsByID:      make(map[string]*ValueSet),
		supplements: make(map[string][]*CodeSystem),
	}
}

// AddCodeSystem stores a code system, replacing any with the same url|version.
func (s *MemoryStore) AddCodeSystem(cs *CodeSystem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cs.Supplements != "" {
		target, _ := SplitCanonical(cs.Supplements)
		s.supplements[target] = replaceCodeSystem(s.supplements[target], cs)
	} else {
		s.codeSystems[cs.URL] = replaceCodeSystem(s.codeSystems[cs.URL], cs)
	}
	if cs.ID != "" {
		s.csByID[cs.ID] = cs
	}
}

func replaceCodeSystem(list []*CodeSystem, cs *CodeSystem) []*CodeSystem {
	for i, existing := range list {
		if existing.URL == cs.URL && existing.Version == cs.Version {
			list[i] = cs
			return list
		}
	}
	return append(list, cs)
}

// AddValueSet stores a value set, replacing any with the same url|version.
func (s *MemoryStore) AddValueSet(vs *ValueSet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.valueSets[vs.URL]
	replaced := false
	for i, existing := range list {
		if existing.Version == vs.Version {
			list[i] = vs
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, vs)
	}
	s.valueSets[vs.URL] = list
	if vs.ID != "" {
		s.vsByID[vs.ID] = vs
	}
}

// Counts returns the number of stored code systems (including supplements) and value sets.
func (s *MemoryStore) Counts() (codeSystems, valueSets int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.codeSystems {
		codeSystems += len(l)
	}
	for _, l := range s.supplements {
		codeSystems += len(l)
	}
	for _, l := range s.valueSets {
		valueSets += len(l)
	}
	return codeSystems, valueSets
}

func (s *MemoryStore) FindCodeSystems(_ context.Context, url string) ([]*CodeSystem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*CodeSystem(nil), s.codeSystems[url]...), nil
}

func (s *MemoryStore) FindValueSets(_ context.Context, url string) ([]*ValueSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*ValueSet(nil), s.valueSets[url]...), nil
}

func (s *MemoryStore) GetCodeSystem(_ context.Context, id string) (*CodeSystem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.csByID[id]
	if !ok {
		return nil, notFound("code system %s not found", id)
	}
	return cs, nil
}

func (s *MemoryStore) GetValueSet(_ context.Context, id string) (*ValueSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs, ok := s.vsByID[id]
	if !ok {
		return nil, notFound("value set %s not found", id)
	}
	return vs, nil
}

func (s *MemoryStore) FindSupplements(_ context.Context, systemURL string) ([]*CodeSystem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*CodeSystem(nil), s.supplements[systemURL]...), nil
}

type builtinConcept struct {
	code, display string
}

// RegisterBuiltins loads a small set of common FHIR code systems, each with
// an all-codes value set.
func RegisterBuiltins(s *MemoryStore) {
	register := func(url, name string, concepts []builtinConcept) {
		id := path.Base(url)
		cs := &CodeSystem{
			ResourceType: "CodeSystem",
			ID:           id,
			URL:          url,
			Version:      "4.0.1",
			Name:         name,
			Status:       "active",
			Content:      "complete",
		}
		for _, c := range concepts {
			cs.Concept = append(cs.Concept, &Concept{Code: c.code, Display: c.display})
		}
		s.AddCodeSystem(cs)
		s.AddValueSet(&ValueSet{
			ResourceType: "ValueSet",
			ID:           id,
			URL:          "http://hl7.org/fhir/ValueSet/" + id,
			Version:      "4.0.1",
			Name:         name,
			Title:        name,
			Status:       "active",
			Compose:      &Compose{Include: []ConceptSet{{System: url}}},
		})
	}

	register("http://hl7.org/fhir/observation-status", "ObservationStatus", []builtinConcept{
		{"registered", "Registered"},
		{"preliminary", "Preliminary"},
		{"final", "Final"},
		{"amended", "Amended"},
		{"corrected", "Corrected"},
		{"cancelled", "Cancelled"},
		{"entered-in-error", "Entered in Error"},
		{"unknown", "Unknown"},
	})
	register("http://hl7.org/fhir/administrative-gender", "AdministrativeGender", []builtinConcept{
		{"male", "Male"},
		{"female", "Female"},
		{"other", "Other"},
		{"unknown", "Unknown"},
	})
	register("http://hl7.org/fhir/encounter-status", "EncounterStatus", []builtinConcept{
		{"planned", "Planned"},
		{"arrived", "Arrived"},
		{"triaged", "Triaged"},
		{"in-progress", "In Progress"},
		{"onleave", "On Leave"},
		{"finished", "Finished"},
		{"cancelled", "Cancelled"},
		{"entered-in-error", "Entered in Error"},
		{"unknown", "Unknown"},
	})
	register("http://terminology.hl7.org/CodeSystem/condition-clinical", "ConditionClinicalStatusCodes", []builtinConcept{
		{"active", "Active"},
		{"recurrence", "Recurrence"},
		{"relapse", "Relapse"},
		{"inactive", "Inactive"},
		{"remission", "Remission"},
		{"resolved", "Resolved"},
	})
	register("http://hl7.org/fhir/request-status", "RequestStatus", []builtinConcept{
		{"draft", "Draft"},
		{"active", "Active"},
		{"on-hold", "On Hold"},
		{"revoked", "Revoked"},
		{"completed", "Completed"},
		{"entered-in-error", "Entered in Error"},
		{"unknown", "Unknown"},
	})
	register("http://hl7.org/fhir/publication-status", "PublicationStatus", []builtinConcept{
		{"draft", "Draft"},
		{"active", "Active"},
		{"retired", "Retired"},
		{"unknown", "Unknown"},
	})
}
