package terminology

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

// Service implements $expand, $lookup and $validate-code over a ResourceStore.
// It holds no per-request state and is safe for concurrent use.
type Service struct {
	store            ResourceStore
	logger           zerolog.Logger
	maxExpansionSize int
	now              func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMaxExpansionSize rejects expansions with more than n concepts. Zero disables the limit.
func WithMaxExpansionSize(n int) Option {
	return func(s *Service) { s.maxExpansionSize = n }
}

// WithClock overrides the expansion timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a terminology service.
func NewService(store ResourceStore, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: logger.With().Str("component", "terminology").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) finder(txCodeSystems []*CodeSystem, txValueSets []*ValueSet) *Finder {
	return NewFinder(s.store, txCodeSystems, txValueSets, s.logger)
}

func validateExpandRequest(req *ExpandRequest) error {
	if req.ValueSet == nil && req.ValueSetID == "" && req.URL == "" {
		return invalidRequest("a value set, id or url is required")
	}
	if req.Offset != nil && *req.Offset < 0 {
		return invalidRequest("offset must not be negative, got %d", *req.Offset)
	}
	for _, list := range [][]string{req.SystemVersion, req.CheckSystemVersion, req.ForceSystemVersion} {
		for _, ref := range list {
			if url, version := SplitCanonical(ref); url == "" || version == "" {
				return invalidRequest("malformed version override %q, expected system|version", ref)
			}
		}
	}
	return nil
}

func (s *Service) resolveTarget(ctx context.Context, f *Finder, req *ExpandRequest) (*ValueSet, error) {
	switch {
	case req.ValueSet != nil:
		return req.ValueSet, nil
	case req.ValueSetID != "":
		return f.ValueSetByID(ctx, req.ValueSetID)
	default:
		url, version := SplitCanonical(req.URL)
		if req.ValueSetVersion != "" {
			version = req.ValueSetVersion
		}
		return f.ValueSet(ctx, url, version)
	}
}

// Expand materialises the value set named by req.
func (s *Service) Expand(ctx context.Context, req *ExpandRequest) (*ValueSet, error) {
	if err := validateExpandRequest(req); err != nil {
		return nil, err
	}
	f := s.finder(req.TxCodeSystems, req.TxValueSets)
	vs, err := s.resolveTarget(ctx, f, req)
	if err != nil {
		return nil, err
	}

	ec := newExpansionContext(req, f)
	ec.maxSize = s.maxExpansionSize
	entries, err := ec.collect(ctx, vs)
	if err != nil {
		s.logger.Debug().Err(err).Str("valueset", vs.chainKey()).Msg("expansion failed")
		return nil, err
	}
	result, err := ec.assemble(vs, entries, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Debug().
		Str("valueset", vs.chainKey()).
		Int("total", result.Expansion.Total).
		Int("returned", len(result.Expansion.Contains)).
		Msg("value set expanded")
	return result, nil
}

// LookupRequest names a concept to look up.
type LookupRequest struct {
	Code            string
	System          string
	Version         string
	Coding          *Coding
	DisplayLanguage string
	Properties      []string
	TxCodeSystems   []*CodeSystem
}

// LookupResult describes a concept.
type LookupResult struct {
	Name        string
	Version     string
	Display     string
	Definition  string
	Abstract    bool
	Inactive    bool
	Designation []Designation
	Property    []ConceptProperty
}

// Lookup returns the details of a single concept.
func (s *Service) Lookup(ctx context.Context, req *LookupRequest) (*LookupResult, error) {
	code, system, version := req.Code, req.System, req.Version
	if req.Coding != nil {
		code, system = req.Coding.Code, req.Coding.System
		if req.Coding.Version != "" {
			version = req.Coding.Version
		}
	}
	if code == "" {
		return nil, invalidRequest("code or coding is required")
	}
	if system == "" {
		return nil, invalidRequest("system is required")
	}

	f := s.finder(req.TxCodeSystems, nil)
	cs, err := f.CodeSystem(ctx, system, version)
	if err != nil {
		return nil, err
	}
	c := cs.FindConcept(code)
	if c == nil {
		return nil, notFound("code %q not found in %s", code, cs.Canonical())
	}

	ec := newExpansionContext(&ExpandRequest{DisplayLanguage: req.DisplayLanguage}, f)
	merged := mergeSupplements(c, ec.supplementsFor(ctx, cs.URL))
	display, _ := ec.negotiateDisplay(cs, merged)

	name := cs.Name
	if name == "" {
		name = cs.Title
	}
	result := &LookupResult{
		Name:        name,
		Version:     cs.Version,
		Display:     display,
		Definition:  merged.Definition,
		Abstract:    isConceptAbstract(cs, merged),
		Inactive:    isConceptInactive(merged),
		Designation: merged.Designation,
	}
	for _, p := range merged.Property {
		if len(req.Properties) == 0 || slices.Contains(req.Properties, p.Code) {
			result.Property = append(result.Property, p)
		}
	}
	return result, nil
}

// ValidateRequest checks a code against a code system or a value set.
type ValidateRequest struct {
	Code         string
	System       string
	Version      string
	Display      string
	CodeSystemID string

	// Value set membership; any one of these switches to value set validation.
	ValueSet        *ValueSet
	ValueSetID      string
	ValueSetURL     string
	ValueSetVersion string

	DisplayLanguage string
	TxCodeSystems   []*CodeSystem
	TxValueSets     []*ValueSet
}

func (r *ValidateRequest) againstValueSet() bool {
	return r.ValueSet != nil || r.ValueSetID != "" || r.ValueSetURL != ""
}

// ValidateResult is the outcome of a validation. An unknown code is a false
// result, not an error.
type ValidateResult struct {
	Result  bool
	Code    string
	System  string
	Version string
	Display string
	Message string
}

// ValidateCode checks whether a code exists and, if a display is given,
// whether it matches.
func (s *Service) ValidateCode(ctx context.Context, req *ValidateRequest) (*ValidateResult, error) {
	if req.Code == "" {
		return nil, invalidRequest("code is required")
	}
	if req.againstValueSet() {
		return s.validateInValueSet(ctx, req)
	}
	if req.System == "" && req.CodeSystemID == "" {
		return nil, invalidRequest("system or code system id is required")
	}

	f := s.finder(req.TxCodeSystems, req.TxValueSets)
	var cs *CodeSystem
	var err error
	if req.CodeSystemID != "" {
		cs, err = f.CodeSystemByID(ctx, req.CodeSystemID)
	} else {
		cs, err = f.CodeSystem(ctx, req.System, req.Version)
	}
	if err != nil {
		return nil, err
	}

	result := &ValidateResult{Code: req.Code, System: cs.URL, Version: cs.Version}
	c := cs.FindConcept(req.Code)
	if c == nil {
		result.Message = fmt.Sprintf("Unknown code %q in code system %s", req.Code, cs.Canonical())
		return result, nil
	}
	result.Result = true
	result.Display = c.Display
	checkDisplay(result, req.Display)
	return result, nil
}

func (s *Service) validateInValueSet(ctx context.Context, req *ValidateRequest) (*ValidateResult, error) {
	expansion, err := s.Expand(ctx, &ExpandRequest{
		ValueSet:        req.ValueSet,
		ValueSetID:      req.ValueSetID,
		URL:             req.ValueSetURL,
		ValueSetVersion: req.ValueSetVersion,
		DisplayLanguage: req.DisplayLanguage,
		TxCodeSystems:   req.TxCodeSystems,
		TxValueSets:     req.TxValueSets,
	})
	if err != nil {
		return nil, err
	}

	result := &ValidateResult{Code: req.Code, System: req.System}
	for _, e := range expansion.Expansion.Contains {
		if e.Code != req.Code || req.System != "" && e.System != req.System {
			continue
		}
		result.Result = true
		result.System = e.System
		result.Version = e.Version
		result.Display = e.Display
		checkDisplay(result, req.Display)
		return result, nil
	}
	name := expansion.Canonical()
	if name == "" {
		name = "ValueSet/" + expansion.ID
	}
	result.Message = fmt.Sprintf("Code %q is not in value set %s", req.Code, name)
	return result, nil
}

func checkDisplay(result *ValidateResult, display string) {
	if display == "" || display == result.Display {
		return
	}
	result.Result = false
	result.Message = fmt.Sprintf("Display %q does not match expected display %q for code %q", display, result.Display, result.Code)
}
