package terminology

import (
	"context"
	"strings"

	"golang.org/x/exp/slices"
)

// ExpandRequest carries the caller's $expand parameters. It is built once per
// call and not modified by the engine; per-call state lives in expansionContext.
type ExpandRequest struct {
	// Target: inline value set, resource id, or canonical url (+ version).
	ValueSet        *ValueSet
	ValueSetID      string
	URL             string
	ValueSetVersion string

	Filter              string
	Offset              *int
	Count               *int
	IncludeDesignations *bool
	Designations        []string
	IncludeDefinition   *bool
	ActiveOnly          *bool
	ExcludeNested       *bool
	ExcludeNotForUI     *bool
	DisplayLanguage     string
	Date                string

	// Canonical "url" or "url|version" lists.
	ExcludeSystem          []string
	SystemVersion          []string
	CheckSystemVersion     []string
	ForceSystemVersion     []string
	DefaultValueSetVersion []string

	Properties []string

	// Side-channel resources consulted before the store.
	TxCodeSystems []*CodeSystem
	TxValueSets   []*ValueSet
}

func flag(b *bool) bool { return b != nil && *b }

func (r *ExpandRequest) activeOnly() bool          { return flag(r.ActiveOnly) }
func (r *ExpandRequest) excludeNotForUI() bool     { return flag(r.ExcludeNotForUI) }
func (r *ExpandRequest) includeDesignations() bool { return flag(r.IncludeDesignations) }

// requestedProperties returns the property codes to emit, in request order,
// with "definition" appended when includeDefinition is set.
func (r *ExpandRequest) requestedProperties() []string {
	props := append([]string(nil), r.Properties...)
	if flag(r.IncludeDefinition) && !slices.Contains(props, "definition") {
		props = append(props, "definition")
	}
	return props
}

// versionMap turns a list of "url|version" canonicals into url -> version.
// The first entry for a url wins.
func versionMap(canonicals []string) map[string]string {
	m := make(map[string]string, len(canonicals))
	for _, c := range canonicals {
		url, version := SplitCanonical(c)
		if url == "" || version == "" {
			continue
		}
		if _, ok := m[url]; !ok {
			m[url] = version
		}
	}
	return m
}

// versionSource records which input decided a code system version.
type versionSource int

const (
	sourceNone versionSource = iota
	sourceInclude
	sourceSystemVersion
	sourceCheckSystemVersion
	sourceForceSystemVersion
)

// expansionContext holds the mutable, request-scoped caches and the ledger
// of what was used while collecting. It must not be shared across requests.
type expansionContext struct {
	req     *ExpandRequest
	finder  *Finder
	maxSize int

	languages       []LanguagePreference
	languagesParsed bool

	forceVersions  map[string]string
	checkVersions  map[string]string
	systemVersions map[string]string
	defaultVSVers  map[string]string

	supplements map[string][]*CodeSystem

	// Server-generated parameters in discovery order.
	parameters []Parameter
	seenParams map[string]bool

	usedSystems   []*CodeSystem
	usedOverrides map[string]bool
}

func newExpansionContext(req *ExpandRequest, finder *Finder) *expansionContext {
	return &expansionContext{
		req:            req,
		finder:         finder,
		forceVersions:  versionMap(req.ForceSystemVersion),
		checkVersions:  versionMap(req.CheckSystemVersion),
		systemVersions: versionMap(req.SystemVersion),
		supplements:    make(map[string][]*CodeSystem),
		seenParams:     make(map[string]bool),
		usedOverrides:  make(map[string]bool),
	}
}

func (ec *expansionContext) languagePreferences() []LanguagePreference {
	if !ec.languagesParsed {
		ec.languages = ParseLanguagePreferences(ec.req.DisplayLanguage)
		ec.languagesParsed = true
	}
	return ec.languages
}

func (ec *expansionContext) defaultValueSetVersion(url string) string {
	if ec.defaultVSVers == nil {
		ec.defaultVSVers = versionMap(ec.req.DefaultValueSetVersion)
	}
	return ec.defaultVSVers[url]
}

// supplementsFor returns the supplements of a code system, resolving them once.
func (ec *expansionContext) supplementsFor(ctx context.Context, systemURL string) []*CodeSystem {
	if s, ok := ec.supplements[systemURL]; ok {
		return s
	}
	s := ec.finder.Supplements(ctx, systemURL)
	ec.supplements[systemURL] = s
	for _, supp := range s {
		ec.addParameter(Parameter{Name: "used-supplement", TypedValue: TypedValue{ValueCanonical: strPtr(supp.Canonical())}})
	}
	return s
}

// addParameter appends a server-generated parameter once per name/value.
func (ec *expansionContext) addParameter(p Parameter) {
	key := p.Name + "=" + p.String()
	if ec.seenParams[key] {
		return
	}
	ec.seenParams[key] = true
	ec.parameters = append(ec.parameters, p)
}

// recordSystem notes that a code system version contributed to the expansion
// and attaches its status warnings once per url|version.
func (ec *expansionContext) recordSystem(cs *CodeSystem, source versionSource, requested string) {
	canon := cs.Canonical()
	if !ec.seenParams["used-codesystem="+canon] {
		ec.usedSystems = append(ec.usedSystems, cs)
	}
	ec.addParameter(Parameter{Name: "used-codesystem", TypedValue: TypedValue{ValueURI: strPtr(canon)}})
	switch source {
	case sourceSystemVersion:
		ec.usedOverrides[cs.URL+"|"+requested] = true
	case sourceForceSystemVersion:
		ec.addParameter(Parameter{Name: "version", TypedValue: TypedValue{ValueURI: strPtr(canon)}})
	}
	ec.addStatusWarnings(canon, cs.Status, cs.Experimental, cs.Extension)
}

// recordValueSet notes a nested value set used during collection.
func (ec *expansionContext) recordValueSet(vs *ValueSet) {
	ec.addParameter(Parameter{Name: "used-valueset", TypedValue: TypedValue{ValueURI: strPtr(vs.Canonical())}})
	if standardsStatus(vs.Extension) == "withdrawn" {
		ec.addParameter(Parameter{Name: "warning-withdrawn", TypedValue: TypedValue{ValueURI: strPtr(vs.Canonical())}})
	}
}

func (ec *expansionContext) addStatusWarnings(canon, status string, experimental *bool, exts []Extension) {
	if status == "draft" {
		ec.addParameter(Parameter{Name: "warning-draft", TypedValue: TypedValue{ValueURI: strPtr(canon)}})
	}
	if flag(experimental) {
		ec.addParameter(Parameter{Name: "warning-experimental", TypedValue: TypedValue{ValueURI: strPtr(canon)}})
	}
	switch standardsStatus(exts) {
	case "withdrawn":
		ec.addParameter(Parameter{Name: "warning-withdrawn", TypedValue: TypedValue{ValueURI: strPtr(canon)}})
	case "deprecated":
		ec.addParameter(Parameter{Name: "warning-deprecated", TypedValue: TypedValue{ValueURI: strPtr(canon)}})
	}
}

// excludedSystem reports whether the caller asked to drop this system.
func (ec *expansionContext) excludedSystem(url, version string) bool {
	for _, ref := range ec.req.ExcludeSystem {
		u, v := SplitCanonical(ref)
		if u != url {
			continue
		}
		if v == "" || v == version || (isWildcardVersion(v) && versionMatches(v, version)) {
			return true
		}
	}
	return false
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
