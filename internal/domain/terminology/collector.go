package terminology

import (
	"context"
	"fmt"
)

// entryList is an insertion-ordered set of entries keyed by system|code.
type entryList struct {
	entries []*Contains
	seen    map[string]bool
}

func newEntryList() *entryList {
	return &entryList{seen: make(map[string]bool)}
}

func (l *entryList) add(entries ...*Contains) {
	for _, e := range entries {
		if l.seen[e.key()] {
			continue
		}
		l.seen[e.key()] = true
		l.entries = append(l.entries, e)
	}
}

func (l *entryList) remove(keys map[string]bool) {
	if len(keys) == 0 {
		return
	}
	kept := l.entries[:0]
	for _, e := range l.entries {
		if keys[e.key()] {
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
}

// collect resolves the full membership of vs. The chain guard starts empty
// and is empty again on return, whether or not an error occurred.
func (ec *expansionContext) collect(ctx context.Context, vs *ValueSet) ([]*Contains, error) {
	chain := make(map[string]struct{})
	return ec.collectValueSet(ctx, vs, chain)
}

func (ec *expansionContext) collectValueSet(ctx context.Context, vs *ValueSet, chain map[string]struct{}) ([]*Contains, error) {
	key := vs.chainKey()
	if _, ok := chain[key]; ok {
		return nil, cyclicReference(key)
	}
	chain[key] = struct{}{}
	defer delete(chain, key)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if vs.Compose == nil {
		return nil, nil
	}

	out := newEntryList()
	for i, rule := range vs.Compose.Include {
		entries, err := ec.includeRule(ctx, vs, i, rule, chain)
		if err != nil {
			return nil, err
		}
		out.add(entries...)
		if ec.maxSize > 0 && len(out.entries) > ec.maxSize {
			return nil, invalidRequest("value set %s expands to more than %d concepts", vs.chainKey(), ec.maxSize)
		}
	}

	remove := make(map[string]bool)
	for i, rule := range vs.Compose.Exclude {
		keys, err := ec.excludeKeys(ctx, vs, i, rule, chain)
		if err != nil {
			return nil, err
		}
		for k := range keys {
			remove[k] = true
		}
	}
	out.remove(remove)
	return out.entries, nil
}

func ruleLocation(vs *ValueSet, section string, idx int) string {
	name := vs.Canonical()
	if name == "" {
		name = vs.chainKey()
	}
	return fmt.Sprintf("value set %s %s[%d]", name, section, idx)
}

// includeRule collects one include rule. A rule naming both a system and
// value sets yields the concepts of the system that are also members of the
// value sets.
func (ec *expansionContext) includeRule(ctx context.Context, vs *ValueSet, idx int, rule ConceptSet, chain map[string]struct{}) ([]*Contains, error) {
	where := ruleLocation(vs, "include", idx)
	if rule.System == "" && len(rule.ValueSet) == 0 {
		ec.finder.logger.Debug().Str("rule", where).Msg("include rule names neither a system nor a value set")
		return nil, nil
	}

	var fromSystem []*Contains
	if rule.System != "" {
		entries, err := ec.systemEntries(ctx, vs, where, rule)
		if err != nil {
			return nil, err
		}
		fromSystem = entries
	}
	if len(rule.ValueSet) == 0 {
		return fromSystem, nil
	}

	nested := newEntryList()
	for _, ref := range rule.ValueSet {
		entries, err := ec.nestedValueSet(ctx, where, ref, chain)
		if err != nil {
			return nil, err
		}
		nested.add(entries...)
	}
	if rule.System == "" {
		return nested.entries, nil
	}
	var out []*Contains
	for _, e := range fromSystem {
		if nested.seen[e.key()] {
			out = append(out, e)
		}
	}
	return out, nil
}

// nestedValueSet resolves a referenced value set and collects it under the
// same chain guard.
func (ec *expansionContext) nestedValueSet(ctx context.Context, where, ref string, chain map[string]struct{}) ([]*Contains, error) {
	url, version := SplitCanonical(ref)
	if url == "" {
		return nil, invalidRequest("%s: malformed value set reference %q", where, ref)
	}
	if version == "" {
		version = ec.defaultValueSetVersion(url)
	}
	nvs, err := ec.finder.ValueSet(ctx, url, version)
	if err != nil {
		return nil, err
	}
	ec.recordValueSet(nvs)
	return ec.collectValueSet(ctx, nvs, chain)
}

// resolveSystemVersion applies the version precedence for a rule's system:
// force-system-version, check-system-version, the rule's own version, then
// system-version.
func (ec *expansionContext) resolveSystemVersion(where string, rule ConceptSet) (string, versionSource, error) {
	if v, ok := ec.forceVersions[rule.System]; ok {
		return v, sourceForceSystemVersion, nil
	}
	if v, ok := ec.checkVersions[rule.System]; ok {
		if rule.Version != "" {
			if !versionMatches(v, rule.Version) {
				return "", sourceNone, invalidFilter("%s: system %s version %s does not satisfy check-system-version %s", where, rule.System, rule.Version, v)
			}
			return rule.Version, sourceInclude, nil
		}
		return v, sourceCheckSystemVersion, nil
	}
	if rule.Version != "" {
		return rule.Version, sourceInclude, nil
	}
	if v, ok := ec.systemVersions[rule.System]; ok {
		return v, sourceSystemVersion, nil
	}
	return "", sourceNone, nil
}

func (ec *expansionContext) systemEntries(ctx context.Context, vs *ValueSet, where string, rule ConceptSet) ([]*Contains, error) {
	filters, err := compileFilters(rule.Filter, where)
	if err != nil {
		return nil, err
	}
	version, source, err := ec.resolveSystemVersion(where, rule)
	if err != nil {
		return nil, err
	}
	if ec.excludedSystem(rule.System, version) {
		return nil, nil
	}
	cs, err := ec.finder.CodeSystem(ctx, rule.System, version)
	if err != nil {
		return nil, err
	}
	if ec.excludedSystem(cs.URL, cs.Version) {
		return nil, nil
	}
	ec.recordSystem(cs, source, version)

	if len(rule.Concept) > 0 {
		var out []*Contains
		for i := range rule.Concept {
			ref := &rule.Concept[i]
			c := cs.FindConcept(ref.Code)
			if c == nil || !matchesAllFilters(c, filters) {
				continue
			}
			if e := ec.component(ctx, vs, cs, c, ref); e != nil {
				out = append(out, e)
			}
		}
		return out, nil
	}
	return ec.traverse(ctx, vs, cs, filters)
}

func findHierarchy(filters []conceptFilter, op FilterOperator) (conceptFilter, bool) {
	for _, f := range filters {
		if f.Op == op && (f.Property == "concept" || f.Property == "code") {
			return f, true
		}
	}
	return conceptFilter{}, false
}

// parentMap maps each code to its first parent.
func parentMap(cs *CodeSystem) map[string]string {
	parents := make(map[string]string)
	var walk func(parent string, concepts []*Concept)
	walk = func(parent string, concepts []*Concept) {
		for _, c := range concepts {
			if _, ok := parents[c.Code]; !ok {
				parents[c.Code] = parent
			}
			walk(c.Code, c.Concept)
		}
	}
	walk("", cs.Concept)
	return parents
}

// ancestors returns the named concept followed by its ancestors, nearest first.
func ancestors(cs *CodeSystem, code string) []*Concept {
	parents := parentMap(cs)
	visited := make(map[string]bool)
	var out []*Concept
	for code != "" && !visited[code] {
		visited[code] = true
		c := cs.FindConcept(code)
		if c == nil {
			break
		}
		out = append(out, c)
		code = parents[code]
	}
	return out
}

// selectConcepts picks the concepts of cs matching filters. generalizes walks
// the ancestor path; is-a and descendant-of pick the traversal root. Other
// hierarchy operators match every node here.
func selectConcepts(ctx context.Context, cs *CodeSystem, filters []conceptFilter) ([]*Concept, error) {
	var out []*Concept
	if g, ok := findHierarchy(filters, OpGeneralizes); ok {
		for _, c := range ancestors(cs, g.Value) {
			if matchesAllFilters(c, filters) {
				out = append(out, c)
			}
		}
		return out, nil
	}

	roots := cs.Concept
	if f, ok := findHierarchy(filters, OpIsA); ok {
		roots = nil
		if c := cs.FindConcept(f.Value); c != nil {
			roots = []*Concept{c}
		}
	} else if f, ok := findHierarchy(filters, OpDescendantOf); ok {
		roots = nil
		if c := cs.FindConcept(f.Value); c != nil {
			roots = c.Concept
		}
	}

	var walk func([]*Concept) error
	walk = func(concepts []*Concept) error {
		for _, c := range concepts {
			if err := ctx.Err(); err != nil {
				return err
			}
			if matchesAllFilters(c, filters) {
				out = append(out, c)
			}
			if err := walk(c.Concept); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(roots); err != nil {
		return nil, err
	}
	return out, nil
}

func (ec *expansionContext) traverse(ctx context.Context, vs *ValueSet, cs *CodeSystem, filters []conceptFilter) ([]*Contains, error) {
	concepts, err := selectConcepts(ctx, cs, filters)
	if err != nil {
		return nil, err
	}
	var out []*Contains
	for _, c := range concepts {
		if e := ec.component(ctx, vs, cs, c, nil); e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// excludeKeys returns the system|code keys an exclude rule removes.
func (ec *expansionContext) excludeKeys(ctx context.Context, vs *ValueSet, idx int, rule ConceptSet, chain map[string]struct{}) (map[string]bool, error) {
	where := ruleLocation(vs, "exclude", idx)
	keys := make(map[string]bool)

	if rule.System != "" {
		filters, err := compileFilters(rule.Filter, where)
		if err != nil {
			return nil, err
		}
		version, _, err := ec.resolveSystemVersion(where, rule)
		if err != nil {
			return nil, err
		}
		cs, err := ec.finder.CodeSystem(ctx, rule.System, version)
		if err != nil {
			return nil, err
		}
		if len(rule.Concept) > 0 {
			for _, ref := range rule.Concept {
				keys[cs.URL+"|"+ref.Code] = true
			}
		} else {
			concepts, err := excludedConcepts(ctx, cs, filters)
			if err != nil {
				return nil, err
			}
			for _, c := range concepts {
				keys[cs.URL+"|"+c.Code] = true
			}
		}
	}

	for _, ref := range rule.ValueSet {
		entries, err := ec.nestedValueSet(ctx, where, ref, chain)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			keys[e.key()] = true
		}
	}
	return keys, nil
}

// excludedConcepts returns the concepts an exclude rule's filters remove. An
// is-not-a filter removes the named concept with all of its descendants; the
// remaining filters are tested against every concept of the tree.
func excludedConcepts(ctx context.Context, cs *CodeSystem, filters []conceptFilter) ([]*Concept, error) {
	var out, subtrees []*Concept
	rest := make([]conceptFilter, 0, len(filters))
	for _, f := range filters {
		if f.Op != OpIsNotA {
			rest = append(rest, f)
			continue
		}
		if c := cs.FindConcept(f.Value); c != nil {
			subtrees = append(subtrees, c)
		}
	}

	var walk func([]*Concept) error
	walk = func(concepts []*Concept) error {
		for _, c := range concepts {
			if err := ctx.Err(); err != nil {
				return err
			}
			out = append(out, c)
			if err := walk(c.Concept); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(subtrees); err != nil {
		return nil, err
	}

	if len(rest) == 0 && len(filters) > 0 {
		return out, nil
	}
	matched, err := selectConcepts(ctx, cs, rest)
	if err != nil {
		return nil, err
	}
	return append(out, matched...), nil
}
