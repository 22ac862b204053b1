package terminology

import (
	"math"
	"strings"

	"golang.org/x/exp/slices"
	"golang.org/x/text/language"
)

const wildcardLanguage = "*"

// LanguagePreference is one entry of a display-language priority list.
type LanguagePreference struct {
	Tag     string
	Quality float64
}

// IsWildcard reports whether the preference is "*".
func (p LanguagePreference) IsWildcard() bool { return p.Tag == wildcardLanguage }

// ParseLanguagePreferences parses an Accept-Language style string such as
// "fr-CA, fr;q=0.8, *;q=0" into preferences ordered by descending quality.
// Malformed entries are dropped without discarding the rest of the list. A
// "*;q=0" entry is kept with quality zero because it suppresses fallback
// displays.
func ParseLanguagePreferences(s string) []LanguagePreference {
	tags, weights, err := language.ParseAcceptLanguage(s)
	if err != nil {
		tags, weights = nil, nil
		for _, entry := range strings.Split(s, ",") {
			entry = compactEntry(entry)
			if entry == "" {
				continue
			}
			t, w, err := language.ParseAcceptLanguage(entry)
			if err != nil {
				continue
			}
			tags = append(tags, t...)
			weights = append(weights, w...)
		}
	}

	prefs := make([]LanguagePreference, 0, len(tags)+1)
	for i, t := range tags {
		tag := t.String()
		if tag == "mul" {
			tag = wildcardLanguage
		}
		// q-values carry at most three decimals.
		q := math.Round(float64(weights[i])*1000) / 1000
		prefs = append(prefs, LanguagePreference{Tag: tag, Quality: q})
	}
	if zeroWeightWildcard(s) {
		prefs = append(prefs, LanguagePreference{Tag: wildcardLanguage, Quality: 0})
	}
	slices.SortStableFunc(prefs, func(a, b LanguagePreference) int {
		switch {
		case a.Quality > b.Quality:
			return -1
		case a.Quality < b.Quality:
			return 1
		}
		return 0
	})
	return prefs
}

// zeroWeightWildcard reports whether s holds a "*" entry with quality zero.
// ParseAcceptLanguage drops zero-weight entries, so such an entry parses
// cleanly to no tags at all.
func zeroWeightWildcard(s string) bool {
	for _, entry := range strings.Split(s, ",") {
		entry = compactEntry(entry)
		if tag, _, _ := strings.Cut(entry, ";"); tag != wildcardLanguage {
			continue
		}
		if tags, _, err := language.ParseAcceptLanguage(entry); err == nil && len(tags) == 0 {
			return true
		}
	}
	return false
}

// compactEntry removes the whitespace an entry may carry around its ";"
// separators. Language tags never contain whitespace.
func compactEntry(entry string) string {
	return strings.Join(strings.Fields(entry), "")
}

type languageMatch int

const (
	matchNone languageMatch = iota
	matchExact
	matchChild
	matchParent
)

// matchLanguage compares a requested tag with an available one. A child match
// means the available tag refines the requested one (en -> en-US); a parent
// match means it generalises it (en-US -> en).
func matchLanguage(requested, available string) languageMatch {
	if requested == "" || available == "" {
		return matchNone
	}
	r := strings.ToLower(requested)
	a := strings.ToLower(available)
	switch {
	case r == a:
		return matchExact
	case strings.HasPrefix(a, r+"-"):
		return matchChild
	case strings.HasPrefix(r, a+"-"):
		return matchParent
	}
	return matchNone
}

// suppressesFallback reports whether any wildcard preference has quality zero.
func suppressesFallback(prefs []LanguagePreference) bool {
	for _, p := range prefs {
		if p.IsWildcard() && p.Quality == 0 {
			return true
		}
	}
	return false
}

// findDesignation searches designations for the first match of lang, trying
// exact, then child, then parent matches.
func findDesignation(designations []Designation, lang string) (int, bool) {
	for _, kind := range []languageMatch{matchExact, matchChild, matchParent} {
		for i, d := range designations {
			if matchLanguage(lang, d.Language) == kind {
				return i, true
			}
		}
	}
	return -1, false
}
