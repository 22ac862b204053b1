package terminology

import (
	"strings"
)

// isWildcardVersion reports whether any dot segment of v is "x" or "X".
func isWildcardVersion(v string) bool {
	for _, seg := range strings.Split(v, ".") {
		if seg == "x" || seg == "X" {
			return true
		}
	}
	return false
}

// versionMatches reports whether version satisfies pattern. Wildcard segments
// match anything, and a pattern shorter than the version matches its prefix
// ("1.x" matches "1.2.3").
func versionMatches(pattern, version string) bool {
	if !isWildcardVersion(pattern) {
		return pattern == version
	}
	ps := strings.Split(pattern, ".")
	vs := strings.Split(version, ".")
	if len(vs) < len(ps) {
		return false
	}
	for i, p := range ps {
		if p == "x" || p == "X" {
			continue
		}
		if p != vs[i] {
			return false
		}
	}
	return true
}

// compareVersions orders dotted versions segment by segment using the leading
// integer of each segment, falling back to a string comparison on ties.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y string
		if i < len(as) {
			x = as[i]
		}
		if i < len(bs) {
			y = bs[i]
		}
		xn, yn := leadingInt(x), leadingInt(y)
		switch {
		case xn < yn:
			return -1
		case xn > yn:
			return 1
		}
		if c := strings.Compare(x, y); c != 0 {
			return c
		}
	}
	return 0
}

func leadingInt(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// selectVersion picks one candidate for a requested version:
//   - an exact version must match exactly;
//   - a wildcard picks the highest matching version;
//   - no version picks the highest versioned candidate, and an unversioned
//     candidate only when nothing carries a version.
func selectVersion[T any](candidates []T, versionOf func(T) string, requested string) (T, bool) {
	var best T
	found := false
	bestVersion := ""
	for _, c := range candidates {
		v := versionOf(c)
		switch {
		case requested == "":
		case isWildcardVersion(requested):
			if !versionMatches(requested, v) {
				continue
			}
		default:
			if v != requested {
				continue
			}
			return c, true
		}
		if !found {
			best, bestVersion, found = c, v, true
			continue
		}
		if bestVersion == "" && v != "" || v != "" && compareVersions(v, bestVersion) > 0 {
			best, bestVersion = c, v
		}
	}
	return best, found
}
