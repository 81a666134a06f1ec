package messagestore

import (
	"sort"
	"strconv"
	"strings"
)

// parseVersion splits a "x.y" style version into its two integer parts,
// the Go equivalent of distutils.version.StrictVersion used by the
// original for message API version comparisons.
func parseVersion(v string) (major, minor int) {
	parts := strings.SplitN(v, ".", 2)
	major, _ = strconv.Atoi(parts[0])
	if len(parts) > 1 {
		minor, _ = strconv.Atoi(parts[1])
	}
	return major, minor
}

// isVersionHigherOrEqual reports whether v1 >= v2 under (major, minor)
// comparison, matching is_version_higher's >= semantics despite the name.
func isVersionHigherOrEqual(v1, v2 string) bool {
	maj1, min1 := parseVersion(v1)
	maj2, min2 := parseVersion(v2)
	if maj1 != maj2 {
		return maj1 > maj2
	}
	return min1 >= min2
}

// sortVersions orders versions from highest to lowest.
func sortVersions(versions []string) []string {
	out := append([]string(nil), versions...)
	sort.Slice(out, func(i, j int) bool {
		maji, mini := parseVersion(out[i])
		majj, minj := parseVersion(out[j])
		if maji != majj {
			return maji > majj
		}
		return mini > minj
	})
	return out
}
