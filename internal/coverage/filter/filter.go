// Package filter decides which loaded modules the coverage engine tracks.
package filter

import "strings"

// DefaultAllowList is used when no allow-list is configured.
const DefaultAllowList = "CodeCoverage.Example.dll"

// ContainsPath reports whether candidate exactly equals one entry of the
// comma-separated allowList. Matching is case-sensitive and entries are not
// trimmed.
func ContainsPath(candidate, allowList string) bool {
	if candidate == "" {
		return false
	}
	for allowList != "" {
		entry, rest, _ := strings.Cut(allowList, ",")
		if entry == candidate {
			return true
		}
		allowList = rest
	}
	return false
}

// Filter accepts modules whose file name appears in an allow-list.
type Filter struct {
	allowList string
}

// New returns a filter for allowList. An empty allowList falls back to
// DefaultAllowList.
func New(allowList string) *Filter {
	if allowList == "" {
		allowList = DefaultAllowList
	}
	return &Filter{allowList: allowList}
}

// FromEntries joins entries into an allow-list filter.
func FromEntries(entries []string) *Filter {
	return New(strings.Join(entries, ","))
}

// AllowList returns the raw allow-list the filter matches against.
func (f *Filter) AllowList() string { return f.allowList }

// Accept reports whether the module loaded from path should be tracked.
// Only the file name is compared.
func (f *Filter) Accept(path string) bool {
	return ContainsPath(BaseName(path), f.allowList)
}

// BaseName returns the last element of a load path. Both slash and
// backslash separators are recognized since runtimes report native paths.
func BaseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
