// Package safety provides the outlet filter, confirmation tokens and audit
// logging that guard outlet switching.
package safety

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jamesprial/netio-mcp/internal/netio"
)

// Filter controls access to outlets using an allowlist and a denylist of glob
// patterns (as understood by filepath.Match). A pattern is matched against the
// outlet name and against its identifier in the form "output_<n>", both
// case-insensitively.
//
// Rules:
//   - If both lists are empty (or nil), every outlet is allowed.
//   - Denylist always takes priority over the allowlist.
//   - If a non-empty allowlist is present, an outlet must match at least one
//     allowlist pattern to be permitted.
type Filter struct {
	allowlist []string
	denylist  []string
}

// NewFilter constructs a Filter from the provided allowlist and denylist
// pattern slices. Either or both may be nil or empty.
func NewFilter(allowlist, denylist []string) *Filter {
	return &Filter{
		allowlist: lowerAll(allowlist),
		denylist:  lowerAll(denylist),
	}
}

// IsAllowed reports whether any of the given names is permitted. A nil
// filter allows everything.
func (f *Filter) IsAllowed(names ...string) bool {
	if f == nil {
		return true
	}
	for _, pattern := range f.denylist {
		for _, name := range names {
			if matchGlob(pattern, name) {
				return false
			}
		}
	}

	if len(f.allowlist) == 0 {
		return true
	}

	for _, pattern := range f.allowlist {
		for _, name := range names {
			if matchGlob(pattern, name) {
				return true
			}
		}
	}
	return false
}

// Restricts reports whether the filter can refuse any outlet. Only then does
// a decision depend on knowing the outlet's name.
func (f *Filter) Restricts() bool {
	return f != nil && (len(f.allowlist) > 0 || len(f.denylist) > 0)
}

// AllowsOutlet reports whether the outlet may be read or switched.
func (f *Filter) AllowsOutlet(id netio.OutletID, name string) bool {
	return f.IsAllowed(OutletKey(id), name)
}

// FilterOutlets returns the permitted outlets, preserving order.
func (f *Filter) FilterOutlets(outs []netio.OutletState) []netio.OutletState {
	kept := make([]netio.OutletState, 0, len(outs))
	for _, o := range outs {
		if f.AllowsOutlet(o.ID, o.Name) {
			kept = append(kept, o)
		}
	}
	return kept
}

// OutletKey is the identifier form filter patterns can match, e.g. "output_3".
func OutletKey(id netio.OutletID) string {
	return "output_" + strconv.Itoa(int(id))
}

// matchGlob returns true when name matches the given glob pattern.
// filepath.Match errors (malformed patterns) are treated as non-matching.
func matchGlob(pattern, name string) bool {
	matched, err := filepath.Match(pattern, strings.ToLower(name))
	if err != nil {
		return false
	}
	return matched
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
