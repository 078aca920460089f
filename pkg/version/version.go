package version

import (
	"fmt"
	"sort"
	"strings"
)

// Ordering is the causal relation between two versions.
type Ordering int

const (
	Equal Ordering = iota
	Before
	After
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	default:
		return "concurrent"
	}
}

// Vector maps an origin node ID to a monotonically increasing counter.
type Vector map[string]uint64

// Copy returns an independent copy of the vector.
func (v Vector) Copy() Vector {
	out := make(Vector, len(v))
	for k, c := range v {
		out[k] = c
	}
	return out
}

// Compare reports how v relates to o by per-origin dominance.
func (v Vector) Compare(o Vector) Ordering {
	behind, ahead := false, false
	for origin, c := range v {
		oc := o[origin]
		if c > oc {
			ahead = true
		} else if c < oc {
			behind = true
		}
	}
	for origin, oc := range o {
		if _, ok := v[origin]; !ok && oc > 0 {
			behind = true
		}
	}

	switch {
	case ahead && behind:
		return Concurrent
	case ahead:
		return After
	case behind:
		return Before
	default:
		return Equal
	}
}

// Merge returns the per-origin maximum of both vectors.
func (v Vector) Merge(o Vector) Vector {
	out := v.Copy()
	for origin, c := range o {
		if c > out[origin] {
			out[origin] = c
		}
	}
	return out
}

// String renders the vector in canonical (sorted) form.
func (v Vector) String() string {
	origins := make([]string, 0, len(v))
	for origin := range v {
		origins = append(origins, origin)
	}
	sort.Strings(origins)

	var sb strings.Builder
	for i, origin := range origins {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%s:%d", origin, v[origin])
	}
	return sb.String()
}

// Version identifies a single write of a key. An empty Vector selects the
// reduced timestamp+origin mode.
type Version struct {
	Vector    Vector `json:"vector,omitempty"`
	Timestamp int64  `json:"ts"`
	Origin    string `json:"origin"`
}

// IsZero reports whether v carries no version information at all.
func (v Version) IsZero() bool {
	return len(v.Vector) == 0 && v.Timestamp == 0 && v.Origin == ""
}

// Bump derives the next version written by origin at wall time now.
// The timestamp never moves backwards relative to the base version.
func (v Version) Bump(origin string, now int64) Version {
	next := Version{
		Vector:    v.Vector.Copy(),
		Timestamp: now,
		Origin:    origin,
	}
	next.Vector[origin]++
	if next.Timestamp <= v.Timestamp {
		next.Timestamp = v.Timestamp + 1
	}
	return next
}

func (v Version) String() string {
	return fmt.Sprintf("{%s}@%d/%s", v.Vector.String(), v.Timestamp, v.Origin)
}

// Compare orders a against b. Vector dominance decides first; versions with
// equal vectors but different write identity are concurrent.
func Compare(a, b Version) Ordering {
	ord := a.Vector.Compare(b.Vector)
	if ord != Equal {
		return ord
	}
	if a.Timestamp == b.Timestamp && a.Origin == b.Origin {
		return Equal
	}
	return Concurrent
}

// Newer reports whether a must replace b. Concurrent versions are settled
// by tieBreak so every node picks the same winner.
func Newer(a, b Version) bool {
	switch Compare(a, b) {
	case After:
		return true
	case Concurrent:
		return tieBreak(a, b) > 0
	default:
		return false
	}
}

// Resolve returns the index of the winning version, or -1 for an empty input.
// The winner is chosen among versions not dominated by any other, so the
// result does not depend on input order.
func Resolve(versions []Version) int {
	winner := -1
	for i, candidate := range versions {
		if dominated(candidate, versions) {
			continue
		}
		if winner == -1 || tieBreak(candidate, versions[winner]) > 0 {
			winner = i
		}
	}
	return winner
}

func dominated(v Version, all []Version) bool {
	for _, other := range all {
		if Compare(other, v) == After {
			return true
		}
	}
	return false
}

// tieBreak: higher timestamp, then higher origin, then higher canonical vector.
func tieBreak(a, b Version) int {
	switch {
	case a.Timestamp > b.Timestamp:
		return 1
	case a.Timestamp < b.Timestamp:
		return -1
	}
	if c := strings.Compare(a.Origin, b.Origin); c != 0 {
		return c
	}
	return strings.Compare(a.Vector.String(), b.Vector.String())
}
