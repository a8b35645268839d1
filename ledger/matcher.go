package ledger

import (
	"github.com/agnivade/levenshtein"
)

// Matcher finds the tracked key a new message should be folded into.
// It is not safe for concurrent use; the Ledger serializes access.
type Matcher struct {
	threshold  float64
	keys       []string
	index      map[string]struct{}
	generation uint64
}

// NewMatcher returns an empty matcher. threshold is clamped to [0,1].
func NewMatcher(threshold float64) *Matcher {
	return &Matcher{
		threshold: clampThreshold(threshold),
		index:     make(map[string]struct{}),
	}
}

func clampThreshold(t float64) float64 {
	switch {
	case t != t, t < 0: // NaN or negative
		return 0
	case t > 1:
		return 1
	}
	return t
}

// Threshold returns the active sensitivity.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Len reports how many keys are searchable.
func (m *Matcher) Len() int { return len(m.keys) }

// Keys returns the tracked keys in registration order.
func (m *Matcher) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Has reports whether key is tracked.
func (m *Matcher) Has(key string) bool {
	_, ok := m.index[key]
	return ok
}

// Register adds key to the index. Registering a tracked key is a no-op.
func (m *Matcher) Register(key string) {
	if key == "" {
		return
	}
	if _, ok := m.index[key]; ok {
		return
	}
	m.index[key] = struct{}{}
	m.keys = append(m.keys, key)
}

// Unregister removes key from the index. Unknown keys are ignored.
func (m *Matcher) Unregister(key string) {
	if _, ok := m.index[key]; !ok {
		return
	}
	delete(m.index, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Generation counts how many times the index has been rebuilt.
func (m *Matcher) Generation() uint64 { return m.generation }

// Rebuild replaces the whole index and the threshold.
func (m *Matcher) Rebuild(keys []string, threshold float64) {
	m.generation++
	m.threshold = clampThreshold(threshold)
	m.keys = m.keys[:0]
	m.index = make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m.Register(k)
	}
}

// Lookup returns the best tracked key for candidate, if any scores within the threshold.
func (m *Matcher) Lookup(candidate string) (string, bool) {
	if candidate == "" || len(m.keys) == 0 {
		return "", false
	}
	if _, ok := m.index[candidate]; ok {
		return candidate, true
	}
	pattern := []rune(candidate)
	// A match may spend at most this many edits.
	budget := int(m.threshold*float64(len(pattern)) + 1e-9)

	best := ""
	bestErrs, bestDist := -1, 0
	for _, key := range m.keys {
		errs := substringDistance(pattern, []rune(key), budget)
		if errs > budget {
			continue
		}
		if bestErrs >= 0 && errs > bestErrs {
			continue
		}
		dist := levenshtein.ComputeDistance(candidate, key)
		if bestErrs < 0 || errs < bestErrs || dist < bestDist {
			best, bestErrs, bestDist = key, errs, dist
		}
	}
	return best, bestErrs >= 0
}

// Score returns the normalized approximate-substring score of candidate
// against key: 0 is an exact occurrence, 1 or more is no useful match.
func Score(candidate, key string) float64 {
	pattern := []rune(candidate)
	if len(pattern) == 0 {
		return 1
	}
	return float64(substringDistance(pattern, []rune(key), len(pattern))) / float64(len(pattern))
}

// substringDistance is the fewest edits turning pattern into some substring
// of text, capped at limit+1.
func substringDistance(pattern, text []rune, limit int) int {
	m := len(pattern)
	if m == 0 {
		return 0
	}
	prev := make([]int, m+1)
	cur := make([]int, m+1)
	for i := range prev {
		prev[i] = i
	}
	best := prev[m]
	for j := 1; j <= len(text); j++ {
		cur[0] = 0
		for i := 1; i <= m; i++ {
			cost := 1
			if pattern[i-1] == text[j-1] {
				cost = 0
			}
			v := prev[i-1] + cost
			if d := prev[i] + 1; d < v {
				v = d
			}
			if ins := cur[i-1] + 1; ins < v {
				v = ins
			}
			cur[i] = v
		}
		if cur[m] < best {
			best = cur[m]
			if best == 0 {
				return 0
			}
		}
		prev, cur = cur, prev
	}
	if best > limit {
		return limit + 1
	}
	return best
}
