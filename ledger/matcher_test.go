package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcherLookup(t *testing.T) {
	tests := []struct {
		name      string
		threshold float64
		keys      []string
		candidate string
		want      string
		ok        bool
	}{
		{"no keys", 0.2, nil, "hello", "", false},
		{"empty candidate", 0.2, []string{"hello"}, "", "", false},
		{"exact", 0, []string{"hello"}, "hello", "hello", true},
		{"one typo within threshold", 0.2, []string{"valorant"}, "valorent", "valorant", true},
		{"typo with zero threshold", 0, []string{"valorant"}, "valorent", "", false},
		{"substring anywhere", 0, []string{"i vote for option 2"}, "option 2", "i vote for option 2", true},
		{"too different", 0.2, []string{"world"}, "hello", "", false},
		{"short candidate has no budget", 0.2, []string{"lol"}, "lul", "", false},
		{"permissive threshold", 1, []string{"abc"}, "xyz", "abc", true},
		{"unicode", 0.2, []string{"première partie"}, "premiere partie", "première partie", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatcher(tt.threshold)
			for _, k := range tt.keys {
				m.Register(k)
			}
			got, ok := m.Lookup(tt.candidate)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatcherPrefersBestScore(t *testing.T) {
	m := NewMatcher(0.5)
	m.Register("catt")
	m.Register("cat")

	got, ok := m.Lookup("cat")
	require.True(t, ok)
	assert.Equal(t, "cat", got)

	// both contain "gg" exactly; the whole-string closer one wins
	m = NewMatcher(0.2)
	m.Register("gg wp everyone")
	m.Register("gg wp")
	got, ok = m.Lookup("gg")
	require.True(t, ok)
	assert.Equal(t, "gg wp", got)
}

func TestMatcherTieKeepsEarliest(t *testing.T) {
	m := NewMatcher(0)
	m.Register("ab x")
	m.Register("ab y")
	got, ok := m.Lookup("ab")
	require.True(t, ok)
	assert.Equal(t, "ab x", got)
}

func TestMatcherRegisterIdempotent(t *testing.T) {
	m := NewMatcher(0.2)
	m.Register("a")
	m.Register("a")
	m.Register("")
	assert.Equal(t, []string{"a"}, m.Keys())
	assert.True(t, m.Has("a"))
}

func TestMatcherUnregister(t *testing.T) {
	m := NewMatcher(0.2)
	m.Register("a")
	m.Register("b")
	m.Register("c")
	m.Unregister("b")
	m.Unregister("missing")
	assert.Equal(t, []string{"a", "c"}, m.Keys())
	assert.False(t, m.Has("b"))
	_, ok := m.Lookup("b")
	assert.False(t, ok)
}

func TestMatcherRebuild(t *testing.T) {
	m := NewMatcher(0.2)
	m.Register("old")
	m.Rebuild([]string{"x", "y", "x"}, 0.7)
	assert.Equal(t, []string{"x", "y"}, m.Keys())
	assert.Equal(t, 0.7, m.Threshold())
	assert.Equal(t, uint64(1), m.Generation())
}

func TestMatcherClampsThreshold(t *testing.T) {
	assert.Equal(t, 0.0, NewMatcher(-3).Threshold())
	assert.Equal(t, 1.0, NewMatcher(9).Threshold())
}

func TestScore(t *testing.T) {
	assert.Equal(t, 0.0, Score("abc", "xxabcxx"))
	assert.InDelta(t, 0.25, Score("abcd", "abxd"), 1e-9)
	assert.Equal(t, 1.0, Score("", "abc"))
	assert.Equal(t, 1.0, Score("abc", ""))
}

func TestRankTieBreakIsInsertionOrder(t *testing.T) {
	buckets := []*bucket{
		{key: "late", count: 2, seq: 3},
		{key: "early", count: 2, seq: 1},
		{key: "top", count: 5, seq: 2},
		{key: "low", count: 1, seq: 0},
	}
	got := rank(buckets, 3)
	assert.Equal(t, Snapshot{
		{Text: "top", Count: 5},
		{Text: "early", Count: 2},
		{Text: "late", Count: 2},
	}, got)
	assert.Equal(t, Snapshot{}, rank(nil, 3))
}

func TestRankExported(t *testing.T) {
	got := Rank([]Entry{{"a", 1}, {"b", 3}, {"c", 1}, {"d", 2}}, 10)
	assert.Equal(t, []string{"b", "d", "a", "c"}, got.Texts())
	assert.Len(t, Rank([]Entry{{"a", 1}, {"b", 3}}, 1), 1)
	assert.Empty(t, Rank([]Entry{{"a", 1}}, 0))
}
