package ledger

import (
	"slices"
	"sync"
)

// Entry is one ranked bucket.
type Entry struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

// Snapshot is the ranked top-N view, highest count first.
type Snapshot []Entry

// Texts returns the bucket texts in rank order.
func (s Snapshot) Texts() []string {
	out := make([]string, len(s))
	for i, e := range s {
		out[i] = e.Text
	}
	return out
}

// bucket is a tracked key with its live count and insertion order.
type bucket struct {
	key   string
	count int
	seq   uint64
}

// rank orders buckets by count descending, earlier insertion first on ties,
// and keeps at most top entries.
func rank(buckets []*bucket, top int) Snapshot {
	if top <= 0 || len(buckets) == 0 {
		return Snapshot{}
	}
	sorted := slices.Clone(buckets)
	slices.SortFunc(sorted, func(a, b *bucket) int {
		if a.count != b.count {
			return b.count - a.count
		}
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	if len(sorted) > top {
		sorted = sorted[:top]
	}
	out := make(Snapshot, len(sorted))
	for i, b := range sorted {
		out[i] = Entry{Text: b.key, Count: b.count}
	}
	return out
}

// Rank is rank for callers outside the ledger: entries must be given in
// insertion order, which breaks ties between equal counts.
func Rank(entries []Entry, top int) Snapshot {
	bs := make([]*bucket, len(entries))
	for i, e := range entries {
		bs[i] = &bucket{key: e.Text, count: e.Count, seq: uint64(i)}
	}
	return rank(bs, top)
}

// publisher is the ledger-owned observer list.
type publisher struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []listener
}

type listener struct {
	id uint64
	fn func(Snapshot)
}

func (p *publisher) subscribe(fn func(Snapshot)) func() {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.listeners = append(p.listeners, listener{id: id, fn: fn})
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.listeners = slices.DeleteFunc(p.listeners, func(l listener) bool { return l.id == id })
		})
	}
}

// publish delivers a copy of snap to every listener in subscription order.
func (p *publisher) publish(snap Snapshot) {
	p.mu.Lock()
	ls := slices.Clone(p.listeners)
	p.mu.Unlock()
	for _, l := range ls {
		l.fn(slices.Clone(snap))
	}
}
