// Package ledger implements the decaying, fuzzy-matched frequency table that
// backs the chat counter.
//
// Every accepted message is folded into a canonical bucket (an existing
// bucket when the Matcher finds a near-duplicate, otherwise a new one),
// counted, and scheduled to be counted down again after ExpireAfter. Each
// increment gets its own decrement, so a bucket hit three times decays three
// times. Once MaxSize distinct buckets are tracked, messages that do not match
// an existing bucket are dropped. Every change publishes a ranked Snapshot of
// the Top buckets to the ledger's listeners.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/onnwee/chatpoll/telemetry"
)

// ErrInvalidSetting is returned by setters given an out-of-range value.
var ErrInvalidSetting = errors.New("invalid ledger setting")

const (
	DefaultMaxSize     = 1000
	DefaultExpireAfter = 10 * time.Second
	DefaultTop         = 20
	DefaultThreshold   = 0.2
)

// Settings is the runtime configuration of a Ledger.
type Settings struct {
	MaxSize     int           `json:"max_size"`
	ExpireAfter time.Duration `json:"-"`
	Top         int           `json:"top"`
	Threshold   float64       `json:"threshold"`
}

// DefaultSettings mirrors the values the browser tool starts with.
func DefaultSettings() Settings {
	return Settings{
		MaxSize:     DefaultMaxSize,
		ExpireAfter: DefaultExpireAfter,
		Top:         DefaultTop,
		Threshold:   DefaultThreshold,
	}
}

// Validate checks every field and reports the first bad one.
func (s Settings) Validate() error {
	if err := validateCapacity(s.MaxSize); err != nil {
		return err
	}
	if err := validateDecayDelay(s.ExpireAfter); err != nil {
		return err
	}
	if err := validateTop(s.Top); err != nil {
		return err
	}
	return validateThreshold(s.Threshold)
}

func validateCapacity(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: max size %d must be at least 1", ErrInvalidSetting, n)
	}
	return nil
}

func validateDecayDelay(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: expire after %s must be positive", ErrInvalidSetting, d)
	}
	return nil
}

func validateTop(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: top %d must be at least 1", ErrInvalidSetting, n)
	}
	return nil
}

func validateThreshold(t float64) error {
	if math.IsNaN(t) || t < 0 || t > 1 {
		return fmt.Errorf("%w: threshold %v must be within [0,1]", ErrInvalidSetting, t)
	}
	return nil
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger used for debug output.
func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// Ledger is safe for concurrent use. Ingest, decay and the setters are
// serialized by one lock; listeners are called while it is held and must not
// call back into the Ledger.
type Ledger struct {
	mu       sync.Mutex
	settings Settings
	buckets  map[string]*bucket
	seq      uint64
	matcher  *Matcher

	pub   publisher
	sched *scheduler
	now   func() time.Time
	log   *slog.Logger
}

// New creates a Ledger. The decay scheduler does not run until Run is called.
func New(s Settings, opts ...Option) (*Ledger, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	l := &Ledger{
		settings: s,
		buckets:  make(map[string]*bucket),
		matcher:  NewMatcher(s.Threshold),
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.sched = newScheduler(l.now, l.decay)
	return l, nil
}

// Run drives scheduled decay until ctx is canceled.
func (l *Ledger) Run(ctx context.Context) error {
	l.log.Info("ledger decay scheduler started", slog.String("component", "ledger"))
	err := l.sched.run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// OnSnapshot registers fn to receive every published Snapshot. The returned
// func unsubscribes.
func (l *Ledger) OnSnapshot(fn func(Snapshot)) func() {
	return l.pub.subscribe(fn)
}

// Follow is OnSnapshot preceded by a delivery of the current snapshot. Both
// happen under the ledger lock, so no publish can slip in between.
func (l *Ledger) Follow(fn func(Snapshot)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cancel := l.pub.subscribe(fn)
	fn(rank(l.bucketList(), l.settings.Top))
	return cancel
}

// Ingest counts one cleaned chat message. It reports whether the message
// changed the table; empty messages and new messages beyond capacity do not.
func (l *Ledger) Ingest(text string) bool {
	if text == "" {
		telemetry.RecordIngest(telemetry.OutcomeIgnored)
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := text
	if match, ok := l.matcher.Lookup(text); ok {
		if match != text {
			telemetry.RecordFuzzyMatch()
			l.log.Debug("message folded", slog.String("message", text), slog.String("key", match))
		}
		key = match
	}

	if b, ok := l.buckets[key]; ok {
		b.count++
		telemetry.RecordIngest(telemetry.OutcomeIncremented)
	} else if len(l.buckets) < l.settings.MaxSize {
		l.seq++
		l.buckets[key] = &bucket{key: key, count: 1, seq: l.seq}
		l.matcher.Register(key)
		telemetry.RecordIngest(telemetry.OutcomeInserted)
	} else {
		telemetry.RecordIngest(telemetry.OutcomeDropped)
		return false
	}

	l.sched.schedule(key, l.now().Add(l.settings.ExpireAfter))
	l.publishLocked()
	return true
}

// decay takes back one increment of key. It is only called by the scheduler.
func (l *Ledger) decay(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	telemetry.RecordDecay()
	if b, ok := l.buckets[key]; ok {
		b.count--
		if b.count <= 0 {
			delete(l.buckets, key)
			l.matcher.Unregister(key)
		}
	}
	l.publishLocked()
}

func (l *Ledger) publishLocked() {
	snap := rank(l.bucketList(), l.settings.Top)
	telemetry.SetLedgerSize(len(l.buckets), l.sched.pending())
	telemetry.RecordSnapshot()
	l.pub.publish(snap)
}

func (l *Ledger) bucketList() []*bucket {
	out := make([]*bucket, 0, len(l.buckets))
	for _, b := range l.buckets {
		out = append(out, b)
	}
	return out
}

// SetCapacity changes MaxSize for future ingests. Buckets above a lowered
// bound are kept until they decay.
func (l *Ledger) SetCapacity(n int) error {
	if err := validateCapacity(n); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settings.MaxSize = n
	return nil
}

// SetDecayDelay changes ExpireAfter for future ingests; already scheduled
// decrements keep their original time.
func (l *Ledger) SetDecayDelay(d time.Duration) error {
	if err := validateDecayDelay(d); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settings.ExpireAfter = d
	return nil
}

// SetTop changes how many buckets future snapshots include.
func (l *Ledger) SetTop(n int) error {
	if err := validateTop(n); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settings.Top = n
	return nil
}

// SetThreshold changes matcher sensitivity and rebuilds its index from the
// current keys. Setting the current value does nothing.
func (l *Ledger) SetThreshold(t float64) error {
	if err := validateThreshold(t); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setThresholdLocked(t)
	return nil
}

func (l *Ledger) setThresholdLocked(t float64) {
	if t == l.settings.Threshold {
		return
	}
	l.settings.Threshold = t
	l.matcher.Rebuild(l.keysLocked(), t)
	telemetry.RecordMatcherRebuild()
	l.log.Debug("matcher rebuilt", slog.Float64("threshold", t), slog.Int("keys", l.matcher.Len()))
}

// Apply validates s and then applies all fields at once.
func (l *Ledger) Apply(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applyLocked(s)
	return nil
}

// Update derives new settings from the current ones and applies them as one
// step, so concurrent partial updates cannot overwrite each other. When fn's
// result is invalid nothing changes and the current settings are returned.
func (l *Ledger) Update(fn func(Settings) Settings) (Settings, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := fn(l.settings)
	if err := next.Validate(); err != nil {
		return l.settings, err
	}
	l.applyLocked(next)
	return l.settings, nil
}

func (l *Ledger) applyLocked(s Settings) {
	l.settings.MaxSize = s.MaxSize
	l.settings.ExpireAfter = s.ExpireAfter
	l.settings.Top = s.Top
	l.setThresholdLocked(s.Threshold)
}

// Settings returns the current configuration.
func (l *Ledger) Settings() Settings {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settings
}

// Snapshot computes the current ranking without publishing it.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return rank(l.bucketList(), l.settings.Top)
}

// Counts returns a copy of every live count.
func (l *Ledger) Counts() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int, len(l.buckets))
	for k, b := range l.buckets {
		out[k] = b.count
	}
	return out
}

// Len is the number of distinct buckets.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Tracked returns the keys the matcher searches, in registration order.
func (l *Ledger) Tracked() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.matcher.Keys()
}

// PendingDecays is the number of scheduled decrements not yet fired.
func (l *Ledger) PendingDecays() int {
	return l.sched.pending()
}

// keysLocked returns the bucket keys in insertion order.
func (l *Ledger) keysLocked() []string {
	bs := l.bucketList()
	sortBySeq(bs)
	keys := make([]string, len(bs))
	for i, b := range bs {
		keys[i] = b.key
	}
	return keys
}

func sortBySeq(bs []*bucket) {
	slices.SortFunc(bs, func(a, b *bucket) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
}
