// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingest outcomes used as the "outcome" label of chatpoll_ledger_messages_total.
const (
	OutcomeInserted    = "inserted"
	OutcomeIncremented = "incremented"
	OutcomeDropped     = "dropped"
	OutcomeIgnored     = "ignored"
)

var (
	once sync.Once

	// Counters
	LedgerMessages        *prometheus.CounterVec
	FuzzyMatches          prometheus.Counter
	DecaysFired           prometheus.Counter
	SnapshotsPublished    prometheus.Counter
	MatcherRebuilds       prometheus.Counter
	ChatMessages          prometheus.Counter
	ChatReconnects        prometheus.Counter
	SnapshotFramesDropped prometheus.Counter

	// Histograms (seconds)
	IngestDuration prometheus.Observer

	// Gauges
	TrackedKeysGauge   prometheus.Gauge
	PendingDecaysGauge prometheus.Gauge
	StreamClientsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		LedgerMessages = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatpoll_ledger_messages_total", Help: "Messages offered to the ledger by outcome"}, []string{"outcome"})
		FuzzyMatches = promauto.NewCounter(prometheus.CounterOpts{Name: "chatpoll_ledger_fuzzy_matches_total", Help: "Messages folded into a different existing key"})
		DecaysFired = promauto.NewCounter(prometheus.CounterOpts{Name: "chatpoll_ledger_decays_total", Help: "Scheduled decrements fired"})
		SnapshotsPublished = promauto.NewCounter(prometheus.CounterOpts{Name: "chatpoll_ledger_snapshots_total", Help: "Snapshots published to listeners"})
		MatcherRebuilds = promauto.NewCounter(prometheus.CounterOpts{Name: "chatpoll_ledger_matcher_rebuilds_total", Help: "Matcher index rebuilds after a threshold change"})
		ChatMessages = promauto.NewCounter(prometheus.CounterOpts{Name: "chatpoll_chat_messages_total", Help: "Chat messages received from Twitch"})
		ChatReconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "chatpoll_chat_reconnects_total", Help: "Chat connections (re)established"})
		SnapshotFramesDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "chatpoll_stream_frames_dropped_total", Help: "Snapshot frames skipped for slow stream clients"})
		IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatpoll_chat_ingest_duration_seconds", Help: "Time to clean and ingest one chat message", Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05}})
		TrackedKeysGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatpoll_ledger_tracked_keys", Help: "Distinct keys currently tracked"})
		PendingDecaysGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatpoll_ledger_pending_decays", Help: "Scheduled decrements not yet fired"})
		StreamClientsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatpoll_stream_clients", Help: "Connected SSE and websocket clients"})
	})
}

// RecordIngest counts one ledger ingest by outcome.
func RecordIngest(outcome string) {
	if LedgerMessages != nil {
		LedgerMessages.WithLabelValues(outcome).Inc()
	}
}

func RecordFuzzyMatch()     { inc(FuzzyMatches) }
func RecordDecay()          { inc(DecaysFired) }
func RecordSnapshot()       { inc(SnapshotsPublished) }
func RecordMatcherRebuild() { inc(MatcherRebuilds) }
func RecordChatMessage()    { inc(ChatMessages) }
func RecordChatReconnect()  { inc(ChatReconnects) }
func RecordFrameDropped()   { inc(SnapshotFramesDropped) }

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// SetLedgerSize records the tracked key count and pending decay count.
func SetLedgerSize(keys, pending int) {
	if TrackedKeysGauge != nil {
		TrackedKeysGauge.Set(float64(keys))
	}
	if PendingDecaysGauge != nil {
		PendingDecaysGauge.Set(float64(pending))
	}
}

// AddStreamClients adjusts the connected stream client gauge by delta.
func AddStreamClients(delta int) {
	if StreamClientsGauge != nil {
		StreamClientsGauge.Add(float64(delta))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
