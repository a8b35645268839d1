package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/onnwee/chatpoll/ledger"
	"github.com/onnwee/chatpoll/telemetry"
)

// settingsView is the wire form of ledger.Settings.
type settingsView struct {
	MaxSize       int     `json:"max_size"`
	ExpireAfterMS int64   `json:"expire_after_ms"`
	Top           int     `json:"top"`
	Threshold     float64 `json:"threshold"`
}

// settingsPatch is a partial update; omitted fields keep their value.
type settingsPatch struct {
	MaxSize       *int     `json:"max_size"`
	ExpireAfterMS *int64   `json:"expire_after_ms"`
	Top           *int     `json:"top"`
	Threshold     *float64 `json:"threshold"`
}

func viewOf(s ledger.Settings) settingsView {
	return settingsView{
		MaxSize:       s.MaxSize,
		ExpireAfterMS: s.ExpireAfter.Milliseconds(),
		Top:           s.Top,
		Threshold:     s.Threshold,
	}
}

// maxExpireAfterMS is the largest delay a time.Duration can hold in milliseconds.
const maxExpireAfterMS = math.MaxInt64 / int64(time.Millisecond)

// check rejects values that cannot be represented before they reach the ledger.
func (p settingsPatch) check() error {
	if p.ExpireAfterMS != nil && *p.ExpireAfterMS > maxExpireAfterMS {
		return fmt.Errorf("%w: expire_after_ms %d exceeds %d", ledger.ErrInvalidSetting, *p.ExpireAfterMS, maxExpireAfterMS)
	}
	return nil
}

func (p settingsPatch) apply(s ledger.Settings) ledger.Settings {
	if p.MaxSize != nil {
		s.MaxSize = *p.MaxSize
	}
	if p.ExpireAfterMS != nil {
		s.ExpireAfter = time.Duration(*p.ExpireAfterMS) * time.Millisecond
	}
	if p.Top != nil {
		s.Top = *p.Top
	}
	if p.Threshold != nil {
		s.Threshold = *p.Threshold
	}
	return s
}

// HandleSettings reads (GET) or updates (PUT) the ledger settings. Updates are
// validated as a whole; an invalid field rejects the request with 400 and
// changes nothing.
func (h *Handlers) HandleSettings(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not available")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, viewOf(h.deps.Ledger.Settings()))
	case http.MethodPut:
		var patch settingsPatch
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
			return
		}
		if err := patch.check(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		next, err := h.deps.Ledger.Update(patch.apply)
		trace.SpanFromContext(r.Context()).SetAttributes(
			telemetry.LedgerSettingAttrs(next.MaxSize, next.Top, next.ExpireAfter, next.Threshold)...)
		if err != nil {
			if errors.Is(err, ledger.ErrInvalidSetting) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		telemetry.LoggerWithCorr(r.Context()).Info("ledger settings updated",
			slog.Int("max_size", next.MaxSize),
			slog.Duration("expire_after", next.ExpireAfter),
			slog.Int("top", next.Top),
			slog.Float64("threshold", next.Threshold))
		writeJSON(w, http.StatusOK, viewOf(next))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
