package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HandleHealthz is the liveness probe.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports not ready until the ledger is wired, the token store
// answers and chat is connected to the configured channel.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	checks := []struct {
		name string
		fn   func() error
	}{
		{"ledger", func() error {
			if h.deps.Ledger == nil {
				return errors.New("ledger not wired")
			}
			return nil
		}},
		{"token_store", func() error {
			if p, ok := h.deps.Tokens.(Pinger); ok {
				return p.Ping(ctx)
			}
			return nil
		}},
		{"chat", func() error {
			if h.deps.Chat == nil || h.deps.Chat.Channel() == "" {
				return nil
			}
			if !h.deps.Chat.Connected() {
				return fmt.Errorf("not connected to %s", h.deps.Chat.Channel())
			}
			return nil
		}},
	}
	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	status := map[string]any{"status": "ready"}
	if h.deps.Ledger != nil {
		status["tracked"] = h.deps.Ledger.Len()
		status["pending_decays"] = h.deps.Ledger.PendingDecays()
	}
	status["stream_clients"] = h.hub.Clients()
	writeJSON(w, http.StatusOK, status)
}
