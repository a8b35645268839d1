package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/onnwee/chatpoll/ledger"
	"github.com/onnwee/chatpoll/telemetry"
)

// Hub fans ledger snapshots out to stream clients. Publish runs inside the
// ledger's lock, so it never blocks: each client holds at most one pending
// frame and a newer frame replaces an unsent one.
type Hub struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}
	last    []byte
	cancel  func()
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

// Attach seeds the hub with src's current snapshot and subscribes to updates.
func (h *Hub) Attach(src SnapshotSource) {
	cancel := src.Follow(h.Publish)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()
}

// Publish encodes snap once and offers it to every client.
func (h *Hub) Publish(snap ledger.Snapshot) {
	if snap == nil {
		snap = ledger.Snapshot{}
	}
	frame, err := json.Marshal(snap)
	if err != nil {
		slog.Error("snapshot encode failed", slog.Any("err", err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = frame
	for ch := range h.clients {
		offer(ch, frame)
	}
}

func offer(ch chan []byte, frame []byte) {
	select {
	case ch <- frame:
		return
	default:
	}
	// replace the stale frame the client has not read yet
	select {
	case <-ch:
		telemetry.RecordFrameDropped()
	default:
	}
	select {
	case ch <- frame:
	default:
	}
}

// Subscribe registers a client. The channel starts with the latest frame.
// The returned func unregisters it and must be called once.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 1)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	if h.last != nil {
		ch <- h.last
	}
	h.mu.Unlock()
	telemetry.AddStreamClients(1)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, ch)
			h.mu.Unlock()
			telemetry.AddStreamClients(-1)
		})
	}
}

// Clients is the number of connected stream clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Latest returns the most recent encoded snapshot.
func (h *Hub) Latest() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// Close detaches from the ledger.
func (h *Hub) Close() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
