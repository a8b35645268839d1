package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/chatpoll/config"
	"github.com/onnwee/chatpoll/ledger"
	"github.com/onnwee/chatpoll/oauth"
	"github.com/onnwee/chatpoll/twitchapi"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
	oauthStateTTL  = 10 * time.Minute
)

// SnapshotSource is the read side of the ledger the stream hub needs.
type SnapshotSource interface {
	Snapshot() ledger.Snapshot
	Follow(fn func(ledger.Snapshot)) func()
}

// Ledger is what the HTTP surface reads and reconfigures.
type Ledger interface {
	SnapshotSource
	Settings() ledger.Settings
	Apply(s ledger.Settings) error
	Update(fn func(ledger.Settings) ledger.Settings) (ledger.Settings, error)
	Len() int
	PendingDecays() int
}

// ChatReader is the live chat connection.
type ChatReader interface {
	Channel() string
	Connected() bool
	SwitchChannel(name string) string
	Restart()
}

// UserLookup resolves Twitch logins; *twitchapi.HelixClient implements it.
type UserLookup interface {
	GetUser(ctx context.Context, login string) (*twitchapi.User, error)
}

// Pinger is implemented by token stores backed by a database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators wired by main.
type Deps struct {
	Config *config.Config
	Ledger Ledger
	Chat   ChatReader       // nil when chat is disabled
	Tokens oauth.TokenStore // nil disables the OAuth flow
	Users  UserLookup       // nil skips channel validation
	// ValidateToken defaults to twitchapi.ValidateToken.
	ValidateToken func(ctx context.Context, accessToken string) (*twitchapi.TokenInfo, error)
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	// ctx ends streams when the server shuts down.
	ctx  context.Context
	deps Deps
	hub  *Hub
	cors *corsConfig

	stateStore map[string]time.Time
	stateMu    sync.RWMutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, deps Deps, hub *Hub, cors *corsConfig) *Handlers {
	if deps.ValidateToken == nil {
		deps.ValidateToken = func(ctx context.Context, tok string) (*twitchapi.TokenInfo, error) {
			return twitchapi.ValidateToken(ctx, nil, tok)
		}
	}
	if deps.Config == nil {
		deps.Config = &config.Config{}
	}
	return &Handlers{
		ctx:        ctx,
		deps:       deps,
		hub:        hub,
		cors:       cors,
		stateStore: make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states. Callers hold stateMu.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState records a state value; it reports false when the store is full.
func (h *Handlers) addOAuthState(state string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[state] = expiry
	return true
}

// consumeOAuthState removes state and reports whether it was valid.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	delete(h.stateStore, state)
	return ok && time.Now().Before(exp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
