package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/chatpoll/chat"
	"github.com/onnwee/chatpoll/telemetry"
	"github.com/onnwee/chatpoll/twitchapi"
)

type channelView struct {
	Channel   string `json:"channel"`
	Connected bool   `json:"connected"`
}

// HandleChannel reports (GET) or switches (POST {"channel": "name"}) the chat
// channel being counted. When Helix credentials are configured the login is
// checked first so a typo does not silently join an empty channel.
func (h *Handlers) HandleChannel(w http.ResponseWriter, r *http.Request) {
	if h.deps.Chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat reader not running")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, channelView{Channel: h.deps.Chat.Channel(), Connected: h.deps.Chat.Connected()})
	case http.MethodPost:
		var body struct {
			Channel string `json:"channel"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		name := chat.NormalizeChannel(body.Channel)
		if name == "" {
			writeError(w, http.StatusBadRequest, "channel required")
			return
		}
		if h.deps.Users != nil {
			if _, err := h.deps.Users.GetUser(r.Context(), name); err != nil {
				if errors.Is(err, twitchapi.ErrUserNotFound) {
					writeError(w, http.StatusNotFound, "unknown twitch channel "+name)
					return
				}
				telemetry.LoggerWithCorr(r.Context()).Warn("channel lookup failed", slog.String("channel", name), slog.Any("err", err))
				writeError(w, http.StatusBadGateway, "twitch lookup failed")
				return
			}
		}
		joined := h.deps.Chat.SwitchChannel(name)
		writeJSON(w, http.StatusOK, channelView{Channel: joined, Connected: h.deps.Chat.Connected()})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
