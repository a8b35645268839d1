package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/chatpoll/oauth"
	"github.com/onnwee/chatpoll/telemetry"
	"github.com/onnwee/chatpoll/twitchapi"
)

// HandleTwitchOAuthStart initiates the Twitch OAuth flow by redirecting to Twitch.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	cfg := h.deps.Config
	if !cfg.OAuthReady() || h.deps.Tokens == nil {
		writeError(w, http.StatusBadRequest, "oauth not configured (need TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET and TWITCH_REDIRECT_URI)")
		return
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		writeError(w, http.StatusInternalServerError, "state gen error")
		return
	}
	st := hex.EncodeToString(b)
	if !h.addOAuthState(st, time.Now().Add(oauthStateTTL)) {
		writeError(w, http.StatusServiceUnavailable, "too many pending logins")
		return
	}
	authURL, err := twitchapi.BuildAuthorizeURL(cfg.TwitchClientID, cfg.TwitchRedirectURI, cfg.TwitchScopes, st)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleTwitchOAuthCallback exchanges the code, stores the bot token and
// reconnects chat with it.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	cfg := h.deps.Config
	if h.deps.Tokens == nil {
		writeError(w, http.StatusBadRequest, "oauth not configured")
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeError(w, http.StatusBadRequest, "twitch denied authorization: "+e)
		return
	}
	code, st := q.Get("code"), q.Get("state")
	if code == "" || st == "" {
		writeError(w, http.StatusBadRequest, "missing code/state")
		return
	}
	if !h.consumeOAuthState(st) {
		writeError(w, http.StatusBadRequest, "invalid state")
		return
	}
	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx)
	res, err := twitchapi.ExchangeAuthCode(ctx, cfg.TwitchClientID, cfg.TwitchClientSecret, code, cfg.TwitchRedirectURI)
	if err != nil {
		log.Error("twitch code exchange failed", slog.Any("err", err))
		writeError(w, http.StatusBadGateway, "code exchange failed")
		return
	}
	info, err := h.deps.ValidateToken(ctx, res.AccessToken)
	if err != nil {
		log.Error("twitch token validation failed", slog.Any("err", err))
		writeError(w, http.StatusBadGateway, "token validation failed")
		return
	}
	expiry := res.Expiry
	if expiry.IsZero() {
		expiry = twitchapi.ComputeExpiry(info.ExpiresIn)
	}
	tok := oauth.Token{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		Expiry:       expiry,
		Scope:        strings.Join(info.Scopes, " "),
		Login:        info.Login,
	}
	if err := h.deps.Tokens.PutToken(ctx, oauth.ProviderTwitch, tok); err != nil {
		log.Error("store twitch token failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to store token")
		return
	}
	log.Info("twitch bot authorized", slog.String("login", info.Login))
	if h.deps.Chat != nil {
		h.deps.Chat.Restart()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "login": info.Login, "scopes": info.Scopes, "expires_at": expiry})
}
