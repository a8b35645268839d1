package twitchapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/chatpoll/testutil"
)

func useMock(t *testing.T, m *testutil.MockTwitchServer) {
	t.Helper()
	oldEndpoint, oldValidate := Endpoint, ValidateURL
	Endpoint = oauth2.Endpoint{AuthURL: m.AuthURL(), TokenURL: m.TokenURL(), AuthStyle: oauth2.AuthStyleInParams}
	ValidateURL = m.ValidateURL()
	t.Cleanup(func() {
		Endpoint, ValidateURL = oldEndpoint, oldValidate
	})
}

func TestTokenSource_GetCached(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockOAuthTokenResponse("test-token-123", "", 3600)
	ts := &TokenSource{ClientID: "test-client", ClientSecret: "test-secret", TokenURL: m.TokenURL()}

	ctx := context.Background()
	token1, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token1 != "test-token-123" {
		t.Errorf("Get() = %s, want test-token-123", token1)
	}
	token2, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token2 != token1 {
		t.Errorf("cached token = %s, want %s", token2, token1)
	}
	if n := m.Calls("/oauth2/token"); n != 1 {
		t.Errorf("expected 1 API call (cached), got %d", n)
	}
	form := m.LastForm("/oauth2/token")
	if form["grant_type"] != "client_credentials" || form["client_id"] != "test-client" {
		t.Errorf("unexpected token form %v", form)
	}
}

func TestTokenSource_RefreshesNearExpiry(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	// inside the early-expiry window, so every Get refetches
	m.MockOAuthTokenResponse("short-lived", "", 1)
	ts := &TokenSource{ClientID: "c", ClientSecret: "s", TokenURL: m.TokenURL()}

	for i := 0; i < 2; i++ {
		if _, err := ts.Get(context.Background()); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	}
	if n := m.Calls("/oauth2/token"); n != 2 {
		t.Errorf("expected 2 API calls, got %d", n)
	}
}

func TestTokenSource_MissingCredentials(t *testing.T) {
	ts := &TokenSource{ClientID: "only-id"}
	if _, err := ts.Get(context.Background()); err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestTokenSource_ServerError(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockOAuthTokenError(http.StatusBadRequest)
	ts := &TokenSource{ClientID: "c", ClientSecret: "s", TokenURL: m.TokenURL()}
	if _, err := ts.Get(context.Background()); err == nil {
		t.Fatal("expected error from failing token endpoint")
	}
}

func TestBuildAuthorizeURL(t *testing.T) {
	tests := []struct {
		name        string
		clientID    string
		redirectURI string
		scopes      string
		state       string
		wantErr     bool
		wantParts   []string
	}{
		{
			name:        "valid request",
			clientID:    "test-client-id",
			redirectURI: "http://localhost/callback",
			scopes:      "chat:read",
			state:       "random-state",
			wantParts:   []string{"https://id.twitch.tv/oauth2/authorize?", "client_id=test-client-id", "state=random-state", "response_type=code", "scope=chat%3Aread"},
		},
		{
			name:        "comma separated scopes",
			clientID:    "client-id",
			redirectURI: "http://localhost/callback",
			scopes:      "user:read:email,chat:read",
			state:       "state-123",
			wantParts:   []string{"scope=user%3Aread%3Aemail+chat%3Aread", "redirect_uri=http%3A%2F%2Flocalhost%2Fcallback"},
		},
		{name: "empty client ID", redirectURI: "http://localhost/callback", wantErr: true},
		{name: "empty redirect URI", clientID: "client", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := BuildAuthorizeURL(tt.clientID, tt.redirectURI, tt.scopes, tt.state)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", u)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, part := range tt.wantParts {
				if !strings.Contains(u, part) {
					t.Errorf("URL %q missing %q", u, part)
				}
			}
		})
	}
}

func TestExchangeAuthCode(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	useMock(t, m)
	m.MockOAuthTokenResponse("user-access", "user-refresh", 14400)

	tok, err := ExchangeAuthCode(context.Background(), "cid", "secret", "the-code", "http://localhost/cb")
	if err != nil {
		t.Fatalf("ExchangeAuthCode: %v", err)
	}
	if tok.AccessToken != "user-access" || tok.RefreshToken != "user-refresh" {
		t.Errorf("unexpected token %+v", tok)
	}
	if until := time.Until(tok.Expiry); until < 3*time.Hour || until > 5*time.Hour {
		t.Errorf("expiry %v not derived from expires_in", tok.Expiry)
	}
	form := m.LastForm("/oauth2/token")
	if form["grant_type"] != "authorization_code" || form["code"] != "the-code" || form["client_secret"] != "secret" {
		t.Errorf("unexpected exchange form %v", form)
	}

	if _, err := ExchangeAuthCode(context.Background(), "cid", "secret", "", "http://localhost/cb"); err == nil {
		t.Error("expected error for empty code")
	}
}

func TestRefreshToken(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	useMock(t, m)
	m.MockOAuthTokenResponse("new-access", "new-refresh", 3600)

	tok, err := RefreshToken(context.Background(), "cid", "secret", "old-refresh")
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if tok.AccessToken != "new-access" || tok.RefreshToken != "new-refresh" {
		t.Errorf("unexpected token %+v", tok)
	}
	form := m.LastForm("/oauth2/token")
	if form["grant_type"] != "refresh_token" || form["refresh_token"] != "old-refresh" {
		t.Errorf("unexpected refresh form %v", form)
	}

	m.MockOAuthTokenError(http.StatusBadRequest)
	if _, err := RefreshToken(context.Background(), "cid", "secret", "old-refresh"); err == nil {
		t.Error("expected refresh failure")
	}
	if _, err := RefreshToken(context.Background(), "cid", "secret", ""); err == nil {
		t.Error("expected error for missing refresh token")
	}
}

func TestComputeExpiry(t *testing.T) {
	if d := time.Until(ComputeExpiry(0)); d < 59*time.Minute || d > 61*time.Minute {
		t.Errorf("default expiry off: %v", d)
	}
	if d := time.Until(ComputeExpiry(30)); d < 25*time.Second || d > 31*time.Second {
		t.Errorf("expiry off: %v", d)
	}
}

func TestValidateToken(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	useMock(t, m)
	m.MockValidateResponse("chatbot", "42")

	info, err := ValidateToken(context.Background(), nil, "oauth:abc")
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if info.Login != "chatbot" || info.UserID != "42" {
		t.Errorf("unexpected info %+v", info)
	}
	if _, err := ValidateToken(context.Background(), nil, ""); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestHelixGetUser(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockOAuthTokenResponse("app-token", "", 3600)
	m.MockUserResponse("123", "streamer")

	hc := &HelixClient{
		AppTokenSource: &TokenSource{ClientID: "cid", ClientSecret: "s", TokenURL: m.TokenURL()},
		ClientID:       "cid",
		BaseURL:        m.HelixURL(),
	}
	id, err := hc.GetUserID(context.Background(), "streamer")
	if err != nil {
		t.Fatalf("GetUserID: %v", err)
	}
	if id != "123" {
		t.Errorf("id = %q", id)
	}

	if _, err := hc.GetUser(context.Background(), "nobody"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := hc.GetUser(context.Background(), ""); err == nil {
		t.Error("expected error for empty login")
	}
	if n := m.Calls("/oauth2/token"); n != 1 {
		t.Errorf("app token fetched %d times, want 1", n)
	}
}
