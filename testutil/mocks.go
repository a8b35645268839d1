package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockTwitchServer creates a test server that mocks the Twitch identity and Helix APIs.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu    sync.Mutex
	calls map[string]int
	forms map[string][]map[string]string
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
		calls:    make(map[string]int),
		forms:    make(map[string][]map[string]string),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		m.record(r)
		m.mu.Lock()
		handler, ok := m.Handlers[key]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *MockTwitchServer) record(r *http.Request) {
	form := map[string]string{}
	if r.Method == http.MethodPost {
		_ = r.ParseForm() //nolint:errcheck // best effort capture
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[r.URL.Path]++
	m.forms[r.URL.Path] = append(m.forms[r.URL.Path], form)
}

// Calls returns how many requests hit path.
func (m *MockTwitchServer) Calls(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[path]
}

// LastForm returns the POST form of the latest request to path.
func (m *MockTwitchServer) LastForm(path string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	fs := m.forms[path]
	if len(fs) == 0 {
		return nil
	}
	return fs[len(fs)-1]
}

func (m *MockTwitchServer) handle(path string, fn http.HandlerFunc) {
	m.mu.Lock()
	m.Handlers[path] = fn
	m.mu.Unlock()
}

// AuthURL, TokenURL, ValidateURL and HelixURL mirror the production endpoints on the mock.
func (m *MockTwitchServer) AuthURL() string     { return m.URL + "/oauth2/authorize" }
func (m *MockTwitchServer) TokenURL() string    { return m.URL + "/oauth2/token" }
func (m *MockTwitchServer) ValidateURL() string { return m.URL + "/oauth2/validate" }
func (m *MockTwitchServer) HelixURL() string    { return m.URL + "/helix" }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockUserResponse adds a handler for /helix/users endpoint. An empty userID answers with no users.
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.handle("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		data := []map[string]string{}
		if userID != "" && r.URL.Query().Get("login") == login {
			data = append(data, map[string]string{"id": userID, "login": login, "display_name": login})
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": data})
	})
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken, refreshToken string, expiresIn int) {
	m.handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
			"scope":        []string{"chat:read"},
		}
		if refreshToken != "" {
			resp["refresh_token"] = refreshToken
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

// MockOAuthTokenError makes the token endpoint fail with status.
func (m *MockTwitchServer) MockOAuthTokenError(status int) {
	m.handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, status, map[string]any{"status": status, "message": "invalid refresh token"})
	})
}

// MockValidateResponse adds a handler for the token validation endpoint.
func (m *MockTwitchServer) MockValidateResponse(login, userID string) {
	m.handle("/oauth2/validate", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"status": 401, "message": "missing authorization token"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"client_id":  "test-client",
			"login":      login,
			"user_id":    userID,
			"scopes":     []string{"chat:read"},
			"expires_in": 3600,
		})
	})
}
