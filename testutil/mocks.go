package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// MockTwitchServer mocks the Twitch identity endpoints (/oauth2/token and
// /oauth2/validate). Unmocked paths answer 404.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	// TokenRequests counts calls to /oauth2/token.
	TokenRequests atomic.Int32
}

// NewMockTwitchServer creates a new mock Twitch server closed at test cleanup.
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/token" {
			m.TokenRequests.Add(1)
		}
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// TokenURL is the mocked token endpoint.
func (m *MockTwitchServer) TokenURL() string { return m.URL + "/oauth2/token" }

// ValidateURL is the mocked validation endpoint.
func (m *MockTwitchServer) ValidateURL() string { return m.URL + "/oauth2/validate" }

// MockOAuthTokenResponse answers token requests (code exchange and refresh)
// with the given tokens. Twitch sends scope as an array.
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken, refreshToken string, expiresIn int, scopes ...string) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]any{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"expires_in":    expiresIn,
			"scope":         scopes,
			"token_type":    "bearer",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockOAuthTokenError makes token requests fail like a revoked refresh token.
func (m *MockTwitchServer) MockOAuthTokenError(status int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"status":400,"message":"Invalid refresh token","error":"invalid_grant"}`))
	}
}

// MockValidateResponse answers /oauth2/validate for any bearer token.
func (m *MockTwitchServer) MockValidateResponse(login, userID string, expiresIn int, scopes ...string) {
	m.Handlers["/oauth2/validate"] = func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		response := map[string]any{
			"client_id":  "mock-client",
			"login":      login,
			"user_id":    userID,
			"scopes":     scopes,
			"expires_in": expiresIn,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}
