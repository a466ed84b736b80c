package auth

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// dummyHandler returns a simple 200 OK handler used as the "next" handler in middleware tests.
func dummyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func Test_NewAuthMiddleware_Cases(t *testing.T) {
	const correctToken = "correct-token"

	tests := []struct {
		name           string
		configToken    string
		authHeader     string
		setAuthHeader  bool
		wantStatusCode int
	}{
		{
			name:           "valid token passes through",
			configToken:    correctToken,
			authHeader:     "Bearer correct-token",
			setAuthHeader:  true,
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "missing header returns 401",
			configToken:    correctToken,
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "wrong token returns 401",
			configToken:    correctToken,
			authHeader:     "Bearer wrong-token",
			setAuthHeader:  true,
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "token prefix only returns 401",
			configToken:    correctToken,
			authHeader:     "Bearer correct",
			setAuthHeader:  true,
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "basic auth scheme returns 401",
			configToken:    correctToken,
			authHeader:     "Basic bmV0aW86bmV0aW8=",
			setAuthHeader:  true,
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "empty token config disables auth",
			configToken:    "",
			authHeader:     "Bearer anything",
			setAuthHeader:  true,
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "Bearer with extra spaces returns 401",
			configToken:    correctToken,
			authHeader:     "Bearer  correct-token",
			setAuthHeader:  true,
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "Bearer prefix with no token returns 401",
			configToken:    correctToken,
			authHeader:     "Bearer ",
			setAuthHeader:  true,
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "case sensitive Bearer prefix",
			configToken:    correctToken,
			authHeader:     "bearer correct-token",
			setAuthHeader:  true,
			wantStatusCode: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAuthMiddleware(tt.configToken, zerolog.Nop())(dummyHandler())

			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			if tt.setAuthHeader {
				req.Header.Set("Authorization", tt.authHeader)
			}

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatusCode {
				t.Errorf("status code = %d, want %d", rr.Code, tt.wantStatusCode)
			}
			if rr.Code == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("401 response without WWW-Authenticate header")
			}
		})
	}
}

func Test_NewAuthMiddleware_BlocksAndLogs(t *testing.T) {
	var logs bytes.Buffer
	var called bool

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	handler := NewAuthMiddleware("my-token", zerolog.New(&logs))(next)

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if called {
		t.Error("expected next handler NOT to be called when auth fails")
	}
	if !strings.Contains(logs.String(), "Rejected unauthenticated request") {
		t.Errorf("rejection not logged: %q", logs.String())
	}
	if strings.Contains(logs.String(), "wrong-token") {
		t.Error("rejected token leaked into the log")
	}
}
