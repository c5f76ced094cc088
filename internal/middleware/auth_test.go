package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestAuth(t *testing.T, secret string) *AuthMiddleware {
	t.Helper()
	m, err := NewAuthMiddleware(secret)
	require.NoError(t, err)
	return m
}

func TestAuthMiddleware_WithValidToken(t *testing.T) {
	m := newTestAuth(t, "test-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		id, ok := GetUserIDFromContext(r.Context())
		if !ok {
			t.Fatalf("user id not in context")
		}
		if id != 42 {
			t.Fatalf("user id from context = %d, want 42", id)
		}
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.Header.Set("Authorization", "Bearer "+m.Token(42))

	handler := m.Middleware(next)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	m := newTestAuth(t, "test-secret")
	other := newTestAuth(t, "other-secret")

	tests := []struct {
		name   string
		header string
	}{
		{name: "no header", header: ""},
		{name: "not bearer", header: "Basic " + m.Token(42)},
		{name: "foreign signature", header: "Bearer " + other.Token(42)},
		{name: "tampered user", header: "Bearer 43" + m.Token(42)[2:]},
		{name: "malformed", header: "Bearer 42"},
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			m.Middleware(next).ServeHTTP(w, r)

			res := w.Result()
			defer res.Body.Close()
			if res.StatusCode != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
			}
		})
	}
}

func TestNewAuthMiddleware_RandomKey(t *testing.T) {
	first := newTestAuth(t, "")
	second := newTestAuth(t, "")
	assert.Len(t, first.secretKey, 32)
	assert.NotEqual(t, first.Token(42), second.Token(42))

	_, ok := first.parseToken(first.Token(42))
	assert.True(t, ok)
}

func TestNewAuthMiddleware_RandomSourceFailure(t *testing.T) {
	errEntropy := errors.New("entropy unavailable")

	_, err := newAuthMiddleware("", iotest.ErrReader(errEntropy))
	require.ErrorIs(t, err, errEntropy)

	_, err = newAuthMiddleware("", strings.NewReader("short"))
	require.Error(t, err)

	m, err := newAuthMiddleware("configured", iotest.ErrReader(errEntropy))
	require.NoError(t, err)
	assert.Equal(t, []byte("configured"), m.secretKey)
}

func TestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := Logger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("tea"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/brew", nil))

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "GET", fields["method"])
		assert.Equal(t, int64(http.StatusTeapot), fields["status"])
		assert.Equal(t, int64(3), fields["size"])
	}
}
