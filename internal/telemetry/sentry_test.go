package telemetry

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initDisabled(t *testing.T) {
	t.Helper()
	cleanup, err := InitSentry(SentryConfig{Enabled: false}, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.NoError(t, err)
	t.Cleanup(cleanup)
}

func TestInitSentry_DisabledWithoutDSN(t *testing.T) {
	cleanup, err := InitSentry(SentryConfig{Enabled: true, DSN: ""}, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.NoError(t, err)
	defer cleanup()

	assert.False(t, IsEnabled())
}

func TestCaptureError_SafeWhenDisabled(t *testing.T) {
	initDisabled(t)

	// Must not panic or block without an initialized client.
	CaptureError(nil)
	CaptureError(errors.New("boom"), map[string]interface{}{"event_id": "evt_1"})
	CaptureErrorWithTenant(errors.New("boom"), "acme", nil)
}

func TestSentryMiddleware_PassthroughWhenDisabled(t *testing.T) {
	initDisabled(t)

	handler := SentryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestSentryMiddleware_PanicPropagatesWhenDisabled(t *testing.T) {
	initDisabled(t)

	handler := SentryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler blew up")
	}))

	// With tracking off the middleware must not swallow the panic; the
	// outer recovery middleware owns it.
	assert.Panics(t, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}
