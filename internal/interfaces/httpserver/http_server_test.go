package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"bella-server/internal/config"
	"bella-server/internal/interfaces/httpserver/handlers"
)

func newTestServer(ready ReadinessCheck) http.Handler {
	gin.SetMode(gin.TestMode)
	provider := &handlers.Provider{
		Conversation: handlers.NewConversationHandler(nil, nil, zerolog.Nop()),
		Entity:       handlers.NewEntityHandler(nil, zerolog.Nop()),
	}
	return New(&config.Config{ServiceName: "bella-server"}, zerolog.Nop(), provider, ready).Handler()
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestOpsRoutes(t *testing.T) {
	h := newTestServer(func(ctx context.Context) error { return nil })

	for _, path := range []string{"/", "/healthz", "/readyz", "/metrics"} {
		if w := get(h, path); w.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, w.Code)
		}
	}
}

func TestReadyz_ReportsFailure(t *testing.T) {
	h := newTestServer(func(ctx context.Context) error { return errors.New("database unreachable") })

	if w := get(h, "/readyz"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /readyz = %d, want 503", w.Code)
	}
}
