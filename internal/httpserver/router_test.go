package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"habitledger/internal/handler"
	"habitledger/pkg/trace"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(ctx context.Context) error { return s.err }

type stubConn bool

func (s stubConn) IsConnected() bool { return bool(s) }

func newRouter(ready Readiness) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(handler.NewHabitHandler(nil, nil, zap.NewNop()), ready, zap.NewNop())
}

func get(r http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	w := get(newRouter(Readiness{}), "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(trace.HeaderName))
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name   string
		ready  Readiness
		want   int
		status string
	}{
		{"all up", Readiness{DB: stubPinger{}, MQ: stubConn(true)}, http.StatusOK, "ready"},
		{"db down", Readiness{DB: stubPinger{err: errors.New("refused")}, MQ: stubConn(true)}, http.StatusServiceUnavailable, "db_not_ready"},
		{"mq down", Readiness{DB: stubPinger{}, MQ: stubConn(false)}, http.StatusServiceUnavailable, "mq_not_ready"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(newRouter(tt.ready), "/readyz", nil)
			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, w.Body.String(), tt.status)
		})
	}
}

func TestTraceHeaderPropagated(t *testing.T) {
	w := get(newRouter(Readiness{}), "/healthz", map[string]string{trace.HeaderName: "abc-123"})
	assert.Equal(t, "abc-123", w.Header().Get(trace.HeaderName))
}

func TestMetricsEndpoint(t *testing.T) {
	r := newRouter(Readiness{})
	get(r, "/healthz", nil)
	w := get(r, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_request_duration_seconds")
}

func TestInvalidUserRejectedBeforeService(t *testing.T) {
	w := get(newRouter(Readiness{}), "/users/nope/profile", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
