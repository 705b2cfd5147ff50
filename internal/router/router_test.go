package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/clinic-api/internal/config"
	"github.com/jwalitptl/clinic-api/internal/handler/health"
	prometheusHandler "github.com/jwalitptl/clinic-api/internal/handler/prometheus"
	"github.com/jwalitptl/clinic-api/internal/middleware"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

type stubHandler struct{}

func (stubHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/appointments", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/appointments/missing", func(c *gin.Context) {
		_ = c.Error(apperrors.NewNotFound("appointment", nil))
	})
}

func newTestRouter(t *testing.T, auth config.AuthConfig) *Router {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg, "clinic")
	r := NewRouter(
		middleware.NewAuthMiddleware(auth),
		stubHandler{},
		health.NewHandler(nil),
		prometheusHandler.New(reg).Handler(),
		m,
		RouterConfig{
			Mode: gin.TestMode,
			CORS: config.CORSConfig{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET"}},
		},
	)
	return r
}

func serve(r *Router, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.Engine().ServeHTTP(w, req)
	return w
}

func TestRouter_HealthIsPublic(t *testing.T) {
	r := newTestRouter(t, config.AuthConfig{JWTSecret: "s3cret"})

	w := serve(r, http.MethodGet, "/api/v1/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1.0", w.Header().Get("X-API-Version"))
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderXRequestID))

	w = serve(r, http.MethodGet, "/api/v1/appointments", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_MetricsAndErrors(t *testing.T) {
	r := newTestRouter(t, config.AuthConfig{})

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/v1/appointments", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/v1/appointments/missing", nil).Code)

	w := serve(r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `clinic_http_requests_total{method="GET",path="/api/v1/appointments",status="200"} 1`)
	assert.Contains(t, body, `clinic_http_errors_total{method="GET",path="/api/v1/appointments/missing",type="NotFoundError"} 1`)
}

func TestRouter_CORS(t *testing.T) {
	r := newTestRouter(t, config.AuthConfig{})

	w := serve(r, http.MethodGet, "/api/v1/appointments", http.Header{"Origin": []string{"https://front.example"}})
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
