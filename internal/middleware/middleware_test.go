package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/config"
	"github.com/jwalitptl/clinic-api/internal/service/audit"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestErrorHandler(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), ErrorHandler())
	r.GET("/validation", func(c *gin.Context) {
		_ = c.Error(apperrors.NewValidation(apperrors.FieldError{Field: "reason", Message: "is required"}))
	})
	r.GET("/conflict", func(c *gin.Context) {
		_ = c.Error(apperrors.NewConflict("slot taken", nil).WithDetail("rule", "conflict"))
	})
	r.GET("/foreign", func(c *gin.Context) {
		_ = c.Error(errors.New("pq: connection reset"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/validation", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, apperrors.KindValidation, body.Kind)
	require.Len(t, body.Fields, 1)
	assert.Equal(t, "reason", body.Fields[0].Field)
	assert.NotEmpty(t, body.TraceID)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/conflict", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", decode(t, w).Details["rule"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/foreign", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body = decode(t, w)
	assert.Equal(t, apperrors.KindInternal, body.Kind)
	assert.NotContains(t, body.Message, "pq:")
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery())
	r.GET("/", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperrors.KindInternal, decode(t, w).Kind)
}

func signed(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAuthenticate(t *testing.T) {
	auth := NewAuthMiddleware(config.AuthConfig{JWTSecret: "s3cret", Issuer: "clinic-idp"})
	r := gin.New()
	r.Use(ErrorHandler(), auth.Authenticate())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, audit.ActorFrom(c.Request.Context()))
	})

	valid := signed(t, "s3cret", jwt.RegisteredClaims{
		Subject:   "reception-1",
		Issuer:    "clinic-idp",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + valid, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signed(t, "other", jwt.RegisteredClaims{Subject: "x", Issuer: "clinic-idp"}), http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + signed(t, "s3cret", jwt.RegisteredClaims{Subject: "x", Issuer: "evil"}), http.StatusUnauthorized},
		{"expired", "Bearer " + signed(t, "s3cret", jwt.RegisteredClaims{
			Subject:   "x",
			Issuer:    "clinic-idp",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "reception-1", w.Body.String())
			} else {
				assert.Equal(t, apperrors.KindUnauthorized, decode(t, w).Kind)
			}
		})
	}
}

func TestAuthenticateDisabled(t *testing.T) {
	r := gin.New()
	r.Use(NewAuthMiddleware(config.AuthConfig{}).Authenticate())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRateLimit(t *testing.T) {
	r := gin.New()
	r.Use(NewRateLimiter(RateLimiterConfig{Rate: 0.001, Burst: 1}).RateLimit())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextRequestID)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderXRequestID, "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Body.String())
	assert.Equal(t, "abc-123", w.Header().Get(HeaderXRequestID))
}

func TestRequestIDReplacesUnsafeValues(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) {
		assert.NotNil(t, zerolog.Ctx(c.Request.Context()))
		c.String(http.StatusOK, c.GetString(ContextRequestID))
	})

	for _, bad := range []string{"line\nbreak", strings.Repeat("a", 65), "semi;colon"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderXRequestID, bad)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		_, err := uuid.Parse(w.Body.String())
		assert.NoError(t, err, bad)
	}
}
