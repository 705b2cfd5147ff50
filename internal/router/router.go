package router

import (
	"fmt"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/clinic-api/internal/config"
	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine       *gin.Engine
	auth         *middleware.AuthMiddleware
	appointmentH Handler
	healthH      Handler
	metricsH     gin.HandlerFunc
	metrics      *metrics.Metrics
}

type RouterConfig struct {
	Mode           string
	RequestTimeout time.Duration
	RateLimit      config.RateLimitConfig
	CORS           config.CORSConfig
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	appointmentH Handler,
	healthH Handler,
	metricsH gin.HandlerFunc,
	m *metrics.Metrics,
	cfg RouterConfig,
) *Router {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = middleware.DefaultTimeoutConfig().Duration
	}

	engine := gin.New() // Use New() instead of Default() for more control

	r := &Router{
		engine:       engine,
		auth:         auth,
		appointmentH: appointmentH,
		healthH:      healthH,
		metricsH:     metricsH,
		metrics:      m,
	}

	// Add core middlewares
	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		r.metricsMiddleware(),
		middleware.ErrorHandler(),
		middleware.Timeout(middleware.TimeoutConfig{Duration: cfg.RequestTimeout}),
		middleware.SizeLimit(middleware.DefaultMaxBodySize),
	)

	engine.Use(cors.New(corsConfig(cfg.CORS)))

	if cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  rate.Limit(cfg.RateLimit.RequestsPerSecond),
			Burst: cfg.RateLimit.Burst,
		})
		engine.Use(rateLimiter.RateLimit())
	}

	r.setup()
	return r
}

func corsConfig(c config.CORSConfig) cors.Config {
	cc := cors.Config{
		AllowMethods:  c.AllowedMethods,
		AllowHeaders:  c.AllowedHeaders,
		ExposeHeaders: []string{"Content-Length", middleware.HeaderXRequestID},
		MaxAge:        c.MaxAge,
	}
	if len(c.AllowedOrigins) == 0 || (len(c.AllowedOrigins) == 1 && c.AllowedOrigins[0] == "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = c.AllowedOrigins
	}
	return cc
}

func (r *Router) setup() {
	if r.metricsH != nil {
		r.engine.GET("/metrics", r.metricsH)
	}

	api := r.engine.Group("/api/v1")

	// Add version header
	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	// Health check endpoints
	r.healthH.RegisterRoutes(api)

	// Protected routes
	protected := api.Group("")
	protected.Use(r.auth.Authenticate())
	r.appointmentH.RegisterRoutes(protected)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := fmt.Sprintf("%d", c.Writer.Status())
		duration := time.Since(start).Seconds()

		r.metrics.RequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		r.metrics.RequestTotal.WithLabelValues(c.Request.Method, path, status).Inc()

		if c.Writer.Status() >= 400 {
			kind := "http"
			if len(c.Errors) > 0 {
				if _, body := middleware.NewErrorResponse(c.Errors.Last().Err, ""); body.Kind != "" {
					kind = string(body.Kind)
				}
			}
			r.metrics.ErrorTotal.WithLabelValues(c.Request.Method, path, kind).Inc()
		}
	}
}
