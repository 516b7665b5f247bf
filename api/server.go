// Package api is the engine gateway's HTTP surface. Every route turns into exactly
// one engine call over the RPC bridge.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradebus/api/responses"
	"github.com/Aidin1998/tradebus/internal/bridge"
	apierrors "github.com/Aidin1998/tradebus/pkg/errors"
)

// Identity headers set by the upstream auth layer.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"

	RoleAdmin   = "ADMIN"
	RoleService = "SERVICE"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

const healthCheckTimeout = 2 * time.Second

// Server represents the API server
type Server struct {
	router  *gin.Engine
	http    *http.Server
	logger  *zap.Logger
	engine  bridge.Caller
	retry   bridge.RetryPolicy
	timeout time.Duration
	checks  map[string]HealthCheck
}

// NewServer wires the gateway routes to engine. Balance-changing and market
// creation commands go through retry; the rest make a single attempt.
func NewServer(logger *zap.Logger, engine bridge.Caller, retry bridge.RetryPolicy, allowedOrigins []string) *Server {
	server := &Server{
		logger:  logger,
		engine:  engine,
		retry:   retry,
		timeout: retry.Timeout,
		checks:  make(map[string]HealthCheck),
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.CustomRecoveryWithZap(logger, true, responses.Recover))
	router.Use(otelgin.Middleware("engine-gateway"))

	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", HeaderUserID, HeaderUserRole},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		corsConfig.AllowOriginFunc = func(string) bool { return true }
	} else {
		corsConfig.AllowOrigins = allowedOrigins
	}
	router.Use(cors.New(corsConfig))

	server.router = router
	server.registerRoutes()
	return server
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting API server", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// AddHealthCheck makes /api/v1/health report 503 while check fails. Register
// checks before Start.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.checks[name] = check
}

// Router returns the internal Gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	public := s.router.Group("/api/v1")
	{
		public.GET("/metrics", gin.WrapH(promhttp.Handler()))
		public.GET("/health", s.healthCheck)
	}

	protected := s.router.Group("/api/v1")
	protected.Use(s.identityMiddleware())
	{
		balance := protected.Group("/balance")
		{
			balance.GET("", s.getBalance)
			balance.POST("/onramp", s.onramp)
		}

		order := protected.Group("/order")
		{
			order.POST("/buy", s.placeOrder(bridge.EventPlaceOrder, ActionBuy))
			order.POST("/sell", s.placeOrder(bridge.EventSellOrder, ActionSell))
		}

		protected.POST("/market", s.requireRole(RoleAdmin), s.createMarket)

		// Called by the auth service on signup and on verification.
		user := protected.Group("/user", s.requireRole(RoleService))
		{
			user.POST("", s.createUser)
			user.POST("/:id/balance", s.initBalance)
		}
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	failed := make(map[string]string)
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		s.logger.Warn("Health check failed", zap.Any("checks", failed))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"checks": failed,
			"time":   time.Now(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now(),
	})
}

// identityMiddleware trusts the user id forwarded by the auth layer in front of
// the gateway.
func (s *Server) identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(HeaderUserID)
		if userID == "" {
			s.logger.Warn("Unauthorized request", zap.String("path", c.FullPath()))
			responses.Unauthorized(c, "missing user identity")
			return
		}
		c.Set("userID", userID)
		c.Next()
	}
}

func (s *Server) requireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(HeaderUserRole) != role {
			s.logger.Warn("Forbidden request",
				zap.String("path", c.FullPath()),
				zap.String("user_id", c.GetString("userID")),
			)
			responses.Forbidden(c, "insufficient role")
			return
		}
		c.Next()
	}
}

// writeBindError renders binding and validation failures as a 400 with one entry per
// failed field.
func (s *Server) writeBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		responses.BadRequest(c, "invalid request body")
		return
	}

	fields := make([]apierrors.ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apierrors.ValidationError{
			Field:   fe.Field(),
			Message: "failed on " + fe.Tag(),
			Code:    fe.Tag(),
		})
	}
	responses.BadRequest(c, "validation failed", fields...)
}

// writeEngineResult maps a bridge outcome to HTTP. Transport-level failures become a
// generic 502; an engine that answered but refused gets its message relayed as 422.
func (s *Server) writeEngineResult(c *gin.Context, eventType bridge.EventType, resp bridge.Response, err error, created bool) {
	if err != nil {
		s.logger.Error("Engine call failed",
			zap.Bool("alert", true),
			zap.String("event_type", string(eventType)),
			zap.String("user_id", c.GetString("userID")),
			zap.Error(err),
		)
		responses.BadGateway(c, "engine unavailable, try again later")
		return
	}
	if !resp.Success {
		responses.EngineRejected(c, resp.Message)
		return
	}

	var data interface{}
	if len(resp.Data) > 0 {
		data = resp.Data
	}
	if created {
		responses.Created(c, data, resp.Message)
		return
	}
	responses.Success(c, data, resp.Message)
}
