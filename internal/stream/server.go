package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// Server exposes the WebSocket endpoint and health/metrics routes.
type Server struct {
	hub      *Hub
	router   *gin.Engine
	upgrader websocket.Upgrader
	cfg      ClientConfig
	logger   *zap.Logger
	http     *http.Server
	checks   map[string]func(context.Context) error
}

// NewServer builds the router. allowedOrigins of ["*"] or empty accepts any
// origin.
func NewServer(hub *Hub, cfg ClientConfig, allowedOrigins []string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		hub:    hub,
		cfg:    cfg,
		logger: logger,
		checks: make(map[string]func(context.Context) error),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(otelgin.Middleware("stream-service"))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  corsOrigins(allowedOrigins),
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	router.GET("/ws", s.serveWS)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/api/v1/health", s.healthCheck)

	s.router = router
	return s
}

// AddHealthCheck makes the health route answer 503 while check fails.
func (s *Server) AddHealthCheck(name string, check func(context.Context) error) {
	s.checks[name] = check
}

// Router returns the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.router}
	s.logger.Info("Starting stream server", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("stream server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections. Live WebSocket connections are hijacked
// and are closed by their pumps when the process exits.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) serveWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		s.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	client := newClient(s.hub, conn, s.cfg, s.logger)
	s.hub.Register(client)
	go client.writePump()
	go client.readPump()
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"success": false,
				"message": name + " unavailable",
				"error":   err.Error(),
				"time":    time.Now(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"message":     "stream service is up and running",
		"connections": s.hub.Clients(),
		"groups":      s.hub.Groups(),
		"time":        time.Now(),
	})
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func corsOrigins(allowed []string) []string {
	if len(allowed) == 0 {
		return []string{"*"}
	}
	return allowed
}
