package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SebastianBathrick/dporch/internal/api/middleware"
	"github.com/SebastianBathrick/dporch/internal/logging"
)

// StatusProvider reports the driver's current lifecycle state as a
// string, without this package needing to import the driver package.
type StatusProvider func() string

// Server is the debug/metrics HTTP surface a pipeline process optionally
// runs alongside its data and discovery sockets. Grounded on the
// teacher's internal/infrastructure/server/server.go router wiring.
type Server struct {
	router *gin.Engine
	http   *http.Server
	logger *logging.Logger
}

// NewServer builds the gin router for /healthz and /metrics. status is
// consulted on every /healthz request.
func NewServer(addr string, m *Metrics, status StatusProvider, logger *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"state": status()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))

	return &Server{
		router: router,
		http:   &http.Server{Addr: addr, Handler: router},
		logger: logger,
	}
}

// Run starts the server and blocks until it stops or errors.
func (s *Server) Run() error {
	s.logger.Sugar().Infow("debug server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close gracefully shuts the server down within ctx.
func (s *Server) Close(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
