// Package middleware provides gin middleware for a pipeline process's
// debug/metrics HTTP surface (internal/metrics.Server) — not a
// public-facing API. Defaults here are tuned for a single-tenant,
// same-host observability endpoint polled by Prometheus and an operator's
// browser, grounded on the teacher's internal/api/middleware package.
package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSConfig defines CORS configuration for the debug surface.
type CORSConfig struct {
	AllowOrigins []string
	AllowMethods []string
	AllowHeaders []string
	MaxAge       time.Duration
}

// DefaultCORSConfig allows any origin to read /healthz and /metrics —
// both are side-effect-free GETs exposing no credentials — but never
// echoes credentials, since the debug surface issues no cookies or
// auth tokens for a browser to carry.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Accept", "Cache-Control"},
		MaxAge:       12 * time.Hour,
	}
}

// CORS creates a CORS middleware with the provided configuration.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
		AllowHeaders: cfg.AllowHeaders,
		MaxAge:       cfg.MaxAge,
	})
}
