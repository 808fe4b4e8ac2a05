package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/huntplane/huntplane/internal/config"
	"github.com/huntplane/huntplane/internal/logger"
)

// LoggingMiddleware logs all HTTP requests
func LoggingMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		log.Infow("HTTP request",
			"method", method,
			"path", path,
			"status", statusCode,
			"duration_ms", duration.Milliseconds(),
			"ip", c.ClientIP(),
		)
	}
}

// AuthMiddleware validates the control API key against its bcrypt
// hash. Only the hash is ever stored or configured; the comparison is
// constant-time by construction.
func AuthMiddleware(cfg config.SecurityConfig, log *logger.Logger) gin.HandlerFunc {
	if cfg.EnableAuth && cfg.APIKeyHash == "" {
		log.Fatalw("API auth enabled but no key hash configured",
			"hint", "Set security.api_key_hash or disable security.enable_auth",
		)
	}

	return func(c *gin.Context) {
		if !cfg.EnableAuth {
			c.Next()
			return
		}

		// Health stays open for load balancer probes.
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Warnw("Missing Authorization header",
				"path", c.Request.URL.Path,
				"ip", c.ClientIP(),
			)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Missing Authorization header",
			})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid Authorization format. Expected: Bearer <token>",
			})
			c.Abort()
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(cfg.APIKeyHash), []byte(parts[1])); err != nil {
			log.Warnw("Invalid API key",
				"ip", c.ClientIP(),
				"path", c.Request.URL.Path,
			)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid API key",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
