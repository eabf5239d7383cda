// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"crypto/subtle"
	"fmt"
	"math"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ============================================================================
// Auth Configuration and Middleware
// ============================================================================

// AuthConfig contains authentication configuration options.
type AuthConfig struct {
	// BearerToken is the expected bearer token. Empty disables token checks.
	BearerToken string

	// AllowedIPs lists addresses or CIDR ranges allowed access. Empty
	// allows every address.
	AllowedIPs []string

	parsedCIDRs []*net.IPNet
	parsedOnce  sync.Once
}

func (c *AuthConfig) parseCIDRs() {
	c.parsedOnce.Do(func() {
		c.parsedCIDRs = make([]*net.IPNet, 0, len(c.AllowedIPs))
		for _, ipStr := range c.AllowedIPs {
			if strings.Contains(ipStr, "/") {
				if _, ipNet, err := net.ParseCIDR(ipStr); err == nil {
					c.parsedCIDRs = append(c.parsedCIDRs, ipNet)
				}
				continue
			}
			ip := net.ParseIP(ipStr)
			if ip == nil {
				continue
			}
			bits := 128
			if ip.To4() != nil {
				bits = 32
			}
			c.parsedCIDRs = append(c.parsedCIDRs, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
		}
	})
}

func (c *AuthConfig) isIPAllowed(ipStr string) bool {
	if len(c.AllowedIPs) == 0 {
		return true
	}
	c.parseCIDRs()

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, cidr := range c.parsedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// AuthMiddleware rejects requests from disallowed addresses or without the
// expected bearer token with 401.
func AuthMiddleware(config *AuthConfig, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		deny := func(reason string) {
			logger.Warn("auth denied", zap.String("ip", clientIP), zap.String("reason", reason))
			abortError(c, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		}

		if !config.isIPAllowed(clientIP) {
			deny("ip_not_allowed")
			return
		}
		if config.BearerToken == "" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			deny("missing_bearer_token")
			return
		}
		if !ValidateBearerToken(strings.TrimPrefix(authHeader, "Bearer "), config.BearerToken) {
			deny("invalid_token")
			return
		}
		c.Next()
	}
}

// ValidateBearerToken compares tokens in constant time. Empty tokens never
// match.
func ValidateBearerToken(token, expected string) bool {
	if token == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

// ============================================================================
// CORS Configuration and Middleware
// ============================================================================

// CORSConfig contains CORS (Cross-Origin Resource Sharing) configuration.
type CORSConfig struct {
	// AllowedOrigins lists allowed origins. "*" allows all; "*.example.com"
	// allows subdomains.
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string

	// MaxAge is the max age (in seconds) for preflight cache.
	MaxAge int
}

// DefaultCORSConfig allows localhost origins.
func DefaultCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowedOrigins: []string{
			"http://localhost",
			"http://localhost:3000",
			"http://localhost:8080",
			"http://127.0.0.1",
			"http://127.0.0.1:3000",
			"http://127.0.0.1:8080",
		},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         86400,
	}
}

func (c *CORSConfig) allowOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	for _, allowed := range c.AllowedOrigins {
		switch {
		case allowed == "*":
			return "*"
		case allowed == origin:
			return origin
		case strings.HasPrefix(allowed, "*.") && strings.HasSuffix(origin, strings.TrimPrefix(allowed, "*")):
			return origin
		}
	}
	return ""
}

// CORSMiddleware sets Access-Control headers for allowed origins and
// answers preflight requests with 204.
func CORSMiddleware(config *CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if allow := config.allowOrigin(c.GetHeader("Origin")); allow != "" {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", allow)
			h.Set("Access-Control-Allow-Methods", strings.Join(config.AllowedMethods, ", "))
			h.Set("Access-Control-Allow-Headers", strings.Join(config.AllowedHeaders, ", "))
			h.Set("Access-Control-Max-Age", fmt.Sprintf("%d", config.MaxAge))
			if allow != "*" {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// ============================================================================
// Rate Limiter
// ============================================================================

// RateLimiter keeps a token bucket per client address.
type RateLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

type visitor struct {
	limiter *rate.Limiter
	seen    time.Time
}

// NewRateLimiter allows perSecond requests per client with the given burst.
// Idle clients are forgotten after ten minutes.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(perSecond)))
	}
	return &RateLimiter{
		limit:     rate.Limit(perSecond),
		burst:     burst,
		ttl:       10 * time.Minute,
		visitors:  make(map[string]*visitor),
		lastSweep: time.Now(),
	}
}

// Allow reports whether a request from ip may proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastSweep) > rl.ttl {
		for k, v := range rl.visitors {
			if now.Sub(v.seen) > rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.lastSweep = now
	}

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.seen = now
	return v.limiter.Allow()
}

// RateLimitMiddleware answers 429 when a client exceeds its budget.
func RateLimitMiddleware(limiter *RateLimiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%g", float64(limiter.limit)))
		if !limiter.Allow(ip) {
			retry := 1
			if limiter.limit > 0 && float64(limiter.limit) < 1 {
				retry = int(math.Ceil(1 / float64(limiter.limit)))
			}
			c.Header("Retry-After", fmt.Sprintf("%d", retry))
			logger.Warn("rate limit exceeded", zap.String("ip", ip))
			abortError(c, http.StatusTooManyRequests, "rate_limited", "Too Many Requests")
			return
		}
		c.Next()
	}
}

// ============================================================================
// Request Logging, Headers, Limits and Recovery
// ============================================================================

// LoggingMiddleware logs every request with its status and latency.
func LoggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request", fields...)
		} else {
			logger.Info("request", fields...)
		}
	}
}

// SecurityHeadersMiddleware adds standard hardening headers.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'self'")
		h.Set("Cache-Control", "no-store")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// BodyLimitMiddleware caps request bodies at limit bytes.
func BodyLimitMiddleware(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

// RecoveryMiddleware turns a handler panic into a 500 and logs the stack.
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.Any("error", err),
					zap.ByteString("stack", debug.Stack()))
				abortError(c, http.StatusInternalServerError, "internal", "Internal Server Error")
			}
		}()
		c.Next()
	}
}

// trustedProxies may set X-Forwarded-For and X-Real-IP.
var trustedProxies = []string{
	"127.0.0.1/32",
	"::1/128",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"fc00::/7",
}
