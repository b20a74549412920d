package api

import (
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Headers set by the upstream auth layer
const (
	HeaderUserID    = "X-User-ID"
	HeaderSessionID = "X-Session-ID"
	HeaderUserRole  = "X-User-Role"
	HeaderRequestID = "X-Request-ID"

	roleAdmin = "admin"

	ctxUserID    = "user_id"
	ctxSessionID = "session_id"
	ctxIsAdmin   = "is_admin"
)

// identityMiddleware reads the caller's identity headers. A malformed user id
// is rejected rather than treated as anonymous.
func identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := c.GetHeader(HeaderUserID); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid user id"})
				return
			}
			c.Set(ctxUserID, id)
		}
		if session := c.GetHeader(HeaderSessionID); session != "" {
			c.Set(ctxSessionID, session)
		}
		c.Set(ctxIsAdmin, c.GetHeader(HeaderUserRole) == roleAdmin)
		c.Next()
	}
}

// requestLogger attaches a request-scoped logger and logs each request
func requestLogger(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(HeaderRequestID, requestID)

		logger := base.With(zap.String("request_id", requestID))
		c.Request = c.Request.WithContext(util.WithLogger(c.Request.Context(), logger))

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(ctxUserID); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		c.Next()
	}
}

func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(ctxIsAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}

func userID(c *gin.Context) int64 {
	return c.GetInt64(ctxUserID)
}

// identity prefers the authenticated user over the session
func identity(c *gin.Context) service.Identity {
	var id service.Identity
	if v, ok := c.Get(ctxUserID); ok {
		uid := v.(int64)
		id.UserID = &uid
		return id
	}
	id.SessionID = c.GetString(ctxSessionID)
	return id
}
