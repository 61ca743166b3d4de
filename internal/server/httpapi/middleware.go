package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/dmitrijs2005/pressarchive/internal/server/auth"
	"github.com/dmitrijs2005/pressarchive/internal/server/gateway"
	"github.com/gin-gonic/gin"
)

type ctxKey string

const callerKey ctxKey = "caller"

// CallerFrom returns the caller stored by the authentication middleware, or
// an anonymous caller.
func CallerFrom(ctx context.Context) gateway.Caller {
	c, _ := ctx.Value(callerKey).(gateway.Caller)
	return c
}

// authenticate resolves an optional bearer token into a caller. Requests
// without a token pass through anonymously; a malformed or expired token is
// rejected.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			s.writeError(c, common.ErrInvalidToken)
			return
		}

		claims, err := auth.ParseToken(strings.TrimSpace(token), s.cfg.JWTSecret)
		if err != nil {
			s.logger.Info(c.Request.Context(), "token rejected", "error", err)
			s.writeError(c, err)
			return
		}

		caller := gateway.Caller{UserID: claims.UserID, Role: claims.Role}
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), callerKey, caller))
		c.Next()
	}
}

// requireRoles lets through authenticated callers holding one of roles. With
// no roles any authenticated caller passes.
func (s *Server) requireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := CallerFrom(c.Request.Context())
		if caller.Anonymous() {
			s.writeError(c, common.ErrUnauthorized)
			return
		}
		if len(roles) > 0 && !auth.HasRole(caller.Role, roles...) {
			s.writeError(c, common.ErrForbidden)
			return
		}
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		args := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
		}
		if status >= http.StatusInternalServerError {
			s.logger.Warn(c.Request.Context(), "request", args...)
			return
		}
		s.logger.Debug(c.Request.Context(), "request", args...)
	}
}
