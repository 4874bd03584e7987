package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/agentgate/internal/observability/logger"
	"go.uber.org/zap"
)

const contextRateLimitScopeKey = "rate_limit_scope"

// RateLimit counts the request against scope for the identifier returned by
// identify. Requests without an identifier are not counted.
func (s *Server) RateLimit(scope string, identify func(c *gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.allow(c, scope, identify(c)) {
			return
		}
		c.Next()
	}
}

// allow aborts the request and returns false when identifier is over the
// scope's limit or the limiter is unreachable.
func (s *Server) allow(c *gin.Context, scope, identifier string) bool {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return true
	}

	ctx := c.Request.Context()
	res, err := s.limiter.Check(ctx, scope, identifier)
	if err != nil {
		logger.FromContext(ctx).Warn("rate limit check failed",
			zap.String("scope", scope),
			zap.Error(err),
		)
		AbortWithError(c, ErrServiceUnavailable)
		return false
	}

	c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	if !res.Allowed {
		c.Set(contextRateLimitScopeKey, scope)
		c.Header("Retry-After", strconv.Itoa(res.RetryAfterSeconds()))
		logger.FromContext(ctx).Info("rate limit exceeded",
			zap.String("scope", scope),
			zap.Int("retry_after_seconds", res.RetryAfterSeconds()),
		)
		AbortWithError(c, ErrRateLimited)
		return false
	}
	return true
}

func clientIP(c *gin.Context) string {
	return c.ClientIP()
}

func claimIDParam(c *gin.Context) string {
	return strings.ToLower(strings.TrimSpace(c.Param("claim_id")))
}

func walletIdentifier(c *gin.Context) string {
	return walletFromContext(c)
}
