package server

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/agentgate/internal/apikey/domain"
	"github.com/smallbiznis/agentgate/internal/config"
	obscontext "github.com/smallbiznis/agentgate/internal/observability/context"
	"github.com/smallbiznis/agentgate/internal/observability/logger"
	"go.uber.org/zap"
)

const contextAPIKeyKey = "api_key"

// APIKeyRequired authenticates agent requests by bearer API key and applies
// the per-key rate limit.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		key, err := s.apiKeySvc.Authenticate(ctx, parts[1])
		if err != nil {
			if errors.Is(err, apikeydomain.ErrInvalidKey) {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			logger.FromContext(ctx).Warn("api key lookup failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}

		c.Request = c.Request.WithContext(obscontext.WithActor(ctx, obscontext.ActorAPIKey, key.KeyPrefix))
		c.Set(contextAPIKeyKey, key)

		if !s.allow(c, config.ScopeAPIKey, key.KeyID) {
			return
		}
		c.Next()
	}
}

func apiKeyFromContext(c *gin.Context) (*apikeydomain.Key, bool) {
	value, ok := c.Get(contextAPIKeyKey)
	if !ok {
		return nil, false
	}
	key, ok := value.(*apikeydomain.Key)
	return key, ok && key != nil
}
