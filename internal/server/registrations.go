package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/agentgate/internal/config"
	"github.com/smallbiznis/agentgate/internal/observability/logger"
	registrationdomain "github.com/smallbiznis/agentgate/internal/registration/domain"
	"go.uber.org/zap"
)

func (s *Server) RegisterAgent(c *gin.Context) {
	var req registrationdomain.CreateRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	if !s.allow(c, config.ScopeRegistrationWallet, req.OwnerAddress) {
		return
	}

	resp, err := s.registrationSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// GetClaim is the bearer status poll: knowing the claim id is the credential.
func (s *Server) GetClaim(c *gin.Context) {
	resp, err := s.registrationSvc.GetByClaimID(c.Request.Context(), c.Param("claim_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) VerifyClaim(c *gin.Context) {
	var req registrationdomain.VerifyRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.registrationSvc.Verify(c.Request.Context(), c.Param("claim_id"), req, walletFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ListOwnerRegistrations(c *gin.Context) {
	items, err := s.registrationSvc.ListByOwner(c.Request.Context(), walletFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) RevokeRegistration(c *gin.Context) {
	ctx := c.Request.Context()
	snapshot, err := s.registrationSvc.Revoke(ctx, c.Param("claim_id"), walletFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	logger.FromContext(ctx).Info("registration revoked",
		zap.String("agent_name", snapshot.AgentName),
		zap.String("previous_status", string(snapshot.Status)),
	)

	c.JSON(http.StatusOK, gin.H{
		"agent_name":      snapshot.AgentName,
		"status":          registrationdomain.StatusRevoked,
		"previous_status": snapshot.Status,
	})
}

func (s *Server) GetStats(c *gin.Context) {
	stats, err := s.registrationSvc.Stats(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func trimParam(c *gin.Context, name string) string {
	return strings.TrimSpace(c.Param(name))
}
