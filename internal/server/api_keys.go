package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/agentgate/internal/apikey/domain"
)

type agentIdentityResponse struct {
	KeyPrefix     string `json:"key_prefix"`
	Kind          string `json:"kind"`
	AgentName     string `json:"agent_name,omitempty"`
	Label         string `json:"label"`
	WalletAddress string `json:"wallet_address"`
	RequestCount  int64  `json:"request_count"`
}

func (s *Server) ListAPIKeys(c *gin.Context) {
	keys, err := s.apiKeySvc.List(c.Request.Context(), walletFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": keys})
}

func (s *Server) CreateAPIKey(c *gin.Context) {
	var req apikeydomain.GenerateRequest
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &req); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	resp, err := s.apiKeySvc.Generate(c.Request.Context(), walletFromContext(c), req.Label)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// RevokeAPIKey revokes a dashboard key. An agent key is revoked through its
// registration so the agent name is released and agent.revoked fires.
func (s *Server) RevokeAPIKey(c *gin.Context) {
	ctx := c.Request.Context()
	wallet := walletFromContext(c)

	key, err := s.apiKeySvc.Get(ctx, wallet, trimParam(c, "key_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if key.IsAgentKey() {
		if _, err := s.registrationSvc.Revoke(ctx, key.ClaimID, wallet); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
		return
	}

	if err := s.apiKeySvc.Revoke(ctx, wallet, key.KeyID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetAgentIdentity describes the key the agent authenticated with.
func (s *Server) GetAgentIdentity(c *gin.Context) {
	key, ok := apiKeyFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	kind := apikeydomain.KindDashboard
	if key.IsAgentKey() {
		kind = apikeydomain.KindAgent
	}
	c.JSON(http.StatusOK, agentIdentityResponse{
		KeyPrefix:     key.KeyPrefix,
		Kind:          kind,
		AgentName:     key.AgentName,
		Label:         key.Label,
		WalletAddress: key.WalletAddress,
		RequestCount:  key.RequestCount,
	})
}
