package server

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/agentgate/internal/observability/context"
	"github.com/smallbiznis/agentgate/internal/observability/logger"
	"github.com/smallbiznis/agentgate/internal/walletauth"
	"go.uber.org/zap"
)

const (
	HeaderWalletAddress   = "X-Wallet-Address"
	HeaderWalletSignature = "X-Wallet-Signature"
	HeaderWalletMessage   = "X-Wallet-Message"

	contextWalletAddressKey = "wallet_address"
	contextWalletMessageKey = "wallet_message"
)

// BodyLimit caps request bodies. Handlers see the overflow as a bind error.
func (s *Server) BodyLimit() gin.HandlerFunc {
	limit := s.cfg.MaxRequestBodyBytes
	if limit <= 0 {
		limit = defaultMaxRequestBodyBytes
	}
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			AbortWithError(c, ErrPayloadTooLarge)
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

// WalletAuthRequired accepts requests carrying a fresh dashboard message
// signed by the wallet in X-Wallet-Address.
func (s *Server) WalletAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !hasWalletHeaders(c) {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if !s.authenticateWallet(c) {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

// OptionalWalletAuth authenticates the wallet when headers are present and
// lets anonymous requests through.
func (s *Server) OptionalWalletAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !hasWalletHeaders(c) {
			c.Next()
			return
		}
		if !s.authenticateWallet(c) {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

// ConsumeSignature spends the request signature so it cannot be replayed on
// another mutating call. It must run after WalletAuthRequired.
func (s *Server) ConsumeSignature() gin.HandlerFunc {
	return func(c *gin.Context) {
		wallet := walletFromContext(c)
		message := c.GetString(contextWalletMessageKey)
		if wallet == "" || message == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		if err := s.walletAuth.Consume(ctx, wallet, message); err != nil {
			if errors.Is(err, walletauth.ErrSignatureReplayed) {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			logger.FromContext(ctx).Warn("wallet signature consume failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		c.Next()
	}
}

func (s *Server) authenticateWallet(c *gin.Context) bool {
	address := strings.TrimSpace(c.GetHeader(HeaderWalletAddress))
	signature := strings.TrimSpace(c.GetHeader(HeaderWalletSignature))
	message := decodeWalletMessage(c.GetHeader(HeaderWalletMessage))

	ctx := c.Request.Context()
	if !s.walletAuth.Verify(ctx, address, message, signature) {
		return false
	}

	wallet, _ := walletauth.NormalizeAddress(address)
	c.Set(contextWalletAddressKey, wallet)
	c.Set(contextWalletMessageKey, message)
	c.Request = c.Request.WithContext(obscontext.WithActor(ctx, obscontext.ActorWallet, wallet))
	return true
}

func hasWalletHeaders(c *gin.Context) bool {
	return strings.TrimSpace(c.GetHeader(HeaderWalletAddress)) != "" ||
		strings.TrimSpace(c.GetHeader(HeaderWalletSignature)) != "" ||
		strings.TrimSpace(c.GetHeader(HeaderWalletMessage)) != ""
}

// decodeWalletMessage restores the two-line message from a header value,
// which is either base64 or uses a literal \n escape.
func decodeWalletMessage(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, `\n`) {
		return strings.ReplaceAll(raw, `\n`, "\n")
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && utf8.Valid(decoded) {
		if strings.Contains(string(decoded), "\n") {
			return string(decoded)
		}
	}
	return raw
}

func walletFromContext(c *gin.Context) string {
	return c.GetString(contextWalletAddressKey)
}

// bindJSON decodes the request body, reporting an oversized body separately
// from a malformed one.
func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return ErrPayloadTooLarge
		}
		return invalidRequestError()
	}
	return nil
}
