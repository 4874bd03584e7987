package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	activitydomain "github.com/smallbiznis/agentgate/internal/activity/domain"
	apikeydomain "github.com/smallbiznis/agentgate/internal/apikey/domain"
	registrationdomain "github.com/smallbiznis/agentgate/internal/registration/domain"
	"github.com/smallbiznis/agentgate/internal/socialproof"
	"github.com/smallbiznis/agentgate/internal/walletauth"
	"github.com/smallbiznis/agentgate/internal/webhook"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrPayloadTooLarge    = errors.New("payload_too_large")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case isUnauthorizedError(err):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isConflictError(err):
		message := "conflict"
		if !errors.Is(err, ErrConflict) {
			message = err.Error()
		}
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: message,
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, errorPayload{
			Type:    "payload_too_large",
			Message: "request body too large",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, socialproof.ErrProofUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog reports the error type and code written to access logs.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	if payload.Type == "internal_error" {
		return payload.Type, "internal_error"
	}
	return payload.Type, err.Error()
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isRegistrationValidationError(err),
		isAPIKeyValidationError(err),
		isActivityValidationError(err),
		isProofValidationError(err),
		isWebhookValidationError(err):
		return true
	default:
		return false
	}
}

func isRegistrationValidationError(err error) bool {
	switch {
	case errors.Is(err, registrationdomain.ErrInvalidAgentName),
		errors.Is(err, registrationdomain.ErrInvalidOwner),
		errors.Is(err, registrationdomain.ErrInvalidTelegramID),
		errors.Is(err, registrationdomain.ErrInvalidDescription),
		errors.Is(err, registrationdomain.ErrInvalidWebhookURL),
		errors.Is(err, registrationdomain.ErrInvalidTweetURL):
		return true
	default:
		return false
	}
}

func isAPIKeyValidationError(err error) bool {
	switch {
	case errors.Is(err, apikeydomain.ErrInvalidWallet),
		errors.Is(err, apikeydomain.ErrInvalidLabel),
		errors.Is(err, apikeydomain.ErrInvalidKeyID):
		return true
	default:
		return false
	}
}

func isActivityValidationError(err error) bool {
	switch {
	case errors.Is(err, activitydomain.ErrInvalidWallet),
		errors.Is(err, activitydomain.ErrInvalidSubject),
		errors.Is(err, activitydomain.ErrInvalidContext),
		errors.Is(err, activitydomain.ErrInvalidDecision),
		errors.Is(err, activitydomain.ErrInvalidConfidence),
		errors.Is(err, activitydomain.ErrInvalidTxHash),
		errors.Is(err, activitydomain.ErrInvalidAgentName):
		return true
	default:
		return false
	}
}

func isProofValidationError(err error) bool {
	switch {
	case errors.Is(err, socialproof.ErrInvalidPostURL),
		errors.Is(err, socialproof.ErrProofRejected):
		return true
	default:
		return false
	}
}

func isWebhookValidationError(err error) bool {
	switch {
	case errors.Is(err, webhook.ErrInvalidURL),
		errors.Is(err, webhook.ErrInsecureURL),
		errors.Is(err, webhook.ErrURLTooLong),
		errors.Is(err, webhook.ErrForbiddenHost):
		return true
	default:
		return false
	}
}

func isUnauthorizedError(err error) bool {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, apikeydomain.ErrInvalidKey),
		errors.Is(err, walletauth.ErrSignatureReplayed),
		errors.Is(err, walletauth.ErrInvalidSignature),
		errors.Is(err, walletauth.ErrSignerMismatch),
		errors.Is(err, walletauth.ErrExpiredSignature):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, registrationdomain.ErrNameTaken),
		errors.Is(err, registrationdomain.ErrAlreadyVerified),
		errors.Is(err, registrationdomain.ErrAlreadyRevoked),
		errors.Is(err, registrationdomain.ErrClaimExpired),
		errors.Is(err, registrationdomain.ErrVerifyInProgress),
		errors.Is(err, apikeydomain.ErrKeyLimitReached),
		errors.Is(err, apikeydomain.ErrAgentKey):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, registrationdomain.ErrNotFound),
		errors.Is(err, registrationdomain.ErrOwnerMismatch),
		errors.Is(err, apikeydomain.ErrNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case isWebhookValidationError(err):
		return registrationdomain.ErrInvalidWebhookURL.Error()
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	if code == socialproof.ErrProofRejected.Error() {
		return "tweet_url"
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case socialproof.ErrProofRejected.Error():
		return "post does not contain the verification code and owner address"
	default:
		return "invalid value"
	}
}
