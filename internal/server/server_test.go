package server

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	activityrepository "github.com/smallbiznis/agentgate/internal/activity/repository"
	activityservice "github.com/smallbiznis/agentgate/internal/activity/service"
	apikeydomain "github.com/smallbiznis/agentgate/internal/apikey/domain"
	apikeyrepository "github.com/smallbiznis/agentgate/internal/apikey/repository"
	apikeyservice "github.com/smallbiznis/agentgate/internal/apikey/service"
	"github.com/smallbiznis/agentgate/internal/clock"
	"github.com/smallbiznis/agentgate/internal/config"
	"github.com/smallbiznis/agentgate/internal/ratelimit"
	registrationdomain "github.com/smallbiznis/agentgate/internal/registration/domain"
	registrationrepository "github.com/smallbiznis/agentgate/internal/registration/repository"
	registrationservice "github.com/smallbiznis/agentgate/internal/registration/service"
	"github.com/smallbiznis/agentgate/internal/socialproof"
	"github.com/smallbiznis/agentgate/internal/store/storetest"
	"github.com/smallbiznis/agentgate/internal/walletauth"
	"github.com/smallbiznis/agentgate/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testHook = "https://hooks.example.com/agentgate"
	testPost = "https://x.com/alpha_owner/status/1790000000000000000"
)

type recordedEvent struct {
	url   string
	event string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) Validate(url string) error {
	return webhook.ValidateURL(url, webhook.DefaultMaxURLLength)
}

func (n *recordingNotifier) Send(_ context.Context, url, event string, _ any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{url: url, event: event})
}

func (n *recordingNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, e := range n.events {
		if e.event == event {
			total++
		}
	}
	return total
}

type stubProof struct {
	err error
}

func (p *stubProof) Verify(_ context.Context, postURL, _, _ string) (*socialproof.Proof, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &socialproof.Proof{PostURL: postURL}, nil
}

type testServer struct {
	engine   *gin.Engine
	clock    *clock.FakeClock
	notifier *recordingNotifier
	proof    *stubProof
	wallet   *ecdsa.PrivateKey
}

func newTestServer(t *testing.T, policies map[string]config.RateLimitPolicy) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	client, _ := storetest.NewRedis(t)
	log := zap.NewNop()
	fake := clock.NewFakeClock(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))
	cfg := config.Config{
		DashboardName: "AgentGate",
		PublicBaseURL: "https://agentgate.example.com",
		Registration: config.RegistrationConfig{
			ClaimTTL:         24 * time.Hour,
			VerifyLockTTL:    30 * time.Second,
			SignatureMaxAge:  5 * time.Minute,
			ReplayProtection: true,
		},
		Keys:                config.KeysConfig{MaxPerWallet: 20},
		MaxRequestBodyBytes: 16 << 10,
	}
	if policies == nil {
		policies = config.DefaultRateLimitPolicies()
	}

	wallet, err := crypto.GenerateKey()
	require.NoError(t, err)

	ts := &testServer{
		engine:   gin.New(),
		clock:    fake,
		notifier: &recordingNotifier{},
		proof:    &stubProof{},
		wallet:   wallet,
	}
	ts.engine.Use(ErrorHandlingMiddleware())

	NewServer(ServerParams{
		Gin: ts.engine,
		Cfg: cfg,
		Log: log,
		RegistrationSvc: registrationservice.New(registrationservice.Params{
			Cfg:      cfg,
			Log:      log,
			Clock:    fake,
			Repo:     registrationrepository.Provide(client, log),
			Locker:   ratelimit.NewLocker(client),
			Proof:    ts.proof,
			Notifier: ts.notifier,
		}),
		APIKeySvc: apikeyservice.New(apikeyservice.Params{
			Cfg:   cfg,
			Log:   log,
			Clock: fake,
			Repo:  apikeyrepository.Provide(client, log),
		}),
		ActivitySvc: activityservice.New(activityservice.Params{
			Log:   log,
			Clock: fake,
			Repo:  activityrepository.Provide(client),
		}),
		Limiter: ratelimit.New(ratelimit.Params{
			Redis:    client,
			Policies: config.NewStaticRateLimitHolder(policies),
			Log:      log,
		}),
		WalletAuth: walletauth.New(walletauth.Params{
			Cfg:   cfg,
			Log:   log,
			Clock: fake,
			Redis: client,
		}),
	})
	return ts
}

func (ts *testServer) owner() string {
	return crypto.PubkeyToAddress(ts.wallet.PublicKey).Hex()
}

// walletHeaders signs a fresh dashboard message. offset keeps signatures
// distinct when a test needs several single-use ones.
func (ts *testServer) walletHeaders(t *testing.T, offset time.Duration) map[string]string {
	t.Helper()

	message := walletauth.Message("AgentGate", ts.clock.Now().Add(-offset))
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), ts.wallet)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27

	return map[string]string{
		HeaderWalletAddress:   ts.owner(),
		HeaderWalletSignature: hexutil.Encode(sig),
		HeaderWalletMessage:   base64.StdEncoding.EncodeToString([]byte(message)),
	}
}

func bearer(apiKey string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + apiKey}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(v)
	default:
		payload, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.10:40000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) register(t *testing.T, name string) registrationdomain.CreateResponse {
	t.Helper()

	rec := ts.do(t, http.MethodPost, "/v1/agents/register", registrationdomain.CreateRequest{
		AgentName:    name,
		OwnerAddress: ts.owner(),
		WebhookURL:   testHook,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created registrationdomain.CreateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	return created
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestRegisterPollVerifyOverHTTP(t *testing.T) {
	ts := newTestServer(t, nil)

	created := ts.register(t, "alpha_1")
	assert.True(t, strings.HasPrefix(created.APIKey, apikeydomain.KeyPrefix))
	assert.Equal(t, registrationdomain.StatusPending, created.Status)

	rec := ts.do(t, http.MethodPost, "/v1/agents/register", registrationdomain.CreateRequest{
		AgentName:    "ALPHA_1",
		OwnerAddress: ts.owner(),
	}, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "agent_name_taken", decodeError(t, rec).Message)

	rec = ts.do(t, http.MethodGet, "/v1/agents/claims/"+created.ClaimID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status registrationdomain.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, registrationdomain.StatusPending, status.Status)
	assert.Equal(t, created.VerificationCode, status.VerificationCode)

	// The key cannot authenticate until the claim is verified.
	rec = ts.do(t, http.MethodGet, "/v1/agent/me", nil, bearer(created.APIKey))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/agents/claims/"+created.ClaimID+"/verify",
		registrationdomain.VerifyRequest{TweetURL: testPost}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, registrationdomain.StatusVerified, status.Status)
	assert.Empty(t, status.VerificationCode)

	rec = ts.do(t, http.MethodPost, "/v1/agents/claims/"+created.ClaimID+"/verify",
		registrationdomain.VerifyRequest{TweetURL: testPost}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1, ts.notifier.count(webhook.EventAgentVerified))

	rec = ts.do(t, http.MethodGet, "/v1/agent/me", nil, bearer(created.APIKey))
	require.Equal(t, http.StatusOK, rec.Code)
	var me agentIdentityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, apikeydomain.KindAgent, me.Kind)
	assert.Equal(t, "alpha_1", me.AgentName)
	assert.Equal(t, strings.ToLower(ts.owner()), me.WalletAddress)
}

func TestVerifyMapsProofFailures(t *testing.T) {
	ts := newTestServer(t, nil)
	created := ts.register(t, "proof_agent")

	rec := ts.do(t, http.MethodPost, "/v1/agents/claims/"+created.ClaimID+"/verify",
		registrationdomain.VerifyRequest{TweetURL: "https://example.com/post/1"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Type)

	ts.proof.err = socialproof.ErrProofRejected
	rec = ts.do(t, http.MethodPost, "/v1/agents/claims/"+created.ClaimID+"/verify",
		registrationdomain.VerifyRequest{TweetURL: testPost}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "proof_rejected", decodeError(t, rec).Errors[0].Code)

	ts.proof.err = socialproof.ErrProofUnavailable
	rec = ts.do(t, http.MethodPost, "/v1/agents/claims/"+created.ClaimID+"/verify",
		registrationdomain.VerifyRequest{TweetURL: testPost}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/agents/claims/"+strings.Repeat("a", 64), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOwnerRoutesRequireWalletSignature(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/v1/owner/keys", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	stale := ts.walletHeaders(t, 6*time.Minute)
	rec = ts.do(t, http.MethodGet, "/v1/owner/keys", nil, stale)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	headers := ts.walletHeaders(t, time.Second)
	headers[HeaderWalletAddress] = "0x00000000000000000000000000000000000000bb"
	rec = ts.do(t, http.MethodGet, "/v1/owner/keys", nil, headers)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/owner/keys", nil, ts.walletHeaders(t, time.Second))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOwnerKeyLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	signed := ts.walletHeaders(t, time.Second)
	rec := ts.do(t, http.MethodPost, "/v1/owner/keys", apikeydomain.GenerateRequest{Label: "ci"}, signed)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var secret apikeydomain.SecretResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &secret))
	assert.Equal(t, "ci", secret.Label)

	// Mutating calls spend their signature.
	rec = ts.do(t, http.MethodPost, "/v1/owner/keys", apikeydomain.GenerateRequest{Label: "again"}, signed)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/agent/me", nil, bearer(secret.APIKey))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/owner/keys", nil, ts.walletHeaders(t, 2*time.Second))
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Data []apikeydomain.Response `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Data, 1)
	assert.Equal(t, int64(1), listed.Data[0].RequestCount)

	rec = ts.do(t, http.MethodDelete, "/v1/owner/keys/"+secret.KeyID, nil, ts.walletHeaders(t, 3*time.Second))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/agent/me", nil, bearer(secret.APIKey))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/v1/owner/keys/"+secret.KeyID, nil, ts.walletHeaders(t, 4*time.Second))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOwnerSignatureCannotBeReplayedInAnotherEncoding(t *testing.T) {
	ts := newTestServer(t, nil)

	signed := ts.walletHeaders(t, time.Second)
	rec := ts.do(t, http.MethodPost, "/v1/owner/keys", apikeydomain.GenerateRequest{Label: "ci"}, signed)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Same signature with v as 0/1 instead of 27/28.
	raw, err := hexutil.Decode(signed[HeaderWalletSignature])
	require.NoError(t, err)
	raw[crypto.RecoveryIDOffset] -= 27
	replayed := map[string]string{
		HeaderWalletAddress:   signed[HeaderWalletAddress],
		HeaderWalletSignature: hexutil.Encode(raw),
		HeaderWalletMessage:   signed[HeaderWalletMessage],
	}

	// The re-encoded signature still authenticates read-only calls.
	rec = ts.do(t, http.MethodGet, "/v1/owner/keys", nil, replayed)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/owner/keys", apikeydomain.GenerateRequest{Label: "replayed"}, replayed)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/owner/keys", nil, ts.walletHeaders(t, 2*time.Second))
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Data []apikeydomain.Response `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed.Data, 1)
}

func TestRevokingAgentKeyRevokesItsRegistration(t *testing.T) {
	ts := newTestServer(t, nil)
	created := ts.register(t, "keyed_agent")

	rec := ts.do(t, http.MethodPost, "/v1/agents/claims/"+created.ClaimID+"/verify",
		registrationdomain.VerifyRequest{TweetURL: testPost}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/v1/owner/keys", nil, ts.walletHeaders(t, time.Second))
	require.Equal(t, http.StatusOK, rec.Code)
	var keys struct {
		Data []apikeydomain.Response `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &keys))
	require.Len(t, keys.Data, 1)
	require.Equal(t, apikeydomain.KindAgent, keys.Data[0].Kind)

	rec = ts.do(t, http.MethodDelete, "/v1/owner/keys/"+keys.Data[0].KeyID, nil, ts.walletHeaders(t, 2*time.Second))
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.Equal(t, 1, ts.notifier.count(webhook.EventAgentRevoked))

	rec = ts.do(t, http.MethodGet, "/v1/agent/me", nil, bearer(created.APIKey))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/agents/claims/"+created.ClaimID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status registrationdomain.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, registrationdomain.StatusRevoked, status.Status)

	rec = ts.do(t, http.MethodGet, "/v1/owner/registrations", nil, ts.walletHeaders(t, 3*time.Second))
	require.Equal(t, http.StatusOK, rec.Code)
	var regs struct {
		Data []registrationdomain.OwnerView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &regs))
	assert.Empty(t, regs.Data)

	rec = ts.do(t, http.MethodDelete, "/v1/owner/keys/"+keys.Data[0].KeyID, nil, ts.walletHeaders(t, 4*time.Second))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.register(t, "keyed_agent")
}

func TestOwnerRevokesRegistration(t *testing.T) {
	ts := newTestServer(t, nil)
	created := ts.register(t, "revoke_me")

	rec := ts.do(t, http.MethodPost, "/v1/agents/claims/"+created.ClaimID+"/verify",
		registrationdomain.VerifyRequest{TweetURL: testPost}, ts.walletHeaders(t, time.Second))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/v1/owner/registrations", nil, ts.walletHeaders(t, 2*time.Second))
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Data []registrationdomain.OwnerView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Data, 1)
	assert.Equal(t, registrationdomain.StatusVerified, listed.Data[0].Status)

	rec = ts.do(t, http.MethodDelete, "/v1/owner/registrations/"+created.ClaimID, nil, ts.walletHeaders(t, 3*time.Second))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, ts.notifier.count(webhook.EventAgentRevoked))

	rec = ts.do(t, http.MethodGet, "/v1/agent/me", nil, bearer(created.APIKey))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/v1/owner/registrations/"+created.ClaimID, nil, ts.walletHeaders(t, 4*time.Second))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// The name is claimable again once revoked.
	ts.register(t, "revoke_me")
}

func TestAgentActivityAndFeed(t *testing.T) {
	ts := newTestServer(t, nil)
	created := ts.register(t, "ledger_bot")
	rec := ts.do(t, http.MethodPost, "/v1/agents/claims/"+created.ClaimID+"/verify",
		registrationdomain.VerifyRequest{TweetURL: testPost}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/agent/activity", map[string]any{
		"subject":    "0x1234567890abcdef1234567890abcdef12345678",
		"context":    "swap",
		"decision":   "approve",
		"confidence": 0.9,
	}, bearer(created.APIKey))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/v1/agent/activity", map[string]any{
		"subject":    "x",
		"context":    "swap",
		"decision":   "approve",
		"confidence": 1.5,
	}, bearer(created.APIKey))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/owner/activity?limit=10", nil, ts.walletHeaders(t, time.Second))
	require.Equal(t, http.StatusOK, rec.Code)
	var activity struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &activity))
	require.Len(t, activity.Data, 1)
	assert.Equal(t, "approve", activity.Data[0]["decision"])

	rec = ts.do(t, http.MethodPost, "/v1/agent/feed", map[string]any{
		"subject": "0x1234567890abcdef1234567890abcdef12345678",
		"context": "swap",
		"tx_hash": "0x" + strings.Repeat("ab", 32),
	}, bearer(created.APIKey))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/v1/feed", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var feed struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &feed))
	require.Len(t, feed.Data, 1)
	assert.Equal(t, "ledger_bot", feed.Data[0]["agent_name"])

	rec = ts.do(t, http.MethodGet, "/v1/feed?limit=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats registrationdomain.StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Created)
	assert.Equal(t, int64(1), stats.Verified)
}

func TestRegistrationRateLimitSetsRetryAfter(t *testing.T) {
	policies := config.DefaultRateLimitPolicies()
	policies[config.ScopeRegistrationIP] = config.RateLimitPolicy{Limit: 2, Window: time.Hour, Prefix: "rl:reg:ip"}
	ts := newTestServer(t, policies)

	ts.register(t, "first_agent")
	ts.register(t, "second_agent")

	rec := ts.do(t, http.MethodPost, "/v1/agents/register", registrationdomain.CreateRequest{
		AgentName:    "third_agent",
		OwnerAddress: ts.owner(),
	}, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeError(t, rec).Type)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestRequestBodyLimit(t *testing.T) {
	ts := newTestServer(t, nil)

	payload := []byte(`{"agent_name":"` + strings.Repeat("a", 20<<10) + `"}`)
	rec := ts.do(t, http.MethodPost, "/v1/agents/register", payload, nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "payload_too_large", decodeError(t, rec).Type)

	rec = ts.do(t, http.MethodPost, "/v1/agents/register", []byte(`{"agent_name":`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIKeyRequiredRejectsMalformedHeaders(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, header := range []string{"", "Bearer", "Basic abc", "Bearer a b", "Bearer agk_notakey"} {
		rec := ts.do(t, http.MethodGet, "/v1/agent/me", nil, map[string]string{"Authorization": header})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
}

func TestDecodeWalletMessage(t *testing.T) {
	message := "AgentGate Dashboard\nTimestamp: 1775030400000"

	assert.Equal(t, message, decodeWalletMessage(base64.StdEncoding.EncodeToString([]byte(message))))
	assert.Equal(t, message, decodeWalletMessage(`AgentGate Dashboard\nTimestamp: 1775030400000`))
	assert.Equal(t, "plain", decodeWalletMessage(" plain "))
	assert.Empty(t, decodeWalletMessage(""))
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{registrationdomain.ErrInvalidAgentName, http.StatusBadRequest, "validation_error"},
		{webhook.ErrForbiddenHost, http.StatusBadRequest, "validation_error"},
		{apikeydomain.ErrInvalidKey, http.StatusUnauthorized, "unauthorized"},
		{registrationdomain.ErrOwnerMismatch, http.StatusNotFound, "not_found"},
		{apikeydomain.ErrAgentKey, http.StatusConflict, "conflict"},
		{apikeydomain.ErrKeyLimitReached, http.StatusConflict, "conflict"},
		{registrationdomain.ErrClaimExpired, http.StatusConflict, "conflict"},
		{apikeydomain.ErrNotFound, http.StatusNotFound, "not_found"},
		{ErrPayloadTooLarge, http.StatusRequestEntityTooLarge, "payload_too_large"},
		{ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{socialproof.ErrProofUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{errors.New("redis: connection refused"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		status, payload := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.kind, payload.Type, tc.err.Error())
	}

	_, payload := mapError(webhook.ErrInsecureURL)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "webhook_url", payload.Errors[0].Field)

	kind, code := classifyErrorForLog(errors.New("dial tcp: timeout"))
	assert.Equal(t, "internal_error", kind)
	assert.Equal(t, "internal_error", code)
}
