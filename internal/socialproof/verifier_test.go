package socialproof

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smallbiznis/agentgate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const owner = "0x00000000000000000000000000000000000000aa"

func newTestVerifier(t *testing.T, handler http.HandlerFunc) *OEmbedVerifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOEmbedVerifier(config.SocialProofConfig{OEmbedEndpoint: srv.URL, Timeout: time.Second}, zap.NewNop())
}

func oembed(html string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"url":         r.URL.Query().Get("url"),
			"author_name": "Alpha Owner",
			"author_url":  "https://twitter.com/alpha",
			"html":        html,
		})
	}
}

func TestNormalizePostURL(t *testing.T) {
	got, err := NormalizePostURL("https://twitter.com/alpha_dev/status/1234567890?s=20")
	require.NoError(t, err)
	assert.Equal(t, "https://x.com/alpha_dev/status/1234567890", got)

	for _, raw := range []string{
		"",
		"http://x.com/alpha/status/1",
		"https://x.com.evil.io/alpha/status/1",
		"https://x.com/alpha",
		"https://x.com/alpha/status/abc",
		"https://example.com/alpha/status/1",
	} {
		_, err := NormalizePostURL(raw)
		assert.ErrorIs(t, err, ErrInvalidPostURL, raw)
	}
}

func TestVerifyAcceptsMatchingPost(t *testing.T) {
	var requested string
	v := newTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Query().Get("url")
		oembed(`<blockquote><p lang="en">Claiming my agent: ABCD-2345 <a href="#">wallet</a> 0x00000000000000000000000000000000000000AA</p></blockquote>`)(w, r)
	})

	proof, err := v.Verify(context.Background(), "https://twitter.com/alpha/status/42", "abcd-2345", owner)
	require.NoError(t, err)
	assert.Equal(t, "https://x.com/alpha/status/42", requested)
	assert.Equal(t, "https://x.com/alpha/status/42", proof.PostURL)
	assert.Equal(t, "Alpha Owner", proof.AuthorName)
}

func TestVerifyRejectsMissingContent(t *testing.T) {
	v := newTestVerifier(t, oembed(`<p>ABCD-2345 but no wallet</p>`))
	_, err := v.Verify(context.Background(), "https://x.com/alpha/status/42", "ABCD-2345", owner)
	assert.ErrorIs(t, err, ErrProofRejected)

	v = newTestVerifier(t, oembed(`<p>`+owner+`</p>`))
	_, err = v.Verify(context.Background(), "https://x.com/alpha/status/42", "ABCD-2345", owner)
	assert.ErrorIs(t, err, ErrProofRejected)
}

func TestVerifyMapsUpstreamFailures(t *testing.T) {
	v := newTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := v.Verify(context.Background(), "https://x.com/alpha/status/42", "ABCD-2345", owner)
	assert.ErrorIs(t, err, ErrProofRejected)

	v = newTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err = v.Verify(context.Background(), "https://x.com/alpha/status/42", "ABCD-2345", owner)
	assert.ErrorIs(t, err, ErrProofUnavailable)

	v = newTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})
	_, err = v.Verify(context.Background(), "https://x.com/alpha/status/42", "ABCD-2345", owner)
	assert.ErrorIs(t, err, ErrProofUnavailable)
}

func TestVerifyTransportFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	v := NewOEmbedVerifier(config.SocialProofConfig{OEmbedEndpoint: endpoint, Timeout: time.Second}, zap.NewNop())
	_, err := v.Verify(context.Background(), "https://x.com/alpha/status/42", "ABCD-2345", owner)
	assert.ErrorIs(t, err, ErrProofUnavailable)
}
