// Package socialproof checks that a public post attests an agent claim.
package socialproof

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/smallbiznis/agentgate/internal/config"
	obstracing "github.com/smallbiznis/agentgate/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultEndpoint = "https://publish.twitter.com/oembed"
	defaultTimeout  = 10 * time.Second
	maxBodyBytes    = 256 << 10
)

var (
	ErrInvalidPostURL   = errors.New("invalid_tweet_url")
	ErrProofRejected    = errors.New("proof_rejected")
	ErrProofUnavailable = errors.New("proof_unavailable")
)

var postURLPattern = regexp.MustCompile(`^https://(?:www\.|mobile\.)?(?:x|twitter)\.com/([A-Za-z0-9_]{1,15})/status/([0-9]{1,25})/?(?:\?[^#]*)?$`)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Proof is what a successful verification learned about the post.
type Proof struct {
	PostURL    string
	AuthorName string
	AuthorURL  string
}

type Verifier interface {
	Verify(ctx context.Context, postURL, code, ownerAddress string) (*Proof, error)
}

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

// OEmbedVerifier reads the post through the public oEmbed endpoint, which
// needs no credentials and returns the rendered post text.
type OEmbedVerifier struct {
	endpoint string
	client   *http.Client
	log      *zap.Logger
}

func New(p Params) Verifier {
	return NewOEmbedVerifier(p.Cfg.SocialProof, p.Log)
}

func NewOEmbedVerifier(cfg config.SocialProofConfig, log *zap.Logger) *OEmbedVerifier {
	endpoint := strings.TrimSpace(cfg.OEmbedEndpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &OEmbedVerifier{
		endpoint: endpoint,
		client:   obstracing.WrapHTTPClient(&http.Client{Timeout: timeout}),
		log:      log.Named("socialproof"),
	}
}

type oembedResponse struct {
	URL        string `json:"url"`
	AuthorName string `json:"author_name"`
	AuthorURL  string `json:"author_url"`
	HTML       string `json:"html"`
}

// NormalizePostURL validates a post permalink and returns it in canonical form.
func NormalizePostURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	m := postURLPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", ErrInvalidPostURL
	}
	return fmt.Sprintf("https://x.com/%s/status/%s", m[1], m[2]), nil
}

// Verify requires the post to contain both the verification code and the
// owner address. Transport failures are ErrProofUnavailable so the owner can
// retry; content mismatches are ErrProofRejected.
func (v *OEmbedVerifier) Verify(ctx context.Context, postURL, code, ownerAddress string) (*Proof, error) {
	canonical, err := NormalizePostURL(postURL)
	if err != nil {
		return nil, err
	}

	res, err := v.fetch(ctx, canonical)
	if err != nil {
		return nil, err
	}

	text := strings.ToLower(html.UnescapeString(tagPattern.ReplaceAllString(res.HTML, " ")))
	if !strings.Contains(text, strings.ToLower(code)) {
		v.log.Info("proof rejected", zap.String("reason", "code_missing"))
		return nil, ErrProofRejected
	}
	if !strings.Contains(text, strings.ToLower(ownerAddress)) {
		v.log.Info("proof rejected", zap.String("reason", "address_missing"))
		return nil, ErrProofRejected
	}

	return &Proof{
		PostURL:    canonical,
		AuthorName: res.AuthorName,
		AuthorURL:  res.AuthorURL,
	}, nil
}

func (v *OEmbedVerifier) fetch(ctx context.Context, postURL string) (*oembedResponse, error) {
	query := url.Values{}
	query.Set("url", postURL)
	query.Set("omit_script", "true")
	query.Set("dnt", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		v.log.Warn("oembed request failed", zap.Error(err))
		return nil, ErrProofUnavailable
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
		// deleted, private or never existed
		return nil, ErrProofRejected
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		v.log.Warn("oembed returned error status", zap.Int("status_code", resp.StatusCode))
		return nil, ErrProofUnavailable
	}

	var out oembedResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&out); err != nil {
		v.log.Warn("oembed response undecodable", zap.Error(err))
		return nil, ErrProofUnavailable
	}
	return &out, nil
}
