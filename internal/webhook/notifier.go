package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agentgate/internal/clock"
	"github.com/smallbiznis/agentgate/internal/config"
	obsmetrics "github.com/smallbiznis/agentgate/internal/observability/metrics"
	obstracing "github.com/smallbiznis/agentgate/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Event names delivered to owner webhooks.
const (
	EventAgentVerified = "agent.verified"
	EventAgentRevoked  = "agent.revoked"
)

const defaultTimeout = 5 * time.Second

// Payload is the JSON body of every delivery.
type Payload struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle `optional:"true"`
	Cfg       config.Config
	Log       *zap.Logger
	Clock     clock.Clock
	GenID     *snowflake.Node
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

// Notifier delivers owner webhooks on detached goroutines. Deliveries are
// attempted once; failures are logged and never reach the caller.
type Notifier struct {
	client       *http.Client
	log          *zap.Logger
	clock        clock.Clock
	genID        *snowflake.Node
	metrics      *obsmetrics.Metrics
	timeout      time.Duration
	maxURLLength int

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

func New(p Params) *Notifier {
	timeout := p.Cfg.Webhook.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	n := &Notifier{
		client:       obstracing.WrapHTTPClient(&http.Client{Timeout: timeout}),
		log:          p.Log.Named("webhook"),
		clock:        p.Clock,
		genID:        p.GenID,
		metrics:      p.Metrics,
		timeout:      timeout,
		maxURLLength: p.Cfg.Webhook.MaxURLLength,
	}

	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{
			OnStop: n.Close,
		})
	}
	return n
}

func (n *Notifier) Validate(raw string) error {
	return ValidateURL(raw, n.maxURLLength)
}

// Send schedules one delivery of event to url and returns immediately.
func (n *Notifier) Send(ctx context.Context, url, event string, data any) {
	if url == "" {
		return
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		n.log.Warn("webhook dropped after shutdown", zap.String("event", event))
		return
	}
	n.inflight.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.inflight.Done()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()

		if err := n.Deliver(sendCtx, url, event, data); err != nil {
			n.log.Warn("webhook delivery failed", zap.String("event", event), zap.Error(err))
			n.metrics.RecordWebhookDelivery(sendCtx, event, "failed")
			return
		}
		n.metrics.RecordWebhookDelivery(sendCtx, event, "delivered")
	}()
}

// Deliver performs a single synchronous delivery.
func (n *Notifier) Deliver(ctx context.Context, url, event string, data any) error {
	if err := n.Validate(url); err != nil {
		return err
	}

	body, err := json.Marshal(Payload{
		ID:        n.genID.Generate().String(),
		Event:     event,
		Timestamp: n.clock.Now(),
		Data:      data,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "agentgate-webhook/1")
	req.Header.Set("X-Agentgate-Event", event)

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook endpoint returned %s", resp.Status)
	}
	return nil
}

// Close stops accepting deliveries and waits for in-flight ones until ctx ends.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("webhook deliveries still in flight at shutdown")
	}
}
