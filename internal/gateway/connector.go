package gateway

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/haasonsaas/nexus/internal/channels"
	"github.com/haasonsaas/nexus/internal/retry"
	"github.com/haasonsaas/nexus/pkg/models"
)

// sendRetryConfig governs retries across a connector's Send/SendRich call:
// channel APIs fail with transient errors (rate limits, dropped
// connections) often enough that a single try would surface user-visible
// failures a short backoff would have absorbed. Only errors a connector
// classifies as retryable (channels.IsRetryable) get a second attempt.
var sendRetryConfig = retry.Exponential(3, 200*time.Millisecond, 2*time.Second)

// ChannelConnector is one outbound delivery surface (Discord, Telegram,
// Slack, the gateway's own WebSocket clients, ...), per spec §4.9.
type ChannelConnector interface {
	Name() string
	Matches(channel string) bool
	Send(ctx context.Context, channel, text string) error
	SendRich(ctx context.Context, channel string, msg models.RichMessage) error
}

// ConnectorRegistry scans registered connectors in insertion order; the
// first one whose Matches reports true handles the delivery. Unmatched
// channels (heartbeat, cron:<name>, webhook:<id>, inter-agent, ...) are
// silently dropped, per spec §4.9 and the channel-prefix table in §6.
//
// ConnectorRegistry implements dispatch.ReplySender so it can be handed
// straight to a dispatch.Dispatcher as its Replies field.
type ConnectorRegistry struct {
	mu         sync.RWMutex
	connectors []ChannelConnector
	limiters   map[string]*rate.Limiter
}

// NewConnectorRegistry creates an empty registry.
func NewConnectorRegistry() *ConnectorRegistry {
	return &ConnectorRegistry{limiters: map[string]*rate.Limiter{}}
}

// Register appends c to the scan order. Connectors registered earlier take
// priority over ones registered later.
func (r *ConnectorRegistry) Register(c ChannelConnector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors = append(r.connectors, c)
}

// SetRateLimit bounds outbound sends through the named connector (e.g.
// "discord", "telegram", "slack") to ratePerSec tokens/sec with the given
// burst, mirroring the teacher's MultiRateLimiter (one limiter per
// operation/channel name) but backed by golang.org/x/time/rate instead of
// its hand-rolled token bucket. No limiter configured for a name means no
// throttling.
func (r *ConnectorRegistry) SetRateLimit(connectorName string, ratePerSec float64, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[connectorName] = rate.NewLimiter(rate.Limit(ratePerSec), burst)
}

func (r *ConnectorRegistry) limiterFor(name string) *rate.Limiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limiters[name]
}

func (r *ConnectorRegistry) find(channel string) ChannelConnector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.connectors {
		if c.Matches(channel) {
			return c
		}
	}
	return nil
}

// SendReply implements dispatch.ReplySender.
func (r *ConnectorRegistry) SendReply(ctx context.Context, channel, reply string) error {
	c := r.find(channel)
	if c == nil {
		return nil
	}
	if err := r.throttle(ctx, c.Name()); err != nil {
		return err
	}
	result := retry.Do(ctx, sendRetryConfig, func() error {
		return retryableOnly(c.Send(ctx, channel, reply))
	})
	return result.Err
}

// SendRich delivers msg through the first matching connector, falling back
// to PlainText via Send if the connector reports it cannot render rich
// content. Unmatched channels are silently dropped.
func (r *ConnectorRegistry) SendRich(ctx context.Context, channel string, msg models.RichMessage) error {
	c := r.find(channel)
	if c == nil {
		return nil
	}
	if err := r.throttle(ctx, c.Name()); err != nil {
		return err
	}
	result := retry.Do(ctx, sendRetryConfig, func() error {
		return retryableOnly(c.SendRich(ctx, channel, msg))
	})
	return result.Err
}

// retryableOnly marks an error permanent (no further attempts) unless the
// connector classified it as transient via channels.Error.
func retryableOnly(err error) error {
	if err == nil || channels.IsRetryable(err) {
		return err
	}
	return retry.Permanent(err)
}

// throttle blocks until the named connector's rate limiter admits the send,
// or ctx is cancelled first. A connector with no configured limiter is
// never throttled.
func (r *ConnectorRegistry) throttle(ctx context.Context, connectorName string) error {
	limiter := r.limiterFor(connectorName)
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

// gatewayConnector routes "gateway:"-prefixed channels (WebSocket clients)
// back out through the event hub instead of an external API: a send
// publishes an agent_reply (or agent_rich_reply) event that every attached
// /ws client observes in its duplex loop.
type gatewayConnector struct {
	hub *Hub
}

// NewGatewayConnector returns the ChannelConnector that answers for the
// "gateway:" channel prefix (e.g. "gateway:ws-client").
func NewGatewayConnector(hub *Hub) ChannelConnector {
	return &gatewayConnector{hub: hub}
}

func (g *gatewayConnector) Name() string { return "gateway" }

func (g *gatewayConnector) Matches(channel string) bool {
	return strings.HasPrefix(channel, "gateway:")
}

func (g *gatewayConnector) Send(_ context.Context, channel, text string) error {
	g.hub.Publish(EventAgentReply, map[string]any{"channel": channel, "text": text})
	return nil
}

func (g *gatewayConnector) SendRich(_ context.Context, channel string, msg models.RichMessage) error {
	g.hub.Publish(EventAgentRichReply, map[string]any{
		"channel":    channel,
		"plain_text": msg.PlainText,
		"title":      msg.Title,
		"fields":     msg.Fields,
	})
	return nil
}
