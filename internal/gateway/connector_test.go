package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

type fakeConnector struct {
	name     string
	prefix   string
	sent     []string
	richSent []models.RichMessage
	sendErr  error
}

func (f *fakeConnector) Name() string { return f.name }
func (f *fakeConnector) Matches(channel string) bool {
	return len(channel) >= len(f.prefix) && channel[:len(f.prefix)] == f.prefix
}
func (f *fakeConnector) Send(_ context.Context, channel, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}
func (f *fakeConnector) SendRich(_ context.Context, channel string, msg models.RichMessage) error {
	f.richSent = append(f.richSent, msg)
	return nil
}

func TestConnectorRegistry_FirstMatchWins(t *testing.T) {
	r := NewConnectorRegistry()
	discord := &fakeConnector{name: "discord", prefix: "123"}
	catchAll := &fakeConnector{name: "catchall", prefix: ""}
	r.Register(discord)
	r.Register(catchAll)

	if err := r.SendReply(context.Background(), "123456", "hi"); err != nil {
		t.Fatal(err)
	}
	if len(discord.sent) != 1 || len(catchAll.sent) != 0 {
		t.Fatalf("expected discord (first match) to receive the send, got discord=%v catchall=%v", discord.sent, catchAll.sent)
	}
}

func TestConnectorRegistry_UnmatchedChannelSilentlyDropped(t *testing.T) {
	r := NewConnectorRegistry()
	r.Register(&fakeConnector{name: "discord", prefix: "123"})

	if err := r.SendReply(context.Background(), "heartbeat", "tick"); err != nil {
		t.Fatalf("expected silent drop, got error: %v", err)
	}
}

func TestConnectorRegistry_SendErrorPropagates(t *testing.T) {
	r := NewConnectorRegistry()
	boom := errors.New("boom")
	r.Register(&fakeConnector{name: "discord", prefix: "123", sendErr: boom})

	if err := r.SendReply(context.Background(), "123456", "hi"); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestGatewayConnector_SendPublishesAgentReplyEvent(t *testing.T) {
	hub := NewHub(MinHubCapacityForTest)
	sub := hub.Subscribe()
	defer sub.Close()

	c := NewGatewayConnector(hub)
	if !c.Matches("gateway:ws-client") {
		t.Fatal("expected gateway connector to match gateway: prefix")
	}
	if err := c.Send(context.Background(), "gateway:ws-client", "hello"); err != nil {
		t.Fatal(err)
	}

	ev := <-sub.Recv
	if ev.Type != EventAgentReply || ev.Payload["text"] != "hello" {
		t.Fatalf("unexpected event: %#v", ev)
	}
}

func TestGatewayConnector_DoesNotMatchOtherChannels(t *testing.T) {
	c := NewGatewayConnector(NewHub(MinHubCapacityForTest))
	if c.Matches("heartbeat") || c.Matches("123456") {
		t.Fatal("gateway connector should only match gateway: prefixed channels")
	}
}

func TestConnectorRegistry_RateLimitBlocksBurstBeyondCapacity(t *testing.T) {
	r := NewConnectorRegistry()
	discord := &fakeConnector{name: "discord", prefix: "123"}
	r.Register(discord)
	r.SetRateLimit("discord", 1, 1)

	if err := r.SendReply(context.Background(), "123456", "one"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := r.SendReply(ctx, "123456", "two"); err == nil {
		t.Fatal("expected the second send to block past a 1-token burst and time out")
	}
}

func TestConnectorRegistry_UnconfiguredLimiterNeverThrottles(t *testing.T) {
	r := NewConnectorRegistry()
	discord := &fakeConnector{name: "discord", prefix: "123"}
	r.Register(discord)

	for i := 0; i < 5; i++ {
		if err := r.SendReply(context.Background(), "123456", "msg"); err != nil {
			t.Fatal(err)
		}
	}
	if len(discord.sent) != 5 {
		t.Fatalf("expected all 5 sends through with no limiter configured, got %d", len(discord.sent))
	}
}
