package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/pkg/models"
)

type stubRunner struct {
	mu    sync.Mutex
	calls int
	reply string
	delay time.Duration
}

func (s *stubRunner) RunTurn(ctx context.Context, msg *models.InboundEnvelope) (string, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.reply, nil
}

type stubReplies struct {
	mu   sync.Mutex
	sent []string
}

func (s *stubReplies) SendReply(ctx context.Context, channel, reply string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, reply)
	return nil
}

func TestRouting_Resolve(t *testing.T) {
	r := Routing{ChannelMap: map[string]string{"telegram": "bot-a"}, DefaultAgent: "bot-default"}

	if got := r.Resolve(&models.InboundEnvelope{AgentID: "bot-explicit"}); got != "bot-explicit" {
		t.Fatalf("expected explicit agent_id to win, got %q", got)
	}
	if got := r.Resolve(&models.InboundEnvelope{Channel: "telegram"}); got != "bot-a" {
		t.Fatalf("expected channel map match, got %q", got)
	}
	if got := r.Resolve(&models.InboundEnvelope{Channel: "unmapped"}); got != "bot-default" {
		t.Fatalf("expected default agent fallback, got %q", got)
	}
}

func TestDispatcher_AcceptsOwnTraffic(t *testing.T) {
	runner := &stubRunner{reply: "ok"}
	replies := &stubReplies{}
	d := New("bot-a", true, Routing{DefaultAgent: "bot-a"}, runner, replies, nil)

	b := bus.New(bus.MinCapacity)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx, b)
		close(done)
	}()
	for b.SubscriberCount() == 0 { // Run subscribes inside its goroutine
		time.Sleep(time.Millisecond)
	}

	b.Send(&models.InboundEnvelope{Channel: "telegram", Content: "hi"})
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.calls != 1 {
		t.Fatalf("expected 1 turn run, got %d", runner.calls)
	}
}

func TestDispatcher_DropsOtherAgentsTraffic(t *testing.T) {
	runner := &stubRunner{reply: "ok"}
	d := New("bot-b", false, Routing{ChannelMap: map[string]string{"telegram": "bot-a"}, DefaultAgent: "bot-a"}, runner, nil, nil)

	b := bus.New(bus.MinCapacity)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx, b)
		close(done)
	}()
	for b.SubscriberCount() == 0 { // Run subscribes inside its goroutine
		time.Sleep(time.Millisecond)
	}

	b.Send(&models.InboundEnvelope{Channel: "telegram", Content: "hi"})
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.calls != 0 {
		t.Fatalf("expected dispatcher for a non-targeted agent to skip the message, got %d calls", runner.calls)
	}
}

func TestDrainAll_WaitsForInFlightToClear(t *testing.T) {
	runner := &stubRunner{reply: "ok", delay: 150 * time.Millisecond}
	d := New("bot-a", true, Routing{DefaultAgent: "bot-a"}, runner, nil, nil)

	b := bus.New(bus.MinCapacity)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, b)
	for b.SubscriberCount() == 0 { // Run subscribes inside its goroutine
		time.Sleep(time.Millisecond)
	}

	b.Send(&models.InboundEnvelope{Channel: "telegram", Content: "hi"})
	time.Sleep(20 * time.Millisecond) // let the goroutine pick it up

	if !DrainAll([]*Dispatcher{d}, time.Second) {
		t.Fatal("expected drain to complete within timeout")
	}
}

func TestDrainAll_TimesOutWhenStuck(t *testing.T) {
	runner := &stubRunner{reply: "ok", delay: time.Second}
	d := New("bot-a", true, Routing{DefaultAgent: "bot-a"}, runner, nil, nil)

	b := bus.New(bus.MinCapacity)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, b)
	for b.SubscriberCount() == 0 { // Run subscribes inside its goroutine
		time.Sleep(time.Millisecond)
	}

	b.Send(&models.InboundEnvelope{Channel: "telegram", Content: "hi"})
	time.Sleep(20 * time.Millisecond)

	if DrainAll([]*Dispatcher{d}, 50*time.Millisecond) {
		t.Fatal("expected drain to time out while the turn is still running")
	}
}
