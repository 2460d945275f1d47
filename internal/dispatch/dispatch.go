// Package dispatch runs one task per configured agent: it subscribes to
// the message bus, applies the routing filter, and serialises that
// agent's turns through a per-agent mutex.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/pkg/models"
)

// TurnRunner executes one conversation turn and returns the reply text.
type TurnRunner interface {
	RunTurn(ctx context.Context, msg *models.InboundEnvelope) (string, error)
}

// ReplySender delivers a turn's reply back out over the channel it arrived
// on.
type ReplySender interface {
	SendReply(ctx context.Context, channel, reply string) error
}

// Routing resolves which agent a message belongs to.
type Routing struct {
	ChannelMap   map[string]string
	DefaultAgent string
}

// Resolve returns the target agent ID for msg, following spec §4.5: an
// explicit non-empty msg.AgentID wins outright; otherwise the channel map
// is consulted, falling back to the default agent.
func (r Routing) Resolve(msg *models.InboundEnvelope) string {
	if msg.AgentID != "" {
		return msg.AgentID
	}
	if target, ok := r.ChannelMap[msg.Channel]; ok && target != "" {
		return target
	}
	return r.DefaultAgent
}

// Dispatcher is the per-agent task described in spec §4.5.
type Dispatcher struct {
	AgentID   string
	IsDefault bool
	Routing   Routing
	Runner    TurnRunner
	Replies   ReplySender
	Logger    *slog.Logger

	mu         sync.Mutex // serialises turn execution for this agent
	inFlight   int32
	inFlightMu sync.Mutex
}

// New builds a Dispatcher. logger may be nil, in which case slog.Default
// is used.
func New(agentID string, isDefault bool, routing Routing, runner TurnRunner, replies ReplySender, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		AgentID:   agentID,
		IsDefault: isDefault,
		Routing:   routing,
		Runner:    runner,
		Replies:   replies,
		Logger:    logger,
	}
}

// accepts decides whether this dispatcher should process msg, per the
// routing predicate in spec §4.5: drop when the resolved target names a
// different agent, and drop ambiguous (empty-target, non-default) traffic.
func (d *Dispatcher) accepts(msg *models.InboundEnvelope) bool {
	target := d.Routing.Resolve(msg)
	if target != "" {
		return target == d.AgentID
	}
	return d.IsDefault
}

// InFlight reports the number of turns currently executing for this
// dispatcher.
func (d *Dispatcher) InFlight() int32 {
	d.inFlightMu.Lock()
	defer d.inFlightMu.Unlock()
	return d.inFlight
}

func (d *Dispatcher) incInFlight(delta int32) {
	d.inFlightMu.Lock()
	d.inFlight += delta
	d.inFlightMu.Unlock()
}

// Run subscribes to bus and processes messages until ctx is cancelled. Each
// accepted message is handled in its own goroutine so that a slow turn on
// one message does not block the dispatcher from observing shutdown, while
// the agent mutex still serialises the turns themselves.
func (d *Dispatcher) Run(ctx context.Context, b *bus.Bus) {
	sub := b.Subscribe()
	defer sub.Close()

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case env, ok := <-sub.Recv:
			if !ok {
				wg.Wait()
				return
			}
			if env.Lag != nil {
				d.Logger.Warn("dispatcher lagged", "agent_id", d.AgentID, "dropped", env.Lag.N)
				continue
			}
			if env.Message == nil || !d.accepts(env.Message) {
				continue
			}
			msg := env.Message
			wg.Add(1)
			go func() {
				defer wg.Done()
				d.handle(ctx, msg)
			}()
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg *models.InboundEnvelope) {
	d.incInFlight(1)
	defer d.incInFlight(-1)

	d.mu.Lock()
	defer d.mu.Unlock()

	reply, err := d.Runner.RunTurn(ctx, msg)
	if err != nil {
		d.Logger.Error("turn failed", "agent_id", d.AgentID, "channel", msg.Channel, "error", err)
		return
	}
	if reply == "" || d.Replies == nil {
		return
	}
	if err := d.Replies.SendReply(ctx, msg.Channel, reply); err != nil {
		d.Logger.Error("reply delivery failed", "agent_id", d.AgentID, "channel", msg.Channel, "error", err)
	}
}

// DrainAll polls every dispatcher's in-flight counter until it reaches
// zero or timeout elapses, per spec §4.5's shutdown drain (100ms poll,
// default 30s timeout). Returns true if every dispatcher drained cleanly.
func DrainAll(dispatchers []*Dispatcher, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		allIdle := true
		for _, d := range dispatchers {
			if d.InFlight() > 0 {
				allIdle = false
				break
			}
		}
		if allIdle {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
}
