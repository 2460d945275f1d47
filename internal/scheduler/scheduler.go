// Package scheduler runs an agent's timed work: heartbeat ticks, persisted
// cron jobs, and the periodic janitor sweep, per spec §4.7.
package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// Bus is the narrow slice of internal/bus.Bus the scheduler needs: publish
// an inbound envelope for the dispatch pipeline to run as a normal turn. A
// non-nil error fails the firing cron run (tracked as a FAILED JobRun); the
// bounded broadcast bus itself never errors, but a workspace-blocked or
// closed bus adapter can.
type Bus interface {
	Send(msg *models.InboundEnvelope) error
}

// BusFunc adapts a plain send function (e.g. (*bus.Bus).Send, which never
// errors) to the Bus interface.
type BusFunc func(msg *models.InboundEnvelope)

func (f BusFunc) Send(msg *models.InboundEnvelope) error {
	f(msg)
	return nil
}

// Events publishes scheduler lifecycle events outward (heartbeat, cron,
// gateway event taxonomy per §6).
type Events interface {
	Emit(eventType string, payload map[string]any)
}

// NoopEvents discards every event; useful for tests and headless runs.
type NoopEvents struct{}

func (NoopEvents) Emit(string, map[string]any) {}

// Clock abstracts time for deterministic tests.
type Clock func() time.Time

// Scheduler owns every heartbeat loop and cron job task for the process.
// One Scheduler is shared across all agents; jobs are keyed by
// "name@agent_id" so runtime registration and removal are exact.
type Scheduler struct {
	Bus    Bus
	Events Events
	Logger *slog.Logger
	Now    Clock

	mu       sync.Mutex
	liveCron map[string]*liveCronJob
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a Scheduler. bus may be nil only in tests that never fire a
// dispatch.
func New(bus Bus, events Events, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		Bus:      bus,
		Events:   events,
		Logger:   logger,
		liveCron: map[string]*liveCronJob{},
		stopCh:   make(chan struct{}),
	}
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) events() Events {
	if s.Events != nil {
		return s.Events
	}
	return NoopEvents{}
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Shutdown signals every running loop to stop and waits for them to exit.
func (s *Scheduler) Shutdown() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
