package scheduler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/internal/backoff"
	"github.com/haasonsaas/nexus/pkg/models"
)

// pollInterval is how often a running cron job task checks its schedule
// against the clock. gronx evaluates "is this expression due right now",
// so a job fires on every poll that lands in a due second, at most once
// per second.
const pollInterval = time.Second

// CronConfig identifies the agent workspace a persisted job belongs to.
type CronConfig struct {
	AgentID string
	// Workspace is the agent root <home>/agents/<id> — where cron_jobs.json,
	// cron_runs.jsonl, and cron_events/ live. Not the sandboxed
	// <agent_root>/workspace subdirectory sessionstore/memorystore use.
	Workspace string
}

// liveCronJob tracks a registered job's background task so RegisterJob and
// RemoveJob can cancel it exactly, per spec §4.7's "uuid-table delete".
type liveCronJob struct {
	id     string
	cancel context.CancelFunc
}

// RegisterJob implements runtime registration: it atomically replaces any
// existing live task for the same job identity, deduplicates the persisted
// record, and starts a fresh polling task.
func (s *Scheduler) RegisterJob(ctx context.Context, cfg CronConfig, job models.PersistedCronJob) error {
	key := job.Key()

	s.mu.Lock()
	if existing, ok := s.liveCron[key]; ok {
		existing.cancel()
		delete(s.liveCron, key)
	}
	s.mu.Unlock()

	if err := upsertPersistedJob(cfg.Workspace, job); err != nil {
		return err
	}

	jobCtx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	s.mu.Lock()
	s.liveCron[key] = &liveCronJob{id: id, cancel: cancel}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runCronJob(jobCtx, cfg, job)
	return nil
}

// RemoveJob cancels the live task for name@agentID, if any, then rewrites
// the persisted job file with that entry filtered out.
func (s *Scheduler) RemoveJob(workspace, name, agentID string) error {
	key := name + "@" + agentID

	s.mu.Lock()
	if existing, ok := s.liveCron[key]; ok {
		existing.cancel()
		delete(s.liveCron, key)
	}
	s.mu.Unlock()

	return removePersistedJob(workspace, key)
}

func (s *Scheduler) runCronJob(ctx context.Context, cfg CronConfig, job models.PersistedCronJob) {
	defer s.wg.Done()
	gr := gronx.New()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastFire time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			now := s.now()
			due, err := gr.IsDue(job.Schedule, now)
			if err != nil {
				s.logger().Error("invalid cron schedule", "job", job.Name, "agent_id", cfg.AgentID, "error", err)
				continue
			}
			if !due || now.Truncate(time.Second).Equal(lastFire) {
				continue
			}
			lastFire = now.Truncate(time.Second)
			s.fireJob(ctx, cfg, job)
		}
	}
}

// fireJob implements one firing of a persisted job: the dependency gate,
// session isolation, dispatch, run recording, gateway event, OneShot
// cleanup, and retry-with-backoff scheduling.
func (s *Scheduler) fireJob(ctx context.Context, cfg CronConfig, job models.PersistedCronJob) {
	now := s.now()

	if len(job.DependsOn) > 0 {
		if unmet := s.unmetDependency(cfg.Workspace, cfg.AgentID, job.DependsOn, now); unmet != "" {
			run := models.JobRun{
				ID:          fmt.Sprintf("%s-%d", job.Key(), now.Unix()),
				JobID:       job.Key(),
				ScheduledAt: now.Unix(),
				Status:      models.Failed("dependency not satisfied: " + unmet),
			}
			if err := appendJobRun(cfg.Workspace, run); err != nil {
				s.logger().Error("append job run failed", "job", job.Name, "error", err)
			}
			return
		}
	}

	sessionID := "cron_" + sanitizeSessionComponent(job.Name) + "_" + fmt.Sprintf("%d", now.Unix())
	content := job.Message
	if content == "" {
		content = fmt.Sprintf("[cron:%s]", job.Name)
	}

	var sendErr error
	if s.Bus != nil {
		sendErr = s.Bus.Send(&models.InboundEnvelope{
			AgentID:    cfg.AgentID,
			Channel:    "cron:" + job.Name,
			Author:     "cron:" + job.Name,
			Content:    content,
			SessionID:  sessionID,
			TimestampS: now.Unix(),
		})
	}

	status := models.Success()
	if sendErr != nil {
		status = models.Failed(sendErr.Error())
	}
	run := models.JobRun{
		ID:          fmt.Sprintf("%s-%d", job.Key(), now.Unix()),
		JobID:       job.Key(),
		ScheduledAt: now.Unix(),
		ExecutedAt:  int64ptr(now.Unix()),
		CompletedAt: int64ptr(now.Unix()),
		Status:      status,
		DurationMs:  int64ptr(0),
	}
	if err := appendJobRun(cfg.Workspace, run); err != nil {
		s.logger().Error("append job run failed", "job", job.Name, "error", err)
	}

	s.events().Emit("cron", map[string]any{"agent": cfg.AgentID, "job": job.Name, "timestamp": now.Unix()})

	if status.Kind == models.JobStatusSuccess {
		job.RetryCount = 0
		if job.Kind == models.JobKindOneShot {
			_ = s.RemoveJob(cfg.Workspace, job.Name, cfg.AgentID)
			return
		}
		_ = upsertPersistedJob(cfg.Workspace, job)
		return
	}

	s.scheduleRetry(ctx, cfg, job)
}

// scheduleRetry implements the exponential backoff retry: schedule a
// delayed single retry if retry_count is still under max_retries,
// persisting the incremented counter immediately.
func (s *Scheduler) scheduleRetry(ctx context.Context, cfg CronConfig, job models.PersistedCronJob) {
	maxRetries := 0
	if job.MaxRetries != nil {
		maxRetries = *job.MaxRetries
	}
	if job.RetryCount >= maxRetries {
		return
	}

	delaySecs := 0
	if job.RetryDelaySecs != nil {
		delaySecs = *job.RetryDelaySecs
	}
	// RetryDelaySecs * 2^RetryCount, no jitter: cron retry timing must stay
	// predictable for the dependency gate and for tests, unlike a live
	// network client's reconnect backoff.
	policy := backoff.BackoffPolicy{
		InitialMs: float64(delaySecs) * 1000,
		MaxMs:     float64(delaySecs) * 1000 * float64(uint64(1)<<32),
		Factor:    2,
		Jitter:    0,
	}
	delay := backoff.ComputeBackoffWithRand(policy, job.RetryCount+1, 0)

	job.RetryCount++
	if err := upsertPersistedJob(cfg.Workspace, job); err != nil {
		s.logger().Error("persist retry count failed", "job", job.Name, "error", err)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-timer.C:
			s.fireJob(ctx, cfg, job)
		}
	}()
}

// unmetDependency returns the first "dep@agent_id" whose most recent run is
// missing or not SUCCESS, or "" if every dependency is satisfied.
func (s *Scheduler) unmetDependency(workspace, agentID string, dependsOn []string, now time.Time) string {
	for _, dep := range dependsOn {
		depKey := dep + "@" + agentID
		run, err := mostRecentRun(workspace, depKey)
		if err != nil || run == nil || run.Status.Kind != models.JobStatusSuccess {
			return depKey
		}
	}
	return ""
}

var sessionComponentReplacer = func(r rune) rune {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
		return r
	default:
		return '_'
	}
}

// sanitizeSessionComponent replaces every character outside [A-Za-z0-9_-]
// with '_', per spec §4.7 step 2.
func sanitizeSessionComponent(name string) string {
	return strings.Map(sessionComponentReplacer, name)
}

func int64ptr(v int64) *int64 { return &v }

// --- cron_jobs.json persistence ---

func cronJobsPath(workspace string) string {
	return filepath.Join(workspace, "cron_jobs.json")
}

func readPersistedJobs(workspace string) ([]models.PersistedCronJob, error) {
	data, err := os.ReadFile(cronJobsPath(workspace))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var jobs []models.PersistedCronJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("parse cron_jobs.json: %w", err)
	}
	return jobs, nil
}

func writePersistedJobs(workspace string, jobs []models.PersistedCronJob) error {
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cron_jobs.json: %w", err)
	}
	return os.WriteFile(cronJobsPath(workspace), data, 0o644)
}

// upsertPersistedJob appends job, replacing any existing entry with the
// same identity key.
func upsertPersistedJob(workspace string, job models.PersistedCronJob) error {
	jobs, err := readPersistedJobs(workspace)
	if err != nil {
		return err
	}
	key := job.Key()
	replaced := false
	for i := range jobs {
		if jobs[i].Key() == key {
			jobs[i] = job
			replaced = true
			break
		}
	}
	if !replaced {
		jobs = append(jobs, job)
	}
	return writePersistedJobs(workspace, jobs)
}

// removePersistedJob rewrites cron_jobs.json with the matching key's entry
// filtered out.
func removePersistedJob(workspace, key string) error {
	jobs, err := readPersistedJobs(workspace)
	if err != nil {
		return err
	}
	kept := jobs[:0]
	for _, j := range jobs {
		if j.Key() != key {
			kept = append(kept, j)
		}
	}
	return writePersistedJobs(workspace, kept)
}

// --- cron_runs.jsonl append-only log ---

func cronRunsPath(workspace string) string {
	return filepath.Join(workspace, "cron_runs.jsonl")
}

func appendJobRun(workspace string, run models.JobRun) error {
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	line, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal job run: %w", err)
	}
	f, err := os.OpenFile(cronRunsPath(workspace), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open cron_runs.jsonl: %w", err)
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

// mostRecentRun scans cron_runs.jsonl for jobID and returns the latest
// matching entry (the log is append-only, so the last match wins).
func mostRecentRun(workspace, jobID string) (*models.JobRun, error) {
	f, err := os.Open(cronRunsPath(workspace))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var latest *models.JobRun
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var run models.JobRun
		if err := json.Unmarshal(line, &run); err != nil {
			continue
		}
		if run.JobID == jobID {
			r := run
			latest = &r
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return latest, nil
}
