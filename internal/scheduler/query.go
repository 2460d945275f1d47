package scheduler

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/nexus/pkg/models"
)

// ReadCronJobs returns the persisted cron jobs for an agent root, for
// read-only consumers like the /cron slash command.
func ReadCronJobs(agentRoot string) ([]models.PersistedCronJob, error) {
	return readPersistedJobs(agentRoot)
}

// ReadCronRuns returns every JobRun recorded for jobID (name@agent_id),
// in file order, for the /cron status slash command.
func ReadCronRuns(agentRoot, jobID string) ([]models.JobRun, error) {
	f, err := os.Open(cronRunsPath(agentRoot))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var runs []models.JobRun
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
			runs = append(runs, run)
		}
	}
	return runs, scanner.Err()
}

// RemovePersistedCronJob deletes the name@agentID entry from an agent
// root's cron_jobs.json, for the /cron delete slash command. It does not
// cancel any live polling task — callers that also manage a *Scheduler
// should prefer Scheduler.RemoveJob.
func RemovePersistedCronJob(agentRoot, name, agentID string) error {
	return removePersistedJob(agentRoot, name+"@"+agentID)
}

// LoadHeartbeatStatus reads heartbeat_status.json from an agent root, for
// the /heartbeat slash command. Returns (nil, nil) if no status file has
// been written yet.
func LoadHeartbeatStatus(agentRoot string) (*models.HeartbeatStatus, error) {
	data, err := os.ReadFile(filepath.Join(agentRoot, "heartbeat_status.json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var status models.HeartbeatStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
