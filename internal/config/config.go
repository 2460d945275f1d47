// Package config loads the daemon's YAML configuration into a root Config
// struct composed of one sub-struct per concern.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the daemon.
type Config struct {
	Home      string          `yaml:"home"`
	Server    ServerConfig    `yaml:"server"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Tools     ToolsConfig     `yaml:"tools"`
	Memory    MemoryConfig    `yaml:"memory"`
	Agents    []AgentConfig   `yaml:"agents"`
}

// Load reads and validates a YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config populated with the daemon's baseline defaults,
// the same values Load starts from before overlaying the file.
func Default() *Config {
	return &Config{
		Home:      "./nexusd-home",
		Server:    defaultServerConfig(),
		Gateway:   defaultGatewayConfig(),
		Scheduler: defaultSchedulerConfig(),
		Channels:  ChannelsConfig{},
		Tools:     defaultToolsConfig(),
		Memory:    defaultMemoryConfig(),
	}
}

func (c *Config) applyDefaults() error {
	if c.Home == "" {
		c.Home = "./nexusd-home"
	}
	var err error
	c.Home, err = filepath.Abs(c.Home)
	if err != nil {
		return fmt.Errorf("resolve home path: %w", err)
	}
	for i := range c.Agents {
		c.Agents[i].applyDefaults(c.Scheduler)
	}
	return nil
}

// Validate rejects configuration the process must refuse to start with.
// Validate failures are Config-kind errors: the process aborts before
// dispatch starts.
func (c *Config) Validate() error {
	seen := map[string]bool{}
	for _, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agent entry missing id")
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
		for _, job := range a.CronJobs {
			if job.Schedule == "" {
				return fmt.Errorf("agent %s: cron job %q has empty schedule", a.ID, job.Name)
			}
		}
	}
	return nil
}

// AgentWorkspace returns the on-disk root for an agent: <home>/agents/<id>.
func (c *Config) AgentWorkspace(agentID string) string {
	return filepath.Join(c.Home, "agents", agentID)
}

// Save writes c back to path as YAML, overwriting it. Used by commands
// such as /set-model that mutate configuration at runtime.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// AgentByID returns a pointer into c.Agents for the given id, or nil.
func (c *Config) AgentByID(id string) *AgentConfig {
	for i := range c.Agents {
		if c.Agents[i].ID == id {
			return &c.Agents[i]
		}
	}
	return nil
}

// AgentConfig is one configured agent identity.
type AgentConfig struct {
	ID                 string            `yaml:"id"`
	Name               string            `yaml:"name"`
	Model              string            `yaml:"model"`
	DefaultChannel     string            `yaml:"default_channel"`
	IsDefault          bool              `yaml:"is_default"`
	MaxToolIterations  int               `yaml:"max_tool_iterations"`
	HeartbeatInterval  int               `yaml:"heartbeat_interval_secs"`
	CronJobs           []CronJobConfig   `yaml:"cron_jobs"`
	WebhookSecret      string            `yaml:"webhook_secret"`
	ChannelMap         map[string]string `yaml:"channel_map"`
}

// CronJobConfig is the inline-config shape of a PersistedCronJob.
type CronJobConfig struct {
	Name           string   `yaml:"name"`
	Schedule       string   `yaml:"schedule"`
	Message        string   `yaml:"message"`
	Kind           string   `yaml:"kind"`
	DependsOn      []string `yaml:"depends_on"`
	MaxRetries     *int     `yaml:"max_retries"`
	RetryDelaySecs *int     `yaml:"retry_delay_secs"`
}

func (a *AgentConfig) applyDefaults(sched SchedulerConfig) {
	if a.MaxToolIterations == 0 {
		a.MaxToolIterations = 3
	}
	if a.HeartbeatInterval == 0 {
		a.HeartbeatInterval = sched.DefaultHeartbeatIntervalSecs
	}
}
