package config

// ServerConfig configures the gateway's HTTP/WebSocket listener.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
	AuthToken   string `yaml:"auth_token"`

	// JWTSecret, when set, lets the gateway additionally accept a signed,
	// expiring HS256 bearer token (minted via `nexusd auth mint`) instead of
	// presenting the static AuthToken on every client. Unset disables this
	// path entirely; AuthToken comparison still applies.
	JWTSecret string `yaml:"jwt_secret"`
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:     "127.0.0.1",
		HTTPPort: 8780,
	}
}

// GatewayConfig configures the bus-facing side of the gateway.
type GatewayConfig struct {
	DrainTimeoutSecs    int `yaml:"drain_timeout_secs"`
	BusCapacity         int `yaml:"bus_capacity"`
	EventsCapacity      int `yaml:"events_capacity"`
}

func defaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		DrainTimeoutSecs: 30,
		BusCapacity:      256,
		EventsCapacity:   256,
	}
}

// SchedulerConfig configures cron/heartbeat/janitor behaviour.
type SchedulerConfig struct {
	DefaultHeartbeatIntervalSecs int `yaml:"default_heartbeat_interval_secs"`
	CronSessionExpiryDays        int `yaml:"cron_session_expiry_days"`
	SessionExpiryDays            int `yaml:"session_expiry_days"`
	CronEventsMaxKeep            int `yaml:"cron_events_max_keep"`
	JanitorFirstPassSecs         int `yaml:"janitor_first_pass_secs"`
	JanitorIntervalSecs          int `yaml:"janitor_interval_secs"`
}

func defaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		DefaultHeartbeatIntervalSecs: 3600,
		CronSessionExpiryDays:        7,
		SessionExpiryDays:            30,
		CronEventsMaxKeep:            200,
		JanitorFirstPassSecs:         60,
		JanitorIntervalSecs:          6 * 3600,
	}
}

// ToolsConfig configures exec/file tool resource caps.
type ToolsConfig struct {
	MaxOutputBytes          int `yaml:"max_output_bytes"`
	ForegroundTimeoutSecs   int `yaml:"foreground_timeout_secs"`
	BackgroundTimeoutSecs   int `yaml:"background_timeout_secs"`
	MaxAttachmentBytes      int `yaml:"max_attachment_bytes"`
	MaxToolIterations       int `yaml:"max_tool_iterations"`
}

func defaultToolsConfig() ToolsConfig {
	return ToolsConfig{
		MaxOutputBytes:        256 * 1024,
		ForegroundTimeoutSecs: 60,
		BackgroundTimeoutSecs: 120,
		MaxAttachmentBytes:    8 * 1024 * 1024,
		MaxToolIterations:     3,
	}
}

// MemoryConfig configures the per-agent memory store.
type MemoryConfig struct {
	PromptBlockMaxChars int `yaml:"prompt_block_max_chars"`
}

func defaultMemoryConfig() MemoryConfig {
	return MemoryConfig{PromptBlockMaxChars: 4000}
}
