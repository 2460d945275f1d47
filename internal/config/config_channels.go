package config

// ChannelsConfig configures the outbound connector registry. Each connector
// is independently optional; an empty Token/BotToken disables it.
type ChannelsConfig struct {
	Discord  DiscordConfig  `yaml:"discord"`
	Telegram TelegramConfig `yaml:"telegram"`
	Slack    SlackConfig    `yaml:"slack"`

	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
}

// DiscordConfig configures the outbound Discord connector.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// TelegramConfig configures the outbound Telegram connector.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
}

// SlackConfig configures the outbound Slack connector.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
}
