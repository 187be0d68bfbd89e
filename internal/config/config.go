package config

// Config is the root configuration for muster.
type Config struct {
	Command   CommandConfig   `json:"command"`
	Channels  ChannelsConfig  `json:"channels"`
	Log       LogConfig       `json:"log"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
}

// CommandConfig holds the tag-everyone command settings.
type CommandConfig struct {
	// Trigger is matched case-sensitively as a message prefix, optionally
	// suffixed with @<bot username> the way group clients send commands.
	Trigger string `json:"trigger"`
	// ReplyTimeoutS bounds the admin check and reply delivery for one command.
	ReplyTimeoutS int `json:"replyTimeoutSeconds"`
}

// ChannelsConfig holds all channel configurations.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

// TelegramConfig holds Telegram channel settings.
type TelegramConfig struct {
	Enabled      bool   `json:"enabled"`
	Token        string `json:"token"`
	BotUsername  string `json:"botUsername"`
	PollTimeoutS int    `json:"pollTimeoutSeconds"`
}

// DiscordConfig holds Discord channel settings.
type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `json:"level"`
	Color bool   `json:"color"`
}

// HeartbeatConfig holds the periodic roster stats log settings.
type HeartbeatConfig struct {
	Enabled   bool `json:"enabled"`
	IntervalS int  `json:"intervalSeconds"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Command: CommandConfig{
			Trigger:       "/all",
			ReplyTimeoutS: 10,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{PollTimeoutS: 50},
		},
		Log: LogConfig{
			Level: "info",
			Color: true,
		},
		Heartbeat: HeartbeatConfig{
			Enabled:   true,
			IntervalS: 1800,
		},
	}
}
