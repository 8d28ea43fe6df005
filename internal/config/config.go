package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for gigabot.
type Config struct {
	GigaChat     GigaChatConfig     `json:"gigachat"`
	SaluteSpeech SaluteSpeechConfig `json:"saluteSpeech"`
	Channels     ChannelsConfig     `json:"channels"`
	Agent        AgentConfig        `json:"agent"`
	Subagents    SubagentsConfig    `json:"subagents"`
	Tools        ToolsConfig        `json:"tools"`
	Scheduler    SchedulerConfig    `json:"scheduler"`
	Storage      StorageConfig      `json:"storage"`
	Logging      LoggingConfig      `json:"logging"`
	Bus          BusConfig          `json:"bus"`
}

// GigaChatConfig holds credentials and tuning for the GigaChat API.
// Credentials is the base64 authorization key issued by the developer
// portal; the client exchanges it for short-lived access tokens.
type GigaChatConfig struct {
	Credentials        string  `json:"credentials"`
	Scope              string  `json:"scope"`
	Model              string  `json:"model"`
	APIBase            string  `json:"apiBase"`
	AuthURL            string  `json:"authUrl"`
	Temperature        float64 `json:"temperature"`
	MaxTokens          int     `json:"maxTokens"`
	TimeoutSeconds     int     `json:"timeoutSeconds"`
	RequestsPerMinute  int     `json:"requestsPerMinute"`
	InsecureSkipVerify bool    `json:"insecureSkipVerify"`
	CABundle           string  `json:"caBundle,omitempty"`
}

type SaluteSpeechConfig struct {
	Enabled            bool   `json:"enabled"`
	Credentials        string `json:"credentials,omitempty"`
	Scope              string `json:"scope"`
	AuthURL            string `json:"authUrl"`
	APIBase            string `json:"apiBase"`
	Voice              string `json:"voice"`
	Language           string `json:"language"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	Gateway  GatewayConfig  `json:"gateway,omitempty"`
	CLI      CLIConfig      `json:"cli"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

type DiscordConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	GuildID   string         `json:"guildId,omitempty"`
	AllowFrom FlexStringList `json:"allowFrom,omitempty"`
}

// GatewayConfig configures the local WebSocket gateway channel.
type GatewayConfig struct {
	Enabled   bool           `json:"enabled"`
	Host      string         `json:"host"`
	Port      int            `json:"port"`
	Path      string         `json:"path"`
	AllowFrom FlexStringList `json:"allowFrom,omitempty"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

type AgentConfig struct {
	Workspace             string          `json:"workspace"`
	MaxRounds             int             `json:"maxRounds"`
	MemoryWindow          int             `json:"memoryWindow"`
	MaxConcurrentMessages int             `json:"maxConcurrentMessages"`
	Persona               string          `json:"persona,omitempty"`
	SystemPromptExtra     string          `json:"systemPromptExtra,omitempty"`
	Heartbeat             HeartbeatConfig `json:"heartbeat"`
}

type HeartbeatConfig struct {
	Enabled         bool   `json:"enabled"`
	IntervalMinutes int    `json:"intervalMinutes"`
	Channel         string `json:"channel,omitempty"`
	ChatID          string `json:"chatId,omitempty"`
}

// SubagentsConfig bounds delegated background tasks. AllowedTools is
// the safe capability subset granted to every subagent registry.
type SubagentsConfig struct {
	MaxRounds    int      `json:"maxRounds"`
	AllowedTools []string `json:"allowedTools"`
}

type ToolsConfig struct {
	Exec ExecToolConfig `json:"exec"`
	Web  WebToolConfig  `json:"web"`
}

type ExecToolConfig struct {
	TimeoutSeconds  int      `json:"timeoutSeconds"`
	MaxOutputBytes  int      `json:"maxOutputBytes"`
	BlockedCommands []string `json:"blockedCommands,omitempty"`
}

type WebToolConfig struct {
	FetchMaxBytes    int    `json:"fetchMaxBytes"`
	RenderEnabled    bool   `json:"renderEnabled"`
	ChromeProfileDir string `json:"chromeProfileDir,omitempty"`
}

type SchedulerConfig struct {
	Enabled   bool   `json:"enabled"`
	StatePath string `json:"statePath"`
}

type StorageConfig struct {
	DBPath string `json:"dbPath"`
}

type LoggingConfig struct {
	Level string `json:"level"`
	File  string `json:"file,omitempty"`
}

type BusConfig struct {
	OutboundLimit int `json:"outboundLimit"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays
// containing both strings and numbers, so Telegram numeric chat ids
// can be written unquoted in the config file.
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.gigabot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gigabot"
	}
	return filepath.Join(home, ".gigabot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Agent.Workspace = ExpandPath(cfg.Agent.Workspace)
	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
	cfg.Scheduler.StatePath = ExpandPath(cfg.Scheduler.StatePath)
	cfg.Logging.File = ExpandPath(cfg.Logging.File)
	cfg.Tools.Web.ChromeProfileDir = ExpandPath(cfg.Tools.Web.ChromeProfileDir)
	cfg.GigaChat.CABundle = ExpandPath(cfg.GigaChat.CABundle)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Agent.MaxRounds < 1 || cfg.Agent.MaxRounds > 200 {
		errs = append(errs, "agent.maxRounds must be between 1 and 200")
	}
	if cfg.Agent.MemoryWindow < 1 {
		errs = append(errs, "agent.memoryWindow must be >= 1")
	}
	if cfg.Agent.MaxConcurrentMessages < 1 || cfg.Agent.MaxConcurrentMessages > 100 {
		errs = append(errs, "agent.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.Subagents.MaxRounds < 1 {
		errs = append(errs, "subagents.maxRounds must be >= 1")
	}
	if cfg.Agent.Heartbeat.Enabled && cfg.Agent.Heartbeat.IntervalMinutes < 1 {
		errs = append(errs, "agent.heartbeat.intervalMinutes must be >= 1 when enabled")
	}

	if cfg.Channels.Gateway.Port < 0 || cfg.Channels.Gateway.Port > 65535 {
		errs = append(errs, "channels.gateway.port must be between 0 and 65535")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when enabled")
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		errs = append(errs, "channels.discord.token is required when enabled")
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if cfg.Tools.Exec.TimeoutSeconds < 1 {
		errs = append(errs, "tools.exec.timeoutSeconds must be >= 1")
	}
	if cfg.GigaChat.Temperature < 0 || cfg.GigaChat.Temperature > 2 {
		errs = append(errs, "gigachat.temperature must be between 0 and 2")
	}
	if cfg.Bus.OutboundLimit < 0 {
		errs = append(errs, "bus.outboundLimit must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
