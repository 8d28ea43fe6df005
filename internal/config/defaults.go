package config

func Defaults() *Config {
	return &Config{
		GigaChat: GigaChatConfig{
			Scope:             "GIGACHAT_API_PERS",
			Model:             "GigaChat",
			APIBase:           "https://gigachat.devices.sberbank.ru/api/v1",
			AuthURL:           "https://ngw.devices.sberbank.ru:9443/api/v2/oauth",
			Temperature:       0.7,
			MaxTokens:         1500,
			TimeoutSeconds:    120,
			RequestsPerMinute: 20,
			// The Sber endpoints present certificates from the Russian
			// trusted root CA, absent from most system stores.
			InsecureSkipVerify: true,
		},
		SaluteSpeech: SaluteSpeechConfig{
			Enabled:            false,
			Scope:              "SALUTE_SPEECH_PERS",
			AuthURL:            "https://ngw.devices.sberbank.ru:9443/api/v2/oauth",
			APIBase:            "https://smartspeech.sber.ru/rest/v1",
			Voice:              "May_24000",
			Language:           "ru-RU",
			InsecureSkipVerify: true,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled: false,
			},
			Discord: DiscordConfig{
				Enabled: false,
			},
			Gateway: GatewayConfig{
				Enabled: false,
				Host:    "127.0.0.1",
				Port:    8642,
				Path:    "/ws",
			},
			CLI: CLIConfig{
				Enabled: false,
			},
		},
		Agent: AgentConfig{
			Workspace:             "~/.gigabot/workspace",
			MaxRounds:             20,
			MemoryWindow:          50,
			MaxConcurrentMessages: 5,
			Persona:               "assistant",
			Heartbeat: HeartbeatConfig{
				Enabled:         false,
				IntervalMinutes: 30,
			},
		},
		Subagents: SubagentsConfig{
			MaxRounds:    15,
			AllowedTools: defaultSubagentTools(),
		},
		Tools: ToolsConfig{
			Exec: ExecToolConfig{
				TimeoutSeconds:  60,
				MaxOutputBytes:  65536,
				BlockedCommands: defaultBlockedCommands(),
			},
			Web: WebToolConfig{
				FetchMaxBytes: 102400,
				RenderEnabled: false,
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:   true,
			StatePath: "~/.gigabot/reminders.json",
		},
		Storage: StorageConfig{
			DBPath: "~/.gigabot/sessions.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Bus: BusConfig{
			OutboundLimit: 1024,
		},
	}
}

// defaultSubagentTools is the safe capability subset granted to
// subagents: no user messaging, no spawning.
func defaultSubagentTools() []string {
	return []string{
		"read_file", "write_file", "list_dir",
		"exec", "web_search", "web_fetch",
	}
}

func defaultBlockedCommands() []string {
	return []string{
		"rm -rf /",
		"rm -rf /*",
		"mkfs",
		"dd if=",
		":(){:|:&};:",
		"chmod -R 777 /",
		"mv /* /dev/null",
	}
}
