package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gigabot/internal/agent"
	"gigabot/internal/browser"
	"gigabot/internal/bus"
	"gigabot/internal/channel"
	"gigabot/internal/config"
	"gigabot/internal/domain"
	"gigabot/internal/memory"
	"gigabot/internal/persona"
	"gigabot/internal/provider"
	"gigabot/internal/schedule"
	"gigabot/internal/tool"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	agent.SetVersion(version)

	root := &cobra.Command{
		Use:     "gigabot",
		Short:   "GigaBot: personal AI agent on the GigaChat API",
		Long:    "GigaBot runs a tool-using agent behind Telegram, Discord, a WebSocket gateway, and the terminal, backed by Sber's GigaChat models.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.gigabot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// newLogger rebuilds the logger from the config: level plus optional
// file tee.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	out := io.Writer(os.Stderr)
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err == nil {
			if f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
				out = io.MultiWriter(os.Stderr, f)
			}
		}
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config, workspace, and personas directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := resolveConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}

			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			workspace := config.ExpandPath(cfg.Agent.Workspace)
			if err := os.MkdirAll(workspace, 0o755); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Join(cfgDir, "personas"), 0o755); err != nil {
				return err
			}

			logger.Info("initialized", "config", cfgPath, "workspace", workspace)
			fmt.Printf("Config created at %s\n", cfgPath)
			fmt.Println("Set gigachat.credentials (or the GIGACHAT_CREDENTIALS env var) and run 'gigabot chat'.")
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent with all enabled channels",
		Long:  "Starts the agent loop, the scheduler, the heartbeat, and every channel enabled in the config. Press Ctrl+C to stop.",
		RunE:  runRun,
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat in the terminal",
		RunE:  runChat,
	}
}

// app holds the assembled runtime.
type app struct {
	cfg        *config.Config
	bus        *bus.InMemoryBus
	store      *memory.SQLiteStore
	loop       *agent.Loop
	supervisor *agent.Supervisor
	scheduler  *schedule.Scheduler
	heartbeat  *agent.Heartbeat
	manager    *channel.Manager
	stt        *provider.SaluteSpeech
}

// buildApp wires the runtime from config: store, provider, tools,
// supervisor, loop, scheduler, heartbeat, and the channel manager.
// Channels are registered by the caller.
func buildApp(cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.Agent.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}

	messageBus := bus.New(cfg.Bus.OutboundLimit, logger)

	store, err := memory.NewSQLiteStore(cfg.Storage.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}

	gigachat, err := provider.NewGigaChat(provider.GigaChatConfig{
		Credentials: cfg.GigaChat.Credentials,
		Scope:       cfg.GigaChat.Scope,
		Model:       cfg.GigaChat.Model,
		APIBase:     cfg.GigaChat.APIBase,
		AuthURL:     cfg.GigaChat.AuthURL,
		Timeout:     time.Duration(cfg.GigaChat.TimeoutSeconds) * time.Second,
		TLS: provider.TLSOptions{
			InsecureSkipVerify: cfg.GigaChat.InsecureSkipVerify,
			CABundle:           cfg.GigaChat.CABundle,
		},
		Logger: logger,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("gigachat client: %w", err)
	}

	var stt *provider.SaluteSpeech
	if cfg.SaluteSpeech.Enabled {
		creds := cfg.SaluteSpeech.Credentials
		if creds == "" {
			// The developer portal issues one key valid for both scopes.
			creds = cfg.GigaChat.Credentials
		}
		stt, err = provider.NewSaluteSpeech(provider.SaluteSpeechConfig{
			Credentials: creds,
			Scope:       cfg.SaluteSpeech.Scope,
			APIBase:     cfg.SaluteSpeech.APIBase,
			AuthURL:     cfg.SaluteSpeech.AuthURL,
			TLS: provider.TLSOptions{
				InsecureSkipVerify: cfg.SaluteSpeech.InsecureSkipVerify,
			},
			Logger: logger,
		})
		if err != nil {
			logger.Warn("salutespeech disabled", "err", err)
			stt = nil
		}
	}

	var scheduler *schedule.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler = schedule.New(schedule.Config{
			StatePath: cfg.Scheduler.StatePath,
			Bus:       messageBus,
			Logger:    logger,
		})
	}

	var renderer tool.PageRenderer
	if cfg.Tools.Web.RenderEnabled {
		renderer = browser.NewBridge(browser.BridgeConfig{
			ProfileDir: cfg.Tools.Web.ChromeProfileDir,
			Headless:   true,
			Logger:     logger,
		})
	}

	// baseTools builds the capability set shared between the main
	// registry and subagent registries. Fresh instances per call: tools
	// are stateless, and every spawn gets its own registry.
	baseTools := func() []domain.Tool {
		ts := []domain.Tool{
			tool.NewReadFileTool(cfg.Agent.Workspace),
			tool.NewWriteFileTool(cfg.Agent.Workspace),
			tool.NewListDirTool(cfg.Agent.Workspace),
			tool.NewExecTool(tool.ExecConfig{
				WorkingDir:      cfg.Agent.Workspace,
				TimeoutSeconds:  cfg.Tools.Exec.TimeoutSeconds,
				MaxOutputBytes:  cfg.Tools.Exec.MaxOutputBytes,
				BlockedCommands: cfg.Tools.Exec.BlockedCommands,
			}),
			tool.NewWebSearchTool(),
			tool.NewWebFetchTool(tool.WebFetchConfig{
				MaxBytes: cfg.Tools.Web.FetchMaxBytes,
				Renderer: renderer,
			}),
		}
		if scheduler != nil {
			ts = append(ts, tool.NewRemindTool(scheduler))
		}
		if stt != nil {
			ts = append(ts, tool.NewVoiceNoteTool(tool.VoiceNoteConfig{
				Synthesizer: stt,
				VoiceDir:    filepath.Join(cfg.Agent.Workspace, "voice"),
				Voice:       cfg.SaluteSpeech.Voice,
			}))
		}
		return ts
	}

	registry := tool.NewRegistry(logger)
	for _, t := range baseTools() {
		registry.Register(t)
	}
	registry.Register(tool.NewSendMessageTool(messageBus))

	// Subagent registries carry only the configured subset; messaging
	// and spawning are never available to them.
	subagentFactory := func() *tool.Registry {
		allowed := make(map[string]bool, len(cfg.Subagents.AllowedTools))
		for _, name := range cfg.Subagents.AllowedTools {
			allowed[name] = true
		}
		reg := tool.NewRegistry(logger)
		for _, t := range baseTools() {
			if allowed[t.Name()] {
				reg.Register(t)
			}
		}
		return reg
	}

	personaDir := filepath.Join(config.DefaultConfigDir(), "personas")
	personas := persona.NewLibrary(personaDir, logger)

	promptBuilder := agent.NewPromptBuilder(cfg.Agent.Workspace, cfg.Agent.SystemPromptExtra)

	// One token bucket for every GigaChat call, main loop and subagents
	// alike.
	limiter := agent.NewRateLimiter(5, float64(cfg.GigaChat.RequestsPerMinute))

	supervisor := agent.NewSupervisor(agent.SupervisorConfig{
		Provider:        gigachat,
		Bus:             messageBus,
		Prompt:          promptBuilder,
		RegistryFactory: subagentFactory,
		RateLimiter:     limiter,
		Logger:          logger,
		MaxRounds:       cfg.Subagents.MaxRounds,
		MaxTokens:       cfg.GigaChat.MaxTokens,
		Temperature:     cfg.GigaChat.Temperature,
	})
	registry.Register(tool.NewSubagentTool(supervisor))

	loop := agent.NewLoop(agent.LoopConfig{
		Provider:     gigachat,
		Sessions:     agent.NewSessionManager(store, logger),
		Prompt:       promptBuilder,
		Tools:        registry,
		Personas:     personas,
		Supervisor:   supervisor,
		Bus:          messageBus,
		Logger:       logger,
		MaxRounds:    cfg.Agent.MaxRounds,
		HistoryLimit: cfg.Agent.MemoryWindow,
		Concurrency:  cfg.Agent.MaxConcurrentMessages,
		MaxTokens:    cfg.GigaChat.MaxTokens,
		Temperature:  cfg.GigaChat.Temperature,
		RateLimiter:  limiter,
	})
	if name := cfg.Agent.Persona; name != "" {
		if p, ok := personas.Get(name); ok {
			loop.SetActivePersona(p)
		} else {
			logger.Warn("configured persona not found, using default", "name", name)
		}
	}

	heartbeat := agent.NewHeartbeat(agent.HeartbeatConfig{
		Enabled:         cfg.Agent.Heartbeat.Enabled,
		IntervalMinutes: cfg.Agent.Heartbeat.IntervalMinutes,
		Channel:         cfg.Agent.Heartbeat.Channel,
		ChatID:          cfg.Agent.Heartbeat.ChatID,
		Workspace:       cfg.Agent.Workspace,
		Logger:          logger,
	}, messageBus)

	return &app{
		cfg:        cfg,
		bus:        messageBus,
		store:      store,
		loop:       loop,
		supervisor: supervisor,
		scheduler:  scheduler,
		heartbeat:  heartbeat,
		manager:    channel.NewManager(messageBus, logger),
		stt:        stt,
	}, nil
}

// start launches the loop, the scheduler, the heartbeat, and the
// registered channels.
func (a *app) start(ctx context.Context) {
	go a.loop.Run(ctx)
	if a.scheduler != nil {
		go a.scheduler.Start(ctx)
	}
	go a.heartbeat.Start(ctx)
	a.manager.Start(ctx)
}

// shutdown stops everything with a deadline: channels first so no new
// messages arrive, then subagents, scheduler, and the store.
func (a *app) shutdown() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.manager.Stop()
		a.supervisor.Stop()
		if a.scheduler != nil {
			a.scheduler.Stop()
		}
		if err := a.store.Close(); err != nil {
			logger.Warn("error closing session store", "err", err)
		}
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit")
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = newLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}

	registered := 0
	if cfg.Channels.Telegram.Enabled {
		a.manager.Register(channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			STT:       sttOrNil(a.stt),
			Logger:    logger,
		}))
		registered++
	}
	if cfg.Channels.Discord.Enabled {
		a.manager.Register(channel.NewDiscord(channel.DiscordConfig{
			Token:     cfg.Channels.Discord.Token,
			GuildID:   cfg.Channels.Discord.GuildID,
			AllowFrom: cfg.Channels.Discord.AllowFrom,
			Logger:    logger,
		}))
		registered++
	}
	if cfg.Channels.Gateway.Enabled {
		a.manager.Register(channel.NewGateway(channel.GatewayConfig{
			Host:      cfg.Channels.Gateway.Host,
			Port:      cfg.Channels.Gateway.Port,
			Path:      cfg.Channels.Gateway.Path,
			AllowFrom: cfg.Channels.Gateway.AllowFrom,
			Logger:    logger,
		}))
		registered++
	}
	if cfg.Channels.CLI.Enabled {
		a.manager.Register(channel.NewCLI(channel.CLIConfig{Logger: logger}))
		registered++
	}
	if registered == 0 {
		logger.Warn("no channels enabled; the agent is only reachable through the scheduler and heartbeat")
	}

	a.start(ctx)
	logger.Info("gigabot started", "channels", a.manager.Names(), "version", version)

	<-ctx.Done()
	logger.Info("shutting down...")
	a.shutdown()
	return nil
}

// sttOrNil avoids handing a typed nil to the Transcriber interface
// field.
func sttOrNil(stt *provider.SaluteSpeech) channel.Transcriber {
	if stt == nil {
		return nil
	}
	return stt
}

func runChat(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
		cfg.Agent.Workspace = config.ExpandPath(cfg.Agent.Workspace)
		cfg.Storage.DBPath = config.ExpandPath(cfg.Storage.DBPath)
		cfg.Scheduler.StatePath = config.ExpandPath(cfg.Scheduler.StatePath)
	}
	logger = newLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}

	// Chat always talks through the CLI, whatever the config enables.
	a.manager.Register(channel.NewCLI(channel.CLIConfig{
		Logger: logger,
		OnQuit: stop,
	}))

	a.start(ctx)
	<-ctx.Done()
	a.shutdown()
	return nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show config and provider status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false, "err", err)
				return nil
			}
			logger.Info("config", "path", cfgPath, "loaded", true)

			gigachat, err := provider.NewGigaChat(provider.GigaChatConfig{
				Credentials: cfg.GigaChat.Credentials,
				Scope:       cfg.GigaChat.Scope,
				Model:       cfg.GigaChat.Model,
				APIBase:     cfg.GigaChat.APIBase,
				AuthURL:     cfg.GigaChat.AuthURL,
				Timeout:     time.Duration(cfg.GigaChat.TimeoutSeconds) * time.Second,
				TLS: provider.TLSOptions{
					InsecureSkipVerify: cfg.GigaChat.InsecureSkipVerify,
					CABundle:           cfg.GigaChat.CABundle,
				},
				Logger: logger,
			})
			if err != nil {
				logger.Error("provider init failed", "err", err)
				return nil
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := gigachat.Healthy(ctx); err != nil {
				logger.Warn("provider unhealthy", "provider", gigachat.Name(), "err", err)
			} else {
				logger.Info("provider healthy", "provider", gigachat.Name(), "model", cfg.GigaChat.Model)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. gigachat.model)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. channels.telegram.enabled true)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (credentials masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
