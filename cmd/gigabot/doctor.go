package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"gigabot/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your GigaBot installation",
		Long: `Verifies that GigaBot's configuration, credentials, database, and
workspace are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("GigaBot Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'gigabot init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass("Config validation", "valid")
			passed++

			// 3. GigaChat credentials
			if cfg.GigaChat.Credentials == "" {
				printFail("GigaChat credentials", "not configured (gigachat.credentials)")
				failed++
			} else {
				printPass("GigaChat credentials", "configured")
				passed++
			}

			// 4. Workspace directory
			if info, err := os.Stat(cfg.Agent.Workspace); err != nil {
				printWarn("Workspace", fmt.Sprintf("missing (created on start): %s", cfg.Agent.Workspace))
				warned++
			} else if !info.IsDir() {
				printFail("Workspace", fmt.Sprintf("not a directory: %s", cfg.Agent.Workspace))
				failed++
			} else {
				printPass("Workspace", cfg.Agent.Workspace)
				passed++
			}

			// 5. Database writable
			if err := checkDatabase(cfg.Storage.DBPath); err != nil {
				printFail("Database", err.Error())
				failed++
			} else {
				printPass("Database", cfg.Storage.DBPath)
				passed++
			}

			// 6. Channels
			enabled := 0
			if cfg.Channels.Telegram.Enabled {
				enabled++
				if cfg.Channels.Telegram.Token == "" {
					printFail("Channel: telegram", "enabled but no token")
					failed++
				} else {
					printPass("Channel: telegram", "configured")
					passed++
				}
				if len(cfg.Channels.Telegram.AllowFrom) == 0 {
					printWarn("Channel: telegram", "no allowFrom list; anyone can talk to the bot")
					warned++
				}
			}
			if cfg.Channels.Discord.Enabled {
				enabled++
				if cfg.Channels.Discord.Token == "" {
					printFail("Channel: discord", "enabled but no token")
					failed++
				} else {
					printPass("Channel: discord", "configured")
					passed++
				}
			}
			if cfg.Channels.Gateway.Enabled {
				enabled++
				port := cfg.Channels.Gateway.Port
				if err := checkPort(port); err != nil {
					printWarn("Channel: gateway", fmt.Sprintf("port %d may be in use: %v", port, err))
					warned++
				} else {
					printPass("Channel: gateway", fmt.Sprintf(":%d available", port))
					passed++
				}
			}
			if cfg.Channels.CLI.Enabled {
				enabled++
				printPass("Channel: cli", "enabled")
				passed++
			}
			if enabled == 0 {
				printWarn("Channels", "none enabled; only 'gigabot chat' will work")
				warned++
			}

			// 7. Voice features
			if cfg.SaluteSpeech.Enabled {
				if cfg.SaluteSpeech.Credentials == "" && cfg.GigaChat.Credentials == "" {
					printFail("SaluteSpeech", "enabled but no credentials")
					failed++
				} else {
					printPass("SaluteSpeech", "configured")
					passed++
				}
			}

			// 8. Headless Chrome for render mode
			if cfg.Tools.Web.RenderEnabled {
				if path, err := findChrome(); err != nil {
					printWarn("Chrome", "render mode enabled but no Chrome/Chromium found in PATH")
					warned++
				} else {
					printPass("Chrome", path)
					passed++
				}
			}

			// 9. Scheduler state writable
			if cfg.Scheduler.Enabled {
				dir := filepath.Dir(cfg.Scheduler.StatePath)
				if err := os.MkdirAll(dir, 0o755); err != nil {
					printFail("Scheduler state", fmt.Sprintf("cannot create %s: %v", dir, err))
					failed++
				} else {
					printPass("Scheduler state", cfg.Scheduler.StatePath)
					passed++
				}
			}

			// 10. Log file writable
			if cfg.Logging.File != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.Logging.File)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running GigaBot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nGigaBot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! GigaBot is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func findChrome() (string, error) {
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "chrome"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("not found")
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-22s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-22s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-22s %s\n", check, detail)
}
