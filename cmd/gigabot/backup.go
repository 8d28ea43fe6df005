package main

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gigabot/internal/config"

	"github.com/spf13/cobra"
)

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of GigaBot data (sessions + config)",
		Long: `Creates a compressed .tar.gz archive containing the session database,
the reminder state, and the configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			dbPath, statePath := resolveDataPaths(cfgPath)

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("gigabot-backup-%s.tar.gz", ts))
			}

			var files []string
			if _, err := os.Stat(dbPath); err == nil {
				files = append(files, dbPath)
				// WAL mode keeps live pages outside the main file.
				for _, suffix := range []string{"-wal", "-shm"} {
					if _, err := os.Stat(dbPath + suffix); err == nil {
						files = append(files, dbPath+suffix)
					}
				}
			}
			if _, err := os.Stat(statePath); err == nil {
				files = append(files, statePath)
			}
			if _, err := os.Stat(cfgPath); err == nil {
				files = append(files, cfgPath)
			}

			if len(files) == 0 {
				return fmt.Errorf("no files to backup (db: %s, config: %s)", dbPath, cfgPath)
			}

			if err := createTarGz(outputPath, files); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			fmt.Printf("Files included: %d\n", len(files))
			for _, f := range files {
				size := int64(0)
				if info, err := os.Stat(f); err == nil {
					size = info.Size()
				}
				fmt.Printf("  - %s (%s)\n", filepath.Base(f), humanSize(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.gigabot/backups/gigabot-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var inputPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore GigaBot data from a backup archive",
		Long: `Restores the session database, reminder state, and configuration file
from a .tar.gz backup archive created by 'gigabot backup'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" && len(args) > 0 {
				inputPath = args[0]
			}
			if inputPath == "" {
				return fmt.Errorf("specify a backup file: gigabot restore <file.tar.gz>")
			}

			cfgPath := resolveConfigPath()
			dbPath, statePath := resolveDataPaths(cfgPath)

			if !force {
				existing := false
				for _, p := range []string{dbPath, cfgPath} {
					if _, err := os.Stat(p); err == nil {
						existing = true
					}
				}
				if existing {
					fmt.Printf("WARNING: This will overwrite existing data.\n")
					fmt.Printf("  Database: %s\n", dbPath)
					fmt.Printf("  Config:   %s\n", cfgPath)
					fmt.Printf("Use --force to skip this warning.\n")
					return fmt.Errorf("restore aborted (use --force to proceed)")
				}
			}

			restored, err := extractTarGz(inputPath, dbPath, statePath, cfgPath)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Printf("Restore completed from: %s\n", inputPath)
			fmt.Printf("Files restored: %d\n", len(restored))
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "backup file to restore from")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

// resolveDataPaths reads the configured database and scheduler-state
// paths, falling back to defaults when the config cannot be loaded.
func resolveDataPaths(cfgPath string) (dbPath, statePath string) {
	defaults := config.Defaults()
	dbPath = config.ExpandPath(defaults.Storage.DBPath)
	statePath = config.ExpandPath(defaults.Scheduler.StatePath)

	if cfg, err := config.Load(cfgPath); err == nil {
		dbPath = cfg.Storage.DBPath
		statePath = cfg.Scheduler.StatePath
	}
	return dbPath, statePath
}

func createTarGz(outputPath string, files []string) error {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	defer gzWriter.Close()

	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	for _, filePath := range files {
		if err := addFileToTar(tarWriter, filePath); err != nil {
			return fmt.Errorf("add %s: %w", filePath, err)
		}
	}
	return nil
}

func addFileToTar(tw *tar.Writer, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	// Only the base name goes into the archive.
	header.Name = filepath.Base(filePath)

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

// extractTarGz maps archive entries back to their configured locations
// by name.
func extractTarGz(archivePath, dbPath, statePath, cfgPath string) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	var restored []string

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		var targetPath string
		baseName := filepath.Base(header.Name)
		switch {
		case baseName == "config.json":
			targetPath = cfgPath
		case baseName == filepath.Base(statePath):
			targetPath = statePath
		case strings.HasSuffix(baseName, ".db"):
			targetPath = dbPath
		case strings.HasSuffix(baseName, ".db-wal"):
			targetPath = dbPath + "-wal"
		case strings.HasSuffix(baseName, ".db-shm"):
			targetPath = dbPath + "-shm"
		default:
			targetPath = filepath.Join(filepath.Dir(cfgPath), baseName)
		}

		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return nil, err
		}

		outFile, err := os.Create(targetPath)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", targetPath, err)
		}
		if _, err := io.Copy(outFile, tarReader); err != nil {
			outFile.Close()
			return nil, fmt.Errorf("extract %s: %w", targetPath, err)
		}
		outFile.Close()

		restored = append(restored, targetPath)
	}

	return restored, nil
}

func humanSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
