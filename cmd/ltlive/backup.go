package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"ltlive/internal/config"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// Archive entry names. Restore maps them back to the configured paths.
const (
	entryConfig   = "config.json"
	entrySnapshot = "presentations.yaml"
	entryAudit    = "audit.db"
)

// backupFile is one file of a backup and its name inside the archive.
type backupFile struct {
	entry string
	path  string
}

// backupSet lists every file a backup covers, existing or not.
func backupSet(cfgPath string, cfg *config.Config) []backupFile {
	files := []backupFile{{entryConfig, cfgPath}}
	if cfg == nil {
		return files
	}
	files = append(files, backupFile{entrySnapshot, cfg.Presentations.SnapshotPath})
	if cfg.Audit.DBPath != "" {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			files = append(files, backupFile{entryAudit + suffix, cfg.Audit.DBPath + suffix})
		}
	}
	return files
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the config, presentation snapshot and audit database",
		Long: `Creates a compressed .tar.gz archive containing the config file, the
presentation snapshot and the audit database. The backup is timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Warn("config not loadable, backing up the config file only", "err", err)
				cfg = nil
			}

			if outputPath == "" {
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(filepath.Dir(cfgPath), "backups", fmt.Sprintf("ltlive-backup-%s.tar.gz", ts))
			}
			if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
				return fmt.Errorf("cannot create backup directory: %w", err)
			}

			var files []backupFile
			for _, f := range backupSet(cfgPath, cfg) {
				if _, err := os.Stat(f.path); err == nil {
					files = append(files, f)
				}
			}
			if len(files) == 0 {
				return fmt.Errorf("no files to backup (config: %s)", cfgPath)
			}

			if err := createTarGz(outputPath, files); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backup created: %s\n", outputPath)
			fmt.Fprintf(out, "Files included: %d\n", len(files))
			for _, f := range files {
				info, _ := os.Stat(f.path)
				size := int64(0)
				if info != nil {
					size = info.Size()
				}
				fmt.Fprintf(out, "  - %s (%s)\n", f.entry, humanize.Bytes(uint64(size)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: <config dir>/backups/ltlive-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Restore the config, snapshot and audit database from a backup",
		Long: `Restores the files of a .tar.gz archive created by 'ltlive backup' to the
paths named in the current config.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				cfg = config.Defaults()
			}
			targets := make(map[string]string)
			for _, f := range backupSet(cfgPath, cfg) {
				targets[f.entry] = f.path
			}

			// Safety: warn before overwriting
			if !force {
				var existing []string
				for _, p := range targets {
					if _, err := os.Stat(p); err == nil {
						existing = append(existing, p)
					}
				}
				if len(existing) > 0 {
					fmt.Printf("WARNING: This will overwrite existing data:\n")
					for _, p := range existing {
						fmt.Printf("  %s\n", p)
					}
					fmt.Printf("Use --force to skip this warning.\n")
					return errors.New("restore aborted (use --force to proceed)")
				}
			}

			restored, err := extractTarGz(args[0], targets)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Printf("Restore completed from: %s\n", args[0])
			fmt.Printf("Files restored: %d\n", len(restored))
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

// createTarGz writes files into a gzip-compressed tar at outputPath. The
// archive is only complete once every writer has been closed without error.
func createTarGz(outputPath string, files []backupFile) (err error) {
	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	defer func() {
		for _, c := range []io.Closer{tw, gz, out} {
			if cerr := c.Close(); err == nil {
				err = cerr
			}
		}
		if err != nil {
			os.Remove(outputPath)
		}
	}()

	for _, f := range files {
		if err := appendFile(tw, f); err != nil {
			return fmt.Errorf("add %s: %w", f.path, err)
		}
	}
	return nil
}

func appendFile(tw *tar.Writer, f backupFile) error {
	src, err := os.Open(f.path)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = f.entry
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, src)
	return err
}

// extractTarGz writes every known archive entry to its target path.
// Unknown entries are skipped.
func extractTarGz(archivePath string, targets map[string]string) ([]string, error) {
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

		targetPath, ok := targets[filepath.Base(header.Name)]
		if !ok {
			logger.Warn("skipping unknown backup entry", "entry", header.Name)
			continue
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
		if err := outFile.Close(); err != nil {
			return nil, fmt.Errorf("close %s: %w", targetPath, err)
		}

		restored = append(restored, targetPath)
	}

	return restored, nil
}
