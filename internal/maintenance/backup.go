package maintenance

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fetcharr/fetcharr/internal/log"
)

// BackupConfig tunes the scheduled pg_dump job.
type BackupConfig struct {
	// Enabled switches the job on; without a directory nothing runs.
	Enabled bool
	// Directory receives the archive files.
	Directory string
	// Retention is how many archives to keep; older ones are deleted after a
	// successful run.
	Retention int
	// PgDumpPath overrides the pg_dump binary, default "pg_dump".
	PgDumpPath string
}

// DefaultBackupConfig returns the stock backup settings.
func DefaultBackupConfig() BackupConfig {
	return BackupConfig{Retention: 7, PgDumpPath: "pg_dump"}
}

const backupPrefix = "fetcharr-"

// Backup produces single-file custom-format pg_dump archives with retention.
type Backup struct {
	dsn   string
	cfg   BackupConfig
	clock func() time.Time
}

// NewBackup builds a Backup job. clock may be nil (wall clock).
func NewBackup(dsn string, cfg BackupConfig, clock func() time.Time) *Backup {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultBackupConfig().Retention
	}
	if cfg.PgDumpPath == "" {
		cfg.PgDumpPath = DefaultBackupConfig().PgDumpPath
	}
	if clock == nil {
		clock = time.Now
	}
	return &Backup{dsn: dsn, cfg: cfg, clock: clock}
}

// Run produces one archive and applies retention.
func (b *Backup) Run(ctx context.Context) error {
	if !b.cfg.Enabled || b.cfg.Directory == "" {
		return nil
	}
	logger := log.WithComponentFromContext(ctx, "maintenance")

	if err := os.MkdirAll(b.cfg.Directory, 0o750); err != nil {
		return fmt.Errorf("maintenance: backup dir: %w", err)
	}
	name := backupPrefix + b.clock().UTC().Format("20060102-150405") + ".dump"
	target := filepath.Join(b.cfg.Directory, name)

	cmd := exec.CommandContext(ctx, b.cfg.PgDumpPath,
		"--format=custom", "--compress=6", "--file="+target, "--dbname="+b.dsn)
	out, err := cmd.CombinedOutput()
	if err != nil {
		// A partial archive is worse than none.
		_ = os.Remove(target)
		return fmt.Errorf("maintenance: pg_dump: %w: %s", err, strings.TrimSpace(string(out)))
	}

	removed, err := b.applyRetention()
	if err != nil {
		return err
	}
	logger.Info().
		Str("event", "backup.completed").
		Str("archive", target).
		Int("removed", removed).
		Msg("database backup complete")
	return nil
}

// applyRetention deletes the oldest archives beyond the configured count.
func (b *Backup) applyRetention() (int, error) {
	entries, err := os.ReadDir(b.cfg.Directory)
	if err != nil {
		return 0, fmt.Errorf("maintenance: list backups: %w", err)
	}
	var archives []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) && strings.HasSuffix(e.Name(), ".dump") {
			archives = append(archives, e.Name())
		}
	}
	if len(archives) <= b.cfg.Retention {
		return 0, nil
	}
	// The timestamp format sorts lexicographically.
	sort.Strings(archives)
	excess := archives[:len(archives)-b.cfg.Retention]
	removed := 0
	for _, name := range excess {
		if err := os.Remove(filepath.Join(b.cfg.Directory, name)); err != nil {
			return removed, fmt.Errorf("maintenance: remove old backup: %w", err)
		}
		removed++
	}
	return removed, nil
}
