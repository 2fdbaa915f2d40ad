package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupDisabledIsNoop(t *testing.T) {
	b := NewBackup("postgres://x", BackupConfig{Enabled: false}, nil)
	assert.NoError(t, b.Run(context.Background()))
}

func TestBackupRetentionKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"fetcharr-20260101-000000.dump",
		"fetcharr-20260102-000000.dump",
		"fetcharr-20260103-000000.dump",
		"fetcharr-20260104-000000.dump",
		"unrelated.txt",
	}
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o600))
	}

	b := NewBackup("postgres://x", BackupConfig{
		Enabled:   true,
		Directory: dir,
		Retention: 2,
	}, func() time.Time { return time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC) })

	removed, err := b.applyRetention()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var left []string
	for _, e := range entries {
		left = append(left, e.Name())
	}
	assert.ElementsMatch(t, []string{
		"fetcharr-20260103-000000.dump",
		"fetcharr-20260104-000000.dump",
		"unrelated.txt",
	}, left)
}
