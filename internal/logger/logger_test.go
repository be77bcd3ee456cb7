package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailfree/backend/internal/config"
)

func TestNewWritesToRotatedFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "mailfree.log")

	log, err := New(Options{Level: "debug", File: file, MaxSizeMB: 1})
	require.NoError(t, err)

	log.Info("mailbox created")
	_ = log.Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "mailbox created")
}

func TestNewFallsBackToInfoOnBadLevel(t *testing.T) {
	log, err := New(Options{Level: "nope"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(-1), "debug 级别应被禁用")
}

func TestFromConfigAndOrNop(t *testing.T) {
	opts := FromConfig(config.LogConfig{Level: "warn", Development: true, File: "x.log"})
	assert.Equal(t, "warn", opts.Level)
	assert.True(t, opts.Development)
	assert.Equal(t, 100, opts.MaxSizeMB)

	assert.NotNil(t, OrNop(nil))
}
