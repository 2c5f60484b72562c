package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-task-reminder/services/api/config"
)

func TestWriteDefaultConfig(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "api.yaml")

	require.NoError(t, writeDefaultConfig(dest, defaultAPIYAML, false))
	err := writeDefaultConfig(dest, "x", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, defaultAPIYAML, string(data))
}

func TestDefaultAPIYAML_ParsesAndValidates(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(defaultAPIYAML)))

	cfg := config.Load(v)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.StoreSQLite, cfg.Store)
	assert.Equal(t, "tasks.db", cfg.SQLitePath)
	assert.Equal(t, config.NotifierLog, cfg.Notifier)
	assert.Equal(t, "@every 5m", cfg.SweepSchedule)
	assert.Equal(t, time.Second, cfg.DriftTolerance)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	assert.Zero(t, cfg.ThrottleLimit)
	assert.Empty(t, cfg.RedisAddr)
}
