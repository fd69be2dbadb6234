package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, EngineLocal, cfg.GetEngine())
	assert.Equal(t, "spotify", cfg.GetMprisPlayer())
	assert.Equal(t, int64(1000), cfg.GetEarlyTriggerUs())
	assert.Equal(t, int64(1_000_000), cfg.GetSeekThresholdUs())
	assert.Equal(t, 100*time.Millisecond, cfg.GetPollInterval())
	assert.Equal(t, int64(5_000_000), cfg.GetNotifyEveryUs())
	assert.Equal(t, "info", cfg.GetLogLevel())
	assert.True(t, cfg.GetKeepAwake())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
engine = "mpris"
source = "https://example.com/stream.mp3"
keep_awake = false

[mpris]
player = "vlc"

[scheduler]
early_trigger_us = 2500

[daemon]
poll_interval = "250ms"

[log]
level = "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, EngineMpris, cfg.GetEngine())
	assert.Equal(t, "https://example.com/stream.mp3", cfg.GetSource())
	assert.False(t, cfg.GetKeepAwake())
	assert.Equal(t, "vlc", cfg.GetMprisPlayer())
	assert.Equal(t, int64(2500), cfg.GetEarlyTriggerUs())
	assert.Equal(t, int64(1_000_000), cfg.GetSeekThresholdUs(), "unset keys keep defaults")
	assert.Equal(t, 250*time.Millisecond, cfg.GetPollInterval())
	assert.Equal(t, "debug", cfg.GetLogLevel())
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
engine = "mpris"

[scheduler]
early_trigger_us = 2500
`)
	t.Setenv("CADENCE_ENGINE", "local")
	t.Setenv("CADENCE_SCHEDULER__EARLY_TRIGGER_US", "4000")
	t.Setenv("CADENCE_KEEP_AWAKE", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, EngineLocal, cfg.GetEngine())
	assert.Equal(t, int64(4000), cfg.GetEarlyTriggerUs())
	assert.False(t, cfg.GetKeepAwake())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown engine", `engine = "vlc"`},
		{"negative tolerance", "[scheduler]\nearly_trigger_us = -1"},
		{"zero tolerance", "[scheduler]\nearly_trigger_us = 0"},
		{"zero seek threshold", "[scheduler]\nseek_threshold_us = 0"},
		{"mpris without player", "engine = \"mpris\"\n[mpris]\nplayer = \"\""},
		{"malformed toml", `engine = `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestNewAppConfig_UsesConfigEnv(t *testing.T) {
	path := writeConfig(t, `source = "/music/track.flac"`)
	t.Setenv(EnvConfigPath, path)

	cfg, err := NewAppConfig(zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "/music/track.flac", cfg.GetSource())
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"CADENCE_ENGINE", "engine"},
		{"CADENCE_MPRIS__PLAYER", "mpris.player"},
		{"CADENCE_DAEMON__NOTIFY_EVERY_US", "daemon.notify_every_us"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, envKey(tt.in))
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("Could not get home dir: %v", err)
	}

	assert.Equal(t, filepath.Join(home, "music"), expandPath("~/music"))
	assert.Equal(t, "/abs/path", expandPath("/abs/path"))
	assert.Equal(t, "", expandPath(""))
}
