package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	require.NoError(t, Init(""))
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "auto", cfg.TTS.Type)
	assert.Equal(t, 1.0, cfg.TTS.Speed)
	assert.Equal(t, 40, cfg.Narration.MergeThreshold)
	assert.True(t, cfg.Narration.SkipEmptyPages)
	assert.Equal(t, 5, cfg.Client.ConnectAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Client.InitialBackoff)

	policy := cfg.Policy()
	assert.Equal(t, ".?!", policy.Terminators)
	assert.Len(t, cfg.TimerOptions(), 1)
}

func TestConfigFileAndEnvironment(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "readaloud.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tts:
  type: mock
  voice: en-gb
narration:
  merge_threshold: 25
client:
  initial_backoff: 250ms
`), 0644))
	t.Setenv("READALOUD_TTS_SPEED", "1.5")

	require.NoError(t, Init(path))
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mock", cfg.TTS.Type)
	assert.Equal(t, "en-gb", cfg.TTS.Voice)
	assert.Equal(t, 1.5, cfg.TTS.Speed)
	assert.Equal(t, 25, cfg.Narration.MergeThreshold)

	opts := cfg.ClientOptions()
	assert.Equal(t, 250*time.Millisecond, opts.Backoff.Initial)
	assert.Equal(t, time.Second, opts.Backoff.Max)

	tc := cfg.TTSConfig()
	assert.Equal(t, "mock", tc.Type)
	assert.Equal(t, 1.5, tc.Speed)
}

func TestInvalidSettings(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	viper.Set("tts.speed", 0)

	_, err := Load()
	assert.Error(t, err)
}

func TestMalformedConfigFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "readaloud.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tts: [unclosed"), 0644))
	assert.Error(t, Init(path))
}

func TestConfigureLogging(t *testing.T) {
	saved := logrus.GetLevel()
	t.Cleanup(func() { logrus.SetLevel(saved) })

	require.NoError(t, ConfigureLogging("debug"))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.Error(t, ConfigureLogging("loud"))
}
