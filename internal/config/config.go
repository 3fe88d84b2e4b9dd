package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"readaloud/internal/narration/host"
	"readaloud/internal/narration/segment"
	"readaloud/internal/narration/sleeptimer"
	"readaloud/internal/tts"

	"github.com/googleapis/gax-go/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the typed view of every setting.
type Config struct {
	TTS       TTS       `mapstructure:"tts"`
	Narration Narration `mapstructure:"narration"`
	Sleep     Sleep     `mapstructure:"sleep"`
	Client    Client    `mapstructure:"client"`
	Progress  Progress  `mapstructure:"progress"`
	Log       Log       `mapstructure:"log"`
}

type TTS struct {
	Type      string  `mapstructure:"type"`
	Voice     string  `mapstructure:"voice"`
	Speed     float64 `mapstructure:"speed"`
	Pitch     float64 `mapstructure:"pitch"`
	Volume    float64 `mapstructure:"volume"`
	CachePath string  `mapstructure:"cache_path"`
}

type Narration struct {
	MergeThreshold   int    `mapstructure:"merge_threshold"`
	Terminators      string `mapstructure:"terminators"`
	SkipEmptyPages   bool   `mapstructure:"skip_empty_pages"`
	TextLinesPerPage int    `mapstructure:"text_lines_per_page"`
	Resume           bool   `mapstructure:"resume"`
}

type Sleep struct {
	TickSeconds    int `mapstructure:"tick_seconds"`
	DefaultMinutes int `mapstructure:"default_minutes"`
}

type Client struct {
	ConnectAttempts int           `mapstructure:"connect_attempts"`
	InitialBackoff  time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
}

type Progress struct {
	Path string `mapstructure:"path"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

// SetDefaults registers the default value of every key.
func SetDefaults() {
	viper.SetDefault("tts.type", "auto") // Auto-select best engine
	viper.SetDefault("tts.voice", "default")
	viper.SetDefault("tts.speed", 1.0)
	viper.SetDefault("tts.pitch", 1.0)
	viper.SetDefault("tts.volume", 0.8)
	viper.SetDefault("tts.cache_path", "")

	viper.SetDefault("narration.merge_threshold", segment.DefaultMergeThreshold)
	viper.SetDefault("narration.terminators", segment.DefaultTerminators)
	viper.SetDefault("narration.skip_empty_pages", true)
	viper.SetDefault("narration.text_lines_per_page", 60)
	viper.SetDefault("narration.resume", true)

	viper.SetDefault("sleep.tick_seconds", 1)
	viper.SetDefault("sleep.default_minutes", 30)

	viper.SetDefault("client.connect_attempts", 5)
	viper.SetDefault("client.initial_backoff", 100*time.Millisecond)
	viper.SetDefault("client.max_backoff", time.Second)

	viper.SetDefault("progress.path", "")
	viper.SetDefault("log.level", "warn")
}

// Init points viper at the config file and environment. A missing config
// file is not an error.
func Init(cfgFile string) error {
	SetDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("readaloud")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME/.readaloud")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("READALOUD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	logrus.WithField("file", viper.ConfigFileUsed()).Debug("Loaded config file")
	return nil
}

// Load decodes the current settings.
func Load() (Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.TTS.Speed <= 0 {
		return cfg, fmt.Errorf("tts.speed must be positive, got %v", cfg.TTS.Speed)
	}
	if cfg.Sleep.TickSeconds <= 0 {
		return cfg, fmt.Errorf("sleep.tick_seconds must be positive, got %d", cfg.Sleep.TickSeconds)
	}
	return cfg, nil
}

// ConfigureLogging applies the log level.
func ConfigureLogging(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

func (c Config) TTSConfig() tts.Config {
	return tts.Config{
		Type:      c.TTS.Type,
		Speed:     c.TTS.Speed,
		Pitch:     c.TTS.Pitch,
		Volume:    c.TTS.Volume,
		Voice:     c.TTS.Voice,
		CachePath: c.TTS.CachePath,
	}
}

func (c Config) Policy() segment.Policy {
	return segment.Policy{
		MergeThreshold: c.Narration.MergeThreshold,
		Terminators:    c.Narration.Terminators,
	}
}

// TimerOptions ticks every TickSeconds, counting down by the same amount.
func (c Config) TimerOptions() []sleeptimer.Option {
	return []sleeptimer.Option{
		sleeptimer.WithTick(time.Duration(c.Sleep.TickSeconds)*time.Second, c.Sleep.TickSeconds),
	}
}

func (c Config) ClientOptions() host.ClientOptions {
	opts := host.DefaultClientOptions()
	if c.Client.ConnectAttempts > 0 {
		opts.Attempts = c.Client.ConnectAttempts
	}
	if c.Client.InitialBackoff > 0 {
		opts.Backoff = gax.Backoff{
			Initial:    c.Client.InitialBackoff,
			Max:        max(c.Client.MaxBackoff, c.Client.InitialBackoff),
			Multiplier: 2,
		}
	}
	return opts
}
