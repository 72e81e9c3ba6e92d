package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"hotmic/internal/domain"
)

const envPrefix = "HOTMIC"

// Config stores runtime configuration for the listener.
type Config struct {
	Voice    VoiceConfig    `mapstructure:"voice"`
	Grammar  GrammarConfig  `mapstructure:"grammar"`
	Rewrite  RewriteConfig  `mapstructure:"rewrite"`
	Deepgram DeepgramConfig `mapstructure:"deepgram"`
	Audio    AudioConfig    `mapstructure:"audio"`
	TTS      TTSConfig      `mapstructure:"tts"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type VoiceConfig struct {
	WakeWord       string  `mapstructure:"wake_word"`
	Language       string  `mapstructure:"language"`
	Continuous     bool    `mapstructure:"continuous"`
	AutoRestart    bool    `mapstructure:"auto_restart"`
	InterimResults bool    `mapstructure:"interim_results"`
	SpeakResponses bool    `mapstructure:"speak_responses"`
	Personality    string  `mapstructure:"personality"`
	Voice          string  `mapstructure:"voice"`
	Rate           float64 `mapstructure:"rate"`
	Pitch          float64 `mapstructure:"pitch"`
	Volume         float64 `mapstructure:"volume"`
}

type GrammarConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

type RewriteConfig struct {
	Path           string `mapstructure:"path"`
	IterationLimit int    `mapstructure:"iteration_limit"`
}

type DeepgramConfig struct {
	APIKey      string `mapstructure:"api_key"`
	APIBaseURL  string `mapstructure:"api_base"`
	Model       string `mapstructure:"model"`
	SmartFormat bool   `mapstructure:"smart_format"`
}

type AudioConfig struct {
	RecorderCommand string `mapstructure:"recorder_command"`
	InputFormat     string `mapstructure:"input_format"`
	InputDevice     string `mapstructure:"input_device"`
	SampleRate      int    `mapstructure:"sample_rate"`
	Channels        int    `mapstructure:"channels"`
	ChunkSize       int    `mapstructure:"chunk_size"`
}

type TTSConfig struct {
	Command        string `mapstructure:"command"`
	WordsPerMinute int    `mapstructure:"words_per_minute"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Dir returns the per-user configuration directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("could not determine home directory")
	}
	return filepath.Join(home, ".config", "hotmic"), nil
}

// Load resolves configuration from an optional YAML file, HOTMIC_* environment
// variables and defaults. An empty path searches the config directory and
// the working directory for config.yaml.
func Load(path string) (Config, error) {
	dir, err := Dir()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v, dir)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	applyFallbacks(&cfg, dir)
	return cfg, nil
}

func setDefaults(v *viper.Viper, dir string) {
	v.SetDefault("voice.wake_word", "")
	v.SetDefault("voice.language", "en-US")
	v.SetDefault("voice.continuous", true)
	v.SetDefault("voice.auto_restart", true)
	v.SetDefault("voice.interim_results", true)
	v.SetDefault("voice.speak_responses", false)
	v.SetDefault("voice.personality", string(domain.PersonalityFriendly))
	v.SetDefault("voice.voice", "")
	v.SetDefault("voice.rate", 1.0)
	v.SetDefault("voice.pitch", 1.0)
	v.SetDefault("voice.volume", 1.0)

	v.SetDefault("grammar.path", filepath.Join(dir, "grammar.yaml"))
	v.SetDefault("grammar.watch", true)

	v.SetDefault("rewrite.path", filepath.Join(dir, "substitutions.rules"))
	v.SetDefault("rewrite.iteration_limit", 30)

	v.SetDefault("deepgram.api_key", "")
	v.SetDefault("deepgram.api_base", "https://api.deepgram.com/v1")
	v.SetDefault("deepgram.model", "nova-2")
	v.SetDefault("deepgram.smart_format", true)

	v.SetDefault("audio.recorder_command", "ffmpeg")
	v.SetDefault("audio.input_format", "pulse")
	v.SetDefault("audio.input_device", "")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.chunk_size", 4096)

	v.SetDefault("tts.command", "")
	v.SetDefault("tts.words_per_minute", 175)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("metrics.addr", "")
}

// applyFallbacks honours the provider's conventional variables and repairs
// invalid values.
func applyFallbacks(cfg *Config, dir string) {
	cfg.Deepgram.APIKey = firstNonEmpty(cfg.Deepgram.APIKey, os.Getenv("DEEPGRAM_API_KEY"))
	cfg.Audio.InputDevice = firstNonEmpty(
		cfg.Audio.InputDevice,
		os.Getenv("DEEPGRAM_PULSE_SOURCE"),
		"default",
	)

	if strings.TrimSpace(cfg.Rewrite.Path) == "" {
		cfg.Rewrite.Path = filepath.Join(dir, "substitutions.rules")
	}

	if !domain.Personality(cfg.Voice.Personality).Valid() {
		cfg.Voice.Personality = string(domain.PersonalityFriendly)
	}
	if strings.TrimSpace(cfg.Voice.Language) == "" {
		cfg.Voice.Language = "en-US"
	}
	if cfg.Rewrite.IterationLimit <= 0 {
		cfg.Rewrite.IterationLimit = 30
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.ChunkSize < 256 {
		cfg.Audio.ChunkSize = 4096
	}
	if cfg.Voice.Rate <= 0 {
		cfg.Voice.Rate = 1
	}
	if cfg.Voice.Pitch <= 0 {
		cfg.Voice.Pitch = 1
	}
	if cfg.Voice.Volume < 0 || cfg.Voice.Volume > 1 {
		cfg.Voice.Volume = 1
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
