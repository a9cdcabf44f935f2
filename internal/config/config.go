// Package config handles platform configuration
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr             string
	InferenceAddr        string
	PostgresDSN          string
	DetectionConfigPath  string
	ResultsDir           string
	LogLevel             string
	SampleRate           int
	CaptureChannels      int
	CaptureSystemAudio   bool
	ExcludedAudioDevices []string
	ScreenCaptureRate    float64 // Hz
	QueueCapacity        int
	RetentionDays        int
	Detection            Detection
}

// Load reads an optional .env file, then the environment, then the detection
// thresholds file named by DETECTION_CONFIG (defaults when unset).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("ignoring unreadable .env file", "error", err)
	}

	cfg := &Config{
		HTTPAddr:             getEnv("HTTP_ADDR", ":8000"),
		InferenceAddr:        getEnv("INFERENCE_ADDR", "localhost:50051"),
		PostgresDSN:          getEnv("POSTGRES_DSN", ""),
		DetectionConfigPath:  getEnv("DETECTION_CONFIG", ""),
		ResultsDir:           getEnv("RESULTS_DIR", "results"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		SampleRate:           getEnvInt("SAMPLE_RATE", 16000),
		CaptureChannels:      getEnvInt("CAPTURE_CHANNELS", 1),
		CaptureSystemAudio:   getEnvBool("CAPTURE_SYSTEM_AUDIO", true),
		ExcludedAudioDevices: getEnvList("EXCLUDED_AUDIO_DEVICES", []string{"iphone"}),
		ScreenCaptureRate:    getEnvFloat("SCREEN_CAPTURE_RATE", 1.0),
		QueueCapacity:        getEnvInt("AUDIO_QUEUE_CAPACITY", 1024),
		RetentionDays:        getEnvInt("RETENTION_DAYS", 30),
	}

	det := DefaultDetection()
	if cfg.DetectionConfigPath != "" {
		loaded, err := LoadDetection(cfg.DetectionConfigPath)
		if err != nil {
			return nil, err
		}
		det = *loaded
	}
	cfg.Detection = det
	return cfg, nil
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
