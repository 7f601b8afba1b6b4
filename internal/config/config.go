package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration sourced from an optional YAML file
// and environment variables. Environment variables take precedence.
type Config struct {
	ListenAddr       string
	SampleInterval   time.Duration
	IdleTimeout      time.Duration
	AllowedOrigins   []string
	EnablePrometheus bool
	EnablePprof      bool
	LogLevel         slog.Level
	ProcRoot         string
	WS               WebsocketConfig
	Proc             ProcConfig
}

// WebsocketConfig captures tunables for WebSocket handling.
type WebsocketConfig struct {
	MaxClients   int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// ProcConfig contains settings for process table reads.
type ProcConfig struct {
	ReadConcurrency int
}

const configFileEnv = "APP_CONFIG_FILE"

// Load parses configuration, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:       "0.0.0.0:8088",
		SampleInterval:   time.Second,
		IdleTimeout:      30 * time.Second,
		AllowedOrigins:   []string{"*"},
		EnablePrometheus: false,
		EnablePprof:      false,
		LogLevel:         slog.LevelInfo,
		ProcRoot:         "/proc",
		WS: WebsocketConfig{
			MaxClients:   1024,
			WriteTimeout: 3 * time.Second,
			ReadTimeout:  30 * time.Second,
		},
		Proc: ProcConfig{
			ReadConcurrency: 64,
		},
	}

	fileValues, err := loadFile(strings.TrimSpace(os.Getenv(configFileEnv)))
	if err != nil {
		return Config{}, err
	}
	get := func(key string) string {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
		return fileValues[key]
	}

	if value := get("APP_LISTEN_ADDR"); value != "" {
		cfg.ListenAddr = value
	}

	if value := get("APP_SAMPLE_INTERVAL"); value != "" {
		duration, err := parsePositiveDuration("APP_SAMPLE_INTERVAL", value)
		if err != nil {
			return Config{}, err
		}
		cfg.SampleInterval = duration
	}

	if value := get("APP_IDLE_TIMEOUT"); value != "" {
		duration, err := parsePositiveDuration("APP_IDLE_TIMEOUT", value)
		if err != nil {
			return Config{}, err
		}
		cfg.IdleTimeout = duration
	}

	if value := get("APP_ALLOWED_ORIGINS"); value != "" {
		origins := splitAndTrim(value, ",")
		if len(origins) == 0 {
			return Config{}, fmt.Errorf("APP_ALLOWED_ORIGINS must not be empty")
		}
		cfg.AllowedOrigins = origins
	}

	if value := get("APP_ENABLE_PROMETHEUS"); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_ENABLE_PROMETHEUS: %w", err)
		}
		cfg.EnablePrometheus = enabled
	}

	if value := get("APP_ENABLE_PPROF"); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_ENABLE_PPROF: %w", err)
		}
		cfg.EnablePprof = enabled
	}

	if value := get("APP_LOG_LEVEL"); value != "" {
		level, err := parseLogLevel(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}

	if value := get("APP_PROC_ROOT"); value != "" {
		cfg.ProcRoot = value
	}

	if value := get("APP_PROC_READ_CONCURRENCY"); value != "" {
		n, err := parsePositiveInt("APP_PROC_READ_CONCURRENCY", value)
		if err != nil {
			return Config{}, err
		}
		cfg.Proc.ReadConcurrency = n
	}

	if value := get("APP_WS_MAX_CLIENTS"); value != "" {
		n, err := parsePositiveInt("APP_WS_MAX_CLIENTS", value)
		if err != nil {
			return Config{}, err
		}
		cfg.WS.MaxClients = n
	}

	if value := get("APP_WS_WRITE_TIMEOUT"); value != "" {
		timeout, err := parsePositiveDuration("APP_WS_WRITE_TIMEOUT", value)
		if err != nil {
			return Config{}, err
		}
		cfg.WS.WriteTimeout = timeout
	}

	if value := get("APP_WS_READ_TIMEOUT"); value != "" {
		timeout, err := parsePositiveDuration("APP_WS_READ_TIMEOUT", value)
		if err != nil {
			return Config{}, err
		}
		cfg.WS.ReadTimeout = timeout
	}

	return cfg, nil
}

// loadFile reads a flat YAML mapping whose keys are the environment variable
// names without the APP_ prefix, in lower case (listen_addr, ws_max_clients).
// Sequences are joined with commas.
func loadFile(path string) (map[string]string, error) {
	values := make(map[string]string)
	if path == "" {
		return values, nil
	}

	// #nosec G304 -- path is operator supplied configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", configFileEnv, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configFileEnv, err)
	}

	for key, value := range raw {
		envKey := "APP_" + strings.ToUpper(strings.TrimSpace(key))
		switch v := value.(type) {
		case nil:
			continue
		case []any:
			items := make([]string, 0, len(v))
			for _, item := range v {
				items = append(items, fmt.Sprint(item))
			}
			values[envKey] = strings.Join(items, ",")
		case map[string]any:
			return nil, fmt.Errorf("parse %s: key %q must be a scalar or list", configFileEnv, key)
		default:
			values[envKey] = strings.TrimSpace(fmt.Sprint(v))
		}
	}
	return values, nil
}

func parsePositiveDuration(key, value string) (time.Duration, error) {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return duration, nil
}

func parsePositiveInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return n, nil
}

func splitAndTrim(value, sep string) []string {
	raw := strings.Split(value, sep)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
