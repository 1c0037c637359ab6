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

// Config is built once at startup and handed to every loop.
type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	SensorURL     string
	SensorTimeout time.Duration
	PollInterval  time.Duration
	PublicIPURL   string

	// OutputDir holds the per-day partition files and the bot request log.
	OutputDir   string
	FilePrefix  string
	AuditPrefix string

	// Store selects the partition backend: xlsx, badger or memory.
	Store        string
	MaxMemoryMB  int64
	MaxStorageGB int64

	// Location decides which calendar day a reading belongs to.
	Location *time.Location

	BotToken string
	AdminIDs []int64
	BotRetry time.Duration

	MQTT MQTTConfig
}

type MQTTConfig struct {
	Broker   string
	Port     int
	Topic    string
	ClientID string
}

// Enabled reports whether an MQTT broker was configured.
func (m MQTTConfig) Enabled() bool { return m.Broker != "" }

// BotEnabled reports whether a bot token was configured.
func (c Config) BotEnabled() bool { return c.BotToken != "" }

// IsAdmin reports whether the chat user may use the admin menu.
func (c Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// fileConfig mirrors the environment variables for the optional YAML file.
type fileConfig struct {
	AppEnv        string  `yaml:"app_env"`
	LogLevel      string  `yaml:"log_level"`
	HTTPAddr      string  `yaml:"http_addr"`
	SensorURL     string  `yaml:"sensor_url"`
	SensorTimeout string  `yaml:"sensor_timeout"`
	PollInterval  string  `yaml:"poll_interval"`
	PublicIPURL   string  `yaml:"public_ip_url"`
	OutputDir     string  `yaml:"output_dir"`
	FilePrefix    string  `yaml:"file_prefix"`
	AuditPrefix   string  `yaml:"audit_prefix"`
	Store         string  `yaml:"store"`
	MaxMemoryMB   string  `yaml:"max_memory_mb"`
	MaxStorageGB  string  `yaml:"max_storage_gb"`
	Timezone      string  `yaml:"timezone"`
	BotToken      string  `yaml:"bot_token"`
	AdminIDs      []int64 `yaml:"admin_ids"`
	BotRetry      string  `yaml:"bot_retry"`
	MQTT          struct {
		Broker   string `yaml:"broker"`
		Port     string `yaml:"port"`
		Topic    string `yaml:"topic"`
		ClientID string `yaml:"client_id"`
	} `yaml:"mqtt"`
}

func (f fileConfig) values() map[string]string {
	ids := make([]string, 0, len(f.AdminIDs))
	for _, id := range f.AdminIDs {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	return map[string]string{
		"APP_ENV":               f.AppEnv,
		"LOG_LEVEL":             f.LogLevel,
		"ESPMON_HTTP_ADDR":      f.HTTPAddr,
		"ESPMON_SENSOR_URL":     f.SensorURL,
		"ESPMON_SENSOR_TIMEOUT": f.SensorTimeout,
		"ESPMON_POLL_INTERVAL":  f.PollInterval,
		"ESPMON_PUBLIC_IP_URL":  f.PublicIPURL,
		"ESPMON_OUTPUT_DIR":     f.OutputDir,
		"ESPMON_FILE_PREFIX":    f.FilePrefix,
		"ESPMON_AUDIT_PREFIX":   f.AuditPrefix,
		"ESPMON_STORE":          f.Store,
		"ESPMON_MAX_MEMORY_MB":  f.MaxMemoryMB,
		"ESPMON_MAX_STORAGE_GB": f.MaxStorageGB,
		"ESPMON_TZ":             f.Timezone,
		"ESPMON_BOT_TOKEN":      f.BotToken,
		"ESPMON_ADMIN_IDS":      strings.Join(ids, ","),
		"ESPMON_BOT_RETRY":      f.BotRetry,
		"ESPMON_MQTT_BROKER":    f.MQTT.Broker,
		"ESPMON_MQTT_PORT":      f.MQTT.Port,
		"ESPMON_MQTT_TOPIC":     f.MQTT.Topic,
		"ESPMON_MQTT_CLIENT_ID": f.MQTT.ClientID,
	}
}

// source resolves a setting: environment first, then the YAML file.
type source struct {
	getenv func(string) string
	file   map[string]string
}

func (s source) get(key, def string) string {
	if v := strings.TrimSpace(s.getenv(key)); v != "" {
		return v
	}
	if v := strings.TrimSpace(s.file[key]); v != "" {
		return v
	}
	return def
}

// Load reads the configuration from the environment. When ESPMON_CONFIG names
// a YAML file, its values are used for every variable the environment leaves unset.
func Load() (Config, error) {
	return load(os.Getenv, os.ReadFile)
}

func load(getenv func(string) string, readFile func(string) ([]byte, error)) (Config, error) {
	src := source{getenv: getenv}

	if path := strings.TrimSpace(getenv("ESPMON_CONFIG")); path != "" {
		data, err := readFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", path, err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", path, err)
		}
		src.file = fc.values()
	}

	appEnv := src.get("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(src.get("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	sensorTimeout, err := parsePositiveDuration("ESPMON_SENSOR_TIMEOUT", src.get("ESPMON_SENSOR_TIMEOUT", DefaultSensorTimeout.String()))
	if err != nil {
		return Config{}, err
	}
	pollInterval, err := parsePositiveDuration("ESPMON_POLL_INTERVAL", src.get("ESPMON_POLL_INTERVAL", DefaultPollInterval.String()))
	if err != nil {
		return Config{}, err
	}
	botRetry, err := parsePositiveDuration("ESPMON_BOT_RETRY", src.get("ESPMON_BOT_RETRY", DefaultBotRetry.String()))
	if err != nil {
		return Config{}, err
	}

	store := strings.ToLower(src.get("ESPMON_STORE", DefaultStore))
	switch store {
	case "xlsx", "badger", "memory":
	default:
		return Config{}, fmt.Errorf("invalid ESPMON_STORE %q (allowed: xlsx, badger, memory)", store)
	}

	maxMemoryMB, err := parseInt("ESPMON_MAX_MEMORY_MB", src.get("ESPMON_MAX_MEMORY_MB", strconv.Itoa(DefaultMaxMemoryMB)))
	if err != nil {
		return Config{}, err
	}
	maxStorageGB, err := parseInt("ESPMON_MAX_STORAGE_GB", src.get("ESPMON_MAX_STORAGE_GB", strconv.Itoa(DefaultMaxStorageGB)))
	if err != nil {
		return Config{}, err
	}

	tz := src.get("ESPMON_TZ", "Local")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Config{}, fmt.Errorf("invalid ESPMON_TZ %q: %w", tz, err)
	}

	adminIDs, err := parseIDs(src.get("ESPMON_ADMIN_IDS", ""))
	if err != nil {
		return Config{}, err
	}

	mqttPort, err := parseInt("ESPMON_MQTT_PORT", src.get("ESPMON_MQTT_PORT", strconv.Itoa(DefaultMQTTPort)))
	if err != nil {
		return Config{}, err
	}

	return Config{
		AppEnv:        appEnv,
		LogLevel:      level,
		HTTPAddr:      src.get("ESPMON_HTTP_ADDR", DefaultHTTPAddr),
		SensorURL:     src.get("ESPMON_SENSOR_URL", DefaultSensorURL),
		SensorTimeout: sensorTimeout,
		PollInterval:  pollInterval,
		PublicIPURL:   src.get("ESPMON_PUBLIC_IP_URL", DefaultPublicIPURL),
		OutputDir:     src.get("ESPMON_OUTPUT_DIR", DefaultOutputDir),
		FilePrefix:    src.get("ESPMON_FILE_PREFIX", DefaultFilePrefix),
		AuditPrefix:   src.get("ESPMON_AUDIT_PREFIX", DefaultAuditPrefix),
		Store:         store,
		MaxMemoryMB:   maxMemoryMB,
		MaxStorageGB:  maxStorageGB,
		Location:      loc,
		BotToken:      src.get("ESPMON_BOT_TOKEN", ""),
		AdminIDs:      adminIDs,
		BotRetry:      botRetry,
		MQTT: MQTTConfig{
			Broker:   src.get("ESPMON_MQTT_BROKER", ""),
			Port:     int(mqttPort),
			Topic:    src.get("ESPMON_MQTT_TOPIC", DefaultMQTTTopic),
			ClientID: src.get("ESPMON_MQTT_CLIENT_ID", DefaultMQTTClientID),
		},
	}, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

func parsePositiveDuration(name, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", name, s)
	}
	return d, nil
}

func parseInt(name, s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", name, s)
	}
	return n, nil
}

func parseIDs(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ESPMON_ADMIN_IDS entry %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
