package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ConfigPathEnv names the environment variable that points at an explicit config file
const ConfigPathEnv = "VDL2_FEED_CONFIG_PATH"

// Config holds all configuration for the daemon
type Config struct {
	UDPPort  int
	WSPort   int
	HTTPPort int

	DBPath string

	LogDir           string
	LogPrefix        string
	RetentionDays    int
	LedgerDir        string
	RotationInterval time.Duration
	StatsLogInterval time.Duration

	Log   LogConfig
	MQTT  MQTTConfig
	Kafka KafkaConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// MQTTConfig configures the optional MQTT bridge. An empty Broker disables it.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      int
	Username string
	Password string
}

// KafkaConfig configures the optional Kafka bridge. No brokers disables it.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Enabled reports whether the MQTT bridge should be started
func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

// Enabled reports whether the Kafka bridge should be started
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// Load loads configuration from config file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("udp_port", 5555)
	v.SetDefault("ws_port", 8081)
	v.SetDefault("http_port", 8080)
	v.SetDefault("db_path", "aircraft.db")
	v.SetDefault("log_dir", "logs")
	v.SetDefault("log_prefix", "vdl2")
	v.SetDefault("retention_days", 7)
	v.SetDefault("ledger_dir", "")
	v.SetDefault("rotation_interval", "30s")
	v.SetDefault("stats_log_interval", "5m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic", "vdl2/messages")
	v.SetDefault("mqtt.client_id", "vdl2_feed")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "vdl2-messages")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/vdl2_feed")
	v.AddConfigPath(".")

	if configPath := os.Getenv(ConfigPathEnv); configPath != "" {
		v.SetConfigFile(configPath)
	}

	// Read config file (if it exists)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults + env vars
	}

	v.SetEnvPrefix("VDL2_FEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		UDPPort:          v.GetInt("udp_port"),
		WSPort:           v.GetInt("ws_port"),
		HTTPPort:         v.GetInt("http_port"),
		DBPath:           v.GetString("db_path"),
		LogDir:           v.GetString("log_dir"),
		LogPrefix:        v.GetString("log_prefix"),
		RetentionDays:    v.GetInt("retention_days"),
		LedgerDir:        v.GetString("ledger_dir"),
		RotationInterval: v.GetDuration("rotation_interval"),
		StatsLogInterval: v.GetDuration("stats_log_interval"),
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
		MQTT: MQTTConfig{
			Broker:   v.GetString("mqtt.broker"),
			Topic:    v.GetString("mqtt.topic"),
			ClientID: v.GetString("mqtt.client_id"),
			QoS:      v.GetInt("mqtt.qos"),
			Username: v.GetString("mqtt.username"),
			Password: v.GetString("mqtt.password"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetStringSlice("kafka.brokers")),
			Topic:   v.GetString("kafka.topic"),
		},
	}

	if cfg.LedgerDir == "" {
		cfg.LedgerDir = cfg.LogDir
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// splitList flattens comma-separated entries, which is how a list arrives from an env var
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// validate validates the configuration values
func validate(cfg *Config) error {
	ports := map[string]int{
		"udp_port":  cfg.UDPPort,
		"ws_port":   cfg.WSPort,
		"http_port": cfg.HTTPPort,
	}
	for name, port := range ports {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
		}
	}
	if cfg.WSPort == cfg.HTTPPort {
		return fmt.Errorf("ws_port and http_port must differ")
	}

	if cfg.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}

	if cfg.LogDir == "" {
		return fmt.Errorf("log_dir is required")
	}

	if cfg.LogPrefix == "" || strings.ContainsRune(cfg.LogPrefix, os.PathSeparator) {
		return fmt.Errorf("invalid log_prefix: %q", cfg.LogPrefix)
	}

	if cfg.RetentionDays <= 0 {
		return fmt.Errorf("retention_days must be greater than 0")
	}

	if cfg.RotationInterval <= 0 {
		return fmt.Errorf("rotation_interval must be greater than 0")
	}

	if cfg.StatsLogInterval <= 0 {
		return fmt.Errorf("stats_log_interval must be greater than 0")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", cfg.Log.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[cfg.Log.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", cfg.Log.Format)
	}

	if cfg.MQTT.Enabled() {
		if cfg.MQTT.Topic == "" {
			return fmt.Errorf("mqtt.topic is required when mqtt.broker is set")
		}
		if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1, or 2")
		}
	}

	if cfg.Kafka.Enabled() && cfg.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required when kafka.brokers is set")
	}

	return nil
}
