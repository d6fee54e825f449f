package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
)

// loadEnv reads .env outside production only (in containers/prod the config
// comes from real env vars).
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		path := dir + "/.env"
		f, err := os.Open(path)
		if err == nil {
			loadEnvFrom(f)
			f.Close()
			return
		}
		parent := strings.TrimSuffix(dir, "/")
		if idx := strings.LastIndex(parent, "/"); idx <= 0 {
			return
		} else {
			dir = parent[:idx]
			if dir == "" {
				dir = "/"
			}
		}
	}
}

func loadEnvFrom(f *os.File) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		if len(val) >= 2 && (val[0] == '"' && val[len(val)-1] == '"' || val[0] == '\'' && val[len(val)-1] == '\'') {
			val = val[1 : len(val)-1]
		}
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// ChannelConfig describes one pre-configured channel.
type ChannelConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	FilterLevel string `yaml:"filter_level"`
}

// RedisConfig — Redis (connect throttling, API rate limit state).
type RedisConfig struct {
	URL string `yaml:"url"`
}

// Config holds server, relay and transport settings.
// Priority: environment variables > YAML file > defaults.
type Config struct {
	// Server
	ServerAddr   string        `yaml:"server_addr"`
	ReadTimeout  time.Duration `yaml:"-"`
	WriteTimeout time.Duration `yaml:"-"`
	IdleTimeout  time.Duration `yaml:"-"`

	// Relay timing and retention. The source deployments disagreed on these
	// (15s vs 30s heartbeat, 60s vs 120s liveness), so they are knobs with
	// representative defaults rather than hard constants.
	HeartbeatInterval time.Duration `yaml:"-"`
	LivenessWindow    time.Duration `yaml:"-"`
	TypingTTL         time.Duration `yaml:"-"`
	SweepInterval     time.Duration `yaml:"-"`
	MessageRetention  int           `yaml:"message_retention"`

	// WebSocket transport
	MaxWSConnections int `yaml:"max_ws_connections"`
	WSSendBufferSize int `yaml:"ws_send_buffer_size"`
	WSWriteTimeout   int `yaml:"ws_write_timeout"`
	WSPongTimeout    int `yaml:"ws_pong_timeout"`
	WSMaxMessageSize int `yaml:"ws_max_message_size"`

	// Channels (fixed at startup)
	Channels []ChannelConfig `yaml:"channels"`

	// CORS
	CORSAllowedOrigins string `yaml:"cors_allowed_origins"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// Redis (optional; -dev runs on the in-memory store)
	Redis RedisConfig `yaml:"-"`

	// AdminToken gates the stats endpoint. Empty disables it.
	AdminToken string `yaml:"-"`
}

// ChannelTable converts the configured channels to model values, falling
// back to a default table when none are configured.
func (c *Config) ChannelTable() []model.Channel {
	if len(c.Channels) == 0 {
		return []model.Channel{
			{ID: "general", Name: "General", FilterLevel: model.FilterModerate},
			{ID: "games", Name: "Games", FilterLevel: model.FilterPermissive},
			{ID: "help", Name: "Help", FilterLevel: model.FilterStrict},
		}
	}
	out := make([]model.Channel, 0, len(c.Channels))
	for _, ch := range c.Channels {
		level := model.FilterLevel(ch.FilterLevel)
		switch level {
		case model.FilterPermissive, model.FilterModerate, model.FilterStrict:
		default:
			level = model.FilterModerate
		}
		name := ch.Name
		if name == "" {
			name = ch.ID
		}
		out = append(out, model.Channel{ID: ch.ID, Name: name, FilterLevel: level})
	}
	return out
}

// yamlConfig is the intermediate shape for parsing the app YAML.
type yamlConfig struct {
	ServerAddr         string          `yaml:"server_addr"`
	ReadTimeout        int             `yaml:"read_timeout"`
	WriteTimeout       int             `yaml:"write_timeout"`
	IdleTimeout        int             `yaml:"idle_timeout"`
	HeartbeatInterval  int             `yaml:"heartbeat_interval"`
	LivenessWindow     int             `yaml:"liveness_window"`
	TypingTTL          int             `yaml:"typing_ttl"`
	SweepInterval      int             `yaml:"sweep_interval"`
	MessageRetention   int             `yaml:"message_retention"`
	MaxWSConnections   int             `yaml:"max_ws_connections"`
	WSSendBufferSize   int             `yaml:"ws_send_buffer_size"`
	WSWriteTimeout     int             `yaml:"ws_write_timeout"`
	WSPongTimeout      int             `yaml:"ws_pong_timeout"`
	WSMaxMessageSize   int             `yaml:"ws_max_message_size"`
	Channels           []ChannelConfig `yaml:"channels"`
	CORSAllowedOrigins string          `yaml:"cors_allowed_origins"`
	LogLevel           string          `yaml:"log_level"`
}

// Load loads the configuration. .env variables are applied first (if any),
// then YAML, then env vars (env wins).
func Load() *Config {
	loadEnv()
	yc := yamlConfig{
		ServerAddr:         ":8080",
		ReadTimeout:        15,
		WriteTimeout:       15,
		IdleTimeout:        60,
		HeartbeatInterval:  30,
		LivenessWindow:     60,
		TypingTTL:          4,
		SweepInterval:      30,
		MessageRetention:   200,
		MaxWSConnections:   10000,
		WSSendBufferSize:   256,
		WSWriteTimeout:     10,
		WSPongTimeout:      60,
		WSMaxMessageSize:   4096,
		CORSAllowedOrigins: "*",
		LogLevel:           "info",
	}

	appPaths := []string{os.Getenv("CONFIG_PATH"), "config/relay.yaml"}
	for _, path := range appPaths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: parse %s: %v (using defaults)", path, err)
		} else {
			logger.Infof("config: loaded %s", path)
		}
		break
	}

	redisURL := envStr("REDIS_URL", "redis://localhost:6379")

	cfg := &Config{
		ServerAddr:         envStr("SERVER_ADDR", yc.ServerAddr),
		ReadTimeout:        time.Duration(envInt("READ_TIMEOUT", yc.ReadTimeout)) * time.Second,
		WriteTimeout:       time.Duration(envInt("WRITE_TIMEOUT", yc.WriteTimeout)) * time.Second,
		IdleTimeout:        time.Duration(envInt("IDLE_TIMEOUT", yc.IdleTimeout)) * time.Second,
		HeartbeatInterval:  time.Duration(envInt("HEARTBEAT_INTERVAL", yc.HeartbeatInterval)) * time.Second,
		LivenessWindow:     time.Duration(envInt("LIVENESS_WINDOW", yc.LivenessWindow)) * time.Second,
		TypingTTL:          time.Duration(envInt("TYPING_TTL", yc.TypingTTL)) * time.Second,
		SweepInterval:      time.Duration(envInt("SWEEP_INTERVAL", yc.SweepInterval)) * time.Second,
		MessageRetention:   envInt("MESSAGE_RETENTION", yc.MessageRetention),
		MaxWSConnections:   envInt("MAX_WS_CONNECTIONS", yc.MaxWSConnections),
		WSSendBufferSize:   envInt("WS_SEND_BUFFER_SIZE", yc.WSSendBufferSize),
		WSWriteTimeout:     envInt("WS_WRITE_TIMEOUT", yc.WSWriteTimeout),
		WSPongTimeout:      envInt("WS_PONG_TIMEOUT", yc.WSPongTimeout),
		WSMaxMessageSize:   envInt("WS_MAX_MESSAGE_SIZE", yc.WSMaxMessageSize),
		Channels:           yc.Channels,
		CORSAllowedOrigins: envStr("CORS_ALLOWED_ORIGINS", yc.CORSAllowedOrigins),
		LogLevel:           envStr("LOG_LEVEL", yc.LogLevel),
		Redis:              RedisConfig{URL: redisURL},
		AdminToken:         envStr("ADMIN_TOKEN", ""),
	}

	if cfg.LivenessWindow < 2*cfg.HeartbeatInterval {
		// The client gets at least two missed heartbeats before eviction.
		cfg.LivenessWindow = 2 * cfg.HeartbeatInterval
	}

	if os.Getenv("APP_ENV") == "production" {
		if cfg.CORSAllowedOrigins == "" || cfg.CORSAllowedOrigins == "*" {
			logger.Errorf("config: set CORS_ALLOWED_ORIGINS in production (an explicit origin list, not *)")
		}
	}

	return cfg
}

// envStr returns the env var value or fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt returns the numeric env var value or fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
