package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the client configuration
type Config struct {
	// Identity is the name this client has on the relay.
	Identity  string          `yaml:"identity"`
	Signaling SignalingConfig `yaml:"signaling"`
	ICE       ICEConfig       `yaml:"ice"`
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Media     MediaConfig     `yaml:"media"`
	Render    RenderConfig    `yaml:"render"`
}

// SignalingConfig represents the relay connection
type SignalingConfig struct {
	URL              string            `yaml:"url"`
	Headers          map[string]string `yaml:"headers"`
	HandshakeTimeout time.Duration     `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration     `yaml:"write_timeout"`
	PongTimeout      time.Duration     `yaml:"pong_timeout"`
	SendBuffer       int               `yaml:"send_buffer"`
	ReconnectDelay   time.Duration     `yaml:"reconnect_delay"`
}

type ICEConfig struct {
	STUNServers         []string      `yaml:"stun_servers"`
	DisconnectedTimeout time.Duration `yaml:"disconnected_timeout"`
	FailedTimeout       time.Duration `yaml:"failed_timeout"`
	KeepAliveInterval   time.Duration `yaml:"keepalive_interval"`
}

// HTTPConfig represents the local control server
type HTTPConfig struct {
	Address         string        `yaml:"address"`
	StaticDir       string        `yaml:"static_dir"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MediaConfig struct {
	MaxWidth     int `yaml:"max_width"`
	MaxHeight    int `yaml:"max_height"`
	VideoBitRate int `yaml:"video_bitrate"`
}

type RenderConfig struct {
	// Backlog is the number of render events replayed to a new UI client.
	Backlog int `yaml:"backlog"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Signaling: SignalingConfig{
			URL:              "ws://localhost:8080/ws",
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     10 * time.Second,
			PongTimeout:      60 * time.Second,
			SendBuffer:       256,
			ReconnectDelay:   2 * time.Second,
		},
		ICE: ICEConfig{
			STUNServers: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
			},
			DisconnectedTimeout: 10 * time.Second,
			FailedTimeout:       30 * time.Second,
			KeepAliveInterval:   2 * time.Second,
		},
		HTTP: HTTPConfig{
			Address:         "127.0.0.1:8090",
			StaticDir:       "./static",
			ShutdownTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Media: MediaConfig{
			MaxWidth:     640,
			MaxHeight:    480,
			VideoBitRate: 500_000,
		},
		Render: RenderConfig{
			Backlog: 512,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path and the environment. A .env file in the working directory is
// loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnvironmentOverrides(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvironmentOverrides applies MESHCALL_* environment overrides
func applyEnvironmentOverrides(config *Config) error {
	if v, ok := os.LookupEnv("MESHCALL_IDENTITY"); ok {
		config.Identity = v
	}
	if v, ok := os.LookupEnv("MESHCALL_SIGNALING_URL"); ok {
		config.Signaling.URL = v
	}
	if v, ok := os.LookupEnv("MESHCALL_STUN_SERVERS"); ok {
		config.ICE.STUNServers = splitList(v)
	}
	if v, ok := os.LookupEnv("MESHCALL_HTTP_ADDRESS"); ok {
		config.HTTP.Address = v
	}
	if v, ok := os.LookupEnv("MESHCALL_STATIC_DIR"); ok {
		config.HTTP.StaticDir = v
	}
	if v, ok := os.LookupEnv("MESHCALL_LOG_LEVEL"); ok {
		config.Log.Level = v
	}
	if v, ok := os.LookupEnv("MESHCALL_LOG_FORMAT"); ok {
		config.Log.Format = v
	}
	if v, ok := os.LookupEnv("MESHCALL_VIDEO_BITRATE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MESHCALL_VIDEO_BITRATE: %w", err)
		}
		config.Media.VideoBitRate = n
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Identity) == "" {
		errs = append(errs, errors.New("identity is required"))
	}

	u, err := url.Parse(c.Signaling.URL)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("signaling url: %w", err))
	case u.Scheme != "ws" && u.Scheme != "wss":
		errs = append(errs, fmt.Errorf("signaling url %q: scheme must be ws or wss", c.Signaling.URL))
	case u.Host == "":
		errs = append(errs, fmt.Errorf("signaling url %q: missing host", c.Signaling.URL))
	}

	for _, s := range c.ICE.STUNServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "stuns:") {
			errs = append(errs, fmt.Errorf("ice server %q: only stun: and stuns: urls are supported", s))
		}
	}

	if c.Signaling.SendBuffer < 0 {
		errs = append(errs, errors.New("signaling send_buffer must not be negative"))
	}
	if c.Render.Backlog <= 0 {
		errs = append(errs, errors.New("render backlog must be positive"))
	}

	return errors.Join(errs...)
}
