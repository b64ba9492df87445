// ABOUTME: Runtime configuration for the relay service
// ABOUTME: Defaults, file and CAST_RELAY_* environment loading through viper
package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"
)

const (
	// AppName names the config file, config directory and env prefix
	AppName   = "cast-relay"
	envPrefix = "CAST_RELAY"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete service configuration
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Session   SessionConfig   `mapstructure:"session"`
	Playback  PlaybackConfig  `mapstructure:"playback"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Cast      CastConfig      `mapstructure:"cast"`
	TTS       TTSConfig       `mapstructure:"tts"`
	Log       LogConfig       `mapstructure:"log"`
	TUI       bool            `mapstructure:"tui"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	PublicHost      string        `mapstructure:"public_host"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	EventsInterval  time.Duration `mapstructure:"events_interval"`
}

// Port returns the numeric listen port
func (h HTTPConfig) Port() int {
	_, port, err := net.SplitHostPort(h.Addr)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}

type DiscoveryConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	SweepTimeout  time.Duration `mapstructure:"sweep_timeout"`
	Interval      time.Duration `mapstructure:"interval"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

type SessionConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	CloseTimeout   time.Duration `mapstructure:"close_timeout"`
	StatusTimeout  time.Duration `mapstructure:"status_timeout"`
}

type PlaybackConfig struct {
	PlayTimeout  time.Duration `mapstructure:"play_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type RelayConfig struct {
	StageDir  string        `mapstructure:"stage_dir"`
	TTL       time.Duration `mapstructure:"ttl"`
	MaxStaged int           `mapstructure:"max_staged"`
}

type CastConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	AppID             string        `mapstructure:"app_id"`
}

type TTSConfig struct {
	EspeakBinary   string   `mapstructure:"espeak_binary"`
	PiperBinary    string   `mapstructure:"piper_binary"`
	PiperModel     string   `mapstructure:"piper_model"`
	PiperModelDirs []string `mapstructure:"piper_model_dirs"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// SetDefaults registers every key so environment overrides are seen by Unmarshal
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":5000")
	v.SetDefault("http.public_host", "")
	v.SetDefault("http.max_upload_bytes", 32<<20)
	v.SetDefault("http.shutdown_timeout", 5*time.Second)
	v.SetDefault("http.cors_origins", []string{"*"})
	v.SetDefault("http.events_interval", 5*time.Second)

	v.SetDefault("discovery.enabled", true)
	v.SetDefault("discovery.sweep_timeout", 5*time.Second)
	v.SetDefault("discovery.interval", 10*time.Second)
	v.SetDefault("discovery.retry_interval", 5*time.Second)

	v.SetDefault("session.connect_timeout", 10*time.Second)
	v.SetDefault("session.close_timeout", 5*time.Second)
	v.SetDefault("session.status_timeout", 3*time.Second)

	v.SetDefault("playback.play_timeout", 15*time.Second)
	v.SetDefault("playback.poll_interval", 250*time.Millisecond)

	v.SetDefault("relay.stage_dir", "")
	v.SetDefault("relay.ttl", 10*time.Minute)
	v.SetDefault("relay.max_staged", 64)

	v.SetDefault("cast.heartbeat_interval", 5*time.Second)
	v.SetDefault("cast.request_timeout", 10*time.Second)
	v.SetDefault("cast.app_id", "CC1AD845")

	v.SetDefault("tts.espeak_binary", "")
	v.SetDefault("tts.piper_binary", "")
	v.SetDefault("tts.piper_model", "")
	v.SetDefault("tts.piper_model_dirs", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", AppName+".log")
	v.SetDefault("tui", false)
}

// New returns a viper instance with defaults, env binding and config search paths
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetConfigName(AppName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if dirs, err := gap.NewScope(gap.User, AppName).ConfigDirs(); err == nil {
		for _, d := range dirs {
			v.AddConfigPath(d)
		}
	}
	return v
}

// Load reads the config file, if any, and decodes v. An explicit file must
// exist; a missing file in the search paths is fine.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) expandPaths() error {
	var err error
	expand := func(p *string) {
		if err != nil || *p == "" {
			return
		}
		*p, err = homedir.Expand(*p)
	}

	expand(&c.Relay.StageDir)
	expand(&c.Log.File)
	expand(&c.TTS.PiperModel)
	for i := range c.TTS.PiperModelDirs {
		expand(&c.TTS.PiperModelDirs[i])
	}
	if err != nil {
		return fmt.Errorf("failed to expand path: %w", err)
	}

	if c.Relay.StageDir != "" {
		c.Relay.StageDir = filepath.Clean(c.Relay.StageDir)
	}
	return nil
}

// Validate rejects values the service cannot run with
func (c *Config) Validate() error {
	var problems []string

	if _, _, err := net.SplitHostPort(c.HTTP.Addr); err != nil {
		problems = append(problems, fmt.Sprintf("http.addr %q: %v", c.HTTP.Addr, err))
	}
	if port := c.HTTP.Port(); port <= 0 || port > 65535 {
		problems = append(problems, fmt.Sprintf("http.addr %q: needs a fixed port receivers can reach", c.HTTP.Addr))
	}
	if c.HTTP.MaxUploadBytes <= 0 {
		problems = append(problems, "http.max_upload_bytes must be positive")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, fmt.Sprintf("log.level %q: %v", c.Log.Level, err))
	}
	if c.Relay.MaxStaged <= 0 {
		problems = append(problems, "relay.max_staged must be positive")
	}

	positive := map[string]time.Duration{
		"http.shutdown_timeout":    c.HTTP.ShutdownTimeout,
		"http.events_interval":     c.HTTP.EventsInterval,
		"discovery.sweep_timeout":  c.Discovery.SweepTimeout,
		"discovery.interval":       c.Discovery.Interval,
		"discovery.retry_interval": c.Discovery.RetryInterval,
		"session.connect_timeout":  c.Session.ConnectTimeout,
		"session.close_timeout":    c.Session.CloseTimeout,
		"session.status_timeout":   c.Session.StatusTimeout,
		"playback.play_timeout":    c.Playback.PlayTimeout,
		"playback.poll_interval":   c.Playback.PollInterval,
		"relay.ttl":                c.Relay.TTL,
		"cast.heartbeat_interval":  c.Cast.HeartbeatInterval,
		"cast.request_timeout":     c.Cast.RequestTimeout,
	}
	for key, d := range positive {
		if d <= 0 {
			problems = append(problems, key+" must be positive")
		}
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}
