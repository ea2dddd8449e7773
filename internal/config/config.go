// Package config loads and validates slinktool configuration. Settings come
// from an optional YAML file, SLINKTOOL_* environment variables and CLI
// flags, in increasing order of precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Streams    StreamsConfig    `mapstructure:"streams"`
	Connection ConnectionConfig `mapstructure:"connection"`
	State      StateConfig      `mapstructure:"state"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Output     OutputConfig     `mapstructure:"output"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	// Address is host[:port] for TCP or a ws:// / wss:// URL.
	Address string `mapstructure:"address"`
}

type StreamsConfig struct {
	// List is an inline stream list: NET_STA[:selectors],...
	List string `mapstructure:"list"`

	// File is a stream list file: one "NET STA [selectors...]" per line.
	File string `mapstructure:"file"`

	// Selectors are the default selectors applied to entries without
	// their own.
	Selectors string `mapstructure:"selectors"`

	// Uni forces uni-station mode with the default selectors.
	Uni bool `mapstructure:"uni"`
}

type ConnectionConfig struct {
	Dialup         bool   `mapstructure:"dialup"`
	Batch          bool   `mapstructure:"batch"`
	Keepalive      int    `mapstructure:"keepalive_sec"`
	NetTimeout     int    `mapstructure:"net_timeout_sec"`
	ReconnectDelay int    `mapstructure:"reconnect_delay_sec"`
	IOTimeout      int    `mapstructure:"io_timeout_sec"`
	TimeWindow     string `mapstructure:"time_window"`
}

type StateConfig struct {
	// File holds resume state across restarts; empty disables.
	File string `mapstructure:"file"`

	// Interval saves state every N packets; zero saves at shutdown only.
	Interval int `mapstructure:"interval"`
}

type ArchiveConfig struct {
	// Format is a path template with %X defining and #X non-defining
	// tokens. SDSRoot and BUDRoot select the preset layouts instead.
	Format       string `mapstructure:"format"`
	SDSRoot      string `mapstructure:"sds_root"`
	BUDRoot      string `mapstructure:"bud_root"`
	IdleTimeout  int    `mapstructure:"idle_timeout_sec"`
	MaxOpenFiles int    `mapstructure:"max_open_files"`
}

type OutputConfig struct {
	// File receives every delivered record, "-" for stdout. A .zst
	// suffix enables transparent zstd compression.
	File string `mapstructure:"file"`

	// PrintLevel controls per-packet detail printing (0 none, 1 header
	// summary, 2 full details).
	PrintLevel int `mapstructure:"print_level"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("connection.net_timeout_sec", 600)
	v.SetDefault("connection.reconnect_delay_sec", 30)
	v.SetDefault("connection.io_timeout_sec", 60)
	v.SetDefault("archive.idle_timeout_sec", 120)
	v.SetDefault("archive.max_open_files", 50)
	v.SetDefault("logging.level", "info")

	v.SetEnvPrefix("SLINKTOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("slinktool")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/slinktool")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}
