package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"

	HashPlain  = "plain"
	HashBcrypt = "bcrypt"
)

// MinInputBufferSize leaves room for a message body after the 100 bytes
// reserved for delivery prefixes.
const MinInputBufferSize = 128

type Config struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	DataDir         string        `mapstructure:"data_dir"`
	Store           string        `mapstructure:"store"`
	DBPath          string        `mapstructure:"db_path"`
	MaxClients      int           `mapstructure:"max_clients"`
	InputBufferSize int           `mapstructure:"input_buffer_size"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	LogLevel        string        `mapstructure:"log_level"`
	LogPath         string        `mapstructure:"log_path"`
	EventLogPath    string        `mapstructure:"event_log_path"`
	ControlSocket   string        `mapstructure:"control_socket"`
	PasswordHash    string        `mapstructure:"password_hash"`
}

// New returns a viper instance carrying the defaults and the CHAT_*
// environment binding. Callers may bind flags before Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("host", "")
	v.SetDefault("port", 8080)
	v.SetDefault("data_dir", ".")
	v.SetDefault("store", StoreFile)
	v.SetDefault("db_path", "termchat.db")
	v.SetDefault("max_clients", 1024)
	v.SetDefault("input_buffer_size", 4096)
	v.SetDefault("write_timeout", 10*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_path", "")
	v.SetDefault("event_log_path", "server.log")
	v.SetDefault("control_socket", "")
	v.SetDefault("password_hash", HashPlain)

	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads the optional YAML file at path into v and returns the
// validated configuration.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreFile, StoreSQLite:
	default:
		return fmt.Errorf("config: unknown store %q (want %s or %s)", c.Store, StoreFile, StoreSQLite)
	}

	switch c.PasswordHash {
	case HashPlain, HashBcrypt:
	default:
		return fmt.Errorf("config: unknown password_hash %q (want %s or %s)", c.PasswordHash, HashPlain, HashBcrypt)
	}

	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.MaxClients <= 0 {
		return fmt.Errorf("config: max_clients must be positive, got %d", c.MaxClients)
	}
	if c.InputBufferSize < MinInputBufferSize {
		return fmt.Errorf("config: input_buffer_size must be at least %d, got %d", MinInputBufferSize, c.InputBufferSize)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("config: write_timeout must be positive, got %s", c.WriteTimeout)
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is empty")
	}
	return nil
}

// Addr is the TCP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Resolve places a relative path under the data directory. Empty stays
// empty.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}
