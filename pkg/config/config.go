package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/aeolun/chatapp/pkg/protocol"
	"github.com/aeolun/chatapp/pkg/server"
)

// DefaultPath is where the config file lives when -config is not given
const DefaultPath = "~/.chatapp/config.toml"

// Endpoint defaults
const (
	DefaultPort       = 5000
	DefaultClientHost = "127.0.0.1"
)

// Config represents the structure of the config file
type Config struct {
	Server ServerSection `toml:"server"`
	Client ClientSection `toml:"client"`
	Log    LogSection    `toml:"log"`
}

type ServerSection struct {
	Port          int    `toml:"port"`
	Backlog       int    `toml:"backlog"`
	WelcomeFormat string `toml:"welcome_format"`
	BroadcastMode string `toml:"broadcast_mode"`
	QueueSize     int    `toml:"queue_size"`
	Framing       string `toml:"framing"`
	HTTPAddr      string `toml:"http_addr"`
}

type ClientSection struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Framing  string `toml:"framing"`
	StateDB  string `toml:"state_db"`
	Notify   bool   `toml:"notify"`
}

type LogSection struct {
	Debug bool `toml:"debug"`
}

// Default returns the default configuration
func Default() Config {
	return Config{
		Server: ServerSection{
			Port:          DefaultPort,
			Backlog:       10,
			WelcomeFormat: protocol.DefaultWelcomeFormat,
			BroadcastMode: server.BroadcastSequential,
			QueueSize:     256,
			Framing:       protocol.CodecLegacy,
		},
		// Empty host and zero port fall back to the last server, then 127.0.0.1:5000
		Client: ClientSection{
			Framing: protocol.CodecLegacy,
			StateDB: "~/.chatapp/state.db",
			Notify:  true,
		},
	}
}

// ExpandPath replaces a leading ~/ with the user's home directory
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}

// LoadConfig loads configuration from a TOML file, creating a default one if not found.
// Keys missing from an existing file keep their default values.
func LoadConfig(path string) (Config, error) {
	path, err := ExpandPath(path)
	if err != nil {
		return Config{}, err
	}

	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Unwritable locations still run with defaults
		_ = writeDefaultConfig(path, config)
		return config, nil
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// writeDefaultConfig writes config to path with a header comment
func writeDefaultConfig(path string, config Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# chatapp configuration
# This file was auto-generated with default values
# Command-line flags override anything set here

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ToServerConfig converts the [server] section, keeping defaults for unset values
func (c *Config) ToServerConfig() server.ServerConfig {
	cfg := server.DefaultConfig()

	if c.Server.Backlog > 0 {
		cfg.Backlog = c.Server.Backlog
	}
	// The format must carry exactly one username verb
	if strings.Count(c.Server.WelcomeFormat, "%s") == 1 && strings.Count(c.Server.WelcomeFormat, "%") == 1 {
		cfg.WelcomeFormat = c.Server.WelcomeFormat
	}
	if c.Server.BroadcastMode != "" {
		cfg.BroadcastMode = c.Server.BroadcastMode
	}
	if c.Server.QueueSize > 0 {
		cfg.QueueSize = c.Server.QueueSize
	}
	if c.Server.Framing != "" {
		cfg.Codec = c.Server.Framing
	}
	cfg.HTTPAddr = c.Server.HTTPAddr

	return cfg
}

// ServerPort returns the configured listening port, or the default
func (c *Config) ServerPort() int {
	if c.Server.Port > 0 && c.Server.Port <= 65535 {
		return c.Server.Port
	}
	return DefaultPort
}

// ClientEndpoint returns the host and port the client connects to
func (c *Config) ClientEndpoint() (string, int) {
	host, port := c.Client.Host, c.Client.Port
	if strings.TrimSpace(host) == "" {
		host = DefaultClientHost
	}
	if port <= 0 || port > 65535 {
		port = DefaultPort
	}
	return host, port
}

// ClientCodec returns the client's envelope codec
func (c *Config) ClientCodec() (protocol.Codec, error) {
	return protocol.CodecByName(c.Client.Framing)
}

// StatePath returns the client state database path with ~ expanded, or "" when disabled
func (c *Config) StatePath() (string, error) {
	if strings.TrimSpace(c.Client.StateDB) == "" {
		return "", nil
	}
	return ExpandPath(c.Client.StateDB)
}
