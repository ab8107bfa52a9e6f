// Package config handles configuration loading, validation, and persistence
// for the lobby server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultLobbyPort  = 7066
	DefaultAPIPort    = 7080
)

// DefaultUsernamePattern accepts 3-20 characters of letters, digits and a
// few punctuation marks the game client allows in names.
const DefaultUsernamePattern = `^[A-Za-z0-9_\-\[\]\.]{3,20}$`

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Lobby    LobbyConfig    `json:"lobby"`
	Database DatabaseConfig `json:"database"`
	API      APIConfig      `json:"api"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Timers   TimerConfig    `json:"timers"`
	Logging  LoggingConfig  `json:"logging"`
}

// LobbyConfig contains the game-facing listener and session settings.
type LobbyConfig struct {
	ListenAddress string `json:"listen_address"`
	Port          int    `json:"port"`
	PublicIP      string `json:"public_ip"`

	MessageOfTheDay string   `json:"motd"`
	UsernamePattern string   `json:"username_pattern"`
	Separators      []string `json:"separators"`
	Bans            []Ban    `json:"bans"`

	AutoCreateAccounts bool `json:"auto_create_accounts"`
	SkipSecurityChecks bool `json:"skip_security_checks"`
	StatisticsEnabled  bool `json:"statistics_enabled"`

	IdleTimeoutSec    int     `json:"idle_timeout_sec"`
	WriteTimeoutSec   int     `json:"write_timeout_sec"`
	MaxMessagesPerSec float64 `json:"max_messages_per_sec"`
	MessageBurst      int     `json:"message_burst"`
}

// Ban is a configured address ban. Kind is one of "full", "client" or "server".
type Ban struct {
	IP   string `json:"ip"`
	Kind string `json:"kind"`
}

// DatabaseConfig holds the account store settings.
type DatabaseConfig struct {
	Path       string `json:"path"`
	BcryptCost int    `json:"bcrypt_cost"`
}

// APIConfig holds the admin HTTP API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Address        string   `json:"address"`
	Port           int      `json:"port"`
	Token          string   `json:"token"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// TimerConfig holds periodic task intervals.
type TimerConfig struct {
	HeartbeatInterval     int `json:"heartbeat_interval_sec"`
	PublicIPCheckInterval int `json:"public_ip_check_interval_sec"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Lobby: LobbyConfig{
			ListenAddress:      "0.0.0.0",
			Port:               DefaultLobbyPort,
			MessageOfTheDay:    "Welcome to the Sacred lobby!",
			UsernamePattern:    DefaultUsernamePattern,
			Separators:         []string{"-------- Servers --------"},
			AutoCreateAccounts: true,
			StatisticsEnabled:  true,
			IdleTimeoutSec:     60,
			WriteTimeoutSec:    10,
			MaxMessagesPerSec:  50,
			MessageBurst:       100,
		},
		Database: DatabaseConfig{
			Path:       filepath.Join("data", "lobby.db"),
			BcryptCost: 10,
		},
		API: APIConfig{
			Enabled:      true,
			Address:      "127.0.0.1",
			Port:         DefaultAPIPort,
			RateLimitRPS: 20,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Port:        1883,
			TopicPrefix: "sacredlobby",
		},
		Timers: TimerConfig{
			HeartbeatInterval:     60,
			PublicIPCheckInterval: 1800,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so config.json always lists every option.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetLobby returns a copy of the lobby configuration.
func (c *Config) GetLobby() LobbyConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	lobby := c.Lobby
	lobby.Separators = append([]string(nil), c.Lobby.Separators...)
	lobby.Bans = append([]Ban(nil), c.Lobby.Bans...)
	return lobby
}

// SetLobby updates the lobby configuration.
func (c *Config) SetLobby(lobby LobbyConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Lobby = lobby
}

// SetBans replaces the persisted ban list.
func (c *Config) SetBans(bans []Ban) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Lobby.Bans = append([]Ban(nil), bans...)
}

// GetDatabase returns a copy of the database configuration.
func (c *Config) GetDatabase() DatabaseConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Database
}

// GetAPI returns a copy of the API configuration.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	api := c.API
	api.AllowedOrigins = append([]string(nil), c.API.AllowedOrigins...)
	return api
}

// GetMQTT returns a copy of the MQTT configuration.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetTimers returns a copy of the timer configuration.
func (c *Config) GetTimers() TimerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Timers
}

// GetLogging returns a copy of the logging configuration.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// UpdateLobbyField updates a single lobby field by its JSON name.
func (c *Config) UpdateLobbyField(key string, value interface{}) error {
	if key == "bans" {
		return fmt.Errorf("bans are managed through the ban list")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(c.Lobby)
	if err != nil {
		return fmt.Errorf("failed to encode lobby config: %w", err)
	}
	m := make(map[string]interface{})
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to decode lobby config: %w", err)
	}

	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown lobby field %s", key)
	}
	m[key] = value

	updated, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	var lobby LobbyConfig
	if err := json.Unmarshal(updated, &lobby); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	c.Lobby = lobby
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
