// Package config handles configuration loading, validation, and persistence
// for the Land of Oz dedicated server manager.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"

	DefaultGamePort = 2456
	DefaultRconPort = 2458
	DefaultAPIPort  = 8080
)

// Config is the root configuration structure for the manager.
type Config struct {
	mu   sync.RWMutex
	path string

	ServerData      ServerData      `json:"server_data"`
	ApplicationData ApplicationData `json:"application_data"`
}

// ServerData contains game-server specific configuration: install paths,
// world identity, launch options, and the RCON and restart sections.
type ServerData struct {
	// Paths
	InstallDirectory string `json:"install_directory"`
	SaveDirectory    string `json:"save_directory"`
	ExecutableName   string `json:"executable_name"`

	// World identity
	Name     string `json:"server_name"`
	World    string `json:"world"`
	Password string `json:"password"`
	Port     int    `json:"port"`

	// Launch options
	Public    bool `json:"public"`
	Crossplay bool `json:"crossplay"`

	// Log files. LogFile is where the server writes its own output (the
	// manager only ever reads it); BepInExLogFile is the injected
	// framework's log, tailed when non-empty.
	LogFile        string `json:"log_file"`
	BepInExLogFile string `json:"bepinex_log_file"`

	Rcon    RconData    `json:"rcon"`
	Restart RestartData `json:"restart"`
}

// RconData holds the remote console connection settings.
type RconData struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	Password       string `json:"password"`
	TimeoutMS      int    `json:"timeout_ms"`
	Enabled        bool   `json:"enabled"`
	AutoReconnect  bool   `json:"auto_reconnect"`
	PollIntervalMS int    `json:"poll_interval_ms"`
}

// RestartData holds the watchdog restart policy.
type RestartData struct {
	Enabled           bool    `json:"enabled"`
	MaxRestarts       int     `json:"max_restarts"`
	RestartDelayMS    int     `json:"restart_delay_ms"`
	CooldownPeriodMS  int     `json:"cooldown_period_ms"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
	ReadyTimeoutMS    int     `json:"ready_timeout_ms"`
}

// ApplicationData contains manager application configuration.
type ApplicationData struct {
	API       APIData       `json:"api"`
	MQTT      MQTTData      `json:"mqtt"`
	Discord   DiscordData   `json:"discord"`
	Scheduler SchedulerData `json:"scheduler"`
	Logging   LoggingData   `json:"logging"`
}

// APIData holds REST API settings.
type APIData struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// MQTTData holds MQTT telemetry settings.
type MQTTData struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	ClientID  string `json:"client_id"`
	TopicBase string `json:"topic_base"`
}

// DiscordData holds webhook notification settings.
type DiscordData struct {
	Enabled            bool   `json:"enabled"`
	WebhookURL         string `json:"webhook_url"`
	NotifyPlayerEvents bool   `json:"notify_player_events"`
}

// SchedulerData holds periodic task settings.
type SchedulerData struct {
	WorldSaveIntervalSec int  `json:"world_save_interval_sec"`
	LogCleanupEnabled    bool `json:"log_cleanup_enabled"`
}

// LoggingData holds the manager's own logging configuration.
type LoggingData struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ServerData: ServerData{
			ExecutableName: defaultExecutableName(),
			Name:           "Land of Oz",
			World:          "Oz",
			Port:           DefaultGamePort,
			Public:         false,
			Crossplay:      false,
			Rcon: RconData{
				Host:           "127.0.0.1",
				Port:           DefaultRconPort,
				TimeoutMS:      5000,
				Enabled:        true,
				AutoReconnect:  true,
				PollIntervalMS: 10000,
			},
			Restart: RestartData{
				Enabled:           true,
				MaxRestarts:       5,
				RestartDelayMS:    5000,
				CooldownPeriodMS:  60000,
				BackoffMultiplier: 2.0,
				ReadyTimeoutMS:    120000,
			},
		},
		ApplicationData: ApplicationData{
			API: APIData{
				Enabled: true,
				Port:    DefaultAPIPort,
			},
			MQTT: MQTTData{
				Enabled:   false,
				Port:      1883,
				TopicBase: "ozdsm",
			},
			Discord: DiscordData{
				Enabled:            false,
				NotifyPlayerEvents: true,
			},
			Scheduler: SchedulerData{
				WorldSaveIntervalSec: 1800,
				LogCleanupEnabled:    true,
			},
			Logging: LoggingData{
				Level:      "info",
				Directory:  "logs",
				MaxSizeMB:  10,
				MaxBackups: 5,
			},
		},
	}
}

// Load reads configuration from a JSON file, overlaying the defaults, and
// normalizes invalid values.
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

	cfg.normalize()
	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save config to persist any new default fields added in code updates.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Parse builds a configuration from raw JSON, overlaying the defaults and
// normalizing invalid values. Used by Load and by tests.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// normalize rejects out-of-range values at parse time, retaining defaults.
// The RCON endpoint must be an unprivileged port; anything below 1024 (or
// above 65535) is replaced by the default.
func (c *Config) normalize() {
	if c.ServerData.Rcon.Port < 1024 || c.ServerData.Rcon.Port > 65535 {
		log.Warn().
			Int("port", c.ServerData.Rcon.Port).
			Int("default", DefaultRconPort).
			Msg("invalid rcon port rejected, using default")
		c.ServerData.Rcon.Port = DefaultRconPort
	}
	if c.ServerData.Port < 1 || c.ServerData.Port > 65535 {
		log.Warn().
			Int("port", c.ServerData.Port).
			Int("default", DefaultGamePort).
			Msg("invalid game port rejected, using default")
		c.ServerData.Port = DefaultGamePort
	}
	if c.ServerData.Rcon.Host == "" {
		c.ServerData.Rcon.Host = "127.0.0.1"
	}
	if c.ServerData.Restart.BackoffMultiplier < 1 {
		c.ServerData.Restart.BackoffMultiplier = 1
	}
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

// GetServerData returns a copy of the server configuration.
func (c *Config) GetServerData() ServerData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerData
}

// SetServerData updates the server configuration.
func (c *Config) SetServerData(data ServerData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ServerData = data
}

// GetApplicationData returns a copy of the application configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// Dir returns the directory holding the config file, which also holds the
// persisted process record.
func (c *Config) Dir() string {
	return filepath.Dir(c.path)
}

// IsFirstRun returns true if the configuration needs initial setup.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerData.InstallDirectory == ""
}

// defaultExecutableName returns the platform-specific server executable name.
func defaultExecutableName() string {
	if runtime.GOOS == "windows" {
		return "valheim_server.exe"
	}
	return "valheim_server.x86_64"
}
