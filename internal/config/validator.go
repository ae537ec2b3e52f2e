package config

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateServerData(&cfg.ServerData, result)
	validateApplicationData(&cfg.ApplicationData, result)

	return result
}

func validateServerData(data *ServerData, result *ValidationResult) {
	if strings.TrimSpace(data.InstallDirectory) == "" {
		result.AddError("server_data.install_directory", "server install directory is required")
	} else if _, err := os.Stat(data.InstallDirectory); os.IsNotExist(err) {
		result.AddWarning("server_data.install_directory",
			fmt.Sprintf("directory does not exist: %s", data.InstallDirectory))
	}

	if strings.TrimSpace(data.World) == "" {
		result.AddError("server_data.world", "world name is required")
	}

	if strings.TrimSpace(data.Name) == "" {
		result.AddError("server_data.server_name", "server name is required")
	}

	// The dedicated server refuses passwords shorter than 5 characters or
	// contained in the server name.
	if data.Password != "" {
		if len(data.Password) < 5 {
			result.AddError("server_data.password", "password must be at least 5 characters")
		}
		if strings.Contains(strings.ToLower(data.Name), strings.ToLower(data.Password)) {
			result.AddError("server_data.password", "password must not be contained in the server name")
		}
	} else if data.Public {
		result.AddWarning("server_data.password", "public server without a password")
	}

	validatePort(data.Port, "server_data.port", result)
	validatePort(data.Rcon.Port, "server_data.rcon.port", result)

	if data.Rcon.Enabled && strings.TrimSpace(data.Rcon.Password) == "" {
		result.AddWarning("server_data.rcon.password", "rcon enabled without a password")
	}

	if data.Restart.Enabled {
		if data.Restart.MaxRestarts < 1 {
			result.AddError("server_data.restart.max_restarts", "max restarts must be at least 1")
		}
		if data.Restart.RestartDelayMS < 100 {
			result.AddWarning("server_data.restart.restart_delay_ms",
				"restart delay under 100ms may thrash a crashing server")
		}
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	if data.Scheduler.WorldSaveIntervalSec > 0 && data.Scheduler.WorldSaveIntervalSec < 60 {
		result.AddWarning("application_data.scheduler.world_save_interval_sec",
			"world save interval under 60s may cause noticeable pauses in-game")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
