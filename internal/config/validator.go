package config

import (
	"fmt"
	"net"
	"regexp"
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

	validateLobby(&cfg.Lobby, result)
	validateDatabase(&cfg.Database, result)
	validateAPI(&cfg.API, cfg.Lobby.Port, result)
	validateMQTT(&cfg.MQTT, result)
	validateTimers(&cfg.Timers, result)

	return result
}

// ValidBanKinds lists the accepted Ban.Kind values.
var ValidBanKinds = []string{"full", "client", "server"}

func validateLobby(lobby *LobbyConfig, result *ValidationResult) {
	validatePort(lobby.Port, "lobby.port", result)

	if lobby.ListenAddress != "" && net.ParseIP(lobby.ListenAddress) == nil {
		result.AddError("lobby.listen_address", fmt.Sprintf("not an IP address: %s", lobby.ListenAddress))
	}

	if lobby.PublicIP != "" {
		if ip := net.ParseIP(lobby.PublicIP); ip == nil || ip.To4() == nil {
			result.AddError("lobby.public_ip", fmt.Sprintf("not an IPv4 address: %s", lobby.PublicIP))
		}
	}

	if strings.TrimSpace(lobby.UsernamePattern) == "" {
		result.AddError("lobby.username_pattern", "username pattern is required")
	} else if _, err := regexp.Compile(lobby.UsernamePattern); err != nil {
		result.AddError("lobby.username_pattern", fmt.Sprintf("invalid regular expression: %v", err))
	}

	for i, ban := range lobby.Bans {
		field := fmt.Sprintf("lobby.bans[%d]", i)
		if net.ParseIP(ban.IP) == nil {
			result.AddError(field+".ip", fmt.Sprintf("not an IP address: %s", ban.IP))
		}
		if !validBanKind(ban.Kind) {
			result.AddError(field+".kind",
				fmt.Sprintf("unknown ban kind %q (want one of %s)", ban.Kind, strings.Join(ValidBanKinds, ", ")))
		}
	}

	if lobby.SkipSecurityChecks {
		result.AddWarning("lobby.skip_security_checks", "message validation is disabled, any peer may send any message")
	}

	if lobby.IdleTimeoutSec < 10 {
		result.AddWarning("lobby.idle_timeout_sec", "idle timeout less than 10 seconds may disconnect healthy clients")
	}

	if lobby.MaxMessagesPerSec <= 0 {
		result.AddWarning("lobby.max_messages_per_sec", "inbound rate limit is disabled")
	} else if lobby.MessageBurst < 1 {
		result.AddError("lobby.message_burst", "burst must be at least 1 when rate limiting is enabled")
	}
}

func validBanKind(kind string) bool {
	for _, k := range ValidBanKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func validateDatabase(db *DatabaseConfig, result *ValidationResult) {
	if strings.TrimSpace(db.Path) == "" {
		result.AddError("database.path", "database path is required")
	}
	if db.BcryptCost != 0 && (db.BcryptCost < 4 || db.BcryptCost > 31) {
		result.AddError("database.bcrypt_cost", "bcrypt cost must be between 4 and 31")
	}
}

func validateAPI(api *APIConfig, lobbyPort int, result *ValidationResult) {
	if !api.Enabled {
		return
	}
	validatePort(api.Port, "api.port", result)
	if api.Port == lobbyPort {
		result.AddError("api.port", "port conflict detected: API and lobby ports must differ")
	}

	if api.Token == "" {
		if ip := net.ParseIP(api.Address); ip == nil || !ip.IsLoopback() {
			result.AddWarning("api.token", "API is reachable beyond localhost without a token")
		}
	}

	if api.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
}

func validateMQTT(mqtt *MQTTConfig, result *ValidationResult) {
	if !mqtt.Enabled {
		return
	}
	if strings.TrimSpace(mqtt.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if mqtt.Port < 1 || mqtt.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if mqtt.UseTLS && (mqtt.CertFile == "") != (mqtt.KeyFile == "") {
		result.AddError("mqtt.cert_file", "client certificate and key must be set together")
	}
}

func validateTimers(timers *TimerConfig, result *ValidationResult) {
	if timers.HeartbeatInterval < 10 {
		result.AddWarning("timers.heartbeat_interval",
			"heartbeat interval less than 10s may cause excessive traffic")
	}
	if timers.PublicIPCheckInterval < 60 {
		result.AddWarning("timers.public_ip_check_interval",
			"public IP check interval less than 60s may get the lobby rate limited")
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
