package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jasondsmith72/CWM-MCP/internal/models"
)

// Config holds all application configuration
type Config struct {
	Port string

	// Ambient ConnectWise Manage credentials, used as fallback defaults when
	// a connect request does not supply them
	CWM models.Credentials

	// Path to an optional pre-staged credential bundle (JSON). When present
	// it takes precedence over the ambient CWM_* variables.
	CredentialBundlePath string

	// PowerShell interpreter settings
	ShellPath      string        // pwsh binary
	CommandTimeout time.Duration // per-invocation hard limit
	MaxConcurrent  int           // simultaneous interpreter processes
	SystemInfoTTL  time.Duration // response cache for Get-CWMSystemInfo

	// Context eviction
	SweepInterval time.Duration
	IdleThreshold time.Duration
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "3100"),

		CWM: models.Credentials{
			Server:     getEnv("CWM_SERVER", ""),
			Company:    getEnv("CWM_COMPANY", ""),
			PubKey:     getEnv("CWM_PUBKEY", ""),
			PrivateKey: getEnv("CWM_PRIVATEKEY", ""),
			ClientID:   getEnv("CWM_CLIENTID", ""),
		},

		CredentialBundlePath: getEnv("CWM_CREDENTIAL_BUNDLE", "credentials.json"),

		ShellPath:      getEnv("PWSH_PATH", "pwsh"),
		CommandTimeout: getDurationEnv("COMMAND_TIMEOUT", 60*time.Second),
		MaxConcurrent:  getIntEnv("MAX_CONCURRENT_COMMANDS", 8),
		SystemInfoTTL:  getDurationEnv("SYSTEM_INFO_CACHE_TTL", 30*time.Second),

		SweepInterval: getDurationEnv("CONTEXT_SWEEP_INTERVAL", time.Hour),
		IdleThreshold: getDurationEnv("CONTEXT_IDLE_THRESHOLD", time.Hour),
	}
}

// LoadCredentialBundle reads a pre-staged credential bundle from a JSON file.
func LoadCredentialBundle(filePath string) (models.Credentials, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return models.Credentials{}, fmt.Errorf("failed to read credential bundle: %w", err)
	}

	var creds models.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return models.Credentials{}, fmt.Errorf("failed to parse credential bundle JSON: %w", err)
	}

	return creds, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
