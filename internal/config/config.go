package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Geolocation API configuration
	BaseURL     string        `json:"base_url"`
	APIToken    string        `json:"api_token"`
	HTTPTimeout time.Duration `json:"http_timeout"`

	// Cache configuration
	CacheEnabled    bool          `json:"cache_enabled"`
	CacheTTL        time.Duration `json:"cache_ttl"`
	CacheMaxEntries int           `json:"cache_max_entries"`

	// Traceroute configuration
	TracerouteBin string `json:"traceroute_bin"`

	// BGP lookup configuration
	BGPAPIURL string `json:"bgp_api_url"`

	// Port scan configuration
	ScanStartPort int           `json:"scan_start_port"`
	ScanEndPort   int           `json:"scan_end_port"`
	ScanTimeout   time.Duration `json:"scan_timeout"`
	ScanWorkers   int           `json:"scan_workers"`

	// Ping configuration
	PingCount      int           `json:"ping_count"`
	PingPrivileged bool          `json:"ping_privileged"`
	PingTimeout    time.Duration `json:"ping_timeout"`

	// Local API configuration
	Port int `json:"port"`

	// Watch configuration
	WatchSchedule string `json:"watch_schedule"`

	// Logging configuration
	LogLevel string `json:"log_level"`
}

// DefaultEnvFile is the dotenv file read when ENV_FILE is not set
const DefaultEnvFile = ".env"

// LoadConfig loads configuration from an optional dotenv file and environment variables.
// Variables already present in the environment win over the file.
func LoadConfig() *Config {
	_ = loadEnvFile(getEnvStr("ENV_FILE", DefaultEnvFile))

	cfg := &Config{
		BaseURL:         getEnvStr("IPINFO_BASE_URL", "https://ipinfo.io"),
		APIToken:        getEnvStr("IPINFO_TOKEN", ""),
		HTTPTimeout:     getEnvDuration("HTTP_TIMEOUT", 10*time.Second),
		CacheEnabled:    getEnvBool("CACHE_ENABLED", true),
		CacheTTL:        getEnvDuration("CACHE_TTL", 10*time.Minute),
		CacheMaxEntries: getEnvInt("CACHE_MAX_ENTRIES", 1000),
		TracerouteBin:   getEnvStr("TRACEROUTE_BIN", ""),
		BGPAPIURL:       getEnvStr("BGP_API_URL", "https://api.bgpview.io"),
		ScanStartPort:   getEnvInt("SCAN_START_PORT", 1),
		ScanEndPort:     getEnvInt("SCAN_END_PORT", 1024),
		ScanTimeout:     getEnvDuration("SCAN_TIMEOUT", 2*time.Second),
		ScanWorkers:     getEnvInt("SCAN_WORKERS", 100),
		PingCount:       getEnvInt("PING_COUNT", 3),
		PingPrivileged:  getEnvBool("PING_PRIVILEGED", false),
		PingTimeout:     getEnvDuration("PING_TIMEOUT", 10*time.Second),
		Port:            getEnvInt("HTTP_PORT", 8080),
		WatchSchedule:   getEnvStr("WATCH_SCHEDULE", "*/5 * * * *"),
		LogLevel:        getEnvStr("LOG_LEVEL", "warn"),
	}

	return cfg
}

// loadEnvFile reads a dotenv file into the process environment.
// A missing file is not an error.
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// getEnvStr gets string value from environment variable with default
func getEnvStr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets integer value from environment variable with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets boolean value from environment variable with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration gets duration value from environment variable with default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
