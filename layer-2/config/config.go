package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Ledger modes
const (
	LedgerModeHTTP   = "http"
	LedgerModeMemory = "memory"
)

// Config holds all configuration for an AgriTrace API node
type Config struct {
	// Node Identity
	NodeID      string
	SubmitterID string

	// Server Configuration
	HTTPPort       string
	RequestTimeout time.Duration

	// Database Configuration
	DatabaseHost     string
	DatabasePort     string
	DatabaseUser     string
	DatabasePass     string
	DatabaseName     string
	DBMaxOpenConns   int
	DBMaxIdleConns   int
	DBConnectTries   int
	DBConnectBackoff time.Duration

	// Ledger Configuration
	LedgerMode    string
	L1Endpoint    string // e.g., "http://localhost:5000"
	LedgerTimeout time.Duration

	// Login
	JWTSecret string
	JWTIssuer string
	JWTTTL    time.Duration
	NonceTTL  time.Duration
	RedisAddr string // empty keeps nonces in memory

	LogLevel string
}

// SessionTTL is the only accepted session token lifetime
const SessionTTL = time.Hour

var defaults = map[string]any{
	"node_id":            "agritrace-api-1",
	"submitter_id":       "agritrace-api-1",
	"http_port":          "6000",
	"request_timeout":    "15s",
	"db_host":            "localhost",
	"db_port":            "5433",
	"db_user":            "postgres",
	"db_pass":            "postgrespassword",
	"db_name":            "agritrace_db",
	"db_max_open_conns":  20,
	"db_max_idle_conns":  5,
	"db_connect_tries":   10,
	"db_connect_backoff": "2s",
	"ledger_mode":        LedgerModeHTTP,
	"l1_endpoint":        "http://localhost:5000",
	"ledger_timeout":     "30s",
	"jwt_secret":         "",
	"jwt_issuer":         "agritracechain",
	"jwt_ttl":            SessionTTL.String(),
	"nonce_ttl":          "5m",
	"redis_addr":         "",
	"log_level":          "info",
}

// LoadConfig loads configuration from environment variables with defaults.
// When configFile is set, its values are read first and the environment still wins.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	return &Config{
		NodeID:      v.GetString("node_id"),
		SubmitterID: v.GetString("submitter_id"),

		HTTPPort:       v.GetString("http_port"),
		RequestTimeout: v.GetDuration("request_timeout"),

		DatabaseHost:     v.GetString("db_host"),
		DatabasePort:     v.GetString("db_port"),
		DatabaseUser:     v.GetString("db_user"),
		DatabasePass:     v.GetString("db_pass"),
		DatabaseName:     v.GetString("db_name"),
		DBMaxOpenConns:   v.GetInt("db_max_open_conns"),
		DBMaxIdleConns:   v.GetInt("db_max_idle_conns"),
		DBConnectTries:   v.GetInt("db_connect_tries"),
		DBConnectBackoff: v.GetDuration("db_connect_backoff"),

		LedgerMode:    strings.ToLower(v.GetString("ledger_mode")),
		L1Endpoint:    v.GetString("l1_endpoint"),
		LedgerTimeout: v.GetDuration("ledger_timeout"),

		JWTSecret: v.GetString("jwt_secret"),
		JWTIssuer: v.GetString("jwt_issuer"),
		JWTTTL:    v.GetDuration("jwt_ttl"),
		NonceTTL:  v.GetDuration("nonce_ttl"),
		RedisAddr: v.GetString("redis_addr"),

		LogLevel: v.GetString("log_level"),
	}, nil
}

// GetDSN returns the PostgreSQL connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DatabaseHost,
		c.DatabasePort,
		c.DatabaseUser,
		c.DatabasePass,
		c.DatabaseName,
	)
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("NODE_ID is required")
	}
	if c.SubmitterID == "" {
		return fmt.Errorf("SUBMITTER_ID is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.LedgerMode {
	case LedgerModeHTTP:
		if c.L1Endpoint == "" {
			return fmt.Errorf("L1_ENDPOINT is required when LEDGER_MODE=http")
		}
	case LedgerModeMemory:
	default:
		return fmt.Errorf("LEDGER_MODE must be %q or %q, got %q", LedgerModeHTTP, LedgerModeMemory, c.LedgerMode)
	}
	if c.JWTTTL != SessionTTL {
		return fmt.Errorf("JWT_TTL must be %s, got %s", SessionTTL, c.JWTTTL)
	}
	if c.NonceTTL <= 0 {
		return fmt.Errorf("NONCE_TTL must be positive")
	}
	if c.RequestTimeout <= 0 || c.LedgerTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT and LEDGER_TIMEOUT must be positive")
	}
	return nil
}
