// pkg/config/env_config.go
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/opd-ai/go-subsim/pkg/submarine"
)

// Environment variable names
const (
	EnvServerAddr     = "SUBSIM_SERVER_ADDR"
	EnvServerPort     = "SUBSIM_SERVER_PORT"
	EnvMaxClients     = "SUBSIM_MAX_CLIENTS"
	EnvReadTimeout    = "SUBSIM_READ_TIMEOUT"
	EnvWriteTimeout   = "SUBSIM_WRITE_TIMEOUT"
	EnvUpdateRate     = "SUBSIM_UPDATE_RATE"
	EnvTicksPerState  = "SUBSIM_TICKS_PER_STATE"
	EnvPhysicsMode    = "SUBSIM_PHYSICS_MODE"
	EnvWarningDepth   = "SUBSIM_WARNING_DEPTH"
	EnvDiveLogPath    = "SUBSIM_DIVELOG_PATH"
	EnvDiveLogEnabled = "SUBSIM_DIVELOG_ENABLED"
	EnvHealthPort     = "SUBSIM_HEALTH_PORT"
	EnvBreakerMaxReqs = "SUBSIM_CB_MAX_REQUESTS"
	EnvBreakerWindow  = "SUBSIM_CB_INTERVAL"
	EnvBreakerTimeout = "SUBSIM_CB_TIMEOUT"
	EnvBreakerFails   = "SUBSIM_CB_MAX_FAILURES"
	EnvMaxMemoryMB    = "SUBSIM_MAX_MEMORY_MB"
	EnvMaxGoroutines  = "SUBSIM_MAX_GOROUTINES"
	EnvShutdown       = "SUBSIM_SHUTDOWN_TIMEOUT"
	EnvResourceCheck  = "SUBSIM_RESOURCE_CHECK_INTERVAL"
)

// EnvironmentConfig holds deployment settings that come only from the
// process environment
type EnvironmentConfig struct {
	ServerAddr    string
	ServerPort    int
	MaxClients    int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	UpdateRate    int
	TicksPerState int
	HealthPort    int

	CircuitBreakerMaxRequests         uint32
	CircuitBreakerInterval            time.Duration
	CircuitBreakerTimeout             time.Duration
	CircuitBreakerMaxConsecutiveFails uint32

	MaxMemoryMB           int64
	MaxGoroutines         int
	ShutdownTimeout       time.Duration
	ResourceCheckInterval time.Duration
}

// DefaultEnvironmentConfig returns the settings used when no variable is set
func DefaultEnvironmentConfig() *EnvironmentConfig {
	return &EnvironmentConfig{
		ServerAddr:    "localhost",
		ServerPort:    4570,
		MaxClients:    4,
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		UpdateRate:    20,
		TicksPerState: 2,
		HealthPort:    8080,

		CircuitBreakerMaxRequests:         3,
		CircuitBreakerInterval:            60 * time.Second,
		CircuitBreakerTimeout:             30 * time.Second,
		CircuitBreakerMaxConsecutiveFails: 5,

		MaxMemoryMB:           256,
		MaxGoroutines:         64,
		ShutdownTimeout:       10 * time.Second,
		ResourceCheckInterval: 10 * time.Second,
	}
}

// ValidationError reports an out-of-range environment setting
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Message)
}

// LoadConfigFromEnv reads EnvironmentConfig from the environment and validates it
func LoadConfigFromEnv() (*EnvironmentConfig, error) {
	d := DefaultEnvironmentConfig()
	config := &EnvironmentConfig{
		ServerAddr:    getEnvOrDefault(EnvServerAddr, d.ServerAddr),
		ServerPort:    getEnvAsIntOrDefault(EnvServerPort, d.ServerPort),
		MaxClients:    getEnvAsIntOrDefault(EnvMaxClients, d.MaxClients),
		ReadTimeout:   getEnvAsDurationOrDefault(EnvReadTimeout, d.ReadTimeout),
		WriteTimeout:  getEnvAsDurationOrDefault(EnvWriteTimeout, d.WriteTimeout),
		UpdateRate:    getEnvAsIntOrDefault(EnvUpdateRate, d.UpdateRate),
		TicksPerState: getEnvAsIntOrDefault(EnvTicksPerState, d.TicksPerState),
		HealthPort:    getEnvAsIntOrDefault(EnvHealthPort, d.HealthPort),

		CircuitBreakerMaxRequests:         uint32(getEnvAsIntOrDefault(EnvBreakerMaxReqs, int(d.CircuitBreakerMaxRequests))),
		CircuitBreakerInterval:            getEnvAsDurationOrDefault(EnvBreakerWindow, d.CircuitBreakerInterval),
		CircuitBreakerTimeout:             getEnvAsDurationOrDefault(EnvBreakerTimeout, d.CircuitBreakerTimeout),
		CircuitBreakerMaxConsecutiveFails: uint32(getEnvAsIntOrDefault(EnvBreakerFails, int(d.CircuitBreakerMaxConsecutiveFails))),

		MaxMemoryMB:           int64(getEnvAsIntOrDefault(EnvMaxMemoryMB, int(d.MaxMemoryMB))),
		MaxGoroutines:         getEnvAsIntOrDefault(EnvMaxGoroutines, d.MaxGoroutines),
		ShutdownTimeout:       getEnvAsDurationOrDefault(EnvShutdown, d.ShutdownTimeout),
		ResourceCheckInterval: getEnvAsDurationOrDefault(EnvResourceCheck, d.ResourceCheckInterval),
	}

	if err := validateEnvironmentConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

func validateEnvironmentConfig(c *EnvironmentConfig) error {
	switch {
	case c.ServerAddr == "":
		return &ValidationError{"ServerAddr", c.ServerAddr, "must not be empty"}
	case c.ServerPort < 1024 || c.ServerPort > 65535:
		return &ValidationError{"ServerPort", c.ServerPort, "must be between 1024 and 65535"}
	case c.MaxClients < 1 || c.MaxClients > 64:
		return &ValidationError{"MaxClients", c.MaxClients, "must be between 1 and 64"}
	case c.ReadTimeout < time.Second || c.ReadTimeout > time.Minute:
		return &ValidationError{"ReadTimeout", c.ReadTimeout, "must be between 1s and 1m"}
	case c.WriteTimeout < time.Second || c.WriteTimeout > time.Minute:
		return &ValidationError{"WriteTimeout", c.WriteTimeout, "must be between 1s and 1m"}
	case c.UpdateRate < 1 || c.UpdateRate > 200:
		return &ValidationError{"UpdateRate", c.UpdateRate, "must be between 1 and 200 Hz"}
	case c.TicksPerState < 1:
		return &ValidationError{"TicksPerState", c.TicksPerState, "must be at least 1"}
	case c.HealthPort < 1 || c.HealthPort > 65535:
		return &ValidationError{"HealthPort", c.HealthPort, "must be a valid port"}
	case c.CircuitBreakerMaxRequests < 1:
		return &ValidationError{"CircuitBreakerMaxRequests", c.CircuitBreakerMaxRequests, "must be at least 1"}
	case c.CircuitBreakerInterval < time.Second:
		return &ValidationError{"CircuitBreakerInterval", c.CircuitBreakerInterval, "must be at least 1s"}
	case c.CircuitBreakerTimeout < time.Second:
		return &ValidationError{"CircuitBreakerTimeout", c.CircuitBreakerTimeout, "must be at least 1s"}
	case c.CircuitBreakerMaxConsecutiveFails < 1:
		return &ValidationError{"CircuitBreakerMaxConsecutiveFails", c.CircuitBreakerMaxConsecutiveFails, "must be at least 1"}
	case c.MaxMemoryMB < 16:
		return &ValidationError{"MaxMemoryMB", c.MaxMemoryMB, "must be at least 16"}
	case c.MaxGoroutines < 4:
		return &ValidationError{"MaxGoroutines", c.MaxGoroutines, "must be at least 4"}
	case c.ShutdownTimeout < time.Second:
		return &ValidationError{"ShutdownTimeout", c.ShutdownTimeout, "must be at least 1s"}
	case c.ResourceCheckInterval < 100*time.Millisecond:
		return &ValidationError{"ResourceCheckInterval", c.ResourceCheckInterval, "must be at least 100ms"}
	}
	return nil
}

// ApplyEnvironmentOverrides updates config from SUBSIM_* variables that are
// set. Malformed values are errors rather than silently ignored.
func ApplyEnvironmentOverrides(config *SimConfig) error {
	host, port := splitAddress(config.Network.ServerAddress, config.Network.ServerPort)
	addrSet := false
	if v, ok := os.LookupEnv(EnvServerAddr); ok && v != "" {
		host = v
		addrSet = true
	}
	if v, ok := os.LookupEnv(EnvServerPort); ok {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvServerPort, err)
		}
		port = p
		addrSet = true
	}
	if addrSet {
		config.Network.ServerPort = port
		config.Network.ServerAddress = net.JoinHostPort(host, strconv.Itoa(port))
	}

	intOverrides := []struct {
		key    string
		target *int
	}{
		{EnvUpdateRate, &config.Network.UpdateRate},
		{EnvTicksPerState, &config.Network.TicksPerState},
		{EnvMaxClients, &config.Network.MaxClients},
	}
	for _, o := range intOverrides {
		v, ok := os.LookupEnv(o.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", o.key, err)
		}
		*o.target = n
	}

	if v, ok := os.LookupEnv(EnvPhysicsMode); ok {
		mode, err := submarine.ParseMode(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPhysicsMode, err)
		}
		config.Physics.Mode = mode.String()
	}

	if v, ok := os.LookupEnv(EnvWarningDepth); ok {
		depth, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWarningDepth, err)
		}
		config.Hull.WarningDepth = depth
	}

	if v, ok := os.LookupEnv(EnvDiveLogPath); ok {
		config.DiveLog.Enabled = true
		config.DiveLog.Path = v
	}
	config.DiveLog.Enabled = getEnvAsBoolOrDefault(EnvDiveLogEnabled, config.DiveLog.Enabled)

	return nil
}

// splitAddress returns host and port from "host:port", falling back to
// localhost and defaultPort
func splitAddress(address string, defaultPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "localhost", defaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, defaultPort
	}
	return host, port
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
