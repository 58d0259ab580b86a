// pkg/config/config.go
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/opd-ai/go-subsim/pkg/physics"
	"github.com/opd-ai/go-subsim/pkg/submarine"
)

// SimConfig contains the full configuration of a simulation server
type SimConfig struct {
	Physics  PhysicsConfig         `json:"physics"`
	Hull     submarine.HullParams  `json:"hull"`
	Rotor    submarine.RotorParams `json:"rotor"`
	Controls ControlConfig         `json:"controls"`
	Network  NetworkConfig         `json:"network"`
	DiveLog  DiveLogConfig         `json:"divelog"`
}

// PhysicsConfig holds the environment constants and force model
type PhysicsConfig struct {
	Gravity         float64 `json:"gravity"`
	WaterDensity    float64 `json:"waterDensity"`
	DragCoefficient float64 `json:"dragCoefficient"`
	Mode            string  `json:"mode"` // "literal" or "corrected"
}

// ControlConfig holds the initial helm controls and how they map onto the
// simulators
type ControlConfig struct {
	Torque       float64 `json:"torque"`
	Ballast      float64 `json:"ballast"` // panel units, 0..100
	FanSpeed     float64 `json:"fanSpeed"`
	DesiredDepth float64 `json:"desiredDepth"`
	AutoDepth    bool    `json:"autoDepth"`
	// BallastScale converts panel units to m³ of ballast water
	BallastScale float64 `json:"ballastScale"`
	// AutoDepthMaxBallast caps the auto-depth setpoint when positive
	AutoDepthMaxBallast float64 `json:"autoDepthMaxBallast"`
}

// NetworkConfig contains network-related configuration
type NetworkConfig struct {
	UpdateRate    int    `json:"updateRate"`
	TicksPerState int    `json:"ticksPerState"`
	ServerPort    int    `json:"serverPort"`
	ServerAddress string `json:"serverAddress"`
	MaxClients    int    `json:"maxClients"`
}

// DiveLogConfig controls the persistent dive log
type DiveLogConfig struct {
	Enabled     bool   `json:"enabled"`
	Path        string `json:"path"`        // SQLite file, "" for in-memory
	SampleEvery int    `json:"sampleEvery"` // ticks between telemetry samples
}

// Environment returns the physical constants as a physics.Environment
func (c *SimConfig) Environment() physics.Environment {
	return physics.Environment{
		Gravity:         c.Physics.Gravity,
		WaterDensity:    c.Physics.WaterDensity,
		DragCoefficient: c.Physics.DragCoefficient,
	}
}

// PhysicsMode parses the configured force model
func (c *SimConfig) PhysicsMode() (submarine.Mode, error) {
	return submarine.ParseMode(c.Physics.Mode)
}

// Validate checks that the configuration can drive a session
func (c *SimConfig) Validate() error {
	var errs []error
	if c.Physics.Gravity <= 0 {
		errs = append(errs, fmt.Errorf("gravity must be positive, got %v", c.Physics.Gravity))
	}
	if c.Physics.WaterDensity <= 0 {
		errs = append(errs, fmt.Errorf("water density must be positive, got %v", c.Physics.WaterDensity))
	}
	if c.Physics.DragCoefficient < 0 {
		errs = append(errs, fmt.Errorf("drag coefficient must not be negative, got %v", c.Physics.DragCoefficient))
	}
	if _, err := c.PhysicsMode(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Hull.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("hull: %w", err))
	}
	if err := c.Rotor.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("rotor: %w", err))
	}
	if c.Controls.BallastScale <= 0 {
		errs = append(errs, fmt.Errorf("ballast scale must be positive, got %v", c.Controls.BallastScale))
	}
	if c.Controls.AutoDepthMaxBallast < 0 {
		errs = append(errs, fmt.Errorf("auto-depth max ballast must not be negative, got %v", c.Controls.AutoDepthMaxBallast))
	}
	if c.Network.UpdateRate <= 0 {
		errs = append(errs, fmt.Errorf("update rate must be positive, got %d", c.Network.UpdateRate))
	}
	if c.Network.TicksPerState <= 0 {
		errs = append(errs, fmt.Errorf("ticks per state must be positive, got %d", c.Network.TicksPerState))
	}
	if c.Network.MaxClients <= 0 {
		errs = append(errs, fmt.Errorf("max clients must be positive, got %d", c.Network.MaxClients))
	}
	if c.DiveLog.Enabled && c.DiveLog.SampleEvery <= 0 {
		errs = append(errs, fmt.Errorf("dive log sample interval must be positive, got %d", c.DiveLog.SampleEvery))
	}
	return errors.Join(errs...)
}

// LoadConfig loads a configuration from a file
func LoadConfig(path string) (*SimConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveConfig saves a configuration to a file
func SaveConfig(config *SimConfig, path string) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns the reference submarine in reference waters
func DefaultConfig() *SimConfig {
	env := physics.DefaultEnvironment()
	return &SimConfig{
		Physics: PhysicsConfig{
			Gravity:         env.Gravity,
			WaterDensity:    env.WaterDensity,
			DragCoefficient: env.DragCoefficient,
			Mode:            submarine.ModeLiteral.String(),
		},
		Hull:  submarine.DefaultHullParams(),
		Rotor: submarine.DefaultRotorParams(),
		Controls: ControlConfig{
			Ballast:      20,
			BallastScale: 0.01,
		},
		Network: NetworkConfig{
			UpdateRate:    20,
			TicksPerState: 2,
			ServerPort:    4570,
			ServerAddress: "localhost:4570",
			MaxClients:    4,
		},
		DiveLog: DiveLogConfig{
			Enabled:     false,
			Path:        "divelog.db",
			SampleEvery: 20,
		},
	}
}
