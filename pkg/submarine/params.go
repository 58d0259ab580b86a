// pkg/submarine/params.go
package submarine

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects which force model the linear simulator integrates
type Mode int

const (
	// ModeLiteral reproduces the reference dynamics: linear drag and a
	// second acceleration/velocity pass per tick.
	ModeLiteral Mode = iota
	// ModeCorrected uses signed quadratic drag and a single pass per tick.
	ModeCorrected
)

// String returns the config name of the mode
func (m Mode) String() string {
	switch m {
	case ModeLiteral:
		return "literal"
	case ModeCorrected:
		return "corrected"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a config name into a Mode. An empty name means ModeLiteral.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "literal":
		return ModeLiteral, nil
	case "corrected":
		return ModeCorrected, nil
	default:
		return ModeLiteral, fmt.Errorf("unknown physics mode %q", name)
	}
}

// HullParams describes the submarine hull used for translational motion
type HullParams struct {
	Mass              float64    `json:"mass"`              // kg, empty hull
	EnginePower       float64    `json:"enginePower"`       // N per unit of fan speed
	Volume            float64    `json:"volume"`            // m³, displaced by the hull
	ProjectedAreas    [3]float64 `json:"projectedAreas"`    // m², per axis x, y, z
	TimeStep          float64    `json:"timeStep"`          // s
	MaxDepth          float64    `json:"maxDepth"`          // m, sea floor
	WarningDepth      float64    `json:"warningDepth"`      // m, safety trip
	PressureThreshold float64    `json:"pressureThreshold"` // pressure/weight ratio, informational
}

// DefaultHullParams returns the reference hull
func DefaultHullParams() HullParams {
	return HullParams{
		Mass:              1394,
		EnginePower:       200,
		Volume:            1.56,
		ProjectedAreas:    [3]float64{2.1, 2.1, 3.6},
		TimeStep:          0.05,
		MaxDepth:          1000,
		WarningDepth:      110,
		PressureThreshold: 1.1,
	}
}

// Validate checks that the hull can be integrated
func (h HullParams) Validate() error {
	var errs []error
	if h.Mass <= 0 {
		errs = append(errs, fmt.Errorf("hull mass must be positive, got %v", h.Mass))
	}
	if h.Volume <= 0 {
		errs = append(errs, fmt.Errorf("hull volume must be positive, got %v", h.Volume))
	}
	if h.TimeStep <= 0 {
		errs = append(errs, fmt.Errorf("hull time step must be positive, got %v", h.TimeStep))
	}
	for i, a := range h.ProjectedAreas {
		if a < 0 {
			errs = append(errs, fmt.Errorf("projected area %d must not be negative, got %v", i, a))
		}
	}
	if h.WarningDepth <= 0 {
		errs = append(errs, fmt.Errorf("warning depth must be positive, got %v", h.WarningDepth))
	}
	if h.MaxDepth < h.WarningDepth {
		errs = append(errs, fmt.Errorf("max depth %v is shallower than warning depth %v", h.MaxDepth, h.WarningDepth))
	}
	return errors.Join(errs...)
}

// RotorParams describes the yaw degree of freedom
type RotorParams struct {
	Inertia  float64 `json:"inertia"`  // kg·m² about the vertical axis
	LeverArm float64 `json:"leverArm"` // m, distance of the steering force from the axis
	TimeStep float64 `json:"timeStep"` // s
}

// DefaultRotorParams returns the reference rotor: a 1000 kg, 1.5 m radius
// cylinder (I = ½·m·r²) steered 2 m from its axis.
func DefaultRotorParams() RotorParams {
	return RotorParams{
		Inertia:  1125,
		LeverArm: 2,
		TimeStep: 0.01,
	}
}

// Validate checks that the rotor can be integrated
func (r RotorParams) Validate() error {
	var errs []error
	if r.Inertia <= 0 {
		errs = append(errs, fmt.Errorf("rotor inertia must be positive, got %v", r.Inertia))
	}
	if r.TimeStep <= 0 {
		errs = append(errs, fmt.Errorf("rotor time step must be positive, got %v", r.TimeStep))
	}
	return errors.Join(errs...)
}
