// pkg/physics/environment.go
package physics

import "math"

// Default water and gravity constants used across the simulation.
const (
	DefaultGravity         = 9.81
	DefaultWaterDensity    = 1025.0
	DefaultDragCoefficient = 0.02
)

// Environment holds the physical constants of the surrounding water.
// It is immutable once built and safe to share by value.
type Environment struct {
	Gravity         float64 `json:"gravity"`         // m/s²
	WaterDensity    float64 `json:"waterDensity"`    // kg/m³
	DragCoefficient float64 `json:"dragCoefficient"` // dimensionless
}

// DefaultEnvironment returns sea water at standard gravity
func DefaultEnvironment() Environment {
	return Environment{
		Gravity:         DefaultGravity,
		WaterDensity:    DefaultWaterDensity,
		DragCoefficient: DefaultDragCoefficient,
	}
}

// WeightForce returns the magnitude of the gravitational force on mass.
// Direction is downward; callers apply the sign.
func (e Environment) WeightForce(mass float64) float64 {
	return e.Gravity * mass
}

// BuoyantForce returns the Archimedes force on a displaced volume
func (e Environment) BuoyantForce(volume float64) float64 {
	return e.WaterDensity * e.Gravity * volume
}

// HydrostaticForce returns ρ·g·depth
func (e Environment) HydrostaticForce(depth float64) float64 {
	return e.WaterDensity * e.Gravity * depth
}

// DragForce returns per-axis quadratic drag opposing the velocity:
// -sign(v)·½·Cd·ρ·A·v²
func (e Environment) DragForce(velocity Vector3D, areas [3]float64) Vector3D {
	k := 0.5 * e.DragCoefficient * e.WaterDensity
	return Vector3D{
		X: -math.Copysign(k*areas[0]*velocity.X*velocity.X, velocity.X),
		Y: -math.Copysign(k*areas[1]*velocity.Y*velocity.Y, velocity.Y),
		Z: -math.Copysign(k*areas[2]*velocity.Z*velocity.Z, velocity.Z),
	}
}

// LinearDragForce returns per-axis drag proportional to velocity:
// -½·Cd·ρ·A·v
func (e Environment) LinearDragForce(velocity Vector3D, areas [3]float64) Vector3D {
	k := 0.5 * e.DragCoefficient * e.WaterDensity
	return Vector3D{
		X: -k * areas[0] * velocity.X,
		Y: -k * areas[1] * velocity.Y,
		Z: -k * areas[2] * velocity.Z,
	}
}
