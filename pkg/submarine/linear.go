// pkg/submarine/linear.go
package submarine

import (
	"strconv"

	"github.com/opd-ai/go-subsim/pkg/physics"
)

const (
	// depthHoldFactor scales the hydrostatic force compared against the
	// empty hull weight when deciding whether to lock vertical motion.
	depthHoldFactor = 7
	// autoDepthBias is the neutral ballast setpoint in panel units.
	autoDepthBias = 20
	// autoDepthGain weights vertical velocity in the setpoint.
	autoDepthGain = 2
)

// LinearState is a snapshot of the translational state
type LinearState struct {
	Position     physics.Vector3D `json:"position"`
	Velocity     physics.Vector3D `json:"velocity"`
	Acceleration physics.Vector3D `json:"acceleration"`
	ErrorState   bool             `json:"errorState"`
}

// LinearSimulator integrates buoyancy, weight, thrust and drag on the hull.
// It is not safe for concurrent use; the owning session serializes access.
type LinearSimulator struct {
	env  physics.Environment
	hull HullParams
	mode Mode

	position     physics.Vector3D
	velocity     physics.Vector3D
	acceleration physics.Vector3D
	errorState   bool
}

// NewLinearSimulator creates a simulator at rest at the origin
func NewLinearSimulator(env physics.Environment, hull HullParams, mode Mode) *LinearSimulator {
	return &LinearSimulator{
		env:  env,
		hull: hull,
		mode: mode,
	}
}

// Tick advances the hull by one fixed time step. ballastVolume is in m³ of
// water admitted to the tanks; fanSpeed is already in the thrust sign
// convention (positive drives along +Z). While the error state is set, Tick
// changes nothing.
func (s *LinearSimulator) Tick(ballastVolume, fanSpeed float64) LinearState {
	if s.errorState {
		return s.State()
	}

	switch s.mode {
	case ModeCorrected:
		s.accelerate(ballastVolume, fanSpeed)
		s.integrateVelocity()
		if s.shouldHoldDepth() {
			s.velocity.Y = 0
			s.acceleration.Y = 0
		}
	default:
		s.accelerate(ballastVolume, fanSpeed)
		s.integrateVelocity()
		if s.shouldHoldDepth() {
			s.velocity.Y = 0
			s.acceleration.Y = 0
		} else {
			s.accelerate(ballastVolume, fanSpeed)
			s.integrateVelocity()
		}
	}

	s.integratePosition()
	s.checkPressureWarning()

	return s.State()
}

// Resume clears the error state. It reports whether the state was set.
func (s *LinearSimulator) Resume() bool {
	if !s.errorState {
		return false
	}
	s.errorState = false
	return true
}

// AutoDepthControl returns the ballast setpoint, in panel units, that steers
// the hull toward desiredDepth. The result is never negative and has no
// upper bound.
func (s *LinearSimulator) AutoDepthControl(desiredDepth float64) float64 {
	depthError := s.Depth() - desiredDepth
	setpoint := autoDepthBias - depthError + autoDepthGain*s.velocity.Y
	if setpoint < 0 {
		return 0
	}
	return setpoint
}

// State returns the current translational state
func (s *LinearSimulator) State() LinearState {
	return LinearState{
		Position:     s.position,
		Velocity:     s.velocity,
		Acceleration: s.acceleration,
		ErrorState:   s.errorState,
	}
}

// Depth returns the distance below the surface (-position.Y)
func (s *LinearSimulator) Depth() float64 {
	return -s.position.Y
}

// ErrorState reports whether the depth safety lock is engaged
func (s *LinearSimulator) ErrorState() bool {
	return s.errorState
}

// Hull returns the hull parameters
func (s *LinearSimulator) Hull() HullParams {
	return s.hull
}

// Mode returns the force model in use
func (s *LinearSimulator) Mode() Mode {
	return s.mode
}

// Reset returns the hull to rest at the origin and clears the error state
func (s *LinearSimulator) Reset() {
	s.position = physics.Vector3D{}
	s.velocity = physics.Vector3D{}
	s.acceleration = physics.Vector3D{}
	s.errorState = false
}

// totalMass returns hull mass plus ballast water mass
func (s *LinearSimulator) totalMass(ballastVolume float64) float64 {
	return s.hull.Mass + ballastVolume*s.env.WaterDensity
}

// netForce sums weight, buoyancy, thrust and drag at the current velocity
func (s *LinearSimulator) netForce(ballastVolume, fanSpeed float64) physics.Vector3D {
	weight := physics.Vector3D{Y: -s.env.WeightForce(s.totalMass(ballastVolume))}
	// Buoyancy comes from the hull alone; ballast water sits inside it.
	buoyancy := physics.Vector3D{Y: s.env.BuoyantForce(s.hull.Volume)}
	thrust := physics.Vector3D{Z: s.hull.EnginePower * fanSpeed}

	var drag physics.Vector3D
	if s.mode == ModeCorrected {
		drag = s.env.DragForce(s.velocity, s.hull.ProjectedAreas)
	} else {
		drag = s.env.LinearDragForce(s.velocity, s.hull.ProjectedAreas)
	}

	return buoyancy.Add(weight).Add(thrust).Add(drag)
}

// accelerate stores the instantaneous acceleration
func (s *LinearSimulator) accelerate(ballastVolume, fanSpeed float64) {
	s.acceleration = s.netForce(ballastVolume, fanSpeed).Scale(1 / s.totalMass(ballastVolume))
}

func (s *LinearSimulator) integrateVelocity() {
	s.velocity = s.velocity.Add(s.acceleration.Scale(s.hull.TimeStep))
}

// integratePosition moves the hull, holding it at the sea floor
func (s *LinearSimulator) integratePosition() {
	s.position = s.position.Add(s.velocity.Scale(s.hull.TimeStep))
	if s.hull.MaxDepth > 0 && s.Depth() > s.hull.MaxDepth {
		s.position.Y = -s.hull.MaxDepth
		s.velocity.Y = 0
		s.acceleration.Y = 0
	}
}

// shouldHoldDepth compares the empty hull weight with the scaled
// hydrostatic force at two-decimal precision.
func (s *LinearSimulator) shouldHoldDepth() bool {
	weight := -s.env.WeightForce(s.hull.Mass)
	pressure := s.env.HydrostaticForce(s.Depth()) * depthHoldFactor
	return strconv.FormatFloat(weight, 'f', 2, 64) == strconv.FormatFloat(pressure, 'f', 2, 64)
}

// checkPressureWarning engages the error state past the warning depth
func (s *LinearSimulator) checkPressureWarning() {
	if s.Depth() > s.hull.WarningDepth && !s.errorState {
		s.errorState = true
		s.velocity = physics.Vector3D{}
		s.acceleration = physics.Vector3D{}
	}
}
