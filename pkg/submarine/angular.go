// pkg/submarine/angular.go
package submarine

// AngularState is a snapshot of the yaw degree of freedom
type AngularState struct {
	Angle               float64 `json:"angle"`               // rad
	AngularVelocity     float64 `json:"angularVelocity"`     // rad/s
	AngularAcceleration float64 `json:"angularAcceleration"` // rad/s²
	ElapsedTime         float64 `json:"elapsedTime"`         // s of simulated time
}

// AngularSimulator integrates yaw under an applied steering torque
type AngularSimulator struct {
	rotor RotorParams

	angle        float64
	velocity     float64
	acceleration float64
	elapsed      float64
}

// NewAngularSimulator creates a simulator at rest with zero heading
func NewAngularSimulator(rotor RotorParams) *AngularSimulator {
	return &AngularSimulator{rotor: rotor}
}

// Tick advances yaw by one fixed time step. The new angle uses the velocity
// from before this tick. A torque of exactly zero stops rotation at once.
func (s *AngularSimulator) Tick(torque float64) AngularState {
	dt := s.rotor.TimeStep

	s.acceleration = torque * s.rotor.LeverArm / s.rotor.Inertia
	velocity := s.velocity + s.acceleration*dt
	angle := s.angle + s.velocity*dt + 0.5*s.acceleration*dt*dt

	if torque == 0 {
		velocity = 0
	}

	s.velocity = velocity
	s.angle = angle
	s.elapsed += dt

	return s.State()
}

// State returns the current yaw state
func (s *AngularSimulator) State() AngularState {
	return AngularState{
		Angle:               s.angle,
		AngularVelocity:     s.velocity,
		AngularAcceleration: s.acceleration,
		ElapsedTime:         s.elapsed,
	}
}

// Rotor returns the rotor parameters
func (s *AngularSimulator) Rotor() RotorParams {
	return s.rotor
}

// Reset returns the heading to zero at rest
func (s *AngularSimulator) Reset() {
	s.angle = 0
	s.velocity = 0
	s.acceleration = 0
	s.elapsed = 0
}
