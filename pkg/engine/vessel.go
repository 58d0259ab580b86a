// pkg/engine/vessel.go
package engine

import (
	"github.com/EngoEngine/ecs"

	"github.com/opd-ai/go-subsim/pkg/submarine"
)

// ControlInputs are the helm controls applied each frame, in panel units
type ControlInputs struct {
	Torque       float64 `json:"torque"`       // N·m, steering
	Ballast      float64 `json:"ballast"`      // 0..100
	FanSpeed     float64 `json:"fanSpeed"`     // -10..10, helm sign convention
	DesiredDepth float64 `json:"desiredDepth"` // m, used when AutoDepth is set
	AutoDepth    bool    `json:"autoDepth"`
}

// Vessel is a submarine entity: its helm and the simulators it drives
type Vessel struct {
	ecs.BasicEntity

	Helm    ControlInputs
	Linear  *submarine.LinearSimulator
	Angular *submarine.AngularSimulator

	// tripped is set by the frame in which the depth lock engaged
	tripped bool
}

// NewVessel creates a vessel at the surface with the given helm
func NewVessel(linear *submarine.LinearSimulator, angular *submarine.AngularSimulator, helm ControlInputs) *Vessel {
	return &Vessel{
		BasicEntity: ecs.NewBasic(),
		Helm:        helm,
		Linear:      linear,
		Angular:     angular,
	}
}

// MotionSystem advances every vessel by one frame: yaw first, then
// translation, then the auto-depth feedback into the ballast control.
type MotionSystem struct {
	vessels        []*Vessel
	ballastScale   float64
	maxAutoBallast float64
}

// NewMotionSystem creates a system converting panel ballast with
// ballastScale. A positive maxAutoBallast caps the auto-depth setpoint.
func NewMotionSystem(ballastScale, maxAutoBallast float64) *MotionSystem {
	return &MotionSystem{
		ballastScale:   ballastScale,
		maxAutoBallast: maxAutoBallast,
	}
}

// Add registers a vessel with the system
func (m *MotionSystem) Add(v *Vessel) {
	m.vessels = append(m.vessels, v)
}

// Remove satisfies the ecs.System interface
func (m *MotionSystem) Remove(basic ecs.BasicEntity) {
	for i, v := range m.vessels {
		if v.ID() == basic.ID() {
			m.vessels = append(m.vessels[:i], m.vessels[i+1:]...)
			return
		}
	}
}

// Update satisfies the ecs.System interface. The simulators integrate with
// their own fixed time steps, so dt is not used.
func (m *MotionSystem) Update(dt float32) {
	for _, v := range m.vessels {
		m.step(v)
	}
}

// Len returns the number of vessels in the system
func (m *MotionSystem) Len() int {
	return len(m.vessels)
}

func (m *MotionSystem) step(v *Vessel) {
	v.Angular.Tick(v.Helm.Torque)

	wasLocked := v.Linear.ErrorState()
	// The fan control is mounted reversed relative to the thrust axis.
	v.Linear.Tick(v.Helm.Ballast*m.ballastScale, -v.Helm.FanSpeed)
	v.tripped = !wasLocked && v.Linear.ErrorState()

	if v.Helm.AutoDepth {
		setpoint := v.Linear.AutoDepthControl(v.Helm.DesiredDepth)
		if m.maxAutoBallast > 0 && setpoint > m.maxAutoBallast {
			setpoint = m.maxAutoBallast
		}
		v.Helm.Ballast = setpoint
	}
}
