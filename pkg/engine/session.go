// pkg/engine/session.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/EngoEngine/ecs"

	"github.com/opd-ai/go-subsim/pkg/config"
	"github.com/opd-ai/go-subsim/pkg/event"
	"github.com/opd-ai/go-subsim/pkg/logging"
	"github.com/opd-ai/go-subsim/pkg/physics"
	"github.com/opd-ai/go-subsim/pkg/submarine"
	"github.com/opd-ai/go-subsim/pkg/validation"
)

// ErrSessionNotRunning is returned by Update before Start or after Stop
var ErrSessionNotRunning = errors.New("session is not running")

// SessionStatus is the lifecycle state of a session
type SessionStatus int

const (
	SessionIdle SessionStatus = iota
	SessionRunning
	SessionStopped
)

// String returns the status name
func (s SessionStatus) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionRunning:
		return "running"
	case SessionStopped:
		return "stopped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Session owns one submarine and steps it frame by frame
type Session struct {
	Config   *config.SimConfig
	EventBus *event.Bus

	mu          sync.RWMutex
	world       ecs.World
	motion      *MotionSystem
	vessel      *Vessel
	mode        submarine.Mode
	status      SessionStatus
	currentTick uint64
	elapsed     float64
	startTime   time.Time
	logger      *logging.Logger
}

// NewSession builds a session from cfg. The vessel starts at rest at the
// surface with the configured initial controls.
func NewSession(cfg *config.SimConfig) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, logging.WrapError(err, "invalid simulation config")
	}
	mode, err := cfg.PhysicsMode()
	if err != nil {
		return nil, err
	}

	helm, err := sanitize(ControlInputs{
		Torque:       cfg.Controls.Torque,
		Ballast:      cfg.Controls.Ballast,
		FanSpeed:     cfg.Controls.FanSpeed,
		DesiredDepth: cfg.Controls.DesiredDepth,
		AutoDepth:    cfg.Controls.AutoDepth,
	})
	if err != nil {
		return nil, logging.WrapError(err, "invalid initial controls")
	}

	linear := submarine.NewLinearSimulator(cfg.Environment(), cfg.Hull, mode)
	angular := submarine.NewAngularSimulator(cfg.Rotor)

	s := &Session{
		Config:   cfg,
		EventBus: event.NewEventBus(),
		motion:   NewMotionSystem(cfg.Controls.BallastScale, cfg.Controls.AutoDepthMaxBallast),
		vessel:   NewVessel(linear, angular, helm),
		mode:     mode,
		logger:   logging.NewLogger().Component("engine"),
	}
	s.motion.Add(s.vessel)
	s.world.AddSystem(s.motion)

	return s, nil
}

// SetLogger replaces the session logger
func (s *Session) SetLogger(logger *logging.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

func (s *Session) log() *logging.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

// Start begins accepting Update calls. Starting a running session does nothing.
func (s *Session) Start() {
	s.mu.Lock()
	if s.status == SessionRunning {
		s.mu.Unlock()
		return
	}
	s.status = SessionRunning
	s.startTime = time.Now()
	s.mu.Unlock()

	s.log().Info(context.Background(), "session started", "mode", s.mode.String())
	s.EventBus.Publish(&event.BaseEvent{
		EventType: event.SessionStarted,
		Source:    s,
	})
}

// Stop halts the session. Stopping a session that is not running does nothing.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.status != SessionRunning {
		s.mu.Unlock()
		return
	}
	s.status = SessionStopped
	tick := s.currentTick
	s.mu.Unlock()

	s.log().Info(context.Background(), "session stopped", "tick", tick)
	s.EventBus.Publish(&event.BaseEvent{
		EventType: event.SessionStopped,
		Source:    s,
	})
}

// Update advances the simulation by one frame
func (s *Session) Update() error {
	s.mu.Lock()
	if s.status != SessionRunning {
		s.mu.Unlock()
		return ErrSessionNotRunning
	}

	s.world.Update(float32(s.Config.Hull.TimeStep))
	s.currentTick++
	s.elapsed += s.Config.Hull.TimeStep

	var warning *event.DepthEvent
	if s.vessel.tripped {
		warning = event.NewDepthEvent(event.DepthWarning, s, s.currentTick, s.vessel.Linear.Depth(), s.Config.Hull.WarningDepth)
	}
	s.mu.Unlock()

	if warning != nil {
		s.log().Warn(context.Background(), "warning depth exceeded, movement locked",
			"depth", warning.Depth,
			"warning_depth", warning.WarningDepth,
			"tick", warning.Tick,
		)
		s.EventBus.Publish(warning)
	}
	return nil
}

// SetControls applies helm controls from the next frame on. Non-finite
// values are rejected and leave the previous controls in place; finite
// values are clamped into range. While auto-depth stays enabled the
// ballast control belongs to the autopilot and the supplied value is ignored.
func (s *Session) SetControls(in ControlInputs) error {
	clean, err := sanitize(in)
	if err != nil {
		s.log().Warn(context.Background(), "control input rejected", "reason", err.Error())
		s.EventBus.Publish(event.NewRejectedEvent(s, err.Error()))
		return err
	}

	s.mu.Lock()
	prev := s.vessel.Helm
	if prev.AutoDepth && clean.AutoDepth {
		clean.Ballast = prev.Ballast
	}
	s.vessel.Helm = clean
	s.mu.Unlock()

	if prev.AutoDepth != clean.AutoDepth || (clean.AutoDepth && prev.DesiredDepth != clean.DesiredDepth) {
		s.log().Info(context.Background(), "auto depth changed",
			"enabled", clean.AutoDepth,
			"desired_depth", clean.DesiredDepth,
		)
		s.EventBus.Publish(event.NewAutoDepthEvent(s, clean.AutoDepth, clean.DesiredDepth))
	}
	return nil
}

// Controls returns the controls the next frame will use
func (s *Session) Controls() ControlInputs {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vessel.Helm
}

// Resume clears the depth safety lock. It reports whether the lock was set.
func (s *Session) Resume() bool {
	s.mu.Lock()
	cleared := s.vessel.Linear.Resume()
	tick := s.currentTick
	depth := s.vessel.Linear.Depth()
	s.mu.Unlock()

	if !cleared {
		return false
	}

	s.log().Info(context.Background(), "movement resumed", "depth", depth, "tick", tick)
	s.EventBus.Publish(event.NewDepthEvent(event.MovementResumed, s, tick, depth, s.Config.Hull.WarningDepth))
	return true
}

// Reset returns the vessel to rest at the surface with its heading zeroed.
// Controls and the tick counter are kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vessel.Linear.Reset()
	s.vessel.Angular.Reset()
	s.vessel.tripped = false
}

// Status returns the lifecycle state
func (s *Session) Status() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Running reports whether Update advances the simulation
func (s *Session) Running() bool {
	return s.Status() == SessionRunning
}

// Uptime returns the wall-clock time since Start, or zero if never started
func (s *Session) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime)
}

// Mode returns the force model of the linear simulator
func (s *Session) Mode() submarine.Mode {
	return s.mode
}

// VesselID returns the ECS entity ID of the submarine
func (s *Session) VesselID() uint64 {
	return s.vessel.ID()
}

// GetState returns a snapshot of the session
func (s *Session) GetState() *SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	linear := s.vessel.Linear.State()
	angular := s.vessel.Angular.State()
	return &SessionState{
		Tick:                s.currentTick,
		Elapsed:             s.elapsed,
		Status:              s.status.String(),
		Mode:                s.mode.String(),
		Position:            linear.Position,
		Velocity:            linear.Velocity,
		Acceleration:        linear.Acceleration,
		ErrorState:          linear.ErrorState,
		Depth:               s.vessel.Linear.Depth(),
		WarningDepth:        s.Config.Hull.WarningDepth,
		Yaw:                 angular.Angle,
		AngularVelocity:     angular.AngularVelocity,
		AngularAcceleration: angular.AngularAcceleration,
		Controls:            s.vessel.Helm,
	}
}

// SessionState is a snapshot of the vessel and the controls driving it
type SessionState struct {
	Tick                uint64           `json:"tick"`
	Elapsed             float64          `json:"elapsed"` // s of simulated time
	Status              string           `json:"status"`
	Mode                string           `json:"mode"`
	Position            physics.Vector3D `json:"position"`
	Velocity            physics.Vector3D `json:"velocity"`
	Acceleration        physics.Vector3D `json:"acceleration"`
	ErrorState          bool             `json:"errorState"`
	Depth               float64          `json:"depth"`
	WarningDepth        float64          `json:"warningDepth"`
	Yaw                 float64          `json:"yaw"`
	AngularVelocity     float64          `json:"angularVelocity"`
	AngularAcceleration float64          `json:"angularAcceleration"`
	Controls            ControlInputs    `json:"controls"`
}

// sanitize runs the boundary checks over the numeric controls
func sanitize(in ControlInputs) (ControlInputs, error) {
	values, _, err := validation.SanitizeControls(validation.ControlValues{
		Torque:       in.Torque,
		Ballast:      in.Ballast,
		FanSpeed:     in.FanSpeed,
		DesiredDepth: in.DesiredDepth,
	})
	if err != nil {
		return ControlInputs{}, err
	}
	return ControlInputs{
		Torque:       values.Torque,
		Ballast:      values.Ballast,
		FanSpeed:     values.FanSpeed,
		DesiredDepth: values.DesiredDepth,
		AutoDepth:    in.AutoDepth,
	}, nil
}
