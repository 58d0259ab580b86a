package submarine

import (
	"math"
	"testing"

	"github.com/opd-ai/go-subsim/pkg/physics"
)

// neutralBallast balances the reference hull: 1394 kg + 0.2 m³ of water
// weighs as much as 1.56 m³ of displaced sea water.
const neutralBallast = 0.2

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func newReferenceSimulator(mode Mode) *LinearSimulator {
	return NewLinearSimulator(physics.DefaultEnvironment(), DefaultHullParams(), mode)
}

func TestLinearSimulator_FirstTickFromRest(t *testing.T) {
	sim := newReferenceSimulator(ModeLiteral)
	state := sim.Tick(neutralBallast, 0)

	const (
		rho = 1025.0
		g   = 9.81
		dt  = 0.05
	)
	mass := 1394 + neutralBallast*rho
	force := rho*g*1.56 - g*mass
	k := 0.5 * 0.02 * rho * 2.1

	// Two acceleration/velocity passes, the second seeing drag from the first.
	a1 := force / mass
	v1 := a1 * dt
	a2 := (force - k*v1) / mass
	v2 := v1 + a2*dt

	if !almostEqual(a1, 0, 1e-9) {
		t.Errorf("neutral ballast should give ~zero net acceleration, got %v", a1)
	}
	if !almostEqual(state.Acceleration.Y, a2, 1e-12) {
		t.Errorf("acceleration.Y = %v, expected %v", state.Acceleration.Y, a2)
	}
	if !almostEqual(state.Velocity.Y, v2, 1e-12) {
		t.Errorf("velocity.Y = %v, expected %v", state.Velocity.Y, v2)
	}
	if !almostEqual(state.Position.Y, v2*dt, 1e-12) {
		t.Errorf("position.Y = %v, expected %v", state.Position.Y, v2*dt)
	}
	if state.ErrorState {
		t.Error("error state should not be set at the surface")
	}
}

func TestLinearSimulator_RestAtNeutralBallast(t *testing.T) {
	for _, mode := range []Mode{ModeLiteral, ModeCorrected} {
		t.Run(mode.String(), func(t *testing.T) {
			sim := newReferenceSimulator(mode)
			for i := 0; i < 500; i++ {
				sim.Tick(neutralBallast, 0)
			}
			state := sim.State()
			if state.Position.Length() > 1e-6 {
				t.Errorf("position drifted to %v", state.Position)
			}
			if state.Velocity.Length() > 1e-6 {
				t.Errorf("velocity drifted to %v", state.Velocity)
			}
		})
	}
}

func TestLinearSimulator_ThrustDrivesAlongZ(t *testing.T) {
	tests := []struct {
		name     string
		fanSpeed float64
		wantSign float64
	}{
		{"positive_fan", 5, 1},
		{"negative_fan", -5, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := newReferenceSimulator(ModeLiteral)
			for i := 0; i < 10; i++ {
				sim.Tick(neutralBallast, tt.fanSpeed)
			}
			state := sim.State()
			if state.Velocity.Z*tt.wantSign <= 0 {
				t.Errorf("velocity.Z = %v, expected sign %v", state.Velocity.Z, tt.wantSign)
			}
			if state.Position.Z*tt.wantSign <= 0 {
				t.Errorf("position.Z = %v, expected sign %v", state.Position.Z, tt.wantSign)
			}
			if state.Velocity.X != 0 {
				t.Errorf("velocity.X = %v, expected 0", state.Velocity.X)
			}
		})
	}
}

func TestLinearSimulator_DragLimitsSpeed(t *testing.T) {
	literal := newReferenceSimulator(ModeLiteral)
	corrected := newReferenceSimulator(ModeCorrected)
	for i := 0; i < 5000; i++ {
		literal.Tick(neutralBallast, 10)
		corrected.Tick(neutralBallast, 10)
	}

	// Linear drag settles at P·fan / (½·Cd·ρ·A), quadratic at its square root.
	k := 0.5 * 0.02 * 1025 * 3.6
	if v := literal.State().Velocity.Z; !almostEqual(v, 2000/k, 0.5) {
		t.Errorf("literal terminal velocity = %v, expected ~%v", v, 2000/k)
	}
	if v := corrected.State().Velocity.Z; !almostEqual(v, math.Sqrt(2000/k), 0.05) {
		t.Errorf("corrected terminal velocity = %v, expected ~%v", v, math.Sqrt(2000/k))
	}
}

func TestLinearSimulator_DepthSafetyTrip(t *testing.T) {
	sim := newReferenceSimulator(ModeLiteral)

	ticks := 0
	for !sim.ErrorState() && ticks < 10000 {
		sim.Tick(1.0, 0)
		ticks++
	}
	if !sim.ErrorState() {
		t.Fatalf("error state never engaged after %d ticks, depth %v", ticks, sim.Depth())
	}
	if sim.Depth() <= DefaultHullParams().WarningDepth {
		t.Errorf("tripped at depth %v, expected beyond %v", sim.Depth(), DefaultHullParams().WarningDepth)
	}

	tripped := sim.State()
	if tripped.Velocity != (physics.Vector3D{}) || tripped.Acceleration != (physics.Vector3D{}) {
		t.Errorf("velocity %v and acceleration %v should be zero after trip", tripped.Velocity, tripped.Acceleration)
	}

	for i := 0; i < 5; i++ {
		if got := sim.Tick(1.0, 10); got != tripped {
			t.Fatalf("tick %d changed state while locked: %+v", i, got)
		}
	}

	if !sim.Resume() {
		t.Fatal("Resume() should report clearing the error state")
	}
	if sim.ErrorState() {
		t.Fatal("error state still set after Resume()")
	}

	after := sim.Tick(1.0, 0)
	if after.Position == tripped.Position {
		t.Error("tick after Resume() should move the hull")
	}
	if !after.ErrorState {
		t.Error("still beyond the warning depth, the lock should engage again")
	}
}

func TestLinearSimulator_ResumeWhenClearIsNoop(t *testing.T) {
	sim := newReferenceSimulator(ModeLiteral)
	sim.Tick(0.5, 3)
	before := sim.State()

	if sim.Resume() {
		t.Error("Resume() reported clearing an unset error state")
	}
	if sim.State() != before {
		t.Errorf("Resume() changed state: %+v -> %+v", before, sim.State())
	}
}

func TestLinearSimulator_DepthHoldLock(t *testing.T) {
	sim := newReferenceSimulator(ModeLiteral)
	env := physics.DefaultEnvironment()

	// Place the hull where ρ·g·depth·7 equals the empty hull weight.
	weight := env.WeightForce(sim.hull.Mass)
	sim.position.Y = weight / (env.HydrostaticForce(1) * depthHoldFactor)
	if !sim.shouldHoldDepth() {
		t.Fatalf("expected depth hold at position.Y=%v", sim.position.Y)
	}

	startY := sim.position.Y
	state := sim.Tick(1.0, 0)
	if state.Velocity.Y != 0 || state.Acceleration.Y != 0 {
		t.Errorf("vertical motion should be locked, got velocity %v acceleration %v", state.Velocity.Y, state.Acceleration.Y)
	}
	if state.Position.Y != startY {
		t.Errorf("position.Y moved from %v to %v", startY, state.Position.Y)
	}
}

func TestLinearSimulator_AutoDepthControl(t *testing.T) {
	t.Run("neutral_at_target", func(t *testing.T) {
		sim := newReferenceSimulator(ModeLiteral)
		if got := sim.AutoDepthControl(0); got != 20 {
			t.Errorf("AutoDepthControl(0) at surface = %v, expected 20", got)
		}
	})

	t.Run("too_shallow_adds_ballast", func(t *testing.T) {
		sim := newReferenceSimulator(ModeLiteral)
		if got := sim.AutoDepthControl(50); got != 70 {
			t.Errorf("AutoDepthControl(50) at surface = %v, expected 70", got)
		}
	})

	t.Run("too_deep_clamps_to_zero", func(t *testing.T) {
		sim := newReferenceSimulator(ModeLiteral)
		for sim.Depth() < 40 {
			sim.Tick(1.0, 0)
		}
		raw := 20 - (sim.Depth() - 5) + 2*sim.State().Velocity.Y
		if raw >= 0 {
			t.Fatalf("test setup should yield a negative raw setpoint, got %v", raw)
		}
		if got := sim.AutoDepthControl(5); got != 0 {
			t.Errorf("AutoDepthControl(5) = %v, expected exactly 0", got)
		}
	})
}

func TestLinearSimulator_AutoDepthConverges(t *testing.T) {
	sim := newReferenceSimulator(ModeLiteral)
	ballast := 20.0
	for i := 0; i < 4000; i++ {
		sim.Tick(ballast*0.01, 0)
		ballast = sim.AutoDepthControl(30)
	}
	if sim.ErrorState() {
		t.Fatal("auto depth overshot into the safety lock")
	}
	if !almostEqual(sim.Depth(), 30, 1) {
		t.Errorf("depth settled at %v, expected ~30", sim.Depth())
	}
}

func TestLinearSimulator_SeaFloor(t *testing.T) {
	hull := DefaultHullParams()
	hull.MaxDepth = 5
	hull.WarningDepth = 5
	sim := NewLinearSimulator(physics.DefaultEnvironment(), hull, ModeLiteral)

	for i := 0; i < 1000 && !sim.ErrorState(); i++ {
		sim.Tick(1.0, 0)
	}
	if sim.Depth() > hull.MaxDepth {
		t.Errorf("depth %v passed the sea floor at %v", sim.Depth(), hull.MaxDepth)
	}
}

func TestLinearSimulator_Reset(t *testing.T) {
	sim := newReferenceSimulator(ModeLiteral)
	for !sim.ErrorState() {
		sim.Tick(1.0, 2)
	}
	sim.Reset()
	if sim.State() != (LinearState{}) {
		t.Errorf("Reset() left state %+v", sim.State())
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{"", ModeLiteral, false},
		{"literal", ModeLiteral, false},
		{" Corrected ", ModeCorrected, false},
		{"exact", ModeLiteral, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestHullParams_Validate(t *testing.T) {
	if err := DefaultHullParams().Validate(); err != nil {
		t.Fatalf("default hull invalid: %v", err)
	}

	bad := DefaultHullParams()
	bad.Mass = 0
	bad.TimeStep = -1
	bad.MaxDepth = 50
	if err := bad.Validate(); err == nil {
		t.Error("expected validation error for broken hull")
	}
}
