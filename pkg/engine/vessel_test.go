// pkg/engine/vessel_test.go
package engine

import (
	"testing"

	"github.com/EngoEngine/ecs"

	"github.com/opd-ai/go-subsim/pkg/physics"
	"github.com/opd-ai/go-subsim/pkg/submarine"
)

func newTestVessel(helm ControlInputs) *Vessel {
	return NewVessel(
		submarine.NewLinearSimulator(physics.DefaultEnvironment(), submarine.DefaultHullParams(), submarine.ModeLiteral),
		submarine.NewAngularSimulator(submarine.DefaultRotorParams()),
		helm,
	)
}

func TestMotionSystem_WorldUpdate(t *testing.T) {
	var world ecs.World
	motion := NewMotionSystem(0.01, 0)
	a := newTestVessel(ControlInputs{Torque: 40, Ballast: 20})
	b := newTestVessel(ControlInputs{Torque: -40, Ballast: 20})
	motion.Add(a)
	motion.Add(b)
	world.AddSystem(motion)

	if a.ID() == b.ID() {
		t.Fatal("vessels should have distinct entity IDs")
	}

	for i := 0; i < 5; i++ {
		world.Update(0.05)
	}

	if a.Angular.State().Angle <= 0 || b.Angular.State().Angle >= 0 {
		t.Errorf("opposite torques should turn opposite ways: %v %v",
			a.Angular.State().Angle, b.Angular.State().Angle)
	}
	if a.Angular.State().Angle != -b.Angular.State().Angle {
		t.Errorf("symmetric torques should give mirrored yaw")
	}
}

func TestMotionSystem_Remove(t *testing.T) {
	var world ecs.World
	motion := NewMotionSystem(0.01, 0)
	v := newTestVessel(ControlInputs{Torque: 40})
	motion.Add(v)
	world.AddSystem(motion)

	world.RemoveEntity(v.BasicEntity)
	if motion.Len() != 0 {
		t.Fatalf("expected vessel removed, %d remain", motion.Len())
	}

	world.Update(0.05)
	if v.Angular.State().ElapsedTime != 0 {
		t.Error("removed vessel should not be ticked")
	}
}

func TestMotionSystem_TrippedOnlyOnTransition(t *testing.T) {
	motion := NewMotionSystem(0.01, 0)
	v := newTestVessel(ControlInputs{Ballast: 100})
	motion.Add(v)

	trips := 0
	for i := 0; i < 400; i++ {
		motion.Update(0.05)
		if v.tripped {
			trips++
		}
	}
	if trips != 1 {
		t.Errorf("expected a single trip transition, got %d", trips)
	}
}

func TestMotionSystem_AutoDepthSetpoint(t *testing.T) {
	motion := NewMotionSystem(0.01, 0)
	v := newTestVessel(ControlInputs{Ballast: 20, DesiredDepth: 10, AutoDepth: true})
	motion.Add(v)

	motion.Update(0.05)
	want := v.Linear.AutoDepthControl(10)
	if v.Helm.Ballast != want {
		t.Errorf("ballast = %v, want setpoint %v", v.Helm.Ballast, want)
	}

	manual := newTestVessel(ControlInputs{Ballast: 35})
	motion.Add(manual)
	motion.Update(0.05)
	if manual.Helm.Ballast != 35 {
		t.Errorf("manual ballast changed to %v", manual.Helm.Ballast)
	}
}
