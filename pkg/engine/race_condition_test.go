// pkg/engine/race_condition_test.go
package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/go-subsim/pkg/event"
)

// TestSessionRaceCondition exercises the session from several goroutines at
// once; run with -race.
func TestSessionRaceCondition(t *testing.T) {
	session := newTestSession(t, nil)
	session.Start()

	var mu sync.Mutex
	warnings := 0
	session.EventBus.Subscribe(event.DepthWarning, func(e event.Event) {
		// Handlers run after the session lock is released.
		_ = session.GetState()
		mu.Lock()
		warnings++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				session.Update()
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			session.SetControls(ControlInputs{
				Torque:       float64(i%40 - 20),
				Ballast:      float64(i % 100),
				FanSpeed:     float64(i%20 - 10),
				DesiredDepth: 30,
				AutoDepth:    i%50 < 25,
			})
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			state := session.GetState()
			if state.ErrorState {
				session.Resume()
			}
			_ = session.Controls()
		}
	}()

	time.Sleep(50 * time.Millisecond)
	close(done)
	wg.Wait()

	if session.GetState().Tick == 0 {
		t.Error("session never advanced")
	}
}
