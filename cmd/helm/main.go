// cmd/helm/main.go
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/opd-ai/go-subsim/pkg/config"
	"github.com/opd-ai/go-subsim/pkg/engine"
	"github.com/opd-ai/go-subsim/pkg/event"
	"github.com/opd-ai/go-subsim/pkg/logging"
	"github.com/opd-ai/go-subsim/pkg/network"
)

func main() {
	logger := logging.NewLogger().Component("helm")
	ctx := context.Background()

	env, err := config.LoadConfigFromEnv()
	if err != nil {
		logger.Error(ctx, "invalid environment configuration", err)
		os.Exit(1)
	}

	serverAddr := flag.String("server", net.JoinHostPort(env.ServerAddr, strconv.Itoa(env.ServerPort)), "Simulation server address")
	pilotName := flag.String("pilot", "helmsman", "Pilot name")
	torque := flag.Float64("torque", 0, "Rotor torque")
	ballast := flag.Float64("ballast", 20, "Ballast panel setting, 0 to 100")
	fanSpeed := flag.Float64("fan", 0, "Propulsion fan speed")
	desiredDepth := flag.Float64("depth", 0, "Desired depth for auto-depth")
	autoDepth := flag.Bool("auto", false, "Enable auto-depth")
	autoResume := flag.Bool("resume", false, "Request a resume whenever the depth lock trips")
	interval := flag.Duration("interval", time.Second, "How often the control panel is resent")
	flag.Parse()

	controls := engine.ControlInputs{
		Torque:       *torque,
		Ballast:      *ballast,
		FanSpeed:     *fanSpeed,
		DesiredDepth: *desiredDepth,
		AutoDepth:    *autoDepth,
	}

	eventBus := event.NewEventBus()
	helm := network.NewHelmClient(eventBus, env)
	helm.SetLogger(logger)

	eventBus.Subscribe(event.DepthWarning, func(e event.Event) {
		de := e.(*event.DepthEvent)
		logger.Warn(ctx, "depth lock engaged",
			"tick", de.Tick,
			"depth", de.Depth,
			"warning_depth", de.WarningDepth,
		)
		if *autoResume {
			go func() {
				if err := helm.RequestResume(ctx); err != nil {
					logger.Error(ctx, "resume request failed", err)
				}
			}()
		}
	})
	eventBus.Subscribe(event.MovementResumed, func(e event.Event) {
		logger.Info(ctx, "movement resumed", "depth", e.(*event.DepthEvent).Depth)
	})
	eventBus.Subscribe(event.ControlsRejected, func(e event.Event) {
		logger.Warn(ctx, "server rejected controls", "reason", e.(*event.RejectedEvent).Reason)
	})
	eventBus.Subscribe(network.ClientReconnectFailed, func(event.Event) {
		logger.Error(ctx, "giving up on the simulation server", nil)
		os.Exit(1)
	})

	if err := helm.Connect(*serverAddr, *pilotName); err != nil {
		logger.Error(ctx, "failed to connect to server", err, "address", *serverAddr)
		os.Exit(1)
	}

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go reportStates(runCtx, helm, logger)
	sendControls(runCtx, helm, controls, *interval, logger)

	logger.Info(ctx, "disconnecting from server")
	helm.Disconnect()
}

// sendControls resends the panel every interval until ctx is done
func sendControls(ctx context.Context, helm *network.HelmClient, controls engine.ControlInputs, interval time.Duration, logger *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := helm.SendControls(ctx, controls); err != nil && ctx.Err() == nil {
			logger.Error(ctx, "failed to send controls", err, "breaker", helm.Service().GetState().String())
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// reportStates logs roughly one state per second
func reportStates(ctx context.Context, helm *network.HelmClient, logger *logging.Logger) {
	var last time.Time
	for {
		select {
		case state := <-helm.States():
			if time.Since(last) < time.Second {
				continue
			}
			last = time.Now()
			logger.Info(ctx, "state",
				"tick", state.Tick,
				"depth", state.Depth,
				"yaw", state.Yaw,
				"locked", state.ErrorState,
				"latency", helm.GetLatency(),
			)
		case <-ctx.Done():
			return
		}
	}
}
