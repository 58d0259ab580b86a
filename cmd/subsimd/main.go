// cmd/subsimd/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/opd-ai/go-subsim/pkg/config"
	"github.com/opd-ai/go-subsim/pkg/divelog"
	"github.com/opd-ai/go-subsim/pkg/engine"
	"github.com/opd-ai/go-subsim/pkg/health"
	"github.com/opd-ai/go-subsim/pkg/logging"
	"github.com/opd-ai/go-subsim/pkg/metrics"
	"github.com/opd-ai/go-subsim/pkg/network"
	"github.com/opd-ai/go-subsim/pkg/resource"
)

// StatePath serves the latest session state as JSON
const StatePath = "/state"

func main() {
	logger := logging.NewLogger().Component("subsimd")
	ctx := context.Background()

	configPath := flag.String("config", "config.json", "Path to configuration file")
	createDefault := flag.Bool("default", false, "Write the default configuration file and exit")
	flag.Parse()

	if *createDefault {
		if err := config.SaveConfig(config.DefaultConfig(), *configPath); err != nil {
			logger.Error(ctx, "failed to create default configuration", err, "config_path", *configPath)
			os.Exit(1)
		}
		logger.Info(ctx, "created default configuration file", "config_path", *configPath)
		return
	}

	simConfig, err := loadSimConfig(*configPath, logger)
	if err != nil {
		logger.Error(ctx, "failed to load configuration", err, "config_path", *configPath)
		os.Exit(1)
	}

	env, err := config.LoadConfigFromEnv()
	if err != nil {
		logger.Error(ctx, "invalid environment configuration", err)
		os.Exit(1)
	}

	if err := run(simConfig, env, logger); err != nil {
		logger.Error(ctx, "server exited with error", err)
		os.Exit(1)
	}
}

// loadSimConfig reads path, falling back to defaults when it does not
// exist, and applies SUBSIM_* overrides
func loadSimConfig(path string, logger *logging.Logger) (*config.SimConfig, error) {
	var cfg *config.SimConfig
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info(context.Background(), "configuration file not found, using defaults", "config_path", path)
		cfg = config.DefaultConfig()
	} else {
		cfg, err = config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
	}
	if err := config.ApplyEnvironmentOverrides(cfg); err != nil {
		return nil, logging.WrapError(err, "apply environment overrides")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// daemon holds everything the server process owns
type daemon struct {
	session    *engine.Session
	supervisor *resource.Supervisor
	server     *network.SimServer
	diveLog    *divelog.Log
	checker    *health.HealthChecker
}

// newDaemon wires the session, supervisor, helm server, dive log and
// health checks together without starting anything
func newDaemon(cfg *config.SimConfig, env *config.EnvironmentConfig, logger *logging.Logger) (*daemon, error) {
	session, err := engine.NewSession(cfg)
	if err != nil {
		return nil, logging.WrapError(err, "create session")
	}
	session.SetLogger(logger.Component("session"))
	metrics.Attach(session.EventBus)

	supervisor := resource.NewSupervisor(env)
	supervisor.SetLogger(logger.Component("supervisor"))
	supervisor.OnSample(func(st resource.Stats) {
		metrics.ObserveResources(st.HeapMB, st.ActiveTasks)
	})

	server := network.NewSimServer(session, env, supervisor)
	server.SetLogger(logger.Component("server"))
	server.AddObserver(metrics.ObserveState)

	d := &daemon{
		session:    session,
		supervisor: supervisor,
		server:     server,
		checker:    health.NewHealthChecker(),
	}

	d.checker.AddCheck(health.NewSessionHealthCheck(session.Running))
	d.checker.AddCheck(health.NewDepthSafetyCheck(func() (bool, float64) {
		state := session.GetState()
		return state.ErrorState, state.Depth
	}))
	d.checker.AddCheck(health.NewNetworkHealthCheck(server.GetListenerAddress))
	d.checker.AddCheck(health.NewMemoryHealthCheck(env.MaxMemoryMB, supervisor.HeapMB))
	d.checker.AddCheck(resource.NewSupervisorHealthCheck(supervisor))

	if cfg.DiveLog.Enabled {
		diveLog, err := divelog.Open(cfg.DiveLog.Path)
		if err != nil {
			return nil, logging.WrapError(err, "open dive log", "path", cfg.DiveLog.Path)
		}
		diveLog.SetLogger(logger.Component("divelog"))
		diveLog.SetSampleEvery(cfg.DiveLog.SampleEvery)
		diveLog.Attach(session.EventBus)
		diveLogger := logger.Component("divelog")
		server.AddObserver(func(state *engine.SessionState) {
			if err := diveLog.Observe(state); err != nil {
				diveLogger.Error(context.Background(), "failed to record telemetry", err, "tick", state.Tick)
			}
		})
		d.checker.AddCheck(health.NewPingHealthCheck("divelog", diveLog.Ping))
		d.diveLog = diveLog
	}

	return d, nil
}

// opsHandler serves health, metrics and state on one mux
func (d *daemon) opsHandler() http.Handler {
	mux := http.NewServeMux()
	d.checker.Register(mux)
	mux.Handle(metrics.Path, metrics.Handler())
	mux.HandleFunc(StatePath, d.handleState)
	return metrics.Middleware(mux)
}

func (d *daemon) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(d.session.GetState())
}

// close stops the helm server, drains supervised tasks and closes the log
func (d *daemon) close(ctx context.Context, logger *logging.Logger) {
	d.server.Stop()
	if err := d.supervisor.Shutdown(ctx); err != nil {
		logger.Error(ctx, "supervisor shutdown incomplete", err)
	}
	if d.diveLog != nil {
		if err := d.diveLog.Close(); err != nil {
			logger.Error(ctx, "failed to close dive log", err)
		}
	}
}

func run(cfg *config.SimConfig, env *config.EnvironmentConfig, logger *logging.Logger) error {
	ctx := context.Background()

	d, err := newDaemon(cfg, env, logger)
	if err != nil {
		return err
	}
	if err := d.supervisor.Start(); err != nil {
		return err
	}

	opsServer := &http.Server{
		Addr:         ":" + strconv.Itoa(env.HealthPort),
		Handler:      d.opsHandler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info(ctx, "starting ops server", "port", env.HealthPort)
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "ops server failed", err)
		}
	}()

	address := cfg.Network.ServerAddress
	logger.Info(ctx, "starting simulation server",
		"address", address,
		"mode", cfg.Physics.Mode,
		"max_clients", cfg.Network.MaxClients,
		"divelog", cfg.DiveLog.Enabled,
	)
	if err := d.server.Start(address); err != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, env.ShutdownTimeout)
		defer cancel()
		opsServer.Shutdown(shutdownCtx)
		d.close(shutdownCtx, logger)
		return logging.WrapError(err, "start server", "address", address)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info(ctx, "shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(ctx, env.ShutdownTimeout)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "ops server shutdown failed", err)
	}
	d.close(shutdownCtx, logger)
	logger.Info(ctx, "server stopped")
	return nil
}
