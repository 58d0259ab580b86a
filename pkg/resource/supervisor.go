// pkg/resource/supervisor.go
package resource

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/go-subsim/pkg/config"
	"github.com/opd-ai/go-subsim/pkg/logging"
)

var (
	// ErrTaskLimit is returned by Go when the task budget is spent
	ErrTaskLimit = errors.New("task limit reached")
	// ErrStopped is returned by Go after Shutdown
	ErrStopped = errors.New("supervisor stopped")
)

// Supervisor runs the server's long-lived goroutines (the simulation loop
// and one handler per helm connection) under a task budget, samples heap
// usage, and waits for every task on shutdown.
type Supervisor struct {
	maxMemoryMB     int64
	maxTasks        int64
	shutdownTimeout time.Duration
	checkInterval   time.Duration

	active   int64
	heapMB   int64
	panics   int64
	nextTask uint64

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
	tasks   map[uint64]string
	started bool
	stopped bool
	wg      sync.WaitGroup
	logger  *logging.Logger

	onSample func(Stats)
}

// Stats is a point-in-time view of the supervisor
type Stats struct {
	ActiveTasks int64     `json:"active_tasks"`
	MaxTasks    int64     `json:"max_tasks"`
	TaskNames   []string  `json:"task_names"`
	Panics      int64     `json:"panics"`
	HeapMB      int64     `json:"heap_mb"`
	MaxMemoryMB int64     `json:"max_memory_mb"`
	SampledAt   time.Time `json:"sampled_at"`
}

// NewSupervisor creates a supervisor from the deployment settings
func NewSupervisor(env *config.EnvironmentConfig) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		maxMemoryMB:     env.MaxMemoryMB,
		maxTasks:        int64(env.MaxGoroutines),
		shutdownTimeout: env.ShutdownTimeout,
		checkInterval:   env.ResourceCheckInterval,
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
		tasks:           make(map[uint64]string),
		logger:          logging.NewLogger().Component("resource"),
	}
}

// SetLogger replaces the supervisor logger. Call before Start.
func (s *Supervisor) SetLogger(logger *logging.Logger) {
	s.logger = logger
}

// OnSample registers fn to receive each periodic sample. Call before Start.
func (s *Supervisor) OnSample(fn func(Stats)) {
	s.onSample = fn
}

// Context is cancelled when Shutdown begins
func (s *Supervisor) Context() context.Context {
	return s.ctx
}

// Start begins periodic memory sampling
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("supervisor already started")
	}
	s.started = true
	s.mu.Unlock()

	s.SampleMemory()
	go s.sampleLoop()

	s.logger.Info(s.ctx, "supervisor started",
		"max_memory_mb", s.maxMemoryMB,
		"max_tasks", s.maxTasks,
		"check_interval", s.checkInterval,
	)
	return nil
}

// Go runs fn in a tracked goroutine. The context passed to fn is cancelled
// on Shutdown. A panic in fn is logged and counted rather than crashing the
// process.
func (s *Supervisor) Go(name string, fn func(ctx context.Context)) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if int64(len(s.tasks)) >= s.maxTasks {
		s.mu.Unlock()
		s.logger.Warn(s.ctx, "task limit reached", "task", name, "limit", s.maxTasks)
		return fmt.Errorf("%w: %d/%d (%s)", ErrTaskLimit, s.maxTasks, s.maxTasks, name)
	}
	s.nextTask++
	id := s.nextTask
	s.tasks[id] = name
	atomic.AddInt64(&s.active, 1)
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.finish(id)
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&s.panics, 1)
				s.logger.Error(s.ctx, "task panicked", fmt.Errorf("panic: %v", r), "task", name)
			}
		}()
		fn(s.ctx)
	}()
	return nil
}

func (s *Supervisor) finish(id uint64) {
	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
	atomic.AddInt64(&s.active, -1)
	s.wg.Done()
}

// ActiveTasks returns the number of running tasks
func (s *Supervisor) ActiveTasks() int64 {
	return atomic.LoadInt64(&s.active)
}

// HeapMB returns the heap size from the latest sample
func (s *Supervisor) HeapMB() int64 {
	return atomic.LoadInt64(&s.heapMB)
}

// SampleMemory records the current heap size and returns an error if it is
// over the limit
func (s *Supervisor) SampleMemory() error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	current := int64(m.HeapAlloc / 1024 / 1024)
	atomic.StoreInt64(&s.heapMB, current)

	if current > s.maxMemoryMB {
		return fmt.Errorf("heap %dMB exceeds limit %dMB", current, s.maxMemoryMB)
	}
	return nil
}

// Stats returns the current task and memory figures
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	names := make([]string, 0, len(s.tasks))
	for _, name := range s.tasks {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)

	return Stats{
		ActiveTasks: s.ActiveTasks(),
		MaxTasks:    s.maxTasks,
		TaskNames:   names,
		Panics:      atomic.LoadInt64(&s.panics),
		HeapMB:      s.HeapMB(),
		MaxMemoryMB: s.maxMemoryMB,
		SampledAt:   time.Now(),
	}
}

// Shutdown cancels every task's context and waits for them, bounded by
// the configured shutdown timeout and ctx. Later calls return nil.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	s.logger.Info(ctx, "supervisor shutting down", "active_tasks", s.ActiveTasks())
	s.cancel()
	if started {
		<-s.done
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		s.logger.Info(ctx, "all tasks finished")
		return nil
	case <-waitCtx.Done():
		stats := s.Stats()
		s.logger.Warn(ctx, "shutdown timed out", "remaining", stats.ActiveTasks, "tasks", stats.TaskNames)
		return fmt.Errorf("shutdown timeout: %d tasks still running %v", stats.ActiveTasks, stats.TaskNames)
	}
}

func (s *Supervisor) sampleLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.SampleMemory(); err != nil {
				s.logger.Error(s.ctx, "memory limit exceeded", err, "limit_mb", s.maxMemoryMB)
			}
			stats := s.Stats()
			s.logger.Debug(s.ctx, "resource sample",
				"tasks", stats.ActiveTasks,
				"heap_mb", stats.HeapMB,
			)
			if s.onSample != nil {
				s.onSample(stats)
			}
		case <-s.ctx.Done():
			return
		}
	}
}
