// Package divelog persists telemetry samples and depth safety incidents to
// SQLite through GORM.
package divelog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/opd-ai/go-subsim/pkg/engine"
	"github.com/opd-ai/go-subsim/pkg/event"
	"github.com/opd-ai/go-subsim/pkg/logging"
)

// Incident kinds
const (
	KindDepthWarning    = "depth_warning"
	KindMovementResumed = "movement_resumed"
)

// ErrClosed is returned after Close
var ErrClosed = errors.New("dive log closed")

// TelemetrySample is one recorded frame
type TelemetrySample struct {
	ID           uint      `gorm:"primaryKey"`
	RecordedAt   time.Time `gorm:"index"`
	Tick         uint64    `gorm:"index"`
	Elapsed      float64
	Depth        float64
	Yaw          float64
	VelocityX    float64
	VelocityY    float64
	VelocityZ    float64
	Ballast      float64
	FanSpeed     float64
	Torque       float64
	AutoDepth    bool
	DesiredDepth float64
	Locked       bool
}

// TableName sets the sample table name
func (TelemetrySample) TableName() string {
	return "telemetry_samples"
}

// SafetyIncident records the depth lock engaging or being cleared
type SafetyIncident struct {
	ID           uint      `gorm:"primaryKey"`
	RecordedAt   time.Time `gorm:"index"`
	Kind         string    `gorm:"size:32;index"`
	Tick         uint64
	Depth        float64
	WarningDepth float64
}

// TableName sets the incident table name
func (SafetyIncident) TableName() string {
	return "safety_incidents"
}

var models = []interface{}{
	&TelemetrySample{},
	&SafetyIncident{},
}

var memoryDBs uint64

// Log is an open dive log database
type Log struct {
	db          *gorm.DB
	sampleEvery uint64
	logger      *logging.Logger

	mu     sync.Mutex
	subs   []*event.Subscription
	closed bool
}

// Open opens or creates the dive log at path and migrates the schema. An
// empty path opens a private in-memory database.
func Open(path string) (*Log, error) {
	dsn := path
	if path == "" {
		dsn = fmt.Sprintf("file:divelog%d?mode=memory&cache=shared", atomic.AddUint64(&memoryDBs, 1))
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, logging.WrapError(err, "open dive log", "path", path)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, logging.WrapError(err, "access dive log sql interface")
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(models...); err != nil {
		sqlDB.Close()
		return nil, logging.WrapError(err, "migrate dive log schema")
	}

	return &Log{
		db:          db,
		sampleEvery: 1,
		logger:      logging.NewLogger().Component("divelog"),
	}, nil
}

// SetLogger replaces the dive log logger
func (l *Log) SetLogger(logger *logging.Logger) {
	l.logger = logger
}

// SetSampleEvery makes Observe record one frame in n. Values below 1 mean 1.
func (l *Log) SetSampleEvery(n int) {
	if n < 1 {
		n = 1
	}
	l.sampleEvery = uint64(n)
}

func (l *Log) usable() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	return nil
}

// RecordSample stores one telemetry sample taken from state
func (l *Log) RecordSample(state *engine.SessionState) error {
	if err := l.usable(); err != nil {
		return err
	}
	sample := TelemetrySample{
		RecordedAt:   time.Now(),
		Tick:         state.Tick,
		Elapsed:      state.Elapsed,
		Depth:        state.Depth,
		Yaw:          state.Yaw,
		VelocityX:    state.Velocity.X,
		VelocityY:    state.Velocity.Y,
		VelocityZ:    state.Velocity.Z,
		Ballast:      state.Controls.Ballast,
		FanSpeed:     state.Controls.FanSpeed,
		Torque:       state.Controls.Torque,
		AutoDepth:    state.Controls.AutoDepth,
		DesiredDepth: state.Controls.DesiredDepth,
		Locked:       state.ErrorState,
	}
	if err := l.db.Create(&sample).Error; err != nil {
		return logging.WrapError(err, "record telemetry sample", "tick", state.Tick)
	}
	return nil
}

// Observe records state when its tick falls on the sampling interval
func (l *Log) Observe(state *engine.SessionState) error {
	if state.Tick%l.sampleEvery != 0 {
		return nil
	}
	return l.RecordSample(state)
}

// RecordIncident stores a safety incident
func (l *Log) RecordIncident(kind string, tick uint64, depth, warningDepth float64) error {
	if err := l.usable(); err != nil {
		return err
	}
	incident := SafetyIncident{
		RecordedAt:   time.Now(),
		Kind:         kind,
		Tick:         tick,
		Depth:        depth,
		WarningDepth: warningDepth,
	}
	if err := l.db.Create(&incident).Error; err != nil {
		return logging.WrapError(err, "record safety incident", "kind", kind, "tick", tick)
	}
	return nil
}

// Samples returns the most recent samples in tick order. A limit of zero
// or less returns all of them.
func (l *Log) Samples(limit int) ([]TelemetrySample, error) {
	if err := l.usable(); err != nil {
		return nil, err
	}
	var samples []TelemetrySample
	q := l.db.Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&samples).Error; err != nil {
		return nil, logging.WrapError(err, "query telemetry samples")
	}
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	return samples, nil
}

// Incidents returns every incident in the order recorded
func (l *Log) Incidents() ([]SafetyIncident, error) {
	if err := l.usable(); err != nil {
		return nil, err
	}
	var incidents []SafetyIncident
	if err := l.db.Order("id asc").Find(&incidents).Error; err != nil {
		return nil, logging.WrapError(err, "query safety incidents")
	}
	return incidents, nil
}

// Attach records an incident for every depth warning and resume published
// on bus. Subscriptions are cancelled by Close.
func (l *Log) Attach(bus *event.Bus) {
	record := func(kind string) event.Handler {
		return func(e event.Event) {
			de, ok := e.(*event.DepthEvent)
			if !ok {
				return
			}
			if err := l.RecordIncident(kind, de.Tick, de.Depth, de.WarningDepth); err != nil {
				l.logger.Error(context.Background(), "failed to record incident", err, "kind", kind)
			}
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs,
		bus.Subscribe(event.DepthWarning, record(KindDepthWarning)),
		bus.Subscribe(event.MovementResumed, record(KindMovementResumed)),
	)
}

// Ping checks the database connection
func (l *Log) Ping(ctx context.Context) error {
	if err := l.usable(); err != nil {
		return err
	}
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Snapshot writes a consistent copy of the database to path, replacing any
// existing file
func (l *Log) Snapshot(path string) error {
	if err := l.usable(); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return logging.WrapError(err, "remove old snapshot", "path", path)
		}
	}
	start := time.Now()
	if err := l.db.Exec("VACUUM INTO ?", path).Error; err != nil {
		return logging.WrapError(err, "snapshot dive log", "path", path)
	}
	l.logger.Debug(context.Background(), "dive log snapshot written", "path", path, "duration", time.Since(start))
	return nil
}

// Close cancels bus subscriptions and closes the database
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	subs := l.subs
	l.subs = nil
	l.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
