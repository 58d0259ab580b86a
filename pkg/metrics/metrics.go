// Package metrics exposes Prometheus instrumentation for the simulation
// loop, the helm server and the probe endpoints.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opd-ai/go-subsim/pkg/engine"
	"github.com/opd-ai/go-subsim/pkg/event"
)

// Path is where Handler is mounted
const Path = "/metrics"

var (
	ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "subsim_ticks_total",
		Help: "Total number of simulation frames stepped.",
	})

	tickDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "subsim_tick_duration_seconds",
		Help:    "Wall-clock time spent stepping one simulation frame.",
		Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
	})

	depthMeters = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "subsim_depth_meters",
		Help: "Current depth of the hull below the surface.",
	})

	yawRadians = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "subsim_yaw_radians",
		Help: "Current heading of the hull.",
	})

	velocityMetersPerSecond = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subsim_velocity_meters_per_second",
			Help: "Current hull velocity per axis.",
		},
		[]string{"axis"},
	)

	depthLocked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "subsim_depth_locked",
		Help: "1 while movement is held by the depth safety lock.",
	})

	ballastControl = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "subsim_ballast_control",
		Help: "Ballast control in panel units, including autopilot adjustments.",
	})

	depthWarningsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "subsim_depth_warnings_total",
		Help: "Times the warning depth was exceeded and movement locked.",
	})

	resumesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "subsim_resumes_total",
		Help: "Times the depth safety lock was cleared.",
	})

	rejectedControlsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "subsim_rejected_controls_total",
		Help: "Control inputs rejected at the boundary.",
	})

	helmClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "subsim_helm_clients",
		Help: "Connected helm clients.",
	})

	heapMegabytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "subsim_heap_megabytes",
		Help: "Heap size at the latest resource sample.",
	})

	supervisedTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "subsim_supervised_tasks",
		Help: "Goroutines tracked by the resource supervisor.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subsim_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "subsim_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
)

func init() {
	prometheus.MustRegister(
		ticksTotal,
		tickDurationSeconds,
		depthMeters,
		yawRadians,
		velocityMetersPerSecond,
		depthLocked,
		ballastControl,
		depthWarningsTotal,
		resumesTotal,
		rejectedControlsTotal,
		helmClients,
		heapMegabytes,
		supervisedTasks,
		httpRequestsTotal,
		httpDurationSeconds,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTick counts one stepped frame and how long it took
func RecordTick(d time.Duration) {
	ticksTotal.Inc()
	tickDurationSeconds.Observe(d.Seconds())
}

// ObserveState copies a session snapshot into the gauges
func ObserveState(state *engine.SessionState) {
	depthMeters.Set(state.Depth)
	yawRadians.Set(state.Yaw)
	velocityMetersPerSecond.WithLabelValues("x").Set(state.Velocity.X)
	velocityMetersPerSecond.WithLabelValues("y").Set(state.Velocity.Y)
	velocityMetersPerSecond.WithLabelValues("z").Set(state.Velocity.Z)
	ballastControl.Set(state.Controls.Ballast)
	if state.ErrorState {
		depthLocked.Set(1)
	} else {
		depthLocked.Set(0)
	}
}

// RecordDepthWarning counts a safety lock engagement
func RecordDepthWarning() {
	depthWarningsTotal.Inc()
}

// RecordResume counts a cleared safety lock
func RecordResume() {
	resumesTotal.Inc()
}

// RecordRejectedControls counts a rejected control input
func RecordRejectedControls() {
	rejectedControlsTotal.Inc()
}

// Attach counts depth warnings, resumes and rejected controls published on
// bus. It returns the subscriptions so callers can cancel them.
func Attach(bus *event.Bus) []*event.Subscription {
	return []*event.Subscription{
		bus.Subscribe(event.DepthWarning, func(event.Event) { RecordDepthWarning() }),
		bus.Subscribe(event.MovementResumed, func(event.Event) { RecordResume() }),
		bus.Subscribe(event.ControlsRejected, func(event.Event) { RecordRejectedControls() }),
	}
}

// SetHelmClients sets the connected client gauge
func SetHelmClients(n int) {
	helmClients.Set(float64(n))
}

// ObserveResources records heap size and supervised goroutines
func ObserveResources(heapMB, tasks int64) {
	heapMegabytes.Set(float64(heapMB))
	supervisedTasks.Set(float64(tasks))
}

// knownRoutes are the paths served by the probe mux
var knownRoutes = map[string]bool{
	"/health": true,
	"/ready":  true,
	Path:      true,
	"/state":  true,
}

// normalizeRoute maps unknown paths to "other" to bound label cardinality
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		path := normalizeRoute(r.URL.Path)
		httpRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(rw.statusCode)).Inc()
		httpDurationSeconds.WithLabelValues(path, r.Method).Observe(time.Since(start).Seconds())
	})
}
