// Package metrics exposes the coordinator's Prometheus metrics: scheduler dispatch latency,
// lock wait time, active-session count, and transaction commit/rollback counters.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sqlcoord/sessioncore/lock"
	"github.com/sqlcoord/sessioncore/scheduler"
	"github.com/sqlcoord/sessioncore/txn"
)

// Namespace is the Prometheus namespace prefix for every metric this package registers.
const Namespace = "sqlcoord"

// Collector holds every metric this package exposes and implements scheduler.DispatchObserver,
// lock.WaitObserver, and txn.Observer so it can be wired directly into a Scheduler, a
// lock.Manager, and a Session's Options.TxObserver.
type Collector struct {
	registry *prometheus.Registry

	activeSessions prometheus.Gauge

	dispatchLatency *prometheus.HistogramVec
	dispatchErrors  *prometheus.CounterVec

	lockWaitSeconds *prometheus.HistogramVec
	lockTimeouts    prometheus.Counter

	commitsTotal   *prometheus.CounterVec
	rollbacksTotal *prometheus.CounterVec
}

// NewCollector creates a Collector with its own registry (so a test or an embedding process
// does not collide with prometheus.DefaultRegisterer) and registers every metric.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of sessions currently registered with the scheduler.",
		}),
		dispatchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "scheduler",
			Name:      "dispatch_latency_seconds",
			Help:      "Time a dispatched Yieldable.Run call took to return control to its handler.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler"}),
		dispatchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "scheduler",
			Name:      "dispatch_errors_total",
			Help:      "Number of dispatched Yieldable.Run calls that returned an error.",
		}, []string{"handler"}),
		lockWaitSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "lock",
			Name:      "wait_seconds",
			Help:      "Time spent waiting to acquire a catalog object lock, whether or not it timed out.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
		}, []string{"timed_out"}),
		lockTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "lock",
			Name:      "timeouts_total",
			Help:      "Number of lock acquisitions that gave up after exceeding the caller's lock timeout.",
		}),
		commitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "transaction",
			Name:      "commits_total",
			Help:      "Number of transactions committed, labeled by whether they coordinated remote participants.",
		}, []string{"distributed"}),
		rollbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "transaction",
			Name:      "rollbacks_total",
			Help:      "Number of transactions rolled back, labeled by whether they coordinated remote participants.",
		}, []string{"distributed"}),
	}
}

// Handler returns the net/http handler that serves this Collector's registry in the
// Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveDispatch implements scheduler.DispatchObserver.
func (c *Collector) ObserveDispatch(handlerID int, d time.Duration, err error) {
	label := handlerLabel(handlerID)
	c.dispatchLatency.WithLabelValues(label).Observe(d.Seconds())
	if err != nil {
		c.dispatchErrors.WithLabelValues(label).Inc()
	}
}

// SessionRegistered implements scheduler.DispatchObserver.
func (c *Collector) SessionRegistered() { c.activeSessions.Inc() }

// SessionUnregistered implements scheduler.DispatchObserver.
func (c *Collector) SessionUnregistered() { c.activeSessions.Dec() }

// ObserveLockWait implements lock.WaitObserver.
func (c *Collector) ObserveLockWait(objectID string, waited time.Duration, timedOut bool) {
	c.lockWaitSeconds.WithLabelValues(boolLabel(timedOut)).Observe(waited.Seconds())
	if timedOut {
		c.lockTimeouts.Inc()
	}
}

// ObserveCommit implements txn.Observer.
func (c *Collector) ObserveCommit(isRoot bool, participantCount int) {
	c.commitsTotal.WithLabelValues(boolLabel(isRoot && participantCount > 0)).Inc()
}

// ObserveRollback implements txn.Observer.
func (c *Collector) ObserveRollback(isRoot bool, participantCount int) {
	c.rollbacksTotal.WithLabelValues(boolLabel(isRoot && participantCount > 0)).Inc()
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func handlerLabel(handlerID int) string {
	return strconv.Itoa(handlerID)
}

var (
	_ scheduler.DispatchObserver = (*Collector)(nil)
	_ lock.WaitObserver          = (*Collector)(nil)
	_ txn.Observer                = (*Collector)(nil)
)
