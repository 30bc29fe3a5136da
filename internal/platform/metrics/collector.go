// Package metrics turns lifecycle events into Prometheus metrics.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	collector := metrics.NewCollector(reg, "ruleflow")
//	bus.RegisterObserver(collector)
package metrics

import (
	"context"
	"time"

	"github.com/GoCodeAlone/ruleflow"
	"github.com/GoCodeAlone/ruleflow/lifecycle"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// ObserverID is the id the collector registers under.
const ObserverID = "ruleflow-metrics"

// Collector is an observer that counts lifecycle events. Its metrics are
// registered on the registerer given to NewCollector.
type Collector struct {
	failures      *prometheus.CounterVec
	stallWarnings *prometheus.CounterVec
	phaseChanges  *prometheus.CounterVec
	moduleStatus  *prometheus.CounterVec
	stateChanges  *prometheus.CounterVec
	operations    *prometheus.CounterVec
	stops         *prometheus.CounterVec
	frameSeconds  prometheus.Histogram
}

var _ ruleflow.Observer = (*Collector)(nil)

// NewCollector creates the collector and registers its metrics. namespace
// defaults to "ruleflow".
func NewCollector(reg prometheus.Registerer, namespace string) *Collector {
	if namespace == "" {
		namespace = "ruleflow"
	}
	c := &Collector{
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "module_failures_total",
			Help:      "Module failures by kind and the reaction applied.",
		}, []string{"module", "kind", "reaction"}),
		stallWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stall_warnings_total",
			Help:      "Stalling timeouts that were logged as warnings.",
		}, []string{"module", "phase"}),
		phaseChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_changes_total",
			Help:      "Module phase transitions by target phase.",
		}, []string{"module", "phase"}),
		moduleStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "module_events_total",
			Help:      "Module load, unload, pause, restart and quit events.",
		}, []string{"module", "event"}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orchestrator_state_changes_total",
			Help:      "Orchestrator state transitions by target state.",
		}, []string{"category", "state"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Orchestrator operations by outcome.",
		}, []string{"category", "operation", "outcome"}),
		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orchestrator_stops_total",
			Help:      "Stop reactions seen by each orchestrator.",
		}, []string{"category"}),
		frameSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_duration_seconds",
			Help:      "Wall time of one root orchestrator update.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .016, .033, .05, .1, .25},
		}),
	}
	reg.MustRegister(c.failures, c.stallWarnings, c.phaseChanges, c.moduleStatus,
		c.stateChanges, c.operations, c.stops, c.frameSeconds)
	return c
}

// ObserverID implements ruleflow.Observer.
func (c *Collector) ObserverID() string { return ObserverID }

// ObserveFrame records how long one frame took.
func (c *Collector) ObserveFrame(d time.Duration) {
	c.frameSeconds.Observe(d.Seconds())
}

// OnEvent implements ruleflow.Observer. Undecodable payloads are reported and
// the event is not counted.
func (c *Collector) OnEvent(_ context.Context, event cloudevents.Event) error {
	switch event.Type() {
	case lifecycle.EventTypeModuleFailed:
		p, err := lifecycle.Decode[lifecycle.ModuleFailed](event)
		if err != nil {
			return err
		}
		c.failures.WithLabelValues(p.Module, p.Kind, p.Reaction).Inc()

	case lifecycle.EventTypeModuleStallWarning:
		p, err := lifecycle.Decode[lifecycle.StallWarning](event)
		if err != nil {
			return err
		}
		c.stallWarnings.WithLabelValues(p.Module, p.Phase).Inc()

	case lifecycle.EventTypeModulePhaseChanged:
		p, err := lifecycle.Decode[lifecycle.PhaseChanged](event)
		if err != nil {
			return err
		}
		c.phaseChanges.WithLabelValues(p.Module, p.To).Inc()

	case lifecycle.EventTypeModuleLoading, lifecycle.EventTypeModuleLoaded, lifecycle.EventTypeModuleUnloaded,
		lifecycle.EventTypeModulePaused, lifecycle.EventTypeModuleRestarted, lifecycle.EventTypeModuleQuit:
		p, err := lifecycle.Decode[lifecycle.ModuleStatus](event)
		if err != nil {
			return err
		}
		c.moduleStatus.WithLabelValues(p.Module, statusName(event.Type())).Inc()

	case lifecycle.EventTypeStateChanged:
		p, err := lifecycle.Decode[lifecycle.StateChanged](event)
		if err != nil {
			return err
		}
		c.stateChanges.WithLabelValues(p.Category, p.To).Inc()

	case lifecycle.EventTypeOperationQueued, lifecycle.EventTypeOperationRejected:
		p, err := lifecycle.Decode[lifecycle.Operation](event)
		if err != nil {
			return err
		}
		outcome := "queued"
		if event.Type() == lifecycle.EventTypeOperationRejected {
			outcome = "rejected"
		}
		c.operations.WithLabelValues(p.Category, p.Operation, outcome).Inc()

	case lifecycle.EventTypeOrchestratorStopped:
		p, err := lifecycle.Decode[lifecycle.Stopped](event)
		if err != nil {
			return err
		}
		c.stops.WithLabelValues(p.Category).Inc()
	}
	return nil
}

func statusName(eventType string) string {
	switch eventType {
	case lifecycle.EventTypeModuleLoading:
		return "loading"
	case lifecycle.EventTypeModuleLoaded:
		return "loaded"
	case lifecycle.EventTypeModuleUnloaded:
		return "unloaded"
	case lifecycle.EventTypeModulePaused:
		return "paused"
	case lifecycle.EventTypeModuleRestarted:
		return "restarted"
	default:
		return "quit"
	}
}
