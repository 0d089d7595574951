package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/engagetrack"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Router metrics
	MessagesDispatchedTotal metric.Int64Counter
	MessageErrorsTotal      metric.Int64Counter
	DispatchDuration        metric.Float64Histogram

	// Session metrics
	SessionsStartedTotal metric.Int64Counter
	ActiveSessions       metric.Int64UpDownCounter

	// Intervention metrics
	InterventionsRaisedTotal      metric.Int64Counter
	InterventionsAnsweredTotal    metric.Int64Counter
	InterventionsUndeliveredTotal metric.Int64Counter
	InterventionChecksSkipped     metric.Int64Counter

	// Collaborator metrics
	CollaboratorErrorsTotal metric.Int64Counter
	ActivityBatchesFlushed  metric.Int64Counter

	// Transport metrics
	ActiveConnections metric.Int64UpDownCounter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.MessagesDispatchedTotal, _ = meter.Int64Counter(
		"engagetrack.messages.dispatched.total",
		metric.WithDescription("Total number of messages dispatched by the router"),
		metric.WithUnit("{message}"),
	)

	m.MessageErrorsTotal, _ = meter.Int64Counter(
		"engagetrack.messages.errors.total",
		metric.WithDescription("Total number of dispatches that returned a failure"),
		metric.WithUnit("{error}"),
	)

	m.DispatchDuration, _ = meter.Float64Histogram(
		"engagetrack.messages.dispatch.duration",
		metric.WithDescription("Duration of message handler execution"),
		metric.WithUnit("ms"),
	)

	m.SessionsStartedTotal, _ = meter.Int64Counter(
		"engagetrack.sessions.started.total",
		metric.WithDescription("Total number of tracking sessions started"),
		metric.WithUnit("{session}"),
	)

	m.ActiveSessions, _ = meter.Int64UpDownCounter(
		"engagetrack.sessions.active",
		metric.WithDescription("Number of live tracking sessions (0 or 1)"),
		metric.WithUnit("{session}"),
	)

	m.InterventionsRaisedTotal, _ = meter.Int64Counter(
		"engagetrack.interventions.raised.total",
		metric.WithDescription("Total number of interventions raised"),
		metric.WithUnit("{intervention}"),
	)

	m.InterventionsAnsweredTotal, _ = meter.Int64Counter(
		"engagetrack.interventions.answered.total",
		metric.WithDescription("Total number of interventions answered by the user"),
		metric.WithUnit("{intervention}"),
	)

	m.InterventionsUndeliveredTotal, _ = meter.Int64Counter(
		"engagetrack.interventions.undelivered.total",
		metric.WithDescription("Total number of interventions that could not reach a tab"),
		metric.WithUnit("{intervention}"),
	)

	m.InterventionChecksSkipped, _ = meter.Int64Counter(
		"engagetrack.interventions.checks.skipped.total",
		metric.WithDescription("Total number of poll ticks skipped, by reason"),
		metric.WithUnit("{tick}"),
	)

	m.CollaboratorErrorsTotal, _ = meter.Int64Counter(
		"engagetrack.collaborator.errors.total",
		metric.WithDescription("Total number of failed backend or AI service calls"),
		metric.WithUnit("{error}"),
	)

	m.ActivityBatchesFlushed, _ = meter.Int64Counter(
		"engagetrack.activity.batches.flushed.total",
		metric.WithDescription("Total number of activity batches uploaded"),
		metric.WithUnit("{batch}"),
	)

	m.ActiveConnections, _ = meter.Int64UpDownCounter(
		"engagetrack.transport.connections.active",
		metric.WithDescription("Number of connected extension contexts"),
		metric.WithUnit("{connection}"),
	)

	return m
}
