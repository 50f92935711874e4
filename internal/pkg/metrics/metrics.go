package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds every podstate collector and is served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// ReportsTotal counts status reports by result: applied, stale or invalid.
	ReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podstate_status_reports_total",
			Help: "Status reports received, by result.",
		},
		[]string{"result"},
	)

	// ChangesTotal counts published change events by kind.
	ChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podstate_changes_total",
			Help: "Change events published, by kind.",
		},
		[]string{"kind"},
	)

	// UncertainCommandsTotal counts uncertain commands by outcome: issued, confirmed or rolled_back.
	UncertainCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podstate_uncertain_commands_total",
			Help: "Temporary basal commands tracked without acknowledgement, by outcome.",
		},
		[]string{"outcome"},
	)

	// PersistAttemptsTotal counts snapshot store writes by result.
	PersistAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podstate_persist_attempts_total",
			Help: "Snapshot store write attempts, by result.",
		},
		[]string{"result"},
	)

	// PersistLatency records the duration of a full persist including retries.
	PersistLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "podstate_persist_duration_seconds",
			Help:    "Time spent persisting one snapshot, retries included.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// DecodeErrorsTotal counts rejected payloads by source.
	DecodeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podstate_decode_errors_total",
			Help: "Payloads rejected because they could not be decoded, by source.",
		},
		[]string{"source"},
	)

	// DroppedEventsTotal counts bus events discarded because a subscriber fell behind.
	DroppedEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "podstate_bus_dropped_events_total",
			Help: "Change events dropped from slow in-process subscribers.",
		},
	)

	// NotifyErrorsTotal counts change events a sink failed to deliver.
	NotifyErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podstate_notify_errors_total",
			Help: "Change events that could not be delivered, by sink.",
		},
		[]string{"sink"},
	)

	// PendingCommand is 1 while an uncertain command awaits resolution.
	PendingCommand = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "podstate_uncertain_command_pending",
			Help: "1 while a temporary basal command outcome is unknown.",
		},
	)

	// LastResponseTimestamp is the Unix time of the last applied status report.
	LastResponseTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "podstate_last_response_timestamp_seconds",
			Help: "Unix time of the most recent applied status report.",
		},
	)

	// ActiveAlerts is the number of alerts currently shown to the user.
	ActiveAlerts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "podstate_user_alerts_active",
			Help: "User-facing alerts currently shown.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ReportsTotal,
		ChangesTotal,
		UncertainCommandsTotal,
		PersistAttemptsTotal,
		PersistLatency,
		DecodeErrorsTotal,
		DroppedEventsTotal,
		NotifyErrorsTotal,
		PendingCommand,
		LastResponseTimestamp,
		ActiveAlerts,
	)
}
