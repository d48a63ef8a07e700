package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Board metrics
	BoardsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bellhop_boards_open",
			Help: "Number of open tenant boards",
		},
	)

	SnapshotRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bellhop_snapshot_records",
			Help: "Records in the last known snapshot by board",
		},
		[]string{"tenant", "kind"},
	)

	KnownEntities = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bellhop_known_entities",
			Help: "Ids tracked as already seen by board",
		},
		[]string{"tenant", "kind"},
	)

	// Reconciler metrics
	PollCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bellhop_poll_cycles_total",
			Help: "Total number of poll cycles by board",
		},
		[]string{"tenant", "kind"},
	)

	PollFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bellhop_poll_failures_total",
			Help: "Total number of failed polls by board",
		},
		[]string{"tenant", "kind"},
	)

	PollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bellhop_poll_duration_seconds",
			Help:    "Time taken to fetch and apply a snapshot",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	PushEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bellhop_push_events_total",
			Help: "Total number of applied push events by kind and operation",
		},
		[]string{"kind", "op"},
	)

	PushEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bellhop_push_events_dropped_total",
			Help: "Push events dropped because they could not be decoded or normalized",
		},
	)

	OutOfOrderEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bellhop_out_of_order_events_total",
			Help: "Status changes not reachable from the known status",
		},
		[]string{"kind"},
	)

	NewArrivalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bellhop_new_arrivals_total",
			Help: "Records classified as new by board",
		},
		[]string{"tenant", "kind"},
	)

	// Alert metrics
	AlertState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bellhop_alert_state",
			Help: "Alert session state (0 = idle, 1 = alerting, 2 = suppressed)",
		},
		[]string{"tenant", "kind"},
	)

	ActiveAlerts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bellhop_active_alerts",
			Help: "Flagged records not yet handled",
		},
		[]string{"tenant", "kind"},
	)

	TonesPlayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bellhop_tones_played_total",
			Help: "Total number of chimes played",
		},
	)

	ToneFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bellhop_tone_failures_total",
			Help: "Total number of chimes that failed to play",
		},
	)

	// Lifecycle and dispatch metrics
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bellhop_transitions_total",
			Help: "Applied status transitions by kind and target status",
		},
		[]string{"kind", "target"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bellhop_notifications_total",
			Help: "Notification attempts by target status and result",
		},
		[]string{"target", "result"},
	)

	DeliveryGaps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bellhop_delivery_gaps_total",
			Help: "Notifications recorded in the ledger whose send failed",
		},
	)

	NotifyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bellhop_notify_duration_seconds",
			Help:    "Time taken to reserve and send a notification",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bellhop_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bellhop_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	StreamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bellhop_stream_clients",
			Help: "Connected websocket board clients",
		},
	)

	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bellhop_events_dropped_total",
			Help: "Broker events not delivered to a subscriber whose buffer was full",
		},
		[]string{"type"},
	)

	// Backend probe metrics
	BackendUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bellhop_backend_up",
			Help: "Whether a backend answered its last probes (1) or not (0)",
		},
		[]string{"backend"},
	)

	BackendProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bellhop_backend_probe_duration_seconds",
			Help:    "Time taken to probe a backend",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(BoardsOpen)
	prometheus.MustRegister(SnapshotRecords)
	prometheus.MustRegister(KnownEntities)
	prometheus.MustRegister(PollCyclesTotal)
	prometheus.MustRegister(PollFailuresTotal)
	prometheus.MustRegister(PollDuration)
	prometheus.MustRegister(PushEventsTotal)
	prometheus.MustRegister(PushEventsDropped)
	prometheus.MustRegister(OutOfOrderEvents)
	prometheus.MustRegister(NewArrivalsTotal)
	prometheus.MustRegister(AlertState)
	prometheus.MustRegister(ActiveAlerts)
	prometheus.MustRegister(TonesPlayed)
	prometheus.MustRegister(ToneFailures)
	prometheus.MustRegister(TransitionsTotal)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(DeliveryGaps)
	prometheus.MustRegister(NotifyDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(StreamClients)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(BackendUp)
	prometheus.MustRegister(BackendProbeDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
