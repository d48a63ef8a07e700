/*
Package metrics defines bellhop's Prometheus metrics and the component
health registry behind /health and /ready.

# Metrics

Boards:

	bellhop_boards_open
	bellhop_snapshot_records{tenant, kind}
	bellhop_known_entities{tenant, kind}
	bellhop_new_arrivals_total{tenant, kind}
	bellhop_alert_state{tenant, kind}          0 idle, 1 alerting, 2 suppressed
	bellhop_active_alerts{tenant, kind}

Change channels:

	bellhop_poll_cycles_total{tenant, kind}
	bellhop_poll_failures_total{tenant, kind}
	bellhop_poll_duration_seconds{kind}
	bellhop_push_events_total{kind, op}
	bellhop_push_events_dropped_total
	bellhop_out_of_order_events_total{kind}

Audio and lifecycle:

	bellhop_tones_played_total
	bellhop_tone_failures_total
	bellhop_transitions_total{kind, target}

Notifications:

	bellhop_notifications_total{target, result}
	bellhop_delivery_gaps_total
	bellhop_notify_duration_seconds

API and backends:

	bellhop_api_requests_total{route, status}
	bellhop_api_request_duration_seconds{route}
	bellhop_stream_clients
	bellhop_backend_up{backend}
	bellhop_backend_probe_duration_seconds{backend}

API routes are labelled by their registered pattern, never by the raw path,
so tenant ids do not multiply series.

Useful queries:

	rate(bellhop_delivery_gaps_total[1h]) > 0          customers may be missing an email
	increase(bellhop_poll_failures_total[5m]) > 0       a record store is unreachable
	bellhop_alert_state == 1                            boards ringing right now

# Health

Components register with RegisterComponent and update with
UpdateComponent. GetHealth reports "unhealthy" when any component is down,
except board components (named "board/<tenant>/<kind>"), which only make it
"degraded": one tenant's unreachable store does not take the node down.
Board components are reported under "boards", keyed "<tenant>/<kind>".
GetReadiness fails until every critical component ("records", "ledger",
"api") is registered and healthy.

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.PollDuration, "order")
*/
package metrics
