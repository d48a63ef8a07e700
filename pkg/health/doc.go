/*
Package health probes the backends a bellhop node depends on and feeds the
results into the node's health registry.

# Architecture

	┌───────────────────────────┐
	│          Monitor          │  every Config.Interval
	└─────┬───────────────┬─────┘
	      │               │
	      ▼               ▼
	┌────────────┐  ┌────────────┐
	│PingChecker │  │HTTPChecker │
	│ records    │  │ notify     │
	│ ledger     │  │ (webhook)  │
	│ feed       │  └────────────┘
	└────────────┘
	      │
	      ▼
	metrics.RegisterComponent(name, healthy, message)
	bellhop_backend_up{backend}

PingChecker wraps a backend's Ping method: a database ping for Postgres and
SQLite, PING for Redis, and an empty read transaction for the local bolt
file. HTTPChecker sends HEAD to the notification webhook; any answer below
500 counts, since the probe only proves the endpoint is reachable.

A backend turns unhealthy only after Config.Retries consecutive failures and
healthy again on the first success. Because "records", "ledger" and "api"
are critical components, /ready fails while the record store or the sent
ledger is down.

# Usage

	monitor := health.NewMonitor(health.DefaultConfig())
	for name, checker := range mgr.Probes() {
		monitor.Add(name, checker)
	}
	monitor.Start()
	defer monitor.Stop()
*/
package health
