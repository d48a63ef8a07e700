/*
Package reconciler keeps one board's view of its record store current.

A board learns about records through two channels:

	┌──────────────┐   single change    ┌──────────────┐
	│ change feed  │───────────────────▶│              │
	└──────────────┘                    │              │──▶ snapshot.Store
	                                    │  Reconciler  │──▶ tracker.Tracker
	┌──────────────┐   full snapshot    │   (Apply)    │──▶ alert.Session
	│  poll loop   │───────────────────▶│              │──▶ board.record events
	└──────────────┘  every interval    └──────────────┘

The push channel is fast but may drop or reorder events; the poll channel
is slow but complete. Both feed Apply, which holds the board mutex for the
whole merge, so the snapshot, the known-entity set and the alert set always
change together.

# Startup

Start fetches the first snapshot and seeds the tracker with every id in it
before anything else runs. Records that existed when the board opened are
therefore never "new" and never alert. If the first fetch fails, Start
returns an error wrapping the fetch error and the board does not open.

# Merging

A polled snapshot replaces the stored one. Records whose ids the tracker has
not seen are classified as fresh; fresh records that satisfy the kind's
alert predicate are flagged on the alert session. Active alert ids whose
record is in the snapshot but no longer matches the predicate are handled.
An active id missing from a snapshot stays active: the snapshot may have
been fetched before the push that brought it.

Each applied push takes the next push sequence number. The poll loop notes
the sequence before fetching and applies its result with PollAfter; records
pushed after that point keep their pushed state (or stay deleted) instead of
the snapshot's older copy. A snapshot fetched before one already applied is
dropped.

A pushed change upserts or deletes a single record. A status change the
lifecycle graph cannot reach from the stored status is counted and logged
as out of order, then applied anyway: the store is authoritative.

# Failures

A failed poll keeps the last snapshot, increments
bellhop_poll_failures_total, marks the board's health component unhealthy
and publishes board.poll_failed once per outage. The next successful poll
publishes board.poll_restored. A failed subscription is logged and the
board runs on polling alone.
*/
package reconciler
