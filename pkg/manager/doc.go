/*
Package manager runs the board sessions of one bellhop node.

A node monitors any number of boards, each identified by a tenant and a
record kind. The Manager opens one session.Session per board and hands all
of them the same backends: the record store, the push channel, the sent
ledger, the device flag store and the notification transport.

# Backends

OpenBackends builds the backends from config.Config:

	records   bolt | postgres | memory
	feed      local | redis | none
	ledger    bolt | sqlite | postgres | redis | memory
	notify    log | webhook | none
	audio     broadcast | wav | none

The bolt database is opened once and serves every role configured to use
it. A "local" feed means the record store publishes its own writes, which
only the bolt and memory stores do.

# Sessions

Sessions never share tracker, snapshot or alert state. Restart closes a
board and opens it again with fresh state, which is what switching the
active tenant on a device does. Open and Close publish board.opened and
board.closed on the event broker.

InsertRecord accepts new records for stores that take writes and, when the
push channel is Redis, publishes the insert so every node sees it before its
next poll.

The MetricsCollector samples snapshot and tracker sizes every 15 seconds.
*/
package manager
