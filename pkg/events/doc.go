/*
Package events is the in-process event broker of a bellhop node.

Publish never blocks on slow subscribers: events go through a buffered
channel and each subscriber has its own buffer, and an event that does not
fit in a subscriber's buffer is dropped for that subscriber only.

Event types:

	record.inserted | updated | deleted   raw writes to the local bolt store
	board.record                          a record merged by a board
	board.opened | closed                 board lifecycle
	board.poll_failed | poll_restored     record store reachability
	alert.changed                         a board's alert state changed
	chime.requested                       a board screen should play the tone
	notification.sent | gap               customer email outcome

Subscriptions take filters and receive only the events matching all of
them. The local bolt store subscribes to its own record.* events of one board
to serve as a change feed, the websocket stream relays everything but
record.* for the client's board, and the gRPC health service follows board.*.
Drops are counted in bellhop_events_dropped_total.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe(events.ForBoard("acme", "order"), events.InCategory("board"))
	defer broker.Unsubscribe(sub)
	for ev := range sub {
		fmt.Println(ev.Type, ev.TenantID, ev.Kind)
	}
*/
package events
