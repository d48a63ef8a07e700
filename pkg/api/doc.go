/*
Package api serves bellhop boards over HTTP and reports their health over
gRPC.

# HTTP routes

Every board route is rooted at /v1/tenants/{tenant}/{kind}, where kind is
"order" or "reservation":

	POST   .../open | close | restart | refresh
	GET    .../alert                      alert state and active ids
	POST   .../dismiss                    silence until the next arrival
	GET    .../records                    last known snapshot
	POST   .../records                    insert (stores that accept writes)
	GET    .../records/{id}
	POST   .../records/{id}/handle        clear the record's alert
	POST   .../records/{id}/transition    {"status", "reason", "note"}
	POST   .../records/{id}/occupy | release | assign
	GET    .../audio?device=
	POST   .../audio/activate | deactivate

	GET    /v1/ledger[?gaps=true]
	GET    /v1/tenants/{tenant}/ledger[?gaps=true]
	GET    /v1/stream?tenant=&kind=       websocket event stream
	GET    /health  /ready  /live  /metrics

Engine errors map onto status codes: invalid transitions are 409, a
rejection without reason is 422, unknown boards and records are 404, and an
unreachable record store or audio device is 503.

# Stream

The websocket stream relays alert.changed, board.record, chime.requested,
notification and board health events for one tenant. Board screens play the
chime when they receive chime.requested; that is how the broadcast tone
player reaches a browser.

# gRPC health

BoardHealth implements grpc.health.v1.Health. Each open board is a service
named "bellhop.board/<tenant>/<kind>" that turns NOT_SERVING after a failed
poll and SERVING again once a poll succeeds.
*/
package api
