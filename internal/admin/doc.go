// Package admin serves the operator HTTP endpoints of a realm server.
//
//	GET    /healthz            liveness and connection counters
//	GET    /metrics            Prometheus exposition
//	GET    /connections        live connections, optionally ?state=Connected
//	GET    /connections/{id}   one connection
//	DELETE /connections/{id}   disconnect with reason Kicked (?message=...)
//	GET    /schedulers         the scheduler tree
//	GET    /ws                 the game WebSocket bridge, when mounted
//
// The admin server is meant for a private interface; it has no
// authentication of its own.
package admin
