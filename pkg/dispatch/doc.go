// Package dispatch delivers inbound packets to application handlers.
//
// A Dispatcher is the server's Publisher: the listener hands it every
// decoded packet the network core does not handle itself. Handlers
// subscribe by packet type, by category or to everything, each with a
// priority:
//
//	d := dispatch.New(dispatch.WithLogger(logger))
//
//	dispatch.On(d, dispatch.PriorityHigh, func(ctx context.Context, id server.ConnectionID, req *protocol.LoginRequest) error {
//		return accounts.Login(ctx, id, req)
//	})
//
//	d.SubscribeCategory(protocol.CategorySession, dispatch.PriorityLow, auditSession)
//
//	listener, err := server.New(cfg, registry, d, server.WithObserver(d))
//
// Handlers run on the sending connection's reader goroutine, one packet at
// a time per connection. Each publish is traced as one OpenTelemetry span
// using the global tracer provider.
package dispatch
