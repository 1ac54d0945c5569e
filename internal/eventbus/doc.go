// Package eventbus provides the in-process listener registry a session uses
// to deliver routed broker traffic to application code.
//
// Listeners are registered against an event name and identified by handle
// (*Listener), so registering the same handle twice is a no-op. Emission is
// synchronous, in registration order, and isolates each listener: a listener
// that panics or returns an error is logged and the remaining listeners still
// run.
//
// # Usage
//
//	bus := eventbus.New(logger)
//	l := eventbus.NewListener(func(e eventbus.Event) error {
//	    fmt.Println(e.Name, e.Payload)
//	    return nil
//	})
//	bus.On("shadow/data/updated", l)
//	bus.Emit("shadow/data/updated", payload)
//	bus.Off("shadow/data/updated", l)
//
// Thread Safety: all methods are safe for concurrent use. Emissions of one
// event name never interleave: an Emit of an event that is already being
// delivered (for example from inside a listener) is queued and delivered once
// the in-flight emission completes.
package eventbus
