// Package flow provides device-level consumers built on a session: a shadow
// mirror, a status watcher and a message watcher.
//
// Each component binds one device credential to a shared session, registers
// its listeners on the session's owner-scoped events ("shadow/data/updated:<id>",
// "device/status/response:<id>", "message:<group>") and hands what it
// receives to an Output. Components survive reconnects: their connect
// handlers re-run on every "connect" event.
//
// # Usage
//
//	dev := session.ParseCredential("dev-1:token")
//	m := flow.NewMirror(s, dev, func(msg flow.Message) {
//	    fmt.Println(msg.Topic, msg.Payload)
//	}, logger)
//	m.Start()
//	defer m.Close()
//
// Close removes every listener the component registered and releases its
// broker subscriptions when the session is connected.
package flow
