package session

// Transport is a live broker connection as seen by a session.
//
// Subscribe, Unsubscribe and Publish block until the broker acknowledges or
// the transport's own timeout expires. Close must stop every callback from
// firing before it returns, and must be safe to call more than once.
type Transport interface {
	Subscribe(topic string) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte) error
	Close()
}

// Handlers are the transport callbacks a session installs when dialing.
// OnConnect fires on every successful (re)connect, OnClose whenever an
// established connection is lost.
type Handlers struct {
	OnConnect func()
	OnClose   func()
	OnError   func(err error)
	OnMessage func(topic string, payload []byte)
}

// DialFunc starts a connection attempt and returns immediately. The outcome
// is reported through h.
type DialFunc func(id Identity, h Handlers) (Transport, error)
