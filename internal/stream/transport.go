package stream

import "errors"

// Callbacks are the transport lifecycle hooks owned by the session. A
// transport must deliver OnMessage callbacks one at a time.
type Callbacks struct {
	OnOpen    func()
	OnClose   func()
	OnError   func(err error)
	OnMessage func(topic string, payload any)
}

// Transport is one persistent connection to the event stream. Open may
// return a synchronous setup error; asynchronous outcomes flow through the
// callbacks. Close is best-effort and must swallow its own failures.
type Transport interface {
	Open(url string, cb Callbacks) error
	Close()
	Publish(topic string, qos byte, payload []byte) error
}

var ErrNotConnected = errors.New("stream: not connected")

var ErrPublishUnsupported = errors.New("stream: transport does not support publishing")
