package stream

import (
	"sync"

	"github.com/gorilla/websocket"
)

// WSTransport consumes the monitoring stream over a plain websocket. There is
// no topic routing on this transport: every frame is tagged with the
// "websocket" channel and the payload type is resolved by the normalizer.
type WSTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
}

const wsChannel = "websocket"

func NewWSTransport() *WSTransport {
	return &WSTransport{}
}

func (t *WSTransport) Open(url string, cb Callbacks) error {
	done := make(chan struct{})
	t.mu.Lock()
	t.done = done
	t.mu.Unlock()

	go func() {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			cb.OnError(err)
			return
		}
		t.mu.Lock()
		select {
		case <-done:
			t.mu.Unlock()
			_ = conn.Close()
			return
		default:
		}
		t.conn = conn
		t.mu.Unlock()
		cb.OnOpen()

		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-done:
				default:
					cb.OnClose()
				}
				return
			}
			if msgType == websocket.TextMessage {
				cb.OnMessage(wsChannel, string(data))
			} else {
				cb.OnMessage(wsChannel, data)
			}
		}
	}()
	return nil
}

func (t *WSTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		select {
		case <-t.done:
		default:
			close(t.done)
		}
	}
	if t.conn != nil {
		_ = t.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"))
		_ = t.conn.Close()
		t.conn = nil
	}
}

// Publish is not available on the monitoring websocket; commands go out over
// the MQTT transport.
func (t *WSTransport) Publish(string, byte, []byte) error {
	return ErrPublishUnsupported
}
