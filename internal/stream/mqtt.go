package stream

import (
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"doorwatch/internal/config"
)

// MQTTTransport subscribes to the door-state and badge-event topics over one
// paho client. The client is single-use: a reconnect at the session level
// builds a fresh transport.
type MQTTTransport struct {
	cfg    config.StreamConfig
	logger *slog.Logger
	client mqtt.Client
}

func NewMQTTTransport(cfg config.StreamConfig, logger *slog.Logger) *MQTTTransport {
	return &MQTTTransport{cfg: cfg, logger: logger}
}

func (t *MQTTTransport) Open(url string, cb Callbacks) error {
	opts := mqtt.NewClientOptions().
		AddBroker(url).
		SetClientID(t.cfg.ClientID).
		SetOrderMatters(true).
		SetCleanSession(true).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(false).
		SetConnectTimeout(t.cfg.ConnectTimeout)

	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
	}
	if t.cfg.Password != "" {
		opts.SetPassword(t.cfg.Password)
	}

	qos := byte(t.cfg.QoS)
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		cb.OnMessage(msg.Topic(), msg.Payload())
	}

	opts.OnConnect = func(c mqtt.Client) {
		for _, topic := range []string{t.cfg.DoorStateTopic, t.cfg.BadgeEventsTopic} {
			if token := c.Subscribe(topic, qos, handler); token.Wait() && token.Error() != nil {
				if t.logger != nil {
					t.logger.Warn("mqtt subscribe failed", "topic", topic, "err", token.Error())
				}
			}
		}
		cb.OnOpen()
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		cb.OnError(err)
	}

	t.client = mqtt.NewClient(opts)
	token := t.client.Connect()
	go func() {
		if token.Wait(); token.Error() != nil {
			cb.OnError(token.Error())
		}
	}()
	return nil
}

func (t *MQTTTransport) Close() {
	if t.client == nil {
		return
	}
	t.client.Disconnect(250)
}

func (t *MQTTTransport) Publish(topic string, qos byte, payload []byte) error {
	if t.client == nil || !t.client.IsConnected() {
		return ErrNotConnected
	}
	token := t.client.Publish(topic, qos, false, payload)
	token.Wait()
	return token.Error()
}
