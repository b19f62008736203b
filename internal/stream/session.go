package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"doorwatch/internal/config"
	"doorwatch/internal/decode"
	"doorwatch/internal/eventlog"
	"doorwatch/internal/metrics"
	"doorwatch/internal/model"
	"doorwatch/internal/normalize"
	"doorwatch/internal/state"
)

// StateListener observes connection state changes and last-error updates.
type StateListener func(st model.ConnState, lastErr string, url string)

// Session owns the single live transport handle and the frame pipeline. All
// inbound frames funnel through one channel consumed by one goroutine, so the
// event log and device projections are mutated strictly in arrival order
// within the same synchronous step.
type Session struct {
	logger  *slog.Logger
	cfg     config.StreamConfig
	log     *eventlog.Log
	devices *state.Store
	norm    *normalize.Normalizer
	metrics *metrics.Pipeline

	newTransport func() Transport

	mu        sync.Mutex
	transport Transport
	gen       uint64
	connState model.ConnState
	lastErr   string
	url       string
	stateSubs []StateListener
	hooks     []func(model.Event)

	frames chan frame
}

type frame struct {
	topic   string
	payload any
}

func NewSession(cfg config.StreamConfig, log *eventlog.Log, devices *state.Store, norm *normalize.Normalizer, logger *slog.Logger, m *metrics.Pipeline) *Session {
	s := &Session{
		logger:    logger,
		cfg:       cfg,
		log:       log,
		devices:   devices,
		norm:      norm,
		metrics:   m,
		connState: model.ConnIdle,
		frames:    make(chan frame, cfg.ChannelBuffer),
	}
	s.newTransport = func() Transport {
		if cfg.Transport == "websocket" {
			return NewWSTransport()
		}
		return NewMQTTTransport(cfg, logger)
	}
	return s
}

// SetTransportFactory overrides transport construction, used by tests.
func (s *Session) SetTransportFactory(factory func() Transport) {
	s.newTransport = factory
}

// OnEvent registers a hook invoked for every normalized event, on the
// pipeline goroutine. Register before Start.
func (s *Session) OnEvent(fn func(model.Event)) {
	if fn != nil {
		s.hooks = append(s.hooks, fn)
	}
}

func (s *Session) SubscribeState(fn StateListener) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.stateSubs = append(s.stateSubs, fn)
	s.mu.Unlock()
}

// State returns the current connection state, last error, and target url.
func (s *Session) State() (model.ConnState, string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connState, s.lastErr, s.url
}

// Start launches the pipeline consumer.
func (s *Session) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case f := <-s.frames:
				s.handleFrame(f)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Connect tears down any prior transport silently, then opens a fresh one.
// Every reconnect passes through connecting; a synchronous open failure lands
// in error with the url cleared.
func (s *Session) Connect(url string) {
	if url == "" {
		return
	}
	prev, gen := s.detach()
	if prev != nil {
		prev.Close()
	}

	s.apply(func() {
		s.connState = model.ConnConnecting
		s.lastErr = ""
		s.url = url
	})

	t := s.newTransport()
	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()

	cb := Callbacks{
		OnOpen: func() {
			if !s.current(gen) {
				return
			}
			s.apply(func() { s.connState = model.ConnConnected })
		},
		OnClose: func() {
			if !s.current(gen) {
				return
			}
			s.apply(func() {
				if s.connState != model.ConnIdle {
					s.connState = model.ConnError
				}
				s.url = ""
			})
		},
		OnError: func(err error) {
			if !s.current(gen) {
				return
			}
			if s.logger != nil {
				s.logger.Warn("stream transport error", "err", err)
			}
			s.apply(func() {
				s.connState = model.ConnError
				s.lastErr = "stream unavailable"
				s.url = ""
			})
		},
		OnMessage: func(topic string, payload any) {
			if !s.current(gen) {
				return
			}
			s.enqueue(topic, payload)
		},
	}

	if err := t.Open(url, cb); err != nil {
		s.apply(func() {
			s.connState = model.ConnError
			s.lastErr = err.Error()
			s.url = ""
		})
	}
}

// Disconnect closes the transport best-effort. With reset the machine lands
// in idle with no recorded url; without it the state is left untouched, which
// callers use to reconnect without a spurious idle flash.
func (s *Session) Disconnect(reset bool) {
	prev, _ := s.detach()
	if prev != nil {
		prev.Close()
	}
	if reset {
		s.apply(func() {
			s.connState = model.ConnIdle
			s.url = ""
		})
	}
}

// Publish sends an outbound payload on the current transport.
func (s *Session) Publish(topic string, payload []byte) error {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil {
		return ErrNotConnected
	}
	return t.Publish(topic, byte(s.cfg.QoS), payload)
}

// detach replaces the live handle, invalidating its callbacks. The caller
// closes the returned transport outside the lock.
func (s *Session) detach() (Transport, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.transport
	s.transport = nil
	s.gen++
	return prev, s.gen
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

// apply mutates connection state under the lock and notifies subscribers
// with a consistent snapshot.
func (s *Session) apply(mutate func()) {
	s.mu.Lock()
	before := s.connState
	mutate()
	st, lastErr, url := s.connState, s.lastErr, s.url
	subs := s.stateSubs
	s.mu.Unlock()

	if s.metrics != nil && st != before {
		s.metrics.ConnTransitions.WithLabelValues(string(st)).Inc()
	}
	for _, fn := range subs {
		fn(st, lastErr, url)
	}
}

func (s *Session) enqueue(topic string, payload any) {
	select {
	case s.frames <- frame{topic: topic, payload: payload}:
	default:
		if s.logger != nil {
			s.logger.Warn("frame channel full, dropping frame", "topic", topic)
		}
		if s.metrics != nil {
			s.metrics.FramesDropped.Inc()
		}
	}
}

// handleFrame is the whole per-frame pipeline: decode, normalize, append,
// fold device state, then run hooks. Log append and state fold happen in the
// same synchronous step, so readers never observe one without the other.
func (s *Session) handleFrame(f frame) {
	text := decode.Text(f.payload)
	if text == "" {
		if binaryPayload(f.payload) {
			if s.metrics != nil {
				s.metrics.DecodeFailures.Inc()
			}
			s.apply(func() { s.lastErr = "unsupported binary payload" })
		}
		return
	}

	if s.metrics != nil {
		s.metrics.FramesTotal.WithLabelValues(s.channelKind(f.topic)).Inc()
	}

	ev := s.norm.Normalize(text, f.topic)
	s.log.Append(ev)
	if s.metrics != nil {
		s.metrics.EventsAppended.Inc()
	}

	if MatchTopic(s.cfg.DoorStateTopic, f.topic) {
		if s.devices.ApplyDoorState(text) && s.metrics != nil {
			s.metrics.StateUpdates.WithLabelValues("door").Inc()
		}
	}
	if MatchTopic(s.cfg.BadgeEventsTopic, f.topic) {
		device := DeviceSegment(s.cfg.BadgeEventsTopic, f.topic)
		if s.devices.ApplyBadgeEvent(device, text) && s.metrics != nil {
			s.metrics.StateUpdates.WithLabelValues("badge").Inc()
		}
	}

	for _, hook := range s.hooks {
		hook(ev)
	}
}

func (s *Session) channelKind(topic string) string {
	switch {
	case MatchTopic(s.cfg.DoorStateTopic, topic):
		return "door_state"
	case MatchTopic(s.cfg.BadgeEventsTopic, topic):
		return "badge_events"
	default:
		return "other"
	}
}

// binaryPayload reports whether an undecodable frame came from the binary
// path, which surfaces as a connection-level error rather than a log entry.
func binaryPayload(payload any) bool {
	switch p := payload.(type) {
	case nil, string:
		return false
	case []byte:
		return len(p) > 0
	case json.RawMessage:
		return len(p) > 0
	default:
		return true
	}
}
