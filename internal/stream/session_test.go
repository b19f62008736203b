package stream

import (
	"errors"
	"sync"
	"testing"
	"time"

	"doorwatch/internal/config"
	"doorwatch/internal/eventlog"
	"doorwatch/internal/model"
	"doorwatch/internal/normalize"
	"doorwatch/internal/state"
)

type fakeTransport struct {
	mu        sync.Mutex
	cb        Callbacks
	openErr   error
	closed    int
	published []fakePublish
}

type fakePublish struct {
	topic   string
	payload []byte
}

func (f *fakeTransport) Open(_ string, cb Callbacks) error {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
	return f.openErr
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
}

func (f *fakeTransport) Publish(topic string, _ byte, payload []byte) error {
	f.mu.Lock()
	f.published = append(f.published, fakePublish{topic: topic, payload: payload})
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) callbacks() Callbacks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

type fixture struct {
	session *Session
	log     *eventlog.Log
	devices *state.Store
	next    *fakeTransport
}

func newFixture() *fixture {
	cfg := config.DefaultConfig().Stream
	log := eventlog.New(10)
	devices := state.New()
	norm := normalize.New(config.DefaultTemplates(),
		normalize.WithClock(func() time.Time {
			return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		}))
	fx := &fixture{
		log:     log,
		devices: devices,
		next:    &fakeTransport{},
	}
	fx.session = NewSession(cfg, log, devices, norm, nil, nil)
	fx.session.SetTransportFactory(func() Transport { return fx.next })
	return fx
}

func (fx *fixture) mustState(t *testing.T, want model.ConnState) {
	t.Helper()
	st, _, _ := fx.session.State()
	if st != want {
		t.Fatalf("state = %s, want %s", st, want)
	}
}

func TestConnectPassesThroughConnecting(t *testing.T) {
	fx := newFixture()
	var seen []model.ConnState
	fx.session.SubscribeState(func(st model.ConnState, _, _ string) {
		seen = append(seen, st)
	})
	fx.session.Connect("tcp://broker:1883")
	fx.mustState(t, model.ConnConnecting)
	fx.next.callbacks().OnOpen()
	fx.mustState(t, model.ConnConnected)
	if len(seen) < 2 || seen[0] != model.ConnConnecting {
		t.Fatalf("transitions: %v", seen)
	}
}

func TestConnectSyncOpenFailure(t *testing.T) {
	fx := newFixture()
	fx.next.openErr = errors.New("dial refused")
	fx.session.Connect("tcp://nowhere:1883")
	st, lastErr, url := fx.session.State()
	if st != model.ConnError {
		t.Fatalf("state: %s", st)
	}
	if lastErr != "dial refused" {
		t.Fatalf("last error: %q", lastErr)
	}
	if url != "" {
		t.Fatalf("url must be cleared, got %q", url)
	}
}

func TestTransportErrorSignal(t *testing.T) {
	fx := newFixture()
	fx.session.Connect("tcp://broker:1883")
	fx.next.callbacks().OnOpen()
	fx.next.callbacks().OnError(errors.New("connection lost"))
	st, lastErr, url := fx.session.State()
	if st != model.ConnError || lastErr != "stream unavailable" || url != "" {
		t.Fatalf("state=%s err=%q url=%q", st, lastErr, url)
	}
}

func TestCloseSignalAfterConnect(t *testing.T) {
	fx := newFixture()
	fx.session.Connect("tcp://broker:1883")
	fx.next.callbacks().OnOpen()
	fx.next.callbacks().OnClose()
	st, _, url := fx.session.State()
	if st != model.ConnError {
		t.Fatalf("unexpected close must land in error, got %s", st)
	}
	if url != "" {
		t.Fatalf("url must be cleared")
	}
}

func TestDisconnectResetsToIdle(t *testing.T) {
	fx := newFixture()
	fx.session.Connect("tcp://broker:1883")
	fx.next.callbacks().OnOpen()
	fx.session.Disconnect(true)
	st, _, url := fx.session.State()
	if st != model.ConnIdle || url != "" {
		t.Fatalf("state=%s url=%q", st, url)
	}
	if fx.next.closed != 1 {
		t.Fatalf("transport must be closed once, got %d", fx.next.closed)
	}
}

func TestStaleCallbacksIgnoredAfterReconnect(t *testing.T) {
	fx := newFixture()
	first := &fakeTransport{}
	fx.next = first
	fx.session.Connect("tcp://a:1883")
	second := &fakeTransport{}
	fx.next = second
	fx.session.Connect("tcp://b:1883")
	if first.closed != 1 {
		t.Fatalf("prior transport must be force-closed")
	}
	fx.mustState(t, model.ConnConnecting)
	// The replaced transport's callbacks must not move the machine.
	first.callbacks().OnError(errors.New("late error"))
	fx.mustState(t, model.ConnConnecting)
	second.callbacks().OnOpen()
	fx.mustState(t, model.ConnConnected)
}

func TestDisconnectWithoutResetKeepsState(t *testing.T) {
	fx := newFixture()
	fx.session.Connect("tcp://broker:1883")
	fx.next.callbacks().OnOpen()
	fx.session.Disconnect(false)
	fx.mustState(t, model.ConnConnected)
}

func TestBadgeEventFrameEndToEnd(t *testing.T) {
	fx := newFixture()
	text := `{"type":"badge_event","ts":"2024-01-01T00:00:00Z","data":{"badge_id":"B1","success":true}}`
	fx.session.handleFrame(frame{topic: "iot/badgeuse/dev1/events", payload: []byte(text)})

	snap := fx.log.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("log len: %d", len(snap))
	}
	ev := snap[0]
	if ev.BadgeID != "B1" || ev.Status != model.StatusSuccess || ev.Topic != "badge_event" {
		t.Fatalf("event: %+v", ev)
	}
	if ev.Message != "Access granted for B1" {
		t.Fatalf("message: %q", ev.Message)
	}
	sighting, ok := fx.devices.LastBadge("dev1")
	if !ok || sighting.BadgeID != "B1" {
		t.Fatalf("last badge: %+v ok=%v", sighting, ok)
	}
}

func TestDoorStateFrameUpdatesLogAndState(t *testing.T) {
	fx := newFixture()
	text := `{"device_id":"doorA","type":"door_state","data":{"is_open":true}}`
	fx.session.handleFrame(frame{topic: "iot/porte/doorA/state", payload: text})

	open, ok := fx.devices.DoorOpen("doorA")
	if !ok || !open {
		t.Fatalf("doorA open=%v ok=%v", open, ok)
	}
	snap := fx.log.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("a state frame must still append a log row")
	}
	if snap[0].Message != "Event detected" {
		t.Fatalf("message: %q", snap[0].Message)
	}
	if snap[0].Topic != "door_state" {
		t.Fatalf("topic: %q", snap[0].Topic)
	}
}

func TestUnparseableFrameStillLogs(t *testing.T) {
	fx := newFixture()
	fx.session.handleFrame(frame{topic: "iot/porte/doorA/state", payload: "{not json"})
	snap := fx.log.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("exactly one entry expected, got %d", len(snap))
	}
	if snap[0].Payload != nil || snap[0].Status != model.StatusInfo {
		t.Fatalf("entry: %+v", snap[0])
	}
	if len(fx.devices.Doors()) != 0 {
		t.Fatalf("state fold must be skipped silently")
	}
}

func TestEmptyFrameProducesNothing(t *testing.T) {
	fx := newFixture()
	fx.session.handleFrame(frame{topic: "iot/porte/doorA/state", payload: nil})
	fx.session.handleFrame(frame{topic: "iot/porte/doorA/state", payload: ""})
	if fx.log.Len() != 0 {
		t.Fatalf("empty frames must not log, got %d", fx.log.Len())
	}
}

func TestUndecodableBinarySurfacesConnectionError(t *testing.T) {
	fx := newFixture()
	fx.session.handleFrame(frame{topic: "ch", payload: func() {}})
	if fx.log.Len() != 0 {
		t.Fatalf("dropped frame must not log")
	}
	_, lastErr, _ := fx.session.State()
	if lastErr != "unsupported binary payload" {
		t.Fatalf("last error: %q", lastErr)
	}
}

func TestOrdinaryDisconnectPreservesLog(t *testing.T) {
	fx := newFixture()
	fx.session.Connect("tcp://broker:1883")
	fx.next.callbacks().OnOpen()
	fx.session.handleFrame(frame{topic: "iot/porte/doorA/state", payload: `{"device_id":"doorA","data":{"is_open":true}}`})
	fx.session.Disconnect(true)
	if fx.log.Len() != 1 {
		t.Fatalf("log must survive disconnect, got %d", fx.log.Len())
	}
}

func TestOnEventHookRuns(t *testing.T) {
	fx := newFixture()
	var got []model.Event
	fx.session.OnEvent(func(ev model.Event) { got = append(got, ev) })
	fx.session.handleFrame(frame{topic: "ch", payload: `{"type":"badge_event","data":{"badge_id":"B1","success":true}}`})
	if len(got) != 1 || got[0].BadgeID != "B1" {
		t.Fatalf("hook events: %+v", got)
	}
}

func TestPublishRequiresTransport(t *testing.T) {
	fx := newFixture()
	if err := fx.session.Publish("t", []byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	fx.session.Connect("tcp://broker:1883")
	fx.next.callbacks().OnOpen()
	if err := fx.session.Publish("iot/porte/doorA/commands", []byte(`{"action":"open"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fx.next.published) != 1 || fx.next.published[0].topic != "iot/porte/doorA/commands" {
		t.Fatalf("published: %+v", fx.next.published)
	}
}
