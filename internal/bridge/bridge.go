package bridge

import (
	"log/slog"
	"sync"
	"time"

	"doorwatch/internal/config"
	"doorwatch/internal/model"
)

// DoorCommander actuates doors; satisfied by the dispatcher.
type DoorCommander interface {
	Door(deviceID, action string, data *model.DoorCommandData) error
}

// Bridge folds successful badge events into door-open commands: per-door
// debounce against badge spam, and an auto-close timer re-armed when the same
// door is re-triggered while open.
type Bridge struct {
	cmd    DoorCommander
	cfg    config.BridgeConfig
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	lastTrigger map[string]time.Time
	closeTimers map[string]*time.Timer
}

func New(cmd DoorCommander, cfg config.BridgeConfig, logger *slog.Logger) *Bridge {
	return &Bridge{
		cmd:         cmd,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
		lastTrigger: make(map[string]time.Time),
		closeTimers: make(map[string]*time.Timer),
	}
}

// HandleEvent runs on the pipeline goroutine for every normalized event.
// Only successful badge events carrying a door id actuate anything.
func (b *Bridge) HandleEvent(ev model.Event) {
	if ev.Topic != "badge_event" {
		return
	}
	if ev.Status != model.StatusSuccess {
		return
	}
	if ev.DoorID == "" {
		if b.logger != nil {
			b.logger.Warn("badge event without door id", "device_id", ev.DeviceID, "badge_id", ev.BadgeID)
		}
		return
	}
	if !b.allow(ev.DoorID) {
		return
	}

	data := &model.DoorCommandData{
		BadgeDeviceID: ev.DeviceID,
		TagID:         ev.BadgeID,
		Success:       true,
	}
	if err := b.cmd.Door(ev.DoorID, b.cfg.OpenAction, data); err != nil {
		if b.logger != nil {
			b.logger.Warn("door open command failed", "door_id", ev.DoorID, "err", err)
		}
		return
	}
	if b.logger != nil {
		b.logger.Info("door opened by badge", "door_id", ev.DoorID, "badge_id", ev.BadgeID)
	}
	b.scheduleAutoClose(ev.DoorID)
}

// allow applies the per-door debounce window.
func (b *Bridge) allow(doorID string) bool {
	if b.cfg.Debounce <= 0 {
		return true
	}
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	if last, ok := b.lastTrigger[doorID]; ok && now.Sub(last) < b.cfg.Debounce {
		return false
	}
	b.lastTrigger[doorID] = now
	return true
}

func (b *Bridge) scheduleAutoClose(doorID string) {
	if b.cfg.AutoClose <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.closeTimers[doorID]; ok {
		t.Stop()
	}
	b.closeTimers[doorID] = time.AfterFunc(b.cfg.AutoClose, func() {
		if err := b.cmd.Door(doorID, "close", nil); err != nil && b.logger != nil {
			b.logger.Warn("auto-close failed", "door_id", doorID, "err", err)
		}
		b.mu.Lock()
		delete(b.closeTimers, doorID)
		b.mu.Unlock()
	})
}

// Stop cancels pending auto-close timers.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, t := range b.closeTimers {
		t.Stop()
		delete(b.closeTimers, id)
	}
}
