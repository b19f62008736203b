package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"doorwatch/internal/config"
)

// Client talks to the device orchestrator REST API: floor plans, device
// lifecycle, and action proxies. Boundary only; nothing here touches the
// event pipeline.
type Client struct {
	http   *resty.Client
	cfg    config.OrchestratorConfig
	logger *slog.Logger
}

type Device struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
}

type Health struct {
	OK     bool   `json:"ok"`
	Docker string `json:"docker,omitempty"`
	Error  string `json:"error,omitempty"`
}

func New(cfg config.OrchestratorConfig, logger *slog.Logger) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(10 * time.Second),
		cfg:    cfg,
		logger: logger,
	}
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/health")
	if err != nil {
		return Health{}, err
	}
	if resp.IsError() {
		return Health{}, fmt.Errorf("orchestrator health: %s", resp.Status())
	}
	return out, nil
}

// Plan fetches a floor plan by id into dest.
func (c *Client) Plan(ctx context.Context, floorID string, dest any) error {
	resp, err := c.http.R().SetContext(ctx).SetResult(dest).Get("/plans/" + floorID)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("plan %s: %s", floorID, resp.Status())
	}
	return nil
}

func (c *Client) SavePlan(ctx context.Context, floorID string, plan any) error {
	resp, err := c.http.R().SetContext(ctx).SetBody(plan).Post("/plans/" + floorID)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("save plan %s: %s", floorID, resp.Status())
	}
	return nil
}

// EnsureDevice asks the orchestrator to create or restart a device.
func (c *Client) EnsureDevice(ctx context.Context, kind, deviceID string) (Device, error) {
	var out struct {
		OK     bool   `json:"ok"`
		Device Device `json:"device"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"kind": kind, "device_id": deviceID}).
		SetResult(&out).
		Post("/devices")
	if err != nil {
		return Device{}, err
	}
	if resp.IsError() {
		return Device{}, fmt.Errorf("ensure device %s: %s", deviceID, resp.Status())
	}
	return out.Device, nil
}

func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var out []Device
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/devices")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("list devices: %s", resp.Status())
	}
	return out, nil
}

func (c *Client) DeleteDevice(ctx context.Context, deviceID string) error {
	resp, err := c.http.R().SetContext(ctx).Delete("/devices/" + deviceID)
	if err != nil {
		return err
	}
	if resp.IsError() && resp.StatusCode() != 404 {
		return fmt.Errorf("delete device %s: %s", deviceID, resp.Status())
	}
	return nil
}

// Badge proxies a badge swipe through the orchestrator.
func (c *Client) Badge(ctx context.Context, deviceID, badgeID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"badge_id": badgeID, "success": true}).
		Post("/badge/" + deviceID)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("badge %s: %s", deviceID, resp.Status())
	}
	return nil
}

// DoorAction proxies open/close/toggle through the orchestrator.
func (c *Client) DoorAction(ctx context.Context, deviceID, action string) error {
	resp, err := c.http.R().SetContext(ctx).Post("/door/" + deviceID + "/" + action)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("door %s %s: %s", deviceID, action, resp.Status())
	}
	return nil
}

// PollUntilReady polls the device list until the device reports ready. It
// always carries a deadline and answers not-ready on timeout rather than
// hang.
func (c *Client) PollUntilReady(ctx context.Context, kind, deviceID string) bool {
	timeout := c.cfg.ReadyTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	interval := c.cfg.ReadyInterval
	if interval <= 0 {
		interval = 800 * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		devices, err := c.Devices(ctx)
		if err == nil {
			for _, d := range devices {
				if d.ID == deviceID && d.Kind == kind && d.Ready {
					return true
				}
			}
		} else if c.logger != nil {
			c.logger.Debug("readiness poll failed", "device_id", deviceID, "err", err)
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
