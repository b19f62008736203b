package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"doorwatch/internal/config"
	"doorwatch/internal/eventlog"
	"doorwatch/internal/model"
	"doorwatch/internal/orchestrator"
	"doorwatch/internal/state"
)

// SessionControl is the slice of the stream session the API drives.
type SessionControl interface {
	Connect(url string)
	Disconnect(reset bool)
	State() (model.ConnState, string, string)
}

// Commander publishes device commands onto the stream.
type Commander interface {
	SimulateBadge(deviceID, badgeID, doorID string) error
	Door(deviceID, action string, data *model.DoorCommandData) error
}

type Server struct {
	cfg     *config.Manager
	log     *eventlog.Log
	devices *state.Store
	session SessionControl
	cmd     Commander
	broker  *Broker
	orch    *orchestrator.Client
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status     string    `json:"status"`
	Time       string    `json:"time"`
	Version    string    `json:"version"`
	ConfigPath string    `json:"config_path"`
	Stream     srvStream `json:"stream"`
	Log        srvLog    `json:"log"`
}

type srvStream struct {
	State     string `json:"state"`
	URL       string `json:"url,omitempty"`
	LastError string `json:"last_error,omitempty"`
	Transport string `json:"transport"`
}

type srvLog struct {
	Length   int `json:"length"`
	Capacity int `json:"capacity"`
}

func Start(ctx context.Context, cfg *config.Manager, log *eventlog.Log, devices *state.Store, session SessionControl, cmd Commander, broker *Broker, orch *orchestrator.Client, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:     cfg,
		log:     log,
		devices: devices,
		session: session,
		cmd:     cmd,
		broker:  broker,
		orch:    orch,
		logger:  logger,
		version: version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", server.handleHealthz)
	mux.HandleFunc("/api/status", server.handleStatus)
	mux.HandleFunc("/api/logs", server.handleLogs)
	mux.HandleFunc("/api/devices", server.handleDevices)
	mux.HandleFunc("/api/connect", server.handleConnect)
	mux.HandleFunc("/api/disconnect", server.handleDisconnect)
	mux.HandleFunc("/api/badge", server.handleBadge)
	mux.HandleFunc("/api/door/", server.handleDoor)
	if broker != nil {
		mux.Handle("/api/stream", broker)
	}
	if orch != nil {
		mux.HandleFunc("/api/orchestrator/health", server.handleOrchHealth)
		mux.HandleFunc("/api/orchestrator/devices", server.handleOrchDevices)
		mux.HandleFunc("/api/orchestrator/devices/", server.handleOrchDevice)
		mux.HandleFunc("/api/orchestrator/plans/", server.handleOrchPlan)
	}
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	st, lastErr, url := s.session.State()
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Stream: srvStream{
			State:     string(st),
			URL:       url,
			LastError: lastErr,
			Transport: cfg.Stream.Transport,
		},
		Log: srvLog{Length: s.log.Len(), Capacity: s.log.Capacity()},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				limit = n
			}
		}
		list := s.log.Recent(limit)
		writeJSON(w, http.StatusOK, map[string]any{
			"events": list,
			"count":  len(list),
		})
	case http.MethodDelete:
		s.log.Clear()
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"doors":  s.devices.Doors(),
		"badges": s.devices.Badges(),
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		URL string `json:"url"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	url := strings.TrimSpace(req.URL)
	if url == "" {
		url = s.cfg.Get().Stream.URL
	}
	if url == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing url"})
		return
	}
	s.session.Connect(url)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "connecting", "url": url})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	reset := r.URL.Query().Get("reset") == "true"
	s.session.Disconnect(reset)
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (s *Server) handleBadge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		DeviceID string `json:"device_id"`
		BadgeID  string `json:"badge_id"`
		DoorID   string `json:"door_id"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.cmd.SimulateBadge(req.DeviceID, req.BadgeID, req.DoorID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDoor routes /api/door/{device}/{action}.
func (s *Server) handleDoor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/door/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var data *model.DoorCommandData
	if r.ContentLength > 0 {
		var body model.DoorCommandData
		if err := decodeBody(w, r, &body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data = &body
	}
	if err := s.cmd.Door(parts[0], parts[1], data); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleOrchHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	h, err := s.orch.Health(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleOrchDevices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		devices, err := s.orch.Devices(r.Context())
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
	case http.MethodPost:
		var req struct {
			Kind     string `json:"kind"`
			DeviceID string `json:"device_id"`
			Wait     bool   `json:"wait"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		dev, err := s.orch.EnsureDevice(r.Context(), req.Kind, req.DeviceID)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		ready := dev.Ready
		if req.Wait && !ready {
			ready = s.orch.PollUntilReady(r.Context(), req.Kind, req.DeviceID)
		}
		writeJSON(w, http.StatusOK, map[string]any{"device": dev, "ready": ready})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleOrchDevice routes DELETE /api/orchestrator/devices/{id}.
func (s *Server) handleOrchDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/orchestrator/devices/"), "/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := s.orch.DeleteDevice(r.Context(), id); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleOrchPlan routes GET/POST /api/orchestrator/plans/{floor}.
func (s *Server) handleOrchPlan(w http.ResponseWriter, r *http.Request) {
	floor := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/orchestrator/plans/"), "/")
	if floor == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		var plan json.RawMessage
		if err := s.orch.Plan(r.Context(), floor, &plan); err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(plan)
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil || len(body) == 0 || !json.Valid(body) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := s.orch.SavePlan(r.Context(), floor, json.RawMessage(body)); err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
