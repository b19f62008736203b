package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"doorwatch/internal/model"
)

// Broker fans appended events out to connected SSE clients. Slow clients
// lose frames instead of blocking the pipeline.
type Broker struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger:  logger,
		clients: make(map[chan []byte]struct{}),
	}
}

// Publish broadcasts one normalized event to every client.
func (b *Broker) Publish(ev model.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients {
		select {
		case client <- data:
		default:
		}
	}
}

func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan []byte, 16)
	b.add(ch)
	defer b.remove(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func (b *Broker) add(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[ch] = struct{}{}
	if b.logger != nil {
		b.logger.Debug("sse client connected")
	}
}

func (b *Broker) remove(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
		if b.logger != nil {
			b.logger.Debug("sse client disconnected")
		}
	}
}
