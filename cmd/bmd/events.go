package main

import (
	"log/slog"
	"sync"
	"time"
)

// changeEvent notes that the local tree may have changed.
type changeEvent struct {
	Source string
	At     time.Time
}

// changeHub fans change notifications from IPC mutations, the database
// watcher and sync operations out to subscribers.
type changeHub struct {
	logger  *slog.Logger
	mu      sync.Mutex
	clients map[chan changeEvent]struct{}
}

func newChangeHub(logger *slog.Logger) *changeHub {
	return &changeHub{
		logger:  logger,
		clients: make(map[chan changeEvent]struct{}),
	}
}

func (h *changeHub) subscribe() chan changeEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan changeEvent, 16)
	h.clients[ch] = struct{}{}
	return ch
}

func (h *changeHub) unsubscribe(ch chan changeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

func (h *changeHub) publish(ev changeEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("dropping change event for busy subscriber", "source", ev.Source)
		}
	}
}
