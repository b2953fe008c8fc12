package events

import (
	"sync"
	"time"
)

// Event is streamed to dashboard clients as readings and alerts come in.
// It is intentionally UI-friendly rather than store-internal.
type Event struct {
	Type             string   `json:"type"` // reading | alert
	DeviceID         string   `json:"device_id"`
	FarmerID         int64    `json:"farmer_id"`
	AlertType        string   `json:"alert_type,omitempty"`
	Severity         string   `json:"severity,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	Humidity         *float64 `json:"humidity,omitempty"`
	SoilMoisture     *float64 `json:"soil_moisture,omitempty"`
	LightIntensity   *float64 `json:"light_intensity,omitempty"`
	CompressionRatio float64  `json:"compression_ratio,omitempty"`
	IsPredicted      bool     `json:"is_predicted,omitempty"`
	Message          string   `json:"message,omitempty"`
	TSUnixMillis     int64    `json:"ts"`
}

// Hub is an in-memory broadcast fan-out. Slow subscribers drop events rather
// than block ingestion.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[chan Event]struct{}{}}
}

func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *Hub) Publish(evt Event) {
	if evt.TSUnixMillis == 0 {
		evt.TSUnixMillis = time.Now().UTC().UnixMilli()
	}

	// The read lock is held across the sends so a concurrent cancel cannot
	// close a channel mid-send. Sends never block, so the hold is short.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- evt:
		default:
			// Drop if subscriber is slow.
		}
	}
}
