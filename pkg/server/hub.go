package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/zboyco/gt06hub/internal/observability"
)

// Observer is one fan-out target, usually a WebSocket connection. Send and
// Close may be called from different goroutines; implementations serialize
// their own writes or rely on the hub's per-observer lock.
type Observer interface {
	Send(msg []byte) error
	Close() error
}

// Envelope is the JSON wrapper every observer message travels in.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	MsgInitialState = "initial_state"
	MsgUpdate       = "update"
)

// Hub fans device updates out to all registered observers. A failed send
// removes that observer and never interrupts delivery to the rest.
type Hub struct {
	mu        sync.RWMutex
	observers map[Observer]*observerEntry
	closed    bool

	store *DeviceStore
}

// observerEntry serializes writes to one observer. Register holds the
// entry lock while sending the snapshot, so initial_state always lands
// before any broadcast reaches that observer.
type observerEntry struct {
	mu sync.Mutex
	ob Observer
}

func NewHub(store *DeviceStore) *Hub {
	return &Hub{
		observers: make(map[Observer]*observerEntry),
		store:     store,
	}
}

// Register adds an observer and sends it the full registry snapshot as its
// first message. A send failure during onboarding discards the observer.
func (h *Hub) Register(ob Observer) error {
	entry := &observerEntry{ob: ob}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ob.Close()
	}
	snapshot := h.store.Snapshot()
	h.observers[ob] = entry
	observability.ObserversActive.Set(float64(len(h.observers)))
	h.mu.Unlock()

	msg, err := encodeInitialState(snapshot)
	if err != nil {
		h.Unregister(ob)
		return err
	}
	if err := ob.Send(msg); err != nil {
		h.Unregister(ob)
		return err
	}
	return nil
}

// Unregister removes an observer and closes it. Safe to call twice.
func (h *Hub) Unregister(ob Observer) {
	h.mu.Lock()
	_, ok := h.observers[ob]
	if ok {
		delete(h.observers, ob)
		observability.ObserversActive.Set(float64(len(h.observers)))
	}
	h.mu.Unlock()
	if ok {
		_ = ob.Close()
	}
}

// Broadcast delivers one update to every observer. Failing observers are
// pruned and logged; the rest still receive the message.
func (h *Hub) Broadcast(update QueuedUpdate) {
	msg, err := encodeUpdate(update.State)
	if err != nil {
		slog.Error("encode update", "imei", update.State.IMEI, "error", err)
		return
	}

	start := time.Now()
	h.mu.RLock()
	entries := make([]*observerEntry, 0, len(h.observers))
	for _, entry := range h.observers {
		entries = append(entries, entry)
	}
	h.mu.RUnlock()

	for _, entry := range entries {
		entry.mu.Lock()
		err := entry.ob.Send(msg)
		entry.mu.Unlock()
		if err != nil {
			observability.BroadcastFailures.Inc()
			slog.Warn("observer send failed, removing",
				"imei", update.State.IMEI, "seq", update.Seq, "error", err)
			h.Unregister(entry.ob)
		}
	}
	observability.BroadcastDuration.Observe(time.Since(start).Seconds())
}

// Observers reports the current fan-out width.
func (h *Hub) Observers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Shutdown closes every observer and rejects future registrations.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	obs := make([]Observer, 0, len(h.observers))
	for ob := range h.observers {
		obs = append(obs, ob)
	}
	h.observers = make(map[Observer]*observerEntry)
	observability.ObserversActive.Set(0)
	h.mu.Unlock()

	for _, ob := range obs {
		_ = ob.Close()
	}
}

func encodeInitialState(devices []DeviceSnapshot) ([]byte, error) {
	data, err := json.Marshal(devices)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: MsgInitialState, Data: data})
}

func encodeUpdate(state DeviceSnapshot) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: MsgUpdate, Data: data})
}
