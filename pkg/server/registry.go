package server

import (
	"sync"
	"time"

	"github.com/zboyco/gt06hub/pkg/gt06"
)

// DeviceStatus is the session-derived liveness of a device.
type DeviceStatus string

const (
	StatusActive  DeviceStatus = "active"
	StatusOffline DeviceStatus = "offline"
)

// DeviceState is the registry record for one device, keyed by IMEI. Only
// the latest state is retained; coordinates survive every later write once
// the first fix arrived.
type DeviceState struct {
	IMEI        string
	HasFix      bool
	Lat         float64
	Lon         float64
	Speed       int
	Course      int
	Satellites  int
	RealtimeGPS bool

	PayloadTime  time.Time
	ReceivedTime time.Time
	LastUpdate   time.Time

	Status DeviceStatus
}

// DeviceSnapshot is the serializable view of a DeviceState handed to
// observers and collaborators. Coordinates are omitted until the first fix.
type DeviceSnapshot struct {
	IMEI        string   `json:"imei"`
	Lat         *float64 `json:"lat,omitempty"`
	Lon         *float64 `json:"lon,omitempty"`
	Speed       int      `json:"speed"`
	Course      int      `json:"course"`
	Satellites  int      `json:"satellites"`
	RealtimeGPS bool     `json:"realtimeGps"`

	PayloadTime  time.Time `json:"datetime"`
	ReceivedTime time.Time `json:"receivedTime"`
	LastUpdate   time.Time `json:"lastUpdate"`

	Status DeviceStatus `json:"status,omitempty"`
}

// DeviceStore is the process-wide registry mapping IMEI to the latest
// DeviceState. Writes are atomic at DeviceState granularity; per-key
// ordering toward observers is the queue's job, not the store's.
type DeviceStore struct {
	mu      sync.RWMutex
	devices map[string]*DeviceState
}

func NewDeviceStore() *DeviceStore {
	return &DeviceStore{devices: make(map[string]*DeviceState)}
}

// Activate creates the record for an IMEI on login, or revives an existing
// one. Prior coordinates are preserved.
func (s *DeviceStore) Activate(imei string) DeviceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.ensureLocked(imei)
	state.Status = StatusActive
	state.LastUpdate = time.Now().UTC()
	return state.snapshot()
}

// ApplyLocation commits a decoded location packet and returns the resulting
// snapshot. The caller stamps the receive time so that tests can inject
// clocks.
func (s *DeviceStore) ApplyLocation(imei string, loc gt06.LocationPacket, received time.Time) DeviceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.ensureLocked(imei)
	state.HasFix = true
	state.Lat = loc.Latitude
	state.Lon = loc.Longitude
	state.Speed = loc.Speed
	state.Course = loc.Course
	state.Satellites = loc.Satellites
	state.RealtimeGPS = loc.RealtimeGPS
	state.PayloadTime = loc.Time
	state.ReceivedTime = received
	state.LastUpdate = received
	state.Status = StatusActive
	return state.snapshot()
}

// ApplySynthetic commits an observer-injected update. Fields the observer
// left out keep their current values; coordinates are never cleared.
func (s *DeviceStore) ApplySynthetic(u ObserverUpdate, received time.Time) DeviceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.ensureLocked(u.IMEI)
	if u.Lat != nil && u.Lon != nil {
		state.HasFix = true
		state.Lat = *u.Lat
		state.Lon = *u.Lon
	}
	if u.Speed != nil {
		state.Speed = *u.Speed
	}
	if u.Course != nil {
		state.Course = *u.Course
	}
	if !u.Datetime.IsZero() {
		state.PayloadTime = u.Datetime.UTC()
	}
	if u.Status != "" {
		state.Status = DeviceStatus(u.Status)
	} else {
		state.Status = StatusActive
	}
	state.ReceivedTime = received
	state.LastUpdate = received
	return state.snapshot()
}

// SetOffline marks a device offline on session close. Reported false when
// the IMEI was never registered.
func (s *DeviceStore) SetOffline(imei string) (DeviceSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.devices[imei]
	if !ok {
		return DeviceSnapshot{}, false
	}
	state.Status = StatusOffline
	state.LastUpdate = time.Now().UTC()
	return state.snapshot(), true
}

// Put replaces the whole record unconditionally.
func (s *DeviceStore) Put(state DeviceState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := state
	s.devices[state.IMEI] = &cp
}

// Get returns the snapshot for one IMEI.
func (s *DeviceStore) Get(imei string) (DeviceSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.devices[imei]
	if !ok {
		return DeviceSnapshot{}, false
	}
	return state.snapshot(), true
}

// Snapshot returns a point-in-time copy of every device, used for
// new-observer onboarding.
func (s *DeviceStore) Snapshot() []DeviceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]DeviceSnapshot, 0, len(s.devices))
	for _, state := range s.devices {
		result = append(result, state.snapshot())
	}
	return result
}

// Len reports the number of known devices.
func (s *DeviceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}

func (s *DeviceStore) ensureLocked(imei string) *DeviceState {
	state, ok := s.devices[imei]
	if ok {
		return state
	}
	state = &DeviceState{IMEI: imei, Status: StatusActive}
	s.devices[imei] = state
	return state
}

// snapshot deep-copies the record so callers never alias registry memory.
func (state *DeviceState) snapshot() DeviceSnapshot {
	snap := DeviceSnapshot{
		IMEI:         state.IMEI,
		Speed:        state.Speed,
		Course:       state.Course,
		Satellites:   state.Satellites,
		RealtimeGPS:  state.RealtimeGPS,
		PayloadTime:  state.PayloadTime,
		ReceivedTime: state.ReceivedTime,
		LastUpdate:   state.LastUpdate,
		Status:       state.Status,
	}
	if state.HasFix {
		lat, lon := state.Lat, state.Lon
		snap.Lat = &lat
		snap.Lon = &lon
	}
	return snap
}
