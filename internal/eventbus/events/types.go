// Package events defines the envelope and payloads published on the
// message bus for downstream consumers.
package events

import "encoding/json"

// EventType doubles as the routing key on the topic exchange.
type EventType string

const (
	EventTypeLogin    EventType = "device.login"
	EventTypeLocation EventType = "device.location"
	EventTypeOffline  EventType = "device.offline"
)

// Event is the common envelope around every published payload.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp string          `json:"timestamp"`
	IMEI      string          `json:"imei"`
	Data      json.RawMessage `json:"data"`
}

// LoginEventData marks a tracker authenticating on the TCP port.
type LoginEventData struct {
	IMEI string `json:"imei"`
}

// LocationEventData is a committed position report. Seq is the per-device
// delivery sequence; consumers can use it to detect reordering.
type LocationEventData struct {
	IMEI         string   `json:"imei"`
	Seq          uint64   `json:"seq"`
	Latitude     *float64 `json:"lat,omitempty"`
	Longitude    *float64 `json:"lon,omitempty"`
	Speed        int      `json:"speed"`
	Course       int      `json:"course"`
	Satellites   int      `json:"satellites"`
	DateTime     string   `json:"date_time"`
	ReceivedTime string   `json:"received_time"`
}

// OfflineEventData marks a tracker session closing; the last known
// position rides along.
type OfflineEventData struct {
	IMEI      string   `json:"imei"`
	Seq       uint64   `json:"seq"`
	Latitude  *float64 `json:"lat,omitempty"`
	Longitude *float64 `json:"lon,omitempty"`
}
