package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zboyco/gt06hub/pkg/server"
)

// MarshalLogin serializes a device login event.
func MarshalLogin(imei string) (EventType, []byte, error) {
	return marshalEvent(EventTypeLogin, imei, LoginEventData{IMEI: imei})
}

// MarshalLocation serializes a committed location update.
func MarshalLocation(update server.QueuedUpdate) (EventType, []byte, error) {
	state := update.State
	data := LocationEventData{
		IMEI:         state.IMEI,
		Seq:          update.Seq,
		Latitude:     state.Lat,
		Longitude:    state.Lon,
		Speed:        state.Speed,
		Course:       state.Course,
		Satellites:   state.Satellites,
		DateTime:     state.PayloadTime.Format(time.RFC3339),
		ReceivedTime: state.ReceivedTime.Format(time.RFC3339),
	}
	return marshalEvent(EventTypeLocation, state.IMEI, data)
}

// MarshalOffline serializes a device disconnect event.
func MarshalOffline(update server.QueuedUpdate) (EventType, []byte, error) {
	state := update.State
	data := OfflineEventData{
		IMEI:      state.IMEI,
		Seq:       update.Seq,
		Latitude:  state.Lat,
		Longitude: state.Lon,
	}
	return marshalEvent(EventTypeOffline, state.IMEI, data)
}

func marshalEvent(eventType EventType, imei string, data interface{}) (EventType, []byte, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return "", nil, fmt.Errorf("marshal data: %w", err)
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().Format(time.RFC3339),
		IMEI:      imei,
		Data:      dataBytes,
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return "", nil, fmt.Errorf("marshal event: %w", err)
	}
	return eventType, eventBytes, nil
}
