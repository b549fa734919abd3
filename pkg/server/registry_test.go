package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zboyco/gt06hub/pkg/gt06"
)

func TestActivateCreatesRecord(t *testing.T) {
	store := NewDeviceStore()
	snap := store.Activate("868022038531725")

	require.Equal(t, "868022038531725", snap.IMEI)
	require.Equal(t, StatusActive, snap.Status)
	require.Nil(t, snap.Lat, "no coordinates before the first fix")
	require.Equal(t, 1, store.Len())
}

func TestApplyLocationThenOfflineKeepsCoordinates(t *testing.T) {
	store := NewDeviceStore()
	received := time.Date(2026, time.August, 24, 10, 0, 0, 0, time.UTC)
	loc := gt06.LocationPacket{
		Time:       received.Add(-2 * time.Second),
		Latitude:   28.3949,
		Longitude:  84.124,
		Speed:      60,
		Course:     90,
		Satellites: 9,
	}

	snap := store.ApplyLocation("868022038531725", loc, received)
	require.NotNil(t, snap.Lat)
	require.Equal(t, 28.3949, *snap.Lat)
	require.Equal(t, 84.124, *snap.Lon)
	require.Equal(t, received, snap.ReceivedTime)
	require.Equal(t, loc.Time, snap.PayloadTime)

	off, ok := store.SetOffline("868022038531725")
	require.True(t, ok)
	require.Equal(t, StatusOffline, off.Status)
	require.NotNil(t, off.Lat, "offline transition must not clear the last fix")
	require.Equal(t, 28.3949, *off.Lat)

	// a relogin revives the record with its history intact
	back := store.Activate("868022038531725")
	require.Equal(t, StatusActive, back.Status)
	require.NotNil(t, back.Lat)
}

func TestSetOfflineUnknownIMEI(t *testing.T) {
	store := NewDeviceStore()
	_, ok := store.SetOffline("000000000000000")
	require.False(t, ok)
}

func TestSnapshotDoesNotAliasStore(t *testing.T) {
	store := NewDeviceStore()
	store.ApplyLocation("868022038531725", gt06.LocationPacket{Latitude: 1, Longitude: 2}, time.Now())

	snaps := store.Snapshot()
	require.Len(t, snaps, 1)
	*snaps[0].Lat = 99

	current, ok := store.Get("868022038531725")
	require.True(t, ok)
	require.Equal(t, 1.0, *current.Lat, "mutating a snapshot must not leak into the registry")
}

func TestApplySyntheticPartialUpdate(t *testing.T) {
	store := NewDeviceStore()
	store.ApplyLocation("868022038531725", gt06.LocationPacket{Latitude: 28.3949, Longitude: 84.124, Speed: 60}, time.Now())

	speed := 10
	snap := store.ApplySynthetic(ObserverUpdate{IMEI: "868022038531725", Speed: &speed}, time.Now())
	require.Equal(t, 10, snap.Speed)
	require.NotNil(t, snap.Lat, "fields absent from a synthetic update keep their values")
	require.Equal(t, 28.3949, *snap.Lat)
}

func TestApplySyntheticNewDevice(t *testing.T) {
	store := NewDeviceStore()
	lat, lon := 51.5, -0.12
	snap := store.ApplySynthetic(ObserverUpdate{IMEI: "123456789012345", Lat: &lat, Lon: &lon}, time.Now())
	require.Equal(t, StatusActive, snap.Status)
	require.Equal(t, 51.5, *snap.Lat)
	require.Equal(t, -0.12, *snap.Lon)
}
