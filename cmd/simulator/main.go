// Simulator emulates a GT06 tracker: it logs in, reports a drifting GPS
// position on a timer and heartbeats in between. Useful for exercising a
// running gateway without hardware.
package main

import (
	"bufio"
	"flag"
	"log"
	"math"
	"net"
	"time"

	"github.com/zboyco/gt06hub/pkg/gt06"
)

var (
	serverAddr  = flag.String("server", "127.0.0.1:5000", "Gateway TCP Address")
	imei        = flag.String("imei", "868022038531725", "Device IMEI (15 digits)")
	startLat    = flag.Float64("lat", 28.3949, "Initial Latitude")
	startLon    = flag.Float64("lon", 84.124, "Initial Longitude")
	locationSec = flag.Int("location", 10, "Location Report Interval in Seconds (0=disabled)")
	count       = flag.Int("count", 0, "Number of Location Reports to Send (0=unlimited)")
)

func main() {
	flag.Parse()

	log.Printf("Connecting to gateway %s...", *serverAddr)
	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Println("Connected")

	serial := uint16(1)
	login, err := gt06.BuildLogin(*imei, serial)
	if err != nil {
		log.Fatalf("Build login failed: %v", err)
	}
	log.Printf("Sending Login: %X", login)
	if _, err := conn.Write(login); err != nil {
		log.Fatalf("Send login failed: %v", err)
	}

	go sendHeartbeats(conn, &serial)
	if *locationSec > 0 {
		go sendLocationUpdates(conn, &serial, time.Duration(*locationSec)*time.Second)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Split(gt06.SplitFrames)
	for scanner.Scan() {
		data := scanner.Bytes()
		frame, err := gt06.DecodeFrame(data)
		if err != nil {
			log.Printf("Decode ack failed: %v", err)
			continue
		}
		log.Printf("Received Ack: protocol=0x%02X serial=%d", frame.Protocol, frame.Serial)
	}
	if err := scanner.Err(); err != nil {
		log.Printf("Read error: %v", err)
	}
}

func sendHeartbeats(conn net.Conn, serial *uint16) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		*serial++
		hb := gt06.BuildHeartbeat(*serial)
		log.Printf("Sending Heartbeat: %X", hb)
		if _, err := conn.Write(hb); err != nil {
			log.Printf("Send heartbeat failed: %v", err)
			return
		}
	}
}

func sendLocationUpdates(conn net.Conn, serial *uint16, interval time.Duration) {
	gps := newGPSSimulator(*startLat, *startLon)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Starting location updates every %v", interval)

	sent := 0
	for range ticker.C {
		loc := gps.next()
		*serial++
		pkg := gt06.BuildLocation(loc, *serial)

		log.Printf("Sending Location: Lat=%.6f, Lon=%.6f, Speed=%dkm/h, Course=%d",
			loc.Latitude, loc.Longitude, loc.Speed, loc.Course)
		if _, err := conn.Write(pkg); err != nil {
			log.Printf("Send location failed: %v", err)
			return
		}

		sent++
		if *count > 0 && sent >= *count {
			log.Printf("Sent %d reports, stopping", sent)
			return
		}
	}
}

// gpsSimulator drifts a position along its course at the current speed.
type gpsSimulator struct {
	lat    float64
	lon    float64
	course int
	speed  int
}

func newGPSSimulator(lat, lon float64) *gpsSimulator {
	return &gpsSimulator{lat: lat, lon: lon, course: 90, speed: 40}
}

func (g *gpsSimulator) next() gt06.LocationPacket {
	// roughly 10 meters of travel per report per 40 km/h
	step := float64(g.speed) * 0.0000025
	rad := float64(g.course) * math.Pi / 180
	g.lat += step * math.Cos(rad)
	g.lon += step * math.Sin(rad)

	// wander a little so the track is not a straight line
	if time.Now().Unix()%5 == 0 {
		g.speed = 20 + int(time.Now().Unix()%40)
		g.course = int(time.Now().Unix() % 360)
	}

	return gt06.LocationPacket{
		Time:        time.Now().UTC(),
		Satellites:  8 + int(time.Now().Unix()%5),
		Latitude:    g.lat,
		Longitude:   g.lon,
		Speed:       g.speed,
		Course:      g.course,
		RealtimeGPS: true,
	}
}
