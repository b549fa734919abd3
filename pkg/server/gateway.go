// Package server implements the GT06 ingestion gateway: a TCP front door
// for trackers, a device registry, per-device update queues and a
// WebSocket fan-out for observers.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	goserver "github.com/zboyco/go-server"

	"github.com/zboyco/gt06hub/internal/observability"
	"github.com/zboyco/gt06hub/pkg/gt06"
)

// Callbacks let the embedding binary hook committed gateway events, e.g.
// to publish them on a message bus or mirror them into Redis. Callbacks
// run on the gateway's goroutines and must not block for long.
type Callbacks struct {
	OnLogin    func(imei string)
	OnLocation func(update QueuedUpdate)
	OnOffline  func(update QueuedUpdate)
}

// Gateway carries the tracker-facing TCP server and the observer-facing
// HTTP server, sharing one registry and one queue manager.
type Gateway struct {
	cfg    Config
	store  *DeviceStore
	queues *QueueManager
	hub    *Hub

	trackerSrv *goserver.Server
	httpSrv    *http.Server
	httpLn     net.Listener

	// sessions maps the transport session ID to the IMEI it authenticated
	// with. A session is present iff it has completed login.
	sessionMu sync.RWMutex
	sessions  map[string]string

	callbacks *Callbacks

	startOnce sync.Once
}

func NewGateway(cfg Config) *Gateway {
	g := &Gateway{
		cfg:      cfg,
		store:    NewDeviceStore(),
		sessions: make(map[string]string),
	}
	g.hub = NewHub(g.store)
	g.queues = NewQueueManager(cfg.QueueCap, g.hub.Broadcast)

	slog.Info("gateway configured",
		"tcp_port", cfg.TCPPort,
		"http_port", cfg.HTTPPort,
		"idle_timeout", cfg.IdleTimeout,
		"coordinate_mode", cfg.CoordinateMode)
	return g
}

// SetCallbacks installs the event hooks. Call before Start.
func (g *Gateway) SetCallbacks(callbacks *Callbacks) {
	g.callbacks = callbacks
}

// Store exposes the registry for read-side collaborators.
func (g *Gateway) Store() *DeviceStore {
	return g.store
}

// Start brings up both servers and blocks until ctx is cancelled, then
// drains the queues and closes the observers. A failed port bind is
// returned immediately.
func (g *Gateway) Start(ctx context.Context) error {
	var startErr error
	g.startOnce.Do(func() {
		if err := g.initServers(); err != nil {
			startErr = err
			return
		}
		go g.trackerSrv.Start()
		go func() {
			if err := g.httpSrv.Serve(g.httpLn); err != nil && err != http.ErrServerClosed {
				slog.Error("http server stopped", "err", err)
			}
		}()
	})
	if startErr != nil {
		return startErr
	}

	<-ctx.Done()
	slog.Info("gateway shutting down", "reason", ctx.Err())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), g.cfg.DrainTimeout)
	defer cancel()
	_ = g.httpSrv.Shutdown(shutdownCtx)

	if !g.queues.Flush(g.cfg.DrainTimeout) {
		slog.Warn("drain deadline reached with updates still pending")
	}
	g.hub.Shutdown()
	return nil
}

func (g *Gateway) initServers() error {
	tcpPort, err := strconv.Atoi(g.cfg.TCPPort)
	if err != nil {
		return fmt.Errorf("parse TCP_PORT %q: %w", g.cfg.TCPPort, err)
	}

	// fail fast on an occupied tracker port; goserver only reports it
	// asynchronously through the error callback
	probe, err := net.Listen("tcp", net.JoinHostPort("", g.cfg.TCPPort))
	if err != nil {
		return fmt.Errorf("bind tcp port %s: %w", g.cfg.TCPPort, err)
	}
	_ = probe.Close()

	g.trackerSrv = goserver.NewTCP("", tcpPort)
	if g.cfg.IdleTimeout > 0 {
		g.trackerSrv.IdleSessionTimeOut = int(g.cfg.IdleTimeout.Seconds())
	} else {
		g.trackerSrv.IdleSessionTimeOut = 0
	}

	if err := g.trackerSrv.SetSplitFunc(gt06.SplitFrames); err != nil {
		return err
	}
	if err := g.trackerSrv.SetOnMessage(g.handleTrackerMessage); err != nil {
		return err
	}
	_ = g.trackerSrv.SetOnError(func(err error) {
		slog.Error("tracker link error", "err", err)
	})
	_ = g.trackerSrv.SetOnSessionClosed(g.onSessionClosed)
	_ = g.trackerSrv.SetOnNewSessionRegister(func(s *goserver.AppSession) {
		slog.Info("tracker connected", "session", s.ID, "remote_ip", clientIP(s))
	})

	g.httpLn, err = net.Listen("tcp", net.JoinHostPort("", g.cfg.HTTPPort))
	if err != nil {
		return fmt.Errorf("bind http port %s: %w", g.cfg.HTTPPort, err)
	}
	g.httpSrv = &http.Server{Handler: g.buildHTTPHandler(observability.MetricsHandler())}
	return nil
}

func (g *Gateway) handleTrackerMessage(session *goserver.AppSession, payload []byte) ([]byte, error) {
	return g.processFrame(session.ID, clientIP(session), payload), nil
}

// processFrame handles one framed GT06 message and returns the bytes to
// write back, or nil when no ACK is owed. Malformed input never tears the
// session down.
func (g *Gateway) processFrame(sessionID, remote string, payload []byte) []byte {
	frame, err := gt06.DecodeFrame(payload)
	if err != nil {
		observability.FramesDropped.WithLabelValues("malformed").Inc()
		slog.Warn("malformed frame", "session", sessionID, "remote", remote, "err", err)
		return nil
	}
	observability.FramesTotal.WithLabelValues(fmt.Sprintf("0x%02X", frame.Protocol)).Inc()

	pkt, err := gt06.Decode(frame, g.cfg.CoordinateMode)
	if err != nil {
		observability.FramesDropped.WithLabelValues("malformed").Inc()
		slog.Warn("malformed payload", "session", sessionID,
			"protocol", fmt.Sprintf("0x%02X", frame.Protocol), "err", err)
		return nil
	}

	switch p := pkt.(type) {
	case gt06.LoginPacket:
		return g.handleLogin(sessionID, remote, p)
	case gt06.LocationPacket:
		return g.handleLocation(sessionID, p)
	case gt06.HeartbeatPacket:
		return g.handleHeartbeat(sessionID, p)
	case gt06.UnknownPacket:
		observability.FramesDropped.WithLabelValues("unknown_protocol").Inc()
		slog.Warn("unsupported protocol, no ack",
			"session", sessionID, "protocol", fmt.Sprintf("0x%02X", p.Protocol))
		return nil
	default:
		return nil
	}
}

func (g *Gateway) handleLogin(sessionID, remote string, p gt06.LoginPacket) []byte {
	g.sessionMu.Lock()
	_, rebind := g.sessions[sessionID]
	g.sessions[sessionID] = p.IMEI
	active := len(g.sessions)
	g.sessionMu.Unlock()
	if !rebind {
		observability.SessionsActive.Set(float64(active))
	}

	g.store.Activate(p.IMEI)
	slog.Info("device login", "session", sessionID, "remote_ip", remote, "imei", p.IMEI)

	if g.callbacks != nil && g.callbacks.OnLogin != nil {
		go g.callbacks.OnLogin(p.IMEI)
	}
	return gt06.EncodeAck(gt06.ProtoLogin, p.Serial)
}

func (g *Gateway) handleLocation(sessionID string, p gt06.LocationPacket) []byte {
	imei, ok := g.sessionIMEI(sessionID)
	if !ok {
		observability.FramesDropped.WithLabelValues("unauthenticated").Inc()
		slog.Warn("ignore location before login", "session", sessionID)
		return nil
	}

	snapshot := g.store.ApplyLocation(imei, p, time.Now().UTC())
	queued := g.queues.Enqueue(snapshot)
	slog.Debug("location committed",
		"imei", imei, "seq", queued.Seq, "lat", p.Latitude, "lon", p.Longitude)

	if g.callbacks != nil && g.callbacks.OnLocation != nil {
		g.callbacks.OnLocation(queued)
	}
	return gt06.EncodeAck(gt06.ProtoLocation, p.Serial)
}

func (g *Gateway) handleHeartbeat(sessionID string, p gt06.HeartbeatPacket) []byte {
	imei, ok := g.sessionIMEI(sessionID)
	if !ok {
		observability.FramesDropped.WithLabelValues("unauthenticated").Inc()
		slog.Warn("ignore heartbeat before login", "session", sessionID)
		return nil
	}
	slog.Debug("heartbeat", "session", sessionID, "imei", imei)
	return gt06.EncodeAck(gt06.ProtoHeartbeat, p.Serial)
}

func (g *Gateway) onSessionClosed(session *goserver.AppSession, reason string) {
	g.closeSession(session.ID, reason)
}

// closeSession releases the IMEI binding and, for authenticated sessions,
// commits the offline transition so observers learn about the disconnect.
func (g *Gateway) closeSession(sessionID, reason string) {
	g.sessionMu.Lock()
	imei, ok := g.sessions[sessionID]
	if ok {
		delete(g.sessions, sessionID)
	}
	active := len(g.sessions)
	g.sessionMu.Unlock()

	if !ok {
		slog.Info("session closed", "session", sessionID, "reason", reason)
		return
	}
	observability.SessionsActive.Set(float64(active))
	slog.Info("device offline", "session", sessionID, "imei", imei, "reason", reason)

	snapshot, found := g.store.SetOffline(imei)
	if !found {
		return
	}
	queued := g.queues.Enqueue(snapshot)
	if g.callbacks != nil && g.callbacks.OnOffline != nil {
		g.callbacks.OnOffline(queued)
	}
}

func (g *Gateway) sessionIMEI(sessionID string) (string, bool) {
	g.sessionMu.RLock()
	defer g.sessionMu.RUnlock()
	imei, ok := g.sessions[sessionID]
	return imei, ok
}

func clientIP(session *goserver.AppSession) string {
	addr := session.RemoteAddr()
	host, _, err := net.SplitHostPort(addr.String())
	if err == nil {
		return host
	}
	return addr.String()
}
