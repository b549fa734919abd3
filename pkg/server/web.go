package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// ObserverUpdate is the payload an observer may push back over the
// WebSocket. It is treated as a synthetic device report: missing fields
// keep their stored values.
type ObserverUpdate struct {
	IMEI     string    `json:"imei"`
	Lat      *float64  `json:"lat,omitempty"`
	Lon      *float64  `json:"lon,omitempty"`
	Speed    *int      `json:"speed,omitempty"`
	Course   *int      `json:"course,omitempty"`
	Datetime time.Time `json:"datetime,omitempty"`
	Status   string    `json:"status,omitempty"`
}

func (u ObserverUpdate) validate() error {
	if len(u.IMEI) != 15 {
		return fmt.Errorf("imei must be 15 digits, got %q", u.IMEI)
	}
	for _, c := range u.IMEI {
		if c < '0' || c > '9' {
			return fmt.Errorf("imei must be 15 digits, got %q", u.IMEI)
		}
	}
	return nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// observers are trusted dashboards on the same deployment
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsObserver adapts a WebSocket connection to the hub's Observer interface.
// The hub's per-observer lock serializes Send calls.
type wsObserver struct {
	conn *websocket.Conn
}

func (o *wsObserver) Send(msg []byte) error {
	_ = o.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return o.conn.WriteMessage(websocket.TextMessage, msg)
}

func (o *wsObserver) Close() error {
	return o.conn.Close()
}

// buildHTTPHandler assembles the observer-side surface: WebSocket fan-out,
// REST snapshot, metrics and the static dashboard.
func (g *Gateway) buildHTTPHandler(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleObserver)
	mux.HandleFunc("/api/devices", g.handleDeviceList)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics)
	mux.Handle("/", http.FileServer(http.Dir(g.cfg.StaticDir)))
	return mux
}

func (g *Gateway) handleDeviceList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(g.store.Snapshot()); err != nil {
		slog.Error("encode device list", "error", err)
	}
}

func (g *Gateway) handleObserver(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ob := &wsObserver{conn: conn}
	if err := g.hub.Register(ob); err != nil {
		slog.Warn("observer onboarding failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	slog.Info("observer connected", "remote", r.RemoteAddr, "observers", g.hub.Observers())

	defer func() {
		g.hub.Unregister(ob)
		slog.Info("observer disconnected", "remote", r.RemoteAddr, "observers", g.hub.Observers())
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		g.ingestObserverMessage(r.RemoteAddr, msg)
	}
}

// ingestObserverMessage treats a well-formed envelope from an observer as a
// synthetic device report; anything else is logged and dropped.
func (g *Gateway) ingestObserverMessage(remote string, msg []byte) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		slog.Warn("malformed observer message", "remote", remote, "error", err)
		return
	}
	if env.Type != MsgUpdate && env.Type != MsgInitialState {
		slog.Debug("ignoring observer message", "remote", remote, "type", env.Type)
		return
	}
	var update ObserverUpdate
	if err := json.Unmarshal(env.Data, &update); err != nil {
		slog.Warn("malformed observer update", "remote", remote, "error", err)
		return
	}
	if err := update.validate(); err != nil {
		slog.Warn("rejecting observer update", "remote", remote, "error", err)
		return
	}

	snapshot := g.store.ApplySynthetic(update, time.Now().UTC())
	queued := g.queues.Enqueue(snapshot)
	slog.Info("synthetic update ingested",
		"remote", remote, "imei", update.IMEI, "seq", queued.Seq)
	if g.callbacks != nil && g.callbacks.OnLocation != nil {
		g.callbacks.OnLocation(queued)
	}
}
