package overlay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jsonfox/draft-league-bot/internal/metrics"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	sendBuffer   = 16
	overlayEvent = "overlay"
)

// Admitter decides which viewers may connect. *auth.Guard implements it.
type Admitter interface {
	ValidOrigin(origin string) bool
	ValidToken(token string) bool
}

// message is the envelope pushed to viewers.
type message struct {
	Event string `json:"event"`
	Data  State  `json:"data"`
}

type viewer struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
}

// Hub serves overlay viewers. A viewer is admitted when its Origin is the
// allowed origin or its "authorization" query parameter is the auth token.
// It receives the current state on admission and every update after.
type Hub struct {
	store    *Store
	admit    Admitter
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *metrics.Metrics

	unsubscribe func()

	mu      sync.Mutex
	viewers map[string]*viewer
	closed  bool
	wg      sync.WaitGroup
}

// NewHub creates a Hub broadcasting updates from store.
func NewHub(store *Store, admit Admitter, logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		store:   store,
		admit:   admit,
		logger:  logger.With("component", "overlay_hub"),
		metrics: m,
		viewers: make(map[string]*viewer),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	h.unsubscribe = store.Subscribe(h.Broadcast)
	return h
}

func (h *Hub) admitted(r *http.Request) bool {
	if origin := r.Header.Get("Origin"); origin != "" && h.admit.ValidOrigin(origin) {
		return true
	}
	return h.admit.ValidToken(r.URL.Query().Get("authorization"))
}

// ServeHTTP upgrades an admitted request and registers the viewer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.admitted(r) {
		h.logger.Debug("rejected overlay viewer", "origin", r.Header.Get("Origin"))
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("overlay upgrade failed", "error", err)
		return
	}

	initial, err := encode(h.store.Get())
	if err != nil {
		ws.Close()
		return
	}

	v := &viewer{id: uuid.NewString(), ws: ws, send: make(chan []byte, sendBuffer)}
	v.send <- initial

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		ws.Close()
		return
	}
	h.viewers[v.id] = v
	count := len(h.viewers)
	h.wg.Add(2)
	h.mu.Unlock()

	h.metrics.SetOverlayViewers(count)
	h.logger.Debug("overlay viewer connected", "viewer", v.id, "viewers", count)

	go h.writePump(v)
	go h.readPump(v)
}

// Broadcast pushes state to every viewer. Viewers that cannot keep up are
// dropped.
func (h *Hub) Broadcast(state State) {
	data, err := encode(state)
	if err != nil {
		h.logger.Error("failed to encode overlay state", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, v := range h.viewers {
		select {
		case v.send <- data:
		default:
			h.logger.Warn("overlay viewer too slow, disconnecting", "viewer", v.id)
			h.removeLocked(v)
		}
	}
}

// Viewers returns the number of connected viewers.
func (h *Hub) Viewers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// Close disconnects every viewer and stops receiving updates.
func (h *Hub) Close() {
	h.unsubscribe()

	h.mu.Lock()
	h.closed = true
	for _, v := range h.viewers {
		h.removeLocked(v)
	}
	h.mu.Unlock()

	h.wg.Wait()
}

// removeLocked unregisters v and closes its send channel, which ends its
// write pump. Requires h.mu.
func (h *Hub) removeLocked(v *viewer) {
	if _, ok := h.viewers[v.id]; !ok {
		return
	}
	delete(h.viewers, v.id)
	close(v.send)
	h.metrics.SetOverlayViewers(len(h.viewers))
}

// readPump discards viewer input and unregisters the viewer when the socket
// ends.
func (h *Hub) readPump(v *viewer) {
	defer func() {
		h.mu.Lock()
		h.removeLocked(v)
		h.mu.Unlock()
		v.ws.Close()
		h.wg.Done()
		h.logger.Debug("overlay viewer disconnected", "viewer", v.id)
	}()

	v.ws.SetReadLimit(512)
	v.ws.SetReadDeadline(time.Now().Add(pongWait))
	v.ws.SetPongHandler(func(string) error {
		return v.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := v.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(v *viewer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.ws.Close()
		h.wg.Done()
	}()

	for {
		select {
		case data, ok := <-v.send:
			v.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				v.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := v.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			v.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func encode(state State) ([]byte, error) {
	return json.Marshal(message{Event: overlayEvent, Data: state})
}
