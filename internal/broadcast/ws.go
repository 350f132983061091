package broadcast

import (
	"net/http"
	"time"

	"warimas-pos/internal/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WSHandler streams the messages of one context key to a customer display.
// The display picks its cart with ?context=<table id | takeout_<cashier>>.
type WSHandler struct {
	bus      *Bus
	upgrader websocket.Upgrader
}

func NewWSHandler(bus *Bus) *WSHandler {
	return &WSHandler{
		bus: bus,
		upgrader: websocket.Upgrader{
			// displays are served from the terminal itself or a LAN device
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("context")
	if key == "" {
		http.Error(w, "context is required", http.StatusBadRequest)
		return
	}

	log := logger.FromCtx(logger.WithContextKey(r.Context(), key)).With(
		zap.String("layer", "broadcast"),
		zap.String("method", "WSHandler"),
	)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := h.bus.Subscribe(key)
	defer sub.Close()

	log.Info("display connected")

	closed := make(chan struct{})
	go readLoop(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			log.Info("display disconnected")
			return

		case m, ok := <-sub.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(m); err != nil {
				log.Warn("websocket write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn("websocket ping failed", zap.Error(err))
				return
			}
		}
	}
}

// readLoop drains control frames until the peer goes away. Displays never send
// data frames that matter.
func readLoop(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
