package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zoravur/tablegate/internal/notify"
	"github.com/zoravur/tablegate/internal/protocol"
	"github.com/zoravur/tablegate/internal/resource"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler registers websocket clients as observers in a Hub.
type WSHandler struct {
	Hub    *notify.Hub
	Router *resource.Router
	Logger *zap.Logger
}

// wsConn serializes writes; gorilla connections allow one writer at a time.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) fail(id, msg string) {
	_ = c.send(protocol.Error{Message: protocol.Message{Type: protocol.TypeError, ID: id}, Error: msg})
}

// HandleWS upgrades the connection and serves SUBSCRIBE, UNSUBSCRIBE and
// PING messages until the client goes away.
func (h *WSHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	if h.Hub == nil {
		http.NotFound(w, r)
		return
	}
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	conn := &wsConn{conn: raw}
	defer raw.Close()

	// observers registered by this connection
	active := map[string]struct{}{}
	defer func() {
		for id := range active {
			h.Hub.Unregister(id)
		}
	}()

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.Logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		msg, err := protocol.DecodeMessage(data)
		if err != nil {
			conn.fail("", "invalid JSON")
			continue
		}

		switch msg.Type {
		case protocol.TypePing:
			_ = conn.send(protocol.Message{Type: protocol.TypePong, ID: msg.ID})

		case protocol.TypeSubscribe:
			var sub protocol.Subscribe
			if err := json.Unmarshal(data, &sub); err != nil {
				conn.fail(msg.ID, "invalid SUBSCRIBE")
				continue
			}
			routed, err := h.Router.RouteString(sub.URI)
			if err != nil {
				conn.fail(msg.ID, err.Error())
				continue
			}
			obs := &notify.Observer{
				ID:          uuid.NewString(),
				URI:         routed.ID,
				Descendants: sub.Descendants,
				Send: func(_ context.Context, c protocol.Change) error {
					return conn.send(c)
				},
			}
			h.Hub.Register(obs)
			active[obs.ID] = struct{}{}
			_ = conn.send(protocol.Subscribe{
				Message:     protocol.Message{Type: protocol.TypeSubscribed, ID: obs.ID},
				URI:         routed.ID.String(),
				Descendants: sub.Descendants,
			})

		case protocol.TypeUnsubscribe:
			// An empty id drops every subscription of the connection.
			if msg.ID == "" {
				for id := range active {
					h.Hub.Unregister(id)
					delete(active, id)
				}
			} else if _, ok := active[msg.ID]; ok {
				h.Hub.Unregister(msg.ID)
				delete(active, msg.ID)
			} else {
				conn.fail(msg.ID, "unknown subscription")
				continue
			}
			_ = conn.send(protocol.Message{Type: protocol.TypeUnsubscribed, ID: msg.ID})

		default:
			conn.fail(msg.ID, "unknown message type")
		}
	}
}
