package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pccr10001/jinglegw/internal/calling"
	"github.com/pccr10001/jinglegw/pkg/logger"
)

const callWatchInterval = 250 * time.Millisecond

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// CallMessage is exchanged on the call websocket. The server sends "state",
// "ended" and "error"; the client sends "dtmf" and "hangup".
type CallMessage struct {
	Type   string    `json:"type"`
	Call   *callView `json:"call,omitempty"`
	Digits string    `json:"digits,omitempty"`
	Text   string    `json:"text,omitempty"`
}

// WatchCall streams state changes of a live call and accepts in-call
// commands until the call ends or the client goes away.
func (h *CallHandler) WatchCall(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Errorf("upgrade websocket failed: %v", err)
		return
	}
	defer conn.Close()

	commands := make(chan CallMessage, 8)
	go func() {
		defer close(commands)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg CallMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				msg = CallMessage{Type: "invalid", Text: err.Error()}
			}
			commands <- msg
		}
	}()

	var last []byte
	push := func(kind string) error {
		v := viewOf(s)
		raw, _ := json.Marshal(v)
		if kind == "state" && string(raw) == string(last) {
			return nil
		}
		last = raw
		return conn.WriteJSON(CallMessage{Type: kind, Call: &v})
	}

	if err := push("state"); err != nil {
		return
	}

	ticker := time.NewTicker(callWatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.Done():
			_ = push("ended")
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call ended"))
			return
		case <-ticker.C:
			if err := push("state"); err != nil {
				return
			}
		case msg, ok := <-commands:
			if !ok {
				return
			}
			if err := h.handleCommand(conn, s, msg); err != nil {
				return
			}
		}
	}
}

func (h *CallHandler) handleCommand(conn *websocket.Conn, s *calling.Session, msg CallMessage) error {
	switch msg.Type {
	case "dtmf":
		if _, err := sendDigits(s, msg.Digits); err != nil {
			return conn.WriteJSON(CallMessage{Type: "error", Text: err.Error()})
		}
	case "hangup":
		s.Kill()
	case "invalid":
		return conn.WriteJSON(CallMessage{Type: "error", Text: msg.Text})
	default:
		return conn.WriteJSON(CallMessage{Type: "error", Text: "unsupported message type"})
	}
	return nil
}
