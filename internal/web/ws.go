package web

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"mingling-chat/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Frame is one message pushed over /ws.
type Frame struct {
	Type     string            `json:"type"`
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
	Error    string            `json:"error,omitempty"`
	Reason   string            `json:"reason,omitempty"`
}

const (
	FrameSnapshot = "snapshot"
	FrameError    = "error"
)

// handleWS streams a snapshot on connect and after every committed change,
// plus error frames for failed replies. The stream is read-only; intents
// go through the REST endpoints.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, us *userSession) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ Failed to upgrade connection: %v", err)
		return
	}

	send := make(chan Frame, sendBuffer)
	push := func(f Frame) {
		select {
		case send <- f:
		default:
			log.Printf("⚠️ ws client %s is slow, dropping %s frame", us.email, f.Type)
		}
	}

	// subscribe before taking the initial snapshot so no commit is missed
	stopState := us.ctrl.OnStateChange(func(snap session.Snapshot) {
		push(Frame{Type: FrameSnapshot, Snapshot: &snap})
	})
	stopErr := us.ctrl.OnError(func(err error) {
		f := Frame{Type: FrameError, Error: err.Error()}
		var gf *session.GenerationFailure
		if errors.As(err, &gf) {
			f.Reason = string(gf.Reason)
		}
		push(f)
	})
	initial := us.ctrl.Snapshot()
	push(Frame{Type: FrameSnapshot, Snapshot: &initial})

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(maxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("WebSocket read error: %v", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		stopState()
		stopErr()
		conn.Close()
		<-readDone
	}()

	for {
		select {
		case f := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-us.done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
			return
		case <-readDone:
			return
		}
	}
}
