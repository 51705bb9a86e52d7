package worker

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/justinmoon/spool/internal/stream"
)

// The worker serves one trusted caller on its own host; origin policy
// is the gateway's job, so the upgrader takes any.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// attachMsg is the JSON control envelope a websocket client may send.
// Anything that does not parse as one is raw keystrokes.
type attachMsg struct {
	Op   string `json:"op"` // "input" or "resize"
	Data string `json:"data,omitempty"`
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
}

// handleSessionWS attaches a bidirectional terminal to a session: raw
// PTY bytes out, keystrokes (or control envelopes) in. The NDJSON
// stream stays the canonical cursor-based surface; this is for clients
// that want a live terminal.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess := s.reg.Session(id)
	if sess == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("session %s: ws upgrade: %v", id, err)
		return
	}
	defer conn.Close()

	subID, frames := sess.Pub.Subscribe()
	defer sess.Pub.Unsubscribe(subID)
	snapshot := sess.Pub.Snapshot()

	// Replay buffered output so the client can reconstruct the screen,
	// then follow live frames, deduped by seq.
	var last uint64
	for _, f := range snapshot {
		if f.T != stream.KindStdout {
			continue
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte(f.D)); err != nil {
			return
		}
		last = f.Seq
	}

	go func() {
		for f := range frames {
			if f.Seq <= last {
				continue
			}
			if f.Terminal() {
				conn.Close()
				return
			}
			if f.T != stream.KindStdout {
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, []byte(f.D)); err != nil {
				return
			}
		}
		conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("session %s: ws read: %v", id, err)
			}
			return
		}

		var msg attachMsg
		if json.Unmarshal(payload, &msg) != nil || msg.Op == "" {
			if werr := sess.Write(string(payload)); werr != nil {
				log.Printf("session %s: write: %v", id, werr)
			}
			continue
		}

		switch msg.Op {
		case "input":
			if err := sess.Write(msg.Data); err != nil {
				log.Printf("session %s: write: %v", id, err)
			}
		case "resize":
			if err := sess.Resize(msg.Cols, msg.Rows); err != nil {
				log.Printf("session %s: resize: %v", id, err)
			}
		default:
			log.Printf("session %s: unknown ws op %q", id, msg.Op)
		}
	}
}
