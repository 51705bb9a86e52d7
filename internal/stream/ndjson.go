package stream

import (
	"encoding/json"
	"net/http"
)

// ContentType is the media type of the NDJSON stream responses.
const ContentType = "application/x-ndjson"

// ServeNDJSON writes a resumable stream response: a seq-0 banner, then
// backlog frames with seq > from in ascending order, then live frames
// until the hub closes, the client goes away, or the terminal exit
// frame is emitted. Each line is one JSON-encoded frame.
//
// The subscription is taken before the backlog snapshot; frames seen in
// both are deduped by sequence number, so replay + live delivers every
// frame after the cursor exactly once, in order.
func ServeNDJSON(w http.ResponseWriter, r *http.Request, pub *Publisher, from uint64) {
	id, live := pub.Subscribe()
	defer pub.Unsubscribe(id)
	past := pub.Snapshot()

	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	writeFrame := func(f Frame) bool {
		line, err := json.Marshal(f)
		if err != nil {
			return false
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	if !writeFrame(Frame{T: KindEvent, Seq: 0, D: "stream-start"}) {
		return
	}

	last := from
	for _, f := range past {
		if f.Seq <= last {
			continue
		}
		if !writeFrame(f) {
			return
		}
		last = f.Seq
		if f.Terminal() {
			return
		}
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-live:
			if !ok {
				return
			}
			if f.Seq <= last {
				continue
			}
			if !writeFrame(f) {
				return
			}
			last = f.Seq
			if f.Terminal() {
				return
			}
		}
	}
}
