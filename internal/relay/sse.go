package relay

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/compresr/session-gateway/internal/utils"
)

// SetSSEHeaders prepares w for an event stream.
func SetSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// EncodeSSE renders one frame: data: {"message":...,"id":...}\n\n
func EncodeSSE(ev Event) ([]byte, error) {
	payload, err := utils.MarshalNoEscape(ev)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}

// WriteSSE writes every event as it arrives, flushing after each frame.
// It returns the number of events written. On a write error the caller
// must cancel the relay context so the producer stops.
//
// With frameTimeout > 0 each frame gets its own write deadline, replacing the
// server-wide WriteTimeout, so a stream lives as long as frames keep flowing.
func WriteSSE(w http.ResponseWriter, events <-chan Event, frameTimeout time.Duration) (int, error) {
	flusher, _ := w.(http.Flusher)
	rc := http.NewResponseController(w)
	SetSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	n := 0
	for ev := range events {
		frame, err := EncodeSSE(ev)
		if err != nil {
			return n, fmt.Errorf("encode event: %w", err)
		}
		if frameTimeout > 0 {
			err := rc.SetWriteDeadline(time.Now().Add(frameTimeout))
			if err != nil && !errors.Is(err, http.ErrNotSupported) {
				return n, fmt.Errorf("set write deadline: %w", err)
			}
		}
		if _, err := w.Write(frame); err != nil {
			return n, fmt.Errorf("write event: %w", err)
		}
		if flusher != nil {
			flusher.Flush()
		}
		n++
	}
	return n, nil
}
