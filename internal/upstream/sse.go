package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	"github.com/compresr/session-gateway/internal/config"
)

var doneMarker = []byte("[DONE]")

// nextSSEEvent splits the first complete event off buf.
// With flush set, a trailing event without a blank-line terminator is returned too.
func nextSSEEvent(buf []byte, flush bool) ([]byte, []byte, bool) {
	if idx := bytes.Index(buf, []byte("\r\n\r\n")); idx >= 0 {
		return buf[:idx], buf[idx+4:], true
	}
	if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
		return buf[:idx], buf[idx+2:], true
	}
	if flush {
		trimmed := bytes.TrimSpace(buf)
		if len(trimmed) > 0 {
			return trimmed, nil, true
		}
	}
	return nil, nil, false
}

// eventData joins the data: lines of one event. done reports the [DONE] marker.
func eventData(event []byte) (data []byte, done bool) {
	lines := bytes.Split(event, []byte("\n"))
	dataLines := make([][]byte, 0, 2)

	for _, line := range lines {
		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if bytes.Equal(payload, doneMarker) {
			return nil, true
		}
		if len(payload) > 0 {
			dataLines = append(dataLines, payload)
		}
	}
	return bytes.Join(dataLines, []byte("\n")), false
}

// sseDecoder turns an upstream SSE body into text fragments.
type sseDecoder struct {
	textPath string
	buffer   []byte
}

// decodeEvent returns the fragment carried by one event.
// Upstream error events become an ErrUpstream-wrapped error.
func (d *sseDecoder) decodeEvent(event []byte) (string, bool, error) {
	data, done := eventData(event)
	if done || len(data) == 0 {
		return "", done, nil
	}
	if !gjson.ValidBytes(data) {
		return "", false, nil
	}

	parsed := gjson.ParseBytes(data)
	if parsed.Get("type").String() == "error" {
		msg := parsed.Get("error.message").String()
		if msg == "" {
			msg = parsed.Get("error").String()
		}
		return "", false, fmt.Errorf("%w: %s", ErrUpstream, msg)
	}
	return parsed.Get(d.textPath).String(), false, nil
}

// pump reads body until EOF, [DONE], an error event, or ctx cancellation.
// Fragments go to out in arrival order; the first failure goes to errs.
func (d *sseDecoder) pump(ctx context.Context, body io.ReadCloser, out chan<- string, errs chan<- error) {
	defer close(out)
	defer body.Close()

	emit := func(event []byte) (stop bool) {
		frag, done, err := d.decodeEvent(event)
		if err != nil {
			errs <- err
			return true
		}
		if done {
			return true
		}
		if frag == "" {
			return false
		}
		select {
		case out <- frag:
			return false
		case <-ctx.Done():
			errs <- ctx.Err()
			return true
		}
	}

	chunk := make([]byte, config.DefaultBufferSize)
	for {
		n, readErr := body.Read(chunk)
		if n > 0 {
			d.buffer = append(d.buffer, chunk[:n]...)
			for {
				event, rest, ok := nextSSEEvent(d.buffer, false)
				if !ok {
					break
				}
				d.buffer = rest
				if emit(event) {
					return
				}
			}
		}
		if readErr != nil {
			if event, _, ok := nextSSEEvent(d.buffer, true); ok {
				if emit(event) {
					return
				}
			}
			if !errors.Is(readErr, io.EOF) {
				errs <- fmt.Errorf("read stream: %w", readErr)
			}
			return
		}
	}
}
