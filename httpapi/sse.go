package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sselane/sselane/event"
)

// sseWriter adapts one HTTP response into the stream.Writer the Stream
// Engine drives. It formats spec.md §6's SSE frame: id/event/data lines
// followed by a blank line, flushing after every write so the client sees
// the event immediately rather than buffered.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("httpapi: response writer does not support flushing")
	}
	return &sseWriter{w: w, f: f}, nil
}

// Write implements stream.Writer. It injects a "_sequence" field at the
// start of the data's JSON object, as spec.md §6's frame format requires,
// so clients can recover ordering without parsing the payload schema.
func (s *sseWriter) Write(rec event.Record) error {
	data, err := withSequence(rec.Data, rec.Seq)
	if err != nil {
		return err
	}

	buf := &bytes.Buffer{}
	if rec.ID != "" {
		fmt.Fprintf(buf, "id: %s\n", rec.ID)
	}
	fmt.Fprintf(buf, "event: %s\n", rec.Type)
	fmt.Fprintf(buf, "data: %s\n\n", data)

	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("httpapi: sse write: %w", err)
	}
	s.f.Flush()
	return nil
}

// writeConnected signals stream-open with a server-comment line rather
// than a named SSE event: an unsequenced "connected" event sharing the
// wire vocabulary with real outbox events would confuse ordering and
// dedup on the client. Comment lines are invisible to EventSource's
// message handler.
func (s *sseWriter) writeConnected(clientID string) error {
	if _, err := fmt.Fprintf(s.w, ": connected %s\n\n", clientID); err != nil {
		return fmt.Errorf("httpapi: sse write connected comment: %w", err)
	}
	s.f.Flush()
	return nil
}

// withSequence re-marshals data with a leading "_sequence" field. data is
// always a JSON object produced by publish's typed builders or a caller's
// raw broadcast body, so unmarshaling into a generic map and re-encoding is
// sufficient; the remaining fields follow in sorted key order. Data that is
// not a JSON object is passed through unchanged with seq omitted.
func withSequence(data []byte, seq int64) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return data, nil
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	seqRaw, err := json.Marshal(seq)
	if err != nil {
		return nil, err
	}
	delete(fields, "_sequence")
	rest, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	out := append([]byte(`{"_sequence":`), seqRaw...)
	if len(rest) > 2 {
		out = append(out, ',')
	}
	return append(out, rest[1:]...), nil
}
