package chunkset

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// StreamServer pushes per-sample records over WebSocket connections, so
// remote consumers can iterate a dataset without a local copy. Samples
// are produced through the bounded iterator, one at a time.
type StreamServer struct {
	ds *Dataset
}

// NewStreamServer creates a streaming server for an open dataset.
func NewStreamServer(ds *Dataset) *StreamServer {
	return &StreamServer{ds: ds}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamMessage is the JSON format for WebSocket messages.
type StreamMessage struct {
	Type   string          `json:"type"`
	Prefix string          `json:"prefix,omitempty"`
	Start  int             `json:"start,omitempty"`
	End    int             `json:"end,omitempty"`
	Index  int             `json:"index,omitempty"`
	Sample json.RawMessage `json:"sample,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Handler returns an HTTP handler for WebSocket connections. A client
// sends {"type":"stream","start":s,"end":e} and receives one "sample"
// message per index followed by "done".
func (s *StreamServer) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer func() { _ = conn.Close() }()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var cmd StreamMessage
			if err := json.Unmarshal(msg, &cmd); err != nil {
				s.sendError(conn, "invalid message format")
				continue
			}

			switch cmd.Type {
			case "stream":
				if err := s.streamRange(r.Context(), conn, cmd); err != nil {
					s.sendError(conn, err.Error())
				}
			case "len":
				resp, _ := json.Marshal(StreamMessage{Type: "len", End: s.ds.Len()})
				_ = conn.WriteMessage(websocket.TextMessage, resp)
			default:
				s.sendError(conn, "unknown command: "+cmd.Type)
			}
		}
	}
}

func (s *StreamServer) streamRange(ctx context.Context, conn *websocket.Conn, cmd StreamMessage) error {
	end := cmd.End
	if end <= 0 || end > s.ds.Len() {
		end = s.ds.Len()
	}
	if cmd.Start < 0 || cmd.Start > end {
		return fmt.Errorf("invalid sample range [%d:%d)", cmd.Start, end)
	}

	it := s.ds.Samples()
	it.Seek(cmd.Start)
	for i := cmd.Start; i < end; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !it.Next() {
			if err := it.Err(); err != nil {
				return err
			}
			break
		}
		sample, err := Materialize(ctx, it.Record())
		if err != nil {
			return err
		}
		payload, err := encodeSampleJSON(sample)
		if err != nil {
			return err
		}
		msg, _ := json.Marshal(StreamMessage{Type: "sample", Index: i, Sample: payload})
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return err
		}
	}

	done, _ := json.Marshal(StreamMessage{Type: "done", Start: cmd.Start, End: end})
	return conn.WriteMessage(websocket.TextMessage, done)
}

func (s *StreamServer) sendError(conn *websocket.Conn, msg string) {
	resp, _ := json.Marshal(StreamMessage{Type: "error", Error: msg})
	_ = conn.WriteMessage(websocket.TextMessage, resp)
}

// encodeSampleJSON converts a materialized sample to JSON: groups become
// objects, arrays become nested lists.
func encodeSampleJSON(sample Sample) (json.RawMessage, error) {
	out := make(map[string]any, len(sample))
	for name, v := range sample {
		switch val := v.(type) {
		case *Array:
			enc, err := encodeArrayJSON(val)
			if err != nil {
				return nil, err
			}
			out[name] = enc
		case Sample:
			enc, err := encodeSampleJSON(val)
			if err != nil {
				return nil, err
			}
			out[name] = enc
		default:
			return nil, fmt.Errorf("%w: sample value %T", ErrUnsupportedValue, v)
		}
	}
	return json.Marshal(out)
}

// encodeArrayJSON converts a dense array to nested lists of numbers.
func encodeArrayJSON(a *Array) (any, error) {
	var build func(shape []int, flat int) (any, int, error)
	build = func(shape []int, flat int) (any, int, error) {
		if len(shape) == 0 {
			v, err := scalarJSON(a, flat)
			return v, flat + 1, err
		}
		items := make([]any, shape[0])
		var err error
		for i := range items {
			items[i], flat, err = build(shape[1:], flat)
			if err != nil {
				return nil, 0, err
			}
		}
		return items, flat, nil
	}
	v, _, err := build(a.Shape, 0)
	return v, err
}

func scalarJSON(a *Array, flat int) (any, error) {
	view := Array{DType: a.DType, Shape: []int{a.NumElements()}, Data: a.Data}
	switch a.DType {
	case Float32, Float64:
		return view.Float(flat)
	case Bool:
		v, err := view.Int(flat)
		return v != 0, err
	default:
		return view.Int(flat)
	}
}
