package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/deepnoodle-ai/autopilot"
)

// Event is one decoded frame.
type Event struct {
	Name string
	Data json.RawMessage
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("stream: decode %s: %w", e.Name, err)
	}
	return nil
}

// Step decodes a step event.
func (e Event) Step() (autopilot.Step, error) {
	var step autopilot.Step
	err := e.Decode(&step)
	return step, err
}

// Result decodes a result event.
func (e Event) Result() (*autopilot.ExecutionResult, error) {
	var result autopilot.ExecutionResult
	if err := e.Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Reader decodes SSE frames from a stream. Comment lines and unknown fields
// are skipped. Multiple data lines in one frame are joined with newlines.
type Reader struct {
	reader *bufio.Reader
	err    error
}

// NewReader returns a Reader on r.
func NewReader(r io.Reader) *Reader {
	return &Reader{reader: bufio.NewReader(r)}
}

// Err returns the error that stopped Next, or nil at a clean end of stream.
func (s *Reader) Err() error {
	return s.err
}

// Next returns the next event. It returns false at the end of the stream or
// on a read error.
func (s *Reader) Next() (Event, bool) {
	var (
		event   Event
		data    [][]byte
		started bool
	)
	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			s.err = err
			return Event{}, false
		}
		eof := err == io.EOF
		line = bytes.TrimRight(line, "\r\n")

		if len(line) == 0 {
			if started {
				return finish(event, data), true
			}
			if eof {
				return Event{}, false
			}
			continue
		}

		// Comments start with a colon.
		if line[0] != ':' {
			field, value, _ := bytes.Cut(line, []byte(":"))
			value = bytes.TrimPrefix(value, []byte(" "))
			switch string(field) {
			case "event":
				event.Name = string(value)
				started = true
			case "data":
				data = append(data, append([]byte(nil), value...))
				started = true
			}
		}

		if eof {
			if started && len(data) > 0 {
				return finish(event, data), true
			}
			return Event{}, false
		}
	}
}

func finish(event Event, data [][]byte) Event {
	if event.Name == "" {
		event.Name = "message"
	}
	event.Data = json.RawMessage(bytes.Join(data, []byte("\n")))
	return event
}
