// Package stream carries engine events to remote callers as Server-Sent
// Events. Each event is a named frame with a JSON payload:
//
//	event: step
//	data: {"index":0,"type":"text","text":"..."}
//
// Writer adapts autopilot.Callbacks to frames on an HTTP response and Reader
// decodes them on the client side.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/deepnoodle-ai/autopilot"
)

// Event names.
const (
	EventExecutionCreated = "execution-created"
	EventStep             = "step"
	EventLiveView         = "live-view"
	EventBrowserAction    = "browser-action"
	EventResult           = "result"
	EventStatus           = "status"
)

// ExecutionCreated is the payload of an execution-created event.
type ExecutionCreated struct {
	ExecutionID string `json:"executionId"`
}

// LiveView is the payload of a live-view event.
type LiveView struct {
	URL string `json:"url"`
}

// StatusUpdate is the payload of a status event. It is sent before the result
// of a run that failed or escalated.
type StatusUpdate struct {
	Status autopilot.Status `json:"status"`
	Error  string           `json:"error,omitempty"`
}

// Writer writes events as SSE frames. It is safe for concurrent use. After
// the first write error every later event is discarded, so a disconnected
// client never raises inside the engine.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	err     error
}

// NewWriter returns a Writer on w. When w is an http.Flusher each frame is
// flushed as soon as it is written.
func NewWriter(w io.Writer) *Writer {
	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher}
}

// StartResponse writes SSE headers and a 200 status to w and returns a Writer
// for the body. It fails when w cannot flush.
func StartResponse(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("stream: response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Runs outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	return NewWriter(w), nil
}

// Send writes one event. Once a write has failed Send returns that error and
// writes nothing.
func (s *Writer) Send(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("stream: encode %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		s.err = err
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// Err returns the first write error, if any.
func (s *Writer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Callbacks returns engine callbacks that forward every notification as an
// event. Errors are dropped; see Err.
func (s *Writer) Callbacks() autopilot.Callbacks {
	return autopilot.Callbacks{
		OnExecutionCreated: func(id string) {
			_ = s.Send(EventExecutionCreated, ExecutionCreated{ExecutionID: id})
		},
		OnStep: func(step autopilot.Step) {
			_ = s.Send(EventStep, step)
		},
		OnLiveView: func(url string) {
			_ = s.Send(EventLiveView, LiveView{URL: url})
		},
		OnBrowserAction: func(action autopilot.BrowserAction) {
			_ = s.Send(EventBrowserAction, action)
		},
		OnComplete: func(result *autopilot.ExecutionResult) {
			if result.Status == autopilot.StatusFailed || result.Status == autopilot.StatusEscalated {
				_ = s.Send(EventStatus, StatusUpdate{Status: result.Status, Error: result.Error})
			}
			_ = s.Send(EventResult, result)
		},
	}
}

// Chain returns callbacks that invoke each of cbs in order.
func Chain(cbs ...autopilot.Callbacks) autopilot.Callbacks {
	return autopilot.Callbacks{
		OnExecutionCreated: func(id string) {
			for _, cb := range cbs {
				if cb.OnExecutionCreated != nil {
					cb.OnExecutionCreated(id)
				}
			}
		},
		OnStep: func(step autopilot.Step) {
			for _, cb := range cbs {
				if cb.OnStep != nil {
					cb.OnStep(step)
				}
			}
		},
		OnLiveView: func(url string) {
			for _, cb := range cbs {
				if cb.OnLiveView != nil {
					cb.OnLiveView(url)
				}
			}
		},
		OnBrowserAction: func(action autopilot.BrowserAction) {
			for _, cb := range cbs {
				if cb.OnBrowserAction != nil {
					cb.OnBrowserAction(action)
				}
			}
		},
		OnComplete: func(result *autopilot.ExecutionResult) {
			for _, cb := range cbs {
				if cb.OnComplete != nil {
					cb.OnComplete(result)
				}
			}
		},
		OnError: func(err error) {
			for _, cb := range cbs {
				if cb.OnError != nil {
					cb.OnError(err)
				}
			}
		},
	}
}
