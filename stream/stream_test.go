package stream

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/deepnoodle-ai/autopilot"
	"github.com/deepnoodle-ai/autopilot/llm"
	"github.com/deepnoodle-ai/autopilot/llm/llmtest"
	"github.com/deepnoodle-ai/autopilot/slogger"
	"github.com/deepnoodle-ai/wonton/assert"
)

func readAll(t *testing.T, body string) []Event {
	t.Helper()
	reader := NewReader(strings.NewReader(body))
	var events []Event
	for {
		event, ok := reader.Next()
		if !ok {
			break
		}
		events = append(events, event)
	}
	assert.NoError(t, reader.Err())
	return events
}

func eventNames(events []Event) []string {
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.Name
	}
	return names
}

func TestWriterFraming(t *testing.T) {
	var buf strings.Builder
	w := NewWriter(&buf)
	assert.NoError(t, w.Send(EventLiveView, LiveView{URL: "https://live.example/1"}))
	assert.Equal(t, "event: live-view\ndata: {\"url\":\"https://live.example/1\"}\n\n", buf.String())
}

func TestStartResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := StartResponse(rec)
	assert.NoError(t, err)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, rec.Flushed)

	assert.NoError(t, w.Send(EventExecutionCreated, ExecutionCreated{ExecutionID: "exec_1"}))
	events := readAll(t, rec.Body.String())
	assert.Len(t, events, 1)
	assert.JSONEq(t, `{"executionId":"exec_1"}`, string(events[0].Data))
}

type failingWriter struct {
	writes int
}

func (f *failingWriter) Write(p []byte) (int, error) {
	f.writes++
	return 0, errors.New("connection reset")
}

func TestWriterDiscardsAfterFailure(t *testing.T) {
	fw := &failingWriter{}
	w := NewWriter(fw)
	cbs := w.Callbacks()

	cbs.OnExecutionCreated("exec_1")
	cbs.OnStep(autopilot.Step{Index: 0, Type: autopilot.StepText, Text: "hi"})
	cbs.OnComplete(&autopilot.ExecutionResult{ExecutionID: "exec_1", Status: autopilot.StatusCompleted})

	assert.Equal(t, 1, fw.writes)
	assert.Error(t, w.Err())
	assert.Equal(t, w.Err(), w.Send(EventStep, autopilot.Step{}))
}

func TestStatusEventOnFailure(t *testing.T) {
	tests := []struct {
		status autopilot.Status
		want   []string
	}{
		{autopilot.StatusCompleted, []string{EventResult}},
		{autopilot.StatusFailed, []string{EventStatus, EventResult}},
		{autopilot.StatusEscalated, []string{EventStatus, EventResult}},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			var buf strings.Builder
			NewWriter(&buf).Callbacks().OnComplete(&autopilot.ExecutionResult{
				ExecutionID: "exec_1",
				Status:      tt.status,
				Error:       "boom",
			})
			events := readAll(t, buf.String())
			assert.Equal(t, tt.want, eventNames(events))
			if len(events) == 2 {
				var update StatusUpdate
				assert.NoError(t, events[0].Decode(&update))
				assert.Equal(t, tt.status, update.Status)
				assert.Equal(t, "boom", update.Error)
			}
		})
	}
}

func TestReader(t *testing.T) {
	t.Run("comments and multiline data", func(t *testing.T) {
		body := ": keepalive\n\nevent: step\ndata: {\"index\":0,\ndata: \"type\":\"text\"}\n\ndata: {\"a\":1}\n\n"
		events := readAll(t, body)
		assert.Len(t, events, 2)
		step, err := events[0].Step()
		assert.NoError(t, err)
		assert.Equal(t, autopilot.StepText, step.Type)
		assert.Equal(t, "message", events[1].Name)
	})

	t.Run("crlf and unterminated frame", func(t *testing.T) {
		events := readAll(t, "event: result\r\ndata: {\"status\":\"completed\"}")
		assert.Len(t, events, 1)
		result, err := events[0].Result()
		assert.NoError(t, err)
		assert.Equal(t, autopilot.StatusCompleted, result.Status)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Len(t, readAll(t, ""), 0)
	})
}

func TestChain(t *testing.T) {
	var order []string
	first := autopilot.Callbacks{OnStep: func(autopilot.Step) { order = append(order, "first") }}
	second := autopilot.Callbacks{
		OnStep:  func(autopilot.Step) { order = append(order, "second") },
		OnError: func(error) { order = append(order, "error") },
	}
	cbs := Chain(first, second)
	cbs.OnStep(autopilot.Step{})
	cbs.OnError(errors.New("x"))
	cbs.OnLiveView("https://live.example")
	assert.Equal(t, []string{"first", "second", "error"}, order)
}

func TestEngineRunOverStream(t *testing.T) {
	ledger := autopilot.NewMemoryLedger()
	engine, err := autopilot.NewEngine(autopilot.EngineOptions{
		Model:  llmtest.New(llmtest.Text("Done.", llm.Usage{InputTokens: 3, OutputTokens: 2})),
		Ledger: ledger,
		Logger: slogger.NewDevNullLogger(),
	})
	assert.NoError(t, err)

	def := &autopilot.Definition{
		ID:           "triage",
		Name:         "Triage",
		SystemPrompt: "Sort the inbox.",
		Constraints:  autopilot.Constraints{MaxSteps: 5, MaxExecutionTimeMs: 60000},
		Trigger:      autopilot.Trigger{Type: autopilot.TriggerManual},
		Oversight:    autopilot.Oversight{Mode: autopilot.OversightAuto},
	}
	rec := httptest.NewRecorder()
	w, err := StartResponse(rec)
	assert.NoError(t, err)
	result, err := engine.Run(context.Background(), def, autopilot.ExecutionContext{OrgID: "org_1"}, w.Callbacks())
	assert.NoError(t, err)

	events := readAll(t, rec.Body.String())
	assert.Equal(t, []string{EventExecutionCreated, EventStep, EventResult}, eventNames(events))

	var created ExecutionCreated
	assert.NoError(t, events[0].Decode(&created))
	assert.Equal(t, result.ExecutionID, created.ExecutionID)

	streamed, err := events[2].Result()
	assert.NoError(t, err)
	assert.Equal(t, autopilot.StatusCompleted, streamed.Status)
	assert.Equal(t, 5, streamed.Usage.TotalTokens)
}
