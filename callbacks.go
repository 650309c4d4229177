package autopilot

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/autopilot/slogger"
)

// Callbacks receive notifications while a run progresses. Every field is
// optional. Callbacks are best-effort: a panic inside one is recovered and
// logged, and never changes the outcome of the run. They are invoked from the
// run's goroutine in step order.
type Callbacks struct {
	// OnExecutionCreated is called once the ledger record exists.
	OnExecutionCreated func(executionID string)

	// OnStep is called for every step, in index order.
	OnStep func(step Step)

	// OnLiveView is called when a tool publishes a live view URL, such as a
	// remote browser session.
	OnLiveView func(url string)

	// OnBrowserAction is called when a browser tool performs an action.
	OnBrowserAction func(action BrowserAction)

	// OnComplete is called exactly once with the terminal result, after the
	// last OnStep.
	OnComplete func(result *ExecutionResult)

	// OnError is called before OnComplete when a run fails.
	OnError func(err error)
}

// notifier invokes callbacks, isolating the engine from panicking consumers.
type notifier struct {
	callbacks Callbacks
	logger    slogger.Logger
}

func (n *notifier) safely(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Warn("callback panicked", "callback", name, "error", fmt.Sprint(r))
		}
	}()
	fn()
}

func (n *notifier) executionCreated(id string) {
	if cb := n.callbacks.OnExecutionCreated; cb != nil {
		n.safely("OnExecutionCreated", func() { cb(id) })
	}
}

func (n *notifier) step(step Step) {
	if cb := n.callbacks.OnStep; cb != nil {
		n.safely("OnStep", func() { cb(step) })
	}
}

func (n *notifier) liveView(url string) {
	if cb := n.callbacks.OnLiveView; cb != nil {
		n.safely("OnLiveView", func() { cb(url) })
	}
}

func (n *notifier) browserAction(action BrowserAction) {
	if cb := n.callbacks.OnBrowserAction; cb != nil {
		n.safely("OnBrowserAction", func() { cb(action) })
	}
}

func (n *notifier) complete(result *ExecutionResult) {
	if cb := n.callbacks.OnComplete; cb != nil {
		n.safely("OnComplete", func() { cb(result) })
	}
}

func (n *notifier) runError(err error) {
	if cb := n.callbacks.OnError; cb != nil {
		n.safely("OnError", func() { cb(err) })
	}
}

// sideChannel lets tools publish live views and browser actions into the
// run that invoked them.
type sideChannel interface {
	liveView(url string)
	browserAction(toolName string, action BrowserAction)
}

type toolScope struct {
	channel  sideChannel
	toolName string
	memory   *memoryScope
}

type toolScopeKey struct{}

func withToolScope(ctx context.Context, scope *toolScope) context.Context {
	return context.WithValue(ctx, toolScopeKey{}, scope)
}

func toolScopeFrom(ctx context.Context) *toolScope {
	scope, _ := ctx.Value(toolScopeKey{}).(*toolScope)
	return scope
}

// EmitLiveView publishes a live view URL for the current run. It is a no-op
// outside a tool call made by the engine.
func EmitLiveView(ctx context.Context, url string) {
	if scope := toolScopeFrom(ctx); scope != nil && scope.channel != nil {
		scope.channel.liveView(url)
	}
}

// EmitBrowserAction records a browser action as a step of the current run
// and forwards it to OnBrowserAction. It is a no-op outside a tool call made
// by the engine.
func EmitBrowserAction(ctx context.Context, action BrowserAction) {
	if scope := toolScopeFrom(ctx); scope != nil && scope.channel != nil {
		scope.channel.browserAction(scope.toolName, action)
	}
}
