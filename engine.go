package autopilot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/deepnoodle-ai/autopilot/llm"
	"github.com/deepnoodle-ai/autopilot/slogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/deepnoodle-ai/autopilot"

// EngineOptions configures an Engine.
type EngineOptions struct {
	// Model is the language model capability. Required.
	Model llm.Model

	// Ledger records every run. Required.
	Ledger Ledger

	// Registry holds the tools definitions may allow. Defaults to an empty
	// registry.
	Registry *ToolRegistry

	// Memory stores cross-run memory for definitions that use the
	// save_memory tool.
	Memory MemoryStore

	Logger slogger.Logger

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	// MaxTokens and Temperature are passed to every model call when set.
	MaxTokens   int
	Temperature *float64
}

// Engine runs definitions. It holds no per-run state and is safe for
// concurrent use; each call to Run owns one run from start to finish.
type Engine struct {
	model       llm.Model
	ledger      Ledger
	registry    *ToolRegistry
	memory      MemoryStore
	logger      slogger.Logger
	now         func() time.Time
	maxTokens   int
	temperature *float64

	tracer       trace.Tracer
	runCounter   metric.Int64Counter
	tokenCounter metric.Int64Counter
}

// NewEngine returns an Engine configured with opts.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Model == nil {
		return nil, errors.New("engine: model is required")
	}
	if opts.Ledger == nil {
		return nil, errors.New("engine: ledger is required")
	}
	if opts.Registry == nil {
		opts.Registry = NewToolRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	meter := otel.GetMeterProvider().Meter(instrumentationName)
	runCounter, err := meter.Int64Counter("autopilot.runs",
		metric.WithDescription("Runs by terminal status"))
	if err != nil {
		return nil, fmt.Errorf("engine: create run counter: %w", err)
	}
	tokenCounter, err := meter.Int64Counter("autopilot.tokens",
		metric.WithDescription("Model tokens consumed by runs"))
	if err != nil {
		return nil, fmt.Errorf("engine: create token counter: %w", err)
	}
	return &Engine{
		model:        opts.Model,
		ledger:       opts.Ledger,
		registry:     opts.Registry,
		memory:       opts.Memory,
		logger:       opts.Logger,
		now:          opts.Clock,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
		tracer:       otel.Tracer(instrumentationName),
		runCounter:   runCounter,
		tokenCounter: tokenCounter,
	}, nil
}

// Run executes one run of def. The input in ec must already be validated
// with ValidateInput.
//
// Run always returns exactly one terminal ExecutionResult once the ledger
// record exists; configuration problems, model failures and fatal tool
// errors are reported through the result's status rather than the error.
// The error is non-nil only when the ledger record cannot be created.
//
// Cancelling ctx does not stop the run: a consumer that stops listening must
// not leave the ledger unfinalized. Limits are checked before each model
// call, so a slow model or tool call can run past MaxExecutionTimeMs before
// the run is truncated at the next step boundary.
func (e *Engine) Run(ctx context.Context, def *Definition, ec ExecutionContext, callbacks Callbacks) (*ExecutionResult, error) {
	ctx = context.WithoutCancel(ctx)
	def = def.Clone()
	start := e.now()

	ctx, span := e.tracer.Start(ctx, "autopilot.run", trace.WithAttributes(
		attribute.String("autopilot.definition_id", def.ID),
		attribute.Int("autopilot.definition_version", def.Version),
		attribute.String("autopilot.org_id", ec.OrgID),
	))
	defer span.End()

	record := &ExecutionRecord{
		ID:                NewExecutionID(),
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
		Input:             ec.Input,
		OrgID:             ec.OrgID,
		UserID:            ec.UserID,
		SubjectID:         ec.subject(),
		OrgPrompt:         ec.OrgPrompt,
		TriggerType:       ec.TriggerType,
		Status:            StatusRunning,
		Steps:             []Step{},
		StartedAt:         start,
	}
	id, err := e.ledger.Create(ctx, record)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create execution record")
		return nil, fmt.Errorf("create execution record: %w", err)
	}
	span.SetAttributes(attribute.String("autopilot.execution_id", id))

	logger := e.logger.With("execution_id", id, "definition_id", def.ID)
	r := &run{
		engine: e,
		def:    def,
		ec:     ec,
		id:     id,
		start:  start,
		logger: logger,
		span:   span,
		notify:   &notifier{callbacks: callbacks, logger: logger},
		approval: def.Oversight.policy(),
	}
	logger.Info("run started", "version", def.Version, "org_id", ec.OrgID)
	r.notify.executionCreated(id)

	tools, memory, err := e.prepare(ctx, def, ec, logger)
	if err != nil {
		return r.fail(ctx, "The agent could not start because of a configuration error.", err), nil
	}
	return r.loop(ctx, tools, memory), nil
}

// prepare resolves the definition's tools and recalls memory.
func (e *Engine) prepare(ctx context.Context, def *Definition, ec ExecutionContext, logger slogger.Logger) ([]Tool, *recalledMemory, error) {
	if def.Constraints.MaxSteps <= 0 {
		return nil, nil, &ConfigError{Reason: "constraints.maxSteps must be positive"}
	}
	if def.Constraints.MaxExecutionTimeMs <= 0 {
		return nil, nil, &ConfigError{Reason: "constraints.maxExecutionTimeMs must be positive"}
	}
	resolved, err := e.registry.Resolve(def.Tools)
	if err != nil {
		return nil, nil, err
	}
	tools := make([]Tool, 0, len(def.Tools))
	for _, name := range def.Tools {
		tools = append(tools, resolved[name])
	}
	if _, ok := resolved[SaveMemoryToolName]; !ok {
		return tools, nil, nil
	}
	if e.memory == nil {
		return nil, nil, &ConfigError{Reason: "definition uses " + SaveMemoryToolName + " but no memory store is configured"}
	}
	recalled := &recalledMemory{scope: &memoryScope{
		store: e.memory,
		key:   MemoryKey{DefinitionID: def.ID, SubjectID: ec.subject(), OrgID: ec.OrgID},
	}}
	memory, err := e.memory.Get(ctx, recalled.scope.key)
	switch {
	case err == nil:
		recalled.memory = memory
	case errors.Is(err, ErrNotFound):
	default:
		logger.Warn("memory read failed, continuing without memory", "error", err)
	}
	return tools, recalled, nil
}

type recalledMemory struct {
	scope  *memoryScope
	memory *Memory
}

// run is the state of one execution. Steps are appended under mu so that
// ledger writes and OnStep notifications stay in index order even when a tool
// emits browser actions from another goroutine.
type run struct {
	engine *Engine
	def    *Definition
	ec     ExecutionContext
	id     string
	start  time.Time
	logger slogger.Logger
	span   trace.Span
	notify *notifier
	// approval is compiled from the pinned definition once per run.
	approval approvalPolicy

	mu           sync.Mutex
	steps        []Step
	usage        Usage
	pendingUsage *Usage
	done         bool
}

func (r *run) loop(ctx context.Context, tools []Tool, memory *recalledMemory) *ExecutionResult {
	var mem *Memory
	var scope *memoryScope
	if memory != nil {
		mem, scope = memory.memory, memory.scope
	}
	systemPrompt := BuildSystemPrompt(r.def, r.ec, mem)
	messages := []*llm.Message{llm.NewUserTextMessage(BuildInputMessage(r.def, r.ec.Input))}

	byName := make(map[string]Tool, len(tools))
	modelTools := make([]llm.Tool, 0, len(tools))
	for _, tool := range tools {
		byName[tool.Name()] = tool
		modelTools = append(modelTools, tool)
	}

	maxSteps := r.def.Constraints.MaxSteps
	maxTime := r.def.Constraints.MaxExecutionTime()
	var lastText string

	for iteration := 0; ; iteration++ {
		if iteration >= maxSteps {
			return r.complete(ctx, truncatedSummary(fmt.Sprintf("the step limit of %d", maxSteps), lastText))
		}
		if elapsed := r.engine.now().Sub(r.start); elapsed >= maxTime {
			return r.complete(ctx, truncatedSummary(fmt.Sprintf("the execution time limit of %s", maxTime), lastText))
		}

		response, err := r.generate(ctx, systemPrompt, messages, modelTools)
		if err != nil {
			return r.fail(ctx, "The agent stopped because the model call failed.", fmt.Errorf("model call failed: %w", err))
		}
		r.recordUsage(ctx, response.Usage)

		text := response.Text()
		calls := response.ToolCalls()
		if text != "" || len(calls) == 0 {
			r.addStep(ctx, Step{Type: StepText, Text: text})
			lastText = text
		}
		if len(calls) == 0 {
			return r.complete(ctx, text)
		}

		messages = append(messages, response.Message())
		results := make([]*llm.ToolResultContent, 0, len(calls))
		for _, call := range calls {
			input := normalizeToolInput(call.Input)
			r.addStep(ctx, Step{
				Type:       StepToolCall,
				ToolName:   call.Name,
				ToolCallID: call.ID,
				Input:      input,
			})
			tool := byName[call.Name]
			outcome, ok := checkCall(tool, call.Name, call.Input)
			if ok {
				if r.approval.requires(call.Name, tool.Annotations()) {
					return r.escalate(ctx, fmt.Sprintf("The agent proposed calling %s, which requires approval before it runs.", call.Name))
				}
				outcome = r.dispatch(ctx, tool, call.Name, input, scope)
			}
			r.addStep(ctx, Step{
				Type:       StepToolResult,
				ToolName:   call.Name,
				ToolCallID: call.ID,
				Output:     outcome.output,
				IsError:    outcome.isError,
			})
			if outcome.fatal != nil {
				return r.fail(ctx, fmt.Sprintf("The agent stopped because %s failed.", call.Name), outcome.fatal)
			}
			results = append(results, &llm.ToolResultContent{
				ToolUseID: call.ID,
				Content:   outcome.text,
				IsError:   outcome.isError,
			})
		}
		messages = append(messages, llm.NewToolResultMessage(results...))
	}
}

func truncatedSummary(limit, lastText string) string {
	summary := "Stopped after reaching " + limit + "."
	if lastText != "" {
		summary += " Last response: " + lastText
	}
	return summary
}

func (r *run) generate(ctx context.Context, systemPrompt string, messages []*llm.Message, tools []llm.Tool) (*llm.Response, error) {
	ctx, span := r.engine.tracer.Start(ctx, "autopilot.model", trace.WithAttributes(
		attribute.String("autopilot.model", r.engine.model.Name()),
	))
	defer span.End()

	opts := []llm.Option{
		llm.WithSystemPrompt(systemPrompt),
		llm.WithMessages(slices.Clone(messages)...),
	}
	if len(tools) > 0 {
		opts = append(opts, llm.WithTools(tools...), llm.WithToolChoice(llm.ToolChoiceAuto))
	}
	if r.engine.maxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(r.engine.maxTokens))
	}
	if r.engine.temperature != nil {
		opts = append(opts, llm.WithTemperature(*r.engine.temperature))
	}

	response, err := r.engine.model.Generate(ctx, opts...)
	if err == nil && response == nil {
		err = ErrNoResponse
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("autopilot.input_tokens", response.Usage.InputTokens),
		attribute.Int("autopilot.output_tokens", response.Usage.OutputTokens),
	)
	return response, nil
}

func (r *run) recordUsage(ctx context.Context, u llm.Usage) {
	usage := Usage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  u.Total(),
	}
	r.mu.Lock()
	r.usage.Add(usage)
	r.pendingUsage = &usage
	r.mu.Unlock()
	r.engine.tokenCounter.Add(ctx, int64(usage.TotalTokens),
		metric.WithAttributes(attribute.String("definition_id", r.def.ID)))
}

// addStep assigns the next index, persists the step and notifies callbacks.
// Steps offered after the run is done are dropped.
func (r *run) addStep(ctx context.Context, step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	step.Index = len(r.steps)
	step.Timestamp = r.engine.now()
	if r.pendingUsage != nil {
		step.Usage = r.pendingUsage
		r.pendingUsage = nil
	}
	r.steps = append(r.steps, step)
	if err := r.engine.ledger.AppendStep(ctx, r.id, step); err != nil {
		r.logger.Warn("ledger append failed", "step", step.Index, "error", err)
	}
	r.logger.Debug("step", "step", step.Index, "type", step.Type, "tool", step.ToolName)
	r.notify.step(step)
}

func (r *run) liveView(url string) {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if !done {
		r.notify.liveView(url)
	}
}

func (r *run) browserAction(toolName string, action BrowserAction) {
	input, err := json.Marshal(action)
	if err != nil {
		return
	}
	r.addStep(context.Background(), Step{Type: StepBrowserAction, ToolName: toolName, Input: input})
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if !done {
		r.notify.browserAction(action)
	}
}

func (r *run) complete(ctx context.Context, summary string) *ExecutionResult {
	return r.finish(ctx, StatusCompleted, summary, nil)
}

func (r *run) escalate(ctx context.Context, summary string) *ExecutionResult {
	return r.finish(ctx, StatusEscalated, summary, nil)
}

func (r *run) fail(ctx context.Context, summary string, err error) *ExecutionResult {
	return r.finish(ctx, StatusFailed, summary, err)
}

// finish moves the run to a terminal status. It runs once per run.
func (r *run) finish(ctx context.Context, status Status, summary string, runErr error) *ExecutionResult {
	r.mu.Lock()
	r.done = true
	steps := slices.Clone(r.steps)
	usage := r.usage
	r.mu.Unlock()
	if steps == nil {
		steps = []Step{}
	}

	result := &ExecutionResult{
		ExecutionID: r.id,
		Status:      status,
		Summary:     summary,
		Steps:       steps,
		Usage:       usage,
		DurationMs:  r.engine.now().Sub(r.start).Milliseconds(),
	}
	if runErr != nil {
		result.Error = runErr.Error()
		r.span.RecordError(runErr)
		r.span.SetStatus(codes.Error, runErr.Error())
	}
	if err := r.engine.ledger.Finalize(ctx, r.id, result); err != nil {
		r.logger.Error("ledger finalize failed", "error", err)
	}
	r.span.SetAttributes(attribute.String("autopilot.status", string(status)))
	r.engine.runCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(status)),
		attribute.String("definition_id", r.def.ID),
	))

	if runErr != nil {
		r.logger.Warn("run failed", "status", status, "steps", len(steps), "error", runErr)
		r.notify.runError(runErr)
	} else {
		r.logger.Info("run finished", "status", status, "steps", len(steps), "tokens", usage.TotalTokens)
	}
	r.notify.complete(result)
	return result
}

// normalizeToolInput returns the tool input as a JSON value that can be
// persisted. Empty input becomes {} and malformed input is kept as a JSON
// string.
func normalizeToolInput(input json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(input)
	if len(trimmed) == 0 {
		return json.RawMessage("{}")
	}
	if json.Valid(trimmed) {
		return trimmed
	}
	quoted, _ := json.Marshal(string(input))
	return quoted
}
