// Package autopilot runs short-lived autonomous agent tasks described by
// declarative definitions. A run drives a bounded loop of language model calls
// and tool invocations, reports progress through callbacks and records a
// durable audit trail in an execution ledger.
//
// The core types are:
//
//   - [Definition] declares an agent: system prompt, allowed tools, input
//     fields, limits, trigger and oversight policy, and trigger conditions.
//   - [Matches] evaluates a definition's conditions against a property bag.
//   - [Tool] and [TypedTool] define callable tools; [ToolRegistry] resolves
//     the allow-listed subset a definition names.
//   - [Engine] owns one run from running to a terminal state and produces an
//     [ExecutionResult].
//   - [Ledger], [MemoryStore] and [DefinitionStore] are the persistence
//     contracts. In-memory implementations live in this package; durable ones
//     are in the filestore, sqlite and postgres subpackages.
//
// # Quick Start
//
//	registry := autopilot.NewToolRegistry(toolkit.NewFetchTool(toolkit.FetchToolOptions{}))
//	engine, _ := autopilot.NewEngine(autopilot.EngineOptions{
//	    Model:    google.New(),
//	    Registry: registry,
//	    Ledger:   autopilot.NewMemoryLedger(),
//	})
//	input, _ := autopilot.ValidateInput(definition, raw)
//	result, _ := engine.Run(ctx, definition, autopilot.ExecutionContext{
//	    Input: input,
//	    OrgID: "org_1",
//	}, autopilot.Callbacks{})
//	fmt.Println(result.Status, result.Summary)
//
// Execution time limits are enforced only at step boundaries. A slow model
// call or tool call can run past MaxExecutionTimeMs; the engine notices at the
// next boundary and truncates the run there.
package autopilot
