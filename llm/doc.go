// Package llm defines the provider-neutral model capability used by the
// execution engine.
//
//   - [Model] is the provider interface: prompt and tools in, text, tool
//     calls and usage out.
//   - [Message] carries [Content] blocks to and from a model.
//   - [Option] functions configure a request (messages, system prompt, tools,
//     limits).
//   - [Tool] describes a callable tool at the model level.
//
// Providers live in the providers subpackages.
package llm
