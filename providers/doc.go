// Package providers selects an llm.Model implementation by model name.
//
// Provider packages register themselves from init, so importing a provider
// for its side effects makes its models available to New:
//
//	import _ "github.com/deepnoodle-ai/autopilot/providers/google"
//
//	model, err := providers.New("gemini-2.5-flash")
package providers
