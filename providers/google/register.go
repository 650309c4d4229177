package google

import (
	"github.com/deepnoodle-ai/autopilot/llm"
	"github.com/deepnoodle-ai/autopilot/providers"
)

func init() {
	providers.Register(providers.Entry{
		Name:  ProviderName,
		Match: providers.PrefixMatcher("gemini-"),
		Factory: func(model string) (llm.Model, error) {
			return New(WithModel(model)), nil
		},
	})
}
