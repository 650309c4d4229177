// Package openai implements llm.Model on the OpenAI Responses API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/deepnoodle-ai/autopilot/llm"
	"github.com/deepnoodle-ai/autopilot/providers"
	"github.com/deepnoodle-ai/wonton/schema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

const ProviderName = "openai"

var (
	DefaultModel     = "gpt-4.1"
	DefaultMaxTokens = 4096
)

var _ llm.Model = &Provider{}

type Provider struct {
	client    openai.Client
	model     string
	maxTokens int
	options   []option.RequestOption
}

// New returns a provider. The API key defaults to OPENAI_API_KEY, read by
// the client library.
func New(opts ...Option) *Provider {
	p := &Provider{
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.client = openai.NewClient(p.options...)
	return p
}

func (p *Provider) Name() string {
	return ProviderName + "/" + p.model
}

func (p *Provider) Generate(ctx context.Context, opts ...llm.Option) (*llm.Response, error) {
	config := &llm.Config{}
	config.Apply(opts...)

	params, err := p.buildRequestParams(config)
	if err != nil {
		return nil, err
	}
	response, err := p.client.Responses.New(ctx, params)
	if err != nil {
		return nil, convertError(err)
	}
	return decodeResponse(response)
}

func (p *Provider) buildRequestParams(config *llm.Config) (responses.ResponseNewParams, error) {
	if len(config.Messages) == 0 {
		return responses.ResponseNewParams{}, errors.New("no messages provided")
	}
	input, err := encodeMessages(config.Messages)
	if err != nil {
		return responses.ResponseNewParams{}, err
	}

	model := p.model
	if config.Model != "" {
		model = config.Model
	}
	params := responses.ResponseNewParams{
		Model: model,
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: input},
	}
	if config.SystemPrompt != "" {
		params.Instructions = openai.String(config.SystemPrompt)
	}
	if config.MaxTokens != nil {
		params.MaxOutputTokens = openai.Int(int64(*config.MaxTokens))
	} else if p.maxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(p.maxTokens))
	}
	if config.Temperature != nil {
		params.Temperature = openai.Float(*config.Temperature)
	}

	switch config.ToolChoice {
	case "":
	case llm.ToolChoiceAuto:
		params.ToolChoice = responses.ResponseNewParamsToolChoiceUnion{
			OfToolChoiceMode: openai.Opt(responses.ToolChoiceOptionsAuto),
		}
	case llm.ToolChoiceNone:
		params.ToolChoice = responses.ResponseNewParamsToolChoiceUnion{
			OfToolChoiceMode: openai.Opt(responses.ToolChoiceOptionsNone),
		}
	case llm.ToolChoiceAny:
		params.ToolChoice = responses.ResponseNewParamsToolChoiceUnion{
			OfToolChoiceMode: openai.Opt(responses.ToolChoiceOptionsRequired),
		}
	default:
		return responses.ResponseNewParams{}, fmt.Errorf("invalid tool choice: %s", config.ToolChoice)
	}

	for _, tool := range config.Tools {
		parameters, err := schemaToMap(tool.Schema())
		if err != nil {
			return responses.ResponseNewParams{}, fmt.Errorf("tool %s: %w", tool.Name(), err)
		}
		params.Tools = append(params.Tools, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        tool.Name(),
				Strict:      openai.Bool(false),
				Description: openai.String(tool.Description()),
				Parameters:  parameters,
			},
		})
	}
	return params, nil
}

// schemaToMap converts a tool schema to the JSON object the API expects.
func schemaToMap(s *schema.Schema) (map[string]any, error) {
	if s == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("error encoding schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("error encoding schema: %w", err)
	}
	return out, nil
}

func convertError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return providers.NewError(ProviderName, apiErr.StatusCode, apiErr.Message)
	}
	return fmt.Errorf("error making request: %w", err)
}
