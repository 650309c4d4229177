package toolkit

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/deepnoodle-ai/autopilot"
	"github.com/deepnoodle-ai/wonton/schema"
)

// Browser actions understood by the browser tool.
const (
	BrowserNavigate = "navigate"
	BrowserClick    = "click"
	BrowserType     = "type"
	BrowserRead     = "read"
)

var browserActions = []any{BrowserNavigate, BrowserClick, BrowserType, BrowserRead}

// Browser is a single page browser session.
type Browser interface {
	// Navigate loads url and returns the location after redirects.
	Navigate(ctx context.Context, url string) (string, error)
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	// Text returns the visible text of the first element matching selector.
	Text(ctx context.Context, selector string) (string, error)
	// Location returns the current page URL.
	Location(ctx context.Context) (string, error)
}

// BrowserInput is the input of the browser tool.
type BrowserInput struct {
	Action   string `json:"action"`
	URL      string `json:"url,omitempty"`
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text,omitempty"`
}

var _ autopilot.TypedTool[*BrowserInput] = &BrowserTool{}

// BrowserTool drives a Browser. Each successful action is published with
// autopilot.EmitBrowserAction, and the live view URL, when configured, is
// published with autopilot.EmitLiveView before each action.
type BrowserTool struct {
	browser     Browser
	liveViewURL string
	maxSize     int
}

type BrowserToolOptions struct {
	Browser Browser

	// LiveViewURL is where a person can watch the session, such as a
	// DevTools frontend or a remote browser provider viewer.
	LiveViewURL string

	// MaxSize caps the runes returned by the read action.
	MaxSize int
}

func NewBrowserTool(options BrowserToolOptions) *autopilot.TypedToolAdapter[*BrowserInput] {
	if options.MaxSize <= 0 {
		options.MaxSize = DefaultFetchMaxSize
	}
	return autopilot.ToolAdapter(&BrowserTool{
		browser:     options.Browser,
		liveViewURL: options.LiveViewURL,
		maxSize:     options.MaxSize,
	})
}

func (t *BrowserTool) Name() string {
	return "browser"
}

func (t *BrowserTool) Description() string {
	return "Controls a web browser. Use navigate to open a URL, click and type to interact " +
		"with elements by CSS selector, and read to get the text of an element " +
		"(the whole page when no selector is given)."
}

func (t *BrowserTool) Schema() *schema.Schema {
	return &schema.Schema{
		Type:     schema.Object,
		Required: []string{"action"},
		Properties: map[string]*schema.Property{
			"action": {
				Type:        schema.String,
				Description: "The action to perform",
				Enum:        browserActions,
			},
			"url": {
				Type:        schema.String,
				Description: "The URL to open, for navigate",
			},
			"selector": {
				Type:        schema.String,
				Description: "CSS selector of the target element, for click, type and read",
			},
			"text": {
				Type:        schema.String,
				Description: "The text to enter, for type",
			},
		},
	}
}

func (t *BrowserTool) Annotations() *autopilot.ToolAnnotations {
	return &autopilot.ToolAnnotations{
		Title:         "Browser",
		OpenWorldHint: true,
	}
}

func (t *BrowserTool) Call(ctx context.Context, input *BrowserInput) (*autopilot.ToolResult, error) {
	if t.browser == nil {
		return nil, autopilot.Fatal(fmt.Errorf("browser tool has no browser session"))
	}
	if input == nil || !slices.Contains(browserActions, any(input.Action)) {
		return NewToolResultError("action must be one of navigate, click, type, read"), nil
	}
	if t.liveViewURL != "" {
		autopilot.EmitLiveView(ctx, t.liveViewURL)
	}

	action := autopilot.BrowserAction{Action: input.Action, Selector: input.Selector}
	var output string
	switch input.Action {
	case BrowserNavigate:
		if input.URL == "" {
			return NewToolResultError("url is required for navigate"), nil
		}
		location, err := t.browser.Navigate(ctx, input.URL)
		if err != nil {
			return NewToolResultError(fmt.Sprintf("navigate failed: %s", err)), nil
		}
		action.URL = location
		output = fmt.Sprintf("Navigated to %s", location)
	case BrowserClick:
		if input.Selector == "" {
			return NewToolResultError("selector is required for click"), nil
		}
		if err := t.browser.Click(ctx, input.Selector); err != nil {
			return NewToolResultError(fmt.Sprintf("click failed: %s", err)), nil
		}
		output = fmt.Sprintf("Clicked %s", input.Selector)
	case BrowserType:
		if input.Selector == "" {
			return NewToolResultError("selector is required for type"), nil
		}
		if err := t.browser.Type(ctx, input.Selector, input.Text); err != nil {
			return NewToolResultError(fmt.Sprintf("type failed: %s", err)), nil
		}
		action.Value = input.Text
		output = fmt.Sprintf("Typed into %s", input.Selector)
	case BrowserRead:
		selector := input.Selector
		if selector == "" {
			selector = "body"
		}
		text, err := t.browser.Text(ctx, selector)
		if err != nil {
			return NewToolResultError(fmt.Sprintf("read failed: %s", err)), nil
		}
		action.Selector = selector
		action.Detail = fmt.Sprintf("%d characters", len([]rune(text)))
		output = truncateText(strings.TrimSpace(text), t.maxSize)
	}
	if action.URL == "" {
		if location, err := t.browser.Location(ctx); err == nil {
			action.URL = location
		}
	}
	autopilot.EmitBrowserAction(ctx, action)
	return NewToolResultText(output), nil
}
