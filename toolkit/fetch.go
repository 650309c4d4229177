package toolkit

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/deepnoodle-ai/autopilot"
	"github.com/deepnoodle-ai/autopilot/retry"
	"github.com/deepnoodle-ai/wonton/fetch"
	"github.com/deepnoodle-ai/wonton/schema"
)

const (
	DefaultFetchMaxSize    = 1024 * 500 // 500k runes
	DefaultFetchMaxRetries = 1
	DefaultFetchTimeout    = 15 * time.Second
)

// Page is the content retrieved by a Fetcher.
type Page struct {
	URL        string
	Title      string
	Markdown   string
	StatusCode int
}

// Fetcher retrieves web pages.
type Fetcher interface {
	Fetch(ctx context.Context, req *fetch.Request) (*Page, error)
}

// FetcherFunc adapts a function into a Fetcher.
type FetcherFunc func(ctx context.Context, req *fetch.Request) (*Page, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *fetch.Request) (*Page, error) {
	return f(ctx, req)
}

// NewHTTPFetcher returns a Fetcher backed by the wonton HTTP fetcher.
func NewHTTPFetcher() Fetcher {
	fetcher := fetch.NewHTTPFetcher(fetch.HTTPFetcherOptions{})
	return FetcherFunc(func(ctx context.Context, req *fetch.Request) (*Page, error) {
		resp, err := fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		return &Page{
			URL:        req.URL,
			Markdown:   resp.Markdown,
			StatusCode: resp.StatusCode,
		}, nil
	})
}

// FetchInput is the input of the fetch tool.
type FetchInput struct {
	URL string `json:"url"`
}

var _ autopilot.TypedTool[*FetchInput] = &FetchTool{}

// FetchTool retrieves a web page as markdown.
type FetchTool struct {
	fetcher      Fetcher
	maxSize      int
	maxRetries   int
	timeout      time.Duration
	allowPrivate bool
}

type FetchToolOptions struct {
	MaxSize    int
	MaxRetries int
	Timeout    time.Duration

	// Fetcher defaults to NewHTTPFetcher.
	Fetcher Fetcher

	// AllowPrivateNetworks permits loopback, private and link-local targets.
	AllowPrivateNetworks bool
}

func NewFetchTool(options FetchToolOptions) *autopilot.TypedToolAdapter[*FetchInput] {
	if options.MaxSize <= 0 {
		options.MaxSize = DefaultFetchMaxSize
	}
	if options.MaxRetries <= 0 {
		options.MaxRetries = DefaultFetchMaxRetries
	}
	if options.Timeout <= 0 {
		options.Timeout = DefaultFetchTimeout
	}
	if options.Fetcher == nil {
		options.Fetcher = NewHTTPFetcher()
	}
	return autopilot.ToolAdapter(&FetchTool{
		fetcher:      options.Fetcher,
		maxSize:      options.MaxSize,
		maxRetries:   options.MaxRetries,
		timeout:      options.Timeout,
		allowPrivate: options.AllowPrivateNetworks,
	})
}

func (t *FetchTool) Name() string {
	return "fetch"
}

func (t *FetchTool) Description() string {
	return "Retrieves the contents of the webpage at the given URL."
}

func (t *FetchTool) Schema() *schema.Schema {
	return &schema.Schema{
		Type:     schema.Object,
		Required: []string{"url"},
		Properties: map[string]*schema.Property{
			"url": {
				Type:        schema.String,
				Description: "The URL of the webpage to retrieve, e.g. 'https://www.example.com'",
			},
		},
	}
}

func (t *FetchTool) Annotations() *autopilot.ToolAnnotations {
	return &autopilot.ToolAnnotations{
		Title:          "Fetch",
		ReadOnlyHint:   true,
		IdempotentHint: true,
		OpenWorldHint:  true,
	}
}

func (t *FetchTool) Call(ctx context.Context, input *FetchInput) (*autopilot.ToolResult, error) {
	if input == nil || input.URL == "" {
		return NewToolResultError("url is required"), nil
	}
	if !t.allowPrivate {
		if err := validateFetchURL(input.URL); err != nil {
			return NewToolResultError(err.Error()), nil
		}
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	req := &fetch.Request{URL: input.URL, Formats: []string{"markdown"}}
	var page *Page
	err := retry.Do(ctx, func() error {
		var err error
		page, err = t.fetcher.Fetch(ctx, req)
		return err
	}, retry.WithMaxRetries(t.maxRetries), retry.WithBaseWait(500*time.Millisecond))
	if err != nil {
		return NewToolResultError(fmt.Sprintf("failed to fetch url after %d attempts: %s", t.maxRetries, err)), nil
	}

	var sb strings.Builder
	if page.Title != "" {
		sb.WriteString(fmt.Sprintf("# %s\n\n", page.Title))
	}
	sb.WriteString(page.Markdown)
	return NewToolResultText(truncateText(sb.String(), t.maxSize)), nil
}

// validateFetchURL rejects non-http schemes and hosts that are local or
// literal private addresses.
func validateFetchURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("invalid URL: empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	case "":
		return fmt.Errorf("invalid URL scheme: only http and https are supported")
	default:
		return fmt.Errorf("invalid URL scheme %q: only http and https are supported", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("invalid URL: must include a hostname")
	}
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return fmt.Errorf("localhost is not allowed")
	}
	if ip := net.ParseIP(host); ip != nil && isPrivateIP(ip) {
		return fmt.Errorf("access to private/internal IP %s is not allowed", ip)
	}
	return nil
}

var privateNetworks = func() []*net.IPNet {
	cidrs := []string{
		"0.0.0.0/8",
		"10.0.0.0/8",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	}
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}()

func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsUnspecified() || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
		return true
	}
	for _, n := range privateNetworks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
