package toolkit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	defaultNavigationTimeout = 60 * time.Second
	defaultActionTimeout     = 30 * time.Second
)

// ChromeOptions configures a ChromeBrowser.
type ChromeOptions struct {
	// Headless runs Chrome without a window. Defaults to true unless
	// ShowWindow is set.
	ShowWindow bool

	// ExecPath overrides the Chrome binary.
	ExecPath string

	// RemoteURL connects to an already running browser through its DevTools
	// websocket instead of launching one.
	RemoteURL string

	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
}

// ChromeBrowser is a Browser backed by chromedp.
type ChromeBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	navTimeout  time.Duration
	actTimeout  time.Duration

	// chromedp tabs are not safe for concurrent actions
	mu sync.Mutex
}

var _ Browser = (*ChromeBrowser)(nil)

// NewChromeBrowser starts (or attaches to) a browser and opens a tab. Close
// releases both.
func NewChromeBrowser(ctx context.Context, opts ChromeOptions) (*ChromeBrowser, error) {
	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, opts.RemoteURL)
	} else {
		execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.NoSandbox,
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		if opts.ShowWindow {
			execOpts = append(execOpts, chromedp.Flag("headless", false))
		}
		if opts.ExecPath != "" {
			execOpts = append(execOpts, chromedp.ExecPath(opts.ExecPath))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, execOpts...)
	}
	tabCtx, cancel := chromedp.NewContext(allocCtx)

	// The first Run launches the browser.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	b := &ChromeBrowser{
		ctx:         tabCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		navTimeout:  opts.NavigationTimeout,
		actTimeout:  opts.ActionTimeout,
	}
	if b.navTimeout <= 0 {
		b.navTimeout = defaultNavigationTimeout
	}
	if b.actTimeout <= 0 {
		b.actTimeout = defaultActionTimeout
	}
	return b, nil
}

// run executes actions on the tab, bounded by timeout and by ctx.
func (b *ChromeBrowser) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	runCtx, cancel := context.WithTimeout(b.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (b *ChromeBrowser) Navigate(ctx context.Context, url string) (string, error) {
	var location string
	if err := b.run(ctx, b.navTimeout, chromedp.Navigate(url), chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("navigation failed: %w", err)
	}
	return location, nil
}

func (b *ChromeBrowser) Click(ctx context.Context, selector string) error {
	return b.run(ctx, b.actTimeout,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
}

func (b *ChromeBrowser) Type(ctx context.Context, selector, text string) error {
	return b.run(ctx, b.actTimeout,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

func (b *ChromeBrowser) Text(ctx context.Context, selector string) (string, error) {
	var text string
	if err := b.run(ctx, b.actTimeout, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return text, nil
}

func (b *ChromeBrowser) Location(ctx context.Context) (string, error) {
	var location string
	if err := b.run(ctx, b.actTimeout, chromedp.Location(&location)); err != nil {
		return "", err
	}
	return location, nil
}

// Close shuts down the tab and the browser.
func (b *ChromeBrowser) Close() error {
	b.cancel()
	b.allocCancel()
	return nil
}
