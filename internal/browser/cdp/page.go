// Package cdp drives a real Chrome tab as an editing surface. The tab's DOM
// is snapshotted into an html.Node tree; geometry is read from the live page
// and every write is applied to both.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/freeform/internal/browser"
	"github.com/xkilldash9x/freeform/internal/browser/dom"
	"github.com/xkilldash9x/freeform/internal/browser/layout"
	"github.com/xkilldash9x/freeform/internal/config"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("cdp: page closed")

const defaultTimeout = 30 * time.Second

// AllocatorOptions translates the browser configuration into chromedp
// allocator options.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.Viewport.Width, cfg.Viewport.Height))
	}
	for _, arg := range cfg.Args {
		key, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if hasValue {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

// Page is a live tab implementing browser.Surface.
type Page struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	logger  *zap.Logger

	mu  sync.Mutex
	doc *html.Node
}

var _ browser.Surface = (*Page)(nil)

// Open starts a browser and a tab sized to the configured viewport.
func Open(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Page, error) {
	logger = logger.Named("cdp")
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, AllocatorOptions(cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Sugar().Debugf))

	p := &Page{
		ctx:     tabCtx,
		timeout: cfg.Timeout,
		logger:  logger,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
	}
	if p.timeout <= 0 {
		p.timeout = defaultTimeout
	}

	actions := []chromedp.Action{chromedp.Navigate("about:blank")}
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		actions = append(actions, chromedp.EmulateViewport(int64(cfg.Viewport.Width), int64(cfg.Viewport.Height)))
	}
	if err := p.run(actions...); err != nil {
		p.cancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	logger.Info("Browser tab ready", zap.Bool("headless", cfg.Headless))
	return p, nil
}

// Close terminates the tab and the browser.
func (p *Page) Close() error {
	p.cancel()
	return nil
}

func (p *Page) run(actions ...chromedp.Action) error {
	if p.ctx.Err() != nil {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

// Navigate loads url and snapshots its DOM.
func (p *Page) Navigate(url string) error {
	if err := p.run(chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return p.Snapshot()
}

// LoadHTML replaces the tab's document with markup and snapshots it.
func (p *Page) LoadHTML(markup string) error {
	err := p.run(chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return err
		}
		return page.SetDocumentContent(tree.Frame.ID, markup).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	return p.Snapshot()
}

// Snapshot re-reads the live DOM. Nodes from an earlier snapshot become
// detached.
func (p *Page) Snapshot() error {
	var markup string
	if err := p.run(chromedp.Evaluate(`document.documentElement.outerHTML`, &markup)); err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}
	doc, err := dom.ParseString(markup)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.doc = doc
	p.mu.Unlock()
	return nil
}

func (p *Page) Root() *html.Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc
}

// path returns the live XPath of n, or ErrDetached when n is not part of
// the current snapshot.
func (p *Page) path(n *html.Node) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n == nil || p.doc == nil || dom.Root(n) != p.doc {
		return "", browser.ErrDetached
	}
	return dom.AbsoluteXPath(n), nil
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// elementScript wraps body in a function receiving the element found at
// xpath as el. The function yields null when the element is gone.
func elementScript(xpath, body string) string {
	return fmt.Sprintf(`(() => {
	const el = document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!el) { return null; }
	%s
})()`, jsString(xpath), body)
}

type rectResult struct {
	X, Y, Width, Height float64
	Rendered            bool
}

func (p *Page) Rect(n *html.Node) (layout.Rect, error) {
	xpath, err := p.path(n)
	if err != nil {
		return layout.Rect{}, err
	}
	var res *rectResult
	script := elementScript(xpath, `const r = el.getBoundingClientRect();
	return {X: r.x, Y: r.y, Width: r.width, Height: r.height, Rendered: el.getClientRects().length > 0};`)
	if err := p.run(chromedp.Evaluate(script, &res)); err != nil {
		return layout.Rect{}, err
	}
	if res == nil {
		return layout.Rect{}, browser.ErrDetached
	}
	if !res.Rendered {
		return layout.Rect{}, browser.ErrNotRendered
	}
	return layout.Rect{X: res.X, Y: res.Y, Width: res.Width, Height: res.Height}, nil
}

func (p *Page) ComputedPosition(n *html.Node) string {
	xpath, err := p.path(n)
	if err != nil {
		return "static"
	}
	var pos string
	if err := p.run(chromedp.Evaluate(elementScript(xpath, `return getComputedStyle(el).position;`), &pos)); err != nil || pos == "" {
		return "static"
	}
	return pos
}

func (p *Page) ScrollOffset(n *html.Node) (float64, float64) {
	var off struct{ X, Y float64 }
	script := `({X: window.scrollX, Y: window.scrollY})`
	if n != nil {
		xpath, err := p.path(n)
		if err != nil {
			return 0, 0
		}
		script = elementScript(xpath, `return {X: el.scrollLeft, Y: el.scrollTop};`)
	}
	if err := p.run(chromedp.Evaluate(script, &off)); err != nil {
		p.logger.Debug("Failed to read scroll offset", zap.Error(err))
		return 0, 0
	}
	return off.X, off.Y
}

func (p *Page) InlineStyle(n *html.Node, prop string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return dom.GetStyle(n, prop)
}

// mutate applies fn to the snapshot and script to the live element.
func (p *Page) mutate(n *html.Node, body string, fn func()) error {
	xpath, err := p.path(n)
	if err != nil {
		return err
	}
	var found bool
	if err := p.run(chromedp.Evaluate(elementScript(xpath, body+"\n\treturn true;"), &found)); err != nil {
		return fmt.Errorf("cdp: write failed: %w", err)
	}
	if !found {
		return browser.ErrDetached
	}
	p.mu.Lock()
	fn()
	p.mu.Unlock()
	return nil
}

func (p *Page) SetInlineStyle(n *html.Node, prop, value string) error {
	body := fmt.Sprintf(`el.style.setProperty(%s, %s);`, jsString(prop), jsString(value))
	if value == "" {
		body = fmt.Sprintf(`el.style.removeProperty(%s);`, jsString(prop))
	}
	return p.mutate(n, body, func() { dom.SetStyle(n, prop, value) })
}

func (p *Page) SetStyleAttribute(n *html.Node, style string) error {
	if strings.TrimSpace(style) == "" {
		return p.mutate(n, `el.removeAttribute("style");`, func() { dom.RemoveAttr(n, "style") })
	}
	return p.mutate(n, fmt.Sprintf(`el.setAttribute("style", %s);`, jsString(style)), func() {
		dom.SetAttr(n, "style", style)
	})
}

func (p *Page) SetAttribute(n *html.Node, key, value string) error {
	return p.mutate(n, fmt.Sprintf(`el.setAttribute(%s, %s);`, jsString(key), jsString(value)), func() {
		dom.SetAttr(n, key, value)
	})
}

func (p *Page) RemoveAttribute(n *html.Node, key string) error {
	return p.mutate(n, fmt.Sprintf(`el.removeAttribute(%s);`, jsString(key)), func() {
		dom.RemoveAttr(n, key)
	})
}

func (p *Page) ViewportSize() (float64, float64) {
	var size struct{ W, H float64 }
	if err := p.run(chromedp.Evaluate(`({W: window.innerWidth, H: window.innerHeight})`, &size)); err != nil {
		p.logger.Debug("Failed to read viewport size", zap.Error(err))
		return 0, 0
	}
	return size.W, size.H
}

// HTML returns the live document.
func (p *Page) HTML() (string, error) {
	var markup string
	if err := p.run(chromedp.OuterHTML("html", &markup, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return markup, nil
}
