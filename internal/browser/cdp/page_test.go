package cdp

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/freeform/internal/browser"
	"github.com/xkilldash9x/freeform/internal/browser/dom"
	"github.com/xkilldash9x/freeform/internal/config"
)

func TestAllocatorOptions(t *testing.T) {
	base := len(chromedp.DefaultExecAllocatorOptions)

	opts := AllocatorOptions(config.BrowserConfig{Headless: true})
	assert.Len(t, opts, base+2)

	opts = AllocatorOptions(config.BrowserConfig{
		Headless: false,
		Viewport: config.ViewportConfig{Width: 1280, Height: 720},
		Args:     []string{"--custom-flag", "lang=en-US"},
	})
	assert.Len(t, opts, base+2+4, "headless off, window size and one flag per arg")
}

func TestElementScript(t *testing.T) {
	s := elementScript(`/html[1]/body[1]/div[@id="a'b"]`, "return 1;")
	assert.Contains(t, s, `"/html[1]/body[1]/div[@id=\"a'b\"]"`, "the path is a JSON string literal")
	assert.Contains(t, s, "if (!el) { return null; }")
	assert.Contains(t, s, "return 1;")
}

func TestDetachedNodesFailWithoutBrowser(t *testing.T) {
	p := &Page{ctx: context.Background(), cancel: func() {}, timeout: time.Second, logger: zaptest.NewLogger(t)}
	doc, err := dom.ParseString(`<html><body><div id="x"></div></body></html>`)
	require.NoError(t, err)
	p.doc = doc

	other, err := dom.ParseString(`<html><body><div></div></body></html>`)
	require.NoError(t, err)
	_, err = p.Rect(dom.Body(other))
	assert.ErrorIs(t, err, browser.ErrDetached)
	assert.ErrorIs(t, p.SetInlineStyle(nil, "left", "1px"), browser.ErrDetached)
	assert.Equal(t, "static", p.ComputedPosition(dom.Body(other)))
}

// TestLivePage needs a local Chrome. Set FREEFORM_CHROME_TESTS=1 to run it.
func TestLivePage(t *testing.T) {
	if os.Getenv("FREEFORM_CHROME_TESTS") == "" {
		t.Skip("FREEFORM_CHROME_TESTS not set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p, err := Open(ctx, config.BrowserConfig{
		Headless: true,
		Viewport: config.ViewportConfig{Width: 1024, Height: 768},
		Timeout:  20 * time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.LoadHTML(`<html><body style="margin: 0">
		<div id="box" style="position: absolute; left: 40px; top: 30px; width: 100px; height: 50px"></div>
		<div id="gone" style="display: none"></div>
	</body></html>`))

	nodes, err := dom.QueryAll(p.Root(), "//*[@id='box']")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	box := nodes[0]

	r, err := p.Rect(box)
	require.NoError(t, err)
	assert.Equal(t, 40.0, r.X)
	assert.Equal(t, 30.0, r.Y)
	assert.Equal(t, "absolute", p.ComputedPosition(box))

	require.NoError(t, p.SetInlineStyle(box, "left", "90px"))
	r, err = p.Rect(box)
	require.NoError(t, err)
	assert.Equal(t, 90.0, r.X)
	assert.Equal(t, "90px", p.InlineStyle(box, "left"))

	gone, err := dom.QueryAll(p.Root(), "//*[@id='gone']")
	require.NoError(t, err)
	_, err = p.Rect(gone[0])
	assert.ErrorIs(t, err, browser.ErrNotRendered)

	w, h := p.ViewportSize()
	assert.Equal(t, 1024.0, w)
	assert.Equal(t, 768.0, h)
}
