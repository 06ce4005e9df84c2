package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/freeform/internal/browser/dom"
	"github.com/xkilldash9x/freeform/internal/browser/layout"
	"github.com/xkilldash9x/freeform/internal/config"
	"github.com/xkilldash9x/freeform/internal/editor/drag"
	"github.com/xkilldash9x/freeform/internal/editor/state"
	"github.com/xkilldash9x/freeform/internal/observability"
	"github.com/xkilldash9x/freeform/internal/store"
)

// app bundles what most commands need: the loaded configuration, a logger
// and the state manager backed by the configured store.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   store.Store
	manager *state.Manager
}

// openApp opens the store and loads the manager from it. The caller must
// call close.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := configFrom(cmd)
	if err != nil {
		return nil, err
	}
	logger := observability.GetLogger()
	ctx := cmd.Context()

	s, err := store.Open(ctx, cfg.Storage(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Storage().Driver, err)
	}

	ed := cfg.Editor()
	m := state.New(s,
		state.WithLogger(logger),
		state.WithHistoryLimit(ed.HistoryLimit),
		state.WithBreakpoints(state.Breakpoints{Mobile: ed.Breakpoints.Mobile, Tablet: ed.Breakpoints.Tablet}),
	)
	if err := m.Load(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load element states: %w", err)
	}

	page, _ := cmd.Flags().GetString("page")
	switch {
	case page != "":
		m.SetPage(ctx, page)
	case m.Page() == state.DefaultPage && ed.Page != "":
		m.SetPage(ctx, ed.Page)
	}
	logger.Debug("Opened state manager",
		zap.String("driver", cfg.Storage().Driver),
		zap.String("page", m.Page()))
	return &app{cfg: cfg, logger: logger, store: s, manager: m}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close store", zap.Error(err))
	}
}

// loadDocument parses an HTML file into a surface sized to the configured
// viewport. --viewport WxH overrides the size.
func (a *app) loadDocument(cmd *cobra.Command, path string) (*layout.Page, error) {
	return loadDocument(cmd, a.cfg, path)
}

func loadDocument(cmd *cobra.Command, cfg *config.Config, path string) (*layout.Page, error) {
	w, h := float64(cfg.Browser().Viewport.Width), float64(cfg.Browser().Viewport.Height)
	if vp, _ := cmd.Flags().GetString("viewport"); vp != "" {
		var err error
		if w, h, err = parsePair(vp, "x"); err != nil {
			return nil, fmt.Errorf("invalid --viewport: %w", err)
		}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	page, err := layout.ParsePage(f, layout.WithViewport(w, h))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return page, nil
}

// writeDocument writes the surface's document to path, or to stdout when
// path is "-".
func writeDocument(cmd *cobra.Command, page *layout.Page, path string) error {
	markup, err := page.HTML()
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), markup)
		return err
	}
	return os.WriteFile(path, []byte(markup), 0o644)
}

// findOne resolves an XPath expression that must match exactly one element.
func findOne(root *html.Node, expr string) (*html.Node, error) {
	nodes, err := dom.QueryAll(root, expr)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", expr, err)
	}
	switch len(nodes) {
	case 0:
		return nil, fmt.Errorf("no element matches %q", expr)
	case 1:
		return nodes[0], nil
	}
	return nil, fmt.Errorf("%d elements match %q", len(nodes), expr)
}

// parsePair reads "a<sep>b" into two floats.
func parsePair(s, sep string) (float64, float64, error) {
	a, b, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), sep)
	if !ok {
		return 0, 0, fmt.Errorf("expected two numbers separated by %q, got %q", sep, s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
	if err != nil {
		return 0, 0, err
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

func parsePoint(s string) (drag.Point, error) {
	x, y, err := parsePair(s, ",")
	if err != nil {
		return drag.Point{}, fmt.Errorf("invalid point: %w", err)
	}
	return drag.Point{X: x, Y: y}, nil
}

func addDocumentFlags(cmd *cobra.Command) {
	cmd.Flags().String("viewport", "", "viewport size as WIDTHxHEIGHT (default from browser.viewport)")
}

func addPageFlag(cmd *cobra.Command) {
	cmd.Flags().String("page", "", "page id the records belong to (default from editor.page)")
}

// notifyContext returns a context cancelled on SIGINT or SIGTERM.
var notifyContext = func(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
