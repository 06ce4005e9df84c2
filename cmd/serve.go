package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/freeform/internal/api"
	"github.com/xkilldash9x/freeform/internal/browser"
	"github.com/xkilldash9x/freeform/internal/browser/dom"
	"github.com/xkilldash9x/freeform/internal/editor/state"
	"github.com/xkilldash9x/freeform/internal/store"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the element state API",
		Long: `Starts the HTTP API over the configured store. With --document the file
is loaded as the editing surface: stored records are applied to it, and
GET /page serves it with every change applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			var surface browser.Surface
			if path, _ := cmd.Flags().GetString("document"); path != "" {
				page, err := a.loadDocument(cmd, path)
				if err != nil {
					return err
				}
				report := a.manager.RestoreAll(page)
				a.logger.Info("Document loaded",
					zap.String("path", path),
					zap.Int("restored", report.Restored),
					zap.Int("skipped", len(report.Skipped)))
				surface = page
			}

			ctx, cancel := notifyContext(cmd.Context())
			defer cancel()
			if watch, _ := cmd.Flags().GetBool("watch"); watch {
				if err := watchStore(ctx, a); err != nil {
					return err
				}
				if surface != nil {
					defer mirror(a, surface)()
				}
			}

			srvCfg := a.cfg.Server()
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				srvCfg.Addr = addr
			}
			srv := api.NewServer(srvCfg, a.logger, api.NewHandlers(a.logger, a.manager, surface))
			return srv.ListenAndServe(ctx)
		},
	}
	addDocumentFlags(cmd)
	addPageFlag(cmd)
	cmd.Flags().String("addr", "", "listen address (default from server.addr)")
	cmd.Flags().String("document", "", "HTML file to load as the editing surface")
	cmd.Flags().Bool("watch", true, "reload when another process changes the store")
	return cmd
}

// watchStore reloads the manager on external writes when the store
// supports change notification.
func watchStore(ctx context.Context, a *app) error {
	w, ok := a.store.(store.Watcher)
	if !ok {
		a.logger.Debug("Store does not support change notification", zap.String("driver", a.cfg.Storage().Driver))
		return nil
	}
	if err := a.manager.Watch(ctx, w); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("failed to watch store: %w", err)
	}
	return nil
}

// mirror brings surface in line with the manager after a reload or a page
// switch: the page's records are reapplied and elements whose record is
// gone are reverted. It returns the unsubscribe func.
func mirror(a *app, surface browser.Surface) func() {
	return a.manager.Subscribe(state.ListenerFunc(func(ev state.Event) {
		if ev.Kind != state.EventReloaded && ev.Kind != state.EventPage {
			return
		}
		report := a.manager.RestoreAll(surface)
		nodes, err := dom.QueryAll(surface.Root(), "//*[@"+state.AttrElementID+"]")
		if err != nil {
			a.logger.Error("Failed to query edited elements", zap.Error(err))
			return
		}
		reverted := 0
		for _, n := range nodes {
			id := dom.AttrOr(n, state.AttrElementID)
			if st, ok := ev.States[id]; ok && st.PageID == a.manager.Page() {
				continue
			}
			if err := a.manager.Revert(surface, n); err != nil {
				a.logger.Warn("Failed to revert element", zap.String("element_id", id), zap.Error(err))
				continue
			}
			reverted++
		}
		a.logger.Debug("Reapplied records after external change",
			zap.String("event", string(ev.Kind)),
			zap.Int("restored", report.Restored),
			zap.Int("reverted", reverted))
	}))
}
