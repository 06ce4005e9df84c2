package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/freeform/internal/api"
	"github.com/xkilldash9x/freeform/internal/browser/cdp"
)

func newLiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "live URL|FILE",
		Short: "Open a page in Chrome and apply the stored records to it",
		Long: `Opens URL (or the HTML file FILE) in a Chrome tab and restores every stored
record of the page. With --follow the tab stays open and tracks changes
made to the store by other processes; with --serve the API edits the tab
directly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := notifyContext(cmd.Context())
			defer cancel()

			tab, err := cdp.Open(ctx, a.cfg.Browser(), a.logger)
			if err != nil {
				return err
			}
			defer tab.Close()

			if markup, err := os.ReadFile(args[0]); err == nil {
				err = tab.LoadHTML(string(markup))
				if err != nil {
					return err
				}
			} else if err := tab.Navigate(args[0]); err != nil {
				return err
			}

			report := a.manager.RestoreAll(tab)
			if err := render(cmd, report, func(p *printer) { printRestore(p, report) }); err != nil {
				return err
			}

			follow, _ := cmd.Flags().GetBool("follow")
			serve, _ := cmd.Flags().GetBool("serve")
			if !follow && !serve {
				return nil
			}
			if err := watchStore(ctx, a); err != nil {
				return err
			}
			defer mirror(a, tab)()

			if serve {
				srvCfg := a.cfg.Server()
				if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
					srvCfg.Addr = addr
				}
				return api.NewServer(srvCfg, a.logger, api.NewHandlers(a.logger, a.manager, tab)).ListenAndServe(ctx)
			}

			a.logger.Info("Following store changes, interrupt to exit")
			<-ctx.Done()
			fmt.Fprintln(cmd.ErrOrStderr(), "stopped")
			return nil
		},
	}
	addPageFlag(cmd)
	cmd.Flags().Bool("follow", false, "keep the tab open and apply external changes")
	cmd.Flags().Bool("serve", false, "serve the API with the tab as its document")
	cmd.Flags().String("addr", "", "listen address for --serve (default from server.addr)")
	return cmd
}
