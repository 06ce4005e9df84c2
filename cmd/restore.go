package cmd

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/freeform/internal/editor/state"
)

type documentReport struct {
	Document string `json:"document" yaml:"document"`
	state.RestoreReport `yaml:",inline"`
}

func newRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore FILE...",
		Short: "Apply the stored records of a page to documents",
		Long: `Applies every stored record of the current page to each FILE. Documents
are processed concurrently; a record whose selector does not match
exactly one element of a document is skipped for that document.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			write, _ := cmd.Flags().GetString("write")
			outDir, _ := cmd.Flags().GetString("out-dir")
			if write != "" && len(args) > 1 {
				return fmt.Errorf("--write takes a single document, use --out-dir")
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			reports := make([]documentReport, len(args))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(runtime.GOMAXPROCS(0))
			for i, path := range args {
				g.Go(func() error {
					if err := ctx.Err(); err != nil {
						return err
					}
					page, err := a.loadDocument(cmd, path)
					if err != nil {
						return err
					}
					reports[i] = documentReport{Document: path, RestoreReport: a.manager.RestoreAll(page)}
					dest := write
					if outDir != "" {
						dest = filepath.Join(outDir, filepath.Base(path))
					}
					if dest == "" {
						return nil
					}
					return writeDocument(cmd, page, dest)
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			if len(reports) == 1 {
				report := reports[0].RestoreReport
				return render(cmd, report, func(p *printer) { printRestore(p, report) })
			}
			return render(cmd, reports, func(p *printer) {
				for _, r := range reports {
					p.linef("%s:", r.Document)
					printRestore(p, r.RestoreReport)
				}
			})
		},
	}
	addDocumentFlags(cmd)
	addPageFlag(cmd)
	cmd.Flags().StringP("write", "w", "", "write the restored document to this path, - for stdout")
	cmd.Flags().String("out-dir", "", "write each restored document into this directory")
	return cmd
}

func printRestore(p *printer, report state.RestoreReport) {
	p.linef("restored %d of %d elements", report.Restored, report.Total)
	for _, s := range report.Skipped {
		p.linef("  skipped %s (%s): %s", s.ID, s.Selector, s.Reason)
	}
}
