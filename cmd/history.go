package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/freeform/internal/editor/state"
)

type historyReport struct {
	Index   int                  `json:"index" yaml:"index"`
	CanUndo bool                 `json:"canUndo" yaml:"canUndo"`
	CanRedo bool                 `json:"canRedo" yaml:"canRedo"`
	Entries []state.HistoryEntry `json:"entries" yaml:"entries"`
}

type stepReport struct {
	Applied bool        `json:"applied" yaml:"applied"`
	Step    *state.Step `json:"step,omitempty" yaml:"step,omitempty"`
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and walk the undo history",
	}
	cmd.PersistentFlags().String("page", "", "page id the records belong to (default from editor.page)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List history entries; the current one is marked with *",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			entries, index := a.manager.History()
			report := historyReport{Index: index, CanUndo: a.manager.CanUndo(), CanRedo: a.manager.CanRedo(), Entries: entries}
			return render(cmd, report, func(p *printer) {
				if len(entries) == 0 {
					p.linef("history is empty")
					return
				}
				for i, e := range entries {
					mark := " "
					if i == index {
						mark = "*"
					}
					ts := time.UnixMilli(e.Timestamp).Format(time.RFC3339)
					p.linef("%s %3d  %-7s %s  %s", mark, i, e.Action, e.ElementID, ts)
				}
			})
		},
	}

	step := func(use, short string, fn func(*app, *cobra.Command) (state.Step, bool)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := openApp(cmd)
				if err != nil {
					return err
				}
				defer a.close()
				st, ok := fn(a, cmd)
				report := stepReport{Applied: ok}
				if ok {
					report.Step = &st
				}
				return render(cmd, report, func(p *printer) {
					if !ok {
						p.linef("nothing to %s", use)
						return
					}
					p.linef("%s %s of %s", use, st.Action, st.ElementID)
				})
			},
		}
	}
	undo := step("undo", "Revert the last change", func(a *app, cmd *cobra.Command) (state.Step, bool) {
		return a.manager.Undo(cmd.Context())
	})
	redo := step("redo", "Reapply the next change", func(a *app, cmd *cobra.Command) (state.Step, bool) {
		return a.manager.Redo(cmd.Context())
	})

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop the history, keeping the records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			a.manager.ClearHistory(cmd.Context())
			return render(cmd, map[string]bool{"cleared": true}, func(p *printer) {
				p.linef("history cleared")
			})
		},
	}

	cmd.AddCommand(list, undo, redo, clearCmd)
	return cmd
}

func newStatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "states",
		Aliases: []string{"elements"},
		Short:   "List the stored records of the current page",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			states := a.manager.GetPageStates()
			return render(cmd, states, func(p *printer) {
				p.linef("page %s: %d elements", a.manager.Page(), len(states))
				for _, st := range states {
					p.linef("  %s  %s  left=%s top=%s", st.ID, st.Selector, st.Styles["left"], st.Styles["top"])
				}
			})
		},
	}
	cmd.PersistentFlags().String("page", "", "page id the records belong to (default from editor.page)")

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete one record, recording the deletion in history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			if !a.manager.DeleteState(cmd.Context(), args[0]) {
				return fmt.Errorf("no element with id %q", args[0])
			}
			return render(cmd, map[string]string{"deleted": args[0]}, func(p *printer) {
				p.linef("deleted %s", args[0])
			})
		},
	}
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every record of the current page without recording history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			n := a.manager.ClearPageStates(cmd.Context())
			return render(cmd, map[string]int{"deleted": n}, func(p *printer) {
				p.linef("deleted %d elements from page %s", n, a.manager.Page())
			})
		},
	}
	cmd.AddCommand(del, clearCmd)
	return cmd
}
