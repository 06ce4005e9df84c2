package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/freeform/internal/browser/dom"
	"github.com/xkilldash9x/freeform/internal/browser/layout"
	"github.com/xkilldash9x/freeform/internal/editor"
	"github.com/xkilldash9x/freeform/internal/editor/drag"
	"github.com/xkilldash9x/freeform/internal/editor/state"
)

type dragReport struct {
	Committed bool                `json:"committed" yaml:"committed"`
	Handle    drag.Handle         `json:"handle" yaml:"handle"`
	Initial   layout.Rect         `json:"initial" yaml:"initial"`
	Final     layout.Rect         `json:"final" yaml:"final"`
	Guides    int                 `json:"guides" yaml:"guides"`
	State     *state.ElementState `json:"state,omitempty" yaml:"state,omitempty"`
	Restored  state.RestoreReport `json:"restored" yaml:"restored"`
}

func newDragCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drag FILE",
		Short: "Move or resize an element and persist the result",
		Long: `Replays a pointer interaction against FILE. Stored records for the page
are applied first, then the element is grabbed at --from (its center by
default), moved through each --to point and released at the last one.`,
		Example: `  freeform drag page.html --xpath "//*[@id='card']" --to 240,180
  freeform drag page.html --at 120,90 --handle se --to 300,260 --write out.html`,
		Args: cobra.ExactArgs(1),
		RunE: runDrag,
	}
	addTargetFlags(cmd)
	addPageFlag(cmd)
	cmd.Flags().String("handle", string(drag.Move), "handle to grab: move, n, ne, e, se, s, sw, w, nw")
	cmd.Flags().String("from", "", "pointer down point X,Y")
	cmd.Flags().StringArray("to", nil, "pointer move point X,Y; repeat for a path")
	cmd.Flags().Bool("snap", true, "snap to alignment guides (default from editor.snap_enabled)")
	cmd.Flags().Bool("grid", false, "snap to the grid (default from editor.grid_enabled)")
	cmd.Flags().StringP("write", "w", "", "write the edited document to this path, - for stdout")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func runDrag(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	ctx := cmd.Context()

	page, err := a.loadDocument(cmd, args[0])
	if err != nil {
		return err
	}
	handle, err := cmd.Flags().GetString("handle")
	if err != nil {
		return err
	}
	h, err := drag.ParseHandle(handle)
	if err != nil {
		return err
	}
	raw, _ := cmd.Flags().GetStringArray("to")
	path := make([]drag.Point, 0, len(raw))
	for _, s := range raw {
		p, err := parsePoint(s)
		if err != nil {
			return err
		}
		path = append(path, p)
	}

	opts, err := editor.OptionsFromConfig(a.cfg.Editor(), a.logger)
	if err != nil {
		return err
	}
	sched := &drag.ManualScheduler{}
	sess := editor.New(page, a.manager, append(opts, editor.WithScheduler(sched))...)
	if cmd.Flags().Changed("snap") {
		on, _ := cmd.Flags().GetBool("snap")
		sess.Controller().SetSnap(on)
	}
	if cmd.Flags().Changed("grid") {
		on, _ := cmd.Flags().GetBool("grid")
		sess.Controller().SetGrid(on)
	}

	report := dragReport{Handle: h, Restored: sess.RestoreAll()}

	n, err := target(cmd, page)
	if err != nil {
		return err
	}
	d, ok := sess.Select(n)
	if !ok {
		return fmt.Errorf("element cannot be selected")
	}
	report.Initial = d.Rect

	from := drag.Point{X: d.Rect.CenterX(), Y: d.Rect.CenterY()}
	if s, _ := cmd.Flags().GetString("from"); s != "" {
		if from, err = parsePoint(s); err != nil {
			return err
		}
	}

	if err := sess.PointerDown(h, from); err != nil {
		return fmt.Errorf("failed to start %s: %w", h, err)
	}
	for _, p := range path {
		sess.PointerMove(p)
		sched.Flush()
	}
	out, err := sess.PointerUp(ctx, path[len(path)-1])
	if err != nil {
		return fmt.Errorf("failed to finish %s: %w", h, err)
	}

	report.Committed = out.Committed
	report.Guides = len(out.Frame.Lines)
	report.Final = out.Frame.Rect
	if sel, ok := sess.Selected(); ok {
		report.Final = sel.Rect
		if st, ok := a.manager.GetState(dom.AttrOr(sel.Node, state.AttrElementID)); ok {
			report.State = &st
		}
	}
	a.logger.Debug("Drag finished", zap.Bool("committed", out.Committed), zap.String("handle", string(h)))

	if w, _ := cmd.Flags().GetString("write"); w != "" {
		if err := writeDocument(cmd, page, w); err != nil {
			return fmt.Errorf("failed to write document: %w", err)
		}
	}
	return render(cmd, report, func(p *printer) {
		if !report.Committed {
			p.linef("no change: the element did not move")
			return
		}
		p.linef("%s %s -> %s", report.Handle, report.Initial, report.Final)
		if report.State != nil {
			p.linef("saved %s (%s) on page %s", report.State.ID, report.State.Selector, report.State.PageID)
		}
	})
}
