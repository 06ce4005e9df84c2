package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/freeform/internal/browser/dom"
	"github.com/xkilldash9x/freeform/internal/browser/layout"
	"github.com/xkilldash9x/freeform/internal/config"
	"github.com/xkilldash9x/freeform/internal/editor"
	"github.com/xkilldash9x/freeform/internal/editor/classify"
	"github.com/xkilldash9x/freeform/internal/editor/selector"
	"github.com/xkilldash9x/freeform/internal/editor/snap"
	"github.com/xkilldash9x/freeform/internal/editor/state"
	"github.com/xkilldash9x/freeform/internal/observability"
	"github.com/xkilldash9x/freeform/internal/store"
)

type classification struct {
	Type       classify.Type     `json:"type" yaml:"type"`
	Label      string            `json:"label" yaml:"label"`
	Tag        string            `json:"tag" yaml:"tag"`
	Selector   string            `json:"selector" yaml:"selector"`
	Editable   bool              `json:"editable" yaml:"editable"`
	Rect       layout.Rect       `json:"rect" yaml:"rect"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// target resolves the element named by --xpath or --at.
func target(cmd *cobra.Command, page *layout.Page) (*html.Node, error) {
	expr, _ := cmd.Flags().GetString("xpath")
	at, _ := cmd.Flags().GetString("at")
	switch {
	case expr != "" && at != "":
		return nil, fmt.Errorf("--xpath and --at are mutually exclusive")
	case expr != "":
		return findOne(page.Root(), expr)
	case at != "":
		p, err := parsePoint(at)
		if err != nil {
			return nil, err
		}
		n := page.HitTest(p.X, p.Y)
		if n == nil || dom.Tag(n) == "html" || dom.Tag(n) == "body" {
			return nil, fmt.Errorf("no element at %s", at)
		}
		return n, nil
	}
	return nil, fmt.Errorf("one of --xpath or --at is required")
}

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().String("xpath", "", "XPath of the element")
	cmd.Flags().String("at", "", "viewport point X,Y of the element")
	addDocumentFlags(cmd)
}

func newClassifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify FILE",
		Short: "Classify the element an interaction at a point or path would select",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			page, err := loadDocument(cmd, cfg, args[0])
			if err != nil {
				return err
			}
			n, err := target(cmd, page)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			c := classify.New(classify.WithMaxDepth(cfg.Editor().ClassifyDepth), classify.WithLogger(logger))
			d, ok := c.Detect(page, n)
			if !ok {
				return fmt.Errorf("not an element")
			}
			res := classification{
				Type:       d.Type,
				Label:      classify.Describe(d.Node),
				Tag:        d.Tag,
				Selector:   selector.New(selector.WithLogger(logger)).Generate(d.Node),
				Editable:   classify.Editable(d.Type),
				Rect:       d.Rect,
				Attributes: d.Attributes,
			}
			return render(cmd, res, func(p *printer) {
				p.linef("%s (%s) <%s>", res.Label, res.Type, res.Tag)
				p.linef("selector: %s", res.Selector)
				p.linef("rect:     %s", res.Rect)
				p.linef("editable: %t", res.Editable)
			})
		},
	}
	addTargetFlags(cmd)
	return cmd
}

type selectorResult struct {
	Selector string `json:"selector" yaml:"selector"`
	Unique   bool   `json:"unique" yaml:"unique"`
}

func newSelectorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "selector FILE",
		Short: "Generate a stable selector for an element",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			page, err := loadDocument(cmd, cfg, args[0])
			if err != nil {
				return err
			}
			n, err := target(cmd, page)
			if err != nil {
				return err
			}
			sel, err := selector.New(selector.WithLogger(observability.GetLogger())).GenerateChecked(n)
			res := selectorResult{Selector: sel, Unique: err == nil}
			return render(cmd, res, func(p *printer) {
				if !res.Unique {
					p.linef("%s (ambiguous)", res.Selector)
					return
				}
				p.linef("%s", res.Selector)
			})
		},
	}
	addTargetFlags(cmd)
	return cmd
}

type snapReport struct {
	Rect    layout.Rect   `json:"rect" yaml:"rect"`
	Targets []layout.Rect `json:"targets" yaml:"targets"`
	Result  snap.Result   `json:"result" yaml:"result"`
}

// inspectSession builds a session over page whose records live only in
// memory.
func inspectSession(cfg *config.Config, page *layout.Page) (*editor.Session, error) {
	logger := observability.GetLogger()
	opts, err := editor.OptionsFromConfig(cfg.Editor(), logger)
	if err != nil {
		return nil, err
	}
	return editor.New(page, state.New(store.NewMemory(), state.WithLogger(logger)), opts...), nil
}

func newSnapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snap FILE",
		Short: "Show the alignment guides for an element moved by an offset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			page, err := loadDocument(cmd, cfg, args[0])
			if err != nil {
				return err
			}
			n, err := target(cmd, page)
			if err != nil {
				return err
			}
			dx, dy := 0.0, 0.0
			if by, _ := cmd.Flags().GetString("by"); by != "" {
				if dx, dy, err = parsePair(by, ","); err != nil {
					return fmt.Errorf("invalid --by: %w", err)
				}
			}
			sess, err := inspectSession(cfg, page)
			if err != nil {
				return err
			}
			r, err := page.Rect(n)
			if err != nil {
				return err
			}

			report := snapReport{Rect: r.Translate(dx, dy), Targets: sess.SnapTargets(n)}
			var engine snap.Engine
			report.Result = engine.Compute(report.Rect, report.Targets, snap.Options{
				Threshold:     cfg.Editor().SnapThreshold,
				MinTargetSize: cfg.Editor().MinTargetSize,
			})
			return render(cmd, report, func(p *printer) {
				p.linef("moving %s against %d targets", report.Rect, len(report.Targets))
				for _, l := range report.Result.Lines {
					p.linef("  %-10s at %7.1f  %s", l.Axis, l.Position, l.Label)
				}
				if report.Result.SnapX != nil {
					p.linef("snap x: %.1f", *report.Result.SnapX)
				}
				if report.Result.SnapY != nil {
					p.linef("snap y: %.1f", *report.Result.SnapY)
				}
			})
		},
	}
	addTargetFlags(cmd)
	cmd.Flags().String("by", "", "offset DX,DY applied to the element before snapping")
	return cmd
}
