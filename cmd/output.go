package cmd

import (
	"fmt"
	"io"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// printer collects the first write error so text renderers can print
// without checking every line.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) linef(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format+"\n", args...)
}

// render writes v in the format selected by --output. text prints the
// human readable form.
func render(cmd *cobra.Command, v any, text func(p *printer)) error {
	format, _ := cmd.Flags().GetString("output")
	out := cmd.OutOrStdout()
	switch strings.ToLower(format) {
	case "", "text":
		p := &printer{w: out}
		text(p)
		return p.err
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown output format %q", format)
}
