package main

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

// Output formats
const (
	formatTable = "table"
	formatJSON  = "json"
	formatNames = "names"
)

type listOptions struct {
	format      string
	generator   string
	match       string
	hideSkipped bool
}

func newListCmd(root *rootOptions) *cobra.Command {
	o := &listOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the generated tests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			closeApp, err := root.setup(cmd)
			if err != nil {
				return err
			}
			defer closeApp()
			return runList(cmd, root, o)
		},
	}

	cmd.Flags().StringVarP(&o.format, "output", "o", formatTable, "output format: table, json or names")
	cmd.Flags().StringVar(&o.generator, "generator", "", "only list tests of this generator")
	cmd.Flags().StringVar(&o.match, "match", "", "only list tests whose classname matches this regular expression")
	cmd.Flags().BoolVar(&o.hideSkipped, "hide-skipped", false, "do not list blacklisted tests")
	return cmd
}

func runList(cmd *cobra.Command, root *rootOptions, o *listOptions) error {
	var match *regexp.Regexp
	if o.match != "" {
		re, err := regexp.Compile(o.match)
		if err != nil {
			return fmt.Errorf("invalid --match: %w", err)
		}
		match = re
	}

	tests, err := root.app.Manager.ListTests(cmd.Context())
	if err != nil {
		return err
	}

	selected := make([]*models.Test, 0, len(tests))
	for _, t := range tests {
		switch {
		case o.generator != "" && t.Generator != o.generator:
			continue
		case o.hideSkipped && t.Skip:
			continue
		case match != nil && !match.MatchString(t.Classname):
			continue
		}
		selected = append(selected, t)
	}

	out := cmd.OutOrStdout()
	switch o.format {
	case formatTable:
		renderTests(out, selected)
		if pending := root.app.Manager.Blacklist().Pending(); len(pending) > 0 {
			renderPending(out, pending)
		}
		return nil
	case formatJSON:
		specs := make([]models.TestSpec, 0, len(selected))
		for _, t := range selected {
			specs = append(specs, t.Spec())
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(specs)
	case formatNames:
		for _, t := range selected {
			fmt.Fprintln(out, t.Classname)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q", o.format)
	}
}

// newTable creates a table with the standard styling
func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

func renderTests(w io.Writer, tests []*models.Test) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Classname", "Generator", "Protocol", "Timeout", "Status"})

	skipped := 0
	for _, test := range tests {
		status := "runnable"
		if test.Skip {
			status = "skipped: " + test.SkipReason
			skipped++
		}
		t.AppendRow(table.Row{test.Classname, test.Generator, test.Protocol(), test.Timeout, status})
	}

	t.AppendFooter(table.Row{"Total", len(tests), "", "Skipped", skipped})
	t.Render()
}

func renderPending(w io.Writer, pending []string) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Pending bugs"})
	for _, bug := range pending {
		t.AppendRow(table.Row{bug})
	}
	t.Render()
}
