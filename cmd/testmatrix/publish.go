package main

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/app"
)

func newPublishCmd(root *rootOptions) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Snapshot the generated tests as a run and hand it to the enabled backends",
		Long: `publish generates the test matrix and stores it as one run: in the
manifest cache, the run history database and object storage when they are
enabled, and dispatches every runnable test to the runner queue.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			closeApp, err := root.setup(cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			res, err := root.app.Publish(cmd.Context(), runID)
			if res != nil {
				renderPublication(cmd.OutOrStdout(), res)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "identifier of the run (default: a new UUID)")
	return cmd
}

func renderPublication(w io.Writer, res *app.PublishResult) {
	summary := res.Manifest.Summary()

	t := newTable(w)
	t.AppendRow(table.Row{"Run", summary.ID})
	t.AppendRow(table.Row{"Generated at", summary.GeneratedAt.Format("2006-01-02 15:04:05")})
	t.AppendRow(table.Row{"Runnable", summary.Runnable})
	t.AppendRow(table.Row{"Skipped", summary.Skipped})
	t.AppendRow(table.Row{"Dispatched", res.Dispatched})
	if res.Publication != nil {
		t.AppendRow(table.Row{"Manifest", res.Publication.ManifestKey})
		t.AppendRow(table.Row{"Objects", res.Publication.Objects})
	}
	for _, bug := range summary.Pending {
		t.AppendRow(table.Row{"Pending", bug})
	}
	t.Render()
}
