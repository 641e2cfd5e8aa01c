package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/rtsp"
)

// ErrTestNotFound is returned when no generated test has the requested classname
var ErrTestNotFound = errors.New("test not found")

func newCompanionCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "companion <classname>",
		Short: "Serve the RTSP companion of one test until interrupted",
		Long: `companion starts the RTSP server an rtsp or rtsp2 test plays from, waits
until it accepts connections and prints the resolved command line, so the
test can be reproduced by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			closeApp, err := root.setup(cmd)
			if err != nil {
				return err
			}
			defer closeApp()
			return runCompanion(cmd, root, args[0])
		},
	}
}

func runCompanion(cmd *cobra.Command, root *rootOptions, classname string) error {
	ctx := cmd.Context()
	a := root.app

	tests, err := a.Manager.ListTests(ctx)
	if err != nil {
		return err
	}

	for _, t := range tests {
		if t.Classname != classname {
			continue
		}

		srv, err := rtsp.New(t, a.Ports, rtsp.Options{
			StartupTimeout: a.Config.Launcher.RTSPStartupTimeout,
			Output:         cmd.ErrOrStderr(),
		}, a.Logger)
		if err != nil {
			return err
		}

		return srv.Run(ctx, func(ctx context.Context) error {
			argv, err := t.Argv()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Serving %s on port %d\n", t.Companion.LocalURI, srv.Port())
			fmt.Fprintln(out, strings.Join(argv, " "))
			<-ctx.Done()
			return nil
		})
	}
	return fmt.Errorf("%s: %w", classname, ErrTestNotFound)
}
