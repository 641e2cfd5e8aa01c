package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/app"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/config"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/logging"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/manager"
)

// flagKeys maps persistent flags to their configuration keys
var flagKeys = map[string]string{
	"log-level":             "logging.level",
	"uri":                   "launcher.validateURIs",
	"path":                  "launcher.paths",
	"wanted-tests":          "launcher.wantedTests",
	"disable-rtsp":          "launcher.disableRTSP",
	"generate-expectations": "launcher.generateExpectations",
	"tools-path":            "launcher.toolsPath",
	"mixers":                "launcher.mixers",
}

// rootOptions is shared by every subcommand
type rootOptions struct {
	v           *viper.Viper
	configPath  string
	managerOpts []manager.Option

	app *app.App
}

// newRootCmd builds the command tree. Manager options are appended to the
// ones the application sets up.
func newRootCmd(managerOpts ...manager.Option) *cobra.Command {
	o := &rootOptions{v: viper.New(), managerOpts: managerOpts}

	cmd := &cobra.Command{
		Use:   "testmatrix",
		Short: "Generate media validation test matrices",
		Long: `testmatrix discovers media assets, crosses them with scenarios and
encoding formats, and produces the list of validation tests an external
runner executes.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&o.configPath, "config", "", "config file (YAML)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.StringSlice("uri", nil, "validate only this media URI (repeatable)")
	flags.StringSlice("path", nil, "directory walked for media files (repeatable)")
	flags.StringSlice("wanted-tests", nil, "regular expression selecting tests, ALL for every scenario")
	flags.Bool("disable-rtsp", false, "do not generate RTSP tests")
	flags.String("generate-expectations", "auto", "expectation generation: auto, enabled or disabled")
	flags.String("tools-path", "", "directory searched for the validation tools before PATH")
	flags.Bool("mixers", false, "add the compositor and audiomixer generators")

	for name, key := range flagKeys {
		if err := o.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}

	cmd.AddCommand(
		newListCmd(o),
		newPublishCmd(o),
		newCompanionCmd(o),
	)
	return cmd
}

// setup loads the configuration and builds the application. The returned
// function releases it.
func (o *rootOptions) setup(cmd *cobra.Command) (func(), error) {
	cfg, err := config.LoadWith(o.v, o.configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a, err := app.New(cmd.Context(), cfg, logger, o.managerOpts...)
	if err != nil {
		return nil, err
	}
	a.StartMetrics()
	o.app = a
	return a.Close, nil
}
