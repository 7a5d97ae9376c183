package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"topicgrader/infrastructure/config"
	"topicgrader/infrastructure/di"
	pkgerrors "topicgrader/pkg/errors"
)

// app carries the flags and the container shared by every subcommand
type app struct {
	cfgFile  string
	store    string
	logLevel string
	output   string

	// set by serve
	metricsAddr string

	in     io.Reader
	out    io.Writer
	errOut io.Writer

	container *di.Container
	cleanup   func()
}

// execute runs the CLI and maps the outcome to a process exit code
func execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	a := &app{in: in, out: out, errOut: errOut}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return pkgerrors.ExitCode(err)
	}
	return pkgerrors.ExitOK
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "topicgrader",
		Short: "Grade interview conversations into scored topic trees",
		Long: `topicgrader files each question and answer of a conversation into a
tree of topics, scores every topic, and tracks which branches are left to explore.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.init,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "YAML or JSON config file (overrides "+config.ConfigFileEnv+")")
	flags.StringVar(&a.store, "store", "", "session store: memory, dynamodb, badger or sqlite")
	flags.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")
	flags.StringVarP(&a.output, "output", "o", "yaml", "output format: yaml or json")

	root.AddCommand(
		newReplayCmd(a),
		newSessionsCmd(a),
		newNextCmd(a),
		newStatsCmd(a),
		newServeCmd(a),
	)
	return root
}

// init loads configuration and builds the container
func (a *app) init(cmd *cobra.Command, _ []string) error {
	if a.output != "yaml" && a.output != "json" {
		return pkgerrors.NewValidationError(fmt.Sprintf("unknown output format %q", a.output))
	}

	var (
		cfg *config.Config
		err error
	)
	if a.cfgFile != "" {
		cfg, err = config.LoadConfigFile(a.cfgFile)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return pkgerrors.NewValidationError("invalid configuration").WithCause(err)
	}
	if a.store != "" {
		cfg.StoreBackend = a.store
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.metricsAddr != "" {
		cfg.EnableMetrics = true
	}
	if err := cfg.Validate(); err != nil {
		return pkgerrors.NewValidationError("invalid configuration").WithCause(err)
	}

	container, cleanup, err := di.InitializeContainer(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	a.container, a.cleanup = container, cleanup
	return nil
}

func (a *app) close() {
	if a.cleanup != nil {
		a.cleanup()
		a.cleanup = nil
	}
}

// print renders v in the selected output format
func (a *app) print(v interface{}) error {
	if a.output == "json" {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(a.out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
