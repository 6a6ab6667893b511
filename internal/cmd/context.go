package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cycleflow-dev/cycleflow/internal/config"
	"github.com/cycleflow-dev/cycleflow/internal/logger"
)

// Context holds everything a command handler needs: the process
// configuration and a context carrying the configured logger.
type Context struct {
	context.Context

	Command *cobra.Command
	Config  *config.Config
	Quiet   bool
}

// NewCommand wires a cobra command to a handler that receives a fully
// initialized Context.
func NewCommand(cmd *cobra.Command, run func(*Context, []string) error) *cobra.Command {
	cmd.SilenceUsage = true
	cmd.RunE = func(c *cobra.Command, args []string) error {
		ctx, err := NewContext(c)
		if err != nil {
			return err
		}
		return run(ctx, args)
	}
	return cmd
}

// NewContext loads the configuration and builds the logger context for
// one command invocation.
func NewContext(cmd *cobra.Command) (*Context, error) {
	var loaderOpts []config.LoaderOption
	if cfgPath, _ := cmd.Flags().GetString("config"); cfgPath != "" {
		loaderOpts = append(loaderOpts, config.WithConfigFile(cfgPath))
	}
	cfg, err := config.Load(loaderOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	quiet, _ := cmd.Flags().GetBool("quiet")
	quiet = quiet || cfg.Global.Quiet

	var opts []logger.Option
	if cfg.Global.Debug || os.Getenv("DEBUG") != "" {
		opts = append(opts, logger.WithDebug())
	}
	if quiet {
		opts = append(opts, logger.WithQuiet())
	}
	if cfg.Global.LogFormat != "" {
		opts = append(opts, logger.WithFormat(cfg.Global.LogFormat))
	}
	ctx := logger.WithLogger(cmd.Context(), logger.NewLogger(opts...))

	return &Context{
		Context: ctx,
		Command: cmd,
		Config:  cfg,
		Quiet:   quiet,
	}, nil
}
