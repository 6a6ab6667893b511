package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cycleflow-dev/cycleflow/internal/logger"
	"github.com/cycleflow-dev/cycleflow/internal/scheduler"
	"github.com/cycleflow-dev/cycleflow/internal/workflow"
)

// CmdRun creates the run command.
func CmdRun() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [flags] <workflow file>",
		Short: "Execute a workflow to completion",
		Long: `Run a cycling workflow: spawn task instances within the runahead
window, resolve their dependencies and execute their scripts locally.

Each invocation gets a unique run ID. The first interrupt signal drains
the run, letting active jobs finish without submitting new ones; a
second interrupt stops it immediately.
`,
		Args: cobra.ExactArgs(1),
	}
	cmd.Flags().String("run-id", "", "unique identifier for this run (generated when omitted)")
	return NewCommand(cmd, runRun)
}

func runRun(ctx *Context, args []string) error {
	wf, err := workflow.Load(ctx, args[0])
	if err != nil {
		return err
	}
	if err := validateGraph(ctx, wf); err != nil {
		return err
	}

	runID, _ := ctx.Command.Flags().GetString("run-id")
	if runID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate run ID: %w", err)
		}
		runID = id.String()
	}

	sub := &scheduler.LocalSubmitter{WorkDir: ctx.Config.Global.WorkDir}
	schedCfg := scheduler.Config{
		LoopInterval:      ctx.Config.Scheduler.LoopInterval,
		StallTimeout:      ctx.Config.Scheduler.StallTimeout,
		InactivityTimeout: ctx.Config.Scheduler.InactivityTimeout,
		AbortOnStall:      ctx.Config.Scheduler.AbortOnStall,
		AbortOnInactivity: ctx.Config.Scheduler.AbortOnInactivity,
	}
	sched, err := scheduler.New(wf, sub, schedCfg)
	if err != nil {
		return err
	}

	logger.Info(ctx, "Starting workflow run", "workflow", wf.Name, "runId", runID)

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		<-sigs
		logger.Warn(ctx, "Interrupt received, draining run", "runId", runID)
		sched.Stop(scheduler.StopModeDrain)
		<-sigs
		logger.Warn(ctx, "Second interrupt, stopping now", "runId", runID)
		sched.Stop(scheduler.StopModeNow)
	}()

	runErr := sched.Run(ctx)
	printSummary(ctx, sched)
	return runErr
}

func printSummary(ctx *Context, sched *scheduler.Scheduler) {
	if ctx.Quiet {
		return
	}
	counts := sched.Counts()
	fmt.Printf("succeeded: %d  failed: %d  expired: %d  removed: %d  not run: %d\n",
		counts[scheduler.StateSucceeded],
		counts[scheduler.StateFailed],
		counts[scheduler.StateExpired],
		counts[scheduler.StateRemoved],
		counts[scheduler.StateWaiting]+counts[scheduler.StateQueued])
}
