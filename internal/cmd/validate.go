package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cycleflow-dev/cycleflow/internal/cycling"
	"github.com/cycleflow-dev/cycleflow/internal/workflow"
)

// CmdValidate creates the validate command.
func CmdValidate() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [flags] <workflow file>",
		Short: "Check a workflow definition for errors",
		Long: `Load a workflow definition, expand its graph and check it for
configuration errors, including self-edges and circular dependencies
between task instances.

The cycle analysis expands the graph over a bounded horizon of cycle
points. The default horizon is derived from the graph's recurrences and
offsets; pass --horizon to override it.
`,
		Args: cobra.ExactArgs(1),
	}
	cmd.Flags().String("horizon", "", "interval past the initial point to cover in cycle analysis (e.g. P10, P1Y)")
	return NewCommand(cmd, runValidate)
}

func runValidate(ctx *Context, args []string) error {
	wf, err := workflow.Load(ctx, args[0])
	if err != nil {
		return err
	}

	if err := validateGraph(ctx, wf); err != nil {
		return err
	}

	if !ctx.Quiet {
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s workflow %s is valid (%d tasks, %s to %s)\n",
			green("ok:"), wf.Name, len(wf.Graph.Tasks()), wf.Initial, finalLabel(wf))
	}
	return nil
}

func validateGraph(ctx *Context, wf *workflow.Workflow) error {
	spec, _ := ctx.Command.Flags().GetString("horizon")
	if spec == "" {
		spec = ctx.Config.Scheduler.ValidationHorizon
	}
	if spec == "" {
		return wf.Graph.Validate()
	}
	iv, err := cycling.ParseInterval(spec, wf.Mode)
	if err != nil {
		return fmt.Errorf("horizon: %w", err)
	}
	end, err := wf.Initial.Add(iv)
	if err != nil {
		return fmt.Errorf("horizon: %w", err)
	}
	return wf.Graph.ValidateTo(end)
}

func finalLabel(wf *workflow.Workflow) string {
	if wf.Final.IsZero() {
		return "unbounded"
	}
	return wf.Final.String()
}
