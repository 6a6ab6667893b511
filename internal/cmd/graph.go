package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cycleflow-dev/cycleflow/internal/cycling"
	"github.com/cycleflow-dev/cycleflow/internal/workflow"
)

// CmdGraph creates the graph command.
func CmdGraph() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph [flags] <workflow file>",
		Short: "Print the expanded dependency graph",
		Long: `Expand the workflow graph over a window of cycle points and print
every concrete edge between task instances, in deterministic order.

The window starts at the initial point and extends to the final point,
or to the --window interval past the initial point when given. Suicide
edges are marked with (suicide).
`,
		Args: cobra.ExactArgs(1),
	}
	cmd.Flags().String("window", "", "interval past the initial point to expand (e.g. P5, P2D)")
	return NewCommand(cmd, runGraph)
}

func runGraph(ctx *Context, args []string) error {
	wf, err := workflow.Load(ctx, args[0])
	if err != nil {
		return err
	}

	lo := wf.Initial
	hi := wf.Final
	if spec, _ := ctx.Command.Flags().GetString("window"); spec != "" {
		iv, err := cycling.ParseInterval(spec, wf.Mode)
		if err != nil {
			return fmt.Errorf("window: %w", err)
		}
		if hi, err = lo.Add(iv); err != nil {
			return fmt.Errorf("window: %w", err)
		}
	}
	if hi.IsZero() {
		return fmt.Errorf("workflow has no final point, pass --window to bound the expansion")
	}

	edges, err := wf.Graph.ExpandWindow(lo, hi)
	if err != nil {
		return err
	}

	faint := color.New(color.Faint).SprintFunc()
	for _, e := range edges {
		if e.Suicide {
			fmt.Printf("%s %s\n", e, faint("(suicide)"))
		} else {
			fmt.Println(e)
		}
	}
	return nil
}
