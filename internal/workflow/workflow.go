package workflow

import (
	"github.com/cycleflow-dev/cycleflow/internal/cycling"
	"github.com/cycleflow-dev/cycleflow/internal/digraph"
	"github.com/cycleflow-dev/cycleflow/internal/platform"
)

// TaskDefinition is the static template for a task: everything shared by
// all of its instances across cycle points.
type TaskDefinition struct {
	// Name is the concrete task name as it appears in the expanded graph.
	Name string
	// Script is the job script executed for each instance.
	Script string
	// Platform names the execution platform for job submission.
	Platform string
	// Env contains environment overrides applied to every instance.
	Env map[string]string
	// Outputs declares custom output labels beyond succeeded/failed,
	// mapping label to the completion message that raises it.
	Outputs map[string]string
	// Families is the set of family tags the task belongs to.
	Families []string
}

// MemberOf reports whether the task carries the given family tag.
func (t *TaskDefinition) MemberOf(family string) bool {
	for _, f := range t.Families {
		if f == family {
			return true
		}
	}
	return false
}

// Workflow is a fully built and validated workflow configuration, ready to
// be validated for cycles and scheduled.
type Workflow struct {
	Name     string
	Mode     cycling.Mode
	Initial  cycling.Point
	Final    cycling.Point
	Runahead cycling.Interval

	Graph     *digraph.Graph
	Tasks     map[string]*TaskDefinition
	Families  map[string][]string
	Platforms []platform.Platform

	// ExpireOffset, when non-zero, marks waiting instances whose point has
	// fallen that far behind the latest point where work has started as
	// expired instead of running them.
	ExpireOffset cycling.Interval
}

// TaskDef returns the definition for a task name. Tasks that appear only in
// the graph get an implicit empty definition on localhost.
func (w *Workflow) TaskDef(name string) *TaskDefinition {
	if def, ok := w.Tasks[name]; ok {
		return def
	}
	return &TaskDefinition{Name: name, Platform: defaultPlatformName}
}
