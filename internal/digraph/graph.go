package digraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cycleflow-dev/cycleflow/internal/cycling"
)

// Config is the parsed-AST hand-off from the workflow definition: recurrence
// sections with raw dependency text, plus declared parameters and families.
type Config struct {
	Mode     cycling.Mode
	Initial  cycling.Point
	Final    cycling.Point // zero means no final point
	Params   map[string][]string
	Families map[string][]string
	Sections []SectionSpec
}

// SectionSpec is one block of the graph definition: all dependency lines
// under one recurrence.
type SectionSpec struct {
	Recurrence string
	Text       string
}

type section struct {
	rec  cycling.Recurrence
	deps []dependency
	// tasks declared in this section, sorted; instances of these spawn at
	// every recurrence point.
	tasks []string
}

// Graph is the expandable cyclic dependency graph. Expansion over a window
// is a pure function of the configuration, so repeated or out-of-order
// window requests always yield identical edges for a given point.
type Graph struct {
	cfg      Config
	sections []section
	tasks    []string
}

// New parses the graph configuration. Parameterized names are expanded over
// the declared value cross product and family references over their member
// sets; nested families are rejected.
func New(cfg Config) (*Graph, error) {
	for fam, members := range cfg.Families {
		for _, m := range members {
			if _, ok := cfg.Families[m]; ok {
				return nil, configErrorf("nested family %q in %q", m, fam)
			}
		}
	}

	g := &Graph{cfg: cfg}
	taskSet := map[string]bool{}

	for _, spec := range cfg.Sections {
		rec, err := cycling.ParseRecurrence(spec.Recurrence, cfg.Mode, cfg.Initial, cfg.Final)
		if err != nil {
			return nil, configErrorf("graph section %q: %v", spec.Recurrence, err)
		}
		sec := section{rec: rec}
		secTasks := map[string]bool{}

		for _, rawLine := range strings.Split(spec.Text, "\n") {
			line := rawLine
			if i := strings.IndexByte(line, '#'); i >= 0 {
				line = line[:i]
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			concrete, err := expandParams(line, cfg.Params)
			if err != nil {
				return nil, err
			}
			for _, cl := range concrete {
				deps, tasks, err := parseLine(cl, cfg.Mode, cfg.Families)
				if err != nil {
					return nil, err
				}
				sec.deps = append(sec.deps, deps...)
				for _, t := range tasks {
					secTasks[t] = true
					taskSet[t] = true
				}
			}
		}

		sec.tasks = sortedKeys(secTasks)
		g.sections = append(g.sections, sec)
	}

	g.tasks = sortedKeys(taskSet)
	return g, nil
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Mode returns the graph's cycling mode.
func (g *Graph) Mode() cycling.Mode { return g.cfg.Mode }

// InitialPoint returns the first cycle point of the workflow.
func (g *Graph) InitialPoint() cycling.Point { return g.cfg.Initial }

// FinalPoint returns the final cycle point, or a zero point when unbounded.
func (g *Graph) FinalPoint() cycling.Point { return g.cfg.Final }

// Tasks returns every concrete task name appearing in the graph, sorted.
func (g *Graph) Tasks() []string { return g.tasks }

// TasksAt returns the tasks that have an instance at point p, sorted.
func (g *Graph) TasksAt(p cycling.Point) ([]string, error) {
	set := map[string]bool{}
	for _, sec := range g.sections {
		ok, err := sec.rec.Contains(p)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		for _, t := range sec.tasks {
			set[t] = true
		}
	}
	return sortedKeys(set), nil
}

// NextPoint returns the first graph point strictly after p across all
// recurrences, or false when the graph is exhausted.
func (g *Graph) NextPoint(p cycling.Point) (cycling.Point, bool, error) {
	var best cycling.Point
	found := false
	for _, sec := range g.sections {
		next, ok, err := sec.rec.Next(p)
		if err != nil {
			return cycling.Point{}, false, err
		}
		if !ok {
			continue
		}
		if !found || next.Before(best) {
			best = next
			found = true
		}
	}
	return best, found, nil
}

// BoundDependency is a dependency resolved to a concrete downstream
// instance. A nil Trigger is unconditionally satisfied (all upstream
// references fell before the initial point).
type BoundDependency struct {
	Task    string
	Point   cycling.Point
	Trigger *BoundTrigger
	Suicide bool
}

// DependenciesAt returns the dependencies of every task instance at point
// p, in graph declaration order. Self-edges are a validation failure.
func (g *Graph) DependenciesAt(p cycling.Point) ([]BoundDependency, error) {
	var out []BoundDependency
	for _, sec := range g.sections {
		ok, err := sec.rec.Contains(p)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		for _, dep := range sec.deps {
			bound, err := dep.trig.bind(p, g.cfg.Initial)
			if err != nil {
				return nil, err
			}
			bd := BoundDependency{Task: dep.task, Point: p, Trigger: bound, Suicide: dep.suicide}
			if !bd.Suicide {
				for _, lf := range bound.Leaves() {
					if lf.Task == bd.Task && lf.Point.Equal(p) {
						return nil, configErrorf("self-edge detected: %s => %s.%s", lf, bd.Task, p)
					}
				}
			}
			out = append(out, bd)
		}
	}
	return out, nil
}

// Edge is one directed dependency between two concrete task instances.
type Edge struct {
	Up        BoundOutput
	DownTask  string
	DownPoint cycling.Point
	Suicide   bool
}

func (e Edge) String() string {
	return fmt.Sprintf("%s.%s => %s.%s", e.Up.Task, e.Up.Point, e.DownTask, e.DownPoint)
}

// ExpandWindow materializes every edge whose downstream instance falls in
// [lo, hi]. The result is deterministic: section order, then point order,
// then declaration order.
func (g *Graph) ExpandWindow(lo, hi cycling.Point) ([]Edge, error) {
	var edges []Edge
	seen := map[string]bool{}
	for _, sec := range g.sections {
		points, err := sec.rec.Points(lo, hi)
		if err != nil {
			return nil, err
		}
		for _, p := range points {
			for _, dep := range sec.deps {
				bound, err := dep.trig.bind(p, g.cfg.Initial)
				if err != nil {
					return nil, err
				}
				for _, lf := range bound.Leaves() {
					edge := Edge{Up: lf, DownTask: dep.task, DownPoint: p, Suicide: dep.suicide}
					if !edge.Suicide && lf.Task == dep.task && lf.Point.Equal(p) {
						return nil, configErrorf("self-edge detected: %s => %s.%s", lf, dep.task, p)
					}
					key := fmt.Sprintf("%s=>%s.%s/%v", lf, dep.task, p, dep.suicide)
					if seen[key] {
						continue
					}
					seen[key] = true
					edges = append(edges, edge)
				}
			}
		}
	}
	return edges, nil
}
