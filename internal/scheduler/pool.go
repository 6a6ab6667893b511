package scheduler

import (
	"github.com/cycleflow-dev/cycleflow/internal/cycling"
	"github.com/cycleflow-dev/cycleflow/internal/digraph"
	"github.com/cycleflow-dev/cycleflow/internal/workflow"
)

// pool holds the active task instances for one run. Instances are
// created point by point as the runahead window allows and kept until
// the run ends, so completed outputs stay visible to late downstream
// triggers. The pool is owned by the control loop.
type pool struct {
	wf         *workflow.Workflow
	broadcasts *Broadcasts

	instances map[string]*TaskInstance
	order     []string

	// nextSpawn is the first cycle point not yet materialized. Once the
	// graph is exhausted past the final point, spawnDone is set.
	nextSpawn cycling.Point
	spawnDone bool
}

func newPool(wf *workflow.Workflow, bc *Broadcasts) *pool {
	return &pool{
		wf:         wf,
		broadcasts: bc,
		instances:  make(map[string]*TaskInstance),
		nextSpawn:  wf.Graph.InitialPoint(),
	}
}

func (p *pool) get(id string) (*TaskInstance, bool) {
	ti, ok := p.instances[id]
	return ti, ok
}

// each visits instances in creation order.
func (p *pool) each(fn func(*TaskInstance)) {
	for _, id := range p.order {
		fn(p.instances[id])
	}
}

// hasOutput reports whether the instance owning the given output has
// completed it. Unspawned or unknown instances have no outputs.
func (p *pool) hasOutput(o digraph.BoundOutput) bool {
	ti, ok := p.instances[o.Task+"."+o.Point.String()]
	if !ok {
		return false
	}
	return ti.HasOutput(o.Output)
}

// runaheadLimit is the highest point instances may be spawned at:
// the slowest incomplete point plus the workflow runahead interval.
// With no incomplete instances the window is anchored at nextSpawn so
// spawning can always make progress.
func (p *pool) runaheadLimit() (cycling.Point, error) {
	base := p.nextSpawn
	found := false
	p.each(func(ti *TaskInstance) {
		if ti.State().Terminal() {
			return
		}
		if !found || ti.Point.Before(base) {
			base = ti.Point
			found = true
		}
	})
	return base.Add(p.wf.Runahead)
}

// spawn materializes instances for every point up to and including the
// runahead limit. New instances capture their environment, merged with
// any matching broadcasts, at creation time.
func (p *pool) spawn() error {
	if p.spawnDone {
		return nil
	}
	limit, err := p.runaheadLimit()
	if err != nil {
		// Runahead pushed past the calendar bounds; keep spawning one
		// point at a time until the graph runs out.
		limit = p.nextSpawn
	}
	for !p.spawnDone && !p.nextSpawn.After(limit) {
		if err := p.spawnPoint(p.nextSpawn); err != nil {
			return err
		}
		next, ok, err := p.wf.Graph.NextPoint(p.nextSpawn)
		if err != nil {
			return err
		}
		if !ok {
			p.spawnDone = true
			break
		}
		p.nextSpawn = next
	}
	return nil
}

func (p *pool) spawnPoint(pt cycling.Point) error {
	deps, err := p.wf.Graph.DependenciesAt(pt)
	if err != nil {
		return err
	}
	byTask := make(map[string][]digraph.BoundDependency)
	for _, d := range deps {
		byTask[d.Task] = append(byTask[d.Task], d)
	}
	names, err := p.wf.Graph.TasksAt(pt)
	if err != nil {
		return err
	}
	for _, name := range names {
		def := p.wf.TaskDef(name)
		ti := newTaskInstance(def, pt, p.broadcasts.envFor(def, pt))
		for _, d := range byTask[name] {
			if d.Suicide {
				ti.suicides = append(ti.suicides, d.Trigger)
			} else if d.Trigger != nil {
				ti.triggers = append(ti.triggers, d.Trigger)
			}
		}
		p.instances[ti.ID()] = ti
		p.order = append(p.order, ti.ID())
	}
	return nil
}

// allTerminal reports whether every spawned instance has reached a
// terminal state.
func (p *pool) allTerminal() bool {
	done := true
	p.each(func(ti *TaskInstance) {
		if !ti.State().Terminal() {
			done = false
		}
	})
	return done
}

// finished reports whether the run is complete: the graph has been
// fully spawned and every instance is terminal.
func (p *pool) finished() bool {
	return p.spawnDone && p.allTerminal()
}

// counts tallies instances per state.
func (p *pool) counts() map[State]int {
	c := make(map[State]int)
	p.each(func(ti *TaskInstance) { c[ti.State()]++ })
	return c
}
