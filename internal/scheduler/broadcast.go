package scheduler

import (
	"errors"
	"fmt"

	"dario.cat/mergo"

	"github.com/cycleflow-dev/cycleflow/internal/cycling"
	"github.com/cycleflow-dev/cycleflow/internal/workflow"
)

// ErrBadBroadcast is returned when a broadcast names an unknown target
// or carries no settings.
var ErrBadBroadcast = errors.New("bad broadcast")

// BroadcastScope selects the task instances a broadcast applies to.
// Target is a task or family name. A zero Point matches every cycle
// point of the target.
type BroadcastScope struct {
	Target   string
	Point    cycling.Point
	AllCycle bool
}

func (s BroadcastScope) String() string {
	if s.AllCycle {
		return s.Target + ".*"
	}
	return s.Target + "." + s.Point.String()
}

type broadcastEntry struct {
	scope BroadcastScope
	env   map[string]string
}

// Broadcasts holds the environment overrides applied to task instances
// at spawn time. Entries stack in arrival order; later broadcasts win
// on conflicting keys. Owned by the control loop.
type Broadcasts struct {
	wf      *workflow.Workflow
	entries []broadcastEntry
}

func newBroadcasts(wf *workflow.Workflow) *Broadcasts {
	return &Broadcasts{wf: wf}
}

// validate checks a scope against the static workflow definition.
func (b *Broadcasts) validate(scope BroadcastScope) error {
	if scope.Target == "" {
		return fmt.Errorf("%w: empty target", ErrBadBroadcast)
	}
	_, isTask := b.wf.Tasks[scope.Target]
	_, isFamily := b.wf.Families[scope.Target]
	if !isTask && !isFamily {
		return fmt.Errorf("%w: unknown task or family %q", ErrBadBroadcast, scope.Target)
	}
	if !scope.AllCycle {
		if scope.Point.IsZero() {
			return fmt.Errorf("%w: no cycle point", ErrBadBroadcast)
		}
		if scope.Point.Mode() != b.wf.Mode {
			return fmt.Errorf("%w: cycle point mode %s does not match workflow mode %s",
				ErrBadBroadcast, scope.Point.Mode(), b.wf.Mode)
		}
	}
	return nil
}

// put records a broadcast. The scope must already be validated.
func (b *Broadcasts) put(scope BroadcastScope, env map[string]string) error {
	if len(env) == 0 {
		return fmt.Errorf("%w: no settings", ErrBadBroadcast)
	}
	b.entries = append(b.entries, broadcastEntry{scope: scope, env: env})
	return nil
}

// clear drops every recorded broadcast matching the scope and reports
// whether anything was removed.
func (b *Broadcasts) clear(scope BroadcastScope) bool {
	kept := b.entries[:0]
	removed := false
	for _, e := range b.entries {
		if e.scope.Target == scope.Target &&
			(scope.AllCycle || (!e.scope.AllCycle && e.scope.Point.Equal(scope.Point))) {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	b.entries = kept
	return removed
}

// envFor builds the effective environment for an instance of def at
// point pt: the definition environment overlaid with every matching
// broadcast in arrival order.
func (b *Broadcasts) envFor(def *workflow.TaskDefinition, pt cycling.Point) map[string]string {
	env := make(map[string]string, len(def.Env))
	for k, v := range def.Env {
		env[k] = v
	}
	for _, e := range b.entries {
		if !b.matches(e.scope, def, pt) {
			continue
		}
		// mergo never errors on flat string maps with override set.
		_ = mergo.Merge(&env, e.env, mergo.WithOverride)
	}
	return env
}

func (b *Broadcasts) matches(scope BroadcastScope, def *workflow.TaskDefinition, pt cycling.Point) bool {
	if scope.Target != def.Name && !def.MemberOf(scope.Target) {
		return false
	}
	return scope.AllCycle || scope.Point.Equal(pt)
}
