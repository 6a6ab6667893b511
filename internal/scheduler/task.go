package scheduler

import (
	"fmt"
	"time"

	"github.com/cycleflow-dev/cycleflow/internal/cycling"
	"github.com/cycleflow-dev/cycleflow/internal/digraph"
	"github.com/cycleflow-dev/cycleflow/internal/workflow"
)

// State is the lifecycle state of a task instance.
type State int

const (
	StateWaiting State = iota
	StateQueued
	StateSubmitted
	StateRunning
	StateSucceeded
	StateFailed
	StateExpired
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateQueued:
		return "queued"
	case StateSubmitted:
		return "submitted"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateExpired:
		return "expired"
	case StateRemoved:
		return "removed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further progress is possible from s
// without an explicit retrigger.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateExpired, StateRemoved:
		return true
	default:
		return false
	}
}

// validNext lists the transitions the control loop is allowed to make.
// Retrigger (any terminal state back to waiting) and removal (any state
// to removed) are handled separately.
var validNext = map[State][]State{
	StateWaiting:   {StateQueued, StateExpired},
	StateQueued:    {StateSubmitted},
	StateSubmitted: {StateRunning, StateFailed},
	StateRunning:   {StateSucceeded, StateFailed},
}

// Transition is one entry in a task instance's audit trail.
type Transition struct {
	From   State
	To     State
	Reason string
	At     time.Time
}

// TaskInstance is one task at one cycle point. All fields are owned by
// the scheduler control loop; nothing here is safe for concurrent use.
type TaskInstance struct {
	Def   *workflow.TaskDefinition
	Point cycling.Point

	state     State
	submitNum int
	host      string
	platform  string

	// triggers are the hard prerequisites, one per graph arrow that
	// targets this instance. All must be satisfied before queueing.
	triggers []*digraph.BoundTrigger
	// suicides remove the instance when any one of them is satisfied.
	suicides []*digraph.BoundTrigger

	// outputs completed by this instance, by canonical label.
	outputs map[string]bool

	env map[string]string

	history []Transition
}

func newTaskInstance(def *workflow.TaskDefinition, p cycling.Point, env map[string]string) *TaskInstance {
	return &TaskInstance{
		Def:     def,
		Point:   p,
		state:   StateWaiting,
		outputs: make(map[string]bool),
		env:     env,
	}
}

// ID identifies the instance as name.point, unique within one run.
func (ti *TaskInstance) ID() string {
	return ti.Def.Name + "." + ti.Point.String()
}

func (ti *TaskInstance) State() State { return ti.state }

// SubmitNum is the number of submissions attempted so far, counting
// retries across bad hosts and retriggers.
func (ti *TaskInstance) SubmitNum() int { return ti.submitNum }

// Host is the host of the most recent submission, if any.
func (ti *TaskInstance) Host() string { return ti.host }

// History returns the audited state transitions in order.
func (ti *TaskInstance) History() []Transition { return ti.history }

// HasOutput reports whether the instance has completed the output with
// the given canonical label.
func (ti *TaskInstance) HasOutput(label string) bool { return ti.outputs[label] }

func (ti *TaskInstance) addOutput(label string) { ti.outputs[label] = true }

// transition moves the instance to a new state, enforcing the allowed
// transition table and recording the change.
func (ti *TaskInstance) transition(to State, reason string) error {
	allowed := false
	for _, next := range validNext[ti.state] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("invalid transition for %s: %s -> %s", ti.ID(), ti.state, to)
	}
	ti.record(to, reason)
	return nil
}

// remove forces the instance into the removed state from any state.
// Removal is one-way; removed instances never run again.
func (ti *TaskInstance) remove(reason string) {
	if ti.state == StateRemoved {
		return
	}
	ti.record(StateRemoved, reason)
}

// retrigger resets a terminal instance back to waiting for a reflow.
// Outputs are cleared so downstream triggers see the new run only.
func (ti *TaskInstance) retrigger(reason string) error {
	if ti.state == StateRemoved {
		return fmt.Errorf("cannot retrigger removed instance %s", ti.ID())
	}
	if !ti.state.Terminal() {
		return fmt.Errorf("cannot retrigger %s in state %s", ti.ID(), ti.state)
	}
	ti.outputs = make(map[string]bool)
	ti.host = ""
	ti.record(StateWaiting, reason)
	return nil
}

func (ti *TaskInstance) record(to State, reason string) {
	ti.history = append(ti.history, Transition{
		From:   ti.state,
		To:     to,
		Reason: reason,
		At:     time.Now(),
	})
	ti.state = to
}

// triggersSatisfied reports whether every hard prerequisite holds given
// the outputs completed so far across the pool.
func (ti *TaskInstance) triggersSatisfied(has func(digraph.BoundOutput) bool) bool {
	for _, tr := range ti.triggers {
		if !tr.Satisfied(has) {
			return false
		}
	}
	return true
}

// suicideSatisfied reports whether any suicide trigger holds.
func (ti *TaskInstance) suicideSatisfied(has func(digraph.BoundOutput) bool) bool {
	for _, tr := range ti.suicides {
		if tr != nil && tr.Satisfied(has) {
			return true
		}
	}
	return false
}
