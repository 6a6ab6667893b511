package scheduler

import (
	"context"

	"github.com/cycleflow-dev/cycleflow/internal/cycling"
)

// EventKind discriminates the messages consumed by the control loop.
type EventKind int

const (
	// EventSubmitted reports that a submission was accepted by the
	// selected host.
	EventSubmitted EventKind = iota
	// EventStarted reports that a submitted job began executing.
	EventStarted
	// EventSucceeded reports successful job completion.
	EventSucceeded
	// EventFailed reports job execution failure after a successful
	// submission.
	EventFailed
	// EventSubmitFailed reports a submission failure attributable to
	// the selected host.
	EventSubmitFailed
	// EventOutput reports completion of a custom output label.
	EventOutput
	// EventBroadcast records an environment broadcast.
	EventBroadcast
	// EventBroadcastClear withdraws matching broadcasts.
	EventBroadcastClear
	// EventRetrigger resets a terminal instance for a new run.
	EventRetrigger
	// EventStop requests shutdown of the run.
	EventStop
)

func (k EventKind) String() string {
	switch k {
	case EventSubmitted:
		return "submitted"
	case EventStarted:
		return "started"
	case EventSucceeded:
		return "succeeded"
	case EventFailed:
		return "failed"
	case EventSubmitFailed:
		return "submit-failed"
	case EventOutput:
		return "output"
	case EventBroadcast:
		return "broadcast"
	case EventBroadcastClear:
		return "broadcast-clear"
	case EventRetrigger:
		return "retrigger"
	case EventStop:
		return "stop"
	default:
		return "unknown"
	}
}

// StopMode selects how a stop request winds the run down.
type StopMode int

const (
	// StopModeNow cancels in-flight jobs and returns immediately.
	StopModeNow StopMode = iota
	// StopModeDrain stops submitting new jobs and waits for active
	// jobs to finish.
	StopModeDrain
)

func (m StopMode) String() string {
	if m == StopModeNow {
		return "now"
	}
	return "drain"
}

// Event is one message for the control loop. Task lifecycle events
// carry Task and Point; control events carry the remaining fields.
type Event struct {
	Kind  EventKind
	Task  string
	Point cycling.Point

	// Output is the canonical label for EventOutput.
	Output string
	// Err carries the failure for EventFailed and EventSubmitFailed.
	Err error

	Scope BroadcastScope
	Env   map[string]string
	Mode  StopMode
}

// Job is everything a Submitter needs to run one task instance.
type Job struct {
	ID        string
	Task      string
	Point     cycling.Point
	SubmitNum int
	Script    string
	Env       map[string]string
	Platform  string
	Host      string
	Outputs   map[string]string
}

// Submitter submits jobs to execution hosts. Submit starts the job on
// job.Host and returns; a non-nil error is a submission failure
// attributable to that host. After a successful submission the job runs
// asynchronously and its lifecycle is reported through report as
// started, output and succeeded or failed events.
type Submitter interface {
	Submit(ctx context.Context, job Job, report func(Event)) error
}
