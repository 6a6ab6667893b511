package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/cycleflow-dev/cycleflow/internal/cycling"
	"github.com/cycleflow-dev/cycleflow/internal/logger"
	"github.com/cycleflow-dev/cycleflow/internal/platform"
	"github.com/cycleflow-dev/cycleflow/internal/workflow"
)

var (
	// ErrTasksFailed is returned by Run when the workflow completed but
	// one or more task instances failed.
	ErrTasksFailed = errors.New("one or more tasks failed")
	// ErrStalled is returned when no task can make progress and the
	// stall timeout elapsed.
	ErrStalled = errors.New("workflow stalled")
	// ErrInactive is returned when no events arrived within the
	// inactivity timeout.
	ErrInactive = errors.New("workflow inactive")
)

// Config tunes the control loop. Zero timeouts disable the
// corresponding check.
type Config struct {
	LoopInterval      time.Duration
	StallTimeout      time.Duration
	InactivityTimeout time.Duration
	AbortOnStall      bool
	AbortOnInactivity bool
}

func (c *Config) setDefaults() {
	if c.LoopInterval <= 0 {
		c.LoopInterval = time.Second
	}
}

// Scheduler drives one run of a workflow: it spawns task instances
// within the runahead window, resolves their prerequisites, submits
// runnable jobs and reacts to lifecycle events. All mutable state is
// owned by the single goroutine inside Run; external requests arrive
// through the event channel.
type Scheduler struct {
	wf         *workflow.Workflow
	cfg        Config
	platforms  *platform.Registry
	submitter  Submitter
	broadcasts *Broadcasts
	pool       *pool

	events chan Event
	done   chan struct{}

	stopping bool
	stopNow  bool

	lastEvent      time.Time
	lastProgress   time.Time
	progressed     bool
	stallLogged    bool
	inactiveLogged bool
}

// New prepares a scheduler for one run of wf. Jobs are handed to sub
// for execution.
func New(wf *workflow.Workflow, sub Submitter, cfg Config) (*Scheduler, error) {
	cfg.setDefaults()
	reg, err := platform.NewRegistry(wf.Platforms, platform.NewBadHosts())
	if err != nil {
		return nil, err
	}
	bc := newBroadcasts(wf)
	return &Scheduler{
		wf:         wf,
		cfg:        cfg,
		platforms:  reg,
		submitter:  sub,
		broadcasts: bc,
		pool:       newPool(wf, bc),
		events:     make(chan Event, 128),
		done:       make(chan struct{}),
	}, nil
}

// Broadcast stacks an environment override for future instances of the
// scoped task or family. The scope is validated synchronously; the
// override takes effect before the next instance is created.
func (s *Scheduler) Broadcast(scope BroadcastScope, env map[string]string) error {
	if err := s.broadcasts.validate(scope); err != nil {
		return err
	}
	if len(env) == 0 {
		return ErrBadBroadcast
	}
	s.post(Event{Kind: EventBroadcast, Scope: scope, Env: env})
	return nil
}

// ClearBroadcast withdraws previously recorded broadcasts in scope.
func (s *Scheduler) ClearBroadcast(scope BroadcastScope) error {
	if err := s.broadcasts.validate(scope); err != nil {
		return err
	}
	s.post(Event{Kind: EventBroadcastClear, Scope: scope})
	return nil
}

// Retrigger requests a new run of a terminal task instance.
func (s *Scheduler) Retrigger(task string, pt cycling.Point) {
	s.post(Event{Kind: EventRetrigger, Task: task, Point: pt})
}

// Stop requests shutdown of the run.
func (s *Scheduler) Stop(mode StopMode) {
	s.post(Event{Kind: EventStop, Mode: mode})
}

// post delivers an event unless the run has already ended.
func (s *Scheduler) post(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Run executes the workflow until completion, stall, inactivity abort,
// stop request or context cancellation. It must be called once.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.done)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	now := time.Now()
	s.lastEvent = now
	s.lastProgress = now

	final := "unbounded"
	if !s.wf.Final.IsZero() {
		final = s.wf.Final.String()
	}
	logger.Info(ctx, "Workflow run started",
		"workflow", s.wf.Name,
		"initial", s.wf.Initial.String(),
		"final", final)

	// Requests posted before Run, broadcasts in particular, must land
	// before the first instances are created.
	s.drain(ctx)
	if err, done := s.pass(ctx, cancel); done {
		return err
	}

	ticker := time.NewTicker(s.cfg.LoopInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-s.events:
			s.lastEvent = time.Now()
			s.handle(ctx, ev)
			s.drain(ctx)
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err, done := s.pass(ctx, cancel); done {
			return err
		}
	}
}

// drain consumes whatever further events are already queued so one
// pass sees a consistent batch.
func (s *Scheduler) drain(ctx context.Context) {
	for {
		select {
		case ev := <-s.events:
			s.lastEvent = time.Now()
			s.handle(ctx, ev)
		default:
			return
		}
	}
}

// handle applies one event to the pool. Events for removed or unknown
// instances are dropped.
func (s *Scheduler) handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventBroadcast:
		if err := s.broadcasts.put(ev.Scope, ev.Env); err != nil {
			logger.Warn(ctx, "Broadcast rejected", "scope", ev.Scope.String(), "err", err)
			return
		}
		logger.Info(ctx, "Broadcast recorded", "scope", ev.Scope.String())
		return
	case EventBroadcastClear:
		if s.broadcasts.clear(ev.Scope) {
			logger.Info(ctx, "Broadcast cleared", "scope", ev.Scope.String())
		}
		return
	case EventStop:
		if ev.Mode == StopModeNow {
			s.stopNow = true
		}
		s.stopping = true
		logger.Info(ctx, "Stop requested", "mode", ev.Mode)
		return
	}

	id := ev.Task + "." + ev.Point.String()
	ti, ok := s.pool.get(id)
	if !ok {
		logger.Debugf(ctx, "Dropping %s event for unknown instance %s", ev.Kind, id)
		return
	}
	if ti.State() == StateRemoved {
		logger.Debugf(ctx, "Dropping %s event for removed instance %s", ev.Kind, id)
		return
	}

	switch ev.Kind {
	case EventRetrigger:
		if err := ti.retrigger("retrigger requested"); err != nil {
			logger.Warn(ctx, "Retrigger rejected", "err", err)
			return
		}
		s.progressed = true
		logger.Info(ctx, "Instance retriggered", "task", id)

	case EventSubmitted:
		ti.addOutput("submitted")
		s.platforms.GoodOutcome(ti.Def.Platform)
		s.progressed = true

	case EventStarted:
		if err := ti.transition(StateRunning, "job started"); err != nil {
			logger.Warn(ctx, "Ignoring event", "event", ev.Kind, "err", err)
			return
		}
		ti.addOutput("started")
		s.platforms.GoodOutcome(ti.Def.Platform)
		s.progressed = true
		logger.Info(ctx, "Task started", "task", id, "host", ti.Host())

	case EventSucceeded:
		if err := ti.transition(StateSucceeded, "job succeeded"); err != nil {
			logger.Warn(ctx, "Ignoring event", "event", ev.Kind, "err", err)
			return
		}
		ti.addOutput("succeeded")
		s.platforms.GoodOutcome(ti.Def.Platform)
		s.progressed = true
		logger.Info(ctx, "Task succeeded", "task", id)

	case EventFailed:
		if err := ti.transition(StateFailed, "job failed"); err != nil {
			logger.Warn(ctx, "Ignoring event", "event", ev.Kind, "err", err)
			return
		}
		ti.addOutput("failed")
		s.platforms.GoodOutcome(ti.Def.Platform)
		s.progressed = true
		logger.Error(ctx, "Task failed", "task", id, "err", ev.Err)

	case EventOutput:
		ti.addOutput(ev.Output)
		s.progressed = true
		logger.Info(ctx, "Task output completed", "task", id, "output", ev.Output)

	case EventSubmitFailed:
		s.platforms.SubmitFailed(ti.Def.Platform, ti.Host())
		logger.Warn(ctx, "Submission failed", "task", id, "host", ti.Host(), "err", ev.Err)
		s.dispatch(ctx, ti)
	}
}

// pass runs one scheduling sweep and reports whether the run is over.
func (s *Scheduler) pass(ctx context.Context, cancel context.CancelFunc) (error, bool) {
	if s.progressed {
		s.lastProgress = time.Now()
		s.progressed = false
		s.stallLogged = false
	}

	// Suicide triggers fire from any state and removal is final.
	s.pool.each(func(ti *TaskInstance) {
		if ti.State() == StateRemoved {
			return
		}
		if ti.suicideSatisfied(s.pool.hasOutput) {
			ti.remove("suicide trigger satisfied")
			s.lastProgress = time.Now()
			logger.Info(ctx, "Task removed by suicide trigger", "task", ti.ID())
		}
	})

	s.expire(ctx)

	if !s.stopping {
		s.pool.each(func(ti *TaskInstance) {
			if ti.State() != StateWaiting {
				return
			}
			if ti.triggersSatisfied(s.pool.hasOutput) {
				if err := ti.transition(StateQueued, "prerequisites satisfied"); err == nil {
					s.lastProgress = time.Now()
				}
			}
		})
		s.pool.each(func(ti *TaskInstance) {
			if ti.State() == StateQueued {
				s.dispatch(ctx, ti)
			}
		})
		if err := s.pool.spawn(); err != nil {
			return err, true
		}
	}

	if done, err := s.checkDone(ctx); done {
		if s.stopNow {
			cancel()
		}
		return err, true
	}
	return s.checkTimeouts(ctx)
}

// expire moves waiting instances that fell too far behind into the
// expired state.
func (s *Scheduler) expire(ctx context.Context) {
	if s.wf.ExpireOffset.IsZero() {
		return
	}
	var frontier cycling.Point
	seen := false
	s.pool.each(func(ti *TaskInstance) {
		if ti.State() == StateWaiting || ti.State() == StateRemoved {
			return
		}
		if !seen || ti.Point.After(frontier) {
			frontier = ti.Point
			seen = true
		}
	})
	if !seen {
		return
	}
	s.pool.each(func(ti *TaskInstance) {
		if ti.State() != StateWaiting {
			return
		}
		limit, err := ti.Point.Add(s.wf.ExpireOffset)
		if err != nil {
			return
		}
		if limit.Before(frontier) {
			if err := ti.transition(StateExpired, "expired behind "+frontier.String()); err == nil {
				ti.addOutput("expired")
				s.lastProgress = time.Now()
				logger.Warn(ctx, "Task expired", "task", ti.ID())
			}
		}
	})
}

// dispatch submits one queued or retrying instance. Host selection
// skips hosts already marked bad; when none remain the instance fails
// terminally.
func (s *Scheduler) dispatch(ctx context.Context, ti *TaskInstance) {
	host, err := s.platforms.SelectHost(ti.Def.Platform)
	if err != nil {
		reason := "submission failed: no hosts available"
		if !errors.Is(err, platform.ErrNoHostsAvailable) {
			reason = err.Error()
		}
		if ti.State() == StateQueued {
			_ = ti.transition(StateSubmitted, "submission attempted")
		}
		_ = ti.transition(StateFailed, reason)
		ti.addOutput("submit-failed")
		s.lastProgress = time.Now()
		logger.Error(ctx, "Task submission failed", "task", ti.ID(), "err", err)
		return
	}

	if ti.State() == StateQueued {
		if err := ti.transition(StateSubmitted, "submitted to "+host); err != nil {
			return
		}
	}
	ti.host = host
	ti.submitNum++
	s.lastProgress = time.Now()

	job := Job{
		ID:        ti.ID(),
		Task:      ti.Def.Name,
		Point:     ti.Point,
		SubmitNum: ti.SubmitNum(),
		Script:    ti.Def.Script,
		Env:       ti.env,
		Platform:  ti.Def.Platform,
		Host:      host,
		Outputs:   ti.Def.Outputs,
	}
	logger.Info(ctx, "Submitting task", "task", job.ID, "host", host, "submit", job.SubmitNum)

	go func() {
		if err := s.submitter.Submit(ctx, job, s.post); err != nil {
			s.post(Event{Kind: EventSubmitFailed, Task: job.Task, Point: job.Point, Err: err})
			return
		}
		s.post(Event{Kind: EventSubmitted, Task: job.Task, Point: job.Point})
	}()
}

// checkDone reports whether the run has ended and with what result.
func (s *Scheduler) checkDone(ctx context.Context) (bool, error) {
	counts := s.pool.counts()
	inFlight := counts[StateSubmitted] + counts[StateRunning]

	if s.stopNow || (s.stopping && inFlight == 0) {
		logger.Info(ctx, "Workflow run stopped", "failed", counts[StateFailed])
		if counts[StateFailed] > 0 {
			return true, ErrTasksFailed
		}
		return true, nil
	}
	if s.pool.finished() {
		logger.Info(ctx, "Workflow run finished",
			"succeeded", counts[StateSucceeded],
			"failed", counts[StateFailed],
			"expired", counts[StateExpired],
			"removed", counts[StateRemoved])
		if counts[StateFailed] > 0 {
			return true, ErrTasksFailed
		}
		return true, nil
	}
	return false, nil
}

// checkTimeouts enforces the stall and inactivity limits.
func (s *Scheduler) checkTimeouts(ctx context.Context) (error, bool) {
	now := time.Now()
	counts := s.pool.counts()
	active := counts[StateQueued] + counts[StateSubmitted] + counts[StateRunning]

	if s.cfg.StallTimeout > 0 && active == 0 && now.Sub(s.lastProgress) >= s.cfg.StallTimeout {
		if s.cfg.AbortOnStall {
			logger.Error(ctx, "Workflow stalled, aborting", "waiting", counts[StateWaiting])
			return ErrStalled, true
		}
		if !s.stallLogged {
			logger.Warn(ctx, "Workflow stalled", "waiting", counts[StateWaiting])
			s.stallLogged = true
		}
	}
	if s.cfg.InactivityTimeout > 0 && now.Sub(s.lastEvent) >= s.cfg.InactivityTimeout {
		if s.cfg.AbortOnInactivity {
			logger.Error(ctx, "Workflow inactive, aborting")
			return ErrInactive, true
		}
		if !s.inactiveLogged {
			logger.Warn(ctx, "Workflow inactive")
			s.inactiveLogged = true
		}
	}
	return nil, false
}

// Counts tallies instances per state. Safe to call only after Run has
// returned.
func (s *Scheduler) Counts() map[State]int {
	return s.pool.counts()
}

// Instances returns the spawned instances in creation order. Safe to
// call only after Run has returned.
func (s *Scheduler) Instances() []*TaskInstance {
	out := make([]*TaskInstance, 0, len(s.pool.order))
	s.pool.each(func(ti *TaskInstance) { out = append(out, ti) })
	return out
}
