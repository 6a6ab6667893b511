package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cycleflow-dev/cycleflow/internal/cycling"
	"github.com/cycleflow-dev/cycleflow/internal/logger"
	"github.com/cycleflow-dev/cycleflow/internal/workflow"
)

// fakeSubmitter completes jobs instantly unless configured otherwise.
type fakeSubmitter struct {
	mu sync.Mutex
	// jobs records every submission in arrival order.
	jobs []Job
	// badHosts makes submission itself fail on the listed hosts.
	badHosts map[string]bool
	// execFails makes the next N executions of a task fail.
	execFails map[string]int
	// hold blocks the named task between started and completion until
	// the channel is closed.
	hold map[string]chan struct{}
	// onFailed runs after a job reports execution failure.
	onFailed func(Job)
}

func (f *fakeSubmitter) Submit(ctx context.Context, job Job, report func(Event)) error {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	bad := f.badHosts[job.Host]
	fail := f.execFails[job.Task] > 0
	if fail {
		f.execFails[job.Task]--
	}
	gate := f.hold[job.Task]
	f.mu.Unlock()

	if bad {
		return errors.New("connect: connection refused")
	}
	go func() {
		report(Event{Kind: EventStarted, Task: job.Task, Point: job.Point})
		if gate != nil {
			<-gate
		}
		if fail {
			report(Event{Kind: EventFailed, Task: job.Task, Point: job.Point, Err: errors.New("exit status 1")})
			if f.onFailed != nil {
				f.onFailed(job)
			}
			return
		}
		report(Event{Kind: EventSucceeded, Task: job.Task, Point: job.Point})
	}()
	return nil
}

func (f *fakeSubmitter) submitted() []Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Job(nil), f.jobs...)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return logger.WithLogger(ctx, logger.NewLogger(logger.WithQuiet()))
}

func loadWorkflow(t *testing.T, yaml string) *workflow.Workflow {
	t.Helper()
	wf, err := workflow.LoadYAML(context.Background(), []byte(yaml), "test", "")
	require.NoError(t, err)
	return wf
}

func fastConfig() Config {
	return Config{LoopInterval: 5 * time.Millisecond}
}

func instance(t *testing.T, s *Scheduler, id string) *TaskInstance {
	t.Helper()
	for _, ti := range s.Instances() {
		if ti.ID() == id {
			return ti
		}
	}
	t.Fatalf("instance %s not found", id)
	return nil
}

func jobIndex(jobs []Job, id string) int {
	for i, j := range jobs {
		if j.ID == id {
			return i
		}
	}
	return -1
}

func TestSchedulerRunSucceeds(t *testing.T) {
	t.Parallel()
	wf := loadWorkflow(t, `
cycling: integer
initialPoint: "1"
finalPoint: "3"
graph:
  P1: |
    a => b
`)
	sub := &fakeSubmitter{}
	sched, err := New(wf, sub, fastConfig())
	require.NoError(t, err)

	require.NoError(t, sched.Run(testContext(t)))

	counts := sched.Counts()
	require.Equal(t, 6, counts[StateSucceeded])
	require.Zero(t, counts[StateFailed])

	jobs := sub.submitted()
	require.Len(t, jobs, 6)
	for _, pt := range []string{"1", "2", "3"} {
		require.Less(t, jobIndex(jobs, "a."+pt), jobIndex(jobs, "b."+pt),
			"b.%s must not be submitted before a.%s succeeded", pt, pt)
	}

	var states []State
	for _, tr := range instance(t, sched, "a.1").History() {
		states = append(states, tr.To)
	}
	require.Equal(t, []State{StateQueued, StateSubmitted, StateRunning, StateSucceeded}, states)
}

func TestSchedulerFailureStalls(t *testing.T) {
	t.Parallel()
	wf := loadWorkflow(t, `
cycling: integer
initialPoint: "1"
finalPoint: "2"
graph:
  P1: |
    a => b
`)
	sub := &fakeSubmitter{execFails: map[string]int{"a": 2}}
	cfg := fastConfig()
	cfg.StallTimeout = 100 * time.Millisecond
	cfg.AbortOnStall = true
	sched, err := New(wf, sub, cfg)
	require.NoError(t, err)

	err = sched.Run(testContext(t))
	require.ErrorIs(t, err, ErrStalled)

	require.Equal(t, StateFailed, instance(t, sched, "a.1").State())
	require.Equal(t, StateWaiting, instance(t, sched, "b.1").State())
	require.True(t, instance(t, sched, "a.1").HasOutput("failed"))
}

func TestSchedulerSuicideTrigger(t *testing.T) {
	t.Parallel()
	wf := loadWorkflow(t, `
cycling: integer
initialPoint: "1"
finalPoint: "1"
graph:
  R1: |
    a => b
    a:fail => !b
    a:fail => r
`)
	sub := &fakeSubmitter{execFails: map[string]int{"a": 1}}
	sched, err := New(wf, sub, fastConfig())
	require.NoError(t, err)

	err = sched.Run(testContext(t))
	require.ErrorIs(t, err, ErrTasksFailed)

	require.Equal(t, StateFailed, instance(t, sched, "a.1").State())
	require.Equal(t, StateRemoved, instance(t, sched, "b.1").State())
	require.Equal(t, StateSucceeded, instance(t, sched, "r.1").State())
}

func TestSchedulerBroadcast(t *testing.T) {
	t.Parallel()
	wf := loadWorkflow(t, `
cycling: integer
initialPoint: "1"
finalPoint: "2"
graph:
  P1: |
    a
tasks:
  a:
    env:
      KEPT: "original"
      REPLACED: "original"
`)
	sub := &fakeSubmitter{}
	sched, err := New(wf, sub, fastConfig())
	require.NoError(t, err)

	require.ErrorIs(t,
		sched.Broadcast(BroadcastScope{Target: "nope", AllCycle: true}, map[string]string{"X": "1"}),
		ErrBadBroadcast)
	require.ErrorIs(t,
		sched.Broadcast(BroadcastScope{Target: "a", AllCycle: true}, nil),
		ErrBadBroadcast)

	require.NoError(t, sched.Broadcast(
		BroadcastScope{Target: "a", AllCycle: true},
		map[string]string{"REPLACED": "broadcast"}))
	require.NoError(t, sched.Broadcast(
		BroadcastScope{Target: "a", Point: cycling.IntegerPoint(2)},
		map[string]string{"ONLY2": "yes"}))

	require.NoError(t, sched.Run(testContext(t)))

	jobs := sub.submitted()
	a1 := jobs[jobIndex(jobs, "a.1")]
	require.Equal(t, "original", a1.Env["KEPT"])
	require.Equal(t, "broadcast", a1.Env["REPLACED"])
	require.NotContains(t, a1.Env, "ONLY2")

	a2 := jobs[jobIndex(jobs, "a.2")]
	require.Equal(t, "broadcast", a2.Env["REPLACED"])
	require.Equal(t, "yes", a2.Env["ONLY2"])
}

func TestBroadcastScopeValidation(t *testing.T) {
	t.Parallel()
	wf := loadWorkflow(t, `
cycling: datetime
initialPoint: "20100101T0000Z"
finalPoint: "20100103T0000Z"
graph:
  P1D: |
    a
`)
	sub := &fakeSubmitter{}
	sched, err := New(wf, sub, fastConfig())
	require.NoError(t, err)

	env := map[string]string{"X": "1"}

	require.ErrorIs(t, sched.Broadcast(BroadcastScope{Target: "ghost", AllCycle: true}, env),
		ErrBadBroadcast, "unknown target must be rejected even though graph tasks get implicit definitions")
	require.ErrorIs(t, sched.Broadcast(BroadcastScope{Target: "a"}, env),
		ErrBadBroadcast, "scope needs a cycle point or the all-cycle wildcard")
	require.ErrorIs(t, sched.Broadcast(BroadcastScope{Target: "a", Point: cycling.IntegerPoint(2)}, env),
		ErrBadBroadcast, "integer point against a datetime workflow")

	pt, err := cycling.ParsePoint("20100102T0000Z", cycling.ModeDatetime)
	require.NoError(t, err)
	require.NoError(t, sched.Broadcast(BroadcastScope{Target: "a", Point: pt}, env))

	require.NoError(t, sched.Run(testContext(t)))

	jobs := sub.submitted()
	require.Equal(t, "1", jobs[jobIndex(jobs, "a.20100102T0000Z")].Env["X"])
	require.NotContains(t, jobs[jobIndex(jobs, "a.20100101T0000Z")].Env, "X")
}

func TestBroadcastClear(t *testing.T) {
	t.Parallel()
	wf := loadWorkflow(t, `
cycling: integer
initialPoint: "1"
finalPoint: "2"
families:
  FAM: [a]
graph:
  P1: |
    a
tasks:
  a:
    env:
      BASE: "def"
`)
	b := newBroadcasts(wf)
	def := wf.TaskDef("a")
	p1 := cycling.IntegerPoint(1)

	require.NoError(t, b.put(BroadcastScope{Target: "a", AllCycle: true}, map[string]string{"ALL": "1"}))
	require.NoError(t, b.put(BroadcastScope{Target: "a", Point: p1}, map[string]string{"AT1": "1"}))
	require.NoError(t, b.put(BroadcastScope{Target: "FAM", AllCycle: true}, map[string]string{"FAM": "1"}))

	env := b.envFor(def, p1)
	require.Equal(t, "def", env["BASE"])
	require.Equal(t, "1", env["ALL"])
	require.Equal(t, "1", env["AT1"])
	require.Equal(t, "1", env["FAM"], "family broadcast applies to members")

	// Point-scoped clear leaves the all-cycle entries alone.
	require.True(t, b.clear(BroadcastScope{Target: "a", Point: p1}))
	env = b.envFor(def, p1)
	require.NotContains(t, env, "AT1")
	require.Equal(t, "1", env["ALL"])

	require.True(t, b.clear(BroadcastScope{Target: "a", AllCycle: true}))
	require.False(t, b.clear(BroadcastScope{Target: "a", AllCycle: true}))
	env = b.envFor(def, p1)
	require.NotContains(t, env, "ALL")
	require.Equal(t, "1", env["FAM"])
	require.Equal(t, "def", env["BASE"])
}

func TestSchedulerBadHostFailover(t *testing.T) {
	t.Parallel()
	wf := loadWorkflow(t, `
cycling: integer
initialPoint: "1"
finalPoint: "1"
graph:
  R1: |
    a
tasks:
  a:
    platform: hpc
platforms:
  hpc:
    hosts: [h1, h2]
`)
	sub := &fakeSubmitter{badHosts: map[string]bool{"h1": true}}
	sched, err := New(wf, sub, fastConfig())
	require.NoError(t, err)

	require.NoError(t, sched.Run(testContext(t)))

	jobs := sub.submitted()
	require.Len(t, jobs, 2)
	require.Equal(t, "h1", jobs[0].Host)
	require.Equal(t, "h2", jobs[1].Host)

	a := instance(t, sched, "a.1")
	require.Equal(t, StateSucceeded, a.State())
	require.Equal(t, 2, a.SubmitNum())
	require.Equal(t, "h2", a.Host())
}

func TestSchedulerAllHostsBad(t *testing.T) {
	t.Parallel()
	wf := loadWorkflow(t, `
cycling: integer
initialPoint: "1"
finalPoint: "1"
graph:
  R1: |
    a
tasks:
  a:
    platform: hpc
platforms:
  hpc:
    hosts: [h1, h2]
`)
	sub := &fakeSubmitter{badHosts: map[string]bool{"h1": true, "h2": true}}
	sched, err := New(wf, sub, fastConfig())
	require.NoError(t, err)

	err = sched.Run(testContext(t))
	require.ErrorIs(t, err, ErrTasksFailed)

	a := instance(t, sched, "a.1")
	require.Equal(t, StateFailed, a.State())
	require.True(t, a.HasOutput("submit-failed"))

	hist := a.History()
	last := hist[len(hist)-1]
	require.Equal(t, "submission failed: no hosts available", last.Reason)
}

func TestSchedulerStopDrain(t *testing.T) {
	t.Parallel()
	wf := loadWorkflow(t, `
cycling: integer
initialPoint: "1"
finalPoint: "1"
graph:
  R1: |
    a => b
`)
	gate := make(chan struct{})
	sub := &fakeSubmitter{hold: map[string]chan struct{}{"a": gate}}
	sched, err := New(wf, sub, fastConfig())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sched.Run(testContext(t)) }()

	require.Eventually(t, func() bool {
		return len(sub.submitted()) == 1
	}, 5*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	sched.Stop(StopModeDrain)
	close(gate)

	require.NoError(t, <-done)
	require.Len(t, sub.submitted(), 1, "no submissions after drain stop")
	require.Equal(t, StateSucceeded, instance(t, sched, "a.1").State())
	require.Equal(t, StateWaiting, instance(t, sched, "b.1").State())
}

func TestSchedulerRetrigger(t *testing.T) {
	t.Parallel()
	wf := loadWorkflow(t, `
cycling: integer
initialPoint: "1"
finalPoint: "1"
graph:
  R1: |
    a => b
`)
	sub := &fakeSubmitter{execFails: map[string]int{"a": 1}}
	sched, err := New(wf, sub, fastConfig())
	require.NoError(t, err)
	sub.onFailed = func(job Job) { sched.Retrigger(job.Task, job.Point) }

	require.NoError(t, sched.Run(testContext(t)))

	a := instance(t, sched, "a.1")
	require.Equal(t, StateSucceeded, a.State())
	require.Equal(t, 2, a.SubmitNum())
	require.Equal(t, StateSucceeded, instance(t, sched, "b.1").State())

	reasons := make(map[string]bool)
	for _, tr := range a.History() {
		reasons[tr.Reason] = true
	}
	require.True(t, reasons["retrigger requested"])
}

func TestSchedulerExpire(t *testing.T) {
	t.Parallel()
	wf := loadWorkflow(t, `
cycling: integer
initialPoint: "1"
finalPoint: "3"
runahead: "P5"
expireOffset: "P1"
graph:
  P1: |
    f
    never => s
`)
	sub := &fakeSubmitter{execFails: map[string]int{"never": 3}}
	cfg := fastConfig()
	cfg.StallTimeout = 100 * time.Millisecond
	cfg.AbortOnStall = true
	sched, err := New(wf, sub, cfg)
	require.NoError(t, err)

	err = sched.Run(testContext(t))
	require.ErrorIs(t, err, ErrStalled)

	s1 := instance(t, sched, "s.1")
	require.Equal(t, StateExpired, s1.State())
	require.True(t, s1.HasOutput("expired"))
	require.Equal(t, StateWaiting, instance(t, sched, "s.3").State())
	require.Equal(t, StateSucceeded, instance(t, sched, "f.3").State())
}
