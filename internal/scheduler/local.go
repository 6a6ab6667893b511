package scheduler

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// LocalSubmitter runs job scripts directly on the scheduler host with
// the system shell. Custom outputs are completed when the job prints
// the declared completion message on a line of its own.
type LocalSubmitter struct {
	// WorkDir is the working directory for job processes. Empty means
	// the current directory.
	WorkDir string
	// Shell overrides the shell binary. Empty means sh.
	Shell string
}

func (l *LocalSubmitter) Submit(ctx context.Context, job Job, report func(Event)) error {
	shell := l.Shell
	if shell == "" {
		shell = "sh"
	}
	script := job.Script
	if script == "" {
		script = "true"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", script)
	cmd.Dir = l.WorkDir
	cmd.Env = append(os.Environ(), jobEnv(job)...)
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	go func() {
		report(Event{Kind: EventStarted, Task: job.Task, Point: job.Point})

		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			for label, message := range job.Outputs {
				if line == message {
					report(Event{Kind: EventOutput, Task: job.Task, Point: job.Point, Output: label})
				}
			}
		}

		if err := cmd.Wait(); err != nil {
			report(Event{Kind: EventFailed, Task: job.Task, Point: job.Point, Err: err})
			return
		}
		report(Event{Kind: EventSucceeded, Task: job.Task, Point: job.Point})
	}()
	return nil
}

func jobEnv(job Job) []string {
	env := []string{
		"CYCLEFLOW_TASK=" + job.Task,
		"CYCLEFLOW_POINT=" + job.Point.String(),
		"CYCLEFLOW_JOB_ID=" + job.ID,
		fmt.Sprintf("CYCLEFLOW_SUBMIT_NUM=%d", job.SubmitNum),
	}
	for k, v := range job.Env {
		env = append(env, k+"="+v)
	}
	return env
}
