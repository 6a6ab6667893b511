package config

import (
	"time"
)

// Config holds the process-level settings shared by every command.
// Workflow definitions are loaded separately; this covers the runtime
// behavior of the scheduler process itself.
type Config struct {
	Global    Global
	Scheduler Scheduler

	// ConfigUsed is the path of the configuration file that was read,
	// empty when running on defaults only.
	ConfigUsed string
}

// Global contains settings that apply to every command.
type Global struct {
	Debug     bool
	Quiet     bool
	LogFormat string
	// WorkDir is the working directory for locally executed jobs.
	WorkDir string
}

// Scheduler tunes the control loop of a workflow run.
type Scheduler struct {
	LoopInterval      time.Duration
	StallTimeout      time.Duration
	InactivityTimeout time.Duration
	AbortOnStall      bool
	AbortOnInactivity bool
	// ValidationHorizon caps cycle detection to points up to this
	// interval past the initial point. Empty means the automatic
	// horizon derived from the graph.
	ValidationHorizon string
}
