package digraph

import (
	"errors"
	"fmt"
)

// ErrWorkflowConfig is the sentinel matched by errors.Is for any workflow
// configuration error raised during graph parsing or validation.
var ErrWorkflowConfig = errors.New("workflow config error")

// ConfigError is a terminal configuration error. Its text is a stable
// contract consumed by calling tooling and must not be reworded.
type ConfigError struct {
	msg string
}

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	return "WorkflowConfigError: " + e.msg
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrWorkflowConfig
}
