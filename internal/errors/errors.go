package errors

import "strings"

// ErrorList aggregates validation errors so a single pass can report every
// problem in a workflow definition at once.
type ErrorList struct {
	errors []error
}

func (e *ErrorList) Add(err error) {
	if err != nil {
		e.errors = append(e.errors, err)
	}
}

func (e *ErrorList) Error() string {
	errStrings := make([]string, len(e.errors))
	for i, err := range e.errors {
		errStrings[i] = err.Error()
	}
	return strings.Join(errStrings, "; ")
}

func (e *ErrorList) HasErrors() bool {
	return len(e.errors) > 0
}

// Errors returns the collected errors.
func (e *ErrorList) Errors() []error {
	return e.errors
}
