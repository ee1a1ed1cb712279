package node

import "fmt"

// Stop severities. A warning stop ends the run successfully (webhook
// responses use it); an error stop fails the run.
const (
	StopError   = "error"
	StopWarning = "warning"
)

// StopSignal is raised by a node to halt the whole run immediately.
type StopSignal struct {
	Severity string
	Message  string
}

func (s *StopSignal) Error() string {
	return s.Message
}

// IsWarning reports whether the stop ends the run without failing it.
func (s *StopSignal) IsWarning() bool {
	return s.Severity == StopWarning
}

// StopWithError halts the run and marks it failed.
func StopWithError(format string, args ...any) *StopSignal {
	return &StopSignal{Severity: StopError, Message: fmt.Sprintf(format, args...)}
}

// StopWithWarning halts the run without recording an error.
func StopWithWarning(format string, args ...any) *StopSignal {
	return &StopSignal{Severity: StopWarning, Message: fmt.Sprintf(format, args...)}
}

// RecursionError reports a sub-workflow exceeding the depth ceiling.
type RecursionError struct {
	Depth int
	Max   int
}

func (e *RecursionError) Error() string {
	return fmt.Sprintf("sub-workflow depth %d exceeds maximum %d", e.Depth, e.Max)
}
