package coll

import (
	"fmt"
	"sync"
)

// TopicMissingCollective is emitted when a module finds no base entry to
// override for an operation it wants to serve.
const TopicMissingCollective = "comm-select:missing collective"

// Diagnostic is a user-facing configuration message emitted by components.
type Diagnostic struct {
	Topic     string
	Component string
	Operation string
	Host      string
	Priority  int
}

func (d Diagnostic) String() string {
	switch d.Topic {
	case TopicMissingCollective:
		return fmt.Sprintf("component %q (priority %d) on host %s requires a base implementation of %s, but none was installed; %s will not be offloaded on this group",
			d.Component, d.Priority, d.Host, d.Operation, d.Operation)
	default:
		return fmt.Sprintf("%s: component=%s operation=%s host=%s priority=%d", d.Topic, d.Component, d.Operation, d.Host, d.Priority)
	}
}

// DiagnosticSink receives diagnostics.
type DiagnosticSink interface {
	Emit(d Diagnostic)
}

// DiagnosticFunc adapts a function to DiagnosticSink.
type DiagnosticFunc func(Diagnostic)

func (f DiagnosticFunc) Emit(d Diagnostic) {
	f(d)
}

// DiagnosticRecorder keeps every diagnostic it receives.
type DiagnosticRecorder struct {
	mu      sync.Mutex
	entries []Diagnostic
}

func (r *DiagnosticRecorder) Emit(d Diagnostic) {
	r.mu.Lock()
	r.entries = append(r.entries, d)
	r.mu.Unlock()
}

// Entries returns a copy of the recorded diagnostics.
func (r *DiagnosticRecorder) Entries() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Diagnostic(nil), r.entries...)
}
