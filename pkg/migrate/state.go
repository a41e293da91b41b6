package migrate

// RunState tracks how far a single project migration has progressed.
// A run that fails before Published leaves its workspace in a recoverable
// partial state; a later run re-resolves the same workspace and continues.
type RunState string

const (
	RunStateNotStarted        RunState = "not_started"
	RunStateWorkspaceResolved RunState = "workspace_resolved"
	RunStateSheetsCreated     RunState = "sheets_created"
	RunStateRowsPopulated     RunState = "rows_populated"
	RunStatePublished         RunState = "published"
	RunStateComplete          RunState = "complete"
	RunStateFailed            RunState = "failed"
)

// stateOrder gives each non-terminal state a monotonic rank so transitions
// can be checked as strictly forward.
var stateOrder = map[RunState]int{
	RunStateNotStarted:        0,
	RunStateWorkspaceResolved: 1,
	RunStateSheetsCreated:     2,
	RunStateRowsPopulated:     3,
	RunStatePublished:         4,
	RunStateComplete:          5,
}

// IsTerminal returns true when no further transitions are possible.
func (s RunState) IsTerminal() bool {
	return s == RunStateComplete || s == RunStateFailed
}

// CanAdvanceTo reports whether moving from s to next is a legal forward
// transition. Failed is reachable from any non-terminal state.
func (s RunState) CanAdvanceTo(next RunState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == RunStateFailed {
		return true
	}
	cur, ok := stateOrder[s]
	if !ok {
		return false
	}
	nxt, ok := stateOrder[next]
	if !ok {
		return false
	}
	return nxt == cur+1
}
