package model

// ProgressEpsilon is the tolerated backwards drift of a progress fraction
// before an update is considered stale.
const ProgressEpsilon = 0.001

// Snapshot is the part of a job consumers order updates by.
type Snapshot struct {
	Status   JobStatus `json:"status"`
	Progress float64   `json:"progress"`
}

// AcceptUpdate reports whether next may replace prev for a consumer that has
// already observed prev. Terminal updates are always accepted.
func AcceptUpdate(prev, next Snapshot) bool {
	if next.Status.IsTerminal() {
		return true
	}
	if prev.Status.IsTerminal() {
		return false
	}
	if next.Status.Rank() < prev.Status.Rank() {
		return false
	}
	if next.Progress < prev.Progress-ProgressEpsilon {
		return false
	}
	return true
}
