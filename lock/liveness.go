package lock

// Liveness decides whether the owner recorded in a marker still exists.
// Implementations must be conservative: when in doubt, report alive.
type Liveness interface {
	IsAlive(owner Owner) bool
}

// LivenessFunc adapts a function to Liveness.
type LivenessFunc func(owner Owner) bool

// IsAlive calls f(owner).
func (f LivenessFunc) IsAlive(owner Owner) bool {
	return f(owner)
}

// ProcessLiveness probes the local process table.
// Owners on other hosts are always reported alive.
type ProcessLiveness struct {
	// Host is the local host name.
	Host string
}

// IsAlive reports whether owner's process still runs.
func (p ProcessLiveness) IsAlive(owner Owner) bool {
	if owner.Host != "" && p.Host != "" && owner.Host != p.Host {
		return true
	}
	if owner.PID <= 0 {
		return true
	}
	return processAlive(owner.PID)
}

var _ Liveness = ProcessLiveness{}
