package watchdog

// Phase is the watchdog lifecycle. It only moves forward:
// active -> terminating -> terminated.
type Phase int32

const (
	PhaseActive      Phase = iota // Scheduler armed, ticks running
	PhaseTerminating              // Scheduler cancelled, shutdown in progress
	PhaseTerminated               // No further probe or launch will happen
)

func (p Phase) String() string {
	switch p {
	case PhaseActive:
		return "active"
	case PhaseTerminating:
		return "terminating"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// LaunchOutcome is the result of one launch attempt within a tick
type LaunchOutcome struct {
	Started bool
	// Version of the executable, set when Started
	Version string
	// Reason the launch failed, set when not Started
	Reason string
}

func started(version string) LaunchOutcome {
	return LaunchOutcome{Started: true, Version: version}
}

func failed(reason string) LaunchOutcome {
	return LaunchOutcome{Reason: reason}
}
