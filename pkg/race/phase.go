package race

// Phase is the current state of the race-control state machine for
// the active race-timing event.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseScheduled
	PhaseStaged
	PhaseRunning
	PhasePaused
	PhaseStopped
	PhaseFinished
)

var phaseNames = map[Phase]string{
	PhaseIdle:      "Idle",
	PhaseScheduled: "Scheduled",
	PhaseStaged:    "Staged",
	PhaseRunning:   "Running",
	PhasePaused:    "Paused",
	PhaseStopped:   "Stopped",
	PhaseFinished:  "Finished",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "Unknown"
}
