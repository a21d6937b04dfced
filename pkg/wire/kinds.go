package wire

// Kind discriminates the payload variant of an Envelope. The numeric
// values are part of the wire format: new kinds may be added, existing
// values are never repurposed.
type Kind uint32

const (
	KindUnspecified Kind = 0

	// system events
	KindHeartbeat         Kind = 1
	KindPermissionsUpdate Kind = 2
	KindStartup           Kind = 3
	KindShutdown          Kind = 4
	KindRestart           Kind = 5

	// race lifecycle events
	KindRaceScheduled Kind = 10
	KindRaceStaged    Kind = 11
	KindRaceStarted   Kind = 12
	KindRacePaused    Kind = 13
	KindRaceResumed   Kind = 14
	KindRaceStopped   Kind = 15
	KindRaceFinished  Kind = 16

	// entity sync events, id-only notifications
	KindPilotAdded   Kind = 20
	KindPilotAltered Kind = 21
	KindPilotDeleted Kind = 22
	KindHeatAdded    Kind = 23
	KindHeatAltered  Kind = 24
	KindHeatDeleted  Kind = 25
	KindRoundAdded   Kind = 26
	KindRoundAltered Kind = 27
	KindRoundDeleted Kind = 28
	KindClassAdded   Kind = 29
	KindClassAltered Kind = 30
	KindClassDeleted Kind = 31
	KindEventAdded   Kind = 32
	KindEventAltered Kind = 33
	KindEventDeleted Kind = 34
)

var kindNames = map[Kind]string{
	KindUnspecified:       "unspecified",
	KindHeartbeat:         "heartbeat",
	KindPermissionsUpdate: "permissions-update",
	KindStartup:           "startup",
	KindShutdown:          "shutdown",
	KindRestart:           "restart",
	KindRaceScheduled:     "race-scheduled",
	KindRaceStaged:        "race-staged",
	KindRaceStarted:       "race-started",
	KindRacePaused:        "race-paused",
	KindRaceResumed:       "race-resumed",
	KindRaceStopped:       "race-stopped",
	KindRaceFinished:      "race-finished",
	KindPilotAdded:        "pilot-added",
	KindPilotAltered:      "pilot-altered",
	KindPilotDeleted:      "pilot-deleted",
	KindHeatAdded:         "heat-added",
	KindHeatAltered:       "heat-altered",
	KindHeatDeleted:       "heat-deleted",
	KindRoundAdded:        "round-added",
	KindRoundAltered:      "round-altered",
	KindRoundDeleted:      "round-deleted",
	KindClassAdded:        "class-added",
	KindClassAltered:      "class-altered",
	KindClassDeleted:      "class-deleted",
	KindEventAdded:        "event-added",
	KindEventAltered:      "event-altered",
	KindEventDeleted:      "event-deleted",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Known reports whether the kind is part of the enumeration this
// build understands. Unknown kinds decode fine but receivers must
// ignore them.
func (k Kind) Known() bool {
	_, ok := kindNames[k]
	return ok && k != KindUnspecified
}

// Kinds returns all known kinds (excluding unspecified), mainly for
// exhaustive tests.
func Kinds() []Kind {
	ret := make([]Kind, 0, len(kindNames)-1)
	for k := range kindNames {
		if k != KindUnspecified {
			ret = append(ret, k)
		}
	}
	return ret
}
