package ws

import (
	"github.com/fpvtiming/racehub/pkg/auth"
	"github.com/fpvtiming/racehub/pkg/race"
	"github.com/fpvtiming/racehub/pkg/wire"
)

type (
	// Broadcaster is the outbound side used by command handlers.
	Broadcaster interface {
		Publish(env *wire.Envelope, required auth.Permission)
	}

	// Lifecycle lets privileged clients request server shutdown or
	// restart. The server command wires these to its signal handling.
	Lifecycle interface {
		RequestShutdown()
		RequestRestart()
	}
)

// DefaultRouter builds the command routing table: heartbeat echo for
// every authenticated stream, race-control transitions and system
// lifecycle commands behind their permissions.
//
//nolint:funlen // routing table
func DefaultRouter(bcst Broadcaster, ctrl *race.Control, lc Lifecycle, opts ...RouterOption) *Router {
	router := NewRouter(opts...)

	// heartbeat echo keeps the client's correlation id so the sender
	// can match the response to its request
	router.Handle(wire.KindHeartbeat, auth.PermNone,
		func(_ *auth.Session, env *wire.Envelope) error {
			bcst.Publish(wire.NewEnvelopeWithID(wire.KindHeartbeat, env.CorrelationID), auth.PermNone)
			return nil
		})

	raceCommands := map[wire.Kind]func() error{
		wire.KindRaceScheduled: ctrl.Schedule,
		wire.KindRaceStaged:    ctrl.Stage,
		wire.KindRaceStarted:   ctrl.Start,
		wire.KindRacePaused:    ctrl.Pause,
		wire.KindRaceResumed:   ctrl.Resume,
		wire.KindRaceStopped:   ctrl.Stop,
		wire.KindRaceFinished:  ctrl.Finish,
	}
	for kind, apply := range raceCommands {
		router.Handle(kind, auth.PermRaceControl,
			func(_ *auth.Session, _ *wire.Envelope) error {
				return apply()
			})
	}

	// rebroadcast keeps the correlation id so all instances dedup the
	// same update; the hub re-resolves session permissions on publish
	router.Handle(wire.KindPermissionsUpdate, auth.PermSystemControl,
		func(_ *auth.Session, env *wire.Envelope) error {
			bcst.Publish(wire.NewEnvelopeWithID(
				wire.KindPermissionsUpdate, env.CorrelationID), auth.PermNone)
			return nil
		})

	router.Handle(wire.KindShutdown, auth.PermSystemControl,
		func(_ *auth.Session, _ *wire.Envelope) error {
			lc.RequestShutdown()
			return nil
		})
	router.Handle(wire.KindRestart, auth.PermSystemControl,
		func(_ *auth.Session, _ *wire.Envelope) error {
			lc.RequestRestart()
			return nil
		})

	return router
}
