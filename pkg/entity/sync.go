// Package entity turns CRUD notifications from the external
// persistence collaborator into wire envelopes. Notifications are
// id-only: clients fetch the entity body separately.
package entity

import (
	"fmt"

	"github.com/fpvtiming/racehub/log"
	"github.com/fpvtiming/racehub/pkg/auth"
	"github.com/fpvtiming/racehub/pkg/wire"
)

type (
	// EntityKind names a syncable domain entity.
	EntityKind int
	// ChangeOp is the CRUD operation a notification reports.
	ChangeOp int
)

const (
	Pilot EntityKind = iota
	Heat
	Round
	RaceClass
	RaceEvent
)

const (
	Added ChangeOp = iota
	Altered
	Deleted
)

var entityNames = map[EntityKind]string{
	Pilot:     "pilot",
	Heat:      "heat",
	Round:     "round",
	RaceClass: "class",
	RaceEvent: "event",
}

func (k EntityKind) String() string { return entityNames[k] }

var opNames = map[ChangeOp]string{
	Added:   "added",
	Altered: "altered",
	Deleted: "deleted",
}

func (o ChangeOp) String() string { return opNames[o] }

var eventKinds = map[EntityKind]map[ChangeOp]wire.Kind{
	Pilot: {
		Added:   wire.KindPilotAdded,
		Altered: wire.KindPilotAltered,
		Deleted: wire.KindPilotDeleted,
	},
	Heat: {
		Added:   wire.KindHeatAdded,
		Altered: wire.KindHeatAltered,
		Deleted: wire.KindHeatDeleted,
	},
	Round: {
		Added:   wire.KindRoundAdded,
		Altered: wire.KindRoundAltered,
		Deleted: wire.KindRoundDeleted,
	},
	RaceClass: {
		Added:   wire.KindClassAdded,
		Altered: wire.KindClassAltered,
		Deleted: wire.KindClassDeleted,
	},
	RaceEvent: {
		Added:   wire.KindEventAdded,
		Altered: wire.KindEventAltered,
		Deleted: wire.KindEventDeleted,
	},
}

// Broadcaster is the outbound side of the sync channel.
type Broadcaster interface {
	Publish(env *wire.Envelope, required auth.Permission)
}

type (
	// SyncChannel wraps change notifications into envelopes and
	// submits them to the broadcaster. No validation of entity content
	// happens here, that is the persistence collaborator's job.
	// Entity sync broadcasts are unrestricted.
	SyncChannel struct {
		bcst Broadcaster
		l    *log.Logger
	}
	Option func(*SyncChannel)
)

func WithLogger(arg *log.Logger) Option {
	return func(s *SyncChannel) {
		s.l = arg
	}
}

func NewSyncChannel(bcst Broadcaster, opts ...Option) *SyncChannel {
	ret := &SyncChannel{
		bcst: bcst,
		l:    log.Default().Named("entity.sync"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Notify wraps a single change notification into exactly the envelope
// shape matching its entity kind and operation and publishes it.
func (s *SyncChannel) Notify(kind EntityKind, op ChangeOp, id uint32) error {
	wireKind, ok := eventKinds[kind][op]
	if !ok {
		return fmt.Errorf("no event kind for %s/%s", kind, op)
	}
	env := wire.NewEnvelope(wireKind)
	switch kind {
	case Pilot:
		env.Pilot = &wire.PilotRef{PilotID: id}
	case Heat:
		env.Heat = &wire.HeatRef{HeatID: id}
	case Round:
		env.Round = &wire.RoundRef{RoundID: id}
	case RaceClass:
		env.Class = &wire.ClassRef{ClassID: id}
	case RaceEvent:
		env.Event = &wire.EventRef{EventID: id}
	}
	s.bcst.Publish(env, auth.PermNone)
	s.l.Debug("entity change published",
		log.Stringer("entity", kind),
		log.Stringer("op", op),
		log.Uint32("id", id))
	return nil
}

func (s *SyncChannel) PilotAdded(id uint32) error   { return s.Notify(Pilot, Added, id) }
func (s *SyncChannel) PilotAltered(id uint32) error { return s.Notify(Pilot, Altered, id) }
func (s *SyncChannel) PilotDeleted(id uint32) error { return s.Notify(Pilot, Deleted, id) }
