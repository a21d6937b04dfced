package wire

import (
	"github.com/google/uuid"
)

// EnvelopeVersion is the current wire format version.
const EnvelopeVersion = 1

type (
	// PilotRef identifies a pilot in an entity sync notification.
	// Clients fetch the entity body separately, notifications carry
	// the id only.
	PilotRef struct {
		PilotID uint32 `cbor:"pilot_id"`
	}
	HeatRef struct {
		HeatID uint32 `cbor:"heat_id"`
	}
	RoundRef struct {
		RoundID uint32 `cbor:"round_id"`
	}
	ClassRef struct {
		ClassID uint32 `cbor:"class_id"`
	}
	EventRef struct {
		EventID uint32 `cbor:"event_id"`
	}
)

// Envelope is the single wire-level wrapper multiplexing all event
// types over one connection. Exactly one payload variant (or none,
// for payload-less kinds) is populated, matching Kind. The
// correlation id is caller supplied and used by receivers for
// deduplication, not for ordering. Envelopes are immutable once
// constructed.
type Envelope struct {
	Version       uint8     `cbor:"v"`
	CorrelationID uuid.UUID `cbor:"cid"`
	Kind          Kind      `cbor:"kind"`

	Pilot *PilotRef `cbor:"pilot,omitempty"`
	Heat  *HeatRef  `cbor:"heat,omitempty"`
	Round *RoundRef `cbor:"round,omitempty"`
	Class *ClassRef `cbor:"class,omitempty"`
	Event *EventRef `cbor:"event,omitempty"`
}

// NewEnvelope creates an envelope with a fresh random correlation id.
func NewEnvelope(kind Kind) *Envelope {
	return NewEnvelopeWithID(kind, uuid.New())
}

// NewEnvelopeWithID creates an envelope with a caller supplied
// correlation id (used when echoing client messages).
func NewEnvelopeWithID(kind Kind, correlationID uuid.UUID) *Envelope {
	return &Envelope{
		Version:       EnvelopeVersion,
		CorrelationID: correlationID,
		Kind:          kind,
	}
}

type payloadSlot int

const (
	slotNone payloadSlot = iota
	slotPilot
	slotHeat
	slotRound
	slotClass
	slotEvent
)

var kindPayloads = map[Kind]payloadSlot{
	KindPilotAdded:   slotPilot,
	KindPilotAltered: slotPilot,
	KindPilotDeleted: slotPilot,
	KindHeatAdded:    slotHeat,
	KindHeatAltered:  slotHeat,
	KindHeatDeleted:  slotHeat,
	KindRoundAdded:   slotRound,
	KindRoundAltered: slotRound,
	KindRoundDeleted: slotRound,
	KindClassAdded:   slotClass,
	KindClassAltered: slotClass,
	KindClassDeleted: slotClass,
	KindEventAdded:   slotEvent,
	KindEventAltered: slotEvent,
	KindEventDeleted: slotEvent,
}

func (e *Envelope) populatedSlots() []payloadSlot {
	var ret []payloadSlot
	if e.Pilot != nil {
		ret = append(ret, slotPilot)
	}
	if e.Heat != nil {
		ret = append(ret, slotHeat)
	}
	if e.Round != nil {
		ret = append(ret, slotRound)
	}
	if e.Class != nil {
		ret = append(ret, slotClass)
	}
	if e.Event != nil {
		ret = append(ret, slotEvent)
	}
	return ret
}

// Validate checks the kind/payload agreement. Envelopes with unknown
// kinds pass (receivers ignore them), known kinds must carry exactly
// the payload variant belonging to the kind.
func (e *Envelope) Validate() error {
	// kind zero means the field was never set
	if e.Kind == KindUnspecified {
		return ErrSchemaViolation
	}
	if !e.Kind.Known() {
		return nil
	}
	populated := e.populatedSlots()
	want := kindPayloads[e.Kind]
	if want == slotNone {
		if len(populated) != 0 {
			return ErrSchemaViolation
		}
		return nil
	}
	if len(populated) != 1 || populated[0] != want {
		return ErrSchemaViolation
	}
	return nil
}
