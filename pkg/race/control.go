package race

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fpvtiming/racehub/log"
	"github.com/fpvtiming/racehub/pkg/auth"
	"github.com/fpvtiming/racehub/pkg/wire"
)

// ErrIllegalTransition is returned when a transition is requested
// from a phase it is not defined for. The phase stays unchanged and
// nothing is broadcast.
var ErrIllegalTransition = errors.New("illegal race-control transition")

// Broadcaster is the outbound side of the control. Publish must not
// block on individual subscribers.
type Broadcaster interface {
	Publish(env *wire.Envelope, required auth.Permission)
}

// Transition identifies a requested race-control transition.
type Transition int

const (
	TransitionSchedule Transition = iota
	TransitionStage
	TransitionStart
	TransitionPause
	TransitionResume
	TransitionStop
	TransitionFinish
)

var transitionNames = map[Transition]string{
	TransitionSchedule: "schedule",
	TransitionStage:    "stage",
	TransitionStart:    "start",
	TransitionPause:    "pause",
	TransitionResume:   "resume",
	TransitionStop:     "stop",
	TransitionFinish:   "finish",
}

func (t Transition) String() string { return transitionNames[t] }

var transitionKinds = map[Transition]wire.Kind{
	TransitionSchedule: wire.KindRaceScheduled,
	TransitionStage:    wire.KindRaceStaged,
	TransitionStart:    wire.KindRaceStarted,
	TransitionPause:    wire.KindRacePaused,
	TransitionResume:   wire.KindRaceResumed,
	TransitionStop:     wire.KindRaceStopped,
	TransitionFinish:   wire.KindRaceFinished,
}

// transitions is the legality table. A (phase, transition) pair not
// listed here fails with ErrIllegalTransition.
var transitions = map[Phase]map[Transition]Phase{
	PhaseIdle: {
		TransitionSchedule: PhaseScheduled,
	},
	PhaseScheduled: {
		TransitionStage: PhaseStaged,
	},
	PhaseStaged: {
		TransitionStart: PhaseRunning,
	},
	PhaseRunning: {
		TransitionPause:  PhasePaused,
		TransitionStop:   PhaseStopped,
		TransitionFinish: PhaseFinished,
	},
	PhasePaused: {
		TransitionResume: PhaseRunning,
		TransitionStop:   PhaseStopped,
	},
	PhaseStopped: {
		TransitionSchedule: PhaseScheduled,
	},
	PhaseFinished: {
		TransitionSchedule: PhaseScheduled,
	},
}

type (
	// Control owns the single authoritative race-control phase of the
	// active race-timing event. Concurrent transition requests are
	// applied in submission order, losers fail with
	// ErrIllegalTransition. A successful transition updates the phase,
	// builds the matching envelope and hands it to the broadcaster
	// before returning.
	Control struct {
		mu    sync.Mutex
		phase Phase
		bcst  Broadcaster
		l     *log.Logger
	}
	Option func(*Control)
)

func WithLogger(arg *log.Logger) Option {
	return func(c *Control) {
		c.l = arg
	}
}

func WithInitialPhase(arg Phase) Option {
	return func(c *Control) {
		c.phase = arg
	}
}

func NewControl(bcst Broadcaster, opts ...Option) *Control {
	ret := &Control{
		phase: PhaseIdle,
		bcst:  bcst,
		l:     log.Default().Named("race.control"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Phase returns a snapshot of the current phase.
func (c *Control) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Apply requests a transition. Race lifecycle broadcasts are
// unrestricted, every subscriber receives them.
func (c *Control) Apply(t Transition) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, ok := transitions[c.phase][t]
	if !ok {
		c.l.Debug("transition rejected",
			log.Stringer("transition", t), log.Stringer("phase", c.phase))
		return fmt.Errorf("%w: cannot %s from %s", ErrIllegalTransition, t, c.phase)
	}
	prev := c.phase
	c.phase = next
	// publish while holding the lock: the broadcaster must see
	// transitions in the order they were applied
	c.bcst.Publish(wire.NewEnvelope(transitionKinds[t]), auth.PermNone)
	c.l.Info("race-control transition",
		log.Stringer("from", prev),
		log.Stringer("to", next),
		log.Stringer("transition", t))
	return nil
}

func (c *Control) Schedule() error { return c.Apply(TransitionSchedule) }
func (c *Control) Stage() error    { return c.Apply(TransitionStage) }
func (c *Control) Start() error    { return c.Apply(TransitionStart) }
func (c *Control) Pause() error    { return c.Apply(TransitionPause) }
func (c *Control) Resume() error   { return c.Apply(TransitionResume) }
func (c *Control) Stop() error     { return c.Apply(TransitionStop) }
func (c *Control) Finish() error   { return c.Apply(TransitionFinish) }
