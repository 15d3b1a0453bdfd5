// Package interp implements the control interpretation engine: one stateful
// logic instance per concrete mapping, translating raw surface events into
// OSC/MIDI messages and protocol events back into surface feedback.
package interp

import (
	"sync"

	"github.com/scgolang/osc"
	"gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"

	"github.com/ahihi/nocturnal/internal/bridgecfg"
)

// ctrlLogic interprets events for exactly one control. Each handler returns
// false to decline an event it is not responsible for, letting the engine try
// the next instance. A handled event may still carry an empty response.
type ctrlLogic interface {
	HandleCtrl(num, val uint8) (Response, bool)
	HandleOSC(msg osc.Message) (Response, bool)
	HandleMIDI(msg midi.Message) (Response, bool)
}

// Interpreter owns the ordered list of control logic instances. All entry
// points take the same lock: every handler may mutate per-control state, so
// there is no read-only path.
type Interpreter struct {
	log *zap.Logger

	mu    sync.Mutex
	ctrls []ctrlLogic
}

// constructors are tried in a fixed order for every concrete mapping; each
// control kind is accepted by exactly one of them, so the order is a safety
// net rather than a policy choice.
var constructors = []func(*zap.Logger, bridgecfg.Mapping) (ctrlLogic, bool){
	newOnOffLogic,
	newEightBitLogic,
	newRelativeLogic,
}

// New expands the mapping templates and builds one logic instance per
// concrete mapping. A mapping accepted by no constructor is dropped with a
// warning; the interpreter runs with whatever controls it could build.
func New(log *zap.Logger, mappings []bridgecfg.Mapping) *Interpreter {
	in := &Interpreter{log: log}
	for _, template := range mappings {
		for _, m := range template.Expand() {
			logic, ok := buildLogic(log, m)
			if !ok {
				log.Warn("unhandled mapping definition",
					zap.String("name", m.Name),
					zap.String("kind", string(m.Kind)))
				continue
			}
			log.Debug("added control mapping",
				zap.String("name", m.Name),
				zap.String("kind", string(m.Kind)))
			in.ctrls = append(in.ctrls, logic)
		}
	}
	return in
}

func buildLogic(log *zap.Logger, m bridgecfg.Mapping) (ctrlLogic, bool) {
	for _, construct := range constructors {
		if logic, ok := construct(log, m); ok {
			return logic, true
		}
	}
	return nil, false
}

// Len reports the number of control logic instances.
func (in *Interpreter) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.ctrls)
}

// HandleCtrl interprets one (number, value) pair read from the surface.
// The first instance producing a response wins; remaining instances are not
// consulted. False means no instance claimed the event.
func (in *Interpreter) HandleCtrl(num, val uint8) (Response, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, ctrl := range in.ctrls {
		if resp, ok := ctrl.HandleCtrl(num, val); ok {
			return resp, true
		}
	}
	return Response{}, false
}

// HandleOSC interprets an inbound OSC message. A matching instance updates
// its state and responds with surface feedback only; the message is never
// re-broadcast to the protocol side.
func (in *Interpreter) HandleOSC(msg osc.Message) (Response, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, ctrl := range in.ctrls {
		if resp, ok := ctrl.HandleOSC(msg); ok {
			return resp, true
		}
	}
	return Response{}, false
}

// HandleMIDI interprets an inbound raw MIDI message, surface feedback only.
func (in *Interpreter) HandleMIDI(msg midi.Message) (Response, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, ctrl := range in.ctrls {
		if resp, ok := ctrl.HandleMIDI(msg); ok {
			return resp, true
		}
	}
	return Response{}, false
}
