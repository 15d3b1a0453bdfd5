package interp

import (
	"github.com/scgolang/osc"
	"gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"

	"github.com/ahihi/nocturnal/internal/bridgecfg"
)

// onOffLogic handles buttons and switches. Depending on the mode, a press is
// forwarded as-is (raw), mirrored while held (momentary) or flips the stored
// state (toggle).
type onOffLogic struct {
	log     *zap.Logger
	mode    bridgecfg.OnOffMode
	ctrlIn  *uint8
	ctrlOut *uint8
	midi    *bridgecfg.MidiSpec
	oscAddr string
	state   bool
}

func newOnOffLogic(log *zap.Logger, m bridgecfg.Mapping) (ctrlLogic, bool) {
	if m.Kind != bridgecfg.CtrlKindOnOff {
		return nil, false
	}
	mode := bridgecfg.OnOffMode(m.Mode)
	switch mode {
	case bridgecfg.OnOffModeRaw, bridgecfg.OnOffModeMomentary, bridgecfg.OnOffModeToggle:
	case "":
		mode = bridgecfg.OnOffModeMomentary
	default:
		log.Warn("invalid on-off mode", zap.String("name", m.Name), zap.String("mode", m.Mode))
		return nil, false
	}
	return &onOffLogic{
		log:     log,
		mode:    mode,
		ctrlIn:  m.CtrlIn,
		ctrlOut: m.CtrlOut,
		midi:    m.Midi,
		oscAddr: m.OSCAddr(),
	}, true
}

func onOffVal(state bool) uint8 {
	if state {
		return 0x7f
	}
	return 0x00
}

// update computes the full response for a new state. With remember set the
// state is stored and an unchanged state yields an empty response; without
// it the response is generated unconditionally and nothing is stored.
func (l *onOffLogic) update(newState, remember bool) Response {
	if remember {
		changed := newState != l.state
		l.state = newState
		if !changed {
			return Response{}
		}
	}

	var resp Response
	var oscVal float32
	if newState {
		oscVal = 1.0
	}
	resp.OSC = oscFloat(l.oscAddr, oscVal)

	if l.ctrlOut != nil {
		resp.Ctrl = &CtrlMsg{Num: *l.ctrlOut, Val: onOffVal(newState)}
	}

	if l.midi != nil {
		switch l.midi.Kind {
		case bridgecfg.MidiKindCC:
			resp.MIDI = midi.Message{statusControlChange | l.midi.Channel, l.midi.Num, onOffVal(newState)}
		case bridgecfg.MidiKindNote:
			if newState {
				resp.MIDI = midi.Message{statusNoteOn | l.midi.Channel, l.midi.Num, 0x7f}
			} else {
				resp.MIDI = midi.Message{statusNoteOff | l.midi.Channel, l.midi.Num, 0x00}
			}
		}
	}

	return resp
}

func (l *onOffLogic) HandleCtrl(num, val uint8) (Response, bool) {
	if l.ctrlIn == nil || num != *l.ctrlIn {
		return Response{}, false
	}

	pressed := val != 0x00
	newState := l.state
	sendCtrl := true
	sendOSCMIDI := true
	remember := true

	switch l.mode {
	case bridgecfg.OnOffModeRaw:
		// Stateless: every press and release goes out, nothing is stored
		// and the surface gets no feedback.
		newState = pressed
		sendCtrl = false
		remember = false
	case bridgecfg.OnOffModeMomentary:
		newState = pressed
	case bridgecfg.OnOffModeToggle:
		if pressed {
			newState = !l.state
		} else {
			// Releases are not observable externally.
			sendCtrl = false
			sendOSCMIDI = false
		}
	}

	resp := l.update(newState, remember)
	if !sendCtrl {
		resp.Ctrl = nil
	}
	if !sendOSCMIDI {
		resp.OSC = nil
		resp.MIDI = nil
	}
	return resp, true
}

func (l *onOffLogic) HandleOSC(msg osc.Message) (Response, bool) {
	if l.ctrlOut == nil {
		return Response{}, false
	}
	if msg.Address != l.oscAddr {
		return Response{}, false
	}
	val, ok := readOSCFloat(msg)
	if !ok {
		return Response{}, false
	}
	return Response{Ctrl: l.update(val != 0, true).Ctrl}, true
}

func (l *onOffLogic) HandleMIDI(msg midi.Message) (Response, bool) {
	if l.ctrlOut == nil || l.midi == nil {
		return Response{}, false
	}
	if len(msg) != 3 {
		return Response{}, false
	}

	channel := msg[0] & 0x0f
	status := msg[0] & 0xf0
	if channel != l.midi.Channel {
		return Response{}, false
	}

	var on bool
	switch l.midi.Kind {
	case bridgecfg.MidiKindCC:
		if status != statusControlChange || msg[1] != l.midi.Num {
			return Response{}, false
		}
		on = msg[2] > 0
	case bridgecfg.MidiKindNote:
		if (status != statusNoteOn && status != statusNoteOff) || msg[1] != l.midi.Num {
			return Response{}, false
		}
		// Note-off, and note-on with velocity 0, both mean off.
		on = status == statusNoteOn && msg[2] > 0
	default:
		return Response{}, false
	}

	return Response{Ctrl: l.update(on, true).Ctrl}, true
}
