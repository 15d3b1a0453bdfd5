package interp

import (
	"github.com/scgolang/osc"
	"gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"

	"github.com/ahihi/nocturnal/internal/bridgecfg"
)

// relativeLogic handles incremental encoders. The raw byte is a 7-bit signed
// delta: 0x00-0x3f map to +0..+63, 0x40-0x7f map to -64..-1. Raw mode
// forwards the delta; accumulate mode integrates it into a 0-127 value with
// saturation.
type relativeLogic struct {
	log     *zap.Logger
	mode    bridgecfg.RelativeMode
	ctrlIn  *uint8
	ctrlOut *uint8
	midi    *bridgecfg.MidiSpec
	oscAddr string
	state   uint8
}

func newRelativeLogic(log *zap.Logger, m bridgecfg.Mapping) (ctrlLogic, bool) {
	if m.Kind != bridgecfg.CtrlKindRelative {
		return nil, false
	}
	mode := bridgecfg.RelativeMode(m.Mode)
	switch mode {
	case bridgecfg.RelativeModeRaw, bridgecfg.RelativeModeAccumulate:
	case "":
		mode = bridgecfg.RelativeModeAccumulate
	default:
		log.Warn("invalid relative mode", zap.String("name", m.Name), zap.String("mode", m.Mode))
		return nil, false
	}
	return &relativeLogic{
		log:     log,
		mode:    mode,
		ctrlIn:  m.CtrlIn,
		ctrlOut: m.CtrlOut,
		midi:    m.Midi,
		oscAddr: m.OSCAddr(),
	}, true
}

// encoderLEDVal quantizes a 0-127 value onto the discrete positions of the
// encoder's LED ring, snapping to the start of each segment. Values below 7
// show no LED at all.
func encoderLEDVal(val uint8) uint8 {
	if val < 7 {
		return 0
	}
	return (val-7)/11*11 + 7
}

func decodeDelta(val uint8) int {
	d := int(val)
	if d >= 0x40 {
		d -= 128
	}
	return d
}

func clamp7Bit(val int) uint8 {
	if val < 0 {
		return 0
	}
	if val > 127 {
		return 127
	}
	return uint8(val)
}

// update stores a new accumulated value and builds the response. Surface
// feedback is produced only when the quantized LED segment moves, so a
// changing value does not flood the device with writes that would not be
// visible anyway.
func (l *relativeLogic) update(newState uint8) Response {
	changed := newState != l.state
	ledChanged := encoderLEDVal(newState) != encoderLEDVal(l.state)
	l.state = newState

	if !changed {
		return Response{}
	}

	var resp Response
	if ledChanged && l.ctrlOut != nil {
		resp.Ctrl = &CtrlMsg{Num: *l.ctrlOut, Val: encoderLEDVal(newState)}
	}
	resp.OSC = oscFloat(l.oscAddr, float32(l.state)/127.0)
	if l.midi != nil {
		switch l.midi.Kind {
		case bridgecfg.MidiKindCC:
			resp.MIDI = midi.Message{statusControlChange | l.midi.Channel, l.midi.Num, l.state}
		case bridgecfg.MidiKindNote:
			l.log.Warn("note MIDI binding is not supported for relative controls", zap.String("addr", l.oscAddr))
		}
	}
	return resp
}

func (l *relativeLogic) HandleCtrl(num, val uint8) (Response, bool) {
	if l.ctrlIn == nil || num != *l.ctrlIn {
		return Response{}, false
	}

	delta := decodeDelta(val)
	switch l.mode {
	case bridgecfg.RelativeModeRaw:
		// Raw deltas go out over OSC only; there is no state to feed back.
		return Response{OSC: oscFloat(l.oscAddr, float32(delta))}, true
	default:
		return l.update(clamp7Bit(int(l.state) + delta)), true
	}
}

func (l *relativeLogic) HandleOSC(msg osc.Message) (Response, bool) {
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
	return Response{Ctrl: l.update(floatTo7Bit(val)).Ctrl}, true
}

func (l *relativeLogic) HandleMIDI(msg midi.Message) (Response, bool) {
	if l.ctrlOut == nil || l.midi == nil {
		return Response{}, false
	}
	if len(msg) != 3 {
		return Response{}, false
	}
	if msg[0]&0x0f != l.midi.Channel {
		return Response{}, false
	}
	if msg[0]&0xf0 != statusControlChange {
		return Response{}, false
	}
	if msg[1] != l.midi.Num {
		return Response{}, false
	}
	return Response{Ctrl: l.update(msg[2]).Ctrl}, true
}
