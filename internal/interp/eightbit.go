package interp

import (
	"github.com/scgolang/osc"
	"gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"

	"github.com/ahihi/nocturnal/internal/bridgecfg"
)

// eightBitLogic assembles an 8-bit absolute value from two reads: a 7-bit
// high part and a low part contributing the least significant bit. Faders on
// the surface report this way because a single report byte only carries 7
// bits.
type eightBitLogic struct {
	log      *zap.Logger
	ctrlInHi uint8
	ctrlInLo uint8
	midi     *bridgecfg.MidiSpec
	oscAddr  string
	state    [2]uint8
}

func newEightBitLogic(log *zap.Logger, m bridgecfg.Mapping) (ctrlLogic, bool) {
	if m.Kind != bridgecfg.CtrlKindEightBit {
		return nil, false
	}
	if len(m.CtrlInSeq) < 2 {
		log.Warn("eight-bit mapping needs a two-element input sequence", zap.String("name", m.Name))
		return nil, false
	}
	return &eightBitLogic{
		log:      log,
		ctrlInHi: m.CtrlInSeq[0],
		ctrlInLo: m.CtrlInSeq[1],
		midi:     m.Midi,
		oscAddr:  m.OSCAddr(),
	}, true
}

func (l *eightBitLogic) HandleCtrl(num, val uint8) (Response, bool) {
	if num == l.ctrlInHi {
		// High part alone is incomplete; consume the event silently.
		l.state[0] = val
		return Response{}, true
	}

	if num != l.ctrlInLo {
		return Response{}, false
	}
	l.state[1] = val

	var lo uint8
	if l.state[1] != 0x00 {
		lo = 1
	}
	val8 := l.state[0]<<1 | lo

	resp := Response{
		OSC: oscFloat(l.oscAddr, float32(val8)/255.0),
	}
	if l.midi != nil {
		switch l.midi.Kind {
		case bridgecfg.MidiKindCC:
			resp.MIDI = midi.Message{statusControlChange | l.midi.Channel, l.midi.Num, val8 >> 1}
		case bridgecfg.MidiKindNote:
			l.log.Warn("note MIDI binding is not supported for eight-bit controls", zap.String("addr", l.oscAddr))
		}
	}
	return resp, true
}

// Inbound protocol events are not supported for eight-bit controls: the
// surface has no absolute-position feedback for them. This asymmetry is the
// contract, not an omission.
func (l *eightBitLogic) HandleOSC(msg osc.Message) (Response, bool) {
	return Response{}, false
}

func (l *eightBitLogic) HandleMIDI(msg midi.Message) (Response, bool) {
	return Response{}, false
}
