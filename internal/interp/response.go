package interp

import (
	"math"

	"github.com/scgolang/osc"
	"gitlab.com/gomidi/midi/v2"
)

// MIDI status bytes, high nibble. The low nibble carries the channel.
const (
	statusNoteOff       = 0x80
	statusNoteOn        = 0x90
	statusControlChange = 0xb0
)

// CtrlMsg is a feedback byte pair driving an LED or indicator on the surface.
type CtrlMsg struct {
	Num uint8
	Val uint8
}

func (c CtrlMsg) Bytes() []byte {
	return []byte{c.Num, c.Val}
}

// Response is the combined result of handling one event. Any subset of the
// three parts may be present; an entirely empty response is valid and means
// the event was consumed with nothing to emit.
type Response struct {
	Ctrl *CtrlMsg
	OSC  *osc.Message
	MIDI midi.Message
}

func (r Response) Empty() bool {
	return r.Ctrl == nil && r.OSC == nil && len(r.MIDI) == 0
}

func oscFloat(addr string, val float32) *osc.Message {
	return &osc.Message{
		Address:   addr,
		Arguments: osc.Arguments{osc.Float(val)},
	}
}

// readOSCFloat extracts the first argument of a message as a float, declining
// messages with no arguments or a non-float first argument.
func readOSCFloat(msg osc.Message) (float32, bool) {
	if len(msg.Arguments) < 1 {
		return 0, false
	}
	val, err := msg.Arguments[0].ReadFloat32()
	if err != nil {
		return 0, false
	}
	return val, true
}

func floatTo7Bit(val float32) uint8 {
	if val < 0 {
		val = 0
	}
	if val > 1 {
		val = 1
	}
	return uint8(math.Round(float64(val) * 127))
}
