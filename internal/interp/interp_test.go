package interp

import (
	"testing"

	"github.com/scgolang/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"

	"github.com/ahihi/nocturnal/internal/bridgecfg"
)

func ptr[T any](v T) *T {
	return &v
}

func oscArg(t *testing.T, msg *osc.Message) float32 {
	t.Helper()
	require.NotNil(t, msg)
	require.Len(t, msg.Arguments, 1)
	val, err := msg.Arguments[0].ReadFloat32()
	require.NoError(t, err)
	return val
}

func oscFloatMsg(addr string, val float32) osc.Message {
	return osc.Message{
		Address:   addr,
		Arguments: osc.Arguments{osc.Float(val)},
	}
}

func TestToggleButton(t *testing.T) {
	in := New(zap.NewNop(), []bridgecfg.Mapping{{
		Name:    "play",
		Kind:    bridgecfg.CtrlKindOnOff,
		Mode:    "toggle",
		CtrlIn:  ptr(uint8(0x10)),
		CtrlOut: ptr(uint8(0x10)),
		Midi:    &bridgecfg.MidiSpec{Channel: 0, Kind: bridgecfg.MidiKindCC, Num: 0x10},
	}})
	require.Equal(t, 1, in.Len())

	resp, ok := in.HandleCtrl(0x10, 0x7f)
	require.True(t, ok)
	assert.Equal(t, &CtrlMsg{Num: 0x10, Val: 0x7f}, resp.Ctrl)
	assert.Equal(t, "/play", resp.OSC.Address)
	assert.Equal(t, float32(1.0), oscArg(t, resp.OSC))
	assert.Equal(t, midi.Message{0xb0, 0x10, 0x7f}, resp.MIDI)

	// Releasing a toggle is not observable.
	resp, ok = in.HandleCtrl(0x10, 0x00)
	require.True(t, ok)
	assert.True(t, resp.Empty())

	resp, ok = in.HandleCtrl(0x10, 0x7f)
	require.True(t, ok)
	assert.Equal(t, &CtrlMsg{Num: 0x10, Val: 0x00}, resp.Ctrl)
	assert.Equal(t, float32(0.0), oscArg(t, resp.OSC))
	assert.Equal(t, midi.Message{0xb0, 0x10, 0x00}, resp.MIDI)
}

func TestMomentaryButton(t *testing.T) {
	in := New(zap.NewNop(), []bridgecfg.Mapping{{
		Name:    "shift",
		Kind:    bridgecfg.CtrlKindOnOff,
		CtrlIn:  ptr(uint8(0x11)),
		CtrlOut: ptr(uint8(0x11)),
		Midi:    &bridgecfg.MidiSpec{Channel: 2, Kind: bridgecfg.MidiKindNote, Num: 0x22},
	}})

	resp, ok := in.HandleCtrl(0x11, 0x7f)
	require.True(t, ok)
	assert.Equal(t, &CtrlMsg{Num: 0x11, Val: 0x7f}, resp.Ctrl)
	assert.Equal(t, float32(1.0), oscArg(t, resp.OSC))
	assert.Equal(t, midi.Message{0x92, 0x22, 0x7f}, resp.MIDI)

	resp, ok = in.HandleCtrl(0x11, 0x00)
	require.True(t, ok)
	assert.Equal(t, &CtrlMsg{Num: 0x11, Val: 0x00}, resp.Ctrl)
	assert.Equal(t, float32(0.0), oscArg(t, resp.OSC))
	assert.Equal(t, midi.Message{0x82, 0x22, 0x00}, resp.MIDI)

	// Repeated releases change nothing.
	resp, ok = in.HandleCtrl(0x11, 0x00)
	require.True(t, ok)
	assert.True(t, resp.Empty())
}

func TestRawButton(t *testing.T) {
	in := New(zap.NewNop(), []bridgecfg.Mapping{{
		Name:    "pad",
		Kind:    bridgecfg.CtrlKindOnOff,
		Mode:    "raw",
		CtrlIn:  ptr(uint8(0x12)),
		CtrlOut: ptr(uint8(0x12)),
	}})

	// Raw mode never produces surface feedback and never deduplicates.
	for i := 0; i < 2; i++ {
		resp, ok := in.HandleCtrl(0x12, 0x7f)
		require.True(t, ok)
		assert.Nil(t, resp.Ctrl)
		assert.Equal(t, float32(1.0), oscArg(t, resp.OSC))
	}
	resp, ok := in.HandleCtrl(0x12, 0x00)
	require.True(t, ok)
	assert.Equal(t, float32(0.0), oscArg(t, resp.OSC))
}

func TestButtonInboundOSC(t *testing.T) {
	in := New(zap.NewNop(), []bridgecfg.Mapping{{
		Name:    "mute",
		Kind:    bridgecfg.CtrlKindOnOff,
		Mode:    "toggle",
		CtrlIn:  ptr(uint8(0x13)),
		CtrlOut: ptr(uint8(0x13)),
	}})

	resp, ok := in.HandleOSC(oscFloatMsg("/mute", 1.0))
	require.True(t, ok)
	assert.Equal(t, &CtrlMsg{Num: 0x13, Val: 0x7f}, resp.Ctrl)
	// Inbound events update the surface only, they are never echoed back.
	assert.Nil(t, resp.OSC)
	assert.Nil(t, resp.MIDI)

	// Setting the same state again produces no feedback.
	resp, ok = in.HandleOSC(oscFloatMsg("/mute", 1.0))
	require.True(t, ok)
	assert.Nil(t, resp.Ctrl)

	_, ok = in.HandleOSC(oscFloatMsg("/other", 1.0))
	assert.False(t, ok)
}

func TestButtonInboundMIDI(t *testing.T) {
	in := New(zap.NewNop(), []bridgecfg.Mapping{{
		Name:    "rec",
		Kind:    bridgecfg.CtrlKindOnOff,
		CtrlIn:  ptr(uint8(0x14)),
		CtrlOut: ptr(uint8(0x14)),
		Midi:    &bridgecfg.MidiSpec{Channel: 1, Kind: bridgecfg.MidiKindNote, Num: 0x30},
	}})

	resp, ok := in.HandleMIDI(midi.Message{0x91, 0x30, 0x64})
	require.True(t, ok)
	assert.Equal(t, &CtrlMsg{Num: 0x14, Val: 0x7f}, resp.Ctrl)

	// Note-on with zero velocity means off.
	resp, ok = in.HandleMIDI(midi.Message{0x91, 0x30, 0x00})
	require.True(t, ok)
	assert.Equal(t, &CtrlMsg{Num: 0x14, Val: 0x00}, resp.Ctrl)

	// Wrong channel is not claimed.
	_, ok = in.HandleMIDI(midi.Message{0x92, 0x30, 0x64})
	assert.False(t, ok)
}

func TestEightBitFader(t *testing.T) {
	in := New(zap.NewNop(), []bridgecfg.Mapping{{
		Name:      "fader{i}",
		Kind:      bridgecfg.CtrlKindEightBit,
		CtrlInSeq: []uint8{0x40, 0x60},
		Midi:      &bridgecfg.MidiSpec{Channel: 0, Kind: bridgecfg.MidiKindCC, Num: 7},
	}})
	require.Equal(t, 1, in.Len())

	// The high part alone is consumed without producing output.
	resp, ok := in.HandleCtrl(0x40, 0x40)
	require.True(t, ok)
	assert.True(t, resp.Empty())

	resp, ok = in.HandleCtrl(0x60, 0x01)
	require.True(t, ok)
	assert.Equal(t, "/fader0", resp.OSC.Address)
	assert.InDelta(t, 129.0/255.0, oscArg(t, resp.OSC), 1e-6)
	assert.Equal(t, midi.Message{0xb0, 7, 0x40}, resp.MIDI)

	resp, ok = in.HandleCtrl(0x60, 0x00)
	require.True(t, ok)
	assert.InDelta(t, 128.0/255.0, oscArg(t, resp.OSC), 1e-6)
	assert.Equal(t, midi.Message{0xb0, 7, 0x40}, resp.MIDI)

	// Fader position cannot be driven from the protocol side.
	_, ok = in.HandleOSC(oscFloatMsg("/fader0", 0.5))
	assert.False(t, ok)
	_, ok = in.HandleMIDI(midi.Message{0xb0, 7, 0x40})
	assert.False(t, ok)
}

func TestRelativeAccumulate(t *testing.T) {
	in := New(zap.NewNop(), []bridgecfg.Mapping{{
		Name:    "enc",
		Kind:    bridgecfg.CtrlKindRelative,
		CtrlIn:  ptr(uint8(0x20)),
		CtrlOut: ptr(uint8(0x30)),
		Midi:    &bridgecfg.MidiSpec{Channel: 1, Kind: bridgecfg.MidiKindCC, Num: 10},
	}})

	// +5: value moves but the LED ring does not, so no surface feedback.
	resp, ok := in.HandleCtrl(0x20, 0x05)
	require.True(t, ok)
	assert.Nil(t, resp.Ctrl)
	assert.InDelta(t, 5.0/127.0, oscArg(t, resp.OSC), 1e-6)
	assert.Equal(t, midi.Message{0xb1, 10, 5}, resp.MIDI)

	// +2 crosses into the first LED segment.
	resp, ok = in.HandleCtrl(0x20, 0x02)
	require.True(t, ok)
	assert.Equal(t, &CtrlMsg{Num: 0x30, Val: 7}, resp.Ctrl)
	assert.InDelta(t, 7.0/127.0, oscArg(t, resp.OSC), 1e-6)

	// -1 drops back below the first segment.
	resp, ok = in.HandleCtrl(0x20, 0x7f)
	require.True(t, ok)
	assert.Equal(t, &CtrlMsg{Num: 0x30, Val: 0}, resp.Ctrl)

	// Saturates at the top.
	in.HandleCtrl(0x20, 0x3f)
	resp, ok = in.HandleCtrl(0x20, 0x3f)
	require.True(t, ok)
	assert.InDelta(t, 1.0, oscArg(t, resp.OSC), 1e-6)
	assert.Equal(t, midi.Message{0xb1, 10, 127}, resp.MIDI)

	// Saturated and unchanged: consumed, nothing to emit.
	resp, ok = in.HandleCtrl(0x20, 0x3f)
	require.True(t, ok)
	assert.True(t, resp.Empty())
}

func TestRelativeRaw(t *testing.T) {
	in := New(zap.NewNop(), []bridgecfg.Mapping{{
		Name:   "scrub",
		Kind:   bridgecfg.CtrlKindRelative,
		Mode:   "raw",
		CtrlIn: ptr(uint8(0x21)),
	}})

	resp, ok := in.HandleCtrl(0x21, 0x03)
	require.True(t, ok)
	assert.Equal(t, float32(3.0), oscArg(t, resp.OSC))

	resp, ok = in.HandleCtrl(0x21, 0x7f)
	require.True(t, ok)
	assert.Equal(t, float32(-1.0), oscArg(t, resp.OSC))
	assert.Nil(t, resp.Ctrl)
}

func TestRelativeInbound(t *testing.T) {
	in := New(zap.NewNop(), []bridgecfg.Mapping{{
		Name:    "enc",
		Kind:    bridgecfg.CtrlKindRelative,
		CtrlIn:  ptr(uint8(0x20)),
		CtrlOut: ptr(uint8(0x30)),
		Midi:    &bridgecfg.MidiSpec{Channel: 1, Kind: bridgecfg.MidiKindCC, Num: 10},
	}})

	resp, ok := in.HandleOSC(oscFloatMsg("/enc", 1.0))
	require.True(t, ok)
	assert.Equal(t, &CtrlMsg{Num: 0x30, Val: 117}, resp.Ctrl)
	assert.Nil(t, resp.OSC)

	resp, ok = in.HandleMIDI(midi.Message{0xb1, 10, 64})
	require.True(t, ok)
	assert.Equal(t, &CtrlMsg{Num: 0x30, Val: 62}, resp.Ctrl)
}

func TestFirstMatchWins(t *testing.T) {
	in := New(zap.NewNop(), []bridgecfg.Mapping{
		{
			Name:   "first",
			Kind:   bridgecfg.CtrlKindOnOff,
			Mode:   "raw",
			CtrlIn: ptr(uint8(0x10)),
		},
		{
			Name:   "second",
			Kind:   bridgecfg.CtrlKindOnOff,
			Mode:   "raw",
			CtrlIn: ptr(uint8(0x10)),
		},
	})
	require.Equal(t, 2, in.Len())

	resp, ok := in.HandleCtrl(0x10, 0x7f)
	require.True(t, ok)
	assert.Equal(t, "/first", resp.OSC.Address)
}

func TestUnmappedEvent(t *testing.T) {
	in := New(zap.NewNop(), []bridgecfg.Mapping{{
		Name:   "only",
		Kind:   bridgecfg.CtrlKindOnOff,
		CtrlIn: ptr(uint8(0x10)),
	}})

	_, ok := in.HandleCtrl(0x55, 0x7f)
	assert.False(t, ok)
}

func TestInvalidMappingsDropped(t *testing.T) {
	in := New(zap.NewNop(), []bridgecfg.Mapping{
		{Name: "bogus", Kind: "pedal", CtrlIn: ptr(uint8(0x01))},
		{Name: "badmode", Kind: bridgecfg.CtrlKindOnOff, Mode: "sticky", CtrlIn: ptr(uint8(0x02))},
		{Name: "shortseq", Kind: bridgecfg.CtrlKindEightBit, CtrlInSeq: []uint8{0x40}},
	})
	assert.Equal(t, 0, in.Len())
}

func TestRangeMapping(t *testing.T) {
	in := New(zap.NewNop(), []bridgecfg.Mapping{{
		Name:    "knob{i}",
		Count:   3,
		Kind:    bridgecfg.CtrlKindRelative,
		CtrlIn:  ptr(uint8(0x20)),
		CtrlOut: ptr(uint8(0x50)),
	}})
	require.Equal(t, 3, in.Len())

	resp, ok := in.HandleCtrl(0x22, 0x01)
	require.True(t, ok)
	assert.Equal(t, "/knob2", resp.OSC.Address)
}
