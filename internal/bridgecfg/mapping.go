package bridgecfg

import (
	"strconv"
	"strings"
)

// CtrlKind is the behavioral category of a control on the surface.
type CtrlKind string

const (
	CtrlKindOnOff    CtrlKind = "on-off"
	CtrlKindEightBit CtrlKind = "eight-bit"
	CtrlKindRelative CtrlKind = "relative"
)

// OnOffMode selects how an on-off control translates presses into state.
type OnOffMode string

const (
	OnOffModeRaw       OnOffMode = "raw"
	OnOffModeMomentary OnOffMode = "momentary"
	OnOffModeToggle    OnOffMode = "toggle"
)

// RelativeMode selects how a relative control translates encoder deltas.
type RelativeMode string

const (
	RelativeModeRaw        RelativeMode = "raw"
	RelativeModeAccumulate RelativeMode = "accumulate"
)

// MidiKind is the MIDI message family a control is bound to.
type MidiKind string

const (
	MidiKindCC   MidiKind = "cc"
	MidiKindNote MidiKind = "note"
)

// MidiSpec binds a control to a MIDI channel/number pair.
type MidiSpec struct {
	Channel uint8    `json:"channel"`
	Kind    MidiKind `json:"kind"`
	Num     uint8    `json:"num"`
}

// Placeholder is substituted with the expansion index in templated mapping
// names. Substitution is an exact-substring replacement of the first
// occurrence; there is no escaping.
const Placeholder = "{i}"

// Mapping declares one logical control, or a templated range of Count
// identical controls. A concrete (expanded) mapping has Count == 0.
//
// Numeric fields are offset by the expansion index, so a range keeps the
// relative offsets its author configured. Channel and MIDI kind never shift.
type Mapping struct {
	Name string `json:"name"`

	// Count > 1 makes this a range template expanding into Count controls.
	Count int `json:"count,omitempty"`

	// CtrlInSeq lists the input control numbers of a multi-part value,
	// most significant part first.
	CtrlInSeq []uint8 `json:"ctrlInSequence,omitempty"`
	CtrlIn    *uint8  `json:"ctrlIn,omitempty"`
	CtrlOut   *uint8  `json:"ctrlOut,omitempty"`

	Kind CtrlKind `json:"kind"`
	Mode string   `json:"mode,omitempty"`

	Midi *MidiSpec `json:"midi,omitempty"`
}

// OSCAddr is the OSC address of a concrete mapping.
func (m Mapping) OSCAddr() string {
	return "/" + m.Name
}

// Expand resolves a mapping template into concrete mappings, in ascending
// index order. A non-range mapping yields exactly one element; the
// placeholder is still substituted (with 0) so a lone mapping may use it.
// Numeric overflow when offsetting near 255 is not guarded.
func (m Mapping) Expand() []Mapping {
	count := m.Count
	if count < 1 {
		count = 1
	}
	concrete := make([]Mapping, 0, count)
	for i := 0; i < count; i++ {
		concrete = append(concrete, m.at(i))
	}
	return concrete
}

func (m Mapping) at(i int) Mapping {
	c := m
	c.Count = 0
	c.Name = strings.Replace(m.Name, Placeholder, strconv.Itoa(i), 1)
	if len(m.CtrlInSeq) > 0 {
		c.CtrlInSeq = make([]uint8, len(m.CtrlInSeq))
		for j, num := range m.CtrlInSeq {
			c.CtrlInSeq[j] = num + uint8(i)
		}
	}
	c.CtrlIn = offset(m.CtrlIn, i)
	c.CtrlOut = offset(m.CtrlOut, i)
	if m.Midi != nil {
		midi := *m.Midi
		midi.Num += uint8(i)
		c.Midi = &midi
	}
	return c
}

func offset(num *uint8, i int) *uint8 {
	if num == nil {
		return nil
	}
	n := *num + uint8(i)
	return &n
}
