// Package bridgecfg defines the declarative configuration of the bridge:
// which surface device to open, which protocol interface to speak, and the
// mapping table that is expanded into the control interpreter.
package bridgecfg

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Config is the root of the bridge configuration file.
type Config struct {
	Surface   SurfaceConfig   `json:"surface"`
	Interface InterfaceConfig `json:"interface"`
	Mappings  []Mapping       `json:"mappings"`
}

// SurfaceConfig selects the hardware surface and its init behavior.
type SurfaceConfig struct {
	VendorID  uint16 `json:"vendorId"`
	ProductID uint16 `json:"productId"`
	Interface int    `json:"interface"`

	// Init packets are written to the device right after it is opened.
	// When empty, a single reset packet is written.
	Init []HexBytes `json:"init,omitempty"`
}

// InterfaceConfig chooses the protocol side of the bridge. Exactly one of
// OSC and MIDI must be set.
type InterfaceConfig struct {
	OSC  *OSCConfig  `json:"osc,omitempty"`
	MIDI *MIDIConfig `json:"midi,omitempty"`
}

// OSCConfig is the UDP address triplet of the OSC interface.
type OSCConfig struct {
	// ListenAddr is the local bind address of the sending socket.
	ListenAddr string `json:"listenAddr"`
	// SendAddr is the destination for outgoing messages.
	SendAddr string `json:"sendAddr"`
	// ReceiveAddr is the local bind address for incoming messages.
	ReceiveAddr string `json:"receiveAddr"`
}

// MIDIConfig selects the MIDI ports of the MIDI interface. Ports are matched
// by exact name first, then by decimal index. With Virtual set, the bridge
// creates its own ports instead and PortIn/PortOut are ignored.
type MIDIConfig struct {
	PortIn     string `json:"portIn,omitempty"`
	PortOut    string `json:"portOut,omitempty"`
	Virtual    bool   `json:"virtual,omitempty"`
	ClientName string `json:"clientName,omitempty"`
}

func (c Config) Validate() error {
	if c.Surface.VendorID == 0 && c.Surface.ProductID == 0 {
		return fmt.Errorf("surface: vendorId and productId are required")
	}
	if (c.Interface.OSC == nil) == (c.Interface.MIDI == nil) {
		return fmt.Errorf("interface: exactly one of osc and midi must be configured")
	}
	if osc := c.Interface.OSC; osc != nil {
		if osc.ListenAddr == "" || osc.SendAddr == "" || osc.ReceiveAddr == "" {
			return fmt.Errorf("interface.osc: listenAddr, sendAddr and receiveAddr are required")
		}
	}
	if m := c.Interface.MIDI; m != nil && !m.Virtual && m.PortIn == "" && m.PortOut == "" {
		return fmt.Errorf("interface.midi: portIn, portOut or virtual is required")
	}
	if len(c.Mappings) == 0 {
		return fmt.Errorf("mappings: at least one mapping is required")
	}
	return nil
}

// HexBytes is a packet of raw bytes written as a hex string, e.g. "b0 00 00".
type HexBytes []byte

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return fmt.Errorf("invalid hex packet %q: %w", s, err)
	}
	*h = b
	return nil
}
