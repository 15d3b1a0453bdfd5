package bridge

import (
	"context"
	"fmt"
	"strconv"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/ahihi/nocturnal/internal/bridgecfg"
	"github.com/ahihi/nocturnal/internal/interp"
)

const defaultClientName = "nocturnal"

// MIDIEndpoint speaks MIDI through rtmidi ports. Ports are either existing
// system ports matched by name or index, or virtual ports created under the
// client name for other software to connect to.
type MIDIEndpoint struct {
	log    *zap.Logger
	drv    *rtmididrv.Driver
	in     drivers.In
	out    drivers.Out
	send   func(midi.Message) error
	closed *atomic.Bool

	recv chan midi.Message
}

func NewMIDIEndpoint(log *zap.Logger, cfg bridgecfg.MIDIConfig) (*MIDIEndpoint, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MIDI driver: %w", err)
	}
	e := &MIDIEndpoint{
		log:    log,
		drv:    drv,
		closed: atomic.NewBool(false),
		recv:   make(chan midi.Message, 128),
	}
	if err := e.openPorts(cfg); err != nil {
		drv.Close()
		return nil, err
	}
	if e.out != nil {
		send, err := midi.SendTo(e.out)
		if err != nil {
			drv.Close()
			return nil, fmt.Errorf("failed to open MIDI output: %w", err)
		}
		e.send = send
	}
	return e, nil
}

func (e *MIDIEndpoint) openPorts(cfg bridgecfg.MIDIConfig) error {
	clientName := cfg.ClientName
	if clientName == "" {
		clientName = defaultClientName
	}
	if cfg.Virtual {
		in, err := e.drv.OpenVirtualIn(clientName)
		if err != nil {
			return fmt.Errorf("failed to create virtual MIDI input: %w", err)
		}
		out, err := e.drv.OpenVirtualOut(clientName)
		if err != nil {
			return fmt.Errorf("failed to create virtual MIDI output: %w", err)
		}
		e.in, e.out = in, out
		e.log.Info("created virtual MIDI ports", zap.String("client", clientName))
		return nil
	}
	if cfg.PortIn != "" {
		ins, err := e.drv.Ins()
		if err != nil {
			return fmt.Errorf("failed to list MIDI inputs: %w", err)
		}
		in, err := findPort(ins, cfg.PortIn)
		if err != nil {
			return fmt.Errorf("input: %w", err)
		}
		e.in = in
		e.log.Info("using MIDI input", zap.String("port", in.String()))
	}
	if cfg.PortOut != "" {
		outs, err := e.drv.Outs()
		if err != nil {
			return fmt.Errorf("failed to list MIDI outputs: %w", err)
		}
		out, err := findPort(outs, cfg.PortOut)
		if err != nil {
			return fmt.Errorf("output: %w", err)
		}
		e.out = out
		e.log.Info("using MIDI output", zap.String("port", out.String()))
	}
	return nil
}

// findPort matches by exact port name first, falling back to a decimal index
// into the port list. Names win so that a port literally named "2" stays
// addressable.
func findPort[P fmt.Stringer](ports []P, spec string) (P, error) {
	var zero P
	for _, p := range ports {
		if p.String() == spec {
			return p, nil
		}
	}
	if idx, err := strconv.Atoi(spec); err == nil && idx >= 0 && idx < len(ports) {
		return ports[idx], nil
	}
	return zero, fmt.Errorf("no MIDI port matching %q", spec)
}

func (e *MIDIEndpoint) Run(ctx context.Context, sink EndpointSink) error {
	var stop func()
	if e.in != nil {
		var err error
		stop, err = midi.ListenTo(e.in, func(msg midi.Message, timestampms int32) {
			// The callback runs on the rtmidi thread and must not block.
			select {
			case e.recv <- msg:
			default:
				e.log.Warn("dropping MIDI message, receive queue full")
			}
		})
		if err != nil {
			return fmt.Errorf("failed to listen on MIDI input: %w", err)
		}
	}
	for {
		select {
		case <-ctx.Done():
			e.closed.Store(true)
			if stop != nil {
				stop()
			}
			e.drv.Close()
			return nil
		case msg := <-e.recv:
			sink.HandleMIDI(msg)
		}
	}
}

func (e *MIDIEndpoint) Send(resp interp.Response) error {
	if resp.MIDI == nil || e.send == nil || e.closed.Load() {
		return nil
	}
	if err := e.send(resp.MIDI); err != nil {
		return fmt.Errorf("failed to send MIDI message: %w", err)
	}
	return nil
}
