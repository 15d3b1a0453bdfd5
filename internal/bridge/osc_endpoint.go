package bridge

import (
	"context"
	"fmt"
	"net"

	"github.com/scgolang/osc"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/ahihi/nocturnal/internal/bridgecfg"
	"github.com/ahihi/nocturnal/internal/interp"
)

// OSCEndpoint speaks OSC over two UDP sockets: a connected one for outgoing
// messages and a listening one for incoming messages. Separate sockets let
// the send destination and the receive port be configured independently.
type OSCEndpoint struct {
	log    *zap.Logger
	send   *osc.UDPConn
	recv   *osc.UDPConn
	closed *atomic.Bool
}

func NewOSCEndpoint(log *zap.Logger, cfg bridgecfg.OSCConfig) (*OSCEndpoint, error) {
	laddr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid listen address %q: %w", cfg.ListenAddr, err)
	}
	raddr, err := net.ResolveUDPAddr("udp", cfg.SendAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid send address %q: %w", cfg.SendAddr, err)
	}
	send, err := osc.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, fmt.Errorf("failed to open OSC send socket: %w", err)
	}
	recvAddr, err := net.ResolveUDPAddr("udp", cfg.ReceiveAddr)
	if err != nil {
		send.Close()
		return nil, fmt.Errorf("invalid receive address %q: %w", cfg.ReceiveAddr, err)
	}
	recv, err := osc.ListenUDP("udp", recvAddr)
	if err != nil {
		send.Close()
		return nil, fmt.Errorf("failed to open OSC receive socket: %w", err)
	}
	log.Info("OSC endpoint ready",
		zap.String("send", raddr.String()),
		zap.String("receive", recvAddr.String()))
	return &OSCEndpoint{
		log:    log,
		send:   send,
		recv:   recv,
		closed: atomic.NewBool(false),
	}, nil
}

func (e *OSCEndpoint) Run(ctx context.Context, sink EndpointSink) error {
	go func() {
		<-ctx.Done()
		e.closed.Store(true)
		e.recv.Close()
		e.send.Close()
	}()
	err := e.recv.Serve(1, oscDispatcher{log: e.log, sink: sink})
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("OSC receiver failed: %w", err)
}

func (e *OSCEndpoint) Send(resp interp.Response) error {
	if resp.OSC == nil || e.closed.Load() {
		return nil
	}
	if err := e.send.Send(*resp.OSC); err != nil {
		return fmt.Errorf("failed to send OSC message %s: %w", resp.OSC.Address, err)
	}
	return nil
}

// oscDispatcher hands every incoming message to the sink regardless of
// address. Address matching happens in the interpreter, which knows the
// mapping table; the wire layer stays mapping-agnostic.
type oscDispatcher struct {
	log  *zap.Logger
	sink EndpointSink
}

func (d oscDispatcher) Invoke(msg osc.Message, exactMatch bool) error {
	d.sink.HandleOSC(msg)
	return nil
}

func (d oscDispatcher) Dispatch(bundle osc.Bundle, exactMatch bool) error {
	for _, p := range bundle.Packets {
		switch pkt := p.(type) {
		case osc.Message:
			d.sink.HandleOSC(pkt)
		case osc.Bundle:
			if err := d.Dispatch(pkt, exactMatch); err != nil {
				return err
			}
		default:
			d.log.Warn("ignoring unknown OSC packet type")
		}
	}
	return nil
}
