package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/scgolang/osc"
	"gitlab.com/gomidi/midi/v2"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ahihi/nocturnal/internal/bridgecfg"
	"github.com/ahihi/nocturnal/internal/configsvc"
	"github.com/ahihi/nocturnal/internal/interp"
	"github.com/ahihi/nocturnal/internal/surfacesvc"
)

const (
	surfaceBackend   = "hidraw"
	readTimeout      = 1 * time.Second
	openRetryTimeout = 3 * time.Second
)

// defaultInit resets every control value on the surface. Written when the
// configuration does not specify its own init packets.
var defaultInit = []bridgecfg.HexBytes{{0xb0, 0x00, 0x00}}

// Bridge ties one surface device to one protocol endpoint through the
// control interpreter. It survives surface unplug/replug; endpoint failures
// are fatal.
type Bridge struct {
	log        *zap.Logger
	configPath string
	configSvc  *configsvc.Service
	surfaceSvc *surfacesvc.Service
	ready      chan struct{}

	// interpreter is swapped wholesale on config reload; I/O loops load it
	// per event.
	interpreter *atomic.Pointer[interp.Interpreter]
	endpoint    Endpoint
	// queue is the write queue of the current device session, nil while no
	// device is attached.
	queue *atomic.Pointer[writeQueue]
}

func New(log *zap.Logger, configSvc *configsvc.Service, surfaceSvc *surfacesvc.Service, configPath string) *Bridge {
	return &Bridge{
		log:         log,
		configPath:  configPath,
		configSvc:   configSvc,
		surfaceSvc:  surfaceSvc,
		ready:       make(chan struct{}),
		interpreter: atomic.NewPointer[interp.Interpreter](nil),
		queue:       atomic.NewPointer[writeQueue](nil),
	}
}

func (b *Bridge) Ready() <-chan struct{} {
	return b.ready
}

func (b *Bridge) Start(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-b.configSvc.Ready():
	}
	select {
	case <-ctx.Done():
		return nil
	case <-b.surfaceSvc.Ready():
	}

	cfg, err := configsvc.Register(b.configSvc, b.configPath, bridgecfg.Config{}, b.onConfigChange)
	if err != nil {
		return fmt.Errorf("failed to load bridge config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid bridge config: %w", err)
	}
	it := interp.New(b.log.Named("interp"), cfg.Mappings)
	b.interpreter.Store(it)
	b.log.Info("mappings loaded", zap.Int("controls", it.Len()))

	endpoint, err := b.newEndpoint(cfg.Interface)
	if err != nil {
		return err
	}
	b.endpoint = endpoint

	addr := surfacesvc.Address{
		VendorID:  cfg.Surface.VendorID,
		ProductID: cfg.Surface.ProductID,
		Interface: cfg.Surface.Interface,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return endpoint.Run(gctx, b)
	})
	g.Go(func() error {
		return b.runDevice(gctx, addr, cfg.Surface.Init)
	})
	close(b.ready)
	b.log.Info("Bridge started", zap.String("surface", addr.String()))
	return g.Wait()
}

func (b *Bridge) newEndpoint(cfg bridgecfg.InterfaceConfig) (Endpoint, error) {
	switch {
	case cfg.OSC != nil:
		return NewOSCEndpoint(b.log.Named("osc"), *cfg.OSC)
	case cfg.MIDI != nil:
		return NewMIDIEndpoint(b.log.Named("midi"), *cfg.MIDI)
	}
	return nil, fmt.Errorf("no interface configured")
}

// onConfigChange applies mapping changes live. Surface and interface changes
// require a restart and are deliberately not picked up here.
func (b *Bridge) onConfigChange(cfg bridgecfg.Config, err error) {
	if err != nil {
		b.log.Error("failed to reload bridge config", zap.Error(err))
		return
	}
	if err := cfg.Validate(); err != nil {
		b.log.Error("ignoring invalid bridge config", zap.Error(err))
		return
	}
	it := interp.New(b.log.Named("interp"), cfg.Mappings)
	b.interpreter.Store(it)
	b.log.Info("mappings reloaded", zap.Int("controls", it.Len()))
}

// runDevice keeps a device session alive for the configured surface,
// reopening it whenever it disappears and comes back.
func (b *Bridge) runDevice(ctx context.Context, addr surfacesvc.Address, init []bridgecfg.HexBytes) error {
	for {
		if err := b.waitConnected(ctx, addr); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		dev, err := b.surfaceSvc.Open(surfaceBackend, addr)
		if err != nil {
			b.log.Error("failed to open surface", zap.String("addr", addr.String()), zap.Error(err))
			t := time.NewTimer(openRetryTimeout)
			select {
			case <-ctx.Done():
				if !t.Stop() {
					<-t.C
				}
				return nil
			case <-t.C:
			}
			continue
		}
		b.log.Info("surface attached", zap.String("addr", addr.String()))
		err = b.session(ctx, dev, init)
		dev.Close()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			b.log.Error("surface session ended", zap.Error(err))
		}
	}
}

func (b *Bridge) waitConnected(ctx context.Context, addr surfacesvc.Address) error {
	if b.surfaceSvc.IsConnected(addr) {
		return nil
	}
	b.log.Info("waiting for surface", zap.String("addr", addr.String()))
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch := b.surfaceSvc.SubscribeDevice(subCtx, addr)
	// The device may have connected between the check and the subscription.
	if b.surfaceSvc.IsConnected(addr) {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if msg.Key.Type == surfacesvc.DeviceConnected {
				return nil
			}
		}
	}
}

// session owns one open device: it writes the init packets, then runs the
// read loop and the write loop until the context is canceled or the device
// fails.
func (b *Bridge) session(ctx context.Context, dev surfacesvc.Device, init []bridgecfg.HexBytes) error {
	packets := init
	if len(packets) == 0 {
		packets = defaultInit
	}
	for _, p := range packets {
		if _, err := dev.Write(p); err != nil {
			return fmt.Errorf("failed to write init packet: %w", err)
		}
	}

	queue := newWriteQueue()
	b.queue.Store(queue)
	defer b.queue.Store(nil)

	g, sctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-sctx.Done()
		queue.Close()
		return nil
	})
	g.Go(func() error {
		return b.readLoop(sctx, dev)
	})
	g.Go(func() error {
		return b.writeLoop(dev, queue)
	})
	return g.Wait()
}

func (b *Bridge) readLoop(ctx context.Context, dev surfacesvc.Device) error {
	buf := make([]byte, 64)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := dev.Read(buf, readTimeout)
		if err != nil {
			return fmt.Errorf("surface read failed: %w", err)
		}
		if n == 0 {
			continue
		}
		for _, ev := range surfacesvc.ParseReport(buf[:n]) {
			b.handleCtrl(ev)
		}
	}
}

func (b *Bridge) writeLoop(dev surfacesvc.Device, queue *writeQueue) error {
	for {
		p, ok := queue.Pop()
		if !ok {
			return nil
		}
		if _, err := dev.Write(p); err != nil {
			return fmt.Errorf("surface write failed: %w", err)
		}
	}
}

func (b *Bridge) handleCtrl(ev surfacesvc.CtrlEvent) {
	resp, ok := b.interpreter.Load().HandleCtrl(ev.Num, ev.Val)
	if !ok {
		b.log.Warn("unmapped control", zap.Uint8("num", ev.Num), zap.Uint8("val", ev.Val))
		return
	}
	if err := b.endpoint.Send(resp); err != nil {
		b.log.Error("failed to send response", zap.Error(err))
	}
	if resp.Ctrl != nil {
		b.enqueueCtrl(*resp.Ctrl)
	}
}

// HandleOSC feeds an inbound OSC message through the interpreter. Only the
// surface feedback part of the response is used; inbound protocol traffic is
// never echoed back out.
func (b *Bridge) HandleOSC(msg osc.Message) {
	resp, ok := b.interpreter.Load().HandleOSC(msg)
	if !ok {
		b.log.Warn("unhandled OSC message", zap.String("address", msg.Address))
		return
	}
	if resp.Ctrl != nil {
		b.enqueueCtrl(*resp.Ctrl)
	}
}

func (b *Bridge) HandleMIDI(msg midi.Message) {
	resp, ok := b.interpreter.Load().HandleMIDI(msg)
	if !ok {
		b.log.Warn("unhandled MIDI message", zap.Stringer("msg", msg))
		return
	}
	if resp.Ctrl != nil {
		b.enqueueCtrl(*resp.Ctrl)
	}
}

func (b *Bridge) enqueueCtrl(msg interp.CtrlMsg) {
	q := b.queue.Load()
	if q == nil {
		b.log.Debug("surface not attached, dropping feedback", zap.Uint8("num", msg.Num))
		return
	}
	q.Push(msg.Bytes())
}
