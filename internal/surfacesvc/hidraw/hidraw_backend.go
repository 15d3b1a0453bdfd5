// Package hidraw implements the surfacesvc.Backend interface on top of
// hidapi. The surface's vendor protocol rides on plain interrupt transfers,
// which the hidraw node exposes as raw reads and writes.
package hidraw

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sstallion/go-hid"
	"go.uber.org/zap"

	"github.com/ahihi/nocturnal/internal/surfacesvc"
	"github.com/ahihi/nocturnal/pkg/bus"
)

var defaultBackendOptions = backendOptions{
	pollInterval: 1 * time.Second,
}

type backendOptions struct {
	pollInterval time.Duration
}

type Option func(*backendOptions)

func WithPollInterval(d time.Duration) Option {
	return func(o *backendOptions) {
		o.pollInterval = d
	}
}

type Backend struct {
	log     *zap.Logger
	options backendOptions

	devices *xsync.MapOf[surfacesvc.Address, hid.DeviceInfo]
	ready   chan struct{}

	publisher bus.Publisher[surfacesvc.BackendEvent]
}

func NewBackend(log *zap.Logger, opts ...Option) *Backend {
	options := defaultBackendOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Backend{
		log:     log,
		options: options,
		devices: xsync.NewMapOf[surfacesvc.Address, hid.DeviceInfo](),
		ready:   make(chan struct{}),
	}
}

func (b *Backend) Ready() <-chan struct{} {
	return b.ready
}

func (b *Backend) Start(ctx context.Context, publisher bus.Publisher[surfacesvc.BackendEvent]) error {
	if err := hid.Init(); err != nil {
		return fmt.Errorf("failed to initialize hidapi: %w", err)
	}
	b.publisher = publisher

	b.log.Info("Starting hidraw backend")
	if err := b.refreshDevices(ctx); err != nil {
		return fmt.Errorf("failed to enumerate devices: %w", err)
	}
	close(b.ready)
	b.log.Info("hidraw backend started")

	pollTicker := time.NewTicker(b.options.pollInterval)
	defer pollTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pollTicker.C:
			if err := b.refreshDevices(ctx); err != nil {
				b.log.Error("failed to refresh devices", zap.Error(err))
			}
		}
	}
}

func (b *Backend) refreshDevices(ctx context.Context) error {
	current, err := enumerateDevices()
	if err != nil {
		return err
	}
	var disconnected []surfacesvc.Address
	var connected []surfacesvc.BackendDevice
	b.devices.Range(func(addr surfacesvc.Address, info hid.DeviceInfo) bool {
		if _, ok := current[addr]; !ok {
			disconnected = append(disconnected, addr)
			b.devices.Delete(addr)
			return true
		}
		delete(current, addr)
		return true
	})
	for addr, info := range current {
		b.devices.Store(addr, info)
		connected = append(connected, surfacesvc.BackendDevice{
			Addr: addr,
			Name: generateName(info),
		})
	}
	if len(connected) > 0 || len(disconnected) > 0 {
		b.publisher(ctx, surfacesvc.BackendEvent{
			Connected:    connected,
			Disconnected: disconnected,
		})
	}
	return nil
}

func enumerateDevices() (map[surfacesvc.Address]hid.DeviceInfo, error) {
	devices := make(map[surfacesvc.Address]hid.DeviceInfo)
	err := hid.Enumerate(hid.VendorIDAny, hid.ProductIDAny, func(info *hid.DeviceInfo) error {
		addr := surfacesvc.Address{
			VendorID:  info.VendorID,
			ProductID: info.ProductID,
			Interface: info.InterfaceNbr,
		}
		devices[addr] = *info
		return nil
	})
	if err != nil {
		return nil, err
	}
	return devices, nil
}

func generateName(info hid.DeviceInfo) string {
	var parts []string
	if info.MfrStr != "" {
		parts = append(parts, info.MfrStr)
	}
	if info.ProductStr != "" {
		parts = append(parts, info.ProductStr)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%04x:%04x", info.VendorID, info.ProductID)
	}
	return strings.Join(parts, " ")
}

func (b *Backend) Open(addr surfacesvc.Address) (surfacesvc.Device, error) {
	info, ok := b.devices.Load(addr)
	if !ok {
		return nil, surfacesvc.ErrDeviceNotFound
	}
	dev, err := hid.OpenPath(info.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", info.Path, err)
	}
	return &hidrawDevice{info: info, dev: dev}, nil
}

type hidrawDevice struct {
	info hid.DeviceInfo
	dev  *hid.Device
}

// Read blocks up to the timeout. hidapi reports a timeout as a zero-length
// read, which callers treat as "nothing yet, try again".
func (d *hidrawDevice) Read(p []byte, timeout time.Duration) (int, error) {
	return d.dev.ReadWithTimeout(p, timeout)
}

func (d *hidrawDevice) Write(p []byte) (int, error) {
	return d.dev.Write(p)
}

func (d *hidrawDevice) Close() error {
	return d.dev.Close()
}
