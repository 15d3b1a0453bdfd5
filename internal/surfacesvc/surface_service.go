// Package surfacesvc tracks control-surface hardware: which devices are
// attached, a persistent registry of devices ever seen, and access to the
// raw interrupt-style read/write channel of an attached device.
package surfacesvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/ahihi/nocturnal/pkg/bus"
)

// Address identifies a surface device by its USB identity.
type Address struct {
	VendorID  uint16 `json:"vendorId"`
	ProductID uint16 `json:"productId"`
	Interface int    `json:"interface"`
}

func (a Address) String() string {
	return fmt.Sprintf("%04x:%04x:%d", a.VendorID, a.ProductID, a.Interface)
}

func ParseAddress(s string) (Address, error) {
	var addr Address
	_, err := fmt.Sscanf(s, "%04x:%04x:%d", &addr.VendorID, &addr.ProductID, &addr.Interface)
	if err != nil {
		return Address{}, fmt.Errorf("invalid device address %q: %w", s, err)
	}
	return addr, nil
}

type (
	EventType uint8

	// BusKey routes device events to subscribers interested in one device.
	BusKey struct {
		Type EventType
		Addr Address
	}
	DeviceEvent struct{}

	DeviceBus = bus.Bus[BusKey, DeviceEvent]
)

const (
	DeviceConnected EventType = iota
	DeviceDisconnected
)

// Device is an open surface device. Reads block up to the given timeout; a
// timeout returns (0, nil) and the caller simply retries. Writes are
// best-effort and non-transactional.
type Device interface {
	Read(p []byte, timeout time.Duration) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Backend enumerates and opens devices of one transport flavor.
type Backend interface {
	Start(ctx context.Context, pub bus.Publisher[BackendEvent]) error
	Ready() <-chan struct{}
	Open(addr Address) (Device, error)
}

// BackendEvent reports attach/detach diffs observed by a backend.
type BackendEvent struct {
	Connected    []BackendDevice
	Disconnected []Address
}

type BackendDevice struct {
	Addr Address
	Name string
}

// DeviceInfo is the persistent registry record of a device.
type DeviceInfo struct {
	Address     Address   `json:"address"`
	Name        string    `json:"name"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

var ErrDeviceNotFound = errors.New("device not found")

var defaultOptions = serviceOptions{
	backends:       make(map[string]Backend),
	backoffTimeout: 5 * time.Second,
}

type serviceOptions struct {
	backends       map[string]Backend
	backoffTimeout time.Duration
}

type Option func(*serviceOptions)

func WithBackend(name string, backend Backend) Option {
	return func(o *serviceOptions) {
		o.backends[name] = backend
	}
}

func WithBackoffTimeout(d time.Duration) Option {
	return func(o *serviceOptions) {
		o.backoffTimeout = d
	}
}

type Service struct {
	log     *zap.Logger
	db      *badger.DB
	options serviceOptions
	now     func() time.Time
	ready   chan struct{}

	backendBus *bus.Bus[string, BackendEvent]
	deviceBus  *DeviceBus
	connected  *xsync.MapOf[Address, struct{}]
}

func New(db *badger.DB, log *zap.Logger, now func() time.Time, opts ...Option) *Service {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Service{
		db:         db,
		log:        log,
		options:    options,
		now:        now,
		ready:      make(chan struct{}),
		backendBus: bus.NewBus[string, BackendEvent](log),
		deviceBus:  bus.NewBus[BusKey, DeviceEvent](log),
		connected:  xsync.NewMapOf[Address, struct{}](),
	}
}

func (s *Service) Start(ctx context.Context) error {
	if err := s.backendBus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start backend bus: %w", err)
	}
	if err := s.deviceBus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start device bus: %w", err)
	}

	go s.consumeBackendEvents(ctx)

	for backendID := range s.options.backends {
		go s.runBackend(ctx, backendID)
	}
	for _, backend := range s.options.backends {
		select {
		case <-ctx.Done():
			return nil
		case <-backend.Ready():
		}
	}
	close(s.ready)
	s.log.Info("Surface service started")
	<-ctx.Done()
	return nil
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// runBackend keeps a backend alive, restarting it after a backoff when it
// fails. Backend failure is isolated here; it never takes the service down.
func (s *Service) runBackend(ctx context.Context, backendID string) {
	backend := s.options.backends[backendID]
	for {
		err := backend.Start(ctx, s.backendBus.CreatePublisher(backendID))
		if err != nil {
			s.log.Error("backend failed", zap.String("backend", backendID), zap.Error(err))
		}
		t := time.NewTimer(s.options.backoffTimeout)
		select {
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		case <-t.C:
		}
	}
}

func (s *Service) consumeBackendEvents(ctx context.Context) {
	ch := s.backendBus.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			s.handleBackendEvent(ctx, msg.Key, msg.Message)
		}
	}
}

func (s *Service) handleBackendEvent(ctx context.Context, backendID string, event BackendEvent) {
	for _, addr := range event.Disconnected {
		s.connected.Delete(addr)
		s.log.Debug("surface disconnected", zap.String("backend", backendID), zap.String("addr", addr.String()))
		s.deviceBus.Publish(ctx, BusKey{Type: DeviceDisconnected, Addr: addr}, DeviceEvent{})
	}
	for _, dev := range event.Connected {
		info, err := s.recordDevice(dev)
		if err != nil {
			s.log.Error("failed to record device", zap.Error(err))
			continue
		}
		s.log.Debug("surface connected",
			zap.String("backend", backendID),
			zap.String("addr", info.Address.String()),
			zap.String("name", info.Name),
			zap.Time("firstSeenAt", info.FirstSeenAt))
		s.connected.Store(dev.Addr, struct{}{})
		s.deviceBus.Publish(ctx, BusKey{Type: DeviceConnected, Addr: dev.Addr}, DeviceEvent{})
	}
}

func deviceKey(addr Address) []byte {
	return []byte("surface/devices/" + addr.String())
}

// recordDevice upserts the registry record, keeping the first-seen timestamp
// across restarts. Only registry metadata persists; control state never does.
func (s *Service) recordDevice(bdev BackendDevice) (DeviceInfo, error) {
	var info DeviceInfo
	now := s.now()
	err := s.db.Update(func(txn *badger.Txn) error {
		key := deviceKey(bdev.Addr)
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &info)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal device record: %w", err)
			}
		}
		info.Address = bdev.Addr
		info.Name = bdev.Name
		if info.FirstSeenAt.IsZero() {
			info.FirstSeenAt = now
		}
		info.LastSeenAt = now
		b, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf("failed to marshal device record: %w", err)
		}
		return txn.Set(key, b)
	})
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("failed to update device record: %w", err)
	}
	return info, nil
}

// ListDevices returns every device ever recorded, attached or not.
func (s *Service) ListDevices() ([]DeviceInfo, error) {
	var devices []DeviceInfo
	err := s.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(badger.DefaultIteratorOptions)
		defer iter.Close()
		prefix := []byte("surface/devices/")
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			var info DeviceInfo
			err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &info)
			})
			if err != nil {
				return err
			}
			devices = append(devices, info)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

func (s *Service) IsConnected(addr Address) bool {
	_, ok := s.connected.Load(addr)
	return ok
}

// SubscribeDevice delivers connect/disconnect events for one device.
func (s *Service) SubscribeDevice(ctx context.Context, addr Address) <-chan bus.Message[BusKey, DeviceEvent] {
	return s.deviceBus.Subscribe(ctx,
		BusKey{Type: DeviceConnected, Addr: addr},
		BusKey{Type: DeviceDisconnected, Addr: addr},
	)
}

// Open opens an attached device through the backend responsible for it.
func (s *Service) Open(backendID string, addr Address) (Device, error) {
	backend, ok := s.options.backends[backendID]
	if !ok {
		return nil, fmt.Errorf("unknown backend: %s", backendID)
	}
	dev, err := backend.Open(addr)
	if err != nil {
		return nil, fmt.Errorf("error opening device %s: %w", addr, err)
	}
	return dev, nil
}
