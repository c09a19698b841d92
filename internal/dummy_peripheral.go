package internal

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/openscoot/m365/pkg/ble"
)

// DummyPeripheral is a scripted ble.Peripheral for tests. Connect behavior,
// characteristics and notification traffic are all controlled by the test.
type DummyPeripheral struct {
	AddrStr string
	// Chars is returned by DiscoverCharacteristics.
	Chars []ble.Characteristic
	// ConnectErrs is consumed one per Connect call; nil entries succeed.
	ConnectErrs []error
	// FlakyLinks makes the first N successful Connect calls report a link
	// that immediately drops again (IsConnected stays false).
	FlakyLinks int
	// WriteHandler observes every write; it may inject notifications.
	WriteHandler func(c ble.Characteristic, data []byte, withResponse bool)

	mu              sync.Mutex
	connected       bool
	connectCalls    int
	disconnectCalls int
	subscribed      []uuid.UUID
	writes          [][]byte
	notif           chan ble.Notification
}

// NewDummyPeripheral starts disconnected with an open notification stream.
func NewDummyPeripheral(addr string) *DummyPeripheral {
	return &DummyPeripheral{
		AddrStr: addr,
		notif:   make(chan ble.Notification, 16),
	}
}

func (d *DummyPeripheral) Addr() string { return d.AddrStr }

func (d *DummyPeripheral) IsConnected() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected, nil
}

// SetConnected flips the link status directly, bypassing Connect.
func (d *DummyPeripheral) SetConnected(up bool) {
	d.mu.Lock()
	d.connected = up
	d.mu.Unlock()
}

func (d *DummyPeripheral) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	call := d.connectCalls
	d.connectCalls++
	if call < len(d.ConnectErrs) && d.ConnectErrs[call] != nil {
		return d.ConnectErrs[call]
	}
	if d.FlakyLinks > 0 {
		d.FlakyLinks--
		return nil // reported success, link never came up
	}
	d.connected = true
	return nil
}

func (d *DummyPeripheral) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnectCalls++
	d.connected = false
	return nil
}

func (d *DummyPeripheral) DiscoverCharacteristics(ctx context.Context) ([]ble.Characteristic, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return nil, errors.New("not connected")
	}
	return append([]ble.Characteristic(nil), d.Chars...), nil
}

func (d *DummyPeripheral) Subscribe(ctx context.Context, c ble.Characteristic) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribed = append(d.subscribed, c.UUID)
	return nil
}

func (d *DummyPeripheral) Write(ctx context.Context, c ble.Characteristic, data []byte, withResponse bool) error {
	d.mu.Lock()
	cp := make([]byte, len(data))
	copy(cp, data)
	d.writes = append(d.writes, cp)
	handler := d.WriteHandler
	d.mu.Unlock()
	if handler != nil {
		handler(c, cp, withResponse)
	}
	return nil
}

func (d *DummyPeripheral) Notifications() <-chan ble.Notification { return d.notif }

// Notify injects a device->host value.
func (d *DummyPeripheral) Notify(id uuid.UUID, value []byte) {
	d.notif <- ble.Notification{UUID: id, Value: value}
}

// CloseStream simulates the transport tearing the notification stream down.
func (d *DummyPeripheral) CloseStream() { close(d.notif) }

// ConnectCalls reports how many times Connect was attempted.
func (d *DummyPeripheral) ConnectCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectCalls
}

// DisconnectCalls reports how many times Disconnect was attempted.
func (d *DummyPeripheral) DisconnectCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnectCalls
}

// Subscribed returns the UUIDs subscribed so far.
func (d *DummyPeripheral) Subscribed() []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uuid.UUID(nil), d.subscribed...)
}

// Writes returns every payload written so far.
func (d *DummyPeripheral) Writes() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.writes))
	copy(out, d.writes)
	return out
}
