package ble

import (
	"context"
	"strings"
	"sync"

	goble "github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pkg/errors"
)

const (
	mtu         = 256
	notifyQueue = 64
	scanQueue   = 64
)

// RealCentral is the go-ble backed Central. One per host adapter; the
// underlying HCI device is installed as go-ble's default device.
type RealCentral struct {
	log logging.LeveledLogger

	mu       sync.Mutex
	scanStop context.CancelFunc
}

// NewCentral opens the host's BLE adapter.
func NewCentral(lf logging.LoggerFactory, opts ...goble.Option) (*RealCentral, error) {
	device, err := linux.NewDevice(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "open BLE device")
	}
	goble.SetDefaultDevice(device)
	return &RealCentral{log: lf.NewLogger("ble")}, nil
}

// StartScan begins continuous discovery with duplicates allowed; duplicate
// sightings are the Device Tracker's problem, not the transport's.
func (c *RealCentral) StartScan(ctx context.Context) (<-chan Advertisement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scanStop != nil {
		return nil, errors.New("ble: scan already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.scanStop = cancel

	out := make(chan Advertisement, scanQueue)
	handler := func(a goble.Advertisement) {
		adv := Advertisement{
			Addr: NormalizeAddr(a.Addr().String()),
			Name: a.LocalName(),
		}
		for _, s := range a.Services() {
			adv.Services = append(adv.Services, fromBLEUUID(s))
		}
		for _, sd := range a.ServiceData() {
			adv.Services = append(adv.Services, fromBLEUUID(sd.UUID))
		}
		select {
		case out <- adv:
		default:
			// Scan floods are normal; the tracker only cares about
			// first sightings, so dropping under pressure is safe.
		}
	}
	go func() {
		defer close(out)
		if err := goble.Scan(ctx, true, handler, nil); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Errorf("scan stopped: %v", err)
		}
	}()
	return out, nil
}

// StopScan ends a running scan. Safe to call when no scan is running.
func (c *RealCentral) StopScan() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scanStop != nil {
		c.scanStop()
		c.scanStop = nil
	}
	return nil
}

// Peripheral resolves an address to a peer handle.
func (c *RealCentral) Peripheral(addr string) (Peripheral, error) {
	return &RealPeripheral{addr: NormalizeAddr(addr), log: c.log}, nil
}

// RealPeripheral is the go-ble backed peer handle.
type RealPeripheral struct {
	addr string
	log  logging.LeveledLogger

	mu        sync.Mutex
	cln       goble.Client
	connected bool
	chars     map[uuid.UUID]*goble.Characteristic
	notif     chan Notification
}

func (p *RealPeripheral) Addr() string { return p.addr }

func (p *RealPeripheral) IsConnected() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected, nil
}

func (p *RealPeripheral) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		return nil
	}
	cln, err := goble.Dial(ctx, goble.NewAddr(p.addr))
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	if _, err := cln.ExchangeMTU(mtu); err != nil {
		p.log.Warnf("MTU exchange: %v", err)
	}
	p.cln = cln
	p.connected = true
	p.notif = make(chan Notification, notifyQueue)
	go p.watchDisconnect(cln.Disconnected(), p.notif)
	return nil
}

// watchDisconnect flips the status and closes the notification stream when
// the link drops, so waiters unblock instead of hanging on a dead peer. The
// closed channel stays in place so Notifications called after the drop still
// returns it; a reconnect installs a fresh stream.
func (p *RealPeripheral) watchDisconnect(down <-chan struct{}, notif chan Notification) {
	<-down
	p.mu.Lock()
	if p.notif == notif {
		p.connected = false
		p.cln = nil
		p.chars = nil
	}
	p.mu.Unlock()
	close(notif)
	p.log.Debugf("peer %s disconnected", p.addr)
}

func (p *RealPeripheral) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	cln := p.cln
	p.mu.Unlock()
	if cln == nil {
		return nil
	}
	return errors.Wrap(cln.CancelConnection(), "cancel connection")
}

func (p *RealPeripheral) DiscoverCharacteristics(ctx context.Context) ([]Characteristic, error) {
	p.mu.Lock()
	cln := p.cln
	p.mu.Unlock()
	if cln == nil {
		return nil, errors.New("ble: not connected")
	}
	profile, err := cln.DiscoverProfile(true)
	if err != nil {
		return nil, errors.Wrap(err, "discover profile")
	}
	var out []Characteristic
	chars := map[uuid.UUID]*goble.Characteristic{}
	for _, svc := range profile.Services {
		svcID := fromBLEUUID(svc.UUID)
		for _, ch := range svc.Characteristics {
			id := fromBLEUUID(ch.UUID)
			chars[id] = ch
			out = append(out, Characteristic{
				UUID:       id,
				Service:    svcID,
				Properties: fromBLEProperty(ch.Property),
			})
		}
	}
	p.mu.Lock()
	p.chars = chars
	p.mu.Unlock()
	return out, nil
}

func (p *RealPeripheral) Subscribe(ctx context.Context, c Characteristic) error {
	cln, ch, notif, err := p.lookup(c.UUID)
	if err != nil {
		return err
	}
	indicate := !c.Properties.Has(PropertyNotify) && c.Properties.Has(PropertyIndicate)
	id := c.UUID
	return errors.Wrapf(cln.Subscribe(ch, indicate, func(data []byte) {
		value := make([]byte, len(data))
		copy(value, data)
		select {
		case notif <- Notification{UUID: id, Value: value}:
		default:
			// Nobody is waiting; a stale value is useless once the
			// request that wanted it has timed out.
		}
	}), "subscribe %s", c.UUID)
}

func (p *RealPeripheral) Write(ctx context.Context, c Characteristic, data []byte, withResponse bool) error {
	cln, ch, _, err := p.lookup(c.UUID)
	if err != nil {
		return err
	}
	return errors.Wrapf(cln.WriteCharacteristic(ch, data, !withResponse), "write %s", c.UUID)
}

func (p *RealPeripheral) Notifications() <-chan Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.notif
}

func (p *RealPeripheral) lookup(id uuid.UUID) (goble.Client, *goble.Characteristic, chan Notification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cln == nil {
		return nil, nil, nil, errors.New("ble: not connected")
	}
	ch, ok := p.chars[id]
	if !ok {
		return nil, nil, nil, errors.Errorf("ble: unknown characteristic %s", id)
	}
	return p.cln, ch, p.notif, nil
}

// NormalizeAddr lower-cases a hardware address so map keys and comparisons
// are stable across platforms.
func NormalizeAddr(addr string) string { return strings.ToLower(addr) }

func fromBLEProperty(p goble.Property) Property {
	var out Property
	if p&goble.CharBroadcast != 0 {
		out |= PropertyBroadcast
	}
	if p&goble.CharRead != 0 {
		out |= PropertyRead
	}
	if p&goble.CharWriteNR != 0 {
		out |= PropertyWriteWithoutResponse
	}
	if p&goble.CharWrite != 0 {
		out |= PropertyWrite
	}
	if p&goble.CharNotify != 0 {
		out |= PropertyNotify
	}
	if p&goble.CharIndicate != 0 {
		out |= PropertyIndicate
	}
	return out
}

// fromBLEUUID converts go-ble's hex form into a canonical UUID, expanding
// 16- and 32-bit shorthand against the Bluetooth base UUID.
func fromBLEUUID(u goble.UUID) uuid.UUID {
	s := u.String()
	switch len(s) {
	case 4:
		s = "0000" + s + "-0000-1000-8000-00805f9b34fb"
	case 8:
		s = s + "-0000-1000-8000-00805f9b34fb"
	case 32:
		s = s[0:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:32]
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}
