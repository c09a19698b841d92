package internal

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/openscoot/m365/pkg/ble"
)

// DummyCentral is a scripted ble.Central: the test feeds advertisements in
// and registers the peripherals lookups should resolve to.
type DummyCentral struct {
	mu          sync.Mutex
	adv         chan ble.Advertisement
	peripherals map[string]ble.Peripheral
	scanning    bool
}

func NewDummyCentral() *DummyCentral {
	return &DummyCentral{
		adv:         make(chan ble.Advertisement, 32),
		peripherals: map[string]ble.Peripheral{},
	}
}

func (c *DummyCentral) StartScan(ctx context.Context) (<-chan ble.Advertisement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scanning {
		return nil, errors.New("scan already running")
	}
	c.scanning = true
	return c.adv, nil
}

func (c *DummyCentral) StopScan() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scanning {
		c.scanning = false
		close(c.adv)
	}
	return nil
}

func (c *DummyCentral) Peripheral(addr string) (ble.Peripheral, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.peripherals[ble.NormalizeAddr(addr)]
	if !ok {
		return nil, errors.Errorf("unknown peripheral %s", addr)
	}
	return p, nil
}

// AddPeripheral registers the handle Peripheral(addr) resolves to.
func (c *DummyCentral) AddPeripheral(p ble.Peripheral) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peripherals[ble.NormalizeAddr(p.Addr())] = p
}

// Advertise feeds one sighting into the scan stream.
func (c *DummyCentral) Advertise(a ble.Advertisement) {
	a.Addr = ble.NormalizeAddr(a.Addr)
	c.adv <- a
}
