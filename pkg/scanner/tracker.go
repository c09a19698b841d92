// Package scanner drives continuous discovery and keeps a deduplicated
// registry of nearby peers, classifying the ones that look like scooters.
package scanner

import (
	"strings"
	"sync"

	"github.com/bradfitz/slice"
	mapset "github.com/deckarep/golang-set"

	"github.com/openscoot/m365/pkg/ble"
)

// All Xiaomi scooters advertise a name starting with MIScooter followed by a
// few digits, or carry the vendor service in the advertisement.
const scooterNamePrefix = "MIScooter"

// Device is one discovered peer. Identity is the hardware address; the rest
// is captured at first sighting and never re-evaluated.
type Device struct {
	Addr             string
	Name             string
	HasVendorService bool
}

// IsScooter reports whether the peer advertises the vendor service or
// carries the scooter name prefix.
func (d Device) IsScooter() bool {
	if d.HasVendorService {
		return true
	}
	return strings.HasPrefix(d.Name, scooterNamePrefix)
}

// tracker is the shared registry. Insertion takes the write lock, snapshots
// the read lock; the two never nest.
type tracker struct {
	mu      sync.RWMutex
	seen    mapset.Set
	devices map[string]Device
}

func newTracker() *tracker {
	return &tracker{
		seen:    mapset.NewSet(),
		devices: map[string]Device{},
	}
}

// insert stores the device unless its address was seen before. First
// sighting wins; later advertisements of the same address are dropped, not
// merged.
func (t *tracker) insert(adv ble.Advertisement) (Device, bool) {
	addr := ble.NormalizeAddr(adv.Addr)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen.Contains(addr) {
		return Device{}, false
	}
	d := Device{
		Addr:             addr,
		Name:             adv.Name,
		HasVendorService: adv.HasService(ble.VendorServiceUUID),
	}
	t.seen.Add(addr)
	t.devices[addr] = d
	return d, true
}

// lookup returns the tracked device for an address, if any.
func (t *tracker) lookup(addr string) (Device, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.devices[ble.NormalizeAddr(addr)]
	return d, ok
}

// snapshot returns a point-in-time copy, sorted by address, optionally
// filtered to scooter candidates.
func (t *tracker) snapshot(scootersOnly bool) []Device {
	t.mu.RLock()
	out := make([]Device, 0, len(t.devices))
	for _, d := range t.devices {
		if scootersOnly && !d.IsScooter() {
			continue
		}
		out = append(out, d)
	}
	t.mu.RUnlock()
	slice.Sort(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}
