// Package ble holds the transport boundary consumed by the rest of the stack
// and the connection resilience layer that wraps a single peer handle. The
// default implementation rides on go-ble; tests inject fakes.
package ble

import (
	"context"

	"github.com/google/uuid"
)

// Property is the capability bitmask advertised by a characteristic.
type Property uint8

const (
	PropertyBroadcast Property = 1 << iota
	PropertyRead
	PropertyWriteWithoutResponse
	PropertyWrite
	PropertyNotify
	PropertyIndicate
)

// Has reports whether all bits of p2 are set.
func (p Property) Has(p2 Property) bool { return p&p2 == p2 }

// Characteristic is a named, capability-tagged endpoint on a peer.
type Characteristic struct {
	UUID       uuid.UUID
	Service    uuid.UUID
	Properties Property
}

// Writable reports whether the characteristic accepts writes in any mode.
func (c Characteristic) Writable() bool {
	return c.Properties.Has(PropertyWrite) || c.Properties.Has(PropertyWriteWithoutResponse)
}

// Notifying reports whether the characteristic can push values to the host.
func (c Characteristic) Notifying() bool {
	return c.Properties.Has(PropertyNotify) || c.Properties.Has(PropertyIndicate)
}

// Notification is one value pushed by the peer on a subscribed characteristic.
type Notification struct {
	UUID  uuid.UUID
	Value []byte
}

// Advertisement is one sighting of a nearby peer.
type Advertisement struct {
	Addr     string
	Name     string
	Services []uuid.UUID
}

// HasService reports whether the advertisement carries the given service UUID.
func (a Advertisement) HasService(id uuid.UUID) bool {
	for _, s := range a.Services {
		if s == id {
			return true
		}
	}
	return false
}

// Peripheral is the host platform's handle to a single remote peer. All
// blocking calls take a context; implementations must not retry internally,
// that is the resilience layer's job.
type Peripheral interface {
	Addr() string
	IsConnected() (bool, error)
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	DiscoverCharacteristics(ctx context.Context) ([]Characteristic, error)
	Subscribe(ctx context.Context, c Characteristic) error
	// Write sends data to the characteristic. withResponse selects the
	// acknowledged write mode.
	Write(ctx context.Context, c Characteristic, data []byte, withResponse bool) error
	// Notifications returns the live stream of subscribed values. The
	// channel is closed when the link goes down.
	Notifications() <-chan Notification
}

// Central is the host platform's discovery surface.
type Central interface {
	// StartScan begins continuous discovery and returns the advertisement
	// stream. The stream is closed when the context ends or StopScan is
	// called.
	StartScan(ctx context.Context) (<-chan Advertisement, error)
	StopScan() error
	// Peripheral resolves a previously advertised address to a peer handle.
	Peripheral(addr string) (Peripheral, error)
}

// FindCharacteristic returns the characteristic with the given UUID.
func FindCharacteristic(chars []Characteristic, id uuid.UUID) (Characteristic, bool) {
	for _, c := range chars {
		if c.UUID == id {
			return c, true
		}
	}
	return Characteristic{}, false
}
