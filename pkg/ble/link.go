package ble

import (
	"context"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pkg/errors"
)

// Well-known services and characteristics. Genuine firmware exposes the
// Nordic UART pair; clones scatter equivalents under the vendor service.
var (
	VendorServiceUUID = uuid.MustParse("0000fe95-0000-1000-8000-00805f9b34fb")

	NUSTxUUID = uuid.MustParse("6e400002-b5a3-f393-e0a9-e50e24dcca9e") // write
	NUSRxUUID = uuid.MustParse("6e400003-b5a3-f393-e0a9-e50e24dcca9e") // notify
)

// ErrNoUARTPair means no usable host->device/device->host channel pair was
// found on the peer. A hard error; never retried internally.
var ErrNoUARTPair = errors.New("ble: no compatible UART characteristic pair")

// UARTLink is a selected and subscribed channel pair on a connected peer.
type UARTLink struct {
	dev Peripheral
	tx  Characteristic
	rx  Characteristic
	log logging.LeveledLogger
}

// EstablishUART enumerates the peer's characteristics once, selects a
// write/notify pair and subscribes the device->host side.
func EstablishUART(ctx context.Context, dev Peripheral, lf logging.LoggerFactory) (*UARTLink, error) {
	chars, err := dev.DiscoverCharacteristics(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "discover characteristics")
	}
	tx, rx, ok := SelectUARTPair(chars)
	if !ok {
		return nil, ErrNoUARTPair
	}
	log := lf.NewLogger("ble")
	log.Debugf("selected characteristics tx=%s rx=%s", tx.UUID, rx.UUID)
	if err := dev.Subscribe(ctx, rx); err != nil {
		return nil, errors.Wrap(err, "subscribe to notification characteristic")
	}
	return &UARTLink{dev: dev, tx: tx, rx: rx, log: log}, nil
}

// SelectUARTPair picks a host->device/device->host pair by priority:
// the standard Nordic UART pair, then vendor-service characteristics
// filtered by capability, then any write-capable plus any notify-capable
// characteristic.
func SelectUARTPair(chars []Characteristic) (tx, rx Characteristic, ok bool) {
	nusTx, okTx := FindCharacteristic(chars, NUSTxUUID)
	nusRx, okRx := FindCharacteristic(chars, NUSRxUUID)
	if okTx && okRx {
		return nusTx, nusRx, true
	}

	var vendor []Characteristic
	for _, c := range chars {
		if c.Service == VendorServiceUUID {
			vendor = append(vendor, c)
		}
	}
	if tx, rx, ok = pairByCapability(vendor, false); ok {
		return tx, rx, true
	}

	// Last resort for very odd clones: any pairing at all, preferring an
	// unacknowledged write channel.
	return pairByCapability(chars, true)
}

func pairByCapability(chars []Characteristic, requireWriteNR bool) (tx, rx Characteristic, ok bool) {
	var haveTx, haveRx bool
	for _, c := range chars {
		writable := c.Writable()
		if requireWriteNR {
			writable = c.Properties.Has(PropertyWriteWithoutResponse)
		}
		if !haveTx && writable {
			tx, haveTx = c, true
		}
		if !haveRx && c.Notifying() {
			rx, haveRx = c, true
		}
	}
	return tx, rx, haveTx && haveRx
}

// TX returns the host->device characteristic.
func (l *UARTLink) TX() Characteristic { return l.tx }

// RX returns the device->host characteristic.
func (l *UARTLink) RX() Characteristic { return l.rx }

// Notifications exposes the peer's notification stream. Values for
// characteristics other than RX may appear; consumers filter by UUID.
func (l *UARTLink) Notifications() <-chan Notification { return l.dev.Notifications() }

// WritePacket sends a fully framed packet on the host->device channel,
// preferring the unacknowledged write mode when the channel supports it.
func (l *UARTLink) WritePacket(ctx context.Context, pkt []byte) error {
	withResponse := !l.tx.Properties.Has(PropertyWriteWithoutResponse)
	return l.dev.Write(ctx, l.tx, pkt, withResponse)
}
