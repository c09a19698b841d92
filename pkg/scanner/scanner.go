package scanner

import (
	"context"
	"sync"

	"github.com/pion/logging"
	"github.com/pkg/errors"

	"github.com/openscoot/m365/pkg/ble"
)

// eventQueue bounds the discovery channel; the emitting task blocks (honoring
// its context) rather than dropping events once a burst fills it.
const eventQueue = 32

// ErrNotFound is returned by WaitFor when the discovery stream ends before
// the requested address appears.
var ErrNotFound = errors.New("scanner: scooter not found")

// Scanner runs discovery as a single background task and emits every newly
// tracked scooter candidate exactly once.
type Scanner struct {
	central ble.Central
	log     logging.LeveledLogger
	tracker *tracker
	events  chan Device

	mu      sync.Mutex
	started bool
}

// New builds a scanner over the given discovery surface.
func New(central ble.Central, lf logging.LoggerFactory) *Scanner {
	return &Scanner{
		central: central,
		log:     lf.NewLogger("scanner"),
		tracker: newTracker(),
		events:  make(chan Device, eventQueue),
	}
}

// Start begins continuous scanning and returns the discovery event channel.
// The channel sees each positively classified address exactly once and is
// closed when scanning stops.
func (s *Scanner) Start(ctx context.Context) (<-chan Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, errors.New("scanner: already started")
	}
	adv, err := s.central.StartScan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "start scan")
	}
	s.started = true
	s.log.Debug("watching for advertisements in background")
	go s.run(ctx, adv)
	return s.events, nil
}

func (s *Scanner) run(ctx context.Context, adv <-chan ble.Advertisement) {
	defer close(s.events)
	for {
		select {
		case a, ok := <-adv:
			if !ok {
				return
			}
			d, fresh := s.tracker.insert(a)
			if !fresh {
				continue // duplicate sighting, dropped silently
			}
			s.log.Tracef("tracking %s (%q)", d.Addr, d.Name)
			if !d.IsScooter() {
				continue
			}
			select {
			case s.events <- d:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends discovery; the event channel closes once the background task
// drains.
func (s *Scanner) Stop() error { return s.central.StopScan() }

// WaitFor blocks until the scooter with the given address is discovered.
// Events for other scooters are logged and discarded while waiting.
func (s *Scanner) WaitFor(ctx context.Context, addr string) (Device, error) {
	addr = ble.NormalizeAddr(addr)
	if d, ok := s.tracker.lookup(addr); ok {
		return d, nil
	}
	for {
		select {
		case d, ok := <-s.events:
			if !ok {
				return Device{}, errors.Wrap(ErrNotFound, addr)
			}
			if d.Addr == addr {
				s.log.Info("found your scooter")
				return d, nil
			}
			s.log.Infof("found scooter nearby: %q with mac %s", d.Name, d.Addr)
		case <-ctx.Done():
			return Device{}, ctx.Err()
		}
	}
}

// Peripheral resolves a tracked device to a connectable peer handle.
func (s *Scanner) Peripheral(d Device) (ble.Peripheral, error) {
	return s.central.Peripheral(d.Addr)
}

// Scooters returns a point-in-time snapshot of positively classified peers.
func (s *Scanner) Scooters() []Device { return s.tracker.snapshot(true) }

// Devices returns a point-in-time snapshot of everything tracked.
func (s *Scanner) Devices() []Device { return s.tracker.snapshot(false) }
