package ble

import (
	"testing"
	"time"

	"github.com/pion/logging"
	"gotest.tools/assert"
)

func testPeripheral(notif chan Notification) *RealPeripheral {
	return &RealPeripheral{
		addr:      "aa:bb:cc:dd:ee:ff",
		log:       logging.NewDefaultLoggerFactory().NewLogger("ble"),
		connected: true,
		notif:     notif,
	}
}

func TestNotificationsStayClosedAfterLinkDrop(t *testing.T) {
	p := testPeripheral(make(chan Notification, 1))
	down := make(chan struct{})
	go p.watchDisconnect(down, p.notif)
	close(down)

	select {
	case _, ok := <-p.Notifications():
		assert.Assert(t, !ok)
	case <-time.After(time.Second):
		t.Fatal("notification stream never closed")
	}

	// Waiters arriving after the drop get the closed stream, not a nil
	// channel they would block on forever.
	ch := p.Notifications()
	assert.Assert(t, ch != nil)
	_, ok := <-ch
	assert.Assert(t, !ok)

	up, err := p.IsConnected()
	assert.NilError(t, err)
	assert.Assert(t, !up)
}

func TestStaleDisconnectWatcherLeavesFreshLinkAlone(t *testing.T) {
	old := make(chan Notification)
	fresh := make(chan Notification, 1)
	p := testPeripheral(fresh)

	down := make(chan struct{})
	go p.watchDisconnect(down, old)
	close(down)

	select {
	case _, ok := <-old:
		assert.Assert(t, !ok)
	case <-time.After(time.Second):
		t.Fatal("stale stream never closed")
	}

	up, err := p.IsConnected()
	assert.NilError(t, err)
	assert.Assert(t, up)

	fresh <- Notification{Value: []byte{0x01}}
	select {
	case n, ok := <-p.Notifications():
		assert.Assert(t, ok)
		assert.DeepEqual(t, n.Value, []byte{0x01})
	case <-time.After(time.Second):
		t.Fatal("fresh stream was torn down by the stale watcher")
	}
}
