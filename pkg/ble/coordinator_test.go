package ble

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btproxy/btproxyd/pkg/wire"
)

type fakeSender struct {
	mu       sync.Mutex
	messages []recordedMessage
}

func (s *fakeSender) SendFrame(msgType wire.MessageType, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, recordedMessage{msgType, payload})
}

func (s *fakeSender) count(msgType wire.MessageType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.msgType == msgType {
			n++
		}
	}
	return n
}

func TestCoordinatorSubscribeStartsScanOnFirstSubscriber(t *testing.T) {
	backend := newFakeBackend()
	coord := NewCoordinator(nil, backend, 4, true)

	sender := &fakeSender{}
	coord.RegisterAuthenticated("c1", sender)
	coord.Subscribe("c1")

	backend.mu.Lock()
	scanning := backend.scanning
	backend.mu.Unlock()
	assert.True(t, scanning)

	assert.GreaterOrEqual(t, sender.count(wire.MessageTypeBluetoothScannerStateResponse), 1)
}

func TestCoordinatorUnsubscribeLastStopsScan(t *testing.T) {
	backend := newFakeBackend()
	coord := NewCoordinator(nil, backend, 4, true)

	s1 := &fakeSender{}
	coord.RegisterAuthenticated("c1", s1)
	coord.Subscribe("c1")

	coord.Unsubscribe("c1")

	backend.mu.Lock()
	scanning := backend.scanning
	backend.mu.Unlock()
	assert.False(t, scanning)
}

func TestCoordinatorAdvertisementsReachSubscribers(t *testing.T) {
	backend := newFakeBackend()
	coord := NewCoordinator(nil, backend, 4, true)

	sender := &fakeSender{}
	coord.RegisterAuthenticated("c1", sender)
	coord.Subscribe("c1")

	backend.emit(AdvertisementEvent{Address: 0xBEEF, RSSI: -60})
	coord.BatcherStats()

	require.Eventually(t, func() bool {
		return sender.count(wire.MessageTypeBluetoothLERawAdvertisementsResponse) >= 1
	}, 2*time.Second, 10*time.Millisecond, "advertisement must reach the subscriber once the flush timeout fires")
}

func TestCoordinatorConnectRejectedWhenActiveConnectionsDisabled(t *testing.T) {
	backend := newFakeBackend()
	coord := NewCoordinator(nil, backend, 4, false)

	sender := &fakeSender{}
	coord.RegisterAuthenticated("c1", sender)

	coord.Connect(0x1111, wire.AddressTypePublic)

	require.Eventually(t, func() bool {
		return sender.count(wire.MessageTypeBluetoothDeviceConnectionResponse) >= 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, coord.Pool().Count())
}

func TestCoordinatorConnectSucceedsAndDisconnects(t *testing.T) {
	backend := newFakeBackend()
	coord := NewCoordinator(nil, backend, 4, true)

	sender := &fakeSender{}
	coord.RegisterAuthenticated("c1", sender)

	coord.Connect(0x2222, wire.AddressTypePublic)
	require.Eventually(t, func() bool {
		return coord.Pool().Count() == 1
	}, time.Second, 10*time.Millisecond)

	coord.Disconnect(0x2222)
	require.Eventually(t, func() bool {
		return coord.Pool().Count() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestCoordinatorUnregisterAuthenticatedStopsScanning(t *testing.T) {
	backend := newFakeBackend()
	coord := NewCoordinator(nil, backend, 4, true)

	sender := &fakeSender{}
	coord.RegisterAuthenticated("c1", sender)
	coord.Subscribe("c1")

	coord.UnregisterAuthenticated("c1")

	backend.mu.Lock()
	scanning := backend.scanning
	backend.mu.Unlock()
	assert.False(t, scanning, "disconnecting the only subscriber must stop the scan")
}
