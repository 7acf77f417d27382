package apiserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btproxy/btproxyd/pkg/ble"
	"github.com/btproxy/btproxyd/pkg/wire"
)

func encodeHelloRequest() []byte {
	return nil // every field is optional; an empty payload decodes fine
}

func encodeConnectRequest(password string) []byte {
	var b []byte
	b = wire.AppendVarint(b, uint64(1<<3|2)) // field 1, length-delimited
	b = wire.AppendString(b, password)
	return b
}

type testHarness struct {
	client net.Conn
	conn   *Connection
	done   chan struct{}
}

func newTestHarness(t *testing.T, password string) *testHarness {
	t.Helper()
	backend := newFakeIdentityBackend()
	coord := ble.NewCoordinator(nil, backend, 4, true)
	identity, err := ble.DiscoverIdentity(backend, "btproxyd", "Bluetooth Proxy", password, true, "")
	require.NoError(t, err)

	client, server := net.Pipe()
	conn := newConnection(server, coord, identity, password, nil)

	h := &testHarness{client: client, conn: conn, done: make(chan struct{})}
	go func() {
		conn.serve(context.Background())
		close(h.done)
	}()
	return h
}

func (h *testHarness) sendFrame(t *testing.T, msgType wire.MessageType, payload []byte) {
	t.Helper()
	frame := wire.EncodeFrame(uint64(msgType), payload)
	_, err := h.client.Write(frame)
	require.NoError(t, err)
}

func (h *testHarness) readFrame(t *testing.T) (wire.MessageType, []byte) {
	t.Helper()
	h.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	var acc []byte
	for {
		if len(acc) > 0 {
			msgType, payload, size, err := wire.DecodeFrame(acc)
			if err == nil {
				_ = size
				return wire.MessageType(msgType), payload
			}
		}
		n, err := h.client.Read(buf)
		if err != nil {
			t.Fatalf("reading frame: %v", err)
		}
		acc = append(acc, buf[:n]...)
	}
}

func TestConnectionHelloWithoutPasswordAutoAuthenticates(t *testing.T) {
	h := newTestHarness(t, "")
	h.sendFrame(t, wire.MessageTypeHelloRequest, encodeHelloRequest())

	msgType, _ := h.readFrame(t)
	assert.Equal(t, wire.MessageTypeHelloResponse, msgType)
	assert.Eventually(t, func() bool {
		return h.conn.getState() == stateAuthenticated
	}, time.Second, 10*time.Millisecond)
}

func TestConnectionRequiresConnectRequestWhenPasswordSet(t *testing.T) {
	h := newTestHarness(t, "secret")
	h.sendFrame(t, wire.MessageTypeHelloRequest, encodeHelloRequest())
	msgType, _ := h.readFrame(t)
	require.Equal(t, wire.MessageTypeHelloResponse, msgType)
	assert.Equal(t, stateConnected, h.conn.getState())
}

func TestConnectionRejectsWrongPassword(t *testing.T) {
	h := newTestHarness(t, "secret")
	h.sendFrame(t, wire.MessageTypeHelloRequest, encodeHelloRequest())
	h.readFrame(t)

	h.sendFrame(t, wire.MessageTypeConnectRequest, encodeConnectRequest("wrong"))
	msgType, payload := h.readFrame(t)
	require.Equal(t, wire.MessageTypeConnectResponse, msgType)
	assert.NotEmpty(t, payload)
	assert.NotEqual(t, stateAuthenticated, h.conn.getState())

	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("connection did not close after invalid password")
	}
}

func TestConnectionAuthenticatesWithCorrectPassword(t *testing.T) {
	h := newTestHarness(t, "secret")
	h.sendFrame(t, wire.MessageTypeHelloRequest, encodeHelloRequest())
	h.readFrame(t)

	h.sendFrame(t, wire.MessageTypeConnectRequest, encodeConnectRequest("secret"))
	msgType, _ := h.readFrame(t)
	require.Equal(t, wire.MessageTypeConnectResponse, msgType)
	assert.Equal(t, stateAuthenticated, h.conn.getState())
}

func TestConnectionRejectsMessagesBeforeAuthentication(t *testing.T) {
	h := newTestHarness(t, "secret")
	h.sendFrame(t, wire.MessageTypeHelloRequest, encodeHelloRequest())
	h.readFrame(t)

	// Not authenticated yet: a DeviceInfoRequest must be silently dropped,
	// never answered.
	h.sendFrame(t, wire.MessageTypeDeviceInfoRequest, nil)
	h.sendFrame(t, wire.MessageTypePingRequest, nil)

	msgType, _ := h.readFrame(t)
	assert.Equal(t, wire.MessageTypePingResponse, msgType, "only the always-allowed ping should answer")
}

func TestConnectionDisconnectClosesConnection(t *testing.T) {
	h := newTestHarness(t, "")
	h.sendFrame(t, wire.MessageTypeHelloRequest, encodeHelloRequest())
	h.readFrame(t)

	h.sendFrame(t, wire.MessageTypeDisconnectRequest, nil)
	msgType, _ := h.readFrame(t)
	assert.Equal(t, wire.MessageTypeDisconnectResponse, msgType)

	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("connection did not close after disconnect request")
	}
}

func TestConnectionSendFrameDropsWhenQueueFull(t *testing.T) {
	backend := newFakeIdentityBackend()
	coord := ble.NewCoordinator(nil, backend, 4, true)
	identity, err := ble.DiscoverIdentity(backend, "btproxyd", "Bluetooth Proxy", "", true, "")
	require.NoError(t, err)

	_, server := net.Pipe()
	conn := newConnection(server, coord, identity, "", nil)

	// No writeLoop is draining the outbound channel, so it fills up and
	// further sends must be dropped rather than block.
	for i := 0; i < outboundQueueSize+10; i++ {
		conn.SendFrame(wire.MessageTypePingResponse, nil)
	}
	assert.Len(t, conn.outbound, outboundQueueSize)
}

// fakeIdentityBackend is a minimal ble.Backend implementation sufficient
// for exercising ble.DiscoverIdentity and ble.NewCoordinator in these
// connection tests, without pulling in the full fakeBackend from the ble
// package's internal test files.
type fakeIdentityBackend struct{}

func newFakeIdentityBackend() *fakeIdentityBackend { return &fakeIdentityBackend{} }

func (f *fakeIdentityBackend) AdapterMAC() (string, error) { return "aa:bb:cc:dd:ee:ff", nil }
func (f *fakeIdentityBackend) StartScan(ctx context.Context, mode ble.ScanMode, onAdv func(ble.AdvertisementEvent)) error {
	return nil
}
func (f *fakeIdentityBackend) StopScan() error { return nil }
func (f *fakeIdentityBackend) Connect(ctx context.Context, address uint64, addressType uint64) (int, error) {
	return 185, nil
}
func (f *fakeIdentityBackend) Disconnect(address uint64) error { return nil }
func (f *fakeIdentityBackend) DiscoverServices(ctx context.Context, address uint64) ([]ble.BackendService, error) {
	return nil, nil
}
func (f *fakeIdentityBackend) ReadCharacteristic(ctx context.Context, address, handle uint64) ([]byte, error) {
	return nil, nil
}
func (f *fakeIdentityBackend) WriteCharacteristic(ctx context.Context, address, handle uint64, data []byte, withResponse bool) error {
	return nil
}
func (f *fakeIdentityBackend) ReadDescriptor(ctx context.Context, address, handle uint64) ([]byte, error) {
	return nil, nil
}
func (f *fakeIdentityBackend) WriteDescriptor(ctx context.Context, address, handle uint64, data []byte) error {
	return nil
}
func (f *fakeIdentityBackend) StartNotify(ctx context.Context, address, handle uint64, cb ble.NotifyCallback) error {
	return nil
}
func (f *fakeIdentityBackend) StopNotify(ctx context.Context, address, handle uint64) error {
	return nil
}

var _ ble.Backend = (*fakeIdentityBackend)(nil)
