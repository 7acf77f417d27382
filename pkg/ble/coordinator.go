package ble

import (
	"context"
	"sync"

	"github.com/btproxy/btproxyd/pkg/logger"
	"github.com/btproxy/btproxyd/pkg/metrics"
	"github.com/btproxy/btproxyd/pkg/wire"
)

// Sender is the coordinator's view of an API connection: something it can
// push frames to without knowing about TCP sockets or the connection
// state machine. Implemented by apiserver.Connection.
type Sender interface {
	SendFrame(msgType wire.MessageType, payload []byte)
}

// Coordinator owns the slot pool, scanner, batcher and GATT dispatcher,
// and the set of subscribed API clients, grounded in
// bluetooth_proxy.BluetoothProxy.
type Coordinator struct {
	log      *logger.Logger
	backend  Backend
	pool     *SlotPool
	batcher  *Batcher
	dispatch *Dispatcher

	activeConnectionsEnabled bool

	mu          sync.Mutex
	subscribers map[string]Sender // bluetooth-subscribed, implies authenticated
	authed      map[string]Sender // every authenticated client

	scanCancel context.CancelFunc
	mode       wire.ScannerMode
}

// NewCoordinator constructs a Coordinator around the given backend and
// connection pool capacity.
func NewCoordinator(log *logger.Logger, backend Backend, maxConnections int, activeConnectionsEnabled bool) *Coordinator {
	pool := NewSlotPool(log, maxConnections)
	c := &Coordinator{
		log:                      log,
		backend:                  backend,
		pool:                     pool,
		activeConnectionsEnabled: activeConnectionsEnabled,
		subscribers:              make(map[string]Sender),
		authed:                   make(map[string]Sender),
	}
	c.batcher = NewBatcher(log, c.onBatchFlush)
	c.dispatch = NewDispatcher(log, backend, pool, c.broadcastAuthenticated)
	return c
}

// RegisterAuthenticated records a newly authenticated API connection so
// GATT/notify responses and scanner-state pushes can reach it.
func (c *Coordinator) RegisterAuthenticated(id string, s Sender) {
	c.mu.Lock()
	c.authed[id] = s
	n := len(c.authed)
	c.mu.Unlock()
	metrics.SetAuthenticatedClients(n)
}

// UnregisterAuthenticated removes a connection on disconnect, from both
// the authenticated and subscribed sets.
func (c *Coordinator) UnregisterAuthenticated(id string) {
	c.mu.Lock()
	delete(c.authed, id)
	_, wasSubscribed := c.subscribers[id]
	delete(c.subscribers, id)
	remaining := len(c.subscribers)
	authedCount := len(c.authed)
	c.mu.Unlock()

	metrics.SetAuthenticatedClients(authedCount)
	metrics.SetSubscribedClients(remaining)
	if wasSubscribed && remaining == 0 {
		c.stopScanning()
	}
}

// Subscribe marks an already-authenticated connection as subscribed to
// Bluetooth state (implied by state-subscription, per SPEC_FULL.md's
// carried-forward Open Question resolution). Starts scanning if this is
// the first subscriber.
func (c *Coordinator) Subscribe(id string) {
	c.mu.Lock()
	sender, ok := c.authed[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	_, already := c.subscribers[id]
	c.subscribers[id] = sender
	firstSubscriber := !already && len(c.subscribers) == 1
	subCount := len(c.subscribers)
	c.mu.Unlock()

	metrics.SetSubscribedClients(subCount)
	if firstSubscriber {
		c.startScanning()
	}
	c.pushScannerState(sender)
}

// Unsubscribe removes a connection from the Bluetooth-subscribed set,
// stopping the scanner and force-flushing the batcher if it was the
// last one.
func (c *Coordinator) Unsubscribe(id string) {
	c.mu.Lock()
	delete(c.subscribers, id)
	remaining := len(c.subscribers)
	c.mu.Unlock()

	metrics.SetSubscribedClients(remaining)
	if remaining == 0 {
		c.stopScanning()
	}
}

func (c *Coordinator) startScanning() {
	c.mu.Lock()
	if c.scanCancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.scanCancel = cancel
	c.mode = wire.ScannerModeActive
	c.mu.Unlock()

	if c.log != nil {
		c.log.Info("starting BLE scan")
	}
	if err := c.backend.StartScan(ctx, ScanModeActive, c.onAdvertisement); err != nil && c.log != nil {
		c.log.Error("failed to start scan", "error", err)
	}
	resp := wire.BluetoothScannerStateResponse{Mode: wire.ScannerModeActive}
	c.broadcastSubscribed(wire.MessageTypeBluetoothScannerStateResponse, resp.Encode())
}

func (c *Coordinator) stopScanning() {
	c.mu.Lock()
	cancel := c.scanCancel
	c.scanCancel = nil
	c.mode = wire.ScannerModeOff
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		_ = c.backend.StopScan()
		if c.log != nil {
			c.log.Info("stopped BLE scan")
		}
	}
	c.batcher.ForceFlush()
	resp := wire.BluetoothScannerStateResponse{Mode: wire.ScannerModeOff}
	c.broadcastSubscribed(wire.MessageTypeBluetoothScannerStateResponse, resp.Encode())
}

func (c *Coordinator) onAdvertisement(ev AdvertisementEvent) {
	metrics.AdvertisementsScanned.Inc()
	c.batcher.Add(wire.BluetoothLEAdvertisement{
		Address:     ev.Address,
		RSSI:        ev.RSSI,
		AddressType: wire.AddressType(ev.AddressType),
		Data:        ev.ManufacturerData,
	})
}

func (c *Coordinator) onBatchFlush(batch []wire.BluetoothLEAdvertisement) {
	resp := wire.BluetoothLERawAdvertisementsResponse{Advertisements: batch}
	c.broadcastSubscribed(wire.MessageTypeBluetoothLERawAdvertisementsResponse, resp.Encode())
}

func (c *Coordinator) pushScannerState(s Sender) {
	resp := wire.BluetoothScannerStateResponse{Mode: c.currentMode()}
	s.SendFrame(wire.MessageTypeBluetoothScannerStateResponse, resp.Encode())
}

func (c *Coordinator) currentMode() wire.ScannerMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// broadcastSubscribed delivers a message to every Bluetooth-subscribed
// client. A failure or slow client must never block delivery to others —
// SendFrame on the underlying connection is expected to be non-blocking.
func (c *Coordinator) broadcastSubscribed(msgType wire.MessageType, payload []byte) {
	c.mu.Lock()
	targets := make([]Sender, 0, len(c.subscribers))
	for _, s := range c.subscribers {
		targets = append(targets, s)
	}
	c.mu.Unlock()

	for _, s := range targets {
		s.SendFrame(msgType, payload)
	}
}

// broadcastAuthenticated delivers a GATT/notify response to every
// authenticated client, matching the reference implementation's choice
// to address these responses to all connections rather than just the
// originating one (see SPEC_FULL.md §0 / spec.md's Open Questions).
func (c *Coordinator) broadcastAuthenticated(msgType wire.MessageType, payload []byte) {
	c.mu.Lock()
	targets := make([]Sender, 0, len(c.authed))
	for _, s := range c.authed {
		targets = append(targets, s)
	}
	c.mu.Unlock()

	for _, s := range targets {
		s.SendFrame(msgType, payload)
	}
}

// Connect handles a BluetoothDeviceRequest with action=Connect.
func (c *Coordinator) Connect(address uint64, addressType wire.AddressType) {
	if !c.activeConnectionsEnabled {
		c.broadcastAuthenticated(wire.MessageTypeBluetoothDeviceConnectionResponse,
			wire.BluetoothDeviceConnectionResponse{Address: address, Connected: false, Error: 1}.Encode())
		return
	}

	slot, err := c.pool.Acquire(address, uint64(addressType))
	if err != nil {
		if c.log != nil {
			c.log.Warn("connect rejected", "address", AddressToMACString(address), "error", err)
		}
		c.broadcastAuthenticated(wire.MessageTypeBluetoothDeviceConnectionResponse,
			wire.BluetoothDeviceConnectionResponse{Address: address, Connected: false, Error: 1}.Encode())
		return
	}

	go c.runConnect(slot, address, addressType)
}

func (c *Coordinator) runConnect(slot *Slot, address uint64, addressType wire.AddressType) {
	mtu, err := c.backend.Connect(context.Background(), address, uint64(addressType))
	if err != nil {
		if c.log != nil {
			c.log.Error("backend connect failed", "address", AddressToMACString(address), "error", err)
		}
		c.pool.Release(address)
		metrics.SetConnectedSlots(c.pool.Count())
		c.broadcastAuthenticated(wire.MessageTypeBluetoothDeviceConnectionResponse,
			wire.BluetoothDeviceConnectionResponse{Address: address, Connected: false, Error: 1}.Encode())
		return
	}

	c.pool.SetState(address, SlotConnected)
	slot.MTU = mtu
	metrics.SetConnectedSlots(c.pool.Count())
	c.broadcastAuthenticated(wire.MessageTypeBluetoothDeviceConnectionResponse,
		wire.BluetoothDeviceConnectionResponse{Address: address, Connected: true, MTU: uint64(mtu)}.Encode())
}

// Disconnect handles a BluetoothDeviceRequest with action=Disconnect.
func (c *Coordinator) Disconnect(address uint64) {
	if _, ok := c.pool.Get(address); !ok {
		return
	}
	go func() {
		c.pool.SetState(address, SlotDisconnecting)
		_ = c.backend.Disconnect(address)
		c.pool.Release(address)
		metrics.SetConnectedSlots(c.pool.Count())
		c.broadcastAuthenticated(wire.MessageTypeBluetoothDeviceConnectionResponse,
			wire.BluetoothDeviceConnectionResponse{Address: address, Connected: false}.Encode())
	}()
}

// Dispatcher exposes the coordinator's GATT dispatcher for the API
// server to route GATT requests into.
func (c *Coordinator) Dispatcher() *Dispatcher { return c.dispatch }

// Pool exposes the coordinator's slot pool for metrics/testing.
func (c *Coordinator) Pool() *SlotPool { return c.pool }

// BatcherStats exposes the batcher's counters for metrics.
func (c *Coordinator) BatcherStats() Stats { return c.batcher.Stats() }
