package ble

import (
	"errors"
	"sync"

	"github.com/btproxy/btproxyd/pkg/logger"
)

// SlotState describes where a connection slot sits in its lifecycle.
type SlotState int

const (
	SlotDisconnected SlotState = iota
	SlotConnecting
	SlotConnected
	SlotDisconnecting
)

func (s SlotState) String() string {
	switch s {
	case SlotDisconnected:
		return "disconnected"
	case SlotConnecting:
		return "connecting"
	case SlotConnected:
		return "connected"
	case SlotDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// ErrNoFreeSlot is returned when every connection slot is occupied.
var ErrNoFreeSlot = errors.New("ble: no free connection slot")

// ErrSlotNotFound is returned when an operation targets an address with
// no assigned slot.
var ErrSlotNotFound = errors.New("ble: no slot assigned for address")

// Slot represents one of the pool's fixed connection resources.
type Slot struct {
	Index       int
	Address     uint64
	AddressType uint64
	State       SlotState
	MTU         int
	Services    []BackendService

	// SendServiceIndex mirrors the reference implementation's
	// bookkeeping field (-2 = discovery not started, -1 = fully sent,
	// else the index of the next service to send). This proxy's
	// dispatcher always sends the full list at once (see
	// SPEC_FULL.md §12), so this only ever transitions -2 -> -1.
	SendServiceIndex int

	notifySubscriptions map[uint64]bool
}

// SlotPool is a fixed-size, bounded pool of BLE connection slots, keyed
// by device address, grounded in the reference implementation's
// connection_pool/connections pairing in bluetooth_proxy.py.
type SlotPool struct {
	mu     sync.Mutex
	log    *logger.Logger
	slots  []*Slot
	byAddr map[uint64]*Slot
}

// NewSlotPool pre-allocates maxConnections empty slots.
func NewSlotPool(log *logger.Logger, maxConnections int) *SlotPool {
	p := &SlotPool{
		log:    log,
		slots:  make([]*Slot, maxConnections),
		byAddr: make(map[uint64]*Slot),
	}
	for i := range p.slots {
		p.slots[i] = &Slot{Index: i, SendServiceIndex: -2, notifySubscriptions: make(map[uint64]bool)}
	}
	return p
}

// Acquire assigns a free slot to address, failing with ErrNoFreeSlot when
// the pool is full, and with a separate error when the address already
// holds a slot.
func (p *SlotPool) Acquire(address uint64, addressType uint64) (*Slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byAddr[address]; exists {
		return nil, errors.New("ble: address already has an active slot")
	}

	for _, s := range p.slots {
		if s.Address == 0 && s.State == SlotDisconnected {
			s.Address = address
			s.AddressType = addressType
			s.State = SlotConnecting
			s.SendServiceIndex = -2
			p.byAddr[address] = s
			return s, nil
		}
	}
	return nil, ErrNoFreeSlot
}

// Get returns the slot assigned to address, if any.
func (p *SlotPool) Get(address uint64) (*Slot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.byAddr[address]
	return s, ok
}

// Release returns a slot to the free pool.
func (p *SlotPool) Release(address uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.byAddr[address]
	if !ok {
		return
	}
	delete(p.byAddr, address)
	s.Address = 0
	s.AddressType = 0
	s.State = SlotDisconnected
	s.MTU = 0
	s.Services = nil
	s.SendServiceIndex = -2
	s.notifySubscriptions = make(map[uint64]bool)
}

// SetState transitions a slot's lifecycle state.
func (p *SlotPool) SetState(address uint64, state SlotState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.byAddr[address]; ok {
		s.State = state
	}
}

// Count returns the number of occupied slots, which must always equal
// len(byAddr) and never exceed the pool's fixed capacity — the slot
// invariant from spec.md §8.
func (p *SlotPool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byAddr)
}

// Capacity returns the pool's fixed size.
func (p *SlotPool) Capacity() int {
	return len(p.slots)
}

// SetNotifySubscribed records notification-subscription state for a
// characteristic handle on a connected slot, used by the GATT dispatcher
// to decide whether incoming notification data should be forwarded.
func (p *SlotPool) SetNotifySubscribed(address uint64, handle uint64, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.byAddr[address]
	if !ok {
		return
	}
	if enabled {
		s.notifySubscriptions[handle] = true
	} else {
		delete(s.notifySubscriptions, handle)
	}
}

// IsNotifySubscribed reports whether handle has an active subscription
// on address's slot.
func (p *SlotPool) IsNotifySubscribed(address uint64, handle uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.byAddr[address]
	if !ok {
		return false
	}
	return s.notifySubscriptions[handle]
}
