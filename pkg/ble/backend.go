// Package ble implements the proxy's Bluetooth Low Energy core: device
// identity discovery, advertisement batching, a bounded connection slot
// pool, GATT dispatch, and the coordinator that ties them together. The
// concrete radio access goes through the Backend interface so the core
// logic is testable without real hardware.
package ble

import (
	"context"
	"errors"
)

// Errors returned by backend implementations. The core never inspects a
// backend error beyond success/failure, per the BLE backend contract.
var (
	ErrBackendNotConnected = errors.New("ble: device not connected")
	ErrBackendNotFound     = errors.New("ble: device not found")
)

// ScanMode selects active or passive advertisement scanning.
type ScanMode int

const (
	ScanModePassive ScanMode = iota
	ScanModeActive
)

// AdvertisementEvent is a single observed BLE advertisement, delivered
// asynchronously by the backend while scanning is active.
type AdvertisementEvent struct {
	Address          uint64
	RSSI             int32
	AddressType      uint64
	ManufacturerData []byte
	ServiceData      []byte
	LocalName        string
}

// BackendCharacteristic describes one discovered characteristic. Property
// strings come from the backend's own vocabulary ("read", "write",
// "write-without-response", "notify", "indicate"); the dispatcher maps
// them onto the wire bitmap and drops anything it doesn't recognize.
type BackendCharacteristic struct {
	UUID        string
	Handle      uint64
	Properties  []string
	Descriptors []BackendDescriptor
}

// BackendDescriptor describes one discovered descriptor.
type BackendDescriptor struct {
	UUID   string
	Handle uint64
}

// BackendService describes one discovered GATT service.
type BackendService struct {
	UUID            string
	Handle          uint64
	Characteristics []BackendCharacteristic
}

// NotifyCallback is invoked by the backend whenever a subscribed
// characteristic produces new notification data.
type NotifyCallback func(handle uint64, data []byte)

// Backend abstracts the underlying BLE radio. A concrete implementation
// (see TinygoBackend) wraps a real adapter; tests use a fake that never
// touches hardware.
type Backend interface {
	// AdapterMAC returns the host adapter's own hardware MAC address, or
	// an error if no adapter is present or it cannot be queried. The
	// core refuses to start without a real value here.
	AdapterMAC() (string, error)

	// StartScan begins delivering AdvertisementEvent values to onAdv
	// until the context is cancelled or StopScan is called.
	StartScan(ctx context.Context, mode ScanMode, onAdv func(AdvertisementEvent)) error
	StopScan() error

	// Connect establishes a peripheral connection and returns the
	// negotiated MTU.
	Connect(ctx context.Context, address uint64, addressType uint64) (mtu int, err error)
	Disconnect(address uint64) error

	// DiscoverServices enumerates the full service/characteristic/
	// descriptor tree of a connected peripheral.
	DiscoverServices(ctx context.Context, address uint64) ([]BackendService, error)

	ReadCharacteristic(ctx context.Context, address uint64, handle uint64) ([]byte, error)
	WriteCharacteristic(ctx context.Context, address uint64, handle uint64, data []byte, withResponse bool) error

	ReadDescriptor(ctx context.Context, address uint64, handle uint64) ([]byte, error)
	WriteDescriptor(ctx context.Context, address uint64, handle uint64, data []byte) error

	StartNotify(ctx context.Context, address uint64, handle uint64, cb NotifyCallback) error
	StopNotify(ctx context.Context, address uint64, handle uint64) error
}
