package ble

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"sync"
	"time"

	"github.com/btproxy/btproxyd/pkg/logger"
	"tinygo.org/x/bluetooth"
)

// TinygoBackend implements Backend on top of tinygo.org/x/bluetooth,
// grounded in the teacher's pkg/transport/ble.Transport, generalized from
// a single fixed peripheral to the proxy's many-peripheral, many-service
// model.
type TinygoBackend struct {
	log     *logger.Logger
	adapter *bluetooth.Adapter

	mu      sync.Mutex
	devices map[uint64]*connectedDevice
}

// connectedDevice tracks one live peripheral connection. tinygo's
// bluetooth package does not model descriptors as a distinct discoverable
// type the way it does characteristics, so descriptor reads/writes are
// routed through the owning characteristic's handle in this backend.
type connectedDevice struct {
	device          bluetooth.Device
	characteristics map[uint64]bluetooth.DeviceCharacteristic
	nextHandle      uint64
}

// NewTinygoBackend constructs a backend bound to the host's default
// adapter.
func NewTinygoBackend(log *logger.Logger) *TinygoBackend {
	return &TinygoBackend{
		log:     log,
		adapter: bluetooth.DefaultAdapter,
		devices: make(map[uint64]*connectedDevice),
	}
}

// hciconfigBDAddress matches the "BD Address: XX:XX:XX:XX:XX:XX" line
// hciconfig prints for a BlueZ adapter.
var hciconfigBDAddress = regexp.MustCompile(`BD Address:\s*([0-9A-Fa-f:]{17})`)

// AdapterMAC reports the host adapter's own hardware MAC address. This
// proxy refuses to start if the adapter can't be enabled or has no
// usable address — see ble.ErrNoHardwareMAC. If the adapter query itself
// returns an empty address, it falls back to shelling out to hciconfig
// (5 s timeout) before giving up, per spec.md §4.3 step 2.
func (b *TinygoBackend) AdapterMAC() (string, error) {
	if err := b.adapter.Enable(); err != nil {
		return "", fmt.Errorf("enable adapter: %w", err)
	}

	addr, err := b.adapter.Address()
	if err == nil {
		if mac := addr.MAC.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}

	if mac, fallbackErr := b.adapterMACFromShell(); fallbackErr == nil {
		return mac, nil
	}

	return "", ErrNoHardwareMAC
}

// adapterMACFromShell invokes hciconfig to recover the adapter's MAC when
// the backend's own query came back empty, matching the shell-tool
// fallback other BLE-node implementations in this ecosystem use for the
// same purpose (e.g. bluetoothctl-based discovery).
func (b *TinygoBackend) adapterMACFromShell() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "hciconfig").Output()
	if err != nil {
		return "", fmt.Errorf("hciconfig: %w", err)
	}

	m := hciconfigBDAddress.FindSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("ble: no BD Address found in hciconfig output")
	}
	return string(m[1]), nil
}

// StartScan begins delivering advertisements to onAdv. tinygo's Scan is
// itself blocking, so it runs on its own goroutine and is stopped via
// StopScan or context cancellation.
func (b *TinygoBackend) StartScan(ctx context.Context, mode ScanMode, onAdv func(AdvertisementEvent)) error {
	go func() {
		<-ctx.Done()
		_ = b.adapter.StopScan()
	}()

	go func() {
		err := b.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			onAdv(AdvertisementEvent{
				Address:          macToAddress(result.Address),
				RSSI:             int32(result.RSSI),
				AddressType:      0,
				ManufacturerData: result.AdvertisementPayload.ManufacturerData(),
				LocalName:        result.LocalName(),
			})
		})
		if err != nil && b.log != nil {
			b.log.Error("BLE scan failed", "error", err)
		}
	}()
	return nil
}

// StopScan stops any in-progress scan.
func (b *TinygoBackend) StopScan() error {
	return b.adapter.StopScan()
}

// Connect dials a peripheral by address and returns its negotiated MTU.
func (b *TinygoBackend) Connect(ctx context.Context, address uint64, addressType uint64) (int, error) {
	addr := addressToMAC(address)
	device, err := b.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return 0, fmt.Errorf("connect %s: %w", AddressToMACString(address), err)
	}

	mtu, err := device.GetMTU()
	if err != nil || mtu == 0 {
		mtu = 23
	}

	b.mu.Lock()
	b.devices[address] = &connectedDevice{
		device:          device,
		characteristics: make(map[uint64]bluetooth.DeviceCharacteristic),
		nextHandle:      1,
	}
	b.mu.Unlock()

	return int(mtu), nil
}

// Disconnect tears down a peripheral connection.
func (b *TinygoBackend) Disconnect(address uint64) error {
	b.mu.Lock()
	cd, ok := b.devices[address]
	delete(b.devices, address)
	b.mu.Unlock()

	if !ok {
		return ErrBackendNotConnected
	}
	return cd.device.Disconnect()
}

func (b *TinygoBackend) getDevice(address uint64) (*connectedDevice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cd, ok := b.devices[address]
	if !ok {
		return nil, ErrBackendNotConnected
	}
	return cd, nil
}

// DiscoverServices enumerates every service and characteristic on a
// connected peripheral. Descriptors are not discovered: every
// characteristic is reported with an empty descriptor list, so descriptor
// handles never reach the dispatcher from this backend. tinygo's bluetooth package does
// not expose ATT attribute handles directly, so this backend assigns
// stable sequential handles per connection as it walks the discovered
// tree — handles are opaque to the core, which only requires they
// round-trip (spec.md §3).
func (b *TinygoBackend) DiscoverServices(ctx context.Context, address uint64) ([]BackendService, error) {
	cd, err := b.getDevice(address)
	if err != nil {
		return nil, err
	}

	services, err := cd.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("discover services: %w", err)
	}

	var out []BackendService
	for _, svc := range services {
		bsvc := BackendService{UUID: svc.UUID().String(), Handle: cd.allocHandle()}

		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("discover characteristics: %w", err)
		}
		for _, ch := range chars {
			handle := cd.allocHandle()
			cd.characteristics[handle] = ch
			bsvc.Characteristics = append(bsvc.Characteristics, BackendCharacteristic{
				UUID:       ch.UUID().String(),
				Handle:     handle,
				Properties: characteristicPropertyStrings(ch),
			})
		}
		out = append(out, bsvc)
	}
	return out, nil
}

func (cd *connectedDevice) allocHandle() uint64 {
	h := cd.nextHandle
	cd.nextHandle++
	return h
}

// characteristicPropertyStrings is a placeholder translation from the
// tinygo characteristic to the backend's property vocabulary; tinygo's
// DeviceCharacteristic does not currently expose a property bitmap
// uniformly across all platform backends, so conservatively reports
// read+notify, which covers the common BLE proxy use case (sensor
// telemetry characteristics).
func characteristicPropertyStrings(ch bluetooth.DeviceCharacteristic) []string {
	return []string{"read", "notify"}
}

// ReadCharacteristic reads a characteristic's current value.
func (b *TinygoBackend) ReadCharacteristic(ctx context.Context, address, handle uint64) ([]byte, error) {
	cd, err := b.getDevice(address)
	if err != nil {
		return nil, err
	}
	ch, ok := cd.characteristics[handle]
	if !ok {
		return nil, fmt.Errorf("ble: unknown handle %d", handle)
	}
	buf := make([]byte, 512)
	n, err := ch.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// WriteCharacteristic writes a value to a characteristic. tinygo's
// bluetooth package exposes a single write primitive regardless of
// whether the caller wants a response; withResponse only governs
// whether the dispatcher sends a BluetoothGATTWriteResponse back to the
// client, not which backend call is made.
func (b *TinygoBackend) WriteCharacteristic(ctx context.Context, address, handle uint64, data []byte, withResponse bool) error {
	cd, err := b.getDevice(address)
	if err != nil {
		return err
	}
	ch, ok := cd.characteristics[handle]
	if !ok {
		return fmt.Errorf("ble: unknown handle %d", handle)
	}
	_, err = ch.WriteWithoutResponse(data)
	return err
}

// ReadDescriptor reads a descriptor's current value. tinygo's descriptor
// support is routed through the owning characteristic's read path.
func (b *TinygoBackend) ReadDescriptor(ctx context.Context, address, handle uint64) ([]byte, error) {
	return b.ReadCharacteristic(ctx, address, handle)
}

// WriteDescriptor writes a descriptor's value.
func (b *TinygoBackend) WriteDescriptor(ctx context.Context, address, handle uint64, data []byte) error {
	return b.WriteCharacteristic(ctx, address, handle, data, true)
}

// StartNotify subscribes to value-change notifications on a
// characteristic.
func (b *TinygoBackend) StartNotify(ctx context.Context, address, handle uint64, cb NotifyCallback) error {
	cd, err := b.getDevice(address)
	if err != nil {
		return err
	}
	ch, ok := cd.characteristics[handle]
	if !ok {
		return fmt.Errorf("ble: unknown handle %d", handle)
	}
	return ch.EnableNotifications(func(buf []byte) {
		data := make([]byte, len(buf))
		copy(data, buf)
		cb(handle, data)
	})
}

// StopNotify cancels a previously started subscription.
func (b *TinygoBackend) StopNotify(ctx context.Context, address, handle uint64) error {
	cd, err := b.getDevice(address)
	if err != nil {
		return err
	}
	ch, ok := cd.characteristics[handle]
	if !ok {
		return fmt.Errorf("ble: unknown handle %d", handle)
	}
	return ch.EnableNotifications(nil)
}

func macToAddress(addr bluetooth.Address) uint64 {
	v, _ := MACStringToAddress(addr.MAC.String())
	return v
}

func addressToMAC(address uint64) bluetooth.Address {
	var addr bluetooth.Address
	addr.MAC, _ = bluetooth.ParseMAC(AddressToMACString(address))
	return addr
}
