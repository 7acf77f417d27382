package ble

import (
	"context"
	"sync"
)

// fakeBackend is an in-memory Backend used by tests; it never touches
// real hardware.
type fakeBackend struct {
	mu sync.Mutex

	adapterMAC string
	adapterErr error

	connected  map[uint64]bool
	connectErr error
	mtu        int

	services    []BackendService
	discoverErr error

	readData map[uint64][]byte
	readErr  error
	writeErr error

	notifyCallbacks map[uint64]NotifyCallback
	notifyErr       error

	scanning bool
	onAdv    func(AdvertisementEvent)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		adapterMAC:      "aa:bb:cc:dd:ee:ff",
		connected:       make(map[uint64]bool),
		readData:        make(map[uint64][]byte),
		notifyCallbacks: make(map[uint64]NotifyCallback),
		mtu:             185,
	}
}

func (f *fakeBackend) AdapterMAC() (string, error) {
	return f.adapterMAC, f.adapterErr
}

func (f *fakeBackend) StartScan(ctx context.Context, mode ScanMode, onAdv func(AdvertisementEvent)) error {
	f.mu.Lock()
	f.scanning = true
	f.onAdv = onAdv
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) StopScan() error {
	f.mu.Lock()
	f.scanning = false
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) emit(ev AdvertisementEvent) {
	f.mu.Lock()
	cb := f.onAdv
	f.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (f *fakeBackend) Connect(ctx context.Context, address uint64, addressType uint64) (int, error) {
	if f.connectErr != nil {
		return 0, f.connectErr
	}
	f.mu.Lock()
	f.connected[address] = true
	f.mu.Unlock()
	return f.mtu, nil
}

func (f *fakeBackend) Disconnect(address uint64) error {
	f.mu.Lock()
	delete(f.connected, address)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) DiscoverServices(ctx context.Context, address uint64) ([]BackendService, error) {
	if f.discoverErr != nil {
		return nil, f.discoverErr
	}
	return f.services, nil
}

func (f *fakeBackend) ReadCharacteristic(ctx context.Context, address, handle uint64) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.readData[handle], nil
}

func (f *fakeBackend) WriteCharacteristic(ctx context.Context, address, handle uint64, data []byte, withResponse bool) error {
	return f.writeErr
}

func (f *fakeBackend) ReadDescriptor(ctx context.Context, address, handle uint64) ([]byte, error) {
	return f.ReadCharacteristic(ctx, address, handle)
}

func (f *fakeBackend) WriteDescriptor(ctx context.Context, address, handle uint64, data []byte) error {
	return f.writeErr
}

func (f *fakeBackend) StartNotify(ctx context.Context, address, handle uint64, cb NotifyCallback) error {
	if f.notifyErr != nil {
		return f.notifyErr
	}
	f.mu.Lock()
	f.notifyCallbacks[handle] = cb
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) StopNotify(ctx context.Context, address, handle uint64) error {
	f.mu.Lock()
	delete(f.notifyCallbacks, handle)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) pushNotification(handle uint64, data []byte) {
	f.mu.Lock()
	cb := f.notifyCallbacks[handle]
	f.mu.Unlock()
	if cb != nil {
		cb(handle, data)
	}
}

var _ Backend = (*fakeBackend)(nil)
