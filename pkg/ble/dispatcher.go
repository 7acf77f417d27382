package ble

import (
	"context"

	"github.com/btproxy/btproxyd/pkg/logger"
	"github.com/btproxy/btproxyd/pkg/metrics"
	"github.com/btproxy/btproxyd/pkg/wire"
)

// broadcastFunc delivers an encoded response to every authenticated API
// client; supplied by the Coordinator so the dispatcher never needs to
// know about connection registries itself.
type broadcastFunc func(msgType wire.MessageType, payload []byte)

// Dispatcher resolves GATT requests against a slot's discovered service
// tree and drives the backend to satisfy them, grounded in
// gatt_operations.GATTOperationHandler.
type Dispatcher struct {
	log       *logger.Logger
	backend   Backend
	pool      *SlotPool
	broadcast broadcastFunc
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(log *logger.Logger, backend Backend, pool *SlotPool, broadcast broadcastFunc) *Dispatcher {
	return &Dispatcher{log: log, backend: backend, pool: pool, broadcast: broadcast}
}

func (d *Dispatcher) connectedSlot(address uint64) (*Slot, bool) {
	s, ok := d.pool.Get(address)
	if !ok || s.State != SlotConnected {
		return nil, false
	}
	return s, true
}

// GetServices answers a BluetoothGATTGetServicesRequest, discovering and
// caching the service tree on first use for this slot.
func (d *Dispatcher) GetServices(ctx context.Context, address uint64) {
	slot, ok := d.connectedSlot(address)
	if !ok {
		metrics.IncGATTOperation(metrics.OpGetServices, metrics.OutcomeFailure)
		d.broadcast(wire.MessageTypeBluetoothGATTGetServicesResponse,
			wire.BluetoothGATTGetServicesResponse{Address: address}.Encode())
		return
	}

	if slot.SendServiceIndex == -2 {
		services, err := d.backend.DiscoverServices(ctx, address)
		if err != nil {
			if d.log != nil {
				d.log.Error("service discovery failed", "address", AddressToMACString(address), "error", err)
			}
			metrics.IncGATTOperation(metrics.OpGetServices, metrics.OutcomeFailure)
			d.broadcast(wire.MessageTypeBluetoothGATTGetServicesResponse,
				wire.BluetoothGATTGetServicesResponse{Address: address}.Encode())
			return
		}
		slot.Services = services
		slot.SendServiceIndex = -1
	}

	metrics.IncGATTOperation(metrics.OpGetServices, metrics.OutcomeSuccess)
	resp := wire.BluetoothGATTGetServicesResponse{Address: address, Services: convertServices(slot.Services)}
	d.broadcast(wire.MessageTypeBluetoothGATTGetServicesResponse, resp.Encode())
}

func convertServices(services []BackendService) []wire.GATTService {
	out := make([]wire.GATTService, 0, len(services))
	for _, s := range services {
		uuid, err := ExpandUUID(s.UUID)
		if err != nil {
			continue
		}
		ws := wire.GATTService{UUID: uuid, Handle: s.Handle}
		for _, c := range s.Characteristics {
			cuuid, err := ExpandUUID(c.UUID)
			if err != nil {
				continue
			}
			wc := wire.GATTCharacteristic{
				UUID:       cuuid,
				Handle:     c.Handle,
				Properties: ConvertProperties(c.Properties),
			}
			for _, desc := range c.Descriptors {
				duuid, err := ExpandUUID(desc.UUID)
				if err != nil {
					continue
				}
				wc.Descriptors = append(wc.Descriptors, wire.GATTDescriptor{UUID: duuid, Handle: desc.Handle})
			}
			ws.Characteristics = append(ws.Characteristics, wc)
		}
		out = append(out, ws)
	}
	return out
}

// resolveHandle reports whether handle belongs to the slot's discovered
// tree (characteristic or descriptor) — requests for unknown handles
// fail with error code 1 per spec.md §4.6, even if the backend would
// otherwise accept them.
func (d *Dispatcher) resolveHandle(slot *Slot, handle uint64) bool {
	for _, s := range slot.Services {
		for _, c := range s.Characteristics {
			if c.Handle == handle {
				return true
			}
			for _, desc := range c.Descriptors {
				if desc.Handle == handle {
					return true
				}
			}
		}
	}
	return false
}

// ReadCharacteristic handles a BluetoothGATTReadRequest.
func (d *Dispatcher) ReadCharacteristic(ctx context.Context, address, handle uint64) {
	d.read(ctx, address, handle, d.backend.ReadCharacteristic)
}

// ReadDescriptor handles a BluetoothGATTReadDescriptorRequest.
func (d *Dispatcher) ReadDescriptor(ctx context.Context, address, handle uint64) {
	d.read(ctx, address, handle, d.backend.ReadDescriptor)
}

func (d *Dispatcher) read(ctx context.Context, address, handle uint64, op func(context.Context, uint64, uint64) ([]byte, error)) {
	slot, ok := d.connectedSlot(address)
	if !ok || !d.resolveHandle(slot, handle) {
		metrics.IncGATTOperation(metrics.OpRead, metrics.OutcomeFailure)
		d.broadcast(wire.MessageTypeBluetoothGATTReadResponse,
			wire.BluetoothGATTReadResponse{Address: address, Handle: handle, Error: 1}.Encode())
		return
	}

	data, err := op(ctx, address, handle)
	if err != nil {
		if d.log != nil {
			d.log.Error("GATT read failed", "address", AddressToMACString(address), "handle", handle, "error", err)
		}
		metrics.IncGATTOperation(metrics.OpRead, metrics.OutcomeFailure)
		d.broadcast(wire.MessageTypeBluetoothGATTReadResponse,
			wire.BluetoothGATTReadResponse{Address: address, Handle: handle, Error: 1}.Encode())
		return
	}
	metrics.IncGATTOperation(metrics.OpRead, metrics.OutcomeSuccess)
	d.broadcast(wire.MessageTypeBluetoothGATTReadResponse,
		wire.BluetoothGATTReadResponse{Address: address, Handle: handle, Data: data}.Encode())
}

// WriteCharacteristic handles a BluetoothGATTWriteRequest.
func (d *Dispatcher) WriteCharacteristic(ctx context.Context, address, handle uint64, data []byte, responseRequired bool) {
	d.write(ctx, address, handle, data, responseRequired, func(ctx context.Context, addr, h uint64, data []byte) error {
		return d.backend.WriteCharacteristic(ctx, addr, h, data, responseRequired)
	})
}

// WriteDescriptor handles a BluetoothGATTWriteDescriptorRequest.
func (d *Dispatcher) WriteDescriptor(ctx context.Context, address, handle uint64, data []byte, responseRequired bool) {
	d.write(ctx, address, handle, data, responseRequired, d.backend.WriteDescriptor)
}

func (d *Dispatcher) write(ctx context.Context, address, handle uint64, data []byte, responseRequired bool, op func(context.Context, uint64, uint64, []byte) error) {
	slot, ok := d.connectedSlot(address)
	if !ok || !d.resolveHandle(slot, handle) {
		metrics.IncGATTOperation(metrics.OpWrite, metrics.OutcomeFailure)
		if responseRequired {
			d.broadcast(wire.MessageTypeBluetoothGATTWriteResponse,
				wire.BluetoothGATTWriteResponse{Address: address, Handle: handle, Error: 1}.Encode())
		}
		return
	}

	err := op(ctx, address, handle, data)
	if err != nil && d.log != nil {
		d.log.Error("GATT write failed", "address", AddressToMACString(address), "handle", handle, "error", err)
	}
	if err != nil {
		metrics.IncGATTOperation(metrics.OpWrite, metrics.OutcomeFailure)
	} else {
		metrics.IncGATTOperation(metrics.OpWrite, metrics.OutcomeSuccess)
	}
	if !responseRequired {
		return
	}
	if err != nil {
		d.broadcast(wire.MessageTypeBluetoothGATTWriteResponse,
			wire.BluetoothGATTWriteResponse{Address: address, Handle: handle, Error: 1}.Encode())
		return
	}
	d.broadcast(wire.MessageTypeBluetoothGATTWriteResponse,
		wire.BluetoothGATTWriteResponse{Address: address, Handle: handle}.Encode())
}

// Notify enables or disables notification delivery for a characteristic.
// Subscription state is updated before the backend call is made, and
// rolled back if the backend call fails, per spec.md §4.6.
func (d *Dispatcher) Notify(ctx context.Context, address, handle uint64, enable bool) {
	slot, ok := d.connectedSlot(address)
	if !ok || !d.resolveHandle(slot, handle) {
		metrics.IncGATTOperation(metrics.OpNotify, metrics.OutcomeFailure)
		d.broadcast(wire.MessageTypeBluetoothGATTNotifyResponse,
			wire.BluetoothGATTNotifyResponse{Address: address, Handle: handle, Error: 1}.Encode())
		return
	}

	d.pool.SetNotifySubscribed(address, handle, enable)

	var err error
	if enable {
		err = d.backend.StartNotify(ctx, address, handle, func(h uint64, data []byte) {
			d.onNotificationData(address, h, data)
		})
	} else {
		err = d.backend.StopNotify(ctx, address, handle)
	}

	if err != nil {
		d.pool.SetNotifySubscribed(address, handle, !enable)
		if d.log != nil {
			d.log.Error("GATT notify toggle failed", "address", AddressToMACString(address), "handle", handle, "error", err)
		}
		metrics.IncGATTOperation(metrics.OpNotify, metrics.OutcomeFailure)
		d.broadcast(wire.MessageTypeBluetoothGATTNotifyResponse,
			wire.BluetoothGATTNotifyResponse{Address: address, Handle: handle, Error: 1}.Encode())
		return
	}

	metrics.IncGATTOperation(metrics.OpNotify, metrics.OutcomeSuccess)
	d.broadcast(wire.MessageTypeBluetoothGATTNotifyResponse,
		wire.BluetoothGATTNotifyResponse{Address: address, Handle: handle}.Encode())
}

func (d *Dispatcher) onNotificationData(address, handle uint64, data []byte) {
	if !d.pool.IsNotifySubscribed(address, handle) {
		return
	}
	d.broadcast(wire.MessageTypeBluetoothGATTNotifyDataResponse,
		wire.BluetoothGATTNotifyDataResponse{Address: address, Handle: handle, Data: data}.Encode())
}
