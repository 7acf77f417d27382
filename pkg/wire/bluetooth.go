package wire

// BluetoothLEAdvertisement is a single scanned advertisement.
type BluetoothLEAdvertisement struct {
	Address     uint64
	RSSI        int32
	AddressType AddressType
	Data        []byte
}

// Encode serializes a single advertisement as a nested message (used both
// standalone, which this proxy never emits, and embedded inside a raw
// advertisements batch).
func (m BluetoothLEAdvertisement) Encode() []byte {
	var b []byte
	b = AppendVarint(b, tag(1, wireVarint))
	b = AppendVarint(b, m.Address)
	b = AppendVarint(b, tag(2, wireVarint))
	b = AppendVarint(b, uint64(uint32(m.RSSI)))
	b = AppendVarint(b, tag(3, wireVarint))
	b = AppendVarint(b, uint64(m.AddressType))
	b = appendBytesField(b, 4, m.Data)
	return b
}

// BluetoothLERawAdvertisementsResponse batches one or more advertisements
// into a single outbound frame, matching the advertisement batcher's
// flush unit.
type BluetoothLERawAdvertisementsResponse struct {
	Advertisements []BluetoothLEAdvertisement
}

// Encode serializes the batch as repeated nested field-1 messages.
func (m BluetoothLERawAdvertisementsResponse) Encode() []byte {
	var b []byte
	for _, adv := range m.Advertisements {
		b = appendMessageField(b, 1, adv.Encode())
	}
	return b
}

// BluetoothDeviceRequest asks the coordinator to connect or disconnect a
// peripheral.
type BluetoothDeviceRequest struct {
	Address     uint64
	AddressType AddressType
	Action      BluetoothDeviceAction
}

// DecodeBluetoothDeviceRequest decodes the request payload.
func DecodeBluetoothDeviceRequest(data []byte) (BluetoothDeviceRequest, error) {
	var msg BluetoothDeviceRequest
	err := walkFields(data, func(fieldNum, wireType, offset int) (int, error) {
		switch {
		case fieldNum == 1 && wireType == wireVarint:
			v, n, err := DecodeVarint(data, offset)
			if err != nil {
				return 0, err
			}
			msg.Address = v
			return n, nil
		case fieldNum == 2 && wireType == wireVarint:
			v, n, err := DecodeVarint(data, offset)
			if err != nil {
				return 0, err
			}
			msg.AddressType = AddressType(v)
			return n, nil
		case fieldNum == 3 && wireType == wireVarint:
			v, n, err := DecodeVarint(data, offset)
			if err != nil {
				return 0, err
			}
			msg.Action = BluetoothDeviceAction(v)
			return n, nil
		}
		return -1, nil
	})
	return msg, err
}

// BluetoothDeviceConnectionResponse reports the outcome of a connect or
// disconnect action.
type BluetoothDeviceConnectionResponse struct {
	Address   uint64
	Connected bool
	MTU       uint64
	Error     uint64
}

// Encode serializes the response.
func (m BluetoothDeviceConnectionResponse) Encode() []byte {
	var b []byte
	b = AppendVarint(b, tag(1, wireVarint))
	b = AppendVarint(b, m.Address)
	b = AppendVarint(b, tag(2, wireVarint))
	b = AppendBool(b, m.Connected)
	b = appendVarintField(b, 3, m.MTU)
	b = appendVarintField(b, 4, m.Error)
	return b
}

// GATTService, GATTCharacteristic and GATTDescriptor mirror the
// discovered attribute tree of a connected peripheral.
type GATTDescriptor struct {
	UUID   []byte
	Handle uint64
}

func (d GATTDescriptor) encode() []byte {
	var b []byte
	b = appendBytesField(b, 1, d.UUID)
	b = AppendVarint(b, tag(2, wireVarint))
	b = AppendVarint(b, d.Handle)
	return b
}

type GATTCharacteristic struct {
	UUID        []byte
	Handle      uint64
	Properties  uint64
	Descriptors []GATTDescriptor
}

func (c GATTCharacteristic) encode() []byte {
	var b []byte
	b = appendBytesField(b, 1, c.UUID)
	b = AppendVarint(b, tag(2, wireVarint))
	b = AppendVarint(b, c.Handle)
	b = appendVarintField(b, 3, c.Properties)
	for _, d := range c.Descriptors {
		b = appendMessageField(b, 4, d.encode())
	}
	return b
}

type GATTService struct {
	UUID            []byte
	Handle          uint64
	Characteristics []GATTCharacteristic
}

func (s GATTService) encode() []byte {
	var b []byte
	b = appendBytesField(b, 1, s.UUID)
	b = AppendVarint(b, tag(2, wireVarint))
	b = AppendVarint(b, s.Handle)
	for _, c := range s.Characteristics {
		b = appendMessageField(b, 3, c.encode())
	}
	return b
}

// BluetoothGATTGetServicesRequest asks for the discovered service tree of
// a connected peripheral.
type BluetoothGATTGetServicesRequest struct {
	Address uint64
}

// DecodeBluetoothGATTGetServicesRequest decodes the request payload.
func DecodeBluetoothGATTGetServicesRequest(data []byte) (BluetoothGATTGetServicesRequest, error) {
	var msg BluetoothGATTGetServicesRequest
	err := walkFields(data, func(fieldNum, wireType, offset int) (int, error) {
		if fieldNum == 1 && wireType == wireVarint {
			v, n, err := DecodeVarint(data, offset)
			if err != nil {
				return 0, err
			}
			msg.Address = v
			return n, nil
		}
		return -1, nil
	})
	return msg, err
}

// BluetoothGATTGetServicesResponse carries the full discovered service
// tree in a single message.
type BluetoothGATTGetServicesResponse struct {
	Address  uint64
	Services []GATTService
}

// Encode serializes the response.
func (m BluetoothGATTGetServicesResponse) Encode() []byte {
	var b []byte
	b = AppendVarint(b, tag(1, wireVarint))
	b = AppendVarint(b, m.Address)
	for _, s := range m.Services {
		b = appendMessageField(b, 2, s.encode())
	}
	return b
}

// BluetoothGATTReadRequest asks to read a characteristic or descriptor by
// handle.
type BluetoothGATTReadRequest struct {
	Address uint64
	Handle  uint64
}

// DecodeBluetoothGATTReadRequest decodes the request payload. The same
// layout serves plain characteristic reads and descriptor reads; the
// dispatcher distinguishes them by which message type carried the frame.
func DecodeBluetoothGATTReadRequest(data []byte) (BluetoothGATTReadRequest, error) {
	var msg BluetoothGATTReadRequest
	err := walkFields(data, func(fieldNum, wireType, offset int) (int, error) {
		switch {
		case fieldNum == 1 && wireType == wireVarint:
			v, n, err := DecodeVarint(data, offset)
			if err != nil {
				return 0, err
			}
			msg.Address = v
			return n, nil
		case fieldNum == 2 && wireType == wireVarint:
			v, n, err := DecodeVarint(data, offset)
			if err != nil {
				return 0, err
			}
			msg.Handle = v
			return n, nil
		}
		return -1, nil
	})
	return msg, err
}

// BluetoothGATTReadResponse answers a read request, or reports failure
// via a non-zero Error with empty Data.
type BluetoothGATTReadResponse struct {
	Address uint64
	Handle  uint64
	Data    []byte
	Error   uint64
}

// Encode serializes the response.
func (m BluetoothGATTReadResponse) Encode() []byte {
	var b []byte
	b = AppendVarint(b, tag(1, wireVarint))
	b = AppendVarint(b, m.Address)
	b = AppendVarint(b, tag(2, wireVarint))
	b = AppendVarint(b, m.Handle)
	b = appendBytesField(b, 3, m.Data)
	b = appendVarintField(b, 4, m.Error)
	return b
}

// BluetoothGATTWriteRequest asks to write a characteristic or descriptor
// by handle.
type BluetoothGATTWriteRequest struct {
	Address  uint64
	Handle   uint64
	Response bool
	Data     []byte
}

// DecodeBluetoothGATTWriteRequest decodes the request payload.
func DecodeBluetoothGATTWriteRequest(data []byte) (BluetoothGATTWriteRequest, error) {
	msg := BluetoothGATTWriteRequest{Response: true}
	err := walkFields(data, func(fieldNum, wireType, offset int) (int, error) {
		switch {
		case fieldNum == 1 && wireType == wireVarint:
			v, n, err := DecodeVarint(data, offset)
			if err != nil {
				return 0, err
			}
			msg.Address = v
			return n, nil
		case fieldNum == 2 && wireType == wireVarint:
			v, n, err := DecodeVarint(data, offset)
			if err != nil {
				return 0, err
			}
			msg.Handle = v
			return n, nil
		case fieldNum == 3 && wireType == wireVarint:
			v, n, err := DecodeVarint(data, offset)
			if err != nil {
				return 0, err
			}
			msg.Response = v != 0
			return n, nil
		case fieldNum == 4 && wireType == wireLenDel:
			length, n, err := DecodeVarint(data, offset)
			if err != nil {
				return 0, err
			}
			start := offset + n
			end := start + int(length)
			if end > len(data) {
				return 0, ErrTruncatedString
			}
			msg.Data = data[start:end]
			return n + int(length), nil
		}
		return -1, nil
	})
	return msg, err
}

// BluetoothGATTWriteResponse acknowledges a write-with-response request.
type BluetoothGATTWriteResponse struct {
	Address uint64
	Handle  uint64
	Error   uint64
}

// Encode serializes the response.
func (m BluetoothGATTWriteResponse) Encode() []byte {
	var b []byte
	b = AppendVarint(b, tag(1, wireVarint))
	b = AppendVarint(b, m.Address)
	b = AppendVarint(b, tag(2, wireVarint))
	b = AppendVarint(b, m.Handle)
	b = appendVarintField(b, 3, m.Error)
	return b
}

// BluetoothGATTNotifyRequest enables or disables notification delivery
// for a characteristic.
type BluetoothGATTNotifyRequest struct {
	Address uint64
	Handle  uint64
	Enable  bool
}

// DecodeBluetoothGATTNotifyRequest decodes the request payload.
func DecodeBluetoothGATTNotifyRequest(data []byte) (BluetoothGATTNotifyRequest, error) {
	var msg BluetoothGATTNotifyRequest
	err := walkFields(data, func(fieldNum, wireType, offset int) (int, error) {
		switch {
		case fieldNum == 1 && wireType == wireVarint:
			v, n, err := DecodeVarint(data, offset)
			if err != nil {
				return 0, err
			}
			msg.Address = v
			return n, nil
		case fieldNum == 2 && wireType == wireVarint:
			v, n, err := DecodeVarint(data, offset)
			if err != nil {
				return 0, err
			}
			msg.Handle = v
			return n, nil
		case fieldNum == 3 && wireType == wireVarint:
			v, n, err := DecodeVarint(data, offset)
			if err != nil {
				return 0, err
			}
			msg.Enable = v != 0
			return n, nil
		}
		return -1, nil
	})
	return msg, err
}

// BluetoothGATTNotifyResponse acknowledges a subscribe/unsubscribe
// request.
type BluetoothGATTNotifyResponse struct {
	Address uint64
	Handle  uint64
	Error   uint64
}

// Encode serializes the response.
func (m BluetoothGATTNotifyResponse) Encode() []byte {
	var b []byte
	b = AppendVarint(b, tag(1, wireVarint))
	b = AppendVarint(b, m.Address)
	b = AppendVarint(b, tag(2, wireVarint))
	b = AppendVarint(b, m.Handle)
	b = appendVarintField(b, 3, m.Error)
	return b
}

// BluetoothGATTNotifyDataResponse carries one notification payload from
// a subscribed characteristic.
type BluetoothGATTNotifyDataResponse struct {
	Address uint64
	Handle  uint64
	Data    []byte
}

// Encode serializes the response.
func (m BluetoothGATTNotifyDataResponse) Encode() []byte {
	var b []byte
	b = AppendVarint(b, tag(1, wireVarint))
	b = AppendVarint(b, m.Address)
	b = AppendVarint(b, tag(2, wireVarint))
	b = AppendVarint(b, m.Handle)
	b = appendBytesField(b, 3, m.Data)
	return b
}

// BluetoothScannerStateResponse reports the coordinator's current
// scanning posture to a subscribed client.
type BluetoothScannerStateResponse struct {
	Mode ScannerMode
}

// Encode serializes the response.
func (m BluetoothScannerStateResponse) Encode() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(m.Mode))
	return b
}
