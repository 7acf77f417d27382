package wire

// MessageType identifies the payload carried by a frame, matching the
// ESPHome native API numbering.
type MessageType uint64

const (
	MessageTypeHelloRequest  MessageType = 1
	MessageTypeHelloResponse MessageType = 2

	MessageTypeConnectRequest  MessageType = 3
	MessageTypeConnectResponse MessageType = 4

	MessageTypeDisconnectRequest  MessageType = 5
	MessageTypeDisconnectResponse MessageType = 6

	MessageTypePingRequest  MessageType = 7
	MessageTypePingResponse MessageType = 8

	MessageTypeDeviceInfoRequest  MessageType = 9
	MessageTypeDeviceInfoResponse MessageType = 10

	MessageTypeListEntitiesRequest      MessageType = 11
	MessageTypeListEntitiesDoneResponse MessageType = 19

	MessageTypeSubscribeStatesRequest MessageType = 20

	MessageTypeBluetoothLEAdvertisementResponse     MessageType = 24
	MessageTypeBluetoothLERawAdvertisementsResponse MessageType = 25
	MessageTypeBluetoothDeviceRequest               MessageType = 26
	MessageTypeBluetoothDeviceConnectionResponse    MessageType = 27
	MessageTypeBluetoothGATTGetServicesRequest      MessageType = 28
	MessageTypeBluetoothGATTGetServicesResponse     MessageType = 29
	MessageTypeBluetoothGATTReadRequest             MessageType = 30
	MessageTypeBluetoothGATTReadResponse            MessageType = 31
	MessageTypeBluetoothGATTWriteRequest            MessageType = 32
	MessageTypeBluetoothGATTWriteResponse           MessageType = 33
	MessageTypeBluetoothGATTNotifyRequest           MessageType = 34
	MessageTypeBluetoothGATTNotifyResponse          MessageType = 35
	MessageTypeBluetoothGATTNotifyDataResponse      MessageType = 36

	// MessageTypeBluetoothScannerStateResponse pushes scanner mode
	// changes (off/passive/active) to subscribed clients; not part of
	// the original distilled handshake but carried from the reference
	// implementation's scanner-state push (see SPEC_FULL.md §12).
	MessageTypeBluetoothScannerStateResponse       MessageType = 126
	MessageTypeBluetoothGATTReadDescriptorRequest  MessageType = 80
	MessageTypeBluetoothGATTWriteDescriptorRequest MessageType = 81
)

// BluetoothDeviceAction selects the operation requested by a
// BluetoothDeviceRequest message.
type BluetoothDeviceAction uint64

const (
	BluetoothDeviceActionConnect    BluetoothDeviceAction = 0
	BluetoothDeviceActionDisconnect BluetoothDeviceAction = 1
)

// AddressType distinguishes public from random BLE device addresses.
type AddressType uint64

const (
	AddressTypePublic AddressType = 0
	AddressTypeRandom AddressType = 1
)

// ScannerMode mirrors the BLE coordinator's current scanning posture.
type ScannerMode uint64

const (
	ScannerModeOff     ScannerMode = 0
	ScannerModePassive ScannerMode = 1
	ScannerModeActive  ScannerMode = 2
)
