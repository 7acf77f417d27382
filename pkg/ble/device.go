package ble

import (
	"errors"
	"fmt"

	"github.com/btproxy/btproxyd/pkg/wire"
)

// Feature bitmap, matching the reference implementation's
// BluetoothProxyFeature flags.
const (
	FeaturePassiveScan       uint64 = 1 << 0
	FeatureActiveConnections uint64 = 1 << 1
	FeatureRemoteCaching     uint64 = 1 << 2
	FeaturePairing           uint64 = 1 << 3
	FeatureCacheClearing     uint64 = 1 << 4
	FeatureRawAdvertisements uint64 = 1 << 5
	FeatureStateAndMode      uint64 = 1 << 6
)

// ErrNoHardwareMAC is returned when the backend cannot report a real
// adapter MAC address. This proxy refuses to start in that case rather
// than fabricate one — the strict variant chosen in SPEC_FULL.md, one
// of three incompatible behaviours the reference implementation leaves
// ambiguous.
var ErrNoHardwareMAC = errors.New("ble: no hardware Bluetooth adapter MAC address available")

// Identity holds the proxy's static device identity, reported to every
// client via DeviceInfoResponse.
type Identity struct {
	Name                string
	FriendlyName        string
	Manufacturer        string
	Model               string
	ESPHomeVersion      string
	ProjectName         string
	ProjectVersion      string
	CompilationTime     string
	MACAddress          string
	BluetoothMACAddress string
	UsesPassword        bool
	ActiveConnections   bool
}

// DiscoverIdentity builds an Identity for the running proxy. It queries
// the backend for the adapter's real hardware MAC and fails closed if
// none is available — this proxy never synthesizes a MAC address.
func DiscoverIdentity(backend Backend, name, friendlyName, password string, activeConnections bool, compilationTime string) (Identity, error) {
	mac, err := backend.AdapterMAC()
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrNoHardwareMAC, err)
	}
	if mac == "" {
		return Identity{}, ErrNoHardwareMAC
	}

	return Identity{
		Name:                name,
		FriendlyName:        friendlyName,
		Manufacturer:        "btproxyd Community",
		Model:               "Go Bluetooth Proxy",
		ESPHomeVersion:      "2024.12.0",
		ProjectName:         "esphome.btproxyd",
		ProjectVersion:      "0.1.0",
		CompilationTime:     compilationTime,
		MACAddress:          mac,
		BluetoothMACAddress: mac,
		UsesPassword:        password != "",
		ActiveConnections:   activeConnections,
	}, nil
}

// FeatureFlags computes the capability bitmap for this identity's
// configuration. PassiveScan, RawAdvertisements and StateAndMode are
// always advertised; the active-connection family is conditional on
// whether active connections are enabled.
func (id Identity) FeatureFlags() uint64 {
	flags := FeaturePassiveScan | FeatureRawAdvertisements | FeatureStateAndMode
	if id.ActiveConnections {
		flags |= FeatureActiveConnections | FeatureRemoteCaching | FeaturePairing | FeatureCacheClearing
	}
	return flags
}

// ToWire builds the DeviceInfoResponse for this identity.
func (id Identity) ToWire() wire.DeviceInfoResponse {
	return wire.DeviceInfoResponse{
		UsesPassword:               id.UsesPassword,
		Name:                       id.Name,
		MACAddress:                 id.MACAddress,
		ESPHomeVersion:             id.ESPHomeVersion,
		CompilationTime:            id.CompilationTime,
		Model:                      id.Model,
		HasDeepSleep:               false,
		ProjectName:                id.ProjectName,
		ProjectVersion:             id.ProjectVersion,
		WebserverPort:              0,
		Manufacturer:               id.Manufacturer,
		FriendlyName:               id.FriendlyName,
		BluetoothProxyFeatureFlags: id.FeatureFlags(),
		BluetoothMACAddress:        id.BluetoothMACAddress,
	}
}
