package ble

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// bluetoothBaseUUIDSuffix is the fixed tail of the Bluetooth base UUID
// (0000xxxx-0000-1000-8000-00805F9B34FB) once the leading 32 bits are
// supplied by a 16- or 32-bit short UUID.
const bluetoothBaseUUIDSuffix = "00001000800000805f9b34fb"

// ExpandUUID converts a backend-reported UUID string into the 16-byte
// wire representation. 16-bit and 32-bit short UUIDs are expanded onto
// the Bluetooth base UUID; any other length is interpreted as a literal
// 128-bit UUID (with or without hyphens).
func ExpandUUID(uuidStr string) ([]byte, error) {
	hexStr := strings.ToLower(strings.ReplaceAll(uuidStr, "-", ""))

	switch len(hexStr) {
	case 4:
		hexStr = "0000" + hexStr + bluetoothBaseUUIDSuffix
	case 8:
		hexStr = hexStr + bluetoothBaseUUIDSuffix
	case 32:
		// already a full 128-bit UUID
	default:
		return nil, fmt.Errorf("ble: unexpected UUID length %d for %q", len(hexStr), uuidStr)
	}

	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("ble: invalid UUID %q: %w", uuidStr, err)
	}
	return b, nil
}

// propertyBits maps the backend's property vocabulary onto the wire
// bitmap from spec.md §3. Unrecognized strings are dropped rather than
// rejected, matching the reference implementation.
var propertyBits = map[string]uint64{
	"read":                   0x02,
	"write-without-response": 0x04,
	"write":                  0x08,
	"notify":                 0x10,
	"indicate":               0x20,
}

// ConvertProperties folds a backend property-string list into the wire
// bitmap.
func ConvertProperties(props []string) uint64 {
	var bits uint64
	for _, p := range props {
		bits |= propertyBits[p]
	}
	return bits
}

// AddressToMACString renders a 48-bit address (as carried on the wire,
// big-endian-significant within the low 48 bits of a uint64) as a
// colon-separated MAC string. Byte order is reversed relative to the
// integer's natural encoding, matching the reference implementation.
func AddressToMACString(address uint64) string {
	var b [6]byte
	for i := 0; i < 6; i++ {
		b[i] = byte(address >> (i * 8))
	}
	// reverse to big-endian MAC order
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", b[0], b[1], b[2], b[3], b[4], b[5])
}

// MACStringToAddress parses a colon-separated MAC string into the wire's
// uint64 address representation. It is the inverse of
// AddressToMACString.
func MACStringToAddress(mac string) (uint64, error) {
	parts := strings.Split(mac, ":")
	if len(parts) != 6 {
		return 0, fmt.Errorf("ble: invalid MAC address %q", mac)
	}
	var b [6]byte
	for i, p := range parts {
		v, err := hex.DecodeString(p)
		if err != nil || len(v) != 1 {
			return 0, fmt.Errorf("ble: invalid MAC address %q", mac)
		}
		b[i] = v[0]
	}
	var addr uint64
	for i := 0; i < 6; i++ {
		addr |= uint64(b[i]) << ((5 - i) * 8)
	}
	return addr, nil
}
