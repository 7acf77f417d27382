package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 16384, 1 << 35, ^uint64(0)}
	for _, v := range values {
		enc := AppendVarint(nil, v)
		got, n, err := DecodeVarint(enc, 0)
		require.NoError(t, err)
		assert.Equal(t, len(enc), n)
		assert.Equal(t, v, got)
	}
}

func TestDecodeVarintIncomplete(t *testing.T) {
	_, _, err := DecodeVarint([]byte{0x80, 0x80}, 0)
	assert.ErrorIs(t, err, ErrIncompleteVarint)
}

func TestDecodeVarintTooLong(t *testing.T) {
	data := make([]byte, 11)
	for i := range data {
		data[i] = 0x80
	}
	data[10] = 0x01
	_, _, err := DecodeVarint(data, 0)
	assert.ErrorIs(t, err, ErrVarintTooLong)
}

func TestStringRoundTrip(t *testing.T) {
	enc := AppendString(nil, "foo")
	s, n, err := DecodeString(enc, 0)
	require.NoError(t, err)
	assert.Equal(t, "foo", s)
	assert.Equal(t, len(enc), n)
}

func TestDecodeStringTruncated(t *testing.T) {
	enc := AppendString(nil, "hello")
	_, _, err := DecodeString(enc[:len(enc)-1], 0)
	assert.ErrorIs(t, err, ErrTruncatedString)
}

// Scenario 1 from the proxy's end-to-end test matrix: a Hello request
// with client_info="foo" and default version fields.
func TestFrameHelloScenario(t *testing.T) {
	frame := []byte{0x00, 0x05, 0x01, 0x0A, 0x03, 0x66, 0x6F, 0x6F}

	msgType, payload, size, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, len(frame), size)
	assert.Equal(t, uint64(MessageTypeHelloRequest), msgType)

	req, err := DecodeHelloRequest(payload)
	require.NoError(t, err)
	assert.Equal(t, "foo", req.ClientInfo)
	assert.Equal(t, uint64(1), req.APIVersionMajor)
	assert.Equal(t, uint64(10), req.APIVersionMinor)
}

func TestEncodeFrameStartsWithMarker(t *testing.T) {
	frame := EncodeFrame(uint64(MessageTypePingResponse), nil)
	require.NotEmpty(t, frame)
	assert.Equal(t, byte(0x00), frame[0])
}

func TestDecodeFrameRejectsBadMarker(t *testing.T) {
	_, _, _, err := DecodeFrame([]byte{0x01, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrInvalidFrameMarker)
}

func TestDecodeFrameIncomplete(t *testing.T) {
	full := EncodeFrame(uint64(MessageTypeHelloResponse), HelloResponse{Name: "x"}.Encode())
	_, _, _, err := DecodeFrame(full[:len(full)-1])
	assert.ErrorIs(t, err, ErrIncompleteFrame)
}

func TestDecodeFrameArbitraryChunking(t *testing.T) {
	msgs := [][]byte{
		EncodeFrame(uint64(MessageTypePingRequest), nil),
		EncodeFrame(uint64(MessageTypeHelloResponse), HelloResponse{Name: "a", ServerInfo: "b"}.Encode()),
		EncodeFrame(uint64(MessageTypeDeviceInfoResponse), DeviceInfoResponse{Name: "dev"}.Encode()),
	}
	var all []byte
	for _, m := range msgs {
		all = append(all, m...)
	}

	var decoded []uint64
	buf := all
	for len(buf) > 0 {
		msgType, _, size, err := DecodeFrame(buf)
		require.NoError(t, err)
		decoded = append(decoded, msgType)
		buf = buf[size:]
	}
	require.Len(t, decoded, 3)
	assert.Equal(t, uint64(MessageTypePingRequest), decoded[0])
	assert.Equal(t, uint64(MessageTypeHelloResponse), decoded[1])
	assert.Equal(t, uint64(MessageTypeDeviceInfoResponse), decoded[2])
}

func TestDeviceInfoResponseFeatureFlags(t *testing.T) {
	resp := DeviceInfoResponse{
		Name:                       "dev",
		BluetoothProxyFeatureFlags: 97,
	}
	enc := resp.Encode()

	var got uint64
	err := walkFields(enc, func(fieldNum, wireType, offset int) (int, error) {
		if fieldNum == 15 && wireType == wireVarint {
			v, n, err := DecodeVarint(enc, offset)
			if err != nil {
				return 0, err
			}
			got = v
			return n, nil
		}
		return -1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(97), got)
}

func TestConnectRequestRoundTrip(t *testing.T) {
	var b []byte
	b = appendStringField(b, 1, "secret")
	req, err := DecodeConnectRequest(b)
	require.NoError(t, err)
	assert.Equal(t, "secret", req.Password)
}

func TestBluetoothDeviceRequestRoundTrip(t *testing.T) {
	var b []byte
	b = AppendVarint(b, tag(1, wireVarint))
	b = AppendVarint(b, 0xAABBCCDDEEFF)
	b = AppendVarint(b, tag(2, wireVarint))
	b = AppendVarint(b, uint64(AddressTypeRandom))
	b = AppendVarint(b, tag(3, wireVarint))
	b = AppendVarint(b, uint64(BluetoothDeviceActionDisconnect))

	req, err := DecodeBluetoothDeviceRequest(b)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xAABBCCDDEEFF), req.Address)
	assert.Equal(t, AddressTypeRandom, req.AddressType)
	assert.Equal(t, BluetoothDeviceActionDisconnect, req.Action)
}

func TestGATTWriteRequestRoundTrip(t *testing.T) {
	var b []byte
	b = AppendVarint(b, tag(1, wireVarint))
	b = AppendVarint(b, 42)
	b = AppendVarint(b, tag(2, wireVarint))
	b = AppendVarint(b, 7)
	b = AppendVarint(b, tag(3, wireVarint))
	b = AppendBool(b, true)
	b = AppendVarint(b, tag(4, wireLenDel))
	b = AppendVarint(b, 3)
	b = append(b, []byte{0x01, 0x02, 0x03}...)

	req, err := DecodeBluetoothGATTWriteRequest(b)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), req.Address)
	assert.Equal(t, uint64(7), req.Handle)
	assert.True(t, req.Response)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, req.Data)
}

func TestUnknownFieldIsSkipped(t *testing.T) {
	var b []byte
	b = appendVarintField(b, 99, 123) // unknown field, varint
	b = appendStringField(b, 1, "secret")

	req, err := DecodeConnectRequest(b)
	require.NoError(t, err)
	assert.Equal(t, "secret", req.Password)
}
