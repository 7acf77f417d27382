package wire

import "errors"

// ErrInvalidFrameMarker is returned when a frame does not begin with the
// zero-byte marker required by the protocol.
var ErrInvalidFrameMarker = errors.New("wire: invalid frame start marker")

// ErrIncompleteFrame is returned when the buffer ends before the frame's
// header or payload is complete. Callers should retry once more data
// arrives.
var ErrIncompleteFrame = errors.New("wire: incomplete frame")

// EncodeFrame wraps a message type and its encoded payload in the
// ESPHome frame envelope: a zero marker byte, a varint payload length,
// a varint message type, then the payload itself.
func EncodeFrame(msgType uint64, payload []byte) []byte {
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, 0x00)
	frame = AppendVarint(frame, uint64(len(payload)))
	frame = AppendVarint(frame, msgType)
	frame = append(frame, payload...)
	return frame
}

// DecodeFrame parses one frame from the head of data. It returns the
// message type, the payload slice (aliasing data), and the total number
// of bytes the frame occupied. ErrIncompleteFrame signals the caller
// should buffer more bytes and retry; any other error is fatal to the
// connection.
func DecodeFrame(data []byte) (msgType uint64, payload []byte, size int, err error) {
	if len(data) < 1 {
		return 0, nil, 0, ErrIncompleteFrame
	}
	if data[0] != 0x00 {
		return 0, nil, 0, ErrInvalidFrameMarker
	}

	offset := 1
	payloadLen, n, err := DecodeVarint(data, offset)
	if err != nil {
		if errors.Is(err, ErrIncompleteVarint) {
			return 0, nil, 0, ErrIncompleteFrame
		}
		return 0, nil, 0, err
	}
	offset += n

	msgType, n, err = DecodeVarint(data, offset)
	if err != nil {
		if errors.Is(err, ErrIncompleteVarint) {
			return 0, nil, 0, ErrIncompleteFrame
		}
		return 0, nil, 0, err
	}
	offset += n

	total := offset + int(payloadLen)
	if total > len(data) {
		return 0, nil, 0, ErrIncompleteFrame
	}

	return msgType, data[offset:total], total, nil
}
