package storage

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/cockroachdb/errors"
)

// objectFrameSize is the framing overhead of a stored object:
// payload length (uint32) and CRC-32 of the payload (uint32).
const objectFrameSize = 8

// MaxObjectSize is the largest payload a single object may carry.
const MaxObjectSize = 1<<32 - 1

// encodeObject frames a payload for storage.
func encodeObject(payload []byte) []byte {
	buf := make([]byte, objectFrameSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[4:], crc32.ChecksumIEEE(payload))
	copy(buf[objectFrameSize:], payload)
	return buf
}

// decodeObject returns the payload of a framed object. buf may be longer
// than the frame.
func decodeObject(buf []byte) ([]byte, error) {
	if len(buf) < objectFrameSize {
		return nil, errors.Wrapf(ErrCorrupted, "object region of %d bytes", len(buf))
	}
	length := uint64(binary.LittleEndian.Uint32(buf[0:]))
	if objectFrameSize+length > uint64(len(buf)) {
		return nil, errors.Wrapf(ErrCorrupted, "payload of %d bytes in region of %d", length, len(buf))
	}
	payload := buf[objectFrameSize : objectFrameSize+length]
	if got, want := crc32.ChecksumIEEE(payload), binary.LittleEndian.Uint32(buf[4:]); got != want {
		return nil, errors.Wrapf(ErrCorrupted, "payload checksum %08x, expected %08x", got, want)
	}
	return payload, nil
}

// framedSize returns the stored size of a payload.
func framedSize(payloadLen int) uint64 {
	return objectFrameSize + uint64(payloadLen)
}
