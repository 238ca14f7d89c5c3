package storage

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/KilimcininKorOglu/objstore/internal/storage/btree"
	"github.com/KilimcininKorOglu/objstore/internal/storage/freespace"
	"github.com/cockroachdb/errors"
)

// File layout constants.
const (
	// PageSize is the size of one header slot.
	PageSize = 4096

	// HeaderSlots is the number of redundant header copies.
	HeaderSlots = 2

	// DataStart is the first address after the header slots.
	DataStart = HeaderSlots * PageSize

	// CurrentVersion is the current file format version.
	CurrentVersion int32 = 1

	// SignatureSize is the length of the file signature.
	SignatureSize = 38

	// headerEncodedSize is the number of meaningful bytes in a header slot.
	headerEncodedSize = 146
)

// Signature identifies an object store file.
var Signature = [SignatureSize]byte([]byte("objstore persistent object store v0001"))

// FileHeader is the root record of the file. A copy lives at the start of
// each header slot.
// Layout (little-endian):
//   - Bytes 0-3:     Version (int32)
//   - Bytes 4-41:    Signature
//   - Bytes 42-49:   StoreID
//   - Bytes 50-65:   DirectoryRoot address, length
//   - Bytes 66-69:   MinimumNodeSize (int32)
//   - Bytes 70-85:   FreeSpaceMap address, length
//   - Bytes 86-93:   FreeSpaceCount
//   - Bytes 94-101:  Sequence
//   - Bytes 102-109: UsedBytes
//   - Bytes 110-117: MinFileSize
//   - Bytes 118-125: MaxFileSize
//   - Bytes 126-129: CacheSize (int32)
//   - Bytes 130-137: ObjectCount
//   - Bytes 138-141: reserved
//   - Bytes 142-145: Checksum, CRC-32 of bytes 0-141
type FileHeader struct {
	Version         int32
	Signature       [SignatureSize]byte
	StoreID         uint64
	DirectoryRoot   btree.Location
	MinimumNodeSize int32
	FreeSpaceMap    freespace.Extent
	FreeSpaceCount  uint64
	Sequence        uint64
	UsedBytes       uint64
	MinFileSize     uint64
	MaxFileSize     uint64
	CacheSize       int32
	ObjectCount     uint64
	Checksum        uint32
}

// Errors for header decoding.
var (
	ErrHeaderChecksum    = errors.New("file header checksum mismatch")
	ErrInvalidHeaderSize = errors.New("invalid header size")
)

// NewFileHeader creates the header of an empty store.
func NewFileHeader(storeID uint64, minimumNodeSize int, cacheSize int64) *FileHeader {
	return &FileHeader{
		Version:         CurrentVersion,
		Signature:       Signature,
		StoreID:         storeID,
		MinimumNodeSize: int32(minimumNodeSize),
		UsedBytes:       DataStart,
		CacheSize:       int32(cacheSize),
	}
}

// Serialize returns the header encoded into a full slot.
func (h *FileHeader) Serialize() []byte {
	buf := make([]byte, PageSize)
	_ = h.SerializeTo(buf)
	return buf
}

// SerializeTo encodes the header into buf and stores the checksum both in
// buf and in h.
func (h *FileHeader) SerializeTo(buf []byte) error {
	if len(buf) < headerEncodedSize {
		return ErrInvalidHeaderSize
	}
	clear(buf)

	le := binary.LittleEndian
	le.PutUint32(buf[0:], uint32(h.Version))
	copy(buf[4:42], h.Signature[:])
	le.PutUint64(buf[42:], h.StoreID)
	le.PutUint64(buf[50:], h.DirectoryRoot.Address)
	le.PutUint64(buf[58:], h.DirectoryRoot.Length)
	le.PutUint32(buf[66:], uint32(h.MinimumNodeSize))
	le.PutUint64(buf[70:], h.FreeSpaceMap.Address)
	le.PutUint64(buf[78:], h.FreeSpaceMap.Length)
	le.PutUint64(buf[86:], h.FreeSpaceCount)
	le.PutUint64(buf[94:], h.Sequence)
	le.PutUint64(buf[102:], h.UsedBytes)
	le.PutUint64(buf[110:], h.MinFileSize)
	le.PutUint64(buf[118:], h.MaxFileSize)
	le.PutUint32(buf[126:], uint32(h.CacheSize))
	le.PutUint64(buf[130:], h.ObjectCount)

	h.Checksum = crc32.ChecksumIEEE(buf[:142])
	le.PutUint32(buf[142:], h.Checksum)
	return nil
}

// Deserialize decodes a header slot without validating it.
func (h *FileHeader) Deserialize(buf []byte) error {
	if len(buf) < headerEncodedSize {
		return ErrInvalidHeaderSize
	}

	le := binary.LittleEndian
	h.Version = int32(le.Uint32(buf[0:]))
	copy(h.Signature[:], buf[4:42])
	h.StoreID = le.Uint64(buf[42:])
	h.DirectoryRoot.Address = le.Uint64(buf[50:])
	h.DirectoryRoot.Length = le.Uint64(buf[58:])
	h.MinimumNodeSize = int32(le.Uint32(buf[66:]))
	h.FreeSpaceMap.Address = le.Uint64(buf[70:])
	h.FreeSpaceMap.Length = le.Uint64(buf[78:])
	h.FreeSpaceCount = le.Uint64(buf[86:])
	h.Sequence = le.Uint64(buf[94:])
	h.UsedBytes = le.Uint64(buf[102:])
	h.MinFileSize = le.Uint64(buf[110:])
	h.MaxFileSize = le.Uint64(buf[118:])
	h.CacheSize = int32(le.Uint32(buf[126:]))
	h.ObjectCount = le.Uint64(buf[130:])
	h.Checksum = le.Uint32(buf[142:])

	if got := crc32.ChecksumIEEE(buf[:142]); got != h.Checksum {
		return errors.Wrapf(ErrHeaderChecksum, "stored %08x, computed %08x", h.Checksum, got)
	}
	return nil
}

// Validate checks the signature, version and field ranges.
func (h *FileHeader) Validate() error {
	if h.Signature != Signature {
		return ErrBadSignature
	}
	if h.Version <= 0 || h.Version > CurrentVersion {
		return errors.Wrapf(ErrUnsupportedVersion, "version %d", h.Version)
	}
	if h.MinimumNodeSize < 2 {
		return errors.Wrapf(ErrCorrupted, "minimum node size %d", h.MinimumNodeSize)
	}
	if h.UsedBytes < DataStart {
		return errors.Wrapf(ErrCorrupted, "used size %d below data start", h.UsedBytes)
	}
	if h.DirectoryRoot.End() > h.UsedBytes || h.FreeSpaceMap.End() > h.UsedBytes {
		return errors.Wrapf(ErrCorrupted, "root or free space map beyond used size %d", h.UsedBytes)
	}
	if freespace.MapSize(int(h.FreeSpaceCount)) > h.FreeSpaceMap.Length {
		return errors.Wrapf(ErrCorrupted, "%d free space entries do not fit %d bytes", h.FreeSpaceCount, h.FreeSpaceMap.Length)
	}
	return nil
}

// DeserializeAndValidate decodes and validates a header slot.
func (h *FileHeader) DeserializeAndValidate(buf []byte) error {
	if err := h.Deserialize(buf); err != nil {
		// A bad signature explains a bad checksum better.
		if h.Signature != Signature {
			return ErrBadSignature
		}
		return errors.Mark(err, ErrCorrupted)
	}
	return h.Validate()
}

// slotOffset returns the file offset of header slot i.
func slotOffset(i int) int64 {
	return int64(i) * PageSize
}
