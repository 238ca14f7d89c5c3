package storage

import (
	"testing"

	"github.com/KilimcininKorOglu/objstore/internal/storage/btree"
	"github.com/KilimcininKorOglu/objstore/internal/storage/freespace"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeader() *FileHeader {
	h := NewFileHeader(0xfeedface, 16, 1024)
	h.DirectoryRoot = btree.Location{Address: 9000, Length: 520}
	h.FreeSpaceMap = freespace.Extent{Address: 9600, Length: 64}
	h.FreeSpaceCount = 3
	h.Sequence = 7
	h.UsedBytes = 20000
	h.MaxFileSize = 1 << 20
	h.ObjectCount = 12
	return h
}

func TestNewFileHeader(t *testing.T) {
	h := NewFileHeader(1, 4, 8)

	assert.Equal(t, CurrentVersion, h.Version)
	assert.Equal(t, Signature, h.Signature)
	assert.Equal(t, int32(4), h.MinimumNodeSize)
	assert.Equal(t, uint64(DataStart), h.UsedBytes)
	assert.True(t, h.DirectoryRoot.IsZero())
	require.NoError(t, h.Validate())
}

func TestFileHeaderRoundTrip(t *testing.T) {
	h := testHeader()
	buf := h.Serialize()
	require.Len(t, buf, PageSize)

	got := &FileHeader{}
	require.NoError(t, got.DeserializeAndValidate(buf))
	assert.Equal(t, h, got)
}

func TestFileHeaderChecksum(t *testing.T) {
	buf := testHeader().Serialize()
	buf[100] ^= 0xff

	err := (&FileHeader{}).Deserialize(buf)
	assert.True(t, errors.Is(err, ErrHeaderChecksum))

	err = (&FileHeader{}).DeserializeAndValidate(buf)
	assert.True(t, errors.Is(err, ErrCorrupted))
}

func TestFileHeaderBadSignature(t *testing.T) {
	buf := testHeader().Serialize()
	copy(buf[4:], "not a store")

	err := (&FileHeader{}).DeserializeAndValidate(buf)
	assert.True(t, errors.Is(err, ErrBadSignature))

	err = (&FileHeader{}).DeserializeAndValidate(make([]byte, PageSize))
	assert.True(t, errors.Is(err, ErrBadSignature))

	err = (&FileHeader{}).DeserializeAndValidate(buf[:10])
	assert.True(t, errors.Is(err, ErrBadSignature))
}

func TestFileHeaderValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*FileHeader)
		want   error
	}{
		{"future version", func(h *FileHeader) { h.Version = CurrentVersion + 1 }, ErrUnsupportedVersion},
		{"node size", func(h *FileHeader) { h.MinimumNodeSize = 1 }, ErrCorrupted},
		{"used below data start", func(h *FileHeader) { h.UsedBytes = 100 }, ErrCorrupted},
		{"root beyond end", func(h *FileHeader) { h.DirectoryRoot.Address = 19800 }, ErrCorrupted},
		{"map too small", func(h *FileHeader) { h.FreeSpaceCount = 5 }, ErrCorrupted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testHeader()
			tt.modify(h)
			buf := h.Serialize()
			err := (&FileHeader{}).DeserializeAndValidate(buf)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestSlotOffset(t *testing.T) {
	assert.Equal(t, int64(0), slotOffset(0))
	assert.Equal(t, int64(PageSize), slotOffset(1))
	assert.Equal(t, int64(DataStart), slotOffset(HeaderSlots))
}
