package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStagingSupersede(t *testing.T) {
	s := newStaging()

	assert.Equal(t, int64(0), s.stage(1, stagedOp{payload: []byte("a"), reserved: 10}, 0))
	assert.Equal(t, int64(10), s.stage(1, stagedOp{deleted: true, reserved: 7}, 0))

	op, ok := s.lookup(1)
	assert.True(t, ok)
	assert.True(t, op.deleted)

	_, ok = s.lookup(2)
	assert.False(t, ok)
}

func TestStagingDrainKeepsInflightVisible(t *testing.T) {
	s := newStaging()
	s.stage(1, stagedOp{payload: []byte("one"), reserved: 5}, 100)

	drained, dir := s.drain()
	assert.Len(t, drained, 1)
	assert.Equal(t, int64(100), dir)

	op, ok := s.lookup(1)
	assert.True(t, ok)
	assert.Equal(t, []byte("one"), op.payload)

	s.stage(1, stagedOp{payload: []byte("newer"), reserved: 6}, 0)
	op, _ = s.lookup(1)
	assert.Equal(t, []byte("newer"), op.payload)

	pending, inflight := s.counts()
	assert.Equal(t, 1, pending)
	assert.Equal(t, 1, inflight)

	s.finish()
	_, inflight, dir = s.charges()
	assert.Equal(t, 0, inflight)
	assert.Zero(t, dir)
}

func TestStagingRestore(t *testing.T) {
	s := newStaging()
	s.stage(1, stagedOp{payload: []byte("one"), reserved: 5}, 40)
	s.stage(2, stagedOp{payload: []byte("two"), reserved: 8}, 10)
	s.drain()

	s.stage(2, stagedOp{deleted: true, reserved: 3}, 30)
	superseded := s.restore()
	assert.Equal(t, int64(8), superseded)

	op, ok := s.lookup(1)
	assert.True(t, ok)
	assert.Equal(t, []byte("one"), op.payload)

	op, ok = s.lookup(2)
	assert.True(t, ok)
	assert.True(t, op.deleted)

	pending, inflight, dir := s.charges()
	assert.Equal(t, 2, pending)
	assert.Equal(t, 0, inflight)
	assert.Equal(t, int64(80), dir)
}

func TestObjectFrame(t *testing.T) {
	frame := encodeObject([]byte("payload"))
	assert.Equal(t, framedSize(7), uint64(len(frame)))

	got, err := decodeObject(append(frame, 0, 0, 0))
	assert.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	frame[len(frame)-1] ^= 1
	_, err = decodeObject(frame)
	assert.ErrorIs(t, err, ErrCorrupted)

	_, err = decodeObject(frame[:4])
	assert.ErrorIs(t, err, ErrCorrupted)
}
