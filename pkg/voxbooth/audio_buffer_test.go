package voxbooth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferAttachIsZeroCopy(t *testing.T) {
	registry := NewBufferRegistry()
	defer registry.ReleaseAll()

	samples := []float32{0.1, 0.2, 0.3, 0.4}
	buf, err := registry.CreateFromSamples(samples, 1)
	require.NoError(t, err)

	meta := buf.Metadata()
	assert.Equal(t, 4, meta.Frames)
	assert.Equal(t, 1, meta.Channels)
	assert.Equal(t, "float32", meta.DType)

	attached, err := AttachAudioBuffer(meta)
	require.NoError(t, err)
	defer attached.Close()

	view := attached.Samples()
	require.Len(t, view, 4)
	assert.Equal(t, float32(0.2), view[1])

	// A write through one view is visible through the other.
	view[1] = 0.9
	assert.Equal(t, float32(0.9), buf.Samples()[1])
}

func TestBufferMetadataValidation(t *testing.T) {
	_, err := AttachAudioBuffer(BufferMetadata{Name: "x", Frames: 0, Channels: 1, DType: "float32"})
	require.Error(t, err)
	assert.Equal(t, ErrCodeBufferAttach, ErrorCode(err))

	_, err = AttachAudioBuffer(BufferMetadata{Name: "x", Frames: 10, Channels: 1, DType: "int16"})
	require.Error(t, err)
	assert.Equal(t, ErrCodeBufferAttach, ErrorCode(err))

	_, err = CreateAudioBuffer("", 10, 1)
	require.Error(t, err)
}

func TestAttachRejectsUndersizedSegment(t *testing.T) {
	name := testSegmentName(t)
	seg, err := CreateSegment(name, 16)
	require.NoError(t, err)
	defer func() {
		seg.Close()
		seg.Unlink()
	}()

	_, err = AttachAudioBuffer(BufferMetadata{Name: name, Frames: 100, Channels: 1, DType: "float32"})
	require.Error(t, err)
	assert.Equal(t, ErrCodeBufferAttach, ErrorCode(err))
}

func TestRegistryEmptyRecordingRejected(t *testing.T) {
	registry := NewBufferRegistry()
	_, err := registry.CreateFromSamples(nil, 1)
	require.Error(t, err)
}

func TestRegistryReleaseFreesAfterGrace(t *testing.T) {
	registry := NewBufferRegistry()
	registry.grace = 10 * time.Millisecond

	buf, err := registry.CreateFromSamples(make([]float32, 64), 1)
	require.NoError(t, err)
	meta := buf.Metadata()

	_, ok := registry.Get(meta.Name)
	require.True(t, ok)

	registry.Release(meta.Name)
	_, ok = registry.Get(meta.Name)
	assert.False(t, ok)

	// The segment survives the release call itself, then goes away.
	time.Sleep(100 * time.Millisecond)
	_, err = AttachAudioBuffer(meta)
	require.Error(t, err)
}

func TestRegistryAdoptByMetadata(t *testing.T) {
	// Simulate the capture worker side: create, fill, detach.
	name := testSegmentName(t)
	created, err := CreateAudioBuffer(name, 64, 1)
	require.NoError(t, err)
	created.Samples()[0] = 0.5
	meta := created.Metadata()
	require.NoError(t, created.Close())

	// Orchestrator side: adopt by metadata and take over the memory.
	registry := NewBufferRegistry()
	adopted, err := registry.AdoptByMetadata(meta)
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), adopted.Samples()[0])

	registry.ReleaseAll()
	_, err = AttachAudioBuffer(meta)
	require.Error(t, err)
}

func TestReleaseUnknownBufferIsNoop(t *testing.T) {
	registry := NewBufferRegistry()
	registry.Release("voxbooth-buf-missing")
}
