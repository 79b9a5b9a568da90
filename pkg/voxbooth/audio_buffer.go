package voxbooth

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/google/uuid"
)

// BufferMetadata describes a shared audio buffer well enough for another
// process to attach an identical-layout view with no copy and no
// inherited handle.
type BufferMetadata struct {
	Name     string `json:"name"`
	Frames   int    `json:"frames"`
	Channels int    `json:"channels"`
	DType    string `json:"dtype"`
}

func (m BufferMetadata) sampleCount() int {
	return m.Frames * m.Channels
}

func (m BufferMetadata) byteSize() int {
	return m.sampleCount() * 4
}

func (m BufferMetadata) validate() error {
	if m.Name == "" || m.Frames <= 0 || m.Channels <= 0 {
		return NewVoxError(fmt.Sprintf("invalid buffer metadata: %+v", m), ErrCodeBufferAttach)
	}
	if m.DType != "float32" {
		return NewVoxError(fmt.Sprintf("unsupported buffer dtype %q", m.DType), ErrCodeBufferAttach)
	}
	return nil
}

// AudioBuffer is a whole recording in named shared memory, interpreted as
// interleaved float32 samples.
type AudioBuffer struct {
	seg  *Segment
	meta BufferMetadata
}

// CreateAudioBuffer allocates a named buffer segment.
func CreateAudioBuffer(name string, frames, channels int) (*AudioBuffer, error) {
	meta := BufferMetadata{Name: name, Frames: frames, Channels: channels, DType: "float32"}
	if err := meta.validate(); err != nil {
		return nil, err
	}
	seg, err := CreateSegment(name, meta.byteSize())
	if err != nil {
		return nil, err
	}
	return &AudioBuffer{seg: seg, meta: meta}, nil
}

// AttachAudioBuffer maps an existing buffer using only its metadata.
func AttachAudioBuffer(meta BufferMetadata) (*AudioBuffer, error) {
	if err := meta.validate(); err != nil {
		return nil, err
	}
	seg, err := AttachSegment(meta.Name)
	if err != nil {
		return nil, err
	}
	if seg.Size() < meta.byteSize() {
		seg.Close()
		return nil, NewVoxError(
			fmt.Sprintf("buffer %q smaller than metadata claims: %d < %d bytes", meta.Name, seg.Size(), meta.byteSize()),
			ErrCodeBufferAttach)
	}
	return &AudioBuffer{seg: seg, meta: meta}, nil
}

// Metadata returns the attach-by-name description of this buffer.
func (b *AudioBuffer) Metadata() BufferMetadata {
	return b.meta
}

// Samples returns the shared samples as a live float32 view over the
// mapping. No copy: writes through this slice are visible to every
// attached process.
func (b *AudioBuffer) Samples() []float32 {
	data := b.seg.Bytes()
	if len(data) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), b.meta.sampleCount())
}

// Close detaches this process's view without freeing the memory;
// ownership stays with the creator.
func (b *AudioBuffer) Close() error {
	return b.seg.Close()
}

// Unlink releases the physical memory. Creator only.
func (b *AudioBuffer) Unlink() error {
	return b.seg.Unlink()
}

// releaseGrace is how long a released buffer outlives its release call,
// covering a playback process that has not yet detached.
const releaseGrace = 500 * time.Millisecond

// BufferRegistry tracks the shared buffers this process created and owns
// their physical memory. Only the registry may release a buffer, and only
// after the grace period has elapsed.
type BufferRegistry struct {
	mu      sync.Mutex
	buffers map[string]*AudioBuffer
	grace   time.Duration
	logger  *VoxLogger
}

// NewBufferRegistry creates an empty registry.
func NewBufferRegistry() *BufferRegistry {
	return &BufferRegistry{
		buffers: make(map[string]*AudioBuffer),
		grace:   releaseGrace,
		logger:  GetGlobalLogger().WithComponent("BufferRegistry"),
	}
}

// CreateFromSamples copies a recording into a freshly named shared buffer
// and registers it.
func (r *BufferRegistry) CreateFromSamples(samples []float32, channels int) (*AudioBuffer, error) {
	if channels <= 0 {
		channels = 1
	}
	frames := len(samples) / channels
	if frames == 0 {
		return nil, NewVoxError("empty recording buffer", ErrCodeBufferAttach)
	}
	name := fmt.Sprintf("voxbooth-buf-%s", uuid.NewString())
	buf, err := CreateAudioBuffer(name, frames, channels)
	if err != nil {
		return nil, err
	}
	copy(buf.Samples(), samples)
	r.mu.Lock()
	r.buffers[name] = buf
	r.mu.Unlock()
	return buf, nil
}

// Adopt takes ownership of a buffer created elsewhere in this process,
// e.g. the segment a capture worker filled before handing back metadata.
func (r *BufferRegistry) Adopt(buf *AudioBuffer) {
	r.mu.Lock()
	r.buffers[buf.Metadata().Name] = buf
	r.mu.Unlock()
}

// AdoptByMetadata attaches and registers a buffer another process
// created, so this registry becomes responsible for its release.
func (r *BufferRegistry) AdoptByMetadata(meta BufferMetadata) (*AudioBuffer, error) {
	buf, err := AttachAudioBuffer(meta)
	if err != nil {
		return nil, err
	}
	// Attached segments cannot unlink themselves; mark ours.
	buf.seg.creator = true
	r.Adopt(buf)
	return buf, nil
}

// Get returns a registered buffer by name.
func (r *BufferRegistry) Get(name string) (*AudioBuffer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.buffers[name]
	return buf, ok
}

// Release detaches and unlinks a buffer after the grace period, giving
// the playback process time to detach first.
func (r *BufferRegistry) Release(name string) {
	r.mu.Lock()
	buf, ok := r.buffers[name]
	delete(r.buffers, name)
	r.mu.Unlock()
	if !ok {
		return
	}
	time.AfterFunc(r.grace, func() {
		if err := buf.Close(); err != nil {
			r.logger.WithError(err).Warnf("closing buffer %s", name)
		}
		if err := buf.Unlink(); err != nil {
			r.logger.WithError(err).Warnf("unlinking buffer %s", name)
		}
	})
}

// ReleaseAll synchronously releases every registered buffer; used at
// shutdown after the workers have exited.
func (r *BufferRegistry) ReleaseAll() {
	r.mu.Lock()
	buffers := r.buffers
	r.buffers = make(map[string]*AudioBuffer)
	r.mu.Unlock()
	for name, buf := range buffers {
		if err := buf.Close(); err != nil {
			r.logger.WithError(err).Warnf("closing buffer %s", name)
		}
		if err := buf.Unlink(); err != nil {
			r.logger.WithError(err).Warnf("unlinking buffer %s", name)
		}
	}
}
