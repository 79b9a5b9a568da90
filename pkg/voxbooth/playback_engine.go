package voxbooth

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

// settleDelay gives the OS time to release device resources between a
// force-stop and the next stream open. Empirically determined.
const settleDelay = 100 * time.Millisecond

// PlaybackEngine owns one hardware output stream playing a single shared
// buffer end to end. It attaches zero-copy to a caller-supplied
// SharedAudioBuffer, republishes the playback group with the hardware DAC
// timestamp every block, and emits the finishing pre-signal exactly one
// callback block before the buffer is exhausted.
type PlaybackEngine struct {
	config *AudioConfig
	state  *SharedState
	meter  *LevelMeter
	logger *VoxLogger

	mu     sync.Mutex
	stream *portaudio.Stream
	buffer *AudioBuffer

	// Callback-owned while the stream runs.
	samples  []float32
	position int
	total    int

	stopRequested atomic.Bool
	stopStream    *sync.Once

	outChannel     int
	streamChannels int

	deviceIndex      *int
	mapping          ChannelMapping
	fallbackNotified bool
}

// NewPlaybackEngine creates a playback engine publishing into state.
func NewPlaybackEngine(config *AudioConfig, state *SharedState) *PlaybackEngine {
	return &PlaybackEngine{
		config: config,
		state:  state,
		meter:  NewLevelMeter(config.SampleRate),
		logger: GetGlobalLogger().WithComponent("PlaybackEngine"),
	}
}

// SetOutputDevice updates the device index used for future streams.
func (e *PlaybackEngine) SetOutputDevice(index *int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deviceIndex = index
}

// SetChannelMapping updates the output routing used for future playback.
// A single-element mapping routes all audio to that physical channel.
func (e *PlaybackEngine) SetChannelMapping(mapping ChannelMapping) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mapping = mapping
}

// Play force-stops any prior playback, attaches the described buffer
// zero-copy, and starts the output stream.
func (e *PlaybackEngine) Play(meta BufferMetadata, sampleRate int) error {
	e.Stop()
	time.Sleep(settleDelay)

	e.mu.Lock()
	defer e.mu.Unlock()

	buffer, err := AttachAudioBuffer(meta)
	if err != nil {
		return err
	}

	if sampleRate <= 0 {
		sampleRate = e.config.SampleRate
	}
	e.buffer = buffer
	e.samples = buffer.Samples()
	e.total = len(e.samples)
	e.position = 0
	e.stopRequested.Store(false)
	e.stopStream = &sync.Once{}

	e.meter.SetSampleRate(sampleRate)
	e.meter.Reset()
	e.state.ResetLevelMeter()
	e.state.StartPlayback(uint64(e.total), sampleRate)
	e.state.UpdatePlaybackPosition(0, 0)

	// Single-channel routing without a device-specific API: open K+1
	// channels and write only into channel K.
	target, status := validateOutputMapping(e.mapping)
	if status == ResolutionRejected {
		e.logger.Warnf("output mapping %v invalid, using channel 0", e.mapping)
		target = -1
	}
	if target >= 0 {
		e.outChannel = target
		e.streamChannels = target + 1
	} else {
		e.outChannel = 0
		e.streamChannels = 1
	}

	blockSize := e.config.BlockSize(sampleRate)

	resolution := resolveOutputDevice(e.deviceIndex)
	if resolution.Status == ResolutionRejected {
		e.detachLocked()
		return NewDeviceError(resolution.Reason)
	}
	e.notifyFallback(resolution, "output")

	device := resolution.Device
	stream, err := e.openStream(device, sampleRate, blockSize)
	if err != nil {
		if def, derr := portaudio.DefaultOutputDevice(); derr == nil && def != device {
			e.notifyFallback(DeviceResolution{Status: ResolutionFallback, Device: def, Reason: err.Error()}, "output")
			stream, err = e.openStream(def, sampleRate, blockSize)
		}
		if err != nil {
			e.detachLocked()
			return WrapError(err, ErrCodeStreamOpen)
		}
	}

	e.stream = stream
	if err := stream.Start(); err != nil {
		e.stream = nil
		stream.Close()
		e.detachLocked()
		return WrapError(err, ErrCodeStreamStart)
	}

	e.logger.LogAudioEvent("playback_started", map[string]interface{}{
		"sample_rate":   sampleRate,
		"total_samples": e.total,
		"block_size":    blockSize,
		"out_channel":   e.outChannel,
		"device":        device.Name,
	})
	return nil
}

func (e *PlaybackEngine) openStream(device *portaudio.DeviceInfo, sampleRate, blockSize int) (*portaudio.Stream, error) {
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: e.streamChannels,
			Latency:  device.DefaultLowOutputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: blockSize,
	}
	return portaudio.OpenStream(params, e.callback)
}

func (e *PlaybackEngine) callback(out [][]float32, timeInfo portaudio.StreamCallbackTimeInfo) {
	e.fillBlock(out, timeInfo.OutputBufferDacTime.Seconds())
}

// fillBlock is the per-callback body. It runs on the audio thread and
// must never block; stream teardown is requested asynchronously.
func (e *PlaybackEngine) fillBlock(out [][]float32, dacTime float64) {
	if len(out) == 0 || len(out[0]) == 0 {
		return
	}
	frames := len(out[0])

	if e.stopRequested.Load() {
		zeroBlock(out)
		return
	}

	e.state.UpdatePlaybackPosition(uint64(e.position), dacTime)
	// Assert playing explicitly so pollers never read a stale idle
	// between stream start and the first block.
	e.state.MarkPlaybackPlaying()

	remaining := e.total - e.position
	if remaining <= 0 {
		zeroBlock(out)
		e.state.StopPlayback()
		e.stopRequested.Store(true)
		e.requestStreamStop()
		return
	}

	toCopy := frames
	if remaining < toCopy {
		toCopy = remaining
	}
	chunk := e.samples[e.position : e.position+toCopy]

	zeroBlock(out)
	target := out[e.outChannel]
	copy(target[:toCopy], chunk)

	rmsDB, peakDB, peakHoldDB := e.meter.Process(chunk)
	e.state.UpdateLevelMeter(rmsDB, peakDB, peakHoldDB, e.meter.FrameCount())

	e.position += toCopy

	// Pre-emptive end signal: if the next callback would run past the
	// buffer, flag finishing now so a consumer has one full callback
	// period to prepare the end-of-playback transition.
	next := e.position + frames
	if e.position < e.total && e.total <= next {
		e.state.MarkPlaybackFinishing()
	}

	if e.position >= e.total {
		e.state.MarkPlaybackCompleted()
		e.stopRequested.Store(true)
		e.requestStreamStop()
	}
}

func zeroBlock(out [][]float32) {
	for _, ch := range out {
		for i := range ch {
			ch[i] = 0
		}
	}
}

// requestStreamStop stops the stream from outside the callback thread;
// PortAudio deadlocks if Stop is called from within its own callback.
func (e *PlaybackEngine) requestStreamStop() {
	once := e.stopStream
	if once == nil {
		return
	}
	once.Do(func() {
		go func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if e.stream != nil {
				if err := e.stream.Stop(); err != nil {
					e.logger.WithError(err).Warn("stopping output stream")
				}
				if err := e.stream.Close(); err != nil {
					e.logger.WithError(err).Warn("closing output stream")
				}
				e.stream = nil
			}
		}()
	})
}

// Stop is idempotent: it releases the stream and detaches the buffer
// without freeing the underlying shared memory (ownership stays with the
// creator).
func (e *PlaybackEngine) Stop() {
	e.stopRequested.Store(true)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stream != nil {
		if err := e.stream.Stop(); err != nil {
			e.logger.WithError(err).Warn("stopping output stream")
		}
		if err := e.stream.Close(); err != nil {
			e.logger.WithError(err).Warn("closing output stream")
		}
		e.stream = nil
	}

	e.state.StopPlayback()
	e.detachLocked()
}

func (e *PlaybackEngine) detachLocked() {
	if e.buffer != nil {
		if err := e.buffer.Close(); err != nil {
			e.logger.WithError(err).Warn("detaching playback buffer")
		}
		e.buffer = nil
	}
	e.samples = nil
	e.total = 0
	e.position = 0
}

// Close stops playback and releases engine resources.
func (e *PlaybackEngine) Close() {
	e.Stop()
}

func (e *PlaybackEngine) notifyFallback(res DeviceResolution, direction string) {
	if res.Status != ResolutionFallback || e.fallbackNotified {
		return
	}
	e.fallbackNotified = true
	e.logger.Warnf("using system default %s device: %s", direction, res.Reason)
}
