package voxbooth

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// CaptureEngine owns exactly one hardware input stream, driven by a
// single PortAudio callback on a dedicated real-time thread. Per block it
// appends the channel-mapped audio while recording, republishes the
// recording group with the hardware ADC timestamp, meters the block, and
// offers it to the visualization feed without ever blocking.
type CaptureEngine struct {
	config *AudioConfig
	state  *SharedState
	meter  *LevelMeter
	vis    *VisFeed
	logger *VoxLogger

	mu     sync.Mutex
	stream *portaudio.Stream

	recording atomic.Bool
	chunks    [][]float32
	position  uint64

	// Resolved at Start from the device actually opened.
	channelPick  []int
	openChannels int
	blockSize    int

	deviceIndex      *int
	mapping          ChannelMapping
	fallbackNotified bool
}

// NewCaptureEngine creates a capture engine publishing into state. vis
// may be nil when no live visualization is wanted.
func NewCaptureEngine(config *AudioConfig, state *SharedState, vis *VisFeed) *CaptureEngine {
	return &CaptureEngine{
		config: config,
		state:  state,
		meter:  NewLevelMeter(config.SampleRate),
		vis:    vis,
		logger: GetGlobalLogger().WithComponent("CaptureEngine"),
	}
}

// SetInputDevice updates the device index used for future streams.
func (e *CaptureEngine) SetInputDevice(index *int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deviceIndex = index
}

// SetChannelMapping updates the capture channel mapping used for future
// streams.
func (e *CaptureEngine) SetChannelMapping(mapping ChannelMapping) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mapping = mapping
}

// Start opens the input stream and begins recording. The shared
// AudioSettings group is the authoritative format, not the local config.
func (e *CaptureEngine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.recording.Load() {
		return nil
	}

	if !e.state.RecordingState().Valid {
		return NewStateError("recording state not initialized")
	}
	settings := e.state.AudioSettings()
	if !settings.Valid {
		return NewStateError("audio settings not initialized")
	}

	sampleRate := settings.SampleRate
	if sampleRate != e.config.SampleRate {
		e.config.SampleRate = sampleRate
		e.meter.SetSampleRate(sampleRate)
	}
	e.blockSize = e.config.BlockSize(sampleRate)

	resolution := resolveInputDevice(e.deviceIndex)
	if resolution.Status == ResolutionRejected {
		err := NewDeviceError(resolution.Reason)
		e.state.SetCaptureError(resolution.Reason)
		return err
	}
	e.notifyFallback(resolution, "input")

	device := resolution.Device
	e.resolveChannels(device.MaxInputChannels)

	stream, err := e.openStream(device, sampleRate)
	if err != nil {
		// One retry against the system default before giving up.
		if def, derr := portaudio.DefaultInputDevice(); derr == nil && def != device {
			e.notifyFallback(DeviceResolution{Status: ResolutionFallback, Device: def, Reason: err.Error()}, "input")
			e.resolveChannels(def.MaxInputChannels)
			stream, err = e.openStream(def, sampleRate)
		}
		if err != nil {
			e.state.SetCaptureError(err.Error())
			return WrapError(err, ErrCodeStreamOpen)
		}
	}

	e.chunks = e.chunks[:0]
	e.position = 0
	e.meter.Reset()
	e.state.ClearCaptureError()
	e.state.StartRecording(sampleRate)
	e.recording.Store(true)
	e.stream = stream

	if err := stream.Start(); err != nil {
		e.recording.Store(false)
		e.stream = nil
		stream.Close()
		e.state.StopRecording()
		e.state.SetCaptureError(err.Error())
		return WrapError(err, ErrCodeStreamStart)
	}

	e.logger.LogAudioEvent("recording_started", map[string]interface{}{
		"sample_rate": sampleRate,
		"block_size":  e.blockSize,
		"channels":    e.openChannels,
		"device":      device.Name,
	})
	return nil
}

// resolveChannels applies the configured mapping against the channels the
// device can deliver and decides how many channels to open.
func (e *CaptureEngine) resolveChannels(maxChannels int) {
	picked, status := validateInputMapping(e.mapping, maxChannels)
	switch status {
	case ResolutionRejected:
		e.logger.Warnf("channel mapping %v invalid for device with %d channels, using default selection", e.mapping, maxChannels)
		e.channelPick = nil
	case ResolutionFallback:
		e.logger.Warnf("channel mapping %v partially out of range, using %v", e.mapping, picked)
		e.channelPick = picked
	default:
		e.channelPick = picked
	}

	if len(e.channelPick) > 0 {
		// Open enough channels to cover the highest picked index.
		highest := 0
		for _, idx := range e.channelPick {
			if idx > highest {
				highest = idx
			}
		}
		e.openChannels = highest + 1
		if maxChannels > 0 && e.openChannels > maxChannels {
			e.openChannels = maxChannels
		}
		return
	}
	e.openChannels = e.config.Channels
	if maxChannels > 0 && e.openChannels > maxChannels {
		e.openChannels = maxChannels
	}
	if e.openChannels < 1 {
		e.openChannels = 1
	}
}

func (e *CaptureEngine) openStream(device *portaudio.DeviceInfo, sampleRate int) (*portaudio.Stream, error) {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: e.openChannels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: e.blockSize,
	}
	return portaudio.OpenStream(params, e.callback)
}

func (e *CaptureEngine) callback(in [][]float32, timeInfo portaudio.StreamCallbackTimeInfo) {
	e.processBlock(in, timeInfo.InputBufferAdcTime.Seconds())
}

// processBlock is the per-callback body. It runs on the audio thread and
// must never block or wait on the control loop.
func (e *CaptureEngine) processBlock(in [][]float32, adcTime float64) {
	if len(in) == 0 || len(in[0]) == 0 {
		return
	}

	if e.recording.Load() {
		mapped := e.mapChannels(in)
		e.chunks = append(e.chunks, mapped)
		e.position += uint64(len(in[0]))
	}

	// Position and meter are republished on every block regardless of the
	// recording flag, so pollers always see the hardware clock moving.
	e.state.UpdateRecordingPosition(e.position, adcTime)

	rmsDB, peakDB, peakHoldDB := e.meter.Process(flatten(in))
	e.state.UpdateLevelMeter(rmsDB, peakDB, peakHoldDB, e.meter.FrameCount())

	if e.vis != nil {
		e.vis.Offer(in[0])
	}
}

// mapChannels applies the channel selection to one raw block, returning
// interleaved samples with the configured channel count. With an invalid
// pick it falls back to the first configured channels; a mono config with
// several picked channels averages them down.
func (e *CaptureEngine) mapChannels(in [][]float32) []float32 {
	frames := len(in[0])
	want := e.config.Channels
	if want < 1 {
		want = 1
	}

	// Guard picked indices against the delivered channel count.
	src := make([][]float32, 0, len(in))
	for _, idx := range e.channelPick {
		if idx >= 0 && idx < len(in) {
			src = append(src, in[idx])
		}
	}
	if len(src) == 0 {
		if want == 1 {
			// No usable mapping: average everything the device delivers.
			src = in
		} else {
			n := want
			if n > len(in) {
				n = len(in)
			}
			src = in[:n]
		}
	}

	if want == 1 && len(src) > 1 {
		mono := make([]float32, frames)
		for _, ch := range src {
			for i := 0; i < frames; i++ {
				mono[i] += ch[i]
			}
		}
		scale := float32(1.0 / float64(len(src)))
		for i := range mono {
			mono[i] *= scale
		}
		return mono
	}

	if len(src) > want {
		src = src[:want]
	}
	out := make([]float32, frames*len(src))
	for c, ch := range src {
		for i := 0; i < frames; i++ {
			out[i*len(src)+c] = ch[i]
		}
	}
	return out
}

func flatten(in [][]float32) []float32 {
	if len(in) == 1 {
		return in[0]
	}
	total := 0
	for _, ch := range in {
		total += len(ch)
	}
	out := make([]float32, 0, total)
	for _, ch := range in {
		out = append(out, ch...)
	}
	return out
}

// Stop closes the stream and returns the recording as one contiguous
// interleaved buffer. Calling Stop on a stopped engine is a no-op
// returning nil.
func (e *CaptureEngine) Stop() []float32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.recording.Load() && e.stream == nil {
		return nil
	}
	e.recording.Store(false)

	if e.stream != nil {
		if err := e.stream.Stop(); err != nil {
			e.logger.WithError(err).Warn("stopping input stream")
		}
		if err := e.stream.Close(); err != nil {
			e.logger.WithError(err).Warn("closing input stream")
		}
		e.stream = nil
	}

	e.state.StopRecording()

	total := 0
	for _, c := range e.chunks {
		total += len(c)
	}
	samples := make([]float32, 0, total)
	for _, c := range e.chunks {
		samples = append(samples, c...)
	}
	e.chunks = nil

	e.logger.LogAudioEvent("recording_stopped", map[string]interface{}{
		"samples": total,
	})
	return samples
}

// Close stops any active stream and releases engine resources.
func (e *CaptureEngine) Close() {
	e.Stop()
}

// notifyFallback logs the best-effort device notice at most once per
// session per direction.
func (e *CaptureEngine) notifyFallback(res DeviceResolution, direction string) {
	if res.Status != ResolutionFallback || e.fallbackNotified {
		return
	}
	e.fallbackNotified = true
	e.logger.Warn(fmt.Sprintf("using system default %s device: %s", direction, res.Reason))
}
