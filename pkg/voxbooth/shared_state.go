package voxbooth

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SharedState is the cross-process synchronization protocol: one
// fixed-layout little-endian record in a named shared segment, created
// once by the orchestrator and attached by name by each worker.
//
// The region carries four independently valid field groups plus a
// shutdown flag and a capture error field. Access is lock-free by
// convention: each group has exactly one writer process at a time,
// multi-field updates store the payload before the status word, and
// readers gate trust on the status word and freshness on the monotonic
// counters (frame count, sample position). A reader observing an invalid
// status must treat the group as "no data yet", never as zeros.
type SharedState struct {
	seg *Segment
}

const (
	stateMagic   uint32 = 0x56584253 // "VXBS"
	stateVersion uint32 = 1

	offMagic    = 0
	offVersion  = 4
	offShutdown = 8

	offSettings       = 64
	offSettingsStatus = offSettings
	offSettingsRate   = offSettings + 4
	offSettingsDepth  = offSettings + 8
	offSettingsChans  = offSettings + 12
	offSettingsFormat = offSettings + 16

	offRecording       = 128
	offRecordingStatus = offRecording
	offRecordingPos    = offRecording + 8
	offRecordingADC    = offRecording + 16

	offPlayback       = 192
	offPlaybackStatus = offPlayback
	offPlaybackPos    = offPlayback + 8
	offPlaybackTotal  = offPlayback + 16
	offPlaybackDAC    = offPlayback + 24

	offLevel       = 256
	offLevelStatus = offLevel
	offLevelRMS    = offLevel + 8
	offLevelPeak   = offLevel + 16
	offLevelHold   = offLevel + 24
	offLevelFrames = offLevel + 32

	offCaptureErr    = 320
	offCaptureErrLen = offCaptureErr + 4
	offCaptureErrMsg = offCaptureErr + 8
	captureErrMax    = 240

	stateSize = 576
)

const (
	statusInvalid uint32 = 0
	statusValid   uint32 = 1
)

// CreateSharedState allocates and initializes the shared state segment.
// Every field group starts invalid.
func CreateSharedState(name string) (*SharedState, error) {
	seg, err := CreateSegment(name, stateSize)
	if err != nil {
		return nil, err
	}
	s := &SharedState{seg: seg}
	s.putUint32(offMagic, stateMagic)
	s.putUint32(offVersion, stateVersion)
	return s, nil
}

// AttachSharedState maps an existing shared state segment by name.
func AttachSharedState(name string) (*SharedState, error) {
	seg, err := AttachSegment(name)
	if err != nil {
		return nil, err
	}
	if seg.Size() < stateSize {
		seg.Close()
		return nil, NewStateError(fmt.Sprintf("segment %q too small for shared state: %d bytes", name, seg.Size()))
	}
	s := &SharedState{seg: seg}
	if s.getUint32(offMagic) != stateMagic {
		seg.Close()
		return nil, NewStateError(fmt.Sprintf("segment %q is not a voxbooth state block", name))
	}
	if v := s.getUint32(offVersion); v != stateVersion {
		seg.Close()
		return nil, NewStateError(fmt.Sprintf("state block version mismatch: got %d, want %d", v, stateVersion))
	}
	return s, nil
}

// Name returns the segment name workers attach by.
func (s *SharedState) Name() string {
	return s.seg.Name()
}

// Close unmaps this process's attachment.
func (s *SharedState) Close() error {
	return s.seg.Close()
}

// Unlink removes the backing segment; creator only, after workers exit.
func (s *SharedState) Unlink() error {
	return s.seg.Unlink()
}

func (s *SharedState) putUint32(off int, v uint32) {
	binary.LittleEndian.PutUint32(s.seg.Bytes()[off:off+4], v)
}

func (s *SharedState) getUint32(off int) uint32 {
	return binary.LittleEndian.Uint32(s.seg.Bytes()[off : off+4])
}

func (s *SharedState) putUint64(off int, v uint64) {
	binary.LittleEndian.PutUint64(s.seg.Bytes()[off:off+8], v)
}

func (s *SharedState) getUint64(off int) uint64 {
	return binary.LittleEndian.Uint64(s.seg.Bytes()[off : off+8])
}

func (s *SharedState) putFloat64(off int, v float64) {
	s.putUint64(off, math.Float64bits(v))
}

func (s *SharedState) getFloat64(off int) float64 {
	return math.Float64frombits(s.getUint64(off))
}

// UpdateAudioSettings publishes the session audio format. Orchestrator
// only; both engines read it back as the authoritative format before
// opening a stream.
func (s *SharedState) UpdateAudioSettings(sampleRate, bitDepth, channels int, format SampleFormat) {
	s.putUint32(offSettingsRate, uint32(sampleRate))
	s.putUint32(offSettingsDepth, uint32(bitDepth))
	s.putUint32(offSettingsChans, uint32(channels))
	s.putUint32(offSettingsFormat, uint32(format))
	s.putUint32(offSettingsStatus, statusValid)
}

// AudioSettings reads the settings group. Valid is false until the first
// UpdateAudioSettings; the payload must then be ignored.
func (s *SharedState) AudioSettings() AudioSettings {
	if s.getUint32(offSettingsStatus) != statusValid {
		return AudioSettings{}
	}
	return AudioSettings{
		Valid:      true,
		SampleRate: int(s.getUint32(offSettingsRate)),
		BitDepth:   int(s.getUint32(offSettingsDepth)),
		Channels:   int(s.getUint32(offSettingsChans)),
		Format:     SampleFormat(s.getUint32(offSettingsFormat)),
	}
}

// StartRecording marks the capture group active and resets the session
// position. Capture engine only.
func (s *SharedState) StartRecording(sampleRate int) {
	s.putUint64(offRecordingPos, 0)
	s.putFloat64(offRecordingADC, 0)
	s.putUint32(offRecordingStatus, uint32(RecordingActive))
}

// StopRecording marks the capture group stopped. The position of the last
// block stays readable so a late poller sees the final sample count.
func (s *SharedState) StopRecording() {
	s.putUint32(offRecordingStatus, uint32(RecordingStopped))
}

// InitRecordingState marks the group as initialized-but-stopped so the
// capture worker can distinguish "orchestrator ready" from "no state yet".
func (s *SharedState) InitRecordingState() {
	s.putUint32(offRecordingStatus, uint32(RecordingStopped))
}

// UpdateRecordingPosition publishes the running sample count together
// with the block's hardware ADC timestamp. Called once per input
// callback; the hardware clock, not wall-clock, is what downstream
// consumers synchronize against.
func (s *SharedState) UpdateRecordingPosition(sample uint64, adcTime float64) {
	s.putUint64(offRecordingPos, sample)
	s.putFloat64(offRecordingADC, adcTime)
}

// RecordingState reads the capture group.
func (s *SharedState) RecordingState() RecordingSnapshot {
	status := RecordingStatus(s.getUint32(offRecordingStatus))
	if status == RecordingInvalid {
		return RecordingSnapshot{}
	}
	return RecordingSnapshot{
		Valid:          true,
		Status:         status,
		SamplePosition: s.getUint64(offRecordingPos),
		ADCTime:        s.getFloat64(offRecordingADC),
	}
}

// StartPlayback initializes the playback group for a new buffer.
// Playback engine only.
func (s *SharedState) StartPlayback(totalSamples uint64, sampleRate int) {
	s.putUint64(offPlaybackPos, 0)
	s.putUint64(offPlaybackTotal, totalSamples)
	s.putFloat64(offPlaybackDAC, 0)
	s.putUint32(offPlaybackStatus, uint32(PlaybackIdle))
}

// StopPlayback returns the group to idle. Safe to call repeatedly.
func (s *SharedState) StopPlayback() {
	s.putUint32(offPlaybackStatus, uint32(PlaybackIdle))
}

// InitPlaybackState marks the group initialized and idle.
func (s *SharedState) InitPlaybackState() {
	s.putUint32(offPlaybackStatus, uint32(PlaybackIdle))
}

// UpdatePlaybackPosition publishes the read cursor and the hardware DAC
// timestamp. Called once per output callback.
func (s *SharedState) UpdatePlaybackPosition(sample uint64, dacTime float64) {
	s.putUint64(offPlaybackPos, sample)
	s.putFloat64(offPlaybackDAC, dacTime)
}

// MarkPlaybackPlaying asserts the playing status so pollers do not read a
// stale idle between stream start and the first position update.
func (s *SharedState) MarkPlaybackPlaying() {
	s.putUint32(offPlaybackStatus, uint32(PlaybackPlaying))
}

// MarkPlaybackFinishing signals that less than one callback block of
// audio remains. Fired one callback before the buffer is exhausted so a
// poller can prepare the end-of-playback transition.
func (s *SharedState) MarkPlaybackFinishing() {
	s.putUint32(offPlaybackStatus, uint32(PlaybackFinishing))
}

// MarkPlaybackCompleted signals that the cursor reached the buffer end.
// Distinct from idle so a poller can tell "never started" from "just
// ended".
func (s *SharedState) MarkPlaybackCompleted() {
	s.putUint32(offPlaybackStatus, uint32(PlaybackCompleted))
}

// PlaybackState reads the playback group.
func (s *SharedState) PlaybackState() PlaybackSnapshot {
	status := PlaybackStatus(s.getUint32(offPlaybackStatus))
	if status == PlaybackInvalid {
		return PlaybackSnapshot{}
	}
	return PlaybackSnapshot{
		Valid:          true,
		Status:         status,
		SamplePosition: s.getUint64(offPlaybackPos),
		TotalSamples:   s.getUint64(offPlaybackTotal),
		DACTime:        s.getFloat64(offPlaybackDAC),
	}
}

// UpdateLevelMeter publishes one meter reading. Written by whichever
// engine is currently active; frameCount must strictly increase so
// readers can detect new data without locks.
func (s *SharedState) UpdateLevelMeter(rmsDB, peakDB, peakHoldDB float64, frameCount uint64) {
	s.putFloat64(offLevelRMS, rmsDB)
	s.putFloat64(offLevelPeak, peakDB)
	s.putFloat64(offLevelHold, peakHoldDB)
	s.putUint64(offLevelFrames, frameCount)
	s.putUint32(offLevelStatus, statusValid)
}

// ResetLevelMeter invalidates the meter group, e.g. at playback start.
func (s *SharedState) ResetLevelMeter() {
	s.putUint32(offLevelStatus, statusInvalid)
	s.putUint64(offLevelFrames, 0)
}

// LevelMeter reads the meter group.
func (s *SharedState) LevelMeter() LevelSnapshot {
	if s.getUint32(offLevelStatus) != statusValid {
		return LevelSnapshot{}
	}
	return LevelSnapshot{
		Valid:      true,
		RMSDB:      s.getFloat64(offLevelRMS),
		PeakDB:     s.getFloat64(offLevelPeak),
		PeakHoldDB: s.getFloat64(offLevelHold),
		FrameCount: s.getUint64(offLevelFrames),
	}
}

// SignalShutdown raises the shared shutdown flag observed by every
// blocking wait in the workers.
func (s *SharedState) SignalShutdown() {
	s.putUint32(offShutdown, 1)
}

// ShutdownRequested reports whether the shutdown flag is raised.
func (s *SharedState) ShutdownRequested() bool {
	return s.getUint32(offShutdown) != 0
}

// SetCaptureError publishes a device failure from the capture worker.
// Errors cross the process boundary as state, never as panics.
func (s *SharedState) SetCaptureError(msg string) {
	b := []byte(msg)
	if len(b) > captureErrMax {
		b = b[:captureErrMax]
	}
	copy(s.seg.Bytes()[offCaptureErrMsg:offCaptureErrMsg+captureErrMax], b)
	s.putUint32(offCaptureErrLen, uint32(len(b)))
	s.putUint32(offCaptureErr, statusValid)
}

// CaptureError reads and reports the shared capture error, if any.
func (s *SharedState) CaptureError() (string, bool) {
	if s.getUint32(offCaptureErr) != statusValid {
		return "", false
	}
	n := int(s.getUint32(offCaptureErrLen))
	if n > captureErrMax {
		n = captureErrMax
	}
	return string(s.seg.Bytes()[offCaptureErrMsg : offCaptureErrMsg+n]), true
}

// ClearCaptureError resets the shared error field.
func (s *SharedState) ClearCaptureError() {
	s.putUint32(offCaptureErr, statusInvalid)
	s.putUint32(offCaptureErrLen, 0)
}
