package voxbooth

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSegmentName(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("voxbooth-test-%d-%s", os.Getpid(), strings.ReplaceAll(t.Name(), "/", "-"))
}

func newTestState(t *testing.T) *SharedState {
	t.Helper()
	state, err := CreateSharedState(testSegmentName(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		state.Close()
		state.Unlink()
	})
	return state
}

func TestAudioSettingsInvalidUntilPublished(t *testing.T) {
	state := newTestState(t)

	settings := state.AudioSettings()
	assert.False(t, settings.Valid)
	assert.Zero(t, settings.SampleRate)

	state.UpdateAudioSettings(48000, 24, 1, FormatFloat32)

	settings = state.AudioSettings()
	require.True(t, settings.Valid)
	assert.Equal(t, 48000, settings.SampleRate)
	assert.Equal(t, 24, settings.BitDepth)
	assert.Equal(t, 1, settings.Channels)
	assert.Equal(t, FormatFloat32, settings.Format)
}

func TestRecordingLifecycle(t *testing.T) {
	state := newTestState(t)

	assert.False(t, state.RecordingState().Valid)

	state.InitRecordingState()
	snap := state.RecordingState()
	require.True(t, snap.Valid)
	assert.Equal(t, RecordingStopped, snap.Status)

	state.StartRecording(48000)
	snap = state.RecordingState()
	assert.Equal(t, RecordingActive, snap.Status)
	assert.Zero(t, snap.SamplePosition)

	state.UpdateRecordingPosition(1440, 0.03)
	snap = state.RecordingState()
	assert.Equal(t, uint64(1440), snap.SamplePosition)
	assert.InDelta(t, 0.03, snap.ADCTime, 1e-12)

	// The final position stays readable after stop.
	state.StopRecording()
	snap = state.RecordingState()
	assert.Equal(t, RecordingStopped, snap.Status)
	assert.Equal(t, uint64(1440), snap.SamplePosition)
}

func TestPlaybackStatusProgression(t *testing.T) {
	state := newTestState(t)

	assert.False(t, state.PlaybackState().Valid)

	state.StartPlayback(5000, 48000)
	snap := state.PlaybackState()
	require.True(t, snap.Valid)
	assert.Equal(t, PlaybackIdle, snap.Status)
	assert.Equal(t, uint64(5000), snap.TotalSamples)

	state.MarkPlaybackPlaying()
	state.UpdatePlaybackPosition(4000, 0.085)
	snap = state.PlaybackState()
	assert.Equal(t, PlaybackPlaying, snap.Status)
	assert.Equal(t, uint64(4000), snap.SamplePosition)
	assert.InDelta(t, 0.085, snap.DACTime, 1e-12)

	state.MarkPlaybackFinishing()
	assert.Equal(t, PlaybackFinishing, state.PlaybackState().Status)

	state.MarkPlaybackCompleted()
	assert.Equal(t, PlaybackCompleted, state.PlaybackState().Status)

	state.StopPlayback()
	assert.Equal(t, PlaybackIdle, state.PlaybackState().Status)
}

func TestLevelMeterFreshness(t *testing.T) {
	state := newTestState(t)

	assert.False(t, state.LevelMeter().Valid)

	state.UpdateLevelMeter(-20.5, -6.0, -3.0, 1)
	level := state.LevelMeter()
	require.True(t, level.Valid)
	assert.InDelta(t, -20.5, level.RMSDB, 1e-12)
	assert.InDelta(t, -6.0, level.PeakDB, 1e-12)
	assert.InDelta(t, -3.0, level.PeakHoldDB, 1e-12)
	assert.Equal(t, uint64(1), level.FrameCount)

	state.UpdateLevelMeter(-21.0, -7.0, -3.0, 2)
	assert.Equal(t, uint64(2), state.LevelMeter().FrameCount)

	state.ResetLevelMeter()
	assert.False(t, state.LevelMeter().Valid)
}

func TestCaptureErrorField(t *testing.T) {
	state := newTestState(t)

	_, ok := state.CaptureError()
	assert.False(t, ok)

	state.SetCaptureError("input device 3 unavailable")
	msg, ok := state.CaptureError()
	require.True(t, ok)
	assert.Equal(t, "input device 3 unavailable", msg)

	long := strings.Repeat("x", 500)
	state.SetCaptureError(long)
	msg, ok = state.CaptureError()
	require.True(t, ok)
	assert.Len(t, msg, captureErrMax)

	state.ClearCaptureError()
	_, ok = state.CaptureError()
	assert.False(t, ok)
}

func TestShutdownFlag(t *testing.T) {
	state := newTestState(t)

	assert.False(t, state.ShutdownRequested())
	state.SignalShutdown()
	assert.True(t, state.ShutdownRequested())
}

func TestAttachSeesCreatorWrites(t *testing.T) {
	state := newTestState(t)

	attached, err := AttachSharedState(state.Name())
	require.NoError(t, err)
	defer attached.Close()

	state.UpdateAudioSettings(44100, 16, 2, FormatInt16)
	settings := attached.AudioSettings()
	require.True(t, settings.Valid)
	assert.Equal(t, 44100, settings.SampleRate)
	assert.Equal(t, 2, settings.Channels)

	// Writes flow the other way too.
	attached.SignalShutdown()
	assert.True(t, state.ShutdownRequested())
}

func TestAttachRejectsForeignSegment(t *testing.T) {
	name := testSegmentName(t)
	seg, err := CreateSegment(name, stateSize)
	require.NoError(t, err)
	defer func() {
		seg.Close()
		seg.Unlink()
	}()

	_, err = AttachSharedState(name)
	require.Error(t, err)
	assert.Equal(t, ErrCodeStateInvalid, ErrorCode(err))
}

func TestAttachRejectsMissingSegment(t *testing.T) {
	_, err := AttachSharedState(testSegmentName(t))
	require.Error(t, err)
	assert.Equal(t, ErrCodeSegment, ErrorCode(err))
}
