package voxbooth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCapture(t *testing.T) (*CaptureEngine, *SharedState) {
	t.Helper()
	state := newTestState(t)
	state.InitRecordingState()
	engine := NewCaptureEngine(NewAudioConfig(), state, nil)
	return engine, state
}

func TestCaptureAccumulatesBlocks(t *testing.T) {
	engine, state := newTestCapture(t)
	state.StartRecording(48000)
	engine.recording.Store(true)

	for b := 0; b < 3; b++ {
		block := make([]float32, 480)
		for i := range block {
			block[i] = float32(b + 1)
		}
		engine.processBlock([][]float32{block}, float64(b)*0.01)
	}

	snap := state.RecordingState()
	assert.Equal(t, uint64(1440), snap.SamplePosition)
	assert.InDelta(t, 0.02, snap.ADCTime, 1e-12)

	samples := engine.Stop()
	require.Len(t, samples, 1440)
	assert.Equal(t, float32(1), samples[0])
	assert.Equal(t, float32(2), samples[480])
	assert.Equal(t, float32(3), samples[960])
	assert.Equal(t, RecordingStopped, state.RecordingState().Status)
}

func TestCaptureIgnoresBlocksWhileStopped(t *testing.T) {
	engine, state := newTestCapture(t)

	engine.processBlock([][]float32{make([]float32, 480)}, 0.01)

	// Position and meter still flow, but nothing accumulates.
	assert.Empty(t, engine.chunks)
	assert.True(t, state.LevelMeter().Valid)
	assert.Zero(t, state.RecordingState().SamplePosition)
}

func TestCaptureStopOnStoppedEngineReturnsNil(t *testing.T) {
	engine, _ := newTestCapture(t)
	assert.Nil(t, engine.Stop())
}

func TestMapChannelsPreservesOrder(t *testing.T) {
	engine, _ := newTestCapture(t)
	engine.config.Channels = 2
	engine.channelPick = []int{2, 0}

	in := [][]float32{
		{10, 11, 12, 13},
		{20, 21, 22, 23},
		{30, 31, 32, 33},
	}
	out := engine.mapChannels(in)
	require.Len(t, out, 8)
	// Interleaved frames in mapping order: channel 2 first, channel 0 second.
	assert.Equal(t, []float32{30, 10, 31, 11, 32, 12, 33, 13}, out)
}

func TestMapChannelsAveragesToMono(t *testing.T) {
	engine, _ := newTestCapture(t)
	engine.config.Channels = 1
	engine.channelPick = []int{0, 1}

	in := [][]float32{
		{0.2, 0.4},
		{0.6, 0.8},
	}
	out := engine.mapChannels(in)
	require.Len(t, out, 2)
	assert.InDelta(t, 0.4, float64(out[0]), 1e-6)
	assert.InDelta(t, 0.6, float64(out[1]), 1e-6)
}

func TestMapChannelsFallsBackWhenPickOutOfRange(t *testing.T) {
	engine, _ := newTestCapture(t)
	engine.config.Channels = 1
	engine.channelPick = []int{5}

	in := [][]float32{
		{1, 2, 3},
		{4, 5, 6},
	}
	// With no usable pick a mono config averages everything delivered.
	out := engine.mapChannels(in)
	assert.Equal(t, []float32{2.5, 3.5, 4.5}, out)
}

func TestResolveChannels(t *testing.T) {
	engine, _ := newTestCapture(t)

	// Valid mapping opens enough channels to cover the highest index.
	engine.mapping = ChannelMapping{1}
	engine.resolveChannels(4)
	assert.Equal(t, []int{1}, engine.channelPick)
	assert.Equal(t, 2, engine.openChannels)

	// Partially valid mapping keeps the surviving channels.
	engine.mapping = ChannelMapping{0, 3}
	engine.resolveChannels(2)
	assert.Equal(t, []int{0}, engine.channelPick)
	assert.Equal(t, 1, engine.openChannels)

	// Fully invalid mapping falls back to the default selection.
	engine.mapping = ChannelMapping{5, 6}
	engine.resolveChannels(2)
	assert.Nil(t, engine.channelPick)
	assert.Equal(t, 1, engine.openChannels)
}

func TestProcessBlockPublishesMeter(t *testing.T) {
	engine, state := newTestCapture(t)

	block := make([]float32, 480)
	block[0] = 0.5
	engine.processBlock([][]float32{block}, 0.01)

	level := state.LevelMeter()
	require.True(t, level.Valid)
	assert.Equal(t, uint64(1), level.FrameCount)
	assert.InDelta(t, -6.0206, level.PeakDB, 0.001)

	engine.processBlock([][]float32{block}, 0.02)
	assert.Equal(t, uint64(2), state.LevelMeter().FrameCount)
}

func TestProcessBlockFeedsVisualization(t *testing.T) {
	state := newTestState(t)
	state.InitRecordingState()
	vis := NewVisFeed(4)
	vis.SetActive(true)
	engine := NewCaptureEngine(NewAudioConfig(), state, vis)

	block := []float32{0.1, 0.2, 0.3}
	engine.processBlock([][]float32{block}, 0.01)

	got, ok := vis.Next(visConsumeTimeout)
	require.True(t, ok)
	assert.Equal(t, block, got)
}

func TestStartRequiresInitializedState(t *testing.T) {
	state := newTestState(t)
	engine := NewCaptureEngine(NewAudioConfig(), state, nil)

	err := engine.Start()
	require.Error(t, err)
	assert.Equal(t, ErrCodeStateInvalid, ErrorCode(err))

	state.InitRecordingState()
	err = engine.Start()
	require.Error(t, err)
	assert.Equal(t, ErrCodeStateInvalid, ErrorCode(err))
}
