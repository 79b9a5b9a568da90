package voxbooth

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeEvents(t *testing.T, buf *bytes.Buffer) []WorkerEvent {
	t.Helper()
	var events []WorkerEvent
	dec := json.NewDecoder(buf)
	for dec.More() {
		var ev WorkerEvent
		require.NoError(t, dec.Decode(&ev))
		events = append(events, ev)
	}
	return events
}

func TestCaptureWorkerDispatch(t *testing.T) {
	engine, _ := newTestCapture(t)
	worker := NewCaptureWorker(NewConfig())
	var out bytes.Buffer
	events := NewEventEmitter(&out)

	idx := 2
	quit := worker.dispatch(Command{Action: ActionSetInputDevice, Index: &idx}, engine, events)
	assert.False(t, quit)
	require.NotNil(t, engine.deviceIndex)
	assert.Equal(t, 2, *engine.deviceIndex)

	quit = worker.dispatch(Command{Action: ActionSetInputMapping, Mapping: []int{1, 0}}, engine, events)
	assert.False(t, quit)
	assert.Equal(t, ChannelMapping{1, 0}, engine.mapping)

	assert.False(t, worker.dispatch(Command{Action: "bogus"}, engine, events))
	assert.True(t, worker.dispatch(Command{Action: ActionQuit}, engine, events))
}

func TestCaptureWorkerHandoff(t *testing.T) {
	worker := NewCaptureWorker(NewConfig())
	var out bytes.Buffer
	events := NewEventEmitter(&out)

	samples := make([]float32, 1440)
	samples[0] = 0.25
	worker.handoff(samples, events)

	evs := decodeEvents(t, &out)
	require.Len(t, evs, 1)
	assert.Equal(t, EventStopped, evs[0].Event)
	require.NotNil(t, evs[0].Buffer)
	assert.Equal(t, 1440, evs[0].Buffer.Frames)

	// The segment outlives the worker's detach; the orchestrator adopts it.
	registry := NewBufferRegistry()
	adopted, err := registry.AdoptByMetadata(*evs[0].Buffer)
	require.NoError(t, err)
	assert.Equal(t, float32(0.25), adopted.Samples()[0])
	registry.ReleaseAll()
}

func TestCaptureWorkerHandoffEmptyRecording(t *testing.T) {
	worker := NewCaptureWorker(NewConfig())
	var out bytes.Buffer
	events := NewEventEmitter(&out)

	worker.handoff(nil, events)

	evs := decodeEvents(t, &out)
	require.Len(t, evs, 1)
	assert.Equal(t, EventStopped, evs[0].Event)
	assert.Nil(t, evs[0].Buffer)
}

func TestPlaybackWorkerDispatch(t *testing.T) {
	state := newTestState(t)
	engine := NewPlaybackEngine(NewAudioConfig(), state)
	worker := NewPlaybackWorker(NewConfig())
	var out bytes.Buffer
	events := NewEventEmitter(&out)

	// Play without metadata is rejected without killing the worker.
	quit := worker.dispatch(Command{Action: ActionPlay}, engine, events)
	assert.False(t, quit)
	evs := decodeEvents(t, &out)
	require.Len(t, evs, 1)
	assert.Equal(t, EventError, evs[0].Event)

	quit = worker.dispatch(Command{Action: ActionSetOutputMapping, Mapping: []int{1}}, engine, events)
	assert.False(t, quit)
	assert.Equal(t, ChannelMapping{1}, engine.mapping)

	assert.False(t, worker.dispatch(Command{Action: ActionStop}, engine, events))
	assert.True(t, worker.dispatch(Command{Action: ActionQuit}, engine, events))
}
