package voxbooth

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandRoundTrip(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	writer := NewCommandWriter(w)
	ctrl := NewControlChannel(r)

	idx := 3
	go writer.Send(Command{Action: ActionSetInputDevice, Index: &idx})

	cmd, ok := ctrl.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, ActionSetInputDevice, cmd.Action)
	require.NotNil(t, cmd.Index)
	assert.Equal(t, 3, *cmd.Index)
}

func TestPlayCommandCarriesBufferMetadata(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	writer := NewCommandWriter(w)
	ctrl := NewControlChannel(r)

	meta := BufferMetadata{Name: "voxbooth-buf-abc", Frames: 4800, Channels: 1, DType: "float32"}
	go writer.Send(Command{Action: ActionPlay, BufferMetadata: &meta, SampleRate: 48000})

	cmd, ok := ctrl.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, ActionPlay, cmd.Action)
	require.NotNil(t, cmd.BufferMetadata)
	assert.Equal(t, meta, *cmd.BufferMetadata)
	assert.Equal(t, 48000, cmd.SampleRate)
}

func TestMalformedCommandsSkipped(t *testing.T) {
	input := "this is not json\n" +
		`{"mapping":[0,1]}` + "\n" +
		`{"action":"start"}` + "\n"
	ctrl := NewControlChannel(strings.NewReader(input))

	cmd, ok := ctrl.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, ActionStart, cmd.Action)
}

func TestClosedPipeBecomesQuit(t *testing.T) {
	ctrl := NewControlChannel(strings.NewReader(""))

	cmd, ok := ctrl.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, ActionQuit, cmd.Action)

	// The channel keeps answering quit after close.
	cmd, ok = ctrl.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, ActionQuit, cmd.Action)
}

func TestNextTimesOutWithoutCommands(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	ctrl := NewControlChannel(r)

	start := time.Now()
	_, ok := ctrl.Next(20 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWorkerEventRoundTrip(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	emitter := NewEventEmitter(w)
	reader := NewEventReader(r)

	go emitter.EmitReady()
	ev, ok := reader.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, EventReady, ev.Event)

	meta := BufferMetadata{Name: "voxbooth-buf-xyz", Frames: 1440, Channels: 1, DType: "float32"}
	go emitter.EmitStopped(&meta)
	ev, ok = reader.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, EventStopped, ev.Event)
	require.NotNil(t, ev.Buffer)
	assert.Equal(t, meta, *ev.Buffer)

	go emitter.EmitError("device gone")
	ev, ok = reader.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, EventError, ev.Event)
	assert.Equal(t, "device gone", ev.Error)
}
