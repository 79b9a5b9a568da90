package voxbooth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	config := NewConfig()

	assert.Equal(t, 48000, config.Audio.SampleRate)
	assert.Equal(t, 24, config.Audio.BitDepth)
	assert.Equal(t, 1, config.Audio.Channels)
	assert.Equal(t, FormatFloat32, config.Audio.Format)
	assert.InDelta(t, 20.0, config.Audio.LatencyMS, 1e-9)
	assert.NotEmpty(t, config.StateName)
	assert.Empty(t, config.Validate())
}

func TestConfigEnvOverrides(t *testing.T) {
	t.Setenv("VOXBOOTH_SAMPLE_RATE", "44100")
	t.Setenv("VOXBOOTH_BIT_DEPTH", "16")
	t.Setenv("VOXBOOTH_CHANNELS", "2")
	t.Setenv("VOXBOOTH_LATENCY_MS", "10")
	t.Setenv("VOXBOOTH_INPUT_DEVICE", "3")
	t.Setenv("VOXBOOTH_INPUT_MAPPING", "2, 0")
	t.Setenv("VOXBOOTH_OUTPUT_MAPPING", "1")
	t.Setenv("VOXBOOTH_STATE_NAME", "voxbooth-test-env")
	t.Setenv("VOXBOOTH_VIS_ADDR", "127.0.0.1:8090")

	config := NewConfig()

	assert.Equal(t, 44100, config.Audio.SampleRate)
	assert.Equal(t, 16, config.Audio.BitDepth)
	assert.Equal(t, 2, config.Audio.Channels)
	assert.InDelta(t, 10.0, config.Audio.LatencyMS, 1e-9)
	require.NotNil(t, config.Audio.InputDevice)
	assert.Equal(t, 3, *config.Audio.InputDevice)
	assert.Equal(t, ChannelMapping{2, 0}, config.Audio.InputMapping)
	assert.Equal(t, ChannelMapping{1}, config.Audio.OutputMapping)
	assert.Equal(t, "voxbooth-test-env", config.StateName)
	assert.Equal(t, "127.0.0.1:8090", config.VisAddr)
	assert.Empty(t, config.Validate())
}

func TestConfigValidateIssues(t *testing.T) {
	config := NewConfig()
	config.Audio.SampleRate = 0
	config.Audio.BitDepth = 20
	config.Audio.Channels = 0
	config.Audio.LatencyMS = -1
	config.Audio.InputMapping = ChannelMapping{-1}
	config.Audio.OutputMapping = ChannelMapping{0, 1}

	issues := config.Validate()
	assert.Len(t, issues, 6)
}

func TestBlockSizeClamped(t *testing.T) {
	audio := NewAudioConfig()

	// 20 ms at 48 kHz.
	assert.Equal(t, 960, audio.BlockSize(48000))

	audio.LatencyMS = 0.1
	assert.Equal(t, minBlockSize, audio.BlockSize(8000))

	audio.LatencyMS = 1000
	assert.Equal(t, maxBlockSize, audio.BlockSize(48000))
}

func TestParseMapping(t *testing.T) {
	assert.Equal(t, ChannelMapping{0, 2, 5}, parseMapping("0,2,5"))
	assert.Equal(t, ChannelMapping{1}, parseMapping(" 1 "))
	assert.Nil(t, parseMapping("1,oops"))
}
