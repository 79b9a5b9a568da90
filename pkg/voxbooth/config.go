package voxbooth

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported bit depths for saved recordings.
var SupportedBitDepths = []int{16, 24}

// AudioConfig holds the hardware stream parameters for one engine.
//
// The sample rate and channel count here are the local defaults; once a
// session runs, the shared AudioSettings group is authoritative and the
// engines re-read it before opening a stream.
type AudioConfig struct {
	SampleRate    int
	BitDepth      int
	Channels      int
	Format        SampleFormat
	LatencyMS     float64 // target callback period, drives the block size
	InputDevice   *int
	OutputDevice  *int
	InputMapping  ChannelMapping
	OutputMapping ChannelMapping
}

// NewAudioConfig returns the default audio configuration.
func NewAudioConfig() *AudioConfig {
	return &AudioConfig{
		SampleRate: 48000,
		BitDepth:   24,
		Channels:   1,
		Format:     FormatFloat32,
		LatencyMS:  20.0,
	}
}

// Block size bounds: below ~64 frames scheduling jitter dominates, above
// 8192 the finishing pre-signal arrives uselessly early.
const (
	minBlockSize = 64
	maxBlockSize = 8192
)

// BlockSize converts the target latency into a callback block size for the
// given sample rate, bounded to what a device can sustain.
func (c *AudioConfig) BlockSize(sampleRate int) int {
	frames := int(c.LatencyMS * float64(sampleRate) / 1000.0)
	if frames < minBlockSize {
		frames = minBlockSize
	}
	if frames > maxBlockSize {
		frames = maxBlockSize
	}
	return frames
}

// Config is the orchestrator-level configuration.
type Config struct {
	Audio           *AudioConfig
	StateName       string        // shared state segment name; empty derives one from the PID
	VisAddr         string        // websocket visualization listen address; empty disables
	VisQueueSize    int           // capacity of the lossy capture->visualization queue
	WorkerBinary    string        // worker executable; empty uses os.Executable()
	CommandTimeout  time.Duration // bounded wait on the worker command queue
	ShutdownTimeout time.Duration // per-worker join timeout before forced termination
	StopTimeout     time.Duration // wait for the stopped-recording event
	Debug           bool
}

// NewConfig builds a Config from defaults and VOXBOOTH_* environment
// variables (a .env file is honored when present).
func NewConfig() *Config {
	c := &Config{
		Audio:           NewAudioConfig(),
		VisQueueSize:    32,
		CommandTimeout:  100 * time.Millisecond,
		ShutdownTimeout: 3 * time.Second,
		StopTimeout:     5 * time.Second,
	}
	c.loadFromEnv()
	if c.StateName == "" {
		c.StateName = fmt.Sprintf("voxbooth-state-%d", os.Getpid())
	}
	return c
}

func (c *Config) loadFromEnv() {
	_ = godotenv.Load()

	if v := os.Getenv("VOXBOOTH_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(v); err == nil {
			c.Audio.SampleRate = rate
		}
	}
	if v := os.Getenv("VOXBOOTH_BIT_DEPTH"); v != "" {
		if depth, err := strconv.Atoi(v); err == nil {
			c.Audio.BitDepth = depth
		}
	}
	if v := os.Getenv("VOXBOOTH_CHANNELS"); v != "" {
		if ch, err := strconv.Atoi(v); err == nil {
			c.Audio.Channels = ch
		}
	}
	if v := os.Getenv("VOXBOOTH_LATENCY_MS"); v != "" {
		if ms, err := strconv.ParseFloat(v, 64); err == nil {
			c.Audio.LatencyMS = ms
		}
	}
	if v := os.Getenv("VOXBOOTH_INPUT_DEVICE"); v != "" {
		if idx, err := strconv.Atoi(v); err == nil {
			c.Audio.InputDevice = &idx
		}
	}
	if v := os.Getenv("VOXBOOTH_OUTPUT_DEVICE"); v != "" {
		if idx, err := strconv.Atoi(v); err == nil {
			c.Audio.OutputDevice = &idx
		}
	}
	if v := os.Getenv("VOXBOOTH_INPUT_MAPPING"); v != "" {
		c.Audio.InputMapping = parseMapping(v)
	}
	if v := os.Getenv("VOXBOOTH_OUTPUT_MAPPING"); v != "" {
		c.Audio.OutputMapping = parseMapping(v)
	}
	if v := os.Getenv("VOXBOOTH_STATE_NAME"); v != "" {
		c.StateName = v
	}
	if v := os.Getenv("VOXBOOTH_VIS_ADDR"); v != "" {
		c.VisAddr = v
	}
	if v := os.Getenv("VOXBOOTH_VIS_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.VisQueueSize = n
		}
	}
	c.Debug = os.Getenv("VOXBOOTH_DEBUG") == "true"
}

func parseMapping(s string) ChannelMapping {
	parts := strings.Split(s, ",")
	mapping := make(ChannelMapping, 0, len(parts))
	for _, p := range parts {
		idx, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil
		}
		mapping = append(mapping, idx)
	}
	return mapping
}

// Validate returns a list of configuration issues.
func (c *Config) Validate() []string {
	issues := []string{}

	if c.Audio.SampleRate <= 0 {
		issues = append(issues, fmt.Sprintf("invalid sample rate: %d", c.Audio.SampleRate))
	}
	depthOK := false
	for _, d := range SupportedBitDepths {
		if d == c.Audio.BitDepth {
			depthOK = true
			break
		}
	}
	if !depthOK {
		issues = append(issues, fmt.Sprintf("unsupported bit depth: %d (supported: %v)", c.Audio.BitDepth, SupportedBitDepths))
	}
	if c.Audio.Channels < 1 {
		issues = append(issues, fmt.Sprintf("invalid channel count: %d", c.Audio.Channels))
	}
	if c.Audio.LatencyMS <= 0 {
		issues = append(issues, fmt.Sprintf("invalid latency: %.1f ms", c.Audio.LatencyMS))
	}
	for _, idx := range c.Audio.InputMapping {
		if idx < 0 {
			issues = append(issues, fmt.Sprintf("negative input channel index: %d", idx))
		}
	}
	if len(c.Audio.OutputMapping) > 1 {
		issues = append(issues, "output mapping must name a single target channel")
	}
	if c.StateName == "" {
		issues = append(issues, "state name must not be empty")
	}
	return issues
}

// PrintConfig writes a human-readable summary to stdout.
func (c *Config) PrintConfig() {
	fmt.Println("Voxbooth Configuration")
	fmt.Println("==================================================")
	fmt.Printf("Sample Rate: %d Hz\n", c.Audio.SampleRate)
	fmt.Printf("Bit Depth: %d\n", c.Audio.BitDepth)
	fmt.Printf("Channels: %d\n", c.Audio.Channels)
	fmt.Printf("Format: %s\n", c.Audio.Format)
	fmt.Printf("Target Latency: %.1f ms\n", c.Audio.LatencyMS)
	if c.Audio.InputDevice != nil {
		fmt.Printf("Input Device: %d\n", *c.Audio.InputDevice)
	} else {
		fmt.Println("Input Device: Default")
	}
	if c.Audio.OutputDevice != nil {
		fmt.Printf("Output Device: %d\n", *c.Audio.OutputDevice)
	} else {
		fmt.Println("Output Device: Default")
	}
	if len(c.Audio.InputMapping) > 0 {
		fmt.Printf("Input Mapping: %v\n", c.Audio.InputMapping)
	}
	if len(c.Audio.OutputMapping) > 0 {
		fmt.Printf("Output Mapping: %v\n", c.Audio.OutputMapping)
	}
	fmt.Printf("State Segment: %s\n", c.StateName)
	if c.VisAddr != "" {
		fmt.Printf("Visualization: ws://%s/ws\n", c.VisAddr)
	}
}
