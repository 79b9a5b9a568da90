package voxbooth

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// worker is one spawned engine process with its command and event pipes.
type worker struct {
	cmd    *exec.Cmd
	writer *CommandWriter
	events *EventReader
}

// Orchestrator is the session controller: it creates the shared state
// segment, spawns the capture and playback workers, relays commands over
// their stdin pipes, adopts finished recordings into its buffer registry,
// and tears everything down in order at shutdown.
type Orchestrator struct {
	config   *Config
	state    *SharedState
	registry *BufferRegistry
	logger   *VoxLogger

	capture  *worker
	playback *worker
}

// NewOrchestrator creates the shared state segment and publishes the
// session audio settings. Workers are not started yet.
func NewOrchestrator(config *Config) (*Orchestrator, error) {
	state, err := CreateSharedState(config.StateName)
	if err != nil {
		return nil, err
	}
	state.UpdateAudioSettings(
		config.Audio.SampleRate,
		config.Audio.BitDepth,
		config.Audio.Channels,
		config.Audio.Format,
	)
	return &Orchestrator{
		config:   config,
		state:    state,
		registry: NewBufferRegistry(),
		logger:   GetGlobalLogger().WithComponent("Orchestrator"),
	}, nil
}

// State exposes the shared state for position polling and level reads.
func (o *Orchestrator) State() *SharedState {
	return o.state
}

// StartWorkers spawns the capture and playback processes and waits for
// each to report ready.
func (o *Orchestrator) StartWorkers() error {
	binary := o.config.WorkerBinary
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return NewWorkerError(fmt.Sprintf("resolving worker binary: %v", err))
		}
		binary = self
	}

	var captureArgs []string
	if o.config.VisAddr != "" {
		captureArgs = append(captureArgs, "--vis-addr", o.config.VisAddr)
	}

	var err error
	if o.capture, err = o.spawn(binary, "capture-worker", captureArgs...); err != nil {
		return err
	}
	if o.playback, err = o.spawn(binary, "playback-worker"); err != nil {
		o.stopWorker(o.capture)
		o.capture = nil
		return err
	}
	return nil
}

func (o *Orchestrator) spawn(binary, subcommand string, extra ...string) (*worker, error) {
	args := append([]string{subcommand, "--state", o.state.Name()}, extra...)
	cmd := exec.Command(binary, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, NewWorkerError(fmt.Sprintf("opening %s stdin: %v", subcommand, err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, NewWorkerError(fmt.Sprintf("opening %s stdout: %v", subcommand, err))
	}
	if err := cmd.Start(); err != nil {
		return nil, NewWorkerError(fmt.Sprintf("spawning %s: %v", subcommand, err))
	}

	w := &worker{
		cmd:    cmd,
		writer: NewCommandWriter(stdin),
		events: NewEventReader(stdout),
	}

	ev, ok := w.events.Next(o.config.ShutdownTimeout)
	if !ok || ev.Event != EventReady {
		o.stopWorker(w)
		return nil, NewVoxError(fmt.Sprintf("%s did not report ready", subcommand), ErrCodeWorkerTimeout)
	}
	o.logger.Infof("%s ready (pid %d)", subcommand, cmd.Process.Pid)
	return w, nil
}

// StartRecording commands the capture worker to open its stream.
func (o *Orchestrator) StartRecording() error {
	if o.capture == nil {
		return NewWorkerError("capture worker not running")
	}
	return o.capture.writer.Send(Command{Action: ActionStart})
}

// StopRecording commands the capture worker to stop, waits for the result
// buffer, and adopts it into the registry. Returns nil for an empty
// recording.
func (o *Orchestrator) StopRecording() (*AudioBuffer, error) {
	if o.capture == nil {
		return nil, NewWorkerError("capture worker not running")
	}
	if err := o.capture.writer.Send(Command{Action: ActionStop}); err != nil {
		return nil, NewWorkerError(fmt.Sprintf("sending stop: %v", err))
	}

	deadline := time.Now().Add(o.config.StopTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, NewVoxError("capture worker did not confirm stop", ErrCodeWorkerTimeout)
		}
		ev, ok := o.capture.events.Next(remaining)
		if !ok {
			return nil, NewVoxError("capture worker did not confirm stop", ErrCodeWorkerTimeout)
		}
		switch ev.Event {
		case EventStopped:
			if ev.Buffer == nil {
				return nil, nil
			}
			return o.registry.AdoptByMetadata(*ev.Buffer)
		case EventError:
			return nil, NewVoxError(ev.Error, ErrCodeUnknown)
		}
	}
}

// Play commands the playback worker to play a registered buffer.
func (o *Orchestrator) Play(meta BufferMetadata, sampleRate int) error {
	if o.playback == nil {
		return NewWorkerError("playback worker not running")
	}
	return o.playback.writer.Send(Command{
		Action:         ActionPlay,
		BufferMetadata: &meta,
		SampleRate:     sampleRate,
	})
}

// StopPlayback commands the playback worker to stop.
func (o *Orchestrator) StopPlayback() error {
	if o.playback == nil {
		return NewWorkerError("playback worker not running")
	}
	return o.playback.writer.Send(Command{Action: ActionStop})
}

// SetInputDevice reconfigures the capture device for future recordings.
func (o *Orchestrator) SetInputDevice(index *int) error {
	if o.capture == nil {
		return NewWorkerError("capture worker not running")
	}
	return o.capture.writer.Send(Command{Action: ActionSetInputDevice, Index: index})
}

// SetOutputDevice reconfigures the playback device for future playback.
func (o *Orchestrator) SetOutputDevice(index *int) error {
	if o.playback == nil {
		return NewWorkerError("playback worker not running")
	}
	return o.playback.writer.Send(Command{Action: ActionSetOutputDevice, Index: index})
}

// SetInputMapping reconfigures the capture channel mapping.
func (o *Orchestrator) SetInputMapping(mapping ChannelMapping) error {
	if o.capture == nil {
		return NewWorkerError("capture worker not running")
	}
	return o.capture.writer.Send(Command{Action: ActionSetInputMapping, Mapping: mapping})
}

// SetOutputMapping reconfigures the playback channel routing.
func (o *Orchestrator) SetOutputMapping(mapping ChannelMapping) error {
	if o.playback == nil {
		return NewWorkerError("playback worker not running")
	}
	return o.playback.writer.Send(Command{Action: ActionSetOutputMapping, Mapping: mapping})
}

// CaptureError reads the shared capture error field, if set.
func (o *Orchestrator) CaptureError() (string, bool) {
	return o.state.CaptureError()
}

// Registry exposes the buffer registry, e.g. to release a recording after
// save.
func (o *Orchestrator) Registry() *BufferRegistry {
	return o.registry
}

// SaveRecording writes a buffer to a WAV file at path, quantizing the
// float32 samples to the session bit depth.
func (o *Orchestrator) SaveRecording(buf *AudioBuffer, path string) error {
	meta := buf.Metadata()
	samples := buf.Samples()

	f, err := os.Create(path)
	if err != nil {
		return WrapError(err, ErrCodeSaveFailed)
	}
	defer f.Close()

	bitDepth := o.config.Audio.BitDepth
	enc := wav.NewEncoder(f, o.config.Audio.SampleRate, bitDepth, meta.Channels, 1)

	scale := float64(int(1) << (bitDepth - 1))
	limit := int(scale) - 1
	data := make([]int, len(samples))
	for i, s := range samples {
		v := int(float64(s) * scale)
		if v > limit {
			v = limit
		}
		if v < -int(scale) {
			v = -int(scale)
		}
		data[i] = v
	}

	intBuf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: meta.Channels,
			SampleRate:  o.config.Audio.SampleRate,
		},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(intBuf); err != nil {
		return WrapError(err, ErrCodeSaveFailed)
	}
	if err := enc.Close(); err != nil {
		return WrapError(err, ErrCodeSaveFailed)
	}

	o.logger.LogAudioEvent("recording_saved", map[string]interface{}{
		"path":   path,
		"frames": meta.Frames,
		"bits":   bitDepth,
		"rate":   o.config.Audio.SampleRate,
		"buffer": meta.Name,
	})
	return nil
}

// Shutdown tears the session down in order: quit commands, shared
// shutdown flag, bounded wait for worker exit, kill stragglers, release
// buffers, then unlink the state segment.
func (o *Orchestrator) Shutdown() {
	if o.capture != nil {
		o.capture.writer.Send(Command{Action: ActionQuit})
	}
	if o.playback != nil {
		o.playback.writer.Send(Command{Action: ActionQuit})
	}
	o.state.SignalShutdown()

	o.waitWorker(o.capture, "capture-worker")
	o.waitWorker(o.playback, "playback-worker")
	o.capture = nil
	o.playback = nil

	o.registry.ReleaseAll()
	if err := o.state.Close(); err != nil {
		o.logger.WithError(err).Warn("closing shared state")
	}
	if err := o.state.Unlink(); err != nil {
		o.logger.WithError(err).Warn("unlinking shared state")
	}
}

func (o *Orchestrator) waitWorker(w *worker, name string) {
	if w == nil {
		return
	}
	done := make(chan error, 1)
	go func() { done <- w.cmd.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			o.logger.WithError(err).Warnf("%s exited with error", name)
		}
	case <-time.After(o.config.ShutdownTimeout):
		o.logger.Warnf("%s did not exit in time, killing", name)
		w.cmd.Process.Kill()
		<-done
	}
}

func (o *Orchestrator) stopWorker(w *worker) {
	if w == nil || w.cmd.Process == nil {
		return
	}
	w.cmd.Process.Kill()
	w.cmd.Wait()
}
