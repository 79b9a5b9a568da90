package voxbooth

import (
	"io"

	"github.com/gordonklaus/portaudio"
)

// PlaybackWorker is the playback process body: it attaches the shared
// state by name, owns the single output stream through a PlaybackEngine,
// and serves JSON commands from stdin until told to quit or the shared
// shutdown flag is raised.
type PlaybackWorker struct {
	config *Config
	logger *VoxLogger
}

// NewPlaybackWorker creates the worker from its process config.
func NewPlaybackWorker(config *Config) *PlaybackWorker {
	return &PlaybackWorker{
		config: config,
		logger: GetGlobalLogger().WithComponent("PlaybackWorker"),
	}
}

// Run executes the worker loop. in and out are the command and event
// pipes, normally os.Stdin and os.Stdout.
func (w *PlaybackWorker) Run(stateName string, in io.Reader, out io.Writer) error {
	if err := portaudio.Initialize(); err != nil {
		return WrapError(err, ErrCodeDeviceUnavailable)
	}
	defer portaudio.Terminate()

	state, err := AttachSharedState(stateName)
	if err != nil {
		return err
	}
	defer state.Close()
	state.InitPlaybackState()

	engine := NewPlaybackEngine(w.config.Audio, state)
	defer engine.Close()

	ctrl := NewControlChannel(in)
	events := NewEventEmitter(out)

	if err := events.EmitReady(); err != nil {
		w.logger.WithError(err).Warn("emitting ready event")
	}
	w.logger.Infof("playback worker attached to state %s", stateName)

	for {
		cmd, ok := ctrl.Next(w.config.CommandTimeout)
		if !ok {
			if state.ShutdownRequested() {
				w.logger.Info("shutdown flag raised, exiting")
				break
			}
			continue
		}

		if w.dispatch(cmd, engine, events) {
			break
		}
	}

	engine.Stop()
	return nil
}

// dispatch handles one command; the return value requests loop exit.
func (w *PlaybackWorker) dispatch(cmd Command, engine *PlaybackEngine, events *EventEmitter) bool {
	switch cmd.Action {
	case ActionPlay:
		if cmd.BufferMetadata == nil {
			w.logger.Warn("play command without buffer metadata, skipping")
			events.EmitError("play command without buffer metadata")
			return false
		}
		if err := engine.Play(*cmd.BufferMetadata, cmd.SampleRate); err != nil {
			w.logger.WithError(err).Error("starting playback")
			events.EmitError(err.Error())
		}

	case ActionStop:
		engine.Stop()

	case ActionSetOutputDevice:
		engine.SetOutputDevice(cmd.Index)

	case ActionSetOutputMapping:
		engine.SetChannelMapping(cmd.Mapping)

	case ActionQuit:
		return true

	default:
		w.logger.Warnf("unknown command %q, skipping", cmd.Action)
	}
	return false
}
