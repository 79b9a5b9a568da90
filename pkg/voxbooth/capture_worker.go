package voxbooth

import (
	"context"
	"io"

	"github.com/gordonklaus/portaudio"
)

// CaptureWorker is the capture process body: it attaches the shared state
// by name, owns the single input stream through a CaptureEngine, and
// serves JSON commands from stdin until told to quit or the shared
// shutdown flag is raised.
type CaptureWorker struct {
	config *Config
	logger *VoxLogger
}

// NewCaptureWorker creates the worker from its process config.
func NewCaptureWorker(config *Config) *CaptureWorker {
	return &CaptureWorker{
		config: config,
		logger: GetGlobalLogger().WithComponent("CaptureWorker"),
	}
}

// Run executes the worker loop. in and out are the command and event
// pipes, normally os.Stdin and os.Stdout.
func (w *CaptureWorker) Run(stateName string, in io.Reader, out io.Writer) error {
	if err := portaudio.Initialize(); err != nil {
		return WrapError(err, ErrCodeDeviceUnavailable)
	}
	defer portaudio.Terminate()

	state, err := AttachSharedState(stateName)
	if err != nil {
		return err
	}
	defer state.Close()
	state.InitRecordingState()

	vis := NewVisFeed(w.config.VisQueueSize)
	var visServer *VisServer
	if w.config.VisAddr != "" {
		visServer = NewVisServer(vis, state, w.config.VisAddr)
		visServer.Start()
	}

	engine := NewCaptureEngine(w.config.Audio, state, vis)
	defer engine.Close()

	ctrl := NewControlChannel(in)
	events := NewEventEmitter(out)

	if err := events.EmitReady(); err != nil {
		w.logger.WithError(err).Warn("emitting ready event")
	}
	w.logger.Infof("capture worker attached to state %s", stateName)

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
	if visServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), w.config.ShutdownTimeout)
		visServer.Stop(ctx)
		cancel()
	}
	return nil
}

// dispatch handles one command; the return value requests loop exit.
func (w *CaptureWorker) dispatch(cmd Command, engine *CaptureEngine, events *EventEmitter) bool {
	switch cmd.Action {
	case ActionStart:
		if err := engine.Start(); err != nil {
			w.logger.WithError(err).Error("starting capture")
			events.EmitError(err.Error())
		}

	case ActionStop:
		samples := engine.Stop()
		w.handoff(samples, events)

	case ActionSetInputDevice:
		engine.SetInputDevice(cmd.Index)

	case ActionSetInputMapping:
		engine.SetChannelMapping(cmd.Mapping)

	case ActionQuit:
		return true

	default:
		w.logger.Warnf("unknown command %q, skipping", cmd.Action)
	}
	return false
}

// handoff copies the finished recording into a fresh shared buffer and
// reports its metadata, then detaches the worker's own view. The
// orchestrator adopts the segment; the worker never unlinks it.
func (w *CaptureWorker) handoff(samples []float32, events *EventEmitter) {
	if len(samples) == 0 {
		events.EmitStopped(nil)
		return
	}
	registry := NewBufferRegistry()
	buf, err := registry.CreateFromSamples(samples, w.config.Audio.Channels)
	if err != nil {
		w.logger.WithError(err).Error("creating result buffer")
		events.EmitError(err.Error())
		return
	}
	meta := buf.Metadata()
	events.EmitStopped(&meta)
	if err := buf.Close(); err != nil {
		w.logger.WithError(err).Warn("detaching result buffer")
	}
}
