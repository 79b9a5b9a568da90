package voxbooth

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// CommandPollInterval bounds every control-channel wait so a worker loop
// re-checks the shared shutdown flag at least this often.
const CommandPollInterval = 100 * time.Millisecond

// ControlChannel decodes newline-delimited JSON commands from a worker's
// stdin. A reader goroutine feeds an internal channel so the dispatch
// loop can wait with a timeout instead of blocking on the pipe. Malformed
// lines are logged and skipped; they must never take a worker down.
type ControlChannel struct {
	commands chan Command
	logger   *VoxLogger
}

// NewControlChannel starts reading commands from r.
func NewControlChannel(r io.Reader) *ControlChannel {
	c := &ControlChannel{
		commands: make(chan Command, 16),
		logger:   GetGlobalLogger().WithComponent("ControlChannel"),
	}
	go c.readLoop(r)
	return c
}

func (c *ControlChannel) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cmd Command
		if err := json.Unmarshal(line, &cmd); err != nil {
			c.logger.LogVoxError(NewVoxError("malformed command line", ErrCodeCommandMalformed).
				AddDetail("line", string(line)))
			continue
		}
		if cmd.Action == "" {
			c.logger.Warn("command without action, skipping")
			continue
		}
		c.commands <- cmd
	}
	// Pipe closed: the orchestrator is gone, treat it as quit.
	c.commands <- Command{Action: ActionQuit}
	close(c.commands)
}

// Next waits up to timeout for the next command. ok is false on timeout.
func (c *ControlChannel) Next(timeout time.Duration) (Command, bool) {
	select {
	case cmd, open := <-c.commands:
		if !open {
			return Command{Action: ActionQuit}, true
		}
		return cmd, true
	case <-time.After(timeout):
		return Command{}, false
	}
}

// CommandWriter encodes commands as JSON lines onto a worker's stdin.
type CommandWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewCommandWriter wraps w, typically an exec.Cmd stdin pipe.
func NewCommandWriter(w io.Writer) *CommandWriter {
	return &CommandWriter{enc: json.NewEncoder(w)}
}

// Send writes one command line.
func (w *CommandWriter) Send(cmd Command) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(cmd)
}

// EventEmitter writes worker status events as JSON lines on stdout, the
// mirror channel of the command stream.
type EventEmitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewEventEmitter wraps w, typically os.Stdout in a worker process.
func NewEventEmitter(w io.Writer) *EventEmitter {
	return &EventEmitter{enc: json.NewEncoder(w)}
}

// Emit writes one event line.
func (e *EventEmitter) Emit(event WorkerEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(event)
}

// EmitReady signals the worker attached its state and is accepting
// commands.
func (e *EventEmitter) EmitReady() error {
	return e.Emit(WorkerEvent{Event: EventReady})
}

// EmitStopped reports a finished recording together with the metadata of
// the shared buffer holding it.
func (e *EventEmitter) EmitStopped(meta *BufferMetadata) error {
	return e.Emit(WorkerEvent{Event: EventStopped, Buffer: meta})
}

// EmitError reports a worker-side failure without tearing the worker
// down.
func (e *EventEmitter) EmitError(msg string) error {
	return e.Emit(WorkerEvent{Event: EventError, Error: msg})
}

// EventReader decodes worker event lines on the orchestrator side.
type EventReader struct {
	events chan WorkerEvent
}

// NewEventReader starts reading events from r, typically an exec.Cmd
// stdout pipe.
func NewEventReader(r io.Reader) *EventReader {
	er := &EventReader{events: make(chan WorkerEvent, 16)}
	go func() {
		defer close(er.events)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var ev WorkerEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				continue
			}
			er.events <- ev
		}
	}()
	return er
}

// Next waits up to timeout for the next worker event.
func (r *EventReader) Next(timeout time.Duration) (WorkerEvent, bool) {
	select {
	case ev, open := <-r.events:
		if !open {
			return WorkerEvent{}, false
		}
		return ev, true
	case <-time.After(timeout):
		return WorkerEvent{}, false
	}
}
