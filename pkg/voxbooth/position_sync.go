package voxbooth

import (
	"context"
	"time"
)

const (
	// PositionPollInterval is the playback position poll period.
	PositionPollInterval = 10 * time.Millisecond
	// stallTimeout forces completion when the cursor stops advancing
	// near the end, covering drivers that drop the tail callbacks.
	stallTimeout = 200 * time.Millisecond
	// stallProgress is how far through playback the stall watchdog arms.
	stallProgress = 0.95
)

// PlaybackStateSource provides playback snapshots; satisfied by
// SharedState.
type PlaybackStateSource interface {
	PlaybackState() PlaybackSnapshot
}

// PositionSyncClient polls the shared playback group and drives UI-style
// callbacks: a smooth position in seconds while playing, and a single
// finished notification per session. The finishing pre-signal jumps the
// position straight to the end, so the consumer reaches the endpoint
// before the hardware drains its last block.
type PositionSyncClient struct {
	source      PlaybackStateSource
	sampleRate  int
	startOffset float64
	onPosition  func(seconds float64)
	onFinished  func()
	logger      *VoxLogger

	lastPos     uint64
	lastAdvance time.Time
	finished    bool
}

// NewPositionSyncClient creates a client reporting positions as
// startOffset + cursor/sampleRate seconds. Either callback may be nil.
func NewPositionSyncClient(source PlaybackStateSource, sampleRate int, startOffset float64,
	onPosition func(seconds float64), onFinished func()) *PositionSyncClient {
	return &PositionSyncClient{
		source:      source,
		sampleRate:  sampleRate,
		startOffset: startOffset,
		onPosition:  onPosition,
		onFinished:  onFinished,
		logger:      GetGlobalLogger().WithComponent("PositionSync"),
	}
}

// Run polls until ctx is done.
func (c *PositionSyncClient) Run(ctx context.Context) {
	ticker := time.NewTicker(PositionPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.step(now)
		}
	}
}

// step advances the client by one poll. Split out so the poll logic is
// exercisable with synthetic snapshots and timestamps.
func (c *PositionSyncClient) step(now time.Time) {
	snap := c.source.PlaybackState()
	if !snap.Valid {
		return
	}

	switch snap.Status {
	case PlaybackIdle:
		// New session boundary: re-arm for the next playback.
		c.finished = false
		c.lastPos = 0
		c.lastAdvance = time.Time{}

	case PlaybackPlaying:
		if c.finished {
			return
		}
		c.report(float64(snap.SamplePosition))

		if snap.SamplePosition != c.lastPos || c.lastAdvance.IsZero() {
			c.lastPos = snap.SamplePosition
			c.lastAdvance = now
			return
		}
		if snap.TotalSamples == 0 {
			return
		}
		progress := float64(snap.SamplePosition) / float64(snap.TotalSamples)
		if progress >= stallProgress && now.Sub(c.lastAdvance) > stallTimeout {
			c.logger.Warnf("playback stalled at %d/%d, forcing completion", snap.SamplePosition, snap.TotalSamples)
			c.finish(snap.TotalSamples)
		}

	case PlaybackFinishing:
		// Less than one block remains: animate straight to the end.
		c.finish(snap.TotalSamples)

	case PlaybackCompleted:
		c.finish(snap.TotalSamples)
	}
}

func (c *PositionSyncClient) report(samples float64) {
	if c.onPosition != nil && c.sampleRate > 0 {
		c.onPosition(c.startOffset + samples/float64(c.sampleRate))
	}
}

func (c *PositionSyncClient) finish(total uint64) {
	if c.finished {
		return
	}
	c.finished = true
	c.report(float64(total))
	if c.onFinished != nil {
		c.onFinished()
	}
}
