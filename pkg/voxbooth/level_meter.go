package voxbooth

import (
	"math"
	"time"
)

// Level meter constants.
const (
	// LevelNoiseFloor keeps log10 defined for silent blocks.
	LevelNoiseFloor = 1e-10
	// LevelFloorDB is the lowest reported level.
	LevelFloorDB = -60.0
	// PeakHoldDuration is how long a peak is held before it may decay.
	PeakHoldDuration = 1500 * time.Millisecond
)

// LevelMeter computes RMS and instantaneous peak in dBFS from one raw
// audio block, plus a peak-hold value that decays only after the hold
// interval has elapsed. Both engines run one meter and publish its
// readings into the shared level group; the frame counter is the
// freshness signal for lock-free readers.
//
// Process runs on the hardware callback thread and must not allocate or
// block.
type LevelMeter struct {
	sampleRate int
	peakHoldDB float64
	holdSince  time.Time
	frameCount uint64
	now        func() time.Time
}

// NewLevelMeter creates a meter for the given sample rate.
func NewLevelMeter(sampleRate int) *LevelMeter {
	return &LevelMeter{
		sampleRate: sampleRate,
		peakHoldDB: LevelFloorDB,
		now:        time.Now,
	}
}

// SetSampleRate updates the meter for a new stream rate.
func (m *LevelMeter) SetSampleRate(sampleRate int) {
	m.sampleRate = sampleRate
}

// Reset clears the hold value and the frame counter for a new session.
func (m *LevelMeter) Reset() {
	m.peakHoldDB = LevelFloorDB
	m.holdSince = time.Time{}
	m.frameCount = 0
}

// Process computes levels for one block and advances the frame counter.
func (m *LevelMeter) Process(block []float32) (rmsDB, peakDB, peakHoldDB float64) {
	m.frameCount++

	if len(block) == 0 {
		return LevelFloorDB, LevelFloorDB, m.peakHoldDB
	}

	var sumSquares float64
	var peak float64
	for _, v := range block {
		f := float64(v)
		sumSquares += f * f
		if a := math.Abs(f); a > peak {
			peak = a
		}
	}

	rms := math.Sqrt(sumSquares / float64(len(block)))
	rmsDB = amplitudeToDB(rms)
	peakDB = amplitudeToDB(peak)

	ts := m.now()
	if peakDB >= m.peakHoldDB || m.holdSince.IsZero() || ts.Sub(m.holdSince) > PeakHoldDuration {
		m.peakHoldDB = peakDB
		m.holdSince = ts
	}
	// Hold never reads below the current block.
	if m.peakHoldDB < peakDB {
		m.peakHoldDB = peakDB
	}

	return rmsDB, peakDB, m.peakHoldDB
}

// FrameCount returns the strictly increasing publish counter.
func (m *LevelMeter) FrameCount() uint64 {
	return m.frameCount
}

func amplitudeToDB(amplitude float64) float64 {
	if amplitude < LevelNoiseFloor {
		amplitude = LevelNoiseFloor
	}
	db := 20.0 * math.Log10(amplitude)
	if db < LevelFloorDB {
		return LevelFloorDB
	}
	return db
}
