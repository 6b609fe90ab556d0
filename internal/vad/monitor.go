// Package vad classifies periodic volume samples as speech or silence with a fixed
// energy threshold and tracks how long the input has been quiet.
package vad

import (
	"sync"
	"time"
)

const (
	DefaultThreshold = 0.02
	DefaultInterval  = 100 * time.Millisecond
)

// Signal is the classification of one volume sample.
type Signal struct {
	Speech bool
	// Started is set on the first speech sample since the last Reset.
	Started bool
}

// Snapshot is a point-in-time copy of monitor state for status reporting.
type Snapshot struct {
	Level       float64
	LastSpeech  time.Time
	HasSpeech   bool
	Ticks       uint64
	SpeechTicks uint64
}

// Monitor holds the rolling speech state of the current chunk.
type Monitor struct {
	threshold float64

	mu          sync.Mutex
	level       float64
	lastSpeech  time.Time
	hasSpeech   bool
	ticks       uint64
	speechTicks uint64
}

// NewMonitor returns a monitor whose silence clock starts at now.
// A non-positive threshold selects DefaultThreshold.
func NewMonitor(threshold float64, now time.Time) *Monitor {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Monitor{threshold: threshold, lastSpeech: now}
}

func (m *Monitor) Threshold() float64 {
	return m.threshold
}

// Observe classifies level sampled at now. Levels strictly above the threshold count as speech.
func (m *Monitor) Observe(now time.Time, level float64) Signal {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.level = level
	m.ticks++
	if level <= m.threshold {
		return Signal{}
	}

	m.speechTicks++
	m.lastSpeech = now
	started := !m.hasSpeech
	m.hasSpeech = true
	return Signal{Speech: true, Started: started}
}

// SilenceFor reports the time elapsed since the last speech sample, or since the last Reset.
func (m *Monitor) SilenceFor(now time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return now.Sub(m.lastSpeech)
}

// HasSpeech reports whether any speech sample was observed since the last Reset.
func (m *Monitor) HasSpeech() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasSpeech
}

// Reset starts a new chunk: speech flag cleared, silence clock restarted at now.
func (m *Monitor) Reset(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hasSpeech = false
	m.lastSpeech = now
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Level:       m.level,
		LastSpeech:  m.lastSpeech,
		HasSpeech:   m.hasSpeech,
		Ticks:       m.ticks,
		SpeechTicks: m.speechTicks,
	}
}
