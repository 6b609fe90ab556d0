// Package event carries recorder status, finished chunks, and transcripts to the
// presentation layer in publish order.
package event

import (
	"context"
	"sync"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/transcribe"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRecording Status = "recording"
	StatusListening Status = "listening"
	StatusUploading Status = "uploading"
	StatusError     Status = "error"
)

// Event is one of StatusChanged, ChunkReady, or TranscriptReceived.
type Event interface {
	event()
}

type StatusChanged struct {
	Status Status
	Detail string
}

type ChunkReady struct {
	Chunk audio.Chunk
}

type TranscriptReceived struct {
	ChunkID string
	Result  transcribe.Result
}

func (StatusChanged) event()      {}
func (ChunkReady) event()         {}
func (TranscriptReceived) event() {}

// Bus is an unbounded ordered queue with one consumer. Publish never blocks.
type Bus struct {
	mu     sync.Mutex
	queue  *Queue[Event]
	notify chan struct{}
	closed bool
}

func NewBus() *Bus {
	return &Bus{queue: NewQueue[Event](), notify: make(chan struct{}, 1)}
}

// Publish appends ev. Events published after Close are dropped.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue.Enqueue(ev)
	b.mu.Unlock()
	b.wake()
}

// Status is shorthand for publishing StatusChanged.
func (b *Bus) Status(status Status, detail string) {
	b.Publish(StatusChanged{Status: status, Detail: detail})
}

// Close stops accepting events. Queued events remain readable.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wake()
}

// Next returns the oldest queued event, blocking until one exists. ok is false once the
// bus is closed and drained, or ctx is done.
func (b *Bus) Next(ctx context.Context) (Event, bool) {
	for {
		b.mu.Lock()
		ev, ok := b.queue.Dequeue()
		closed := b.closed
		b.mu.Unlock()
		if ok {
			return ev, true
		}
		if closed {
			return nil, false
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-b.notify:
		}
	}
}

// Run delivers events to handle in order until the bus is drained after Close or ctx ends.
func (b *Bus) Run(ctx context.Context, handle func(Event)) {
	for {
		ev, ok := b.Next(ctx)
		if !ok {
			return
		}
		handle(ev)
	}
}

func (b *Bus) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}
