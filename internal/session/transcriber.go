package session

import (
	"context"
	"errors"
)

var (
	// ErrPipelineUnavailable indicates runtime transcriber wiring is missing or not started.
	ErrPipelineUnavailable = errors.New("recording pipeline not available")
	// ErrEmptyTranscript indicates stop completed but no chunk produced any words.
	ErrEmptyTranscript = errors.New("no speech transcribed; check microphone input or mute state")
	// ErrNotRecording is returned for stop/cancel requests when no session is live.
	ErrNotRecording = errors.New("not recording")
	// ErrCaptureEnded is returned when capture stops without a stop request and without a cause.
	ErrCaptureEnded = errors.New("recording ended unexpectedly")
)

// StopResult is the transcriber output consumed by the session controller.
type StopResult struct {
	Transcript    string
	AudioDevice   string
	BytesCaptured int64
	Chunks        int
	Dropped       int
	Transcripts   int
	Failed        int
}

// Progress is a live snapshot for status queries.
type Progress struct {
	Status      string
	Chunks      int
	Transcripts int
	Dropped     int
}

// Transcriber abstracts the capture/upload operations needed by session orchestration.
type Transcriber interface {
	Start(context.Context) error
	StopAndTranscribe(context.Context) (StopResult, error)
	Cancel(context.Context) error
	Progress() Progress
	// Ended is closed when capture stops on its own. A nil channel never fires.
	Ended() <-chan struct{}
}

// PlaceholderTranscriber is a no-op stand-in used when nothing is wired.
type PlaceholderTranscriber struct{}

func (PlaceholderTranscriber) Start(context.Context) error {
	return nil
}

func (PlaceholderTranscriber) StopAndTranscribe(context.Context) (StopResult, error) {
	return StopResult{}, ErrPipelineUnavailable
}

func (PlaceholderTranscriber) Cancel(context.Context) error {
	return nil
}

func (PlaceholderTranscriber) Progress() Progress {
	return Progress{}
}

func (PlaceholderTranscriber) Ended() <-chan struct{} {
	return nil
}
