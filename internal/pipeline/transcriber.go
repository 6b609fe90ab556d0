// Package pipeline wires capture, chunking, upload, and transcript assembly into one
// meeting session.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/azure"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/event"
	"github.com/rbright/parley/internal/metrics"
	"github.com/rbright/parley/internal/recorder"
	"github.com/rbright/parley/internal/session"
	"github.com/rbright/parley/internal/transcribe"
	"github.com/rbright/parley/internal/transcript"
)

// Capture is an open input device that can be segmented and metered.
type Capture interface {
	audio.Source
	audio.LevelMeter
	Device() audio.Device
	BytesCaptured() int64
}

// Options wires a Transcriber. Zero values fall back to production defaults.
type Options struct {
	Config   config.Config
	Settings azure.SettingsProvider
	Uploader transcribe.Uploader
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Clock    clock.Clock
	// OpenCapture selects and opens the input device.
	OpenCapture func(context.Context) (Capture, error)
	// OnStatus observes every status change in publish order.
	OnStatus func(event.Status, string)
}

// Transcriber owns one recording session: every chunk the recorder emits is uploaded
// in its own goroutine and the results are assembled in completion order.
type Transcriber struct {
	opts Options

	mu        sync.Mutex
	started   bool
	cancelled bool
	rec       *recorder.Recorder
	capture   Capture
	bus       *event.Bus
	busDone   chan struct{}
	uploadCtx context.Context
	cancel    context.CancelFunc
	uploads   sync.WaitGroup
	doc       *transcript.Document
	status    event.Status
	received  int
	failed    int
	failures  *multierror.Error

	// statusMu orders recorder status against status restored after uploads.
	statusMu   sync.Mutex
	capturing  bool
	captureErr string
}

func NewTranscriber(opts Options) *Transcriber {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Settings == nil {
		opts.Settings = azure.StaticSettings(opts.Config.AzureSettings())
	}
	if opts.Uploader == nil {
		opts.Uploader = transcribe.NewClient(opts.Logger, opts.Metrics)
	}
	if opts.OpenCapture == nil {
		cfg, logger := opts.Config.Audio, opts.Logger
		opts.OpenCapture = func(ctx context.Context) (Capture, error) {
			return OpenPulse(ctx, cfg, logger)
		}
	}
	return &Transcriber{opts: opts, status: event.StatusIdle}
}

// OpenPulse resolves the configured input and opens it through PulseAudio.
func OpenPulse(ctx context.Context, cfg config.AudioConfig, logger *slog.Logger) (Capture, error) {
	selection, err := audio.SelectDevice(ctx, cfg.Input, cfg.Fallback)
	if err != nil {
		return nil, err
	}
	if selection.Warning != "" && logger != nil {
		logger.Warn(selection.Warning)
	}
	return audio.OpenPulse(ctx, selection.Device)
}

// RecorderConfig converts the chunking and VAD sections into recorder parameters.
func RecorderConfig(cfg config.Config) recorder.Config {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return recorder.Config{
		MaxDuration:   ms(cfg.Chunking.MaxDurationMS),
		Silence:       ms(cfg.Chunking.SilenceMS),
		FlushDelay:    ms(cfg.Chunking.FlushDelayMS),
		MinChunkBytes: cfg.Chunking.MinChunkBytes,
		TickInterval:  ms(cfg.VAD.IntervalMS),
		Threshold:     cfg.VAD.Threshold,
	}
}

// Start checks credentials, opens the device, and begins chunked recording.
func (t *Transcriber) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return fmt.Errorf("transcriber already started")
	}

	settings, err := t.opts.Settings.Settings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if err := settings.ValidateTranscription(); err != nil {
		return err
	}

	capture, err := t.opts.OpenCapture(ctx)
	if err != nil {
		return err
	}

	var meter audio.LevelMeter
	if t.opts.Config.VAD.Enable {
		meter = capture
	}

	t.bus = event.NewBus()
	t.busDone = make(chan struct{})
	t.doc = &transcript.Document{}
	t.failures = nil
	t.failed = 0
	t.received = 0
	t.cancelled = false
	t.capturing = false
	t.captureErr = ""
	t.uploadCtx, t.cancel = context.WithCancel(context.WithoutCancel(ctx))

	bus, busDone := t.bus, t.busDone
	go func() {
		defer close(busDone)
		bus.Run(context.Background(), t.handle)
	}()

	t.rec = recorder.New(RecorderConfig(t.opts.Config), recorder.Options{
		Source:  capture,
		Meter:   meter,
		Clock:   t.opts.Clock,
		Logger:  t.opts.Logger,
		Metrics: t.opts.Metrics,
		Sink:    t.onChunk,
		Status:  t.recorderStatus(bus),
	})
	if err := t.rec.Start(ctx); err != nil {
		_ = capture.Close()
		t.cancel()
		bus.Close()
		<-busDone
		return err
	}

	t.capture = capture
	t.started = true
	return nil
}

// StopAndTranscribe performs the final cut, waits for in-flight uploads, and returns
// the assembled transcript.
func (t *Transcriber) StopAndTranscribe(ctx context.Context) (session.StopResult, error) {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return session.StopResult{}, session.ErrPipelineUnavailable
	}
	rec := t.rec
	t.mu.Unlock()

	stopErr := t.stopRecorder(ctx, rec)
	if err := t.waitUploads(ctx); err != nil {
		stopErr = multierror.Append(stopErr, err)
	}
	t.drainBus()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = false
	t.cancel()

	stats := rec.Stats()
	result := session.StopResult{
		Transcript:    t.doc.String(),
		AudioDevice:   describeDevice(t.capture.Device()),
		BytesCaptured: t.capture.BytesCaptured(),
		Chunks:        stats.Emitted,
		Dropped:       stats.Dropped,
		Transcripts:   t.received,
		Failed:        t.failed,
	}

	if stopErr != nil {
		return result, stopErr
	}
	if strings.TrimSpace(result.Transcript) == "" && t.failed > 0 {
		return result, fmt.Errorf("all uploads failed: %w", t.failures.ErrorOrNil())
	}
	return result, nil
}

// Cancel stops recording and abandons pending uploads.
func (t *Transcriber) Cancel(ctx context.Context) error {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return nil
	}
	t.cancelled = true
	t.cancel()
	rec := t.rec
	t.mu.Unlock()

	err := t.stopRecorder(ctx, rec)
	t.uploads.Wait()
	t.drainBus()

	t.mu.Lock()
	t.started = false
	t.mu.Unlock()
	return err
}

// Ended is closed when the recorder stops, including when it fails on its own
// mid-session. It is nil before Start.
func (t *Transcriber) Ended() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started || t.rec == nil {
		return nil
	}
	return t.rec.Done()
}

// stopRecorder requests the final cut and waits for the recorder loop to exit, so no
// sink call can race the upload wait. The error that ended the recorder is included
// even when the recorder had already failed before Stop.
func (t *Transcriber) stopRecorder(ctx context.Context, rec *recorder.Recorder) error {
	stopErr := rec.Stop(ctx)
	<-rec.Done()

	recErr := rec.Err()
	switch {
	case recErr == nil:
		return stopErr
	case stopErr == nil || stopErr == recErr:
		return recErr
	default:
		return multierror.Append(stopErr, recErr)
	}
}

// recorderStatus forwards recorder status and tracks whether capture is still live.
func (t *Transcriber) recorderStatus(bus *event.Bus) func(event.Status, string) {
	return func(status event.Status, detail string) {
		t.statusMu.Lock()
		defer t.statusMu.Unlock()
		t.capturing = status != event.StatusIdle && status != event.StatusError
		if status == event.StatusError {
			t.captureErr = detail
		}
		bus.Status(status, detail)
	}
}

// Progress reports live counters for status queries.
func (t *Transcriber) Progress() session.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	progress := session.Progress{Status: string(t.status), Transcripts: t.received}
	if t.rec != nil {
		stats := t.rec.Stats()
		progress.Chunks = stats.Emitted
		progress.Dropped = stats.Dropped
	}
	return progress
}

// onChunk is the recorder sink. It runs on the recorder loop and must not block.
func (t *Transcriber) onChunk(chunk audio.Chunk) {
	t.mu.Lock()
	cancelled := t.cancelled
	ctx, bus := t.uploadCtx, t.bus
	t.mu.Unlock()

	bus.Publish(event.ChunkReady{Chunk: chunk})
	if cancelled {
		return
	}

	t.uploads.Add(1)
	go func() {
		defer t.uploads.Done()
		t.upload(ctx, bus, chunk)
	}()
}

func (t *Transcriber) upload(ctx context.Context, bus *event.Bus, chunk audio.Chunk) {
	if t.opts.Config.Debug.AudioDump {
		if path, err := dumpChunk(chunk, t.opts.Clock.Now()); err != nil {
			t.logWarn("unable to write debug audio dump", "chunk_id", chunk.ID, "error", err.Error())
		} else {
			t.logInfo("debug audio dump written", "chunk_id", chunk.ID, "path", path)
		}
	}

	bus.Status(event.StatusUploading, chunk.ID)

	settings, err := t.opts.Settings.Settings(ctx)
	if err == nil {
		var result transcribe.Result
		result, err = t.opts.Uploader.Upload(ctx, chunk, settings)
		if err == nil {
			bus.Publish(event.TranscriptReceived{ChunkID: chunk.ID, Result: result})
			t.resumeStatus(bus)
			return
		}
	}

	if errors.Is(err, context.Canceled) {
		return
	}

	t.mu.Lock()
	t.failed++
	t.failures = multierror.Append(t.failures, fmt.Errorf("chunk %s: %w", chunk.ID, err))
	t.mu.Unlock()

	t.logWarn("chunk upload failed", "chunk_id", chunk.ID, "status", azure.StatusCode(err), "error", err.Error())
	bus.Status(event.StatusError, err.Error())
	t.resumeStatus(bus)
}

// resumeStatus restores the recorder's status after an upload settles. A recorder that
// failed keeps reporting its error.
func (t *Transcriber) resumeStatus(bus *event.Bus) {
	t.statusMu.Lock()
	defer t.statusMu.Unlock()
	switch {
	case t.capturing:
		bus.Status(event.StatusRecording, "")
	case t.captureErr != "":
		bus.Status(event.StatusError, t.captureErr)
	}
}

// handle runs on the bus consumer goroutine, one event at a time.
func (t *Transcriber) handle(ev event.Event) {
	switch e := ev.(type) {
	case event.StatusChanged:
		t.mu.Lock()
		t.status = e.Status
		t.mu.Unlock()
		if t.opts.OnStatus != nil {
			t.opts.OnStatus(e.Status, e.Detail)
		}
	case event.ChunkReady:
		t.logInfo("chunk ready", "chunk_id", e.Chunk.ID, "reason", string(e.Chunk.Reason), "bytes", e.Chunk.Size())
	case event.TranscriptReceived:
		added := t.doc.Add(e.Result)
		t.mu.Lock()
		t.received++
		t.mu.Unlock()
		t.logInfo("transcript received", "chunk_id", e.ChunkID, "format", e.Result.Format, "rendered", added)
	}
}

func (t *Transcriber) waitUploads(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.uploads.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.mu.Lock()
		t.cancel()
		t.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

// drainBus publishes the terminal idle status and waits for every queued event.
func (t *Transcriber) drainBus() {
	t.mu.Lock()
	bus, busDone := t.bus, t.busDone
	t.mu.Unlock()
	bus.Status(event.StatusIdle, "")
	bus.Close()
	<-busDone
}

// describeDevice formats device metadata for logs/session results.
func describeDevice(device audio.Device) string {
	description := strings.TrimSpace(device.Description)
	id := strings.TrimSpace(device.ID)
	if description == "" {
		return id
	}
	if id == "" {
		return description
	}
	return fmt.Sprintf("%s (%s)", description, id)
}

func (t *Transcriber) logInfo(message string, args ...any) {
	if t.opts.Logger == nil {
		return
	}
	t.opts.Logger.Info(message, args...)
}

func (t *Transcriber) logWarn(message string, args ...any) {
	if t.opts.Logger == nil {
		return
	}
	t.opts.Logger.Warn(message, args...)
}
