// Package recorder owns one live recording session: it samples the VAD feed, decides
// chunk boundaries, restarts the encoder segment after every cut, and hands gated
// chunks to a sink.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/event"
	"github.com/rbright/parley/internal/fsm"
	"github.com/rbright/parley/internal/metrics"
	"github.com/rbright/parley/internal/vad"
)

// ErrAlreadyRunning is returned by Start while a session is active.
var ErrAlreadyRunning = errors.New("recorder already running")

// Options wires the recorder to its device and consumers. Source is owned by the
// recorder once Start is called and is closed when the session ends.
type Options struct {
	Source  audio.Source
	Meter   audio.LevelMeter
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Sink receives every chunk that passes the gates. It must not block.
	Sink   func(audio.Chunk)
	Status func(event.Status, string)
}

// Stats counts what the session produced.
type Stats struct {
	Cut      int
	Emitted  int
	Dropped  int
	Speaking bool
}

type Recorder struct {
	cfg  Config
	opts Options

	clock   clock.Clock
	monitor *vad.Monitor

	mu    sync.Mutex
	state fsm.State
	stats Stats
	err   error

	stopCh   chan struct{}
	stopOnce *sync.Once
	done     chan struct{}
}

func New(cfg Config, opts Options) *Recorder {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	opts.Clock = clk
	return &Recorder{
		cfg:     cfg,
		opts:    opts,
		clock:   clk,
		monitor: vad.NewMonitor(cfg.Threshold, clk.Now()),
		state:   fsm.StateIdle,
	}
}

// Start arms the first segment, the duration timer, and the VAD ticker.
func (r *Recorder) Start(ctx context.Context) error {
	if err := r.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid chunking config: %w", err)
	}
	if r.opts.Source == nil {
		return &audio.DeviceError{Err: errors.New("no audio source")}
	}

	r.mu.Lock()
	if r.state.Active() {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	if r.state == fsm.StateError {
		r.state, _ = fsm.Transition(r.state, fsm.EventReset)
	}

	seg, err := r.opts.Source.Open(ctx)
	if err != nil {
		r.mu.Unlock()
		if !audio.IsDeviceError(err) {
			err = &audio.DeviceError{Err: err}
		}
		return fmt.Errorf("start recording: %w", err)
	}

	r.state, _ = fsm.Transition(r.state, fsm.EventStart)
	r.stats = Stats{}
	r.err = nil
	r.stopCh = make(chan struct{})
	r.stopOnce = &sync.Once{}
	r.done = make(chan struct{})

	now := r.clock.Now()
	r.monitor.Reset(now)
	l := &loop{
		r:          r,
		seg:        seg,
		fragCh:     seg.Fragments(),
		chunkStart: now,
		vadActive:  r.opts.Meter != nil,
		stopCh:     r.stopCh,
		done:       r.done,
		ticker:     r.clock.Ticker(r.cfg.TickInterval),
		duration:   r.clock.Timer(r.cfg.MaxDuration),
	}
	r.mu.Unlock()

	if !l.vadActive {
		r.logWarn("volume feed unavailable; chunking by duration only")
	}
	r.status(event.StatusRecording, "")

	go l.run(context.WithoutCancel(ctx))
	return nil
}

// Stop performs the final cut, releases the device, and waits for the session to end.
// It is a no-op when nothing is recording.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	active := r.state.Active()
	stopCh, once, done := r.stopCh, r.stopOnce, r.done
	r.mu.Unlock()

	if !active || done == nil {
		return nil
	}
	once.Do(func() { close(stopCh) })

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Done is closed when the current session ends for any reason.
func (r *Recorder) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return r.done
}

// Err returns the error that ended the last session, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder) State() fsm.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	stats := r.stats
	r.mu.Unlock()
	stats.Speaking = r.monitor.HasSpeech()
	return stats
}

// VAD exposes the monitor snapshot for status reporting.
func (r *Recorder) VAD() vad.Snapshot {
	return r.monitor.Snapshot()
}

func (r *Recorder) transition(ev fsm.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := fsm.Transition(r.state, ev)
	if err != nil {
		r.logWarn("recorder transition rejected", "state", string(r.state), "event", string(ev))
		return
	}
	r.state = next
}

func (r *Recorder) count(update func(*Stats)) {
	r.mu.Lock()
	update(&r.stats)
	r.mu.Unlock()
}

func (r *Recorder) status(status event.Status, detail string) {
	if r.opts.Status != nil {
		r.opts.Status(status, detail)
	}
}

func (r *Recorder) logInfo(message string, args ...any) {
	if r.opts.Logger == nil {
		return
	}
	r.opts.Logger.Info(message, args...)
}

func (r *Recorder) logWarn(message string, args ...any) {
	if r.opts.Logger == nil {
		return
	}
	r.opts.Logger.Warn(message, args...)
}

// loop is the single goroutine that owns the segment, the buffer, and the timers.
type loop struct {
	r *Recorder

	seg        audio.Segment
	fragCh     <-chan []byte
	fragments  [][]byte
	chunkStart time.Time
	vadActive  bool
	stopCh     <-chan struct{}
	done       chan struct{}
	ticker     *clock.Ticker
	duration   *clock.Timer
}

func (l *loop) run(ctx context.Context) {
	r := l.r
	defer func() {
		l.ticker.Stop()
		l.duration.Stop()
		close(l.done)
	}()

	for {
		var (
			reason audio.CutReason
			now    time.Time
		)

		select {
		case <-l.stopCh:
			l.finish(r.clock.Now(), audio.CutManualStop)
			return
		case fragment, ok := <-l.fragCh:
			if !ok {
				l.fragCh = nil
				continue
			}
			l.fragments = append(l.fragments, fragment)
			continue
		case now = <-l.ticker.C:
			l.sample(now)
			reason = l.decide(now)
		case now = <-l.duration.C:
			reason = l.decide(now)
		}

		if reason == audio.CutNone {
			continue
		}
		if stop := l.cut(now, reason); stop {
			l.release(nil)
			return
		}
		if err := l.rearm(ctx); err != nil {
			l.release(err)
			return
		}
		l.resetDuration()
	}
}

// resetDuration restarts the max-duration timer, discarding a fire that was not consumed.
func (l *loop) resetDuration() {
	if !l.duration.Stop() {
		select {
		case <-l.duration.C:
		default:
		}
	}
	l.duration.Reset(l.r.cfg.MaxDuration)
}

func (l *loop) sample(now time.Time) {
	if !l.vadActive {
		return
	}
	r := l.r
	level, err := r.opts.Meter.Level()
	if err != nil {
		l.vadActive = false
		r.logWarn("volume feed failed; chunking by duration only", "error", err.Error())
		return
	}
	signal := r.monitor.Observe(now, level)
	r.opts.Metrics.RecordVADTick(signal.Speech)
	if signal.Started {
		r.status(event.StatusListening, "")
	}
}

func (l *loop) decide(now time.Time) audio.CutReason {
	r := l.r
	silence := time.Duration(0)
	hasSpeech := false
	if l.vadActive {
		silence = r.monitor.SilenceFor(now)
		hasSpeech = r.monitor.HasSpeech()
	}
	return Decide(r.cfg, now.Sub(l.chunkStart), silence, hasSpeech)
}

// cut stops the segment, collects late fragments for the flush delay, and dispatches
// the assembled chunk. It reports whether a stop request arrived meanwhile.
func (l *loop) cut(now time.Time, reason audio.CutReason) bool {
	r := l.r
	r.transition(fsm.EventCut)

	stopRequested := l.flush()
	l.dispatch(now, reason, l.vadActive)

	if !stopRequested {
		select {
		case <-l.stopCh:
			stopRequested = true
		default:
		}
	}
	return stopRequested
}

// finish performs the final cut for a stop request and releases the device. Without a
// VAD feed the final chunk skips the speech gate.
func (l *loop) finish(now time.Time, reason audio.CutReason) {
	l.r.transition(fsm.EventCut)
	l.flush()
	l.dispatch(now, reason, l.vadActive)
	l.release(nil)
}

func (l *loop) flush() bool {
	r := l.r
	if err := l.seg.Stop(); err != nil {
		r.logWarn("segment stop failed", "error", err.Error())
	}

	stopRequested := false
	stopCh := l.stopCh
	flushTimer := r.clock.Timer(r.cfg.FlushDelay)
	defer flushTimer.Stop()

	for {
		select {
		case fragment, ok := <-l.fragCh:
			if !ok {
				l.fragCh = nil
				continue
			}
			l.fragments = append(l.fragments, fragment)
		case <-stopCh:
			stopRequested = true
			stopCh = nil
		case <-flushTimer.C:
			l.drainBuffered()
			return stopRequested
		}
	}
}

// drainBuffered collects fragments that are already queued without waiting for more.
func (l *loop) drainBuffered() {
	for l.fragCh != nil {
		select {
		case fragment, ok := <-l.fragCh:
			if !ok {
				l.fragCh = nil
				return
			}
			l.fragments = append(l.fragments, fragment)
		default:
			return
		}
	}
}

func (l *loop) dispatch(now time.Time, reason audio.CutReason, speechGate bool) {
	r := l.r
	chunk := audio.NewChunk(l.fragments, l.seg.MIMEType(), reason, l.chunkStart, now, r.monitor.HasSpeech())
	l.fragments = nil

	r.count(func(s *Stats) { s.Cut++ })
	r.opts.Metrics.RecordCut(string(reason), chunk.Size())

	if gate, ok := Admit(r.cfg, chunk, speechGate); !ok {
		r.count(func(s *Stats) { s.Dropped++ })
		r.opts.Metrics.RecordDropped(gate)
		r.logInfo("chunk dropped", "chunk_id", chunk.ID, "reason", string(reason), "gate", gate, "bytes", chunk.Size())
		return
	}

	r.count(func(s *Stats) { s.Emitted++ })
	r.logInfo("chunk ready", "chunk_id", chunk.ID, "reason", string(reason), "bytes", chunk.Size(),
		"duration_ms", chunk.Duration().Milliseconds())
	if r.opts.Sink != nil {
		r.opts.Sink(chunk)
	}
}

func (l *loop) rearm(ctx context.Context) error {
	r := l.r
	seg, err := r.opts.Source.Open(ctx)
	if err != nil {
		if !audio.IsDeviceError(err) {
			err = &audio.DeviceError{Err: err}
		}
		return fmt.Errorf("restart recording: %w", err)
	}

	now := r.clock.Now()
	l.seg = seg
	l.fragCh = seg.Fragments()
	l.chunkStart = now
	r.monitor.Reset(now)
	r.transition(fsm.EventRearm)
	r.status(event.StatusRecording, "")
	return nil
}

// release closes the device and records how the session ended.
func (l *loop) release(cause error) {
	r := l.r

	var result error
	if cause != nil {
		result = multierror.Append(result, cause)
	}
	if err := r.opts.Source.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("release audio device: %w", err))
	}

	r.mu.Lock()
	r.err = result
	r.mu.Unlock()

	if cause != nil {
		r.transition(fsm.EventFail)
		r.logWarn("recording ended", "error", result.Error())
		r.status(event.StatusError, cause.Error())
		return
	}
	if r.State() == fsm.StateCutting {
		r.transition(fsm.EventFinish)
	}
	r.status(event.StatusIdle, "")
}
