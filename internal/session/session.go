// Package session coordinates one meeting recording: its lifecycle state, control
// requests from other processes, and the final transcript commit.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/parley/internal/event"
	"github.com/rbright/parley/internal/ipc"
)

// State is the owner-level session phase.
type State string

const (
	StateIdle         State = "idle"
	StateRecording    State = "recording"
	StateTranscribing State = "transcribing"
)

type action int

const (
	actionStop action = iota + 1
	actionCancel
)

const hideTimeout = 800 * time.Millisecond

// Result is the complete lifecycle output returned by one Run invocation.
type Result struct {
	State      State
	Cancelled  bool
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
	StopResult
}

// Indicator is the session-facing subset of indicator behavior.
type Indicator interface {
	Show(context.Context, event.Status, string)
	Hide(context.Context)
}

type noopIndicator struct{}

func (noopIndicator) Show(context.Context, event.Status, string) {}
func (noopIndicator) Hide(context.Context)                       {}

// Controller orchestrates session state transitions and side effects.
type Controller struct {
	logger     *slog.Logger
	transcribe Transcriber
	commit     Committer
	indicator  Indicator

	mu    sync.RWMutex
	state State

	actions chan action
}

// NewController constructs a session controller with safe default fallbacks.
func NewController(
	logger *slog.Logger,
	transcriber Transcriber,
	committer Committer,
	indicator Indicator,
) *Controller {
	if transcriber == nil {
		transcriber = PlaceholderTranscriber{}
	}
	if committer == nil {
		committer = CommitFunc(func(context.Context, string) error { return nil })
	}
	if indicator == nil {
		indicator = noopIndicator{}
	}

	return &Controller{
		logger:     logger,
		transcribe: transcriber,
		commit:     committer,
		indicator:  indicator,
		state:      StateIdle,
		actions:    make(chan action, 1),
	}
}

// State returns the current phase.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) setState(next State) {
	c.mu.Lock()
	c.state = next
	c.mu.Unlock()
}

// Run records until a stop or cancel request arrives, or ctx ends.
func (c *Controller) Run(ctx context.Context) Result {
	result := Result{StartedAt: time.Now()}
	done := func(err error) Result {
		if err != nil {
			c.setState(StateIdle)
		}
		result.Err = err
		result.State = c.State()
		result.FinishedAt = time.Now()
		return result
	}

	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return done(fmt.Errorf("cannot start from state %s", state))
	}
	c.state = StateRecording
	c.mu.Unlock()

	if err := c.transcribe.Start(ctx); err != nil {
		c.indicator.Show(context.Background(), event.StatusError, "Unable to start recording")
		return done(err)
	}

	defer func() {
		hideCtx, cancel := context.WithTimeout(context.Background(), hideTimeout)
		defer cancel()
		c.indicator.Hide(hideCtx)
	}()

	var a action
	select {
	case <-ctx.Done():
		_ = c.transcribe.Cancel(context.Background())
		return done(ctx.Err())
	case <-c.transcribe.Ended():
		return done(c.salvage(ctx, &result))
	case a = <-c.actions:
	}

	switch a {
	case actionCancel:
		if err := c.transcribe.Cancel(context.Background()); err != nil {
			c.logWarn("cancel recording", err)
		}
		c.setState(StateIdle)
		result.Cancelled = true
		return done(nil)
	case actionStop:
		c.setState(StateTranscribing)

		stopResult, err := c.transcribe.StopAndTranscribe(ctx)
		result.StopResult = stopResult
		if err != nil {
			c.indicator.Show(context.Background(), event.StatusError, "Transcription failed")
			return done(err)
		}
		if strings.TrimSpace(stopResult.Transcript) == "" {
			c.indicator.Show(context.Background(), event.StatusError, "No speech transcribed")
			return done(ErrEmptyTranscript)
		}
		if err := c.commit.Commit(ctx, stopResult.Transcript); err != nil {
			c.indicator.Show(context.Background(), event.StatusError, "Saving transcript failed")
			return done(err)
		}

		c.setState(StateIdle)
		return done(nil)
	default:
		return done(fmt.Errorf("unknown action %d", a))
	}
}

// salvage collects what the pipeline transcribed before capture ended on its own,
// commits any partial transcript, and returns the error that ended capture.
func (c *Controller) salvage(ctx context.Context, result *Result) error {
	c.setState(StateTranscribing)

	stopResult, err := c.transcribe.StopAndTranscribe(ctx)
	result.StopResult = stopResult
	if err == nil {
		err = ErrCaptureEnded
	}
	if strings.TrimSpace(stopResult.Transcript) != "" {
		if commitErr := c.commit.Commit(ctx, stopResult.Transcript); commitErr != nil {
			c.logWarn("commit partial transcript", commitErr)
		}
	}
	c.indicator.Show(context.Background(), event.StatusError, "Recording stopped unexpectedly")
	return err
}

// Handle serves IPC commands for the active owner session.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		progress := c.transcribe.Progress()
		return ipc.Response{
			OK:          true,
			State:       string(c.State()),
			Status:      progress.Status,
			Chunks:      progress.Chunks,
			Transcripts: progress.Transcripts,
			Dropped:     progress.Dropped,
			Message:     "status",
		}
	case ipc.CommandRecord, ipc.CommandStop:
		return c.request(actionStop, "stop")
	case ipc.CommandCancel:
		return c.request(actionCancel, "cancel")
	default:
		return ipc.Response{OK: false, State: string(c.State()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

// request enqueues a, unless the session is not recording.
func (c *Controller) request(a action, verb string) ipc.Response {
	state := c.State()
	switch state {
	case StateRecording:
	case StateTranscribing:
		return ipc.Response{OK: false, State: string(state), Error: "already transcribing"}
	default:
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot %s: %v", verb, ErrNotRecording)}
	}

	select {
	case c.actions <- a:
		return ipc.Response{OK: true, State: string(state), Message: verb + " requested"}
	default:
		return ipc.Response{OK: true, State: string(state), Message: "request already pending"}
	}
}

func (c *Controller) logWarn(message string, err error) {
	if c.logger == nil || err == nil {
		return
	}
	c.logger.Warn(message, "error", err.Error())
}
