package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/azure"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/ipc"
	"github.com/rbright/parley/internal/pipeline"
	"github.com/rbright/parley/internal/session"
	"github.com/rbright/parley/internal/transcribe"
)

func TestExecuteHelp(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Contains(t, stdout.String(), "parley [--config PATH]")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "parley")
	require.Empty(t, stderr.String())
}

func TestExecuteUnknownCommand(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"definitely-not-a-command"}, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown command")
	require.Contains(t, stderr.String(), "Usage:")
}

func TestExecuteTranscribeRequiresFile(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"transcribe"}, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "requires a file argument")
}

func TestRunnerStatusIdleWhenSocketUnavailable(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestRunnerStopReturnsNoActiveSession(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "stop"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "no active parley session")
}

func TestRunnerForwardsCommandsToActiveSession(t *testing.T) {
	paths := setupRunnerEnv(t)
	commands := make(chan string, 8)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "parley.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		commands <- req.Command
		switch req.Command {
		case ipc.CommandStatus:
			return ipc.Response{OK: true, State: "recording"}
		case ipc.CommandStop, ipc.CommandCancel, ipc.CommandRecord:
			return ipc.Response{OK: true, Message: req.Command + " handled"}
		default:
			return ipc.Response{OK: false, Error: "unsupported"}
		}
	})
	defer shutdown()

	runner := Runner{}
	for _, cmd := range []string{"status", "stop", "cancel", "record"} {
		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		runner.Stdout = stdout
		runner.Stderr = stderr

		exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, cmd})
		require.Equal(t, 0, exitCode, cmd)
		require.Empty(t, stderr.String(), cmd)
		if cmd != "status" {
			require.Equal(t, cmd+" handled\n", stdout.String(), cmd)
		}
	}

	got := []string{<-commands, <-commands, <-commands, <-commands}
	require.ElementsMatch(t, []string{"status", "stop", "cancel", "record"}, got)
}

func TestRunnerStatusPrintsPipelineCounters(t *testing.T) {
	paths := setupRunnerEnv(t)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "parley.sock"), func(_ context.Context, _ ipc.Request) ipc.Response {
		return ipc.Response{OK: true, State: "recording", Status: "uploading", Chunks: 3, Transcripts: 2, Dropped: 1}
	})
	defer shutdown()

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "recording (status=uploading chunks=3 transcripts=2 dropped=1)\n", stdout.String())
}

func TestRunnerStatusFallsBackToIdleWhenServerStateEmpty(t *testing.T) {
	paths := setupRunnerEnv(t)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "parley.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		require.Equal(t, ipc.CommandStatus, req.Command)
		return ipc.Response{OK: true, State: ""}
	})
	defer shutdown()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestTryForwardSuccessAndFailureResponses(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "parley.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	serverCtx, cancelServer := context.WithCancel(context.Background())
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- ipc.Serve(serverCtx, listener, ipc.HandlerFunc(func(_ context.Context, req ipc.Request) ipc.Response {
			if req.Command == ipc.CommandStatus {
				return ipc.Response{OK: true, State: "recording"}
			}
			return ipc.Response{OK: false, Error: "unsupported"}
		}))
	}()

	resp, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStatus)
	require.True(t, handled)
	require.NoError(t, err)
	require.Equal(t, "recording", resp.State)

	_, handled, err = tryForward(context.Background(), socketPath, ipc.CommandCancel)
	require.True(t, handled)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported")

	cancelServer()
	require.NoError(t, <-serverDone)
}

func TestTryForwardDoesNotRemoveSocketPathOnForwardFailure(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "parley.sock")
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))

	_, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStatus)
	require.False(t, handled)
	require.NoError(t, err)

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
}

func TestTryForwardTreatsReadFailuresAsHandledErrors(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "parley.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, acceptErr := listener.Accept()
		if acceptErr == nil {
			_ = conn.Close()
		}
	}()

	_, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStatus)
	require.True(t, handled)
	require.Error(t, err)
	require.Contains(t, err.Error(), "forward command \"status\":")

	<-done
	require.NoError(t, listener.Close())
}

func TestRunnerDoctorCommandDispatchesAndPrintsReport(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "doctor"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout.String(), "config: loaded")
	require.Contains(t, stdout.String(), "[FAIL] api.transcription")
}

func TestRunnerDevicesCommandDispatches(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "error:")
}

func TestRunnerRecordOwnerPathFailsWithoutCredentials(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "record"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "error:")
	require.Contains(t, stderr.String(), "endpoint")

	// the owner removes its socket on exit
	_, statErr := os.Stat(filepath.Join(paths.runtimeDir, "parley.sock"))
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunnerRecordOwnerStopsOnIPCRequest(t *testing.T) {
	paths := setupRunnerEnv(t)
	setCredentials(t, "https://example.openai.azure.com")

	uploader := &fakeUploader{result: transcribe.Result{Segments: []transcribe.Segment{{Speaker: "A", Text: "hello team"}}}}
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{
		Stdout:   &stdout,
		Stderr:   &stderr,
		Uploader: uploader,
		OpenCapture: func(context.Context) (pipeline.Capture, error) {
			return &fakeCapture{stopSize: 4000}, nil
		},
	}

	socketPath := filepath.Join(paths.runtimeDir, "parley.sock")
	stopErr := make(chan error, 1)
	go func() {
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			resp, err := ipc.Send(context.Background(), socketPath, ipc.Request{Command: ipc.CommandStatus}, 200*time.Millisecond)
			if err == nil && resp.State == string(session.StateRecording) {
				_, err = ipc.Send(context.Background(), socketPath, ipc.Request{Command: ipc.CommandStop}, time.Second)
				stopErr <- err
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
		stopErr <- errors.New("owner never reached recording")
	}()

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "record"})
	require.NoError(t, <-stopErr)
	require.Equal(t, 0, exitCode, stderr.String())
	require.Equal(t, "A: hello team\n", stdout.String())
	require.Len(t, uploader.chunks, 1)

	saved, err := filepath.Glob(filepath.Join(paths.stateDir, "parley", "transcripts", "*.txt"))
	require.NoError(t, err)
	require.Len(t, saved, 1)

	_, statErr := os.Stat(socketPath)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunnerRecordRereadsConfigBetweenChunks(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv(config.EnvAPIKey, "test-key")

	writeConfig := func(deployment string) {
		content := fmt.Sprintf(`{
  "api": { "endpoint": "https://example.openai.azure.com", "deployment": %q },
  "indicator": { "enable": false },
  "vad": { "enable": false },
  "chunking": { "max_duration_ms": 100, "silence_ms": 50, "flush_delay_ms": 0 }
}
`, deployment)
		tmp := paths.configPath + ".tmp"
		require.NoError(t, os.WriteFile(tmp, []byte(content), 0o600))
		require.NoError(t, os.Rename(tmp, paths.configPath))
	}
	writeConfig("diarize-v1")

	uploader := &fakeUploader{result: transcribe.Result{Segments: []transcribe.Segment{{Speaker: "A", Text: "hello team"}}}}
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{
		Stdout:   &stdout,
		Stderr:   &stderr,
		Uploader: uploader,
		OpenCapture: func(context.Context) (pipeline.Capture, error) {
			return &fakeCapture{stopSize: 4000}, nil
		},
	}

	socketPath := filepath.Join(paths.runtimeDir, "parley.sock")
	stopErr := make(chan error, 1)
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		rewritten := false
		for time.Now().Before(deadline) {
			got := uploader.deployments()
			if !rewritten && len(got) > 0 {
				writeConfig("diarize-v2")
				rewritten = true
			}
			if rewritten && got[len(got)-1] == "diarize-v2" {
				_, err := ipc.Send(context.Background(), socketPath, ipc.Request{Command: ipc.CommandStop}, time.Second)
				stopErr <- err
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
		stopErr <- errors.New("uploads never picked up the edited deployment")
	}()

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "record"})
	require.NoError(t, <-stopErr)
	require.Equal(t, 0, exitCode, stderr.String())

	got := uploader.deployments()
	require.GreaterOrEqual(t, len(got), 2)
	require.Equal(t, "diarize-v1", got[0])
	require.Contains(t, got, "diarize-v2")
}

func TestRunnerTranscribeFilePrintsAndSaves(t *testing.T) {
	paths := setupRunnerEnv(t)
	setCredentials(t, "https://example.openai.azure.com")

	audioPath := filepath.Join(t.TempDir(), "meeting.wav")
	require.NoError(t, os.WriteFile(audioPath, []byte("RIFF-fake"), 0o600))

	uploader := &fakeUploader{result: transcribe.Result{Segments: []transcribe.Segment{
		{Speaker: "A", Text: "status update"},
		{Speaker: "B", Text: "sounds good"},
	}}}
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr, Uploader: uploader}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "transcribe", audioPath})
	require.Equal(t, 0, exitCode, stderr.String())
	require.Equal(t, "A: status update\nB: sounds good\n", stdout.String())
	require.Len(t, uploader.chunks, 1)
	require.Equal(t, audio.MIMEWAV, uploader.chunks[0].MIMEType)

	saved, err := filepath.Glob(filepath.Join(paths.stateDir, "parley", "transcripts", "*.txt"))
	require.NoError(t, err)
	require.Len(t, saved, 1)
}

func TestRunnerTranscribeReportsMissingCredentials(t *testing.T) {
	paths := setupRunnerEnv(t)

	audioPath := filepath.Join(t.TempDir(), "meeting.wav")
	require.NoError(t, os.WriteFile(audioPath, []byte("RIFF-fake"), 0o600))

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "transcribe", audioPath})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "endpoint")
}

func TestRunnerSummarizeStreamsDeltas(t *testing.T) {
	paths := setupRunnerEnv(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/openai/deployments/chat/chat/completions", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("api-key"))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"Decisions", ": ship it"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", delta)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(server.Close)
	setCredentials(t, server.URL)

	transcriptPath := filepath.Join(t.TempDir(), "meeting.txt")
	require.NoError(t, os.WriteFile(transcriptPath, []byte("A: we ship friday\n"), 0o600))

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "summarize", transcriptPath})
	require.Equal(t, 0, exitCode, stderr.String())
	require.Equal(t, "Decisions: ship it\n", stdout.String())
}

func TestRunnerSummarizeWithoutSavedTranscripts(t *testing.T) {
	paths := setupRunnerEnv(t)
	setCredentials(t, "https://example.openai.azure.com")

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "summarize"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "no saved transcripts")
}

func TestFormatStatus(t *testing.T) {
	require.Equal(t, "idle", formatStatus(ipc.Response{}))
	require.Equal(t, "recording", formatStatus(ipc.Response{State: "recording"}))
}

func TestSocketErrorHelpers(t *testing.T) {
	require.False(t, isSocketMissing(nil))
	require.False(t, isConnectionRefused(nil))

	require.True(t, isSocketMissing(os.ErrNotExist))
	require.True(t, isSocketMissing(errors.New("dial unix /tmp/parley.sock: no such file or directory")))
	require.False(t, isSocketMissing(errors.New("other error")))

	require.True(t, isConnectionRefused(syscall.ECONNREFUSED))
	require.False(t, isConnectionRefused(errors.New("other error")))
}

func TestLogSessionResultWritesFailureAndSuccess(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	started := time.Now()
	finished := started.Add(1500 * time.Millisecond)

	logSessionResult(logger, session.Result{
		State:      session.StateIdle,
		StartedAt:  started,
		FinishedAt: finished,
		StopResult: session.StopResult{
			AudioDevice:   "Mic",
			BytesCaptured: 123,
			Transcript:    "hello",
			Chunks:        2,
		},
	})

	require.Contains(t, logBuf.String(), "session complete")
	require.Contains(t, logBuf.String(), "\"transcript_length\":5")
	require.Contains(t, logBuf.String(), "\"chunks\":2")

	logBuf.Reset()
	logSessionResult(logger, session.Result{
		State:      session.StateIdle,
		StartedAt:  started,
		FinishedAt: finished,
		Err:        errors.New("boom"),
	})
	require.Contains(t, logBuf.String(), "session failed")
	require.Contains(t, logBuf.String(), "boom")
}

type runnerPaths struct {
	configPath string
	runtimeDir string
	stateDir   string
}

func setupRunnerEnv(t *testing.T) runnerPaths {
	t.Helper()

	stateDir := t.TempDir()
	runtimeDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", stateDir)
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)
	for _, key := range []string{
		config.EnvEndpoint,
		config.EnvAPIKey,
		config.EnvDeployment,
		config.EnvSummaryDeployment,
		config.EnvAPIVersion,
		config.EnvSummaryEndpoint,
		config.EnvSummaryKey,
		config.EnvSummaryModel,
	} {
		t.Setenv(key, "")
	}

	configPath := filepath.Join(t.TempDir(), "config.jsonc")
	content := `{
  "indicator": { "enable": false },
  "vad": { "enable": false },
  "chunking": { "flush_delay_ms": 0 }
}
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))

	return runnerPaths{configPath: configPath, runtimeDir: runtimeDir, stateDir: stateDir}
}

func setCredentials(t *testing.T, endpoint string) {
	t.Helper()
	t.Setenv(config.EnvEndpoint, endpoint)
	t.Setenv(config.EnvAPIKey, "test-key")
	t.Setenv(config.EnvSummaryDeployment, "chat")
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler))
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

type fakeUploader struct {
	mu       sync.Mutex
	chunks   []audio.Chunk
	settings []azure.Settings
	result   transcribe.Result
}

func (u *fakeUploader) Upload(_ context.Context, chunk audio.Chunk, settings azure.Settings) (transcribe.Result, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.chunks = append(u.chunks, chunk)
	u.settings = append(u.settings, settings)
	return u.result, nil
}

func (u *fakeUploader) deployments() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, 0, len(u.settings))
	for _, s := range u.settings {
		out = append(out, s.Deployment)
	}
	return out
}

type fakeSegment struct {
	ch     chan []byte
	onStop []byte
	once   sync.Once
}

func (s *fakeSegment) Fragments() <-chan []byte { return s.ch }
func (s *fakeSegment) MIMEType() string         { return audio.MIMEWAV }

func (s *fakeSegment) Stop() error {
	s.once.Do(func() {
		s.ch <- s.onStop
		close(s.ch)
	})
	return nil
}

type fakeCapture struct {
	stopSize int
}

func (f *fakeCapture) Open(context.Context) (audio.Segment, error) {
	return &fakeSegment{ch: make(chan []byte, 1), onStop: make([]byte, f.stopSize)}, nil
}

func (f *fakeCapture) Close() error            { return nil }
func (f *fakeCapture) Level() (float64, error) { return 0, nil }
func (f *fakeCapture) Device() audio.Device    { return audio.Device{ID: "test", Description: "Test Mic"} }
func (f *fakeCapture) BytesCaptured() int64    { return int64(f.stopSize) }
