package transcribe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/azure"
	"github.com/rbright/parley/internal/metrics"
)

type recordedRequest struct {
	path     string
	query    string
	apiKey   string
	filename string
	fileType string
	file     []byte
	model    string
	format   string
}

type fakeServer struct {
	t *testing.T

	mu        sync.Mutex
	requests  []recordedRequest
	responses []func(http.ResponseWriter)
}

func newFakeServer(t *testing.T, responses ...func(http.ResponseWriter)) (*fakeServer, *httptest.Server) {
	fs := &fakeServer{t: t, responses: responses}
	srv := httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(srv.Close)
	return fs, srv
}

func (f *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	require.NoError(f.t, r.ParseMultipartForm(1<<20))
	file, header, err := r.FormFile("file")
	require.NoError(f.t, err)
	data, err := io.ReadAll(file)
	require.NoError(f.t, err)

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		path:     r.URL.Path,
		query:    r.URL.RawQuery,
		apiKey:   r.Header.Get("api-key"),
		filename: header.Filename,
		fileType: header.Header.Get("Content-Type"),
		file:     data,
		model:    r.FormValue("model"),
		format:   r.FormValue("response_format"),
	})
	idx := len(f.requests) - 1
	f.mu.Unlock()

	if idx >= len(f.responses) {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	f.responses[idx](w)
}

func (f *fakeServer) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func respond(status int, body string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func settingsFor(endpoint string) azure.Settings {
	return azure.Settings{
		Endpoint:   endpoint,
		Key:        "secret",
		Deployment: "gpt-4o-transcribe-diarize",
		APIVersion: "2024-10-01-preview",
	}
}

func testChunk() audio.Chunk {
	return audio.Chunk{ID: "chunk-1", Data: []byte("RIFF....WAVEdata"), MIMEType: audio.MIMEWAV}
}

const unsupportedBody = `{"error":{"code":"unsupported_value","param":"response_format","message":"Unsupported value: 'diarized_json' is not supported with this model."}}`

func TestUploadDiarizedSuccess(t *testing.T) {
	fs, srv := newFakeServer(t, respond(http.StatusOK,
		`{"text":"hello there","segments":[{"speaker":"A","text":"hello","start":0,"end":0.5},{"speaker":"B","text":"there","start":0.6,"end":1.1}]}`))

	result, err := NewClient(nil, nil).Upload(context.Background(), testChunk(), settingsFor(srv.URL))
	require.NoError(t, err)
	require.Equal(t, string(FormatDiarizedJSON), result.Format)
	require.True(t, result.Diarized())
	require.Equal(t, Segment{Speaker: "B", Text: "there", Start: 0.6, End: 1.1}, result.Segments[1])

	reqs := fs.recorded()
	require.Len(t, reqs, 1)
	req := reqs[0]
	require.Equal(t, "/openai/deployments/gpt-4o-transcribe-diarize/audio/transcriptions", req.path)
	require.Equal(t, "api-version=2024-10-01-preview", req.query)
	require.Equal(t, "secret", req.apiKey)
	require.Equal(t, "recording.wav", req.filename)
	require.Equal(t, audio.MIMEWAV, req.fileType)
	require.Equal(t, testChunk().Data, req.file)
	require.Equal(t, "gpt-4o-transcribe-diarize", req.model)
	require.Equal(t, "diarized_json", req.format)
}

func TestUploadFallsBackToJSONOnStructuredMismatch(t *testing.T) {
	fs, srv := newFakeServer(t,
		respond(http.StatusBadRequest, unsupportedBody),
		respond(http.StatusOK, `{"text":"plain words"}`),
	)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	result, err := NewClient(nil, m).Upload(context.Background(), testChunk(), settingsFor(srv.URL))
	require.NoError(t, err)
	require.Equal(t, "plain words", result.Text)
	require.Equal(t, "json", result.Format)
	require.False(t, result.Diarized())

	reqs := fs.recorded()
	require.Len(t, reqs, 2)
	require.Equal(t, "diarized_json", reqs[0].format)
	require.Equal(t, "json", reqs[1].format)
	require.Equal(t, reqs[0].file, reqs[1].file)
	require.Equal(t, 1.0, testutil.ToFloat64(m.FormatFallbacks))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Uploads.WithLabelValues("degraded")))
}

func TestUploadFallsBackOnPlainTextMismatch(t *testing.T) {
	fs, srv := newFakeServer(t,
		respond(http.StatusBadRequest, `{"error":{"message":"response_format 'diarized_json' is not compatible with model 'whisper'"}}`),
		respond(http.StatusOK, `{"text":"ok"}`),
	)

	result, err := NewClient(nil, nil).Upload(context.Background(), testChunk(), settingsFor(srv.URL))
	require.NoError(t, err)
	require.Equal(t, "ok", result.Text)
	require.Len(t, fs.recorded(), 2)
}

func TestUploadRetriesExactlyOnce(t *testing.T) {
	fs, srv := newFakeServer(t,
		respond(http.StatusBadRequest, unsupportedBody),
		respond(http.StatusBadRequest, unsupportedBody),
		respond(http.StatusOK, `{"text":"never"}`),
	)

	_, err := NewClient(nil, nil).Upload(context.Background(), testChunk(), settingsFor(srv.URL))
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, azure.StatusCode(err))

	var mismatch *CapabilityMismatchError
	require.False(t, errors.As(err, &mismatch))
	require.Len(t, fs.recorded(), 2)
}

func TestUploadOtherErrorsAreTerminal(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `oops`},
		{name: "unrelated bad request", status: http.StatusBadRequest, body: `{"error":{"code":"invalid_file","param":"file","message":"bad audio"}}`},
		{name: "mismatch wording on non-400", status: http.StatusUnprocessableEntity, body: unsupportedBody},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fs, srv := newFakeServer(t, respond(tc.status, tc.body))

			_, err := NewClient(nil, nil).Upload(context.Background(), testChunk(), settingsFor(srv.URL))
			require.Error(t, err)
			require.Equal(t, tc.status, azure.StatusCode(err))
			require.Len(t, fs.recorded(), 1)
		})
	}
}

func TestUploadConfigErrorSendsNothing(t *testing.T) {
	fs, srv := newFakeServer(t)
	settings := settingsFor(srv.URL)
	settings.Key = ""

	_, err := NewClient(nil, nil).Upload(context.Background(), testChunk(), settings)
	require.Error(t, err)
	require.True(t, azure.IsConfigError(err))
	require.Contains(t, err.Error(), "key")
	require.Empty(t, fs.recorded())
}

func TestUploadUsesCompleteDeploymentEndpoint(t *testing.T) {
	fs, srv := newFakeServer(t, respond(http.StatusOK, `{"text":"x"}`))
	settings := settingsFor(srv.URL + "/openai/deployments/other/audio/transcriptions")

	_, err := NewClient(nil, nil).Upload(context.Background(), testChunk(), settings)
	require.NoError(t, err)
	require.Equal(t, "/openai/deployments/other/audio/transcriptions", fs.recorded()[0].path)
}

func TestUploadFilenameFollowsMIME(t *testing.T) {
	fs, srv := newFakeServer(t, respond(http.StatusOK, `{"text":"x"}`), respond(http.StatusOK, `{"text":"y"}`))

	chunk := testChunk()
	chunk.MIMEType = "audio/mp4"
	_, err := NewClient(nil, nil).Upload(context.Background(), chunk, settingsFor(srv.URL))
	require.NoError(t, err)

	chunk.MIMEType = "audio/webm;codecs=opus"
	_, err = NewClient(nil, nil).Upload(context.Background(), chunk, settingsFor(srv.URL))
	require.NoError(t, err)

	reqs := fs.recorded()
	require.Equal(t, "recording.m4a", reqs[0].filename)
	require.Equal(t, "recording.webm", reqs[1].filename)
}

func TestUploadRejectsUndecodableSuccess(t *testing.T) {
	_, srv := newFakeServer(t, respond(http.StatusOK, `not json`))

	_, err := NewClient(nil, nil).Upload(context.Background(), testChunk(), settingsFor(srv.URL))
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode transcription response")
}

func TestIsCapabilityMismatch(t *testing.T) {
	require.True(t, isCapabilityMismatch(http.StatusBadRequest, []byte(unsupportedBody)))
	require.False(t, isCapabilityMismatch(http.StatusBadRequest,
		[]byte(`{"error":{"code":"unsupported_value","param":"language","message":"diarized_json"}}`)))
	require.False(t, isCapabilityMismatch(http.StatusBadRequest,
		[]byte(`{"error":{"code":"unsupported_value","param":"response_format","message":"verbose_json"}}`)))
	require.True(t, isCapabilityMismatch(http.StatusBadRequest,
		[]byte("response_format 'diarized_json' is not compatible with model gpt-4o")))
	require.False(t, isCapabilityMismatch(http.StatusInternalServerError, []byte(unsupportedBody)))
}

func TestResultEmpty(t *testing.T) {
	require.True(t, Result{}.Empty())
	require.True(t, Result{Text: "  ", Segments: []Segment{{Text: " "}}}.Empty())
	require.False(t, Result{Segments: []Segment{{Text: "hi"}}}.Empty())
	require.False(t, Result{Text: "hi"}.Empty())
}
