// Package transcribe uploads finished audio chunks to an Azure OpenAI transcription
// deployment, degrading from diarized to plain JSON when the model requires it.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/azure"
	"github.com/rbright/parley/internal/metrics"
)

// FormatDiarizedJSON requests speaker-attributed segments.
const FormatDiarizedJSON openai.AudioResponseFormat = "diarized_json"

const maxErrorBody = 64 << 10

// Uploader is the capability the pipeline depends on.
type Uploader interface {
	Upload(ctx context.Context, chunk audio.Chunk, settings azure.Settings) (Result, error)
}

// Client posts chunks as multipart forms. It holds no per-chunk state.
type Client struct {
	HTTP    *http.Client
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func NewClient(logger *slog.Logger, m *metrics.Metrics) *Client {
	return &Client{HTTP: http.DefaultClient, Logger: logger, Metrics: m}
}

// Upload sends chunk with response_format=diarized_json. When the model rejects that
// format, the same payload is resent exactly once with response_format=json.
func (c *Client) Upload(ctx context.Context, chunk audio.Chunk, settings azure.Settings) (Result, error) {
	if err := settings.ValidateTranscription(); err != nil {
		return Result{}, err
	}
	endpoint, err := azure.TranscriptionURL(settings)
	if err != nil {
		return Result{}, err
	}

	started := time.Now()
	result, err := c.send(ctx, endpoint, settings, chunk, FormatDiarizedJSON)

	var mismatch *CapabilityMismatchError
	if errors.As(err, &mismatch) {
		c.logWarn("transcription format not supported; retrying with json",
			"chunk_id", chunk.ID, "deployment", settings.Deployment)
		c.Metrics.RecordFallback()
		result, err = c.send(ctx, endpoint, settings, chunk, openai.AudioResponseFormatJSON)
	}

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case result.Format != string(FormatDiarizedJSON):
		outcome = "degraded"
	}
	c.Metrics.RecordUpload(outcome, time.Since(started))
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

func (c *Client) send(ctx context.Context, endpoint string, settings azure.Settings, chunk audio.Chunk, format openai.AudioResponseFormat) (Result, error) {
	body, contentType, err := buildForm(chunk, settings.Deployment, format)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build transcription request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("api-key", strings.TrimSpace(settings.Key))

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("post transcription: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if format == FormatDiarizedJSON && isCapabilityMismatch(resp.StatusCode, raw) {
			return Result{}, &CapabilityMismatchError{Format: string(format), Body: string(raw)}
		}
		return Result{}, &azure.HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decode transcription response: %w", err)
	}
	result.Format = string(format)
	return result, nil
}

func buildForm(chunk audio.Chunk, model string, format openai.AudioResponseFormat) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="recording.%s"`, chunk.Extension()))
	mimeType := chunk.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header.Set("Content-Type", mimeType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(chunk.Data); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}
	if model = strings.TrimSpace(model); model != "" {
		if err := writer.WriteField("model", model); err != nil {
			return nil, "", fmt.Errorf("write model field: %w", err)
		}
	}
	if err := writer.WriteField("response_format", string(format)); err != nil {
		return nil, "", fmt.Errorf("write response_format field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart form: %w", err)
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}

func (c *Client) logWarn(message string, args ...any) {
	if c.Logger == nil {
		return
	}
	c.Logger.Warn(message, args...)
}
