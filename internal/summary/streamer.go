// Package summary streams a chat-completion summary of a transcript and surfaces the
// accumulated text after every delta.
package summary

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rbright/parley/internal/azure"
	"github.com/rbright/parley/internal/metrics"
)

const (
	DefaultTemperature = 0.7

	DefaultPrompt = "You summarize meeting transcripts. Produce a short overview, the key decisions, " +
		"and action items with owners when the transcript names them. Speaker labels are " +
		"local to each recording chunk and may not refer to the same person across chunks."

	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
	maxLineBytes = 1 << 20
	maxErrorBody = 64 << 10
)

type chatRequest struct {
	Model       string                         `json:"model,omitempty"`
	Messages    []openai.ChatCompletionMessage `json:"messages"`
	Temperature float32                        `json:"temperature"`
	Stream      bool                           `json:"stream"`
}

// Streamer posts chat requests and decodes the server-sent event response.
type Streamer struct {
	HTTP        *http.Client
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Temperature float32
}

func NewStreamer(logger *slog.Logger, m *metrics.Metrics) *Streamer {
	return &Streamer{HTTP: http.DefaultClient, Logger: logger, Metrics: m, Temperature: DefaultTemperature}
}

// Messages builds the default system plus user conversation for a transcript.
func Messages(prompt string, transcript string) []openai.ChatCompletionMessage {
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}
	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: prompt},
		{Role: openai.ChatMessageRoleUser, Content: transcript},
	}
}

// Summarize streams a completion for messages. onPartial, when set, receives the full
// accumulated text after each non-empty delta. The final accumulated text is returned.
func (s *Streamer) Summarize(ctx context.Context, messages []openai.ChatCompletionMessage, settings azure.Settings, onPartial func(string)) (string, error) {
	if err := settings.ValidateSummary(); err != nil {
		return "", err
	}
	endpoint, err := azure.ChatURL(settings)
	if err != nil {
		return "", err
	}

	payload := chatRequest{
		Messages:    messages,
		Temperature: s.Temperature,
		Stream:      true,
	}
	if settings.UseCustomSummary {
		payload.Model = strings.TrimSpace(settings.CustomModel)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", settings.SummaryCredential())

	client := s.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post chat completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &azure.HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	return s.readStream(resp.Body, onPartial)
}

func (s *Streamer) readStream(body io.Reader, onPartial func(string)) (string, error) {
	var full strings.Builder

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if data == doneSentinel {
			s.Metrics.RecordSummaryFrame("done")
			return full.String(), nil
		}

		var frame openai.ChatCompletionStreamResponse
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			s.Metrics.RecordSummaryFrame("malformed")
			if s.Logger != nil {
				s.Logger.Warn("skipping malformed summary frame", "error", err.Error())
			}
			continue
		}
		s.Metrics.RecordSummaryFrame("ok")

		if len(frame.Choices) == 0 || frame.Choices[0].Delta.Content == "" {
			continue
		}
		full.WriteString(frame.Choices[0].Delta.Content)
		if onPartial != nil {
			onPartial(full.String())
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("read summary stream: %w", err)
	}
	return full.String(), nil
}
