package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/rbright/parley/internal/azure"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/output"
	"github.com/rbright/parley/internal/pipeline"
	"github.com/rbright/parley/internal/summary"
	"github.com/rbright/parley/internal/transcribe"
	"github.com/rbright/parley/internal/transcript"
)

// commandTranscribe uploads one file, prints its transcript, and commits it like a
// recorded session.
func (r Runner) commandTranscribe(ctx context.Context, cfg config.Config, configPath, path string, logger *slog.Logger) int {
	m, stopMetrics := r.startMetrics(ctx, cfg, logger)
	defer stopMetrics()

	uploader := r.Uploader
	if uploader == nil {
		client := transcribe.NewClient(logger, m)
		if r.HTTPClient != nil {
			client.HTTP = r.HTTPClient
		}
		uploader = client
	}

	result, err := pipeline.TranscribeFile(ctx, uploader, config.SettingsSource{Path: configPath}, path, nil)
	if err != nil {
		logger.Error("transcribe file failed", "path", path, "status", azure.StatusCode(err), "error", err.Error())
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	text := transcript.Render(result)
	if strings.TrimSpace(text) == "" {
		fmt.Fprintln(r.Stderr, "error: no speech transcribed")
		return 1
	}
	fmt.Fprintln(r.Stdout, text)

	if err := output.NewCommitter(cfg.Output, logger, nil).Commit(ctx, text); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	logger.Info("file transcribed", "path", path, "format", result.Format, "length", len(text))
	return 0
}

// commandSummarize streams a summary of path, or of the newest saved transcript
// when path is empty, writing each delta to stdout as it arrives.
func (r Runner) commandSummarize(ctx context.Context, cfg config.Config, configPath, path string, logger *slog.Logger) int {
	if path == "" {
		dir, err := output.TranscriptDir(cfg.Output)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		path, err = output.Latest(dir)
		if errors.Is(err, output.ErrNoTranscripts) {
			fmt.Fprintf(r.Stderr, "error: no saved transcripts in %s\n", dir)
			return 1
		}
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: read transcript: %v\n", err)
		return 1
	}
	text := strings.TrimSpace(string(content))
	if text == "" {
		fmt.Fprintf(r.Stderr, "error: transcript %q is empty\n", path)
		return 1
	}

	settings, err := config.SettingsSource{Path: configPath}.Settings(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	m, stopMetrics := r.startMetrics(ctx, cfg, logger)
	defer stopMetrics()

	streamer := summary.NewStreamer(logger, m)
	streamer.Temperature = float32(cfg.Summary.Temperature)
	if r.HTTPClient != nil {
		streamer.HTTP = r.HTTPClient
	}

	printed := 0
	onPartial := func(full string) {
		if len(full) > printed {
			fmt.Fprint(r.Stdout, full[printed:])
			printed = len(full)
		}
	}

	final, err := streamer.Summarize(ctx, summary.Messages(cfg.Summary.Prompt, text), settings, onPartial)
	onPartial(final)
	if printed > 0 {
		fmt.Fprintln(r.Stdout)
	}
	if err != nil {
		logger.Error("summary failed", "path", path, "status", azure.StatusCode(err), "error", err.Error())
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	logger.Info("summary complete", "path", path, "length", len(final))
	return 0
}
