package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/azure"
	"github.com/rbright/parley/internal/logging"
	"github.com/rbright/parley/internal/transcribe"
)

// TranscribeFile uploads one audio file as a single manual-stop chunk.
// The MIME type is derived from the file extension.
func TranscribeFile(ctx context.Context, uploader transcribe.Uploader, provider azure.SettingsProvider, path string, clk clock.Clock) (transcribe.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("read audio file: %w", err)
	}
	if len(data) == 0 {
		return transcribe.Result{}, fmt.Errorf("audio file %q is empty", path)
	}
	if clk == nil {
		clk = clock.New()
	}

	settings, err := provider.Settings(ctx)
	if err != nil {
		return transcribe.Result{}, err
	}

	now := clk.Now()
	chunk := audio.NewChunk([][]byte{data}, audio.MIMEForPath(path), audio.CutManualStop, now, now, true)
	return uploader.Upload(ctx, chunk, settings)
}

// dumpChunk writes chunk's encoded payload under <state dir>/debug.
func dumpChunk(chunk audio.Chunk, now time.Time) (string, error) {
	stateDir, err := logging.StateDir()
	if err != nil {
		return "", err
	}
	debugDir := filepath.Join(stateDir, "debug")
	if err := os.MkdirAll(debugDir, 0o700); err != nil {
		return "", fmt.Errorf("create debug dir: %w", err)
	}

	name := fmt.Sprintf("chunk-%s-%s.%s", now.Format("20060102-150405.000"), chunk.ID, chunk.Extension())
	path := filepath.Join(debugDir, name)
	if err := os.WriteFile(path, chunk.Data, 0o600); err != nil {
		return "", fmt.Errorf("write debug chunk %q: %w", path, err)
	}
	return path, nil
}
