// Package output applies transcript commit side effects: saving to disk and the clipboard.
package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/logging"
)

const (
	clipboardTimeout = 2 * time.Second
	transcriptExt    = ".txt"
	timestampLayout  = "20060102-150405"
)

// ErrNoTranscripts is returned by Latest when the transcript directory holds nothing.
var ErrNoTranscripts = errors.New("no saved transcripts")

// Committer saves finished transcripts and optionally copies them to the clipboard.
type Committer struct {
	config config.OutputConfig
	logger *slog.Logger
	clock  clock.Clock
}

// NewCommitter constructs a committer. A nil clk uses wall time.
func NewCommitter(cfg config.OutputConfig, logger *slog.Logger, clk clock.Clock) *Committer {
	if clk == nil {
		clk = clock.New()
	}
	return &Committer{config: cfg, logger: logger, clock: clk}
}

// Commit saves transcript when enabled, then copies it when enabled.
// A clipboard failure is returned after the file has been written.
func (c *Committer) Commit(ctx context.Context, transcript string) error {
	if strings.TrimSpace(transcript) == "" {
		return nil
	}

	if c.config.SaveTranscripts {
		path, err := c.Save(transcript)
		if err != nil {
			return err
		}
		if c.logger != nil {
			c.logger.Info("transcript saved", "path", path, "bytes", len(transcript))
		}
	}

	if !c.config.CopyToClipboard {
		return nil
	}

	clipboardCtx, cancel := context.WithTimeout(ctx, clipboardTimeout)
	defer cancel()
	if err := runCommandWithInput(clipboardCtx, c.config.Clipboard.Argv, transcript); err != nil {
		return fmt.Errorf("set clipboard: %w", err)
	}
	return nil
}

// Save writes transcript to <dir>/<timestamp>.txt with mode 0600 and returns the path.
func (c *Committer) Save(transcript string) (string, error) {
	dir, err := TranscriptDir(c.config)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create transcript dir: %w", err)
	}

	stamp := c.clock.Now().Format(timestampLayout)
	path := filepath.Join(dir, stamp+transcriptExt)
	for n := 2; fileExists(path); n++ {
		path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stamp, n, transcriptExt))
	}

	if err := os.WriteFile(path, []byte(ensureTrailingNewline(transcript)), 0o600); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}
	return path, nil
}

// TranscriptDir returns output.transcript_dir, defaulting to <state dir>/transcripts.
func TranscriptDir(cfg config.OutputConfig) (string, error) {
	if dir := strings.TrimSpace(cfg.TranscriptDir); dir != "" {
		return dir, nil
	}
	state, err := logging.StateDir()
	if err != nil {
		return "", fmt.Errorf("resolve transcript dir: %w", err)
	}
	return filepath.Join(state, "transcripts"), nil
}

// Latest returns the newest saved transcript in dir by file name.
func Latest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoTranscripts
		}
		return "", fmt.Errorf("read transcript dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), transcriptExt) {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "", ErrNoTranscripts
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1]), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func ensureTrailingNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
