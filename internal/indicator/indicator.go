// Package indicator mirrors session status as a replaceable desktop notification.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/event"
)

const (
	ongoingTimeoutMS      = 300000
	defaultErrorTimeoutMS = 1200
	dispatchTimeout       = 400 * time.Millisecond
)

type notifyFunc func(ctx context.Context, appName string, replaceID uint32, summary string, timeoutMS int) (uint32, error)
type dismissFunc func(ctx context.Context, id uint32) error

// Desktop sends one notification per status change, replacing the previous one.
type Desktop struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	messages messages

	notify  notifyFunc
	dismiss dismissFunc

	mu             sync.Mutex
	notificationID uint32
	last           event.Status
}

// NewDesktop creates a notifier from config. Text overrides in cfg win over locale defaults.
func NewDesktop(cfg config.IndicatorConfig, logger *slog.Logger) *Desktop {
	return &Desktop{
		cfg:      cfg,
		logger:   logger,
		messages: indicatorMessagesFromEnv().override(cfg),
		notify:   desktopNotify,
		dismiss:  desktopDismiss,
	}
}

// Show renders status. Idle dismisses; error uses the short error timeout.
// A repeated non-error status is not re-sent.
func (d *Desktop) Show(ctx context.Context, status event.Status, detail string) {
	if !d.cfg.Enable {
		return
	}

	d.mu.Lock()
	repeated := status == d.last && status != event.StatusError
	d.last = status
	d.mu.Unlock()
	if repeated {
		return
	}

	switch status {
	case event.StatusIdle:
		d.run(ctx, d.dismissCurrent)
	case event.StatusError:
		text := d.messages.errorText
		if strings.TrimSpace(detail) != "" {
			text = text + ": " + strings.TrimSpace(detail)
		}
		timeout := d.cfg.ErrorTimeoutMS
		if timeout <= 0 {
			timeout = defaultErrorTimeoutMS
		}
		d.run(ctx, func(ctx context.Context) error { return d.send(ctx, text, timeout) })
	default:
		text := d.messages.forStatus(status)
		if text == "" {
			return
		}
		d.run(ctx, func(ctx context.Context) error { return d.send(ctx, text, ongoingTimeoutMS) })
	}
}

// Hide dismisses the active notification.
func (d *Desktop) Hide(ctx context.Context) {
	d.Show(ctx, event.StatusIdle, "")
}

func (d *Desktop) send(ctx context.Context, text string, timeoutMS int) error {
	d.mu.Lock()
	replaceID := d.notificationID
	d.mu.Unlock()

	appName := strings.TrimSpace(d.cfg.DesktopAppName)
	if appName == "" {
		appName = "parley"
	}

	id, err := d.notify(ctx, appName, replaceID, text, timeoutMS)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.notificationID = id
	d.mu.Unlock()
	return nil
}

func (d *Desktop) dismissCurrent(ctx context.Context) error {
	d.mu.Lock()
	id := d.notificationID
	d.notificationID = 0
	d.mu.Unlock()

	if id == 0 {
		return nil
	}
	return d.dismiss(ctx, id)
}

func (d *Desktop) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	if err := fn(runCtx); err != nil && d.logger != nil {
		d.logger.Debug("indicator dispatch failed", "error", err.Error())
	}
}
