package audio

import (
	"context"
	"errors"
	"fmt"
)

// ErrSourceClosed is returned when a segment is requested from a released source.
var ErrSourceClosed = errors.New("audio source closed")

// Source is a live capture device that can be split into independently decodable segments.
type Source interface {
	// Open starts a new segment. Only one segment may be open at a time.
	Open(ctx context.Context) (Segment, error)
	// Close releases the device. An open segment is stopped first.
	Close() error
}

// Segment is one recording sub-session. Stop flushes the encoder: every fragment is
// delivered on Fragments before the channel closes.
type Segment interface {
	Fragments() <-chan []byte
	Stop() error
	MIMEType() string
}

// LevelMeter reports the normalised energy (0..1) of the most recent audio window.
type LevelMeter interface {
	Level() (float64, error)
}

// DeviceError reports a capture device that could not be acquired or re-armed.
type DeviceError struct {
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("audio device: %v", e.Err)
	}
	return fmt.Sprintf("audio device %q: %v", e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// IsDeviceError reports whether err carries a DeviceError.
func IsDeviceError(err error) bool {
	var devErr *DeviceError
	return errors.As(err, &devErr)
}
