package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"

	"github.com/rbright/parley/internal/vad"
)

const (
	fragmentSizeBytes = 640  // 20ms @ 16kHz mono s16
	levelWindowBytes  = 3200 // 100ms @ 16kHz mono s16
)

// PulseSource keeps one Pulse record stream open for a whole session and routes PCM
// into whichever segment is currently open. It also serves as the level meter.
type PulseSource struct {
	device Device

	client *pulse.Client
	stream *pulse.RecordStream

	mu      sync.Mutex
	current *pcmSegment
	window  []byte
	closed  bool

	inflight sync.WaitGroup
	bytes    atomic.Int64
}

// OpenPulse connects to Pulse and starts a 16kHz mono s16 record stream on selected.
func OpenPulse(_ context.Context, selected Device) (*PulseSource, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(selected.ID)
	if err != nil {
		client.Close()
		return nil, &DeviceError{Device: selected.ID, Err: fmt.Errorf("resolve source: %w", err)}
	}

	ps := &PulseSource{device: selected, client: client}

	writer := pulse.NewWriter(writerFunc(ps.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(SampleRate),
		pulse.RecordBufferFragmentSize(fragmentSizeBytes),
		pulse.RecordMediaName("parley meeting capture"),
	)
	if err != nil {
		client.Close()
		return nil, &DeviceError{Device: selected.ID, Err: fmt.Errorf("create record stream: %w", err)}
	}

	ps.stream = stream
	stream.Start()
	return ps, nil
}

func (s *PulseSource) Device() Device {
	return s.device
}

// BytesCaptured reports total PCM bytes accepted from Pulse.
func (s *PulseSource) BytesCaptured() int64 {
	return s.bytes.Load()
}

// Open starts routing PCM into a new segment.
func (s *PulseSource) Open(_ context.Context) (Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, &DeviceError{Device: s.device.ID, Err: ErrSourceClosed}
	}
	if s.current != nil {
		return nil, &DeviceError{Device: s.device.ID, Err: errors.New("segment already open")}
	}
	seg := newPCMSegment(s.detach)
	s.current = seg
	return seg, nil
}

// Level returns the RMS energy of the most recent 100ms of PCM.
func (s *PulseSource) Level() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSourceClosed
	}
	return vad.RMS(s.window), nil
}

// Close stops the stream, releases the client, and stops any open segment.
func (s *PulseSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	seg := s.current
	s.mu.Unlock()

	if s.stream != nil {
		s.stream.Stop()
		s.stream.Close()
	}
	if s.client != nil {
		s.client.Close()
	}
	s.inflight.Wait()

	if seg != nil {
		return seg.Stop()
	}
	return nil
}

func (s *PulseSource) detach(seg *pcmSegment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == seg {
		s.current = nil
	}
}

func (s *PulseSource) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, io.EOF
	}
	// Add under the same mutex as closed to avoid Add/Wait races.
	s.inflight.Add(1)
	defer s.inflight.Done()

	s.window = append(s.window, buffer...)
	if over := len(s.window) - levelWindowBytes; over > 0 {
		s.window = append(s.window[:0], s.window[over:]...)
	}
	if s.current != nil {
		s.current.append(buffer)
	}
	s.mu.Unlock()

	s.bytes.Add(int64(len(buffer)))
	return len(buffer), nil
}

// pcmSegment buffers PCM until Stop, then emits it as one complete WAV file.
type pcmSegment struct {
	fragments chan []byte
	onStop    func(*pcmSegment)

	mu   sync.Mutex
	pcm  []byte
	once sync.Once
}

func newPCMSegment(onStop func(*pcmSegment)) *pcmSegment {
	return &pcmSegment{fragments: make(chan []byte, 1), onStop: onStop}
}

func (p *pcmSegment) append(buffer []byte) {
	p.mu.Lock()
	p.pcm = append(p.pcm, buffer...)
	p.mu.Unlock()
}

func (p *pcmSegment) Fragments() <-chan []byte {
	return p.fragments
}

func (p *pcmSegment) MIMEType() string {
	return MIMEWAV
}

func (p *pcmSegment) Stop() error {
	p.once.Do(func() {
		if p.onStop != nil {
			p.onStop(p)
		}
		p.mu.Lock()
		pcm := p.pcm
		p.pcm = nil
		p.mu.Unlock()

		if len(pcm) > 0 {
			p.fragments <- EncodeWAV(pcm, SampleRate, Channels)
		}
		close(p.fragments)
	})
	return nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
