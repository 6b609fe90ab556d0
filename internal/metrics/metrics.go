// Package metrics defines the Prometheus instruments for chunking, uploads, and summaries.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all parley instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ChunksCut       *prometheus.CounterVec
	ChunksDropped   *prometheus.CounterVec
	ChunkSize       prometheus.Histogram
	VADTicks        prometheus.Counter
	VADSpeechTicks  prometheus.Counter
	Uploads         *prometheus.CounterVec
	UploadDuration  prometheus.Histogram
	FormatFallbacks prometheus.Counter
	SummaryFrames   *prometheus.CounterVec
}

// New registers all instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChunksCut: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_chunks_cut_total",
			Help: "Audio chunks cut, by cut reason",
		}, []string{"reason"}),
		ChunksDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_chunks_dropped_total",
			Help: "Audio chunks never uploaded, by gate",
		}, []string{"gate"}),
		ChunkSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_chunk_size_bytes",
			Help:    "Size of assembled audio chunks",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 14), // 1KB to ~16MB
		}),
		VADTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_vad_ticks_total",
			Help: "Volume samples classified by the VAD monitor",
		}),
		VADSpeechTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_vad_speech_ticks_total",
			Help: "Volume samples classified as speech",
		}),
		Uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_uploads_total",
			Help: "Transcription uploads, by outcome",
		}, []string{"outcome"}),
		UploadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_upload_duration_seconds",
			Help:    "Wall time of one transcription upload including a format fallback",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		FormatFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_format_fallbacks_total",
			Help: "Uploads retried with the plain json response format",
		}),
		SummaryFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_summary_frames_total",
			Help: "Summary stream frames, by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) RecordCut(reason string, size int) {
	if m == nil {
		return
	}
	m.ChunksCut.WithLabelValues(reason).Inc()
	m.ChunkSize.Observe(float64(size))
}

func (m *Metrics) RecordDropped(gate string) {
	if m == nil {
		return
	}
	m.ChunksDropped.WithLabelValues(gate).Inc()
}

func (m *Metrics) RecordVADTick(speech bool) {
	if m == nil {
		return
	}
	m.VADTicks.Inc()
	if speech {
		m.VADSpeechTicks.Inc()
	}
}

func (m *Metrics) RecordUpload(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(outcome).Inc()
	m.UploadDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) RecordFallback() {
	if m == nil {
		return
	}
	m.FormatFallbacks.Inc()
}

func (m *Metrics) RecordSummaryFrame(result string) {
	if m == nil {
		return
	}
	m.SummaryFrames.WithLabelValues(result).Inc()
}

// Serve exposes gatherer on addr at /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *slog.Logger) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen metrics %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if logger != nil {
		logger.Info("metrics listening", "addr", listener.Addr().String())
	}
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", err)
	}
	return nil
}
