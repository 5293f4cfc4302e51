// Package metrics exports Prometheus instruments for the solver.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gogpu/nestfluid/gpucore"
)

// Dispatch kinds used as the "kind" label.
const (
	KindDirect   = "direct"
	KindIndirect = "indirect"
)

// Collector holds the solver instruments registered on one registry.
type Collector struct {
	// Dispatches counts recorded dispatches by kind.
	Dispatches *prometheus.CounterVec

	// Barriers counts recorded buffer barriers.
	Barriers prometheus.Counter

	// Copies counts recorded buffer copies.
	Copies prometheus.Counter

	// Frames counts submitted frames.
	Frames prometheus.Counter

	// FrameSeconds observes the wall time of a recorded and submitted frame.
	FrameSeconds prometheus.Histogram

	// LiveCells tracks the live cell count per level.
	LiveCells *prometheus.GaugeVec
}

// New registers the solver instruments on reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Collector{
		Dispatches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nestfluid_dispatches_total",
				Help: "Compute dispatches recorded, by kind",
			},
			[]string{"kind"},
		),
		Barriers: f.NewCounter(prometheus.CounterOpts{
			Name: "nestfluid_barriers_total",
			Help: "Buffer barriers recorded",
		}),
		Copies: f.NewCounter(prometheus.CounterOpts{
			Name: "nestfluid_copies_total",
			Help: "Buffer copies recorded",
		}),
		Frames: f.NewCounter(prometheus.CounterOpts{
			Name: "nestfluid_frames_total",
			Help: "Solver frames submitted",
		}),
		FrameSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "nestfluid_frame_seconds",
			Help:    "Frame record and submit time in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		LiveCells: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nestfluid_live_cells",
				Help: "Live cells by grid level",
			},
			[]string{"level"},
		),
	}
}

// ObserveFrame records one submitted frame that took d.
func (c *Collector) ObserveFrame(d time.Duration) {
	if c == nil {
		return
	}
	c.Frames.Inc()
	c.FrameSeconds.Observe(d.Seconds())
}

// SetLiveCells publishes the live cell count of every level.
func (c *Collector) SetLiveCells(live []uint32) {
	if c == nil {
		return
	}
	for l, n := range live {
		c.LiveCells.WithLabelValues(strconv.Itoa(l)).Set(float64(n))
	}
}

// Wrap returns an encoder that forwards to enc and counts what it records.
// A nil Collector returns enc unchanged.
func (c *Collector) Wrap(enc gpucore.CommandEncoder) gpucore.CommandEncoder {
	if c == nil {
		return enc
	}
	return &countingEncoder{CommandEncoder: enc, c: c}
}

type countingEncoder struct {
	gpucore.CommandEncoder
	c *Collector
}

// Unwrap returns the decorated encoder.
func (e *countingEncoder) Unwrap() gpucore.CommandEncoder { return e.CommandEncoder }

func (e *countingEncoder) Dispatch(x, y, z uint32) {
	e.c.Dispatches.WithLabelValues(KindDirect).Inc()
	e.CommandEncoder.Dispatch(x, y, z)
}

func (e *countingEncoder) DispatchIndirect(buffer gpucore.BufferID, offset uint64) {
	e.c.Dispatches.WithLabelValues(KindIndirect).Inc()
	e.CommandEncoder.DispatchIndirect(buffer, offset)
}

func (e *countingEncoder) CopyBuffer(src, dst gpucore.BufferID, size uint64) {
	e.c.Copies.Inc()
	e.CommandEncoder.CopyBuffer(src, dst, size)
}

func (e *countingEncoder) Barrier(barriers ...gpucore.BufferBarrier) {
	e.c.Barriers.Add(float64(len(barriers)))
	e.CommandEncoder.Barrier(barriers...)
}
