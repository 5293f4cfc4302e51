package nestfluid

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogpu/nestfluid/internal/metrics"
	"github.com/gogpu/nestfluid/solver"
)

// Option configures an Engine during creation.
//
// Example:
//
//	eng := nestfluid.New(dev, settings,
//	    nestfluid.WithObstacles(rasterizer),
//	    nestfluid.WithMetrics(prometheus.DefaultRegisterer))
type Option func(*options)

// options holds optional configuration for Engine creation.
type options struct {
	obstacles  solver.ObstacleRasterizer
	registerer prometheus.Registerer
	metrics    *metrics.Collector
}

func defaultOptions() options {
	return options{}
}

// WithObstacles installs a rasterizer that writes obstacle flags into every
// level each frame.
func WithObstacles(r solver.ObstacleRasterizer) Option {
	return func(o *options) {
		o.obstacles = r
	}
}

// WithMetrics registers the engine's Prometheus instruments on reg when the
// engine is initialized. The instruments count recorded dispatches,
// barriers and copies, and observe frame time and live cells.
//
// Instruments are registered once per registry; use one registry per engine.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}
