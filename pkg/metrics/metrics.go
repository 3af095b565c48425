// Package metrics exposes the solver's progress as Prometheus metrics,
// mirroring the client_golang usage the teacher's monitoring package
// shows, but as a producer (registering gauges/counters and serving
// them) rather than a query consumer.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder tracks solver-loop metrics for one rank.
type Recorder struct {
	registry *prometheus.Registry

	iteration      prometheus.Gauge
	diffNorm       prometheus.Gauge
	checkpointsCut prometheus.Counter
	repairsRun     prometheus.Counter
	repairDuration prometheus.Histogram
	haloRounds     prometheus.Counter
}

// New creates a Recorder bound to its own registry, labeled with rank.
func New(rank int) *Recorder {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"rank": itoa(rank)}

	return &Recorder{
		registry: reg,
		iteration: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace:   "faultsolve",
			Name:        "iteration",
			Help:        "Current iteration number committed by this rank.",
			ConstLabels: labels,
		}),
		diffNorm: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace:   "faultsolve",
			Name:        "diff_norm",
			Help:        "Most recent global L2 diff norm observed by this rank.",
			ConstLabels: labels,
		}),
		checkpointsCut: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace:   "faultsolve",
			Name:        "checkpoints_total",
			Help:        "Number of checkpoints this rank has committed.",
			ConstLabels: labels,
		}),
		repairsRun: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace:   "faultsolve",
			Name:        "repairs_total",
			Help:        "Number of world repairs this rank has participated in.",
			ConstLabels: labels,
		}),
		repairDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace:   "faultsolve",
			Name:        "repair_duration_seconds",
			Help:        "Wall-clock time spent in the world repair protocol.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		haloRounds: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace:   "faultsolve",
			Name:        "halo_rounds_total",
			Help:        "Number of halo-exchange rounds completed.",
			ConstLabels: labels,
		}),
	}
}

func (r *Recorder) SetIteration(i int)        { r.iteration.Set(float64(i)) }
func (r *Recorder) SetDiffNorm(v float64)     { r.diffNorm.Set(v) }
func (r *Recorder) IncCheckpoint()            { r.checkpointsCut.Inc() }
func (r *Recorder) IncHaloRound()             { r.haloRounds.Inc() }
func (r *Recorder) ObserveRepair(d time.Duration) {
	r.repairsRun.Inc()
	r.repairDuration.Observe(d.Seconds())
}

// Serve starts an HTTP server exposing /metrics until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
