// Package metrics exposes bidder progress as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"cca-bidder/internal/executor"
	"cca-bidder/internal/registry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cca_bidder"

type Metrics struct {
	// Loop
	HeadBlock    prometheus.Gauge
	LoopState    *prometheus.GaugeVec
	StopsTotal   *prometheus.CounterVec
	HeadsTotal   prometheus.Counter
	LastHeadTime prometheus.Gauge

	// Bids
	Attempts        *prometheus.CounterVec
	AttemptLatency  *prometheus.HistogramVec
	Submissions     prometheus.Counter
	Exhaustions     *prometheus.CounterVec
	BidsByStatus    *prometheus.GaugeVec
	RejectedAtStart prometheus.Counter

	registry *prometheus.Registry
	now      func() time.Time
}

// New registers every metric on a fresh registry so tests and multiple
// instances never collide on the global one.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		HeadBlock: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "head_block",
			Help:      "Latest block number observed by the submission loop",
		}),
		LoopState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "state",
			Help:      "1 for the loop's current state, 0 otherwise",
		}, []string{"state"}),
		StopsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "stops_total",
			Help:      "Loop stops by reason",
		}, []string{"reason"}),
		HeadsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "heads_total",
			Help:      "Total number of heads processed",
		}),
		LastHeadTime: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "last_head_timestamp",
			Help:      "Unix timestamp of the last processed head",
		}),

		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bids",
			Name:      "attempts_total",
			Help:      "Bid attempts by failing stage and result",
		}, []string{"stage", "result"}),
		AttemptLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bids",
			Name:      "attempt_duration_seconds",
			Help:      "Wall time of one prepare, simulate and send attempt",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"result"}),
		Submissions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bids",
			Name:      "submitted_total",
			Help:      "Total number of bids accepted by the node",
		}),
		Exhaustions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bids",
			Name:      "exhausted_total",
			Help:      "Bids given up on, by reason",
		}, []string{"reason"}),
		BidsByStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bids",
			Name:      "by_status",
			Help:      "Current number of bids in each status",
		}, []string{"status"}),
		RejectedAtStart: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bids",
			Name:      "rejected_total",
			Help:      "Bids rejected by validation before bidding started",
		}),

		registry: reg,
		now:      time.Now,
	}
}

// Handler serves this instance's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

// Observer returns a loop observer that keeps the metrics current. reg may be
// nil, in which case per-status gauges are left alone.
func (m *Metrics) Observer(reg *registry.Registry) executor.Observer {
	if m == nil {
		return nil
	}
	return func(ev executor.Event) {
		switch ev.Kind {
		case executor.EventHead:
			m.HeadsTotal.Inc()
			m.HeadBlock.Set(float64(ev.Block))
			m.LastHeadTime.Set(float64(m.now().Unix()))
		case executor.EventState:
			m.SetState(ev.To)
		case executor.EventAttempt:
			stage, result := "none", "submitted"
			if ev.Err != nil {
				stage, result = string(ev.Stage), "failed"
				if stage == "" {
					stage = "unknown"
				}
			} else {
				m.Submissions.Inc()
			}
			m.Attempts.WithLabelValues(stage, result).Inc()
			m.AttemptLatency.WithLabelValues(result).Observe(ev.Elapsed.Seconds())
		case executor.EventExhausted:
			reason := "unknown"
			if ev.Bid != nil && ev.Bid.Reason != "" {
				reason = ev.Bid.Reason
			}
			m.Exhaustions.WithLabelValues(reason).Inc()
		case executor.EventStop:
			m.StopsTotal.WithLabelValues(string(ev.Reason)).Inc()
		}
		if reg != nil {
			m.SetCounts(reg.Counts())
		}
	}
}

func (m *Metrics) SetState(s executor.State) {
	for _, st := range []executor.State{executor.WaitingForWindow, executor.Bidding, executor.Draining, executor.Stopped} {
		v := 0.0
		if st == s {
			v = 1
		}
		m.LoopState.WithLabelValues(st.String()).Set(v)
	}
}

func (m *Metrics) SetCounts(c registry.Counts) {
	m.BidsByStatus.WithLabelValues(registry.StatusPending.String()).Set(float64(c.Pending))
	m.BidsByStatus.WithLabelValues(registry.StatusSubmitted.String()).Set(float64(c.Submitted))
	m.BidsByStatus.WithLabelValues(registry.StatusFailed.String()).Set(float64(c.Failed))
	m.BidsByStatus.WithLabelValues(registry.StatusExhausted.String()).Set(float64(c.Exhausted))
}

// Serve exposes /metrics and /health on addr until ctx is done. A blank addr
// disables the server.
func (m *Metrics) Serve(ctx context.Context, addr string) {
	if m == nil || addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Printf("[info] metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[warn] metrics server: %v", err)
		}
	}()
}
