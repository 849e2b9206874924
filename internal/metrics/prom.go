package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prom holds the Prometheus collectors served by the HTTP server.
type Prom struct {
	registry           *prometheus.Registry
	requestsTotal      prometheus.Counter
	errorsTotal        prometheus.Counter
	runsStarted        prometheus.Counter
	runsCompleted      prometheus.Counter
	runsAborted        *prometheus.CounterVec
	activeRuns         prometheus.Gauge
	handsExtracted     prometheus.Counter
	extractionAttempts *prometheus.CounterVec
	segmentsProcessed  prometheus.Counter
}

// NewProm creates and registers the extractor's collectors on a private
// registry.
func NewProm() *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hand_extractor_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hand_extractor_errors_total",
			Help: "Total number of HTTP responses with status 4xx or 5xx",
		}),
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hand_extractor_runs_started_total",
			Help: "Pipeline runs accepted",
		}),
		runsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hand_extractor_runs_completed_total",
			Help: "Pipeline runs that completed",
		}),
		runsAborted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hand_extractor_runs_aborted_total",
			Help: "Pipeline runs that aborted, by failing stage",
		}, []string{"stage"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hand_extractor_active_runs",
			Help: "Pipeline runs currently executing",
		}),
		handsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hand_extractor_hands_extracted_total",
			Help: "Hands kept after validation",
		}),
		extractionAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hand_extractor_extraction_attempts_total",
			Help: "Model extraction attempts, by outcome",
		}, []string{"outcome"}),
		segmentsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hand_extractor_segments_processed_total",
			Help: "Segments fully processed",
		}),
	}
	p.registry.MustRegister(
		p.requestsTotal,
		p.errorsTotal,
		p.runsStarted,
		p.runsCompleted,
		p.runsAborted,
		p.activeRuns,
		p.handsExtracted,
		p.extractionAttempts,
		p.segmentsProcessed,
	)
	return p
}

// Registry exposes the underlying registry for tests and extra collectors.
func (p *Prom) Registry() *prometheus.Registry { return p.registry }

func (p *Prom) IncRequests() { p.requestsTotal.Inc() }

func (p *Prom) IncErrors() { p.errorsTotal.Inc() }

// RunStarted counts a run and marks it active.
func (p *Prom) RunStarted() {
	p.runsStarted.Inc()
	p.activeRuns.Inc()
}

// RunCompleted records a successful run and its hand total.
func (p *Prom) RunCompleted(hands int) {
	p.runsCompleted.Inc()
	p.activeRuns.Dec()
	p.handsExtracted.Add(float64(hands))
}

// RunAborted records a failed run against the stage that failed.
func (p *Prom) RunAborted(stage string) {
	if stage == "" {
		stage = "unknown"
	}
	p.runsAborted.WithLabelValues(stage).Inc()
	p.activeRuns.Dec()
}

// ExtractionAttempt counts one model call. outcome is "ok", "empty" or
// "error".
func (p *Prom) ExtractionAttempt(outcome string) {
	p.extractionAttempts.WithLabelValues(outcome).Inc()
}

func (p *Prom) SegmentProcessed() { p.segmentsProcessed.Inc() }

// Handler serves the registry in the Prometheus text format.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestMiddleware counts requests and error responses. It plugs into chi.
func RequestMiddleware(p *Prom) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			p.IncRequests()
			if sw.status >= 400 {
				p.IncErrors()
			}
		})
	}
}
