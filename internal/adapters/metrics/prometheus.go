// Package metrics expõe as decisões do rate limiter em um registry Prometheus próprio.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JeanGrijp/auth-rate-limiter/internal/core/domain"
	"github.com/JeanGrijp/auth-rate-limiter/internal/core/ports"
)

type Recorder struct {
	reg       *prometheus.Registry
	handler   http.Handler
	decisions *prometheus.CounterVec
	swept     prometheus.Counter
}

var _ ports.DecisionRecorder = (*Recorder)(nil)

func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Recorder{
		reg: reg,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_ratelimit_decisions_total",
			Help: "Rate limit decisions by action and outcome",
		}, []string{"action", "outcome"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_ratelimit_swept_entries_total",
			Help: "Expired rate limit entries removed by the sweep",
		}),
	}
	reg.MustRegister(r.decisions, r.swept)

	// labels conhecidos aparecem no scrape desde o início
	for _, action := range domain.Actions() {
		r.decisions.WithLabelValues(string(action), "allowed")
		r.decisions.WithLabelValues(string(action), "denied")
	}

	r.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	return r
}

func (r *Recorder) RecordDecision(action domain.ActionType, allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	r.decisions.WithLabelValues(string(action), outcome).Inc()
}

func (r *Recorder) RecordSweep(removed int) {
	r.swept.Add(float64(removed))
}

func (r *Recorder) Handler() http.Handler { return r.handler }

func (r *Recorder) Registry() *prometheus.Registry { return r.reg }
