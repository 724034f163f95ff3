package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry        *prometheus.Registry
	runs            *prometheus.CounterVec // total runs
	runDuration     prometheus.Histogram   // time to run
	dnsOperations   *prometheus.CounterVec // record operations per prefix
	dnsRequests     *prometheus.CounterVec // provider api requests
	dnsRetries      *prometheus.CounterVec // provider api retries
	recordsObserved *prometheus.GaugeVec   // records seen per prefix
	httpTriggers    *prometheus.CounterVec // inbound trigger requests
}

func (m *Metrics) IncRun(trigger string, success bool) {
	m.runs.WithLabelValues(trigger, boolToResult(success)).Inc()
}

func (m *Metrics) SetRunDuration(duration time.Duration) {
	m.runDuration.Observe(duration.Seconds())
}

func (m *Metrics) IncDNSOperation(operation, prefix string, success bool) {
	if !isValidOperation(operation) || prefix == "" {
		return
	}
	m.dnsOperations.WithLabelValues(operation, prefix, boolToResult(success)).Inc()
}

func (m *Metrics) IncDNSRequest(method string, code int) {
	m.dnsRequests.WithLabelValues(method, codeLabel(code)).Inc()
}

func (m *Metrics) IncDNSRetry(method string) {
	m.dnsRetries.WithLabelValues(method).Inc()
}

func (m *Metrics) SetRecordsObserved(prefix string, count int) {
	m.recordsObserved.WithLabelValues(prefix).Set(float64(count))
}

func (m *Metrics) IncHTTPTrigger(code int) {
	m.httpTriggers.WithLabelValues(codeLabel(code)).Inc()
}

func boolToResult(b bool) string {
	if b {
		return "success"
	}
	return "failure"
}

// codeLabel maps a zero status, meaning no response, to "error".
func codeLabel(code int) string {
	if code == 0 {
		return "error"
	}
	return strconv.Itoa(code)
}

func isValidOperation(op string) bool {
	switch op {
	case "create", "update", "delete":
		return true
	}
	return false
}

func New(register bool) *Metrics {
	registry := prometheus.NewRegistry()
	namespace := "dns_prefix_sync"

	m := &Metrics{
		registry: registry,

		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of reconciliation runs",
		}, []string{"trigger", "status"}),

		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of reconciliation runs in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		dnsOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dns_operations_total",
			Help:      "Total record operations dispatched",
		}, []string{"operation", "prefix", "status"}),

		dnsRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dns_requests_total",
			Help:      "Total DNS provider requests, including retries",
		}, []string{"method", "code"}),

		dnsRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dns_retries_total",
			Help:      "Total DNS provider request retries",
		}, []string{"method"}),

		recordsObserved: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records_observed",
			Help:      "Address records found per prefix at the start of the last run",
		}, []string{"prefix"}),

		httpTriggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_triggers_total",
			Help:      "Total inbound trigger requests",
		}, []string{"code"}),
	}

	if register {
		registry.MustRegister(
			m.runs,
			m.runDuration,
			m.dnsOperations,
			m.dnsRequests,
			m.dnsRetries,
			m.recordsObserved,
			m.httpTriggers,
		)
	}
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
