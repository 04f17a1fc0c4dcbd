package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_http_requests_total", Help: "HTTP requests"},
		[]string{"endpoint", "status"},
	)
	Outcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_outcomes_total", Help: "Relay outcomes"},
		[]string{"direction", "result", "reason"},
	)
	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_provider_calls_total", Help: "Upstream calls per endpoint candidate"},
		[]string{"provider", "operation", "result", "http_status"},
	)
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "relay_provider_latency_seconds", Help: "Upstream call latency"},
		[]string{"provider"},
	)
	EndpointFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_endpoint_fallbacks_total", Help: "Advances to the next endpoint candidate"},
		[]string{"provider", "operation"},
	)
	PhoneResolution = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_phone_resolution_total", Help: "Outbound recipient phone resolution tier"},
		[]string{"tier"},
	)
	QueueEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_queue_events_total", Help: "Relay queue enqueue and processing results"},
		[]string{"direction", "result"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(HTTPRequests, Outcomes, ProviderCalls, ProviderLatency, EndpointFallbacks, PhoneResolution, QueueEvents)
}
