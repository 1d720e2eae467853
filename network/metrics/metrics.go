package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server 服务端的指标
// 每个Server用自己的Registerer，同一进程里起多个Server不会重复注册
type Server struct {
	Accepted       prometheus.Counter
	AcceptErrors   prometheus.Counter
	Dispatched     prometheus.Counter
	RouteNotFound  prometheus.Counter
	ExtractErrors  prometheus.Counter
	HandlerPanics  prometheus.Counter
	InFlight       prometheus.Gauge
	QueueDepth     prometheus.Gauge
	HandleDuration *prometheus.HistogramVec
}

func NewServer(reg prometheus.Registerer) *Server {
	factory := promauto.With(reg)
	return &Server{
		Accepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "sockstream_connections_accepted_total",
			Help: "Total number of accepted connections",
		}),
		AcceptErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "sockstream_accept_errors_total",
			Help: "Total number of failed accept calls",
		}),
		Dispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "sockstream_dispatched_total",
			Help: "Total number of connections handed to a route handler",
		}),
		RouteNotFound: factory.NewCounter(prometheus.CounterOpts{
			Name: "sockstream_route_not_found_total",
			Help: "Total number of connections whose routing key had no handler",
		}),
		ExtractErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "sockstream_extract_errors_total",
			Help: "Total number of connections whose routing key could not be read",
		}),
		HandlerPanics: factory.NewCounter(prometheus.CounterOpts{
			Name: "sockstream_handler_panics_total",
			Help: "Total number of recovered handler panics",
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sockstream_in_flight",
			Help: "Connections accepted and not yet released",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sockstream_queue_depth",
			Help: "Connections waiting for a free worker",
		}),
		HandleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sockstream_handle_duration_seconds",
			Help:    "Time spent in route handlers",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms ~ 8s
		}, []string{"route"}),
	}
}

// Mount 在mux上挂载 /metrics
func Mount(g prometheus.Gatherer) func(mux *http.ServeMux) {
	return func(mux *http.ServeMux) {
		mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}
}
