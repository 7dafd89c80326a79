package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TCPConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetlink_tcp_connections_total",
		Help: "TCP connections accepted",
	})
	HandshakeOK = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetlink_handshake_ok_total",
		Help: "Sessions registered after the IMEI was learned",
	})
	ConnectedDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleetlink_connected_devices",
		Help: "Devices currently holding a session",
	})
	PacketsRecv = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetlink_packets_received_total",
		Help: "Inbound frames pulled off device streams",
	})
	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetlink_decode_errors_total",
		Help: "Frames dropped because decoding failed",
	})
	CommandsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetlink_commands_sent_total",
		Help: "Commands written to devices",
	})
	CommandTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetlink_command_timeouts_total",
		Help: "Commands settled by the timeout timer",
	})
	RepliesMatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetlink_replies_matched_total",
		Help: "Replies matched to an outstanding command",
	})
	RepliesUnmatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetlink_replies_unmatched_total",
		Help: "Replies discarded because nothing was waiting on their correlation number",
	})
	Telemetry = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetlink_telemetry_total",
		Help: "Valid frames routed as telemetry",
	})
	ForwardErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetlink_forward_errors_total",
		Help: "Errors pushing telemetry to the forwarder service",
	})
	CommandLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetlink_command_latency_seconds",
		Help:    "Round trip from command write to matched reply",
		Buckets: prometheus.DefBuckets,
	})
)

func ObserveCommandLatency(start time.Time) {
	CommandLatency.Observe(time.Since(start).Seconds())
}

func StartMetricsServer(port string) {
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte("ok"))
	})
	_ = http.ListenAndServe(":"+port, nil)
}
