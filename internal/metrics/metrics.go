package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/hlnode/meshgem-proxy/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters and gauges.
var (
	ClientsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clients_accepted_total",
		Help: "Total TCP clients accepted by the proxy.",
	})
	ClientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clients_connected",
		Help: "Current number of connected TCP clients.",
	})
	ClientsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clients_rejected_total",
		Help: "Total client connection attempts rejected (e.g., max-clients).",
	})
	FramesClientRx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_client_rx_total",
		Help: "Total frames decoded from client connections.",
	})
	FramesClientTx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_client_tx_total",
		Help: "Total frames written to client connections.",
	})
	FramesRadioRx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_radio_rx_total",
		Help: "Total frames decoded from the radio link.",
	})
	FramesRadioTx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_radio_tx_total",
		Help: "Total frames written to the radio link.",
	})
	RadioReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radio_reconnects_total",
		Help: "Total radio reconnect attempts.",
	})
	RadioConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "radio_connected",
		Help: "1 when the radio link is connected, 0 otherwise.",
	})
	HubDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_frames_total",
		Help: "Total broadcast frames dropped due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Total clients disconnected due to backpressure kick policy.",
	})
	HubBroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_broadcast_fanout",
		Help: "Number of clients targeted in the most recent broadcast.",
	})
	HubQueueDepthMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_max",
		Help: "Observed max queued frames among clients since last sample window.",
	})
	HubQueueDepthAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_avg",
		Help: "Approximate average queued frames per client in last sample.",
	})
	GemCommands = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gem_commands_total",
		Help: "Total /gem commands detected.",
	})
	GemJobsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gem_jobs_dropped_total",
		Help: "Total /gem jobs dropped because the response job pool was saturated.",
	})
	GemJobsFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gem_jobs_filtered_total",
		Help: "Total /gem commands rejected by the optional command filter.",
	})
	GeneratorCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "generator_calls_total",
		Help: "Total calls made to the text generator.",
	})
	GeneratorFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "generator_failures_total",
		Help: "Total generator calls that failed after retries.",
	})
	GeneratorLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "generator_latency_seconds",
		Help:    "Latency of successful generator calls.",
		Buckets: prometheus.DefBuckets,
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (protocol violations, impossible length, truncated).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrTCPRead     = "tcp_read"
	ErrTCPWrite    = "tcp_write"
	ErrRadioDial   = "radio_dial"
	ErrRadioRead   = "radio_read"
	ErrRadioWrite  = "radio_write"
	ErrGenerator   = "generator"
	ErrBridge      = "bridge"
	ErrAcceptOrLsn = "accept_listen"
)

// StartHTTP serves Prometheus metrics and a readiness probe at addr.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap structured-log snapshots (avoids
// scraping Prometheus in-process just to log a line periodically).
var (
	localFramesClientRx uint64
	localFramesClientTx uint64
	localFramesRadioRx  uint64
	localFramesRadioTx  uint64
	localHubDrop        uint64
	localHubKick        uint64
	localErrors         uint64
	localClients        uint64
	localFanout         uint64
	localMalformed      uint64
	localGemCommands    uint64
	localGenCalls       uint64
	localGenFailures    uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	FramesClientRx uint64
	FramesClientTx uint64
	FramesRadioRx  uint64
	FramesRadioTx  uint64
	HubDrops       uint64
	HubKicks       uint64
	Errors         uint64
	Clients        uint64
	Fanout         uint64
	Malformed      uint64
	GemCommands    uint64
	GenCalls       uint64
	GenFailures    uint64
}

func Snap() Snapshot {
	return Snapshot{
		FramesClientRx: atomic.LoadUint64(&localFramesClientRx),
		FramesClientTx: atomic.LoadUint64(&localFramesClientTx),
		FramesRadioRx:  atomic.LoadUint64(&localFramesRadioRx),
		FramesRadioTx:  atomic.LoadUint64(&localFramesRadioTx),
		HubDrops:       atomic.LoadUint64(&localHubDrop),
		HubKicks:       atomic.LoadUint64(&localHubKick),
		Errors:         atomic.LoadUint64(&localErrors),
		Clients:        atomic.LoadUint64(&localClients),
		Fanout:         atomic.LoadUint64(&localFanout),
		Malformed:      atomic.LoadUint64(&localMalformed),
		GemCommands:    atomic.LoadUint64(&localGemCommands),
		GenCalls:       atomic.LoadUint64(&localGenCalls),
		GenFailures:    atomic.LoadUint64(&localGenFailures),
	}
}

func IncFramesClientRx() {
	FramesClientRx.Inc()
	atomic.AddUint64(&localFramesClientRx, 1)
}

func IncFramesClientTx(n int) {
	FramesClientTx.Add(float64(n))
	atomic.AddUint64(&localFramesClientTx, uint64(n))
}

func IncFramesRadioRx() {
	FramesRadioRx.Inc()
	atomic.AddUint64(&localFramesRadioRx, 1)
}

func IncFramesRadioTx() {
	FramesRadioTx.Inc()
	atomic.AddUint64(&localFramesRadioTx, 1)
}

func IncHubDrop() {
	HubDroppedFrames.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func SetClientsConnected(n int) {
	ClientsConnected.Set(float64(n))
	atomic.StoreUint64(&localClients, uint64(n))
}

func SetBroadcastFanout(n int) {
	HubBroadcastFanout.Set(float64(n))
	atomic.StoreUint64(&localFanout, uint64(n))
}

func SetQueueDepth(max, avg int) {
	HubQueueDepthMax.Set(float64(max))
	HubQueueDepthAvg.Set(float64(avg))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func IncGemCommand() {
	GemCommands.Inc()
	atomic.AddUint64(&localGemCommands, 1)
}

func IncGeneratorCall(ok bool) {
	GeneratorCalls.Inc()
	atomic.AddUint64(&localGenCalls, 1)
	if !ok {
		GeneratorFailures.Inc()
		atomic.AddUint64(&localGenFailures, 1)
	}
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{
		ErrTCPRead, ErrTCPWrite, ErrRadioDial, ErrRadioRead, ErrRadioWrite,
		ErrGenerator, ErrBridge, ErrAcceptOrLsn,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
