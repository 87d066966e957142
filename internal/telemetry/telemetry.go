// Package telemetry exposes process health as Prometheus metrics: board
// connectivity, PMIC auto-reset activity, connected client counts, and
// serial hang/reopen events. It replaces a hand-rolled counters struct
// with real client_golang instrumentation, registered on its own registry
// so an embedding program can choose whether to expose it.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects every counter/gauge the daemon reports. Construct with
// New; the zero value is not usable.
type Metrics struct {
	registry *prometheus.Registry

	boardUp        *prometheus.GaugeVec
	boardHangs     *prometheus.CounterVec
	boardReopens   *prometheus.CounterVec
	pmicResets     *prometheus.CounterVec
	pmicResetsDeny *prometheus.CounterVec
	aiFailures     *prometheus.CounterVec
	clientsActive  prometheus.Gauge
	clientsTotal   prometheus.Counter
	logicIteration prometheus.Counter
	logicDuration  prometheus.Histogram
}

// New builds a Metrics with all series registered against a private
// registry (so tests, or multiple daemon instances in one process, don't
// collide on the global default registry).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		boardUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hvaccore",
			Name:      "board_up",
			Help:      "1 if the named board's serial worker is active, 0 if dead.",
		}, []string{"board"}),
		boardHangs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hvaccore",
			Name:      "board_hangs_total",
			Help:      "Count of detected serial hangs (consecutive empty polls past threshold) per board.",
		}, []string{"board"}),
		boardReopens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hvaccore",
			Name:      "board_reopens_total",
			Help:      "Count of serial port close/reopen cycles per board.",
		}, []string{"board"}),
		pmicResets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hvaccore",
			Name:      "pmic_resets_total",
			Help:      "Count of PMIC auto-resets issued per board.",
		}, []string{"board"}),
		pmicResetsDeny: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hvaccore",
			Name:      "pmic_reset_budget_exhausted_total",
			Help:      "Count of PMIC faults that could not be auto-reset because the rolling-window budget was exhausted.",
		}, []string{"board"}),
		aiFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hvaccore",
			Name:      "ai_read_failures_total",
			Help:      "Count of required analog inputs that crossed into the failed state (sustained FLOAT_MIN).",
		}, []string{"point"}),
		clientsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hvaccore",
			Name:      "clients_active",
			Help:      "Number of currently connected protocol clients.",
		}),
		clientsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hvaccore",
			Name:      "clients_accepted_total",
			Help:      "Total protocol client connections accepted since startup.",
		}),
		logicIteration: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hvaccore",
			Name:      "logic_iterations_total",
			Help:      "Total HVAC logic loop iterations run.",
		}),
		logicDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hvaccore",
			Name:      "logic_iteration_seconds",
			Help:      "Wall-clock duration of a single HVAC logic loop iteration.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// SetBoardUp records the current up/down state of a board's serial worker.
func (m *Metrics) SetBoardUp(board string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	m.boardUp.WithLabelValues(board).Set(v)
}

// IncBoardHang records a detected serial hang on board.
func (m *Metrics) IncBoardHang(board string) { m.boardHangs.WithLabelValues(board).Inc() }

// IncBoardReopen records a close/reopen cycle on board.
func (m *Metrics) IncBoardReopen(board string) { m.boardReopens.WithLabelValues(board).Inc() }

// IncPMICReset records a PMIC auto-reset issued for board.
func (m *Metrics) IncPMICReset(board string) { m.pmicResets.WithLabelValues(board).Inc() }

// IncPMICResetDenied records a PMIC fault that exceeded the reset budget.
func (m *Metrics) IncPMICResetDenied(board string) { m.pmicResetsDeny.WithLabelValues(board).Inc() }

// IncAIFailure records a required analog input crossing into the failed
// state.
func (m *Metrics) IncAIFailure(point string) { m.aiFailures.WithLabelValues(point).Inc() }

// ClientConnected records a newly accepted protocol client.
func (m *Metrics) ClientConnected() {
	m.clientsTotal.Inc()
	m.clientsActive.Inc()
}

// ClientDisconnected records a protocol client going away.
func (m *Metrics) ClientDisconnected() { m.clientsActive.Dec() }

// ObserveLogicIteration records one HVAC logic loop iteration's duration.
func (m *Metrics) ObserveLogicIteration(d time.Duration) {
	m.logicIteration.Inc()
	m.logicDuration.Observe(d.Seconds())
}

// Handler returns the HTTP handler exposing these metrics in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing the metrics handler at /metrics on
// addr, returning once ctx is canceled (or ListenAndServe fails). Intended
// to be run in its own goroutine from cmd/logic-core when -metrics-addr is
// set.
func Serve(ctx context.Context, addr string, m *Metrics) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
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
