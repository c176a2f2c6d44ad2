package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// keeper_evaluations_total
	//
	// counter of order evaluations by outcome
	//
	// Has the following labels:
	// * outcome - skipped_locked | skipped_state | not_profitable | gas_estimate_failed |
	//   no_estimate | no_gas_price | fee_too_low | executed | execution_failed
	EvaluationsMetricName = "keeper_evaluations_total"

	// keeper_executions_total
	//
	// counter of execution transactions by result (success | failure)
	ExecutionsMetricName = "keeper_executions_total"

	// keeper_evictions_total
	//
	// counter of orders dropped after too many gas estimation failures
	EvictionsMetricName = "keeper_evictions_total"

	// keeper_resubscriptions_total
	//
	// counter of stream resubscriptions after a disconnect
	//
	// Has the following labels:
	// * stream - the stream name
	ResubscriptionsMetricName = "keeper_resubscriptions_total"

	// keeper_breaker_trips_total
	//
	// counter of circuit breaker trips by exit code name
	BreakerTripsMetricName = "keeper_breaker_trips_total"

	// keeper_tracked_orders
	//
	// gauge of orders currently held in market pools
	TrackedOrdersMetricName = "keeper_tracked_orders"

	EvaluationsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: EvaluationsMetricName,
			Help: "counter of order evaluations by outcome",
		},
		[]string{"outcome"},
	)

	ExecutionsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: ExecutionsMetricName,
			Help: "counter of execution transactions by result",
		},
		[]string{"result"},
	)

	EvictionsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: EvictionsMetricName,
			Help: "counter of orders evicted after repeated gas estimation failures",
		},
	)

	ResubscriptionsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: ResubscriptionsMetricName,
			Help: "counter of stream resubscriptions after a disconnect",
		},
		[]string{"stream"},
	)

	BreakerTripsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: BreakerTripsMetricName,
			Help: "counter of circuit breaker trips",
		},
		[]string{"reason"},
	)

	TrackedOrdersGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: TrackedOrdersMetricName,
			Help: "orders currently tracked in market pools",
		},
	)
)

func init() {
	prometheus.MustRegister(EvaluationsCounter)
	prometheus.MustRegister(ExecutionsCounter)
	prometheus.MustRegister(EvictionsCounter)
	prometheus.MustRegister(ResubscriptionsCounter)
	prometheus.MustRegister(BreakerTripsCounter)
	prometheus.MustRegister(TrackedOrdersGauge)
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	go func() {
		slog.Info("telemetry: serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("telemetry: metrics server stopped", "err", err)
		}
	}()
}
