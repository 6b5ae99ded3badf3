package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// runRetryPromoterLoop periodically moves due entries out of the delayed
// retry ZSET and back onto the primary stream: the redelivery half of the
// worker's backoff, which NackRequeues with a delay instead of sleeping.
func runRetryPromoterLoop(ctx context.Context, promote func(ctx context.Context)) error {
	t := time.NewTicker(2 * time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			promoteCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			promote(promoteCtx)
			cancel()
		}
	}
}

type circuitStater interface {
	State() string
}

// workerHealthRouter mirrors the teacher's internal/worker/health.go plain
// ServeMux, extended with the breaker's state for observability (spec.md
// §4.H/I: "must expose its circuit state for observability").
func workerHealthRouter(breaker circuitStater, reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/circuit", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(breaker.State()))
	})

	return mux
}
