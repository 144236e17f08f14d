package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/serverless-fanout/invoker/internal/job"
)

// shutdownGrace bounds how long the metrics/jobs HTTP server waits for
// in-flight requests to finish once ctx is cancelled.
const shutdownGrace = 5 * time.Second

func newServeCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the facade as a long-lived process, accepting jobs over HTTP and exposing /metrics",
	}
	wf := registerWireFlags(cmd.Flags())
	cmd.Flags().StringVar(&metricsAddr, "addr", ":9090", "listen address for /metrics and /jobs")
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return doServe(cmd.Context(), wf, metricsAddr)
	}
	return cmd
}

func doServe(ctx context.Context, wf *wireFlags, addr string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w, err := buildWired(wf)
	if err != nil {
		return err
	}
	defer w.bus.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/jobs", func(rw http.ResponseWriter, r *http.Request) {
		handleSubmitJob(rw, r, w)
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	serveErrs := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrs <- err
			return
		}
		serveErrs <- nil
	}()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	facadeErrs := make(chan error, 1)
	go func() { facadeErrs <- w.facade.Start(runCtx) }()

	select {
	case <-ctx.Done():
	case err := <-serveErrs:
		if err != nil {
			w.logger.Error("metrics server failed", zap.Error(err))
		}
		cancelRun()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return <-facadeErrs
}

func handleSubmitJob(rw http.ResponseWriter, r *http.Request, w *wired) {
	if r.Method != http.MethodPost {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var j job.Job
	if err := json.NewDecoder(r.Body).Decode(&j); err != nil {
		http.Error(rw, fmt.Sprintf("decode job: %v", err), http.StatusBadRequest)
		return
	}
	futures, err := w.facade.Run(r.Context(), &j)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(futures)
}
