// Command puretrack-report-worker polls for reports in the generating state
// and builds them: assembling a read-only bundle from C1/C2/C3, rendering
// it, and attaching the stored artifact, per C7. Kept as its own process so
// a slow render (pdf/xlsx) never blocks the HTTP query surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Buchi-dev/puretrack/internal/config"
	"github.com/Buchi-dev/puretrack/internal/logging"
	"github.com/Buchi-dev/puretrack/internal/metrics"
	"github.com/Buchi-dev/puretrack/internal/models"
	"github.com/Buchi-dev/puretrack/internal/store"
	"github.com/Buchi-dev/puretrack/pkg/alerts"
	"github.com/Buchi-dev/puretrack/pkg/devices"
	"github.com/Buchi-dev/puretrack/pkg/reports"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

func main() {
	var cfg config.ReportWorkerConfig
	if err := config.Load(&cfg, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, red("puretrack-report-worker: "+err.Error()))
		os.Exit(1)
	}
	logging.Configure(cfg.LogLevel, cfg.LogJSON)
	log := logging.Component("report-worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.WithError(err).Fatal("opening store")
	}
	defer st.Close()

	devicesSvc := devices.New(st.Devices, st.Readings, st.Alerts, nil, nil)
	alertsSvc := alerts.New(st.Alerts, alerts.DefaultThresholds(), alerts.DefaultCooldowns(), alerts.NopNotifier{}, nil)

	var fileStore reports.FileStore
	if cfg.ObjectBucket != "" {
		fileStore, err = reports.NewGCSFileStore(ctx, cfg.ObjectBucket)
	} else {
		fileStore, err = reports.NewFSFileStore(cfg.LocalDir)
	}
	if err != nil {
		log.WithError(err).Fatal("opening report file store")
	}

	reportsSvc := reports.New(st.Reports, st.Readings, devicesSvc, alertsSvc, fileStore, &reports.DefaultRenderer{})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	fmt.Println(green("puretrack-report-worker"), "polling every", yellow(cfg.PollInterval.String()), "with concurrency", yellow(fmt.Sprint(cfg.Concurrency)))

	sem := make(chan struct{}, cfg.Concurrency)
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	var inFlight sync.Map // reportID -> struct{}

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case <-ticker.C:
			pending, err := reportsSvc.ListGenerating(ctx)
			if err != nil {
				log.WithError(err).Warn("listing generating reports")
				continue
			}
			for _, rep := range pending {
				if _, loaded := inFlight.LoadOrStore(rep.ID, struct{}{}); loaded {
					continue
				}
				sem <- struct{}{}
				go func(rep *models.Report) {
					defer func() { <-sem; inFlight.Delete(rep.ID) }()
					buildOne(ctx, reportsSvc, rep)
				}(rep)
			}
		}
	}
}

// buildOne builds a single report and records the outcome, isolating one
// report's failure from the rest of the batch.
func buildOne(ctx context.Context, svc *reports.Service, rep *models.Report) {
	entry := logging.Component("report-worker").WithField("reportId", rep.ID)
	if err := svc.Build(ctx, rep); err != nil {
		entry.WithError(err).Warn("report build failed")
		metrics.ReportsBuilt.WithLabelValues("failed").Inc()
		return
	}
	metrics.ReportsBuilt.WithLabelValues("completed").Inc()

	if completed, err := svc.Get(ctx, rep.ID); err == nil && completed.File != nil {
		entry.WithField("size", humanize.Bytes(uint64(completed.File.Size))).Info("report built")
		return
	}
	entry.Info("report built")
}
