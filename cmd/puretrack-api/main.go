// Command puretrack-api serves the HTTP query/aggregation surface (C6),
// the realtime websocket fanout (C5), and the maintenance scheduler (offline
// sweep, reading retention, tombstone purge) over a single shared sqlite
// store, the same single-process composition root shape the teacher's own
// servers use.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Buchi-dev/puretrack/internal/config"
	"github.com/Buchi-dev/puretrack/internal/logging"
	"github.com/Buchi-dev/puretrack/internal/store"
	"github.com/Buchi-dev/puretrack/pkg/alerts"
	"github.com/Buchi-dev/puretrack/pkg/api"
	"github.com/Buchi-dev/puretrack/pkg/devices"
	"github.com/Buchi-dev/puretrack/pkg/readings"
	"github.com/Buchi-dev/puretrack/pkg/realtime"
	"github.com/Buchi-dev/puretrack/pkg/reports"
	"github.com/Buchi-dev/puretrack/pkg/scheduler"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

func main() {
	var cfg config.APIConfig
	if err := config.Load(&cfg, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, red("puretrack-api: "+err.Error()))
		os.Exit(1)
	}
	logging.Configure(cfg.LogLevel, cfg.LogJSON)
	log := logging.Component("api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.WithError(err).Fatal("opening store")
	}
	defer st.Close()

	hub := realtime.NewHub()
	if cfg.RealtimeJWTSecret != "" {
		realtime.SetJWTSecret([]byte(cfg.RealtimeJWTSecret))
	}

	devicesSvc := devices.New(st.Devices, st.Readings, st.Alerts, nil, hub)
	devicesSvc.SetOfflineThreshold(cfg.OfflineThreshold)
	devicesSvc.SetRecoveryWindow(cfg.RecoveryWindow)
	readingsSvc := readings.New(st.Readings)
	alertsSvc := alerts.New(st.Alerts, alerts.DefaultThresholds(), alerts.DefaultCooldowns(), alerts.NopNotifier{}, hub)

	fileStore, err := reportFileStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("opening report file store")
	}
	reportsSvc := reports.New(st.Reports, st.Readings, devicesSvc, alertsSvc, fileStore, &reports.DefaultRenderer{})

	srv := api.New(readingsSvc, devicesSvc, alertsSvc, reportsSvc, st.DB, nil)

	mux := srv.Routes()
	mux.Handle("GET /ws", hub)

	sched := scheduler.New()
	sched.Register(scheduler.Job{
		Name:     "offline-sweep",
		Interval: cfg.OfflineSweepInterval,
		Run: func(ctx context.Context) error {
			n, err := devicesSvc.SweepOffline(ctx)
			if n > 0 {
				log.WithField("count", n).Info("marked devices offline")
			}
			return err
		},
	})
	sched.Register(scheduler.Job{
		Name:     "reading-retention",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			_, err := readingsSvc.DeleteOlderThan(ctx, time.Now().UTC().Add(-cfg.ReadingRetention))
			return err
		},
	})
	sched.Register(scheduler.Job{
		Name:     "tombstone-purge",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			_, err := devicesSvc.PermanentlyDeleteExpired(ctx)
			return err
		},
	})
	sched.Register(scheduler.Job{
		Name:     "report-expiry",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			_, err := reportsSvc.SweepExpired(ctx)
			return err
		},
	})
	sched.Start(ctx)
	defer sched.Stop()

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()

	fmt.Println(green("puretrack-api"), "listening on", yellow(cfg.ListenAddr), "metrics on", yellow(cfg.MetricsAddr))

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("http server stopped")
	}
}

func reportFileStore(ctx context.Context, cfg config.APIConfig) (reports.FileStore, error) {
	if cfg.ObjectBucket != "" {
		return reports.NewGCSFileStore(ctx, cfg.ObjectBucket)
	}
	return reports.NewFSFileStore(cfg.LocalDir)
}
