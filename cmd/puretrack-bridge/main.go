// Command puretrack-bridge runs C4, the broker bridge: it owns the broker
// session (MQTT in production, an in-process transport for local runs
// without a broker), subscribes to the device topic family, and routes
// inbound sensor/registration/status messages into C1/C2/C3, emitting
// ingested readings to C5 over a shared realtime hub.
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
	"github.com/Buchi-dev/puretrack/pkg/broker"
	"github.com/Buchi-dev/puretrack/pkg/broker/inproc"
	"github.com/Buchi-dev/puretrack/pkg/broker/mqtt"
	"github.com/Buchi-dev/puretrack/pkg/devices"
	"github.com/Buchi-dev/puretrack/pkg/readings"
	"github.com/Buchi-dev/puretrack/pkg/realtime"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

const stripeCount = 16

func main() {
	var cfg config.BridgeConfig
	if err := config.Load(&cfg, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, red("puretrack-bridge: "+err.Error()))
		os.Exit(1)
	}
	logging.Configure(cfg.LogLevel, cfg.LogJSON)
	log := logging.Component("bridge")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.WithError(err).Fatal("opening store")
	}
	defer st.Close()

	hub := realtime.NewHub()
	devicesSvc := devices.New(st.Devices, st.Readings, st.Alerts, nil, hub)
	readingsSvc := readings.New(st.Readings)
	alertsSvc := alerts.New(st.Alerts, alerts.DefaultThresholds(), alerts.DefaultCooldowns(), alerts.NewRetryNotifier(alerts.LogNotifier{}), hub)

	transport := newTransport(cfg)
	bridge := broker.NewBridge(transport, readingsSvc, devicesSvc, alertsSvc, hub, stripeCount)

	if err := bridge.Start(ctx); err != nil {
		log.WithError(err).Fatal("starting bridge")
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()

	fmt.Println(green("puretrack-bridge"), "connected to", yellow(cfg.BrokerURL), "metrics on", yellow(cfg.MetricsAddr))

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := bridge.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("stopping bridge")
	}
	_ = metricsSrv.Shutdown(shutdownCtx)
}

// newTransport selects the MQTT wire transport for a real broker URL, or the
// in-process transport when none is configured — the same substitution
// pkg/broker/inproc exists to support in local runs and tests.
func newTransport(cfg config.BridgeConfig) broker.Transport {
	if cfg.BrokerURL == "" || cfg.BrokerURL == "inproc://local" {
		return inproc.New()
	}
	return mqtt.New(mqtt.Config{
		Addr:      cfg.BrokerURL,
		ClientID:  cfg.ClientID,
		KeepAlive: 30 * time.Second,
	})
}
