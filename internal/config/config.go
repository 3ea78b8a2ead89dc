// Package config assembles each binary's configuration from a YAML file
// layered under command-line flags, the same file-then-flags precedence the
// teacher's own configuration loader applies.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

// Common holds settings shared by every PureTrack binary.
type Common struct {
	ConfigFile  string `short:"c" long:"config" description:"path to a YAML config file" env:"PURETRACK_CONFIG"`
	LogLevel    string `long:"log-level" description:"logrus level" default:"info" env:"PURETRACK_LOG_LEVEL"`
	LogJSON     bool   `long:"log-json" description:"emit structured JSON logs" env:"PURETRACK_LOG_JSON"`
	DatabaseDSN string `long:"database-dsn" description:"sqlite DSN, e.g. file:puretrack.db?_journal=WAL" default:"file:puretrack.db?_journal=WAL&_fk=1" env:"PURETRACK_DATABASE_DSN"`
	ObjectBucket string `long:"object-bucket" description:"GCS bucket for report artifacts; empty uses local-dir" env:"PURETRACK_REPORT_BUCKET"`
	LocalDir     string `long:"local-dir" default:"./data/reports" description:"used when object-bucket is empty"`
}

// APIConfig configures cmd/puretrack-api.
type APIConfig struct {
	Common       `yaml:",inline"`
	ListenAddr   string        `long:"listen-addr" default:":8080" env:"PURETRACK_LISTEN_ADDR"`
	MetricsAddr  string        `long:"metrics-addr" default:":9090" env:"PURETRACK_METRICS_ADDR"`
	RequestTimeout time.Duration `long:"request-timeout" default:"30s"`
	OfflineThreshold time.Duration `long:"offline-threshold" default:"5m"`
	OfflineSweepInterval time.Duration `long:"offline-sweep-interval" default:"60s"`
	ReadingRetention time.Duration `long:"reading-retention" default:"2160h"` // 90 days
	ReportRetention  time.Duration `long:"report-retention" default:"720h"`   // 30 days
	RecoveryWindow   time.Duration `long:"recovery-window" default:"720h"`    // 30 days
	RealtimeJWTSecret string       `long:"realtime-jwt-secret" description:"verification key for /ws bearer tokens; empty disables verification" env:"PURETRACK_REALTIME_JWT_SECRET"`
}

// BridgeConfig configures cmd/puretrack-bridge.
type BridgeConfig struct {
	Common          `yaml:",inline"`
	BrokerURL       string        `long:"broker-url" default:"mqtt://localhost:1883" env:"PURETRACK_BROKER_URL"`
	ClientID        string        `long:"client-id" default:"puretrack-bridge"`
	MessageDeadline time.Duration `long:"message-deadline" default:"10s"`
	CircuitBreakerThreshold float64 `long:"circuit-breaker-threshold" default:"0.5"`
	MetricsAddr     string        `long:"metrics-addr" default:":9091" env:"PURETRACK_METRICS_ADDR"`
}

// ReportWorkerConfig configures cmd/puretrack-report-worker.
type ReportWorkerConfig struct {
	Common       `yaml:",inline"`
	Concurrency  int           `long:"concurrency" default:"4"`
	PollInterval time.Duration `long:"poll-interval" default:"2s"`
	MetricsAddr  string        `long:"metrics-addr" default:":9092" env:"PURETRACK_METRICS_ADDR"`
}

// Load parses flags (and env, via the struct tags) into cfg, then — if a
// config file was named — unmarshals YAML into cfg first so flags/env can
// still override file values on a second parse pass.
func Load(cfg interface{}, args []string) error {
	parser := flags.NewParser(cfg, flags.Default)

	// First pass: just to discover --config without requiring every other
	// flag, mirroring the teacher's own two-pass config.go loader.
	probe := &struct {
		ConfigFile string `short:"c" long:"config"`
	}{}
	probeParser := flags.NewParser(probe, flags.IgnoreUnknown)
	if _, err := probeParser.ParseArgs(args); err != nil {
		return fmt.Errorf("probing config flag: %w", err)
	}

	if probe.ConfigFile != "" {
		data, err := os.ReadFile(probe.ConfigFile)
		if err != nil {
			return fmt.Errorf("reading config file %s: %w", probe.ConfigFile, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing config file %s: %w", probe.ConfigFile, err)
		}
	}

	if _, err := parser.ParseArgs(args); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}
	return nil
}
