// Package logging centralizes the logrus field conventions used across
// PureTrack, following the same "log.WithFields(log.Fields{...})" shape the
// teacher uses throughout its ingest and runtime packages.
package logging

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// Configure sets the package-wide logrus formatter and level. Called once
// from each binary's main().
func Configure(level string, json bool) {
	if json {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	log.SetOutput(os.Stderr)

	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}

// Component returns a logger scoped to the given subsystem, e.g. "bridge",
// "alerts", "api".
func Component(name string) *log.Entry {
	return log.WithField("component", name)
}

// Device returns a logger scoped to a device and subsystem.
func Device(name, deviceID string) *log.Entry {
	return log.WithFields(log.Fields{"component": name, "deviceId": deviceID})
}

// Alert returns a logger scoped to an alert and subsystem.
func Alert(name, alertID, deviceID string) *log.Entry {
	return log.WithFields(log.Fields{"component": name, "alertId": alertID, "deviceId": deviceID})
}
