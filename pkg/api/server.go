// Package api implements C6, the HTTP query/aggregation surface: a plain
// net/http mux exposing devices, alerts, sensor readings, reports, and
// analytics over the envelope and error-mapping conventions in respond.go
// and middleware.go. No router library — the same framework-free net/http
// style the ingest HTTP/RPC handlers in the wider retrieved corpus use.
package api

import (
	"database/sql"
	"net/http"

	"github.com/Buchi-dev/puretrack/internal/models"
	"github.com/Buchi-dev/puretrack/pkg/alerts"
	"github.com/Buchi-dev/puretrack/pkg/devices"
	"github.com/Buchi-dev/puretrack/pkg/readings"
	"github.com/Buchi-dev/puretrack/pkg/reports"
)

// Server wires C1-C3/C7 services into the HTTP surface. db and brokerConn
// are optional and used only by the health check.
type Server struct {
	readings *readings.Service
	devices  *devices.Service
	alerts   *alerts.Service
	reports  *reports.Service

	db         *sql.DB
	brokerConn brokerConnChecker

	healthCache *healthCache
}

// New builds a Server. db and brokerConn may be nil (health degrades
// gracefully rather than panicking).
func New(readingsSvc *readings.Service, devicesSvc *devices.Service, alertsSvc *alerts.Service, reportsSvc *reports.Service, db *sql.DB, brokerConn brokerConnChecker) *Server {
	return &Server{
		readings:    readingsSvc,
		devices:     devicesSvc,
		alerts:      alertsSvc,
		reports:     reportsSvc,
		db:          db,
		brokerConn:  brokerConn,
		healthCache: newHealthCache(),
	}
}

// Routes returns the mux for /api/v1, ready to be mounted (directly, or
// behind the deployment's own authentication/CORS middleware per the
// Non-goals in §1).
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Devices
	mux.HandleFunc("GET /api/v1/devices", wrap(requireRole(models.RoleStaff, s.listDevices)))
	mux.HandleFunc("GET /api/v1/devices/deleted", wrap(requireRole(models.RoleAdmin, s.listDeletedDevices)))
	mux.HandleFunc("GET /api/v1/devices/stats", wrap(requireRole(models.RoleStaff, s.deviceStats)))
	mux.HandleFunc("GET /api/v1/devices/pending", wrap(requireRole(models.RoleAdmin, s.pendingDevices)))
	mux.HandleFunc("POST /api/v1/devices/check-offline", wrap(requireRole(models.RoleAdmin, s.checkOffline)))
	mux.HandleFunc("POST /api/v1/devices/register", wrap(public(s.registerDevice)))
	mux.HandleFunc("GET /api/v1/devices/{id}", wrap(requireRole(models.RoleStaff, s.getDevice)))
	mux.HandleFunc("PATCH /api/v1/devices/{id}", wrap(requireRole(models.RoleAdmin, s.patchDevice)))
	mux.HandleFunc("POST /api/v1/devices/{id}/recover", wrap(requireRole(models.RoleAdmin, s.recoverDevice)))
	mux.HandleFunc("DELETE /api/v1/devices/{id}", wrap(requireRole(models.RoleAdmin, s.deleteDevice)))
	mux.HandleFunc("PATCH /api/v1/devices/{deviceId}/approve", wrap(requireRole(models.RoleAdmin, s.approveDevice)))
	mux.HandleFunc("PATCH /api/v1/devices/{deviceId}/status", wrap(requireRole(models.RoleAdmin, s.updateDeviceStatus)))
	mux.HandleFunc("POST /api/v1/devices/{deviceId}/command", wrap(requireRole(models.RoleAdmin, s.sendDeviceCommand)))
	mux.HandleFunc("POST /api/v1/devices/{deviceId}/send-now", wrap(requireRole(models.RoleStaff, s.sendNowDevice)))

	// Alerts
	mux.HandleFunc("GET /api/v1/alerts", wrap(requireRole(models.RoleStaff, s.listAlerts)))
	mux.HandleFunc("GET /api/v1/alerts/statistics", wrap(requireRole(models.RoleStaff, s.alertStatistics)))
	mux.HandleFunc("GET /api/v1/alerts/unacknowledged/count", wrap(requireRole(models.RoleStaff, s.unacknowledgedAlertCount)))
	mux.HandleFunc("GET /api/v1/alerts/device/{deviceId}", wrap(requireRole(models.RoleStaff, s.alertsByDevice)))
	mux.HandleFunc("PATCH /api/v1/alerts/resolve-all", wrap(requireRole(models.RoleStaff, s.resolveAllAlerts)))
	mux.HandleFunc("PATCH /api/v1/alerts/{id}/acknowledge", wrap(requireRole(models.RoleStaff, s.acknowledgeAlert)))
	mux.HandleFunc("PATCH /api/v1/alerts/{id}/resolve", wrap(requireRole(models.RoleStaff, s.resolveAlert)))
	mux.HandleFunc("DELETE /api/v1/alerts/{id}", wrap(requireRole(models.RoleAdmin, s.deleteAlert)))

	// Sensor readings
	mux.HandleFunc("GET /api/v1/sensor-readings", wrap(requireRole(models.RoleStaff, s.listReadings)))
	mux.HandleFunc("GET /api/v1/sensor-readings/statistics", wrap(requireRole(models.RoleStaff, s.readingStatistics)))
	mux.HandleFunc("GET /api/v1/sensor-readings/aggregated", wrap(requireRole(models.RoleStaff, s.aggregatedReadings)))
	mux.HandleFunc("GET /api/v1/sensor-readings/count", wrap(requireRole(models.RoleStaff, s.readingCount)))
	mux.HandleFunc("POST /api/v1/sensor-readings", wrap(public(s.insertReading)))
	mux.HandleFunc("POST /api/v1/sensor-readings/bulk", wrap(requireRole(models.RoleAdmin, s.bulkInsertReadings)))
	mux.HandleFunc("DELETE /api/v1/sensor-readings/old", wrap(requireRole(models.RoleAdmin, s.deleteOldReadings)))

	// Reports
	mux.HandleFunc("POST /api/v1/reports", wrap(requireRole(models.RoleStaff, s.createReport)))
	mux.HandleFunc("GET /api/v1/reports", wrap(requireRole(models.RoleStaff, s.listReports)))
	mux.HandleFunc("GET /api/v1/reports/statistics", wrap(requireRole(models.RoleStaff, s.reportStatistics)))
	mux.HandleFunc("DELETE /api/v1/reports/expired", wrap(requireRole(models.RoleAdmin, s.deleteExpiredReports)))
	mux.HandleFunc("GET /api/v1/reports/{id}", wrap(requireAuth(s.getReport)))
	mux.HandleFunc("GET /api/v1/reports/{id}/download", wrap(requireAuth(s.downloadReport)))
	mux.HandleFunc("DELETE /api/v1/reports/{id}", wrap(requireRole(models.RoleAdmin, s.deleteReport)))

	// Analytics
	mux.HandleFunc("GET /api/v1/analytics/summary", wrap(requireRole(models.RoleStaff, s.analyticsSummary)))
	mux.HandleFunc("GET /api/v1/analytics/trends", wrap(requireRole(models.RoleStaff, s.analyticsTrends)))
	mux.HandleFunc("GET /api/v1/analytics/parameters", wrap(requireRole(models.RoleStaff, s.analyticsParameters)))

	// Health
	mux.HandleFunc("GET /api/v1/health", wrap(public(s.health)))

	return mux
}
