package api

import (
	"encoding/json"
	"net/http"

	perr "github.com/Buchi-dev/puretrack/internal/errors"
	"github.com/Buchi-dev/puretrack/internal/models"
	"github.com/Buchi-dev/puretrack/internal/store"
)

func alertFilterFrom(r *http.Request, q alertQuery) store.AlertFilter {
	v := r.URL.Query()
	return store.AlertFilter{
		DeviceID:     q.DeviceID,
		Severity:     models.Severity(q.Severity),
		Status:       models.AlertStatus(q.Status),
		Parameter:    models.Channel(q.Parameter),
		Acknowledged: optionalBool(v, "acknowledged"),
		Start:        optionalTime(v, "startDate"),
		End:          optionalTime(v, "endDate"),
	}
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) error {
	var q alertQuery
	if err := decodeQuery(r, &q); err != nil {
		return perr.NewValidation("query", err.Error())
	}
	page, limit := pageLimit(q.Page, q.Limit, 50, 1000)

	alerts, total, err := s.alerts.List(r.Context(), alertFilterFrom(r, q), page, limit)
	if err != nil {
		return err
	}
	okPage(w, alerts, page, limit, total)
	return nil
}

func (s *Server) alertStatistics(w http.ResponseWriter, r *http.Request) error {
	deviceID := r.URL.Query().Get("deviceId")
	stats, err := s.alerts.Statistics(r.Context(), deviceID)
	if err != nil {
		return err
	}
	ok(w, stats)
	return nil
}

func (s *Server) unacknowledgedAlertCount(w http.ResponseWriter, r *http.Request) error {
	unack := false
	filter := store.AlertFilter{Acknowledged: &unack}
	_, total, err := s.alerts.List(r.Context(), filter, 1, 1)
	if err != nil {
		return err
	}
	ok(w, map[string]int{"count": total})
	return nil
}

func (s *Server) alertsByDevice(w http.ResponseWriter, r *http.Request) error {
	var q pagination
	if err := decodeQuery(r, &q); err != nil {
		return perr.NewValidation("query", err.Error())
	}
	page, limit := pageLimit(q.Page, q.Limit, 50, 1000)

	filter := store.AlertFilter{DeviceID: r.PathValue("deviceId")}
	alerts, total, err := s.alerts.List(r.Context(), filter, page, limit)
	if err != nil {
		return err
	}
	okPage(w, alerts, page, limit, total)
	return nil
}

func (s *Server) resolveAllAlerts(w http.ResponseWriter, r *http.Request) error {
	p, err := principalFrom(r.Context())
	if err != nil {
		return err
	}
	var body struct {
		Notes    string `json:"notes"`
		DeviceID string `json:"deviceId"`
		Severity string `json:"severity"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	filter := store.AlertFilter{DeviceID: body.DeviceID, Severity: models.Severity(body.Severity)}
	n, err := s.alerts.ResolveAll(r.Context(), p.UserID, body.Notes, filter)
	if err != nil {
		return err
	}
	okMessage(w, "alerts resolved", map[string]int64{"resolved": n})
	return nil
}

func (s *Server) acknowledgeAlert(w http.ResponseWriter, r *http.Request) error {
	p, err := principalFrom(r.Context())
	if err != nil {
		return err
	}
	alert, err := s.alerts.Acknowledge(r.Context(), r.PathValue("id"), p.UserID)
	if err != nil {
		return err
	}
	ok(w, alert)
	return nil
}

func (s *Server) resolveAlert(w http.ResponseWriter, r *http.Request) error {
	p, err := principalFrom(r.Context())
	if err != nil {
		return err
	}
	var body struct {
		Notes string `json:"resolutionNotes"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	alert, err := s.alerts.Resolve(r.Context(), r.PathValue("id"), p.UserID, body.Notes)
	if err != nil {
		return err
	}
	ok(w, alert)
	return nil
}

func (s *Server) deleteAlert(w http.ResponseWriter, r *http.Request) error {
	if err := s.alerts.SoftDelete(r.Context(), r.PathValue("id")); err != nil {
		return err
	}
	okMessage(w, "alert deleted", nil)
	return nil
}
