package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	perr "github.com/Buchi-dev/puretrack/internal/errors"
	"github.com/Buchi-dev/puretrack/internal/models"
	"github.com/Buchi-dev/puretrack/internal/store"
)

func (s *Server) createReport(w http.ResponseWriter, r *http.Request) error {
	p, err := principalFrom(r.Context())
	if err != nil {
		return err
	}
	var body struct {
		Type       string                 `json:"type"`
		Title      string                 `json:"title"`
		Format     models.ReportFormat    `json:"format"`
		Parameters map[string]interface{} `json:"parameters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return perr.NewValidation("body", "invalid JSON")
	}
	if body.Type == "" {
		return perr.NewValidation("type", "must not be empty")
	}
	if body.Format == "" {
		body.Format = models.FormatCSV
	}

	rep, err := s.reports.Create(r.Context(), body.Type, body.Title, body.Format, body.Parameters, p.UserID)
	if err != nil {
		return err
	}
	created(w, rep)
	return nil
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) error {
	var q reportQuery
	if err := decodeQuery(r, &q); err != nil {
		return perr.NewValidation("query", err.Error())
	}
	page, limit := pageLimit(q.Page, q.Limit, 20, 100)

	filter := store.ReportFilter{Type: q.Type, Status: models.ReportStatus(q.Status), GeneratedBy: q.GeneratedBy}
	reps, total, err := s.reports.List(r.Context(), filter, page, limit)
	if err != nil {
		return err
	}
	okPage(w, reps, page, limit, total)
	return nil
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) error {
	rep, err := s.reports.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	ok(w, rep)
	return nil
}

func (s *Server) downloadReport(w http.ResponseWriter, r *http.Request) error {
	data, file, err := s.reports.Download(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, file.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	return nil
}

func (s *Server) deleteReport(w http.ResponseWriter, r *http.Request) error {
	if err := s.reports.Delete(r.Context(), r.PathValue("id")); err != nil {
		return err
	}
	okMessage(w, "report deleted", nil)
	return nil
}

func (s *Server) deleteExpiredReports(w http.ResponseWriter, r *http.Request) error {
	n, err := s.reports.SweepExpired(r.Context())
	if err != nil {
		return err
	}
	okMessage(w, "expired reports deleted", map[string]int{"deleted": n})
	return nil
}

func (s *Server) reportStatistics(w http.ResponseWriter, r *http.Request) error {
	stats, err := s.reports.Statistics(r.Context())
	if err != nil {
		return err
	}
	ok(w, stats)
	return nil
}
