package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"

	perr "github.com/Buchi-dev/puretrack/internal/errors"
	"github.com/Buchi-dev/puretrack/internal/models"
	"github.com/Buchi-dev/puretrack/internal/store"
	"github.com/Buchi-dev/puretrack/pkg/devices"
)

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) error {
	var q deviceQuery
	if err := decodeQuery(r, &q); err != nil {
		return perr.NewValidation("query", err.Error())
	}
	page, limit := pageLimit(q.Page, q.Limit, 20, 100)

	filter := store.DeviceFilter{
		Status:             models.DeviceStatus(q.Status),
		RegistrationStatus: models.RegistrationStatus(q.RegistrationStatus),
		Search:             q.Search,
		IsRegistered:       optionalBool(r.URL.Query(), "isRegistered"),
	}
	devices, total, err := s.devices.List(r.Context(), filter, page, limit)
	if err != nil {
		return err
	}
	okPage(w, devices, page, limit, total)
	return nil
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) error {
	d, err := s.devices.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	ok(w, d)
	return nil
}

func (s *Server) registerDevice(w http.ResponseWriter, r *http.Request) error {
	var d models.Device
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		return perr.NewValidation("body", "invalid JSON")
	}
	registered, err := s.devices.Register(r.Context(), &d)
	if err != nil {
		return err
	}
	created(w, registered)
	return nil
}

func (s *Server) approveDevice(w http.ResponseWriter, r *http.Request) error {
	var body struct {
		FirmwareVersion string `json:"firmwareVersion"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	extra := map[string]string{}
	if body.FirmwareVersion != "" {
		extra["firmwareVersion"] = body.FirmwareVersion
	}
	d, err := s.devices.Approve(r.Context(), r.PathValue("deviceId"), extra)
	if err != nil {
		return err
	}
	ok(w, d)
	return nil
}

// devicePatchableFields is the mutable-metadata subset of a Device that PATCH
// exposes to a JSON Merge Patch (RFC 7396) body; fields outside this set
// (registration state, status, timestamps) are never reachable through it.
type devicePatchableFields struct {
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	FirmwareVersion string          `json:"firmwareVersion"`
	MACAddress      string          `json:"macAddress"`
	IPAddress       string          `json:"ipAddress"`
	Sensors         []string        `json:"sensors"`
	Location        models.Location `json:"location"`
}

// patchDevice applies a JSON Merge Patch to a device's mutable metadata: the
// current fields are marshalled, merged with the request body per RFC 7396,
// then unmarshalled back into a concrete patch rather than hand-rolling a
// field-by-field diff.
func (s *Server) patchDevice(w http.ResponseWriter, r *http.Request) error {
	current, err := s.devices.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}

	original, err := json.Marshal(devicePatchableFields{
		Name: current.Name, Type: current.Type, FirmwareVersion: current.FirmwareVersion,
		MACAddress: current.MACAddress, IPAddress: current.IPAddress,
		Sensors: current.Sensors, Location: current.Location,
	})
	if err != nil {
		return fmt.Errorf("marshaling current device metadata: %w", err)
	}

	patchDoc, err := io.ReadAll(r.Body)
	if err != nil {
		return perr.NewValidation("body", "could not read request body")
	}
	merged, err := jsonpatch.MergePatch(original, patchDoc)
	if err != nil {
		return perr.NewValidation("body", "invalid JSON merge patch: "+err.Error())
	}

	var next devicePatchableFields
	if err := json.Unmarshal(merged, &next); err != nil {
		return perr.NewValidation("body", "invalid JSON")
	}

	patch := devices.DevicePatch{
		Name: &next.Name, Type: &next.Type, FirmwareVersion: &next.FirmwareVersion,
		MACAddress: &next.MACAddress, IPAddress: &next.IPAddress,
		Sensors: next.Sensors, Location: &next.Location,
	}
	d, err := s.devices.Update(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		return err
	}
	ok(w, d)
	return nil
}

func (s *Server) updateDeviceStatus(w http.ResponseWriter, r *http.Request) error {
	var body struct {
		Status models.DeviceStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return perr.NewValidation("body", "invalid JSON")
	}
	if body.Status != models.DeviceOnline && body.Status != models.DeviceOffline {
		return perr.NewValidation("status", "must be online or offline")
	}
	if err := s.devices.UpdateDeviceStatus(r.Context(), r.PathValue("deviceId"), body.Status); err != nil {
		return err
	}
	okMessage(w, "status updated", nil)
	return nil
}

func (s *Server) sendDeviceCommand(w http.ResponseWriter, r *http.Request) error {
	var body struct {
		Command string                 `json:"command"`
		Payload map[string]interface{} `json:"payload"`
		Data    map[string]interface{} `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return perr.NewValidation("body", "invalid JSON")
	}
	if body.Command == "" {
		return perr.NewValidation("command", "must not be empty")
	}
	payload := body.Payload
	if payload == nil {
		payload = body.Data
	}
	if err := s.devices.SendCommand(r.Context(), r.PathValue("deviceId"), body.Command, payload); err != nil {
		return err
	}
	okMessage(w, "command sent", nil)
	return nil
}

// sendNowDevice is the staff-facing convenience alias for command dispatch
// named in §6 ("send-now"): it always sends the "read-now" command with no
// payload.
func (s *Server) sendNowDevice(w http.ResponseWriter, r *http.Request) error {
	if err := s.devices.SendCommand(r.Context(), r.PathValue("deviceId"), "read-now", nil); err != nil {
		return err
	}
	okMessage(w, "read-now command sent", nil)
	return nil
}

func (s *Server) recoverDevice(w http.ResponseWriter, r *http.Request) error {
	if err := s.devices.Recover(r.Context(), r.PathValue("id")); err != nil {
		return err
	}
	okMessage(w, "device recovered", nil)
	return nil
}

func (s *Server) deleteDevice(w http.ResponseWriter, r *http.Request) error {
	if err := s.devices.SoftDelete(r.Context(), r.PathValue("id")); err != nil {
		return err
	}
	okMessage(w, "device deleted", nil)
	return nil
}

type deletedDeviceView struct {
	*models.Device
	RemainingDays int `json:"remainingDays"`
}

func (s *Server) listDeletedDevices(w http.ResponseWriter, r *http.Request) error {
	var q pagination
	if err := decodeQuery(r, &q); err != nil {
		return perr.NewValidation("query", err.Error())
	}
	page, limit := pageLimit(q.Page, q.Limit, 20, 100)

	devices, total, err := s.devices.List(r.Context(), store.DeviceFilter{OnlyDeleted: true}, page, limit)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	views := make([]deletedDeviceView, 0, len(devices))
	for _, d := range devices {
		remaining := 0
		if d.ScheduledPermanentDeletionAt != nil {
			remaining = int(d.ScheduledPermanentDeletionAt.Sub(now).Hours() / 24)
			if remaining < 0 {
				remaining = 0
			}
		}
		views = append(views, deletedDeviceView{Device: d, RemainingDays: remaining})
	}
	okPage(w, views, page, limit, total)
	return nil
}

func (s *Server) deviceStats(w http.ResponseWriter, r *http.Request) error {
	stats, err := s.devices.Statistics(r.Context())
	if err != nil {
		return err
	}
	ok(w, stats)
	return nil
}

func (s *Server) pendingDevices(w http.ResponseWriter, r *http.Request) error {
	var q pagination
	if err := decodeQuery(r, &q); err != nil {
		return perr.NewValidation("query", err.Error())
	}
	page, limit := pageLimit(q.Page, q.Limit, 20, 100)

	devices, total, err := s.devices.List(r.Context(), store.DeviceFilter{RegistrationStatus: models.RegistrationPending}, page, limit)
	if err != nil {
		return err
	}
	okPage(w, devices, page, limit, total)
	return nil
}

func (s *Server) checkOffline(w http.ResponseWriter, r *http.Request) error {
	n, err := s.devices.SweepOffline(r.Context())
	if err != nil {
		return err
	}
	okMessage(w, "offline sweep complete", map[string]int{"transitioned": n})
	return nil
}
