/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/slotplanner/internal/failure"
	"github.com/friendsincode/slotplanner/internal/models"
	"github.com/friendsincode/slotplanner/internal/scheduling"
	"github.com/friendsincode/slotplanner/internal/slotpolicy"
	"github.com/friendsincode/slotplanner/internal/store"
)

type scheduleRequest struct {
	ItemID        string            `json:"item_id"`
	ItemType      string            `json:"item_type"`
	PreferredTime *time.Time        `json:"preferred_time,omitempty"`
	Force         bool              `json:"force,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type scheduleResponse struct {
	RecordID      string    `json:"record_id"`
	ScheduledTime time.Time `json:"scheduled_time"`
	ExternalID    string    `json:"external_id"`
}

func (a *API) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeFailure(w, failure.Wrap(failure.InvalidRequest, "invalid json body", err))
		return
	}

	res, err := a.engine.Schedule(r.Context(), scheduling.Request{
		ItemID:        req.ItemID,
		ItemType:      req.ItemType,
		PreferredTime: req.PreferredTime,
		Force:         req.Force,
		Metadata:      req.Metadata,
	})
	if err != nil {
		a.writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, scheduleResponse{
		RecordID:      res.RecordID,
		ScheduledTime: res.ScheduledTime.UTC(),
		ExternalID:    res.ExternalID,
	})
}

func (a *API) handleQuotaStatus(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if date == "today" {
		date = a.engine.Today()
	}

	status, err := a.engine.QuotaStatus(r.Context(), date)
	if err != nil {
		a.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) handleWarnings(w http.ResponseWriter, r *http.Request) {
	warnings, err := a.engine.Warnings(r.Context())
	if err != nil {
		a.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"warnings": warnings})
}

func (a *API) handleRecordGet(w http.ResponseWriter, r *http.Request) {
	rec, err := a.store.Get(a.db.WithContext(r.Context()), chi.URLParam(r, "recordID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "record_not_found")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("get record failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleRecordsList(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" || date == "today" {
		date = a.engine.Today()
	}
	if _, err := time.Parse(slotpolicy.DateLayout, date); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date")
		return
	}

	recs, err := a.store.ListByDate(a.db.WithContext(r.Context()), date)
	if err != nil {
		a.logger.Error().Err(err).Msg("list records failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if recs == nil {
		recs = []models.ScheduleRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "records": recs})
}
