/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/slotplanner/internal/auth"
	"github.com/friendsincode/slotplanner/internal/failure"
	"github.com/friendsincode/slotplanner/internal/scheduling"
	"github.com/friendsincode/slotplanner/internal/store"
)

// API exposes HTTP handlers.
type API struct {
	db        *gorm.DB
	engine    *scheduling.Engine
	store     *store.Store
	jwtSecret []byte
	logger    zerolog.Logger
}

// New constructs the API. An empty jwtSecret disables authentication.
func New(db *gorm.DB, engine *scheduling.Engine, st *store.Store, jwtSecret []byte, logger zerolog.Logger) *API {
	return &API{
		db:        db,
		engine:    engine,
		store:     st,
		jwtSecret: jwtSecret,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers API routes on the provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.jwtSecret))

			pr.With(auth.RequireScope(auth.ScopeSchedule)).Post("/schedule", a.handleSchedule)

			pr.Group(func(rr chi.Router) {
				rr.Use(auth.RequireScope(auth.ScopeRead))
				rr.Get("/quota/{date}", a.handleQuotaStatus)
				rr.Get("/warnings", a.handleWarnings)
				rr.Route("/records", func(rec chi.Router) {
					rec.Get("/", a.handleRecordsList)
					rec.Get("/{recordID}", a.handleRecordGet)
				})
			})
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writeFailure reports a classified scheduling error.
func (a *API) writeFailure(w http.ResponseWriter, err error) {
	kind := failure.KindOf(err)
	status := statusForKind(kind)
	message := err.Error()
	if status == http.StatusInternalServerError {
		a.logger.Error().Err(err).Msg("request failed")
		message = "internal error"
	}
	writeJSON(w, status, map[string]string{
		"error_kind": string(kind),
		"message":    message,
	})
}

func statusForKind(kind failure.Kind) int {
	switch kind {
	case failure.InvalidRequest:
		return http.StatusBadRequest
	case failure.SlotCapacityExceeded, failure.DailyCapExceeded,
		failure.TypeCapExceeded, failure.APIBudgetExceeded:
		return http.StatusConflict
	case failure.LockTimeout, failure.NoSlotAvailable:
		return http.StatusServiceUnavailable
	case failure.PublisherError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
