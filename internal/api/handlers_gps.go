// Herdmap - Cattle Farm Monitoring and Live Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herdmap

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/herdmap/internal/logging"
	"github.com/tomtom215/herdmap/internal/metrics"
	"github.com/tomtom215/herdmap/internal/models"
)

// IngestLocation handles POST /api/v1/gps, the collar-facing ingestion
// endpoint.
//
// Processing order is fixed: validate, append to history, upsert current
// position, publish to the broadcast channel. Only a failed history append
// fails the request; a failed upsert or publish after a durable append is
// logged and the device still gets success, so collars never re-send a
// report the history already holds. A report older than the stored current
// position lands in history but is not broadcast.
func (h *Handler) IngestLocation(w http.ResponseWriter, r *http.Request) {
	var report models.LocationReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		metrics.RecordIngest("rejected")
		respondIngest(w, http.StatusBadRequest, models.IngestResponse{
			Success: false,
			Error:   "Invalid JSON body",
		})
		return
	}

	if report.Latitude == nil || report.Longitude == nil {
		metrics.RecordIngest("rejected")
		respondIngest(w, http.StatusBadRequest, models.IngestResponse{
			Success: false,
			Error:   "Missing coordinates",
		})
		return
	}

	if apiErr := validateRequest(&report); apiErr != nil {
		metrics.RecordIngest("rejected")
		respondIngest(w, http.StatusBadRequest, models.IngestResponse{
			Success: false,
			Error:   apiErr.Message,
		})
		return
	}

	receivedAt := time.Now().UTC()
	recordedAt := receivedAt
	if report.RecordedAt != nil {
		recordedAt = report.RecordedAt.UTC()
	}

	id, err := h.db.InsertLocationHistory(r.Context(), &report, recordedAt, receivedAt)
	if err != nil {
		metrics.RecordIngest("failed")
		logging.Error().Err(err).Msg("History append failed")
		respondIngest(w, http.StatusInternalServerError, models.IngestResponse{
			Success: false,
			Error:   "Database error",
		})
		return
	}

	// The report is durable from here on. Upsert and publish failures are
	// contained so the device does not retry an already-stored report.
	applied, err := h.db.UpsertCurrentLocation(r.Context(), &report, recordedAt)
	if err != nil {
		logging.Warn().Err(err).
			Str("entity_key", string(report.EntityKey())).
			Int64("history_id", id).
			Msg("Current position upsert failed, history row is durable")
	}

	// A stale report never reaches live consumers: the broadcast payload
	// mirrors the current position, which the upsert left untouched.
	if applied || err != nil {
		update := models.UpdateFromReport(&report, recordedAt)
		if err := h.broadcaster.Publish(update); err != nil {
			logging.Warn().Err(err).
				Str("entity_key", string(update.EntityKey)).
				Msg("Broadcast publish failed, stored report unaffected")
		}
	} else {
		logging.Debug().
			Str("entity_key", string(report.EntityKey())).
			Time("recorded_at", recordedAt).
			Msg("Stale report stored to history only, broadcast skipped")
	}

	metrics.RecordIngest("accepted")
	respondIngest(w, http.StatusOK, models.IngestResponse{
		Success: true,
		ID:      id,
	})
}

// Locations handles GET /api/v1/locations: the latest known position per
// entity, most recently recorded first.
func (h *Handler) Locations(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	positions, err := h.db.GetCurrentLocations(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to load current locations", err)
		return
	}
	if positions == nil {
		positions = []models.CurrentPosition{}
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Success: true,
		Data:    positions,
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

// LocationHistory handles GET /api/v1/gps?limit=N: recent history rows,
// newest first.
func (h *Handler) LocationHistory(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	limit := getIntParam(r, "limit", h.config.API.DefaultPageSize)
	limit = clampLimit(limit, h.config.API.MaxPageSize)

	records, err := h.db.GetLocationHistory(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to load location history", err)
		return
	}
	if records == nil {
		records = []models.HistoryRecord{}
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Success: true,
		Data:    records,
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}
