// Herdmap - Cattle Farm Monitoring and Live Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herdmap

// Package models defines data structures used throughout the Herdmap
// application: GPS location reports, stored positions, broadcast payloads,
// and API responses.
package models

import (
	"fmt"
	"time"
)

// EntityKey identifies the subject of a location report in the current
// position table. Reports are bucketed by animal when an animal id is
// present, by collar when only a collar id is present, and into a single
// shared "unattributed" bucket otherwise.
//
// The string form is the primary key of current_locations:
//
//	animal:<id>   - report carried an animal_id (takes precedence)
//	collar:<id>   - report carried only a collar_id
//	unattributed  - report carried neither
type EntityKey string

// UnattributedKey is the shared bucket for reports with no animal or
// collar id. Successive unattributed reports overwrite each other.
const UnattributedKey EntityKey = "unattributed"

// EntityKeyFor derives the entity key for a report. Animal id wins when
// both ids are present.
func EntityKeyFor(animalID, collarID *int64) EntityKey {
	switch {
	case animalID != nil:
		return EntityKey(fmt.Sprintf("animal:%d", *animalID))
	case collarID != nil:
		return EntityKey(fmt.Sprintf("collar:%d", *collarID))
	default:
		return UnattributedKey
	}
}

// LocationReport is the request body of the GPS ingestion endpoint.
//
// Latitude and longitude are required and validated against WGS84 ranges
// using the validator built-in latitude/longitude tags. Everything else is
// optional telemetry from the collar. RecordedAt defaults to the server
// receive time when the device omits it.
//
// Pointer fields distinguish "absent" from zero values: latitude 0 is a
// real coordinate, battery 0 is a real reading.
type LocationReport struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`

	AnimalID *int64 `json:"animal_id,omitempty" validate:"omitempty,min=1"`
	CollarID *int64 `json:"collar_id,omitempty" validate:"omitempty,min=1"`

	AltitudeMeters     *float64 `json:"altitude_meters,omitempty"`
	AccuracyMeters     *float64 `json:"accuracy_meters,omitempty" validate:"omitempty,min=0"`
	SpeedKmh           *float64 `json:"speed_kmh,omitempty" validate:"omitempty,min=0"`
	HeadingDegrees     *float64 `json:"heading_degrees,omitempty" validate:"omitempty,min=0,max=360"`
	BatteryLevel       *float64 `json:"battery_level,omitempty" validate:"omitempty,min=0,max=100"`
	SignalQuality      *int     `json:"signal_quality,omitempty" validate:"omitempty,min=0,max=100"`
	TemperatureCelsius *float64 `json:"temperature_celsius,omitempty"`

	// RecordedAt is when the device captured the fix (RFC3339).
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
}

// EntityKey derives the current-position bucket for this report.
func (r *LocationReport) EntityKey() EntityKey {
	return EntityKeyFor(r.AnimalID, r.CollarID)
}

// HistoryRecord is one append-only row of location_history. Rows are never
// updated or deleted.
type HistoryRecord struct {
	ID                 int64     `json:"id"`
	AnimalID           *int64    `json:"animal_id,omitempty"`
	CollarID           *int64    `json:"collar_id,omitempty"`
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	AltitudeMeters     *float64  `json:"altitude_meters,omitempty"`
	AccuracyMeters     *float64  `json:"accuracy_meters,omitempty"`
	SpeedKmh           *float64  `json:"speed_kmh,omitempty"`
	HeadingDegrees     *float64  `json:"heading_degrees,omitempty"`
	BatteryLevel       *float64  `json:"battery_level,omitempty"`
	SignalQuality      *int      `json:"signal_quality,omitempty"`
	TemperatureCelsius *float64  `json:"temperature_celsius,omitempty"`
	RecordedAt         time.Time `json:"recorded_at"`
	ReceivedAt         time.Time `json:"received_at"`
}

// CurrentPosition is the latest known position for one entity key, as
// stored in current_locations and returned by the snapshot endpoint.
type CurrentPosition struct {
	EntityKey          EntityKey `json:"entity_key"`
	AnimalID           *int64    `json:"animal_id,omitempty"`
	CollarID           *int64    `json:"collar_id,omitempty"`
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	BatteryLevel       *float64  `json:"battery_level,omitempty"`
	SignalQuality      *int      `json:"signal_quality,omitempty"`
	TemperatureCelsius *float64  `json:"temperature_celsius,omitempty"`
	RecordedAt         time.Time `json:"recorded_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// LocationUpdate is the broadcast payload published after a successful
// ingest and delivered to SSE and WebSocket subscribers. It is transient:
// never persisted, never replayed to late subscribers.
type LocationUpdate struct {
	EntityKey          EntityKey `json:"entity_key"`
	AnimalID           *int64    `json:"animal_id,omitempty"`
	CollarID           *int64    `json:"collar_id,omitempty"`
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	SpeedKmh           *float64  `json:"speed_kmh,omitempty"`
	HeadingDegrees     *float64  `json:"heading_degrees,omitempty"`
	BatteryLevel       *float64  `json:"battery_level,omitempty"`
	SignalQuality      *int      `json:"signal_quality,omitempty"`
	TemperatureCelsius *float64  `json:"temperature_celsius,omitempty"`
	RecordedAt         time.Time `json:"recorded_at"`
}

// UpdateFromReport builds the broadcast payload for an accepted report.
func UpdateFromReport(r *LocationReport, recordedAt time.Time) LocationUpdate {
	return LocationUpdate{
		EntityKey:          r.EntityKey(),
		AnimalID:           r.AnimalID,
		CollarID:           r.CollarID,
		Latitude:           *r.Latitude,
		Longitude:          *r.Longitude,
		SpeedKmh:           r.SpeedKmh,
		HeadingDegrees:     r.HeadingDegrees,
		BatteryLevel:       r.BatteryLevel,
		SignalQuality:      r.SignalQuality,
		TemperatureCelsius: r.TemperatureCelsius,
		RecordedAt:         recordedAt,
	}
}
