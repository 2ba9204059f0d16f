// Herdmap - Cattle Farm Monitoring and Live Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herdmap

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/herdmap/internal/metrics"
	"github.com/tomtom215/herdmap/internal/models"
)

// InsertLocationHistory appends one report to location_history and returns
// the generated row id. History rows are never updated or deleted.
func (db *DB) InsertLocationHistory(ctx context.Context, r *models.LocationReport, recordedAt, receivedAt time.Time) (int64, error) {
	start := time.Now()

	const query = `
		INSERT INTO location_history (
			animal_id, collar_id, latitude, longitude,
			altitude_meters, accuracy_meters, speed_kmh, heading_degrees,
			battery_level, signal_quality, temperature_celsius,
			recorded_at, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`

	var id int64
	err := db.conn.QueryRowContext(ctx, query,
		r.AnimalID, r.CollarID, *r.Latitude, *r.Longitude,
		r.AltitudeMeters, r.AccuracyMeters, r.SpeedKmh, r.HeadingDegrees,
		r.BatteryLevel, r.SignalQuality, r.TemperatureCelsius,
		recordedAt, receivedAt,
	).Scan(&id)

	metrics.RecordDBQuery("insert", "location_history", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to insert location history: %w", err)
	}

	return id, nil
}

// UpsertCurrentLocation writes the latest position for the report's entity
// key. An existing row is overwritten only when the incoming recorded_at is
// not older than the stored one, so delayed uplinks cannot regress the
// current position. Equal timestamps overwrite, keeping retries idempotent.
//
// The returned bool reports whether the row was written. False means the
// report was stale and the stored position is newer; callers must not fan
// the stale report out as a live update.
func (db *DB) UpsertCurrentLocation(ctx context.Context, r *models.LocationReport, recordedAt time.Time) (bool, error) {
	start := time.Now()

	const query = `
		INSERT INTO current_locations (
			entity_key, animal_id, collar_id, latitude, longitude,
			battery_level, signal_quality, temperature_celsius,
			recorded_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (entity_key) DO UPDATE SET
			animal_id = excluded.animal_id,
			collar_id = excluded.collar_id,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			battery_level = excluded.battery_level,
			signal_quality = excluded.signal_quality,
			temperature_celsius = excluded.temperature_celsius,
			recorded_at = excluded.recorded_at,
			updated_at = now()
		WHERE excluded.recorded_at >= current_locations.recorded_at`

	result, err := db.conn.ExecContext(ctx, query,
		string(r.EntityKey()), r.AnimalID, r.CollarID, *r.Latitude, *r.Longitude,
		r.BatteryLevel, r.SignalQuality, r.TemperatureCelsius,
		recordedAt,
	)

	metrics.RecordDBQuery("upsert", "current_locations", time.Since(start), err)
	if err != nil {
		return false, fmt.Errorf("failed to upsert current location: %w", err)
	}

	if rows, raErr := result.RowsAffected(); raErr == nil && rows == 0 {
		metrics.IngestUpsertConflicts.Inc()
		return false, nil
	}

	return true, nil
}

// GetCurrentLocations returns the latest position per entity, ordered by
// recorded_at descending. Entities present in history but missing from
// current_locations are filled in from their newest history row, so the
// snapshot survives a lost or rebuilt current_locations table.
func (db *DB) GetCurrentLocations(ctx context.Context) ([]models.CurrentPosition, error) {
	start := time.Now()

	const query = `
		SELECT entity_key, animal_id, collar_id, latitude, longitude,
		       battery_level, signal_quality, temperature_celsius,
		       recorded_at, updated_at
		FROM current_locations
		UNION ALL
		SELECT entity_key, animal_id, collar_id, latitude, longitude,
		       battery_level, signal_quality, temperature_celsius,
		       recorded_at, received_at AS updated_at
		FROM (
			SELECT *, ROW_NUMBER() OVER (
				PARTITION BY entity_key ORDER BY recorded_at DESC, id DESC
			) AS rn
			FROM (
				SELECT id, animal_id, collar_id, latitude, longitude,
				       battery_level, signal_quality, temperature_celsius,
				       recorded_at, received_at,
				       CASE
				           WHEN animal_id IS NOT NULL THEN 'animal:' || animal_id
				           WHEN collar_id IS NOT NULL THEN 'collar:' || collar_id
				           ELSE 'unattributed'
				       END AS entity_key
				FROM location_history
			)
		)
		WHERE rn = 1
		  AND entity_key NOT IN (SELECT entity_key FROM current_locations)
		ORDER BY recorded_at DESC`

	rows, err := db.conn.QueryContext(ctx, query)
	metrics.RecordDBQuery("select", "current_locations", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to query current locations: %w", err)
	}
	defer rows.Close()

	var positions []models.CurrentPosition
	for rows.Next() {
		var p models.CurrentPosition
		var key string
		if err := rows.Scan(
			&key, &p.AnimalID, &p.CollarID, &p.Latitude, &p.Longitude,
			&p.BatteryLevel, &p.SignalQuality, &p.TemperatureCelsius,
			&p.RecordedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan current location: %w", err)
		}
		p.EntityKey = models.EntityKey(key)
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate current locations: %w", err)
	}

	return positions, nil
}

// GetLocationHistory returns the newest history rows, limited to limit.
func (db *DB) GetLocationHistory(ctx context.Context, limit int) ([]models.HistoryRecord, error) {
	start := time.Now()

	const query = `
		SELECT id, animal_id, collar_id, latitude, longitude,
		       altitude_meters, accuracy_meters, speed_kmh, heading_degrees,
		       battery_level, signal_quality, temperature_celsius,
		       recorded_at, received_at
		FROM location_history
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?`

	rows, err := db.conn.QueryContext(ctx, query, limit)
	metrics.RecordDBQuery("select", "location_history", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to query location history: %w", err)
	}
	defer rows.Close()

	var records []models.HistoryRecord
	for rows.Next() {
		var h models.HistoryRecord
		if err := rows.Scan(
			&h.ID, &h.AnimalID, &h.CollarID, &h.Latitude, &h.Longitude,
			&h.AltitudeMeters, &h.AccuracyMeters, &h.SpeedKmh, &h.HeadingDegrees,
			&h.BatteryLevel, &h.SignalQuality, &h.TemperatureCelsius,
			&h.RecordedAt, &h.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		records = append(records, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate location history: %w", err)
	}

	return records, nil
}

// CountHistoryRows returns the number of history rows, used by tests and
// the readiness probe.
func (db *DB) CountHistoryRows(ctx context.Context) (int64, error) {
	var count int64
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM location_history`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count history rows: %w", err)
	}
	return count, nil
}
