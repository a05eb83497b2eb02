// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/curioproject/curio/internal/logging"
	"github.com/curioproject/curio/internal/metrics"
	"github.com/curioproject/curio/internal/models"
)

// ProvenanceForRecord lists the provenance rows behind one catalog record.
func (s *Store) ProvenanceForRecord(ctx context.Context, recordID uuid.UUID) ([]models.ProvenanceRecord, error) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id::VARCHAR, record_id::VARCHAR, provider, provider_id, raw_payload,
		       truncation_reason, fetched_at, redacted, redacted_at
		FROM provenance_records
		WHERE record_id = ?
		ORDER BY fetched_at`, recordID.String())
	metrics.ObserveDBQuery("list_for_record", "provenance_records", start, err)
	if err != nil {
		return nil, fmt.Errorf("list provenance: %w", err)
	}
	defer rows.Close()

	var out []models.ProvenanceRecord
	for rows.Next() {
		prov, err := scanProvenance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *prov)
	}
	return out, rows.Err()
}

// RedactOldPayloads replaces raw payloads fetched before the cutoff with the
// redaction marker. Rows are kept; only the payload is destroyed. Returns
// the number of rows redacted.
func (s *Store) RedactOldPayloads(ctx context.Context, cutoff time.Time) (int64, error) {
	start := time.Now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE provenance_records
		SET raw_payload = ?, redacted = TRUE, redacted_at = ?
		WHERE fetched_at < ? AND NOT redacted`,
		[]byte(models.RedactedPayloadMarker), time.Now().UTC(), cutoff.UTC())
	metrics.ObserveDBQuery("redact", "provenance_records", start, err)
	if err != nil {
		return 0, fmt.Errorf("redact payloads: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("redact rows affected: %w", err)
	}
	if n > 0 {
		metrics.ProvenanceRedactions.Add(float64(n))
		logging.Info().Int64("rows", n).Time("cutoff", cutoff).Msg("redacted provenance payloads")
	}
	return n, nil
}

func scanProvenance(row scanner) (*models.ProvenanceRecord, error) {
	var (
		prov             models.ProvenanceRecord
		idStr            string
		recordIDStr      string
		truncationReason sql.NullString
		redactedAt       sql.NullTime
	)

	if err := row.Scan(&idStr, &recordIDStr, &prov.Provider, &prov.ProviderID,
		&prov.RawPayload, &truncationReason, &prov.FetchedAt,
		&prov.Redacted, &redactedAt); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse provenance id: %w", err)
	}
	recordID, err := uuid.Parse(recordIDStr)
	if err != nil {
		return nil, fmt.Errorf("parse provenance record id: %w", err)
	}
	prov.ID = id
	prov.RecordID = recordID
	prov.TruncationReason = nullStringPtr(truncationReason)
	if redactedAt.Valid {
		t := redactedAt.Time.UTC()
		prov.RedactedAt = &t
	}
	return &prov, nil
}
