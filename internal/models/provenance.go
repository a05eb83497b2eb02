// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

package models

import (
	"time"

	"github.com/google/uuid"
)

// RedactedPayloadMarker replaces a provenance raw payload once the retention
// sweep redacts it. The row itself is never deleted; the marker is a valid
// JSON document so downstream consumers keep parsing.
const RedactedPayloadMarker = `{"redacted":true}`

// ProvenanceRecord links a CatalogRecord to the external source it was
// ingested from. (Provider, ProviderID) is globally unique and serves as the
// dedupe key for explicit ingestion.
type ProvenanceRecord struct {
	ID         uuid.UUID `json:"id"`
	RecordID   uuid.UUID `json:"record_id"`
	Provider   string    `json:"provider"`
	ProviderID string    `json:"provider_id"`

	// RawPayload is the verbatim upstream response, size-capped at write
	// time. After the configured retention age it is replaced (not deleted)
	// with RedactedPayloadMarker.
	RawPayload []byte `json:"-"`

	// TruncationReason is set when the raw payload or metadata had to be
	// cut to fit the configured byte caps.
	TruncationReason *string `json:"truncation_reason,omitempty"`

	FetchedAt  time.Time  `json:"fetched_at"`
	Redacted   bool       `json:"redacted"`
	RedactedAt *time.Time `json:"redacted_at,omitempty"`
}
