// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestParseMediaKind(t *testing.T) {
	for _, kind := range AllMediaKinds {
		parsed, err := ParseMediaKind(string(kind))
		if err != nil {
			t.Errorf("ParseMediaKind(%q) returned error: %v", kind, err)
		}
		if parsed != kind {
			t.Errorf("ParseMediaKind(%q) = %q", kind, parsed)
		}
	}

	if _, err := ParseMediaKind("podcast"); err == nil {
		t.Error("expected error for unknown kind")
	}
	if _, err := ParseMediaKind(""); err == nil {
		t.Error("expected error for empty kind")
	}
}

func TestValidateExtensionExactlyOne(t *testing.T) {
	rec := &CatalogRecord{
		ID:    uuid.New(),
		Kind:  KindMovie,
		Title: "Blade Runner",
		Movie: &MovieExtension{RuntimeMinutes: 117},
	}
	if err := rec.ValidateExtension(); err != nil {
		t.Errorf("expected valid record, got %v", err)
	}

	// No extension at all
	rec.Movie = nil
	if err := rec.ValidateExtension(); err == nil {
		t.Error("expected error for missing extension")
	}

	// Two extensions
	rec.Movie = &MovieExtension{}
	rec.Book = &BookExtension{}
	if err := rec.ValidateExtension(); err == nil {
		t.Error("expected error for two extensions")
	}

	// Extension present but mismatched kind
	rec.Book = nil
	rec.Kind = KindBook
	if err := rec.ValidateExtension(); err == nil {
		t.Error("expected error for kind/extension mismatch")
	}
}

func TestPreviewExpired(t *testing.T) {
	now := time.Now()
	p := &PreviewRecord{ExpiresAt: now.Add(time.Minute)}

	if p.Expired(now) {
		t.Error("preview should not be expired before ExpiresAt")
	}
	if !p.Expired(now.Add(time.Minute)) {
		t.Error("preview should be expired exactly at ExpiresAt")
	}
	if !p.Expired(now.Add(2 * time.Minute)) {
		t.Error("preview should be expired after ExpiresAt")
	}
}
