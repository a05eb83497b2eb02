// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

package search

import "testing"

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "Blade Runner", "blade runner"},
		{"diacritics", "Amélie", "amelie"},
		{"punctuation", "Do Androids Dream of Electric Sheep?", "do androids dream of electric sheep"},
		{"whitespace collapse", "  The   Matrix  ", "the matrix"},
		{"colon subtitle", "Blade Runner: The Final Cut", "blade runner the final cut"},
		{"fullwidth", "ＯＫ Ｃｏｍｐｕｔｅｒ", "ok computer"},
		{"empty", "", ""},
		{"only punctuation", "?!...", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeTitle(tt.in); got != tt.want {
				t.Errorf("NormalizeTitle(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeTitleDeterministic(t *testing.T) {
	in := "Léon: The Professional"
	first := NormalizeTitle(in)
	for i := 0; i < 100; i++ {
		if got := NormalizeTitle(in); got != first {
			t.Fatalf("iteration %d: %q != %q", i, got, first)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	if got := normalizeURL("https://example.com/x/"); got != "https://example.com/x" {
		t.Errorf("normalizeURL = %q", got)
	}
	if got := normalizeURL(" https://example.com "); got != "https://example.com" {
		t.Errorf("normalizeURL = %q", got)
	}
}
