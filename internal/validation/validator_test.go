// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

package validation

import (
	"strings"
	"testing"
)

type sampleRequest struct {
	Query    string `validate:"required,min=1,max=256"`
	Kind     string `validate:"omitempty,oneof=movie show book game album"`
	PageSize int    `validate:"min=1,max=100"`
}

func TestValidateStructPasses(t *testing.T) {
	req := sampleRequest{Query: "blade runner", Kind: "movie", PageSize: 20}
	if err := ValidateStruct(&req); err != nil {
		t.Fatalf("expected valid struct, got %v", err)
	}
}

func TestValidateStructRequired(t *testing.T) {
	req := sampleRequest{PageSize: 20}
	err := ValidateStruct(&req)
	if err == nil {
		t.Fatal("expected validation error for missing Query")
	}

	apiErr := err.ToAPIError()
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR code, got %q", apiErr.Code)
	}
	if !strings.Contains(apiErr.Message, "Query is required") {
		t.Errorf("unexpected message: %q", apiErr.Message)
	}
}

func TestValidateStructOneOf(t *testing.T) {
	req := sampleRequest{Query: "dune", Kind: "podcast", PageSize: 20}
	err := ValidateStruct(&req)
	if err == nil {
		t.Fatal("expected validation error for invalid kind")
	}
	if !strings.Contains(err.Error(), "must be one of") {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestValidateStructMultipleErrors(t *testing.T) {
	req := sampleRequest{Query: "", PageSize: 500}
	err := ValidateStruct(&req)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	if len(err.Errors()) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(err.Errors()), err)
	}

	apiErr := err.ToAPIError()
	if _, ok := apiErr.Details["fields"]; !ok {
		t.Error("expected fields detail for multiple errors")
	}
}

func TestValidateStructMaxString(t *testing.T) {
	req := sampleRequest{Query: strings.Repeat("x", 300), PageSize: 20}
	err := ValidateStruct(&req)
	if err == nil {
		t.Fatal("expected validation error for oversized query")
	}
	if !strings.Contains(err.Error(), "at most 256 characters") {
		t.Errorf("unexpected message: %q", err.Error())
	}
}
