// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

// Package validation validates API request bodies with go-playground/validator.
//
// A single validator is shared by the process so struct metadata is parsed
// once. Errors name the JSON field rather than the Go field:
//
//	var req models.CreateMatchRequest
//	if err := validation.ValidateStruct(&req); err != nil {
//	    var verr *validation.RequestValidationError
//	    errors.As(err, &verr)
//	    apiErr := verr.ToAPIError() // code VALIDATION_ERROR, details per field
//	}
//
// RequestValidationError matches models.ErrValidation with errors.Is, so the
// CRUD client and the API share one taxonomy.
package validation
