// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package service

import "errors"

// Outcome is the result class of a page operation.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeNotFound
	OutcomeInvalidArgument
	OutcomeConflict
	OutcomeUnexpected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeInvalidArgument:
		return "invalid_argument"
	case OutcomeConflict:
		return "conflict"
	default:
		return "unexpected"
	}
}

// Classify maps an error returned by PageService to its Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrPageNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrInvalidDraft):
		return OutcomeInvalidArgument
	case errors.Is(err, ErrConflictAfterRetries):
		return OutcomeConflict
	default:
		return OutcomeUnexpected
	}
}
