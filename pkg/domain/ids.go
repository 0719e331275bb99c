// Package domain holds the validated primitives shared across bounded contexts.
package domain

import (
	"strconv"
	"strings"

	dErrors "enrolld/pkg/domain-errors"
)

const (
	minNationalIDDigits = 7
	maxNationalIDDigits = 9
)

// NationalID is an applicant's DNI: digits only, 7 to 9 of them.
// Separators accepted on input ("30.111.222") are stripped at parse time.
type NationalID string

// ParseNationalID validates and normalizes a DNI.
func ParseNationalID(s string) (NationalID, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "national ID is required")
	}
	if len(trimmed) > 2*maxNationalIDDigits {
		return "", dErrors.New(dErrors.CodeInvalidInput, "national ID is too long")
	}
	var b strings.Builder
	for _, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == ' ':
			continue
		default:
			return "", dErrors.New(dErrors.CodeInvalidInput, "national ID must contain digits only")
		}
	}
	digits := b.String()
	if len(digits) < minNationalIDDigits || len(digits) > maxNationalIDDigits {
		return "", dErrors.New(dErrors.CodeInvalidInput, "national ID must have 7 to 9 digits")
	}
	return NationalID(digits), nil
}

// String returns the normalized digits.
func (n NationalID) String() string {
	return string(n)
}

// IsNil reports whether the ID is empty.
func (n NationalID) IsNil() bool {
	return n == ""
}

// ModalityID identifies an enrollment modality (delivery mode).
type ModalityID int64

// PlanID identifies a plan/year within a modality.
type PlanID int64

// ModuleID identifies an optional module; zero means "none".
type ModuleID int64

// ParseCatalogID parses a positive catalog identifier from form input.
func ParseCatalogID(field, s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || v <= 0 {
		return 0, dErrors.New(dErrors.CodeValidation, field+" must be a positive integer")
	}
	return v, nil
}
