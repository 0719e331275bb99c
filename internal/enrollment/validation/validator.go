// Package validation checks delivered documents against a requirement set.
package validation

import "enrolld/internal/enrollment/models"

// Validate reports which requirements files satisfies. Basic slots are listed
// first in requirement order, followed by the pair label when neither member
// was delivered. When both pair members are present the preferred one is used.
func Validate(reqs models.RequirementSet, files models.FileMap) models.ValidationResult {
	result := models.ValidationResult{
		Satisfied: make([]models.Slot, 0, len(reqs.Basic)+1),
		Missing:   []string{},
	}
	for _, slot := range reqs.Basic {
		if files.Present(slot) {
			result.Satisfied = append(result.Satisfied, slot)
		} else {
			result.Missing = append(result.Missing, string(slot))
		}
	}

	if pair := reqs.Pair; pair != nil {
		switch {
		case files.Present(pair.Preferred):
			result.Satisfied = append(result.Satisfied, pair.Preferred)
			result.UsedAlternative = pair.Preferred
		case files.Present(pair.Alternative):
			result.Satisfied = append(result.Satisfied, pair.Alternative)
			result.UsedAlternative = pair.Alternative
		default:
			result.Missing = append(result.Missing, pair.Label())
		}
	}

	result.Complete = len(result.Missing) == 0
	return result
}

// RequiredFiles narrows files to the slots the result counted as satisfied,
// so an unused pair member is not migrated or committed.
func RequiredFiles(result models.ValidationResult, files models.FileMap) models.FileMap {
	out := make(models.FileMap, len(result.Satisfied))
	for _, slot := range result.Satisfied {
		out[slot] = files[slot]
	}
	return out
}
