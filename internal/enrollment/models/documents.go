package models

import "strings"

// Slot names one required document position.
type Slot string

const (
	SlotPhoto            Slot = "photo"
	SlotID               Slot = "id"
	SlotTaxID            Slot = "tax-id"
	SlotBirthCertificate Slot = "birth-certificate"
	SlotMedicalForm      Slot = "medical-form"

	SlotPriorLevelCertificate Slot = "prior-level-certificate"
	SlotTransferLetter        Slot = "transfer-letter"
	SlotPartialTranscript     Slot = "partial-transcript"
)

// BasicSlots are required for every (modality, plan) combination, in this order.
var BasicSlots = []Slot{SlotPhoto, SlotID, SlotTaxID, SlotBirthCertificate, SlotMedicalForm}

// AllSlots lists every slot the service accepts an upload for.
var AllSlots = []Slot{
	SlotPhoto, SlotID, SlotTaxID, SlotBirthCertificate, SlotMedicalForm,
	SlotPriorLevelCertificate, SlotTransferLetter, SlotPartialTranscript,
}

// ParseSlot returns the slot named s and whether it is known.
func ParseSlot(s string) (Slot, bool) {
	candidate := Slot(strings.TrimSpace(s))
	for _, slot := range AllSlots {
		if slot == candidate {
			return slot, true
		}
	}
	return "", false
}

// FileMap maps slots to tier-relative stored paths. An empty path means the
// document was not delivered; a missing key means the same.
type FileMap map[Slot]string

// Present reports whether slot has a delivered document.
func (m FileMap) Present(slot Slot) bool {
	return m[slot] != ""
}

// Clone copies the map.
func (m FileMap) Clone() FileMap {
	if m == nil {
		return nil
	}
	out := make(FileMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge returns a copy of m overlaid with the non-empty entries of updates.
func (m FileMap) Merge(updates FileMap) FileMap {
	out := m.Clone()
	if out == nil {
		out = FileMap{}
	}
	for k, v := range updates {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// AlternativePair is an "either of two documents" requirement.
type AlternativePair struct {
	Preferred   Slot `json:"preferred" yaml:"preferred"`
	Alternative Slot `json:"alternative" yaml:"alternative"`
}

// Label renders the pair the way missing-document lists show it.
func (p AlternativePair) Label() string {
	return string(p.Preferred) + " or " + string(p.Alternative)
}

// RequirementSet is computed fresh for every resolution.
type RequirementSet struct {
	Basic []Slot           `json:"basic"`
	Pair  *AlternativePair `json:"alternative,omitempty"`
}

// ValidationResult is the outcome of checking a FileMap against a RequirementSet.
type ValidationResult struct {
	Complete        bool     `json:"complete"`
	Satisfied       []Slot   `json:"satisfied"`
	Missing         []string `json:"missing"`
	UsedAlternative Slot     `json:"used_alternative,omitempty"`
}

// MigrationRecord tracks one copied file so a failed commit can undo it.
// Previous is set when the copy displaced an existing permanent document; it
// holds the set-aside original until the migration is released or undone.
type MigrationRecord struct {
	Slot        Slot
	Origin      string
	Destination string
	Previous    string
}
