package requirements

import (
	_ "embed"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"enrolld/internal/enrollment/models"
	"enrolld/pkg/domain"
)

//go:embed rules.yaml
var defaultRules []byte

type ruleFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	Modality int64                  `yaml:"modality"`
	Plans    []int64                `yaml:"plans"`
	Pair     models.AlternativePair `yaml:"pair"`
}

type ruleKey struct {
	modality domain.ModalityID
	plan     domain.PlanID
}

// Table is an immutable snapshot of the alternative-pair rules.
type Table struct {
	pairs map[ruleKey]models.AlternativePair
}

// DefaultTable returns the rules compiled into the binary.
func DefaultTable() *Table {
	table, err := ParseTable(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("embedded requirement rules are invalid: %v", err))
	}
	return table
}

// LoadTable reads and parses a rules file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseTable(data)
}

// ParseTable parses YAML rules. A combination may appear once; pair members
// must be distinct, known, non-basic slots.
func ParseTable(data []byte) (*Table, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	table := &Table{pairs: make(map[ruleKey]models.AlternativePair)}
	for i, rule := range file.Rules {
		if rule.Modality <= 0 {
			return nil, fmt.Errorf("rule %d: modality must be positive", i)
		}
		if len(rule.Plans) == 0 {
			return nil, fmt.Errorf("rule %d: at least one plan is required", i)
		}
		if err := validatePair(rule.Pair); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		for _, plan := range rule.Plans {
			key := ruleKey{modality: domain.ModalityID(rule.Modality), plan: domain.PlanID(plan)}
			if _, dup := table.pairs[key]; dup {
				return nil, fmt.Errorf("rule %d: modality %d plan %d listed twice", i, rule.Modality, plan)
			}
			table.pairs[key] = rule.Pair
		}
	}
	return table, nil
}

func validatePair(pair models.AlternativePair) error {
	for _, slot := range []models.Slot{pair.Preferred, pair.Alternative} {
		if _, ok := models.ParseSlot(string(slot)); !ok {
			return fmt.Errorf("unknown slot %q", slot)
		}
		if slices.Contains(models.BasicSlots, slot) {
			return fmt.Errorf("slot %q is already a basic requirement", slot)
		}
	}
	if pair.Preferred == pair.Alternative {
		return fmt.Errorf("pair members must differ, got %q twice", pair.Preferred)
	}
	return nil
}

// Lookup returns the pair for a combination, if one is enumerated.
func (t *Table) Lookup(modality domain.ModalityID, plan domain.PlanID) (models.AlternativePair, bool) {
	pair, ok := t.pairs[ruleKey{modality: modality, plan: plan}]
	return pair, ok
}

// Len is the number of enumerated combinations.
func (t *Table) Len() int {
	return len(t.pairs)
}
