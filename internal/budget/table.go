package budget

import (
	"fmt"
	"maps"
	"os"

	"gopkg.in/yaml.v3"
)

// Table is the per-part second allotment for standard-mode sessions.
type Table struct {
	// DefaultSeconds applies to questions whose part has no entry in Parts.
	DefaultSeconds int `yaml:"default_seconds"`
	// Parts maps an exam part number to seconds allotted per question.
	Parts map[int]int `yaml:"parts"`
}

// SecondsFor returns the seconds allotted to one question of the given part.
func (t Table) SecondsFor(part int) int {
	if s, ok := t.Parts[part]; ok {
		return s
	}
	return t.DefaultSeconds
}

// Empty reports whether the table would allot zero seconds to every question.
func (t Table) Empty() bool {
	if t.DefaultSeconds > 0 {
		return false
	}
	for _, s := range t.Parts {
		if s > 0 {
			return false
		}
	}
	return true
}

// Validate rejects negative allotments.
func (t Table) Validate() error {
	if t.DefaultSeconds < 0 {
		return fmt.Errorf("default_seconds must be non-negative, got %d", t.DefaultSeconds)
	}
	for part, s := range t.Parts {
		if s < 0 {
			return fmt.Errorf("part %d: seconds must be non-negative, got %d", part, s)
		}
	}
	return nil
}

func (t Table) clone() Table {
	return Table{DefaultSeconds: t.DefaultSeconds, Parts: maps.Clone(t.Parts)}
}

// ParseTable decodes a YAML allotment table.
func ParseTable(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, fmt.Errorf("decode budget table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Table{}, err
	}
	return t, nil
}

// LoadTable reads the allotment table from path. An empty path yields a table
// that only carries defaultSeconds.
func LoadTable(path string, defaultSeconds int) (Table, error) {
	if path == "" {
		t := Table{DefaultSeconds: defaultSeconds}
		return t, t.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read budget table: %w", err)
	}
	t, err := ParseTable(data)
	if err != nil {
		return Table{}, err
	}
	// An explicit default_seconds in the file wins over the env fallback.
	if t.DefaultSeconds == 0 {
		t.DefaultSeconds = defaultSeconds
	}
	return t, t.Validate()
}
