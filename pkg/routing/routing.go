// Package routing maps bank names to SWIFT/BIC routing codes.
package routing

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FallbackCode is returned for banks missing from the table.
const FallbackCode = "CLRBCLRX"

var codePattern = regexp.MustCompile(`^[A-Z]{4}[A-Z]{2}[A-Z0-9]{2}([A-Z0-9]{3})?$`)

// ValidCode reports whether code is a well formed 8 or 11 character BIC.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// DefaultBanks is the built-in table of Chilean banks.
var DefaultBanks = map[string]string{
	"banco santander":     "BSCHCLRM",
	"banco de chile":      "BCHICLRM",
	"banco estado":        "BECHCLRM",
	"scotiabank":          "SCBLCLRX",
	"banco bci":           "BCICCLRM",
	"banco security":      "BESGCLRM",
	"banco falabella":     "BFALCLRM",
	"banco ripley":        "BRIECLR1",
	"banco internacional": "BINCCLRM",
	"banco consorcio":     "BCOCCLRM",
}

// Table resolves bank names. It is immutable after construction.
type Table struct {
	banks    map[string]string
	names    []string
	fallback string
}

// NewTable builds a table; keys are matched case-insensitively.
func NewTable(banks map[string]string, fallback string) (*Table, error) {
	if fallback == "" {
		fallback = FallbackCode
	}
	if !ValidCode(fallback) {
		return nil, fmt.Errorf("invalid fallback routing code %q", fallback)
	}
	t := &Table{banks: make(map[string]string, len(banks)), fallback: fallback}
	for name, code := range banks {
		code = strings.ToUpper(strings.TrimSpace(code))
		if !ValidCode(code) {
			return nil, fmt.Errorf("invalid routing code %q for bank %q", code, name)
		}
		key := normalizeBank(name)
		t.banks[key] = code
		t.names = append(t.names, key)
	}
	// Longest names first so substring matches prefer the most specific bank.
	sort.Slice(t.names, func(i, j int) bool {
		if len(t.names[i]) != len(t.names[j]) {
			return len(t.names[i]) > len(t.names[j])
		}
		return t.names[i] < t.names[j]
	})
	return t, nil
}

// Default returns the built-in table.
func Default() *Table {
	t, err := NewTable(DefaultBanks, FallbackCode)
	if err != nil {
		panic(err)
	}
	return t
}

func normalizeBank(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Code returns the routing code for bankName: exact match, then a
// substring match in either direction, then the fallback.
func (t *Table) Code(bankName string) string {
	key := normalizeBank(bankName)
	if key == "" {
		return t.fallback
	}
	if code, ok := t.banks[key]; ok {
		return code
	}
	for _, name := range t.names {
		if strings.Contains(key, name) || strings.Contains(name, key) {
			return t.banks[name]
		}
	}
	return t.fallback
}

// BankName returns the bank registered for code.
func (t *Table) BankName(code string) (string, bool) {
	code = strings.ToUpper(code)
	for _, name := range t.names {
		if t.banks[name] == code {
			return name, true
		}
	}
	return "", false
}

// Banks returns the table's bank names, sorted.
func (t *Table) Banks() []string {
	out := append([]string(nil), t.names...)
	sort.Strings(out)
	return out
}

type tableFile struct {
	Fallback string            `yaml:"fallback"`
	Banks    map[string]string `yaml:"banks"`
}

// LoadTable reads a YAML table of the form
//
//	fallback: CLRBCLRX
//	banks:
//	  banco de chile: BCHICLRM
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("read routing table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable parses the YAML table format read by LoadTable.
func ParseTable(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse routing table: %w", err)
	}
	if len(f.Banks) == 0 {
		return nil, fmt.Errorf("routing table has no banks")
	}
	return NewTable(f.Banks, f.Fallback)
}
