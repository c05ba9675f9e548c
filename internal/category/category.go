// Package category maps equipment codes and names to category labels.
package category

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Unknown is returned when neither code nor name resolves.
const Unknown = "Unknown"

var (
	rangeCodeRe  = regexp.MustCompile(`^([A-Z0-9]+?)\d+-`)
	singleCodeRe = regexp.MustCompile(`^([A-Z0-9]+?)\d+$`)
)

// Mapper resolves categories. It is read-only once built and safe for
// concurrent use.
type Mapper struct {
	codes map[string]string
	names map[string]string
}

// Row is one line of the mapping workbook. Name may be empty.
type Row struct {
	Code     string
	Category string
	Name     string
}

// FromRows builds a mapper. Range codes ("CAM1-10") and numbered codes
// ("CAM1") register their alphabetic prefix, 4 and 3 character prefixes
// register when still free, and the full code always registers.
func FromRows(rows []Row) *Mapper {
	m := &Mapper{codes: make(map[string]string), names: make(map[string]string)}
	for _, r := range rows {
		code := strings.ToUpper(strings.TrimSpace(r.Code))
		cat := strings.TrimSpace(r.Category)
		if cat == "" {
			continue
		}
		if code != "" {
			if sm := rangeCodeRe.FindStringSubmatch(code); sm != nil {
				m.codes[sm[1]] = cat
			}
			if sm := singleCodeRe.FindStringSubmatch(code); sm != nil {
				m.codes[sm[1]] = cat
			}
			for _, n := range []int{4, 3} {
				if len(code) >= n {
					if _, ok := m.codes[code[:n]]; !ok {
						m.codes[code[:n]] = cat
					}
				}
			}
			m.codes[code] = cat
		}
		if name := strings.ToLower(strings.TrimSpace(r.Name)); name != "" {
			m.names[name] = cat
		}
	}
	return m
}

// LoadFile reads the first sheet of an .xlsx workbook with Code and Category
// columns and an optional Name column.
func LoadFile(path string) (*Mapper, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open category map: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("category map %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read category map: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("category map %s is empty", path)
	}

	col := map[string]int{"Code": -1, "Category": -1, "Name": -1}
	for i, h := range rows[0] {
		if _, ok := col[strings.TrimSpace(h)]; ok {
			col[strings.TrimSpace(h)] = i
		}
	}
	if col["Code"] < 0 || col["Category"] < 0 {
		return nil, fmt.Errorf("category map must have Code and Category columns")
	}

	out := make([]Row, 0, len(rows)-1)
	for _, r := range rows[1:] {
		out = append(out, Row{
			Code:     cell(r, col["Code"]),
			Category: cell(r, col["Category"]),
			Name:     cell(r, col["Name"]),
		})
	}
	return FromRows(out), nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// ByCode tries 4 then 3 character prefixes, then the exact code.
func (m *Mapper) ByCode(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", false
	}
	for n := min(len(code), 4); n > 2; n-- {
		if cat, ok := m.codes[code[:n]]; ok {
			return cat, true
		}
	}
	cat, ok := m.codes[code]
	return cat, ok
}

// ByName matches the item name case-insensitively.
func (m *Mapper) ByName(name string) (string, bool) {
	cat, ok := m.names[strings.ToLower(strings.TrimSpace(name))]
	return cat, ok
}

// Resolve prefers the code and falls back to the name.
func (m *Mapper) Resolve(code, name string) string {
	if m == nil {
		return Unknown
	}
	if cat, ok := m.ByCode(code); ok {
		return cat
	}
	if cat, ok := m.ByName(name); ok {
		return cat
	}
	return Unknown
}

// Len is the number of registered code keys.
func (m *Mapper) Len() int {
	return len(m.codes)
}
