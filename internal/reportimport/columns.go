package reportimport

import "strings"

// ColumnMapping holds the zero-based index of each recognized column in a
// courier report. An index of -1 means the column was not found.
type ColumnMapping struct {
	Tracking     int
	Price        int
	Date         int
	CustomerName int
	CustomerID   int
}

// found reports whether the header sniffing matched at least one column.
func (m ColumnMapping) found() bool {
	return m.Tracking >= 0 || m.Price >= 0 || m.Date >= 0 ||
		m.CustomerName >= 0 || m.CustomerID >= 0
}

// MapColumns classifies header cells by keyword. Courier report layouts
// vary per courier and sometimes per month, so we sniff rather than demand
// a fixed schema. When no header cell matches anything, the report is
// assumed to carry the conventional positional layout:
// tracking;price;date;customer name;customer id.
func MapColumns(header []string) ColumnMapping {
	m := ColumnMapping{Tracking: -1, Price: -1, Date: -1, CustomerName: -1, CustomerID: -1}

	for i, cell := range header {
		name := strings.ToLower(strings.TrimSpace(cell))
		switch {
		case m.Tracking < 0 && (strings.Contains(name, "tracking") || strings.Contains(name, "number")):
			m.Tracking = i
		case m.Price < 0 && (strings.Contains(name, "price") || strings.Contains(name, "amount") || strings.Contains(name, "total")):
			m.Price = i
		case m.Date < 0 && strings.Contains(name, "date"):
			m.Date = i
		case m.CustomerName < 0 && strings.Contains(name, "customer") && strings.Contains(name, "name"):
			m.CustomerName = i
		case m.CustomerID < 0 && strings.Contains(name, "customer") && (strings.Contains(name, "id") || strings.Contains(name, "code")):
			m.CustomerID = i
		}
	}

	if !m.found() {
		positions := []*int{&m.Tracking, &m.Price, &m.Date, &m.CustomerName, &m.CustomerID}
		for i := range positions {
			if i < len(header) {
				*positions[i] = i
			}
		}
	}

	return m
}

// cleanValue normalizes a raw CSV field: trims whitespace and strips the
// stray quote wrapping some courier exports carry on every field.
func cleanValue(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}
