package reading

import "strings"

const (
	colTime       = "Time"
	colDate       = "Date"
	colPingStatus = "Ping Status"
)

// Columns returns the partition table header.
func Columns() []string {
	cols := []string{colTime, colDate}
	for _, f := range Fields {
		if f == Ping {
			cols = append(cols, colPingStatus)
		}
		cols = append(cols, f.Header())
	}
	return cols
}

// Row renders r in Columns order. A failed ping is stored as an empty
// Ping Number next to a "Failed" status.
func (r Reading) Row() []string {
	row := []string{r.Time, r.Date}
	for _, f := range Fields {
		v := r.Value(f)
		if f == Ping {
			row = append(row, r.PingStatus())
			if v == PingFailed {
				v = ""
			}
		}
		row = append(row, v)
	}
	return row
}

// FromRow rebuilds a reading from a table row, matching cells to header
// titles so column order and trailing empty cells do not matter.
func FromRow(header, cells []string) Reading {
	r := Reading{Values: make(map[Field]string, len(Fields))}
	status := ""
	for i, title := range header {
		if i >= len(cells) {
			break
		}
		v := strings.TrimSpace(cells[i])
		switch title = strings.TrimSpace(title); title {
		case colTime:
			r.Time = v
		case colDate:
			r.Date = v
		case colPingStatus:
			status = v
		default:
			if f, ok := ParseField(title); ok && v != "" {
				r.Values[f] = v
			}
		}
	}
	if status == "Failed" && r.Values[Ping] == "" {
		r.Values[Ping] = PingFailed
	}
	return r
}
