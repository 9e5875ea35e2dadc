package workbook

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"casegrid/pkg/domain"
)

var canonicalDateTime = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}$`)

// inputLayouts are the string forms accepted besides the canonical one.
var inputLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006.01.02 15:04",
	"2006. 1. 2. 15:04",
	"1/2/2006 15:04",
	"2006-01-02",
	"2006/01/02",
}

// NormalizeDateTime converts a date/time cell to "YYYY-MM-DD HH:mm". Numbers
// are read as spreadsheet serial dates. Values that cannot be interpreted are
// returned unchanged. Applying it to its own output is a no-op.
func NormalizeDateTime(v string) string {
	s := strings.TrimSpace(v)
	if s == "" {
		return ""
	}
	if canonicalDateTime.MatchString(s) {
		if _, err := time.Parse(domain.DateTimeLayout, s); err == nil {
			return s
		}
		return v
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		if serial <= 0 {
			return v
		}
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return v
		}
		return t.Round(time.Minute).Format(domain.DateTimeLayout)
	}
	for _, layout := range inputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(domain.DateTimeLayout)
		}
	}
	return v
}
