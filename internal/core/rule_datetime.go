package core

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var dateTimePattern = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2}) (\d{2}):(\d{2})$`)

// NewDateTimeRule returns a rule accepting empty values and values in the
// canonical "YYYY-MM-DD HH:mm" form that name a real calendar minute.
func NewDateTimeRule() Rule {
	return dateTimeRule{}
}

type dateTimeRule struct{}

func (dateTimeRule) Name() string { return "datetime" }

func (dateTimeRule) Validate(value string) Verdict {
	value = strings.TrimSpace(value)
	if value == "" {
		return valid()
	}
	if !IsCalendarDateTime(value) {
		return invalid("expected a real date and time as YYYY-MM-DD HH:mm")
	}
	return valid()
}

// IsCalendarDateTime reports whether s is exactly "YYYY-MM-DD HH:mm" and every
// component survives a round trip through time.Date. Rollover inputs such as
// 2024-02-30 or 24:00 are rejected.
func IsCalendarDateTime(s string) bool {
	m := dateTimePattern.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	parts := make([]int, 5)
	for i := range parts {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return false
		}
		parts[i] = n
	}
	year, month, day, hour, minute := parts[0], parts[1], parts[2], parts[3], parts[4]
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
	return t.Year() == year && int(t.Month()) == month && t.Day() == day && t.Hour() == hour && t.Minute() == minute
}
