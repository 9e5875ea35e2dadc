package domain

import (
	"strconv"
	"time"
)

// ValidationError describes one invalid cell.
type ValidationError struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorKey builds the validation store key for a cell. rowIndex must be the
// original (unfiltered) row index so that errors survive filter changes.
func ErrorKey(rowIndex int, uniqueKey string) string {
	return strconv.Itoa(rowIndex) + "_" + uniqueKey
}

// CloneErrors copies an error map.
func CloneErrors(in map[string]ValidationError) map[string]ValidationError {
	out := make(map[string]ValidationError, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// FilterConfig maps a column unique key to the set of raw values it accepts.
// An absent or empty set leaves the column unfiltered.
type FilterConfig map[string]map[string]struct{}

// NewFilterConfig returns an empty configuration.
func NewFilterConfig() FilterConfig { return FilterConfig{} }

// Allow restricts column key to the given values, replacing any earlier set.
func (f FilterConfig) Allow(key string, values ...string) FilterConfig {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	f[key] = set
	return f
}

// Active reports whether any column carries a non-empty allow-set.
func (f FilterConfig) Active() bool {
	for _, set := range f {
		if len(set) > 0 {
			return true
		}
	}
	return false
}

// Clone deep-copies the configuration.
func (f FilterConfig) Clone() FilterConfig {
	if f == nil {
		return nil
	}
	out := make(FilterConfig, len(f))
	for k, set := range f {
		cp := make(map[string]struct{}, len(set))
		for v := range set {
			cp[v] = struct{}{}
		}
		out[k] = cp
	}
	return out
}

// DateTimeLayout is the canonical text form of date/time cells.
const DateTimeLayout = "2006-01-02 15:04"
