package core

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultStringMaxLength bounds free-text cells when no explicit limit is configured.
const DefaultStringMaxLength = 100

// NewStringRule returns a length-bounded text rule. Length is counted in
// characters, not bytes.
func NewStringRule(maxLength int, required bool) Rule {
	if maxLength <= 0 {
		maxLength = DefaultStringMaxLength
	}
	return stringRule{maxLength: maxLength, required: required}
}

type stringRule struct {
	maxLength int
	required  bool
}

func (stringRule) Name() string { return "string" }

func (r stringRule) Validate(value string) Verdict {
	if strings.TrimSpace(value) == "" {
		if r.required {
			return invalid("value is required")
		}
		return valid()
	}
	if n := utf8.RuneCountInString(value); n > r.maxLength {
		return invalid(fmt.Sprintf("must be at most %d characters (got %d)", r.maxLength, n))
	}
	return valid()
}
