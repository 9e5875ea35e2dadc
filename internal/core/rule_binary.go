package core

import "strings"

// NewBinaryRule returns a rule accepting "", "0" and "1". With trim set,
// surrounding whitespace is ignored, so " 1 " is accepted.
func NewBinaryRule(trim bool) Rule {
	return binaryRule{trim: trim}
}

type binaryRule struct {
	trim bool
}

func (binaryRule) Name() string { return "binary" }

func (r binaryRule) Validate(value string) Verdict {
	if r.trim {
		value = strings.TrimSpace(value)
	}
	switch value {
	case "", "0", "1":
		return valid()
	}
	return invalid("only 0 or 1 is allowed")
}
