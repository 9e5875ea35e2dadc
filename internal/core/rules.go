package core

import (
	"casegrid/pkg/domain"
)

// Verdict is the outcome of validating one cell value.
type Verdict struct {
	Valid   bool
	Message string
}

func valid() Verdict { return Verdict{Valid: true} }

func invalid(msg string) Verdict { return Verdict{Message: msg} }

// Rule validates a raw cell value. Implementations never panic on malformed
// input; they report it as invalid.
type Rule interface {
	Name() string
	Validate(value string) Verdict
}

// RulesEngine dispatches cell values to the rule registered for their column type.
type RulesEngine struct {
	rules map[domain.ColumnType]Rule
}

// NewRulesEngine constructs an engine instance with no rules.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{rules: make(map[domain.ColumnType]Rule)}
}

// NewDefaultRulesEngine builds a rules engine with the built-in rule set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	for typ, rule := range defaultRules() {
		engine.Register(typ, rule)
	}
	return engine
}

func defaultRules() map[domain.ColumnType]Rule {
	binary := NewBinaryRule(true)
	text := NewStringRule(DefaultStringMaxLength, false)
	datetime := NewDateTimeRule()
	return map[domain.ColumnType]Rule{
		domain.ColumnIsPatient:              binary,
		domain.ColumnIsConfirmedCase:        binary,
		domain.ColumnClinical:               binary,
		domain.ColumnDiet:                   binary,
		domain.ColumnBasic:                  text,
		domain.ColumnPatientID:              text,
		domain.ColumnPatientName:            text,
		domain.ColumnSymptomOnset:           datetime,
		domain.ColumnIndividualExposureTime: datetime,
	}
}

// Register binds a rule to a column type, replacing any previous binding.
func (e *RulesEngine) Register(typ domain.ColumnType, rule Rule) {
	e.rules[typ] = rule
}

// RuleFor returns the rule bound to a column type.
func (e *RulesEngine) RuleFor(typ domain.ColumnType) (Rule, bool) {
	rule, ok := e.rules[typ]
	return rule, ok
}

// Validate runs the rule for the header's column type. Columns without a rule
// (serial, unknown types) are always valid.
func (e *RulesEngine) Validate(value string, header domain.GridHeader) Verdict {
	rule, ok := e.rules[header.Type]
	if !ok {
		return valid()
	}
	return rule.Validate(value)
}
