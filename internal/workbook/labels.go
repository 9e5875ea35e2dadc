// Package workbook reads and writes the two-row merged-header case sheet and
// selects the processing tier used for each import or export.
package workbook

import (
	"strings"
	"unicode"

	"casegrid/pkg/domain"
)

// Category labels written in the first header row above each span.
const (
	LabelBasicInfo        = "Basic info"
	LabelClinicalSymptoms = "Clinical symptoms"
	LabelDiet             = "Diet"
)

type field int

const (
	fieldBasic field = iota
	fieldClinical
	fieldDiet
	fieldIsPatient
	fieldConfirmed
	fieldOnset
	fieldExposure
)

// aliases lists the label fragments each field is recognised by. Sheets
// produced by older Korean-language templates use the second spelling.
var aliases = map[field][]string{
	fieldBasic:     {LabelBasicInfo, "기본정보"},
	fieldClinical:  {LabelClinicalSymptoms, "임상증상"},
	fieldDiet:      {LabelDiet, "식단"},
	fieldIsPatient: {domain.LabelIsPatient, "환자여부"},
	fieldConfirmed: {domain.LabelIsConfirmedCase, "확진여부"},
	fieldOnset:     {domain.LabelSymptomOnset, "증상발현"},
	fieldExposure:  {domain.LabelIndividualExposureTime, "노출시간"},
}

var fieldNames = map[field]string{
	fieldBasic:     "basic info",
	fieldClinical:  "clinical symptoms",
	fieldDiet:      "diet",
	fieldIsPatient: "patient flag",
	fieldConfirmed: "confirmed-case flag",
	fieldOnset:     "symptom onset",
	fieldExposure:  "individual exposure time",
}

// normalizeLabel lowercases s and strips all whitespace.
func normalizeLabel(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// matches reports whether a header cell carries one of the field's labels.
// Matching is by containment so minor decoration ("Basic info (required)")
// is tolerated.
func matches(cell string, f field) bool {
	norm := normalizeLabel(cell)
	if norm == "" {
		return false
	}
	for _, alias := range aliases[f] {
		if strings.Contains(norm, normalizeLabel(alias)) {
			return true
		}
	}
	return false
}

// findLabel returns the first column in row whose text matches f and that is
// not already claimed, or -1.
func findLabel(row []string, f field, claimed map[int]bool) int {
	for i, cell := range row {
		if claimed[i] {
			continue
		}
		if matches(cell, f) {
			return i
		}
	}
	return -1
}
