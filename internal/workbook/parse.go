package workbook

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"casegrid/pkg/domain"
)

// DefaultIsPatientColumn is used when no patient-flag label is found.
const DefaultIsPatientColumn = 1

// ParseError is the fatal import failure: the sheet cannot be mapped onto the
// case layout at all.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "workbook: " + e.Reason }

// Diagnostics reports what the parser dropped or could not find.
type Diagnostics struct {
	// DroppedColumns counts sub-columns with a blank second-row header, per category.
	DroppedColumns map[string]int `json:"droppedColumns"`
	// DroppedColumnsTotal sums DroppedColumns.
	DroppedColumnsTotal int `json:"droppedColumnsTotal"`
	// DroppedRows counts data rows with nothing but a serial number.
	DroppedRows int `json:"droppedRows"`
	// MissingOptional lists optional fields that were not present.
	MissingOptional []string `json:"missingOptional,omitempty"`
	// MissingOnset is set when the symptom onset column was not found.
	MissingOnset bool `json:"missingOnset,omitempty"`
	// PatientColumnDefaulted is set when the patient flag label was absent.
	PatientColumnDefaulted bool `json:"patientColumnDefaulted,omitempty"`
}

// ParseResult is the outcome of a successful import.
type ParseResult struct {
	Headers     domain.SheetHeaders `json:"headers"`
	Rows        []domain.GridRow    `json:"rows"`
	Diagnostics Diagnostics         `json:"diagnostics"`
}

// Dataset returns the parsed headers and rows as a dataset.
func (r *ParseResult) Dataset() domain.Dataset {
	return domain.Dataset{Headers: r.Headers.Clone(), Rows: domain.CloneRows(r.Rows)}
}

// layout is the column map discovered from the two header rows.
type layout struct {
	isPatient int
	confirmed int
	onset     int
	exposure  int
	basic     []int
	clinical  []int
	diet      []int
	headers   domain.SheetHeaders
	diag      Diagnostics
}

// ReadCells loads the first worksheet of an xlsx file as a rectangular grid of
// raw cell text.
func ReadCells(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &ParseError{Reason: "workbook has no sheets"}
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rectangular(rows), nil
}

func rectangular(rows [][]string) [][]string {
	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		padded := make([]string, width)
		copy(padded, r)
		out[i] = padded
	}
	return out
}

// detectLayout maps the header rows onto case fields.
func detectLayout(cells [][]string) (*layout, error) {
	if len(cells) < 2 {
		return nil, &ParseError{Reason: "sheet must have two header rows"}
	}
	row1, row2 := cells[0], cells[1]
	l := &layout{
		confirmed: -1,
		onset:     -1,
		exposure:  -1,
		diag:      Diagnostics{DroppedColumns: map[string]int{}},
	}
	// column 0 is the serial number
	claimed := map[int]bool{0: true}

	// Category labels are claimed first so fixed-field lookups never take them.
	starts := map[field]int{}
	for _, f := range []field{fieldBasic, fieldClinical, fieldDiet} {
		start := findLabel(row1, f, claimed)
		if start < 0 {
			return nil, &ParseError{Reason: fmt.Sprintf("missing %q category in the first header row", fieldNames[f])}
		}
		starts[f] = start
		claimed[start] = true
	}

	l.isPatient = findFixed(row1, row2, fieldIsPatient, claimed)
	if l.isPatient < 0 {
		l.isPatient = DefaultIsPatientColumn
		l.diag.PatientColumnDefaulted = true
	}
	claimed[l.isPatient] = true
	if l.confirmed = findFixed(row1, row2, fieldConfirmed, claimed); l.confirmed >= 0 {
		claimed[l.confirmed] = true
	} else {
		l.diag.MissingOptional = append(l.diag.MissingOptional, fieldNames[fieldConfirmed])
	}
	// datetime columns live in the second row; the first row is the fallback
	if l.exposure = findFixed(row2, row1, fieldExposure, claimed); l.exposure >= 0 {
		claimed[l.exposure] = true
	} else {
		l.diag.MissingOptional = append(l.diag.MissingOptional, fieldNames[fieldExposure])
	}
	if l.onset = findFixed(row2, row1, fieldOnset, claimed); l.onset >= 0 {
		claimed[l.onset] = true
	} else {
		l.diag.MissingOnset = true
	}

	isStart := map[int]bool{starts[fieldBasic]: true, starts[fieldClinical]: true, starts[fieldDiet]: true}
	span := func(f field) ([]int, []string) {
		start := starts[f]
		end := start
		for end+1 < len(row1) && strings.TrimSpace(row1[end+1]) == "" && !isStart[end+1] && !claimed[end+1] {
			end++
		}
		var cols []int
		var texts []string
		for c := start; c <= end; c++ {
			text := strings.TrimSpace(row2[c])
			if text == "" {
				l.diag.DroppedColumns[fieldNames[f]]++
				l.diag.DroppedColumnsTotal++
				continue
			}
			cols = append(cols, c)
			texts = append(texts, text)
		}
		return cols, texts
	}
	l.basic, l.headers.Basic = span(fieldBasic)
	l.clinical, l.headers.Clinical = span(fieldClinical)
	l.diet, l.headers.Diet = span(fieldDiet)
	l.headers.HasConfirmedCase = l.confirmed >= 0
	l.headers.HasIndividualExposureTime = l.exposure >= 0
	if l.headers.Basic == nil {
		l.headers.Basic = []string{}
	}
	if l.headers.Clinical == nil {
		l.headers.Clinical = []string{}
	}
	if l.headers.Diet == nil {
		l.headers.Diet = []string{}
	}
	return l, nil
}

func findFixed(primary, fallback []string, f field, claimed map[int]bool) int {
	if c := findLabel(primary, f, claimed); c >= 0 {
		return c
	}
	return findLabel(fallback, f, claimed)
}

// row converts one data row. ok is false for rows that hold nothing but a
// serial number.
func (l *layout) row(cells []string) (domain.GridRow, bool) {
	empty := true
	for i := 1; i < len(cells); i++ {
		if strings.TrimSpace(cells[i]) != "" {
			empty = false
			break
		}
	}
	if empty {
		return domain.GridRow{}, false
	}
	cell := func(c int) string {
		if c < 0 || c >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[c])
	}
	pick := func(cols []int) []string {
		out := make([]string, len(cols))
		for i, c := range cols {
			out[i] = cell(c)
		}
		return out
	}
	r := domain.GridRow{
		IsPatient:        cell(l.isPatient),
		BasicInfo:        pick(l.basic),
		ClinicalSymptoms: pick(l.clinical),
		DietInfo:         pick(l.diet),
		SymptomOnset:     NormalizeDateTime(cell(l.onset)),
	}
	if l.confirmed >= 0 {
		r.IsConfirmedCase = cell(l.confirmed)
	}
	if l.exposure >= 0 {
		r.IndividualExposureTime = NormalizeDateTime(cell(l.exposure))
	}
	return r, true
}

// parseRange converts data rows [from, to) of cells, appending kept rows.
func (l *layout) parseRange(cells [][]string, from, to int, out []domain.GridRow) ([]domain.GridRow, int) {
	dropped := 0
	for i := from; i < to; i++ {
		r, ok := l.row(cells[i])
		if !ok {
			dropped++
			continue
		}
		out = append(out, r)
	}
	return out, dropped
}

func (l *layout) result(rows []domain.GridRow, dropped int) *ParseResult {
	diag := l.diag
	diag.DroppedRows = dropped
	if rows == nil {
		rows = []domain.GridRow{}
	}
	return &ParseResult{Headers: l.headers.Clone(), Rows: rows, Diagnostics: diag}
}

// ParseCells parses a rectangular cell grid in one pass.
func ParseCells(cells [][]string) (*ParseResult, error) {
	l, err := detectLayout(cells)
	if err != nil {
		return nil, err
	}
	rows, dropped := l.parseRange(cells, 2, len(cells), nil)
	return l.result(rows, dropped), nil
}
