// Package domain defines the row, column and validation value types shared by
// the casegrid engine, its storage adapters and the workbook pipeline.
package domain

import "strconv"

// ColumnType identifies the semantic kind of a grid column. Rule selection and
// unique key derivation both dispatch on it.
type ColumnType string

// Supported column types.
const (
	ColumnSerial                 ColumnType = "serial"
	ColumnIsPatient              ColumnType = "isPatient"
	ColumnIsConfirmedCase        ColumnType = "isConfirmedCase"
	ColumnBasic                  ColumnType = "basic"
	ColumnClinical               ColumnType = "clinical"
	ColumnIndividualExposureTime ColumnType = "individualExposureTime"
	ColumnSymptomOnset           ColumnType = "symptomOnset"
	ColumnDiet                   ColumnType = "diet"
	// ColumnPatientID and ColumnPatientName tag basic-info sub-columns that
	// carry patient identity.
	ColumnPatientID   ColumnType = "patientId"
	ColumnPatientName ColumnType = "patientName"
)

// Data keys address the GridRow field backing a column.
const (
	KeySerial                 = "serial"
	KeyIsPatient              = "isPatient"
	KeyIsConfirmedCase        = "isConfirmedCase"
	KeyBasicInfo              = "basicInfo"
	KeyClinicalSymptoms       = "clinicalSymptoms"
	KeyIndividualExposureTime = "individualExposureTime"
	KeySymptomOnset           = "symptomOnset"
	KeyDietInfo               = "dietInfo"
)

// GridHeader identifies one logical column. CellIndex distinguishes positions
// inside an array-valued field and is nil for scalar fields.
type GridHeader struct {
	DataKey    string     `json:"dataKey"`
	Type       ColumnType `json:"type"`
	CellIndex  *int       `json:"cellIndex,omitempty"`
	ColIndex   int        `json:"colIndex"`
	HeaderText string     `json:"headerText"`
	IsEditable bool       `json:"isEditable"`
}

// Index returns the sub-position of an array-valued column, or -1.
func (h GridHeader) Index() int {
	if h.CellIndex == nil {
		return -1
	}
	return *h.CellIndex
}

// Clone returns a copy that shares no pointers with h.
func (h GridHeader) Clone() GridHeader {
	out := h
	if h.CellIndex != nil {
		idx := *h.CellIndex
		out.CellIndex = &idx
	}
	return out
}

// CloneHeaders deep-copies a header slice.
func CloneHeaders(in []GridHeader) []GridHeader {
	if in == nil {
		return nil
	}
	out := make([]GridHeader, len(in))
	for i, h := range in {
		out[i] = h.Clone()
	}
	return out
}

// IntPtr is a small helper for building headers.
func IntPtr(v int) *int { return &v }

// GridRow is one case record.
//
// OriginalIndex and FilteredOriginalIndex are attached only to the copies
// produced by filtering and are never serialized.
type GridRow struct {
	IsPatient              string   `json:"isPatient"`
	IsConfirmedCase        string   `json:"isConfirmedCase,omitempty"`
	SymptomOnset           string   `json:"symptomOnset"`
	IndividualExposureTime string   `json:"individualExposureTime,omitempty"`
	BasicInfo              []string `json:"basicInfo"`
	ClinicalSymptoms       []string `json:"clinicalSymptoms"`
	DietInfo               []string `json:"dietInfo"`

	OriginalIndex         *int `json:"-"`
	FilteredOriginalIndex *int `json:"-"`
}

// NewGridRow allocates a row with fixed-length sequences.
func NewGridRow(basic, clinical, diet int) GridRow {
	return GridRow{
		BasicInfo:        make([]string, basic),
		ClinicalSymptoms: make([]string, clinical),
		DietInfo:         make([]string, diet),
	}
}

// Clone deep-copies the persisted fields of r. Transient filter indexes are
// dropped.
func (r GridRow) Clone() GridRow {
	return GridRow{
		IsPatient:              r.IsPatient,
		IsConfirmedCase:        r.IsConfirmedCase,
		SymptomOnset:           r.SymptomOnset,
		IndividualExposureTime: r.IndividualExposureTime,
		BasicInfo:              cloneStrings(r.BasicInfo),
		ClinicalSymptoms:       cloneStrings(r.ClinicalSymptoms),
		DietInfo:               cloneStrings(r.DietInfo),
	}
}

// CloneRows deep-copies a row slice.
func CloneRows(in []GridRow) []GridRow {
	if in == nil {
		return nil
	}
	out := make([]GridRow, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

// Value returns the cell addressed by header. Out-of-range sub-positions read
// as empty.
func (r GridRow) Value(h GridHeader) string {
	switch h.DataKey {
	case KeyIsPatient:
		return r.IsPatient
	case KeyIsConfirmedCase:
		return r.IsConfirmedCase
	case KeySymptomOnset:
		return r.SymptomOnset
	case KeyIndividualExposureTime:
		return r.IndividualExposureTime
	case KeyBasicInfo:
		return at(r.BasicInfo, h.Index())
	case KeyClinicalSymptoms:
		return at(r.ClinicalSymptoms, h.Index())
	case KeyDietInfo:
		return at(r.DietInfo, h.Index())
	}
	return ""
}

// SetValue writes the cell addressed by header, growing sequences when the
// sub-position lies past their end. It reports whether the header addresses
// a writable field.
func (r *GridRow) SetValue(h GridHeader, v string) bool {
	switch h.DataKey {
	case KeyIsPatient:
		r.IsPatient = v
	case KeyIsConfirmedCase:
		r.IsConfirmedCase = v
	case KeySymptomOnset:
		r.SymptomOnset = v
	case KeyIndividualExposureTime:
		r.IndividualExposureTime = v
	case KeyBasicInfo:
		return put(&r.BasicInfo, h.Index(), v)
	case KeyClinicalSymptoms:
		return put(&r.ClinicalSymptoms, h.Index(), v)
	case KeyDietInfo:
		return put(&r.DietInfo, h.Index(), v)
	default:
		return false
	}
	return true
}

func at(s []string, i int) string {
	if i < 0 || i >= len(s) {
		return ""
	}
	return s[i]
}

func put(s *[]string, i int, v string) bool {
	if i < 0 {
		return false
	}
	for len(*s) <= i {
		*s = append(*s, "")
	}
	(*s)[i] = v
	return true
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// CellKey builds the "{row}_{col}" key used for pending saves.
func CellKey(row, col int) string {
	return strconv.Itoa(row) + "_" + strconv.Itoa(col)
}
