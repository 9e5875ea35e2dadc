package domain

// Fixed header labels used when building columns for a sheet.
const (
	LabelSerial                 = "No."
	LabelIsPatient              = "Is patient"
	LabelIsConfirmedCase        = "Confirmed case"
	LabelIndividualExposureTime = "Exposure time"
	LabelSymptomOnset           = "Symptom onset"
)

// BuildGridHeaders lays out the column metadata for a sheet in grid order:
// serial, patient flag, optional confirmed-case flag, basic info, clinical
// symptoms, optional exposure time, symptom onset, diet.
func BuildGridHeaders(h SheetHeaders) []GridHeader {
	var out []GridHeader
	add := func(gh GridHeader) {
		gh.ColIndex = len(out)
		out = append(out, gh)
	}
	add(GridHeader{DataKey: KeySerial, Type: ColumnSerial, HeaderText: LabelSerial})
	add(GridHeader{DataKey: KeyIsPatient, Type: ColumnIsPatient, HeaderText: LabelIsPatient, IsEditable: true})
	if h.HasConfirmedCase {
		add(GridHeader{DataKey: KeyIsConfirmedCase, Type: ColumnIsConfirmedCase, HeaderText: LabelIsConfirmedCase, IsEditable: true})
	}
	for i, text := range h.Basic {
		add(GridHeader{DataKey: KeyBasicInfo, Type: ColumnBasic, CellIndex: IntPtr(i), HeaderText: text, IsEditable: true})
	}
	for i, text := range h.Clinical {
		add(GridHeader{DataKey: KeyClinicalSymptoms, Type: ColumnClinical, CellIndex: IntPtr(i), HeaderText: text, IsEditable: true})
	}
	if h.HasIndividualExposureTime {
		add(GridHeader{DataKey: KeyIndividualExposureTime, Type: ColumnIndividualExposureTime, HeaderText: LabelIndividualExposureTime, IsEditable: true})
	}
	add(GridHeader{DataKey: KeySymptomOnset, Type: ColumnSymptomOnset, HeaderText: LabelSymptomOnset, IsEditable: true})
	for i, text := range h.Diet {
		add(GridHeader{DataKey: KeyDietInfo, Type: ColumnDiet, CellIndex: IntPtr(i), HeaderText: text, IsEditable: true})
	}
	return out
}

// SheetHeadersFromGrid recovers the sheet description from column metadata,
// whatever order the columns are in.
func SheetHeadersFromGrid(headers []GridHeader) SheetHeaders {
	var out SheetHeaders
	for _, h := range headers {
		switch h.DataKey {
		case KeyIsConfirmedCase:
			out.HasConfirmedCase = true
		case KeyIndividualExposureTime:
			out.HasIndividualExposureTime = true
		case KeyBasicInfo:
			put(&out.Basic, h.Index(), h.HeaderText)
		case KeyClinicalSymptoms:
			put(&out.Clinical, h.Index(), h.HeaderText)
		case KeyDietInfo:
			put(&out.Diet, h.Index(), h.HeaderText)
		}
	}
	return out
}
