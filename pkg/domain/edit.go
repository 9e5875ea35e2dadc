package domain

import "time"

// CellRef locates an edited cell as seen by the grid UI. RowIndex is the
// virtual (filtered) index.
type CellRef struct {
	RowIndex  int    `json:"rowIndex"`
	ColIndex  int    `json:"colIndex"`
	DataKey   string `json:"dataKey"`
	CellIndex *int   `json:"cellIndex,omitempty"`
}

// EditInfo is the edit contract produced by the grid UI.
type EditInfo struct {
	Cell          CellRef    `json:"cell"`
	OriginalValue string     `json:"originalValue"`
	Value         string     `json:"value"`
	ColumnMeta    GridHeader `json:"columnMeta"`
	HasChanged    bool       `json:"hasChanged"`
}

// PendingSave is a scheduled, not yet committed edit.
type PendingSave struct {
	EditInfo    EditInfo  `json:"editInfo"`
	ScheduledAt time.Time `json:"scheduledAt"`
}

// SheetHeaders lists the surviving sub-header texts of each category span and
// which optional single columns are present.
type SheetHeaders struct {
	Basic                     []string `json:"basic"`
	Clinical                  []string `json:"clinical"`
	Diet                      []string `json:"diet"`
	HasConfirmedCase          bool     `json:"hasConfirmedCase"`
	HasIndividualExposureTime bool     `json:"hasIndividualExposureTime"`
}

// Clone deep-copies the header description.
func (h SheetHeaders) Clone() SheetHeaders {
	out := h
	out.Basic = cloneStrings(h.Basic)
	out.Clinical = cloneStrings(h.Clinical)
	out.Diet = cloneStrings(h.Diet)
	return out
}

// Dataset is the logical content of a workbook: header description plus rows.
type Dataset struct {
	Headers SheetHeaders `json:"headers"`
	Rows    []GridRow    `json:"rows"`
}

// Clone deep-copies the dataset.
func (d Dataset) Clone() Dataset {
	return Dataset{Headers: d.Headers.Clone(), Rows: CloneRows(d.Rows)}
}
