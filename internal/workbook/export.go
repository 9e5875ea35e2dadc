package workbook

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"casegrid/pkg/domain"
)

// SheetName is the worksheet name used for exports.
const SheetName = "Cases"

// Format names an export encoding.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatTSV  Format = "tsv"
)

// ContentType returns the MIME type of the encoding.
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatTSV:
		return "text/tab-separated-values"
	}
	return "application/octet-stream"
}

// Merge is a zero-based inclusive cell range merged in the header.
type Merge struct {
	StartRow int `json:"startRow"`
	StartCol int `json:"startCol"`
	EndRow   int `json:"endRow"`
	EndCol   int `json:"endCol"`
}

// Ref renders the range in A1 notation.
func (m Merge) Ref() (string, string, error) {
	top, err := excelize.CoordinatesToCellName(m.StartCol+1, m.StartRow+1)
	if err != nil {
		return "", "", err
	}
	bottom, err := excelize.CoordinatesToCellName(m.EndCol+1, m.EndRow+1)
	if err != nil {
		return "", "", err
	}
	return top, bottom, nil
}

// Sheet is the exported cell grid: two header rows followed by data rows.
type Sheet struct {
	Cells  [][]string `json:"cells"`
	Merges []Merge    `json:"merges"`
}

// HeaderRows returns the two header rows.
func (s Sheet) HeaderRows() [][]string {
	if len(s.Cells) < 2 {
		return s.Cells
	}
	return s.Cells[:2]
}

// Layout builds the export grid for a dataset in the fixed column order
// serial, patient flag, confirmed flag, basic info, clinical symptoms,
// exposure time, symptom onset, diet. Empty categories keep one blank
// sub-column so the category label is still written.
func Layout(ds domain.Dataset) Sheet {
	h := ds.Headers
	var row1, row2 []string
	var merges []Merge
	single := func(label string) {
		col := len(row1)
		row1 = append(row1, label)
		row2 = append(row2, "")
		merges = append(merges, Merge{StartRow: 0, StartCol: col, EndRow: 1, EndCol: col})
	}
	category := func(label string, subs []string) {
		col := len(row1)
		width := max(1, len(subs))
		for i := 0; i < width; i++ {
			text := ""
			if i < len(subs) {
				text = subs[i]
			}
			if i == 0 {
				row1 = append(row1, label)
			} else {
				row1 = append(row1, "")
			}
			row2 = append(row2, text)
		}
		if width > 1 {
			merges = append(merges, Merge{StartRow: 0, StartCol: col, EndRow: 0, EndCol: col + width - 1})
		}
	}

	single(domain.LabelSerial)
	single(domain.LabelIsPatient)
	if h.HasConfirmedCase {
		single(domain.LabelIsConfirmedCase)
	}
	category(LabelBasicInfo, h.Basic)
	category(LabelClinicalSymptoms, h.Clinical)
	if h.HasIndividualExposureTime {
		single(domain.LabelIndividualExposureTime)
	}
	single(domain.LabelSymptomOnset)
	category(LabelDiet, h.Diet)

	cells := make([][]string, 0, len(ds.Rows)+2)
	cells = append(cells, row1, row2)
	for i, r := range ds.Rows {
		cells = append(cells, dataRow(h, i, r, len(row1)))
	}
	return Sheet{Cells: cells, Merges: merges}
}

func dataRow(h domain.SheetHeaders, i int, r domain.GridRow, width int) []string {
	out := make([]string, 0, width)
	seq := func(values []string, n int) {
		for j := 0; j < max(1, n); j++ {
			v := ""
			if j < len(values) && j < n {
				v = values[j]
			}
			out = append(out, v)
		}
	}
	out = append(out, strconv.Itoa(i+1), r.IsPatient)
	if h.HasConfirmedCase {
		out = append(out, r.IsConfirmedCase)
	}
	seq(r.BasicInfo, len(h.Basic))
	seq(r.ClinicalSymptoms, len(h.Clinical))
	if h.HasIndividualExposureTime {
		out = append(out, NormalizeDateTime(r.IndividualExposureTime))
	}
	out = append(out, NormalizeDateTime(r.SymptomOnset))
	seq(r.DietInfo, len(h.Diet))
	return out
}

// EncodeXLSX writes a sheet as an xlsx workbook using the streaming writer.
func EncodeXLSX(s Sheet) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return nil, fmt.Errorf("stream writer: %w", err)
	}
	for i, row := range s.Cells {
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		// serial numbers are written as numbers
		if i >= 2 && len(row) > 0 {
			if n, err := strconv.Atoi(row[0]); err == nil {
				values[0] = n
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		if err := sw.SetRow(cell, values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	for _, m := range s.Merges {
		top, bottom, err := m.Ref()
		if err != nil {
			return nil, err
		}
		if err := sw.MergeCell(top, bottom); err != nil {
			return nil, fmt.Errorf("merge %s:%s: %w", top, bottom, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeTSV renders a sheet as tab-separated text. Merges are not represented.
func EncodeTSV(s Sheet) []byte {
	var buf bytes.Buffer
	for _, row := range s.Cells {
		writeTSVRow(&buf, row)
	}
	return buf.Bytes()
}

// Encode renders ds in the requested format.
func Encode(ds domain.Dataset, format Format) ([]byte, error) {
	sheet := Layout(ds)
	switch format {
	case FormatXLSX, "":
		return EncodeXLSX(sheet)
	case FormatTSV:
		return EncodeTSV(sheet), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}
