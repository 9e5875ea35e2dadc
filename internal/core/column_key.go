package core

import (
	"strconv"
	"strings"

	"casegrid/pkg/domain"
)

// Synthetic keys for columns whose identity must not depend on position.
const (
	KeyIndividualExposureTime = "individual_exposure_time"
	KeyIsConfirmedCase        = "is_confirmed_case"
	KeyPatientID              = "patient_id"
	KeyPatientName            = "patient_name"
)

// ColumnUniqueKey derives the identity of a column that survives column
// reordering and insertion. Combined with an original row index it names one
// validatable cell.
func ColumnUniqueKey(h domain.GridHeader) string {
	switch h.Type {
	case domain.ColumnIndividualExposureTime:
		return KeyIndividualExposureTime
	case domain.ColumnIsConfirmedCase:
		return KeyIsConfirmedCase
	case domain.ColumnPatientID:
		return KeyPatientID
	case domain.ColumnPatientName:
		return KeyPatientName
	}
	parts := []string{h.DataKey, string(h.Type)}
	if h.CellIndex != nil {
		parts = append(parts, strconv.Itoa(*h.CellIndex))
	}
	return strings.Join(parts, "_")
}

// HeaderIndex resolves unique keys back to column metadata.
type HeaderIndex map[string]domain.GridHeader

// IndexHeaders builds a HeaderIndex for the given columns.
func IndexHeaders(headers []domain.GridHeader) HeaderIndex {
	idx := make(HeaderIndex, len(headers))
	for _, h := range headers {
		idx[ColumnUniqueKey(h)] = h
	}
	return idx
}
