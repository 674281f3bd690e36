// Package csvsource reads licence submissions uploaded as CSV files.
package csvsource

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/and161185/phv-register/internal/model"
)

const (
	minFields = 6
	maxFields = 7
)

// Parse reads vrm, start, end, description, licensing authority name, plate
// number and an optional wheelchair flag per line. A leading header row and
// blank lines are skipped. Malformed lines are reported as validation errors
// and parsing continues.
func Parse(r io.Reader) ([]model.VehicleDto, []model.ValidationError, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var (
		rows []model.VehicleDto
		errs []model.ValidationError
	)
	first := true
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			errs = append(errs, model.ValidationError{
				Kind:       model.KindSourceRead,
				Detail:     fmt.Sprintf("Line %d could not be parsed: %v", perr.StartLine, perr.Err),
				LineNumber: perr.StartLine,
			})
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read csv: %w", err)
		}
		line, _ := cr.FieldPos(0)

		if first {
			first = false
			if strings.EqualFold(strings.TrimSpace(record[0]), "vrm") {
				continue
			}
		}
		if isBlank(record) {
			continue
		}
		if len(record) < minFields || len(record) > maxFields {
			errs = append(errs, model.ValidationError{
				Kind:       model.KindSourceRead,
				Detail:     fmt.Sprintf("Line %d contains %d fields whereas it should contain %d or %d", line, len(record), minFields, maxFields),
				LineNumber: line,
			})
			continue
		}
		row := model.VehicleDto{
			VRM:                    record[0],
			Start:                  record[1],
			End:                    record[2],
			Description:            record[3],
			LicensingAuthorityName: record[4],
			LicencePlateNumber:     record[5],
			LineNumber:             line,
		}
		if len(record) == maxFields {
			w := record[6]
			row.WheelchairAccessible = &w
		}
		rows = append(rows, row)
	}
	return rows, errs, nil
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
