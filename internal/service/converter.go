// Package service contains the licence register reconciliation logic and
// the register job state machine.
package service

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/and161185/phv-register/internal/model"
)

const (
	maxAuthorityNameLen = 50
	maxPlateNumberLen   = 15
)

var (
	vrmPattern  = regexp.MustCompile(`^[A-Z0-9]{2,7}$`)
	dateLayouts = []string{model.DateLayout, "02/01/2006"}
)

// Converter turns raw submitted rows into licences.
type Converter struct{}

// NewConverter constructs a Converter.
func NewConverter() *Converter { return &Converter{} }

type groupKey struct {
	authority string
	unique    model.UniqueLicenceAttributes
}

// Convert validates every row and returns the valid licences together with
// all validation errors. Rows sharing a licensing authority and unique key are
// reported once and dropped entirely.
func (c *Converter) Convert(rows []model.VehicleDto) ([]model.Licence, []model.ValidationError) {
	var (
		converted []model.Licence
		lines     []int
		errs      []model.ValidationError
	)
	for _, row := range rows {
		l, rowErrs := convertRow(row)
		if len(rowErrs) > 0 {
			errs = append(errs, rowErrs...)
			continue
		}
		converted = append(converted, l)
		lines = append(lines, row.LineNumber)
	}

	groups := make(map[groupKey][]int, len(converted))
	var order []groupKey
	for i, l := range converted {
		k := groupKey{authority: l.Authority.Name, unique: l.UniqueAttributes()}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	licences := make([]model.Licence, 0, len(converted))
	for _, k := range order {
		members := groups[k]
		if len(members) > 1 {
			first := members[0]
			errs = append(errs, model.ValidationError{
				Kind:       model.KindNonUniqueInSubmission,
				Detail:     fmt.Sprintf("There are %d licences with the same vrm, plate number and validity dates in licensing authority %s", len(members), k.authority),
				LineNumber: lines[first],
				VRM:        converted[first].VRM,
			})
			continue
		}
		licences = append(licences, converted[members[0]])
	}
	return licences, errs
}

func convertRow(row model.VehicleDto) (model.Licence, []model.ValidationError) {
	var (
		l    model.Licence
		errs []model.ValidationError
	)
	line := row.LineNumber

	vrm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(row.VRM), " ", ""))
	l.VRM = vrm
	switch {
	case vrm == "":
		errs = append(errs, model.MissingFieldError("", "Missing vrm", line))
	case !vrmPattern.MatchString(vrm):
		errs = append(errs, model.ValueError(vrm, "Invalid vrm", line))
	}

	from, fromOK := parseDate(row.Start, "start", vrm, line, &errs)
	to, toOK := parseDate(row.End, "end", vrm, line, &errs)
	if fromOK && toOK && to.Before(from) {
		errs = append(errs, model.ValueError(vrm, "Licence end date must not be before start date", line))
	}
	l.ValidFrom, l.ValidTo = from, to

	switch d := strings.TrimSpace(row.Description); {
	case d == "":
		errs = append(errs, model.MissingFieldError(vrm, "Missing description", line))
	case strings.EqualFold(d, model.DescriptionTaxi):
		l.Description = model.DescriptionTaxi
	case strings.EqualFold(d, model.DescriptionPHV):
		l.Description = model.DescriptionPHV
	default:
		errs = append(errs, model.ValueError(vrm, fmt.Sprintf("Invalid description %q, expected taxi or PHV", d), line))
	}

	la := strings.TrimSpace(row.LicensingAuthorityName)
	switch {
	case la == "":
		errs = append(errs, model.MissingFieldError(vrm, "Missing licensing authority name", line))
	case utf8.RuneCountInString(la) > maxAuthorityNameLen:
		errs = append(errs, model.ValueError(vrm, fmt.Sprintf("Licensing authority name longer than %d characters", maxAuthorityNameLen), line))
	}
	l.Authority = model.LicensingAuthority{Name: la}

	plate := strings.TrimSpace(row.LicencePlateNumber)
	switch {
	case plate == "":
		errs = append(errs, model.MissingFieldError(vrm, "Missing licence plate number", line))
	case utf8.RuneCountInString(plate) > maxPlateNumberLen:
		errs = append(errs, model.ValueError(vrm, fmt.Sprintf("Licence plate number longer than %d characters", maxPlateNumberLen), line))
	}
	l.LicencePlateNumber = plate

	if row.WheelchairAccessible != nil {
		w, err := model.ParseWheelchair(*row.WheelchairAccessible)
		if err != nil {
			errs = append(errs, model.ValueError(vrm, "Wheelchair accessible vehicle: "+err.Error(), line))
		}
		l.Wheelchair = w
	}
	return l, errs
}

func parseDate(raw, field, vrm string, line int, errs *[]model.ValidationError) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		*errs = append(*errs, model.MissingFieldError(vrm, "Missing "+field+" date", line))
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	*errs = append(*errs, model.ValueError(vrm, fmt.Sprintf("Invalid %s date %q", field, s), line))
	return time.Time{}, false
}
