package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/phv-register/internal/model"
)

func strp(s string) *string { return &s }

func validRow(line int) model.VehicleDto {
	return model.VehicleDto{
		VRM: "ab12 cd", Start: "2024-01-01", End: "01/01/2025", Description: "Taxi",
		LicensingAuthorityName: "Leeds", LicencePlateNumber: "P-1", LineNumber: line,
	}
}

func TestConverter_NormalizesValidRow(t *testing.T) {
	t.Parallel()
	row := validRow(2)
	row.WheelchairAccessible = strp("TRUE")

	got, errs := NewConverter().Convert([]model.VehicleDto{row})
	require.Empty(t, errs)
	require.Len(t, got, 1)
	l := got[0]
	require.Equal(t, "AB12CD", l.VRM)
	require.Equal(t, model.DescriptionTaxi, l.Description)
	require.Equal(t, "2025-01-01", l.ValidTo.Format(model.DateLayout))
	require.Equal(t, model.WheelchairYes, l.Wheelchair)
	require.Equal(t, "Leeds", l.Authority.Name)
}

func TestConverter_ReportsEveryFieldError(t *testing.T) {
	t.Parallel()
	row := model.VehicleDto{
		VRM: "TOO-LONG-VRM", Start: "31-31-2024", End: "", Description: "bus",
		LicensingAuthorityName: strings.Repeat("x", 51), LicencePlateNumber: "",
		WheelchairAccessible: strp("maybe"), LineNumber: 7,
	}

	got, errs := NewConverter().Convert([]model.VehicleDto{row})
	require.Empty(t, got)
	require.Len(t, errs, 7)
	for _, e := range errs {
		require.Equal(t, 7, e.LineNumber)
	}
	var invalidBool bool
	for _, e := range errs {
		if strings.Contains(e.Detail, "invalid boolean") {
			invalidBool = true
		}
	}
	require.True(t, invalidBool)
}

func TestConverter_EndBeforeStart(t *testing.T) {
	t.Parallel()
	row := validRow(3)
	row.Start, row.End = "2025-01-02", "2025-01-01"

	_, errs := NewConverter().Convert([]model.VehicleDto{row})
	require.Len(t, errs, 1)
	require.Equal(t, model.KindValueError, errs[0].Kind)
}

func TestConverter_EmptyWheelchairIsUnknown(t *testing.T) {
	t.Parallel()
	row := validRow(1)
	row.WheelchairAccessible = strp("")

	got, errs := NewConverter().Convert([]model.VehicleDto{row})
	require.Empty(t, errs)
	require.Equal(t, model.WheelchairUnknown, got[0].Wheelchair)
}

func TestConverter_DuplicatesExcludedWithSingleError(t *testing.T) {
	t.Parallel()
	a := validRow(2)
	b := validRow(5)
	b.Description = "PHV" // mutable fields do not make it unique
	c := validRow(9)
	c.LicensingAuthorityName = "York" // same key in another authority is fine
	d := validRow(4)
	d.LicencePlateNumber = "P-2"

	got, errs := NewConverter().Convert([]model.VehicleDto{a, b, c, d})
	require.Len(t, errs, 1)
	require.Equal(t, model.KindNonUniqueInSubmission, errs[0].Kind)
	require.Equal(t, 2, errs[0].LineNumber)
	require.Equal(t, "AB12CD", errs[0].VRM)
	require.Len(t, got, 2)
	require.Equal(t, "York", got[0].Authority.Name)
	require.Equal(t, "P-2", got[1].LicencePlateNumber)
}
