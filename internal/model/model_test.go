package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseWheelchair(t *testing.T) {
	t.Parallel()

	cases := map[string]Wheelchair{
		"":      WheelchairUnknown,
		"  ":    WheelchairUnknown,
		"true":  WheelchairYes,
		"TRUE":  WheelchairYes,
		"false": WheelchairNo,
		"False": WheelchairNo,
	}
	for in, want := range cases {
		got, err := ParseWheelchair(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseWheelchair("maybe")
	require.Error(t, err)
}

func TestWheelchair_BoolRoundTrip(t *testing.T) {
	t.Parallel()

	for _, w := range []Wheelchair{WheelchairUnknown, WheelchairYes, WheelchairNo} {
		require.Equal(t, w, WheelchairFromBool(w.Bool()))
	}
	require.Nil(t, WheelchairUnknown.Bool())
	require.False(t, *WheelchairNo.Bool())
}

func TestUniqueAttributes_IgnoresMutableFields(t *testing.T) {
	t.Parallel()

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 1, 0, 0, 0, 0, time.Local)
	a := Licence{VRM: "8839GF", LicencePlateNumber: "old", ValidFrom: from, ValidTo: to, Description: DescriptionTaxi}
	b := a
	b.Description = DescriptionPHV
	b.Wheelchair = WheelchairYes
	b.ID = 42

	require.Equal(t, a.UniqueAttributes(), b.UniqueAttributes())
	require.False(t, a.SameMutableAttributes(b))

	c := a
	c.LicencePlateNumber = "new"
	require.NotEqual(t, a.UniqueAttributes(), c.UniqueAttributes())
}

func TestSortByLineNumber_StableAndUnnumberedFirst(t *testing.T) {
	t.Parallel()

	in := []ValidationError{
		ValueError("A", "a", 100),
		ValueError("B", "b", 90),
		InternalError("no line"),
		ValueError("C", "c", 95),
		ValueError("D", "d", 90),
	}
	SortByLineNumber(in)

	var got []string
	for _, e := range in {
		got = append(got, e.Detail)
	}
	require.Equal(t, []string{"no line", "b", "d", "c", "a"}, got)
}

func TestCapErrors(t *testing.T) {
	t.Parallel()

	errs := []ValidationError{InternalError("1"), InternalError("2"), InternalError("3")}
	require.Len(t, CapErrors(errs, 2), 2)
	require.Len(t, CapErrors(errs, 0), 3)
	require.Len(t, CapErrors(errs, 10), 3)
}

func TestStatus_IsActive(t *testing.T) {
	t.Parallel()

	require.True(t, StatusStarting.IsActive())
	require.True(t, StatusRunning.IsActive())
	require.False(t, StatusFinishedSuccess.IsActive())
	require.False(t, StatusAborted.IsActive())
}

func TestRegisterResult(t *testing.T) {
	t.Parallel()

	la := LicensingAuthority{ID: 1, Name: "Leeds"}
	ok := Success(AuthorityChanges{Authority: la, Inserted: 2})
	require.True(t, ok.IsSuccess())
	require.Equal(t, []LicensingAuthority{la}, ok.AffectedAuthorities())
	require.Empty(t, ok.Errors())

	fail := Failure(InternalError("boom"))
	require.False(t, fail.IsSuccess())
	require.Len(t, fail.Errors(), 1)
	require.Empty(t, fail.AffectedAuthorities())
}
