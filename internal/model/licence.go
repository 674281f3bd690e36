// Package model defines domain entities used by services and repositories.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// DateLayout is the canonical textual form of licence dates.
const DateLayout = "2006-01-02"

// Licence descriptions accepted by the register.
const (
	DescriptionTaxi = "taxi"
	DescriptionPHV  = "PHV"
)

// Wheelchair is the three-valued wheelchair accessibility flag.
type Wheelchair int8

const (
	WheelchairUnknown Wheelchair = iota
	WheelchairYes
	WheelchairNo
)

// ParseWheelchair accepts true/false in any case; empty input is Unknown.
func ParseWheelchair(s string) (Wheelchair, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return WheelchairUnknown, nil
	case "true":
		return WheelchairYes, nil
	case "false":
		return WheelchairNo, nil
	default:
		return WheelchairUnknown, fmt.Errorf("invalid boolean %q", s)
	}
}

// WheelchairFromBool maps a nullable boolean column to the flag.
func WheelchairFromBool(b *bool) Wheelchair {
	switch {
	case b == nil:
		return WheelchairUnknown
	case *b:
		return WheelchairYes
	default:
		return WheelchairNo
	}
}

// Bool maps the flag to a nullable boolean column (nil for Unknown).
func (w Wheelchair) Bool() *bool {
	switch w {
	case WheelchairYes:
		v := true
		return &v
	case WheelchairNo:
		v := false
		return &v
	default:
		return nil
	}
}

func (w Wheelchair) String() string {
	switch w {
	case WheelchairYes:
		return "yes"
	case WheelchairNo:
		return "no"
	default:
		return "unknown"
	}
}

// LicensingAuthority is the partition key of the register.
type LicensingAuthority struct {
	ID   int
	Name string
}

// Licence is a single taxi/PHV licence held in the register.
type Licence struct {
	ID                 int64     // 0 until inserted
	UploaderID         uuid.UUID // uploader that last wrote the row
	VRM                string
	LicencePlateNumber string
	Description        string
	ValidFrom          time.Time
	ValidTo            time.Time
	Wheelchair         Wheelchair
	Authority          LicensingAuthority // only Name is set before the register context resolves it
}

// UniqueLicenceAttributes identifies one logical licence within a licensing authority.
type UniqueLicenceAttributes struct {
	VRM                string
	LicencePlateNumber string
	ValidFrom          string
	ValidTo            string
}

// UniqueAttributes derives the identifying key of l.
func (l Licence) UniqueAttributes() UniqueLicenceAttributes {
	return UniqueLicenceAttributes{
		VRM:                l.VRM,
		LicencePlateNumber: l.LicencePlateNumber,
		ValidFrom:          l.ValidFrom.Format(DateLayout),
		ValidTo:            l.ValidTo.Format(DateLayout),
	}
}

// SameMutableAttributes reports whether description and accessibility match.
func (l Licence) SameMutableAttributes(o Licence) bool {
	return l.Description == o.Description && l.Wheelchair == o.Wheelchair
}

// LicenceChanges is the outcome of reconciling a submission against the register.
type LicenceChanges struct {
	Insert []Licence
	Update []Licence
	Delete []int64
}

// Empty reports whether there is nothing to write.
func (c LicenceChanges) Empty() bool {
	return len(c.Insert) == 0 && len(c.Update) == 0 && len(c.Delete) == 0
}

// VehicleDto is a raw submitted row before validation.
type VehicleDto struct {
	VRM                    string
	Start                  string
	End                    string
	Description            string
	LicensingAuthorityName string
	LicencePlateNumber     string
	WheelchairAccessible   *string // nil when the field was absent
	LineNumber             int     // 1-based position in the source
}
