// Package convert maps REST payloads to domain types and back.
package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/and161185/phv-register/internal/model"
)

// --- requests (client -> server) ---

// Boolish is a wheelchair flag sent either as a JSON boolean or a string.
// It keeps the raw text so that the converter reports invalid values.
type Boolish string

// UnmarshalJSON accepts true, false and any string.
func (b *Boolish) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		*b = Boolish(data)
		return nil
	case len(data) > 0 && data[0] == '"':
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return fmt.Errorf("wheelchairAccessibleVehicle: %w", err)
		}
		*b = Boolish(s)
		return nil
	default:
		return fmt.Errorf("wheelchairAccessibleVehicle: unsupported value %s", data)
	}
}

// VehicleDetails is one row of an API submission.
type VehicleDetails struct {
	VRM                         string   `json:"vrm"`
	Start                       string   `json:"start"`
	End                         string   `json:"end"`
	Description                 string   `json:"description"`
	LicensingAuthorityName      string   `json:"licensingAuthorityName"`
	LicensePlateNumber          string   `json:"licensePlateNumber"`
	WheelchairAccessibleVehicle *Boolish `json:"wheelchairAccessibleVehicle"`
}

// LicencesRequest is the body of POST /v1/licences.
type LicencesRequest struct {
	VehicleDetails []VehicleDetails `json:"vehicleDetails"`
}

// CSVJobRequest is the body of POST /v1/register-jobs/csv.
type CSVJobRequest struct {
	Bucket   string `json:"bucket"`
	Filename string `json:"filename"`
}

// FromVehicleDetails converts API rows; line numbers are 1-based list positions.
func FromVehicleDetails(in []VehicleDetails) []model.VehicleDto {
	out := make([]model.VehicleDto, 0, len(in))
	for i, v := range in {
		var wheelchair *string
		if v.WheelchairAccessibleVehicle != nil {
			s := string(*v.WheelchairAccessibleVehicle)
			wheelchair = &s
		}
		out = append(out, model.VehicleDto{
			VRM:                    v.VRM,
			Start:                  v.Start,
			End:                    v.End,
			Description:            v.Description,
			LicensingAuthorityName: v.LicensingAuthorityName,
			LicencePlateNumber:     v.LicensePlateNumber,
			WheelchairAccessible:   wheelchair,
			LineNumber:             i + 1,
		})
	}
	return out
}

// DecodeLicencesRequest parses a submission; a missing vehicleDetails list is an error.
func DecodeLicencesRequest(data []byte) (LicencesRequest, error) {
	var req LicencesRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return LicencesRequest{}, fmt.Errorf("decode licences request: %w", err)
	}
	if req.VehicleDetails == nil {
		return LicencesRequest{}, fmt.Errorf("vehicleDetails is required")
	}
	return req, nil
}

// --- responses (server -> client) ---

// RegisterJobNameResponse is returned when a job is accepted.
type RegisterJobNameResponse struct {
	RegisterJobName string `json:"registerJobName"`
}

// ErrorDTO is one job error as reported to clients.
type ErrorDTO struct {
	VRM        string `json:"vrm,omitempty"`
	Detail     string `json:"detail"`
	LineNumber int    `json:"lineNumber,omitempty"`
}

// JobResponse is the status of a register job.
type JobResponse struct {
	Status     string     `json:"status"`
	ErrorCount int        `json:"errorCount"`
	Errors     []ErrorDTO `json:"errors"`
}

// ToJobResponse converts a job, listing at most maxErrors errors (0 means all).
// ErrorCount always reflects the stored total.
func ToJobResponse(job model.RegisterJob, maxErrors int) JobResponse {
	verrs := model.CapErrors(job.Errors, maxErrors)
	out := JobResponse{
		Status:     string(job.Status),
		ErrorCount: len(job.Errors),
		Errors:     make([]ErrorDTO, 0, len(verrs)),
	}
	for _, e := range verrs {
		out.Errors = append(out.Errors, ErrorDTO{VRM: e.VRM, Detail: e.Detail, LineNumber: e.LineNumber})
	}
	return out
}

// LicenceResponse is a stored licence.
type LicenceResponse struct {
	VRM                         string `json:"vrm"`
	Start                       string `json:"start"`
	End                         string `json:"end"`
	Description                 string `json:"description"`
	LicensingAuthorityName      string `json:"licensingAuthorityName"`
	LicensePlateNumber          string `json:"licensePlateNumber"`
	WheelchairAccessibleVehicle *bool  `json:"wheelchairAccessibleVehicle"`
}

// ToLicenceResponses converts stored licences.
func ToLicenceResponses(ls []model.Licence) []LicenceResponse {
	out := make([]LicenceResponse, 0, len(ls))
	for _, l := range ls {
		out = append(out, LicenceResponse{
			VRM:                         l.VRM,
			Start:                       l.ValidFrom.Format(model.DateLayout),
			End:                         l.ValidTo.Format(model.DateLayout),
			Description:                 l.Description,
			LicensingAuthorityName:      l.Authority.Name,
			LicensePlateNumber:          l.LicencePlateNumber,
			WheelchairAccessibleVehicle: l.Wheelchair.Bool(),
		})
	}
	return out
}
