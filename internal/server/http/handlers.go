// Package httpserver exposes the register REST API.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/phv-register/internal/convert"
	"github.com/and161185/phv-register/internal/errs"
	"github.com/and161185/phv-register/internal/model"
	"github.com/and161185/phv-register/internal/worker"
)

const (
	// CorrelationHeader carries the caller supplied correlation id.
	CorrelationHeader = "X-Correlation-ID"
	// EmailHeader carries the address notified when an uploaded file is processed.
	EmailHeader = "X-Uploader-Email"
)

// Service is the register application used by handlers.
type Service interface {
	SubmitCSV(ctx context.Context, bucket, file, correlationID string) (string, error)
	UploadCSV(ctx context.Context, uploaderID uuid.UUID, email, bucket, file string, r io.Reader, correlationID string) (string, error)
	SubmitAPI(ctx context.Context, uploaderID uuid.UUID, rows []model.VehicleDto, correlationID string) (string, error)
	JobByName(ctx context.Context, name string) (*model.RegisterJob, error)
	LicencesByVRM(ctx context.Context, vrm string) ([]model.Licence, error)
}

// Handler wires the Service into HTTP handlers.
type Handler struct {
	svc            Service
	maxErrors      int
	maxBodyBytes   int64
	maxUploadBytes int64
	log            *zap.Logger
}

type errorBody struct {
	Error string `json:"error"`
}

type licencesBody struct {
	VRM      string                    `json:"vrm"`
	Licences []convert.LicenceResponse `json:"licences"`
}

func (h *Handler) submitLicences(w http.ResponseWriter, r *http.Request) {
	uploaderID, ok := UploaderIDFromCtx(r.Context())
	if !ok {
		writeError(w, errs.ErrUnauthorized)
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "cannot read request body"})
		return
	}
	req, err := convert.DecodeLicencesRequest(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	name, err := h.svc.SubmitAPI(r.Context(), uploaderID, convert.FromVehicleDetails(req.VehicleDetails), correlationID(r))
	if err != nil {
		h.logFailure(r, "submit licences", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, convert.RegisterJobNameResponse{RegisterJobName: name})
}

func (h *Handler) submitCSV(w http.ResponseWriter, r *http.Request) {
	var req convert.CSVJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	name, err := h.svc.SubmitCSV(r.Context(), req.Bucket, req.Filename, correlationID(r))
	if err != nil {
		h.logFailure(r, "submit csv job", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, convert.RegisterJobNameResponse{RegisterJobName: name})
}

func (h *Handler) uploadCSV(w http.ResponseWriter, r *http.Request) {
	uploaderID, ok := UploaderIDFromCtx(r.Context())
	if !ok {
		writeError(w, errs.ErrUnauthorized)
		return
	}
	body := http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	name, err := h.svc.UploadCSV(r.Context(), uploaderID, r.Header.Get(EmailHeader),
		chi.URLParam(r, "bucket"), chi.URLParam(r, "filename"), body, correlationID(r))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "uploaded file too large"})
			return
		}
		h.logFailure(r, "upload csv", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, convert.RegisterJobNameResponse{RegisterJobName: name})
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.JobByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.logFailure(r, "get register job", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToJobResponse(*job, h.maxErrors))
}

func (h *Handler) getVehicleLicences(w http.ResponseWriter, r *http.Request) {
	vrm := chi.URLParam(r, "vrm")
	ls, err := h.svc.LicencesByVRM(r.Context(), vrm)
	if err != nil {
		h.logFailure(r, "get vehicle licences", err)
		writeError(w, err)
		return
	}
	norm := vrm
	if len(ls) > 0 {
		norm = ls[0].VRM
	}
	writeJSON(w, http.StatusOK, licencesBody{VRM: norm, Licences: convert.ToLicenceResponses(ls)})
}

func (h *Handler) logFailure(r *http.Request, op string, err error) {
	if statusOf(err) < http.StatusInternalServerError {
		return
	}
	h.log.Error(op, zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
}

func correlationID(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(CorrelationHeader)); v != "" {
		return v
	}
	if v := middleware.GetReqID(r.Context()); v != "" {
		return v
	}
	return uuid.Must(uuid.NewV4()).String()
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrActiveJobExists):
		return http.StatusNotAcceptable
	case errors.Is(err, errs.ErrJobNameConflict):
		return http.StatusConflict
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusOf(err)
	msg := err.Error()
	switch code {
	case http.StatusInternalServerError:
		msg = "internal error"
	case http.StatusUnauthorized:
		msg = "unauthorized"
	case http.StatusNotAcceptable:
		msg = "Previous upload for the same licensing authority is still being processed"
	}
	writeJSON(w, code, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
