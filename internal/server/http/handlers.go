package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/osteoscope/screening-service/internal/domain"
	"github.com/osteoscope/screening-service/internal/gateway"
	"github.com/osteoscope/screening-service/internal/workflow"
)

// Request body limits.
const (
	maxRequestBodySize = 1 << 20  // 1 MB limit for JSON request bodies
	maxImageUploadSize = 26 << 20 // multipart envelope around the 25 MB image limit
)

// newValidator builds the request validator, reporting field names by their
// JSON tag so error messages match the wire format.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// startWorkflowRequest is the JSON request body for starting a screening workflow.
type startWorkflowRequest struct {
	UserEmail     string `json:"user_email" validate:"required,email"`
	PatientName   string `json:"patient_name" validate:"required"`
	PatientAge    int    `json:"patient_age" validate:"gte=0,lte=120"`
	PatientGender string `json:"patient_gender" validate:"omitempty,max=32"`
}

// startWorkflow handles POST /workflows.
func (s *Server) startWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req startWorkflowRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if err := s.validate.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}

	wf, err := s.workflows.Start(ctx, workflow.StartRequest{
		UserEmail:     req.UserEmail,
		PatientName:   req.PatientName,
		PatientAge:    req.PatientAge,
		PatientGender: req.PatientGender,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, domainWorkflowToResponse(wf))
}

// listWorkflows handles GET /workflows. Results are scoped to the owner given
// by the user_email query parameter, newest first.
func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	userEmail := r.URL.Query().Get("user_email")
	if userEmail == "" {
		writeError(w, http.StatusBadRequest, "user_email query parameter is required")
		return
	}

	wfs, err := s.workflows.List(r.Context(), userEmail)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, listWorkflowsResponse{
		Workflows:  domainWorkflowsToResponses(wfs),
		TotalCount: len(wfs),
	})
}

// getWorkflow handles GET /workflows/{workflowID}.
func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.workflows.Get(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domainWorkflowToResponse(wf))
}

// getWorkflowAudit handles GET /workflows/{workflowID}/audit.
func (s *Server) getWorkflowAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.workflows.Audit(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]auditEntryResponse, len(entries))
	for i := range entries {
		out[i] = domainAuditEntryToResponse(&entries[i])
	}
	writeJSON(w, http.StatusOK, auditTrailResponse{Entries: out, TotalCount: len(out)})
}

// uploadImage handles POST /workflows/{workflowID}/image. The radiograph is
// sent as the "file" part of a multipart form.
func (s *Server) uploadImage(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	r.Body = http.MaxBytesReader(w, r.Body, maxImageUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart form with a \"file\" part is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	wf, err := s.workflows.UploadImage(r.Context(), workflowID, header.Filename, contentType, file)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainWorkflowToResponse(wf))
}

// detectROI handles POST /workflows/{workflowID}/roi/detect.
func (s *Server) detectROI(w http.ResponseWriter, r *http.Request) {
	wf, err := s.workflows.DetectROI(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domainWorkflowToResponse(wf))
}

// approveROI handles POST /workflows/{workflowID}/roi/approve.
func (s *Server) approveROI(w http.ResponseWriter, r *http.Request) {
	wf, err := s.workflows.ApproveROI(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domainWorkflowToResponse(wf))
}

// adjustROI handles POST /workflows/{workflowID}/roi/adjust.
func (s *Server) adjustROI(w http.ResponseWriter, r *http.Request) {
	wf, err := s.workflows.AdjustROI(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domainWorkflowToResponse(wf))
}

// claimPayment handles POST /workflows/{workflowID}/payment/claim.
func (s *Server) claimPayment(w http.ResponseWriter, r *http.Request) {
	wf, err := s.workflows.ClaimPayment(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domainWorkflowToResponse(wf))
}

// listQueue handles GET /admin/queue.
func (s *Server) listQueue(w http.ResponseWriter, r *http.Request) {
	pending, err := s.queue.Pending(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queueResponse{
		Workflows:  domainWorkflowsToResponses(pending),
		TotalCount: len(pending),
	})
}

// approvePayment handles POST /admin/queue/{workflowID}/approve. Approval runs
// the analysis pipeline synchronously; the response carries the completed
// workflow with its analysis ID.
func (s *Server) approvePayment(w http.ResponseWriter, r *http.Request) {
	wf, err := s.queue.Approve(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domainWorkflowToResponse(wf))
}

// rejectPayment handles POST /admin/queue/{workflowID}/reject.
func (s *Server) rejectPayment(w http.ResponseWriter, r *http.Request) {
	wf, err := s.queue.Reject(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domainWorkflowToResponse(wf))
}

// getAnalysis handles GET /analyses/{analysisID}.
func (s *Server) getAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := s.analyses.Get(r.Context(), chi.URLParam(r, "analysisID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// writeValidationError maps request validation failures to a 400 response
// naming the first offending field.
func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		return
	}
	writeError(w, http.StatusBadRequest, "invalid request")
}

// writeDomainError maps domain and gateway errors to appropriate HTTP status
// codes and writes a JSON error response. Internal error details are not
// leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrNotAnXRay):
		var rej *domain.ClassificationRejection
		if errors.As(err, &rej) {
			writeJSON(w, http.StatusUnprocessableEntity, classificationRejectionResponse{
				Error:      "uploaded image is not an x-ray",
				Reason:     rej.Reason,
				Confidence: rej.Confidence,
			})
		} else {
			writeError(w, http.StatusUnprocessableEntity, "uploaded image is not an x-ray")
		}
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrInvalidState):
		var ise *domain.InvalidStateError
		if errors.As(err, &ise) {
			writeError(w, http.StatusConflict, ise.Message)
		} else {
			writeError(w, http.StatusConflict, "conflicting workflow state")
		}
	case errors.Is(err, domain.ErrPipelineFailed):
		writeError(w, http.StatusInternalServerError, "analysis pipeline failed")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusBadGateway, "model provider unavailable")
	default:
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) {
			writeError(w, http.StatusBadGateway, "model provider error")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
