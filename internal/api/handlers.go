/**
 * @description
 * This file contains the HTTP handlers for the beneficiary-facing API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * Error bodies follow one shape everywhere: {"error": ..., "code": ..., "field": ...?}
 * so clients can branch on `code` instead of parsing messages.
 *
 * @dependencies
 * - encoding/json, errors, log, net/http, strconv: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sahaya/benefits-service/internal/app"
	"github.com/sahaya/benefits-service/internal/domain"
	"github.com/sahaya/benefits-service/internal/store"
)

// Error codes returned in the `code` field of error responses.
const (
	codeNotFound        = "not_found"
	codeNotEnrolled     = "not_enrolled"
	codeValidationError = "validation_error"
	codeStateError      = "state_error"
	codeConflict        = "conflict"
	codeRateLimited     = "rate_limited"
	codeInternalError   = "internal_error"
)

// BenefitHandlers holds the application service that handlers will use.
type BenefitHandlers struct {
	service *app.Service
}

// NewBenefitHandlers creates a new instance of BenefitHandlers.
func NewBenefitHandlers(service *app.Service) *BenefitHandlers {
	return &BenefitHandlers{service: service}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("level=error component=api msg=\"failed to encode response\" err=%v", err)
		}
	}
}

func writeError(w http.ResponseWriter, status int, code, message, field string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code, Field: field})
}

// respondServiceError maps service and store errors to the uniform error body.
// notFoundCode lets the summary endpoints report `not_enrolled` instead of the
// generic `not_found`.
func respondServiceError(w http.ResponseWriter, err error, notFoundCode string) {
	var validationErr *app.ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, codeValidationError, validationErr.Message, validationErr.Field)
	case errors.Is(err, store.ErrBeneficiaryNotFound):
		writeError(w, http.StatusNotFound, notFoundCode, "beneficiary is not enrolled in the program", "")
	case errors.Is(err, store.ErrInstallmentNotFound), errors.Is(err, store.ErrApplicationNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error(), "")
	case errors.Is(err, app.ErrInstallmentNotEligible),
		errors.Is(err, app.ErrApplicationNotSubmitted),
		errors.Is(err, app.ErrInstallmentNotApproved),
		errors.Is(err, app.ErrInstallmentAlreadyPaid):
		writeError(w, http.StatusConflict, codeStateError, err.Error(), "")
	case errors.Is(err, store.ErrStatusConflict), errors.Is(err, store.ErrOpenApplicationExists):
		writeError(w, http.StatusConflict, codeConflict, "the installment was modified concurrently; refresh and retry", "")
	case errors.Is(err, app.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, codeRateLimited, err.Error(), "")
	default:
		log.Printf("level=error component=api msg=\"unhandled service error\" err=%v", err)
		writeError(w, http.StatusInternalServerError, codeInternalError, "an internal error occurred", "")
	}
}

// GetSummaryHandler returns the authenticated beneficiary's ledger summary.
func (h *BenefitHandlers) GetSummaryHandler(w http.ResponseWriter, r *http.Request) {
	subject, ok := GetAuthSubject(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, codeInternalError, "could not get subject from context", "")
		return
	}

	summary, err := h.service.GetSummary(r.Context(), subject)
	if err != nil {
		respondServiceError(w, err, codeNotEnrolled)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// ApplyHandler submits an application for the installment named in the URL.
func (h *BenefitHandlers) ApplyHandler(w http.ResponseWriter, r *http.Request) {
	subject, ok := GetAuthSubject(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, codeInternalError, "could not get subject from context", "")
		return
	}

	ordinal, err := strconv.Atoi(chi.URLParam(r, "installmentNumber"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidationError, "installment number must be an integer", "installment_number")
		return
	}

	var req domain.ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidationError, "invalid request body", "")
		return
	}

	installment, err := h.service.Apply(r.Context(), subject, ordinal, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=apply outcome=reject subject=%s ordinal=%d err=%v", subject, ordinal, err)
		respondServiceError(w, err, codeNotEnrolled)
		return
	}

	writeJSON(w, http.StatusOK, installment)
}

// EnrollHandler creates the benefit ledger for a newly registered pregnancy.
// Called service-to-service by the registration service; idempotent.
func (h *BenefitHandlers) EnrollHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidationError, "invalid request body", "")
		return
	}

	beneficiary, created, err := h.service.Enroll(r.Context(), req)
	if err != nil {
		respondServiceError(w, err, codeNotFound)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, beneficiary)
}
