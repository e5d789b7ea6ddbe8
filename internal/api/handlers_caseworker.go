/**
 * @description
 * HTTP handlers for the caseworker review surface: the pending-application
 * queue, approval and rejection, disbursement recording, and the beneficiary
 * roster. All endpoints here require the caseworker or admin role.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5, github.com/google/uuid: Routing and identifiers.
 * - internal/app, internal/domain: Service logic and models.
 */

package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sahaya/benefits-service/internal/domain"
)

type reviewRequest struct {
	BeneficiaryID     uuid.UUID `json:"beneficiary_id"`
	InstallmentNumber int       `json:"installment_number"`
	ReviewNotes       *string   `json:"review_notes,omitempty"`
	TransactionID     string    `json:"transaction_id,omitempty"`
}

type pendingApplicationsResponse struct {
	Applications []domain.PendingApplication `json:"applications"`
	Count        int                         `json:"count"`
}

func decodeReviewRequest(w http.ResponseWriter, r *http.Request) (*reviewRequest, bool) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidationError, "invalid request body", "")
		return nil, false
	}
	if req.BeneficiaryID == uuid.Nil {
		writeError(w, http.StatusBadRequest, codeValidationError, "beneficiary id is required", "beneficiary_id")
		return nil, false
	}
	if req.InstallmentNumber < 1 || req.InstallmentNumber > domain.InstallmentCount {
		writeError(w, http.StatusBadRequest, codeValidationError, "installment number must be 1, 2, or 3", "installment_number")
		return nil, false
	}
	return &req, true
}

// ListPendingApplicationsHandler returns the review queue, oldest first. Rows
// carry full payment details so caseworkers can initiate the bank transfer.
func (h *BenefitHandlers) ListPendingApplicationsHandler(w http.ResponseWriter, r *http.Request) {
	applications, err := h.service.ListPendingApplications(r.Context())
	if err != nil {
		respondServiceError(w, err, codeNotFound)
		return
	}

	writeJSON(w, http.StatusOK, pendingApplicationsResponse{
		Applications: applications,
		Count:        len(applications),
	})
}

// ApproveApplicationHandler approves a submitted application.
func (h *BenefitHandlers) ApproveApplicationHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeReviewRequest(w, r)
	if !ok {
		return
	}

	if err := h.service.Approve(r.Context(), req.BeneficiaryID, req.InstallmentNumber); err != nil {
		log.Printf("level=warn component=api endpoint=approve outcome=reject beneficiary_id=%s ordinal=%d err=%v", req.BeneficiaryID, req.InstallmentNumber, err)
		respondServiceError(w, err, codeNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.StatusApproved)})
}

// RejectApplicationHandler rejects a submitted application and reopens the
// installment for re-application.
func (h *BenefitHandlers) RejectApplicationHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeReviewRequest(w, r)
	if !ok {
		return
	}

	if err := h.service.Reject(r.Context(), req.BeneficiaryID, req.InstallmentNumber, req.ReviewNotes); err != nil {
		log.Printf("level=warn component=api endpoint=reject outcome=reject beneficiary_id=%s ordinal=%d err=%v", req.BeneficiaryID, req.InstallmentNumber, err)
		respondServiceError(w, err, codeNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.StatusEligible)})
}

// MarkPaidHandler records the external disbursement for an approved installment.
func (h *BenefitHandlers) MarkPaidHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeReviewRequest(w, r)
	if !ok {
		return
	}

	installment, err := h.service.MarkPaid(r.Context(), req.BeneficiaryID, req.InstallmentNumber, req.TransactionID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=mark_paid outcome=reject beneficiary_id=%s ordinal=%d err=%v", req.BeneficiaryID, req.InstallmentNumber, err)
		respondServiceError(w, err, codeNotFound)
		return
	}

	writeJSON(w, http.StatusOK, installment)
}

// ListBeneficiariesHandler returns the enrolled-beneficiary roster.
func (h *BenefitHandlers) ListBeneficiariesHandler(w http.ResponseWriter, r *http.Request) {
	beneficiaries, err := h.service.ListBeneficiaries(r.Context())
	if err != nil {
		respondServiceError(w, err, codeNotFound)
		return
	}

	writeJSON(w, http.StatusOK, beneficiaries)
}

// GetBeneficiarySummaryHandler returns one beneficiary's ledger, addressed by
// internal id. Payment details are masked here just like the self-service view.
func (h *BenefitHandlers) GetBeneficiarySummaryHandler(w http.ResponseWriter, r *http.Request) {
	beneficiaryID, err := uuid.Parse(chi.URLParam(r, "beneficiaryID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidationError, "invalid beneficiary id", "beneficiary_id")
		return
	}

	summary, err := h.service.GetSummaryForBeneficiary(r.Context(), beneficiaryID)
	if err != nil {
		respondServiceError(w, err, codeNotFound)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
