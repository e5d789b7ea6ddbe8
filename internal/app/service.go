/**
 * @description
 * This file contains the core business logic for the benefits-service. The `Service`
 * struct orchestrates the benefit-installment ledger: enrollment, the beneficiary
 * summary and application flow, and the caseworker review flow (approve, reject,
 * mark paid).
 *
 * Key features:
 * - Enforces the ordinal gate: installment N can only become eligible once
 *   installment N-1 is paid.
 * - Guards every status transition with a conditional update so concurrent
 *   mutations of the same installment cannot both succeed.
 * - Publishes status-transition events to RabbitMQ fire-and-forget; publish
 *   failures never roll back a committed transition.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For event publication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sahaya/benefits-service/internal/domain"
	"github.com/sahaya/benefits-service/internal/store"
	"github.com/sahaya/benefits-service/pkg/rabbitmq"
)

var (
	ErrInstallmentNotEligible  = errors.New("installment is not currently eligible to apply for")
	ErrApplicationNotSubmitted = errors.New("installment has no submitted application")
	ErrInstallmentNotApproved  = errors.New("installment has not been approved for payment")
	ErrInstallmentAlreadyPaid  = errors.New("installment has already been paid")
	ErrRateLimited             = errors.New("too many application attempts; try again shortly")
)

// ValidationError reports a malformed or missing request field by name so the
// client can render field-level feedback.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ApplyRateLimiter throttles installment applications per beneficiary.
type ApplyRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for the installment ledger.
type Service struct {
	repo          store.Repository
	eventProducer rabbitmq.Publisher
	eventExchange string

	applyLimiter            ApplyRateLimiter
	applyRateLimitPerMinute int
}

// NewService creates a new benefits service instance.
func NewService(repo store.Repository, producer rabbitmq.Publisher, eventExchange string) *Service {
	return &Service{
		repo:          repo,
		eventProducer: producer,
		eventExchange: eventExchange,
	}
}

// SetApplyRateLimiter enables distributed throttling of the apply operation.
// Without it (or with a zero limit) applications are not throttled.
func (s *Service) SetApplyRateLimiter(limiter ApplyRateLimiter, limitPerMinute int) {
	s.applyLimiter = limiter
	s.applyRateLimitPerMinute = limitPerMinute
}

// Enroll creates the beneficiary and its three installments. Installment 1
// starts eligible when the registration falls within the program window of the
// LMP date; everything else starts locked. Enrollment is idempotent: the
// returned bool reports whether a new ledger was created.
func (s *Service) Enroll(ctx context.Context, req domain.EnrollRequest) (*domain.Beneficiary, bool, error) {
	if strings.TrimSpace(req.SubjectID) == "" {
		return nil, false, &ValidationError{Field: "subject_id", Message: "subject id is required"}
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, false, &ValidationError{Field: "name", Message: "name is required"}
	}

	beneficiary := &domain.Beneficiary{
		ID:               uuid.New(),
		SubjectID:        strings.TrimSpace(req.SubjectID),
		Name:             strings.TrimSpace(req.Name),
		Phone:            strings.TrimSpace(req.Phone),
		Email:            strings.TrimSpace(req.Email),
		LMPDate:          req.LMPDate,
		RegistrationDate: req.RegistrationDate,
	}

	installments := make([]domain.Installment, 0, domain.InstallmentCount)
	for _, entry := range domain.Schedule {
		inst := domain.Installment{
			BeneficiaryID: beneficiary.ID,
			Ordinal:       entry.Ordinal,
			Amount:        entry.Amount,
			Criterion:     entry.Criterion,
			Description:   entry.Description,
			Status:        domain.StatusLocked,
		}
		if entry.Ordinal == 1 && registrationWithinWindow(req.LMPDate, req.RegistrationDate) {
			inst.Status = domain.StatusEligible
			inst.EligibilityDate = req.RegistrationDate
		}
		installments = append(installments, inst)
	}

	created, err := s.repo.CreateBeneficiaryWithInstallments(ctx, beneficiary, installments)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create benefit ledger: %w", err)
	}
	if !created {
		existing, err := s.repo.FindBeneficiaryBySubject(ctx, beneficiary.SubjectID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	if req.RegistrationDate != nil {
		if err := s.repo.RecordProgramEvent(ctx, beneficiary.ID, domain.EventRegistrationRecorded, *req.RegistrationDate); err != nil {
			log.Printf("level=warn component=service op=enroll msg=\"failed to record registration event\" beneficiary_id=%s err=%v", beneficiary.ID, err)
		}
	}

	log.Printf("level=info component=service op=enroll outcome=created beneficiary_id=%s installment_1_status=%s", beneficiary.ID, installments[0].Status)
	return beneficiary, true, nil
}

// GetSummary returns the beneficiary-facing ledger view. The stored account
// number is masked down to its last four digits.
func (s *Service) GetSummary(ctx context.Context, subjectID string) (*domain.BenefitSummary, error) {
	beneficiary, err := s.repo.FindBeneficiaryBySubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	return s.buildSummary(ctx, beneficiary)
}

// GetSummaryForBeneficiary is the caseworker view of one ledger, addressed by
// internal id. Payment details are masked here as well.
func (s *Service) GetSummaryForBeneficiary(ctx context.Context, beneficiaryID uuid.UUID) (*domain.BenefitSummary, error) {
	beneficiary, err := s.repo.FindBeneficiaryByID(ctx, beneficiaryID)
	if err != nil {
		return nil, err
	}
	return s.buildSummary(ctx, beneficiary)
}

func (s *Service) buildSummary(ctx context.Context, beneficiary *domain.Beneficiary) (*domain.BenefitSummary, error) {
	installments, err := s.repo.FindInstallments(ctx, beneficiary.ID)
	if err != nil {
		return nil, err
	}

	summary := &domain.BenefitSummary{Installments: installments}
	unlocked := 0
	for _, inst := range installments {
		summary.TotalAmount += inst.Amount
		if inst.Status != domain.StatusLocked {
			summary.TotalEligible += inst.Amount
			unlocked++
		}
		if inst.Status == domain.StatusPaid {
			summary.TotalPaid += inst.Amount
		}
	}
	summary.Progress = fmt.Sprintf("%d/%d", unlocked, len(installments))

	if beneficiary.PaymentDetails != nil {
		masked := beneficiary.PaymentDetails.Masked()
		summary.PaymentDetails = &masked
	}
	return summary, nil
}

// ListBeneficiaries returns the enrolled-beneficiary roster for caseworkers.
func (s *Service) ListBeneficiaries(ctx context.Context) ([]domain.Beneficiary, error) {
	return s.repo.ListBeneficiaries(ctx)
}

// Apply submits an application for an eligible installment. For ordinal 1 the
// request must carry valid bank details, which are persisted for reuse by the
// later installments.
func (s *Service) Apply(ctx context.Context, subjectID string, ordinal int, req domain.ApplyRequest) (*domain.Installment, error) {
	beneficiary, err := s.repo.FindBeneficiaryBySubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	if s.applyLimiter != nil && s.applyRateLimitPerMinute > 0 {
		count, _, limitErr := s.applyLimiter.ConsumeRateLimit(ctx, "benefits_apply", beneficiary.ID.String(), s.applyRateLimitPerMinute, time.Minute)
		if limitErr != nil {
			// Fail open: a limiter outage must not block applications.
			log.Printf("level=warn component=service op=apply msg=\"rate limiter unavailable\" beneficiary_id=%s err=%v", beneficiary.ID, limitErr)
		} else if count > s.applyRateLimitPerMinute {
			return nil, ErrRateLimited
		}
	}

	if ordinal < 1 || ordinal > domain.InstallmentCount {
		return nil, &ValidationError{Field: "installment_number", Message: "installment number must be 1, 2, or 3"}
	}

	installment, err := s.repo.FindInstallment(ctx, beneficiary.ID, ordinal)
	if err != nil {
		return nil, err
	}
	switch installment.Status {
	case domain.StatusEligible:
		// proceed
	case domain.StatusPaid:
		return nil, ErrInstallmentAlreadyPaid
	default:
		return nil, ErrInstallmentNotEligible
	}

	var details *domain.PaymentDetails
	if ordinal == 1 {
		validated, err := validatePaymentDetails(req)
		if err != nil {
			return nil, err
		}
		details = &validated
	} else if beneficiary.PaymentDetails == nil {
		return nil, &ValidationError{Field: "payment_details", Message: "no bank details on record; apply for installment 1 first"}
	}

	// Claim the installment first: the conditional update is the gate that
	// makes a concurrent application lose with a conflict instead of a double write.
	if err := s.repo.TransitionInstallmentStatus(ctx, beneficiary.ID, ordinal, domain.StatusEligible, domain.StatusApplicationSubmitted); err != nil {
		return nil, err
	}

	if details != nil {
		if err := s.repo.SavePaymentDetails(ctx, beneficiary.ID, *details); err != nil {
			s.revertSubmission(ctx, beneficiary.ID, ordinal)
			return nil, fmt.Errorf("failed to store payment details: %w", err)
		}
	}

	application := &domain.Application{
		ID:            uuid.New(),
		BeneficiaryID: beneficiary.ID,
		Ordinal:       ordinal,
		Outcome:       domain.OutcomePending,
		SubmittedAt:   time.Now().UTC(),
	}
	if err := s.repo.CreateApplication(ctx, application); err != nil {
		if !errors.Is(err, store.ErrOpenApplicationExists) {
			s.revertSubmission(ctx, beneficiary.ID, ordinal)
			return nil, fmt.Errorf("failed to create application: %w", err)
		}
		// A leftover open application for this installment means the previous
		// submission attempt already holds the slot; reuse it.
		existing, findErr := s.repo.FindOpenApplication(ctx, beneficiary.ID, ordinal)
		if findErr != nil {
			log.Printf("level=warn component=service op=apply msg=\"open application present but lookup failed\" beneficiary_id=%s ordinal=%d err=%v", beneficiary.ID, ordinal, findErr)
		} else {
			application = existing
			log.Printf("level=warn component=service op=apply msg=\"reusing open application\" application_id=%s beneficiary_id=%s ordinal=%d", application.ID, beneficiary.ID, ordinal)
		}
	}

	installment.Status = domain.StatusApplicationSubmitted
	s.publishTransition(ctx, "benefit.application.submitted", beneficiary.ID, installment, nil)

	log.Printf("level=info component=service op=apply outcome=submitted beneficiary_id=%s ordinal=%d", beneficiary.ID, ordinal)
	return installment, nil
}

// revertSubmission compensates a claimed installment when a follow-up write of
// the apply flow fails.
func (s *Service) revertSubmission(ctx context.Context, beneficiaryID uuid.UUID, ordinal int) {
	if err := s.repo.TransitionInstallmentStatus(ctx, beneficiaryID, ordinal, domain.StatusApplicationSubmitted, domain.StatusEligible); err != nil {
		log.Printf("level=error component=service op=apply msg=\"failed to revert submission after write failure\" beneficiary_id=%s ordinal=%d err=%v", beneficiaryID, ordinal, err)
	}
}

func validatePaymentDetails(req domain.ApplyRequest) (domain.PaymentDetails, error) {
	holderName := strings.TrimSpace(req.AccountHolderName)
	accountNumber := strings.TrimSpace(req.AccountNumber)
	confirm := strings.TrimSpace(req.ConfirmAccountNumber)
	ifsc := strings.ToUpper(strings.TrimSpace(req.IFSCCode))
	bankName := strings.TrimSpace(req.BankName)

	if holderName == "" {
		return domain.PaymentDetails{}, &ValidationError{Field: "account_holder_name", Message: "account holder name is required"}
	}
	if accountNumber == "" {
		return domain.PaymentDetails{}, &ValidationError{Field: "account_number", Message: "account number is required"}
	}
	if confirm != accountNumber {
		return domain.PaymentDetails{}, &ValidationError{Field: "confirm_account_number", Message: "account numbers do not match"}
	}
	if !domain.ValidIFSCCode(ifsc) {
		return domain.PaymentDetails{}, &ValidationError{Field: "ifsc_code", Message: "invalid IFSC code format"}
	}
	if bankName == "" {
		return domain.PaymentDetails{}, &ValidationError{Field: "bank_name", Message: "bank name is required"}
	}

	return domain.PaymentDetails{
		AccountHolderName: holderName,
		AccountNumber:     accountNumber,
		IFSCCode:          ifsc,
		BankName:          bankName,
	}, nil
}

// ListPendingApplications returns the caseworker review queue, oldest first.
func (s *Service) ListPendingApplications(ctx context.Context) ([]domain.PendingApplication, error) {
	return s.repo.ListPendingApplications(ctx)
}

// Approve moves a submitted application to the approved-awaiting-payment state.
func (s *Service) Approve(ctx context.Context, beneficiaryID uuid.UUID, ordinal int) error {
	installment, err := s.repo.FindInstallment(ctx, beneficiaryID, ordinal)
	if err != nil {
		return err
	}
	if installment.Status != domain.StatusApplicationSubmitted {
		return ErrApplicationNotSubmitted
	}

	if err := s.repo.TransitionInstallmentStatus(ctx, beneficiaryID, ordinal, domain.StatusApplicationSubmitted, domain.StatusApproved); err != nil {
		return err
	}

	if err := s.repo.ResolveApplication(ctx, beneficiaryID, ordinal, domain.OutcomeApproved, nil, time.Now().UTC()); err != nil {
		log.Printf("level=warn component=service op=approve msg=\"installment approved but application record not resolved\" beneficiary_id=%s ordinal=%d err=%v", beneficiaryID, ordinal, err)
	}

	installment.Status = domain.StatusApproved
	s.publishTransition(ctx, "benefit.application.approved", beneficiaryID, installment, nil)

	log.Printf("level=info component=service op=approve outcome=approved beneficiary_id=%s ordinal=%d", beneficiaryID, ordinal)
	return nil
}

// Reject returns a submitted application to the eligible state so the
// beneficiary can re-apply. Review notes are optional.
func (s *Service) Reject(ctx context.Context, beneficiaryID uuid.UUID, ordinal int, reviewNotes *string) error {
	installment, err := s.repo.FindInstallment(ctx, beneficiaryID, ordinal)
	if err != nil {
		return err
	}
	if installment.Status != domain.StatusApplicationSubmitted {
		return ErrApplicationNotSubmitted
	}

	if err := s.repo.TransitionInstallmentStatus(ctx, beneficiaryID, ordinal, domain.StatusApplicationSubmitted, domain.StatusEligible); err != nil {
		return err
	}

	if err := s.repo.ResolveApplication(ctx, beneficiaryID, ordinal, domain.OutcomeRejected, reviewNotes, time.Now().UTC()); err != nil {
		log.Printf("level=warn component=service op=reject msg=\"installment rejected but application record not resolved\" beneficiary_id=%s ordinal=%d err=%v", beneficiaryID, ordinal, err)
	}

	installment.Status = domain.StatusEligible
	s.publishTransition(ctx, "benefit.application.rejected", beneficiaryID, installment, nil)

	log.Printf("level=info component=service op=reject outcome=rejected beneficiary_id=%s ordinal=%d", beneficiaryID, ordinal)
	return nil
}

// MarkPaid completes an approved installment with the external transaction
// reference, then tries to unlock the successor installment.
func (s *Service) MarkPaid(ctx context.Context, beneficiaryID uuid.UUID, ordinal int, transactionID string) (*domain.Installment, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, &ValidationError{Field: "transaction_id", Message: "transaction id is required"}
	}

	installment, err := s.repo.FindInstallment(ctx, beneficiaryID, ordinal)
	if err != nil {
		return nil, err
	}
	switch installment.Status {
	case domain.StatusApproved:
		// proceed
	case domain.StatusPaid:
		return nil, ErrInstallmentAlreadyPaid
	default:
		return nil, ErrInstallmentNotApproved
	}

	paidAt := time.Now().UTC()
	if err := s.repo.MarkInstallmentPaid(ctx, beneficiaryID, ordinal, transactionID, paidAt); err != nil {
		return nil, err
	}

	installment.Status = domain.StatusPaid
	installment.PaidDate = &paidAt
	installment.TransactionID = &transactionID
	s.publishTransition(ctx, "benefit.installment.paid", beneficiaryID, installment, &transactionID)

	// The successor's criterion may have been satisfied while it was gated.
	if err := s.runUnlockPass(ctx, beneficiaryID); err != nil {
		log.Printf("level=warn component=service op=mark_paid msg=\"unlock pass failed after payment\" beneficiary_id=%s err=%v", beneficiaryID, err)
	}

	log.Printf("level=info component=service op=mark_paid outcome=paid beneficiary_id=%s ordinal=%d transaction_id=%s", beneficiaryID, ordinal, transactionID)
	return installment, nil
}

// publishTransition emits a status-transition notification. Fire-and-forget:
// a publish failure is logged and never unwinds the ledger write.
func (s *Service) publishTransition(ctx context.Context, routingKey string, beneficiaryID uuid.UUID, installment *domain.Installment, transactionID *string) {
	if s.eventProducer == nil {
		return
	}
	payload := domain.InstallmentStatusPayload{
		BeneficiaryID: beneficiaryID,
		Ordinal:       installment.Ordinal,
		Amount:        installment.Amount,
		Status:        installment.Status,
		TransactionID: transactionID,
		Timestamp:     time.Now().UTC(),
	}
	if err := s.eventProducer.Publish(ctx, s.eventExchange, routingKey, payload); err != nil {
		log.Printf("level=warn component=service msg=\"event publish failed\" routing_key=%s beneficiary_id=%s err=%v", routingKey, beneficiaryID, err)
	}
}
