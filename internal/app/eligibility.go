/**
 * @description
 * Eligibility evaluation for the installment schedule. Program events
 * (registration, antenatal visits, birth record) arrive as read-only facts;
 * this file decides when those facts unlock an installment.
 *
 * The ordinal gate is strict: installment N can only unlock once installment
 * N-1 is paid, no matter how early its own criterion is satisfied. Facts are
 * never forgotten, so a criterion satisfied while gated takes effect on the
 * next unlock pass after the predecessor is paid.
 *
 * @dependencies
 * - internal/domain, internal/store: Domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/sahaya/benefits-service/internal/domain"
	"github.com/sahaya/benefits-service/internal/store"
)

// registrationWithinWindow reports whether the pregnancy was registered within
// the program window of the LMP date. Both dates are required.
func registrationWithinWindow(lmpDate, registrationDate *time.Time) bool {
	if lmpDate == nil || registrationDate == nil {
		return false
	}
	delta := registrationDate.Sub(*lmpDate)
	if delta < 0 {
		return false
	}
	return delta <= domain.RegistrationWindowDays*24*time.Hour
}

// CriterionSatisfied evaluates one eligibility criterion against the
// accumulated program facts for a beneficiary.
func CriterionSatisfied(criterion domain.EligibilityCriterion, facts *domain.ProgramFacts) bool {
	if facts == nil {
		return false
	}
	switch criterion {
	case domain.CriterionRegistrationWithin3Months:
		return registrationWithinWindow(facts.LMPDate, facts.RegistrationDate)
	case domain.CriterionANCVisitRecorded:
		return facts.ANCVisitCount > 0
	case domain.CriterionBirthRecorded:
		return facts.BirthRecorded
	default:
		return false
	}
}

// RecordProgramEvent stores an incoming program fact and re-evaluates the
// beneficiary's ledger against the updated facts.
func (s *Service) RecordProgramEvent(ctx context.Context, event domain.ProgramEvent) error {
	switch event.EventType {
	case domain.EventRegistrationRecorded, domain.EventANCVisitRecorded, domain.EventBirthRecorded:
		// known fact
	default:
		return &ValidationError{Field: "event_type", Message: fmt.Sprintf("unknown program event type %q", event.EventType)}
	}
	if event.BeneficiaryID == uuid.Nil {
		return &ValidationError{Field: "beneficiary_id", Message: "beneficiary id is required"}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	// Registration events may carry the LMP date for beneficiaries enrolled
	// without one; without it the first criterion can never be evaluated.
	if event.EventType == domain.EventRegistrationRecorded && event.LMPDate != nil {
		if err := s.repo.UpdateBeneficiaryLMP(ctx, event.BeneficiaryID, *event.LMPDate); err != nil {
			return fmt.Errorf("failed to record LMP date: %w", err)
		}
	}

	if err := s.repo.RecordProgramEvent(ctx, event.BeneficiaryID, event.EventType, occurredAt); err != nil {
		return fmt.Errorf("failed to record program event: %w", err)
	}

	log.Printf("level=info component=service op=record_event event_type=%s beneficiary_id=%s", event.EventType, event.BeneficiaryID)
	return s.runUnlockPass(ctx, event.BeneficiaryID)
}

// runUnlockPass walks the beneficiary's installments in ordinal order and
// marks eligible every locked installment whose gate is open and whose
// criterion holds. Re-running the pass is a no-op for already-advanced
// installments, so duplicate events are harmless.
func (s *Service) runUnlockPass(ctx context.Context, beneficiaryID uuid.UUID) error {
	facts, err := s.repo.FindProgramFacts(ctx, beneficiaryID)
	if err != nil {
		return err
	}
	installments, err := s.repo.FindInstallments(ctx, beneficiaryID)
	if err != nil {
		return err
	}

	for i, inst := range installments {
		if inst.Status != domain.StatusLocked {
			continue
		}
		if inst.Ordinal > 1 {
			// The gate: the predecessor must be fully paid out first.
			if i == 0 || installments[i-1].Status != domain.StatusPaid {
				continue
			}
		}
		if !CriterionSatisfied(inst.Criterion, facts) {
			continue
		}

		if err := s.repo.MarkInstallmentEligible(ctx, beneficiaryID, inst.Ordinal, time.Now().UTC()); err != nil {
			if errors.Is(err, store.ErrStatusConflict) {
				// A concurrent pass already advanced this installment.
				continue
			}
			return err
		}

		inst.Status = domain.StatusEligible
		s.publishTransition(ctx, "benefit.installment.eligible", beneficiaryID, &inst, nil)
		log.Printf("level=info component=service op=unlock outcome=eligible beneficiary_id=%s ordinal=%d criterion=%s", beneficiaryID, inst.Ordinal, inst.Criterion)
	}
	return nil
}

// SweepEligibility re-evaluates every beneficiary that may be holding a gated
// installment. It backstops lost or out-of-order broker events.
func (s *Service) SweepEligibility(ctx context.Context) error {
	candidates, err := s.repo.ListUnlockCandidates(ctx)
	if err != nil {
		return fmt.Errorf("failed to list unlock candidates: %w", err)
	}

	var failures int
	for _, beneficiaryID := range candidates {
		if err := s.runUnlockPass(ctx, beneficiaryID); err != nil {
			failures++
			log.Printf("level=warn component=service op=sweep msg=\"unlock pass failed\" beneficiary_id=%s err=%v", beneficiaryID, err)
		}
	}

	log.Printf("level=info component=service op=sweep candidates=%d failures=%d", len(candidates), failures)
	if failures > 0 {
		return fmt.Errorf("eligibility sweep: %d of %d unlock passes failed", failures, len(candidates))
	}
	return nil
}
