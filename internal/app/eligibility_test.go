package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sahaya/benefits-service/internal/domain"
)

func datePtr(t time.Time) *time.Time {
	return &t
}

func TestCriterionSatisfied(t *testing.T) {
	lmp := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name      string
		criterion domain.EligibilityCriterion
		facts     *domain.ProgramFacts
		want      bool
	}{
		{
			name:      "registration 60 days after lmp",
			criterion: domain.CriterionRegistrationWithin3Months,
			facts:     &domain.ProgramFacts{LMPDate: datePtr(lmp), RegistrationDate: datePtr(lmp.AddDate(0, 0, 60))},
			want:      true,
		},
		{
			name:      "registration on the window boundary",
			criterion: domain.CriterionRegistrationWithin3Months,
			facts:     &domain.ProgramFacts{LMPDate: datePtr(lmp), RegistrationDate: datePtr(lmp.AddDate(0, 0, 84))},
			want:      true,
		},
		{
			name:      "registration past the window",
			criterion: domain.CriterionRegistrationWithin3Months,
			facts:     &domain.ProgramFacts{LMPDate: datePtr(lmp), RegistrationDate: datePtr(lmp.AddDate(0, 0, 100))},
			want:      false,
		},
		{
			name:      "registration before lmp",
			criterion: domain.CriterionRegistrationWithin3Months,
			facts:     &domain.ProgramFacts{LMPDate: datePtr(lmp), RegistrationDate: datePtr(lmp.AddDate(0, 0, -5))},
			want:      false,
		},
		{
			name:      "registration date missing",
			criterion: domain.CriterionRegistrationWithin3Months,
			facts:     &domain.ProgramFacts{LMPDate: datePtr(lmp)},
			want:      false,
		},
		{
			name:      "anc visit recorded",
			criterion: domain.CriterionANCVisitRecorded,
			facts:     &domain.ProgramFacts{ANCVisitCount: 1},
			want:      true,
		},
		{
			name:      "no anc visit",
			criterion: domain.CriterionANCVisitRecorded,
			facts:     &domain.ProgramFacts{},
			want:      false,
		},
		{
			name:      "birth recorded",
			criterion: domain.CriterionBirthRecorded,
			facts:     &domain.ProgramFacts{BirthRecorded: true},
			want:      true,
		},
		{
			name:      "nil facts",
			criterion: domain.CriterionBirthRecorded,
			facts:     nil,
			want:      false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CriterionSatisfied(tc.criterion, tc.facts); got != tc.want {
				t.Fatalf("CriterionSatisfied(%s) = %v, want %v", tc.criterion, got, tc.want)
			}
		})
	}
}

func TestUnlockPass_GateBlocksUntilPredecessorPaid(t *testing.T) {
	beneficiary := newTestBeneficiary()
	// Birth recorded before the second installment was ever paid: the third
	// installment's criterion holds but its gate must stay closed.
	repo := &ledgerRepoStub{
		beneficiary:  beneficiary,
		installments: newLedger(beneficiary.ID, domain.StatusPaid, domain.StatusLocked, domain.StatusLocked),
		facts:        &domain.ProgramFacts{ANCVisitCount: 1, BirthRecorded: true},
	}
	service := NewService(repo, &publisherStub{}, "sahaya.events")

	if err := service.runUnlockPass(context.Background(), beneficiary.ID); err != nil {
		t.Fatalf("expected unlock pass to succeed, got %v", err)
	}
	if len(repo.eligibleMarked) != 1 || repo.eligibleMarked[0] != 2 {
		t.Fatalf("expected only installment 2 to unlock, got %v", repo.eligibleMarked)
	}
	if repo.installments[2].Status != domain.StatusLocked {
		t.Fatalf("expected installment 3 to stay locked, got %q", repo.installments[2].Status)
	}
}

func TestUnlockPass_ThirdUnlocksAfterSecondPaid(t *testing.T) {
	beneficiary := newTestBeneficiary()
	repo := &ledgerRepoStub{
		beneficiary:  beneficiary,
		installments: newLedger(beneficiary.ID, domain.StatusPaid, domain.StatusPaid, domain.StatusLocked),
		facts:        &domain.ProgramFacts{ANCVisitCount: 2, BirthRecorded: true},
	}
	service := NewService(repo, &publisherStub{}, "sahaya.events")

	if err := service.runUnlockPass(context.Background(), beneficiary.ID); err != nil {
		t.Fatalf("expected unlock pass to succeed, got %v", err)
	}
	if len(repo.eligibleMarked) != 1 || repo.eligibleMarked[0] != 3 {
		t.Fatalf("expected installment 3 to unlock, got %v", repo.eligibleMarked)
	}
}

func TestUnlockPass_DoesNotDowngradeAdvancedInstallments(t *testing.T) {
	beneficiary := newTestBeneficiary()
	repo := &ledgerRepoStub{
		beneficiary:  beneficiary,
		installments: newLedger(beneficiary.ID, domain.StatusPaid, domain.StatusApplicationSubmitted, domain.StatusLocked),
		facts:        &domain.ProgramFacts{ANCVisitCount: 1},
	}
	service := NewService(repo, &publisherStub{}, "sahaya.events")

	if err := service.runUnlockPass(context.Background(), beneficiary.ID); err != nil {
		t.Fatalf("expected unlock pass to succeed, got %v", err)
	}
	if len(repo.eligibleMarked) != 0 {
		t.Fatalf("expected no unlocks, got %v", repo.eligibleMarked)
	}
	if repo.installments[1].Status != domain.StatusApplicationSubmitted {
		t.Fatalf("expected submitted installment untouched, got %q", repo.installments[1].Status)
	}
}

func TestRecordProgramEvent_UnknownTypeRejected(t *testing.T) {
	beneficiary := newTestBeneficiary()
	repo := &ledgerRepoStub{beneficiary: beneficiary}
	service := NewService(repo, &publisherStub{}, "sahaya.events")

	err := service.RecordProgramEvent(context.Background(), domain.ProgramEvent{
		EventType:     "vaccination_recorded",
		BeneficiaryID: beneficiary.ID,
	})

	var validationErr *ValidationError
	if !errors.As(err, &validationErr) || validationErr.Field != "event_type" {
		t.Fatalf("expected event_type validation error, got %v", err)
	}
	if len(repo.recordedEvents) != 0 {
		t.Fatal("did not expect the unknown event to be recorded")
	}
}

func TestRecordProgramEvent_TriggersUnlock(t *testing.T) {
	beneficiary := newTestBeneficiary()
	repo := &ledgerRepoStub{
		beneficiary:  beneficiary,
		installments: newLedger(beneficiary.ID, domain.StatusPaid, domain.StatusLocked, domain.StatusLocked),
		facts:        &domain.ProgramFacts{ANCVisitCount: 1},
	}
	service := NewService(repo, &publisherStub{}, "sahaya.events")

	err := service.RecordProgramEvent(context.Background(), domain.ProgramEvent{
		EventType:     domain.EventANCVisitRecorded,
		BeneficiaryID: beneficiary.ID,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("expected event to be recorded, got %v", err)
	}
	if len(repo.recordedEvents) != 1 || repo.recordedEvents[0] != domain.EventANCVisitRecorded {
		t.Fatalf("expected anc visit fact recorded, got %v", repo.recordedEvents)
	}
	if len(repo.eligibleMarked) != 1 || repo.eligibleMarked[0] != 2 {
		t.Fatalf("expected installment 2 to unlock, got %v", repo.eligibleMarked)
	}
}

func TestRecordProgramEvent_PersistsLMPFromRegistration(t *testing.T) {
	lmp := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	registration := lmp.AddDate(0, 0, 60)

	beneficiary := newTestBeneficiary()
	repo := &ledgerRepoStub{
		beneficiary:  beneficiary,
		installments: newLedger(beneficiary.ID, domain.StatusLocked, domain.StatusLocked, domain.StatusLocked),
		facts:        &domain.ProgramFacts{LMPDate: &lmp, RegistrationDate: &registration},
	}
	service := NewService(repo, &publisherStub{}, "sahaya.events")

	err := service.RecordProgramEvent(context.Background(), domain.ProgramEvent{
		EventType:     domain.EventRegistrationRecorded,
		BeneficiaryID: beneficiary.ID,
		LMPDate:       &lmp,
		OccurredAt:    registration,
	})
	if err != nil {
		t.Fatalf("expected registration event to be recorded, got %v", err)
	}
	if repo.updatedLMP == nil || !repo.updatedLMP.Equal(lmp) {
		t.Fatal("expected the LMP date to be persisted from the event")
	}
	if len(repo.eligibleMarked) != 1 || repo.eligibleMarked[0] != 1 {
		t.Fatalf("expected installment 1 to unlock after registration, got %v", repo.eligibleMarked)
	}
}

func TestSweepEligibility_EvaluatesCandidates(t *testing.T) {
	beneficiary := newTestBeneficiary()
	repo := &ledgerRepoStub{
		beneficiary:  beneficiary,
		installments: newLedger(beneficiary.ID, domain.StatusPaid, domain.StatusLocked, domain.StatusLocked),
		facts:        &domain.ProgramFacts{ANCVisitCount: 1},
		candidates:   []uuid.UUID{beneficiary.ID},
	}
	service := NewService(repo, &publisherStub{}, "sahaya.events")

	if err := service.SweepEligibility(context.Background()); err != nil {
		t.Fatalf("expected sweep to succeed, got %v", err)
	}
	if len(repo.eligibleMarked) != 1 || repo.eligibleMarked[0] != 2 {
		t.Fatalf("expected sweep to unlock installment 2, got %v", repo.eligibleMarked)
	}
}

func TestEnroll_RegistrationWithinWindowUnlocksFirst(t *testing.T) {
	lmp := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	registration := lmp.AddDate(0, 0, 60)

	repo := &ledgerRepoStub{createReturns: true}
	service := NewService(repo, &publisherStub{}, "sahaya.events")

	_, created, err := service.Enroll(context.Background(), domain.EnrollRequest{
		SubjectID:        "subject-123",
		Name:             "Asha Devi",
		LMPDate:          &lmp,
		RegistrationDate: &registration,
	})
	if err != nil {
		t.Fatalf("expected enrollment to succeed, got %v", err)
	}
	if !created {
		t.Fatal("expected a new ledger to be created")
	}
	if len(repo.createdLedger) != domain.InstallmentCount {
		t.Fatalf("expected %d installments, got %d", domain.InstallmentCount, len(repo.createdLedger))
	}
	if repo.createdLedger[0].Status != domain.StatusEligible {
		t.Fatalf("expected installment 1 eligible for timely registration, got %q", repo.createdLedger[0].Status)
	}
	if repo.createdLedger[1].Status != domain.StatusLocked || repo.createdLedger[2].Status != domain.StatusLocked {
		t.Fatal("expected installments 2 and 3 to start locked")
	}
	if len(repo.recordedEvents) != 1 || repo.recordedEvents[0] != domain.EventRegistrationRecorded {
		t.Fatalf("expected registration fact recorded, got %v", repo.recordedEvents)
	}
}

func TestEnroll_LateRegistrationKeepsFirstLocked(t *testing.T) {
	lmp := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	registration := lmp.AddDate(0, 0, 100)

	repo := &ledgerRepoStub{createReturns: true}
	service := NewService(repo, &publisherStub{}, "sahaya.events")

	_, _, err := service.Enroll(context.Background(), domain.EnrollRequest{
		SubjectID:        "subject-123",
		Name:             "Asha Devi",
		LMPDate:          &lmp,
		RegistrationDate: &registration,
	})
	if err != nil {
		t.Fatalf("expected enrollment to succeed, got %v", err)
	}
	if repo.createdLedger[0].Status != domain.StatusLocked {
		t.Fatalf("expected installment 1 locked for late registration, got %q", repo.createdLedger[0].Status)
	}
}

func TestEnroll_IdempotentForEnrolledSubject(t *testing.T) {
	beneficiary := newTestBeneficiary()
	repo := &ledgerRepoStub{beneficiary: beneficiary, createReturns: false}
	service := NewService(repo, &publisherStub{}, "sahaya.events")

	existing, created, err := service.Enroll(context.Background(), domain.EnrollRequest{
		SubjectID: beneficiary.SubjectID,
		Name:      beneficiary.Name,
	})
	if err != nil {
		t.Fatalf("expected idempotent enrollment, got %v", err)
	}
	if created {
		t.Fatal("expected no new ledger for an enrolled subject")
	}
	if existing.ID != beneficiary.ID {
		t.Fatal("expected the existing beneficiary to be returned")
	}
	if len(repo.recordedEvents) != 0 {
		t.Fatal("did not expect a duplicate registration fact")
	}
}
