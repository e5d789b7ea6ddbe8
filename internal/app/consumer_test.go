package app

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sahaya/benefits-service/internal/domain"
	"github.com/sahaya/benefits-service/internal/store"
)

func TestHandleMessage_MalformedPayloadAcked(t *testing.T) {
	consumer := NewProgramEventConsumer(NewService(&ledgerRepoStub{}, &publisherStub{}, "sahaya.events"))

	if !consumer.HandleMessage([]byte("not json")) {
		t.Fatal("expected malformed payload to be acknowledged")
	}
}

func TestHandleMessage_MissingBeneficiaryAcked(t *testing.T) {
	consumer := NewProgramEventConsumer(NewService(&ledgerRepoStub{}, &publisherStub{}, "sahaya.events"))

	body, _ := json.Marshal(domain.ProgramEvent{EventType: domain.EventANCVisitRecorded})
	if !consumer.HandleMessage(body) {
		t.Fatal("expected event without beneficiary id to be acknowledged")
	}
}

func TestHandleMessage_UnknownBeneficiaryAcked(t *testing.T) {
	repo := &ledgerRepoStub{recordEventErr: store.ErrBeneficiaryNotFound}
	consumer := NewProgramEventConsumer(NewService(repo, &publisherStub{}, "sahaya.events"))

	body, _ := json.Marshal(domain.ProgramEvent{
		EventType:     domain.EventBirthRecorded,
		BeneficiaryID: uuid.New(),
		OccurredAt:    time.Now().UTC(),
	})
	if !consumer.HandleMessage(body) {
		t.Fatal("expected event for an unenrolled beneficiary to be acknowledged")
	}
}

func TestHandleMessage_TransientErrorRequeued(t *testing.T) {
	repo := &ledgerRepoStub{recordEventErr: errors.New("connection reset")}
	consumer := NewProgramEventConsumer(NewService(repo, &publisherStub{}, "sahaya.events"))

	body, _ := json.Marshal(domain.ProgramEvent{
		EventType:     domain.EventBirthRecorded,
		BeneficiaryID: uuid.New(),
		OccurredAt:    time.Now().UTC(),
	})
	if consumer.HandleMessage(body) {
		t.Fatal("expected transient failure to re-queue the delivery")
	}
}

func TestHandleMessage_NormalizesDottedEventTypes(t *testing.T) {
	beneficiary := newTestBeneficiary()
	repo := &ledgerRepoStub{
		beneficiary:  beneficiary,
		installments: newLedger(beneficiary.ID, domain.StatusPaid, domain.StatusLocked, domain.StatusLocked),
		facts:        &domain.ProgramFacts{ANCVisitCount: 1},
	}
	consumer := NewProgramEventConsumer(NewService(repo, &publisherStub{}, "sahaya.events"))

	body, _ := json.Marshal(domain.ProgramEvent{
		EventType:     "anc_visit.recorded",
		BeneficiaryID: beneficiary.ID,
		OccurredAt:    time.Now().UTC(),
	})
	if !consumer.HandleMessage(body) {
		t.Fatal("expected dotted event type to be handled")
	}
	if len(repo.recordedEvents) != 1 || repo.recordedEvents[0] != domain.EventANCVisitRecorded {
		t.Fatalf("expected normalized event type, got %v", repo.recordedEvents)
	}
}
