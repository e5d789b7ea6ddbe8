package domain

import (
	"time"

	"github.com/google/uuid"
)

// Program event types carried on the broker. The ledger treats these as
// read-only facts; it never mutates the source records.
const (
	EventRegistrationRecorded = "registration_recorded"
	EventANCVisitRecorded     = "anc_visit_recorded"
	EventBirthRecorded        = "birth_recorded"
)

// ProgramEvent represents a message emitted by a program-event source
// (registration, antenatal visit, or birth record service).
type ProgramEvent struct {
	EventID       string     `json:"event_id"`
	EventType     string     `json:"event_type"`
	BeneficiaryID uuid.UUID  `json:"beneficiary_id"`
	LMPDate       *time.Time `json:"lmp_date,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

// InstallmentStatusPayload is the fire-and-forget notification published when
// an installment transitions. Publish failures never roll back the transition.
type InstallmentStatusPayload struct {
	BeneficiaryID uuid.UUID         `json:"beneficiary_id"`
	Ordinal       int               `json:"installment_number"`
	Amount        int64             `json:"amount"`
	Status        InstallmentStatus `json:"status"`
	TransactionID *string           `json:"transaction_id,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}
