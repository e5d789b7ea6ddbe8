package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sahaya/benefits-service/internal/domain"
	"github.com/sahaya/benefits-service/internal/store"
)

type ProgramEventConsumer struct {
	service *Service
}

func NewProgramEventConsumer(service *Service) *ProgramEventConsumer {
	return &ProgramEventConsumer{service: service}
}

// HandleMessage returns true when the delivery should be acknowledged.
// Malformed payloads and facts for unknown beneficiaries are acknowledged so
// they do not poison the queue; transient processing errors re-queue.
func (c *ProgramEventConsumer) HandleMessage(body []byte) bool {
	var event domain.ProgramEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("program-consumer: failed to unmarshal payload: %v", err)
		return true
	}

	event.EventType = normalizeEventType(event.EventType)
	if event.BeneficiaryID == uuid.Nil {
		log.Printf("program-consumer: missing beneficiary id in event %+v", event)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.service.RecordProgramEvent(ctx, event); err != nil {
		if errors.Is(err, store.ErrBeneficiaryNotFound) {
			log.Printf("program-consumer: no ledger for beneficiary %s; acknowledging", event.BeneficiaryID)
			return true
		}
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			log.Printf("program-consumer: dropping invalid event %s: %v", event.EventID, err)
			return true
		}
		log.Printf("program-consumer: processing error for beneficiary %s: %v", event.BeneficiaryID, err)
		return false
	}

	return true
}

func normalizeEventType(eventType string) string {
	eventType = strings.TrimSpace(strings.ToLower(eventType))
	switch eventType {
	case "registration_recorded", "registration.recorded", "pregnancy_registered":
		return domain.EventRegistrationRecorded
	case "anc_visit_recorded", "anc_visit.recorded", "anc_visit":
		return domain.EventANCVisitRecorded
	case "birth_recorded", "birth.recorded", "birth_registered":
		return domain.EventBirthRecorded
	default:
		return eventType
	}
}
