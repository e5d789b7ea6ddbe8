/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the benefits-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation and handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sahaya/benefits-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Beneficiary methods
	FindBeneficiaryBySubject(ctx context.Context, subjectID string) (*domain.Beneficiary, error)
	FindBeneficiaryByID(ctx context.Context, beneficiaryID uuid.UUID) (*domain.Beneficiary, error)
	ListBeneficiaries(ctx context.Context) ([]domain.Beneficiary, error)
	// Creates the beneficiary together with its three installments in one
	// transaction. Returns (false, nil) when the subject is already enrolled.
	CreateBeneficiaryWithInstallments(ctx context.Context, beneficiary *domain.Beneficiary, installments []domain.Installment) (bool, error)
	SavePaymentDetails(ctx context.Context, beneficiaryID uuid.UUID, details domain.PaymentDetails) error
	// Backfills the LMP date when a registration event carries one and the
	// beneficiary was enrolled without it.
	UpdateBeneficiaryLMP(ctx context.Context, beneficiaryID uuid.UUID, lmpDate time.Time) error

	// Installment methods
	FindInstallments(ctx context.Context, beneficiaryID uuid.UUID) ([]domain.Installment, error)
	FindInstallment(ctx context.Context, beneficiaryID uuid.UUID, ordinal int) (*domain.Installment, error)
	// Conditional transitions: each updates only when the current status equals
	// the expected prior status and returns ErrStatusConflict otherwise.
	TransitionInstallmentStatus(ctx context.Context, beneficiaryID uuid.UUID, ordinal int, from, to domain.InstallmentStatus) error
	MarkInstallmentEligible(ctx context.Context, beneficiaryID uuid.UUID, ordinal int, eligibleAt time.Time) error
	MarkInstallmentPaid(ctx context.Context, beneficiaryID uuid.UUID, ordinal int, transactionID string, paidAt time.Time) error

	// Application methods
	CreateApplication(ctx context.Context, application *domain.Application) error
	FindOpenApplication(ctx context.Context, beneficiaryID uuid.UUID, ordinal int) (*domain.Application, error)
	ResolveApplication(ctx context.Context, beneficiaryID uuid.UUID, ordinal int, outcome domain.ApplicationOutcome, reviewNotes *string, resolvedAt time.Time) error
	ListPendingApplications(ctx context.Context) ([]domain.PendingApplication, error)

	// Program event methods
	RecordProgramEvent(ctx context.Context, beneficiaryID uuid.UUID, eventType string, occurredAt time.Time) error
	FindProgramFacts(ctx context.Context, beneficiaryID uuid.UUID) (*domain.ProgramFacts, error)
	// Beneficiaries holding at least one locked installment whose predecessor is
	// paid (ordinal 1 counts as unconditionally gated-open). Feeds the sweep job.
	ListUnlockCandidates(ctx context.Context) ([]uuid.UUID, error)
}
