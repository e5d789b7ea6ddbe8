/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to beneficiaries, installments, applications, and program events.
 *
 * Status transitions use conditional updates (`WHERE status = <expected>`) so that
 * two concurrent mutations of the same installment can never both succeed; the
 * loser observes ErrStatusConflict and the service layer decides how to surface it.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sahaya/benefits-service/internal/domain"
)

var (
	ErrBeneficiaryNotFound   = errors.New("beneficiary not found")
	ErrInstallmentNotFound   = errors.New("installment not found")
	ErrApplicationNotFound   = errors.New("application not found")
	ErrOpenApplicationExists = errors.New("an open application already exists for this installment")
	ErrStatusConflict        = errors.New("installment status changed concurrently")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// statusMatchValues returns the stored values that denote the given status.
// Records written before the status-name migration may still carry the legacy
// spelling of the eligible state.
func statusMatchValues(status domain.InstallmentStatus) []string {
	if status == domain.StatusEligible {
		return []string{string(domain.StatusEligible), "eligible_to_apply"}
	}
	return []string{string(status)}
}

const beneficiaryColumns = `
	id, subject_id, name, COALESCE(phone, ''), COALESCE(email, ''),
	lmp_date, registration_date,
	account_holder_name, account_number, ifsc_code, bank_name,
	created_at, updated_at
`

func scanBeneficiary(row pgx.Row) (*domain.Beneficiary, error) {
	var b domain.Beneficiary
	var holderName, accountNumber, ifscCode, bankName *string
	err := row.Scan(
		&b.ID, &b.SubjectID, &b.Name, &b.Phone, &b.Email,
		&b.LMPDate, &b.RegistrationDate,
		&holderName, &accountNumber, &ifscCode, &bankName,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBeneficiaryNotFound
		}
		return nil, err
	}
	if accountNumber != nil {
		b.PaymentDetails = &domain.PaymentDetails{
			AccountHolderName: derefString(holderName),
			AccountNumber:     *accountNumber,
			IFSCCode:          derefString(ifscCode),
			BankName:          derefString(bankName),
		}
	}
	return &b, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// FindBeneficiaryBySubject retrieves a beneficiary by their auth subject id.
func (r *PostgresRepository) FindBeneficiaryBySubject(ctx context.Context, subjectID string) (*domain.Beneficiary, error) {
	query := `SELECT ` + beneficiaryColumns + ` FROM beneficiaries WHERE subject_id = $1`
	return scanBeneficiary(r.db.QueryRow(ctx, query, subjectID))
}

// FindBeneficiaryByID retrieves a beneficiary by their internal UUID.
func (r *PostgresRepository) FindBeneficiaryByID(ctx context.Context, beneficiaryID uuid.UUID) (*domain.Beneficiary, error) {
	query := `SELECT ` + beneficiaryColumns + ` FROM beneficiaries WHERE id = $1`
	return scanBeneficiary(r.db.QueryRow(ctx, query, beneficiaryID))
}

// ListBeneficiaries returns all enrolled beneficiaries, newest first.
func (r *PostgresRepository) ListBeneficiaries(ctx context.Context) ([]domain.Beneficiary, error) {
	query := `SELECT ` + beneficiaryColumns + ` FROM beneficiaries ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var beneficiaries []domain.Beneficiary
	for rows.Next() {
		b, err := scanBeneficiary(rows)
		if err != nil {
			return nil, err
		}
		beneficiaries = append(beneficiaries, *b)
	}
	return beneficiaries, rows.Err()
}

// CreateBeneficiaryWithInstallments inserts the beneficiary and its three
// installments atomically. Enrollment is idempotent: an already-enrolled
// subject yields (false, nil) and no writes.
func (r *PostgresRepository) CreateBeneficiaryWithInstallments(ctx context.Context, beneficiary *domain.Beneficiary, installments []domain.Installment) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	insertBeneficiary := `
		INSERT INTO beneficiaries (id, subject_id, name, phone, email, lmp_date, registration_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (subject_id) DO NOTHING
	`
	result, err := tx.Exec(ctx, insertBeneficiary,
		beneficiary.ID, beneficiary.SubjectID, beneficiary.Name, beneficiary.Phone, beneficiary.Email,
		beneficiary.LMPDate, beneficiary.RegistrationDate,
	)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}

	insertInstallment := `
		INSERT INTO installments (beneficiary_id, ordinal, amount, criterion, description, status, eligibility_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`
	for _, inst := range installments {
		if _, err := tx.Exec(ctx, insertInstallment,
			beneficiary.ID, inst.Ordinal, inst.Amount, string(inst.Criterion), inst.Description,
			string(inst.Status), inst.EligibilityDate,
		); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// SavePaymentDetails stores the bank details captured on the first
// installment's application. Later applications reuse them unchanged.
func (r *PostgresRepository) SavePaymentDetails(ctx context.Context, beneficiaryID uuid.UUID, details domain.PaymentDetails) error {
	query := `
		UPDATE beneficiaries
		SET account_holder_name = $2, account_number = $3, ifsc_code = $4, bank_name = $5, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, beneficiaryID,
		details.AccountHolderName, details.AccountNumber, details.IFSCCode, details.BankName)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrBeneficiaryNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateBeneficiaryLMP(ctx context.Context, beneficiaryID uuid.UUID, lmpDate time.Time) error {
	query := `
		UPDATE beneficiaries
		SET lmp_date = $2, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, beneficiaryID, lmpDate)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrBeneficiaryNotFound
	}
	return nil
}

const installmentColumns = `
	beneficiary_id, ordinal, amount, criterion, COALESCE(description, ''), status,
	eligibility_date, paid_date, transaction_id, created_at, updated_at
`

func scanInstallment(row pgx.Row) (*domain.Installment, error) {
	var inst domain.Installment
	var criterion, status string
	err := row.Scan(
		&inst.BeneficiaryID, &inst.Ordinal, &inst.Amount, &criterion, &inst.Description, &status,
		&inst.EligibilityDate, &inst.PaidDate, &inst.TransactionID, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrInstallmentNotFound
		}
		return nil, err
	}
	inst.Criterion = domain.EligibilityCriterion(criterion)
	inst.Status = domain.NormalizeStatus(status)
	return &inst, nil
}

// FindInstallments retrieves all installments for a beneficiary in ordinal order.
func (r *PostgresRepository) FindInstallments(ctx context.Context, beneficiaryID uuid.UUID) ([]domain.Installment, error) {
	query := `SELECT ` + installmentColumns + ` FROM installments WHERE beneficiary_id = $1 ORDER BY ordinal`
	rows, err := r.db.Query(ctx, query, beneficiaryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var installments []domain.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		installments = append(installments, *inst)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(installments) == 0 {
		return nil, ErrBeneficiaryNotFound
	}
	return installments, nil
}

// FindInstallment retrieves a single installment by beneficiary and ordinal.
func (r *PostgresRepository) FindInstallment(ctx context.Context, beneficiaryID uuid.UUID, ordinal int) (*domain.Installment, error) {
	query := `SELECT ` + installmentColumns + ` FROM installments WHERE beneficiary_id = $1 AND ordinal = $2`
	return scanInstallment(r.db.QueryRow(ctx, query, beneficiaryID, ordinal))
}

// TransitionInstallmentStatus performs a conditional status update. It returns
// ErrStatusConflict when the row exists but its status no longer matches the
// expected prior status, and ErrInstallmentNotFound when there is no such row.
func (r *PostgresRepository) TransitionInstallmentStatus(ctx context.Context, beneficiaryID uuid.UUID, ordinal int, from, to domain.InstallmentStatus) error {
	query := `
		UPDATE installments
		SET status = $3, updated_at = NOW()
		WHERE beneficiary_id = $1 AND ordinal = $2 AND status = ANY($4)
	`
	result, err := r.db.Exec(ctx, query, beneficiaryID, ordinal, string(to), statusMatchValues(from))
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return r.classifyMissedUpdate(ctx, beneficiaryID, ordinal)
	}
	return nil
}

// MarkInstallmentEligible unlocks a locked installment and stamps the
// eligibility-achieved timestamp.
func (r *PostgresRepository) MarkInstallmentEligible(ctx context.Context, beneficiaryID uuid.UUID, ordinal int, eligibleAt time.Time) error {
	query := `
		UPDATE installments
		SET status = $3, eligibility_date = $4, updated_at = NOW()
		WHERE beneficiary_id = $1 AND ordinal = $2 AND status = $5
	`
	result, err := r.db.Exec(ctx, query, beneficiaryID, ordinal,
		string(domain.StatusEligible), eligibleAt, string(domain.StatusLocked))
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return r.classifyMissedUpdate(ctx, beneficiaryID, ordinal)
	}
	return nil
}

// MarkInstallmentPaid completes the lifecycle: approved -> paid, stamping the
// paid timestamp and the external transaction reference together so the
// paid-iff-stamped invariant holds at the row level.
func (r *PostgresRepository) MarkInstallmentPaid(ctx context.Context, beneficiaryID uuid.UUID, ordinal int, transactionID string, paidAt time.Time) error {
	query := `
		UPDATE installments
		SET status = $3, paid_date = $4, transaction_id = $5, updated_at = NOW()
		WHERE beneficiary_id = $1 AND ordinal = $2 AND status = $6
	`
	result, err := r.db.Exec(ctx, query, beneficiaryID, ordinal,
		string(domain.StatusPaid), paidAt, transactionID, string(domain.StatusApproved))
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return r.classifyMissedUpdate(ctx, beneficiaryID, ordinal)
	}
	return nil
}

func (r *PostgresRepository) classifyMissedUpdate(ctx context.Context, beneficiaryID uuid.UUID, ordinal int) error {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM installments WHERE beneficiary_id = $1 AND ordinal = $2)`,
		beneficiaryID, ordinal).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrInstallmentNotFound
	}
	return ErrStatusConflict
}

// CreateApplication inserts a new open application. The partial unique index on
// open applications guarantees at most one per installment even under races.
func (r *PostgresRepository) CreateApplication(ctx context.Context, application *domain.Application) error {
	query := `
		INSERT INTO applications (id, beneficiary_id, ordinal, outcome, submitted_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Exec(ctx, query,
		application.ID, application.BeneficiaryID, application.Ordinal,
		string(application.Outcome), application.SubmittedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrOpenApplicationExists
		}
		return err
	}
	return nil
}

// FindOpenApplication retrieves the pending application for an installment, if any.
func (r *PostgresRepository) FindOpenApplication(ctx context.Context, beneficiaryID uuid.UUID, ordinal int) (*domain.Application, error) {
	var app domain.Application
	var outcome string
	query := `
		SELECT id, beneficiary_id, ordinal, outcome, review_notes, submitted_at, resolved_at
		FROM applications
		WHERE beneficiary_id = $1 AND ordinal = $2 AND outcome = 'pending'
	`
	err := r.db.QueryRow(ctx, query, beneficiaryID, ordinal).Scan(
		&app.ID, &app.BeneficiaryID, &app.Ordinal, &outcome, &app.ReviewNotes, &app.SubmittedAt, &app.ResolvedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrApplicationNotFound
		}
		return nil, err
	}
	app.Outcome = domain.ApplicationOutcome(outcome)
	return &app, nil
}

// ResolveApplication finalizes a pending application. Resolved applications are
// immutable, so the update is conditional on outcome = 'pending'.
func (r *PostgresRepository) ResolveApplication(ctx context.Context, beneficiaryID uuid.UUID, ordinal int, outcome domain.ApplicationOutcome, reviewNotes *string, resolvedAt time.Time) error {
	query := `
		UPDATE applications
		SET outcome = $3, review_notes = $4, resolved_at = $5
		WHERE beneficiary_id = $1 AND ordinal = $2 AND outcome = 'pending'
	`
	result, err := r.db.Exec(ctx, query, beneficiaryID, ordinal, string(outcome), reviewNotes, resolvedAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrApplicationNotFound
	}
	return nil
}

// ListPendingApplications returns all open applications joined with the
// beneficiary's contact info and stored payment details, oldest first.
func (r *PostgresRepository) ListPendingApplications(ctx context.Context) ([]domain.PendingApplication, error) {
	query := `
		SELECT a.id, b.id, b.name, COALESCE(b.email, ''), COALESCE(b.phone, ''),
		       a.ordinal, i.amount, a.submitted_at,
		       COALESCE(b.account_holder_name, ''), COALESCE(b.account_number, ''),
		       COALESCE(b.ifsc_code, ''), COALESCE(b.bank_name, '')
		FROM applications a
		JOIN beneficiaries b ON b.id = a.beneficiary_id
		JOIN installments i ON i.beneficiary_id = a.beneficiary_id AND i.ordinal = a.ordinal
		WHERE a.outcome = 'pending'
		ORDER BY a.submitted_at ASC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []domain.PendingApplication
	for rows.Next() {
		var p domain.PendingApplication
		err := rows.Scan(
			&p.ApplicationID, &p.BeneficiaryID, &p.BeneficiaryName, &p.Email, &p.Phone,
			&p.Ordinal, &p.Amount, &p.SubmittedAt,
			&p.PaymentDetails.AccountHolderName, &p.PaymentDetails.AccountNumber,
			&p.PaymentDetails.IFSCCode, &p.PaymentDetails.BankName,
		)
		if err != nil {
			return nil, err
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// RecordProgramEvent appends a read-only program fact for a beneficiary.
func (r *PostgresRepository) RecordProgramEvent(ctx context.Context, beneficiaryID uuid.UUID, eventType string, occurredAt time.Time) error {
	query := `
		INSERT INTO program_events (beneficiary_id, event_type, occurred_at, recorded_at)
		VALUES ($1, $2, $3, NOW())
	`
	_, err := r.db.Exec(ctx, query, beneficiaryID, eventType, occurredAt)
	return err
}

// FindProgramFacts aggregates the accumulated program events for the
// eligibility criterion evaluator.
func (r *PostgresRepository) FindProgramFacts(ctx context.Context, beneficiaryID uuid.UUID) (*domain.ProgramFacts, error) {
	var facts domain.ProgramFacts
	query := `
		SELECT b.lmp_date, b.registration_date,
		       (SELECT COUNT(*) FROM program_events e WHERE e.beneficiary_id = b.id AND e.event_type = $2),
		       EXISTS (SELECT 1 FROM program_events e WHERE e.beneficiary_id = b.id AND e.event_type = $3)
		FROM beneficiaries b
		WHERE b.id = $1
	`
	err := r.db.QueryRow(ctx, query, beneficiaryID,
		domain.EventANCVisitRecorded, domain.EventBirthRecorded).Scan(
		&facts.LMPDate, &facts.RegistrationDate, &facts.ANCVisitCount, &facts.BirthRecorded,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBeneficiaryNotFound
		}
		return nil, err
	}
	return &facts, nil
}

// ListUnlockCandidates returns beneficiaries that hold at least one locked
// installment whose ordinal gate is open (predecessor paid, or ordinal 1).
func (r *PostgresRepository) ListUnlockCandidates(ctx context.Context) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT i.beneficiary_id
		FROM installments i
		LEFT JOIN installments prev
		  ON prev.beneficiary_id = i.beneficiary_id AND prev.ordinal = i.ordinal - 1
		WHERE i.status = $1 AND (i.ordinal = 1 OR prev.status = $2)
	`
	rows, err := r.db.Query(ctx, query, string(domain.StatusLocked), string(domain.StatusPaid))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		candidates = append(candidates, id)
	}
	return candidates, rows.Err()
}
