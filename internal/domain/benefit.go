/**
 * @description
 * This file defines the core domain models for the benefits-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (paise), which
 *   avoids floating-point inaccuracies with monetary data.
 * - Installment status is a closed enum; the legacy wire value `eligible_to_apply`
 *   is collapsed to `eligible` at the data boundary via NormalizeStatus so that no
 *   consumer ever branches on the synonym.
 */

package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// InstallmentStatus is the lifecycle state of a single installment.
type InstallmentStatus string

const (
	StatusLocked               InstallmentStatus = "locked"
	StatusEligible             InstallmentStatus = "eligible"
	StatusApplicationSubmitted InstallmentStatus = "application_submitted"
	StatusApproved             InstallmentStatus = "approved"
	StatusPaid                 InstallmentStatus = "paid"
)

// legacyEligibleStatus is the pre-migration wire value still present in old
// records and old clients. It denotes the same state as StatusEligible.
const legacyEligibleStatus = "eligible_to_apply"

// NormalizeStatus collapses legacy synonyms to their canonical enum value.
// Call it on every status read from storage or the wire.
func NormalizeStatus(raw string) InstallmentStatus {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == legacyEligibleStatus {
		return StatusEligible
	}
	return InstallmentStatus(s)
}

// EligibilityCriterion names the program milestone that unlocks an installment.
type EligibilityCriterion string

const (
	CriterionRegistrationWithin3Months EligibilityCriterion = "pregnancy_registration_within_3_months"
	CriterionANCVisitRecorded          EligibilityCriterion = "anc_visit_recorded"
	CriterionBirthRecorded             EligibilityCriterion = "birth_recorded"
)

// RegistrationWindowDays is the maximum gap between LMP and pregnancy
// registration for the first installment (12 weeks, per program rules).
const RegistrationWindowDays = 84

// InstallmentCount is fixed by the program: exactly three disbursements.
const InstallmentCount = 3

// ScheduleEntry describes one fixed installment of the program schedule.
type ScheduleEntry struct {
	Ordinal     int
	Amount      int64 // in paise
	Criterion   EligibilityCriterion
	Description string
}

// Schedule is the fixed program disbursement schedule, in ordinal order.
var Schedule = [InstallmentCount]ScheduleEntry{
	{Ordinal: 1, Amount: 100000, Criterion: CriterionRegistrationWithin3Months, Description: "First installment for early pregnancy registration"},
	{Ordinal: 2, Amount: 200000, Criterion: CriterionANCVisitRecorded, Description: "Second installment after first ANC visit"},
	{Ordinal: 3, Amount: 200000, Criterion: CriterionBirthRecorded, Description: "Third installment after birth registration"},
}

// Beneficiary represents a person enrolled in the maternity benefit program.
type Beneficiary struct {
	ID               uuid.UUID       `json:"id"`
	SubjectID        string          `json:"-"` // auth subject from the identity provider
	Name             string          `json:"name"`
	Phone            string          `json:"phone"`
	Email            string          `json:"email"`
	LMPDate          *time.Time      `json:"lmp_date,omitempty"`
	RegistrationDate *time.Time      `json:"registration_date,omitempty"`
	PaymentDetails   *PaymentDetails `json:"-"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// PaymentDetails holds the bank account captured on the first installment's
// application and reused for subsequent installments.
type PaymentDetails struct {
	AccountHolderName string `json:"account_holder_name"`
	AccountNumber     string `json:"account_number"`
	IFSCCode          string `json:"ifsc_code"`
	BankName          string `json:"bank_name"`
}

// Masked returns a copy safe for beneficiary-facing responses: only the last
// four digits of the account number survive.
func (d PaymentDetails) Masked() PaymentDetails {
	masked := d
	masked.AccountNumber = MaskAccountNumber(d.AccountNumber)
	return masked
}

// MaskAccountNumber reduces an account number to its last four characters,
// padded with asterisks.
func MaskAccountNumber(accountNumber string) string {
	n := len(accountNumber)
	if n <= 4 {
		return strings.Repeat("*", n)
	}
	return strings.Repeat("*", n-4) + accountNumber[n-4:]
}

// ifscPattern: four letters, a literal zero, six alphanumerics (e.g. SBIN0001234).
var ifscPattern = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)

// ValidIFSCCode reports whether code matches the IFSC format after uppercasing.
func ValidIFSCCode(code string) bool {
	return ifscPattern.MatchString(strings.ToUpper(strings.TrimSpace(code)))
}

// Installment is one of exactly three fixed-position disbursements owed to a
// beneficiary. Ordinal position is immutable once created.
type Installment struct {
	BeneficiaryID   uuid.UUID            `json:"-"`
	Ordinal         int                  `json:"installment_number"`
	Amount          int64                `json:"amount"` // in paise
	Criterion       EligibilityCriterion `json:"eligibility_criteria"`
	Description     string               `json:"description"`
	Status          InstallmentStatus    `json:"status"`
	EligibilityDate *time.Time           `json:"eligibility_date,omitempty"`
	PaidDate        *time.Time           `json:"paid_date,omitempty"`
	TransactionID   *string              `json:"transaction_id,omitempty"`
	CreatedAt       time.Time            `json:"-"`
	UpdatedAt       time.Time            `json:"-"`
}

// ApplicationOutcome is the caseworker review result for a submitted application.
type ApplicationOutcome string

const (
	OutcomePending  ApplicationOutcome = "pending"
	OutcomeApproved ApplicationOutcome = "approved"
	OutcomeRejected ApplicationOutcome = "rejected"
)

// Application is a beneficiary's declaration of intent to claim an eligible
// installment. Immutable once resolved.
type Application struct {
	ID            uuid.UUID          `json:"id"`
	BeneficiaryID uuid.UUID          `json:"beneficiary_id"`
	Ordinal       int                `json:"installment_number"`
	Outcome       ApplicationOutcome `json:"outcome"`
	ReviewNotes   *string            `json:"review_notes,omitempty"`
	SubmittedAt   time.Time          `json:"submitted_at"`
	ResolvedAt    *time.Time         `json:"resolved_at,omitempty"`
}

// BenefitSummary is the beneficiary-facing view of the full ledger.
type BenefitSummary struct {
	Installments   []Installment   `json:"installments"`
	TotalAmount    int64           `json:"total_amount"`
	TotalEligible  int64           `json:"total_eligible"`
	TotalPaid      int64           `json:"total_paid"`
	Progress       string          `json:"progress"` // "X/3"
	PaymentDetails *PaymentDetails `json:"payment_details,omitempty"`
}

// PendingApplication is the caseworker queue row: an open application joined
// with beneficiary contact info and the stored payment details.
type PendingApplication struct {
	ApplicationID   uuid.UUID      `json:"application_id"`
	BeneficiaryID   uuid.UUID      `json:"beneficiary_id"`
	BeneficiaryName string         `json:"beneficiary_name"`
	Email           string         `json:"email"`
	Phone           string         `json:"phone"`
	Ordinal         int            `json:"installment_number"`
	Amount          int64          `json:"amount"`
	SubmittedAt     time.Time      `json:"submitted_at"`
	PaymentDetails  PaymentDetails `json:"payment_details"`
}

// ApplyRequest is the DTO for a beneficiary's installment application. Payment
// fields are required on ordinal 1 and ignored afterwards.
type ApplyRequest struct {
	AccountHolderName    string `json:"account_holder_name"`
	AccountNumber        string `json:"account_number"`
	ConfirmAccountNumber string `json:"confirm_account_number"`
	IFSCCode             string `json:"ifsc_code"`
	BankName             string `json:"bank_name"`
}

// EnrollRequest is the internal DTO for program enrollment, sent by the
// registration service when a pregnancy is registered.
type EnrollRequest struct {
	SubjectID        string     `json:"subject_id"`
	Name             string     `json:"name"`
	Phone            string     `json:"phone"`
	Email            string     `json:"email"`
	LMPDate          *time.Time `json:"lmp_date,omitempty"`
	RegistrationDate *time.Time `json:"registration_date,omitempty"`
}

// ProgramFacts are the accumulated read-only program events for one
// beneficiary, used by the eligibility criterion evaluator.
type ProgramFacts struct {
	LMPDate          *time.Time
	RegistrationDate *time.Time
	ANCVisitCount    int
	BirthRecorded    bool
}
