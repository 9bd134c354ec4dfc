package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// DBTX is the querying surface shared by *sql.DB and *sql.Tx. Repos are
// constructed over it so a service transaction can rebind its repos.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// AccountType classifies a ledger account for balance sign purposes.
type AccountType string

const (
	AccountAsset     AccountType = "asset"
	AccountLiability AccountType = "liability"
	AccountIncome    AccountType = "income"
	AccountExpense   AccountType = "expense"
	AccountEquity    AccountType = "equity"
)

// DebitNormal reports whether balances on this account type grow on the
// debit side. Asset and expense balances are debit minus credit, the rest
// credit minus debit.
func (t AccountType) DebitNormal() bool {
	return t == AccountAsset || t == AccountExpense
}

// FundKind names a member sub-account bucket.
type FundKind string

const (
	FundSavings FundKind = "savings"
	FundSocial  FundKind = "social"
	FundAdmin   FundKind = "admin"
	FundPenalty FundKind = "penalty"
)

// Prefix returns the account-code prefix used for member sub-accounts.
func (k FundKind) Prefix() string {
	switch k {
	case FundSavings:
		return "SAV"
	case FundSocial:
		return "SOC"
	case FundAdmin:
		return "ADM"
	case FundPenalty:
		return "PEN"
	}
	return "UNK"
}

// DisplayName returns the human label used in generated account names.
func (k FundKind) DisplayName() string {
	switch k {
	case FundSavings:
		return "Savings"
	case FundSocial:
		return "Social Fund"
	case FundAdmin:
		return "Admin Fund"
	case FundPenalty:
		return "Penalties"
	}
	return string(k)
}

// EntrySource classifies what produced a journal entry.
type EntrySource string

const (
	SourceDepositApproval    EntrySource = "deposit_approval"
	SourceInitialRequirement EntrySource = "initial_requirement"
	SourceLoanDisbursement   EntrySource = "loan_disbursement"
	SourcePenalty            EntrySource = "penalty"
	SourceExcessTransfer     EntrySource = "excess_transfer"
	SourceReversal           EntrySource = "reversal"
	SourceManual             EntrySource = "manual"
)

// CycleStatus is the lifecycle state of an annual cycle.
type CycleStatus string

const (
	CycleDraft  CycleStatus = "draft"
	CycleActive CycleStatus = "active"
	CycleClosed CycleStatus = "closed"
)

// PhaseKind names a recurring monthly window within a cycle.
type PhaseKind string

const (
	PhaseDeclaration     PhaseKind = "declaration"
	PhaseLoanApplication PhaseKind = "loan_application"
	PhaseDeposits        PhaseKind = "deposits"
	PhasePayout          PhaseKind = "payout"
	PhaseShareout        PhaseKind = "shareout"
)

// DeclarationStatus is the declaration state machine.
type DeclarationStatus string

const (
	DeclarationPending  DeclarationStatus = "pending"
	DeclarationProof    DeclarationStatus = "proof"
	DeclarationApproved DeclarationStatus = "approved"
	DeclarationRejected DeclarationStatus = "rejected"
)

// ProofStatus is the deposit-proof state machine.
type ProofStatus string

const (
	ProofSubmitted ProofStatus = "submitted"
	ProofApproved  ProofStatus = "approved"
	ProofRejected  ProofStatus = "rejected"
)

// PenaltyStatus is the penalty-record state machine.
type PenaltyStatus string

const (
	PenaltyPending  PenaltyStatus = "pending"
	PenaltyApproved PenaltyStatus = "approved"
	PenaltyPaid     PenaltyStatus = "paid"
)

// ApplicationStatus is the loan-application state machine.
type ApplicationStatus string

const (
	ApplicationPending   ApplicationStatus = "pending"
	ApplicationApproved  ApplicationStatus = "approved"
	ApplicationRejected  ApplicationStatus = "rejected"
	ApplicationWithdrawn ApplicationStatus = "withdrawn"
)

// LoanStatus is the loan state machine. "disbursed" appears on legacy rows
// and is accepted by active-loan guards; the engine writes approved, open,
// closed.
type LoanStatus string

const (
	LoanPending   LoanStatus = "pending"
	LoanApproved  LoanStatus = "approved"
	LoanDisbursed LoanStatus = "disbursed"
	LoanOpen      LoanStatus = "open"
	LoanClosed    LoanStatus = "closed"
	LoanWithdrawn LoanStatus = "withdrawn"
	LoanRejected  LoanStatus = "rejected"
)

// Organization chart-of-accounts codes. These rows are seeded at startup
// and must exist before any posting.
const (
	CodeCash            = "1000"
	CodeLoansReceivable = "1100"
	CodeMemberEquity    = "3000"
	CodeInterestIncome  = "4000"
	CodePenaltyIncome   = "4100"
	CodeSocialFund      = "4200"
	CodeAdminFund       = "4300"
)

// MonthKey formats t as the canonical "YYYY-MM" month key used by
// declarations and penalty idempotence checks.
func MonthKey(t time.Time) string { return t.Format("2006-01") }

// Account represents a ledger account row. Organization accounts have no
// member; member sub-accounts carry (member, fund kind).
type Account struct {
	ID        string
	Code      string
	Name      string
	Type      AccountType
	MemberID  *string
	FundKind  *FundKind
	CreatedAt time.Time
}

// JournalEntry represents a journal entry header with its lines.
type JournalEntry struct {
	ID             string
	Description    string
	EntryDate      time.Time
	CycleID        *string
	SourceType     EntrySource
	SourceRef      *string
	CreatedBy      string
	ReversedBy     *string
	ReversedAt     *time.Time
	ReversalReason *string
	CreatedAt      time.Time
	Lines          []JournalLine
}

// Reversed reports whether the entry carries reversal metadata.
func (e JournalEntry) Reversed() bool { return e.ReversedBy != nil }

// JournalLine represents one debit or credit posting.
type JournalLine struct {
	ID        string
	EntryID   string
	AccountID string
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// Cycle represents an annual operating period.
type Cycle struct {
	ID                    string
	Year                  int
	StartDate             time.Time
	EndDate               time.Time
	Status                CycleStatus
	SocialFundRequirement decimal.NullDecimal
	AdminFundRequirement  decimal.NullDecimal
	CreatedAt             time.Time
}

// CyclePhase represents a recurring monthly window within a cycle.
type CyclePhase struct {
	ID               string
	CycleID          string
	Phase            PhaseKind
	StartDay         int
	EndDay           int
	IsOpen           bool
	PenaltyTypeID    *string
	AutoApplyPenalty bool
}

// Declaration represents a member's declared intent for one month.
type Declaration struct {
	ID            string
	MemberID      string
	CycleID       string
	Month         string
	Savings       decimal.Decimal
	Social        decimal.Decimal
	Admin         decimal.Decimal
	Penalties     decimal.Decimal
	LoanInterest  decimal.Decimal
	LoanRepayment decimal.Decimal
	Status        DeclarationStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Total returns the sum of the six declared components.
func (d Declaration) Total() decimal.Decimal {
	return d.Savings.Add(d.Social).Add(d.Admin).Add(d.Penalties).Add(d.LoanInterest).Add(d.LoanRepayment)
}

// DepositProof represents uploaded payment evidence for a declaration.
type DepositProof struct {
	ID            string
	DeclarationID string
	Amount        decimal.Decimal
	Reference     *string
	Status        ProofStatus
	Comment       *string
	Response      *string
	SubmittedAt   time.Time
	DecidedAt     *time.Time
	DecidedBy     *string
}

// DepositApproval links an approved proof to the entry that posted it.
type DepositApproval struct {
	ID         string
	ProofID    string
	EntryID    string
	ApprovedBy string
	ApprovedAt time.Time
}

// PenaltyType represents a configured penalty with its fee.
type PenaltyType struct {
	ID      string
	Name    string
	Fee     decimal.Decimal
	Enabled bool
}

// PenaltyRecord represents one assessed penalty against a member.
type PenaltyRecord struct {
	ID            string
	MemberID      string
	PenaltyTypeID string
	Status        PenaltyStatus
	Note          string
	IssuedAt      time.Time
	EntryID       *string
	CreatedBy     string
}

// LoanApplication represents a member's loan request.
type LoanApplication struct {
	ID         string
	MemberID   string
	CycleID    string
	Amount     decimal.Decimal
	TermMonths int
	Status     ApplicationStatus
	CreatedAt  time.Time
	DecidedAt  *time.Time
	DecidedBy  *string
}

// Loan represents an approved loan through disbursement and closure.
type Loan struct {
	ID                  string
	ApplicationID       string
	MemberID            string
	CycleID             string
	Amount              decimal.Decimal
	InterestRate        decimal.Decimal
	TermMonths          int
	Status              LoanStatus
	DisbursedAt         *time.Time
	DisbursementEntryID *string
	CreatedAt           time.Time
	ClosedAt            *time.Time
}

// ExpectedInterest returns the flat interest due over the loan term,
// amount times rate where the rate is stored as a percentage.
func (l Loan) ExpectedInterest() decimal.Decimal {
	return l.Amount.Mul(l.InterestRate).Div(decimal.NewFromInt(100))
}

// Repayment represents one principal/interest payment against a loan.
type Repayment struct {
	ID            string
	LoanID        string
	DeclarationID string
	Principal     decimal.Decimal
	Interest      decimal.Decimal
	EntryID       string
	PaidAt        time.Time
}

// CreditRatingTier represents a risk classification.
type CreditRatingTier struct {
	ID   string
	Name string
	Rank int
}

// MemberCreditRating assigns a member to a tier for one cycle.
type MemberCreditRating struct {
	ID       string
	MemberID string
	CycleID  string
	TierID   string
}

// BorrowingLimitPolicy sets the savings multiplier for a tier from an
// effective date onward.
type BorrowingLimitPolicy struct {
	ID            string
	TierID        string
	Multiplier    decimal.Decimal
	EffectiveDate time.Time
}

// InterestRange configures the rate for (tier, cycle, term). A nil term
// applies to all terms; an explicit term overrides the wildcard.
type InterestRange struct {
	ID         string
	TierID     string
	CycleID    string
	TermMonths *int
	Rate       decimal.Decimal
}

// PostingLock advisory-locks a cycle against further postings.
type PostingLock struct {
	ID       string
	CycleID  string
	Reason   string
	LockedBy string
	LockedAt time.Time
}
