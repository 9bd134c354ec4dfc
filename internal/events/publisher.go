package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Topics emitted by the ledger engine.
const (
	TopicEntryPosted     = "ledger.entry_posted"
	TopicEntryReversed   = "ledger.entry_reversed"
	TopicDepositApproved = "coop.deposit_approved"
	TopicProofRejected   = "coop.proof_rejected"
	TopicPenaltyAssessed = "coop.penalty_assessed"
	TopicLoanApproved    = "coop.loan_approved"
	TopicLoanDisbursed   = "coop.loan_disbursed"
	TopicLoanClosed      = "coop.loan_closed"
	TopicCycleActivated  = "coop.cycle_activated"
	TopicCycleClosed     = "coop.cycle_closed"
	TopicExcessSwept     = "coop.excess_swept"
)

// Publisher delivers domain events to downstream consumers. Publication is
// best effort: callers log failures and move on, the ledger stays the source
// of truth.
type Publisher interface {
	Publish(topic string, event any) error
}

// EntryPosted is emitted after any journal entry commits.
type EntryPosted struct {
	EntryID    string    `json:"entry_id"`
	SourceType string    `json:"source_type"`
	CycleID    string    `json:"cycle_id,omitempty"`
	CreatedBy  string    `json:"created_by"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EntryReversed is emitted when an entry is undone by a reversal entry.
type EntryReversed struct {
	EntryID    string    `json:"entry_id"`
	ReversalID string    `json:"reversal_id"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DepositApproved is emitted when a deposit proof is approved and posted.
type DepositApproved struct {
	ProofID       string          `json:"proof_id"`
	DeclarationID string          `json:"declaration_id"`
	MemberID      string          `json:"member_id"`
	Month         string          `json:"month"`
	Amount        decimal.Decimal `json:"amount"`
	EntryID       string          `json:"entry_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// ProofRejected is emitted when a treasurer rejects a deposit proof.
type ProofRejected struct {
	ProofID       string    `json:"proof_id"`
	DeclarationID string    `json:"declaration_id"`
	MemberID      string    `json:"member_id"`
	Response      string    `json:"response,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// PenaltyAssessed is emitted when a penalty record is created.
type PenaltyAssessed struct {
	RecordID      string    `json:"record_id"`
	MemberID      string    `json:"member_id"`
	PenaltyTypeID string    `json:"penalty_type_id"`
	Month         string    `json:"month"`
	IssuedAt      time.Time `json:"issued_at"`
}

// LoanApproved is emitted when an application becomes a loan.
type LoanApproved struct {
	LoanID        string          `json:"loan_id"`
	ApplicationID string          `json:"application_id"`
	MemberID      string          `json:"member_id"`
	Amount        decimal.Decimal `json:"amount"`
	InterestRate  decimal.Decimal `json:"interest_rate"`
	TermMonths    int             `json:"term_months"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// LoanDisbursed is emitted when loan funds leave the cash account.
type LoanDisbursed struct {
	LoanID     string          `json:"loan_id"`
	MemberID   string          `json:"member_id"`
	Amount     decimal.Decimal `json:"amount"`
	EntryID    string          `json:"entry_id"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// LoanClosed is emitted when a loan is fully repaid.
type LoanClosed struct {
	LoanID     string    `json:"loan_id"`
	MemberID   string    `json:"member_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// CycleActivated is emitted when a cycle becomes the active one.
type CycleActivated struct {
	CycleID    string    `json:"cycle_id"`
	Year       int       `json:"year"`
	OccurredAt time.Time `json:"occurred_at"`
}

// CycleClosed is emitted when a cycle is closed.
type CycleClosed struct {
	CycleID    string    `json:"cycle_id"`
	Year       int       `json:"year"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ExcessSwept is emitted when surplus fund contributions move to savings.
type ExcessSwept struct {
	MemberID   string          `json:"member_id"`
	FundKind   string          `json:"fund_kind"`
	Amount     decimal.Decimal `json:"amount"`
	EntryID    string          `json:"entry_id"`
	OccurredAt time.Time       `json:"occurred_at"`
}
