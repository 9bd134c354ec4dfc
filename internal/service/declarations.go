package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jask/coopledger/internal/database"
	"github.com/jask/coopledger/internal/database/repository"
	"github.com/jask/coopledger/internal/events"
)

// DeclarationService drives the member declaration and proof-of-payment
// state machine: pending, proof, approved or rejected and back to pending
// for another attempt.
type DeclarationService struct {
	DB        *sql.DB
	Events    events.Publisher
	Penalties *PenaltyService
	Location  *time.Location
}

func (s *DeclarationService) location() *time.Location {
	if s.Location != nil {
		return s.Location
	}
	return time.UTC
}

// Components are the six declared amounts for one month.
type Components struct {
	Savings       decimal.Decimal
	Social        decimal.Decimal
	Admin         decimal.Decimal
	Penalties     decimal.Decimal
	LoanInterest  decimal.Decimal
	LoanRepayment decimal.Decimal
}

func (c Components) total() decimal.Decimal {
	return c.Savings.Add(c.Social).Add(c.Admin).Add(c.Penalties).Add(c.LoanInterest).Add(c.LoanRepayment)
}

func (c Components) validate() error {
	for _, v := range []decimal.Decimal{c.Savings, c.Social, c.Admin, c.Penalties, c.LoanInterest, c.LoanRepayment} {
		if v.IsNegative() {
			return errValidationf("declared amounts must not be negative")
		}
	}
	if !c.total().IsPositive() {
		return errValidationf("declaration must declare at least one amount")
	}
	return nil
}

// Create registers a member's declaration for a month in the active cycle.
// At most one declaration exists per (member, cycle, month). A late
// submission picks up the declaration-phase penalty in the same transaction.
func (s *DeclarationService) Create(ctx context.Context, memberID, month string, c Components) (*repository.Declaration, error) {
	if memberID == "" {
		return nil, errValidationf("member id is required")
	}
	if _, err := parseMonth(month); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}

	var created *repository.Declaration
	var penaltyRec *repository.PenaltyRecord
	err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		cycle, err := activeCycle(ctx, tx)
		if err != nil {
			return err
		}
		_, open, err := phaseOpen(ctx, tx, cycle.ID, repository.PhaseDeclaration)
		if err != nil {
			return err
		}
		if !open {
			return errStatef("declaration phase is closed for cycle %d", cycle.Year)
		}
		declarations := repository.NewDeclarationRepo(tx)
		existing, err := declarations.GetByMemberMonth(ctx, memberID, cycle.ID, month)
		if err != nil {
			return err
		}
		if existing != nil {
			return errValidationf("member %s already declared for %s", memberID, month)
		}
		d := repository.Declaration{
			ID:            uuid.NewString(),
			MemberID:      memberID,
			CycleID:       cycle.ID,
			Month:         month,
			Savings:       c.Savings,
			Social:        c.Social,
			Admin:         c.Admin,
			Penalties:     c.Penalties,
			LoanInterest:  c.LoanInterest,
			LoanRepayment: c.LoanRepayment,
			Status:        repository.DeclarationPending,
		}
		if err := declarations.Insert(ctx, d); err != nil {
			return err
		}
		penaltyRec, err = s.Penalties.AutoApply(ctx, tx, memberID, cycle, repository.PhaseDeclaration, month, database.Now())
		if err != nil {
			return err
		}
		created, err = declarations.Get(ctx, d.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publishPenalty(penaltyRec, month)
	return created, nil
}

// Update rewrites the declared components. A declaration is editable only
// while pending, and only for the current month unless a rejected proof
// reopened it.
func (s *DeclarationService) Update(ctx context.Context, declarationID string, c Components) (*repository.Declaration, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	var updated *repository.Declaration
	err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		declarations := repository.NewDeclarationRepo(tx)
		d, err := declarations.Get(ctx, declarationID)
		if err != nil {
			return err
		}
		if d == nil {
			return errNotFound("declaration", declarationID)
		}
		if d.Status != repository.DeclarationPending {
			return errStatef("declaration %s is %s, only pending declarations can be edited", declarationID, d.Status)
		}
		currentMonth := repository.MonthKey(database.Now().In(s.location()))
		if d.Month != currentMonth {
			rejected, err := repository.NewDepositRepo(tx).HasRejectedProof(ctx, d.ID)
			if err != nil {
				return err
			}
			if !rejected {
				return errStatef("declaration for %s can no longer be edited", d.Month)
			}
		}
		d.Savings = c.Savings
		d.Social = c.Social
		d.Admin = c.Admin
		d.Penalties = c.Penalties
		d.LoanInterest = c.LoanInterest
		d.LoanRepayment = c.LoanRepayment
		if err := declarations.UpdateComponents(ctx, *d); err != nil {
			return err
		}
		updated, err = declarations.Get(ctx, declarationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SubmitProof attaches payment evidence to a pending declaration and moves
// it to proof. Resubmission after a rejection creates a new proof on the
// same declaration. A late upload picks up the deposits-phase penalty, whose
// window crosses into the following month.
func (s *DeclarationService) SubmitProof(ctx context.Context, declarationID string, amount decimal.Decimal, reference, comment *string) (*repository.DepositProof, error) {
	if !amount.IsPositive() {
		return nil, errValidationf("proof amount must be positive")
	}
	var proof *repository.DepositProof
	var penaltyRec *repository.PenaltyRecord
	var declMonth string
	err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		declarations := repository.NewDeclarationRepo(tx)
		d, err := declarations.Get(ctx, declarationID)
		if err != nil {
			return err
		}
		if d == nil {
			return errNotFound("declaration", declarationID)
		}
		if d.Status != repository.DeclarationPending {
			return errStatef("declaration %s is %s, proofs attach to pending declarations", declarationID, d.Status)
		}
		declMonth = d.Month
		cycle, err := repository.NewCycleRepo(tx).Get(ctx, d.CycleID)
		if err != nil {
			return err
		}
		if cycle == nil {
			return errNotFound("cycle", d.CycleID)
		}
		_, open, err := phaseOpen(ctx, tx, cycle.ID, repository.PhaseDeposits)
		if err != nil {
			return err
		}
		if !open {
			return errStatef("deposits phase is closed for cycle %d", cycle.Year)
		}
		deposits := repository.NewDepositRepo(tx)
		p := repository.DepositProof{
			ID:            uuid.NewString(),
			DeclarationID: d.ID,
			Amount:        amount,
			Reference:     reference,
			Status:        repository.ProofSubmitted,
			Comment:       comment,
			SubmittedAt:   database.Now(),
		}
		if err := deposits.InsertProof(ctx, p); err != nil {
			return err
		}
		if err := declarations.UpdateStatus(ctx, d.ID, repository.DeclarationProof); err != nil {
			return err
		}
		penaltyRec, err = s.Penalties.AutoApply(ctx, tx, d.MemberID, cycle, repository.PhaseDeposits, d.Month, database.Now())
		if err != nil {
			return err
		}
		proof, err = deposits.GetProof(ctx, p.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publishPenalty(penaltyRec, declMonth)
	return proof, nil
}

// RejectProof records the treasurer's rejection and reopens the declaration
// for editing and resubmission.
func (s *DeclarationService) RejectProof(ctx context.Context, proofID, response, actor string) error {
	var rejected *repository.DepositProof
	var declaration *repository.Declaration
	err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		deposits := repository.NewDepositRepo(tx)
		p, err := deposits.GetProof(ctx, proofID)
		if err != nil {
			return err
		}
		if p == nil {
			return errNotFound("proof", proofID)
		}
		if p.Status != repository.ProofSubmitted {
			return errStatef("proof %s is %s, only submitted proofs can be rejected", proofID, p.Status)
		}
		declarations := repository.NewDeclarationRepo(tx)
		declaration, err = declarations.Get(ctx, p.DeclarationID)
		if err != nil {
			return err
		}
		if declaration == nil {
			return errNotFound("declaration", p.DeclarationID)
		}
		if err := deposits.UpdateProofDecision(ctx, proofID, repository.ProofRejected, &response, actor, database.Now()); err != nil {
			return err
		}
		if err := declarations.UpdateStatus(ctx, declaration.ID, repository.DeclarationPending); err != nil {
			return err
		}
		rejected, err = deposits.GetProof(ctx, proofID)
		return err
	})
	if err != nil {
		return err
	}
	publish(s.Events, events.TopicProofRejected, events.ProofRejected{
		ProofID:       rejected.ID,
		DeclarationID: rejected.DeclarationID,
		MemberID:      declaration.MemberID,
		Response:      response,
		OccurredAt:    database.Now(),
	})
	return nil
}

// Get returns one declaration.
func (s *DeclarationService) Get(ctx context.Context, declarationID string) (*repository.Declaration, error) {
	d, err := repository.NewDeclarationRepo(s.DB).Get(ctx, declarationID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, errNotFound("declaration", declarationID)
	}
	return d, nil
}

// ForMember lists a member's declarations within a cycle by month.
func (s *DeclarationService) ForMember(ctx context.Context, memberID, cycleID string) ([]repository.Declaration, error) {
	return repository.NewDeclarationRepo(s.DB).ListByMember(ctx, memberID, cycleID)
}

// ForCycle lists every declaration in a cycle.
func (s *DeclarationService) ForCycle(ctx context.Context, cycleID string) ([]repository.Declaration, error) {
	return repository.NewDeclarationRepo(s.DB).ListByCycle(ctx, cycleID)
}

// Proofs lists a declaration's proofs oldest first.
func (s *DeclarationService) Proofs(ctx context.Context, declarationID string) ([]repository.DepositProof, error) {
	return repository.NewDepositRepo(s.DB).ProofsByDeclaration(ctx, declarationID)
}

// GetProof returns one proof.
func (s *DeclarationService) GetProof(ctx context.Context, proofID string) (*repository.DepositProof, error) {
	p, err := repository.NewDepositRepo(s.DB).GetProof(ctx, proofID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errNotFound("proof", proofID)
	}
	return p, nil
}

func (s *DeclarationService) publishPenalty(rec *repository.PenaltyRecord, month string) {
	if rec == nil {
		return
	}
	publish(s.Events, events.TopicPenaltyAssessed, events.PenaltyAssessed{
		RecordID:      rec.ID,
		MemberID:      rec.MemberID,
		PenaltyTypeID: rec.PenaltyTypeID,
		Month:         month,
		IssuedAt:      rec.IssuedAt,
	})
}
