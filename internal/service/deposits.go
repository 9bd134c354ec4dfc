package service

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/jask/coopledger/internal/database"
	"github.com/jask/coopledger/internal/database/repository"
	"github.com/jask/coopledger/internal/events"
)

// DepositService turns an approved deposit proof into one balanced journal
// entry across the member's sub-ledgers and drives the dependent state
// updates: declaration and proof statuses, repayment history, penalty
// settlement and the excess-contribution sweep.
type DepositService struct {
	DB     *sql.DB
	Events events.Publisher
}

// Approve posts a submitted proof. Everything up to and including the
// status flips happens in one transaction; the excess sweep and event
// publication run after commit and never unwind the approval.
func (s *DepositService) Approve(ctx context.Context, proofID, actor string) (*repository.DepositApproval, error) {
	var (
		approval    *repository.DepositApproval
		declaration *repository.Declaration
		proofAmount decimal.Decimal
		cycle       *repository.Cycle
		closedLoan  *repository.Loan
	)
	err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		deposits := repository.NewDepositRepo(tx)
		proof, err := deposits.GetProof(ctx, proofID)
		if err != nil {
			return err
		}
		if proof == nil {
			return errNotFound("proof", proofID)
		}
		if proof.Status != repository.ProofSubmitted {
			return errStatef("proof %s is %s, only submitted proofs can be approved", proofID, proof.Status)
		}
		proofAmount = proof.Amount

		declarations := repository.NewDeclarationRepo(tx)
		declaration, err = declarations.Get(ctx, proof.DeclarationID)
		if err != nil {
			return err
		}
		if declaration == nil {
			return errNotFound("declaration", proof.DeclarationID)
		}
		if declaration.Status != repository.DeclarationProof {
			return errStatef("declaration %s is %s, approval needs a declaration awaiting its proof decision", declaration.ID, declaration.Status)
		}

		cycle, err = repository.NewCycleRepo(tx).Get(ctx, declaration.CycleID)
		if err != nil {
			return err
		}
		if cycle == nil {
			return errNotFound("cycle", declaration.CycleID)
		}
		locked, err := postingLocked(ctx, tx, cycle.ID)
		if err != nil {
			return err
		}
		if locked {
			return errStatef("cycle %d is locked against postings", cycle.Year)
		}

		total := declaration.Total()
		if proof.Amount.Sub(total).Abs().GreaterThan(amountTolerance) {
			return errValidationf("proof amount %s does not match declared total %s", proof.Amount, total)
		}

		if err := seedInitialRequirement(ctx, tx, declaration.MemberID, cycle, actor); err != nil {
			return err
		}

		entry, loan, err := postDeposit(ctx, tx, declaration, cycle, actor)
		if err != nil {
			return err
		}

		if loan != nil {
			loans := repository.NewLoanRepo(tx)
			if err := loans.InsertRepayment(ctx, repository.Repayment{
				ID:            uuid.NewString(),
				LoanID:        loan.ID,
				DeclarationID: declaration.ID,
				Principal:     declaration.LoanRepayment,
				Interest:      declaration.LoanInterest,
				EntryID:       entry.ID,
				PaidAt:        database.Now(),
			}); err != nil {
				return err
			}
			closedLoan, err = closeIfRepaid(ctx, tx, loan.ID)
			if err != nil {
				return err
			}
		}

		if err := settlePenalties(ctx, tx, declaration.MemberID, declaration.Penalties); err != nil {
			return err
		}

		if err := deposits.UpdateProofDecision(ctx, proofID, repository.ProofApproved, nil, actor, database.Now()); err != nil {
			return err
		}
		if err := declarations.UpdateStatus(ctx, declaration.ID, repository.DeclarationApproved); err != nil {
			return err
		}
		approval = &repository.DepositApproval{
			ID:         uuid.NewString(),
			ProofID:    proofID,
			EntryID:    entry.ID,
			ApprovedBy: actor,
			ApprovedAt: database.Now(),
		}
		return deposits.InsertApproval(ctx, *approval)
	})
	if err != nil {
		return nil, err
	}

	publish(s.Events, events.TopicDepositApproved, events.DepositApproved{
		ProofID:       proofID,
		DeclarationID: declaration.ID,
		MemberID:      declaration.MemberID,
		Month:         declaration.Month,
		Amount:        proofAmount,
		EntryID:       approval.EntryID,
		OccurredAt:    database.Now(),
	})
	if closedLoan != nil {
		publish(s.Events, events.TopicLoanClosed, events.LoanClosed{
			LoanID:     closedLoan.ID,
			MemberID:   closedLoan.MemberID,
			OccurredAt: database.Now(),
		})
	}
	s.sweepMemberExcess(ctx, declaration.MemberID, cycle)
	return approval, nil
}

// Approval returns the approval record linking a proof to its entry.
func (s *DepositService) Approval(ctx context.Context, proofID string) (*repository.DepositApproval, error) {
	a, err := repository.NewDepositRepo(s.DB).GetApprovalByProof(ctx, proofID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, errNotFound("deposit approval", proofID)
	}
	return a, nil
}

// SweepExcess reclassifies every member's surplus social/admin contributions
// into savings for the active cycle. It is idempotent and safe on a timer:
// a swept account balances to zero and is skipped next time.
func (s *DepositService) SweepExcess(ctx context.Context) error {
	cycle, err := repository.NewCycleRepo(s.DB).Active(ctx)
	if err != nil {
		return err
	}
	if cycle == nil {
		return nil
	}
	for _, kind := range []repository.FundKind{repository.FundSocial, repository.FundAdmin} {
		if !requirementFor(cycle, kind).Valid {
			continue
		}
		accounts, err := repository.NewAccountRepo(s.DB).ListMemberAccounts(ctx, kind)
		if err != nil {
			return err
		}
		for _, acct := range accounts {
			if acct.MemberID == nil {
				continue
			}
			if err := s.sweepFund(ctx, *acct.MemberID, kind, cycle); err != nil {
				log.Warn().Err(err).Str("member", *acct.MemberID).Str("fund", string(kind)).
					Msg("excess sweep failed")
			}
		}
	}
	return nil
}

// sweepMemberExcess runs the post-approval sweep for one member. Failures
// are logged: the deposit approval has already committed.
func (s *DepositService) sweepMemberExcess(ctx context.Context, memberID string, cycle *repository.Cycle) {
	for _, kind := range []repository.FundKind{repository.FundSocial, repository.FundAdmin} {
		if !requirementFor(cycle, kind).Valid {
			continue
		}
		if err := s.sweepFund(ctx, memberID, kind, cycle); err != nil {
			log.Warn().Err(err).Str("member", memberID).Str("fund", string(kind)).
				Msg("excess sweep failed")
		}
	}
}

// sweepFund moves one member's positive fund balance into savings in its own
// transaction.
func (s *DepositService) sweepFund(ctx context.Context, memberID string, kind repository.FundKind, cycle *repository.Cycle) error {
	var entry *repository.JournalEntry
	var excess decimal.Decimal
	err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		acct, err := repository.NewAccountRepo(tx).GetMemberAccount(ctx, memberID, kind)
		if err != nil {
			return err
		}
		if acct == nil {
			return nil
		}
		balance, err := accountBalance(ctx, tx, acct.ID)
		if err != nil {
			return err
		}
		if !balance.IsPositive() {
			return nil
		}
		savings, err := ensureMemberAccount(ctx, tx, memberID, repository.FundSavings)
		if err != nil {
			return err
		}
		excess = balance
		entry, err = postEntry(ctx, tx, EntryInput{
			Description: "Excess " + kind.DisplayName() + " contribution to savings",
			Date:        database.Now(),
			CycleID:     &cycle.ID,
			Source:      repository.SourceExcessTransfer,
			SourceRef:   &memberID,
			CreatedBy:   SystemActor,
			Lines: []EntryLine{
				{AccountID: acct.ID, Debit: excess},
				{AccountID: savings.ID, Credit: excess},
			},
		})
		return err
	})
	if err != nil {
		return err
	}
	if entry != nil {
		publish(s.Events, events.TopicExcessSwept, events.ExcessSwept{
			MemberID:   memberID,
			FundKind:   string(kind),
			Amount:     excess,
			EntryID:    entry.ID,
			OccurredAt: database.Now(),
		})
	}
	return nil
}

// seedInitialRequirement posts the one-time entry that books the cycle's
// required social/admin amounts against the member ahead of their first
// approved deposit, so later payments net down a known balance. Skipped when
// already seeded or when the cycle configures no requirements.
func seedInitialRequirement(ctx context.Context, q repository.DBTX, memberID string, cycle *repository.Cycle, actor string) error {
	social := requirementFor(cycle, repository.FundSocial)
	admin := requirementFor(cycle, repository.FundAdmin)
	if !social.Valid && !admin.Valid {
		return nil
	}
	journal := repository.NewJournalRepo(q)
	seeded, err := journal.HasSourceEntry(ctx, repository.SourceInitialRequirement, memberID, cycle.ID)
	if err != nil {
		return err
	}
	if seeded {
		return nil
	}

	var lines []EntryLine
	if social.Valid && social.Decimal.IsPositive() {
		memberSocial, err := ensureMemberAccount(ctx, q, memberID, repository.FundSocial)
		if err != nil {
			return err
		}
		fund, err := orgAccount(ctx, q, repository.CodeSocialFund)
		if err != nil {
			return err
		}
		lines = append(lines,
			EntryLine{AccountID: memberSocial.ID, Debit: social.Decimal},
			EntryLine{AccountID: fund.ID, Credit: social.Decimal},
		)
	}
	if admin.Valid && admin.Decimal.IsPositive() {
		memberAdmin, err := ensureMemberAccount(ctx, q, memberID, repository.FundAdmin)
		if err != nil {
			return err
		}
		fund, err := orgAccount(ctx, q, repository.CodeAdminFund)
		if err != nil {
			return err
		}
		lines = append(lines,
			EntryLine{AccountID: memberAdmin.ID, Debit: admin.Decimal},
			EntryLine{AccountID: fund.ID, Credit: admin.Decimal},
		)
	}
	if len(lines) == 0 {
		return nil
	}
	_, err = postEntry(ctx, q, EntryInput{
		Description: "Initial fund requirement for member " + memberTag(memberID),
		Date:        database.Now(),
		CycleID:     &cycle.ID,
		Source:      repository.SourceInitialRequirement,
		SourceRef:   &memberID,
		CreatedBy:   actor,
		Lines:       lines,
	})
	return err
}

// postDeposit builds and posts the deposit entry: one cash debit for the
// declared total, one credit per non-zero component. Loan components require
// an open loan, which is returned for repayment bookkeeping.
func postDeposit(ctx context.Context, q repository.DBTX, d *repository.Declaration, cycle *repository.Cycle, actor string) (*repository.JournalEntry, *repository.Loan, error) {
	cash, err := orgAccount(ctx, q, repository.CodeCash)
	if err != nil {
		return nil, nil, err
	}
	lines := []EntryLine{{AccountID: cash.ID, Debit: d.Total()}}

	memberFunds := []struct {
		kind   repository.FundKind
		amount decimal.Decimal
	}{
		{repository.FundSavings, d.Savings},
		{repository.FundSocial, d.Social},
		{repository.FundAdmin, d.Admin},
		{repository.FundPenalty, d.Penalties},
	}
	for _, f := range memberFunds {
		if !f.amount.IsPositive() {
			continue
		}
		acct, err := ensureMemberAccount(ctx, q, d.MemberID, f.kind)
		if err != nil {
			return nil, nil, err
		}
		lines = append(lines, EntryLine{AccountID: acct.ID, Credit: f.amount})
	}

	var loan *repository.Loan
	if d.LoanInterest.IsPositive() || d.LoanRepayment.IsPositive() {
		loan, err = repository.NewLoanRepo(q).OpenLoanByMember(ctx, d.MemberID)
		if err != nil {
			return nil, nil, err
		}
		if loan == nil {
			return nil, nil, errValidationf("member %s declared loan payments but has no open loan", d.MemberID)
		}
		if d.LoanInterest.IsPositive() {
			income, err := orgAccount(ctx, q, repository.CodeInterestIncome)
			if err != nil {
				return nil, nil, err
			}
			lines = append(lines, EntryLine{AccountID: income.ID, Credit: d.LoanInterest})
		}
		if d.LoanRepayment.IsPositive() {
			receivable, err := orgAccount(ctx, q, repository.CodeLoansReceivable)
			if err != nil {
				return nil, nil, err
			}
			lines = append(lines, EntryLine{AccountID: receivable.ID, Credit: d.LoanRepayment})
		}
	}

	entry, err := postEntry(ctx, q, EntryInput{
		Description: "Deposit for " + d.Month + " by member " + memberTag(d.MemberID),
		Date:        database.Now(),
		CycleID:     &cycle.ID,
		Source:      repository.SourceDepositApproval,
		SourceRef:   &d.ID,
		CreatedBy:   actor,
		Lines:       lines,
	})
	if err != nil {
		return nil, nil, err
	}
	return entry, loan, nil
}

// requirementFor returns the cycle's configured requirement for a fund kind.
func requirementFor(cycle *repository.Cycle, kind repository.FundKind) decimal.NullDecimal {
	switch kind {
	case repository.FundSocial:
		return cycle.SocialFundRequirement
	case repository.FundAdmin:
		return cycle.AdminFundRequirement
	}
	return decimal.NullDecimal{}
}
