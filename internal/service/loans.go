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

// LoanService runs the loan lifecycle: application, approval, disbursement,
// repayment tracking and closure. Eligibility comes from the credit rating
// resolver; money moves through the ledger.
type LoanService struct {
	DB        *sql.DB
	Events    events.Publisher
	Penalties *PenaltyService
}

// Apply files a loan application for the active cycle. The member must have
// no pending application and no active loan with an outstanding balance, and
// the requested amount and term must fit their resolved borrowing terms.
func (s *LoanService) Apply(ctx context.Context, memberID string, amount decimal.Decimal, termMonths int) (*repository.LoanApplication, error) {
	if memberID == "" {
		return nil, errValidationf("member id is required")
	}
	if !amount.IsPositive() {
		return nil, errValidationf("loan amount must be positive")
	}
	if termMonths < 1 {
		return nil, errValidationf("loan term must be at least one month")
	}

	var application *repository.LoanApplication
	var penaltyRec *repository.PenaltyRecord
	var effectiveMonth string
	err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		cycle, err := activeCycle(ctx, tx)
		if err != nil {
			return err
		}
		_, open, err := phaseOpen(ctx, tx, cycle.ID, repository.PhaseLoanApplication)
		if err != nil {
			return err
		}
		if !open {
			return errStatef("loan application phase is closed for cycle %d", cycle.Year)
		}

		loans := repository.NewLoanRepo(tx)
		pending, err := loans.HasPendingApplication(ctx, memberID, cycle.ID)
		if err != nil {
			return err
		}
		if pending {
			return errValidationf("member %s already has a pending application", memberID)
		}
		active, err := loans.ActiveLoanByMember(ctx, memberID)
		if err != nil {
			return err
		}
		if active != nil {
			principal, _, err := loans.SumRepayments(ctx, active.ID)
			if err != nil {
				return err
			}
			if active.Amount.Sub(principal).GreaterThan(amountTolerance) {
				return errValidationf("member %s has an active loan with an outstanding balance", memberID)
			}
		}

		res, err := resolveRating(ctx, tx, memberID, cycle)
		if err != nil {
			return err
		}
		if amount.GreaterThan(res.MaxLoanAmount) {
			return errValidationf("requested %s exceeds the member's loan ceiling %s", amount, res.MaxLoanAmount)
		}
		if _, err := res.RateForTerm(termMonths); err != nil {
			return err
		}

		now := database.Now()
		effectiveMonth = repository.MonthKey(now.In(s.Penalties.location()))
		penaltyRec, err = s.Penalties.AutoApply(ctx, tx, memberID, cycle, repository.PhaseLoanApplication, effectiveMonth, now)
		if err != nil {
			return err
		}

		a := repository.LoanApplication{
			ID:         uuid.NewString(),
			MemberID:   memberID,
			CycleID:    cycle.ID,
			Amount:     amount,
			TermMonths: termMonths,
			Status:     repository.ApplicationPending,
		}
		if err := loans.InsertApplication(ctx, a); err != nil {
			return err
		}
		application, err = loans.GetApplication(ctx, a.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if penaltyRec != nil {
		publish(s.Events, events.TopicPenaltyAssessed, events.PenaltyAssessed{
			RecordID:      penaltyRec.ID,
			MemberID:      penaltyRec.MemberID,
			PenaltyTypeID: penaltyRec.PenaltyTypeID,
			Month:         effectiveMonth,
			IssuedAt:      penaltyRec.IssuedAt,
		})
	}
	return application, nil
}

// Approve turns a pending application into a loan at the rate resolved for
// the member's tier and the requested term.
func (s *LoanService) Approve(ctx context.Context, applicationID, actor string) (*repository.Loan, error) {
	var loan *repository.Loan
	err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		loans := repository.NewLoanRepo(tx)
		app, err := loans.GetApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		if app == nil {
			return errNotFound("loan application", applicationID)
		}
		if app.Status != repository.ApplicationPending {
			return errStatef("application %s is %s, only pending applications can be approved", applicationID, app.Status)
		}
		cycle, err := repository.NewCycleRepo(tx).Get(ctx, app.CycleID)
		if err != nil {
			return err
		}
		if cycle == nil {
			return errNotFound("cycle", app.CycleID)
		}
		res, err := resolveRating(ctx, tx, app.MemberID, cycle)
		if err != nil {
			return err
		}
		rate, err := res.RateForTerm(app.TermMonths)
		if err != nil {
			return err
		}
		l := repository.Loan{
			ID:            uuid.NewString(),
			ApplicationID: app.ID,
			MemberID:      app.MemberID,
			CycleID:       app.CycleID,
			Amount:        app.Amount,
			InterestRate:  rate,
			TermMonths:    app.TermMonths,
			Status:        repository.LoanApproved,
		}
		if err := loans.InsertLoan(ctx, l); err != nil {
			return err
		}
		if err := loans.UpdateApplicationDecision(ctx, app.ID, repository.ApplicationApproved, actor, database.Now()); err != nil {
			return err
		}
		loan, err = loans.GetLoan(ctx, l.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	publish(s.Events, events.TopicLoanApproved, events.LoanApproved{
		LoanID:        loan.ID,
		ApplicationID: loan.ApplicationID,
		MemberID:      loan.MemberID,
		Amount:        loan.Amount,
		InterestRate:  loan.InterestRate,
		TermMonths:    loan.TermMonths,
		OccurredAt:    database.Now(),
	})
	return loan, nil
}

// Reject declines a pending application.
func (s *LoanService) Reject(ctx context.Context, applicationID, actor string) error {
	return s.decideApplication(ctx, applicationID, repository.ApplicationRejected, actor)
}

// Withdraw lets the member pull back a pending application.
func (s *LoanService) Withdraw(ctx context.Context, applicationID string) error {
	return s.decideApplication(ctx, applicationID, repository.ApplicationWithdrawn, "")
}

func (s *LoanService) decideApplication(ctx context.Context, applicationID string, status repository.ApplicationStatus, actor string) error {
	return database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		loans := repository.NewLoanRepo(tx)
		app, err := loans.GetApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		if app == nil {
			return errNotFound("loan application", applicationID)
		}
		if app.Status != repository.ApplicationPending {
			return errStatef("application %s is %s, only pending applications can be decided", applicationID, app.Status)
		}
		decidedBy := actor
		if decidedBy == "" {
			decidedBy = app.MemberID
		}
		return loans.UpdateApplicationDecision(ctx, applicationID, status, decidedBy, database.Now())
	})
}

// Disburse pays an approved loan out: loans receivable is debited, cash is
// credited, and the loan opens.
func (s *LoanService) Disburse(ctx context.Context, loanID, actor string) (*repository.JournalEntry, error) {
	var entry *repository.JournalEntry
	var loan *repository.Loan
	err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		loans := repository.NewLoanRepo(tx)
		var err error
		loan, err = loans.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if loan == nil {
			return errNotFound("loan", loanID)
		}
		if loan.Status != repository.LoanApproved {
			return errStatef("loan %s is %s, only approved loans can be disbursed", loanID, loan.Status)
		}
		locked, err := postingLocked(ctx, tx, loan.CycleID)
		if err != nil {
			return err
		}
		if locked {
			return errStatef("cycle of loan %s is locked against postings", loanID)
		}
		receivable, err := orgAccount(ctx, tx, repository.CodeLoansReceivable)
		if err != nil {
			return err
		}
		cash, err := orgAccount(ctx, tx, repository.CodeCash)
		if err != nil {
			return err
		}
		entry, err = postEntry(ctx, tx, EntryInput{
			Description: "Loan disbursement to member " + memberTag(loan.MemberID),
			Date:        database.Now(),
			CycleID:     &loan.CycleID,
			Source:      repository.SourceLoanDisbursement,
			SourceRef:   &loan.ID,
			CreatedBy:   actor,
			Lines: []EntryLine{
				{AccountID: receivable.ID, Debit: loan.Amount},
				{AccountID: cash.ID, Credit: loan.Amount},
			},
		})
		if err != nil {
			return err
		}
		return loans.MarkDisbursed(ctx, loanID, entry.ID, database.Now())
	})
	if err != nil {
		return nil, err
	}
	publish(s.Events, events.TopicLoanDisbursed, events.LoanDisbursed{
		LoanID:     loanID,
		MemberID:   loan.MemberID,
		Amount:     loan.Amount,
		EntryID:    entry.ID,
		OccurredAt: database.Now(),
	})
	return entry, nil
}

// Outstanding returns the unpaid principal of a loan.
func (s *LoanService) Outstanding(ctx context.Context, loanID string) (decimal.Decimal, error) {
	loans := repository.NewLoanRepo(s.DB)
	loan, err := loans.GetLoan(ctx, loanID)
	if err != nil {
		return decimal.Zero, err
	}
	if loan == nil {
		return decimal.Zero, errNotFound("loan", loanID)
	}
	principal, _, err := loans.SumRepayments(ctx, loanID)
	if err != nil {
		return decimal.Zero, err
	}
	return loan.Amount.Sub(principal), nil
}

// CloseRepaid closes every open loan whose principal is repaid and whose
// interest target is met. Safe to re-run: closed loans are never revisited.
func (s *LoanService) CloseRepaid(ctx context.Context) error {
	open, err := repository.NewLoanRepo(s.DB).ListOpenLoans(ctx)
	if err != nil {
		return err
	}
	for _, l := range open {
		var closed *repository.Loan
		err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
			var err error
			closed, err = closeIfRepaid(ctx, tx, l.ID)
			return err
		})
		if err != nil {
			log.Warn().Err(err).Str("loan", l.ID).Msg("loan close sweep failed")
			continue
		}
		if closed != nil {
			publish(s.Events, events.TopicLoanClosed, events.LoanClosed{
				LoanID:     closed.ID,
				MemberID:   closed.MemberID,
				OccurredAt: database.Now(),
			})
		}
	}
	return nil
}

// Get returns one loan.
func (s *LoanService) Get(ctx context.Context, loanID string) (*repository.Loan, error) {
	loan, err := repository.NewLoanRepo(s.DB).GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, errNotFound("loan", loanID)
	}
	return loan, nil
}

// Applications lists a member's applications, newest first.
func (s *LoanService) Applications(ctx context.Context, memberID string) ([]repository.LoanApplication, error) {
	return repository.NewLoanRepo(s.DB).ListApplicationsByMember(ctx, memberID)
}

// MemberLoans lists a member's loans, newest first.
func (s *LoanService) MemberLoans(ctx context.Context, memberID string) ([]repository.Loan, error) {
	return repository.NewLoanRepo(s.DB).ListLoansByMember(ctx, memberID)
}

// History lists a loan's repayments oldest first.
func (s *LoanService) History(ctx context.Context, loanID string) ([]repository.Repayment, error) {
	loan, err := repository.NewLoanRepo(s.DB).GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, errNotFound("loan", loanID)
	}
	return repository.NewLoanRepo(s.DB).RepaymentsByLoan(ctx, loanID)
}

// closeIfRepaid closes the loan when outstanding principal is at or below
// the tolerance and interest paid has reached the expected amount. Returns
// the closed loan, or nil when it stays open.
func closeIfRepaid(ctx context.Context, q repository.DBTX, loanID string) (*repository.Loan, error) {
	loans := repository.NewLoanRepo(q)
	loan, err := loans.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, errNotFound("loan", loanID)
	}
	if loan.Status != repository.LoanOpen && loan.Status != repository.LoanDisbursed {
		return nil, nil
	}
	principal, interest, err := loans.SumRepayments(ctx, loanID)
	if err != nil {
		return nil, err
	}
	outstanding := loan.Amount.Sub(principal)
	if outstanding.GreaterThan(amountTolerance) {
		return nil, nil
	}
	if interest.LessThan(loan.ExpectedInterest()) {
		return nil, nil
	}
	if err := loans.CloseLoan(ctx, loanID, database.Now()); err != nil {
		return nil, err
	}
	return loans.GetLoan(ctx, loanID)
}
