package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

const applicationCols = "id, member_id, cycle_id, amount, term_months, status, created_at, decided_at, decided_by"
const loanCols = "id, application_id, member_id, cycle_id, amount, interest_rate, term_months, status, disbursed_at, disbursement_entry_id, created_at, closed_at"

// LoanRepo handles loan applications, loans and repayments.
type LoanRepo struct {
	db DBTX
}

func NewLoanRepo(db DBTX) *LoanRepo { return &LoanRepo{db: db} }

func (r *LoanRepo) InsertApplication(ctx context.Context, a LoanApplication) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO loan_applications(id, member_id, cycle_id, amount, term_months, status, created_at)
	VALUES(?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
	`, a.ID, a.MemberID, a.CycleID, a.Amount, a.TermMonths, a.Status)
	return err
}

func (r *LoanRepo) GetApplication(ctx context.Context, id string) (*LoanApplication, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+applicationCols+` FROM loan_applications WHERE id = ?`, id)
	a, err := scanApplication(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *LoanRepo) UpdateApplicationDecision(ctx context.Context, id string, status ApplicationStatus, decidedBy string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE loan_applications SET status = ?, decided_by = ?, decided_at = ? WHERE id = ?`, status, decidedBy, at, id)
	return err
}

func (r *LoanRepo) HasPendingApplication(ctx context.Context, memberID, cycleID string) (bool, error) {
	var n int
	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM loan_applications WHERE member_id = ? AND cycle_id = ? AND status = 'pending'`, memberID, cycleID)
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *LoanRepo) ListApplicationsByMember(ctx context.Context, memberID string) ([]LoanApplication, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+applicationCols+` FROM loan_applications WHERE member_id = ? ORDER BY created_at DESC`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LoanApplication
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *LoanRepo) InsertLoan(ctx context.Context, l Loan) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO loans(id, application_id, member_id, cycle_id, amount, interest_rate, term_months, status, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
	`, l.ID, l.ApplicationID, l.MemberID, l.CycleID, l.Amount, l.InterestRate, l.TermMonths, l.Status)
	return err
}

func (r *LoanRepo) GetLoan(ctx context.Context, id string) (*Loan, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+loanCols+` FROM loans WHERE id = ?`, id)
	return scanLoanRow(row)
}

// ActiveLoanByMember returns the member's loan in any not-yet-closed state,
// or nil. Legacy "disbursed" rows count as active.
func (r *LoanRepo) ActiveLoanByMember(ctx context.Context, memberID string) (*Loan, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+loanCols+` FROM loans WHERE member_id = ? AND status IN ('approved','disbursed','open') ORDER BY created_at DESC LIMIT 1`, memberID)
	return scanLoanRow(row)
}

// OpenLoanByMember returns the member's disbursed, unclosed loan, or nil.
func (r *LoanRepo) OpenLoanByMember(ctx context.Context, memberID string) (*Loan, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+loanCols+` FROM loans WHERE member_id = ? AND status IN ('disbursed','open') ORDER BY created_at DESC LIMIT 1`, memberID)
	return scanLoanRow(row)
}

func (r *LoanRepo) ListOpenLoans(ctx context.Context) ([]Loan, error) {
	return r.listLoans(ctx, `SELECT `+loanCols+` FROM loans WHERE status IN ('disbursed','open') ORDER BY created_at`)
}

func (r *LoanRepo) ListLoansByMember(ctx context.Context, memberID string) ([]Loan, error) {
	return r.listLoans(ctx, `SELECT `+loanCols+` FROM loans WHERE member_id = ? ORDER BY created_at DESC`, memberID)
}

func (r *LoanRepo) MarkDisbursed(ctx context.Context, id, entryID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE loans SET status = 'open', disbursed_at = ?, disbursement_entry_id = ? WHERE id = ?`, at, entryID, id)
	return err
}

func (r *LoanRepo) CloseLoan(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE loans SET status = 'closed', closed_at = ? WHERE id = ?`, at, id)
	return err
}

func (r *LoanRepo) InsertRepayment(ctx context.Context, rp Repayment) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO repayments(id, loan_id, declaration_id, principal, interest, entry_id, paid_at)
	VALUES(?, ?, ?, ?, ?, ?, ?);
	`, rp.ID, rp.LoanID, rp.DeclarationID, rp.Principal, rp.Interest, rp.EntryID, rp.PaidAt)
	return err
}

func (r *LoanRepo) RepaymentsByLoan(ctx context.Context, loanID string) ([]Repayment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, loan_id, declaration_id, principal, interest, entry_id, paid_at FROM repayments WHERE loan_id = ? ORDER BY paid_at ASC`, loanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Repayment
	for rows.Next() {
		var rp Repayment
		if err := rows.Scan(&rp.ID, &rp.LoanID, &rp.DeclarationID, &rp.Principal, &rp.Interest, &rp.EntryID, &rp.PaidAt); err != nil {
			return nil, err
		}
		out = append(out, rp)
	}
	return out, rows.Err()
}

// SumRepayments totals principal and interest paid against a loan. Amounts
// are decimal strings so the summing happens here rather than in SQL.
func (r *LoanRepo) SumRepayments(ctx context.Context, loanID string) (principal, interest decimal.Decimal, err error) {
	rows, err := r.db.QueryContext(ctx, `SELECT principal, interest FROM repayments WHERE loan_id = ?`, loanID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	defer rows.Close()
	for rows.Next() {
		var p, i decimal.Decimal
		if err := rows.Scan(&p, &i); err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		principal = principal.Add(p)
		interest = interest.Add(i)
	}
	return principal, interest, rows.Err()
}

func (r *LoanRepo) listLoans(ctx context.Context, query string, args ...interface{}) ([]Loan, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLoanRow(row *sql.Row) (*Loan, error) {
	l, err := scanLoan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

// scanApplication handles nullable decision fields for both Row and Rows.
func scanApplication(row scanner) (LoanApplication, error) {
	var a LoanApplication
	var decidedBy sql.NullString
	var decidedAt sql.NullTime
	if err := row.Scan(&a.ID, &a.MemberID, &a.CycleID, &a.Amount, &a.TermMonths, &a.Status, &a.CreatedAt, &decidedAt, &decidedBy); err != nil {
		return LoanApplication{}, err
	}
	if decidedAt.Valid {
		a.DecidedAt = &decidedAt.Time
	}
	if decidedBy.Valid {
		a.DecidedBy = &decidedBy.String
	}
	return a, nil
}

// scanLoan handles nullable disbursement/closure fields for both Row and Rows.
func scanLoan(row scanner) (Loan, error) {
	var l Loan
	var entry sql.NullString
	var disbursed, closed sql.NullTime
	if err := row.Scan(&l.ID, &l.ApplicationID, &l.MemberID, &l.CycleID, &l.Amount, &l.InterestRate,
		&l.TermMonths, &l.Status, &disbursed, &entry, &l.CreatedAt, &closed); err != nil {
		return Loan{}, err
	}
	if disbursed.Valid {
		l.DisbursedAt = &disbursed.Time
	}
	if entry.Valid {
		l.DisbursementEntryID = &entry.String
	}
	if closed.Valid {
		l.ClosedAt = &closed.Time
	}
	return l, nil
}
