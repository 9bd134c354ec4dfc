package repository

import (
	"context"
	"database/sql"
)

const declarationCols = "id, member_id, cycle_id, month, savings, social, admin, penalties, loan_interest, loan_repayment, status, created_at, updated_at"

// DeclarationRepo handles member declarations.
type DeclarationRepo struct {
	db DBTX
}

func NewDeclarationRepo(db DBTX) *DeclarationRepo { return &DeclarationRepo{db: db} }

func (r *DeclarationRepo) Insert(ctx context.Context, d Declaration) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO declarations(id, member_id, cycle_id, month, savings, social, admin, penalties, loan_interest, loan_repayment, status, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
	`, d.ID, d.MemberID, d.CycleID, d.Month, d.Savings, d.Social, d.Admin, d.Penalties, d.LoanInterest, d.LoanRepayment, d.Status)
	return err
}

// UpdateComponents rewrites the six declared amounts.
func (r *DeclarationRepo) UpdateComponents(ctx context.Context, d Declaration) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE declarations SET savings = ?, social = ?, admin = ?, penalties = ?, loan_interest = ?, loan_repayment = ?, updated_at = CURRENT_TIMESTAMP
	WHERE id = ?;
	`, d.Savings, d.Social, d.Admin, d.Penalties, d.LoanInterest, d.LoanRepayment, d.ID)
	return err
}

func (r *DeclarationRepo) UpdateStatus(ctx context.Context, id string, status DeclarationStatus) error {
	_, err := r.db.ExecContext(ctx, `UPDATE declarations SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	return err
}

func (r *DeclarationRepo) Get(ctx context.Context, id string) (*Declaration, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+declarationCols+` FROM declarations WHERE id = ?`, id)
	return scanDeclarationRow(row)
}

func (r *DeclarationRepo) GetByMemberMonth(ctx context.Context, memberID, cycleID, month string) (*Declaration, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+declarationCols+` FROM declarations WHERE member_id = ? AND cycle_id = ? AND month = ?`, memberID, cycleID, month)
	return scanDeclarationRow(row)
}

func (r *DeclarationRepo) ListByMember(ctx context.Context, memberID, cycleID string) ([]Declaration, error) {
	return r.list(ctx, `SELECT `+declarationCols+` FROM declarations WHERE member_id = ? AND cycle_id = ? ORDER BY month`, memberID, cycleID)
}

func (r *DeclarationRepo) ListByCycle(ctx context.Context, cycleID string) ([]Declaration, error) {
	return r.list(ctx, `SELECT `+declarationCols+` FROM declarations WHERE cycle_id = ? ORDER BY month, member_id`, cycleID)
}

func (r *DeclarationRepo) list(ctx context.Context, query string, args ...interface{}) ([]Declaration, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Declaration
	for rows.Next() {
		d, err := scanDeclaration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDeclarationRow(row *sql.Row) (*Declaration, error) {
	d, err := scanDeclaration(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

func scanDeclaration(row scanner) (Declaration, error) {
	var d Declaration
	if err := row.Scan(&d.ID, &d.MemberID, &d.CycleID, &d.Month, &d.Savings, &d.Social, &d.Admin,
		&d.Penalties, &d.LoanInterest, &d.LoanRepayment, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return Declaration{}, err
	}
	return d, nil
}
