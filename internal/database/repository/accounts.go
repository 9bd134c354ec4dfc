package repository

import (
	"context"
	"database/sql"
)

// AccountRepo handles ledger accounts.
type AccountRepo struct {
	db DBTX
}

func NewAccountRepo(db DBTX) *AccountRepo {
	return &AccountRepo{db: db}
}

func (r *AccountRepo) Upsert(ctx context.Context, a Account) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO ledger_accounts(id, code, name, type, member_id, fund_kind, created_at)
	VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO UPDATE SET
	 code=excluded.code,
	 name=excluded.name,
	 type=excluded.type;
	`, a.ID, a.Code, a.Name, a.Type, a.MemberID, a.FundKind)
	return err
}

func (r *AccountRepo) Get(ctx context.Context, id string) (*Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, code, name, type, member_id, fund_kind, created_at FROM ledger_accounts WHERE id = ?`, id)
	return scanAccountRow(row)
}

func (r *AccountRepo) GetByCode(ctx context.Context, code string) (*Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, code, name, type, member_id, fund_kind, created_at FROM ledger_accounts WHERE code = ?`, code)
	return scanAccountRow(row)
}

func (r *AccountRepo) GetMemberAccount(ctx context.Context, memberID string, kind FundKind) (*Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, code, name, type, member_id, fund_kind, created_at FROM ledger_accounts WHERE member_id = ? AND fund_kind = ?`, memberID, kind)
	return scanAccountRow(row)
}

func (r *AccountRepo) List(ctx context.Context) ([]Account, error) {
	return r.list(ctx, `SELECT id, code, name, type, member_id, fund_kind, created_at FROM ledger_accounts ORDER BY code`)
}

func (r *AccountRepo) ListByMember(ctx context.Context, memberID string) ([]Account, error) {
	return r.list(ctx, `SELECT id, code, name, type, member_id, fund_kind, created_at FROM ledger_accounts WHERE member_id = ? ORDER BY code`, memberID)
}

// ListMemberAccounts returns every member sub-account of the given kind.
func (r *AccountRepo) ListMemberAccounts(ctx context.Context, kind FundKind) ([]Account, error) {
	return r.list(ctx, `SELECT id, code, name, type, member_id, fund_kind, created_at FROM ledger_accounts WHERE member_id IS NOT NULL AND fund_kind = ? ORDER BY code`, kind)
}

func (r *AccountRepo) list(ctx context.Context, query string, args ...interface{}) ([]Account, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAccountRow(row *sql.Row) (*Account, error) {
	a, err := scanAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// scanAccount handles nullable fields for both Row and Rows.
func scanAccount(row scanner) (Account, error) {
	var a Account
	var member, fund sql.NullString
	if err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &member, &fund, &a.CreatedAt); err != nil {
		return Account{}, err
	}
	if member.Valid {
		a.MemberID = &member.String
	}
	if fund.Valid {
		k := FundKind(fund.String)
		a.FundKind = &k
	}
	return a, nil
}
