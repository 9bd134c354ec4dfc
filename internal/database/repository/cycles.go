package repository

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"
)

// CycleRepo handles cycles, their phases and posting locks.
type CycleRepo struct {
	db DBTX
}

func NewCycleRepo(db DBTX) *CycleRepo { return &CycleRepo{db: db} }

func (r *CycleRepo) Insert(ctx context.Context, c Cycle) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO cycles(id, year, start_date, end_date, status, social_fund_requirement, admin_fund_requirement, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
	`, c.ID, c.Year, c.StartDate, c.EndDate, c.Status, c.SocialFundRequirement, c.AdminFundRequirement)
	return err
}

func (r *CycleRepo) Get(ctx context.Context, id string) (*Cycle, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, year, start_date, end_date, status, social_fund_requirement, admin_fund_requirement, created_at FROM cycles WHERE id = ?`, id)
	return scanCycleRow(row)
}

func (r *CycleRepo) GetByYear(ctx context.Context, year int) (*Cycle, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, year, start_date, end_date, status, social_fund_requirement, admin_fund_requirement, created_at FROM cycles WHERE year = ?`, year)
	return scanCycleRow(row)
}

// Active returns the single active cycle, or nil when none is active.
func (r *CycleRepo) Active(ctx context.Context) (*Cycle, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, year, start_date, end_date, status, social_fund_requirement, admin_fund_requirement, created_at FROM cycles WHERE status = 'active' LIMIT 1`)
	return scanCycleRow(row)
}

func (r *CycleRepo) List(ctx context.Context) ([]Cycle, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, year, start_date, end_date, status, social_fund_requirement, admin_fund_requirement, created_at FROM cycles ORDER BY year DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CycleRepo) UpdateStatus(ctx context.Context, id string, status CycleStatus) error {
	_, err := r.db.ExecContext(ctx, `UPDATE cycles SET status = ? WHERE id = ?`, status, id)
	return err
}

// DemoteActive moves every active cycle except the given one back to draft.
func (r *CycleRepo) DemoteActive(ctx context.Context, exceptID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE cycles SET status = 'draft' WHERE status = 'active' AND id != ?`, exceptID)
	return err
}

func (r *CycleRepo) UpdateRequirements(ctx context.Context, id string, social, admin decimal.NullDecimal) error {
	_, err := r.db.ExecContext(ctx, `UPDATE cycles SET social_fund_requirement = ?, admin_fund_requirement = ? WHERE id = ?`, social, admin, id)
	return err
}

func (r *CycleRepo) UpsertPhase(ctx context.Context, p CyclePhase) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO cycle_phases(id, cycle_id, phase, start_day, end_day, is_open, penalty_type_id, auto_apply_penalty)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(cycle_id, phase) DO UPDATE SET
	 start_day=excluded.start_day,
	 end_day=excluded.end_day,
	 is_open=excluded.is_open,
	 penalty_type_id=excluded.penalty_type_id,
	 auto_apply_penalty=excluded.auto_apply_penalty;
	`, p.ID, p.CycleID, p.Phase, p.StartDay, p.EndDay, p.IsOpen, p.PenaltyTypeID, p.AutoApplyPenalty)
	return err
}

func (r *CycleRepo) GetPhase(ctx context.Context, cycleID string, phase PhaseKind) (*CyclePhase, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, cycle_id, phase, start_day, end_day, is_open, penalty_type_id, auto_apply_penalty FROM cycle_phases WHERE cycle_id = ? AND phase = ?`, cycleID, phase)
	p, err := scanPhase(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *CycleRepo) Phases(ctx context.Context, cycleID string) ([]CyclePhase, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, cycle_id, phase, start_day, end_day, is_open, penalty_type_id, auto_apply_penalty FROM cycle_phases WHERE cycle_id = ? ORDER BY phase`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CyclePhase
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *CycleRepo) SetPhaseOpen(ctx context.Context, cycleID string, phase PhaseKind, open bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE cycle_phases SET is_open = ? WHERE cycle_id = ? AND phase = ?`, open, cycleID, phase)
	return err
}

func (r *CycleRepo) CloseAllPhases(ctx context.Context, cycleID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE cycle_phases SET is_open = 0 WHERE cycle_id = ?`, cycleID)
	return err
}

// Lock records an advisory posting lock. Locking an already locked cycle is
// a no-op.
func (r *CycleRepo) Lock(ctx context.Context, l PostingLock) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO posting_locks(id, cycle_id, reason, locked_by, locked_at)
	VALUES(?, ?, ?, ?, ?)
	ON CONFLICT(cycle_id) DO NOTHING;
	`, l.ID, l.CycleID, l.Reason, l.LockedBy, l.LockedAt)
	return err
}

func (r *CycleRepo) Unlock(ctx context.Context, cycleID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM posting_locks WHERE cycle_id = ?`, cycleID)
	return err
}

func (r *CycleRepo) GetLock(ctx context.Context, cycleID string) (*PostingLock, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, cycle_id, reason, locked_by, locked_at FROM posting_locks WHERE cycle_id = ?`, cycleID)
	var l PostingLock
	if err := row.Scan(&l.ID, &l.CycleID, &l.Reason, &l.LockedBy, &l.LockedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func scanCycleRow(row *sql.Row) (*Cycle, error) {
	c, err := scanCycle(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func scanCycle(row scanner) (Cycle, error) {
	var c Cycle
	if err := row.Scan(&c.ID, &c.Year, &c.StartDate, &c.EndDate, &c.Status,
		&c.SocialFundRequirement, &c.AdminFundRequirement, &c.CreatedAt); err != nil {
		return Cycle{}, err
	}
	return c, nil
}

// scanPhase handles the nullable penalty type for both Row and Rows.
func scanPhase(row scanner) (CyclePhase, error) {
	var p CyclePhase
	var penalty sql.NullString
	if err := row.Scan(&p.ID, &p.CycleID, &p.Phase, &p.StartDay, &p.EndDay, &p.IsOpen, &penalty, &p.AutoApplyPenalty); err != nil {
		return CyclePhase{}, err
	}
	if penalty.Valid {
		p.PenaltyTypeID = &penalty.String
	}
	return p, nil
}
