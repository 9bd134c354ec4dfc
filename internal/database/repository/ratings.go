package repository

import (
	"context"
	"database/sql"
	"time"
)

// RatingRepo handles credit rating tiers, member assignments, borrowing
// limit policies and interest ranges.
type RatingRepo struct {
	db DBTX
}

func NewRatingRepo(db DBTX) *RatingRepo { return &RatingRepo{db: db} }

func (r *RatingRepo) UpsertTier(ctx context.Context, t CreditRatingTier) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO credit_rating_tiers(id, name, rank)
	VALUES(?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET rank=excluded.rank;
	`, t.ID, t.Name, t.Rank)
	return err
}

func (r *RatingRepo) GetTier(ctx context.Context, id string) (*CreditRatingTier, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, rank FROM credit_rating_tiers WHERE id = ?`, id)
	return scanTierRow(row)
}

func (r *RatingRepo) GetTierByName(ctx context.Context, name string) (*CreditRatingTier, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, rank FROM credit_rating_tiers WHERE name = ?`, name)
	return scanTierRow(row)
}

func (r *RatingRepo) ListTiers(ctx context.Context) ([]CreditRatingTier, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, rank FROM credit_rating_tiers ORDER BY rank, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CreditRatingTier
	for rows.Next() {
		var t CreditRatingTier
		if err := rows.Scan(&t.ID, &t.Name, &t.Rank); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AssignMember sets the member's tier for a cycle, replacing any prior
// assignment.
func (r *RatingRepo) AssignMember(ctx context.Context, a MemberCreditRating) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO member_credit_ratings(id, member_id, cycle_id, tier_id)
	VALUES(?, ?, ?, ?)
	ON CONFLICT(member_id, cycle_id) DO UPDATE SET tier_id=excluded.tier_id;
	`, a.ID, a.MemberID, a.CycleID, a.TierID)
	return err
}

func (r *RatingRepo) GetAssignment(ctx context.Context, memberID, cycleID string) (*MemberCreditRating, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, member_id, cycle_id, tier_id FROM member_credit_ratings WHERE member_id = ? AND cycle_id = ?`, memberID, cycleID)
	var a MemberCreditRating
	if err := row.Scan(&a.ID, &a.MemberID, &a.CycleID, &a.TierID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *RatingRepo) InsertPolicy(ctx context.Context, p BorrowingLimitPolicy) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO borrowing_limit_policies(id, tier_id, multiplier, effective_date)
	VALUES(?, ?, ?, ?);
	`, p.ID, p.TierID, p.Multiplier, p.EffectiveDate)
	return err
}

// LatestPolicy returns the tier's policy with the newest effective date not
// after the given instant, or nil when none has taken effect yet.
func (r *RatingRepo) LatestPolicy(ctx context.Context, tierID string, onOrBefore time.Time) (*BorrowingLimitPolicy, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT id, tier_id, multiplier, effective_date FROM borrowing_limit_policies
	WHERE tier_id = ? AND effective_date <= ?
	ORDER BY effective_date DESC LIMIT 1;
	`, tierID, onOrBefore)
	var p BorrowingLimitPolicy
	if err := row.Scan(&p.ID, &p.TierID, &p.Multiplier, &p.EffectiveDate); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// UpsertRange sets the rate for (tier, cycle, term). SQLite's UNIQUE index
// treats NULL terms as distinct, so the wildcard row is updated in place
// before falling back to an insert.
func (r *RatingRepo) UpsertRange(ctx context.Context, ir InterestRange) error {
	if ir.TermMonths == nil {
		res, err := r.db.ExecContext(ctx, `
		UPDATE credit_rating_interest_ranges SET rate = ?
		WHERE tier_id = ? AND cycle_id = ? AND term_months IS NULL;
		`, ir.Rate, ir.TierID, ir.CycleID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		_, err = r.db.ExecContext(ctx, `
		INSERT INTO credit_rating_interest_ranges(id, tier_id, cycle_id, term_months, rate)
		VALUES(?, ?, ?, NULL, ?);
		`, ir.ID, ir.TierID, ir.CycleID, ir.Rate)
		return err
	}
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO credit_rating_interest_ranges(id, tier_id, cycle_id, term_months, rate)
	VALUES(?, ?, ?, ?, ?)
	ON CONFLICT(tier_id, cycle_id, term_months) DO UPDATE SET rate=excluded.rate;
	`, ir.ID, ir.TierID, ir.CycleID, ir.TermMonths, ir.Rate)
	return err
}

// RangesFor returns all configured rates for (tier, cycle), explicit terms
// first, wildcard last.
func (r *RatingRepo) RangesFor(ctx context.Context, tierID, cycleID string) ([]InterestRange, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, tier_id, cycle_id, term_months, rate FROM credit_rating_interest_ranges
	WHERE tier_id = ? AND cycle_id = ?
	ORDER BY term_months IS NULL, term_months;
	`, tierID, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InterestRange
	for rows.Next() {
		var ir InterestRange
		var term sql.NullInt64
		if err := rows.Scan(&ir.ID, &ir.TierID, &ir.CycleID, &term, &ir.Rate); err != nil {
			return nil, err
		}
		if term.Valid {
			t := int(term.Int64)
			ir.TermMonths = &t
		}
		out = append(out, ir)
	}
	return out, rows.Err()
}

func scanTierRow(row *sql.Row) (*CreditRatingTier, error) {
	var t CreditRatingTier
	if err := row.Scan(&t.ID, &t.Name, &t.Rank); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}
