package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EntryFilters defines journal list filters.
type EntryFilters struct {
	CycleID    string
	SourceType EntrySource
	SourceRef  string
	AccountID  string
}

// JournalRepo handles journal entries and lines.
type JournalRepo struct {
	db DBTX
}

func NewJournalRepo(db DBTX) *JournalRepo { return &JournalRepo{db: db} }

// InsertEntry writes the header and all lines. Callers run it inside a
// transaction so the entry is all-or-nothing.
func (r *JournalRepo) InsertEntry(ctx context.Context, e JournalEntry) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO journal_entries(id, description, entry_date, cycle_id, source_type, source_ref, created_by, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
	`, e.ID, e.Description, e.EntryDate, e.CycleID, e.SourceType, e.SourceRef, e.CreatedBy)
	if err != nil {
		return err
	}
	for _, l := range e.Lines {
		_, err := r.db.ExecContext(ctx, `
		INSERT INTO journal_lines(id, entry_id, account_id, debit, credit)
		VALUES(?, ?, ?, ?, ?);
		`, l.ID, e.ID, l.AccountID, l.Debit, l.Credit)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *JournalRepo) GetEntry(ctx context.Context, id string) (*JournalEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, description, entry_date, cycle_id, source_type, source_ref, created_by, reversed_by, reversed_at, reversal_reason, created_at FROM journal_entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	lines, err := r.fetchLines(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	e.Lines = lines
	return &e, nil
}

func (r *JournalRepo) ListEntries(ctx context.Context, f EntryFilters) ([]JournalEntry, error) {
	var where []string
	var args []interface{}

	if f.CycleID != "" {
		where = append(where, "cycle_id = ?")
		args = append(args, f.CycleID)
	}
	if f.SourceType != "" {
		where = append(where, "source_type = ?")
		args = append(args, f.SourceType)
	}
	if f.SourceRef != "" {
		where = append(where, "source_ref = ?")
		args = append(args, f.SourceRef)
	}
	if f.AccountID != "" {
		where = append(where, "id IN (SELECT entry_id FROM journal_lines WHERE account_id = ?)")
		args = append(args, f.AccountID)
	}

	query := "SELECT id, description, entry_date, cycle_id, source_type, source_ref, created_by, reversed_by, reversed_at, reversal_reason, created_at FROM journal_entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY entry_date DESC, created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		lines, err := r.fetchLines(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Lines = lines
	}
	return out, nil
}

func (r *JournalRepo) MarkReversed(ctx context.Context, id, reversedBy string, at time.Time, reason string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE journal_entries SET reversed_by = ?, reversed_at = ?, reversal_reason = ? WHERE id = ?`, reversedBy, at, reason, id)
	return err
}

// HasSourceEntry reports whether any entry with this source classification
// exists in the cycle. Used to detect a member's first approved posting.
func (r *JournalRepo) HasSourceEntry(ctx context.Context, source EntrySource, sourceRef, cycleID string) (bool, error) {
	var n int
	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM journal_entries WHERE source_type = ? AND source_ref = ? AND cycle_id = ?`, source, sourceRef, cycleID)
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// SumAccount returns total debits and credits posted to the account, up to
// asOf when given. Amounts are decimal strings so the summing happens here
// rather than in SQL.
func (r *JournalRepo) SumAccount(ctx context.Context, accountID string, asOf *time.Time) (debits, credits decimal.Decimal, err error) {
	query := `SELECT l.debit, l.credit FROM journal_lines l JOIN journal_entries e ON e.id = l.entry_id WHERE l.account_id = ?`
	args := []interface{}{accountID}
	if asOf != nil {
		query += ` AND e.entry_date <= ?`
		args = append(args, *asOf)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	defer rows.Close()
	for rows.Next() {
		var d, c decimal.Decimal
		if err := rows.Scan(&d, &c); err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		debits = debits.Add(d)
		credits = credits.Add(c)
	}
	return debits, credits, rows.Err()
}

// AccountTotal carries per-account debit/credit sums for reporting.
type AccountTotal struct {
	AccountID string
	Debits    decimal.Decimal
	Credits   decimal.Decimal
}

func (r *JournalRepo) AccountTotals(ctx context.Context, asOf *time.Time) ([]AccountTotal, error) {
	query := `SELECT l.account_id, l.debit, l.credit FROM journal_lines l JOIN journal_entries e ON e.id = l.entry_id`
	var args []interface{}
	if asOf != nil {
		query += ` WHERE e.entry_date <= ?`
		args = append(args, *asOf)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := map[string]*AccountTotal{}
	var order []string
	for rows.Next() {
		var id string
		var d, c decimal.Decimal
		if err := rows.Scan(&id, &d, &c); err != nil {
			return nil, err
		}
		t, ok := totals[id]
		if !ok {
			t = &AccountTotal{AccountID: id}
			totals[id] = t
			order = append(order, id)
		}
		t.Debits = t.Debits.Add(d)
		t.Credits = t.Credits.Add(c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]AccountTotal, 0, len(order))
	for _, id := range order {
		out = append(out, *totals[id])
	}
	return out, nil
}

func (r *JournalRepo) fetchLines(ctx context.Context, entryID string) ([]JournalLine, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, entry_id, account_id, debit, credit FROM journal_lines WHERE entry_id = ? ORDER BY id`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		var l JournalLine
		if err := rows.Scan(&l.ID, &l.EntryID, &l.AccountID, &l.Debit, &l.Credit); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// scanEntry handles nullable fields for both Row and Rows.
func scanEntry(row scanner) (JournalEntry, error) {
	var e JournalEntry
	var cycle, ref, revBy, revReason sql.NullString
	var revAt sql.NullTime
	if err := row.Scan(&e.ID, &e.Description, &e.EntryDate, &cycle, &e.SourceType, &ref,
		&e.CreatedBy, &revBy, &revAt, &revReason, &e.CreatedAt); err != nil {
		return JournalEntry{}, err
	}
	if cycle.Valid {
		e.CycleID = &cycle.String
	}
	if ref.Valid {
		e.SourceRef = &ref.String
	}
	if revBy.Valid {
		e.ReversedBy = &revBy.String
	}
	if revAt.Valid {
		e.ReversedAt = &revAt.Time
	}
	if revReason.Valid {
		e.ReversalReason = &revReason.String
	}
	return e, nil
}
