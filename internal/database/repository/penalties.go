package repository

import (
	"context"
	"database/sql"
)

// PenaltyRepo handles penalty types and records.
type PenaltyRepo struct {
	db DBTX
}

func NewPenaltyRepo(db DBTX) *PenaltyRepo { return &PenaltyRepo{db: db} }

func (r *PenaltyRepo) UpsertType(ctx context.Context, t PenaltyType) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO penalty_types(id, name, fee, enabled)
	VALUES(?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 name=excluded.name,
	 fee=excluded.fee,
	 enabled=excluded.enabled;
	`, t.ID, t.Name, t.Fee, t.Enabled)
	return err
}

func (r *PenaltyRepo) GetType(ctx context.Context, id string) (*PenaltyType, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, fee, enabled FROM penalty_types WHERE id = ?`, id)
	return scanPenaltyTypeRow(row)
}

func (r *PenaltyRepo) GetTypeByName(ctx context.Context, name string) (*PenaltyType, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, fee, enabled FROM penalty_types WHERE name = ?`, name)
	return scanPenaltyTypeRow(row)
}

func (r *PenaltyRepo) ListTypes(ctx context.Context, enabledOnly bool) ([]PenaltyType, error) {
	query := `SELECT id, name, fee, enabled FROM penalty_types`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PenaltyType
	for rows.Next() {
		var t PenaltyType
		if err := rows.Scan(&t.ID, &t.Name, &t.Fee, &t.Enabled); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PenaltyRepo) InsertRecord(ctx context.Context, rec PenaltyRecord) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO penalty_records(id, member_id, penalty_type_id, status, note, issued_at, entry_id, created_by)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?);
	`, rec.ID, rec.MemberID, rec.PenaltyTypeID, rec.Status, rec.Note, rec.IssuedAt, rec.EntryID, rec.CreatedBy)
	return err
}

func (r *PenaltyRepo) GetRecord(ctx context.Context, id string) (*PenaltyRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, member_id, penalty_type_id, status, note, issued_at, entry_id, created_by FROM penalty_records WHERE id = ?`, id)
	rec, err := scanPenaltyRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// ApproveRecord moves a record to approved and links the charging entry.
func (r *PenaltyRepo) ApproveRecord(ctx context.Context, id, entryID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE penalty_records SET status = 'approved', entry_id = ? WHERE id = ?`, entryID, id)
	return err
}

func (r *PenaltyRepo) MarkPaid(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE penalty_records SET status = 'paid' WHERE id = ?`, id)
	return err
}

func (r *PenaltyRepo) ListByMember(ctx context.Context, memberID string) ([]PenaltyRecord, error) {
	return r.listRecords(ctx, `SELECT id, member_id, penalty_type_id, status, note, issued_at, entry_id, created_by FROM penalty_records WHERE member_id = ? ORDER BY issued_at DESC`, memberID)
}

// ListApprovedByMember returns approved unpaid records oldest first, the
// order penalty settlement walks them in.
func (r *PenaltyRepo) ListApprovedByMember(ctx context.Context, memberID string) ([]PenaltyRecord, error) {
	return r.listRecords(ctx, `SELECT id, member_id, penalty_type_id, status, note, issued_at, entry_id, created_by FROM penalty_records WHERE member_id = ? AND status = 'approved' ORDER BY issued_at ASC`, memberID)
}

// ExistsForMonth reports whether a record for (member, type, month) already
// exists, matching either the issue date or a month token in the note.
func (r *PenaltyRepo) ExistsForMonth(ctx context.Context, memberID, typeID, month string) (bool, error) {
	var n int
	row := r.db.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM penalty_records
	WHERE member_id = ? AND penalty_type_id = ?
	  AND (strftime('%Y-%m', issued_at) = ? OR instr(note, ?) > 0);
	`, memberID, typeID, month, month)
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PenaltyRepo) listRecords(ctx context.Context, query string, args ...interface{}) ([]PenaltyRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PenaltyRecord
	for rows.Next() {
		rec, err := scanPenaltyRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanPenaltyTypeRow(row *sql.Row) (*PenaltyType, error) {
	var t PenaltyType
	if err := row.Scan(&t.ID, &t.Name, &t.Fee, &t.Enabled); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// scanPenaltyRecord handles the nullable entry link for both Row and Rows.
func scanPenaltyRecord(row scanner) (PenaltyRecord, error) {
	var rec PenaltyRecord
	var entry sql.NullString
	if err := row.Scan(&rec.ID, &rec.MemberID, &rec.PenaltyTypeID, &rec.Status, &rec.Note, &rec.IssuedAt, &entry, &rec.CreatedBy); err != nil {
		return PenaltyRecord{}, err
	}
	if entry.Valid {
		rec.EntryID = &entry.String
	}
	return rec, nil
}
