package repository

import (
	"context"
	"database/sql"
	"time"
)

const proofCols = "id, declaration_id, amount, reference, status, comment, response, submitted_at, decided_at, decided_by"

// DepositRepo handles deposit proofs and their approval links.
type DepositRepo struct {
	db DBTX
}

func NewDepositRepo(db DBTX) *DepositRepo { return &DepositRepo{db: db} }

func (r *DepositRepo) InsertProof(ctx context.Context, p DepositProof) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO deposit_proofs(id, declaration_id, amount, reference, status, comment, submitted_at)
	VALUES(?, ?, ?, ?, ?, ?, ?);
	`, p.ID, p.DeclarationID, p.Amount, p.Reference, p.Status, p.Comment, p.SubmittedAt)
	return err
}

func (r *DepositRepo) GetProof(ctx context.Context, id string) (*DepositProof, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+proofCols+` FROM deposit_proofs WHERE id = ?`, id)
	p, err := scanProof(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *DepositRepo) ProofsByDeclaration(ctx context.Context, declarationID string) ([]DepositProof, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+proofCols+` FROM deposit_proofs WHERE declaration_id = ? ORDER BY submitted_at ASC`, declarationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DepositProof
	for rows.Next() {
		p, err := scanProof(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProofDecision records the treasurer decision on a submitted proof.
func (r *DepositRepo) UpdateProofDecision(ctx context.Context, id string, status ProofStatus, response *string, decidedBy string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE deposit_proofs SET status = ?, response = ?, decided_by = ?, decided_at = ? WHERE id = ?`, status, response, decidedBy, at, id)
	return err
}

func (r *DepositRepo) HasRejectedProof(ctx context.Context, declarationID string) (bool, error) {
	var n int
	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deposit_proofs WHERE declaration_id = ? AND status = 'rejected'`, declarationID)
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *DepositRepo) InsertApproval(ctx context.Context, a DepositApproval) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO deposit_approvals(id, proof_id, entry_id, approved_by, approved_at)
	VALUES(?, ?, ?, ?, ?);
	`, a.ID, a.ProofID, a.EntryID, a.ApprovedBy, a.ApprovedAt)
	return err
}

func (r *DepositRepo) GetApprovalByProof(ctx context.Context, proofID string) (*DepositApproval, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, proof_id, entry_id, approved_by, approved_at FROM deposit_approvals WHERE proof_id = ?`, proofID)
	var a DepositApproval
	if err := row.Scan(&a.ID, &a.ProofID, &a.EntryID, &a.ApprovedBy, &a.ApprovedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// scanProof handles nullable fields for both Row and Rows.
func scanProof(row scanner) (DepositProof, error) {
	var p DepositProof
	var ref, comment, response, decidedBy sql.NullString
	var decidedAt sql.NullTime
	if err := row.Scan(&p.ID, &p.DeclarationID, &p.Amount, &ref, &p.Status, &comment, &response,
		&p.SubmittedAt, &decidedAt, &decidedBy); err != nil {
		return DepositProof{}, err
	}
	if ref.Valid {
		p.Reference = &ref.String
	}
	if comment.Valid {
		p.Comment = &comment.String
	}
	if response.Valid {
		p.Response = &response.String
	}
	if decidedAt.Valid {
		p.DecidedAt = &decidedAt.Time
	}
	if decidedBy.Valid {
		p.DecidedBy = &decidedBy.String
	}
	return p, nil
}
