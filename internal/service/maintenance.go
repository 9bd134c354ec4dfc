package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jask/coopledger/internal/database"
)

// MaintenanceService houses destructive ops actions.
type MaintenanceService struct {
	DB *sql.DB
}

// Reset wipes all business data. The schema and the seeded organization
// chart of accounts stay intact so the engine can keep running.
func (s *MaintenanceService) Reset(ctx context.Context) error {
	if s.DB == nil {
		return fmt.Errorf("maintenance: db not configured")
	}
	if err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		// journal_entries references itself through reversed_by.
		if _, err := tx.ExecContext(ctx, "UPDATE journal_entries SET reversed_by = NULL"); err != nil {
			return fmt.Errorf("reset reversal links: %w", err)
		}
		tables := []string{
			"deposit_approvals",
			"repayments",
			"penalty_records",
			"deposit_proofs",
			"declarations",
			"loans",
			"loan_applications",
			"journal_lines",
			"journal_entries",
			"credit_rating_interest_ranges",
			"borrowing_limit_policies",
			"member_credit_ratings",
			"credit_rating_tiers",
			"posting_locks",
			"cycle_phases",
			"penalty_types",
			"cycles",
		}
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("reset table %s: %w", t, err)
			}
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM ledger_accounts WHERE member_id IS NOT NULL"); err != nil {
			return fmt.Errorf("reset member accounts: %w", err)
		}
		return nil
	}); err != nil {
		return err
	}
	_, _ = s.DB.ExecContext(ctx, "VACUUM")
	return nil
}
