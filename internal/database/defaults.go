package database

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/jask/coopledger/internal/database/repository"
)

// SeedChart ensures the organization-level chart of accounts exists.
// It is idempotent and safe to run on every startup.
func SeedChart(ctx context.Context, db *sql.DB) error {
	acctRepo := repository.NewAccountRepo(db)
	chart := []struct {
		code string
		name string
		typ  repository.AccountType
	}{
		{repository.CodeCash, "Cash", repository.AccountAsset},
		{repository.CodeLoansReceivable, "Loans Receivable", repository.AccountAsset},
		{repository.CodeMemberEquity, "Member Equity", repository.AccountEquity},
		{repository.CodeInterestIncome, "Interest Income", repository.AccountIncome},
		{repository.CodePenaltyIncome, "Penalty Income", repository.AccountIncome},
		{repository.CodeSocialFund, "Social Fund", repository.AccountIncome},
		{repository.CodeAdminFund, "Administration Fund", repository.AccountIncome},
	}
	for _, a := range chart {
		id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("acct:"+a.code)).String()
		acct := repository.Account{ID: id, Code: a.code, Name: a.name, Type: a.typ, CreatedAt: Now()}
		if err := acctRepo.Upsert(ctx, acct); err != nil {
			return err
		}
	}
	return nil
}
