package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jask/coopledger/internal/database"
	"github.com/jask/coopledger/internal/database/repository"
	"github.com/jask/coopledger/internal/events"
)

// newTestEngine spins up a migrated sqlite database with the organization
// chart seeded and every service wired to an in-memory event recorder.
func newTestEngine(t *testing.T) (*Engine, *events.Recorder) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	migrations, err := filepath.Abs("../database/migrations")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(dbPath, migrations))

	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, database.SeedChart(ctx, db))

	recorder := &events.Recorder{}
	return NewEngine(db, recorder, time.UTC), recorder
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// activateCycle creates and activates a cycle with no phase windows
// configured, so every workflow is open and no penalties fire.
func activateCycle(t *testing.T, ctx context.Context, engine *Engine, in CycleInput) *repository.Cycle {
	t.Helper()
	c, err := engine.Cycles.Create(ctx, in)
	require.NoError(t, err)
	c, err = engine.Cycles.Activate(ctx, c.ID)
	require.NoError(t, err)
	return c
}

// assignTier gives the member a tier with one borrowing-limit policy and a
// wildcard interest rate for the cycle.
func assignTier(t *testing.T, ctx context.Context, engine *Engine, memberID string, cycle *repository.Cycle, name, multiplier, rate string) *repository.CreditRatingTier {
	t.Helper()
	tier, err := engine.Ratings.CreateTier(ctx, name, 1)
	require.NoError(t, err)
	require.NoError(t, engine.Ratings.AddPolicy(ctx, tier.ID, dec(multiplier), cycle.StartDate))
	require.NoError(t, engine.Ratings.SetRate(ctx, tier.ID, cycle.ID, nil, dec(rate)))
	require.NoError(t, engine.Ratings.AssignTier(ctx, memberID, cycle.ID, tier.ID))
	return tier
}

// depositForMonth drives one declaration through proof and approval.
func depositForMonth(t *testing.T, ctx context.Context, engine *Engine, memberID, month string, c Components) *repository.DepositApproval {
	t.Helper()
	d, err := engine.Declarations.Create(ctx, memberID, month, c)
	require.NoError(t, err)
	proof, err := engine.Declarations.SubmitProof(ctx, d.ID, c.total(), nil, nil)
	require.NoError(t, err)
	approval, err := engine.Deposits.Approve(ctx, proof.ID, "treasurer")
	require.NoError(t, err)
	return approval
}

func orgAcct(t *testing.T, ctx context.Context, engine *Engine, code string) *repository.Account {
	t.Helper()
	acct, err := repository.NewAccountRepo(engine.DB).GetByCode(ctx, code)
	require.NoError(t, err)
	require.NotNil(t, acct)
	return acct
}

func countRows(t *testing.T, ctx context.Context, engine *Engine, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, engine.DB.QueryRowContext(ctx, query, args...).Scan(&n))
	return n
}

func balance(t *testing.T, ctx context.Context, engine *Engine, accountID string) decimal.Decimal {
	t.Helper()
	b, err := engine.Ledger.AccountBalance(ctx, accountID, nil)
	require.NoError(t, err)
	return b
}

func memberBalance(t *testing.T, ctx context.Context, engine *Engine, memberID string, kind repository.FundKind) decimal.Decimal {
	t.Helper()
	b, err := engine.Ledger.MemberBalance(ctx, memberID, kind)
	require.NoError(t, err)
	return b
}
