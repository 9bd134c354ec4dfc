package testdata

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jask/coopledger/internal/database"
	"github.com/jask/coopledger/internal/database/repository"
	"github.com/jask/coopledger/internal/service"
)

const demoActor = "demo-admin"

// Seed populates an empty database with one active cycle, credit tiers and a
// few members captured mid-workflow: two approved deposits, one proof still
// waiting for review and one disbursed loan. It refuses to run when an active
// cycle already exists.
func Seed(ctx context.Context, engine *service.Engine) error {
	if c, err := engine.Cycles.ActiveCycle(ctx); err == nil {
		return fmt.Errorf("cycle %d is already active", c.Year)
	} else if !service.IsNotFound(err) {
		return err
	}

	now := database.Now()
	cycle, err := engine.Cycles.Create(ctx, service.CycleInput{
		Year:                  now.Year(),
		SocialFundRequirement: decimal.NewNullDecimal(dec("50")),
		AdminFundRequirement:  decimal.NewNullDecimal(dec("25")),
	})
	if err != nil {
		return err
	}

	late, err := engine.Penalties.CreateType(ctx, "Late submission", dec("5"), true)
	if err != nil {
		return err
	}

	phases := []service.PhaseInput{
		{Phase: repository.PhaseDeclaration, StartDay: 1, EndDay: 5, IsOpen: true, PenaltyTypeID: &late.ID, AutoApplyPenalty: true},
		{Phase: repository.PhaseLoanApplication, StartDay: 1, EndDay: 15, IsOpen: true},
		{Phase: repository.PhaseDeposits, StartDay: 1, EndDay: 10, IsOpen: true, PenaltyTypeID: &late.ID, AutoApplyPenalty: true},
	}
	for _, p := range phases {
		if _, err := engine.Cycles.ConfigurePhase(ctx, cycle.ID, p); err != nil {
			return err
		}
	}
	if _, err := engine.Cycles.Activate(ctx, cycle.ID); err != nil {
		return err
	}

	tiers, err := seedTiers(ctx, engine, cycle)
	if err != nil {
		return err
	}

	alice, bob, carol := uuid.NewString(), uuid.NewString(), uuid.NewString()
	for member, tierID := range map[string]string{alice: tiers["A"], bob: tiers["B"], carol: tiers["C"]} {
		if err := engine.Ratings.AssignTier(ctx, member, cycle.ID, tierID); err != nil {
			return err
		}
	}

	month := repository.MonthKey(now)

	if err := approveDeposit(ctx, engine, alice, month, service.Components{Savings: dec("100"), Social: dec("50"), Admin: dec("25")}); err != nil {
		return err
	}
	// Bob over-contributes to the social fund so the sweep has work to do.
	if err := approveDeposit(ctx, engine, bob, month, service.Components{Savings: dec("80"), Social: dec("60"), Admin: dec("25")}); err != nil {
		return err
	}
	// Carol's proof stays submitted so the review queue is not empty.
	if _, err := declareWithProof(ctx, engine, carol, month, service.Components{Savings: dec("40"), Social: dec("50"), Admin: dec("25")}); err != nil {
		return err
	}

	app, err := engine.Loans.Apply(ctx, alice, dec("250"), 12)
	if err != nil {
		return err
	}
	loan, err := engine.Loans.Approve(ctx, app.ID, demoActor)
	if err != nil {
		return err
	}
	if _, err := engine.Loans.Disburse(ctx, loan.ID, demoActor); err != nil {
		return err
	}
	return nil
}

func seedTiers(ctx context.Context, engine *service.Engine, cycle *repository.Cycle) (map[string]string, error) {
	type tier struct {
		Name       string
		Rank       int
		Multiplier string
		Rate       string
	}
	defs := []tier{
		{Name: "A", Rank: 1, Multiplier: "3.00", Rate: "10"},
		{Name: "B", Rank: 2, Multiplier: "2.00", Rate: "12"},
		{Name: "C", Rank: 3, Multiplier: "1.50", Rate: "15"},
	}

	ids := map[string]string{}
	for _, d := range defs {
		t, err := engine.Ratings.CreateTier(ctx, d.Name, d.Rank)
		if err != nil {
			return nil, err
		}
		if err := engine.Ratings.AddPolicy(ctx, t.ID, dec(d.Multiplier), cycle.StartDate); err != nil {
			return nil, err
		}
		if err := engine.Ratings.SetRate(ctx, t.ID, cycle.ID, nil, dec(d.Rate)); err != nil {
			return nil, err
		}
		ids[d.Name] = t.ID
	}

	// Tier A members get a better rate on year-long loans.
	twelve := 12
	if err := engine.Ratings.SetRate(ctx, ids["A"], cycle.ID, &twelve, dec("8")); err != nil {
		return nil, err
	}
	return ids, nil
}

func declareWithProof(ctx context.Context, engine *service.Engine, memberID, month string, c service.Components) (*repository.DepositProof, error) {
	d, err := engine.Declarations.Create(ctx, memberID, month, c)
	if err != nil {
		return nil, err
	}
	total := c.Savings.Add(c.Social).Add(c.Admin).Add(c.Penalties).Add(c.LoanInterest).Add(c.LoanRepayment)
	ref := "TXN-" + d.ID[:8]
	return engine.Declarations.SubmitProof(ctx, d.ID, total, &ref, nil)
}

func approveDeposit(ctx context.Context, engine *service.Engine, memberID, month string, c service.Components) error {
	proof, err := declareWithProof(ctx, engine, memberID, month, c)
	if err != nil {
		return err
	}
	_, err = engine.Deposits.Approve(ctx, proof.ID, demoActor)
	return err
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
