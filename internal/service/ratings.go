package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jask/coopledger/internal/database/repository"
)

// Resolution is the outcome of resolving a member's borrowing terms for a
// cycle: their tier, the effective savings multiplier, the resulting loan
// ceiling and the configured rate table.
type Resolution struct {
	Tier           repository.CreditRatingTier
	Multiplier     decimal.Decimal
	SavingsBalance decimal.Decimal
	MaxLoanAmount  decimal.Decimal
	Rates          []repository.InterestRange
}

// RateForTerm returns the interest rate for a term in months. An explicit
// term row wins over the all-terms wildcard.
func (r *Resolution) RateForTerm(term int) (decimal.Decimal, error) {
	var wildcard *decimal.Decimal
	for i := range r.Rates {
		ir := r.Rates[i]
		if ir.TermMonths == nil {
			rate := ir.Rate
			wildcard = &rate
			continue
		}
		if *ir.TermMonths == term {
			return ir.Rate, nil
		}
	}
	if wildcard != nil {
		return *wildcard, nil
	}
	return decimal.Zero, errConfigf("no interest rate configured for tier %s and term %d", r.Tier.Name, term)
}

// RatingService manages credit rating tiers, member assignments, borrowing
// limit policies and interest ranges, and resolves them into loan terms.
type RatingService struct {
	DB *sql.DB
}

// Resolve computes the member's borrowing terms for a cycle.
func (s *RatingService) Resolve(ctx context.Context, memberID, cycleID string) (*Resolution, error) {
	cycle, err := repository.NewCycleRepo(s.DB).Get(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if cycle == nil {
		return nil, errNotFound("cycle", cycleID)
	}
	return resolveRating(ctx, s.DB, memberID, cycle)
}

// CreateTier registers a tier, updating the rank if the name already exists.
func (s *RatingService) CreateTier(ctx context.Context, name string, rank int) (*repository.CreditRatingTier, error) {
	if name == "" {
		return nil, errValidationf("tier name is required")
	}
	ratings := repository.NewRatingRepo(s.DB)
	t := repository.CreditRatingTier{ID: uuid.NewString(), Name: name, Rank: rank}
	if err := ratings.UpsertTier(ctx, t); err != nil {
		return nil, err
	}
	return ratings.GetTierByName(ctx, name)
}

// AssignTier sets the member's tier for a cycle, replacing any prior
// assignment.
func (s *RatingService) AssignTier(ctx context.Context, memberID, cycleID, tierID string) error {
	if memberID == "" {
		return errValidationf("member id is required")
	}
	ratings := repository.NewRatingRepo(s.DB)
	tier, err := ratings.GetTier(ctx, tierID)
	if err != nil {
		return err
	}
	if tier == nil {
		return errNotFound("tier", tierID)
	}
	cycle, err := repository.NewCycleRepo(s.DB).Get(ctx, cycleID)
	if err != nil {
		return err
	}
	if cycle == nil {
		return errNotFound("cycle", cycleID)
	}
	return ratings.AssignMember(ctx, repository.MemberCreditRating{
		ID:       uuid.NewString(),
		MemberID: memberID,
		CycleID:  cycleID,
		TierID:   tierID,
	})
}

// AddPolicy records a borrowing-limit multiplier for a tier from an
// effective date onward.
func (s *RatingService) AddPolicy(ctx context.Context, tierID string, multiplier decimal.Decimal, effectiveDate time.Time) error {
	if !multiplier.IsPositive() {
		return errValidationf("multiplier must be positive")
	}
	ratings := repository.NewRatingRepo(s.DB)
	tier, err := ratings.GetTier(ctx, tierID)
	if err != nil {
		return err
	}
	if tier == nil {
		return errNotFound("tier", tierID)
	}
	return ratings.InsertPolicy(ctx, repository.BorrowingLimitPolicy{
		ID:            uuid.NewString(),
		TierID:        tierID,
		Multiplier:    multiplier,
		EffectiveDate: effectiveDate,
	})
}

// SetRate configures the interest rate for (tier, cycle, term). A nil term
// sets the all-terms wildcard.
func (s *RatingService) SetRate(ctx context.Context, tierID, cycleID string, termMonths *int, rate decimal.Decimal) error {
	if rate.IsNegative() {
		return errValidationf("interest rate must not be negative")
	}
	if termMonths != nil && *termMonths < 1 {
		return errValidationf("term months must be at least 1")
	}
	ratings := repository.NewRatingRepo(s.DB)
	tier, err := ratings.GetTier(ctx, tierID)
	if err != nil {
		return err
	}
	if tier == nil {
		return errNotFound("tier", tierID)
	}
	cycle, err := repository.NewCycleRepo(s.DB).Get(ctx, cycleID)
	if err != nil {
		return err
	}
	if cycle == nil {
		return errNotFound("cycle", cycleID)
	}
	return ratings.UpsertRange(ctx, repository.InterestRange{
		ID:         uuid.NewString(),
		TierID:     tierID,
		CycleID:    cycleID,
		TermMonths: termMonths,
		Rate:       rate,
	})
}

// Tiers lists all configured tiers.
func (s *RatingService) Tiers(ctx context.Context) ([]repository.CreditRatingTier, error) {
	return repository.NewRatingRepo(s.DB).ListTiers(ctx)
}

// resolveRating looks up the member's tier for the cycle, the newest policy
// effective on or before the cycle end, and the rate table, then derives the
// loan ceiling from the member's savings balance.
func resolveRating(ctx context.Context, q repository.DBTX, memberID string, cycle *repository.Cycle) (*Resolution, error) {
	ratings := repository.NewRatingRepo(q)
	assignment, err := ratings.GetAssignment(ctx, memberID, cycle.ID)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, errConfigf("member %s has no credit tier assigned for cycle %d", memberID, cycle.Year)
	}
	tier, err := ratings.GetTier(ctx, assignment.TierID)
	if err != nil {
		return nil, err
	}
	if tier == nil {
		return nil, errNotFound("tier", assignment.TierID)
	}
	policy, err := ratings.LatestPolicy(ctx, tier.ID, cycle.EndDate)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, errConfigf("tier %s has no borrowing limit policy effective by %s", tier.Name, cycle.EndDate.Format("2006-01-02"))
	}
	savingsAcct, err := ensureMemberAccount(ctx, q, memberID, repository.FundSavings)
	if err != nil {
		return nil, err
	}
	savings, err := accountBalance(ctx, q, savingsAcct.ID)
	if err != nil {
		return nil, err
	}
	rates, err := ratings.RangesFor(ctx, tier.ID, cycle.ID)
	if err != nil {
		return nil, err
	}
	return &Resolution{
		Tier:           *tier,
		Multiplier:     policy.Multiplier,
		SavingsBalance: savings,
		MaxLoanAmount:  savings.Mul(policy.Multiplier),
		Rates:          rates,
	}, nil
}
