package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jask/coopledger/internal/database"
	"github.com/jask/coopledger/internal/database/repository"
	"github.com/jask/coopledger/internal/events"
)

// CycleService manages annual cycles, their monthly phase windows and
// advisory posting locks.
type CycleService struct {
	DB     *sql.DB
	Events events.Publisher
}

// CycleInput describes a cycle to create. Zero dates default to the
// calendar year.
type CycleInput struct {
	Year                  int
	StartDate             time.Time
	EndDate               time.Time
	SocialFundRequirement decimal.NullDecimal
	AdminFundRequirement  decimal.NullDecimal
}

// PhaseInput configures one recurring monthly window.
type PhaseInput struct {
	Phase            repository.PhaseKind
	StartDay         int
	EndDay           int
	IsOpen           bool
	PenaltyTypeID    *string
	AutoApplyPenalty bool
}

// Create registers a new cycle in draft status.
func (s *CycleService) Create(ctx context.Context, in CycleInput) (*repository.Cycle, error) {
	if in.Year < 2000 || in.Year > 2200 {
		return nil, errValidationf("cycle year %d is out of range", in.Year)
	}
	if in.SocialFundRequirement.Valid && in.SocialFundRequirement.Decimal.IsNegative() {
		return nil, errValidationf("social fund requirement must not be negative")
	}
	if in.AdminFundRequirement.Valid && in.AdminFundRequirement.Decimal.IsNegative() {
		return nil, errValidationf("admin fund requirement must not be negative")
	}
	if in.StartDate.IsZero() {
		in.StartDate = time.Date(in.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	if in.EndDate.IsZero() {
		in.EndDate = time.Date(in.Year, time.December, 31, 0, 0, 0, 0, time.UTC)
	}
	if in.EndDate.Before(in.StartDate) {
		return nil, errValidationf("cycle end date is before its start date")
	}

	cycles := repository.NewCycleRepo(s.DB)
	existing, err := cycles.GetByYear(ctx, in.Year)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errValidationf("a cycle for year %d already exists", in.Year)
	}
	c := repository.Cycle{
		ID:                    uuid.NewString(),
		Year:                  in.Year,
		StartDate:             in.StartDate,
		EndDate:               in.EndDate,
		Status:                repository.CycleDraft,
		SocialFundRequirement: in.SocialFundRequirement,
		AdminFundRequirement:  in.AdminFundRequirement,
	}
	if err := cycles.Insert(ctx, c); err != nil {
		return nil, err
	}
	return cycles.Get(ctx, c.ID)
}

// Activate promotes a draft cycle to active, demoting any other active cycle
// back to draft in the same transaction.
func (s *CycleService) Activate(ctx context.Context, cycleID string) (*repository.Cycle, error) {
	var activated *repository.Cycle
	err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		cycles := repository.NewCycleRepo(tx)
		c, err := cycles.Get(ctx, cycleID)
		if err != nil {
			return err
		}
		if c == nil {
			return errNotFound("cycle", cycleID)
		}
		if c.Status != repository.CycleDraft {
			return errStatef("cycle %d is %s, only draft cycles can be activated", c.Year, c.Status)
		}
		if err := cycles.DemoteActive(ctx, cycleID); err != nil {
			return err
		}
		if err := cycles.UpdateStatus(ctx, cycleID, repository.CycleActive); err != nil {
			return err
		}
		activated, err = cycles.Get(ctx, cycleID)
		return err
	})
	if err != nil {
		return nil, err
	}
	publish(s.Events, events.TopicCycleActivated, events.CycleActivated{
		CycleID:    activated.ID,
		Year:       activated.Year,
		OccurredAt: database.Now(),
	})
	return activated, nil
}

// Close moves an active cycle to closed and shuts all of its phases.
// Ledger balances are derived from all-time journal lines and are not
// touched.
func (s *CycleService) Close(ctx context.Context, cycleID string) (*repository.Cycle, error) {
	var closed *repository.Cycle
	err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		cycles := repository.NewCycleRepo(tx)
		c, err := cycles.Get(ctx, cycleID)
		if err != nil {
			return err
		}
		if c == nil {
			return errNotFound("cycle", cycleID)
		}
		if c.Status != repository.CycleActive {
			return errStatef("cycle %d is %s, only active cycles can be closed", c.Year, c.Status)
		}
		if err := cycles.UpdateStatus(ctx, cycleID, repository.CycleClosed); err != nil {
			return err
		}
		if err := cycles.CloseAllPhases(ctx, cycleID); err != nil {
			return err
		}
		closed, err = cycles.Get(ctx, cycleID)
		return err
	})
	if err != nil {
		return nil, err
	}
	publish(s.Events, events.TopicCycleClosed, events.CycleClosed{
		CycleID:    closed.ID,
		Year:       closed.Year,
		OccurredAt: database.Now(),
	})
	return closed, nil
}

// Reopen moves a closed cycle back to draft. Past years stay closed.
func (s *CycleService) Reopen(ctx context.Context, cycleID string) (*repository.Cycle, error) {
	cycles := repository.NewCycleRepo(s.DB)
	c, err := cycles.Get(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errNotFound("cycle", cycleID)
	}
	if c.Status != repository.CycleClosed {
		return nil, errStatef("cycle %d is %s, only closed cycles can be reopened", c.Year, c.Status)
	}
	if c.Year < database.Now().Year() {
		return nil, errStatef("cycle %d is in the past and cannot be reopened", c.Year)
	}
	if err := cycles.UpdateStatus(ctx, cycleID, repository.CycleDraft); err != nil {
		return nil, err
	}
	return cycles.Get(ctx, cycleID)
}

// ActiveCycle returns the single active cycle.
func (s *CycleService) ActiveCycle(ctx context.Context) (*repository.Cycle, error) {
	return activeCycle(ctx, s.DB)
}

// Get returns one cycle by id.
func (s *CycleService) Get(ctx context.Context, cycleID string) (*repository.Cycle, error) {
	c, err := repository.NewCycleRepo(s.DB).Get(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errNotFound("cycle", cycleID)
	}
	return c, nil
}

// Cycles lists every cycle, newest year first.
func (s *CycleService) Cycles(ctx context.Context) ([]repository.Cycle, error) {
	return repository.NewCycleRepo(s.DB).List(ctx)
}

// SetRequirements updates the cycle's required social/admin fund amounts.
func (s *CycleService) SetRequirements(ctx context.Context, cycleID string, social, admin decimal.NullDecimal) error {
	if social.Valid && social.Decimal.IsNegative() {
		return errValidationf("social fund requirement must not be negative")
	}
	if admin.Valid && admin.Decimal.IsNegative() {
		return errValidationf("admin fund requirement must not be negative")
	}
	cycles := repository.NewCycleRepo(s.DB)
	c, err := cycles.Get(ctx, cycleID)
	if err != nil {
		return err
	}
	if c == nil {
		return errNotFound("cycle", cycleID)
	}
	if c.Status == repository.CycleClosed {
		return errStatef("cycle %d is closed", c.Year)
	}
	return cycles.UpdateRequirements(ctx, cycleID, social, admin)
}

// ConfigurePhase creates or updates one monthly phase window for a cycle.
func (s *CycleService) ConfigurePhase(ctx context.Context, cycleID string, in PhaseInput) (*repository.CyclePhase, error) {
	switch in.Phase {
	case repository.PhaseDeclaration, repository.PhaseLoanApplication, repository.PhaseDeposits,
		repository.PhasePayout, repository.PhaseShareout:
	default:
		return nil, errValidationf("unknown phase %q", in.Phase)
	}
	if in.StartDay < 1 || in.StartDay > 31 || in.EndDay < 1 || in.EndDay > 31 {
		return nil, errValidationf("phase days must be between 1 and 31")
	}
	cycles := repository.NewCycleRepo(s.DB)
	c, err := cycles.Get(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errNotFound("cycle", cycleID)
	}
	if in.PenaltyTypeID != nil {
		pt, err := repository.NewPenaltyRepo(s.DB).GetType(ctx, *in.PenaltyTypeID)
		if err != nil {
			return nil, err
		}
		if pt == nil {
			return nil, errNotFound("penalty type", *in.PenaltyTypeID)
		}
	}
	p := repository.CyclePhase{
		ID:               uuid.NewString(),
		CycleID:          cycleID,
		Phase:            in.Phase,
		StartDay:         in.StartDay,
		EndDay:           in.EndDay,
		IsOpen:           in.IsOpen,
		PenaltyTypeID:    in.PenaltyTypeID,
		AutoApplyPenalty: in.AutoApplyPenalty,
	}
	if err := cycles.UpsertPhase(ctx, p); err != nil {
		return nil, err
	}
	return cycles.GetPhase(ctx, cycleID, in.Phase)
}

// OpenPhase flips one configured phase window open.
func (s *CycleService) OpenPhase(ctx context.Context, cycleID string, phase repository.PhaseKind) error {
	return s.setPhaseOpen(ctx, cycleID, phase, true)
}

// ClosePhase flips one configured phase window closed.
func (s *CycleService) ClosePhase(ctx context.Context, cycleID string, phase repository.PhaseKind) error {
	return s.setPhaseOpen(ctx, cycleID, phase, false)
}

func (s *CycleService) setPhaseOpen(ctx context.Context, cycleID string, phase repository.PhaseKind, open bool) error {
	cycles := repository.NewCycleRepo(s.DB)
	p, err := cycles.GetPhase(ctx, cycleID, phase)
	if err != nil {
		return err
	}
	if p == nil {
		return errNotFound("phase", string(phase))
	}
	return cycles.SetPhaseOpen(ctx, cycleID, phase, open)
}

// Phases lists the configured phase windows of a cycle.
func (s *CycleService) Phases(ctx context.Context, cycleID string) ([]repository.CyclePhase, error) {
	return repository.NewCycleRepo(s.DB).Phases(ctx, cycleID)
}

// LockPostings places an advisory posting lock on a cycle. Locking an
// already locked cycle is a no-op.
func (s *CycleService) LockPostings(ctx context.Context, cycleID, reason, actor string) error {
	cycles := repository.NewCycleRepo(s.DB)
	c, err := cycles.Get(ctx, cycleID)
	if err != nil {
		return err
	}
	if c == nil {
		return errNotFound("cycle", cycleID)
	}
	return cycles.Lock(ctx, repository.PostingLock{
		ID:       uuid.NewString(),
		CycleID:  cycleID,
		Reason:   reason,
		LockedBy: actor,
		LockedAt: database.Now(),
	})
}

// UnlockPostings removes the advisory posting lock, if any.
func (s *CycleService) UnlockPostings(ctx context.Context, cycleID string) error {
	return repository.NewCycleRepo(s.DB).Unlock(ctx, cycleID)
}

// activeCycle loads the single active cycle on the given querier.
func activeCycle(ctx context.Context, q repository.DBTX) (*repository.Cycle, error) {
	c, err := repository.NewCycleRepo(q).Active(ctx)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errNotFound("active cycle", "")
	}
	return c, nil
}

// postingLocked reports whether the cycle holds an advisory posting lock.
func postingLocked(ctx context.Context, q repository.DBTX, cycleID string) (bool, error) {
	l, err := repository.NewCycleRepo(q).GetLock(ctx, cycleID)
	if err != nil {
		return false, err
	}
	return l != nil, nil
}

// phaseOpen returns the configured phase window and whether it currently
// admits submissions. An unconfigured phase is treated as open.
func phaseOpen(ctx context.Context, q repository.DBTX, cycleID string, kind repository.PhaseKind) (*repository.CyclePhase, bool, error) {
	p, err := repository.NewCycleRepo(q).GetPhase(ctx, cycleID, kind)
	if err != nil {
		return nil, false, err
	}
	if p == nil {
		return nil, true, nil
	}
	return p, p.IsOpen, nil
}
