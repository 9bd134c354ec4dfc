package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jask/coopledger/internal/database/repository"
	"github.com/jask/coopledger/internal/events"
)

func TestLatePenaltyAppliedOncePerMonth(t *testing.T) {
	t.Parallel()
	engine, recorder := newTestEngine(t)
	ctx := testCtx(t)

	cycle := activateCycle(t, ctx, engine, CycleInput{Year: 2024})
	late, err := engine.Penalties.CreateType(ctx, "Late submission", dec("5"), true)
	require.NoError(t, err)
	for _, phase := range []PhaseInput{
		{Phase: repository.PhaseDeclaration, StartDay: 1, EndDay: 5, IsOpen: true, PenaltyTypeID: &late.ID, AutoApplyPenalty: true},
		{Phase: repository.PhaseDeposits, StartDay: 1, EndDay: 10, IsOpen: true, PenaltyTypeID: &late.ID, AutoApplyPenalty: true},
	} {
		_, err := engine.Cycles.ConfigurePhase(ctx, cycle.ID, phase)
		require.NoError(t, err)
	}
	member := uuid.NewString()

	// The 2024 windows are long gone, so declaring now is late.
	d, err := engine.Declarations.Create(ctx, member, "2024-01", Components{Savings: dec("100")})
	require.NoError(t, err)
	t.Log("late declaration accepted")

	records, err := engine.Penalties.MemberRecords(ctx, member)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, repository.PenaltyApproved, records[0].Status)
	require.Equal(t, SystemActor, records[0].CreatedBy)
	require.NotNil(t, records[0].EntryID, "auto-applied penalties are charged immediately")
	require.Contains(t, records[0].Note, "2024-01")

	require.True(t, memberBalance(t, ctx, engine, member, repository.FundPenalty).Equal(dec("-5")),
		"member owes the fee")

	// The deposits window for the same month must not double-charge.
	_, err = engine.Declarations.SubmitProof(ctx, d.ID, dec("100"), nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, countRows(t, ctx, engine, "SELECT COUNT(*) FROM penalty_records WHERE member_id = ?", member))
	t.Log("same month stayed idempotent")

	// A different month is its own offence.
	_, err = engine.Declarations.Create(ctx, member, "2024-02", Components{Savings: dec("100")})
	require.NoError(t, err)
	require.Equal(t, 2, countRows(t, ctx, engine, "SELECT COUNT(*) FROM penalty_records WHERE member_id = ?", member))

	assessed := recorder.ByTopic(events.TopicPenaltyAssessed)
	require.Len(t, assessed, 2)
	first, ok := assessed[0].Event.(events.PenaltyAssessed)
	require.True(t, ok)
	require.Equal(t, "2024-01", first.Month)
}

func TestOnTimeSubmissionsSkipPenalty(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t)
	ctx := testCtx(t)

	cycle := activateCycle(t, ctx, engine, CycleInput{Year: 2099})
	late, err := engine.Penalties.CreateType(ctx, "Late submission", dec("5"), true)
	require.NoError(t, err)
	for _, phase := range []PhaseInput{
		{Phase: repository.PhaseDeclaration, StartDay: 1, EndDay: 5, IsOpen: true, PenaltyTypeID: &late.ID, AutoApplyPenalty: true},
		{Phase: repository.PhaseDeposits, StartDay: 1, EndDay: 10, IsOpen: true, PenaltyTypeID: &late.ID, AutoApplyPenalty: true},
	} {
		_, err := engine.Cycles.ConfigurePhase(ctx, cycle.ID, phase)
		require.NoError(t, err)
	}
	member := uuid.NewString()

	d, err := engine.Declarations.Create(ctx, member, "2099-01", Components{Savings: dec("100")})
	require.NoError(t, err)
	_, err = engine.Declarations.SubmitProof(ctx, d.ID, dec("100"), nil, nil)
	require.NoError(t, err)

	require.Equal(t, 0, countRows(t, ctx, engine, "SELECT COUNT(*) FROM penalty_records WHERE member_id = ?", member))
}

func TestManualPenaltyFlow(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t)
	ctx := testCtx(t)

	activateCycle(t, ctx, engine, CycleInput{Year: 2099})
	member := uuid.NewString()

	missed, err := engine.Penalties.CreateType(ctx, "Missed meeting", dec("5"), true)
	require.NoError(t, err)

	record, err := engine.Penalties.Assess(ctx, member, missed.ID, "absent in March", "treasurer")
	require.NoError(t, err)
	require.Equal(t, repository.PenaltyPending, record.Status)
	require.Nil(t, record.EntryID, "nothing is charged until approval")
	require.True(t, memberBalance(t, ctx, engine, member, repository.FundPenalty).IsZero())

	require.NoError(t, engine.Penalties.Approve(ctx, record.ID, "treasurer"))
	t.Log("penalty approved and charged")

	got, err := repository.NewPenaltyRepo(engine.DB).GetRecord(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, repository.PenaltyApproved, got.Status)
	require.NotNil(t, got.EntryID)
	require.True(t, memberBalance(t, ctx, engine, member, repository.FundPenalty).Equal(dec("-5")))

	err = engine.Penalties.Approve(ctx, record.ID, "treasurer")
	require.True(t, IsState(err), "double approval should fail, got %v", err)

	// Disabled types cannot be assessed.
	dormant, err := engine.Penalties.CreateType(ctx, "Dormant", dec("3"), false)
	require.NoError(t, err)
	_, err = engine.Penalties.Assess(ctx, member, dormant.ID, "", "treasurer")
	require.True(t, IsValidation(err), "disabled type, got %v", err)

	require.NoError(t, engine.Penalties.SetTypeEnabled(ctx, dormant.ID, true))
	_, err = engine.Penalties.Assess(ctx, member, dormant.ID, "", "treasurer")
	require.NoError(t, err)

	enabled, err := engine.Penalties.Types(ctx, true)
	require.NoError(t, err)
	require.Len(t, enabled, 2)
}

func TestPenaltySettlementOldestFittingFirst(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t)
	ctx := testCtx(t)

	activateCycle(t, ctx, engine, CycleInput{Year: 2099})
	member := uuid.NewString()

	small, err := engine.Penalties.CreateType(ctx, "Small", dec("5"), true)
	require.NoError(t, err)
	big, err := engine.Penalties.CreateType(ctx, "Big", dec("7"), true)
	require.NoError(t, err)

	recSmall, err := engine.Penalties.Assess(ctx, member, small.ID, "", "treasurer")
	require.NoError(t, err)
	require.NoError(t, engine.Penalties.Approve(ctx, recSmall.ID, "treasurer"))
	recBig, err := engine.Penalties.Assess(ctx, member, big.ID, "", "treasurer")
	require.NoError(t, err)
	require.NoError(t, engine.Penalties.Approve(ctx, recBig.ID, "treasurer"))
	require.True(t, memberBalance(t, ctx, engine, member, repository.FundPenalty).Equal(dec("-12")))
	t.Log("two approved penalties on the books")

	// Declared penalty money covers only the small fee.
	depositForMonth(t, ctx, engine, member, "2099-01", Components{Savings: dec("5"), Penalties: dec("5")})

	penalties := repository.NewPenaltyRepo(engine.DB)
	gotSmall, err := penalties.GetRecord(ctx, recSmall.ID)
	require.NoError(t, err)
	require.Equal(t, repository.PenaltyPaid, gotSmall.Status)
	gotBig, err := penalties.GetRecord(ctx, recBig.ID)
	require.NoError(t, err)
	require.Equal(t, repository.PenaltyApproved, gotBig.Status, "the big fee does not fit")

	require.True(t, memberBalance(t, ctx, engine, member, repository.FundPenalty).Equal(dec("-7")))
}

func TestPhaseDeadlineArithmetic(t *testing.T) {
	t.Parallel()

	require.Equal(t, 29, clampDay(2024, time.February, 31))
	require.Equal(t, 28, clampDay(2023, time.February, 31))
	require.Equal(t, 30, clampDay(2024, time.April, 31))
	require.Equal(t, 1, clampDay(2024, time.January, 0))
	require.Equal(t, 15, clampDay(2024, time.January, 15))

	deposits := &repository.CyclePhase{Phase: repository.PhaseDeposits, EndDay: 31}
	deadline, err := phaseDeadline(deposits, "2024-01", time.UTC)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC), deadline,
		"deposits deadline lands in the following month, clamped to its length")

	declaration := &repository.CyclePhase{Phase: repository.PhaseDeclaration, EndDay: 10}
	deadline, err = phaseDeadline(declaration, "2024-06", time.UTC)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, time.June, 10, 0, 0, 0, 0, time.UTC), deadline)

	_, err = parseMonth("2024-6")
	require.True(t, IsValidation(err), "non-canonical month should be rejected, got %v", err)
}
