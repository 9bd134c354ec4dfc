package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jask/coopledger/internal/database"
	"github.com/jask/coopledger/internal/database/repository"
	"github.com/jask/coopledger/internal/events"
)

func TestDeclarationUniquePerMonth(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t)
	ctx := testCtx(t)

	activateCycle(t, ctx, engine, CycleInput{Year: 2099})
	member := uuid.NewString()

	d, err := engine.Declarations.Create(ctx, member, "2099-01", Components{Savings: dec("100")})
	require.NoError(t, err)
	require.Equal(t, repository.DeclarationPending, d.Status)

	_, err = engine.Declarations.Create(ctx, member, "2099-01", Components{Savings: dec("50")})
	require.True(t, IsValidation(err), "duplicate month should be rejected, got %v", err)

	_, err = engine.Declarations.Create(ctx, member, "2099-02", Components{Savings: dec("50")})
	require.NoError(t, err)

	_, err = engine.Declarations.Create(ctx, member, "January", Components{Savings: dec("50")})
	require.True(t, IsValidation(err), "malformed month should be rejected, got %v", err)

	require.Equal(t, 2, countRows(t, ctx, engine, "SELECT COUNT(*) FROM declarations WHERE member_id = ?", member))
}

func TestRejectedProofReopensDeclaration(t *testing.T) {
	t.Parallel()
	engine, recorder := newTestEngine(t)
	ctx := testCtx(t)

	activateCycle(t, ctx, engine, CycleInput{Year: 2099})
	member := uuid.NewString()

	d, err := engine.Declarations.Create(ctx, member, "2099-01", Components{Savings: dec("100")})
	require.NoError(t, err)
	proof, err := engine.Declarations.SubmitProof(ctx, d.ID, dec("100"), nil, nil)
	require.NoError(t, err)

	got, err := engine.Declarations.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, repository.DeclarationProof, got.Status)
	t.Log("proof submitted")

	require.NoError(t, engine.Declarations.RejectProof(ctx, proof.ID, "receipt unreadable", "treasurer"))

	rejected, err := engine.Declarations.GetProof(ctx, proof.ID)
	require.NoError(t, err)
	require.Equal(t, repository.ProofRejected, rejected.Status)
	require.NotNil(t, rejected.Response)
	require.Equal(t, "receipt unreadable", *rejected.Response)
	require.NotNil(t, rejected.DecidedBy)
	require.Equal(t, "treasurer", *rejected.DecidedBy)

	got, err = engine.Declarations.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, repository.DeclarationPending, got.Status, "rejection reopens the declaration")
	t.Log("declaration reopened")

	// The rejection also unlocks editing of a past-month declaration.
	_, err = engine.Declarations.Update(ctx, d.ID, Components{Savings: dec("80"), Social: dec("20")})
	require.NoError(t, err)

	second, err := engine.Declarations.SubmitProof(ctx, d.ID, dec("100"), nil, nil)
	require.NoError(t, err)
	_, err = engine.Deposits.Approve(ctx, second.ID, "treasurer")
	require.NoError(t, err)
	t.Log("resubmission approved")

	require.Equal(t, 1, countRows(t, ctx, engine, "SELECT COUNT(*) FROM declarations WHERE member_id = ?", member),
		"resubmission reuses the declaration")
	require.Equal(t, 2, countRows(t, ctx, engine, "SELECT COUNT(*) FROM deposit_proofs WHERE declaration_id = ?", d.ID))
	require.Len(t, recorder.ByTopic(events.TopicProofRejected), 1)
	require.Len(t, recorder.ByTopic(events.TopicDepositApproved), 1)
}

func TestDeclarationEditWindow(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t)
	ctx := testCtx(t)

	now := database.Now()
	activateCycle(t, ctx, engine, CycleInput{Year: now.Year()})
	member := uuid.NewString()

	current, err := engine.Declarations.Create(ctx, member, repository.MonthKey(now), Components{Savings: dec("100")})
	require.NoError(t, err)
	updated, err := engine.Declarations.Update(ctx, current.ID, Components{Savings: dec("150")})
	require.NoError(t, err)
	require.True(t, updated.Savings.Equal(dec("150")))
	t.Log("current month edits freely")

	past, err := engine.Declarations.Create(ctx, member, "2020-01", Components{Savings: dec("100")})
	require.NoError(t, err)
	_, err = engine.Declarations.Update(ctx, past.ID, Components{Savings: dec("150")})
	require.True(t, IsState(err), "stale month without a rejected proof should be frozen, got %v", err)

	_, err = engine.Declarations.Update(ctx, current.ID, Components{Savings: dec("-1")})
	require.True(t, IsValidation(err), "negative amounts should be rejected, got %v", err)
	_, err = engine.Declarations.Update(ctx, current.ID, Components{})
	require.True(t, IsValidation(err), "empty declaration should be rejected, got %v", err)

	proof, err := engine.Declarations.SubmitProof(ctx, current.ID, dec("150"), nil, nil)
	require.NoError(t, err)
	_, err = engine.Declarations.Update(ctx, current.ID, Components{Savings: dec("10")})
	require.True(t, IsState(err), "awaiting proof decision, got %v", err)

	_, err = engine.Deposits.Approve(ctx, proof.ID, "treasurer")
	require.NoError(t, err)
	_, err = engine.Declarations.Update(ctx, current.ID, Components{Savings: dec("10")})
	require.True(t, IsState(err), "approved declarations are immutable, got %v", err)
}

func TestPhaseWindowsGateSubmissions(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t)
	ctx := testCtx(t)

	cycle := activateCycle(t, ctx, engine, CycleInput{Year: 2099})
	member := uuid.NewString()

	_, err := engine.Cycles.ConfigurePhase(ctx, cycle.ID, PhaseInput{
		Phase: repository.PhaseDeclaration, StartDay: 1, EndDay: 5, IsOpen: false,
	})
	require.NoError(t, err)

	_, err = engine.Declarations.Create(ctx, member, "2099-01", Components{Savings: dec("100")})
	require.True(t, IsState(err), "closed declaration phase should block, got %v", err)

	require.NoError(t, engine.Cycles.OpenPhase(ctx, cycle.ID, repository.PhaseDeclaration))
	d, err := engine.Declarations.Create(ctx, member, "2099-01", Components{Savings: dec("100")})
	require.NoError(t, err)
	t.Log("declaration accepted once the window opened")

	_, err = engine.Cycles.ConfigurePhase(ctx, cycle.ID, PhaseInput{
		Phase: repository.PhaseDeposits, StartDay: 1, EndDay: 10, IsOpen: false,
	})
	require.NoError(t, err)

	_, err = engine.Declarations.SubmitProof(ctx, d.ID, dec("100"), nil, nil)
	require.True(t, IsState(err), "closed deposits phase should block, got %v", err)

	require.NoError(t, engine.Cycles.OpenPhase(ctx, cycle.ID, repository.PhaseDeposits))
	_, err = engine.Declarations.SubmitProof(ctx, d.ID, dec("100"), nil, nil)
	require.NoError(t, err)
}

func TestSubmitProofValidation(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t)
	ctx := testCtx(t)

	activateCycle(t, ctx, engine, CycleInput{Year: 2099})
	member := uuid.NewString()

	d, err := engine.Declarations.Create(ctx, member, "2099-01", Components{Savings: dec("100")})
	require.NoError(t, err)

	_, err = engine.Declarations.SubmitProof(ctx, d.ID, dec("0"), nil, nil)
	require.True(t, IsValidation(err), "zero amount should be rejected, got %v", err)

	_, err = engine.Declarations.SubmitProof(ctx, "no-such-declaration", dec("100"), nil, nil)
	require.True(t, IsNotFound(err), "unknown declaration, got %v", err)

	ref := "TXN-123"
	proof, err := engine.Declarations.SubmitProof(ctx, d.ID, dec("100"), &ref, nil)
	require.NoError(t, err)
	require.NotNil(t, proof.Reference)
	require.Equal(t, "TXN-123", *proof.Reference)

	_, err = engine.Declarations.SubmitProof(ctx, d.ID, dec("100"), nil, nil)
	require.True(t, IsState(err), "second proof while one is pending review, got %v", err)

	err = engine.Declarations.RejectProof(ctx, "no-such-proof", "nope", "treasurer")
	require.True(t, IsNotFound(err), "unknown proof, got %v", err)

	require.NoError(t, engine.Declarations.RejectProof(ctx, proof.ID, "blurry", "treasurer"))
	err = engine.Declarations.RejectProof(ctx, proof.ID, "again", "treasurer")
	require.True(t, IsState(err), "only submitted proofs can be rejected, got %v", err)

	proofs, err := engine.Declarations.Proofs(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, proofs, 1)
}
