package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/jask/coopledger/internal/database"
	"github.com/jask/coopledger/internal/database/repository"
	"github.com/jask/coopledger/internal/events"
)

// PenaltyService assesses, approves and charges member penalties, including
// the automatic late-submission penalties driven by cycle phase windows.
type PenaltyService struct {
	DB       *sql.DB
	Events   events.Publisher
	Location *time.Location
}

func (s *PenaltyService) location() *time.Location {
	if s.Location != nil {
		return s.Location
	}
	return time.UTC
}

// AutoApply creates a pre-approved late penalty for (member, phase,
// effective month) when the phase configures one and the deadline has
// passed. It runs on the caller's transaction and is idempotent: a record
// already issued for the month, detected by issue date or note token, is
// never duplicated. The created record is returned so the caller can emit
// an event after commit; nil means nothing was applied.
func (s *PenaltyService) AutoApply(ctx context.Context, q repository.DBTX, memberID string, cycle *repository.Cycle, kind repository.PhaseKind, effectiveMonth string, now time.Time) (*repository.PenaltyRecord, error) {
	phase, err := repository.NewCycleRepo(q).GetPhase(ctx, cycle.ID, kind)
	if err != nil {
		return nil, err
	}
	if phase == nil || !phase.AutoApplyPenalty || phase.PenaltyTypeID == nil {
		return nil, nil
	}
	penalties := repository.NewPenaltyRepo(q)
	ptype, err := penalties.GetType(ctx, *phase.PenaltyTypeID)
	if err != nil {
		return nil, err
	}
	if ptype == nil || !ptype.Enabled {
		return nil, nil
	}

	deadline, err := phaseDeadline(phase, effectiveMonth, s.location())
	if err != nil {
		return nil, err
	}
	if !dateOnly(now.In(s.location())).After(deadline) {
		return nil, nil
	}

	exists, err := penalties.ExistsForMonth(ctx, memberID, ptype.ID, effectiveMonth)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	record := repository.PenaltyRecord{
		ID:            uuid.NewString(),
		MemberID:      memberID,
		PenaltyTypeID: ptype.ID,
		Status:        repository.PenaltyApproved,
		Note:          fmt.Sprintf("Late %s submission for %s", kind, effectiveMonth),
		IssuedAt:      database.Now(),
		CreatedBy:     SystemActor,
	}
	entry, err := chargePenalty(ctx, q, memberID, *ptype, cycle.ID, record.ID, SystemActor, record.Note)
	if err != nil {
		return nil, err
	}
	record.EntryID = &entry.ID
	if err := penalties.InsertRecord(ctx, record); err != nil {
		return nil, err
	}
	log.Info().Str("member", memberID).Str("penalty_type", ptype.Name).
		Str("month", effectiveMonth).Msg("late penalty auto-applied")
	return &record, nil
}

// Assess raises a manual penalty against a member. The record stays pending
// and nothing is charged until a treasurer approves it.
func (s *PenaltyService) Assess(ctx context.Context, memberID, typeID, note, actor string) (*repository.PenaltyRecord, error) {
	if memberID == "" {
		return nil, errValidationf("member id is required")
	}
	penalties := repository.NewPenaltyRepo(s.DB)
	ptype, err := penalties.GetType(ctx, typeID)
	if err != nil {
		return nil, err
	}
	if ptype == nil {
		return nil, errNotFound("penalty type", typeID)
	}
	if !ptype.Enabled {
		return nil, errValidationf("penalty type %s is disabled", ptype.Name)
	}
	record := repository.PenaltyRecord{
		ID:            uuid.NewString(),
		MemberID:      memberID,
		PenaltyTypeID: typeID,
		Status:        repository.PenaltyPending,
		Note:          note,
		IssuedAt:      database.Now(),
		CreatedBy:     actor,
	}
	if err := penalties.InsertRecord(ctx, record); err != nil {
		return nil, err
	}
	publish(s.Events, events.TopicPenaltyAssessed, events.PenaltyAssessed{
		RecordID:      record.ID,
		MemberID:      memberID,
		PenaltyTypeID: typeID,
		Month:         repository.MonthKey(record.IssuedAt),
		IssuedAt:      record.IssuedAt,
	})
	return &record, nil
}

// Approve moves a pending record to approved and posts the charging entry
// in the same transaction.
func (s *PenaltyService) Approve(ctx context.Context, recordID, actor string) error {
	return database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		penalties := repository.NewPenaltyRepo(tx)
		record, err := penalties.GetRecord(ctx, recordID)
		if err != nil {
			return err
		}
		if record == nil {
			return errNotFound("penalty record", recordID)
		}
		if record.Status != repository.PenaltyPending {
			return errStatef("penalty record %s is %s, only pending records can be approved", recordID, record.Status)
		}
		ptype, err := penalties.GetType(ctx, record.PenaltyTypeID)
		if err != nil {
			return err
		}
		if ptype == nil {
			return errNotFound("penalty type", record.PenaltyTypeID)
		}
		cycle, err := activeCycle(ctx, tx)
		if err != nil {
			return err
		}
		entry, err := chargePenalty(ctx, tx, record.MemberID, *ptype, cycle.ID, record.ID, actor, record.Note)
		if err != nil {
			return err
		}
		return penalties.ApproveRecord(ctx, recordID, entry.ID)
	})
}

// CreateType registers a penalty type, updating fee and enabled flag if the
// name exists.
func (s *PenaltyService) CreateType(ctx context.Context, name string, fee decimal.Decimal, enabled bool) (*repository.PenaltyType, error) {
	if name == "" {
		return nil, errValidationf("penalty type name is required")
	}
	if !fee.IsPositive() {
		return nil, errValidationf("penalty fee must be positive")
	}
	penalties := repository.NewPenaltyRepo(s.DB)
	existing, err := penalties.GetTypeByName(ctx, name)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	if existing != nil {
		id = existing.ID
	}
	t := repository.PenaltyType{ID: id, Name: name, Fee: fee, Enabled: enabled}
	if err := penalties.UpsertType(ctx, t); err != nil {
		return nil, err
	}
	return penalties.GetType(ctx, id)
}

// SetTypeEnabled flips a penalty type's enabled flag.
func (s *PenaltyService) SetTypeEnabled(ctx context.Context, typeID string, enabled bool) error {
	penalties := repository.NewPenaltyRepo(s.DB)
	ptype, err := penalties.GetType(ctx, typeID)
	if err != nil {
		return err
	}
	if ptype == nil {
		return errNotFound("penalty type", typeID)
	}
	ptype.Enabled = enabled
	return penalties.UpsertType(ctx, *ptype)
}

// Types lists penalty types, optionally only the enabled ones.
func (s *PenaltyService) Types(ctx context.Context, enabledOnly bool) ([]repository.PenaltyType, error) {
	return repository.NewPenaltyRepo(s.DB).ListTypes(ctx, enabledOnly)
}

// MemberRecords lists a member's penalty records, newest first.
func (s *PenaltyService) MemberRecords(ctx context.Context, memberID string) ([]repository.PenaltyRecord, error) {
	return repository.NewPenaltyRepo(s.DB).ListByMember(ctx, memberID)
}

// chargePenalty posts the entry that books a penalty against the member:
// the member's penalty sub-account is debited (they now owe the fee) and
// penalty income is credited.
func chargePenalty(ctx context.Context, q repository.DBTX, memberID string, ptype repository.PenaltyType, cycleID, recordID, actor, note string) (*repository.JournalEntry, error) {
	memberPenalty, err := ensureMemberAccount(ctx, q, memberID, repository.FundPenalty)
	if err != nil {
		return nil, err
	}
	income, err := orgAccount(ctx, q, repository.CodePenaltyIncome)
	if err != nil {
		return nil, err
	}
	description := "Penalty: " + ptype.Name
	if note != "" {
		description = description + " (" + note + ")"
	}
	return postEntry(ctx, q, EntryInput{
		Description: description,
		Date:        database.Now(),
		CycleID:     &cycleID,
		Source:      repository.SourcePenalty,
		SourceRef:   &recordID,
		CreatedBy:   actor,
		Lines: []EntryLine{
			{AccountID: memberPenalty.ID, Debit: ptype.Fee},
			{AccountID: income.ID, Credit: ptype.Fee},
		},
	})
}

// settlePenalties walks the member's approved records oldest first and marks
// paid every record whose fee fits in the remaining declared penalty amount.
// Matching is first-fit by fee, so two types sharing a fee can swap: the
// oldest fitting record wins.
func settlePenalties(ctx context.Context, q repository.DBTX, memberID string, declared decimal.Decimal) error {
	if !declared.IsPositive() {
		return nil
	}
	penalties := repository.NewPenaltyRepo(q)
	records, err := penalties.ListApprovedByMember(ctx, memberID)
	if err != nil {
		return err
	}
	remaining := declared
	for _, rec := range records {
		ptype, err := penalties.GetType(ctx, rec.PenaltyTypeID)
		if err != nil {
			return err
		}
		if ptype == nil {
			return errNotFound("penalty type", rec.PenaltyTypeID)
		}
		if ptype.Fee.GreaterThan(remaining) {
			continue
		}
		if err := penalties.MarkPaid(ctx, rec.ID); err != nil {
			return err
		}
		remaining = remaining.Sub(ptype.Fee)
		if remaining.IsZero() {
			break
		}
	}
	return nil
}

// phaseDeadline returns the last on-time date for a phase relative to the
// effective month. The deposits window starts in month M and ends in month
// M+1; declaration and loan application windows end in month M itself. End
// days past the month's length clamp to its final day.
func phaseDeadline(phase *repository.CyclePhase, effectiveMonth string, loc *time.Location) (time.Time, error) {
	base, err := parseMonth(effectiveMonth)
	if err != nil {
		return time.Time{}, err
	}
	if phase.Phase == repository.PhaseDeposits {
		base = base.AddDate(0, 1, 0)
	}
	day := clampDay(base.Year(), base.Month(), phase.EndDay)
	return time.Date(base.Year(), base.Month(), day, 0, 0, 0, 0, loc), nil
}

// parseMonth parses the canonical "YYYY-MM" month key.
func parseMonth(month string) (time.Time, error) {
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}, errValidationf("invalid month %q, want YYYY-MM", month)
	}
	return t, nil
}

// clampDay bounds a configured day-of-month to the month's actual length.
func clampDay(year int, month time.Month, day int) int {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		return last
	}
	if day < 1 {
		return 1
	}
	return day
}

// dateOnly strips the time-of-day, keeping the location.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
