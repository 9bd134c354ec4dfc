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

// amountTolerance is the rounding slack allowed when matching a proof amount
// against a declared total. Ledger entries themselves always balance exactly.
var amountTolerance = decimal.New(1, -2)

// LedgerService owns the double-entry journal: balanced postings, reversals,
// balances and the trial balance.
type LedgerService struct {
	DB     *sql.DB
	Events events.Publisher
}

// EntryLine is one posting leg. Exactly one of Debit or Credit must be
// strictly positive.
type EntryLine struct {
	AccountID string
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// EntryInput describes a journal entry to post.
type EntryInput struct {
	Description string
	Date        time.Time
	CycleID     *string
	Source      repository.EntrySource
	SourceRef   *string
	CreatedBy   string
	Lines       []EntryLine
}

// Post validates and writes a balanced journal entry atomically.
func (s *LedgerService) Post(ctx context.Context, in EntryInput) (*repository.JournalEntry, error) {
	if in.Source == "" {
		in.Source = repository.SourceManual
	}
	var entry *repository.JournalEntry
	err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		var err error
		entry, err = postEntry(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publishPosted(entry)
	return entry, nil
}

// ReverseEntry undoes a posted entry by writing a mirror-image entry and
// linking the two. An entry can be reversed once.
func (s *LedgerService) ReverseEntry(ctx context.Context, entryID, reason, actor string) (*repository.JournalEntry, error) {
	var reversal *repository.JournalEntry
	err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		journal := repository.NewJournalRepo(tx)
		orig, err := journal.GetEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if orig == nil {
			return errNotFound("entry", entryID)
		}
		if orig.Reversed() {
			return errStatef("entry %s is already reversed", entryID)
		}
		lines := make([]EntryLine, 0, len(orig.Lines))
		for _, l := range orig.Lines {
			lines = append(lines, EntryLine{AccountID: l.AccountID, Debit: l.Credit, Credit: l.Debit})
		}
		reversal, err = postEntry(ctx, tx, EntryInput{
			Description: "Reversal: " + orig.Description,
			Date:        database.Now(),
			CycleID:     orig.CycleID,
			Source:      repository.SourceReversal,
			SourceRef:   &orig.ID,
			CreatedBy:   actor,
			Lines:       lines,
		})
		if err != nil {
			return err
		}
		return journal.MarkReversed(ctx, orig.ID, reversal.ID, database.Now(), reason)
	})
	if err != nil {
		return nil, err
	}
	publish(s.Events, events.TopicEntryReversed, events.EntryReversed{
		EntryID:    entryID,
		ReversalID: reversal.ID,
		Reason:     reason,
		OccurredAt: database.Now(),
	})
	return reversal, nil
}

// Entry returns one entry with its lines.
func (s *LedgerService) Entry(ctx context.Context, id string) (*repository.JournalEntry, error) {
	e, err := repository.NewJournalRepo(s.DB).GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, errNotFound("entry", id)
	}
	return e, nil
}

// Entries lists entries matching the filters, newest first.
func (s *LedgerService) Entries(ctx context.Context, f repository.EntryFilters) ([]repository.JournalEntry, error) {
	return repository.NewJournalRepo(s.DB).ListEntries(ctx, f)
}

// Accounts lists the full chart, organization accounts and member
// sub-accounts alike.
func (s *LedgerService) Accounts(ctx context.Context) ([]repository.Account, error) {
	return repository.NewAccountRepo(s.DB).List(ctx)
}

// MemberSubaccount returns the member's sub-account for the fund kind,
// creating it on first use.
func (s *LedgerService) MemberSubaccount(ctx context.Context, memberID string, kind repository.FundKind) (*repository.Account, error) {
	var acct *repository.Account
	err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		var err error
		acct, err = ensureMemberAccount(ctx, tx, memberID, kind)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// AccountBalance returns the signed balance of an account, optionally as of
// a point in time.
func (s *LedgerService) AccountBalance(ctx context.Context, accountID string, asOf *time.Time) (decimal.Decimal, error) {
	return accountBalanceAsOf(ctx, s.DB, accountID, asOf)
}

// MemberBalance returns the member's balance in one fund, creating the
// sub-account if the member has never posted to it.
func (s *LedgerService) MemberBalance(ctx context.Context, memberID string, kind repository.FundKind) (decimal.Decimal, error) {
	acct, err := s.MemberSubaccount(ctx, memberID, kind)
	if err != nil {
		return decimal.Zero, err
	}
	return accountBalance(ctx, s.DB, acct.ID)
}

// AccountBalanceRow is one trial-balance line.
type AccountBalanceRow struct {
	Account repository.Account
	Debits  decimal.Decimal
	Credits decimal.Decimal
	Balance decimal.Decimal
}

// TrialBalance returns per-account totals for every account that has ever
// been posted to. Total debits always equal total credits.
func (s *LedgerService) TrialBalance(ctx context.Context, asOf *time.Time) ([]AccountBalanceRow, error) {
	totals, err := repository.NewJournalRepo(s.DB).AccountTotals(ctx, asOf)
	if err != nil {
		return nil, err
	}
	accounts := repository.NewAccountRepo(s.DB)
	out := make([]AccountBalanceRow, 0, len(totals))
	for _, t := range totals {
		acct, err := accounts.Get(ctx, t.AccountID)
		if err != nil {
			return nil, err
		}
		if acct == nil {
			return nil, errNotFound("account", t.AccountID)
		}
		row := AccountBalanceRow{Account: *acct, Debits: t.Debits, Credits: t.Credits}
		if acct.Type.DebitNormal() {
			row.Balance = t.Debits.Sub(t.Credits)
		} else {
			row.Balance = t.Credits.Sub(t.Debits)
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *LedgerService) publishPosted(e *repository.JournalEntry) {
	cycleID := ""
	if e.CycleID != nil {
		cycleID = *e.CycleID
	}
	publish(s.Events, events.TopicEntryPosted, events.EntryPosted{
		EntryID:    e.ID,
		SourceType: string(e.SourceType),
		CycleID:    cycleID,
		CreatedBy:  e.CreatedBy,
		OccurredAt: database.Now(),
	})
}

// postEntry validates and inserts a journal entry on the given transaction.
// Posting-lock checks belong to the calling workflow, not to every posting
// path.
func postEntry(ctx context.Context, q repository.DBTX, in EntryInput) (*repository.JournalEntry, error) {
	if len(in.Lines) < 2 {
		return nil, errValidationf("entry needs at least two lines, got %d", len(in.Lines))
	}
	if in.CreatedBy == "" {
		return nil, errValidationf("entry needs a creator")
	}

	accounts := repository.NewAccountRepo(q)
	var debits, credits decimal.Decimal
	for _, l := range in.Lines {
		if l.Debit.IsNegative() || l.Credit.IsNegative() {
			return nil, errValidationf("line amounts must not be negative")
		}
		if l.Debit.IsPositive() == l.Credit.IsPositive() {
			return nil, errValidationf("each line must be either a debit or a credit")
		}
		acct, err := accounts.Get(ctx, l.AccountID)
		if err != nil {
			return nil, err
		}
		if acct == nil {
			return nil, errNotFound("account", l.AccountID)
		}
		debits = debits.Add(l.Debit)
		credits = credits.Add(l.Credit)
	}
	if !debits.Equal(credits) {
		return nil, errImbalanced(debits, credits)
	}

	date := in.Date
	if date.IsZero() {
		date = database.Now()
	}
	entry := repository.JournalEntry{
		ID:          uuid.NewString(),
		Description: in.Description,
		EntryDate:   date,
		CycleID:     in.CycleID,
		SourceType:  in.Source,
		SourceRef:   in.SourceRef,
		CreatedBy:   in.CreatedBy,
	}
	for _, l := range in.Lines {
		entry.Lines = append(entry.Lines, repository.JournalLine{
			ID:        uuid.NewString(),
			EntryID:   entry.ID,
			AccountID: l.AccountID,
			Debit:     l.Debit,
			Credit:    l.Credit,
		})
	}
	journal := repository.NewJournalRepo(q)
	if err := journal.InsertEntry(ctx, entry); err != nil {
		return nil, err
	}
	return journal.GetEntry(ctx, entry.ID)
}

// ensureMemberAccount returns the member's sub-account for the fund kind,
// creating it with a deterministic id on first use.
func ensureMemberAccount(ctx context.Context, q repository.DBTX, memberID string, kind repository.FundKind) (*repository.Account, error) {
	if memberID == "" {
		return nil, errValidationf("member id is required")
	}
	accounts := repository.NewAccountRepo(q)
	acct, err := accounts.GetMemberAccount(ctx, memberID, kind)
	if err != nil {
		return nil, err
	}
	if acct != nil {
		return acct, nil
	}
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("acct:member:"+memberID+":"+string(kind))).String()
	created := repository.Account{
		ID:       id,
		Code:     kind.Prefix() + "-" + memberID,
		Name:     "Member " + memberTag(memberID) + " " + kind.DisplayName(),
		Type:     repository.AccountLiability,
		MemberID: &memberID,
		FundKind: &kind,
	}
	if err := accounts.Upsert(ctx, created); err != nil {
		return nil, err
	}
	return accounts.GetMemberAccount(ctx, memberID, kind)
}

// memberTag shortens a member id for display in generated account names.
func memberTag(memberID string) string {
	if len(memberID) > 8 {
		return memberID[:8]
	}
	return memberID
}

// orgAccount loads an organization chart account by code. A missing row
// means the chart was never seeded.
func orgAccount(ctx context.Context, q repository.DBTX, code string) (*repository.Account, error) {
	acct, err := repository.NewAccountRepo(q).GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, errConfigf("organization account %s is not configured", code)
	}
	return acct, nil
}

func accountBalance(ctx context.Context, q repository.DBTX, accountID string) (decimal.Decimal, error) {
	return accountBalanceAsOf(ctx, q, accountID, nil)
}

func accountBalanceAsOf(ctx context.Context, q repository.DBTX, accountID string, asOf *time.Time) (decimal.Decimal, error) {
	accounts := repository.NewAccountRepo(q)
	acct, err := accounts.Get(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	if acct == nil {
		return decimal.Zero, errNotFound("account", accountID)
	}
	debits, credits, err := repository.NewJournalRepo(q).SumAccount(ctx, accountID, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	if acct.Type.DebitNormal() {
		return debits.Sub(credits), nil
	}
	return credits.Sub(debits), nil
}
