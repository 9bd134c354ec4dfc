package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jask/coopledger/internal/database/repository"
	"github.com/jask/coopledger/internal/events"
)

func TestPostAndReverseEntry(t *testing.T) {
	t.Parallel()
	engine, recorder := newTestEngine(t)
	ctx := testCtx(t)

	cash := orgAcct(t, ctx, engine, repository.CodeCash)
	social := orgAcct(t, ctx, engine, repository.CodeSocialFund)

	entry, err := engine.Ledger.Post(ctx, EntryInput{
		Description: "Opening donation",
		CreatedBy:   "treasurer",
		Lines: []EntryLine{
			{AccountID: cash.ID, Debit: dec("75.50")},
			{AccountID: social.ID, Credit: dec("75.50")},
		},
	})
	require.NoError(t, err)
	require.Len(t, entry.Lines, 2)
	require.Equal(t, repository.SourceManual, entry.SourceType)
	t.Log("entry posted")

	require.True(t, balance(t, ctx, engine, cash.ID).Equal(dec("75.50")))
	require.True(t, balance(t, ctx, engine, social.ID).Equal(dec("75.50")))

	reversal, err := engine.Ledger.ReverseEntry(ctx, entry.ID, "booked twice", "treasurer")
	require.NoError(t, err)
	require.Equal(t, repository.SourceReversal, reversal.SourceType)
	require.Equal(t, "Reversal: Opening donation", reversal.Description)
	t.Log("entry reversed")

	require.True(t, balance(t, ctx, engine, cash.ID).IsZero())
	require.True(t, balance(t, ctx, engine, social.ID).IsZero())

	orig, err := engine.Ledger.Entry(ctx, entry.ID)
	require.NoError(t, err)
	require.True(t, orig.Reversed())
	require.Equal(t, reversal.ID, *orig.ReversedBy)
	require.Equal(t, "booked twice", *orig.ReversalReason)

	_, err = engine.Ledger.ReverseEntry(ctx, entry.ID, "again", "treasurer")
	require.Error(t, err)
	require.True(t, IsState(err), "second reversal should be a state error, got %v", err)

	require.Len(t, recorder.ByTopic(events.TopicEntryPosted), 1)
	require.Len(t, recorder.ByTopic(events.TopicEntryReversed), 1)
}

func TestPostValidation(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t)
	ctx := testCtx(t)

	cash := orgAcct(t, ctx, engine, repository.CodeCash)
	social := orgAcct(t, ctx, engine, repository.CodeSocialFund)

	cases := []struct {
		name  string
		input EntryInput
		check func(error) bool
	}{
		{
			name: "imbalanced",
			input: EntryInput{
				CreatedBy: "treasurer",
				Lines: []EntryLine{
					{AccountID: cash.ID, Debit: dec("100")},
					{AccountID: social.ID, Credit: dec("99.99")},
				},
			},
			check: IsValidation,
		},
		{
			name: "single line",
			input: EntryInput{
				CreatedBy: "treasurer",
				Lines:     []EntryLine{{AccountID: cash.ID, Debit: dec("100")}},
			},
			check: IsValidation,
		},
		{
			name: "negative amount",
			input: EntryInput{
				CreatedBy: "treasurer",
				Lines: []EntryLine{
					{AccountID: cash.ID, Debit: dec("-5")},
					{AccountID: social.ID, Credit: dec("-5")},
				},
			},
			check: IsValidation,
		},
		{
			name: "debit and credit on one line",
			input: EntryInput{
				CreatedBy: "treasurer",
				Lines: []EntryLine{
					{AccountID: cash.ID, Debit: dec("5"), Credit: dec("5")},
					{AccountID: social.ID, Credit: dec("0")},
				},
			},
			check: IsValidation,
		},
		{
			name: "missing creator",
			input: EntryInput{
				Lines: []EntryLine{
					{AccountID: cash.ID, Debit: dec("5")},
					{AccountID: social.ID, Credit: dec("5")},
				},
			},
			check: IsValidation,
		},
		{
			name: "unknown account",
			input: EntryInput{
				CreatedBy: "treasurer",
				Lines: []EntryLine{
					{AccountID: "nope", Debit: dec("5")},
					{AccountID: social.ID, Credit: dec("5")},
				},
			},
			check: IsNotFound,
		},
	}
	for _, tc := range cases {
		_, err := engine.Ledger.Post(ctx, tc.input)
		require.Error(t, err, tc.name)
		require.True(t, tc.check(err), "%s: unexpected error %v", tc.name, err)
	}

	require.Equal(t, 0, countRows(t, ctx, engine, "SELECT COUNT(*) FROM journal_entries"))
	require.Equal(t, 0, countRows(t, ctx, engine, "SELECT COUNT(*) FROM journal_lines"))
}

func TestMemberSubaccountDeterministic(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t)
	ctx := testCtx(t)

	first, err := engine.Ledger.MemberSubaccount(ctx, "member-42", repository.FundSavings)
	require.NoError(t, err)
	again, err := engine.Ledger.MemberSubaccount(ctx, "member-42", repository.FundSavings)
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, "SAV-member-42", first.Code)
	require.Equal(t, repository.AccountLiability, first.Type)
	require.NotNil(t, first.MemberID)
	require.Equal(t, "member-42", *first.MemberID)

	other, err := engine.Ledger.MemberSubaccount(ctx, "member-42", repository.FundPenalty)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, other.ID)
	require.Equal(t, "PEN-member-42", other.Code)

	require.Equal(t, 2, countRows(t, ctx, engine, "SELECT COUNT(*) FROM ledger_accounts WHERE member_id = ?", "member-42"))

	b, err := engine.Ledger.MemberBalance(ctx, "member-42", repository.FundSavings)
	require.NoError(t, err)
	require.True(t, b.IsZero())
}

func TestTrialBalanceStaysBalanced(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t)
	ctx := testCtx(t)

	cash := orgAcct(t, ctx, engine, repository.CodeCash)
	savings, err := engine.Ledger.MemberSubaccount(ctx, "member-7", repository.FundSavings)
	require.NoError(t, err)
	income := orgAcct(t, ctx, engine, repository.CodeInterestIncome)

	_, err = engine.Ledger.Post(ctx, EntryInput{
		Description: "Deposit",
		CreatedBy:   "treasurer",
		Lines: []EntryLine{
			{AccountID: cash.ID, Debit: dec("120")},
			{AccountID: savings.ID, Credit: dec("100")},
			{AccountID: income.ID, Credit: dec("20")},
		},
	})
	require.NoError(t, err)

	rows, err := engine.Ledger.TrialBalance(ctx, nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	debits, credits := decimal.Zero, decimal.Zero
	for _, row := range rows {
		debits = debits.Add(row.Debits)
		credits = credits.Add(row.Credits)
		switch row.Account.ID {
		case cash.ID:
			require.True(t, row.Balance.Equal(dec("120")), "cash balance %s", row.Balance)
		case savings.ID:
			require.True(t, row.Balance.Equal(dec("100")), "savings balance %s", row.Balance)
		case income.ID:
			require.True(t, row.Balance.Equal(dec("20")), "income balance %s", row.Balance)
		}
	}
	require.True(t, debits.Equal(credits), "trial balance out of balance: %s vs %s", debits, credits)
}
