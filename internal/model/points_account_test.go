package model

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var testNow = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

func newTestAccount(t *testing.T) *PointsAccount {
	t.Helper()
	account, err := NewPointsAccount(MemberID(uuid.New()), testNow)
	if err != nil {
		t.Fatalf("NewPointsAccount: %v", err)
	}
	return account
}

func rateCalculator(t *testing.T, rate int) PointsCalculator {
	t.Helper()
	r, err := NewConversionRate(rate)
	if err != nil {
		t.Fatalf("NewConversionRate: %v", err)
	}
	return PointsCalculatorFunc(func(tx CalculableTransaction) (PointsAmount, error) {
		points := r.CalculatePoints(tx.Amount())
		if tx.SurveyCompleted() {
			points = points.Add(pointsOf(1))
		}
		return points, nil
	})
}

func tx(amount string, survey bool) CalculableTransaction {
	return VerifiedTransaction{
		TransactionID:   uuid.NewString(),
		InvoiceAmount:   decimal.RequireFromString(amount),
		InvoiceDate:     testNow,
		SurveySubmitted: survey,
	}
}

func TestNewPointsAccount_InitialState(t *testing.T) {
	t.Parallel()

	account := newTestAccount(t)
	if account.Version() != 1 {
		t.Fatalf("expected version 1, got %d", account.Version())
	}
	if !account.EarnedPoints().IsZero() || !account.UsedPoints().IsZero() {
		t.Fatalf("expected empty totals, got earned=%d used=%d", account.EarnedPoints().Value(), account.UsedPoints().Value())
	}
	if !account.IsNew() {
		t.Fatal("fresh account must be new")
	}

	events := account.PendingEvents()
	if len(events) != 1 || events[0].EventName() != EventAccountCreated {
		t.Fatalf("expected AccountCreated, got %+v", events)
	}

	if _, err := NewPointsAccount(MemberID(uuid.Nil), testNow); !errors.Is(err, ErrInvalidIdentifier) {
		t.Fatalf("expected ErrInvalidIdentifier, got %v", err)
	}
}

func TestEarnPoints_AddsAndRecordsEvent(t *testing.T) {
	t.Parallel()

	account := newTestAccount(t)
	if err := account.EarnPoints(mustPoints(t, 4), PointsSourceInvoice, "tx-1", "dinner", testNow); err != nil {
		t.Fatalf("EarnPoints: %v", err)
	}

	if account.EarnedPoints().Value() != 4 || account.Version() != 2 {
		t.Fatalf("unexpected state earned=%d version=%d", account.EarnedPoints().Value(), account.Version())
	}

	events := account.PendingEvents()
	earned, ok := events[len(events)-1].(PointsEarned)
	if !ok {
		t.Fatalf("expected PointsEarned, got %T", events[len(events)-1])
	}
	if earned.Amount != 4 || earned.Source != PointsSourceInvoice || earned.SourceID != "tx-1" {
		t.Fatalf("unexpected event %+v", earned)
	}

	if err := account.EarnPoints(mustPoints(t, 1), PointsSource("lottery"), "x", "", testNow); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown source, got %v", err)
	}
	if account.Version() != 2 {
		t.Fatalf("rejected earn must not bump version, got %d", account.Version())
	}
}

func TestDeductPoints_InsufficientLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	account := newTestAccount(t)
	if err := account.EarnPoints(mustPoints(t, 50), PointsSourceInvoice, "tx-1", "", testNow); err != nil {
		t.Fatalf("EarnPoints: %v", err)
	}
	before := account.Snapshot()
	eventsBefore := len(account.PendingEvents())

	err := account.DeductPoints(mustPoints(t, 100), "redeem beer", testNow)
	if !errors.Is(err, ErrInsufficientPoints) {
		t.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}
	if account.AvailablePoints().Value() != 50 {
		t.Fatalf("expected available 50, got %d", account.AvailablePoints().Value())
	}
	if account.Snapshot() != before {
		t.Fatalf("state changed on failed deduction: %+v -> %+v", before, account.Snapshot())
	}
	if len(account.PendingEvents()) != eventsBefore {
		t.Fatal("failed deduction must not record an event")
	}

	if err := account.DeductPoints(mustPoints(t, 50), "redeem beer", testNow); err != nil {
		t.Fatalf("DeductPoints: %v", err)
	}
	if !account.AvailablePoints().IsZero() {
		t.Fatalf("expected 0 available, got %d", account.AvailablePoints().Value())
	}
}

func TestRecalculatePoints_ScenarioWithSurveyBonus(t *testing.T) {
	t.Parallel()

	account := newTestAccount(t)
	calc := rateCalculator(t, 100)

	if err := account.RecalculatePoints([]CalculableTransaction{tx("350", true)}, calc, testNow); err != nil {
		t.Fatalf("RecalculatePoints: %v", err)
	}
	if account.EarnedPoints().Value() != 4 {
		t.Fatalf("expected 4 points (3 base + 1 survey), got %d", account.EarnedPoints().Value())
	}

	events := account.PendingEvents()
	recalculated, ok := events[len(events)-1].(PointsRecalculated)
	if !ok || recalculated.OldEarned != 0 || recalculated.NewEarned != 4 {
		t.Fatalf("unexpected event %+v", events[len(events)-1])
	}
}

func TestRecalculatePoints_EarnedBelowUsedRejected(t *testing.T) {
	t.Parallel()

	account := newTestAccount(t)
	_ = account.EarnPoints(mustPoints(t, 10), PointsSourceInvoice, "tx-1", "", testNow)
	if err := account.DeductPoints(mustPoints(t, 8), "redeem", testNow); err != nil {
		t.Fatalf("DeductPoints: %v", err)
	}
	before := account.Snapshot()

	err := account.RecalculatePoints([]CalculableTransaction{tx("500", false)}, rateCalculator(t, 100), testNow)
	if !errors.Is(err, ErrEarnedBelowUsed) {
		t.Fatalf("expected ErrEarnedBelowUsed, got %v", err)
	}
	if account.Snapshot() != before {
		t.Fatal("state changed on rejected recalculation")
	}
}

func TestRecalculatePoints_CalculatorErrorLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	account := newTestAccount(t)
	before := account.Snapshot()
	failing := PointsCalculatorFunc(func(CalculableTransaction) (PointsAmount, error) {
		return ZeroPoints, &NoApplicableRuleError{Date: testNow}
	})

	err := account.RecalculatePoints([]CalculableTransaction{tx("100", false)}, failing, testNow)
	if !errors.Is(err, ErrNoApplicableRule) {
		t.Fatalf("expected ErrNoApplicableRule, got %v", err)
	}
	if account.Snapshot() != before {
		t.Fatal("state changed on calculator failure")
	}
}

func TestRecalculatePoints_Idempotent(t *testing.T) {
	t.Parallel()

	account := newTestAccount(t)
	txs := []CalculableTransaction{tx("350", true), tx("1999", false), tx("42", true)}
	calc := rateCalculator(t, 100)

	if err := account.RecalculatePoints(txs, calc, testNow); err != nil {
		t.Fatalf("first recalculation: %v", err)
	}
	first := account.EarnedPoints()
	if err := account.RecalculatePoints(txs, calc, testNow); err != nil {
		t.Fatalf("second recalculation: %v", err)
	}
	if !account.EarnedPoints().Equal(first) {
		t.Fatalf("recalculation not idempotent: %d then %d", first.Value(), account.EarnedPoints().Value())
	}
}

func TestPointsAccount_RandomOperationsKeepInvariant(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	account := newTestAccount(t)
	calc := rateCalculator(t, 10)

	var txs []CalculableTransaction
	for i := 0; i < 500; i++ {
		switch rng.Intn(3) {
		case 0:
			_ = account.EarnPoints(mustPoints(t, int64(rng.Intn(20))), PointsSourceInvoice, "", "", testNow)
		case 1:
			_ = account.DeductPoints(mustPoints(t, int64(rng.Intn(30))), "redeem", testNow)
		case 2:
			txs = append(txs, tx(decimal.NewFromInt(int64(rng.Intn(300))).String(), rng.Intn(2) == 0))
			_ = account.RecalculatePoints(txs, calc, testNow)
		}

		earned := account.EarnedPoints().Value()
		used := account.UsedPoints().Value()
		if used > earned {
			t.Fatalf("step %d: used %d exceeds earned %d", i, used, earned)
		}
		if account.AvailablePoints().Value() != earned-used {
			t.Fatalf("step %d: available mismatch", i)
		}
	}
}

func TestReconstructPointsAccount_RejectsCorruption(t *testing.T) {
	t.Parallel()

	valid := PointsAccountSnapshot{
		ID:           NewAccountID(),
		MemberID:     MemberID(uuid.New()),
		EarnedPoints: 100,
		UsedPoints:   40,
		Version:      3,
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}

	account, err := ReconstructPointsAccount(valid)
	if err != nil {
		t.Fatalf("valid snapshot rejected: %v", err)
	}
	if account.PersistedVersion() != 3 || account.HasChanges() || len(account.PendingEvents()) != 0 {
		t.Fatalf("unexpected rehydrated state %+v", account.Snapshot())
	}

	mutations := map[string]func(s *PointsAccountSnapshot){
		"used above earned": func(s *PointsAccountSnapshot) { s.EarnedPoints, s.UsedPoints, s.Version = 50, 100, 1 },
		"negative earned":   func(s *PointsAccountSnapshot) { s.EarnedPoints = -1; s.UsedPoints = 0 },
		"negative used":     func(s *PointsAccountSnapshot) { s.UsedPoints = -1 },
		"zero version":      func(s *PointsAccountSnapshot) { s.Version = 0 },
		"missing member":    func(s *PointsAccountSnapshot) { s.MemberID = MemberID(uuid.Nil) },
	}
	for name, mutate := range mutations {
		snapshot := valid
		mutate(&snapshot)
		got, err := ReconstructPointsAccount(snapshot)
		if got != nil {
			t.Fatalf("%s: expected no account, got %+v", name, got.Snapshot())
		}
		if !errors.Is(err, ErrCorruptedData) || !errors.Is(err, ErrInvariant) {
			t.Fatalf("%s: expected corruption error, got %v", name, err)
		}
		var corrupted *CorruptedDataError
		if !errors.As(err, &corrupted) || corrupted.Entity != "points_account" {
			t.Fatalf("%s: expected *CorruptedDataError, got %T", name, err)
		}
	}
}

func TestMarkPersisted_ClearsEventsAndMovesPredicate(t *testing.T) {
	t.Parallel()

	account := newTestAccount(t)
	_ = account.EarnPoints(mustPoints(t, 3), PointsSourceSurvey, "tx-9", "", testNow)
	if account.PersistedVersion() != 0 || account.Version() != 2 {
		t.Fatalf("unexpected versions persisted=%d version=%d", account.PersistedVersion(), account.Version())
	}

	account.MarkPersisted()
	if account.PersistedVersion() != 2 || len(account.PendingEvents()) != 0 || account.HasChanges() {
		t.Fatal("MarkPersisted did not settle the account")
	}
}

func TestLedgerEntriesFromEvents(t *testing.T) {
	t.Parallel()

	account := newTestAccount(t)
	_ = account.EarnPoints(mustPoints(t, 10), PointsSourceInvoice, "tx-1", "lunch", testNow)
	_ = account.DeductPoints(mustPoints(t, 4), "coupon", testNow)
	_ = account.RecalculatePoints([]CalculableTransaction{tx("700", false)}, rateCalculator(t, 100), testNow)

	entries := LedgerEntriesFromEvents(account.ID(), account.PendingEvents())
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries (created event has none), got %d", len(entries))
	}
	if entries[0].EntryType != LedgerEntryEarned || entries[0].Delta != 10 || entries[0].SourceID == nil || *entries[0].SourceID != "tx-1" {
		t.Fatalf("unexpected earned entry %+v", entries[0])
	}
	if entries[1].EntryType != LedgerEntryDeducted || entries[1].Delta != -4 || entries[1].UsedAfter != 4 {
		t.Fatalf("unexpected deducted entry %+v", entries[1])
	}
	if entries[2].EntryType != LedgerEntryRecalculated || entries[2].Delta != -3 || entries[2].EarnedAfter != 7 {
		t.Fatalf("unexpected recalculated entry %+v", entries[2])
	}
}
