package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"bar-crm/internal/model"
	"bar-crm/internal/repository"
)

// seedRateChange builds two members under a rate of 100 and then raises the
// rate to 200. Member heavy has spent 12 of 15 points, so halving its
// earnings to 7 would drop earned below used; member light goes 10 -> 5.
func seedRateChange(t *testing.T) (env *testEnv, heavy, light model.MemberID) {
	t.Helper()

	env = newTestEnv(t)
	rule := env.createRule(t, 100, "2024-01-01", "2024-12-31")
	heavy = newMemberID()
	light = newMemberID()

	env.verify(t, heavy, "1000", day(2024, time.January, 10), false)
	env.verify(t, heavy, "500", day(2024, time.February, 10), false)
	env.verify(t, light, "1000", day(2024, time.March, 10), false)

	if _, err := env.points.DeductPoints(context.Background(), DeductInput{MemberID: heavy.String(), Amount: 12, Reason: "dinner voucher"}); err != nil {
		t.Fatalf("DeductPoints: %v", err)
	}
	if _, err := env.rules.Update(context.Background(), rule.ID, UpdateRuleInput{Rate: 200, StartDate: rule.StartDate, EndDate: rule.EndDate}); err != nil {
		t.Fatalf("Update rule: %v", err)
	}
	return env, heavy, light
}

func TestRecalculateAll_AppliesRateChangeAndIsIdempotent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rule := env.createRule(t, 100, "2024-01-01", "2024-12-31")
	member := newMemberID()
	env.verify(t, member, "1000", day(2024, time.January, 5), true)
	env.verify(t, member, "450", day(2024, time.January, 6), false)

	if got := env.summary(t, member).EarnedPoints; got != 15 {
		t.Fatalf("expected 15 before rate change, got %d", got)
	}
	if _, err := env.rules.Update(context.Background(), rule.ID, UpdateRuleInput{Rate: 50, StartDate: rule.StartDate, EndDate: rule.EndDate}); err != nil {
		t.Fatalf("Update rule: %v", err)
	}

	report, err := env.recalc.RecalculateAll(context.Background(), RecalculationOptions{})
	if err != nil {
		t.Fatalf("RecalculateAll: %v", err)
	}
	if report.Total != 1 || report.Updated != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	summary := env.summary(t, member)
	if summary.EarnedPoints != 30 {
		t.Fatalf("expected 20+1+9=30 after recalculation, got %d", summary.EarnedPoints)
	}
	version := summary.Version

	again, err := env.recalc.RecalculateAll(context.Background(), RecalculationOptions{})
	if err != nil {
		t.Fatalf("second RecalculateAll: %v", err)
	}
	if again.Updated != 0 || again.Unchanged != 1 {
		t.Fatalf("expected an unchanged second run, got %+v", again)
	}
	if got := env.summary(t, member).Version; got != version {
		t.Fatalf("expected no write on unchanged run, version %d -> %d", version, got)
	}
}

func TestRecalculateAll_BlockedWritesNothing(t *testing.T) {
	t.Parallel()

	env, heavy, light := seedRateChange(t)

	report, err := env.recalc.RecalculateAll(context.Background(), RecalculationOptions{PageSize: 1})
	if !errors.Is(err, ErrRecalculationBlocked) {
		t.Fatalf("expected ErrRecalculationBlocked, got %v", err)
	}
	if len(report.Blocked) != 1 || report.Updated != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	heavySummary := env.summary(t, heavy)
	if report.Blocked[0] != heavySummary.AccountID {
		t.Fatalf("expected heavy account to be blocked, got %v", report.Blocked)
	}
	if heavySummary.EarnedPoints != 15 || heavySummary.UsedPoints != 12 {
		t.Fatalf("heavy account changed: %+v", heavySummary)
	}
	if got := env.summary(t, light).EarnedPoints; got != 10 {
		t.Fatalf("light account must not be written when blocked, got %d", got)
	}
	if !env.alerts.has(AlertRecalculationBlocked) {
		t.Fatalf("expected blocked alert, got %v", env.alerts.kinds())
	}
}

func TestRecalculateAll_ForceReconcilesTheRest(t *testing.T) {
	t.Parallel()

	env, heavy, light := seedRateChange(t)

	report, err := env.recalc.RecalculateAll(context.Background(), RecalculationOptions{Force: true})
	if err != nil {
		t.Fatalf("forced RecalculateAll: %v", err)
	}
	if report.Updated != 1 || report.NeedsReconciliation != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	heavySummary := env.summary(t, heavy)
	if heavySummary.EarnedPoints != 15 || heavySummary.AvailablePoints != 3 {
		t.Fatalf("heavy account must be left untouched: %+v", heavySummary)
	}
	if got := env.summary(t, light).EarnedPoints; got != 5 {
		t.Fatalf("expected light account at 5, got %d", got)
	}
	if !env.alerts.has(AlertRecalculationReconciliation) {
		t.Fatalf("expected reconciliation alert, got %v", env.alerts.kinds())
	}
}

func TestRecalculateAll_InProgress(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	unlock, err := env.store.Locker().TryLock(context.Background())
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}

	if _, err := env.recalc.RecalculateAll(context.Background(), RecalculationOptions{}); !errors.Is(err, ErrRecalculationInProgress) {
		t.Fatalf("expected ErrRecalculationInProgress, got %v", err)
	}

	unlock()
	if _, err := env.recalc.RecalculateAll(context.Background(), RecalculationOptions{}); err != nil {
		t.Fatalf("RecalculateAll after unlock: %v", err)
	}
}

// cancellingAccounts cancels the run right after the first committed account.
type cancellingAccounts struct {
	repository.PointsAccountRepository
	cancel context.CancelFunc
}

func (c *cancellingAccounts) UpdateWithOptimisticLock(ctx context.Context, account *model.PointsAccount, expectedPreviousVersion int) error {
	err := c.PointsAccountRepository.UpdateWithOptimisticLock(ctx, account, expectedPreviousVersion)
	c.cancel()
	return err
}

func TestRecalculateAll_CancelledBetweenAccounts(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rule := env.createRule(t, 100, "2024-01-01", "2024-12-31")
	members := []model.MemberID{newMemberID(), newMemberID(), newMemberID()}
	for _, member := range members {
		env.verify(t, member, "1000", day(2024, time.April, 1), false)
	}
	if _, err := env.rules.Update(context.Background(), rule.ID, UpdateRuleInput{Rate: 50, StartDate: rule.StartDate, EndDate: rule.EndDate}); err != nil {
		t.Fatalf("Update rule: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	accounts := &cancellingAccounts{PointsAccountRepository: env.store.Accounts(), cancel: cancel}
	svc := NewPointsRecalculationService(accounts, env.store.Rules(), env.store.Transactions(), env.store.Locker(), env.calc, env.bus, env.alerts, nil)

	report, err := svc.RecalculateAll(ctx, RecalculationOptions{Force: true})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !report.Cancelled || report.Total != 1 || report.Updated != 1 {
		t.Fatalf("expected exactly one committed account, got %+v", report)
	}

	updated := 0
	for _, member := range members {
		if env.summary(t, member).EarnedPoints == 20 {
			updated++
		}
	}
	if updated != 1 {
		t.Fatalf("expected one account at the new rate, got %d", updated)
	}

	if _, err := env.recalc.RecalculateAll(context.Background(), RecalculationOptions{Force: true}); err != nil {
		t.Fatalf("lock must be released after cancellation: %v", err)
	}
}

func TestRecalculateAll_CountsUnratedTransactionsAsSkipped(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rule := env.createRule(t, 100, "2024-01-01", "2024-12-31")
	member := newMemberID()
	env.verify(t, member, "1000", day(2024, time.March, 1), false)
	env.verify(t, member, "1000", day(2024, time.September, 1), false)

	if _, err := env.rules.Update(context.Background(), rule.ID, UpdateRuleInput{Rate: 100, StartDate: "2024-01-01", EndDate: "2024-06-30"}); err != nil {
		t.Fatalf("Update rule: %v", err)
	}

	report, err := env.recalc.RecalculateAll(context.Background(), RecalculationOptions{Force: true})
	if err != nil {
		t.Fatalf("RecalculateAll: %v", err)
	}
	if report.SkippedTransactions != 1 {
		t.Fatalf("expected one skipped transaction, got %+v", report)
	}
	if got := env.summary(t, member).EarnedPoints; got != 10 {
		t.Fatalf("expected earned 10, got %d", got)
	}
}

func TestRecalculateAccount(t *testing.T) {
	t.Parallel()

	env, heavy, light := seedRateChange(t)

	lightID := env.summary(t, light).AccountID
	result, err := env.recalc.RecalculateAccount(context.Background(), lightID)
	if err != nil {
		t.Fatalf("RecalculateAccount: %v", err)
	}
	if result.Outcome != RecalculationUpdated || result.OldEarned != 10 || result.NewEarned != 5 {
		t.Fatalf("unexpected result: %+v", result)
	}

	heavyID := env.summary(t, heavy).AccountID
	result, err = env.recalc.RecalculateAccount(context.Background(), heavyID)
	if !errors.Is(err, model.ErrEarnedBelowUsed) {
		t.Fatalf("expected ErrEarnedBelowUsed, got %v", err)
	}
	if result == nil || result.Outcome != RecalculationNeedsReconciliation {
		t.Fatalf("unexpected result: %+v", result)
	}

	if _, err := env.recalc.RecalculateAccount(context.Background(), model.NewAccountID().String()); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

// plantCorruptedAccount stores a row with used above earned, created before
// every account the test env makes.
func plantCorruptedAccount(env *testEnv) model.AccountID {
	id := model.NewAccountID()
	env.store.PutAccountSnapshot(model.PointsAccountSnapshot{
		ID:           id,
		MemberID:     newMemberID(),
		EarnedPoints: 50,
		UsedPoints:   100,
		Version:      1,
		CreatedAt:    testNow.Add(-time.Hour),
		UpdatedAt:    testNow.Add(-time.Hour),
	})
	return id
}

func TestRecalculateAll_CorruptedAccountDoesNotStopTheBatch(t *testing.T) {
	t.Parallel()

	for _, force := range []bool{false, true} {
		force := force
		name := "preflight"
		if force {
			name = "force"
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t)
			corrupted := plantCorruptedAccount(env)
			rule := env.createRule(t, 100, "2024-01-01", "2024-12-31")
			member := newMemberID()
			env.verify(t, member, "1000", day(2024, time.May, 2), false)
			if _, err := env.rules.Update(context.Background(), rule.ID, UpdateRuleInput{Rate: 50, StartDate: rule.StartDate, EndDate: rule.EndDate}); err != nil {
				t.Fatalf("Update rule: %v", err)
			}

			report, err := env.recalc.RecalculateAll(context.Background(), RecalculationOptions{Force: force, PageSize: 1})
			if !errors.Is(err, ErrRecalculationPartiallyFailed) {
				t.Fatalf("expected ErrRecalculationPartiallyFailed, got %v", err)
			}
			if report.Total != 2 || report.Updated != 1 || report.Failed != 1 {
				t.Fatalf("unexpected report: %+v", report)
			}
			if report.Accounts[0].AccountID != corrupted.String() || report.Accounts[0].Outcome != RecalculationFailed {
				t.Fatalf("expected the corrupted account to be reported as failed, got %+v", report.Accounts)
			}
			if !force && (report.UnreadableCount != 1 || report.Unreadable[0] != corrupted.String()) {
				t.Fatalf("expected preflight to list the corrupted account, got %+v", report)
			}
			if got := env.summary(t, member).EarnedPoints; got != 20 {
				t.Fatalf("expected readable account at 20, got %d", got)
			}

			corruptionAlerts := 0
			for _, kind := range env.alerts.kinds() {
				if kind == AlertCorruptedData {
					corruptionAlerts++
				}
			}
			if corruptionAlerts != 1 {
				t.Fatalf("expected one corruption alert, got %v", env.alerts.kinds())
			}
			if !env.alerts.has(AlertRecalculationFailed) {
				t.Fatalf("expected recalculation failed alert, got %v", env.alerts.kinds())
			}
		})
	}
}

// failingTransactions refuses to list one member's transactions.
type failingTransactions struct {
	repository.VerifiedTransactionSource
	member model.MemberID
}

func (f *failingTransactions) ListVerifiedByMemberID(ctx context.Context, memberID model.MemberID) ([]model.VerifiedTransaction, error) {
	if memberID == f.member {
		return nil, errors.New("invoice replica unavailable")
	}
	return f.VerifiedTransactionSource.ListVerifiedByMemberID(ctx, memberID)
}

func TestRecalculateAll_PartialFailureCommitsTheRest(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rule := env.createRule(t, 100, "2024-01-01", "2024-12-31")
	members := []model.MemberID{newMemberID(), newMemberID(), newMemberID()}
	for _, member := range members {
		env.verify(t, member, "1000", day(2024, time.June, 3), false)
	}
	if _, err := env.rules.Update(context.Background(), rule.ID, UpdateRuleInput{Rate: 50, StartDate: rule.StartDate, EndDate: rule.EndDate}); err != nil {
		t.Fatalf("Update rule: %v", err)
	}

	broken := members[1]
	transactions := &failingTransactions{VerifiedTransactionSource: env.store.Transactions(), member: broken}
	svc := NewPointsRecalculationService(env.store.Accounts(), env.store.Rules(), transactions, env.store.Locker(), env.calc, env.bus, env.alerts, nil)

	report, err := svc.RecalculateAll(context.Background(), RecalculationOptions{})
	if !errors.Is(err, ErrRecalculationPartiallyFailed) {
		t.Fatalf("expected ErrRecalculationPartiallyFailed, got %v", err)
	}
	if report.Total != 3 || report.Updated != 2 || report.Failed != 1 || report.UnreadableCount != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	for _, member := range members {
		want := int64(20)
		if member == broken {
			want = 10
		}
		if got := env.summary(t, member).EarnedPoints; got != want {
			t.Fatalf("member %s: expected earned %d, got %d", member, want, got)
		}
	}

	vars, ok := env.alerts.last(AlertRecalculationFailed)
	if !ok {
		t.Fatalf("expected recalculation failed alert, got %v", env.alerts.kinds())
	}
	if vars["failed"] != "1" || vars["total"] != "3" || vars["updated"] != "2" {
		t.Fatalf("unexpected alert vars: %v", vars)
	}
	if env.alerts.has(AlertCorruptedData) {
		t.Fatalf("a transaction source error is not corruption: %v", env.alerts.kinds())
	}
}

func TestRecalculateAll_ReportKeepsCountersExactWhenTruncated(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rule := env.createRule(t, 100, "2024-01-01", "2024-12-31")
	const accounts = maxReportedAccounts + 5
	for i := 0; i < accounts; i++ {
		env.verify(t, newMemberID(), "1000", day(2024, time.February, 1), false)
	}
	// Created last so it arrives once the report is already full.
	corrupted := model.NewAccountID()
	env.store.PutAccountSnapshot(model.PointsAccountSnapshot{
		ID:           corrupted,
		MemberID:     newMemberID(),
		EarnedPoints: 50,
		UsedPoints:   100,
		Version:      1,
		CreatedAt:    testNow.Add(time.Hour),
		UpdatedAt:    testNow.Add(time.Hour),
	})
	if _, err := env.rules.Update(context.Background(), rule.ID, UpdateRuleInput{Rate: 50, StartDate: rule.StartDate, EndDate: rule.EndDate}); err != nil {
		t.Fatalf("Update rule: %v", err)
	}

	report, err := env.recalc.RecalculateAll(context.Background(), RecalculationOptions{Force: true, PageSize: 7})
	if !errors.Is(err, ErrRecalculationPartiallyFailed) {
		t.Fatalf("expected ErrRecalculationPartiallyFailed, got %v", err)
	}
	if report.Total != accounts+1 || report.Updated != accounts || report.Failed != 1 {
		t.Fatalf("counters must stay exact: %+v", report)
	}
	if len(report.Accounts) != maxReportedAccounts || !report.Truncated {
		t.Fatalf("expected %d kept results and truncated, got %d truncated=%v", maxReportedAccounts, len(report.Accounts), report.Truncated)
	}

	var keptFailure bool
	for _, result := range report.Accounts {
		if result.AccountID == corrupted.String() && result.Outcome == RecalculationFailed {
			keptFailure = true
		}
	}
	if !keptFailure {
		t.Fatal("a failure must displace an updated result once the report is full")
	}
}

func TestSummarizeIDs(t *testing.T) {
	t.Parallel()

	ids := make([]string, 0, maxReportedAccounts)
	for i := 0; i < maxReportedAccounts; i++ {
		ids = append(ids, model.NewAccountID().String())
	}

	if got := summarizeIDs(ids[:2], 2); got != ids[0]+", "+ids[1] {
		t.Fatalf("unexpected summary: %q", got)
	}
	if got := summarizeIDs(ids, 45); !strings.HasSuffix(got, " and 25 more") {
		t.Fatalf("expected the remainder counted from the total, got %q", got)
	}
}
