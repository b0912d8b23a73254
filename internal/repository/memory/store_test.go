package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bar-crm/internal/model"
	"bar-crm/internal/repository"
)

var testNow = time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

func points(t *testing.T, v int64) model.PointsAmount {
	t.Helper()
	p, err := model.NewPointsAmount(v)
	if err != nil {
		t.Fatalf("NewPointsAmount: %v", err)
	}
	return p
}

func seedAccount(t *testing.T, repo repository.PointsAccountRepository, earned int64) *model.PointsAccount {
	t.Helper()

	account, err := model.NewPointsAccount(model.MemberID(uuid.New()), testNow)
	if err != nil {
		t.Fatalf("NewPointsAccount: %v", err)
	}
	if err := account.EarnPoints(points(t, earned), model.PointsSourceInvoice, uuid.NewString(), "", testNow); err != nil {
		t.Fatalf("EarnPoints: %v", err)
	}
	if err := repo.Create(context.Background(), account); err != nil {
		t.Fatalf("Create: %v", err)
	}
	account.MarkPersisted()
	return account
}

func TestAccounts_StaleVersionLeavesRowUnchanged(t *testing.T) {
	t.Parallel()

	store := New()
	repo := store.Accounts()
	ctx := context.Background()
	seeded := seedAccount(t, repo, 50)

	first, _ := repo.FindByID(ctx, seeded.ID())
	second, _ := repo.FindByID(ctx, seeded.ID())

	_ = first.DeductPoints(points(t, 20), "first", testNow)
	if err := repo.UpdateWithOptimisticLock(ctx, first, first.PersistedVersion()); err != nil {
		t.Fatalf("first update: %v", err)
	}

	_ = second.DeductPoints(points(t, 40), "second", testNow)
	if err := repo.UpdateWithOptimisticLock(ctx, second, second.PersistedVersion()); !errors.Is(err, model.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}

	got, err := repo.FindByID(ctx, seeded.ID())
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.UsedPoints().Value() != 20 {
		t.Fatalf("expected used=20, got %d", got.UsedPoints().Value())
	}
	if count, _ := store.Ledger().CountByAccount(ctx, seeded.ID()); count != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", count)
	}
}

func TestAccounts_ConcurrentWritersKeepInvariant(t *testing.T) {
	t.Parallel()

	store := New()
	repo := store.Accounts()
	ctx := context.Background()
	seeded := seedAccount(t, repo, 10)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			account, err := repo.FindByID(ctx, seeded.ID())
			if err != nil {
				return
			}
			one, _ := model.NewPointsAmount(1)
			if account.DeductPoints(one, "race", testNow) != nil {
				return
			}
			_ = repo.UpdateWithOptimisticLock(ctx, account, account.PersistedVersion())
		}()
	}
	wg.Wait()

	got, err := repo.FindByID(ctx, seeded.ID())
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.UsedPoints().Value() > got.EarnedPoints().Value() {
		t.Fatalf("used %d exceeds earned %d", got.UsedPoints().Value(), got.EarnedPoints().Value())
	}
	entries, _ := store.Ledger().CountByAccount(ctx, seeded.ID())
	if entries != got.UsedPoints().Value()+1 {
		t.Fatalf("expected one ledger entry per committed deduction, got %d entries for used=%d", entries, got.UsedPoints().Value())
	}
}

func TestAccounts_DuplicateMemberAndSource(t *testing.T) {
	t.Parallel()

	store := New()
	repo := store.Accounts()
	ctx := context.Background()
	seeded := seedAccount(t, repo, 1)

	dup, _ := model.NewPointsAccount(seeded.MemberID(), testNow)
	if err := repo.Create(ctx, dup); !errors.Is(err, model.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification for duplicate member, got %v", err)
	}

	_ = seeded.EarnPoints(points(t, 3), model.PointsSourceSurvey, "INV-9", "", testNow)
	if err := repo.UpdateWithOptimisticLock(ctx, seeded, seeded.PersistedVersion()); err != nil {
		t.Fatalf("earn: %v", err)
	}
	seeded.MarkPersisted()

	_ = seeded.EarnPoints(points(t, 3), model.PointsSourceSurvey, "INV-9", "", testNow)
	if err := repo.UpdateWithOptimisticLock(ctx, seeded, seeded.PersistedVersion()); !errors.Is(err, repository.ErrDuplicateLedgerSource) {
		t.Fatalf("expected ErrDuplicateLedgerSource, got %v", err)
	}
	if ok, _ := store.Ledger().ExistsBySource(ctx, model.PointsSourceSurvey, "INV-9"); !ok {
		t.Fatal("expected earned source to be indexed")
	}
}

func TestAccounts_CorruptedSnapshotRefused(t *testing.T) {
	t.Parallel()

	store := New()
	id := model.NewAccountID()
	store.PutAccountSnapshot(model.PointsAccountSnapshot{
		ID:           id,
		MemberID:     model.MemberID(uuid.New()),
		EarnedPoints: 50,
		UsedPoints:   100,
		Version:      1,
	})

	account, err := store.Accounts().FindByID(context.Background(), id)
	if account != nil || !errors.Is(err, model.ErrCorruptedData) {
		t.Fatalf("expected corruption error and nil account, got %v, %v", account, err)
	}
}

func TestAccounts_PaginationIsStable(t *testing.T) {
	t.Parallel()

	store := New()
	repo := store.Accounts()
	for i := 0; i < 5; i++ {
		seedAccount(t, repo, int64(i+1))
	}

	seen := map[model.AccountID]bool{}
	for offset := int32(0); offset < 6; offset += 2 {
		page, err := repo.FindAll(context.Background(), repository.Pagination{Limit: 2, Offset: offset})
		if err != nil {
			t.Fatalf("FindAll: %v", err)
		}
		for _, account := range page {
			if seen[account.ID()] {
				t.Fatalf("account %s returned twice", account.ID())
			}
			seen[account.ID()] = true
		}
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 distinct accounts, got %d", len(seen))
	}
}

func TestAccounts_ListIDsIncludesCorruptedRows(t *testing.T) {
	t.Parallel()

	store := New()
	repo := store.Accounts()
	good := seedAccount(t, repo, 5)
	corrupted := model.NewAccountID()
	store.PutAccountSnapshot(model.PointsAccountSnapshot{
		ID:           corrupted,
		MemberID:     model.MemberID(uuid.New()),
		EarnedPoints: 50,
		UsedPoints:   100,
		Version:      1,
		CreatedAt:    good.CreatedAt().Add(-time.Minute),
	})

	if _, err := repo.FindAll(context.Background(), repository.Pagination{Limit: 10}); !errors.Is(err, model.ErrCorruptedData) {
		t.Fatalf("expected FindAll to refuse the page, got %v", err)
	}

	ids, err := repo.ListIDs(context.Background(), repository.Pagination{Limit: 10})
	if err != nil {
		t.Fatalf("ListIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != corrupted || ids[1] != good.ID() {
		t.Fatalf("expected [%s %s] in creation order, got %v", corrupted, good.ID(), ids)
	}

	ids, err = repo.ListIDs(context.Background(), repository.Pagination{Limit: 1, Offset: 1})
	if err != nil || len(ids) != 1 || ids[0] != good.ID() {
		t.Fatalf("expected second page to hold %s, got %v, %v", good.ID(), ids, err)
	}
}

func TestRules_OverlapAndActiveLookup(t *testing.T) {
	t.Parallel()

	store := New()
	repo := store.Rules()
	ctx := context.Background()

	rate, _ := model.NewConversionRate(100)
	h1, _ := model.ParseDateRange("2024-01-01", "2024-06-30")
	h2, _ := model.ParseDateRange("2024-06-01", "2024-12-31")

	a, _ := model.NewConversionRule(rate, h1, "A", testNow)
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("create A: %v", err)
	}
	b, _ := model.NewConversionRule(rate, h2, "B", testNow)
	if err := repo.Create(ctx, b); !errors.Is(err, model.ErrRuleDateRangeOverlap) {
		t.Fatalf("expected overlap error, got %v", err)
	}

	found, err := repo.FindActiveRuleAt(ctx, time.Date(2024, 6, 30, 22, 0, 0, 0, time.UTC))
	if err != nil || found.ID() != a.ID() {
		t.Fatalf("expected rule A, got %v err=%v", found, err)
	}

	a.MarkPersisted()
	_ = a.Deactivate(testNow)
	if err := repo.UpdateWithOptimisticLock(ctx, a, a.PersistedVersion()); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := repo.FindActiveRuleAt(ctx, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after deactivation, got %v", err)
	}
	if err := repo.Create(ctx, b); err != nil {
		t.Fatalf("B should fit once A is inactive: %v", err)
	}
}

func TestTransactionSource_ListsByMember(t *testing.T) {
	t.Parallel()

	store := New()
	source := store.Transactions()
	member := model.MemberID(uuid.New())
	other := model.MemberID(uuid.New())

	source.Put(model.VerifiedTransaction{TransactionID: "b", MemberID: member, InvoiceAmount: decimal.NewFromInt(200), InvoiceDate: testNow})
	source.Put(model.VerifiedTransaction{TransactionID: "a", MemberID: member, InvoiceAmount: decimal.NewFromInt(100), InvoiceDate: testNow.AddDate(0, 0, -1)})
	source.Put(model.VerifiedTransaction{TransactionID: "c", MemberID: other, InvoiceAmount: decimal.NewFromInt(300), InvoiceDate: testNow})

	txs, err := source.ListVerifiedByMemberID(context.Background(), member)
	if err != nil {
		t.Fatalf("ListVerifiedByMemberID: %v", err)
	}
	if len(txs) != 2 || txs[0].TransactionID != "a" || txs[1].TransactionID != "b" {
		t.Fatalf("unexpected transactions %+v", txs)
	}
}

func TestLocker_SingleFlight(t *testing.T) {
	t.Parallel()

	locker := New().Locker()
	unlock, err := locker.TryLock(context.Background())
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if _, err := locker.TryLock(context.Background()); !errors.Is(err, repository.ErrRecalculationLocked) {
		t.Fatalf("expected ErrRecalculationLocked, got %v", err)
	}
	unlock()
	unlock()
	if _, err := locker.TryLock(context.Background()); err != nil {
		t.Fatalf("TryLock after unlock: %v", err)
	}
}
