package repository

import (
	"context"
	"errors"
	"time"

	"bar-crm/internal/model"
)

var (
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateLedgerSource means an earning entry for the same
	// (source, source id) pair is already stored.
	ErrDuplicateLedgerSource = errors.New("ledger entry for source already recorded")

	// ErrRecalculationLocked is returned by RecalculationLocker.TryLock when
	// another process holds the batch lock.
	ErrRecalculationLocked = errors.New("recalculation lock is held elsewhere")
)

type Pagination struct {
	Limit  int32 `json:"limit"`
	Offset int32 `json:"offset"`
}

type AuditListFilter struct {
	ActorID      *string    `json:"actor_id,omitempty"`
	Action       *string    `json:"action,omitempty"`
	ResourceType *string    `json:"resource_type,omitempty"`
	ResourceID   *string    `json:"resource_id,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Pagination   Pagination `json:"pagination"`
}

type PointsAccountReader interface {
	FindByID(ctx context.Context, id model.AccountID) (*model.PointsAccount, error)
	FindByMemberID(ctx context.Context, memberID model.MemberID) (*model.PointsAccount, error)
	ExistsByMemberID(ctx context.Context, memberID model.MemberID) (bool, error)
}

// PointsAccountWriter persists the account row together with the ledger
// entries derived from its pending events, in one transaction. Writers never
// clear pending events; the caller does that after publishing them.
type PointsAccountWriter interface {
	Create(ctx context.Context, account *model.PointsAccount) error
	UpdateWithOptimisticLock(ctx context.Context, account *model.PointsAccount, expectedPreviousVersion int) error
}

type PointsAccountBatchReader interface {
	FindAll(ctx context.Context, page Pagination) ([]*model.PointsAccount, error)
	// ListIDs pages account ids in creation order without rehydrating rows,
	// so one corrupted row cannot hide the rest of the page from a batch.
	ListIDs(ctx context.Context, page Pagination) ([]model.AccountID, error)
	FindByMemberIDs(ctx context.Context, memberIDs []model.MemberID, page Pagination) ([]*model.PointsAccount, error)
	Count(ctx context.Context) (int64, error)
}

type PointsAccountRepository interface {
	PointsAccountReader
	PointsAccountWriter
	PointsAccountBatchReader
}

type ConversionRuleReader interface {
	FindByID(ctx context.Context, id model.RuleID) (*model.ConversionRule, error)
	// FindActiveRuleAt returns ErrNotFound when no active rule covers date.
	FindActiveRuleAt(ctx context.Context, date time.Time) (*model.ConversionRule, error)
	// FindOverlapping lists active rules sharing at least one day with
	// dateRange, ignoring excludeRuleID when set.
	FindOverlapping(ctx context.Context, dateRange model.DateRange, excludeRuleID *model.RuleID) ([]*model.ConversionRule, error)
}

type ConversionRuleWriter interface {
	Create(ctx context.Context, rule *model.ConversionRule) error
	UpdateWithOptimisticLock(ctx context.Context, rule *model.ConversionRule, expectedPreviousVersion int) error
}

type ConversionRuleBatchReader interface {
	FindAll(ctx context.Context, page Pagination) ([]*model.ConversionRule, error)
	FindAllActive(ctx context.Context) ([]*model.ConversionRule, error)
	Count(ctx context.Context) (int64, error)
}

type ConversionRuleRepository interface {
	ConversionRuleReader
	ConversionRuleWriter
	ConversionRuleBatchReader
}

type PointsLedgerReader interface {
	ListByAccount(ctx context.Context, accountID model.AccountID, page Pagination) ([]model.PointsLedgerEntry, error)
	CountByAccount(ctx context.Context, accountID model.AccountID) (int64, error)
	ExistsBySource(ctx context.Context, source model.PointsSource, sourceID string) (bool, error)
}

// VerifiedTransactionSource reads the invoice context's verified purchases.
type VerifiedTransactionSource interface {
	FindVerifiedByID(ctx context.Context, transactionID string) (*model.VerifiedTransaction, error)
	ListVerifiedByMemberID(ctx context.Context, memberID model.MemberID) ([]model.VerifiedTransaction, error)
}

type AuditRepository interface {
	Create(ctx context.Context, log *model.AuditLog) error
	List(ctx context.Context, filter AuditListFilter) ([]*model.AuditLog, error)
}

// RecalculationLocker guards batch recalculation across processes. TryLock
// does not wait: it returns ErrRecalculationLocked when the lock is taken.
type RecalculationLocker interface {
	TryLock(ctx context.Context) (unlock func(), err error)
}
