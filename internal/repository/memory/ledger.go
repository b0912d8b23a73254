package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"bar-crm/internal/model"
	"bar-crm/internal/repository"
)

type ledgerRepository struct {
	store *Store
}

var _ repository.PointsLedgerReader = (*ledgerRepository)(nil)

func (r *ledgerRepository) ListByAccount(ctx context.Context, accountID model.AccountID, page repository.Pagination) ([]model.PointsLedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	entries := make([]model.PointsLedgerEntry, len(r.store.ledger[accountID]))
	copy(entries, r.store.ledger[accountID])
	r.store.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].AccountVersion > entries[j].AccountVersion
	})
	return paginate(entries, page), nil
}

func (r *ledgerRepository) CountByAccount(ctx context.Context, accountID model.AccountID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return int64(len(r.store.ledger[accountID])), nil
}

func (r *ledgerRepository) ExistsBySource(ctx context.Context, source model.PointsSource, sourceID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	_, ok := r.store.earnedSources[sourceKey{source: source, sourceID: strings.TrimSpace(sourceID)}]
	return ok, nil
}

// TransactionSource serves verified transactions. Put stands in for the
// invoice context that owns the data in production.
type TransactionSource struct {
	store *Store
}

var _ repository.VerifiedTransactionSource = (*TransactionSource)(nil)

func (t *TransactionSource) Put(tx model.VerifiedTransaction) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.transactions[tx.TransactionID] = tx
}

func (t *TransactionSource) FindVerifiedByID(ctx context.Context, transactionID string) (*model.VerifiedTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.store.mu.RLock()
	tx, ok := t.store.transactions[strings.TrimSpace(transactionID)]
	t.store.mu.RUnlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &tx, nil
}

func (t *TransactionSource) ListVerifiedByMemberID(ctx context.Context, memberID model.MemberID) ([]model.VerifiedTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.store.mu.RLock()
	out := make([]model.VerifiedTransaction, 0)
	for _, tx := range t.store.transactions {
		if tx.MemberID == memberID {
			out = append(out, tx)
		}
	}
	t.store.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].InvoiceDate.Equal(out[j].InvoiceDate) {
			return out[i].InvoiceDate.Before(out[j].InvoiceDate)
		}
		return out[i].TransactionID < out[j].TransactionID
	})
	return out, nil
}

type auditRepository struct {
	store *Store
}

var _ repository.AuditRepository = (*auditRepository)(nil)

func (r *auditRepository) Create(ctx context.Context, log *model.AuditLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if log == nil {
		return errors.New("audit log is required")
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	r.store.auditSeq++
	log.ID = r.store.auditSeq
	stored := *log
	r.store.auditLogs = append(r.store.auditLogs, &stored)
	return nil
}

func (r *auditRepository) List(ctx context.Context, filter repository.AuditListFilter) ([]*model.AuditLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	matches := make([]*model.AuditLog, 0)
	for i := len(r.store.auditLogs) - 1; i >= 0; i-- {
		item := r.store.auditLogs[i]
		if !auditMatches(item, filter) {
			continue
		}
		copied := *item
		matches = append(matches, &copied)
	}
	r.store.mu.RUnlock()

	return paginate(matches, filter.Pagination), nil
}

func auditMatches(item *model.AuditLog, filter repository.AuditListFilter) bool {
	switch {
	case filter.ActorID != nil && (item.ActorID == nil || *item.ActorID != *filter.ActorID):
		return false
	case filter.Action != nil && item.Action != *filter.Action:
		return false
	case filter.ResourceType != nil && (item.ResourceType == nil || *item.ResourceType != *filter.ResourceType):
		return false
	case filter.ResourceID != nil && (item.ResourceID == nil || *item.ResourceID != *filter.ResourceID):
		return false
	case filter.StartTime != nil && item.CreatedAt.Before(*filter.StartTime):
		return false
	case filter.EndTime != nil && item.CreatedAt.After(*filter.EndTime):
		return false
	}
	return true
}

type locker struct {
	store *Store
}

var _ repository.RecalculationLocker = (*locker)(nil)

func (l *locker) TryLock(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	if l.store.locked {
		return nil, repository.ErrRecalculationLocked
	}
	l.store.locked = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.store.mu.Lock()
			l.store.locked = false
			l.store.mu.Unlock()
		})
	}, nil
}
