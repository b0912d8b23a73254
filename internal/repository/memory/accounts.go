package memory

import (
	"context"
	"fmt"

	"bar-crm/internal/model"
	"bar-crm/internal/repository"
)

type accountRepository struct {
	store *Store
}

var _ repository.PointsAccountRepository = (*accountRepository)(nil)

func (r *accountRepository) FindByID(ctx context.Context, id model.AccountID) (*model.PointsAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	snapshot, ok := r.store.accounts[id]
	r.store.mu.RUnlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return model.ReconstructPointsAccount(snapshot)
}

func (r *accountRepository) FindByMemberID(ctx context.Context, memberID model.MemberID) (*model.PointsAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	id, ok := r.store.memberIndex[memberID]
	snapshot := r.store.accounts[id]
	r.store.mu.RUnlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return model.ReconstructPointsAccount(snapshot)
}

func (r *accountRepository) ExistsByMemberID(ctx context.Context, memberID model.MemberID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	_, ok := r.store.memberIndex[memberID]
	return ok, nil
}

func (r *accountRepository) Create(ctx context.Context, account *model.PointsAccount) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("%w: account is required", model.ErrValidation)
	}
	if !account.IsNew() {
		return fmt.Errorf("%w: account %s is already persisted", model.ErrValidation, account.ID())
	}

	snapshot := account.Snapshot()
	entries := model.LedgerEntriesFromEvents(snapshot.ID, account.PendingEvents())

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.accounts[snapshot.ID]; exists {
		return model.ErrConcurrentModification
	}
	if _, exists := r.store.memberIndex[snapshot.MemberID]; exists {
		return model.ErrConcurrentModification
	}
	if err := r.store.checkEarnedSourcesLocked(entries); err != nil {
		return err
	}

	r.store.accounts[snapshot.ID] = snapshot
	r.store.memberIndex[snapshot.MemberID] = snapshot.ID
	r.store.appendLedgerLocked(snapshot.ID, entries)
	return nil
}

func (r *accountRepository) UpdateWithOptimisticLock(ctx context.Context, account *model.PointsAccount, expectedPreviousVersion int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("%w: account is required", model.ErrValidation)
	}

	snapshot := account.Snapshot()
	entries := model.LedgerEntriesFromEvents(snapshot.ID, account.PendingEvents())

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, ok := r.store.accounts[snapshot.ID]
	if !ok || current.Version != expectedPreviousVersion {
		return model.ErrConcurrentModification
	}
	if snapshot.UsedPoints > snapshot.EarnedPoints || snapshot.EarnedPoints < 0 || snapshot.UsedPoints < 0 {
		return &model.CorruptedDataError{Entity: "points_accounts", ID: snapshot.ID.String(), Reason: "write would break used <= earned"}
	}
	if err := r.store.checkEarnedSourcesLocked(entries); err != nil {
		return err
	}

	snapshot.CreatedAt = current.CreatedAt
	r.store.accounts[snapshot.ID] = snapshot
	r.store.appendLedgerLocked(snapshot.ID, entries)
	return nil
}

func (r *accountRepository) FindAll(ctx context.Context, page repository.Pagination) ([]*model.PointsAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	snapshots := sortedAccountSnapshots(r.store.accounts, nil)
	r.store.mu.RUnlock()

	return reconstructAccounts(paginate(snapshots, page))
}

func (r *accountRepository) ListIDs(ctx context.Context, page repository.Pagination) ([]model.AccountID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	snapshots := sortedAccountSnapshots(r.store.accounts, nil)
	r.store.mu.RUnlock()

	paged := paginate(snapshots, page)
	ids := make([]model.AccountID, 0, len(paged))
	for _, snapshot := range paged {
		ids = append(ids, snapshot.ID)
	}
	return ids, nil
}

func (r *accountRepository) FindByMemberIDs(ctx context.Context, memberIDs []model.MemberID, page repository.Pagination) ([]*model.PointsAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(memberIDs) == 0 {
		return []*model.PointsAccount{}, nil
	}

	wanted := make(map[model.MemberID]struct{}, len(memberIDs))
	for _, id := range memberIDs {
		wanted[id] = struct{}{}
	}

	r.store.mu.RLock()
	snapshots := sortedAccountSnapshots(r.store.accounts, func(s model.PointsAccountSnapshot) bool {
		_, ok := wanted[s.MemberID]
		return ok
	})
	r.store.mu.RUnlock()

	return reconstructAccounts(paginate(snapshots, page))
}

func (r *accountRepository) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return int64(len(r.store.accounts)), nil
}

func reconstructAccounts(snapshots []model.PointsAccountSnapshot) ([]*model.PointsAccount, error) {
	out := make([]*model.PointsAccount, 0, len(snapshots))
	for _, snapshot := range snapshots {
		account, err := model.ReconstructPointsAccount(snapshot)
		if err != nil {
			return nil, err
		}
		out = append(out, account)
	}
	return out, nil
}

func (s *Store) checkEarnedSourcesLocked(entries []model.PointsLedgerEntry) error {
	seen := make(map[sourceKey]struct{}, len(entries))
	for _, entry := range entries {
		key, ok := earnedSourceKey(entry)
		if !ok {
			continue
		}
		if _, exists := s.earnedSources[key]; exists {
			return repository.ErrDuplicateLedgerSource
		}
		if _, exists := seen[key]; exists {
			return repository.ErrDuplicateLedgerSource
		}
		seen[key] = struct{}{}
	}
	return nil
}

func (s *Store) appendLedgerLocked(accountID model.AccountID, entries []model.PointsLedgerEntry) {
	for _, entry := range entries {
		if key, ok := earnedSourceKey(entry); ok {
			s.earnedSources[key] = struct{}{}
		}
	}
	s.ledger[accountID] = append(s.ledger[accountID], entries...)
}

func earnedSourceKey(entry model.PointsLedgerEntry) (sourceKey, bool) {
	if entry.EntryType != model.LedgerEntryEarned || entry.Source == nil || entry.SourceID == nil {
		return sourceKey{}, false
	}
	return sourceKey{source: *entry.Source, sourceID: *entry.SourceID}, true
}
