// Package memory keeps every repository contract in process memory with the
// same version and uniqueness rules as the postgres adapter. Rows are stored
// as snapshots and rehydrated through the model's Reconstruct functions.
package memory

import (
	"sort"
	"sync"

	"bar-crm/internal/model"
	"bar-crm/internal/repository"
)

type sourceKey struct {
	source   model.PointsSource
	sourceID string
}

// Store holds all ledger state behind one lock so an account write and its
// ledger entries land together.
type Store struct {
	mu sync.RWMutex

	accounts      map[model.AccountID]model.PointsAccountSnapshot
	memberIndex   map[model.MemberID]model.AccountID
	ledger        map[model.AccountID][]model.PointsLedgerEntry
	earnedSources map[sourceKey]struct{}
	rules         map[model.RuleID]model.ConversionRuleSnapshot
	transactions  map[string]model.VerifiedTransaction
	auditLogs     []*model.AuditLog
	auditSeq      int64
	locked        bool
}

func New() *Store {
	s := &Store{}
	s.Reset()
	return s
}

// Reset clears all state.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts = make(map[model.AccountID]model.PointsAccountSnapshot)
	s.memberIndex = make(map[model.MemberID]model.AccountID)
	s.ledger = make(map[model.AccountID][]model.PointsLedgerEntry)
	s.earnedSources = make(map[sourceKey]struct{})
	s.rules = make(map[model.RuleID]model.ConversionRuleSnapshot)
	s.transactions = make(map[string]model.VerifiedTransaction)
	s.auditLogs = nil
	s.auditSeq = 0
	s.locked = false
}

func (s *Store) Accounts() repository.PointsAccountRepository { return &accountRepository{store: s} }

func (s *Store) Rules() repository.ConversionRuleRepository { return &ruleRepository{store: s} }

func (s *Store) Ledger() repository.PointsLedgerReader { return &ledgerRepository{store: s} }

func (s *Store) Transactions() *TransactionSource { return &TransactionSource{store: s} }

func (s *Store) Audit() repository.AuditRepository { return &auditRepository{store: s} }

func (s *Store) Locker() repository.RecalculationLocker { return &locker{store: s} }

// PutAccountSnapshot writes a raw row, bypassing every check. Tests use it to
// plant corrupted state.
func (s *Store) PutAccountSnapshot(snapshot model.PointsAccountSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[snapshot.ID] = snapshot
	s.memberIndex[snapshot.MemberID] = snapshot.ID
}

func paginate[T any](items []T, page repository.Pagination) []T {
	limit, offset := normalizePagination(page)
	if int(offset) >= len(items) {
		return []T{}
	}
	end := int(offset) + int(limit)
	if end > len(items) {
		end = len(items)
	}
	out := make([]T, end-int(offset))
	copy(out, items[offset:end])
	return out
}

func normalizePagination(page repository.Pagination) (int32, int32) {
	limit := page.Limit
	offset := page.Offset

	if limit <= 0 {
		limit = 20
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	return limit, offset
}

func sortedAccountSnapshots(in map[model.AccountID]model.PointsAccountSnapshot, keep func(model.PointsAccountSnapshot) bool) []model.PointsAccountSnapshot {
	out := make([]model.PointsAccountSnapshot, 0, len(in))
	for _, snapshot := range in {
		if keep == nil || keep(snapshot) {
			out = append(out, snapshot)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
