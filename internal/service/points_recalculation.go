package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"bar-crm/internal/event"
	"bar-crm/internal/metrics"
	"bar-crm/internal/model"
	"bar-crm/internal/repository"
)

const (
	defaultRecalculationPageSize = 100
	maxRecalculationPageSize     = 500
	maxReportedAccounts          = 20
)

type RecalculationOutcome string

const (
	RecalculationUpdated             RecalculationOutcome = "updated"
	RecalculationUnchanged           RecalculationOutcome = "unchanged"
	RecalculationNeedsReconciliation RecalculationOutcome = "needs_reconciliation"
	RecalculationFailed              RecalculationOutcome = "failed"
)

type RecalculationOptions struct {
	Force    bool `json:"force"`
	PageSize int  `json:"page_size"`
}

type AccountRecalculationResult struct {
	AccountID           string               `json:"account_id"`
	MemberID            string               `json:"member_id"`
	Outcome             RecalculationOutcome `json:"outcome"`
	OldEarned           int64                `json:"old_earned"`
	NewEarned           int64                `json:"new_earned"`
	Used                int64                `json:"used"`
	SkippedTransactions int                  `json:"skipped_transactions"`
	Error               string               `json:"error,omitempty"`
}

// RecalculationReport summarizes one batch. The counters are exact; Accounts,
// Blocked and Unreadable keep at most maxReportedAccounts ids each, and
// Truncated is set once Accounts dropped a result.
type RecalculationReport struct {
	StartedAt           time.Time                    `json:"started_at"`
	FinishedAt          time.Time                    `json:"finished_at"`
	Force               bool                         `json:"force"`
	ActiveRules         int                          `json:"active_rules"`
	Total               int                          `json:"total"`
	Updated             int                          `json:"updated"`
	Unchanged           int                          `json:"unchanged"`
	NeedsReconciliation int                          `json:"needs_reconciliation"`
	Failed              int                          `json:"failed"`
	SkippedTransactions int                          `json:"skipped_transactions"`
	Blocked             []string                     `json:"blocked,omitempty"`
	BlockedCount        int                          `json:"blocked_count"`
	Unreadable          []string                     `json:"unreadable,omitempty"`
	UnreadableCount     int                          `json:"unreadable_count"`
	Cancelled           bool                         `json:"cancelled"`
	Truncated           bool                         `json:"truncated"`
	Accounts            []AccountRecalculationResult `json:"accounts"`
}

func (r *RecalculationReport) add(result AccountRecalculationResult) {
	r.Total++
	r.SkippedTransactions += result.SkippedTransactions
	switch result.Outcome {
	case RecalculationUpdated:
		r.Updated++
	case RecalculationUnchanged:
		r.Unchanged++
		return
	case RecalculationNeedsReconciliation:
		r.NeedsReconciliation++
	case RecalculationFailed:
		r.Failed++
	}
	r.keep(result)
}

// keep bounds Accounts. Once full, failed and needs_reconciliation results
// displace updated ones so the actionable accounts stay visible.
func (r *RecalculationReport) keep(result AccountRecalculationResult) {
	if len(r.Accounts) < maxReportedAccounts {
		r.Accounts = append(r.Accounts, result)
		return
	}
	r.Truncated = true
	if result.Outcome == RecalculationUpdated {
		return
	}
	for i := len(r.Accounts) - 1; i >= 0; i-- {
		if r.Accounts[i].Outcome == RecalculationUpdated {
			r.Accounts[i] = result
			return
		}
	}
}

func (r *RecalculationReport) addBlocked(id model.AccountID) {
	r.BlockedCount++
	if len(r.Blocked) < maxReportedAccounts {
		r.Blocked = append(r.Blocked, id.String())
	}
}

func (r *RecalculationReport) addUnreadable(id model.AccountID) {
	r.UnreadableCount++
	if len(r.Unreadable) < maxReportedAccounts {
		r.Unreadable = append(r.Unreadable, id.String())
	}
}

func (r *RecalculationReport) idsWith(outcome RecalculationOutcome) []string {
	ids := make([]string, 0)
	for _, result := range r.Accounts {
		if result.Outcome == outcome {
			ids = append(ids, result.AccountID)
		}
	}
	return ids
}

func (r *RecalculationReport) firstError() string {
	for _, result := range r.Accounts {
		if result.Error != "" {
			return result.Error
		}
	}
	return ""
}

// PointsRecalculationService recomputes earned points from the verified
// transaction set under the current rule schedule.
type PointsRecalculationService struct {
	accounts     repository.PointsAccountRepository
	rules        repository.ConversionRuleBatchReader
	transactions repository.VerifiedTransactionSource
	locker       repository.RecalculationLocker
	calculator   *PointsCalculationService
	eventBus     *event.Bus
	alerts       Alerter
	logger       *zap.Logger
	now          func() time.Time
}

func NewPointsRecalculationService(
	accounts repository.PointsAccountRepository,
	rules repository.ConversionRuleBatchReader,
	transactions repository.VerifiedTransactionSource,
	locker repository.RecalculationLocker,
	calculator *PointsCalculationService,
	eventBus *event.Bus,
	alerts Alerter,
	logger *zap.Logger,
) *PointsRecalculationService {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PointsRecalculationService{
		accounts:     accounts,
		rules:        rules,
		transactions: transactions,
		locker:       locker,
		calculator:   calculator,
		eventBus:     eventBus,
		alerts:       alerts,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// RecalculateAccount recomputes a single account. It does not take the batch
// lock; the version predicate orders it against a running batch.
func (s *PointsRecalculationService) RecalculateAccount(ctx context.Context, accountID string) (*AccountRecalculationResult, error) {
	id, err := model.ParseAccountID(accountID)
	if err != nil {
		return nil, err
	}
	account, err := s.accounts.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		s.reportCorruption(ctx, err)
		return nil, fmt.Errorf("load account %s: %w", id, err)
	}

	calc, _, err := s.snapshotCalculator(ctx)
	if err != nil {
		return nil, err
	}

	result, err := s.recalculate(ctx, account, calc)
	if err != nil {
		return &result, err
	}
	return &result, nil
}

// RecalculateAll walks every account page by page. Without Force a read-only
// preflight runs first and any account that would end with earned below used
// blocks the whole batch before anything is written. With Force those
// accounts are left untouched and reported as needing reconciliation.
func (s *PointsRecalculationService) RecalculateAll(ctx context.Context, opts RecalculationOptions) (*RecalculationReport, error) {
	unlock, err := s.locker.TryLock(ctx)
	if errors.Is(err, repository.ErrRecalculationLocked) {
		metrics.IncRecalculationRun("in_progress")
		return nil, ErrRecalculationInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("acquire recalculation lock: %w", err)
	}
	defer unlock()

	started := time.Now()
	report := &RecalculationReport{StartedAt: s.now(), Force: opts.Force, Accounts: make([]AccountRecalculationResult, 0)}
	defer func() {
		report.FinishedAt = s.now()
		metrics.ObserveRecalculationDuration(time.Since(started))
	}()

	calc, activeRules, err := s.snapshotCalculator(ctx)
	if err != nil {
		metrics.IncRecalculationRun("error")
		return report, err
	}
	report.ActiveRules = activeRules

	limit := int32(normalizeRecalculationPageSize(opts.PageSize))
	logger := s.logger.With(zap.Bool("force", opts.Force), zap.String("actor", ActorFromContext(ctx)))
	logger.Info("points recalculation started", zap.Int("active_rules", activeRules), zap.Int32("page_size", limit))

	alerted := make(map[model.AccountID]struct{})
	if !opts.Force {
		if err := s.preflight(ctx, calc, limit, report, alerted); err != nil {
			report.Cancelled = isCancellation(err)
			metrics.IncRecalculationRun(runResultFor(err))
			return report, err
		}
		if report.BlockedCount > 0 {
			metrics.IncRecalculationRun("blocked")
			logger.Warn("points recalculation blocked",
				zap.Int("accounts", report.BlockedCount),
				zap.Int("unreadable", report.UnreadableCount),
			)
			notifyQuietly(ctx, s.alerts, s.logger, AlertRecalculationBlocked, map[string]string{
				"count":    strconv.Itoa(report.BlockedCount),
				"accounts": summarizeIDs(report.Blocked, report.BlockedCount),
			})
			return report, fmt.Errorf("%w: %d account(s)", ErrRecalculationBlocked, report.BlockedCount)
		}
	}

	err = s.eachAccount(ctx, limit, func(id model.AccountID) error {
		account, err := s.accounts.FindByID(ctx, id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if _, done := alerted[id]; !done {
				s.reportCorruption(ctx, err)
			}
			report.add(s.loadFailure(id, err))
			return nil
		}
		result, _ := s.recalculate(ctx, account, calc)
		report.add(result)
		return nil
	})
	s.recordReportMetrics(report)

	if err != nil {
		report.Cancelled = isCancellation(err)
		metrics.IncRecalculationRun(runResultFor(err))
		logger.Warn("points recalculation stopped early", zap.Int("processed", report.Total), zap.Error(err))
		return report, err
	}

	logger.Info("points recalculation finished",
		zap.Int("total", report.Total),
		zap.Int("updated", report.Updated),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("needs_reconciliation", report.NeedsReconciliation),
		zap.Int("failed", report.Failed),
		zap.Int("skipped_transactions", report.SkippedTransactions),
	)

	if report.NeedsReconciliation > 0 {
		notifyQuietly(ctx, s.alerts, s.logger, AlertRecalculationReconciliation, map[string]string{
			"updated":  strconv.Itoa(report.Updated),
			"count":    strconv.Itoa(report.NeedsReconciliation),
			"accounts": summarizeIDs(report.idsWith(RecalculationNeedsReconciliation), report.NeedsReconciliation),
		})
	}
	if report.Failed > 0 {
		metrics.IncRecalculationRun("partial")
		notifyQuietly(ctx, s.alerts, s.logger, AlertRecalculationFailed, map[string]string{
			"failed":  strconv.Itoa(report.Failed),
			"total":   strconv.Itoa(report.Total),
			"updated": strconv.Itoa(report.Updated),
			"error":   report.firstError(),
		})
		return report, fmt.Errorf("%w: %d of %d account(s)", ErrRecalculationPartiallyFailed, report.Failed, report.Total)
	}

	metrics.IncRecalculationRun("completed")
	return report, nil
}

// snapshotCalculator pins the active rules for the duration of one run.
func (s *PointsRecalculationService) snapshotCalculator(ctx context.Context) (*PointsCalculationService, int, error) {
	active, err := s.rules.FindAllActive(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("load active conversion rules: %w", err)
	}
	schedule := NewRuleSchedule(active)
	return s.calculator.WithLookup(schedule), schedule.Len(), nil
}

// preflight checks every readable account without writing. Accounts that
// would end below their used points go to report.Blocked. Accounts that
// cannot be loaded or priced go to report.Unreadable and are left for the
// main pass, which reports them as failed.
func (s *PointsRecalculationService) preflight(ctx context.Context, calc *PointsCalculationService, limit int32, report *RecalculationReport, alerted map[model.AccountID]struct{}) error {
	return s.eachAccount(ctx, limit, func(id model.AccountID) error {
		newEarned, account, err := s.previewAccount(ctx, id, calc)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			report.addUnreadable(id)
			var corrupted *model.CorruptedDataError
			if errors.As(err, &corrupted) {
				s.reportCorruption(ctx, err)
				alerted[id] = struct{}{}
			}
			s.logger.Warn("preflight skipped unreadable account", zap.String("account_id", id.String()), zap.Error(err))
			return nil
		}
		if newEarned.LessThan(account.UsedPoints()) {
			report.addBlocked(id)
		}
		return nil
	})
}

func (s *PointsRecalculationService) previewAccount(ctx context.Context, id model.AccountID, calc *PointsCalculationService) (model.PointsAmount, *model.PointsAccount, error) {
	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		return model.ZeroPoints, nil, fmt.Errorf("load account %s: %w", id, err)
	}
	txs, err := s.memberTransactions(ctx, account.MemberID())
	if err != nil {
		return model.ZeroPoints, nil, err
	}
	newEarned, err := account.PreviewRecalculation(txs, newLenientCalculator(ctx, calc))
	if err != nil {
		return model.ZeroPoints, nil, fmt.Errorf("preview account %s: %w", id, err)
	}
	return newEarned, account, nil
}

// eachAccount pages through account ids in creation order. Each account is
// loaded by fn, so a row that fails to load only affects its own unit.
// Cancellation is checked between accounts only.
func (s *PointsRecalculationService) eachAccount(ctx context.Context, limit int32, fn func(model.AccountID) error) error {
	var offset int32
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, err := s.accounts.ListIDs(ctx, repository.Pagination{Limit: limit, Offset: offset})
		if err != nil {
			return fmt.Errorf("list account ids at offset %d: %w", offset, err)
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(id); err != nil {
				return err
			}
		}
		if int32(len(ids)) < limit {
			return nil
		}
		offset += int32(len(ids))
	}
}

func (s *PointsRecalculationService) loadFailure(id model.AccountID, err error) AccountRecalculationResult {
	err = fmt.Errorf("load account %s: %w", id, err)
	s.logger.Error("account recalculation failed", zap.String("account_id", id.String()), zap.Error(err))
	return AccountRecalculationResult{
		AccountID: id.String(),
		Outcome:   RecalculationFailed,
		Error:     err.Error(),
	}
}

// recalculate computes and, when the result differs, commits one account.
// The returned result always carries the outcome; the error is set for
// needs_reconciliation and failed.
func (s *PointsRecalculationService) recalculate(ctx context.Context, account *model.PointsAccount, calc *PointsCalculationService) (AccountRecalculationResult, error) {
	result := AccountRecalculationResult{
		AccountID: account.ID().String(),
		MemberID:  account.MemberID().String(),
		OldEarned: account.EarnedPoints().Value(),
		NewEarned: account.EarnedPoints().Value(),
		Used:      account.UsedPoints().Value(),
	}
	logger := s.logger.With(zap.String("account_id", result.AccountID), zap.String("member_id", result.MemberID))

	fail := func(err error) (AccountRecalculationResult, error) {
		result.Outcome = RecalculationFailed
		result.Error = err.Error()
		logger.Error("account recalculation failed", zap.Error(err))
		return result, err
	}

	txs, err := s.memberTransactions(ctx, account.MemberID())
	if err != nil {
		return fail(err)
	}

	counter := newLenientCalculator(ctx, calc)
	newEarned, err := account.PreviewRecalculation(txs, counter)
	if err != nil {
		return fail(err)
	}
	result.NewEarned = newEarned.Value()
	result.SkippedTransactions = counter.skipped
	if counter.skipped > 0 {
		logger.Warn("transactions without an applicable rule counted as zero", zap.Int("skipped", counter.skipped))
	}

	if newEarned.Equal(account.EarnedPoints()) {
		result.Outcome = RecalculationUnchanged
		return result, nil
	}

	if err := account.RecalculatePoints(txs, newLenientCalculator(ctx, calc), s.now()); err != nil {
		if errors.Is(err, model.ErrEarnedBelowUsed) {
			result.Outcome = RecalculationNeedsReconciliation
			result.Error = err.Error()
			logger.Warn("recalculated earned below used, account left untouched",
				zap.Int64("new_earned", result.NewEarned),
				zap.Int64("used", result.Used),
			)
			return result, err
		}
		return fail(err)
	}

	if err := s.accounts.UpdateWithOptimisticLock(ctx, account, account.PersistedVersion()); err != nil {
		if errors.Is(err, model.ErrConcurrentModification) {
			metrics.IncConcurrentModification("points_account")
		}
		return fail(fmt.Errorf("commit recalculation for account %s: %w", account.ID(), err))
	}

	events := account.PendingEvents()
	account.MarkPersisted()
	s.eventBus.PublishEvents(ActorFromContext(ctx), events)

	result.Outcome = RecalculationUpdated
	logger.Info("account recalculated",
		zap.Int64("old_earned", result.OldEarned),
		zap.Int64("new_earned", result.NewEarned),
		zap.Int("version", account.Version()),
	)
	return result, nil
}

func (s *PointsRecalculationService) memberTransactions(ctx context.Context, memberID model.MemberID) ([]model.CalculableTransaction, error) {
	verified, err := s.transactions.ListVerifiedByMemberID(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("list verified transactions for member %s: %w", memberID, err)
	}
	txs := make([]model.CalculableTransaction, 0, len(verified))
	for _, tx := range verified {
		txs = append(txs, tx)
	}
	return txs, nil
}

func (s *PointsRecalculationService) recordReportMetrics(report *RecalculationReport) {
	metrics.AddRecalculationAccounts(string(RecalculationUpdated), report.Updated)
	metrics.AddRecalculationAccounts(string(RecalculationUnchanged), report.Unchanged)
	metrics.AddRecalculationAccounts(string(RecalculationNeedsReconciliation), report.NeedsReconciliation)
	metrics.AddRecalculationAccounts(string(RecalculationFailed), report.Failed)
}

func (s *PointsRecalculationService) reportCorruption(ctx context.Context, err error) {
	var corrupted *model.CorruptedDataError
	if !errors.As(err, &corrupted) {
		return
	}
	metrics.IncCorruptedRecord(corrupted.Entity)
	s.logger.Error("refused corrupted record", zap.String("entity", corrupted.Entity), zap.String("id", corrupted.ID), zap.String("reason", corrupted.Reason))
	notifyQuietly(ctx, s.alerts, s.logger, AlertCorruptedData, map[string]string{
		"entity": corrupted.Entity,
		"id":     corrupted.ID,
		"reason": corrupted.Reason,
	})
}

// lenientCalculator counts a transaction dated outside every active rule as
// zero points instead of failing the account.
type lenientCalculator struct {
	ctx     context.Context
	calc    *PointsCalculationService
	skipped int
}

func newLenientCalculator(ctx context.Context, calc *PointsCalculationService) *lenientCalculator {
	return &lenientCalculator{ctx: ctx, calc: calc}
}

func (c *lenientCalculator) Calculate(tx model.CalculableTransaction) (model.PointsAmount, error) {
	points, err := c.calc.CalculateForTransaction(c.ctx, tx)
	if errors.Is(err, model.ErrNoApplicableRule) {
		c.skipped++
		return model.ZeroPoints, nil
	}
	return points, err
}

func normalizeRecalculationPageSize(size int) int {
	if size <= 0 {
		return defaultRecalculationPageSize
	}
	if size > maxRecalculationPageSize {
		return maxRecalculationPageSize
	}
	return size
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func runResultFor(err error) string {
	if isCancellation(err) {
		return "cancelled"
	}
	return "error"
}

// summarizeIDs lists up to maxReportedAccounts ids out of total.
func summarizeIDs(ids []string, total int) string {
	if len(ids) > maxReportedAccounts {
		ids = ids[:maxReportedAccounts]
	}
	joined := strings.Join(ids, ", ")
	if total > len(ids) {
		return fmt.Sprintf("%s and %d more", joined, total-len(ids))
	}
	return joined
}
