package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bar-crm/internal/event"
	"bar-crm/internal/metrics"
	"bar-crm/internal/model"
	"bar-crm/internal/repository"
)

type IntakeOutcome string

const (
	IntakeCredited  IntakeOutcome = "credited"
	IntakeDuplicate IntakeOutcome = "duplicate"
	IntakeSkipped   IntakeOutcome = "skipped"
)

const (
	intakeEventTransactionVerified = "transaction_verified"
	intakeEventSurveyReward        = "survey_reward_granted"
)

type TransactionVerifiedInput struct {
	TransactionID   string          `json:"transaction_id"`
	MemberID        string          `json:"member_id"`
	Amount          decimal.Decimal `json:"amount"`
	InvoiceDate     time.Time       `json:"invoice_date"`
	SurveySubmitted bool            `json:"survey_submitted"`
}

type SurveyRewardInput struct {
	TransactionID string `json:"transaction_id"`
	MemberID      string `json:"member_id"`
}

type IntakeResult struct {
	Outcome   IntakeOutcome    `json:"outcome"`
	AccountID string           `json:"account_id,omitempty"`
	Credited  int64            `json:"credited"`
	Breakdown *PointsBreakdown `json:"breakdown,omitempty"`
	Reason    string           `json:"reason,omitempty"`
}

type DeductInput struct {
	MemberID string `json:"member_id"`
	Amount   int64  `json:"amount"`
	Reason   string `json:"reason"`
}

type AccountSummary struct {
	AccountID       string    `json:"account_id"`
	MemberID        string    `json:"member_id"`
	EarnedPoints    int64     `json:"earned_points"`
	UsedPoints      int64     `json:"used_points"`
	AvailablePoints int64     `json:"available_points"`
	Version         int       `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PointsService applies consumed purchase facts and admin deductions to
// member accounts. Each call is one optimistic write; conflicts are returned,
// never retried here.
type PointsService struct {
	accounts     repository.PointsAccountRepository
	ledger       repository.PointsLedgerReader
	transactions repository.VerifiedTransactionSource
	calculator   *PointsCalculationService
	eventBus     *event.Bus
	alerts       Alerter
	logger       *zap.Logger
	now          func() time.Time
}

func NewPointsService(
	accounts repository.PointsAccountRepository,
	ledger repository.PointsLedgerReader,
	transactions repository.VerifiedTransactionSource,
	calculator *PointsCalculationService,
	eventBus *event.Bus,
	alerts Alerter,
	logger *zap.Logger,
) *PointsService {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PointsService{
		accounts:     accounts,
		ledger:       ledger,
		transactions: transactions,
		calculator:   calculator,
		eventBus:     eventBus,
		alerts:       alerts,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *PointsService) HandleTransactionVerified(ctx context.Context, in TransactionVerifiedInput) (*IntakeResult, error) {
	txID := strings.TrimSpace(in.TransactionID)
	if txID == "" {
		return nil, fmt.Errorf("%w: transaction_id is required", model.ErrValidation)
	}
	memberID, err := model.ParseMemberID(in.MemberID)
	if err != nil {
		return nil, err
	}
	if in.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: amount must not be negative", model.ErrValidation)
	}
	if in.InvoiceDate.IsZero() {
		return nil, fmt.Errorf("%w: invoice_date is required", model.ErrValidation)
	}

	logger := s.logger.With(zap.String("transaction_id", txID), zap.String("member_id", memberID.String()))

	seen, err := s.ledger.ExistsBySource(ctx, model.PointsSourceInvoice, txID)
	if err != nil {
		return nil, fmt.Errorf("check invoice idempotency: %w", err)
	}
	if seen {
		metrics.IncIntakeEvent(intakeEventTransactionVerified, string(IntakeDuplicate))
		return &IntakeResult{Outcome: IntakeDuplicate}, nil
	}

	tx := model.VerifiedTransaction{
		TransactionID:   txID,
		MemberID:        memberID,
		InvoiceAmount:   in.Amount,
		InvoiceDate:     in.InvoiceDate,
		SurveySubmitted: in.SurveySubmitted,
	}
	breakdown, err := s.calculator.Breakdown(ctx, tx)
	if errors.Is(err, model.ErrNoApplicableRule) {
		logger.Warn("no conversion rule for transaction date, skipping", zap.Time("invoice_date", in.InvoiceDate))
		metrics.IncIntakeEvent(intakeEventTransactionVerified, string(IntakeSkipped))
		return &IntakeResult{Outcome: IntakeSkipped, Reason: err.Error()}, nil
	}
	if err != nil {
		return nil, err
	}

	account, err := s.loadOrOpenAccount(ctx, memberID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := account.EarnPoints(breakdown.Base, model.PointsSourceInvoice, txID, "verified invoice", now); err != nil {
		return nil, err
	}
	if !breakdown.SurveyBonus.IsZero() {
		surveySeen, err := s.ledger.ExistsBySource(ctx, model.PointsSourceSurvey, txID)
		if err != nil {
			return nil, fmt.Errorf("check survey idempotency: %w", err)
		}
		if surveySeen {
			breakdown.SurveyBonus = model.ZeroPoints
			breakdown.Total = breakdown.Base
		} else if err := account.EarnPoints(breakdown.SurveyBonus, model.PointsSourceSurvey, txID, "survey bonus", now); err != nil {
			return nil, err
		}
	}

	result, err := s.commitEarn(ctx, account, intakeEventTransactionVerified)
	if err != nil {
		return nil, err
	}
	if result.Outcome == IntakeCredited {
		result.Credited = breakdown.Total.Value()
		result.Breakdown = &breakdown
		metrics.AddPointsEarned(string(model.PointsSourceInvoice), breakdown.Base.Value())
		metrics.AddPointsEarned(string(model.PointsSourceSurvey), breakdown.SurveyBonus.Value())
		logger.Info("points credited for verified transaction",
			zap.String("account_id", result.AccountID),
			zap.Int64("points", breakdown.Total.Value()),
			zap.Int("version", account.Version()),
		)
	}
	return result, nil
}

func (s *PointsService) HandleSurveyRewardGranted(ctx context.Context, in SurveyRewardInput) (*IntakeResult, error) {
	txID := strings.TrimSpace(in.TransactionID)
	if txID == "" {
		return nil, fmt.Errorf("%w: transaction_id is required", model.ErrValidation)
	}
	memberID, err := model.ParseMemberID(in.MemberID)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With(zap.String("transaction_id", txID), zap.String("member_id", memberID.String()))

	seen, err := s.ledger.ExistsBySource(ctx, model.PointsSourceSurvey, txID)
	if err != nil {
		return nil, fmt.Errorf("check survey idempotency: %w", err)
	}
	if seen {
		metrics.IncIntakeEvent(intakeEventSurveyReward, string(IntakeDuplicate))
		return &IntakeResult{Outcome: IntakeDuplicate}, nil
	}

	tx, err := s.transactions.FindVerifiedByID(ctx, txID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	if tx.MemberID != memberID {
		return nil, fmt.Errorf("%w: transaction %s belongs to another member", model.ErrValidation, txID)
	}

	surveyed := *tx
	surveyed.SurveySubmitted = true
	breakdown, err := s.calculator.Breakdown(ctx, surveyed)
	if errors.Is(err, model.ErrNoApplicableRule) {
		logger.Warn("no conversion rule for surveyed transaction, skipping", zap.Time("invoice_date", tx.InvoiceDate))
		metrics.IncIntakeEvent(intakeEventSurveyReward, string(IntakeSkipped))
		return &IntakeResult{Outcome: IntakeSkipped, Reason: err.Error()}, nil
	}
	if err != nil {
		return nil, err
	}

	account, err := s.loadOrOpenAccount(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if err := account.EarnPoints(breakdown.SurveyBonus, model.PointsSourceSurvey, txID, "survey bonus", s.now()); err != nil {
		return nil, err
	}

	result, err := s.commitEarn(ctx, account, intakeEventSurveyReward)
	if err != nil {
		return nil, err
	}
	if result.Outcome == IntakeCredited {
		result.Credited = breakdown.SurveyBonus.Value()
		metrics.AddPointsEarned(string(model.PointsSourceSurvey), breakdown.SurveyBonus.Value())
		logger.Info("survey bonus credited", zap.String("account_id", result.AccountID))
	}
	return result, nil
}

func (s *PointsService) DeductPoints(ctx context.Context, in DeductInput) (*AccountSummary, error) {
	memberID, err := model.ParseMemberID(in.MemberID)
	if err != nil {
		return nil, err
	}
	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", model.ErrValidation)
	}
	amount, err := model.NewPointsAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", model.ErrValidation)
	}

	account, err := s.findAccountByMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if err := account.DeductPoints(amount, reason, s.now()); err != nil {
		return nil, err
	}

	if err := s.accounts.UpdateWithOptimisticLock(ctx, account, account.PersistedVersion()); err != nil {
		if errors.Is(err, model.ErrConcurrentModification) {
			metrics.IncConcurrentModification("points_account")
		}
		return nil, fmt.Errorf("deduct points for member %s: %w", memberID, err)
	}
	s.publishAndSettle(ctx, account)
	metrics.AddPointsDeducted(amount.Value())

	s.logger.Info("points deducted",
		zap.String("account_id", account.ID().String()),
		zap.String("member_id", memberID.String()),
		zap.Int64("points", amount.Value()),
		zap.String("actor", ActorFromContext(ctx)),
	)
	summary := summarize(account)
	return &summary, nil
}

func (s *PointsService) GetAccountSummary(ctx context.Context, memberID string) (*AccountSummary, error) {
	id, err := model.ParseMemberID(memberID)
	if err != nil {
		return nil, err
	}
	account, err := s.findAccountByMember(ctx, id)
	if err != nil {
		return nil, err
	}
	summary := summarize(account)
	return &summary, nil
}

func (s *PointsService) ListLedger(ctx context.Context, memberID string, page repository.Pagination) ([]model.PointsLedgerEntry, int64, error) {
	id, err := model.ParseMemberID(memberID)
	if err != nil {
		return nil, 0, err
	}
	account, err := s.findAccountByMember(ctx, id)
	if err != nil {
		return nil, 0, err
	}

	entries, err := s.ledger.ListByAccount(ctx, account.ID(), page)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.ledger.CountByAccount(ctx, account.ID())
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *PointsService) loadOrOpenAccount(ctx context.Context, memberID model.MemberID) (*model.PointsAccount, error) {
	account, err := s.accounts.FindByMemberID(ctx, memberID)
	if err == nil {
		return account, nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewPointsAccount(memberID, s.now())
	}
	s.reportCorruption(ctx, err)
	return nil, fmt.Errorf("load account for member %s: %w", memberID, err)
}

func (s *PointsService) findAccountByMember(ctx context.Context, memberID model.MemberID) (*model.PointsAccount, error) {
	account, err := s.accounts.FindByMemberID(ctx, memberID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		s.reportCorruption(ctx, err)
		return nil, fmt.Errorf("load account for member %s: %w", memberID, err)
	}
	return account, nil
}

// commitEarn persists an account carrying new earning entries. A unique
// source collision means a concurrent delivery of the same event won.
func (s *PointsService) commitEarn(ctx context.Context, account *model.PointsAccount, eventName string) (*IntakeResult, error) {
	var err error
	if account.IsNew() {
		err = s.accounts.Create(ctx, account)
	} else {
		err = s.accounts.UpdateWithOptimisticLock(ctx, account, account.PersistedVersion())
	}

	switch {
	case errors.Is(err, repository.ErrDuplicateLedgerSource):
		metrics.IncIntakeEvent(eventName, string(IntakeDuplicate))
		return &IntakeResult{Outcome: IntakeDuplicate}, nil
	case errors.Is(err, model.ErrConcurrentModification):
		metrics.IncConcurrentModification("points_account")
		return nil, fmt.Errorf("credit account %s: %w", account.ID(), err)
	case err != nil:
		return nil, fmt.Errorf("credit account %s: %w", account.ID(), err)
	}

	s.publishAndSettle(ctx, account)
	metrics.IncIntakeEvent(eventName, string(IntakeCredited))
	return &IntakeResult{Outcome: IntakeCredited, AccountID: account.ID().String()}, nil
}

func (s *PointsService) publishAndSettle(ctx context.Context, account *model.PointsAccount) {
	events := account.PendingEvents()
	account.MarkPersisted()
	s.eventBus.PublishEvents(ActorFromContext(ctx), events)
}

func (s *PointsService) reportCorruption(ctx context.Context, err error) {
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

func summarize(account *model.PointsAccount) AccountSummary {
	return AccountSummary{
		AccountID:       account.ID().String(),
		MemberID:        account.MemberID().String(),
		EarnedPoints:    account.EarnedPoints().Value(),
		UsedPoints:      account.UsedPoints().Value(),
		AvailablePoints: account.AvailablePoints().Value(),
		Version:         account.Version(),
		CreatedAt:       account.CreatedAt(),
		UpdatedAt:       account.LastUpdatedAt(),
	}
}
