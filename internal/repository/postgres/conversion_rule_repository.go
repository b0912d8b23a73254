package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bar-crm/internal/model"
	"bar-crm/internal/repository"
)

type conversionRuleRepository struct {
	pool *pgxpool.Pool
}

func NewConversionRuleRepository(pool *pgxpool.Pool) repository.ConversionRuleRepository {
	return &conversionRuleRepository{pool: pool}
}

var _ repository.ConversionRuleRepository = (*conversionRuleRepository)(nil)

const conversionRuleColumns = `
	id,
	rate,
	start_date,
	end_date,
	description,
	is_active,
	created_at,
	updated_at,
	deactivated_at,
	version
`

func (r *conversionRuleRepository) FindByID(ctx context.Context, id model.RuleID) (*model.ConversionRule, error) {
	query := `SELECT ` + conversionRuleColumns + ` FROM conversion_rules WHERE id = $1`
	rule, err := scanConversionRule(r.pool.QueryRow(ctx, query, id.UUID()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

func (r *conversionRuleRepository) FindActiveRuleAt(ctx context.Context, date time.Time) (*model.ConversionRule, error) {
	query := `
		SELECT ` + conversionRuleColumns + `
		FROM conversion_rules
		WHERE is_active AND start_date <= $1 AND end_date >= $1
		ORDER BY start_date DESC
		LIMIT 1
	`
	rule, err := scanConversionRule(r.pool.QueryRow(ctx, query, model.NormalizeDate(date)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

func (r *conversionRuleRepository) FindOverlapping(ctx context.Context, dateRange model.DateRange, excludeRuleID *model.RuleID) ([]*model.ConversionRule, error) {
	var exclude *uuid.UUID
	if excludeRuleID != nil {
		id := excludeRuleID.UUID()
		exclude = &id
	}

	query := `
		SELECT ` + conversionRuleColumns + `
		FROM conversion_rules
		WHERE is_active
			AND start_date <= $2
			AND end_date >= $1
			AND ($3::uuid IS NULL OR id <> $3)
		ORDER BY start_date ASC
	`
	return r.queryRules(ctx, query, dateRange.Start(), dateRange.End(), exclude)
}

func (r *conversionRuleRepository) Create(ctx context.Context, rule *model.ConversionRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", model.ErrValidation)
	}

	s := rule.Snapshot()
	query := `
		INSERT INTO conversion_rules (
			id, rate, start_date, end_date, description,
			is_active, created_at, updated_at, deactivated_at, version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.pool.Exec(ctx, query,
		s.ID.UUID(),
		s.Rate,
		s.StartDate,
		s.EndDate,
		s.Description,
		s.IsActive,
		s.CreatedAt,
		s.UpdatedAt,
		s.DeactivatedAt,
		s.Version,
	)
	return translateWriteError(err)
}

func (r *conversionRuleRepository) UpdateWithOptimisticLock(ctx context.Context, rule *model.ConversionRule, expectedPreviousVersion int) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", model.ErrValidation)
	}

	s := rule.Snapshot()
	query := `
		UPDATE conversion_rules
		SET rate = $3,
			start_date = $4,
			end_date = $5,
			description = $6,
			is_active = $7,
			updated_at = $8,
			deactivated_at = $9,
			version = $10
		WHERE id = $1 AND version = $2
	`
	tag, err := r.pool.Exec(ctx, query,
		s.ID.UUID(),
		expectedPreviousVersion,
		s.Rate,
		s.StartDate,
		s.EndDate,
		s.Description,
		s.IsActive,
		s.UpdatedAt,
		s.DeactivatedAt,
		s.Version,
	)
	if err != nil {
		return translateWriteError(err)
	}
	return ensureVersionMatched(tag)
}

func (r *conversionRuleRepository) FindAll(ctx context.Context, page repository.Pagination) ([]*model.ConversionRule, error) {
	limit, offset := normalizePagination(page)
	query := `
		SELECT ` + conversionRuleColumns + `
		FROM conversion_rules
		ORDER BY start_date DESC, created_at DESC
		LIMIT $1 OFFSET $2
	`
	return r.queryRules(ctx, query, limit, offset)
}

func (r *conversionRuleRepository) FindAllActive(ctx context.Context) ([]*model.ConversionRule, error) {
	query := `
		SELECT ` + conversionRuleColumns + `
		FROM conversion_rules
		WHERE is_active
		ORDER BY start_date ASC
	`
	return r.queryRules(ctx, query)
}

func (r *conversionRuleRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversion_rules`).Scan(&total)
	return total, err
}

func (r *conversionRuleRepository) queryRules(ctx context.Context, query string, args ...any) ([]*model.ConversionRule, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]*model.ConversionRule, 0)
	for rows.Next() {
		item, err := scanConversionRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return rules, nil
}

func scanConversionRule(src scanTarget) (*model.ConversionRule, error) {
	var (
		id uuid.UUID
		s  model.ConversionRuleSnapshot
	)

	if err := src.Scan(
		&id,
		&s.Rate,
		&s.StartDate,
		&s.EndDate,
		&s.Description,
		&s.IsActive,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.DeactivatedAt,
		&s.Version,
	); err != nil {
		return nil, err
	}

	s.ID = model.RuleID(id)
	return model.ReconstructConversionRule(s)
}
