package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bar-crm/internal/model"
	"bar-crm/internal/repository"
)

type auditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) repository.AuditRepository {
	return &auditRepository{pool: pool}
}

var _ repository.AuditRepository = (*auditRepository)(nil)

const selectAuditLogs = `
	SELECT id, actor_id, action, resource_type, resource_id, old_value, new_value, created_at
	FROM audit_logs
`

// Create appends one trail row. Rows are never updated or deleted.
func (r *auditRepository) Create(ctx context.Context, log *model.AuditLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	oldValue, err := encodeJSONMap(log.OldValue)
	if err != nil {
		return fmt.Errorf("encode audit old_value: %w", err)
	}
	newValue, err := encodeJSONMap(log.NewValue)
	if err != nil {
		return fmt.Errorf("encode audit new_value: %w", err)
	}

	const query = `
		INSERT INTO audit_logs (actor_id, action, resource_type, resource_id, old_value, new_value, created_at)
		VALUES (@actor_id, @action, @resource_type, @resource_id, @old_value, @new_value, @created_at)
		RETURNING id
	`
	return r.pool.QueryRow(ctx, query, pgx.NamedArgs{
		"actor_id":      log.ActorID,
		"action":        log.Action,
		"resource_type": log.ResourceType,
		"resource_id":   log.ResourceID,
		"old_value":     oldValue,
		"new_value":     newValue,
		"created_at":    log.CreatedAt,
	}).Scan(&log.ID)
}

// List returns the newest rows first. The created_at window is inclusive on
// both ends; id breaks ties so pages stay stable.
func (r *auditRepository) List(ctx context.Context, filter repository.AuditListFilter) ([]*model.AuditLog, error) {
	limit, offset := normalizePagination(filter.Pagination)
	query, args := buildAuditQuery(filter, limit, offset)

	rows, err := r.pool.Query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}

	logs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.AuditLog, error) {
		return scanAuditLog(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan audit logs: %w", err)
	}
	return logs, nil
}

func buildAuditQuery(filter repository.AuditListFilter, limit, offset int32) (string, pgx.NamedArgs) {
	args := pgx.NamedArgs{"limit": limit, "offset": offset}
	conditions := make([]string, 0, 6)

	equals := func(column string, value *string) {
		if value == nil {
			return
		}
		args[column] = *value
		conditions = append(conditions, column+" = @"+column)
	}
	equals("actor_id", filter.ActorID)
	equals("action", filter.Action)
	equals("resource_type", filter.ResourceType)
	equals("resource_id", filter.ResourceID)

	if filter.StartTime != nil {
		args["start_time"] = filter.StartTime.UTC()
		conditions = append(conditions, "created_at >= @start_time")
	}
	if filter.EndTime != nil {
		args["end_time"] = filter.EndTime.UTC()
		conditions = append(conditions, "created_at <= @end_time")
	}

	var builder strings.Builder
	builder.WriteString(selectAuditLogs)
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC, id DESC LIMIT @limit OFFSET @offset")
	return builder.String(), args
}

func scanAuditLog(src scanTarget) (*model.AuditLog, error) {
	var (
		log         model.AuditLog
		oldValueRaw []byte
		newValueRaw []byte
	)
	if err := src.Scan(
		&log.ID,
		&log.ActorID,
		&log.Action,
		&log.ResourceType,
		&log.ResourceID,
		&oldValueRaw,
		&newValueRaw,
		&log.CreatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if log.OldValue, err = decodeJSONMap(oldValueRaw); err != nil {
		return nil, fmt.Errorf("decode audit %d old_value: %w", log.ID, err)
	}
	if log.NewValue, err = decodeJSONMap(newValueRaw); err != nil {
		return nil, fmt.Errorf("decode audit %d new_value: %w", log.ID, err)
	}
	return &log, nil
}
